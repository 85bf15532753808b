package config_test

import (
	"testing"

	"github.com/psantueno/ovif-backend-sub000/internal/config"
	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Calendar.Zone != "America/Argentina/Buenos_Aires" {
		t.Fatalf("unexpected zone %q", cfg.Calendar.Zone)
	}
	mods, ok := cfg.ModulesFor("budget")
	if !ok || len(mods) != 2 {
		t.Fatalf("budget should cover two modules, got %v ok=%v", mods, ok)
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`calendar:
  zone: UTC
batch:
  window_months: 6
  workers: 2
documents:
  number_width: 12
  max_retries: 100
modules:
  budget:
    - expenses
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Batch.WindowMonths != 6 {
		t.Fatalf("expected window 6, got %d", cfg.Batch.WindowMonths)
	}
	mods, _ := cfg.ModulesFor("budget")
	if len(mods) != 1 || mods[0] != domain.ModuleExpenses {
		t.Fatalf("unexpected modules %v", mods)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty zone", func(c *config.Config) { c.Calendar.Zone = "" }},
		{"bad zone", func(c *config.Config) { c.Calendar.Zone = "Mars/Olympus" }},
		{"zero window", func(c *config.Config) { c.Batch.WindowMonths = 0 }},
		{"zero workers", func(c *config.Config) { c.Batch.Workers = 0 }},
		{"narrow numbers", func(c *config.Config) { c.Documents.NumberWidth = 4 }},
		{"no modules", func(c *config.Config) { c.Modules = nil }},
		{"unknown module", func(c *config.Config) { c.Modules = map[string][]domain.Module{"budget": {"payroll"}} }},
		{"empty category", func(c *config.Config) { c.Modules = map[string][]domain.Module{"budget": {}} }},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fallback config invalid: %v", err)
	}
}
