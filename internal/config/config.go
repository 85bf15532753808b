package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

// Config models ovif.yml.
type Config struct {
	Calendar struct {
		// Zone is the single authoritative time zone every deadline
		// comparison uses.
		Zone string `yaml:"zone"`
	} `yaml:"calendar"`
	Batch struct {
		// WindowMonths bounds how far back the closure batch looks for
		// unclosed periods.
		WindowMonths int `yaml:"window_months"`
		Workers      int `yaml:"workers"`
	} `yaml:"batch"`
	Documents struct {
		NumberWidth int `yaml:"number_width"`
		MaxRetries  int `yaml:"max_retries"`
	} `yaml:"documents"`
	// Modules maps a rule category to the reporting modules a closure of
	// that category covers.
	Modules map[string][]domain.Module `yaml:"modules"`
}

var knownModules = map[domain.Module]bool{
	domain.ModuleExpenses:    true,
	domain.ModuleResources:   true,
	domain.ModuleCollections: true,
	domain.ModulePersonnel:   true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Calendar.Zone == "" {
		return fmt.Errorf("config.calendar.zone is required")
	}
	if _, err := time.LoadLocation(c.Calendar.Zone); err != nil {
		return fmt.Errorf("config.calendar.zone: %w", err)
	}
	if c.Batch.WindowMonths <= 0 {
		return fmt.Errorf("config.batch.window_months must be positive")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("config.batch.workers must be positive")
	}
	if c.Documents.NumberWidth < 6 {
		return fmt.Errorf("config.documents.number_width must be at least 6")
	}
	if c.Documents.MaxRetries <= 0 {
		return fmt.Errorf("config.documents.max_retries must be positive")
	}
	if len(c.Modules) == 0 {
		return fmt.Errorf("config.modules is required")
	}
	for category, modules := range c.Modules {
		if category == "" {
			return fmt.Errorf("config.modules contains empty category")
		}
		if len(modules) == 0 {
			return fmt.Errorf("category %s maps to no modules", category)
		}
		for _, m := range modules {
			if !knownModules[m] {
				return fmt.Errorf("category %s references unknown module %s", category, m)
			}
		}
	}
	return nil
}

// Location resolves the configured zone. Call only after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Calendar.Zone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ModulesFor returns the modules covered by a rule category.
func (c *Config) ModulesFor(category string) ([]domain.Module, bool) {
	mods, ok := c.Modules[category]
	return mods, ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ovif.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

const defaultTemplate = `calendar:
  zone: America/Argentina/Buenos_Aires

batch:
  window_months: 3
  workers: 4

documents:
  number_width: 12
  max_retries: 1000

modules:
  budget:
    - expenses
    - resources
  treasury:
    - collections
  staffing:
    - personnel
`
