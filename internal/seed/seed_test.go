package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/psantueno/ovif-backend-sub000/internal/db"
	"github.com/psantueno/ovif-backend-sub000/internal/migrate"
	"github.com/psantueno/ovif-backend-sub000/internal/repo"
	"github.com/psantueno/ovif-backend-sub000/internal/seed"
)

const sampleSeed = `municipalities:
  - id: 7
    name: Rawson
  - id: 8
    name: Gaiman
agreements:
  - id: 1
    name: Convenio Base
    rules:
      - id: 1
        category: budget
        rectification_months: 1
        rectification_days: 10
periods:
  - exercise: 2024
    month: 3
    agreement_id: 1
    rule_id: 1
    start_date: "2024-03-01"
    end_date: "2024-04-10"
budget_items:
  - code: 100
    module: expenses
    parent_code: 0
    description: Total general
  - code: 110
    module: expenses
    parent_code: 100
    description: Partida
    is_leaf: true
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestLoadAndApply(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()

	doc, err := seed.Load(writeSeed(t, sampleSeed))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sum, err := doc.Apply(ctx, r)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if sum.Inserted != 7 || sum.Existing != 0 {
		t.Fatalf("expected 7 inserts, got %+v", sum)
	}

	// re-applying the same document is harmless
	sum, err = doc.Apply(ctx, r)
	if err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if sum.Inserted != 0 || sum.Existing != 7 {
		t.Fatalf("expected 7 existing on reapply, got %+v", sum)
	}

	rule, err := r.GetRule(ctx, 1)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if !rule.Rectifiable() {
		t.Fatalf("rule offsets lost: %+v", rule)
	}
	items, err := r.ListBudgetItems(ctx, "expenses")
	if err != nil || len(items) != 2 {
		t.Fatalf("expected 2 items, got %d %v", len(items), err)
	}
}

func TestValidateRejectsHalfSetOffsets(t *testing.T) {
	doc := &seed.Document{
		Agreements: []seed.Agreement{{
			ID: 1, Name: "a",
			Rules: []seed.Rule{{ID: 1, Category: "budget", RectificationMonths: 1}},
		}},
	}
	if err := doc.Validate(); err == nil {
		t.Fatalf("half-set rectification offsets must be rejected")
	}
}

func TestValidateRejectsInvertedPeriod(t *testing.T) {
	doc := &seed.Document{
		Periods: []seed.Period{{
			Exercise: 2024, Month: 3, AgreementID: 1, RuleID: 1,
			StartDate: "2024-04-10", EndDate: "2024-03-01",
		}},
	}
	if err := doc.Validate(); err == nil {
		t.Fatalf("inverted period dates must be rejected")
	}
}
