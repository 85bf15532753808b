// Package seed imports base catalogs from a YAML document: municipalities,
// agreements with their rules, fiscal periods and budget items. Loading the
// same document twice reports conflicts for rows that already exist.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/psantueno/ovif-backend-sub000/internal/calendar"
	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/repo"
)

type Document struct {
	Municipalities []domain.Municipality `yaml:"municipalities"`
	Agreements     []Agreement           `yaml:"agreements"`
	Periods        []Period              `yaml:"periods"`
	BudgetItems    []BudgetItem          `yaml:"budget_items"`
}

type Agreement struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

type Rule struct {
	ID                  int    `yaml:"id"`
	Category            string `yaml:"category"`
	RectificationMonths int    `yaml:"rectification_months"`
	RectificationDays   int    `yaml:"rectification_days"`
}

type Period struct {
	Exercise    int    `yaml:"exercise"`
	Month       int    `yaml:"month"`
	AgreementID int    `yaml:"agreement_id"`
	RuleID      int    `yaml:"rule_id"`
	StartDate   string `yaml:"start_date"`
	EndDate     string `yaml:"end_date"`
}

type BudgetItem struct {
	Code        int64  `yaml:"code"`
	Module      string `yaml:"module"`
	ParentCode  int64  `yaml:"parent_code"`
	Description string `yaml:"description"`
	IsLeaf      bool   `yaml:"is_leaf"`
}

// Summary counts what Apply did.
type Summary struct {
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
}

// Load reads and validates a seed document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid seed yaml: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate rejects malformed rows before anything is written.
func (d *Document) Validate() error {
	for _, a := range d.Agreements {
		for _, r := range a.Rules {
			if (r.RectificationMonths == 0) != (r.RectificationDays == 0) {
				return fmt.Errorf("rule %d: rectification offsets must both be set or both absent", r.ID)
			}
		}
	}
	for _, p := range d.Periods {
		if p.Month < 1 || p.Month > 12 {
			return fmt.Errorf("period %d-%d: month out of range", p.Exercise, p.Month)
		}
		start, err := calendar.ParseDate(p.StartDate)
		if err != nil {
			return fmt.Errorf("period %d-%d: %w", p.Exercise, p.Month, err)
		}
		end, err := calendar.ParseDate(p.EndDate)
		if err != nil {
			return fmt.Errorf("period %d-%d: %w", p.Exercise, p.Month, err)
		}
		if !end.After(start) {
			return fmt.Errorf("period %d-%d: end date must fall after start date", p.Exercise, p.Month)
		}
	}
	return nil
}

// Apply inserts every row, tolerating ones that already exist.
func (d *Document) Apply(ctx context.Context, r repo.Repo) (Summary, error) {
	var sum Summary
	count := func(err error) error {
		if err == nil {
			sum.Inserted++
			return nil
		}
		if errors.Is(err, repo.ErrConflict) {
			sum.Existing++
			return nil
		}
		return err
	}
	for _, m := range d.Municipalities {
		if err := count(r.InsertMunicipality(ctx, m)); err != nil {
			return sum, fmt.Errorf("municipality %d: %w", m.ID, err)
		}
	}
	for _, a := range d.Agreements {
		if err := count(r.InsertAgreement(ctx, domain.Agreement{ID: a.ID, Name: a.Name})); err != nil {
			return sum, fmt.Errorf("agreement %d: %w", a.ID, err)
		}
		for _, in := range a.Rules {
			rule := domain.Rule{ID: in.ID, AgreementID: a.ID, Category: in.Category}
			if in.RectificationMonths != 0 {
				months, days := in.RectificationMonths, in.RectificationDays
				rule.RectificationMonths = &months
				rule.RectificationDays = &days
			}
			if err := count(r.InsertRule(ctx, rule)); err != nil {
				return sum, fmt.Errorf("rule %d: %w", in.ID, err)
			}
		}
	}
	for _, p := range d.Periods {
		period := domain.FiscalPeriod{
			Exercise: p.Exercise, Month: p.Month,
			AgreementID: p.AgreementID, RuleID: p.RuleID,
			StartDate: p.StartDate, EndDate: p.EndDate,
		}
		if err := count(r.InsertPeriod(ctx, period)); err != nil {
			return sum, fmt.Errorf("period %d-%d: %w", p.Exercise, p.Month, err)
		}
	}
	for _, it := range d.BudgetItems {
		item := domain.BudgetItem{
			Code: it.Code, Module: domain.Module(it.Module),
			ParentCode: it.ParentCode, Description: it.Description, IsLeaf: it.IsLeaf,
		}
		if err := count(r.InsertBudgetItem(ctx, item)); err != nil {
			return sum, fmt.Errorf("budget item %d/%s: %w", it.Code, it.Module, err)
		}
	}
	return sum, nil
}
