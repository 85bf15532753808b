// Package report assembles the flattened budget report for one municipality,
// period and module.
package report

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/hierarchy"
	"github.com/psantueno/ovif-backend-sub000/internal/repo"
)

// Report is the flattened row set plus the declared total for a module.
type Report struct {
	Exercise       int
	Month          int
	MunicipalityID int
	Module         domain.Module
	Rows           []hierarchy.Row
	Total          decimal.Decimal
}

// Builder loads catalog items and submitted amounts and flattens them.
type Builder struct {
	Repo repo.Repo
}

// Build assembles the report for one (municipality, exercise, month, module).
// Municipalities that submitted nothing still get the full catalog shape with
// empty amounts.
func (b Builder) Build(ctx context.Context, exercise, month, municipalityID int, module domain.Module) (Report, error) {
	items, err := b.Repo.ListBudgetItems(ctx, module)
	if err != nil {
		return Report{}, err
	}
	amounts, err := b.Repo.ListSubmittedAmounts(ctx, exercise, month, municipalityID, module)
	if err != nil {
		return Report{}, err
	}
	rows := hierarchy.Build(items, amounts)
	return Report{
		Exercise:       exercise,
		Month:          month,
		MunicipalityID: municipalityID,
		Module:         module,
		Rows:           rows,
		Total:          hierarchy.ComputeTotal(rows),
	}, nil
}
