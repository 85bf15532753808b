package closure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psantueno/ovif-backend-sub000/internal/calendar"
	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/repo"
)

// ComplianceRequest evaluates one municipality's slot. AsOf zero means "now".
type ComplianceRequest struct {
	Exercise       int
	Month          int
	MunicipalityID int
	AgreementID    int
	RuleID         int
	AsOf           time.Time
}

// ComplianceStatus is the resolved state of a slot on a given date.
type ComplianceStatus struct {
	AsOf                  string          `json:"as_of"`
	Start                 string          `json:"start"`
	End                   string          `json:"end"`
	Overridden            bool            `json:"overridden"`
	Expired               bool            `json:"expired"`
	RectificationDeadline string          `json:"rectification_deadline,omitempty"`
	RectificationOpen     bool            `json:"rectification_open"`
	ClosedModules         []domain.Module `json:"closed_modules,omitempty"`
	OpenModules           []domain.Module `json:"open_modules,omitempty"`
}

// Compliance resolves the slot's effective deadline, its expiry, and its
// rectification window. The rectification window counts from the resolved
// end, extension included.
func (e *Engine) Compliance(ctx context.Context, req ComplianceRequest) (ComplianceStatus, error) {
	asOf := calendar.Truncate(req.AsOf)
	if req.AsOf.IsZero() {
		asOf = e.today()
	}
	period, err := e.Repo.GetPeriod(ctx, req.Exercise, req.Month, req.AgreementID, req.RuleID)
	if err != nil {
		return ComplianceStatus{}, fmt.Errorf("load period: %w", err)
	}
	rule, err := e.Repo.GetRule(ctx, req.RuleID)
	if err != nil {
		return ComplianceStatus{}, fmt.Errorf("load rule: %w", err)
	}
	modules, ok := e.Config.ModulesFor(rule.Category)
	if !ok {
		return ComplianceStatus{}, validationf("rule category %q maps to no modules", rule.Category)
	}

	var extPtr *domain.Extension
	ext, err := e.Repo.GetExtension(ctx, req.Exercise, req.Month, req.MunicipalityID, req.AgreementID, req.RuleID)
	if err == nil {
		extPtr = &ext
	} else if !errors.Is(err, repo.ErrNotFound) {
		return ComplianceStatus{}, err
	}
	deadline, err := calendar.ResolveDeadline(period, extPtr)
	if err != nil {
		return ComplianceStatus{}, err
	}

	status := ComplianceStatus{
		AsOf:       asOf.Format(calendar.DateLayout),
		Start:      deadline.Start.Format(calendar.DateLayout),
		End:        deadline.End.Format(calendar.DateLayout),
		Overridden: deadline.Overridden,
		Expired:    calendar.IsExpired(deadline.End, asOf),
	}
	if rule.Rectifiable() {
		rect, err := calendar.RectificationDeadline(rule, deadline.End)
		if err != nil {
			return ComplianceStatus{}, err
		}
		status.RectificationDeadline = rect.Format(calendar.DateLayout)
		status.RectificationOpen = calendar.IsRectificationOpen(rect, asOf)
	}
	for _, module := range modules {
		closed, err := e.Repo.ClosureExists(ctx, req.Exercise, req.Month, req.MunicipalityID, req.AgreementID, req.RuleID, module)
		if err != nil {
			return ComplianceStatus{}, err
		}
		if closed {
			status.ClosedModules = append(status.ClosedModules, module)
		} else {
			status.OpenModules = append(status.OpenModules, module)
		}
	}
	return status, nil
}
