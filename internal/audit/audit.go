// Package audit appends the immutable trail of extension writes. Entries are
// written inside the caller's transaction so no reader can observe an
// extension change without its audit row.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

type Trail struct {
	Now func() time.Time
}

// Record describes one extension write about to be audited.
type Record struct {
	Extension       domain.Extension
	PreviousEndDate string
	Kind            domain.AuditKind
	Reason          string
	ActorID         string
}

// Append writes exactly one audit entry for an extension create or update.
func (t Trail) Append(ctx context.Context, tx *sql.Tx, rec Record) (domain.ExtensionAuditEntry, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	if rec.Kind == "" {
		rec.Kind = domain.AuditExtension
	}
	entry := domain.ExtensionAuditEntry{
		ID:              uuid.New().String(),
		ExtensionID:     rec.Extension.ID,
		Exercise:        rec.Extension.Exercise,
		Month:           rec.Extension.Month,
		MunicipalityID:  rec.Extension.MunicipalityID,
		AgreementID:     rec.Extension.AgreementID,
		RuleID:          rec.Extension.RuleID,
		PreviousEndDate: rec.PreviousEndDate,
		NewEndDate:      rec.Extension.NewEndDate,
		Kind:            rec.Kind,
		Reason:          rec.Reason,
		ActorID:         rec.ActorID,
		Timestamp:       now().UTC().Format(time.RFC3339),
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO extension_audit(id,extension_id,exercise,month,municipality_id,agreement_id,rule_id,previous_end_date,new_end_date,kind,reason,actor_id,ts)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		entry.ID, entry.ExtensionID, entry.Exercise, entry.Month, entry.MunicipalityID, entry.AgreementID, entry.RuleID,
		entry.PreviousEndDate, entry.NewEndDate, string(entry.Kind), reasonOrNil(entry.Reason), entry.ActorID, entry.Timestamp)
	if err != nil {
		return domain.ExtensionAuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

func reasonOrNil(v string) any {
	if v == "" {
		return nil
	}
	return v
}
