package repo

import (
	"context"
	"database/sql"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

func scanExtension(row *sql.Row) (domain.Extension, error) {
	var e domain.Extension
	err := row.Scan(&e.ID, &e.Exercise, &e.Month, &e.MunicipalityID, &e.AgreementID, &e.RuleID, &e.NewEndDate)
	return e, mapErr(err)
}

const extensionCols = `id,exercise,month,municipality_id,agreement_id,rule_id,new_end_date`

// GetExtension loads the single active extension for a
// (exercise, month, municipality, agreement, rule) slot.
func (r Repo) GetExtension(ctx context.Context, exercise, month, municipalityID, agreementID, ruleID int) (domain.Extension, error) {
	return scanExtension(r.DB.QueryRowContext(ctx, `SELECT `+extensionCols+` FROM extensions
WHERE exercise=? AND month=? AND municipality_id=? AND agreement_id=? AND rule_id=?`,
		exercise, month, municipalityID, agreementID, ruleID))
}

func (r Repo) InsertExtensionTx(ctx context.Context, tx *sql.Tx, e domain.Extension) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO extensions(`+extensionCols+`) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.Exercise, e.Month, e.MunicipalityID, e.AgreementID, e.RuleID, e.NewEndDate)
	return mapErr(err)
}

func (r Repo) UpdateExtensionDateTx(ctx context.Context, tx *sql.Tx, id, newEndDate string) error {
	res, err := tx.ExecContext(ctx, `UPDATE extensions SET new_end_date=? WHERE id=?`, newEndDate, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DueExtensions returns every extension whose overridden deadline elapsed
// before asOf. Already-closed modules are filtered per (municipality, module)
// by the caller's existence probe, so an extension with some modules still
// open keeps being returned until all of them are closed.
func (r Repo) DueExtensions(ctx context.Context, asOf string) ([]domain.Extension, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+extensionCols+` FROM extensions
WHERE new_end_date < ?
ORDER BY exercise, month, municipality_id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Extension
	for rows.Next() {
		var e domain.Extension
		if err := rows.Scan(&e.ID, &e.Exercise, &e.Month, &e.MunicipalityID, &e.AgreementID, &e.RuleID, &e.NewEndDate); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListExtensions returns every extension for a period slot.
func (r Repo) ListExtensions(ctx context.Context, exercise, month int) ([]domain.Extension, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+extensionCols+` FROM extensions
WHERE exercise=? AND month=? ORDER BY municipality_id, agreement_id, rule_id`, exercise, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Extension
	for rows.Next() {
		var e domain.Extension
		if err := rows.Scan(&e.ID, &e.Exercise, &e.Month, &e.MunicipalityID, &e.AgreementID, &e.RuleID, &e.NewEndDate); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- extension audit trail (writes live in internal/audit) ---

type AuditFilters struct {
	ExtensionID    string
	MunicipalityID int
	Exercise       int
	Month          int
	Limit          int
}

func (r Repo) ListAuditEntries(ctx context.Context, f AuditFilters) ([]domain.ExtensionAuditEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ExtensionID != "" {
		clauses = append(clauses, "extension_id=?")
		args = append(args, f.ExtensionID)
	}
	if f.MunicipalityID != 0 {
		clauses = append(clauses, "municipality_id=?")
		args = append(args, f.MunicipalityID)
	}
	if f.Exercise != 0 {
		clauses = append(clauses, "exercise=?")
		args = append(args, f.Exercise)
	}
	if f.Month != 0 {
		clauses = append(clauses, "month=?")
		args = append(args, f.Month)
	}
	query := `SELECT id,extension_id,exercise,month,municipality_id,agreement_id,rule_id,previous_end_date,new_end_date,kind,reason,actor_id,ts
FROM extension_audit WHERE ` + joinAnd(clauses) + ` ORDER BY seq`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExtensionAuditEntry
	for rows.Next() {
		var a domain.ExtensionAuditEntry
		var reason sql.NullString
		var kind string
		if err := rows.Scan(&a.ID, &a.ExtensionID, &a.Exercise, &a.Month, &a.MunicipalityID, &a.AgreementID, &a.RuleID,
			&a.PreviousEndDate, &a.NewEndDate, &kind, &reason, &a.ActorID, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Kind = domain.AuditKind(kind)
		if reason.Valid {
			a.Reason = reason.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
