package repo

import (
	"context"
	"database/sql"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

const closureCols = `id,exercise,month,municipality_id,agreement_id,rule_id,module,kind,document_number,report_path,note,created_at`

// InsertClosure persists a closure record. The application re-checks
// existence just before calling this, but the table's uniqueness constraint
// is what actually guarantees at-most-one per key; a violation surfaces as
// ErrConflict.
func (r Repo) InsertClosure(ctx context.Context, c domain.ClosureRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO closures(`+closureCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Exercise, c.Month, c.MunicipalityID, c.AgreementID, c.RuleID,
		string(c.Module), string(c.Kind), c.DocumentNumber, nullable(c.ReportPath), nullable(c.Note), c.CreatedAt)
	return mapErr(err)
}

// ClosureExists reports whether a closure exists for the full key.
func (r Repo) ClosureExists(ctx context.Context, exercise, month, municipalityID, agreementID, ruleID int, module domain.Module) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM closures
WHERE exercise=? AND month=? AND municipality_id=? AND agreement_id=? AND rule_id=? AND module=? LIMIT 1`,
		exercise, month, municipalityID, agreementID, ruleID, string(module)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// AnyRegularClosure reports whether any REGULAR closure exists for a period,
// regardless of municipality. A cheap batch pre-filter only; eligibility is
// always re-verified per (municipality, module) before inserting.
func (r Repo) AnyRegularClosure(ctx context.Context, exercise, month, agreementID, ruleID int) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM closures
WHERE exercise=? AND month=? AND agreement_id=? AND rule_id=? AND kind='REGULAR' LIMIT 1`,
		exercise, month, agreementID, ruleID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// DocumentNumberExists probes the stored numbers for a candidate.
func (r Repo) DocumentNumberExists(ctx context.Context, number string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM closures WHERE document_number=? LIMIT 1`, number).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

type ClosureFilters struct {
	Exercise       int
	Month          int
	MunicipalityID int
	Module         domain.Module
	Kind           domain.ClosureKind
}

func (r Repo) ListClosures(ctx context.Context, f ClosureFilters) ([]domain.ClosureRecord, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Exercise != 0 {
		clauses = append(clauses, "exercise=?")
		args = append(args, f.Exercise)
	}
	if f.Month != 0 {
		clauses = append(clauses, "month=?")
		args = append(args, f.Month)
	}
	if f.MunicipalityID != 0 {
		clauses = append(clauses, "municipality_id=?")
		args = append(args, f.MunicipalityID)
	}
	if f.Module != "" {
		clauses = append(clauses, "module=?")
		args = append(args, string(f.Module))
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+closureCols+` FROM closures WHERE `+joinAnd(clauses)+
		` ORDER BY exercise, month, municipality_id, module`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ClosureRecord
	for rows.Next() {
		c, err := scanClosure(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func scanClosure(rows *sql.Rows) (domain.ClosureRecord, error) {
	var c domain.ClosureRecord
	var module, kind string
	var reportPath, note sql.NullString
	err := rows.Scan(&c.ID, &c.Exercise, &c.Month, &c.MunicipalityID, &c.AgreementID, &c.RuleID,
		&module, &kind, &c.DocumentNumber, &reportPath, &note, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	c.Module = domain.Module(module)
	c.Kind = domain.ClosureKind(kind)
	if reportPath.Valid {
		c.ReportPath = reportPath.String
	}
	if note.Valid {
		c.Note = note.String
	}
	return c, nil
}
