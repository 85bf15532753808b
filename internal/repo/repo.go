package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// mapErr translates driver errors into the repo's sentinel errors. SQLite
// surfaces uniqueness violations as plain-text errors, so the match is on the
// constraint message.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE") {
		return ErrConflict
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// --- municipalities ---

func (r Repo) InsertMunicipality(ctx context.Context, m domain.Municipality) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO municipalities(id,name) VALUES (?,?)`, m.ID, m.Name)
	return mapErr(err)
}

func (r Repo) GetMunicipality(ctx context.Context, id int) (domain.Municipality, error) {
	var m domain.Municipality
	err := r.DB.QueryRowContext(ctx, `SELECT id,name FROM municipalities WHERE id=?`, id).Scan(&m.ID, &m.Name)
	return m, mapErr(err)
}

func (r Repo) ListMunicipalities(ctx context.Context) ([]domain.Municipality, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM municipalities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Municipality
	for rows.Next() {
		var m domain.Municipality
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- agreements & rules ---

func (r Repo) InsertAgreement(ctx context.Context, a domain.Agreement) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agreements(id,name) VALUES (?,?)`, a.ID, a.Name)
	return mapErr(err)
}

func (r Repo) GetAgreement(ctx context.Context, id int) (domain.Agreement, error) {
	var a domain.Agreement
	err := r.DB.QueryRowContext(ctx, `SELECT id,name FROM agreements WHERE id=?`, id).Scan(&a.ID, &a.Name)
	return a, mapErr(err)
}

func (r Repo) ListAgreements(ctx context.Context) ([]domain.Agreement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM agreements ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agreement
	for rows.Next() {
		var a domain.Agreement
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertRule(ctx context.Context, rule domain.Rule) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO rules(id,agreement_id,category,rectification_months,rectification_days) VALUES (?,?,?,?,?)`,
		rule.ID, rule.AgreementID, rule.Category, nullableIntPtr(rule.RectificationMonths), nullableIntPtr(rule.RectificationDays))
	return mapErr(err)
}

func (r Repo) GetRule(ctx context.Context, id int) (domain.Rule, error) {
	var rule domain.Rule
	var months, days sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT id,agreement_id,category,rectification_months,rectification_days FROM rules WHERE id=?`, id).
		Scan(&rule.ID, &rule.AgreementID, &rule.Category, &months, &days)
	if err != nil {
		return rule, mapErr(err)
	}
	if months.Valid {
		v := int(months.Int64)
		rule.RectificationMonths = &v
	}
	if days.Valid {
		v := int(days.Int64)
		rule.RectificationDays = &v
	}
	return rule, nil
}

func (r Repo) ListRules(ctx context.Context, agreementID int) ([]domain.Rule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,agreement_id,category,rectification_months,rectification_days FROM rules
WHERE agreement_id=? ORDER BY id`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var months, days sql.NullInt64
		if err := rows.Scan(&rule.ID, &rule.AgreementID, &rule.Category, &months, &days); err != nil {
			return nil, err
		}
		if months.Valid {
			v := int(months.Int64)
			rule.RectificationMonths = &v
		}
		if days.Valid {
			v := int(days.Int64)
			rule.RectificationDays = &v
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// --- fiscal periods ---

func (r Repo) InsertPeriod(ctx context.Context, p domain.FiscalPeriod) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO fiscal_periods(exercise,month,agreement_id,rule_id,start_date,end_date) VALUES (?,?,?,?,?,?)`,
		p.Exercise, p.Month, p.AgreementID, p.RuleID, p.StartDate, p.EndDate)
	return mapErr(err)
}

func (r Repo) GetPeriod(ctx context.Context, exercise, month, agreementID, ruleID int) (domain.FiscalPeriod, error) {
	var p domain.FiscalPeriod
	err := r.DB.QueryRowContext(ctx, `SELECT exercise,month,agreement_id,rule_id,start_date,end_date FROM fiscal_periods
WHERE exercise=? AND month=? AND agreement_id=? AND rule_id=?`, exercise, month, agreementID, ruleID).
		Scan(&p.Exercise, &p.Month, &p.AgreementID, &p.RuleID, &p.StartDate, &p.EndDate)
	return p, mapErr(err)
}

func (r Repo) ListPeriods(ctx context.Context, exercise int) ([]domain.FiscalPeriod, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT exercise,month,agreement_id,rule_id,start_date,end_date FROM fiscal_periods
WHERE exercise=? ORDER BY month, agreement_id, rule_id`, exercise)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPeriods(rows)
}

// DuePeriods selects periods whose deadline elapsed before asOf but whose
// start falls inside the batch window. Dates are ISO strings, so string
// comparison is date comparison.
func (r Repo) DuePeriods(ctx context.Context, asOf, windowStart string) ([]domain.FiscalPeriod, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT exercise,month,agreement_id,rule_id,start_date,end_date FROM fiscal_periods
WHERE end_date < ? AND start_date > ? ORDER BY exercise, month, agreement_id, rule_id`, asOf, windowStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPeriods(rows)
}

func scanPeriods(rows *sql.Rows) ([]domain.FiscalPeriod, error) {
	var res []domain.FiscalPeriod
	for rows.Next() {
		var p domain.FiscalPeriod
		if err := rows.Scan(&p.Exercise, &p.Month, &p.AgreementID, &p.RuleID, &p.StartDate, &p.EndDate); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
