package repo

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

func (r Repo) InsertBudgetItem(ctx context.Context, it domain.BudgetItem) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO budget_items(code,module,parent_code,description,is_leaf) VALUES (?,?,?,?,?)`,
		it.Code, string(it.Module), it.ParentCode, it.Description, boolToInt(it.IsLeaf))
	return mapErr(err)
}

// ListBudgetItems returns one module's catalog ordered by (parent_code, code)
// ascending, the order report traversal must follow within each level.
func (r Repo) ListBudgetItems(ctx context.Context, module domain.Module) ([]domain.BudgetItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT code,module,parent_code,description,is_leaf FROM budget_items
WHERE module=? ORDER BY parent_code, code`, string(module))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BudgetItem
	for rows.Next() {
		var it domain.BudgetItem
		var module string
		var isLeaf int
		if err := rows.Scan(&it.Code, &module, &it.ParentCode, &it.Description, &isLeaf); err != nil {
			return nil, err
		}
		it.Module = domain.Module(module)
		it.IsLeaf = isLeaf != 0
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) UpsertSubmittedAmount(ctx context.Context, a domain.SubmittedAmount) error {
	var amount any
	if a.Amount != nil {
		amount = a.Amount.String()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO submitted_amounts(exercise,month,municipality_id,module,item_code,amount,count) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(exercise,month,municipality_id,module,item_code) DO UPDATE SET amount=excluded.amount, count=excluded.count`,
		a.Exercise, a.Month, a.MunicipalityID, string(a.Module), a.ItemCode, amount, nullableIntPtr(a.Count))
	return mapErr(err)
}

// ListSubmittedAmounts returns one municipality's figures for a module slot.
func (r Repo) ListSubmittedAmounts(ctx context.Context, exercise, month, municipalityID int, module domain.Module) ([]domain.SubmittedAmount, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT exercise,month,municipality_id,module,item_code,amount,count FROM submitted_amounts
WHERE exercise=? AND month=? AND municipality_id=? AND module=? ORDER BY item_code`,
		exercise, month, municipalityID, string(module))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubmittedAmount
	for rows.Next() {
		var a domain.SubmittedAmount
		var module string
		var amount sql.NullString
		var count sql.NullInt64
		if err := rows.Scan(&a.Exercise, &a.Month, &a.MunicipalityID, &module, &a.ItemCode, &amount, &count); err != nil {
			return nil, err
		}
		a.Module = domain.Module(module)
		if amount.Valid {
			d, err := decimal.NewFromString(amount.String)
			if err != nil {
				return nil, err
			}
			a.Amount = &d
		}
		if count.Valid {
			v := int(count.Int64)
			a.Count = &v
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
