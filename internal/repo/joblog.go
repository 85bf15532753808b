package repo

import (
	"context"
	"database/sql"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

// AppendJobLog writes one append-only journal line.
func (r Repo) AppendJobLog(ctx context.Context, e domain.JobLogEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO job_log(task_name,exercise,month,municipality_id,status,message,ts) VALUES (?,?,?,?,?,?,?)`,
		e.TaskName, nullableIntPtr(e.Exercise), nullableIntPtr(e.Month), nullableIntPtr(e.MunicipalityID),
		string(e.Status), e.Message, e.Timestamp)
	return mapErr(err)
}

// LatestJobLog returns the most recent journal lines for a task, newest first.
func (r Repo) LatestJobLog(ctx context.Context, taskName string, limit int) ([]domain.JobLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_name,exercise,month,municipality_id,status,message,ts FROM job_log
WHERE task_name=? ORDER BY id DESC LIMIT ?`, taskName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JobLogEntry
	for rows.Next() {
		var e domain.JobLogEntry
		var exercise, month, municipality sql.NullInt64
		var status string
		if err := rows.Scan(&e.ID, &e.TaskName, &exercise, &month, &municipality, &status, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Status = domain.JobStatus(status)
		if exercise.Valid {
			v := int(exercise.Int64)
			e.Exercise = &v
		}
		if month.Valid {
			v := int(month.Int64)
			e.Month = &v
		}
		if municipality.Valid {
			v := int(municipality.Int64)
			e.MunicipalityID = &v
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
