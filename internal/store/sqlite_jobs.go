package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/model"
)

const sqliteJobColumns = `id, company_id, period, period_start, state, source, attempts, snapshot_id, error, started_at, completed_at`

func (s *SQLiteStore) StartJob(ctx context.Context, job *model.RecomputeJob) error {
	prepareJob(job)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recompute_jobs (`+sqliteJobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.CompanyID, string(job.Period), fmtTime(job.PeriodStart), string(job.State), job.Trigger,
		job.Attempts, job.SnapshotID, job.Error, fmtTime(job.StartedAt), nullTime(job.CompletedAt),
	)
	return classify(err, "sqlite: start job", job.ID)
}

func (s *SQLiteStore) FinishJob(ctx context.Context, job *model.RecomputeJob) error {
	if job.CompletedAt == nil {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recompute_jobs SET state = ?, attempts = ?, snapshot_id = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		string(job.State), job.Attempts, job.SnapshotID, job.Error, nullTime(job.CompletedAt), job.ID,
	)
	if err != nil {
		return classify(err, "sqlite: finish job", job.ID)
	}
	return checkRowsAffected(res, "recompute job", job.ID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.RecomputeJob, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM recompute_jobs WHERE 1=1`
	var args []any
	if filter.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, fmtTime(filter.Since))
	}
	query += ` ORDER BY started_at DESC, id`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "sqlite: list jobs", "")
	}
	defer rows.Close()

	var out []model.RecomputeJob
	for rows.Next() {
		var j model.RecomputeJob
		var start, started string
		var completed sql.NullString
		if err := rows.Scan(&j.ID, &j.CompanyID, &j.Period, &start, &j.State, &j.Trigger, &j.Attempts,
			&j.SnapshotID, &j.Error, &started, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		if j.PeriodStart, err = parseTime(start); err != nil {
			return nil, err
		}
		if j.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if j.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) CountJobs(ctx context.Context, since time.Time) (map[model.JobState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM recompute_jobs WHERE started_at >= ? GROUP BY state`, fmtTime(since))
	if err != nil {
		return nil, classify(err, "sqlite: count jobs", "")
	}
	defer rows.Close()

	out := make(map[model.JobState]int)
	for rows.Next() {
		var state model.JobState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job count")
		}
		out[state] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count jobs iterate")
}
