package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/model"
)

const pgJobColumns = `id, company_id, period, period_start, state, source, attempts, snapshot_id, error, started_at, completed_at`

func (s *PostgresStore) StartJob(ctx context.Context, job *model.RecomputeJob) error {
	prepareJob(job)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recompute_jobs (`+pgJobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.CompanyID, string(job.Period), job.PeriodStart.UTC(), string(job.State), job.Trigger,
		job.Attempts, job.SnapshotID, job.Error, job.StartedAt, job.CompletedAt,
	)
	return classify(err, "postgres: start job", job.ID)
}

func (s *PostgresStore) FinishJob(ctx context.Context, job *model.RecomputeJob) error {
	if job.CompletedAt == nil {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE recompute_jobs SET state = $1, attempts = $2, snapshot_id = $3, error = $4, completed_at = $5
		 WHERE id = $6`,
		string(job.State), job.Attempts, job.SnapshotID, job.Error, job.CompletedAt, job.ID,
	)
	if err != nil {
		return classify(err, "postgres: finish job", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "recompute job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.RecomputeJob, error) {
	query := `SELECT ` + pgJobColumns + ` FROM recompute_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "postgres: list jobs", "")
	}
	defer rows.Close()

	var out []model.RecomputeJob
	for rows.Next() {
		var j model.RecomputeJob
		var period, state string
		if err := rows.Scan(&j.ID, &j.CompanyID, &period, &j.PeriodStart, &state, &j.Trigger, &j.Attempts,
			&j.SnapshotID, &j.Error, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		j.Period = model.Period(period)
		j.State = model.JobState(state)
		j.PeriodStart = j.PeriodStart.UTC()
		j.StartedAt = j.StartedAt.UTC()
		if j.CompletedAt != nil {
			t := j.CompletedAt.UTC()
			j.CompletedAt = &t
		}
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) CountJobs(ctx context.Context, since time.Time) (map[model.JobState]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM recompute_jobs WHERE started_at >= $1 GROUP BY state`, since.UTC())
	if err != nil {
		return nil, classify(err, "postgres: count jobs", "")
	}
	defer rows.Close()

	out := make(map[model.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job count")
		}
		out[model.JobState(state)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: count jobs iterate")
}
