package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/model"
)

const sqliteSnapshotColumns = `id, company_id, period, period_start, period_end,
	news_total, news_positive, news_negative, news_neutral, news_average_sentiment, news_average_priority,
	pricing_changes, feature_updates, funding_events,
	impact_score, innovation_velocity, trend_delta, metric_breakdown, fallback, created_at`

const sqliteInsertSnapshot = `INSERT INTO analytics_snapshots (` + sqliteSnapshotColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (company_id, period, period_start) DO NOTHING`

const sqliteComponentColumns = `id, snapshot_id, ordinal, component_type, score_contribution, source_kind, source_id, created_at`

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot) error {
	return s.writeSnapshot(ctx, snap, false)
}

func (s *SQLiteStore) ReplaceFallbackSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot) error {
	return s.writeSnapshot(ctx, snap, true)
}

func (s *SQLiteStore) writeSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot, replaceFallback bool) error {
	prepareAnalytics(snap)
	breakdown, err := marshalBreakdown(snap.MetricBreakdown)
	if err != nil {
		return err
	}
	key := snap.Key()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "sqlite: write snapshot begin", "")
	}
	defer tx.Rollback()

	if replaceFallback {
		args := []any{key.CompanyID, string(key.Period), fmtTime(key.PeriodStart)}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM impact_components WHERE snapshot_id IN (
				SELECT id FROM analytics_snapshots
				WHERE company_id = ? AND period = ? AND period_start = ? AND fallback = 1)`, args...); err != nil {
			return classify(err, "sqlite: delete fallback components", key.String())
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM analytics_snapshots
			 WHERE company_id = ? AND period = ? AND period_start = ? AND fallback = 1`, args...); err != nil {
			return classify(err, "sqlite: delete fallback snapshot", key.String())
		}
	}

	res, err := tx.ExecContext(ctx, sqliteInsertSnapshot,
		snap.ID, snap.CompanyID, string(snap.Period), fmtTime(snap.PeriodStart), fmtTime(snap.PeriodEnd),
		snap.NewsTotal, snap.NewsPositive, snap.NewsNegative, snap.NewsNeutral,
		snap.NewsAverageSentiment, snap.NewsAveragePriority,
		snap.PricingChanges, snap.FeatureUpdates, snap.FundingEvents,
		snap.ImpactScore, snap.InnovationVelocity, snap.TrendDelta,
		breakdown, snap.Fallback, fmtTime(snap.CreatedAt),
	)
	if err != nil {
		return classify(err, "sqlite: insert snapshot", key.String())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return snapshotConflict(key.String())
	}

	if len(snap.Components) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO impact_components (`+sqliteComponentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare insert component")
		}
		defer stmt.Close()
		for i, c := range snap.Components {
			if _, err := stmt.ExecContext(ctx, c.ID, snap.ID, i, string(c.ComponentType), c.ScoreContribution,
				c.SourceRef.Kind, c.SourceRef.ID, fmtTime(c.CreatedAt)); err != nil {
				return classify(err, "sqlite: insert component", c.ID)
			}
		}
	}

	return classify(tx.Commit(), "sqlite: write snapshot commit", "")
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, key model.SnapshotKey) (*model.CompanyAnalyticsSnapshot, error) {
	return s.getSnapshot(ctx,
		`SELECT `+sqliteSnapshotColumns+` FROM analytics_snapshots
		 WHERE company_id = ? AND period = ? AND period_start = ?`,
		key.CompanyID, string(key.Period), fmtTime(key.PeriodStart))
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, companyID string, period model.Period) (*model.CompanyAnalyticsSnapshot, error) {
	return s.getSnapshot(ctx,
		`SELECT `+sqliteSnapshotColumns+` FROM analytics_snapshots
		 WHERE company_id = ? AND period = ?
		 ORDER BY period_start DESC LIMIT 1`,
		companyID, string(period))
}

func (s *SQLiteStore) PreviousSnapshot(ctx context.Context, companyID string, period model.Period, before time.Time) (*model.CompanyAnalyticsSnapshot, error) {
	return s.getSnapshot(ctx,
		`SELECT `+sqliteSnapshotColumns+` FROM analytics_snapshots
		 WHERE company_id = ? AND period = ? AND period_start < ?
		 ORDER BY period_start DESC LIMIT 1`,
		companyID, string(period), fmtTime(before))
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, companyID string, period model.Period, from, to time.Time) ([]model.CompanyAnalyticsSnapshot, error) {
	return s.querySnapshots(ctx, s.db,
		`SELECT `+sqliteSnapshotColumns+` FROM analytics_snapshots
		 WHERE company_id = ? AND period = ? AND period_start >= ? AND period_start < ?
		 ORDER BY period_start`,
		companyID, string(period), fmtTime(from), fmtTime(to))
}

func (s *SQLiteStore) getSnapshot(ctx context.Context, query string, args ...any) (*model.CompanyAnalyticsSnapshot, error) {
	snap, err := scanSQLiteSnapshot(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "sqlite: get snapshot", "")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteComponentColumns+` FROM impact_components WHERE snapshot_id = ? ORDER BY ordinal`, snap.ID)
	if err != nil {
		return nil, classify(err, "sqlite: list components", snap.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.ImpactComponent
		var ordinal int
		var created string
		if err := rows.Scan(&c.ID, &c.SnapshotID, &ordinal, &c.ComponentType, &c.ScoreContribution,
			&c.SourceRef.Kind, &c.SourceRef.ID, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan component")
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		snap.Components = append(snap.Components, c)
	}
	return snap, eris.Wrap(rows.Err(), "sqlite: list components iterate")
}

func (s *SQLiteStore) querySnapshots(ctx context.Context, q sqliteQuerier, query string, args ...any) ([]model.CompanyAnalyticsSnapshot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "sqlite: list snapshots", "")
	}
	defer rows.Close()

	var out []model.CompanyAnalyticsSnapshot
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

func scanSQLiteSnapshot(row scannable) (*model.CompanyAnalyticsSnapshot, error) {
	var snap model.CompanyAnalyticsSnapshot
	var start, end, created, breakdown string
	if err := row.Scan(&snap.ID, &snap.CompanyID, &snap.Period, &start, &end,
		&snap.NewsTotal, &snap.NewsPositive, &snap.NewsNegative, &snap.NewsNeutral,
		&snap.NewsAverageSentiment, &snap.NewsAveragePriority,
		&snap.PricingChanges, &snap.FeatureUpdates, &snap.FundingEvents,
		&snap.ImpactScore, &snap.InnovationVelocity, &snap.TrendDelta,
		&breakdown, &snap.Fallback, &created); err != nil {
		return nil, err
	}
	var err error
	if snap.PeriodStart, err = parseTime(start); err != nil {
		return nil, err
	}
	if snap.PeriodEnd, err = parseTime(end); err != nil {
		return nil, err
	}
	if snap.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(breakdown), &snap.MetricBreakdown); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal metric breakdown")
	}
	return &snap, nil
}
