package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/db"
	"github.com/sells-group/market-signals/internal/model"
)

const pgSnapshotColumns = `id, company_id, period, period_start, period_end,
	news_total, news_positive, news_negative, news_neutral, news_average_sentiment, news_average_priority,
	pricing_changes, feature_updates, funding_events,
	impact_score, innovation_velocity, trend_delta, metric_breakdown, fallback, created_at`

const pgGetSnapshot = `SELECT ` + pgSnapshotColumns + ` FROM analytics_snapshots
	WHERE company_id = $1 AND period = $2 AND period_start = $3`

const pgLatestSnapshot = `SELECT ` + pgSnapshotColumns + ` FROM analytics_snapshots
	WHERE company_id = $1 AND period = $2
	ORDER BY period_start DESC LIMIT 1`

const pgPreviousSnapshot = `SELECT ` + pgSnapshotColumns + ` FROM analytics_snapshots
	WHERE company_id = $1 AND period = $2 AND period_start < $3
	ORDER BY period_start DESC LIMIT 1`

const pgListComponents = `SELECT id, snapshot_id, component_type, score_contribution, source_kind, source_id, created_at
	FROM impact_components WHERE snapshot_id = $1 ORDER BY ordinal`

var pgComponentColumns = []string{
	"id", "snapshot_id", "ordinal", "component_type", "score_contribution", "source_kind", "source_id", "created_at",
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot) error {
	return s.writeSnapshot(ctx, snap, false)
}

func (s *PostgresStore) ReplaceFallbackSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot) error {
	return s.writeSnapshot(ctx, snap, true)
}

func (s *PostgresStore) writeSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot, replaceFallback bool) error {
	prepareAnalytics(snap)
	breakdown, err := marshalBreakdown(snap.MetricBreakdown)
	if err != nil {
		return err
	}
	key := snap.Key()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err, "postgres: write snapshot begin", "")
	}
	defer tx.Rollback(ctx)

	if replaceFallback {
		// Components go with the row through ON DELETE CASCADE.
		if _, err := tx.Exec(ctx,
			`DELETE FROM analytics_snapshots
			 WHERE company_id = $1 AND period = $2 AND period_start = $3 AND fallback`,
			key.CompanyID, string(key.Period), key.PeriodStart,
		); err != nil {
			return classify(err, "postgres: delete fallback snapshot", key.String())
		}
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO analytics_snapshots (`+pgSnapshotColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		 ON CONFLICT (company_id, period, period_start) DO NOTHING`,
		snap.ID, snap.CompanyID, string(snap.Period), snap.PeriodStart.UTC(), snap.PeriodEnd.UTC(),
		snap.NewsTotal, snap.NewsPositive, snap.NewsNegative, snap.NewsNeutral,
		snap.NewsAverageSentiment, snap.NewsAveragePriority,
		snap.PricingChanges, snap.FeatureUpdates, snap.FundingEvents,
		snap.ImpactScore, snap.InnovationVelocity, snap.TrendDelta,
		breakdown, snap.Fallback, snap.CreatedAt,
	)
	if err != nil {
		return classify(err, "postgres: insert snapshot", key.String())
	}
	if tag.RowsAffected() == 0 {
		return snapshotConflict(key.String())
	}

	if len(snap.Components) > 0 {
		rows := make([][]any, len(snap.Components))
		for i, c := range snap.Components {
			rows[i] = []any{c.ID, snap.ID, i, string(c.ComponentType), c.ScoreContribution,
				c.SourceRef.Kind, c.SourceRef.ID, c.CreatedAt}
		}
		if _, err := db.CopyFrom(ctx, tx, "impact_components", pgComponentColumns, rows); err != nil {
			return classify(err, "postgres: copy components", key.String())
		}
	}

	return classify(tx.Commit(ctx), "postgres: write snapshot commit", "")
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, key model.SnapshotKey) (*model.CompanyAnalyticsSnapshot, error) {
	return s.getSnapshot(ctx, pgGetSnapshot, key.CompanyID, string(key.Period), key.PeriodStart.UTC())
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, companyID string, period model.Period) (*model.CompanyAnalyticsSnapshot, error) {
	return s.getSnapshot(ctx, pgLatestSnapshot, companyID, string(period))
}

func (s *PostgresStore) PreviousSnapshot(ctx context.Context, companyID string, period model.Period, before time.Time) (*model.CompanyAnalyticsSnapshot, error) {
	return s.getSnapshot(ctx, pgPreviousSnapshot, companyID, string(period), before.UTC())
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, companyID string, period model.Period, from, to time.Time) ([]model.CompanyAnalyticsSnapshot, error) {
	return queryPgSnapshots(ctx, s.pool,
		`SELECT `+pgSnapshotColumns+` FROM analytics_snapshots
		 WHERE company_id = $1 AND period = $2 AND period_start >= $3 AND period_start < $4
		 ORDER BY period_start`,
		companyID, string(period), from.UTC(), to.UTC())
}

func (s *PostgresStore) getSnapshot(ctx context.Context, query string, args ...any) (*model.CompanyAnalyticsSnapshot, error) {
	snap, err := scanPgSnapshot(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "postgres: get snapshot", "")
	}

	rows, err := s.pool.Query(ctx, pgListComponents, snap.ID)
	if err != nil {
		return nil, classify(err, "postgres: list components", snap.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.ImpactComponent
		var componentType string
		if err := rows.Scan(&c.ID, &c.SnapshotID, &componentType, &c.ScoreContribution,
			&c.SourceRef.Kind, &c.SourceRef.ID, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan component")
		}
		c.ComponentType = model.ComponentType(componentType)
		c.CreatedAt = c.CreatedAt.UTC()
		snap.Components = append(snap.Components, c)
	}
	return snap, eris.Wrap(rows.Err(), "postgres: list components iterate")
}

func queryPgSnapshots(ctx context.Context, q db.Querier, query string, args ...any) ([]model.CompanyAnalyticsSnapshot, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "postgres: list snapshots", "")
	}
	defer rows.Close()

	var out []model.CompanyAnalyticsSnapshot
	for rows.Next() {
		snap, err := scanPgSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func scanPgSnapshot(row scannable) (*model.CompanyAnalyticsSnapshot, error) {
	var snap model.CompanyAnalyticsSnapshot
	var period string
	var breakdown []byte
	if err := row.Scan(&snap.ID, &snap.CompanyID, &period, &snap.PeriodStart, &snap.PeriodEnd,
		&snap.NewsTotal, &snap.NewsPositive, &snap.NewsNegative, &snap.NewsNeutral,
		&snap.NewsAverageSentiment, &snap.NewsAveragePriority,
		&snap.PricingChanges, &snap.FeatureUpdates, &snap.FundingEvents,
		&snap.ImpactScore, &snap.InnovationVelocity, &snap.TrendDelta,
		&breakdown, &snap.Fallback, &snap.CreatedAt); err != nil {
		return nil, err
	}
	snap.Period = model.Period(period)
	snap.PeriodStart = snap.PeriodStart.UTC()
	snap.PeriodEnd = snap.PeriodEnd.UTC()
	snap.CreatedAt = snap.CreatedAt.UTC()
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &snap.MetricBreakdown); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal metric breakdown")
		}
	}
	return &snap, nil
}
