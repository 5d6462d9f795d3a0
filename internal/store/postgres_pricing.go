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

const pgPricingColumns = `id, company_id, source_url, source_type, content_hash, extracted_at,
	processing_status, error, extraction, created_at`

const pgLatestPricing = `SELECT ` + pgPricingColumns + ` FROM pricing_snapshots
	WHERE company_id = $1 AND source_url = $2 AND processing_status <> 'error'
	ORDER BY extracted_at DESC, created_at DESC LIMIT 1`

const pgEventColumns = `id, company_id, source_url, source_type, detected_at, changed_fields, raw_diff,
	change_summary, current_snapshot_id, previous_snapshot_id, processing_status, notification_status, created_at`

const pgListEvents = `SELECT ` + pgEventColumns + ` FROM change_events
	WHERE company_id = $1 AND detected_at >= $2 AND detected_at < $3
	ORDER BY detected_at, id`

func (s *PostgresStore) LatestPricingSnapshot(ctx context.Context, companyID, sourceURL string) (*model.PricingSnapshot, error) {
	snap, err := scanPgPricing(s.pool.QueryRow(ctx, pgLatestPricing, companyID, sourceURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "postgres: latest pricing snapshot", companyID)
	}
	return snap, nil
}

func (s *PostgresStore) ListPricingSnapshots(ctx context.Context, companyID, sourceURL string, limit int) ([]model.PricingSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPricingColumns+` FROM pricing_snapshots
		 WHERE company_id = $1 AND source_url = $2
		 ORDER BY extracted_at DESC, created_at DESC LIMIT $3`,
		companyID, sourceURL, limit,
	)
	if err != nil {
		return nil, classify(err, "postgres: list pricing snapshots", "")
	}
	defer rows.Close()

	var out []model.PricingSnapshot
	for rows.Next() {
		snap, err := scanPgPricing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pricing snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pricing snapshots iterate")
}

func (s *PostgresStore) SavePricingResult(ctx context.Context, snap *model.PricingSnapshot, event *model.ChangeEvent) error {
	return s.writePricing(ctx, snap, event, nil)
}

// AppendPricingResult holds a transaction-scoped advisory lock on the page
// while it checks the baseline and writes, so ingesters on other hosts
// serialise on the same page.
func (s *PostgresStore) AppendPricingResult(ctx context.Context, baselineID string, snap *model.PricingSnapshot, event *model.ChangeEvent) error {
	return s.writePricing(ctx, snap, event, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
			pageLockKey(snap.CompanyID, snap.SourceURL)); err != nil {
			return classify(err, "postgres: lock pricing page", "")
		}
		latest, err := scanPgPricing(tx.QueryRow(ctx, pgLatestPricing, snap.CompanyID, snap.SourceURL))
		if errors.Is(err, pgx.ErrNoRows) {
			latest, err = nil, nil
		}
		if err != nil {
			return classify(err, "postgres: recheck pricing baseline", snap.CompanyID)
		}
		return checkBaseline(snap, latest, baselineID)
	})
}

func (s *PostgresStore) writePricing(ctx context.Context, snap *model.PricingSnapshot, event *model.ChangeEvent, before func(pgx.Tx) error) error {
	prepareSnapshot(snap)
	extraction, err := marshalExtraction(snap.Extraction)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err, "postgres: save pricing begin", "")
	}
	defer tx.Rollback(ctx)

	if before != nil {
		if err := before(tx); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO pricing_snapshots (`+pgPricingColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		snap.ID, snap.CompanyID, snap.SourceURL, snap.SourceType, snap.ContentHash, snap.ExtractedAt.UTC(),
		string(snap.ProcessingStatus), snap.Error, extraction, snap.CreatedAt,
	); err != nil {
		return classify(err, "postgres: insert pricing snapshot", snap.ID)
	}

	if event != nil {
		prepareEvent(event, snap)
		fields, diff, err := marshalEvent(event)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO change_events (`+pgEventColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			event.ID, event.CompanyID, event.SourceURL, event.SourceType, event.DetectedAt.UTC(),
			fields, diff, event.ChangeSummary, event.CurrentSnapshotID, event.PreviousSnapshotID,
			string(event.ProcessingStatus), string(event.NotificationStatus), snap.CreatedAt,
		); err != nil {
			return classify(err, "postgres: insert change event", event.ID)
		}
	}

	return classify(tx.Commit(ctx), "postgres: save pricing commit", "")
}

func (s *PostgresStore) GetChangeEvent(ctx context.Context, id string) (*model.ChangeEvent, error) {
	ev, err := scanPgEvent(s.pool.QueryRow(ctx,
		`SELECT `+pgEventColumns+` FROM change_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "postgres: get change event", id)
	}
	return ev, nil
}

func (s *PostgresStore) GetChangeEventsByIDs(ctx context.Context, ids []string) (map[string]model.ChangeEvent, error) {
	out := make(map[string]model.ChangeEvent, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	events, err := queryPgEvents(ctx, s.pool,
		`SELECT `+pgEventColumns+` FROM change_events WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		out[ev.ID] = ev
	}
	return out, nil
}

func (s *PostgresStore) ListChangeEvents(ctx context.Context, companyID string, from, to time.Time) ([]model.ChangeEvent, error) {
	return queryPgEvents(ctx, s.pool, pgListEvents, companyID, from.UTC(), to.UTC())
}

func (s *PostgresStore) SetNotificationStatus(ctx context.Context, id string, from, to model.NotificationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE change_events SET notification_status = $1 WHERE id = $2 AND notification_status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return classify(err, "postgres: set notification status", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetChangeEvent(ctx, id); err != nil {
		return err
	}
	return notificationConflict(id, from)
}

func queryPgEvents(ctx context.Context, q db.Querier, query string, args ...any) ([]model.ChangeEvent, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "postgres: list change events", "")
	}
	defer rows.Close()

	var out []model.ChangeEvent
	for rows.Next() {
		ev, err := scanPgEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan change event")
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list change events iterate")
}

func scanPgPricing(row scannable) (*model.PricingSnapshot, error) {
	var snap model.PricingSnapshot
	var status string
	var extraction []byte
	if err := row.Scan(&snap.ID, &snap.CompanyID, &snap.SourceURL, &snap.SourceType, &snap.ContentHash,
		&snap.ExtractedAt, &status, &snap.Error, &extraction, &snap.CreatedAt); err != nil {
		return nil, err
	}
	snap.ProcessingStatus = model.ProcessingStatus(status)
	snap.ExtractedAt = snap.ExtractedAt.UTC()
	snap.CreatedAt = snap.CreatedAt.UTC()
	if extraction != nil {
		snap.Extraction = &model.NormalizedExtraction{}
		if err := json.Unmarshal(extraction, snap.Extraction); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extraction")
		}
	}
	return &snap, nil
}

func scanPgEvent(row scannable) (*model.ChangeEvent, error) {
	var ev model.ChangeEvent
	var fields, diff []byte
	var processing, notification string
	var createdAt time.Time
	if err := row.Scan(&ev.ID, &ev.CompanyID, &ev.SourceURL, &ev.SourceType, &ev.DetectedAt, &fields, &diff,
		&ev.ChangeSummary, &ev.CurrentSnapshotID, &ev.PreviousSnapshotID, &processing, &notification,
		&createdAt); err != nil {
		return nil, err
	}
	ev.DetectedAt = ev.DetectedAt.UTC()
	ev.ProcessingStatus = model.ProcessingStatus(processing)
	ev.NotificationStatus = model.NotificationStatus(notification)
	if err := unmarshalEvent(&ev, fields, diff); err != nil {
		return nil, err
	}
	return &ev, nil
}
