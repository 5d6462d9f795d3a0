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

const sqlitePricingColumns = `id, company_id, source_url, source_type, content_hash, extracted_at,
	processing_status, error, extraction, created_at`

const sqliteLatestPricing = `SELECT ` + sqlitePricingColumns + ` FROM pricing_snapshots
	WHERE company_id = ? AND source_url = ? AND processing_status != 'error'
	ORDER BY extracted_at DESC, created_at DESC LIMIT 1`

func (s *SQLiteStore) LatestPricingSnapshot(ctx context.Context, companyID, sourceURL string) (*model.PricingSnapshot, error) {
	snap, err := scanSQLitePricing(s.db.QueryRowContext(ctx, sqliteLatestPricing, companyID, sourceURL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "sqlite: latest pricing snapshot", companyID)
	}
	return snap, nil
}

func (s *SQLiteStore) ListPricingSnapshots(ctx context.Context, companyID, sourceURL string, limit int) ([]model.PricingSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePricingColumns+` FROM pricing_snapshots
		 WHERE company_id = ? AND source_url = ?
		 ORDER BY extracted_at DESC, created_at DESC LIMIT ?`,
		companyID, sourceURL, limit,
	)
	if err != nil {
		return nil, classify(err, "sqlite: list pricing snapshots", "")
	}
	defer rows.Close()

	var out []model.PricingSnapshot
	for rows.Next() {
		snap, err := scanSQLitePricing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pricing snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pricing snapshots iterate")
}

func (s *SQLiteStore) SavePricingResult(ctx context.Context, snap *model.PricingSnapshot, event *model.ChangeEvent) error {
	return s.writePricing(ctx, snap, event, nil)
}

// AppendPricingResult rechecks the baseline inside the write transaction.
func (s *SQLiteStore) AppendPricingResult(ctx context.Context, baselineID string, snap *model.PricingSnapshot, event *model.ChangeEvent) error {
	return s.writePricing(ctx, snap, event, func(tx *sql.Tx) error {
		latest, err := scanSQLitePricing(tx.QueryRowContext(ctx, sqliteLatestPricing, snap.CompanyID, snap.SourceURL))
		if errors.Is(err, sql.ErrNoRows) {
			latest, err = nil, nil
		}
		if err != nil {
			return classify(err, "sqlite: recheck pricing baseline", snap.CompanyID)
		}
		return checkBaseline(snap, latest, baselineID)
	})
}

func (s *SQLiteStore) writePricing(ctx context.Context, snap *model.PricingSnapshot, event *model.ChangeEvent, before func(*sql.Tx) error) error {
	prepareSnapshot(snap)
	extraction, err := marshalExtraction(snap.Extraction)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "sqlite: save pricing begin", "")
	}
	defer tx.Rollback()

	if before != nil {
		if err := before(tx); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pricing_snapshots (`+sqlitePricingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.CompanyID, snap.SourceURL, snap.SourceType, snap.ContentHash, fmtTime(snap.ExtractedAt),
		string(snap.ProcessingStatus), snap.Error, extraction, fmtTime(snap.CreatedAt),
	); err != nil {
		return classify(err, "sqlite: insert pricing snapshot", snap.ID)
	}

	if event != nil {
		prepareEvent(event, snap)
		fields, diff, err := marshalEvent(event)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO change_events (`+sqliteEventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, event.CompanyID, event.SourceURL, event.SourceType, fmtTime(event.DetectedAt),
			fields, diff, event.ChangeSummary, event.CurrentSnapshotID, event.PreviousSnapshotID,
			string(event.ProcessingStatus), string(event.NotificationStatus), fmtTime(snap.CreatedAt),
		); err != nil {
			return classify(err, "sqlite: insert change event", event.ID)
		}
	}

	return classify(tx.Commit(), "sqlite: save pricing commit", "")
}

const sqliteEventColumns = `id, company_id, source_url, source_type, detected_at, changed_fields, raw_diff,
	change_summary, current_snapshot_id, previous_snapshot_id, processing_status, notification_status, created_at`

func (s *SQLiteStore) GetChangeEvent(ctx context.Context, id string) (*model.ChangeEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteEventColumns+` FROM change_events WHERE id = ?`, id)
	ev, err := scanSQLiteEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "sqlite: get change event", id)
	}
	return ev, nil
}

func (s *SQLiteStore) GetChangeEventsByIDs(ctx context.Context, ids []string) (map[string]model.ChangeEvent, error) {
	out := make(map[string]model.ChangeEvent, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	events, err := s.queryEvents(ctx, s.db,
		`SELECT `+sqliteEventColumns+` FROM change_events WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		out[ev.ID] = ev
	}
	return out, nil
}

func (s *SQLiteStore) ListChangeEvents(ctx context.Context, companyID string, from, to time.Time) ([]model.ChangeEvent, error) {
	return s.queryEvents(ctx, s.db,
		`SELECT `+sqliteEventColumns+` FROM change_events
		 WHERE company_id = ? AND detected_at >= ? AND detected_at < ?
		 ORDER BY detected_at, id`,
		companyID, fmtTime(from), fmtTime(to))
}

func (s *SQLiteStore) SetNotificationStatus(ctx context.Context, id string, from, to model.NotificationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE change_events SET notification_status = ? WHERE id = ? AND notification_status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return classify(err, "sqlite: set notification status", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetChangeEvent(ctx, id); err != nil {
		return err
	}
	return notificationConflict(id, from)
}

func (s *SQLiteStore) queryEvents(ctx context.Context, q sqliteQuerier, query string, args ...any) ([]model.ChangeEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "sqlite: list change events", "")
	}
	defer rows.Close()

	var out []model.ChangeEvent
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan change event")
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list change events iterate")
}

func scanSQLitePricing(row scannable) (*model.PricingSnapshot, error) {
	var snap model.PricingSnapshot
	var extractedAt, createdAt string
	var extraction sql.NullString
	if err := row.Scan(&snap.ID, &snap.CompanyID, &snap.SourceURL, &snap.SourceType, &snap.ContentHash,
		&extractedAt, &snap.ProcessingStatus, &snap.Error, &extraction, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if snap.ExtractedAt, err = parseTime(extractedAt); err != nil {
		return nil, err
	}
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if extraction.Valid {
		snap.Extraction = &model.NormalizedExtraction{}
		if err := json.Unmarshal([]byte(extraction.String), snap.Extraction); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal extraction")
		}
	}
	return &snap, nil
}

func scanSQLiteEvent(row scannable) (*model.ChangeEvent, error) {
	var ev model.ChangeEvent
	var detectedAt, createdAt string
	var fields, diff string
	var prev sql.NullString
	if err := row.Scan(&ev.ID, &ev.CompanyID, &ev.SourceURL, &ev.SourceType, &detectedAt, &fields, &diff,
		&ev.ChangeSummary, &ev.CurrentSnapshotID, &prev, &ev.ProcessingStatus, &ev.NotificationStatus,
		&createdAt); err != nil {
		return nil, err
	}
	var err error
	if ev.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	if prev.Valid {
		ev.PreviousSnapshotID = &prev.String
	}
	if err := unmarshalEvent(&ev, []byte(fields), []byte(diff)); err != nil {
		return nil, err
	}
	return &ev, nil
}
