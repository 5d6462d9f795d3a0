// Package ingest accepts pricing extractions, news records and notification
// status updates from collaborators and persists them.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/pricing"
	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

// Service is the write path for collaborator input.
type Service struct {
	store store.Store
	retry resilience.RetryConfig
	locks keyLock
	now   func() time.Time
	log   *zap.Logger
}

// NewService creates an ingestion service. Store calls that fail
// transiently are retried with the given policy.
func NewService(st store.Store, retry resilience.RetryConfig) *Service {
	retry.OnRetry = resilience.RetryLogger("ingest", "store")
	return &Service{
		store: st,
		retry: retry,
		now:   func() time.Time { return time.Now().UTC() },
		log:   zap.L().With(zap.String("component", "ingest.service")),
	}
}

// ExtractionResult describes what one ingested extraction produced. Event is
// nil for baseline and unchanged captures.
type ExtractionResult struct {
	Snapshot *model.PricingSnapshot `json:"snapshot"`
	Event    *model.ChangeEvent     `json:"event,omitempty"`
	Diff     model.ExtractionDiff   `json:"diff"`
}

// IngestExtraction normalises raw, diffs it against the latest usable
// capture of the same page and persists the new PricingSnapshot together
// with a ChangeEvent when the content changed.
//
// Invalid input returns a ValidationError. When the page is identifiable the
// rejection is also recorded as an error snapshot.
func (s *Service) IngestExtraction(ctx context.Context, raw *pricing.RawExtraction) (*ExtractionResult, error) {
	if raw == nil {
		return nil, resilience.Validationf("extraction", "missing")
	}

	identifiable := raw.CompanyID != "" && raw.SourceURL != ""
	if identifiable {
		unlock := s.locks.Lock(raw.CompanyID + "|" + raw.SourceURL)
		defer unlock()
	}

	norm, err := pricing.Normalize(raw)
	if err != nil {
		extractionsTotal.WithLabelValues(outcomeRejected).Inc()
		if identifiable && resilience.IsValidation(err) {
			s.recordRejection(ctx, raw, err)
		}
		return nil, err
	}

	var res *ExtractionResult
	for attempt := 1; ; attempt++ {
		res, err = s.diffAndAppend(ctx, raw, norm)
		if err == nil || !errors.Is(err, store.ErrBaselineMoved) || attempt == maxBaselineAttempts {
			break
		}
		s.log.Debug("pricing baseline moved, diffing again",
			zap.String("company_id", raw.CompanyID),
			zap.String("source_url", raw.SourceURL),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		return nil, err
	}

	extractionsTotal.WithLabelValues(string(res.Diff.Kind)).Inc()
	s.log.Info("extraction ingested",
		zap.String("company_id", raw.CompanyID),
		zap.String("source_url", raw.SourceURL),
		zap.String("diff", string(res.Diff.Kind)),
		zap.String("snapshot_id", res.Snapshot.ID),
	)
	return res, nil
}

// maxBaselineAttempts bounds how often an extraction is diffed again after
// another writer appended to the same page first.
const maxBaselineAttempts = 3

// diffAndAppend diffs norm against the page's latest usable snapshot and
// appends the result, provided that snapshot is still the latest when the
// write commits.
func (s *Service) diffAndAppend(ctx context.Context, raw *pricing.RawExtraction, norm *model.NormalizedExtraction) (*ExtractionResult, error) {
	prev, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*model.PricingSnapshot, error) {
		snap, err := s.store.LatestPricingSnapshot(ctx, raw.CompanyID, raw.SourceURL)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return snap, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load latest pricing snapshot")
	}

	if prev != nil && norm.ExtractedAt.Before(prev.ExtractedAt) {
		verr := resilience.Validationf("extracted_at",
			"capture at %s is older than the latest capture at %s",
			norm.ExtractedAt.Format(time.RFC3339), prev.ExtractedAt.Format(time.RFC3339))
		extractionsTotal.WithLabelValues(outcomeRejected).Inc()
		s.recordRejection(ctx, raw, verr)
		return nil, verr
	}

	var prevExt *model.NormalizedExtraction
	baselineID := ""
	if prev != nil {
		baselineID = prev.ID
		prevExt = prev.Extraction
		if prevExt == nil {
			prevExt = &model.NormalizedExtraction{ContentHash: prev.ContentHash}
		}
	}
	diff := pricing.Diff(prevExt, norm)

	snap := &model.PricingSnapshot{
		CompanyID:        raw.CompanyID,
		SourceURL:        raw.SourceURL,
		SourceType:       raw.SourceType,
		ContentHash:      norm.ContentHash,
		ExtractedAt:      norm.ExtractedAt,
		ProcessingStatus: model.ProcessingSuccess,
		Extraction:       norm,
		CreatedAt:        s.now(),
	}
	if diff.Kind == model.DiffUnchanged {
		snap.ProcessingStatus = model.ProcessingSkipped
	}

	var event *model.ChangeEvent
	if diff.Kind == model.DiffChanged {
		prevID := prev.ID
		event = &model.ChangeEvent{
			CompanyID:          raw.CompanyID,
			SourceURL:          raw.SourceURL,
			SourceType:         raw.SourceType,
			DetectedAt:         norm.ExtractedAt,
			ChangedFields:      diff.ChangedFields(),
			RawDiff:            diff,
			ChangeSummary:      pricing.Summarize(diff),
			PreviousSnapshotID: &prevID,
			ProcessingStatus:   model.ProcessingSuccess,
			NotificationStatus: model.NotificationPending,
		}
	}

	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		if err := s.store.EnsureCompany(ctx, raw.CompanyID); err != nil {
			return err
		}
		return s.store.AppendPricingResult(ctx, baselineID, snap, event)
	})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: save pricing result")
	}
	return &ExtractionResult{Snapshot: snap, Event: event, Diff: diff}, nil
}

// recordRejection writes an error snapshot for audit. Failures are logged;
// the caller already has the validation error to return.
func (s *Service) recordRejection(ctx context.Context, raw *pricing.RawExtraction, cause error) {
	at := raw.ExtractedAt.UTC()
	if at.IsZero() {
		at = s.now()
	}
	snap := &model.PricingSnapshot{
		CompanyID:        raw.CompanyID,
		SourceURL:        raw.SourceURL,
		SourceType:       raw.SourceType,
		ExtractedAt:      at,
		ProcessingStatus: model.ProcessingError,
		Error:            cause.Error(),
		CreatedAt:        s.now(),
	}
	if err := s.store.SavePricingResult(ctx, snap, nil); err != nil {
		s.log.Warn("record rejected extraction",
			zap.String("company_id", raw.CompanyID),
			zap.String("source_url", raw.SourceURL),
			zap.Error(err),
		)
	}
}

// IngestNews validates and upserts pre-enriched news records. One invalid
// record rejects the whole batch. Repeated ids keep the last occurrence.
func (s *Service) IngestNews(ctx context.Context, items []model.NewsItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	index := make(map[string]int, len(items))
	deduped := make([]model.NewsItem, 0, len(items))
	companies := make(map[string]struct{})
	for i := range items {
		n := items[i]
		if err := n.Validate(); err != nil {
			return 0, eris.Wrapf(err, "ingest: news record %d", i)
		}
		n.Timestamp = n.Timestamp.UTC()
		if j, ok := index[n.ID]; ok {
			deduped[j] = n
		} else {
			index[n.ID] = len(deduped)
			deduped = append(deduped, n)
		}
		companies[n.CompanyID] = struct{}{}
	}

	n, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (int, error) {
		for id := range companies {
			if err := s.store.EnsureCompany(ctx, id); err != nil {
				return 0, err
			}
		}
		return s.store.UpsertNews(ctx, deduped)
	})
	if err != nil {
		return 0, eris.Wrap(err, "ingest: upsert news")
	}
	newsItemsTotal.Add(float64(n))
	s.log.Debug("news ingested", zap.Int("count", n), zap.Int("companies", len(companies)))
	return n, nil
}

// DeleteNews removes a news record. Components that referenced it keep the
// dangling reference.
func (s *Service) DeleteNews(ctx context.Context, id string) error {
	return eris.Wrap(s.store.DeleteNews(ctx, id), "ingest: delete news")
}

// UpdateNotificationStatus is the delivery collaborator's write-back. The
// move is checked against the allowed transitions and applied with a
// compare-and-set so concurrent writers cannot both succeed.
func (s *Service) UpdateNotificationStatus(ctx context.Context, eventID string, next model.NotificationStatus) (*model.ChangeEvent, error) {
	if !next.Valid() {
		return nil, resilience.Validationf("notification_status", "unknown status %q", next)
	}
	ev, err := s.store.GetChangeEvent(ctx, eventID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: get change event")
	}
	if !ev.NotificationStatus.CanTransition(next) {
		return nil, resilience.Validationf("notification_status",
			"cannot move from %s to %s", ev.NotificationStatus, next)
	}
	if err := s.store.SetNotificationStatus(ctx, eventID, ev.NotificationStatus, next); err != nil {
		return nil, eris.Wrap(err, "ingest: set notification status")
	}
	notificationUpdatesTotal.WithLabelValues(string(next)).Inc()
	ev.NotificationStatus = next
	return ev, nil
}
