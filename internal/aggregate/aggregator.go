// Package aggregate computes CompanyAnalyticsSnapshots from the news items
// and change events observed in one period window.
package aggregate

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-signals/internal/config"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

// Reader is the slice of the store the aggregator reads from.
type Reader interface {
	ListNews(ctx context.Context, companyID string, from, to time.Time) ([]model.NewsItem, error)
	ListChangeEvents(ctx context.Context, companyID string, from, to time.Time) ([]model.ChangeEvent, error)
	PreviousSnapshot(ctx context.Context, companyID string, period model.Period, before time.Time) (*model.CompanyAnalyticsSnapshot, error)
}

// Inputs is everything one computation depends on.
type Inputs struct {
	News   []model.NewsItem
	Events []model.ChangeEvent
	// Previous is the preceding snapshot of the same series, nil if none.
	Previous *model.CompanyAnalyticsSnapshot
}

// Aggregator computes snapshots. It holds no mutable state and is safe for
// concurrent use.
type Aggregator struct {
	reader    Reader
	cfg       config.AnalyticsConfig
	durations model.PeriodDurations
	log       *zap.Logger
}

// New creates an Aggregator reading from r with the given weights, clamp
// bounds and period widths.
func New(r Reader, cfg config.AnalyticsConfig) *Aggregator {
	return &Aggregator{
		reader:    r,
		cfg:       cfg,
		durations: cfg.Periods.Durations(),
		log:       zap.L().With(zap.String("component", "aggregate.aggregator")),
	}
}

// Durations returns the period widths the aggregator windows with.
func (a *Aggregator) Durations() model.PeriodDurations {
	return a.durations
}

// Compute loads the inputs for key and builds its snapshot. Read failures
// are returned wrapped so the caller can classify them; logic failures are
// ComputeErrors. Nothing is persisted.
func (a *Aggregator) Compute(ctx context.Context, key model.SnapshotKey) (*model.CompanyAnalyticsSnapshot, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	in, err := a.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return a.Build(key, in)
}

// Load reads the news, change events and previous snapshot for key.
func (a *Aggregator) Load(ctx context.Context, key model.SnapshotKey) (Inputs, error) {
	start := key.PeriodStart.UTC()
	end := a.durations.End(key.Period, start)

	news, err := a.reader.ListNews(ctx, key.CompanyID, start, end)
	if err != nil {
		return Inputs{}, eris.Wrap(err, "aggregate: list news")
	}
	events, err := a.reader.ListChangeEvents(ctx, key.CompanyID, start, end)
	if err != nil {
		return Inputs{}, eris.Wrap(err, "aggregate: list change events")
	}
	prev, err := a.reader.PreviousSnapshot(ctx, key.CompanyID, key.Period, start)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Inputs{}, eris.Wrap(err, "aggregate: previous snapshot")
	}
	return Inputs{News: news, Events: events, Previous: prev}, nil
}

// Build computes the snapshot for key from in. It is deterministic: the
// same inputs always produce the same counters, components and scores.
func (a *Aggregator) Build(key model.SnapshotKey, in Inputs) (*model.CompanyAnalyticsSnapshot, error) {
	start := key.PeriodStart.UTC()
	end := a.durations.End(key.Period, start)

	snap := &model.CompanyAnalyticsSnapshot{
		CompanyID:   key.CompanyID,
		Period:      key.Period,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	news := append([]model.NewsItem(nil), in.News...)
	sort.SliceStable(news, func(i, j int) bool {
		if !news[i].Timestamp.Equal(news[j].Timestamp) {
			return news[i].Timestamp.Before(news[j].Timestamp)
		}
		return news[i].ID < news[j].ID
	})
	events := make([]model.ChangeEvent, 0, len(in.Events))
	for _, ev := range in.Events {
		if ev.ProcessingStatus == model.ProcessingError {
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].DetectedAt.Equal(events[j].DetectedAt) {
			return events[i].DetectedAt.Before(events[j].DetectedAt)
		}
		return events[i].ID < events[j].ID
	})

	stats, err := a.newsStats(news, start, end)
	if err != nil {
		return nil, err
	}
	snap.NewsTotal = stats.total
	snap.NewsPositive = stats.positive
	snap.NewsNegative = stats.negative
	snap.NewsNeutral = stats.neutral
	snap.NewsAverageSentiment = stats.avgSentiment
	snap.NewsAveragePriority = stats.avgPriority
	snap.FundingEvents = stats.funding

	for i := range events {
		ev := &events[i]
		if ev.DetectedAt.Before(start) || !ev.DetectedAt.Before(end) {
			return nil, resilience.NewComputeError(
				eris.Errorf("change event %s at %s is outside the window", ev.ID, ev.DetectedAt.Format(time.RFC3339)))
		}
		if ev.HasPriceChange() {
			snap.PricingChanges++
		}
		if ev.HasFeatureChange() {
			snap.FeatureUpdates++
		}
	}

	w := a.cfg.Weights
	for i := range news {
		if c, ok := newsComponent(w, &news[i]); ok {
			snap.Components = append(snap.Components, c)
		}
	}
	for i := range events {
		if c, ok := eventComponent(w, &events[i]); ok {
			snap.Components = append(snap.Components, c)
		}
	}

	raw := snap.ComponentSum()
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, resilience.NewComputeError(eris.Errorf("impact score for %s is not finite", key))
	}
	snap.ImpactScore = clamp(raw, a.cfg.ScoreMin, a.cfg.ScoreMax)

	breakdown := map[string]any{
		"raw_score":      raw,
		"clamped":        raw != snap.ImpactScore,
		"component_sums": componentSums(snap),
		"news_unscored":  stats.unscored,
	}
	if prev := in.Previous; prev != nil && !prev.Fallback {
		snap.InnovationVelocity = innovation(snap) - innovation(prev)
		snap.TrendDelta = snap.ImpactScore - prev.ImpactScore
		breakdown["previous_snapshot_id"] = prev.ID
	}
	snap.MetricBreakdown = breakdown

	a.log.Debug("snapshot built",
		zap.String("company_id", key.CompanyID),
		zap.String("period", string(key.Period)),
		zap.Time("period_start", start),
		zap.Int("news_total", snap.NewsTotal),
		zap.Int("components", len(snap.Components)),
		zap.Float64("impact_score", snap.ImpactScore),
	)
	return snap, nil
}

type newsStats struct {
	total, positive, negative, neutral, funding int
	unscored                                    int
	avgSentiment, avgPriority                   float64
}

// newsStats buckets news by sentiment. Records without a sentiment count as
// neutral and are left out of the mean; records without a priority are left
// out of the priority mean. Means are 0 when nothing contributes.
func (a *Aggregator) newsStats(news []model.NewsItem, start, end time.Time) (newsStats, error) {
	var st newsStats
	var sentSum, prioSum float64
	var sentN, prioN int
	band := a.cfg.SentimentNeutralBand

	for i := range news {
		n := &news[i]
		if n.Timestamp.Before(start) || !n.Timestamp.Before(end) {
			return st, resilience.NewComputeError(
				eris.Errorf("news %s at %s is outside the window", n.ID, n.Timestamp.Format(time.RFC3339)))
		}
		st.total++
		if n.IsFunding() {
			st.funding++
		}

		if n.Sentiment == nil {
			st.neutral++
			st.unscored++
		} else {
			s := *n.Sentiment
			if math.IsNaN(s) || s < -1 || s > 1 {
				return st, resilience.NewComputeError(eris.Errorf("news %s sentiment %v out of range", n.ID, s))
			}
			switch {
			case s > band:
				st.positive++
			case s < -band:
				st.negative++
			default:
				st.neutral++
			}
			sentSum += s
			sentN++
		}

		if n.Priority != nil {
			p := *n.Priority
			if math.IsNaN(p) || p < 0 || p > 1 {
				return st, resilience.NewComputeError(eris.Errorf("news %s priority %v out of range", n.ID, p))
			}
			prioSum += p
			prioN++
		}
	}

	if sentN > 0 {
		st.avgSentiment = sentSum / float64(sentN)
	}
	if prioN > 0 {
		st.avgPriority = prioSum / float64(prioN)
	}
	return st, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// innovation is the pricing and feature share of a snapshot's score.
func innovation(s *model.CompanyAnalyticsSnapshot) float64 {
	return s.ComponentSum(model.ComponentPricingChange, model.ComponentFeatureRelease)
}

func componentSums(s *model.CompanyAnalyticsSnapshot) map[string]float64 {
	sums := make(map[string]float64)
	for _, c := range s.Components {
		sums[string(c.ComponentType)] += c.ScoreContribution
	}
	return sums
}
