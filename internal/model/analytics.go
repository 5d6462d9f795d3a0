package model

import "time"

// ComponentType classifies an ImpactComponent.
type ComponentType string

const (
	ComponentNewsSignal     ComponentType = "news_signal"
	ComponentPricingChange  ComponentType = "pricing_change"
	ComponentFeatureRelease ComponentType = "feature_release"
	ComponentFundingEvent   ComponentType = "funding_event"
	ComponentOther          ComponentType = "other"
)

// Source kinds a component can point at.
const (
	SourceNews        = "news"
	SourceChangeEvent = "change_event"
)

// SourceRef is a weak reference to the record behind a component. It is a
// lookup key only; the referenced record may disappear.
type SourceRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// ImpactComponent is one scored contribution to a snapshot.
type ImpactComponent struct {
	ID                string        `json:"id"`
	SnapshotID        string        `json:"snapshot_id"`
	ComponentType     ComponentType `json:"component_type"`
	ScoreContribution float64       `json:"score_contribution"`
	SourceRef         SourceRef     `json:"source_ref"`
	CreatedAt         time.Time     `json:"created_at"`
}

// CompanyAnalyticsSnapshot is the periodic rollup for one company. It is
// unique on (company_id, period, period_start).
type CompanyAnalyticsSnapshot struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	Period      Period    `json:"period"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	NewsTotal            int     `json:"news_total"`
	NewsPositive         int     `json:"news_positive"`
	NewsNegative         int     `json:"news_negative"`
	NewsNeutral          int     `json:"news_neutral"`
	NewsAverageSentiment float64 `json:"news_average_sentiment"`
	NewsAveragePriority  float64 `json:"news_average_priority"`

	PricingChanges int `json:"pricing_changes"`
	FeatureUpdates int `json:"feature_updates"`
	FundingEvents  int `json:"funding_events"`

	ImpactScore        float64 `json:"impact_score"`
	InnovationVelocity float64 `json:"innovation_velocity"`
	TrendDelta         float64 `json:"trend_delta"`

	MetricBreakdown map[string]any `json:"metric_breakdown,omitempty"`

	// Fallback marks the zero-valued snapshot written after a failed
	// recompute. Only the recompute path may replace it.
	Fallback bool `json:"fallback"`

	Components []ImpactComponent `json:"components,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Key returns the snapshot's natural key.
func (s *CompanyAnalyticsSnapshot) Key() SnapshotKey {
	return NewSnapshotKey(s.CompanyID, s.Period, s.PeriodStart)
}

// NewFallbackSnapshot builds the "computed, but empty" snapshot for key.
func NewFallbackSnapshot(key SnapshotKey, periodEnd time.Time, reason string) *CompanyAnalyticsSnapshot {
	return &CompanyAnalyticsSnapshot{
		CompanyID:   key.CompanyID,
		Period:      key.Period,
		PeriodStart: key.PeriodStart.UTC(),
		PeriodEnd:   periodEnd.UTC(),
		MetricBreakdown: map[string]any{
			"fallback_reason": reason,
		},
		Fallback: true,
	}
}

// ComponentSum totals the contributions of the given types. With no types it
// totals every component.
func (s *CompanyAnalyticsSnapshot) ComponentSum(types ...ComponentType) float64 {
	var sum float64
	for _, c := range s.Components {
		if len(types) == 0 {
			sum += c.ScoreContribution
			continue
		}
		for _, t := range types {
			if c.ComponentType == t {
				sum += c.ScoreContribution
				break
			}
		}
	}
	return sum
}
