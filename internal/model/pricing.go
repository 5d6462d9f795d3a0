package model

import "time"

// ProcessingStatus records how the pipeline handled a snapshot or event.
type ProcessingStatus string

const (
	ProcessingSuccess ProcessingStatus = "success"
	ProcessingSkipped ProcessingStatus = "skipped"
	ProcessingError   ProcessingStatus = "error"
)

// NotificationStatus is owned by the delivery collaborator.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationSkipped NotificationStatus = "skipped"
)

// Valid reports whether s is a known notification status.
func (s NotificationStatus) Valid() bool {
	switch s {
	case NotificationPending, NotificationSent, NotificationFailed, NotificationSkipped:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the delivery collaborator may move an event
// from s to next. Sent and skipped are terminal; failed may be retried.
func (s NotificationStatus) CanTransition(next NotificationStatus) bool {
	switch s {
	case NotificationPending, NotificationFailed:
		return next == NotificationSent || next == NotificationFailed || next == NotificationSkipped
	default:
		return false
	}
}

// PlanRecord is one canonical plan on a pricing page.
type PlanRecord struct {
	Name            string   `json:"name"`
	Price           float64  `json:"price"`
	BillingInterval string   `json:"billing_interval"`
	Features        []string `json:"features"`
}

// NormalizedExtraction is the canonical, hashable form of a pricing page at
// one point in time. Plans are sorted and features are sorted sets.
type NormalizedExtraction struct {
	Plans       []PlanRecord `json:"plans"`
	ContentHash string       `json:"content_hash"`
	ExtractedAt time.Time    `json:"extracted_at"`
}

// PricingSnapshot is an immutable capture of one (company, source_url) page.
type PricingSnapshot struct {
	ID               string                `json:"id"`
	CompanyID        string                `json:"company_id"`
	SourceURL        string                `json:"source_url"`
	SourceType       string                `json:"source_type"`
	ContentHash      string                `json:"content_hash"`
	ExtractedAt      time.Time             `json:"extracted_at"`
	ProcessingStatus ProcessingStatus      `json:"processing_status"`
	Error            string                `json:"error,omitempty"`
	Extraction       *NormalizedExtraction `json:"extraction,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

// PriceChange is an old/new price pair.
type PriceChange struct {
	Old float64 `json:"old"`
	New float64 `json:"new"`
}

// RelativeDelta returns |new-old| relative to the old price. A change from a
// free plan counts as a full-magnitude change.
func (p PriceChange) RelativeDelta() float64 {
	delta := p.New - p.Old
	if delta < 0 {
		delta = -delta
	}
	if p.Old == 0 {
		if delta == 0 {
			return 0
		}
		return 1
	}
	return delta / p.Old
}

// IntervalChange is an old/new billing interval pair.
type IntervalChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// PlanChange lists the field-level differences of a plan present on both sides.
type PlanChange struct {
	Plan            string          `json:"plan"`
	PriceChanged    *PriceChange    `json:"price_changed,omitempty"`
	IntervalChanged *IntervalChange `json:"interval_changed,omitempty"`
	FeaturesAdded   []string        `json:"features_added,omitempty"`
	FeaturesRemoved []string        `json:"features_removed,omitempty"`
}

// DiffKind separates "nothing to compare" from "compared, no change".
type DiffKind string

const (
	DiffBaseline  DiffKind = "baseline"
	DiffUnchanged DiffKind = "unchanged"
	DiffChanged   DiffKind = "changed"
)

// ExtractionDiff is the structured diff between two consecutive extractions.
type ExtractionDiff struct {
	Kind         DiffKind     `json:"kind"`
	AddedPlans   []string     `json:"added_plans,omitempty"`
	RemovedPlans []string     `json:"removed_plans,omitempty"`
	Changed      []PlanChange `json:"changed,omitempty"`
}

// Changed field names in the order they are reported.
const (
	FieldPlansAdded      = "plans_added"
	FieldPlansRemoved    = "plans_removed"
	FieldPrice           = "price"
	FieldBillingInterval = "billing_interval"
	FieldFeaturesAdded   = "features_added"
	FieldFeaturesRemoved = "features_removed"
)

// HasPriceChange reports whether any matched plan changed price.
func (d *ExtractionDiff) HasPriceChange() bool {
	for _, c := range d.Changed {
		if c.PriceChanged != nil {
			return true
		}
	}
	return false
}

// HasFeatureChange reports whether any matched plan gained or lost features.
func (d *ExtractionDiff) HasFeatureChange() bool {
	for _, c := range d.Changed {
		if len(c.FeaturesAdded) > 0 || len(c.FeaturesRemoved) > 0 {
			return true
		}
	}
	return false
}

// ChangeEvent is a detected, non-empty difference between two consecutive
// PricingSnapshots of the same (company_id, source_url).
type ChangeEvent struct {
	ID                 string             `json:"id"`
	CompanyID          string             `json:"company_id"`
	SourceURL          string             `json:"source_url"`
	SourceType         string             `json:"source_type"`
	DetectedAt         time.Time          `json:"detected_at"`
	ChangedFields      []string           `json:"changed_fields"`
	RawDiff            ExtractionDiff     `json:"raw_diff"`
	ChangeSummary      string             `json:"change_summary"`
	CurrentSnapshotID  string             `json:"current_snapshot_id"`
	PreviousSnapshotID *string            `json:"previous_snapshot_id"`
	ProcessingStatus   ProcessingStatus   `json:"processing_status"`
	NotificationStatus NotificationStatus `json:"notification_status"`
}

// HasPriceChange reports whether the event counts toward pricing_changes.
func (e *ChangeEvent) HasPriceChange() bool {
	return e.RawDiff.HasPriceChange()
}

// HasFeatureChange reports whether the event counts toward feature_updates.
func (e *ChangeEvent) HasFeatureChange() bool {
	return e.RawDiff.HasFeatureChange()
}

// IsEmpty reports whether the diff carries no differences.
func (d *ExtractionDiff) IsEmpty() bool {
	return len(d.AddedPlans) == 0 && len(d.RemovedPlans) == 0 && len(d.Changed) == 0
}

// ChangedFields lists the kinds of difference present, in reporting order.
func (d *ExtractionDiff) ChangedFields() []string {
	var price, interval, added, removed bool
	for _, c := range d.Changed {
		price = price || c.PriceChanged != nil
		interval = interval || c.IntervalChanged != nil
		added = added || len(c.FeaturesAdded) > 0
		removed = removed || len(c.FeaturesRemoved) > 0
	}

	fields := make([]string, 0, 6)
	if len(d.AddedPlans) > 0 {
		fields = append(fields, FieldPlansAdded)
	}
	if len(d.RemovedPlans) > 0 {
		fields = append(fields, FieldPlansRemoved)
	}
	if price {
		fields = append(fields, FieldPrice)
	}
	if interval {
		fields = append(fields, FieldBillingInterval)
	}
	if added {
		fields = append(fields, FieldFeaturesAdded)
	}
	if removed {
		fields = append(fields, FieldFeaturesRemoved)
	}
	return fields
}
