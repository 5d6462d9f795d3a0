package model

import (
	"fmt"
	"time"

	"github.com/sells-group/market-signals/internal/resilience"
)

// Period is the width of an analytics aggregation window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Periods lists the supported periods from narrowest to widest.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// Valid reports whether p is a supported period.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	default:
		return false
	}
}

// ParsePeriod converts a string into a Period.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if !p.Valid() {
		return "", resilience.Validationf("period", "unknown period %q", s)
	}
	return p, nil
}

// PeriodDurations maps each period to its fixed window width. Windows are
// calendar-naive: a monthly window is always the same number of days.
type PeriodDurations map[Period]time.Duration

// DefaultPeriodDurations returns daily=1d, weekly=7d, monthly=30d.
func DefaultPeriodDurations() PeriodDurations {
	return PeriodDurations{
		PeriodDaily:   24 * time.Hour,
		PeriodWeekly:  7 * 24 * time.Hour,
		PeriodMonthly: 30 * 24 * time.Hour,
	}
}

// Of returns the configured width for p, falling back to the default width.
func (d PeriodDurations) Of(p Period) time.Duration {
	if v, ok := d[p]; ok && v > 0 {
		return v
	}
	return DefaultPeriodDurations()[p]
}

// End returns the exclusive end of the window starting at start.
func (d PeriodDurations) End(p Period, start time.Time) time.Time {
	return start.Add(d.Of(p))
}

// AlignStart returns the start of the window of period p that contains t.
// Windows are aligned to the zero time, which is a Monday at 00:00 UTC, so
// daily windows start at midnight and weekly windows start on Monday.
func (d PeriodDurations) AlignStart(p Period, t time.Time) time.Time {
	return t.UTC().Truncate(d.Of(p))
}

// LatestClosedStart returns the start of the most recent window of period p
// that ended at or before now.
func (d PeriodDurations) LatestClosedStart(p Period, now time.Time) time.Time {
	return d.AlignStart(p, now).Add(-d.Of(p))
}

// SnapshotKey is the natural key of a CompanyAnalyticsSnapshot and the
// idempotency key of a recompute job.
type SnapshotKey struct {
	CompanyID   string    `json:"company_id"`
	Period      Period    `json:"period"`
	PeriodStart time.Time `json:"period_start"`
}

// NewSnapshotKey builds a key with the start normalised to UTC.
func NewSnapshotKey(companyID string, period Period, start time.Time) SnapshotKey {
	return SnapshotKey{CompanyID: companyID, Period: period, PeriodStart: start.UTC()}
}

// String renders the key in a stable form suitable for lock names and logs.
func (k SnapshotKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.CompanyID, k.Period, k.PeriodStart.UTC().Format(time.RFC3339Nano))
}

// Validate checks the key fields without touching storage.
func (k SnapshotKey) Validate() error {
	if k.CompanyID == "" {
		return resilience.Validationf("company_id", "required")
	}
	if !k.Period.Valid() {
		return resilience.Validationf("period", "unknown period %q", k.Period)
	}
	if k.PeriodStart.IsZero() {
		return resilience.Validationf("period_start", "required")
	}
	return nil
}
