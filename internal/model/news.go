package model

import (
	"time"

	"github.com/sells-group/market-signals/internal/resilience"
)

// CategoryFunding is the news category that counts as a funding event.
const CategoryFunding = "funding"

// NewsItem is a pre-enriched news record delivered by the news pipeline.
// Sentiment and Priority are nil when enrichment produced no value.
type NewsItem struct {
	ID        string    `json:"id" validate:"required"`
	CompanyID string    `json:"company_id" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
	Sentiment *float64  `json:"sentiment,omitempty" validate:"omitempty,gte=-1,lte=1"`
	Priority  *float64  `json:"priority,omitempty" validate:"omitempty,gte=0,lte=1"`
	Category  string    `json:"category" validate:"max=128"`
	Title     string    `json:"title,omitempty" validate:"max=1024"`
}

// Validate rejects records the aggregator cannot consume.
func (n *NewsItem) Validate() error {
	if err := validateStruct(n); err != nil {
		return err
	}
	if n.Timestamp.IsZero() {
		return resilience.Validationf("Timestamp", "news %s has no timestamp", n.ID)
	}
	return nil
}

// IsFunding reports whether the record describes a funding event.
func (n *NewsItem) IsFunding() bool {
	return n.Category == CategoryFunding
}
