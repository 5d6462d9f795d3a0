// Package pricing canonicalises pricing-page extractions, hashes them, and
// diffs consecutive extractions of the same page.
package pricing

import (
	"time"
)

// RawPlan is one plan as delivered by the extraction collaborator.
type RawPlan struct {
	Name            string   `json:"name" validate:"required"`
	Price           *float64 `json:"price" validate:"required,gte=0"`
	BillingInterval string   `json:"billing_interval"`
	Features        []string `json:"features"`
}

// RawExtraction is a parsed pricing page before normalisation.
type RawExtraction struct {
	CompanyID   string    `json:"company_id" validate:"required"`
	SourceURL   string    `json:"source_url" validate:"required,url"`
	SourceType  string    `json:"source_type"`
	Plans       []RawPlan `json:"plans" validate:"required,min=1,dive"`
	ExtractedAt time.Time `json:"extracted_at"`
}
