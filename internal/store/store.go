// Package store persists companies, news, pricing snapshots, change events,
// analytics snapshots, graph edges and the recompute job log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/market-signals/internal/model"
)

// ErrNotFound is returned by single-row reads when no row matches.
var ErrNotFound = errors.New("store: not found")

// PruneScope selects the graph edges removed at the end of a sync pass.
type PruneScope struct {
	// CompanyID limits pruning to edges whose subject is this company.
	// Empty prunes across all companies.
	CompanyID string
	// Before is the retention cutoff: edges observed earlier are removed.
	Before time.Time
}

// EdgeFilter specifies criteria for listing graph edges.
type EdgeFilter struct {
	CompanyID    string `json:"company_id,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// JobFilter specifies criteria for listing recompute jobs.
type JobFilter struct {
	CompanyID string         `json:"company_id,omitempty"`
	State     model.JobState `json:"state,omitempty"`
	Since     time.Time      `json:"since,omitempty"`
	Limit     int            `json:"limit,omitempty"`
}

// GraphInputs is the consistent read a graph sync pass works from.
type GraphInputs struct {
	News      []model.NewsItem
	Events    []model.ChangeEvent
	Snapshots []model.CompanyAnalyticsSnapshot
	// Categories holds the distinct news categories of every company with
	// news in the window, regardless of any company scope.
	Categories map[string][]string
}

// Store defines the persistence interface for the analytics engine.
type Store interface {
	// Companies
	UpsertCompany(ctx context.Context, c model.Company) error
	EnsureCompany(ctx context.Context, companyID string) error
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	ListCompanies(ctx context.Context, trackedOnly bool) ([]model.Company, error)

	// News
	UpsertNews(ctx context.Context, items []model.NewsItem) (int, error)
	ListNews(ctx context.Context, companyID string, from, to time.Time) ([]model.NewsItem, error)
	GetNewsByIDs(ctx context.Context, ids []string) (map[string]model.NewsItem, error)
	DeleteNews(ctx context.Context, id string) error

	// Pricing snapshots and change events
	LatestPricingSnapshot(ctx context.Context, companyID, sourceURL string) (*model.PricingSnapshot, error)
	ListPricingSnapshots(ctx context.Context, companyID, sourceURL string, limit int) ([]model.PricingSnapshot, error)
	SavePricingResult(ctx context.Context, snap *model.PricingSnapshot, event *model.ChangeEvent) error
	// AppendPricingResult is SavePricingResult guarded by a recheck: it
	// writes only if the page's latest usable snapshot is still baselineID
	// ("" for none), and returns a ConflictError wrapping ErrBaselineMoved
	// otherwise.
	AppendPricingResult(ctx context.Context, baselineID string, snap *model.PricingSnapshot, event *model.ChangeEvent) error
	GetChangeEvent(ctx context.Context, id string) (*model.ChangeEvent, error)
	GetChangeEventsByIDs(ctx context.Context, ids []string) (map[string]model.ChangeEvent, error)
	ListChangeEvents(ctx context.Context, companyID string, from, to time.Time) ([]model.ChangeEvent, error)
	SetNotificationStatus(ctx context.Context, id string, from, to model.NotificationStatus) error

	// Analytics snapshots
	InsertSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot) error
	ReplaceFallbackSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot) error
	GetSnapshot(ctx context.Context, key model.SnapshotKey) (*model.CompanyAnalyticsSnapshot, error)
	LatestSnapshot(ctx context.Context, companyID string, period model.Period) (*model.CompanyAnalyticsSnapshot, error)
	PreviousSnapshot(ctx context.Context, companyID string, period model.Period, before time.Time) (*model.CompanyAnalyticsSnapshot, error)
	ListSnapshots(ctx context.Context, companyID string, period model.Period, from, to time.Time) ([]model.CompanyAnalyticsSnapshot, error)

	// Knowledge graph
	GraphInputs(ctx context.Context, companyID string, from, to time.Time) (*GraphInputs, error)
	SyncEdges(ctx context.Context, edges []model.KnowledgeGraphEdge, prune PruneScope) (upserted, pruned int, err error)
	ListEdges(ctx context.Context, filter EdgeFilter) ([]model.KnowledgeGraphEdge, error)

	// Recompute job log
	StartJob(ctx context.Context, job *model.RecomputeJob) error
	FinishJob(ctx context.Context, job *model.RecomputeJob) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.RecomputeJob, error)
	CountJobs(ctx context.Context, since time.Time) (map[model.JobState]int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
