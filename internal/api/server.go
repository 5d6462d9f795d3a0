// Package api exposes the analytics engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/market-signals/internal/comparison"
	"github.com/sells-group/market-signals/internal/graph"
	"github.com/sells-group/market-signals/internal/ingest"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/monitoring"
	"github.com/sells-group/market-signals/internal/pricing"
	"github.com/sells-group/market-signals/internal/recompute"
	"github.com/sells-group/market-signals/internal/store"
)

// Reader is the slice of the store the read endpoints use.
type Reader interface {
	Ping(ctx context.Context) error
	LatestSnapshot(ctx context.Context, companyID string, period model.Period) (*model.CompanyAnalyticsSnapshot, error)
	ListSnapshots(ctx context.Context, companyID string, period model.Period, from, to time.Time) ([]model.CompanyAnalyticsSnapshot, error)
	ListEdges(ctx context.Context, filter store.EdgeFilter) ([]model.KnowledgeGraphEdge, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.RecomputeJob, error)
}

// Recomputer computes snapshots on demand.
type Recomputer interface {
	ComputeSnapshot(ctx context.Context, key model.SnapshotKey, trigger string) (*recompute.Outcome, error)
}

// Ingester accepts pipeline input.
type Ingester interface {
	IngestExtraction(ctx context.Context, raw *pricing.RawExtraction) (*ingest.ExtractionResult, error)
	IngestNews(ctx context.Context, items []model.NewsItem) (int, error)
	DeleteNews(ctx context.Context, id string) error
	UpdateNotificationStatus(ctx context.Context, eventID string, next model.NotificationStatus) (*model.ChangeEvent, error)
}

// GraphSyncer runs knowledge graph sync passes.
type GraphSyncer interface {
	Sync(ctx context.Context, companyID string, w graph.Window) (*graph.Result, error)
}

// Comparer builds comparison payloads.
type Comparer interface {
	Build(ctx context.Context, req comparison.Request) (*comparison.Payload, error)
}

// HealthReporter exposes the last monitoring snapshot.
type HealthReporter interface {
	Last() *monitoring.MetricsSnapshot
}

// Deps are the collaborators behind the routes. Monitor may be nil.
type Deps struct {
	Store       Reader
	Recompute   Recomputer
	Ingest      Ingester
	Graph       GraphSyncer
	Compare     Comparer
	Monitor     HealthReporter
	Durations   model.PeriodDurations
	CORSOrigins []string
}

type server struct {
	Deps
	log *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Durations == nil {
		d.Durations = model.DefaultPeriodDurations()
	}
	s := &server{Deps: d, log: zap.L().With(zap.String("component", "api.server"))}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/snapshots", s.computeSnapshot)
		r.Get("/companies/{companyID}/snapshots", s.listSnapshots)
		r.Get("/companies/{companyID}/snapshots/latest", s.latestSnapshot)

		r.Post("/extractions", s.ingestExtraction)
		r.Post("/news", s.ingestNews)
		r.Delete("/news/{newsID}", s.deleteNews)
		r.Patch("/change-events/{eventID}/notification", s.updateNotification)

		r.Post("/graph/sync", s.syncGraph)
		r.Get("/graph/edges", s.listEdges)

		r.Post("/comparisons", s.compare)

		r.Get("/jobs", s.listJobs)
		r.Get("/monitoring", s.monitoring)
	})
	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
