package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/market-signals/internal/comparison"
	"github.com/sells-group/market-signals/internal/graph"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/pricing"
	"github.com/sells-group/market-signals/internal/recompute"
	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// snapshotRequest names one window. PeriodStart must be aligned to its
// period unless Align is set, in which case it is moved back to the start
// of the window that contains it.
type snapshotRequest struct {
	CompanyID   string       `json:"company_id" validate:"required"`
	Period      model.Period `json:"period" validate:"required,oneof=daily weekly monthly"`
	PeriodStart time.Time    `json:"period_start" validate:"required"`
	Align       bool         `json:"align"`
}

func (s *server) computeSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, resilience.NewValidationError("request", err))
		return
	}
	start := req.PeriodStart
	if req.Align {
		start = s.Durations.AlignStart(req.Period, start)
	}
	key := model.NewSnapshotKey(req.CompanyID, req.Period, start)
	out, err := s.Recompute.ComputeSnapshot(r.Context(), key, recompute.TriggerOnDemand)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func periodParam(r *http.Request) (model.Period, error) {
	p := r.URL.Query().Get("period")
	if p == "" {
		return model.PeriodDaily, nil
	}
	return model.ParsePeriod(p)
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, resilience.NewValidationError(name, err)
	}
	return t.UTC(), nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, resilience.Validationf(name, "must be a non-negative integer, got %q", v)
	}
	return n, nil
}

func (s *server) latestSnapshot(w http.ResponseWriter, r *http.Request) {
	period, err := periodParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.Store.LatestSnapshot(r.Context(), chi.URLParam(r, "companyID"), period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	period, err := periodParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := timeParam(r, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-30 * s.Durations.Of(period))
	}
	if !from.Before(to) {
		s.writeError(w, r, resilience.Validationf("from", "must be before to"))
		return
	}
	snaps, err := s.Store.ListSnapshots(r.Context(), chi.URLParam(r, "companyID"), period, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []model.CompanyAnalyticsSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *server) ingestExtraction(w http.ResponseWriter, r *http.Request) {
	var raw pricing.RawExtraction
	if err := decode(w, r, &raw); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Ingest.IngestExtraction(r.Context(), &raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Snapshot != nil && res.Snapshot.ProcessingStatus == model.ProcessingSkipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

type newsRequest struct {
	Items []model.NewsItem `json:"items"`
}

func (s *server) ingestNews(w http.ResponseWriter, r *http.Request) {
	var req newsRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.Ingest.IngestNews(r.Context(), req.Items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ingested": n})
}

func (s *server) deleteNews(w http.ResponseWriter, r *http.Request) {
	if err := s.Ingest.DeleteNews(r.Context(), chi.URLParam(r, "newsID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type notificationRequest struct {
	Status model.NotificationStatus `json:"status" validate:"required"`
}

func (s *server) updateNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, resilience.NewValidationError("request", err))
		return
	}
	ev, err := s.Ingest.UpdateNotificationStatus(r.Context(), chi.URLParam(r, "eventID"), req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type graphSyncRequest struct {
	CompanyID string    `json:"company_id"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

func (s *server) syncGraph(w http.ResponseWriter, r *http.Request) {
	var req graphSyncRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	res, err := s.Graph.Sync(r.Context(), req.CompanyID, graph.Window{From: req.From, To: req.To})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) listEdges(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	edges, err := s.Store.ListEdges(r.Context(), store.EdgeFilter{
		CompanyID:    r.URL.Query().Get("company_id"),
		Relationship: r.URL.Query().Get("relationship"),
		Limit:        limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if edges == nil {
		edges = []model.KnowledgeGraphEdge{}
	}
	writeJSON(w, http.StatusOK, edges)
}

func (s *server) compare(w http.ResponseWriter, r *http.Request) {
	format, err := comparison.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req comparison.Request
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Compare.Build(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format != comparison.FormatJSON {
		w.Header().Set("Content-Disposition", `attachment; filename="comparison.`+string(format)+`"`)
	}
	w.WriteHeader(http.StatusOK)
	if err := comparison.Write(w, format, p); err != nil {
		s.log.Error("write comparison failed", zap.Error(err))
	}
}

func (s *server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	since, err := timeParam(r, "since")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobs, err := s.Store.ListJobs(r.Context(), store.JobFilter{
		CompanyID: r.URL.Query().Get("company_id"),
		State:     model.JobState(r.URL.Query().Get("state")),
		Since:     since,
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.RecomputeJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *server) monitoring(w http.ResponseWriter, r *http.Request) {
	if s.Monitor == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "monitoring disabled", Class: "not_found"})
		return
	}
	snap := s.Monitor.Last()
	if snap == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
