// Package graph derives knowledge graph edges from committed news, change
// events and analytics snapshots.
package graph

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-signals/internal/config"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

// Store is the slice of the store a sync pass uses.
type Store interface {
	GraphInputs(ctx context.Context, companyID string, from, to time.Time) (*store.GraphInputs, error)
	SyncEdges(ctx context.Context, edges []model.KnowledgeGraphEdge, prune store.PruneScope) (upserted, pruned int, err error)
}

// Window is the half-open source window [From, To) a pass derives from.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Result summarises one sync pass.
type Result struct {
	CompanyID string        `json:"company_id,omitempty"`
	Window    Window        `json:"window"`
	Upserted  int           `json:"upserted"`
	Pruned    int           `json:"pruned"`
	Duration  time.Duration `json:"duration"`
}

// Syncer runs sync passes.
type Syncer struct {
	store Store
	cfg   config.GraphConfig
	retry resilience.RetryConfig
	now   func() time.Time
	log   *zap.Logger
}

// NewSyncer creates a Syncer. Store calls that fail transiently are retried
// with retry.
func NewSyncer(st Store, cfg config.GraphConfig, retry resilience.RetryConfig) *Syncer {
	retry.OnRetry = resilience.RetryLogger("graph", "sync")
	return &Syncer{
		store: st,
		cfg:   cfg,
		retry: retry,
		now:   func() time.Time { return time.Now().UTC() },
		log:   zap.L().With(zap.String("component", "graph.syncer")),
	}
}

// DefaultWindow returns the configured window ending now.
func (s *Syncer) DefaultWindow() Window {
	now := s.now()
	return Window{From: now.Add(-s.cfg.Window()), To: now}
}

// Sync derives the edges for companyID (all companies when empty) from the
// records in w, upserts them, and prunes edges whose observed_at fell out
// of the retention window. A zero window uses DefaultWindow.
func (s *Syncer) Sync(ctx context.Context, companyID string, w Window) (*Result, error) {
	if w.From.IsZero() && w.To.IsZero() {
		w = s.DefaultWindow()
	}
	w = Window{From: w.From.UTC(), To: w.To.UTC()}
	if !w.From.Before(w.To) {
		return nil, resilience.Validationf("window", "from %s is not before to %s",
			w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}

	start := time.Now()
	observed := s.now()

	in, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*store.GraphInputs, error) {
		return s.store.GraphInputs(ctx, companyID, w.From, w.To)
	})
	if err != nil {
		return nil, eris.Wrap(err, "graph: read inputs")
	}

	edges := Derive(in, companyID, s.cfg, observed)
	prune := store.PruneScope{CompanyID: companyID, Before: observed.Add(-s.cfg.Retention())}

	res := &Result{CompanyID: companyID, Window: w}
	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		res.Upserted, res.Pruned, err = s.store.SyncEdges(ctx, edges, prune)
		return err
	})
	if err != nil {
		syncsTotal.WithLabelValues(statusFailed).Inc()
		return nil, eris.Wrap(err, "graph: sync edges")
	}
	res.Duration = time.Since(start)

	syncsTotal.WithLabelValues(statusSucceeded).Inc()
	edgesUpserted.Add(float64(res.Upserted))
	edgesPruned.Add(float64(res.Pruned))
	syncDuration.Observe(res.Duration.Seconds())

	s.log.Info("graph synced",
		zap.String("company_id", companyID),
		zap.Time("from", w.From),
		zap.Time("to", w.To),
		zap.Int("upserted", res.Upserted),
		zap.Int("pruned", res.Pruned),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// Derive builds the deduplicated edge set for one pass. Every edge has a
// company subject and carries observedAt.
func Derive(in *store.GraphInputs, companyID string, cfg config.GraphConfig, observedAt time.Time) []model.KnowledgeGraphEdge {
	b := newBuilder(observedAt)

	for i := range in.News {
		n := &in.News[i]
		weight := cfg.DefaultMentionWeight
		if n.Priority != nil {
			weight = *n.Priority
		}
		b.add(n.CompanyID, model.RelMentionedIn, model.NodeNews, n.ID, weight)
	}
	for i := range in.Events {
		ev := &in.Events[i]
		b.add(ev.CompanyID, model.RelHadChange, model.NodeChangeEvent, ev.ID, float64(len(ev.ChangedFields)))
	}
	for i := range in.Snapshots {
		snap := &in.Snapshots[i]
		b.add(snap.CompanyID, model.RelHasSnapshot, model.NodeAnalyticsSnapshot, snap.ID, snap.ImpactScore)
	}

	subjects := make([]string, 0, len(in.Categories))
	if companyID != "" {
		subjects = append(subjects, companyID)
	} else {
		for c := range in.Categories {
			subjects = append(subjects, c)
		}
		sort.Strings(subjects)
	}
	others := make([]string, 0, len(in.Categories))
	for c := range in.Categories {
		others = append(others, c)
	}
	sort.Strings(others)

	for _, subj := range subjects {
		for _, other := range others {
			if other == subj {
				continue
			}
			sim := Jaccard(in.Categories[subj], in.Categories[other])
			if sim > 0 && sim >= cfg.CompetesWithThreshold {
				b.add(subj, model.RelCompetesWith, model.NodeCompany, other, sim)
			}
		}
	}
	return b.edges
}

// Jaccard returns |a ∩ b| / |a ∪ b| over the distinct values of a and b.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]uint8, len(a)+len(b))
	for _, v := range a {
		set[v] |= 1
	}
	for _, v := range b {
		set[v] |= 2
	}
	var inter int
	for _, bits := range set {
		if bits == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

// builder collects edges keeping the last weight per natural key.
type builder struct {
	observedAt time.Time
	index      map[string]int
	edges      []model.KnowledgeGraphEdge
}

func newBuilder(observedAt time.Time) *builder {
	return &builder{observedAt: observedAt, index: make(map[string]int)}
}

func (b *builder) add(companyID, rel, objectType, objectID string, weight float64) {
	e := model.KnowledgeGraphEdge{
		SubjectType:  model.NodeCompany,
		SubjectID:    companyID,
		Relationship: rel,
		ObjectType:   objectType,
		ObjectID:     objectID,
		Weight:       weight,
		ObservedAt:   b.observedAt,
	}
	k := e.NaturalKey()
	if i, ok := b.index[k]; ok {
		b.edges[i] = e
		return
	}
	b.index[k] = len(b.edges)
	b.edges = append(b.edges, e)
}
