// Package comparison assembles multi-company payloads from persisted
// snapshots, change events and graph edges. It never computes anything.
package comparison

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

// SourceUnavailable is the label of a component whose source record no
// longer exists.
const SourceUnavailable = "source unavailable"

// Subject statuses.
const (
	StatusOK     = "ok"
	StatusNoData = "no_data"
)

// maxSubjects bounds one request.
const maxSubjects = 50

// Reader is the slice of the store the builder reads from.
type Reader interface {
	GetSnapshot(ctx context.Context, key model.SnapshotKey) (*model.CompanyAnalyticsSnapshot, error)
	ListSnapshots(ctx context.Context, companyID string, period model.Period, from, to time.Time) ([]model.CompanyAnalyticsSnapshot, error)
	ListChangeEvents(ctx context.Context, companyID string, from, to time.Time) ([]model.ChangeEvent, error)
	ListEdges(ctx context.Context, filter store.EdgeFilter) ([]model.KnowledgeGraphEdge, error)
	GetNewsByIDs(ctx context.Context, ids []string) (map[string]model.NewsItem, error)
	GetChangeEventsByIDs(ctx context.Context, ids []string) (map[string]model.ChangeEvent, error)
}

// Request selects what a comparison contains.
type Request struct {
	Subjects []string     `json:"subjects" validate:"required,min=1,dive,required"`
	Period   model.Period `json:"period" validate:"required"`
	// Lookback is the number of windows covered, ending with the window
	// that contains AsOf. Zero means one.
	Lookback int `json:"lookback" validate:"gte=0,lte=366"`
	// AsOf defaults to now.
	AsOf time.Time `json:"as_of,omitempty"`

	IncludeSeries  bool `json:"include_series"`
	IncludeChanges bool `json:"include_changes"`
	IncludeGraph   bool `json:"include_graph"`
	// ChangeLimit caps the change-log slice per subject, newest first.
	// Zero means no cap.
	ChangeLimit int `json:"change_limit,omitempty" validate:"gte=0"`
}

// ResolvedComponent is an impact component with its source looked up.
type ResolvedComponent struct {
	model.ImpactComponent
	Source string `json:"source"`
}

// SeriesPoint is one snapshot in a subject's time series.
type SeriesPoint struct {
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	ImpactScore        float64   `json:"impact_score"`
	InnovationVelocity float64   `json:"innovation_velocity"`
	TrendDelta         float64   `json:"trend_delta"`
	NewsTotal          int       `json:"news_total"`
	PricingChanges     int       `json:"pricing_changes"`
	FeatureUpdates     int       `json:"feature_updates"`
	Fallback           bool      `json:"fallback"`
}

// SubjectBlock is one subject's section. It is present for every requested
// subject; Empty marks a subject with no snapshot in range.
type SubjectBlock struct {
	CompanyID  string                          `json:"company_id"`
	Status     string                          `json:"status"`
	Empty      bool                            `json:"empty"`
	Latest     *model.CompanyAnalyticsSnapshot `json:"latest,omitempty"`
	Components []ResolvedComponent             `json:"components,omitempty"`
	Series     []SeriesPoint                   `json:"series,omitempty"`
	Changes    []model.ChangeEvent             `json:"changes,omitempty"`
	Edges      []model.KnowledgeGraphEdge      `json:"edges,omitempty"`
}

// Payload is the assembled comparison.
type Payload struct {
	Period      model.Period   `json:"period"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	GeneratedAt time.Time      `json:"generated_at"`
	Subjects    []SubjectBlock `json:"subjects"`
}

// Builder assembles comparisons.
type Builder struct {
	reader    Reader
	durations model.PeriodDurations
	now       func() time.Time
	log       *zap.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(r Reader, durations model.PeriodDurations) *Builder {
	return &Builder{
		reader:    r,
		durations: durations,
		now:       func() time.Time { return time.Now().UTC() },
		log:       zap.L().With(zap.String("component", "comparison.builder")),
	}
}

// Window returns the [from, to) range req covers.
func (b *Builder) Window(req Request) (time.Time, time.Time) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = b.now()
	}
	lookback := req.Lookback
	if lookback <= 0 {
		lookback = 1
	}
	width := b.durations.Of(req.Period)
	to := b.durations.AlignStart(req.Period, asOf).Add(width)
	from := to.Add(-time.Duration(lookback) * width)
	return from, to
}

// Build assembles the payload. Subjects keep request order; duplicates are
// collapsed.
func (b *Builder) Build(ctx context.Context, req Request) (*Payload, error) {
	if err := validate.Struct(req); err != nil {
		return nil, resilience.NewValidationError("request", err)
	}
	if !req.Period.Valid() {
		return nil, resilience.Validationf("period", "unknown period %q", req.Period)
	}

	subjects := make([]string, 0, len(req.Subjects))
	seen := make(map[string]bool, len(req.Subjects))
	for _, s := range req.Subjects {
		if !seen[s] {
			seen[s] = true
			subjects = append(subjects, s)
		}
	}
	if len(subjects) > maxSubjects {
		return nil, resilience.Validationf("subjects", "at most %d subjects, got %d", maxSubjects, len(subjects))
	}

	from, to := b.Window(req)
	p := &Payload{
		Period:      req.Period,
		From:        from,
		To:          to,
		GeneratedAt: b.now(),
		Subjects:    make([]SubjectBlock, len(subjects)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range subjects {
		g.Go(func() error {
			block, err := b.subject(gctx, id, req, from, to)
			if err != nil {
				return eris.Wrapf(err, "comparison: subject %s", id)
			}
			p.Subjects[i] = *block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b.log.Debug("comparison built",
		zap.Int("subjects", len(subjects)),
		zap.String("period", string(req.Period)),
		zap.Time("from", from),
		zap.Time("to", to),
	)
	return p, nil
}

func (b *Builder) subject(ctx context.Context, companyID string, req Request, from, to time.Time) (*SubjectBlock, error) {
	block := &SubjectBlock{CompanyID: companyID, Status: StatusOK}

	snaps, err := b.reader.ListSnapshots(ctx, companyID, req.Period, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "list snapshots")
	}
	if len(snaps) == 0 {
		block.Status = StatusNoData
		block.Empty = true
	} else {
		latest, err := b.reader.GetSnapshot(ctx, snaps[len(snaps)-1].Key())
		if err != nil {
			return nil, eris.Wrap(err, "get latest snapshot")
		}
		block.Latest = latest
		if block.Components, err = b.resolve(ctx, latest.Components); err != nil {
			return nil, err
		}
		if req.IncludeSeries {
			block.Series = make([]SeriesPoint, 0, len(snaps))
			for _, s := range snaps {
				block.Series = append(block.Series, SeriesPoint{
					PeriodStart:        s.PeriodStart,
					PeriodEnd:          s.PeriodEnd,
					ImpactScore:        s.ImpactScore,
					InnovationVelocity: s.InnovationVelocity,
					TrendDelta:         s.TrendDelta,
					NewsTotal:          s.NewsTotal,
					PricingChanges:     s.PricingChanges,
					FeatureUpdates:     s.FeatureUpdates,
					Fallback:           s.Fallback,
				})
			}
		}
	}

	if req.IncludeChanges {
		events, err := b.reader.ListChangeEvents(ctx, companyID, from, to)
		if err != nil {
			return nil, eris.Wrap(err, "list change events")
		}
		// Newest first.
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
		if req.ChangeLimit > 0 && len(events) > req.ChangeLimit {
			events = events[:req.ChangeLimit]
		}
		block.Changes = events
	}

	if req.IncludeGraph {
		edges, err := b.reader.ListEdges(ctx, store.EdgeFilter{CompanyID: companyID})
		if err != nil {
			return nil, eris.Wrap(err, "list edges")
		}
		block.Edges = edges
	}
	return block, nil
}

// resolve looks up each component's source. References to records that no
// longer exist resolve to SourceUnavailable.
func (b *Builder) resolve(ctx context.Context, comps []model.ImpactComponent) ([]ResolvedComponent, error) {
	if len(comps) == 0 {
		return nil, nil
	}
	var newsIDs, eventIDs []string
	for _, c := range comps {
		switch c.SourceRef.Kind {
		case model.SourceNews:
			newsIDs = append(newsIDs, c.SourceRef.ID)
		case model.SourceChangeEvent:
			eventIDs = append(eventIDs, c.SourceRef.ID)
		}
	}

	news := map[string]model.NewsItem{}
	if len(newsIDs) > 0 {
		var err error
		if news, err = b.reader.GetNewsByIDs(ctx, newsIDs); err != nil {
			return nil, eris.Wrap(err, "resolve news sources")
		}
	}
	events := map[string]model.ChangeEvent{}
	if len(eventIDs) > 0 {
		var err error
		if events, err = b.reader.GetChangeEventsByIDs(ctx, eventIDs); err != nil {
			return nil, eris.Wrap(err, "resolve change event sources")
		}
	}

	out := make([]ResolvedComponent, 0, len(comps))
	for _, c := range comps {
		rc := ResolvedComponent{ImpactComponent: c, Source: SourceUnavailable}
		switch c.SourceRef.Kind {
		case model.SourceNews:
			if n, ok := news[c.SourceRef.ID]; ok {
				rc.Source = newsLabel(n)
			}
		case model.SourceChangeEvent:
			if ev, ok := events[c.SourceRef.ID]; ok {
				rc.Source = ev.ChangeSummary
				if rc.Source == "" {
					rc.Source = ev.SourceURL
				}
			}
		}
		out = append(out, rc)
	}
	return out, nil
}

func newsLabel(n model.NewsItem) string {
	if n.Title != "" {
		return n.Title
	}
	return "news " + n.ID
}
