package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/aggregate"
	"github.com/sells-group/market-signals/internal/comparison"
	"github.com/sells-group/market-signals/internal/config"
	"github.com/sells-group/market-signals/internal/graph"
	"github.com/sells-group/market-signals/internal/ingest"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/recompute"
	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

// engineEnv holds the store and every service built on it, shared by the
// serve and one-shot commands.
type engineEnv struct {
	Store      store.Store
	Durations  model.PeriodDurations
	Ingest     *ingest.Service
	Aggregator *aggregate.Aggregator
	Recompute  *recompute.Orchestrator
	Graph      *graph.Syncer
	Compare    *comparison.Builder
}

// Close releases the store.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "market-signals.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initEngine validates c for mode, opens and migrates the store, and wires
// the services. Callers should defer env.Close().
func initEngine(ctx context.Context, c *config.Config, mode string) (*engineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return newEngine(st, c), nil
}

func newEngine(st store.Store, c *config.Config) *engineEnv {
	durations := c.Analytics.Periods.Durations()
	retry := c.Recompute.Retry()

	syncer := graph.NewSyncer(st, c.Graph, retry)
	agg := aggregate.New(st, c.Analytics)
	orch := recompute.New(st, agg, durations, c.Recompute,
		recompute.WithGraphSync(syncer, c.Graph.Window()),
	)

	return &engineEnv{
		Store:      st,
		Durations:  durations,
		Ingest:     ingest.NewService(st, resilience.DefaultRetryConfig()),
		Aggregator: agg,
		Recompute:  orch,
		Graph:      syncer,
		Compare:    comparison.NewBuilder(st, durations),
	}
}
