package graph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-signals/internal/config"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func testGraphConfig() config.GraphConfig {
	return config.GraphConfig{
		RetentionDays:         30,
		WindowDays:            7,
		CompetesWithThreshold: 0.3,
		DefaultMentionWeight:  0.5,
	}
}

func f64(v float64) *float64 { return &v }

func newsItem(id, company, category string, at time.Time) model.NewsItem {
	return model.NewsItem{ID: id, CompanyID: company, Timestamp: at, Category: category}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b []string
		want float64
	}{
		{nil, []string{"x"}, 0},
		{[]string{"x"}, []string{"x"}, 1},
		{[]string{"x", "y"}, []string{"y", "z"}, 1.0 / 3},
		{[]string{"x", "x", "y"}, []string{"y"}, 0.5},
		{[]string{"a"}, []string{"b"}, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9, "%v vs %v", tt.a, tt.b)
	}
}

func TestDerive_EdgeKinds(t *testing.T) {
	in := &store.GraphInputs{
		News: []model.NewsItem{
			{ID: "n1", CompanyID: "acme", Timestamp: now, Priority: f64(0.9)},
			{ID: "n2", CompanyID: "acme", Timestamp: now},
		},
		Events: []model.ChangeEvent{
			{ID: "e1", CompanyID: "acme", ChangedFields: []string{"price", "features_added"}},
		},
		Snapshots: []model.CompanyAnalyticsSnapshot{
			{ID: "s1", CompanyID: "acme", ImpactScore: 0.7},
		},
		Categories: map[string][]string{
			"acme":    {"crm", "pricing"},
			"globex":  {"crm", "pricing", "ai"},
			"initech": {"hardware"},
		},
	}

	edges := Derive(in, "acme", testGraphConfig(), now)
	byKey := make(map[string]model.KnowledgeGraphEdge)
	for _, e := range edges {
		assert.Equal(t, model.NodeCompany, e.SubjectType)
		assert.Equal(t, now, e.ObservedAt)
		byKey[e.NaturalKey()] = e
	}
	require.Len(t, byKey, 5)

	assert.InDelta(t, 0.9, byKey["company:acme-[MENTIONED_IN]->news:n1"].Weight, 1e-9)
	assert.InDelta(t, 0.5, byKey["company:acme-[MENTIONED_IN]->news:n2"].Weight, 1e-9)
	assert.InDelta(t, 2, byKey["company:acme-[HAD_CHANGE]->change_event:e1"].Weight, 1e-9)
	assert.InDelta(t, 0.7, byKey["company:acme-[HAS_SNAPSHOT]->analytics_snapshot:s1"].Weight, 1e-9)
	assert.InDelta(t, 2.0/3, byKey["company:acme-[COMPETES_WITH]->company:globex"].Weight, 1e-9)
	_, ok := byKey["company:acme-[COMPETES_WITH]->company:initech"]
	assert.False(t, ok)
}

func TestDerive_AllCompaniesIsSymmetricAndDeduped(t *testing.T) {
	in := &store.GraphInputs{
		News: []model.NewsItem{
			{ID: "n1", CompanyID: "acme", Timestamp: now},
			{ID: "n1", CompanyID: "acme", Timestamp: now, Priority: f64(0.2)},
		},
		Categories: map[string][]string{
			"acme":   {"crm"},
			"globex": {"crm"},
		},
	}
	edges := Derive(in, "", testGraphConfig(), now)
	require.Len(t, edges, 3)
	assert.InDelta(t, 0.2, edges[0].Weight, 1e-9, "last duplicate wins")
	assert.Equal(t, "acme", edges[1].SubjectID)
	assert.Equal(t, "globex", edges[1].ObjectID)
	assert.Equal(t, "globex", edges[2].SubjectID)
	assert.Equal(t, "acme", edges[2].ObjectID)
}

func newTestSyncer(t *testing.T) (*Syncer, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	s := NewSyncer(st, testGraphConfig(), resilience.RetryConfig{MaxAttempts: 1})
	s.now = func() time.Time { return now }
	return s, st
}

func TestSync_UpsertsAndPrunes(t *testing.T) {
	s, st := newTestSyncer(t)
	ctx := context.Background()

	_, err := st.UpsertNews(ctx, []model.NewsItem{
		newsItem("n1", "acme", "crm", now.Add(-24*time.Hour)),
		newsItem("n2", "globex", "crm", now.Add(-48*time.Hour)),
		newsItem("old", "acme", "crm", now.Add(-20*24*time.Hour)),
	})
	require.NoError(t, err)

	stale := model.KnowledgeGraphEdge{
		SubjectType: model.NodeCompany, SubjectID: "acme",
		Relationship: model.RelMentionedIn, ObjectType: model.NodeNews, ObjectID: "gone",
		Weight: 1, ObservedAt: now.Add(-60 * 24 * time.Hour),
	}
	otherStale := stale
	otherStale.SubjectID = "globex"
	_, _, err = st.SyncEdges(ctx, []model.KnowledgeGraphEdge{stale, otherStale}, store.PruneScope{Before: time.Time{}})
	require.NoError(t, err)

	res, err := s.Sync(ctx, "acme", Window{})
	require.NoError(t, err)
	assert.Equal(t, now.Add(-7*24*time.Hour), res.Window.From)
	assert.Equal(t, now, res.Window.To)
	assert.Equal(t, 2, res.Upserted, "n1 mention plus COMPETES_WITH globex")
	assert.Equal(t, 1, res.Pruned, "only the scoped company is pruned")

	edges, err := st.ListEdges(ctx, store.EdgeFilter{CompanyID: "acme"})
	require.NoError(t, err)
	require.Len(t, edges, 2)

	// A second pass overwrites in place.
	s.now = func() time.Time { return now.Add(time.Hour) }
	_, err = s.Sync(ctx, "acme", Window{From: now.Add(-7 * 24 * time.Hour), To: now})
	require.NoError(t, err)
	edges, err = st.ListEdges(ctx, store.EdgeFilter{CompanyID: "acme"})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.True(t, e.ObservedAt.Equal(now.Add(time.Hour)))
	}

	globex, err := st.ListEdges(ctx, store.EdgeFilter{CompanyID: "globex"})
	require.NoError(t, err)
	assert.Len(t, globex, 1)
}

func TestSync_AllCompanies(t *testing.T) {
	s, st := newTestSyncer(t)
	ctx := context.Background()

	_, err := st.UpsertNews(ctx, []model.NewsItem{
		newsItem("n1", "acme", "crm", now.Add(-time.Hour)),
		newsItem("n2", "globex", "crm", now.Add(-time.Hour)),
	})
	require.NoError(t, err)

	res, err := s.Sync(ctx, "", Window{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Upserted)

	competes, err := st.ListEdges(ctx, store.EdgeFilter{Relationship: model.RelCompetesWith})
	require.NoError(t, err)
	assert.Len(t, competes, 2)
}

func TestSync_RejectsInvertedWindow(t *testing.T) {
	s, _ := newTestSyncer(t)
	_, err := s.Sync(context.Background(), "acme", Window{From: now, To: now.Add(-time.Hour)})
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))
}
