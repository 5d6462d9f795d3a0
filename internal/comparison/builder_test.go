package comparison

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "comparison.db"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.UpsertNews(ctx, []model.NewsItem{
		{ID: "n1", CompanyID: "acme", Timestamp: day.Add(time.Hour), Title: "Acme raises prices"},
		{ID: "n2", CompanyID: "acme", Timestamp: day.Add(2 * time.Hour)},
	})
	require.NoError(t, err)

	snap := &model.PricingSnapshot{
		CompanyID: "acme", SourceURL: "https://acme.test/pricing", ContentHash: "h2",
		ExtractedAt: day.Add(3 * time.Hour), ProcessingStatus: model.ProcessingSuccess,
	}
	ev := &model.ChangeEvent{
		ID: "e1", CompanyID: "acme", SourceURL: "https://acme.test/pricing",
		DetectedAt: day.Add(3 * time.Hour), ChangedFields: []string{model.FieldPrice},
		ChangeSummary: "pro: price 10.00 -> 12.00.", ProcessingStatus: model.ProcessingSuccess,
		NotificationStatus: model.NotificationPending,
	}
	require.NoError(t, st.SavePricingResult(ctx, snap, ev))

	for i, score := range []float64{0.2, 0.5} {
		start := day.Add(time.Duration(i-1) * 24 * time.Hour)
		require.NoError(t, st.InsertSnapshot(ctx, &model.CompanyAnalyticsSnapshot{
			CompanyID: "acme", Period: model.PeriodDaily,
			PeriodStart: start, PeriodEnd: start.Add(24 * time.Hour),
			NewsTotal: 2, PricingChanges: 1, ImpactScore: score,
			Components: []model.ImpactComponent{
				{ComponentType: model.ComponentNewsSignal, ScoreContribution: 0.1, SourceRef: model.SourceRef{Kind: model.SourceNews, ID: "n1"}},
				{ComponentType: model.ComponentNewsSignal, ScoreContribution: 0.1, SourceRef: model.SourceRef{Kind: model.SourceNews, ID: "n2"}},
				{ComponentType: model.ComponentPricingChange, ScoreContribution: score - 0.2, SourceRef: model.SourceRef{Kind: model.SourceChangeEvent, ID: "e1"}},
			},
		}))
	}
	require.NoError(t, st.DeleteNews(ctx, "n2"))

	_, _, err = st.SyncEdges(ctx, []model.KnowledgeGraphEdge{{
		SubjectType: model.NodeCompany, SubjectID: "acme", Relationship: model.RelCompetesWith,
		ObjectType: model.NodeCompany, ObjectID: "globex", Weight: 0.5, ObservedAt: day,
	}}, store.PruneScope{})
	require.NoError(t, err)
	return st
}

func newTestBuilder(t *testing.T) *Builder {
	b := NewBuilder(seedStore(t), model.DefaultPeriodDurations())
	b.now = func() time.Time { return day.Add(12 * time.Hour) }
	return b
}

func fullRequest() Request {
	return Request{
		Subjects:       []string{"acme", "ghost", "acme"},
		Period:         model.PeriodDaily,
		Lookback:       3,
		IncludeSeries:  true,
		IncludeChanges: true,
		IncludeGraph:   true,
	}
}

func TestWindow(t *testing.T) {
	b := NewBuilder(nil, model.DefaultPeriodDurations())
	from, to := b.Window(Request{Period: model.PeriodDaily, Lookback: 3, AsOf: day.Add(5 * time.Hour)})
	assert.Equal(t, day.Add(-48*time.Hour), from)
	assert.Equal(t, day.Add(24*time.Hour), to)

	from, to = b.Window(Request{Period: model.PeriodWeekly, AsOf: day.Add(50 * time.Hour)})
	assert.Equal(t, day, from, "2024-03-04 is a Monday")
	assert.Equal(t, day.Add(7*24*time.Hour), to)
}

func TestBuild_SubjectsAndResolution(t *testing.T) {
	b := newTestBuilder(t)
	p, err := b.Build(context.Background(), fullRequest())
	require.NoError(t, err)

	assert.Equal(t, day.Add(-48*time.Hour), p.From)
	assert.Equal(t, day.Add(24*time.Hour), p.To)
	require.Len(t, p.Subjects, 2, "duplicates collapse")

	acme := p.Subjects[0]
	assert.Equal(t, "acme", acme.CompanyID)
	assert.Equal(t, StatusOK, acme.Status)
	assert.False(t, acme.Empty)
	require.NotNil(t, acme.Latest)
	assert.Equal(t, day, acme.Latest.PeriodStart)
	assert.InDelta(t, 0.5, acme.Latest.ImpactScore, 1e-9)

	require.Len(t, acme.Components, 3)
	assert.Equal(t, "Acme raises prices", acme.Components[0].Source)
	assert.Equal(t, SourceUnavailable, acme.Components[1].Source)
	assert.Equal(t, "pro: price 10.00 -> 12.00.", acme.Components[2].Source)

	require.Len(t, acme.Series, 2)
	assert.Equal(t, day.Add(-24*time.Hour), acme.Series[0].PeriodStart)
	require.Len(t, acme.Changes, 1)
	assert.Equal(t, "e1", acme.Changes[0].ID)
	require.Len(t, acme.Edges, 1)

	ghost := p.Subjects[1]
	assert.Equal(t, "ghost", ghost.CompanyID)
	assert.True(t, ghost.Empty)
	assert.Equal(t, StatusNoData, ghost.Status)
	assert.Nil(t, ghost.Latest)
	assert.Empty(t, ghost.Series)
}

func TestBuild_OptionalSectionsOmitted(t *testing.T) {
	b := newTestBuilder(t)
	p, err := b.Build(context.Background(), Request{Subjects: []string{"acme"}, Period: model.PeriodDaily})
	require.NoError(t, err)
	require.Len(t, p.Subjects, 1)
	assert.NotNil(t, p.Subjects[0].Latest)
	assert.Nil(t, p.Subjects[0].Series)
	assert.Nil(t, p.Subjects[0].Changes)
	assert.Nil(t, p.Subjects[0].Edges)
}

func TestBuild_Validation(t *testing.T) {
	b := NewBuilder(nil, model.DefaultPeriodDurations())
	for name, req := range map[string]Request{
		"no subjects":   {Period: model.PeriodDaily},
		"blank subject": {Subjects: []string{""}, Period: model.PeriodDaily},
		"bad period":    {Subjects: []string{"acme"}, Period: "hourly"},
		"bad lookback":  {Subjects: []string{"acme"}, Period: model.PeriodDaily, Lookback: -1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build(context.Background(), req)
			require.Error(t, err)
			assert.True(t, resilience.IsValidation(err))
		})
	}
}

func TestWriteCSV(t *testing.T) {
	p, err := newTestBuilder(t).Build(context.Background(), fullRequest())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, p))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, summaryColumns, rows[0])
	assert.Equal(t, "acme", rows[1][0])
	assert.Equal(t, "0.5000", rows[1][4])
	assert.Equal(t, "1", rows[1][len(summaryColumns)-1], "one unavailable source")
	assert.Equal(t, []string{"ghost", StatusNoData}, rows[2][:2])
	assert.Equal(t, "", rows[2][4], "no data is not zero")
}

func TestWriteJSON(t *testing.T) {
	p, err := newTestBuilder(t).Build(context.Background(), fullRequest())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, p))
	var decoded Payload
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Subjects, 2)
	assert.True(t, decoded.Subjects[1].Empty)
	assert.Equal(t, SourceUnavailable, decoded.Subjects[0].Components[1].Source)
}

func TestWriteXLSX(t *testing.T) {
	p, err := newTestBuilder(t).Build(context.Background(), fullRequest())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, p))
	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)

	summary, ok := f.Sheet["summary"]
	require.True(t, ok)
	require.Len(t, summary.Rows, 3)
	assert.Equal(t, "ghost", summary.Rows[2].Cells[0].String())

	series, ok := f.Sheet["series"]
	require.True(t, ok)
	assert.Len(t, series.Rows, 3)

	changes, ok := f.Sheet["changes"]
	require.True(t, ok)
	require.Len(t, changes.Rows, 2)
	assert.Equal(t, "e1", changes.Rows[1].Cells[1].String())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	assert.Contains(t, f.ContentType(), "spreadsheetml")

	_, err = ParseFormat("pdf")
	assert.True(t, resilience.IsValidation(err))
}
