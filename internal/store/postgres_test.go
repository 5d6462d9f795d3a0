package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var snapshotCols = []string{
	"id", "company_id", "period", "period_start", "period_end",
	"news_total", "news_positive", "news_negative", "news_neutral", "news_average_sentiment", "news_average_priority",
	"pricing_changes", "feature_updates", "funding_events",
	"impact_score", "innovation_velocity", "trend_delta", "metric_breakdown", "fallback", "created_at",
}

func snapshotRow(rows *pgxmock.Rows, id string, start time.Time, score float64, fallback bool) *pgxmock.Rows {
	return rows.AddRow(id, "acme", "daily", start, start.Add(24*time.Hour),
		2, 1, 1, 0, 0.3, 0.7,
		1, 0, 0,
		score, 0.0, 0.0, []byte(`{"news_signal":0.2}`), fallback, start)
}

func TestPostgresStore_GetCompany_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, tracked, created_at FROM companies WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCompany(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCompanies_Tracked(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM companies WHERE tracked ORDER BY id`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "tracked", "created_at"}).
			AddRow("acme", "Acme", true, now).
			AddRow("globex", "Globex", true, now))

	got, err := s.ListCompanies(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "globex", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertNews_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_news_items"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_news_items"}, pgNewsUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "news_items" .+ ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertNews(context.Background(), []model.NewsItem{
		{ID: "n1", CompanyID: "acme", Timestamp: day, Sentiment: f64(0.8)},
		{ID: "n2", CompanyID: "acme", Timestamp: day},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListNews(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM news_items\s+WHERE company_id = \$1 AND published_at >= \$2 AND published_at < \$3`).
		WithArgs("acme", day, day.Add(24*time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_id", "published_at", "sentiment", "priority", "category", "title"}).
			AddRow("n1", "acme", day, f64(0.8), f64(0.9), "product", "launch").
			AddRow("n2", "acme", day.Add(time.Hour), nil, nil, "", ""))

	got, err := s.ListNews(context.Background(), "acme", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.8, *got[0].Sentiment, 1e-9)
	assert.Nil(t, got[1].Sentiment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePricingResult_WithEvent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pricing_snapshots`).
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO change_events`).
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	snap := pricingSnapshot("p2", day, model.ProcessingSuccess, "h2")
	ev := &model.ChangeEvent{CompanyID: "acme", SourceURL: snap.SourceURL, DetectedAt: day,
		ProcessingStatus: model.ProcessingSuccess, NotificationStatus: model.NotificationPending}
	require.NoError(t, s.SavePricingResult(context.Background(), snap, ev))
	assert.Equal(t, "p2", ev.CurrentSnapshotID)
	assert.NotNil(t, ev.ChangedFields)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var pricingCols = []string{"id", "company_id", "source_url", "source_type", "content_hash",
	"extracted_at", "processing_status", "error", "extraction", "created_at"}

func TestPostgresStore_AppendPricingResult_LocksAndRechecks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("acme|https://acme.test/pricing").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FROM pricing_snapshots\s+WHERE company_id = \$1 AND source_url = \$2`).
		WithArgs("acme", "https://acme.test/pricing").
		WillReturnRows(pgxmock.NewRows(pricingCols).
			AddRow("p1", "acme", "https://acme.test/pricing", "pricing_page", "h1", day, "success", "", []byte(`{"plans":[],"content_hash":"h1"}`), day))
	mock.ExpectExec(`INSERT INTO pricing_snapshots`).
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	snap := pricingSnapshot("p2", day.Add(time.Hour), model.ProcessingSkipped, "h1")
	require.NoError(t, s.AppendPricingResult(context.Background(), "p1", snap, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendPricingResult_BaselineMoved(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("acme|https://acme.test/pricing").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FROM pricing_snapshots`).
		WithArgs("acme", "https://acme.test/pricing").
		WillReturnRows(pgxmock.NewRows(pricingCols).
			AddRow("p9", "acme", "https://acme.test/pricing", "pricing_page", "h9", day, "success", "", []byte(`{"plans":[],"content_hash":"h9"}`), day))
	mock.ExpectRollback()

	err := s.AppendPricingResult(context.Background(), "p1", pricingSnapshot("p2", day, model.ProcessingSuccess, "h2"), nil)
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
	assert.ErrorIs(t, err, ErrBaselineMoved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestPricingSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM pricing_snapshots\s+WHERE company_id = \$1 AND source_url = \$2 AND processing_status <> 'error'`).
		WithArgs("acme", "https://acme.test/pricing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_id", "source_url", "source_type", "content_hash",
			"extracted_at", "processing_status", "error", "extraction", "created_at"}).
			AddRow("p1", "acme", "https://acme.test/pricing", "pricing_page", "h1", day, "success", "",
				[]byte(`{"plans":[{"name":"pro","price":10,"billing_interval":"month","features":["sso"]}],"content_hash":"h1"}`), day))

	snap, err := s.LatestPricingSnapshot(context.Background(), "acme", "https://acme.test/pricing")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingSuccess, snap.ProcessingStatus)
	require.NotNil(t, snap.Extraction)
	assert.Equal(t, []string{"sso"}, snap.Extraction.Plans[0].Features)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetNotificationStatus_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE change_events SET notification_status = \$1 WHERE id = \$2 AND notification_status = \$3`).
		WithArgs("failed", "e1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM change_events WHERE id = \$1`).
		WithArgs("e1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_id", "source_url", "source_type", "detected_at",
			"changed_fields", "raw_diff", "change_summary", "current_snapshot_id", "previous_snapshot_id",
			"processing_status", "notification_status", "created_at"}).
			AddRow("e1", "acme", "u", "", day, []byte(`["price"]`), []byte(`{"kind":"changed"}`), "",
				"p2", nil, "success", "sent", day))

	err := s.SetNotificationStatus(context.Background(), "e1", model.NotificationPending, model.NotificationFailed)
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSnapshot_CopiesComponents(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO analytics_snapshots .+ ON CONFLICT \(company_id, period, period_start\) DO NOTHING`).
		WithArgs(anyArgs(20)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"impact_components"}, pgComponentColumns).
		WillReturnResult(2)
	mock.ExpectCommit()

	snap := analyticsSnapshot(day, 0.4)
	require.NoError(t, s.InsertSnapshot(context.Background(), snap))
	assert.NotEmpty(t, snap.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSnapshot_ExistingRowIsConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO analytics_snapshots`).
		WithArgs(anyArgs(20)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.InsertSnapshot(context.Background(), analyticsSnapshot(day, 0.4))
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSnapshot_UniqueViolationIsConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO analytics_snapshots`).
		WithArgs(anyArgs(20)...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := s.InsertSnapshot(context.Background(), analyticsSnapshot(day, 0.4))
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceFallbackSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM analytics_snapshots\s+WHERE company_id = \$1 AND period = \$2 AND period_start = \$3 AND fallback`).
		WithArgs("acme", "daily", day).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO analytics_snapshots`).
		WithArgs(anyArgs(20)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"impact_components"}, pgComponentColumns).
		WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.ReplaceFallbackSnapshot(context.Background(), analyticsSnapshot(day, 0.4)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSnapshot_LoadsComponents(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM analytics_snapshots\s+WHERE company_id = \$1 AND period = \$2\s+ORDER BY period_start DESC LIMIT 1`).
		WithArgs("acme", "daily").
		WillReturnRows(snapshotRow(pgxmock.NewRows(snapshotCols), "s1", day, 0.4, false))
	mock.ExpectQuery(`FROM impact_components WHERE snapshot_id = \$1 ORDER BY ordinal`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "snapshot_id", "component_type", "score_contribution",
			"source_kind", "source_id", "created_at"}).
			AddRow("c1", "s1", "news_signal", 0.2, "news", "n1", day).
			AddRow("c2", "s1", "pricing_change", 0.2, "change_event", "e1", day))

	snap, err := s.LatestSnapshot(context.Background(), "acme", model.PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, model.PeriodDaily, snap.Period)
	assert.Equal(t, 2, snap.NewsTotal)
	assert.InDelta(t, 0.2, snap.MetricBreakdown["news_signal"], 1e-9)
	require.Len(t, snap.Components, 2)
	assert.Equal(t, model.ComponentPricingChange, snap.Components[1].ComponentType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSnapshot_TransientError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM analytics_snapshots`).
		WithArgs("acme", "daily", day).
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})

	_, err := s.GetSnapshot(context.Background(), model.NewSnapshotKey("acme", model.PeriodDaily, day))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SyncEdges(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_graph_edges"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_graph_edges"}, pgEdgeUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "graph_edges" .+ DO UPDATE SET "weight" = EXCLUDED."weight", "observed_at" = EXCLUDED."observed_at"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DELETE FROM graph_edges WHERE observed_at < \$1 AND subject_type = \$2 AND subject_id = \$3`).
		WithArgs(pgxmock.AnyArg(), model.NodeCompany, "acme").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	up, pruned, err := s.SyncEdges(context.Background(), []model.KnowledgeGraphEdge{
		edge("acme", model.RelMentionedIn, model.NodeNews, "n1", 0.5, day),
		edge("acme", model.RelHadChange, model.NodeChangeEvent, "e1", 0.3, day),
	}, PruneScope{CompanyID: "acme", Before: day.AddDate(0, 0, -90)})
	require.NoError(t, err)
	assert.Equal(t, 2, up)
	assert.Equal(t, 3, pruned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GraphInputs_SingleTransaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from, to := day, day.Add(24*time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`SET TRANSACTION ISOLATION LEVEL REPEATABLE READ READ ONLY`).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(`FROM news_items\s+WHERE published_at >= \$1 AND published_at < \$2 AND company_id = \$3`).
		WithArgs(from, to, "acme").
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_id", "published_at", "sentiment", "priority", "category", "title"}).
			AddRow("n1", "acme", day, nil, nil, "ai", ""))
	mock.ExpectQuery(`FROM change_events\s+WHERE detected_at >= \$1 AND detected_at < \$2 AND company_id = \$3`).
		WithArgs(from, to, "acme").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM analytics_snapshots\s+WHERE period_start >= \$1 AND period_start < \$2 AND company_id = \$3`).
		WithArgs(from, to, "acme").
		WillReturnRows(snapshotRow(pgxmock.NewRows(snapshotCols), "s1", day, 0.4, false))
	mock.ExpectQuery(`SELECT DISTINCT company_id, category FROM news_items`).
		WithArgs(from, to).
		WillReturnRows(pgxmock.NewRows([]string{"company_id", "category"}).
			AddRow("acme", "ai").
			AddRow("globex", "ai"))

	in, err := s.GraphInputs(context.Background(), "acme", from, to)
	require.NoError(t, err)
	assert.Len(t, in.News, 1)
	assert.Empty(t, in.Events)
	assert.Len(t, in.Snapshots, 1)
	assert.Equal(t, []string{"ai"}, in.Categories["globex"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE recompute_jobs SET state = \$1`).
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishJob(context.Background(), &model.RecomputeJob{ID: "missing", State: model.JobFailed})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	since := day.Add(-24 * time.Hour)
	mock.ExpectQuery(`SELECT state, COUNT\(\*\) FROM recompute_jobs WHERE started_at >= \$1 GROUP BY state`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"state", "count"}).
			AddRow("succeeded", 7).
			AddRow("failed_fallback", 2))

	counts, err := s.CountJobs(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 7, counts[model.JobSucceeded])
	assert.Equal(t, 2, counts[model.JobFailedFallback])
	assert.NoError(t, mock.ExpectationsWereMet())
}
