package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/market-signals/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"_pragma=busy_timeout(5000)",
	"_pragma=journal_mode(WAL)",
	"_pragma=synchronous(NORMAL)",
	"_pragma=foreign_keys(1)",
	"_txlock=immediate",
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	full := dsn
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		full = dsn + sep + strings.Join(sqlitePragmas, "&")
	}

	db, err := sql.Open("sqlite", full)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if strings.HasPrefix(dsn, ":memory:") {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	tracked    INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS news_items (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	published_at TEXT NOT NULL,
	sentiment    REAL,
	priority     REAL,
	category     TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	ingested_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pricing_snapshots (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	source_url        TEXT NOT NULL,
	source_type       TEXT NOT NULL DEFAULT '',
	content_hash      TEXT NOT NULL DEFAULT '',
	extracted_at      TEXT NOT NULL,
	processing_status TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	extraction        TEXT,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS change_events (
	id                   TEXT PRIMARY KEY,
	company_id           TEXT NOT NULL,
	source_url           TEXT NOT NULL,
	source_type          TEXT NOT NULL DEFAULT '',
	detected_at          TEXT NOT NULL,
	changed_fields       TEXT NOT NULL,
	raw_diff             TEXT NOT NULL,
	change_summary       TEXT NOT NULL DEFAULT '',
	current_snapshot_id  TEXT NOT NULL,
	previous_snapshot_id TEXT,
	processing_status    TEXT NOT NULL,
	notification_status  TEXT NOT NULL,
	created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id                     TEXT PRIMARY KEY,
	company_id             TEXT NOT NULL,
	period                 TEXT NOT NULL,
	period_start           TEXT NOT NULL,
	period_end             TEXT NOT NULL,
	news_total             INTEGER NOT NULL DEFAULT 0,
	news_positive          INTEGER NOT NULL DEFAULT 0,
	news_negative          INTEGER NOT NULL DEFAULT 0,
	news_neutral           INTEGER NOT NULL DEFAULT 0,
	news_average_sentiment REAL NOT NULL DEFAULT 0,
	news_average_priority  REAL NOT NULL DEFAULT 0,
	pricing_changes        INTEGER NOT NULL DEFAULT 0,
	feature_updates        INTEGER NOT NULL DEFAULT 0,
	funding_events         INTEGER NOT NULL DEFAULT 0,
	impact_score           REAL NOT NULL DEFAULT 0,
	innovation_velocity    REAL NOT NULL DEFAULT 0,
	trend_delta            REAL NOT NULL DEFAULT 0,
	metric_breakdown       TEXT NOT NULL DEFAULT '{}',
	fallback               INTEGER NOT NULL DEFAULT 0,
	created_at             TEXT NOT NULL,
	UNIQUE (company_id, period, period_start)
);

CREATE TABLE IF NOT EXISTS impact_components (
	id                 TEXT PRIMARY KEY,
	snapshot_id        TEXT NOT NULL REFERENCES analytics_snapshots(id) ON DELETE CASCADE,
	ordinal            INTEGER NOT NULL DEFAULT 0,
	component_type     TEXT NOT NULL,
	score_contribution REAL NOT NULL,
	source_kind        TEXT NOT NULL,
	source_id          TEXT NOT NULL,
	created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_edges (
	subject_type TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	relationship TEXT NOT NULL,
	object_type  TEXT NOT NULL,
	object_id    TEXT NOT NULL,
	weight       REAL NOT NULL DEFAULT 0,
	observed_at  TEXT NOT NULL,
	PRIMARY KEY (subject_type, subject_id, relationship, object_type, object_id)
);

CREATE TABLE IF NOT EXISTS recompute_jobs (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	period       TEXT NOT NULL,
	period_start TEXT NOT NULL,
	state        TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	snapshot_id  TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_news_company_time ON news_items(company_id, published_at);
CREATE INDEX IF NOT EXISTS idx_news_time ON news_items(published_at);
CREATE INDEX IF NOT EXISTS idx_pricing_company_url ON pricing_snapshots(company_id, source_url, extracted_at);
CREATE INDEX IF NOT EXISTS idx_events_company_time ON change_events(company_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_events_time ON change_events(detected_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_series ON analytics_snapshots(company_id, period, period_start);
CREATE INDEX IF NOT EXISTS idx_components_snapshot ON impact_components(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_edges_observed ON graph_edges(observed_at);
CREATE INDEX IF NOT EXISTS idx_jobs_started ON recompute_jobs(started_at);
CREATE INDEX IF NOT EXISTS idx_jobs_key ON recompute_jobs(company_id, period, period_start);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Companies

func (s *SQLiteStore) UpsertCompany(ctx context.Context, c model.Company) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, tracked, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, tracked = excluded.tracked`,
		c.ID, c.Name, c.Tracked, fmtTime(time.Now()),
	)
	return classify(err, "sqlite: upsert company", c.ID)
}

func (s *SQLiteStore) EnsureCompany(ctx context.Context, companyID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, tracked, created_at) VALUES (?, '', 1, ?)
		 ON CONFLICT (id) DO NOTHING`,
		companyID, fmtTime(time.Now()),
	)
	return classify(err, "sqlite: ensure company", companyID)
}

func (s *SQLiteStore) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, tracked, created_at FROM companies WHERE id = ?`, companyID)
	c, err := scanSQLiteCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "sqlite: get company", companyID)
	}
	return c, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, trackedOnly bool) ([]model.Company, error) {
	query := `SELECT id, name, tracked, created_at FROM companies`
	if trackedOnly {
		query += ` WHERE tracked = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err, "sqlite: list companies", "")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanSQLiteCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func scanSQLiteCompany(row scannable) (*model.Company, error) {
	var c model.Company
	var created string
	if err := row.Scan(&c.ID, &c.Name, &c.Tracked, &created); err != nil {
		return nil, err
	}
	var err error
	c.CreatedAt, err = parseTime(created)
	return &c, err
}

// News

func (s *SQLiteStore) UpsertNews(ctx context.Context, items []model.NewsItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err, "sqlite: upsert news begin", "")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO news_items (id, company_id, published_at, sentiment, priority, category, title, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			company_id = excluded.company_id, published_at = excluded.published_at,
			sentiment = excluded.sentiment, priority = excluded.priority,
			category = excluded.category, title = excluded.title`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert news")
	}
	defer stmt.Close()

	now := fmtTime(time.Now())
	for _, n := range items {
		if _, err := stmt.ExecContext(ctx,
			n.ID, n.CompanyID, fmtTime(n.Timestamp), nullFloat(n.Sentiment), nullFloat(n.Priority),
			n.Category, n.Title, now,
		); err != nil {
			return 0, classify(err, "sqlite: upsert news", n.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err, "sqlite: upsert news commit", "")
	}
	return len(items), nil
}

const sqliteNewsColumns = `id, company_id, published_at, sentiment, priority, category, title`

func (s *SQLiteStore) ListNews(ctx context.Context, companyID string, from, to time.Time) ([]model.NewsItem, error) {
	return s.queryNews(ctx, s.db,
		`SELECT `+sqliteNewsColumns+` FROM news_items
		 WHERE company_id = ? AND published_at >= ? AND published_at < ?
		 ORDER BY published_at, id`,
		companyID, fmtTime(from), fmtTime(to))
}

func (s *SQLiteStore) GetNewsByIDs(ctx context.Context, ids []string) (map[string]model.NewsItem, error) {
	out := make(map[string]model.NewsItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	items, err := s.queryNews(ctx, s.db,
		`SELECT `+sqliteNewsColumns+` FROM news_items WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, n := range items {
		out[n.ID] = n
	}
	return out, nil
}

func (s *SQLiteStore) DeleteNews(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM news_items WHERE id = ?`, id)
	if err != nil {
		return classify(err, "sqlite: delete news", id)
	}
	return checkRowsAffected(res, "news", id)
}

type sqliteQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) queryNews(ctx context.Context, q sqliteQuerier, query string, args ...any) ([]model.NewsItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "sqlite: list news", "")
	}
	defer rows.Close()

	var out []model.NewsItem
	for rows.Next() {
		var n model.NewsItem
		var ts string
		var sentiment, priority sql.NullFloat64
		if err := rows.Scan(&n.ID, &n.CompanyID, &ts, &sentiment, &priority, &n.Category, &n.Title); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan news")
		}
		if n.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		n.Sentiment = floatPtr(sentiment)
		n.Priority = floatPtr(priority)
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list news iterate")
}

// helpers

// sqliteTimeFormat is fixed-width UTC so that text comparison orders times.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeFormat, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
