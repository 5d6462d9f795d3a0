package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/db"
	"github.com/sells-group/market-signals/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the read paths hit on every recompute and
// comparison request.
var preparedStatements = map[string]string{
	"list_news":       pgListNews,
	"list_events":     pgListEvents,
	"latest_pricing":  pgLatestPricing,
	"get_snapshot":    pgGetSnapshot,
	"latest_snapshot": pgLatestSnapshot,
	"prev_snapshot":   pgPreviousSnapshot,
	"list_components": pgListComponents,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// The schema may not exist yet on a fresh database.
				if isUndefinedTable(err) {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	tracked    BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS news_items (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	sentiment    DOUBLE PRECISION,
	priority     DOUBLE PRECISION,
	category     TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	ingested_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pricing_snapshots (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	source_url        TEXT NOT NULL,
	source_type       TEXT NOT NULL DEFAULT '',
	content_hash      TEXT NOT NULL DEFAULT '',
	extracted_at      TIMESTAMPTZ NOT NULL,
	processing_status TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	extraction        JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS change_events (
	id                   TEXT PRIMARY KEY,
	company_id           TEXT NOT NULL,
	source_url           TEXT NOT NULL,
	source_type          TEXT NOT NULL DEFAULT '',
	detected_at          TIMESTAMPTZ NOT NULL,
	changed_fields       JSONB NOT NULL,
	raw_diff             JSONB NOT NULL,
	change_summary       TEXT NOT NULL DEFAULT '',
	current_snapshot_id  TEXT NOT NULL,
	previous_snapshot_id TEXT,
	processing_status    TEXT NOT NULL,
	notification_status  TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id                     TEXT PRIMARY KEY,
	company_id             TEXT NOT NULL,
	period                 TEXT NOT NULL,
	period_start           TIMESTAMPTZ NOT NULL,
	period_end             TIMESTAMPTZ NOT NULL,
	news_total             INTEGER NOT NULL DEFAULT 0,
	news_positive          INTEGER NOT NULL DEFAULT 0,
	news_negative          INTEGER NOT NULL DEFAULT 0,
	news_neutral           INTEGER NOT NULL DEFAULT 0,
	news_average_sentiment DOUBLE PRECISION NOT NULL DEFAULT 0,
	news_average_priority  DOUBLE PRECISION NOT NULL DEFAULT 0,
	pricing_changes        INTEGER NOT NULL DEFAULT 0,
	feature_updates        INTEGER NOT NULL DEFAULT 0,
	funding_events         INTEGER NOT NULL DEFAULT 0,
	impact_score           DOUBLE PRECISION NOT NULL DEFAULT 0,
	innovation_velocity    DOUBLE PRECISION NOT NULL DEFAULT 0,
	trend_delta            DOUBLE PRECISION NOT NULL DEFAULT 0,
	metric_breakdown       JSONB NOT NULL DEFAULT '{}',
	fallback               BOOLEAN NOT NULL DEFAULT false,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, period, period_start)
);

CREATE TABLE IF NOT EXISTS impact_components (
	id                 TEXT PRIMARY KEY,
	snapshot_id        TEXT NOT NULL REFERENCES analytics_snapshots(id) ON DELETE CASCADE,
	ordinal            INTEGER NOT NULL DEFAULT 0,
	component_type     TEXT NOT NULL,
	score_contribution DOUBLE PRECISION NOT NULL,
	source_kind        TEXT NOT NULL,
	source_id          TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS graph_edges (
	subject_type TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	relationship TEXT NOT NULL,
	object_type  TEXT NOT NULL,
	object_id    TEXT NOT NULL,
	weight       DOUBLE PRECISION NOT NULL DEFAULT 0,
	observed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subject_type, subject_id, relationship, object_type, object_id)
);

CREATE TABLE IF NOT EXISTS recompute_jobs (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	period       TEXT NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	state        TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	snapshot_id  TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_news_company_time ON news_items(company_id, published_at);
CREATE INDEX IF NOT EXISTS idx_news_time ON news_items(published_at);
CREATE INDEX IF NOT EXISTS idx_pricing_company_url ON pricing_snapshots(company_id, source_url, extracted_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_company_time ON change_events(company_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_events_time ON change_events(detected_at);
CREATE INDEX IF NOT EXISTS idx_components_snapshot ON impact_components(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_edges_observed ON graph_edges(observed_at);
CREATE INDEX IF NOT EXISTS idx_jobs_started ON recompute_jobs(started_at);
CREATE INDEX IF NOT EXISTS idx_jobs_key ON recompute_jobs(company_id, period, period_start);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Companies

func (s *PostgresStore) UpsertCompany(ctx context.Context, c model.Company) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (id, name, tracked, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, tracked = EXCLUDED.tracked`,
		c.ID, c.Name, c.Tracked, time.Now().UTC(),
	)
	return classify(err, "postgres: upsert company", c.ID)
}

func (s *PostgresStore) EnsureCompany(ctx context.Context, companyID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (id, name, tracked, created_at) VALUES ($1, '', true, $2)
		 ON CONFLICT (id) DO NOTHING`,
		companyID, time.Now().UTC(),
	)
	return classify(err, "postgres: ensure company", companyID)
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	var c model.Company
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, tracked, created_at FROM companies WHERE id = $1`, companyID,
	).Scan(&c.ID, &c.Name, &c.Tracked, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "postgres: get company", companyID)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, trackedOnly bool) ([]model.Company, error) {
	query := `SELECT id, name, tracked, created_at FROM companies`
	if trackedOnly {
		query += ` WHERE tracked`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, classify(err, "postgres: list companies", "")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.Tracked, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

// News

const pgNewsColumns = `id, company_id, published_at, sentiment, priority, category, title`

const pgListNews = `SELECT ` + pgNewsColumns + ` FROM news_items
	WHERE company_id = $1 AND published_at >= $2 AND published_at < $3
	ORDER BY published_at, id`

var pgNewsUpsert = db.UpsertConfig{
	Table:        "news_items",
	Columns:      []string{"id", "company_id", "published_at", "sentiment", "priority", "category", "title", "ingested_at"},
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"company_id", "published_at", "sentiment", "priority", "category", "title"},
}

func (s *PostgresStore) UpsertNews(ctx context.Context, items []model.NewsItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(items))
	for i, n := range items {
		rows[i] = []any{n.ID, n.CompanyID, n.Timestamp.UTC(), n.Sentiment, n.Priority, n.Category, n.Title, now}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, classify(err, "postgres: upsert news begin", "")
	}
	defer tx.Rollback(ctx)

	if _, err := db.BulkUpsert(ctx, tx, pgNewsUpsert, rows); err != nil {
		return 0, classify(err, "postgres: upsert news", "")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classify(err, "postgres: upsert news commit", "")
	}
	return len(items), nil
}

func (s *PostgresStore) ListNews(ctx context.Context, companyID string, from, to time.Time) ([]model.NewsItem, error) {
	return queryPgNews(ctx, s.pool, pgListNews, companyID, from.UTC(), to.UTC())
}

func (s *PostgresStore) GetNewsByIDs(ctx context.Context, ids []string) (map[string]model.NewsItem, error) {
	out := make(map[string]model.NewsItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	items, err := queryPgNews(ctx, s.pool,
		`SELECT `+pgNewsColumns+` FROM news_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, n := range items {
		out[n.ID] = n
	}
	return out, nil
}

func (s *PostgresStore) DeleteNews(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM news_items WHERE id = $1`, id)
	if err != nil {
		return classify(err, "postgres: delete news", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "news %s", id)
	}
	return nil
}

func queryPgNews(ctx context.Context, q db.Querier, query string, args ...any) ([]model.NewsItem, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "postgres: list news", "")
	}
	defer rows.Close()

	var out []model.NewsItem
	for rows.Next() {
		var n model.NewsItem
		if err := rows.Scan(&n.ID, &n.CompanyID, &n.Timestamp, &n.Sentiment, &n.Priority, &n.Category, &n.Title); err != nil {
			return nil, eris.Wrap(err, "postgres: scan news")
		}
		n.Timestamp = n.Timestamp.UTC()
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list news iterate")
}

// scopedArgs appends "AND <column> = $n" when value is set.
func scopedArgs(query, column, value string, args []any) (string, []any) {
	if value == "" {
		return query, args
	}
	args = append(args, value)
	return query + fmt.Sprintf(` AND %s = $%d`, column, len(args)), args
}
