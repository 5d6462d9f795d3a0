package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/db"
	"github.com/sells-group/market-signals/internal/model"
)

var pgEdgeUpsert = db.UpsertConfig{
	Table:        "graph_edges",
	Columns:      []string{"subject_type", "subject_id", "relationship", "object_type", "object_id", "weight", "observed_at"},
	ConflictKeys: []string{"subject_type", "subject_id", "relationship", "object_type", "object_id"},
	UpdateCols:   []string{"weight", "observed_at"},
}

// GraphInputs reads the sync window inside one repeatable-read transaction.
func (s *PostgresStore) GraphInputs(ctx context.Context, companyID string, from, to time.Time) (*GraphInputs, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err, "postgres: graph inputs begin", "")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET TRANSACTION ISOLATION LEVEL REPEATABLE READ READ ONLY`); err != nil {
		return nil, classify(err, "postgres: graph inputs isolation", "")
	}

	window := []any{from.UTC(), to.UTC()}
	in := &GraphInputs{Categories: make(map[string][]string)}

	query, args := scopedArgs(`SELECT `+pgNewsColumns+` FROM news_items
		WHERE published_at >= $1 AND published_at < $2`, "company_id", companyID, window)
	if in.News, err = queryPgNews(ctx, tx, query+` ORDER BY published_at, id`, args...); err != nil {
		return nil, err
	}

	query, args = scopedArgs(`SELECT `+pgEventColumns+` FROM change_events
		WHERE detected_at >= $1 AND detected_at < $2`, "company_id", companyID, window)
	if in.Events, err = queryPgEvents(ctx, tx, query+` ORDER BY detected_at, id`, args...); err != nil {
		return nil, err
	}

	query, args = scopedArgs(`SELECT `+pgSnapshotColumns+` FROM analytics_snapshots
		WHERE period_start >= $1 AND period_start < $2`, "company_id", companyID, window)
	if in.Snapshots, err = queryPgSnapshots(ctx, tx, query+` ORDER BY company_id, period, period_start`, args...); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT DISTINCT company_id, category FROM news_items
		 WHERE published_at >= $1 AND published_at < $2 AND category <> ''
		 ORDER BY company_id, category`, window...)
	if err != nil {
		return nil, classify(err, "postgres: graph categories", "")
	}
	defer rows.Close()
	for rows.Next() {
		var company, category string
		if err := rows.Scan(&company, &category); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		in.Categories[company] = append(in.Categories[company], category)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: graph categories iterate")
	}
	return in, nil
}

func (s *PostgresStore) SyncEdges(ctx context.Context, edges []model.KnowledgeGraphEdge, prune PruneScope) (int, int, error) {
	rows := make([][]any, len(edges))
	for i, e := range edges {
		rows[i] = []any{e.SubjectType, e.SubjectID, e.Relationship, e.ObjectType, e.ObjectID, e.Weight, e.ObservedAt.UTC()}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, classify(err, "postgres: sync edges begin", "")
	}
	defer tx.Rollback(ctx)

	upserted, err := db.BulkUpsert(ctx, tx, pgEdgeUpsert, rows)
	if err != nil {
		return 0, 0, classify(err, "postgres: upsert edges", "")
	}

	query := `DELETE FROM graph_edges WHERE observed_at < $1`
	args := []any{prune.Before.UTC()}
	if prune.CompanyID != "" {
		query += ` AND subject_type = $2 AND subject_id = $3`
		args = append(args, model.NodeCompany, prune.CompanyID)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, 0, classify(err, "postgres: prune edges", "")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, classify(err, "postgres: sync edges commit", "")
	}
	return int(upserted), int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListEdges(ctx context.Context, filter EdgeFilter) ([]model.KnowledgeGraphEdge, error) {
	query := `SELECT subject_type, subject_id, relationship, object_type, object_id, weight, observed_at
		FROM graph_edges WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND subject_type = $%d AND subject_id = $%d`, argIdx, argIdx+1)
		args = append(args, model.NodeCompany, filter.CompanyID)
		argIdx += 2
	}
	if filter.Relationship != "" {
		query += fmt.Sprintf(` AND relationship = $%d`, argIdx)
		args = append(args, filter.Relationship)
		argIdx++
	}
	query += ` ORDER BY subject_id, relationship, object_type, object_id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "postgres: list edges", "")
	}
	defer rows.Close()

	var out []model.KnowledgeGraphEdge
	for rows.Next() {
		var e model.KnowledgeGraphEdge
		if err := rows.Scan(&e.SubjectType, &e.SubjectID, &e.Relationship, &e.ObjectType, &e.ObjectID,
			&e.Weight, &e.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan edge")
		}
		e.ObservedAt = e.ObservedAt.UTC()
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list edges iterate")
}
