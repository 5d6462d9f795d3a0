package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/model"
)

// GraphInputs reads everything a sync pass needs inside one read
// transaction so the pass sees a single committed state.
func (s *SQLiteStore) GraphInputs(ctx context.Context, companyID string, from, to time.Time) (*GraphInputs, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classify(err, "sqlite: graph inputs begin", "")
	}
	defer tx.Rollback()

	scope, args := "", []any{fmtTime(from), fmtTime(to)}
	if companyID != "" {
		scope = ` AND company_id = ?`
		args = append(args, companyID)
	}

	in := &GraphInputs{Categories: make(map[string][]string)}
	if in.News, err = s.queryNews(ctx, tx,
		`SELECT `+sqliteNewsColumns+` FROM news_items
		 WHERE published_at >= ? AND published_at < ?`+scope+` ORDER BY published_at, id`, args...); err != nil {
		return nil, err
	}
	if in.Events, err = s.queryEvents(ctx, tx,
		`SELECT `+sqliteEventColumns+` FROM change_events
		 WHERE detected_at >= ? AND detected_at < ?`+scope+` ORDER BY detected_at, id`, args...); err != nil {
		return nil, err
	}
	if in.Snapshots, err = s.querySnapshots(ctx, tx,
		`SELECT `+sqliteSnapshotColumns+` FROM analytics_snapshots
		 WHERE period_start >= ? AND period_start < ?`+scope+` ORDER BY company_id, period, period_start`, args...); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT company_id, category FROM news_items
		 WHERE published_at >= ? AND published_at < ? AND category != ''
		 ORDER BY company_id, category`, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, classify(err, "sqlite: graph categories", "")
	}
	defer rows.Close()
	for rows.Next() {
		var company, category string
		if err := rows.Scan(&company, &category); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		in.Categories[company] = append(in.Categories[company], category)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: graph categories iterate")
	}
	return in, nil
}

func (s *SQLiteStore) SyncEdges(ctx context.Context, edges []model.KnowledgeGraphEdge, prune PruneScope) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, classify(err, "sqlite: sync edges begin", "")
	}
	defer tx.Rollback()

	if len(edges) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO graph_edges (subject_type, subject_id, relationship, object_type, object_id, weight, observed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (subject_type, subject_id, relationship, object_type, object_id) DO UPDATE SET
				weight = excluded.weight, observed_at = excluded.observed_at`)
		if err != nil {
			return 0, 0, eris.Wrap(err, "sqlite: prepare upsert edge")
		}
		defer stmt.Close()
		for _, e := range edges {
			if _, err := stmt.ExecContext(ctx, e.SubjectType, e.SubjectID, e.Relationship,
				e.ObjectType, e.ObjectID, e.Weight, fmtTime(e.ObservedAt)); err != nil {
				return 0, 0, classify(err, "sqlite: upsert edge", e.NaturalKey())
			}
		}
	}

	query := `DELETE FROM graph_edges WHERE observed_at < ?`
	args := []any{fmtTime(prune.Before)}
	if prune.CompanyID != "" {
		query += ` AND subject_type = ? AND subject_id = ?`
		args = append(args, model.NodeCompany, prune.CompanyID)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, 0, classify(err, "sqlite: prune edges", "")
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, classify(err, "sqlite: sync edges commit", "")
	}
	return len(edges), int(pruned), nil
}

func (s *SQLiteStore) ListEdges(ctx context.Context, filter EdgeFilter) ([]model.KnowledgeGraphEdge, error) {
	query := `SELECT subject_type, subject_id, relationship, object_type, object_id, weight, observed_at
		FROM graph_edges WHERE 1=1`
	var args []any
	if filter.CompanyID != "" {
		query += ` AND subject_type = ? AND subject_id = ?`
		args = append(args, model.NodeCompany, filter.CompanyID)
	}
	if filter.Relationship != "" {
		query += ` AND relationship = ?`
		args = append(args, filter.Relationship)
	}
	query += ` ORDER BY subject_id, relationship, object_type, object_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "sqlite: list edges", "")
	}
	defer rows.Close()

	var out []model.KnowledgeGraphEdge
	for rows.Next() {
		var e model.KnowledgeGraphEdge
		var observed string
		if err := rows.Scan(&e.SubjectType, &e.SubjectID, &e.Relationship, &e.ObjectType, &e.ObjectID,
			&e.Weight, &observed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan edge")
		}
		if e.ObservedAt, err = parseTime(observed); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list edges iterate")
}
