package search

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PgFTS searches with Postgres full-text indexes. It is the fallback
// engine when no Meilisearch instance is configured or reachable, and
// needs nothing beyond the primary database.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy reports whether the database answers a ping.
func (p *PgFTS) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.db.PingContext(ctx) == nil
}

const pgSearchQuery = `
SELECT * FROM (
    SELECT 'list' AS kind, id, name,
           ts_headline('english', name, plainto_tsquery('english', $1),
                       'StartSel=<mark>, StopSel=</mark>, MaxWords=20, MinWords=5') AS snippet,
           '' AS node_id, FALSE AS completed,
           ts_rank(fts, plainto_tsquery('english', $1)) AS rank
    FROM nodes
    WHERE owner_email = $2
      AND fts @@ plainto_tsquery('english', $1)
      AND ($3 = '' OR $3 = 'list')
    UNION ALL
    SELECT 'task' AS kind, id, name,
           ts_headline('english', name, plainto_tsquery('english', $1),
                       'StartSel=<mark>, StopSel=</mark>, MaxWords=20, MinWords=5') AS snippet,
           node_id, completed,
           ts_rank(fts, plainto_tsquery('english', $1)) AS rank
    FROM tasks
    WHERE owner_email = $2
      AND fts @@ plainto_tsquery('english', $1)
      AND ($3 = '' OR $3 = 'task')
) hits
ORDER BY rank DESC, id ASC
LIMIT $4 OFFSET $5`

const pgSearchCountQuery = `
SELECT
    (SELECT COUNT(*) FROM nodes
     WHERE owner_email = $2 AND fts @@ plainto_tsquery('english', $1)
       AND ($3 = '' OR $3 = 'list'))
    +
    (SELECT COUNT(*) FROM tasks
     WHERE owner_email = $2 AND fts @@ plainto_tsquery('english', $1)
       AND ($3 = '' OR $3 = 'task'))`

// Search runs an owner-scoped full-text query across lists and tasks.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	kind := string(q.FilterType)

	var total int
	err := p.db.QueryRowContext(ctx, pgSearchCountQuery, q.Text, q.Owner, kind).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count search hits: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, pgSearchQuery, q.Text, q.Owner, kind, limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, limit)
	for rows.Next() {
		var r Result
		var kind string
		var rank float64
		if err := rows.Scan(&kind, &r.ID, &r.Name, &r.Snippet, &r.NodeID, &r.Completed, &rank); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		r.Type = ResultType(kind)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search hits: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every list and task from the database for bulk
// reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ListRecord, []TaskRecord, error) {
	listRows, err := p.db.QueryContext(ctx,
		`SELECT id, name, owner_email, is_default FROM nodes`)
	if err != nil {
		return nil, nil, fmt.Errorf("load lists: %w", err)
	}
	defer listRows.Close()

	var lists []ListRecord
	for listRows.Next() {
		var l ListRecord
		if err := listRows.Scan(&l.ID, &l.Name, &l.Owner, &l.IsDefault); err != nil {
			return nil, nil, fmt.Errorf("scan list record: %w", err)
		}
		lists = append(lists, l)
	}
	if err := listRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate list records: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx,
		`SELECT id, name, owner_email, node_id, completed FROM tasks`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	var tasks []TaskRecord
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Name, &t.Owner, &t.NodeID, &t.Completed); err != nil {
			return nil, nil, fmt.Errorf("scan task record: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate task records: %w", err)
	}

	return lists, tasks, nil
}
