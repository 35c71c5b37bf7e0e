package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements search over the documents table using PostgreSQL
// full-text search as the fallback backend.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs an FTS query constrained to the caller's visible set, the
// same union the registry resolves. A blank query text drops the tsquery
// clause and runs the category/tag filters alone, matching what the
// Meilisearch backend does for filter-only requests.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	query, args := buildSearchQuery(q)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Category, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, total, nil
}

// buildSearchQuery assembles the SQL and arguments for Search. Text,
// when present, is always $1 so the ranking and snippet expressions can
// reference it.
func buildSearchQuery(q Query) (string, []any) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	text := strings.TrimSpace(q.Text)

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	snippet := "''"
	order := "d.uploaded_at DESC"
	where := "d.deleted_at IS NULL"

	if text != "" {
		ph := next(text)
		where += fmt.Sprintf(" AND d.fts @@ plainto_tsquery('english', %s)", ph)
		snippet = fmt.Sprintf("ts_headline('english', d.name, plainto_tsquery('english', %s), 'MaxFragments=1,MaxWords=30')", ph)
		order = fmt.Sprintf("ts_rank(d.fts, plainto_tsquery('english', %s)) DESC, d.uploaded_at DESC", ph)
	}

	user := next(q.UserID)
	company := next(q.CompanyID)
	where += fmt.Sprintf(`
		AND (
			d.uploaded_by = %[1]s
			OR (%[2]s <> '' AND d.company_id = %[2]s)
			OR EXISTS (SELECT 1 FROM document_visibility v WHERE v.document_id = d.id AND v.user_id = %[1]s)
		)`, user, company)

	if q.Category != "" {
		where += fmt.Sprintf(" AND d.category = %s", next(q.Category))
	}
	if q.Tag != "" {
		where += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM document_tags t WHERE t.document_id = d.id AND t.tag = %s)", next(q.Tag))
	}

	query := fmt.Sprintf(`
		SELECT d.id, d.name, d.category,
			%s AS snippet,
			COUNT(*) OVER() AS total
		FROM documents d
		WHERE %s
		ORDER BY %s
		LIMIT %d OFFSET %d
	`, snippet, where, order, limit, offset)

	return query, args
}

// LoadAllRecords reads every live document for bulk reindexing into
// Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.name, d.category, d.uploaded_by, COALESCE(d.company_id, ''),
			COALESCE(ARRAY_AGG(DISTINCT t.tag) FILTER (WHERE t.tag IS NOT NULL), '{}'),
			COALESCE(ARRAY_AGG(DISTINCT v.user_id) FILTER (WHERE v.user_id IS NOT NULL), '{}')
		FROM documents d
		LEFT JOIN document_tags t ON t.document_id = d.id
		LEFT JOIN document_visibility v ON v.document_id = d.id
		WHERE d.deleted_at IS NULL
		GROUP BY d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load search records: %w", err)
	}
	defer rows.Close()

	var records []DocumentRecord
	for rows.Next() {
		var rec DocumentRecord
		var tags, visibleTo []byte
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Category, &rec.UploadedBy, &rec.CompanyID, &tags, &visibleTo); err != nil {
			return nil, fmt.Errorf("scan search record: %w", err)
		}
		rec.Tags = parseTextArray(tags)
		rec.VisibleTo = parseTextArray(visibleTo)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search records: %w", err)
	}
	return records, nil
}

// parseTextArray decodes the {a,b,c} wire form of a Postgres text array.
// Tags and user IDs never contain quotes or commas, so the simple split is
// enough here.
func parseTextArray(raw []byte) []string {
	trimmed := strings.Trim(string(raw), "{}")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.Trim(part, `"`))
	}
	return out
}
