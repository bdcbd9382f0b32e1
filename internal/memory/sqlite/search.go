package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/marrow-mcp/marrow/internal/memory"
)

// Search ranks entries against a free-text query. Candidates are prefiltered
// in SQL with case-insensitive LIKE, then ranked in Go where exact tag
// matching against the JSON tag array is straightforward.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]memory.SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("%w: search query is required", memory.ErrInvalidInput)
	}

	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, key, content, tags, created_at, updated_at, source_session_id, content_hash, access_count
		FROM memories
		WHERE LOWER(key) LIKE ? ESCAPE '\'
		   OR LOWER(content) LIKE ? ESCAPE '\'
		   OR LOWER(COALESCE(tags, '')) LIKE ? ESCAPE '\'
		ORDER BY category, key`,
		pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}

	results := memory.RankEntries(entries, q)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
