package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/lthms/taxon/internal/taxonomy"
)

// Search matches names case-insensitively (ASCII) across all three levels.
func (s *Store) Search(ctx context.Context, userID, query string, limit int) ([]taxonomy.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	pat := likePattern(query)
	rows, err := s.db.QueryContext(ctx,
		`SELECT 'category', id, name, '' FROM categories
		   WHERE user_id = ? AND name LIKE ? ESCAPE '\'
		 UNION ALL
		 SELECT 'subcategory', id, name, category_id FROM subcategories
		   WHERE user_id = ? AND name LIKE ? ESCAPE '\'
		 UNION ALL
		 SELECT 'tag', id, name, COALESCE(subcategory_id, category_id) FROM tags
		   WHERE user_id = ? AND name LIKE ? ESCAPE '\'
		 ORDER BY 3, 2
		 LIMIT ?`,
		userID, pat, userID, pat, userID, pat, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var hits []taxonomy.SearchHit
	for rows.Next() {
		var h taxonomy.SearchHit
		var kind string
		if err := rows.Scan(&kind, &h.ID, &h.Name, &h.ParentID); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.Kind = taxonomy.HitKind(kind)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
