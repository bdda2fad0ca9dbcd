package store

import (
	"context"
	"fmt"

	"github.com/lthms/taxon/internal/taxonomy"
)

// LegacyTags reads the distinct strings of the JSON tags column of every
// legacy item in the category.
func (s *Store) LegacyTags(ctx context.Context, userID, categoryID string, source taxonomy.LegacySource) ([]string, error) {
	table := source.Table()
	if table == "" {
		return nil, taxonomy.Invalid("unknown legacy source %d", source)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT je.value FROM `+table+` AS li, json_each(li.tags) AS je
		 WHERE li.user_id = ? AND li.category_id = ? AND je.type = 'text'
		 ORDER BY je.value`, userID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("query %s tags: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan %s tag: %w", table, err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
