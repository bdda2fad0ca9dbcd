package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lthms/taxon/internal/taxonomy"
)

// Items themselves are written by the applications that own them; these
// helpers stand in for them in tests.

// addLegacyItem stores an item of an older entity shape with free-text tags.
func (s *Store) addLegacyItem(ctx context.Context, source taxonomy.LegacySource, userID, categoryID, title string, tags []string) (string, error) {
	table := source.Table()
	if table == "" {
		return "", taxonomy.Invalid("unknown legacy source %d", source)
	}
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	id := newID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, user_id, category_id, title, tags, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, nullable(categoryID), title, string(raw), s.timestamp())
	if err != nil {
		return "", classify(err, fmt.Sprintf("add %s item", table))
	}
	return id, nil
}

// attachTag associates a tag with an item. Attaching twice is a no-op.
func (s *Store) attachTag(ctx context.Context, itemType, itemID, tagID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_tags (item_type, item_id, tag_id) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		itemType, itemID, tagID)
	return classify(err, "attach tag")
}

// itemTagIDs lists the tags attached to an item.
func (s *Store) itemTagIDs(ctx context.Context, itemType, itemID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_id FROM item_tags WHERE item_type = ? AND item_id = ? ORDER BY tag_id`, itemType, itemID)
	if err != nil {
		return nil, fmt.Errorf("query item tags: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item tag: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
