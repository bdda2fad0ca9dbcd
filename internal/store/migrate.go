package store

import (
	"database/sql"
	"fmt"
)

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			name        TEXT NOT NULL,
			color       TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			UNIQUE(user_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS subcategories (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			color       TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			UNIQUE(user_id, category_id, name)
		)`,

		// Exactly one scope per tag; names are unique within their scope only
		`CREATE TABLE IF NOT EXISTS tags (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			subcategory_id TEXT REFERENCES subcategories(id) ON DELETE CASCADE,
			category_id    TEXT REFERENCES categories(id) ON DELETE CASCADE,
			name           TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			CHECK ((subcategory_id IS NULL) <> (category_id IS NULL))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tags_subcategory_name
			ON tags(user_id, subcategory_id, name) WHERE subcategory_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tags_category_name
			ON tags(user_id, category_id, name) WHERE category_id IS NOT NULL`,

		// Items <-> tags
		`CREATE TABLE IF NOT EXISTS item_tags (
			item_type TEXT NOT NULL,
			item_id   TEXT NOT NULL,
			tag_id    TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			PRIMARY KEY (item_type, item_id, tag_id)
		)`,
	}

	// Legacy entities keep their free-text tags as a JSON array.
	for _, table := range []string{"learning_items", "resources", "payloads"} {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL,
				category_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
				title       TEXT NOT NULL DEFAULT '',
				tags        TEXT NOT NULL DEFAULT '[]',
				created_at  TEXT NOT NULL
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_category ON %[1]s(user_id, category_id)`, table),
		)
	}

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", truncate(s, 60), err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
