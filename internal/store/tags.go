package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lthms/taxon/internal/taxonomy"
)

const tagColumns = `id, user_id, name, description, subcategory_id, category_id`

func scanTag(r scanner) (taxonomy.Tag, error) {
	var t taxonomy.Tag
	var sub, cat sql.NullString
	if err := r.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &sub, &cat); err != nil {
		return t, err
	}
	t.SubcategoryID = deref(sub)
	t.CategoryID = deref(cat)
	return t, nil
}

func (s *Store) queryTags(ctx context.Context, query string, args ...any) ([]taxonomy.Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var out []taxonomy.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) FetchCategoryTags(ctx context.Context, userID, categoryID string) ([]taxonomy.Tag, error) {
	return s.queryTags(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id = ? AND category_id = ? ORDER BY name, id`,
		userID, categoryID)
}

func (s *Store) FetchSubcategoryTags(ctx context.Context, userID, subcategoryID string) ([]taxonomy.Tag, error) {
	return s.queryTags(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id = ? AND subcategory_id = ? ORDER BY name, id`,
		userID, subcategoryID)
}

func (s *Store) CreateTag(ctx context.Context, in taxonomy.TagInput) (*taxonomy.Tag, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	t := taxonomy.Tag{
		ID:            newID(),
		UserID:        in.UserID,
		Name:          in.Name,
		Description:   in.Description,
		SubcategoryID: taxonomy.StringPtr(in.SubcategoryID),
		CategoryID:    taxonomy.StringPtr(in.CategoryID),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, user_id, subcategory_id, category_id, name, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullable(in.SubcategoryID), nullable(in.CategoryID), t.Name, t.Description, s.timestamp())
	if err != nil {
		return nil, classify(err, fmt.Sprintf("create tag %q", in.Name))
	}
	return &t, nil
}

func (s *Store) UpdateTag(ctx context.Context, id string, patch taxonomy.TagPatch) (*taxonomy.Tag, error) {
	if err := taxonomy.Validate(patch); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tags SET name = COALESCE(?, name), description = COALESCE(?, description) WHERE id = ?`,
		patch.Name, patch.Description, id)
	if err != nil {
		return nil, classify(err, "update tag")
	}
	t, err := scanTag(s.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = ?`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("tag %s", id))
	}
	return &t, nil
}

// DeleteTag removes a tag and, by cascade, its item associations.
func (s *Store) DeleteTag(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return classify(err, "delete tag")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tag %s: %w", id, taxonomy.ErrNotFound)
	}
	return nil
}

func (s *Store) UpsertCategoryTagsByNames(ctx context.Context, userID, categoryID string, names []string) ([]taxonomy.Tag, error) {
	return s.upsertTags(ctx, userID, "category_id", categoryID, names)
}

func (s *Store) UpsertSubcategoryTagsByNames(ctx context.Context, userID, subcategoryID string, names []string) ([]taxonomy.Tag, error) {
	return s.upsertTags(ctx, userID, "subcategory_id", subcategoryID, names)
}

// upsertTags inserts the missing names under one scope column and returns
// the canonical row of every name in input order. Rows another writer
// inserted concurrently are picked up by the re-select.
func (s *Store) upsertTags(ctx context.Context, userID, scopeColumn, parentID string, names []string) ([]taxonomy.Tag, error) {
	if len(names) == 0 {
		return nil, nil
	}
	for _, name := range names {
		if err := taxonomy.Validate(taxonomy.TagPatch{Name: &name}); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tags (id, user_id, `+scopeColumn+`, name, created_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.timestamp()
	for _, name := range names {
		if _, err := stmt.ExecContext(ctx, newID(), userID, parentID, name, now); err != nil {
			return nil, classify(err, fmt.Sprintf("upsert tag %q", name))
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	args := make([]any, 0, len(names)+2)
	args = append(args, userID, parentID)
	for _, name := range names {
		args = append(args, name)
	}
	rows, err := s.queryTags(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id = ? AND `+scopeColumn+` = ?
		 AND name IN (`+placeholders(len(names))+`)`, args...)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]taxonomy.Tag, len(rows))
	for _, t := range rows {
		byName[t.Name] = t
	}
	out := make([]taxonomy.Tag, 0, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("upsert tag %q: row missing after insert: %w", name, taxonomy.ErrNotFound)
		}
		out = append(out, t)
	}
	return out, nil
}
