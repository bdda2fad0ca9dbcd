package store

import (
	"context"
	"fmt"

	"github.com/lthms/taxon/internal/taxonomy"
)

func (s *Store) FetchCategories(ctx context.Context, userID string) ([]taxonomy.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, color, description FROM categories
		 WHERE user_id = ? ORDER BY name, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []taxonomy.Category
	for rows.Next() {
		var c taxonomy.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Color, &c.Description); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCategory(ctx context.Context, in taxonomy.CategoryInput) (*taxonomy.Category, error) {
	if err := taxonomy.Validate(in); err != nil {
		return nil, err
	}
	c := taxonomy.Category{ID: newID(), UserID: in.UserID, Name: in.Name, Color: in.Color, Description: in.Description}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name, color, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Color, c.Description, s.timestamp())
	if err != nil {
		return nil, classify(err, fmt.Sprintf("create category %q", in.Name))
	}
	return &c, nil
}

const subcategoryColumns = `id, user_id, category_id, name, color, description`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubcategory(r scanner) (taxonomy.Subcategory, error) {
	var sc taxonomy.Subcategory
	err := r.Scan(&sc.ID, &sc.UserID, &sc.CategoryID, &sc.Name, &sc.Color, &sc.Description)
	return sc, err
}

func (s *Store) FetchSubcategories(ctx context.Context, userID, categoryID string) ([]taxonomy.Subcategory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subcategoryColumns+` FROM subcategories
		 WHERE user_id = ? AND category_id = ? ORDER BY name, id`, userID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("query subcategories: %w", err)
	}
	defer rows.Close()

	var out []taxonomy.Subcategory
	for rows.Next() {
		sc, err := scanSubcategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subcategory: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) CreateSubcategory(ctx context.Context, in taxonomy.SubcategoryInput) (*taxonomy.Subcategory, error) {
	if err := taxonomy.Validate(in); err != nil {
		return nil, err
	}
	sc := taxonomy.Subcategory{
		ID: newID(), UserID: in.UserID, CategoryID: in.CategoryID,
		Name: in.Name, Color: in.Color, Description: in.Description,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subcategories (id, user_id, category_id, name, color, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.UserID, sc.CategoryID, sc.Name, sc.Color, sc.Description, s.timestamp())
	if err != nil {
		return nil, classify(err, fmt.Sprintf("create subcategory %q", in.Name))
	}
	return &sc, nil
}

func (s *Store) UpdateSubcategory(ctx context.Context, id string, patch taxonomy.SubcategoryPatch) (*taxonomy.Subcategory, error) {
	if err := taxonomy.Validate(patch); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE subcategories SET
			name = COALESCE(?, name),
			description = COALESCE(?, description),
			color = COALESCE(?, color)
		 WHERE id = ?`,
		patch.Name, patch.Description, patch.Color, id)
	if err != nil {
		return nil, classify(err, "update subcategory")
	}
	sc, err := scanSubcategory(s.db.QueryRowContext(ctx,
		`SELECT `+subcategoryColumns+` FROM subcategories WHERE id = ?`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("subcategory %s", id))
	}
	return &sc, nil
}

// DeleteSubcategory removes a subcategory; its tags and their item
// associations go with it through ON DELETE CASCADE.
func (s *Store) DeleteSubcategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subcategories WHERE id = ?`, id)
	if err != nil {
		return classify(err, "delete subcategory")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subcategory %s: %w", id, taxonomy.ErrNotFound)
	}
	return nil
}
