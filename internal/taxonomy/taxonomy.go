// Package taxonomy holds the category → subcategory → tag model, the
// Gateway the application persists it through, and the Orchestrator that
// wires the tree explorer to that gateway.
package taxonomy

import "context"

// Category is the root of the taxonomy.
type Category struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id,omitempty"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// Subcategory belongs to exactly one category. Its name is unique within
// (user, category).
type Subcategory struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id,omitempty"`
	CategoryID  string `json:"category_id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// Tag is a leaf label. Exactly one of SubcategoryID and CategoryID is set;
// the scope never changes after creation.
type Tag struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id,omitempty"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	SubcategoryID *string `json:"subcategory_id"`
	CategoryID    *string `json:"category_id"`
}

// Scope says which kind of parent a tag hangs from.
type Scope int

const (
	ScopeSubcategory Scope = iota + 1
	ScopeCategory
)

func (s Scope) String() string {
	switch s {
	case ScopeSubcategory:
		return "subcategory"
	case ScopeCategory:
		return "category"
	}
	return "unknown"
}

// Scope reports whether the tag is subcategory-scoped or category-level.
func (t Tag) Scope() Scope {
	if t.SubcategoryID != nil {
		return ScopeSubcategory
	}
	return ScopeCategory
}

// ParentID returns the id of the tag's subcategory or category.
func (t Tag) ParentID() string {
	if t.SubcategoryID != nil {
		return *t.SubcategoryID
	}
	if t.CategoryID != nil {
		return *t.CategoryID
	}
	return ""
}

// LegacySource names one of the older entity shapes that stored tags as a
// plain string array.
type LegacySource int

const (
	LegacyLearning LegacySource = iota + 1
	LegacyResources
	LegacyPayloads
)

// LegacySources lists every legacy source the backfill reads.
var LegacySources = []LegacySource{LegacyLearning, LegacyResources, LegacyPayloads}

// Table returns the backend table holding the legacy rows.
func (s LegacySource) Table() string {
	switch s {
	case LegacyLearning:
		return "learning_items"
	case LegacyResources:
		return "resources"
	case LegacyPayloads:
		return "payloads"
	}
	return ""
}

func (s LegacySource) String() string { return s.Table() }

// HitKind identifies the entity a SearchHit refers to.
type HitKind string

const (
	HitCategory    HitKind = "category"
	HitSubcategory HitKind = "subcategory"
	HitTag         HitKind = "tag"
)

// SearchHit is one result of the global name search.
type SearchHit struct {
	Kind     HitKind `json:"kind"`
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID string  `json:"parent_id,omitempty"`
}

// Gateway is the persistence surface of the taxonomy. Implementations
// delegate storage, row-level security and ordering to their backend; every
// list is ordered by name.
type Gateway interface {
	FetchCategories(ctx context.Context, userID string) ([]Category, error)
	CreateCategory(ctx context.Context, in CategoryInput) (*Category, error)

	FetchSubcategories(ctx context.Context, userID, categoryID string) ([]Subcategory, error)
	CreateSubcategory(ctx context.Context, in SubcategoryInput) (*Subcategory, error)
	UpdateSubcategory(ctx context.Context, id string, patch SubcategoryPatch) (*Subcategory, error)
	DeleteSubcategory(ctx context.Context, id string) error

	FetchCategoryTags(ctx context.Context, userID, categoryID string) ([]Tag, error)
	FetchSubcategoryTags(ctx context.Context, userID, subcategoryID string) ([]Tag, error)
	CreateTag(ctx context.Context, in TagInput) (*Tag, error)
	UpdateTag(ctx context.Context, id string, patch TagPatch) (*Tag, error)
	DeleteTag(ctx context.Context, id string) error

	// UpsertCategoryTagsByNames creates the missing names as category-level
	// tags and returns the canonical rows for every name, in input order.
	// Unique-constraint races are recovered by re-fetching.
	UpsertCategoryTagsByNames(ctx context.Context, userID, categoryID string, names []string) ([]Tag, error)
	UpsertSubcategoryTagsByNames(ctx context.Context, userID, subcategoryID string, names []string) ([]Tag, error)

	// LegacyTags returns the distinct free-text tags stored on items of the
	// given source that belong to the category.
	LegacyTags(ctx context.Context, userID, categoryID string, source LegacySource) ([]string, error)

	Search(ctx context.Context, userID, query string, limit int) ([]SearchHit, error)
}

// TagNames extracts the names of tags, preserving order.
func TagNames(tags []Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
