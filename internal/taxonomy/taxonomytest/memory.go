// Package taxonomytest provides an in-memory taxonomy.Gateway for tests.
package taxonomytest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lthms/taxon/internal/taxonomy"
)

// Memory is a goroutine-safe in-memory gateway. It enforces the same
// per-scope name uniqueness as the real backends and counts calls per
// method. Errors registered in Fail are returned by the named method.
type Memory struct {
	mu sync.Mutex

	categories    map[string]taxonomy.Category
	subcategories map[string]taxonomy.Subcategory
	tags          map[string]taxonomy.Tag
	legacy        map[string][]string // source/category -> names
	seq           int

	Calls map[string]int
	Fail  map[string]error
}

// NewMemory returns an empty gateway.
func NewMemory() *Memory {
	return &Memory{
		categories:    make(map[string]taxonomy.Category),
		subcategories: make(map[string]taxonomy.Subcategory),
		tags:          make(map[string]taxonomy.Tag),
		legacy:        make(map[string][]string),
		Calls:         make(map[string]int),
		Fail:          make(map[string]error),
	}
}

// CallCount returns how many times method was called.
func (m *Memory) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

// SetFail makes method return err (nil clears it).
func (m *Memory) SetFail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Fail, method)
		return
	}
	m.Fail[method] = err
}

// SetLegacy seeds legacy free-text tags for a category.
func (m *Memory) SetLegacy(source taxonomy.LegacySource, categoryID string, names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacy[legacyKey(source, categoryID)] = names
}

func legacyKey(source taxonomy.LegacySource, categoryID string) string {
	return source.Table() + "/" + categoryID
}

func (m *Memory) enter(method string) error {
	m.Calls[method]++
	return m.Fail[method]
}

func (m *Memory) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *Memory) FetchCategories(_ context.Context, userID string) ([]taxonomy.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchCategories"); err != nil {
		return nil, err
	}
	var out []taxonomy.Category
	for _, c := range m.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateCategory(_ context.Context, in taxonomy.CategoryInput) (*taxonomy.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateCategory"); err != nil {
		return nil, err
	}
	for _, c := range m.categories {
		if c.UserID == in.UserID && c.Name == in.Name {
			return nil, fmt.Errorf("category %q: %w", in.Name, taxonomy.ErrConflict)
		}
	}
	c := taxonomy.Category{ID: m.nextID("cat"), UserID: in.UserID, Name: in.Name, Color: in.Color, Description: in.Description}
	m.categories[c.ID] = c
	return &c, nil
}

func (m *Memory) FetchSubcategories(_ context.Context, userID, categoryID string) ([]taxonomy.Subcategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchSubcategories"); err != nil {
		return nil, err
	}
	var out []taxonomy.Subcategory
	for _, s := range m.subcategories {
		if s.UserID == userID && s.CategoryID == categoryID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateSubcategory(_ context.Context, in taxonomy.SubcategoryInput) (*taxonomy.Subcategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateSubcategory"); err != nil {
		return nil, err
	}
	if _, ok := m.categories[in.CategoryID]; !ok {
		return nil, fmt.Errorf("category %s: %w", in.CategoryID, taxonomy.ErrNotFound)
	}
	for _, s := range m.subcategories {
		if s.UserID == in.UserID && s.CategoryID == in.CategoryID && s.Name == in.Name {
			return nil, fmt.Errorf("subcategory %q: %w", in.Name, taxonomy.ErrConflict)
		}
	}
	s := taxonomy.Subcategory{
		ID: m.nextID("sub"), UserID: in.UserID, CategoryID: in.CategoryID,
		Name: in.Name, Color: in.Color, Description: in.Description,
	}
	m.subcategories[s.ID] = s
	return &s, nil
}

func (m *Memory) UpdateSubcategory(_ context.Context, id string, patch taxonomy.SubcategoryPatch) (*taxonomy.Subcategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateSubcategory"); err != nil {
		return nil, err
	}
	s, ok := m.subcategories[id]
	if !ok {
		return nil, fmt.Errorf("subcategory %s: %w", id, taxonomy.ErrNotFound)
	}
	if patch.Name != nil {
		for _, o := range m.subcategories {
			if o.ID != id && o.UserID == s.UserID && o.CategoryID == s.CategoryID && o.Name == *patch.Name {
				return nil, fmt.Errorf("subcategory %q: %w", *patch.Name, taxonomy.ErrConflict)
			}
		}
		s.Name = *patch.Name
	}
	if patch.Description != nil {
		s.Description = *patch.Description
	}
	if patch.Color != nil {
		s.Color = *patch.Color
	}
	m.subcategories[id] = s
	return &s, nil
}

func (m *Memory) DeleteSubcategory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteSubcategory"); err != nil {
		return err
	}
	if _, ok := m.subcategories[id]; !ok {
		return fmt.Errorf("subcategory %s: %w", id, taxonomy.ErrNotFound)
	}
	delete(m.subcategories, id)
	for tid, t := range m.tags {
		if t.SubcategoryID != nil && *t.SubcategoryID == id {
			delete(m.tags, tid)
		}
	}
	return nil
}

func (m *Memory) FetchCategoryTags(_ context.Context, userID, categoryID string) ([]taxonomy.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchCategoryTags"); err != nil {
		return nil, err
	}
	return m.tagsWhere(userID, func(t taxonomy.Tag) bool {
		return t.CategoryID != nil && *t.CategoryID == categoryID
	}), nil
}

func (m *Memory) FetchSubcategoryTags(_ context.Context, userID, subcategoryID string) ([]taxonomy.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchSubcategoryTags"); err != nil {
		return nil, err
	}
	return m.tagsWhere(userID, func(t taxonomy.Tag) bool {
		return t.SubcategoryID != nil && *t.SubcategoryID == subcategoryID
	}), nil
}

func (m *Memory) tagsWhere(userID string, keep func(taxonomy.Tag) bool) []taxonomy.Tag {
	var out []taxonomy.Tag
	for _, t := range m.tags {
		if t.UserID == userID && keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Memory) CreateTag(_ context.Context, in taxonomy.TagInput) (*taxonomy.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateTag"); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return m.insertTag(in)
}

func (m *Memory) insertTag(in taxonomy.TagInput) (*taxonomy.Tag, error) {
	if existing := m.findTag(in); existing != nil {
		return nil, fmt.Errorf("tag %q: %w", in.Name, taxonomy.ErrConflict)
	}
	t := taxonomy.Tag{
		ID:            m.nextID("tag"),
		UserID:        in.UserID,
		Name:          in.Name,
		Description:   in.Description,
		SubcategoryID: taxonomy.StringPtr(in.SubcategoryID),
		CategoryID:    taxonomy.StringPtr(in.CategoryID),
	}
	m.tags[t.ID] = t
	return &t, nil
}

func (m *Memory) findTag(in taxonomy.TagInput) *taxonomy.Tag {
	for _, t := range m.tags {
		if t.UserID != in.UserID || t.Name != in.Name {
			continue
		}
		if in.SubcategoryID != "" && t.SubcategoryID != nil && *t.SubcategoryID == in.SubcategoryID {
			return &t
		}
		if in.CategoryID != "" && t.CategoryID != nil && *t.CategoryID == in.CategoryID {
			return &t
		}
	}
	return nil
}

func (m *Memory) UpdateTag(_ context.Context, id string, patch taxonomy.TagPatch) (*taxonomy.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateTag"); err != nil {
		return nil, err
	}
	t, ok := m.tags[id]
	if !ok {
		return nil, fmt.Errorf("tag %s: %w", id, taxonomy.ErrNotFound)
	}
	if patch.Name != nil {
		probe := taxonomy.TagInput{UserID: t.UserID, Name: *patch.Name}
		if t.SubcategoryID != nil {
			probe.SubcategoryID = *t.SubcategoryID
		} else if t.CategoryID != nil {
			probe.CategoryID = *t.CategoryID
		}
		if other := m.findTag(probe); other != nil && other.ID != id {
			return nil, fmt.Errorf("tag %q: %w", *patch.Name, taxonomy.ErrConflict)
		}
		t.Name = *patch.Name
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	m.tags[id] = t
	return &t, nil
}

func (m *Memory) DeleteTag(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteTag"); err != nil {
		return err
	}
	if _, ok := m.tags[id]; !ok {
		return fmt.Errorf("tag %s: %w", id, taxonomy.ErrNotFound)
	}
	delete(m.tags, id)
	return nil
}

func (m *Memory) UpsertCategoryTagsByNames(_ context.Context, userID, categoryID string, names []string) ([]taxonomy.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpsertCategoryTagsByNames"); err != nil {
		return nil, err
	}
	return m.upsert(names, func(name string) taxonomy.TagInput {
		return taxonomy.TagInput{UserID: userID, CategoryID: categoryID, Name: name}
	})
}

func (m *Memory) UpsertSubcategoryTagsByNames(_ context.Context, userID, subcategoryID string, names []string) ([]taxonomy.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpsertSubcategoryTagsByNames"); err != nil {
		return nil, err
	}
	return m.upsert(names, func(name string) taxonomy.TagInput {
		return taxonomy.TagInput{UserID: userID, SubcategoryID: subcategoryID, Name: name}
	})
}

func (m *Memory) upsert(names []string, input func(string) taxonomy.TagInput) ([]taxonomy.Tag, error) {
	out := make([]taxonomy.Tag, 0, len(names))
	for _, name := range names {
		in := input(name)
		if t := m.findTag(in); t != nil {
			out = append(out, *t)
			continue
		}
		t, err := m.insertTag(in)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *Memory) LegacyTags(_ context.Context, _, categoryID string, source taxonomy.LegacySource) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LegacyTags"); err != nil {
		return nil, err
	}
	return append([]string(nil), m.legacy[legacyKey(source, categoryID)]...), nil
}

func (m *Memory) Search(_ context.Context, userID, query string, limit int) ([]taxonomy.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Search"); err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var hits []taxonomy.SearchHit
	for _, c := range m.categories {
		if c.UserID == userID && strings.Contains(strings.ToLower(c.Name), q) {
			hits = append(hits, taxonomy.SearchHit{Kind: taxonomy.HitCategory, ID: c.ID, Name: c.Name})
		}
	}
	for _, s := range m.subcategories {
		if s.UserID == userID && strings.Contains(strings.ToLower(s.Name), q) {
			hits = append(hits, taxonomy.SearchHit{Kind: taxonomy.HitSubcategory, ID: s.ID, Name: s.Name, ParentID: s.CategoryID})
		}
	}
	for _, t := range m.tags {
		if t.UserID == userID && strings.Contains(strings.ToLower(t.Name), q) {
			hits = append(hits, taxonomy.SearchHit{Kind: taxonomy.HitTag, ID: t.ID, Name: t.Name, ParentID: t.ParentID()})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Name != hits[j].Name {
			return hits[i].Name < hits[j].Name
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

var _ taxonomy.Gateway = (*Memory)(nil)
