package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lthms/taxon/internal/taxonomy"
)

const (
	returnRepresentation = "return=representation"
	returnMinimal        = "return=minimal"
	ignoreDuplicates     = "resolution=ignore-duplicates"
)

func ordered(filters ...string) url.Values {
	q := url.Values{"select": {"*"}, "order": {"name.asc,id.asc"}}
	for i := 0; i+1 < len(filters); i += 2 {
		q.Set(filters[i], filters[i+1])
	}
	return q
}

// single returns the first row of a representation response.
func single[T any](rows []T, what string) (*T, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", what, taxonomy.ErrNotFound)
	}
	return &rows[0], nil
}

func (c *Client) FetchCategories(ctx context.Context, userID string) ([]taxonomy.Category, error) {
	var out []taxonomy.Category
	err := c.do(ctx, request{method: http.MethodGet, table: "categories", query: ordered("user_id", eq(userID))}, &out)
	return out, err
}

func (c *Client) CreateCategory(ctx context.Context, in taxonomy.CategoryInput) (*taxonomy.Category, error) {
	if err := taxonomy.Validate(in); err != nil {
		return nil, err
	}
	var rows []taxonomy.Category
	err := c.do(ctx, request{method: http.MethodPost, table: "categories", body: in, prefer: []string{returnRepresentation}}, &rows)
	if err != nil {
		return nil, err
	}
	return single(rows, "create category")
}

func (c *Client) FetchSubcategories(ctx context.Context, userID, categoryID string) ([]taxonomy.Subcategory, error) {
	var out []taxonomy.Subcategory
	err := c.do(ctx, request{
		method: http.MethodGet,
		table:  "subcategories",
		query:  ordered("user_id", eq(userID), "category_id", eq(categoryID)),
	}, &out)
	return out, err
}

func (c *Client) CreateSubcategory(ctx context.Context, in taxonomy.SubcategoryInput) (*taxonomy.Subcategory, error) {
	if err := taxonomy.Validate(in); err != nil {
		return nil, err
	}
	var rows []taxonomy.Subcategory
	err := c.do(ctx, request{method: http.MethodPost, table: "subcategories", body: in, prefer: []string{returnRepresentation}}, &rows)
	if err != nil {
		return nil, err
	}
	return single(rows, "create subcategory")
}

func (c *Client) UpdateSubcategory(ctx context.Context, id string, patch taxonomy.SubcategoryPatch) (*taxonomy.Subcategory, error) {
	if err := taxonomy.Validate(patch); err != nil {
		return nil, err
	}
	var rows []taxonomy.Subcategory
	err := c.do(ctx, request{
		method: http.MethodPatch,
		table:  "subcategories",
		query:  url.Values{"id": {eq(id)}},
		body:   patch,
		prefer: []string{returnRepresentation},
	}, &rows)
	if err != nil {
		return nil, err
	}
	return single(rows, "subcategory "+id)
}

// DeleteSubcategory removes a subcategory. The database cascades the delete
// to its tags and their item associations.
func (c *Client) DeleteSubcategory(ctx context.Context, id string) error {
	return c.deleteByID(ctx, "subcategories", id)
}

func (c *Client) deleteByID(ctx context.Context, table, id string) error {
	var rows []struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, request{
		method: http.MethodDelete,
		table:  table,
		query:  url.Values{"id": {eq(id)}, "select": {"id"}},
		prefer: []string{returnRepresentation},
	}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s %s: %w", table, id, taxonomy.ErrNotFound)
	}
	return nil
}

func (c *Client) FetchCategoryTags(ctx context.Context, userID, categoryID string) ([]taxonomy.Tag, error) {
	var out []taxonomy.Tag
	err := c.do(ctx, request{
		method: http.MethodGet,
		table:  "tags",
		query:  ordered("user_id", eq(userID), "category_id", eq(categoryID), "subcategory_id", "is.null"),
	}, &out)
	return out, err
}

func (c *Client) FetchSubcategoryTags(ctx context.Context, userID, subcategoryID string) ([]taxonomy.Tag, error) {
	var out []taxonomy.Tag
	err := c.do(ctx, request{
		method: http.MethodGet,
		table:  "tags",
		query:  ordered("user_id", eq(userID), "subcategory_id", eq(subcategoryID)),
	}, &out)
	return out, err
}

func (c *Client) CreateTag(ctx context.Context, in taxonomy.TagInput) (*taxonomy.Tag, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var rows []taxonomy.Tag
	err := c.do(ctx, request{method: http.MethodPost, table: "tags", body: in, prefer: []string{returnRepresentation}}, &rows)
	if err != nil {
		return nil, err
	}
	return single(rows, "create tag")
}

func (c *Client) UpdateTag(ctx context.Context, id string, patch taxonomy.TagPatch) (*taxonomy.Tag, error) {
	if err := taxonomy.Validate(patch); err != nil {
		return nil, err
	}
	var rows []taxonomy.Tag
	err := c.do(ctx, request{
		method: http.MethodPatch,
		table:  "tags",
		query:  url.Values{"id": {eq(id)}},
		body:   patch,
		prefer: []string{returnRepresentation},
	}, &rows)
	if err != nil {
		return nil, err
	}
	return single(rows, "tag "+id)
}

// DeleteTag removes a tag; item associations cascade.
func (c *Client) DeleteTag(ctx context.Context, id string) error {
	return c.deleteByID(ctx, "tags", id)
}

func (c *Client) UpsertCategoryTagsByNames(ctx context.Context, userID, categoryID string, names []string) ([]taxonomy.Tag, error) {
	return c.upsertTags(ctx, userID, "category_id", categoryID, names)
}

func (c *Client) UpsertSubcategoryTagsByNames(ctx context.Context, userID, subcategoryID string, names []string) ([]taxonomy.Tag, error) {
	return c.upsertTags(ctx, userID, "subcategory_id", subcategoryID, names)
}

type tagRow struct {
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	SubcategoryID *string `json:"subcategory_id"`
	CategoryID    *string `json:"category_id"`
}

func (c *Client) fetchTagsByName(ctx context.Context, userID, scopeColumn, parentID string, names []string) ([]taxonomy.Tag, error) {
	var rows []taxonomy.Tag
	err := c.do(ctx, request{
		method: http.MethodGet,
		table:  "tags",
		query:  ordered("user_id", eq(userID), scopeColumn, eq(parentID), "name", in(names)),
	}, &rows)
	return rows, err
}

// upsertTags inserts the names missing under one scope and returns the
// canonical row of every name in input order. A unique violation means a
// concurrent writer inserted some of the names and the whole batch was
// rolled back, so the rows are retried one at a time.
func (c *Client) upsertTags(ctx context.Context, userID, scopeColumn, parentID string, names []string) ([]taxonomy.Tag, error) {
	if len(names) == 0 {
		return nil, nil
	}
	for _, name := range names {
		if err := taxonomy.Validate(taxonomy.TagPatch{Name: &name}); err != nil {
			return nil, err
		}
	}

	existing, err := c.fetchTagsByName(ctx, userID, scopeColumn, parentID, names)
	if err != nil {
		return nil, fmt.Errorf("fetch existing tags: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t.Name] = true
	}

	var missing []tagRow
	for _, name := range names {
		if have[name] {
			continue
		}
		have[name] = true
		row := tagRow{UserID: userID, Name: name}
		if scopeColumn == "category_id" {
			row.CategoryID = &parentID
		} else {
			row.SubcategoryID = &parentID
		}
		missing = append(missing, row)
	}

	if len(missing) > 0 {
		err := c.insertTags(ctx, missing)
		if isConflict(err) {
			c.log.Info("rest: tag upsert raced, inserting one by one", "parent", parentID, "count", len(missing))
			err = nil
			for _, row := range missing {
				if err = c.insertTags(ctx, []tagRow{row}); isConflict(err) {
					err = nil
					continue
				}
				if err != nil {
					break
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("insert tags: %w", err)
		}
	}

	rows, err := c.fetchTagsByName(ctx, userID, scopeColumn, parentID, names)
	if err != nil {
		return nil, fmt.Errorf("re-fetch tags: %w", err)
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

func (c *Client) insertTags(ctx context.Context, rows []tagRow) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		table:  "tags",
		body:   rows,
		prefer: []string{returnMinimal, ignoreDuplicates},
	}, nil)
}

// LegacyTags reads the tags arrays of the source's rows in the category and
// returns their distinct values, sorted.
func (c *Client) LegacyTags(ctx context.Context, userID, categoryID string, source taxonomy.LegacySource) ([]string, error) {
	table := source.Table()
	if table == "" {
		return nil, taxonomy.Invalid("unknown legacy source %d", source)
	}
	var rows []struct {
		Tags []string `json:"tags"`
	}
	err := c.do(ctx, request{
		method: http.MethodGet,
		table:  table,
		query: url.Values{
			"select":      {"tags"},
			"user_id":     {eq(userID)},
			"category_id": {eq(categoryID)},
			"tags":        {"not.is.null"},
		},
	}, &rows)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		for _, t := range r.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Search runs one ilike query per level concurrently and merges the hits by
// name.
func (c *Client) Search(ctx context.Context, userID, query string, limit int) ([]taxonomy.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	levels := []struct {
		kind   taxonomy.HitKind
		table  string
		parent func(row hitRow) string
	}{
		{taxonomy.HitCategory, "categories", func(hitRow) string { return "" }},
		{taxonomy.HitSubcategory, "subcategories", func(r hitRow) string { return deref(r.CategoryID) }},
		{taxonomy.HitTag, "tags", func(r hitRow) string {
			if r.SubcategoryID != nil {
				return *r.SubcategoryID
			}
			return deref(r.CategoryID)
		}},
	}

	results := make([][]taxonomy.SearchHit, len(levels))
	g, gctx := errgroup.WithContext(ctx)
	for i, lv := range levels {
		g.Go(func() error {
			q := ordered("user_id", eq(userID), "name", ilike(query))
			q.Set("limit", strconv.Itoa(limit))
			var rows []hitRow
			if err := c.do(gctx, request{method: http.MethodGet, table: lv.table, query: q}, &rows); err != nil {
				return fmt.Errorf("search %s: %w", lv.table, err)
			}
			hits := make([]taxonomy.SearchHit, 0, len(rows))
			for _, r := range rows {
				if !containsFold(r.Name, query) {
					continue
				}
				hits = append(hits, taxonomy.SearchHit{Kind: lv.kind, ID: r.ID, Name: r.Name, ParentID: lv.parent(r)})
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var hits []taxonomy.SearchHit
	for _, r := range results {
		hits = append(hits, r...)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Name != hits[j].Name {
			return hits[i].Name < hits[j].Name
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type hitRow struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CategoryID    *string `json:"category_id"`
	SubcategoryID *string `json:"subcategory_id"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
