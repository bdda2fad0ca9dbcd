package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lthms/taxon/internal/taxonomy"
	"github.com/lthms/taxon/internal/taxonomy/taxonomytest"
)

type testApp struct {
	*appEnv
	mem *taxonomytest.Memory
	buf *bytes.Buffer
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	mem := taxonomytest.NewMemory()
	cfg := &Config{User: UserSection{ID: "u1"}}
	cfg.applyDefaults()
	buf := &bytes.Buffer{}
	app := &appEnv{
		cfg: cfg,
		in:  strings.NewReader(""),
		out: buf,
		openGateway: func(*Config) (taxonomy.Gateway, func() error, error) {
			return mem, func() error { return nil }, nil
		},
	}
	return testApp{appEnv: app, mem: mem, buf: buf}
}

// seedSecurity creates Security > Web with one tag at each level.
func (a testApp) seedSecurity(t *testing.T) (catID, subID string) {
	t.Helper()
	ctx := context.Background()
	cat, err := a.mem.CreateCategory(ctx, taxonomy.CategoryInput{UserID: "u1", Name: "Security", Color: "#ff0000"})
	require.NoError(t, err)
	sub, err := a.mem.CreateSubcategory(ctx, taxonomy.SubcategoryInput{UserID: "u1", CategoryID: cat.ID, Name: "Web"})
	require.NoError(t, err)
	_, err = a.mem.CreateTag(ctx, taxonomy.TagInput{UserID: "u1", CategoryID: cat.ID, Name: "audit"})
	require.NoError(t, err)
	_, err = a.mem.CreateTag(ctx, taxonomy.TagInput{UserID: "u1", SubcategoryID: sub.ID, Name: "xss"})
	require.NoError(t, err)
	return cat.ID, sub.ID
}

func TestTreeCmd_PrintsWholeTree(t *testing.T) {
	app := newTestApp(t)
	app.seedSecurity(t)

	require.NoError(t, (&TreeCmd{}).Run(app.appEnv))
	assert.Equal(t, "Security\n  Web\n    xss\n  audit #\n", app.buf.String())
}

func TestTreeCmd_EmptyAndUnknownCategory(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, (&TreeCmd{}).Run(app.appEnv))
	assert.Equal(t, "No categories yet.\n", app.buf.String())

	err := (&TreeCmd{Category: "Cooking"}).Run(app.appEnv)
	assert.ErrorIs(t, err, taxonomy.ErrNotFound)
}

func TestTagsAddCmd_FromArgs(t *testing.T) {
	app := newTestApp(t)
	_, subID := app.seedSecurity(t)

	cmd := &TagsAddCmd{Category: "security", Subcategory: "Web", Names: []string{"csrf, XSS", "sqli;csrf"}}
	require.NoError(t, cmd.Run(app.appEnv))

	out := app.buf.String()
	assert.Contains(t, out, "Parsed: 2 new, 1 already in list, 1 already exists")
	assert.Contains(t, out, `Added 2 tags to "Web" (1 already existed)`)

	tags, err := app.mem.FetchSubcategoryTags(context.Background(), "u1", subID)
	require.NoError(t, err)
	assert.Equal(t, []string{"csrf", "sqli", "xss"}, taxonomy.TagNames(tags))
}

func TestTagsAddCmd_FromStdinToCategory(t *testing.T) {
	app := newTestApp(t)
	catID, _ := app.seedSecurity(t)
	app.in = strings.NewReader("recon\nphishing\n")

	require.NoError(t, (&TagsAddCmd{Category: "Security"}).Run(app.appEnv))

	tags, err := app.mem.FetchCategoryTags(context.Background(), "u1", catID)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit", "phishing", "recon"}, taxonomy.TagNames(tags))
}

func TestTagsAddCmd_DryRunWritesNothing(t *testing.T) {
	app := newTestApp(t)
	app.seedSecurity(t)

	cmd := &TagsAddCmd{Category: "Security", Subcategory: "Web", DryRun: true, Names: []string{"csrf,sqli"}}
	require.NoError(t, cmd.Run(app.appEnv))
	assert.Equal(t, "Parsed: 2 new\n  + csrf\n  + sqli\n", app.buf.String())
	assert.Zero(t, app.mem.CallCount("UpsertSubcategoryTagsByNames"))
}

func TestTagsAddCmd_AllDuplicates(t *testing.T) {
	app := newTestApp(t)
	app.seedSecurity(t)

	err := (&TagsAddCmd{Category: "Security", Subcategory: "Web", Names: []string{"XSS"}}).Run(app.appEnv)
	assert.Error(t, err)
	assert.Zero(t, app.mem.CallCount("UpsertSubcategoryTagsByNames"))
}

func TestTagsAddCmd_UnknownSubcategory(t *testing.T) {
	app := newTestApp(t)
	app.seedSecurity(t)

	err := (&TagsAddCmd{Category: "Security", Subcategory: "Mobile", Names: []string{"x"}}).Run(app.appEnv)
	assert.ErrorIs(t, err, taxonomy.ErrNotFound)
}

func TestSearchCmd(t *testing.T) {
	app := newTestApp(t)
	app.seedSecurity(t)

	require.NoError(t, (&SearchCmd{Query: "s"}).Run(app.appEnv))
	assert.Equal(t, "category     Security\ntag          xss\n", app.buf.String())

	app.buf.Reset()
	require.NoError(t, (&SearchCmd{Query: "nothing"}).Run(app.appEnv))
	assert.Equal(t, "No matches.\n", app.buf.String())

	app.buf.Reset()
	require.NoError(t, (&SearchCmd{Query: "xss", JSON: true}).Run(app.appEnv))
	assert.Contains(t, app.buf.String(), `"kind": "tag"`)
}

func TestImportExportCmd(t *testing.T) {
	app := newTestApp(t)
	seed := `categories:
  - name: Security
    color: "#ff0000"
    tags: [audit]
    subcategories:
      - name: Web
        tags: [xss, sqli]
`
	app.in = strings.NewReader(seed)
	require.NoError(t, (&ImportCmd{File: "-"}).Run(app.appEnv))
	assert.Equal(t, "Imported 1 categories, 1 subcategories, 3 tags\n", app.buf.String())

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, (&ExportCmd{Output: path}).Run(app.appEnv))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	got, err := taxonomy.ParseSeed(data)
	require.NoError(t, err)
	require.Len(t, got.Categories, 1)
	assert.Equal(t, []string{"audit"}, got.Categories[0].Tags)
	assert.Equal(t, []string{"sqli", "xss"}, got.Categories[0].Subcategories[0].Tags)
}

func TestImportCmd_RejectsBadSeed(t *testing.T) {
	app := newTestApp(t)
	app.in = strings.NewReader("categories:\n  - color: red\n")
	err := (&ImportCmd{File: "-"}).Run(app.appEnv)
	assert.ErrorIs(t, err, taxonomy.ErrInvalid)
	assert.Zero(t, app.mem.CallCount("FetchCategories"))
}
