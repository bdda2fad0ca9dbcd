package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lthms/taxon/internal/taxonomy"
	"github.com/lthms/taxon/internal/taxonomy/taxonomytest"
)

type mcpFixture struct {
	mem   *taxonomytest.Memory
	cs    *mcp.ClientSession
	catID string
	subID string
}

func newMCPFixture(t *testing.T) *mcpFixture {
	t.Helper()
	ctx := context.Background()
	fx := &mcpFixture{mem: taxonomytest.NewMemory()}

	cat, err := fx.mem.CreateCategory(ctx, taxonomy.CategoryInput{UserID: "u1", Name: "Security"})
	require.NoError(t, err)
	sub, err := fx.mem.CreateSubcategory(ctx, taxonomy.SubcategoryInput{UserID: "u1", CategoryID: cat.ID, Name: "Web"})
	require.NoError(t, err)
	_, err = fx.mem.CreateTag(ctx, taxonomy.TagInput{UserID: "u1", SubcategoryID: sub.ID, Name: "xss"})
	require.NoError(t, err)
	_, err = fx.mem.CreateTag(ctx, taxonomy.TagInput{UserID: "u1", CategoryID: cat.ID, Name: "audit"})
	require.NoError(t, err)
	fx.catID, fx.subID = cat.ID, sub.ID

	orch, err := taxonomy.New(taxonomy.Config{
		Gateway: fx.mem,
		UserID:  "u1",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	server := newMCPServer(&mcpTools{orch: orch, gw: fx.mem, userID: "u1", limit: 10})
	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0.0.1"}, nil)
	fx.cs, err = client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { fx.cs.Close() })
	return fx
}

// call invokes a tool and decodes its text content into out. It returns the
// raw text and whether the tool reported an error.
func (fx *mcpFixture) call(t *testing.T, name string, args map[string]any, out any) (string, bool) {
	t.Helper()
	res, err := fx.cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	if !res.IsError && out != nil {
		require.NoError(t, json.Unmarshal([]byte(text.Text), out))
	}
	return text.Text, res.IsError
}

func TestMCP_ListsTools(t *testing.T) {
	fx := newMCPFixture(t)
	res, err := fx.cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"taxonomy_children", "tags_bulk_add", "taxonomy_search"}, names)
}

func TestMCP_Children(t *testing.T) {
	fx := newMCPFixture(t)

	var roots []mcpNode
	fx.call(t, "taxonomy_children", map[string]any{}, &roots)
	assert.Equal(t, []mcpNode{{ID: fx.catID, Name: "Security", Kind: "category"}}, roots)

	var children []mcpNode
	fx.call(t, "taxonomy_children", map[string]any{"category_id": fx.catID}, &children)
	require.Len(t, children, 2)
	assert.Equal(t, mcpNode{ID: fx.subID, Name: "Web", Kind: "subcategory"}, children[0])
	assert.Equal(t, "audit", children[1].Name)
	assert.True(t, children[1].CategoryLevel)

	var tags []mcpNode
	fx.call(t, "taxonomy_children", map[string]any{"category_id": fx.catID, "subcategory_id": fx.subID}, &tags)
	require.Len(t, tags, 1)
	assert.Equal(t, "xss", tags[0].Name)
	assert.False(t, tags[0].CategoryLevel)
}

func TestMCP_BulkAdd(t *testing.T) {
	fx := newMCPFixture(t)

	var res bulkAddResult
	_, isErr := fx.call(t, "tags_bulk_add", map[string]any{
		"category_id":    fx.catID,
		"subcategory_id": fx.subID,
		"text":           "sqli, SQLi, xss",
	}, &res)
	require.False(t, isErr)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.Parsed.New)
	assert.Equal(t, 1, res.Parsed.Exists)
	assert.Equal(t, []string{"sqli", "SQLi"}, taxonomy.TagNames(res.Tags))
}

func TestMCP_BulkAddErrors(t *testing.T) {
	fx := newMCPFixture(t)

	text, isErr := fx.call(t, "tags_bulk_add", map[string]any{"text": "a"}, nil)
	assert.True(t, isErr)
	assert.Contains(t, text, "category_id or subcategory_id")

	text, isErr = fx.call(t, "tags_bulk_add", map[string]any{"subcategory_id": fx.subID, "text": "XSS"}, nil)
	assert.True(t, isErr)
	assert.Contains(t, text, "1 already exists")
	assert.Zero(t, fx.mem.CallCount("UpsertSubcategoryTagsByNames"))

	_, isErr = fx.call(t, "tags_bulk_add", map[string]any{"category_id": "nope", "text": "a"}, nil)
	assert.True(t, isErr)
}

func TestMCP_Search(t *testing.T) {
	fx := newMCPFixture(t)

	var hits []taxonomy.SearchHit
	fx.call(t, "taxonomy_search", map[string]any{"query": "WE"}, &hits)
	require.Len(t, hits, 1)
	assert.Equal(t, taxonomy.SearchHit{Kind: taxonomy.HitSubcategory, ID: fx.subID, Name: "Web", ParentID: fx.catID}, hits[0])

	fx.call(t, "taxonomy_search", map[string]any{"query": "zzz"}, &hits)
	assert.Empty(t, hits)
}
