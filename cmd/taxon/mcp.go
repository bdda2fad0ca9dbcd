package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lthms/taxon/internal/bulktag"
	"github.com/lthms/taxon/internal/taxonomy"
	"github.com/lthms/taxon/internal/tree"
)

// MCPCmd serves the taxonomy to agents over stdio.
type MCPCmd struct{}

func (cmd *MCPCmd) Run(app *appEnv) error {
	s, err := app.open(nil, nil)
	if err != nil {
		return err
	}
	defer s.close()

	server := newMCPServer(&mcpTools{
		orch:   s.orch,
		gw:     s.gw,
		userID: app.cfg.User.ID,
		limit:  app.cfg.Explorer.SearchLimit,
	})
	slog.Debug("starting MCP server")
	return server.Run(context.Background(), &mcp.StdioTransport{})
}

type childrenArgs struct {
	CategoryID    string `json:"category_id,omitempty" jsonschema:"Category whose subcategories and category-level tags to list"`
	SubcategoryID string `json:"subcategory_id,omitempty" jsonschema:"Subcategory whose tags to list; takes precedence over category_id"`
}

type bulkAddArgs struct {
	CategoryID    string `json:"category_id,omitempty" jsonschema:"Category receiving category-level tags"`
	SubcategoryID string `json:"subcategory_id,omitempty" jsonschema:"Subcategory receiving the tags; takes precedence over category_id"`
	Text          string `json:"text" jsonschema:"Tag names separated by commas, newlines, tabs, semicolons or pipes"`
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"Case-insensitive substring to look for"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of results"`
}

// mcpNode is the wire form of a tree node.
type mcpNode struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	CategoryLevel bool   `json:"category_level,omitempty"`
	Description   string `json:"description,omitempty"`
}

type bulkAddResult struct {
	Parsed  bulktag.Summary `json:"parsed"`
	Created int             `json:"created"`
	Skipped []string        `json:"skipped,omitempty"`
	Tags    []taxonomy.Tag  `json:"tags"`
}

type mcpTools struct {
	orch   *taxonomy.Orchestrator
	gw     taxonomy.Gateway
	userID string
	limit  int
}

func newMCPServer(t *mcpTools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "taxon",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "taxonomy_children",
		Description: "List taxonomy nodes. Without ids, returns the categories; with category_id, its subcategories then its category-level tags; with subcategory_id, its tags. Returns a JSON array of {id, name, kind}.",
	}, t.handleChildren)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tags_bulk_add",
		Description: "Add several tags at once to a subcategory or category. Names already present (case-insensitive) are skipped. Returns a JSON summary.",
	}, t.handleBulkAdd)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "taxonomy_search",
		Description: "Search categories, subcategories and tags by name. Returns a JSON array of {kind, id, name, parent_id}.",
	}, t.handleSearch)

	return server
}

func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

func (t *mcpTools) handleChildren(ctx context.Context, req *mcp.CallToolRequest, args childrenArgs) (*mcp.CallToolResult, any, error) {
	slog.Debug("taxonomy_children called", "category_id", args.CategoryID, "subcategory_id", args.SubcategoryID)

	var nodes []tree.Node
	var err error
	switch {
	case args.SubcategoryID != "":
		nodes, err = t.orch.LoadChildren(ctx, tree.Node{ID: args.SubcategoryID, Kind: tree.KindSubcategory})
	case args.CategoryID != "":
		nodes, err = t.orch.LoadChildren(ctx, tree.Node{ID: args.CategoryID, Kind: tree.KindCategory})
	default:
		nodes, err = t.orch.Roots(ctx)
	}
	if err != nil {
		return nil, nil, err
	}

	out := make([]mcpNode, len(nodes))
	for i, n := range nodes {
		out[i] = mcpNode{
			ID:            n.ID,
			Name:          n.Label,
			Kind:          n.Kind.String(),
			CategoryLevel: n.Kind == tree.KindTag && n.Badge != "",
			Description:   n.Description,
		}
	}
	return textResult(out)
}

func (t *mcpTools) handleBulkAdd(ctx context.Context, req *mcp.CallToolRequest, args bulkAddArgs) (*mcp.CallToolResult, any, error) {
	slog.Debug("tags_bulk_add called", "category_id", args.CategoryID, "subcategory_id", args.SubcategoryID)

	parent, err := t.parentNode(ctx, args.CategoryID, args.SubcategoryID)
	if err != nil {
		return nil, nil, err
	}
	existing, err := t.orch.ExistingTagNames(ctx, parent)
	if err != nil {
		return nil, nil, err
	}

	bulk := bulktag.NewSession(existing)
	summary := t.orch.Paste(bulk, args.Text)
	res, err := t.orch.BulkAdd(ctx, parent, bulk)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (parsed: %s)", err, summary)
	}
	return textResult(bulkAddResult{
		Parsed:  summary,
		Created: res.Created,
		Skipped: res.Skipped,
		Tags:    res.Tags,
	})
}

// parentNode resolves the destination of a bulk add. The subcategory wins
// when both ids are given. Labels are looked up for the result message.
func (t *mcpTools) parentNode(ctx context.Context, categoryID, subcategoryID string) (tree.Node, error) {
	if categoryID == "" && subcategoryID == "" {
		return tree.Node{}, taxonomy.Invalid("category_id or subcategory_id is required")
	}

	if subcategoryID != "" {
		n := tree.Node{ID: subcategoryID, Label: subcategoryID, Kind: tree.KindSubcategory}
		if categoryID != "" {
			children, err := t.orch.LoadChildren(ctx, tree.Node{ID: categoryID, Kind: tree.KindCategory})
			if err != nil {
				return tree.Node{}, err
			}
			for _, c := range children {
				if c.ID == subcategoryID && c.Kind == tree.KindSubcategory {
					return c, nil
				}
			}
			return tree.Node{}, fmt.Errorf("%w: subcategory %s is not in category %s", taxonomy.ErrNotFound, subcategoryID, categoryID)
		}
		return n, nil
	}

	roots, err := t.orch.Roots(ctx)
	if err != nil {
		return tree.Node{}, err
	}
	for _, r := range roots {
		if r.ID == categoryID {
			return r, nil
		}
	}
	return tree.Node{}, fmt.Errorf("%w: category %s", taxonomy.ErrNotFound, categoryID)
}

func (t *mcpTools) handleSearch(ctx context.Context, req *mcp.CallToolRequest, args searchArgs) (*mcp.CallToolResult, any, error) {
	slog.Debug("taxonomy_search called", "query", args.Query)

	limit := args.Limit
	if limit <= 0 {
		limit = t.limit
	}
	hits, err := t.gw.Search(ctx, t.userID, args.Query, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("search failed: %w", err)
	}
	if hits == nil {
		hits = []taxonomy.SearchHit{}
	}
	return textResult(hits)
}
