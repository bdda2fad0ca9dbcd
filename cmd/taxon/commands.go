package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lthms/taxon/internal/bulktag"
	"github.com/lthms/taxon/internal/taxonomy"
	"github.com/lthms/taxon/internal/tree"
)

// TreeCmd prints the taxonomy, fully expanded.
type TreeCmd struct {
	Category string `short:"c" help:"Only print this category."`
}

func (cmd *TreeCmd) Run(app *appEnv) error {
	s, err := app.open(nil, nil)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := context.Background()
	roots, err := s.orch.Roots(ctx)
	if err != nil {
		return err
	}
	if cmd.Category != "" {
		n, ok := findNode(roots, tree.KindCategory, cmd.Category)
		if !ok {
			return fmt.Errorf("%w: no category named %q", taxonomy.ErrNotFound, cmd.Category)
		}
		roots = []tree.Node{n}
	}
	if len(roots) == 0 {
		fmt.Fprintln(app.out, "No categories yet.")
		return nil
	}
	p := treePrinter{orch: s.orch, w: app.out, color: app.styled()}
	for _, r := range roots {
		if err := p.print(ctx, r, 0); err != nil {
			return err
		}
	}
	return nil
}

type treePrinter struct {
	orch  *taxonomy.Orchestrator
	w     io.Writer
	color bool
}

func (p treePrinter) print(ctx context.Context, n tree.Node, depth int) error {
	line := strings.Repeat("  ", depth) + n.Label
	if n.Color != "" && p.color {
		line = strings.Repeat("  ", depth) +
			lipgloss.NewStyle().Foreground(lipgloss.Color(n.Color)).Render("●") + " " + n.Label
	}
	if n.Badge != "" {
		line += " " + n.Badge
	}
	fmt.Fprintln(p.w, line)

	if n.Leaf {
		return nil
	}
	children, err := p.orch.LoadChildren(ctx, n)
	if err != nil {
		return fmt.Errorf("load %s %q: %w", n.Kind, n.Label, err)
	}
	for _, c := range children {
		if err := p.print(ctx, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// findNode returns the node of the given kind whose label matches name,
// preferring an exact match over a case-insensitive one.
func findNode(nodes []tree.Node, kind tree.Kind, name string) (tree.Node, bool) {
	var fold *tree.Node
	for i, n := range nodes {
		if n.Kind != kind {
			continue
		}
		if n.Label == name {
			return n, true
		}
		if fold == nil && strings.EqualFold(n.Label, name) {
			fold = &nodes[i]
		}
	}
	if fold != nil {
		return *fold, true
	}
	return tree.Node{}, false
}

// resolveParent finds the category, or the subcategory inside it, that tags
// are added to.
func resolveParent(ctx context.Context, orch *taxonomy.Orchestrator, category, subcategory string) (tree.Node, error) {
	roots, err := orch.Roots(ctx)
	if err != nil {
		return tree.Node{}, err
	}
	cat, ok := findNode(roots, tree.KindCategory, category)
	if !ok {
		return tree.Node{}, fmt.Errorf("%w: no category named %q", taxonomy.ErrNotFound, category)
	}
	if subcategory == "" {
		return cat, nil
	}
	children, err := orch.LoadChildren(ctx, cat)
	if err != nil {
		return tree.Node{}, err
	}
	sub, ok := findNode(children, tree.KindSubcategory, subcategory)
	if !ok {
		return tree.Node{}, fmt.Errorf("%w: no subcategory named %q in %q", taxonomy.ErrNotFound, subcategory, cat.Label)
	}
	return sub, nil
}

// TagsCmd groups the tag subcommands.
type TagsCmd struct {
	Add TagsAddCmd `cmd:"" help:"Add tags in bulk to a category or subcategory."`
}

// TagsAddCmd runs a bulk-add session from arguments or stdin.
type TagsAddCmd struct {
	Category    string   `required:"" short:"c" help:"Category name."`
	Subcategory string   `short:"s" help:"Subcategory name inside the category."`
	DryRun      bool     `name:"dry-run" help:"Only report how the input would be classified."`
	Names       []string `arg:"" optional:"" help:"Tag names or separated lists. Read from stdin when omitted."`
}

func (cmd *TagsAddCmd) Run(app *appEnv) error {
	text := strings.Join(cmd.Names, "\n")
	if len(cmd.Names) == 0 {
		data, err := io.ReadAll(app.in)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}

	s, err := app.open(printNotifier{w: app.out}, nil)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := context.Background()
	parent, err := resolveParent(ctx, s.orch, cmd.Category, cmd.Subcategory)
	if err != nil {
		return err
	}
	existing, err := s.orch.ExistingTagNames(ctx, parent)
	if err != nil {
		return err
	}

	bulk := bulktag.NewSession(existing)
	s.orch.Paste(bulk, text)
	if cmd.DryRun {
		for _, name := range bulk.Pending() {
			fmt.Fprintf(app.out, "  + %s\n", name)
		}
		return nil
	}

	_, err = s.orch.BulkAdd(ctx, parent, bulk)
	return err
}

// SearchCmd runs the global name search once.
type SearchCmd struct {
	Query string `arg:"" help:"Case-insensitive substring to look for."`
	Limit int    `short:"n" help:"Maximum number of results (default explorer.search-limit)."`
	JSON  bool   `name:"json" help:"Print results as JSON."`
}

func (cmd *SearchCmd) Run(app *appEnv) error {
	s, err := app.open(nil, nil)
	if err != nil {
		return err
	}
	defer s.close()

	limit := cmd.Limit
	if limit <= 0 {
		limit = app.cfg.Explorer.SearchLimit
	}
	hits, err := s.gw.Search(context.Background(), app.cfg.User.ID, cmd.Query, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if cmd.JSON {
		if hits == nil {
			hits = []taxonomy.SearchHit{}
		}
		enc := json.NewEncoder(app.out)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}
	if len(hits) == 0 {
		fmt.Fprintln(app.out, "No matches.")
		return nil
	}
	for _, h := range hits {
		fmt.Fprintf(app.out, "%-12s %s\n", h.Kind, h.Name)
	}
	return nil
}

// ImportCmd merges a YAML seed.
type ImportCmd struct {
	File string `arg:"" help:"Seed file, or - for stdin."`
}

func (cmd *ImportCmd) Run(app *appEnv) error {
	var data []byte
	var err error
	if cmd.File == "-" {
		data, err = io.ReadAll(app.in)
	} else {
		data, err = os.ReadFile(cmd.File)
	}
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	seed, err := taxonomy.ParseSeed(data)
	if err != nil {
		return err
	}

	s, err := app.open(nil, nil)
	if err != nil {
		return err
	}
	defer s.close()

	stats, err := s.orch.Import(context.Background(), seed)
	if err != nil && stats == (taxonomy.ImportStats{}) {
		return err
	}
	fmt.Fprintf(app.out, "Imported %d categories, %d subcategories, %d tags\n",
		stats.Categories, stats.Subcategories, stats.Tags)
	return err
}

// ExportCmd writes the taxonomy as a YAML seed.
type ExportCmd struct {
	Output string `short:"o" type:"path" help:"Write to this file instead of stdout."`
}

func (cmd *ExportCmd) Run(app *appEnv) error {
	s, err := app.open(nil, nil)
	if err != nil {
		return err
	}
	defer s.close()

	seed, err := s.orch.Export(context.Background())
	if err != nil {
		return err
	}
	data, err := seed.Marshal()
	if err != nil {
		return fmt.Errorf("encode seed: %w", err)
	}
	if cmd.Output == "" {
		_, err = app.out.Write(data)
		return err
	}
	if err := os.WriteFile(cmd.Output, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Output, err)
	}
	return nil
}
