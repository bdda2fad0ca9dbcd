package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lthms/taxon/internal/bulktag"
	"github.com/lthms/taxon/internal/tree"
)

// Level classifies a user notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	}
	return "info"
}

// Notifier shows short messages to the user.
type Notifier interface {
	Notify(level Level, msg string)
}

// Clipboard copies text for the user.
type Clipboard func(text string) error

type discardNotifier struct{}

func (discardNotifier) Notify(Level, string) {}

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Gateway   Gateway
	UserID    string
	Notifier  Notifier  // optional
	Clipboard Clipboard // optional
	Logger    *slog.Logger
}

// Orchestrator feeds the tree explorer from a Gateway and turns user actions
// into gateway calls. Every successful mutation bumps the version, which
// makes the tree drop all cached state.
type Orchestrator struct {
	gw     Gateway
	userID string
	notify Notifier
	clip   Clipboard
	log    *slog.Logger

	mu         sync.Mutex
	version    int
	backfilled map[string]bool // categories backfilled this session
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("taxonomy: Gateway must not be nil")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("taxonomy: UserID must not be empty")
	}
	o := &Orchestrator{
		gw:         cfg.Gateway,
		userID:     cfg.UserID,
		notify:     cfg.Notifier,
		clip:       cfg.Clipboard,
		log:        cfg.Logger,
		backfilled: make(map[string]bool),
	}
	if o.notify == nil {
		o.notify = discardNotifier{}
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o, nil
}

// Version returns the current data version.
func (o *Orchestrator) Version() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.version
}

func (o *Orchestrator) bumpVersion() {
	o.mu.Lock()
	o.version++
	v := o.version
	o.mu.Unlock()
	o.log.Debug("taxonomy: version bumped", "version", v)
}

// Roots returns one node per category.
func (o *Orchestrator) Roots(ctx context.Context) ([]tree.Node, error) {
	cats, err := o.gw.FetchCategories(ctx, o.userID)
	if err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	nodes := make([]tree.Node, len(cats))
	for i, c := range cats {
		nodes[i] = CategoryNode(c)
	}
	return nodes, nil
}

// LoadChildren is the tree's loader. Categories are backfilled from legacy
// tags on first visit, then list their subcategories followed by their
// category-level tags.
func (o *Orchestrator) LoadChildren(ctx context.Context, n tree.Node) ([]tree.Node, error) {
	switch n.Kind {
	case tree.KindCategory:
		if err := o.backfill(ctx, n.ID); err != nil {
			return nil, err
		}
		var subs []Subcategory
		var tags []Tag
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			subs, err = o.gw.FetchSubcategories(gctx, o.userID, n.ID)
			if err != nil {
				return fmt.Errorf("fetch subcategories: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			var err error
			tags, err = o.gw.FetchCategoryTags(gctx, o.userID, n.ID)
			if err != nil {
				return fmt.Errorf("fetch category tags: %w", err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		nodes := make([]tree.Node, 0, len(subs)+len(tags))
		for _, s := range subs {
			nodes = append(nodes, SubcategoryNode(s))
		}
		for _, t := range tags {
			nodes = append(nodes, TagNode(t))
		}
		return nodes, nil

	case tree.KindSubcategory:
		tags, err := o.gw.FetchSubcategoryTags(ctx, o.userID, n.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch subcategory tags: %w", err)
		}
		nodes := make([]tree.Node, len(tags))
		for i, t := range tags {
			nodes[i] = TagNode(t)
		}
		return nodes, nil

	case tree.KindTag:
		return nil, nil
	}
	return nil, fmt.Errorf("load children: unknown node kind %v", n.Kind)
}

// backfill promotes legacy free-text tags of a category into category-level
// tags, once per session. Unique-constraint conflicts count as done.
func (o *Orchestrator) backfill(ctx context.Context, categoryID string) error {
	o.mu.Lock()
	done := o.backfilled[categoryID]
	o.mu.Unlock()
	if done {
		return nil
	}

	results := make([][]string, len(LegacySources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range LegacySources {
		g.Go(func() error {
			names, err := o.gw.LegacyTags(gctx, o.userID, categoryID, src)
			if err != nil {
				return fmt.Errorf("legacy tags from %s: %w", src, err)
			}
			results[i] = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	names := union(results...)
	if len(names) > 0 {
		_, err := o.gw.UpsertCategoryTagsByNames(ctx, o.userID, categoryID, names)
		if err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("backfill category tags: %w", err)
		}
		o.log.Info("taxonomy: legacy tags backfilled", "category", categoryID, "count", len(names))
	}

	o.mu.Lock()
	o.backfilled[categoryID] = true
	o.mu.Unlock()
	return nil
}

// union merges lists case-sensitively, keeping first-seen order.
func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Actions lists the contextual actions of a node.
func (o *Orchestrator) Actions(n tree.Node) []tree.Action {
	switch n.Kind {
	case tree.KindCategory:
		return []tree.Action{tree.ActionAdd, tree.ActionBulkAdd, tree.ActionCopy}
	case tree.KindSubcategory:
		return []tree.Action{tree.ActionAdd, tree.ActionBulkAdd, tree.ActionRename, tree.ActionDelete, tree.ActionCopy}
	case tree.KindTag:
		return []tree.Action{tree.ActionRename, tree.ActionDelete, tree.ActionCopy}
	}
	return nil
}

// ExistingTagNames returns the names of the tags directly under a category
// or subcategory.
func (o *Orchestrator) ExistingTagNames(ctx context.Context, parent tree.Node) ([]string, error) {
	var tags []Tag
	var err error
	switch parent.Kind {
	case tree.KindCategory:
		tags, err = o.gw.FetchCategoryTags(ctx, o.userID, parent.ID)
	case tree.KindSubcategory:
		tags, err = o.gw.FetchSubcategoryTags(ctx, o.userID, parent.ID)
	default:
		return nil, Invalid("%s %q cannot hold tags", parent.Kind, parent.Label)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch existing tags: %w", err)
	}
	return TagNames(tags), nil
}

// AddSubcategory creates a subcategory under a category.
func (o *Orchestrator) AddSubcategory(ctx context.Context, categoryID, name, description string) error {
	in := SubcategoryInput{
		UserID:      o.userID,
		CategoryID:  categoryID,
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
	}
	if err := Validate(in); err != nil {
		return o.fail("Cannot add subcategory", err)
	}
	s, err := o.gw.CreateSubcategory(ctx, in)
	if err != nil {
		return o.fail("Cannot add subcategory", err)
	}
	return o.succeed(fmt.Sprintf("Added subcategory %q", s.Name))
}

// AddTag creates one tag. When both scopes are set the subcategory wins.
func (o *Orchestrator) AddTag(ctx context.Context, in TagInput) error {
	in.UserID = o.userID
	in = in.Normalize()
	in.Description = strings.TrimSpace(in.Description)
	if err := in.Validate(); err != nil {
		return o.fail("Cannot add tag", err)
	}
	t, err := o.gw.CreateTag(ctx, in)
	if err != nil {
		return o.fail("Cannot add tag", err)
	}
	return o.succeed(fmt.Sprintf("Added tag %q", t.Name))
}

// Rename renames a subcategory or a tag.
func (o *Orchestrator) Rename(ctx context.Context, n tree.Node, name string) error {
	name = strings.TrimSpace(name)
	switch n.Kind {
	case tree.KindSubcategory:
		patch := SubcategoryPatch{Name: &name}
		if err := Validate(patch); err != nil {
			return o.fail("Cannot rename subcategory", err)
		}
		if _, err := o.gw.UpdateSubcategory(ctx, n.ID, patch); err != nil {
			return o.fail("Cannot rename subcategory", err)
		}
	case tree.KindTag:
		patch := TagPatch{Name: &name}
		if err := Validate(patch); err != nil {
			return o.fail("Cannot rename tag", err)
		}
		if _, err := o.gw.UpdateTag(ctx, n.ID, patch); err != nil {
			return o.fail("Cannot rename tag", err)
		}
	case tree.KindCategory:
		return o.fail("Cannot rename", Invalid("categories are managed from the category list"))
	default:
		return o.fail("Cannot rename", Invalid("unknown node kind %v", n.Kind))
	}
	return o.succeed(fmt.Sprintf("Renamed %s to %q", n.Kind, name))
}

// Delete removes a subcategory or a tag. Deleting a subcategory removes its
// tags and their item associations through the backend's referential
// cleanup.
func (o *Orchestrator) Delete(ctx context.Context, n tree.Node) error {
	var err error
	switch n.Kind {
	case tree.KindSubcategory:
		err = o.gw.DeleteSubcategory(ctx, n.ID)
	case tree.KindTag:
		err = o.gw.DeleteTag(ctx, n.ID)
	case tree.KindCategory:
		err = Invalid("categories are managed from the category list")
	default:
		err = Invalid("unknown node kind %v", n.Kind)
	}
	if err != nil {
		return o.fail(fmt.Sprintf("Cannot delete %q", n.Label), err)
	}
	return o.succeed(fmt.Sprintf("Deleted %s %q", n.Kind, n.Label))
}

// BulkResult reports a bulk submission.
type BulkResult struct {
	Created int
	Skipped []string
	Tags    []Tag
}

// BulkAdd submits a bulk session for a category or subcategory. Validation
// failures (nothing pending, everything already present) abort before any
// gateway call. Pending names that already exist at the destination are
// skipped.
func (o *Orchestrator) BulkAdd(ctx context.Context, parent tree.Node, session *bulktag.Session) (BulkResult, error) {
	sub, err := session.Prepare()
	if err != nil {
		return BulkResult{Skipped: sub.Skipped}, o.fail("Nothing to add", err)
	}

	var tags []Tag
	switch parent.Kind {
	case tree.KindCategory:
		tags, err = o.gw.UpsertCategoryTagsByNames(ctx, o.userID, parent.ID, sub.Creatable)
	case tree.KindSubcategory:
		tags, err = o.gw.UpsertSubcategoryTagsByNames(ctx, o.userID, parent.ID, sub.Creatable)
	default:
		err = Invalid("%s %q cannot hold tags", parent.Kind, parent.Label)
	}
	if err != nil {
		return BulkResult{}, o.fail("Bulk add failed", err)
	}

	res := BulkResult{Created: len(sub.Creatable), Skipped: sub.Skipped, Tags: tags}
	msg := fmt.Sprintf("Added %d tags to %q", res.Created, parent.Label)
	if n := session.AlreadyExisting(sub); n > 0 {
		msg += fmt.Sprintf(" (%d already existed)", n)
	}
	return res, o.succeed(msg)
}

// Paste feeds text to a bulk session and reports how it was classified.
func (o *Orchestrator) Paste(session *bulktag.Session, text string) bulktag.Summary {
	summary := session.Paste(text)
	o.log.Debug("taxonomy: bulk paste", "new", summary.New, "in_list", summary.InList, "exists", summary.Exists)
	o.notify.Notify(LevelInfo, "Parsed: "+summary.String())
	return summary
}

// Copy puts the node's label on the clipboard.
func (o *Orchestrator) Copy(n tree.Node) error {
	if o.clip == nil {
		return o.fail("Cannot copy", errors.New("clipboard unavailable"))
	}
	if err := o.clip(n.Label); err != nil {
		return o.fail("Cannot copy", err)
	}
	o.notify.Notify(LevelInfo, fmt.Sprintf("Copied %q", n.Label))
	return nil
}

func (o *Orchestrator) fail(prefix string, err error) error {
	o.log.Warn("taxonomy: action failed", "action", prefix, "error", err)
	o.notify.Notify(LevelError, fmt.Sprintf("%s: %v", prefix, err))
	return err
}

func (o *Orchestrator) succeed(msg string) error {
	o.log.Info("taxonomy: " + msg)
	o.notify.Notify(LevelSuccess, msg)
	o.bumpVersion()
	return nil
}

// CategoryNode converts a category to a tree node.
func CategoryNode(c Category) tree.Node {
	return tree.Node{
		ID:          c.ID,
		Label:       c.Name,
		Kind:        tree.KindCategory,
		Color:       c.Color,
		Description: c.Description,
	}
}

// SubcategoryNode converts a subcategory to a tree node.
func SubcategoryNode(s Subcategory) tree.Node {
	return tree.Node{
		ID:          s.ID,
		Label:       s.Name,
		Kind:        tree.KindSubcategory,
		Color:       s.Color,
		Description: s.Description,
	}
}

// TagNode converts a tag to a leaf node. Category-level tags carry a badge
// so they stand apart from subcategories.
func TagNode(t Tag) tree.Node {
	n := tree.Node{
		ID:          t.ID,
		Label:       t.Name,
		Kind:        tree.KindTag,
		Leaf:        true,
		Description: t.Description,
	}
	if t.Scope() == ScopeCategory {
		n.Badge = "#"
	}
	return n
}
