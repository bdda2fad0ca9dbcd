package taxonomy

import (
	"context"
	"fmt"

	"github.com/lthms/taxon/internal/bulktag"
	"github.com/lthms/taxon/internal/tree"
)

// DialogKind selects which dialog the explorer shows.
type DialogKind int

const (
	DialogNone DialogKind = iota
	DialogChooseAdd
	DialogCreate
	DialogRename
	DialogConfirmDelete
	DialogBulkAdd
)

// CreateTarget is what a create dialog produces.
type CreateTarget int

const (
	CreateSubcategory CreateTarget = iota + 1
	CreateCategoryTag
	CreateSubcategoryTag
)

func (t CreateTarget) String() string {
	switch t {
	case CreateSubcategory:
		return "subcategory"
	case CreateCategoryTag:
		return "category tag"
	case CreateSubcategoryTag:
		return "tag"
	}
	return "unknown"
}

// Choice is one option of a choose-add dialog.
type Choice struct {
	Label  string
	Target CreateTarget
}

// Dialog is the state of a modal interaction. It is a plain value; the
// explorer renders it and feeds user input back through the orchestrator.
type Dialog struct {
	Kind    DialogKind
	Node    tree.Node // the node the dialog acts on
	Title   string
	Message string
	Choices []Choice
	Target  CreateTarget
	Bulk    *bulktag.Session
}

// Open returns the dialog an action starts with. Copy runs immediately and
// returns no dialog.
func (o *Orchestrator) Open(ctx context.Context, n tree.Node, a tree.Action) (Dialog, error) {
	switch a {
	case tree.ActionAdd:
		return o.SmartAdd(n), nil
	case tree.ActionBulkAdd:
		return o.BulkDialog(ctx, n)
	case tree.ActionRename:
		return Dialog{Kind: DialogRename, Node: n, Title: fmt.Sprintf("Rename %s %q", n.Kind, n.Label)}, nil
	case tree.ActionDelete:
		return o.ConfirmDelete(n), nil
	case tree.ActionCopy:
		return Dialog{}, o.Copy(n)
	}
	return Dialog{}, fmt.Errorf("unknown action %v", a)
}

// SmartAdd asks what to add under a category, and goes straight to creating
// a tag under a subcategory. Tags get no dialog.
func (o *Orchestrator) SmartAdd(n tree.Node) Dialog {
	switch n.Kind {
	case tree.KindCategory:
		return Dialog{
			Kind:  DialogChooseAdd,
			Node:  n,
			Title: fmt.Sprintf("Add to %q", n.Label),
			Choices: []Choice{
				{Label: "Subcategory", Target: CreateSubcategory},
				{Label: "Category-level tag", Target: CreateCategoryTag},
			},
		}
	case tree.KindSubcategory:
		return createDialog(n, CreateSubcategoryTag)
	case tree.KindTag:
		return Dialog{}
	}
	return Dialog{}
}

// Choose advances a choose-add dialog to the create dialog of the chosen
// option. Out-of-range choices leave the dialog unchanged.
func (o *Orchestrator) Choose(d Dialog, i int) Dialog {
	if d.Kind != DialogChooseAdd || i < 0 || i >= len(d.Choices) {
		return d
	}
	return createDialog(d.Node, d.Choices[i].Target)
}

func createDialog(n tree.Node, target CreateTarget) Dialog {
	return Dialog{
		Kind:   DialogCreate,
		Node:   n,
		Target: target,
		Title:  fmt.Sprintf("New %s in %q", target, n.Label),
	}
}

// ConfirmDelete builds the confirmation for deleting a subcategory or tag.
func (o *Orchestrator) ConfirmDelete(n tree.Node) Dialog {
	d := Dialog{Kind: DialogConfirmDelete, Node: n, Title: fmt.Sprintf("Delete %s %q?", n.Kind, n.Label)}
	switch n.Kind {
	case tree.KindSubcategory:
		d.Message = "Its tags are deleted and detached from every item that used them."
	case tree.KindTag:
		d.Message = "The tag is detached from every item that used it."
	case tree.KindCategory:
		return Dialog{}
	}
	return d
}

// BulkDialog starts a bulk-add session seeded with the parent's existing
// tag names.
func (o *Orchestrator) BulkDialog(ctx context.Context, n tree.Node) (Dialog, error) {
	existing, err := o.ExistingTagNames(ctx, n)
	if err != nil {
		return Dialog{}, o.fail("Cannot start bulk add", err)
	}
	return Dialog{
		Kind:  DialogBulkAdd,
		Node:  n,
		Title: fmt.Sprintf("Bulk add tags to %q", n.Label),
		Bulk:  bulktag.NewSession(existing),
	}, nil
}

// Create submits a create dialog.
func (o *Orchestrator) Create(ctx context.Context, d Dialog, name, description string) error {
	switch d.Target {
	case CreateSubcategory:
		return o.AddSubcategory(ctx, d.Node.ID, name, description)
	case CreateCategoryTag:
		return o.AddTag(ctx, TagInput{CategoryID: d.Node.ID, Name: name, Description: description})
	case CreateSubcategoryTag:
		return o.AddTag(ctx, TagInput{SubcategoryID: d.Node.ID, Name: name, Description: description})
	}
	return o.fail("Cannot create", Invalid("nothing to create"))
}
