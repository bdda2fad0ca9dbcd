package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lthms/taxon/internal/search"
	"github.com/lthms/taxon/internal/taxonomy"
	"github.com/lthms/taxon/internal/taxonomy/taxonomytest"
	"github.com/lthms/taxon/internal/tree"
)

type explorerFixture struct {
	mem    *taxonomytest.Memory
	toasts *toastBuffer
	copied []string
	catID  string
	subID  string
}

// newExplorerFixture builds Security > {Web > xss, audit} and an explorer
// whose roots are already loaded.
func newExplorerFixture(t *testing.T) (*explorerFixture, explorerModel) {
	t.Helper()
	ctx := context.Background()
	fx := &explorerFixture{mem: taxonomytest.NewMemory(), toasts: newToastBuffer(20)}

	cat, err := fx.mem.CreateCategory(ctx, taxonomy.CategoryInput{UserID: "u1", Name: "Security", Color: "#ff0000"})
	require.NoError(t, err)
	sub, err := fx.mem.CreateSubcategory(ctx, taxonomy.SubcategoryInput{UserID: "u1", CategoryID: cat.ID, Name: "Web"})
	require.NoError(t, err)
	_, err = fx.mem.CreateTag(ctx, taxonomy.TagInput{UserID: "u1", SubcategoryID: sub.ID, Name: "xss"})
	require.NoError(t, err)
	_, err = fx.mem.CreateTag(ctx, taxonomy.TagInput{UserID: "u1", CategoryID: cat.ID, Name: "audit"})
	require.NoError(t, err)
	fx.catID, fx.subID = cat.ID, sub.ID

	orch, err := taxonomy.New(taxonomy.Config{
		Gateway:  fx.mem,
		UserID:   "u1",
		Notifier: fx.toasts,
		Clipboard: func(text string) error {
			fx.copied = append(fx.copied, text)
			return nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	m := newExplorer(ctx, orch, search.New(fx.mem, "u1", time.Millisecond, 10), fx.toasts)
	m.toastTTL = time.Millisecond
	m = feed(t, m, run(m.Init())...)
	return fx, m
}

// feed delivers msgs and every message their commands produce, in order,
// until the model settles.
func feed(t *testing.T, m explorerModel, msgs ...tea.Msg) explorerModel {
	t.Helper()
	queue := append([]tea.Msg(nil), msgs...)
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 500 {
			t.Fatal("explorer did not settle")
		}
		msg := queue[0]
		queue = queue[1:]
		next, cmd := m.Update(msg)
		m = next.(explorerModel)
		queue = append(queue, run(cmd)...)
	}
	return m
}

func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	switch msg := cmd().(type) {
	case nil:
		return nil
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, run(c)...)
		}
		return out
	default:
		return []tea.Msg{msg}
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "ctrl+u":
		return tea.KeyMsg{Type: tea.KeyCtrlU}
	case "ctrl+x":
		return tea.KeyMsg{Type: tea.KeyCtrlX}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func paste(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s), Paste: true}
}

func visibleLabels(m explorerModel) []string {
	var labels []string
	for _, r := range m.tree.Engine().Visible() {
		labels = append(labels, r.Node.Label)
	}
	return labels
}

func lastToast(t *testing.T, b *toastBuffer) toast {
	t.Helper()
	items := b.Items()
	require.NotEmpty(t, items)
	return items[len(items)-1]
}

func subcategoryTagNames(t *testing.T, fx *explorerFixture) []string {
	t.Helper()
	tags, err := fx.mem.FetchSubcategoryTags(context.Background(), "u1", fx.subID)
	require.NoError(t, err)
	return taxonomy.TagNames(tags)
}

func TestExplorer_LoadsRootsAndExpands(t *testing.T) {
	_, m := newExplorerFixture(t)
	assert.Equal(t, []string{"Security"}, visibleLabels(m))

	m = feed(t, m, key("right"))
	assert.Equal(t, []string{"Security", "Web", "audit"}, visibleLabels(m))
	assert.Contains(t, m.View(), "Security")
}

func TestExplorer_FilterMode(t *testing.T) {
	_, m := newExplorerFixture(t)
	m = feed(t, m, key("right"), key("/"), key("we"))
	assert.Equal(t, modeFilter, m.mode)
	assert.Equal(t, []string{"Security", "Web"}, visibleLabels(m))

	m = feed(t, m, key("esc"))
	assert.Equal(t, modeBrowse, m.mode)
	assert.Equal(t, "", m.tree.Engine().Filter())
	assert.Equal(t, []string{"Security", "Web", "audit"}, visibleLabels(m))
}

func TestExplorer_SearchHitBecomesFilter(t *testing.T) {
	_, m := newExplorerFixture(t)
	m = feed(t, m, key("s"), key("xs"))
	require.Equal(t, modeSearch, m.mode)
	require.Len(t, m.hits, 1)
	assert.Equal(t, "xss", m.hits[0].Name)
	assert.Contains(t, m.View(), "xss")

	m = feed(t, m, key("enter"))
	assert.Equal(t, modeBrowse, m.mode)
	assert.Nil(t, m.hits)
	assert.Equal(t, "xss", m.tree.Engine().Filter())
}

func TestExplorer_StaleSearchResultsDiscarded(t *testing.T) {
	_, m := newExplorerFixture(t)
	m = feed(t, m, key("s"))

	stale := run(m.searcher.Input("sec"))
	require.Len(t, stale, 1)
	tick := stale[0].(search.TickMsg)

	m = feed(t, m, key("xs"))
	m = feed(t, m, search.ResultsMsg{
		Token: tick.Token,
		Query: "sec",
		Hits:  []taxonomy.SearchHit{{Kind: taxonomy.HitCategory, ID: "old", Name: "Security"}},
	})
	require.Len(t, m.hits, 1)
	assert.Equal(t, "xss", m.hits[0].Name)
}

func TestExplorer_BulkAdd(t *testing.T) {
	fx, m := newExplorerFixture(t)
	m = feed(t, m, key("right"), key("down"), key("b"))
	require.Equal(t, modeDialog, m.mode)
	require.Equal(t, taxonomy.DialogBulkAdd, m.dialog.Kind)

	m = feed(t, m, paste("sqli, SQLi, xss"))
	assert.Equal(t, "2 new, 1 already exists", m.bulkNote)
	assert.Equal(t, "Parsed: 2 new, 1 already exists", lastToast(t, fx.toasts).Msg)
	assert.Equal(t, []string{"sqli", "SQLi"}, m.dialog.Bulk.Pending())

	m = feed(t, m, key("csrf,"))
	assert.Equal(t, "", m.name.Value())
	assert.Equal(t, []string{"sqli", "SQLi", "csrf"}, m.dialog.Bulk.Pending())

	m = feed(t, m, key("ctrl+x"), key("enter"))
	assert.Equal(t, modeBrowse, m.mode)
	assert.Equal(t, 1, m.tree.Engine().Version())

	assert.Equal(t, []string{"SQLi", "sqli", "xss"}, subcategoryTagNames(t, fx))

	got := lastToast(t, fx.toasts)
	assert.Equal(t, taxonomy.LevelSuccess, got.Level)
	assert.Equal(t, `Added 2 tags to "Web" (1 already existed)`, got.Msg)
}

func TestExplorer_CreateFailureKeepsDialog(t *testing.T) {
	fx, m := newExplorerFixture(t)
	m = feed(t, m, key("right"), key("down"), key("a"))
	require.Equal(t, taxonomy.DialogCreate, m.dialog.Kind)
	assert.Equal(t, taxonomy.CreateSubcategoryTag, m.dialog.Target)

	m = feed(t, m, key("xss"), key("enter"))
	assert.Equal(t, modeDialog, m.mode)
	assert.False(t, m.busy)
	assert.Equal(t, taxonomy.LevelError, lastToast(t, fx.toasts).Level)

	m = feed(t, m, key("ctrl+u"), key("csrf"), key("enter"))
	assert.Equal(t, modeBrowse, m.mode)
	assert.Equal(t, []string{"csrf", "xss"}, subcategoryTagNames(t, fx))
}

func TestExplorer_ChooseAddOnCategory(t *testing.T) {
	fx, m := newExplorerFixture(t)
	m = feed(t, m, key("a"))
	require.Equal(t, taxonomy.DialogChooseAdd, m.dialog.Kind)

	m = feed(t, m, key("9"))
	assert.Equal(t, taxonomy.DialogChooseAdd, m.dialog.Kind)

	m = feed(t, m, key("2"))
	require.Equal(t, taxonomy.DialogCreate, m.dialog.Kind)
	assert.Equal(t, taxonomy.CreateCategoryTag, m.dialog.Target)

	m = feed(t, m, key("recon"), key("tab"), key("reconnaissance"), key("enter"))
	assert.Equal(t, modeBrowse, m.mode)

	tags, err := fx.mem.FetchCategoryTags(context.Background(), "u1", fx.catID)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "recon", tags[1].Name)
	assert.Equal(t, "reconnaissance", tags[1].Description)
}

func TestExplorer_RenameThenDelete(t *testing.T) {
	fx, m := newExplorerFixture(t)
	m = feed(t, m, key("right"), key("down"), key("r"))
	require.Equal(t, taxonomy.DialogRename, m.dialog.Kind)
	assert.Equal(t, "Web", m.name.Value())

	m = feed(t, m, key("ctrl+u"), key("Webapp"), key("enter"))
	assert.Equal(t, modeBrowse, m.mode)
	// The version bump collapses the tree.
	assert.Equal(t, []string{"Security"}, visibleLabels(m))

	m = feed(t, m, key("right"))
	assert.Equal(t, []string{"Security", "Webapp", "audit"}, visibleLabels(m))

	m = feed(t, m, key("down"), key("d"))
	require.Equal(t, taxonomy.DialogConfirmDelete, m.dialog.Kind)
	m = feed(t, m, key("y"))
	assert.Equal(t, modeBrowse, m.mode)

	subs, err := fx.mem.FetchSubcategories(context.Background(), "u1", fx.catID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestExplorer_EscCancelsDialog(t *testing.T) {
	fx, m := newExplorerFixture(t)
	m = feed(t, m, key("right"), key("down"), key("d"))
	require.Equal(t, taxonomy.DialogConfirmDelete, m.dialog.Kind)

	m = feed(t, m, key("esc"))
	assert.Equal(t, modeBrowse, m.mode)
	assert.Zero(t, fx.mem.CallCount("DeleteSubcategory"))
}

func TestExplorer_Copy(t *testing.T) {
	fx, m := newExplorerFixture(t)
	m = feed(t, m, key("y"))

	assert.Equal(t, []string{"Security"}, fx.copied)
	assert.Equal(t, modeBrowse, m.mode)
	assert.Equal(t, `Copied "Security"`, lastToast(t, fx.toasts).Msg)
}

func TestExplorer_LoadFailureToasts(t *testing.T) {
	fx, m := newExplorerFixture(t)
	fx.mem.SetFail("FetchSubcategories", errors.New("boom"))

	m = feed(t, m, key("right"))
	got := lastToast(t, fx.toasts)
	assert.Equal(t, taxonomy.LevelError, got.Level)
	assert.Contains(t, got.Msg, "boom")
	assert.False(t, m.tree.Engine().Loading(fx.catID))
	_, cached := m.tree.Engine().Children(fx.catID)
	assert.False(t, cached)
}

func TestExplorer_Quit(t *testing.T) {
	_, m := newExplorerFixture(t)
	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestExplorer_ActionKeysOnTags(t *testing.T) {
	_, m := newExplorerFixture(t)
	m = feed(t, m, key("right"), key("down"), key("down"))
	n, ok := m.tree.Engine().FocusedNode()
	require.True(t, ok)
	require.Equal(t, tree.KindTag, n.Kind)

	// Tags have no add action.
	m = feed(t, m, key("a"))
	assert.Equal(t, modeBrowse, m.mode)
}
