package tree

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLoader serves children from a fixed map and counts calls per node.
type stubLoader struct {
	children map[string][]Node
	calls    map[string]int
	err      error
}

func newStubLoader(children map[string][]Node) *stubLoader {
	return &stubLoader{children: children, calls: make(map[string]int)}
}

func (s *stubLoader) load(_ context.Context, n Node) ([]Node, error) {
	s.calls[n.ID]++
	if s.err != nil {
		return nil, s.err
	}
	return s.children[n.ID], nil
}

func node(id string, kind Kind) Node {
	return Node{ID: id, Label: id, Kind: kind, Leaf: kind == KindTag}
}

func ids(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Node.ID
	}
	return out
}

// sampleTree: root A (children B, C) and root D (child E).
func sampleTree() (*Engine, *stubLoader) {
	a, d := node("A", KindCategory), node("D", KindCategory)
	loader := newStubLoader(map[string][]Node{
		"A": {node("B", KindSubcategory), node("C", KindTag)},
		"D": {node("E", KindTag)},
		"B": {},
	})
	return NewEngine([]Node{a, d}), loader
}

func TestToggle_LoadsOnceAndCaches(t *testing.T) {
	e, loader := sampleTree()
	ctx := context.Background()
	a := e.Roots()[0]

	req := e.Toggle(a)
	require.NotNil(t, req)
	assert.True(t, e.Loading("A"))
	require.NoError(t, e.Load(ctx, loader.load, req))
	assert.False(t, e.Loading("A"))

	// Collapse then expand again: cache hit.
	assert.Nil(t, e.Toggle(a))
	assert.False(t, e.Expanded("A"))
	assert.Nil(t, e.Toggle(a))
	assert.True(t, e.Expanded("A"))

	assert.Equal(t, 1, loader.calls["A"])
}

func TestToggle_LeafNeverLoads(t *testing.T) {
	e := NewEngine([]Node{node("T", KindTag)})
	assert.Nil(t, e.Toggle(e.Roots()[0]))
	assert.True(t, e.Expanded("T"))
}

func TestToggle_NoDoubleFetchWhileInFlight(t *testing.T) {
	e, _ := sampleTree()
	a := e.Roots()[0]

	first := e.Toggle(a)
	require.NotNil(t, first)
	assert.Nil(t, e.Toggle(a)) // collapse
	assert.Nil(t, e.Toggle(a)) // expand again while loading

	assert.True(t, e.Resolve(*first, []Node{node("B", KindSubcategory)}, nil))
	children, ok := e.Children("A")
	require.True(t, ok)
	assert.Len(t, children, 1)
}

func TestResolve_ErrorLeavesNodeRetryable(t *testing.T) {
	e, loader := sampleTree()
	ctx := context.Background()
	a := e.Roots()[0]
	loader.err = errors.New("network down")

	err := e.Load(ctx, loader.load, e.Toggle(a))
	require.Error(t, err)
	assert.True(t, e.Expanded("A"))
	assert.False(t, e.Loading("A"))
	_, cached := e.Children("A")
	assert.False(t, cached)
	assert.Equal(t, []string{"A", "D"}, ids(e.Visible()))

	loader.err = nil
	assert.Nil(t, e.Toggle(a))
	req := e.Toggle(a)
	require.NotNil(t, req)
	require.NoError(t, e.Load(ctx, loader.load, req))
	assert.Equal(t, 2, loader.calls["A"])
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(e.Visible()))
}

func TestSetVersion_ResetsEverything(t *testing.T) {
	e, loader := sampleTree()
	ctx := context.Background()
	a, d := e.Roots()[0], e.Roots()[1]

	require.NoError(t, e.Load(ctx, loader.load, e.Toggle(a)))
	require.NoError(t, e.Load(ctx, loader.load, e.Toggle(d)))
	pending := e.Toggle(node("B", KindSubcategory))
	require.NotNil(t, pending)
	e.SetFocus("C")

	assert.False(t, e.SetVersion(0))
	assert.True(t, e.SetVersion(1))

	assert.False(t, e.Expanded("A"))
	assert.False(t, e.Expanded("D"))
	assert.False(t, e.Loading("B"))
	_, cached := e.Children("A")
	assert.False(t, cached)
	assert.Empty(t, e.Focus())
	assert.Equal(t, []string{"A", "D"}, ids(e.Visible()))
}

func TestResolve_DiscardsStaleVersion(t *testing.T) {
	e, _ := sampleTree()
	a := e.Roots()[0]

	stale := e.Toggle(a)
	require.NotNil(t, stale)
	e.SetVersion(1)

	fresh := e.Toggle(a)
	require.NotNil(t, fresh)

	assert.False(t, e.Resolve(*stale, []Node{node("OLD", KindTag)}, nil))
	assert.True(t, e.Loading("A"))

	assert.True(t, e.Resolve(*fresh, []Node{node("NEW", KindTag)}, nil))
	children, _ := e.Children("A")
	assert.Equal(t, "NEW", children[0].ID)
}

func TestNavigate_Order(t *testing.T) {
	e, loader := sampleTree()
	ctx := context.Background()
	a, d := e.Roots()[0], e.Roots()[1]
	require.NoError(t, e.Load(ctx, loader.load, e.Toggle(a)))

	e.SetFocus("A")
	var visited []string
	for i := 0; i < 4; i++ {
		visited = append(visited, e.Focus())
		n, ok := e.FocusedNode()
		require.True(t, ok)
		e.Navigate(n, KeyDown)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, visited)
	assert.Equal(t, "D", e.Focus()) // clamped at the end

	// Right on collapsed D expands it.
	req := e.Navigate(d, KeyRight)
	require.NotNil(t, req)
	require.NoError(t, e.Load(ctx, loader.load, req))
	assert.True(t, e.Expanded("D"))

	// Left on expanded A collapses it and keeps focus.
	e.SetFocus("A")
	assert.Nil(t, e.Navigate(a, KeyLeft))
	assert.False(t, e.Expanded("A"))
	assert.Equal(t, "A", e.Focus())

	// Left on a collapsed node is a no-op.
	e.Navigate(a, KeyLeft)
	assert.False(t, e.Expanded("A"))
}

func TestNavigate_UpClampsAtTop(t *testing.T) {
	e, _ := sampleTree()
	e.SetFocus("A")
	e.Navigate(e.Roots()[0], KeyUp)
	assert.Equal(t, "A", e.Focus())
}

func TestVisible_Filter(t *testing.T) {
	e, loader := sampleTree()
	ctx := context.Background()
	require.NoError(t, e.Load(ctx, loader.load, e.Toggle(e.Roots()[0])))

	e.SetFilter("  c ")
	// A is kept because it is expanded and its loaded child C matches.
	assert.Equal(t, []string{"A", "C"}, ids(e.Visible()))

	// E is not loaded, so D is pruned even though E would match.
	e.SetFilter("e")
	assert.Empty(t, e.Visible())

	e.SetFilter("d")
	assert.Equal(t, []string{"D"}, ids(e.Visible()))

	e.SetFilter("")
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(e.Visible()))
}

func TestVisible_Depth(t *testing.T) {
	e, loader := sampleTree()
	ctx := context.Background()
	require.NoError(t, e.Load(ctx, loader.load, e.Toggle(e.Roots()[0])))

	rows := e.Visible()
	require.Len(t, rows, 4)
	assert.Equal(t, 0, rows[0].Depth)
	assert.Equal(t, 1, rows[1].Depth)
	assert.Equal(t, 1, rows[2].Depth)
	assert.Equal(t, 0, rows[3].Depth)
}

func TestHighlight(t *testing.T) {
	tests := []struct {
		label, query          string
		before, match, after string
	}{
		{"Injection", "JECT", "In", "ject", "ion"},
		{"Injection", "", "Injection", "", ""},
		{"Injection", "zzz", "Injection", "", ""},
		{"web web", "WEB", "", "web", " web"},
		{"Straße", "SS", "Straße", "", ""},
		{"İstanbul", "stan", "İ", "stan", "bul"},
		{"\u212AwebȺȺ", "WEB", "\u212A", "web", "ȺȺ"},
	}
	for _, tt := range tests {
		t.Run(tt.label+"/"+tt.query, func(t *testing.T) {
			b, m, a := Highlight(tt.label, tt.query)
			assert.Equal(t, tt.before, b)
			assert.Equal(t, tt.match, m)
			assert.Equal(t, tt.after, a)
		})
	}
}
