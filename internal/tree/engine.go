// Package tree implements a lazily loaded, filterable, keyboard-driven tree
// view. The Engine holds the state machine; Model renders it with bubbletea.
package tree

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Kind is the closed set of node kinds shown in the tree.
type Kind int

const (
	KindCategory Kind = iota + 1
	KindSubcategory
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindSubcategory:
		return "subcategory"
	case KindTag:
		return "tag"
	}
	return "unknown"
}

// Node is the transient view model of a taxonomy entity. ID equals the
// entity id.
type Node struct {
	ID          string
	Label       string
	Kind        Kind
	Leaf        bool // known to have no children; never fetched
	Color       string
	Description string
	Badge       string
}

// Loader fetches the children of a node.
type Loader func(ctx context.Context, n Node) ([]Node, error)

// LoadRequest is issued when a node needs its children fetched. It must be
// handed back to Resolve with the result.
type LoadRequest struct {
	Node    Node
	Version int
	Token   uint64
}

// Row is one line of the flattened visible tree.
type Row struct {
	Node  Node
	Depth int
}

// Key is a navigation key.
type Key int

const (
	KeyUp Key = iota + 1
	KeyDown
	KeyLeft
	KeyRight
	KeyToggle
)

// Engine is the tree state machine. It is not safe for concurrent use; in
// the explorer it is only touched from the bubbletea update loop.
type Engine struct {
	roots    []Node
	version  int
	expanded map[string]bool
	children map[string][]Node
	loading  map[string]uint64 // node id -> token of the fetch in flight
	focus    string
	filter   string
	seq      uint64
}

// NewEngine returns an engine showing roots.
func NewEngine(roots []Node) *Engine {
	e := &Engine{roots: roots}
	e.reset()
	return e
}

func (e *Engine) reset() {
	e.expanded = make(map[string]bool)
	e.children = make(map[string][]Node)
	e.loading = make(map[string]uint64)
	e.focus = ""
}

// SetRoots replaces the root nodes. Caches are kept; use SetVersion to
// invalidate them.
func (e *Engine) SetRoots(roots []Node) {
	e.roots = roots
}

// Roots returns the root nodes.
func (e *Engine) Roots() []Node { return e.roots }

// Version returns the version the caches belong to.
func (e *Engine) Version() int { return e.version }

// SetVersion resets expansion, the children cache, loading state and focus
// when v differs from the current version. It reports whether a reset
// happened.
func (e *Engine) SetVersion(v int) bool {
	if v == e.version {
		return false
	}
	e.version = v
	e.reset()
	return true
}

// Expanded reports whether the node is expanded.
func (e *Engine) Expanded(id string) bool { return e.expanded[id] }

// Loading reports whether a fetch for the node is in flight.
func (e *Engine) Loading(id string) bool {
	_, ok := e.loading[id]
	return ok
}

// Children returns the cached children of a node.
func (e *Engine) Children(id string) ([]Node, bool) {
	c, ok := e.children[id]
	return c, ok
}

// Focus returns the focused node id, or "" when nothing is focused.
func (e *Engine) Focus() string { return e.focus }

// SetFocus moves focus to id.
func (e *Engine) SetFocus(id string) { e.focus = id }

// FocusedNode returns the focused node if it is currently visible.
func (e *Engine) FocusedNode() (Node, bool) {
	for _, r := range e.Visible() {
		if r.Node.ID == e.focus {
			return r.Node, true
		}
	}
	return Node{}, false
}

// Toggle flips the expansion of n. On the first expansion of a node that may
// have children and has neither a cache entry nor a fetch in flight, it marks
// the node loading and returns the request to run.
func (e *Engine) Toggle(n Node) *LoadRequest {
	if e.expanded[n.ID] {
		delete(e.expanded, n.ID)
		return nil
	}
	e.expanded[n.ID] = true
	return e.requestChildren(n)
}

func (e *Engine) requestChildren(n Node) *LoadRequest {
	if n.Leaf {
		return nil
	}
	if _, cached := e.children[n.ID]; cached {
		return nil
	}
	if e.Loading(n.ID) {
		return nil
	}
	e.seq++
	e.loading[n.ID] = e.seq
	return &LoadRequest{Node: n, Version: e.version, Token: e.seq}
}

// Resolve records the outcome of a load request. Responses for an older
// version or a superseded token are discarded. On error the cache stays
// unset so that collapsing and expanding again retries the fetch. It reports
// whether the response was applied.
func (e *Engine) Resolve(req LoadRequest, children []Node, err error) bool {
	if req.Version != e.version {
		return false
	}
	if tok, ok := e.loading[req.Node.ID]; !ok || tok != req.Token {
		return false
	}
	delete(e.loading, req.Node.ID)
	if err != nil {
		return true
	}
	if children == nil {
		children = []Node{}
	}
	e.children[req.Node.ID] = children
	return true
}

// Load runs req through loader and resolves it. It is the synchronous path
// used outside the bubbletea loop.
func (e *Engine) Load(ctx context.Context, loader Loader, req *LoadRequest) error {
	if req == nil {
		return nil
	}
	children, err := loader(ctx, req.Node)
	e.Resolve(*req, children, err)
	return err
}

// Navigate applies a key to n. Right expands a collapsed node, Left collapses
// an expanded one without moving focus, Up and Down move focus through the
// visible order, which is recomputed on every call.
func (e *Engine) Navigate(n Node, key Key) *LoadRequest {
	switch key {
	case KeyRight:
		if !e.expanded[n.ID] {
			return e.Toggle(n)
		}
	case KeyLeft:
		if e.expanded[n.ID] {
			e.Toggle(n)
		}
	case KeyToggle:
		return e.Toggle(n)
	case KeyUp, KeyDown:
		e.moveFocus(n, key)
	}
	return nil
}

func (e *Engine) moveFocus(from Node, key Key) {
	rows := e.Visible()
	if len(rows) == 0 {
		return
	}
	idx := -1
	for i, r := range rows {
		if r.Node.ID == from.ID {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		idx = 0
	case key == KeyDown && idx < len(rows)-1:
		idx++
	case key == KeyUp && idx > 0:
		idx--
	}
	e.focus = rows[idx].Node.ID
}

// SetFilter sets the substring filter. The query is trimmed.
func (e *Engine) SetFilter(q string) {
	e.filter = strings.TrimSpace(q)
}

// Filter returns the active filter.
func (e *Engine) Filter() string { return e.filter }

// Visible flattens the tree depth-first. A node is shown when its label
// matches the filter or when it is expanded and one of its loaded children
// is shown. Children are only visited for expanded nodes with a cache entry.
func (e *Engine) Visible() []Row {
	var rows []Row
	q := strings.ToLower(e.filter)
	for _, n := range e.roots {
		rows = e.appendVisible(rows, n, 0, q)
	}
	return rows
}

func (e *Engine) appendVisible(rows []Row, n Node, depth int, q string) []Row {
	var sub []Row
	if e.expanded[n.ID] {
		for _, c := range e.children[n.ID] {
			sub = e.appendVisible(sub, c, depth+1, q)
		}
	}
	if !matches(n.Label, q) && len(sub) == 0 {
		return rows
	}
	rows = append(rows, Row{Node: n, Depth: depth})
	return append(rows, sub...)
}

func matches(label, lowerQuery string) bool {
	return lowerQuery == "" || strings.Contains(strings.ToLower(label), lowerQuery)
}

// Highlight splits label around the first case-insensitive occurrence of
// query. When there is no match, before holds the whole label.
func Highlight(label, query string) (before, match, after string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return label, "", ""
	}
	if !isASCII(label) {
		return highlightRunes(label, query)
	}
	lower, lq := strings.ToLower(label), strings.ToLower(query)
	i := strings.Index(lower, lq)
	if i < 0 {
		return label, "", ""
	}
	return label[:i], label[i : i+len(lq)], label[i+len(lq):]
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// highlightRunes compares rune by rune: lower-casing keeps the rune count
// but not the byte length of each rune.
func highlightRunes(label, query string) (before, match, after string) {
	lr := []rune(label)
	qr := []rune(strings.ToLower(query))
	for i := 0; i+len(qr) <= len(lr); i++ {
		if strings.ToLower(string(lr[i:i+len(qr)])) == string(qr) {
			return string(lr[:i]), string(lr[i : i+len(qr)]), string(lr[i+len(qr):])
		}
	}
	return label, "", ""
}
