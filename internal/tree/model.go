package tree

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Action is a contextual operation offered on a node.
type Action int

const (
	ActionAdd Action = iota + 1
	ActionBulkAdd
	ActionRename
	ActionDelete
	ActionCopy
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionBulkAdd:
		return "bulk add"
	case ActionRename:
		return "rename"
	case ActionDelete:
		return "delete"
	case ActionCopy:
		return "copy"
	}
	return "unknown"
}

// Key returns the key binding of the action.
func (a Action) Key() string {
	switch a {
	case ActionAdd:
		return "a"
	case ActionBulkAdd:
		return "b"
	case ActionRename:
		return "r"
	case ActionDelete:
		return "d"
	case ActionCopy:
		return "y"
	}
	return ""
}

// ActionSet lists the actions available on a node.
type ActionSet func(n Node) []Action

// ActionMsg is emitted when the user triggers an action on the focused node.
type ActionMsg struct {
	Node   Node
	Action Action
}

// LoadFailedMsg is emitted when a children fetch fails. The node stays
// expanded with no children until it is toggled again.
type LoadFailedMsg struct {
	Node Node
	Err  error
}

// VersionMsg tells the model that the backing data changed.
type VersionMsg struct {
	Version int
	Roots   []Node
}

type childrenMsg struct {
	req      LoadRequest
	children []Node
	err      error
}

var (
	focusStyle  = lipgloss.NewStyle().Reverse(true)
	matchStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f9e2af"))
	branchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086"))
	badgeStyle  = lipgloss.NewStyle().Faint(true)
	emptyStyle  = lipgloss.NewStyle().Faint(true).Italic(true)
)

// Model is the bubbletea front end of an Engine.
type Model struct {
	engine  *Engine
	loader  Loader
	actions ActionSet
	ctx     context.Context

	width  int
	height int
	offset int
}

// NewModel builds a tree model. actions may be nil.
func NewModel(ctx context.Context, engine *Engine, loader Loader, actions ActionSet) Model {
	return Model{
		engine:  engine,
		loader:  loader,
		actions: actions,
		ctx:     ctx,
		width:   80,
		height:  20,
	}
}

// Engine exposes the underlying state machine.
func (m Model) Engine() *Engine { return m.engine }

// SetSize sets the area the tree renders into.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.clampOffset()
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case VersionMsg:
		if msg.Roots != nil {
			m.engine.SetRoots(msg.Roots)
		}
		if m.engine.SetVersion(msg.Version) {
			m.offset = 0
		}
		m.ensureFocus()
		return m, nil

	case childrenMsg:
		applied := m.engine.Resolve(msg.req, msg.children, msg.err)
		if applied && msg.err != nil {
			return m, func() tea.Msg { return LoadFailedMsg{Node: msg.req.Node, Err: msg.err} }
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	m.ensureFocus()
	n, ok := m.engine.FocusedNode()
	if !ok {
		return m, nil
	}

	var key Key
	switch msg.String() {
	case "up", "k":
		key = KeyUp
	case "down", "j":
		key = KeyDown
	case "left", "h":
		key = KeyLeft
	case "right", "l":
		key = KeyRight
	case "enter", " ":
		key = KeyToggle
	default:
		if a, ok := m.actionFor(n, msg.String()); ok {
			return m, func() tea.Msg { return ActionMsg{Node: n, Action: a} }
		}
		return m, nil
	}

	req := m.engine.Navigate(n, key)
	m.scrollToFocus()
	return m, m.load(req)
}

func (m Model) actionFor(n Node, key string) (Action, bool) {
	if m.actions == nil {
		return 0, false
	}
	for _, a := range m.actions(n) {
		if a.Key() == key {
			return a, true
		}
	}
	return 0, false
}

func (m Model) load(req *LoadRequest) tea.Cmd {
	if req == nil {
		return nil
	}
	r := *req
	loader, ctx := m.loader, m.ctx
	return func() tea.Msg {
		children, err := loader(ctx, r.Node)
		return childrenMsg{req: r, children: children, err: err}
	}
}

// ensureFocus puts focus on the first visible row when the focused node is
// gone (initial state, after a reset or after filtering).
func (m *Model) ensureFocus() {
	if _, ok := m.engine.FocusedNode(); ok {
		return
	}
	if rows := m.engine.Visible(); len(rows) > 0 {
		m.engine.SetFocus(rows[0].Node.ID)
	}
}

// SetFilter applies a filter and keeps focus on a visible row.
func (m *Model) SetFilter(q string) {
	m.engine.SetFilter(q)
	m.ensureFocus()
	m.scrollToFocus()
}

func (m *Model) scrollToFocus() {
	rows := m.engine.Visible()
	for i, r := range rows {
		if r.Node.ID != m.engine.Focus() {
			continue
		}
		if i < m.offset {
			m.offset = i
		} else if i >= m.offset+m.height {
			m.offset = i - m.height + 1
		}
		break
	}
	m.clampOffset()
}

func (m *Model) clampOffset() {
	maxOffset := len(m.engine.Visible()) - m.height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if m.offset > maxOffset {
		m.offset = maxOffset
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m Model) View() string {
	rows := m.engine.Visible()
	if len(rows) == 0 {
		if m.engine.Filter() != "" {
			return emptyStyle.Render("No matches.")
		}
		return emptyStyle.Render("Nothing here yet.")
	}

	end := min(m.offset+m.height, len(rows))
	var sb strings.Builder
	for i := m.offset; i < end; i++ {
		line := m.renderRow(rows[i])
		line = ansi.Truncate(line, m.width, "…")
		if rows[i].Node.ID == m.engine.Focus() {
			line = focusStyle.Render(line)
		}
		sb.WriteString(line)
		if i < end-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (m Model) renderRow(r Row) string {
	n := r.Node
	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", r.Depth))
	sb.WriteString(branchStyle.Render(m.indicator(n)))
	sb.WriteString(" ")

	if n.Color != "" {
		sb.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(n.Color)).Render("●"))
		sb.WriteString(" ")
	}

	before, match, after := Highlight(n.Label, m.engine.Filter())
	sb.WriteString(before)
	if match != "" {
		sb.WriteString(matchStyle.Render(match))
	}
	sb.WriteString(after)

	if n.Badge != "" {
		sb.WriteString(" ")
		sb.WriteString(badgeStyle.Render(n.Badge))
	}
	return sb.String()
}

func (m Model) indicator(n Node) string {
	switch {
	case n.Leaf:
		return "•"
	case m.engine.Loading(n.ID):
		return "…"
	case m.engine.Expanded(n.ID):
		return "▾"
	}
	return "▸"
}

// Help renders the key hints for the focused node.
func (m Model) Help() string {
	parts := []string{"↑↓ move", "←→ collapse/expand"}
	if n, ok := m.engine.FocusedNode(); ok && m.actions != nil {
		for _, a := range m.actions(n) {
			parts = append(parts, a.Key()+" "+a.String())
		}
	}
	return strings.Join(parts, " · ")
}
