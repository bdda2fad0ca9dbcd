package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/lthms/taxon/internal/search"
	"github.com/lthms/taxon/internal/taxonomy"
	"github.com/lthms/taxon/internal/tree"
)

// ExploreCmd opens the interactive tree explorer.
type ExploreCmd struct{}

func (cmd *ExploreCmd) Run(app *appEnv) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("explore needs an interactive terminal (try taxon tree)")
	}

	// The alt screen owns stderr from here on.
	if dir, err := stateDir(); err == nil {
		setupFileLogger(filepath.Join(dir, "taxon.log"))
	}

	toasts := newToastBuffer(50)
	s, err := app.open(toasts, systemClipboard)
	if err != nil {
		return err
	}
	defer s.close()

	debounce, err := app.cfg.Debounce()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	searcher := search.New(s.gw, app.cfg.User.ID, debounce, app.cfg.Explorer.SearchLimit)
	m := newExplorer(ctx, s.orch, searcher, toasts)

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

type explorerMode int

const (
	modeBrowse explorerMode = iota
	modeFilter
	modeSearch
	modeDialog
)

const defaultToastTTL = 4 * time.Second

type rootsMsg struct {
	roots   []tree.Node
	version int
	err     error
}

type dialogMsg struct {
	dialog taxonomy.Dialog
	err    error
}

// mutatedMsg reports the outcome of a submitted dialog.
type mutatedMsg struct{ err error }

type clipboardMsg struct {
	text string
	err  error
}

type toastExpiredMsg struct{}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#89b4fa"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af"))
	dialogStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#89b4fa")).
			Padding(0, 1)
)

// explorerModel composes the tree with the filter box, the global search and
// the action dialogs.
type explorerModel struct {
	ctx      context.Context
	orch     *taxonomy.Orchestrator
	tree     tree.Model
	searcher *search.Searcher
	toasts   *toastBuffer
	toastTTL time.Duration

	mode explorerMode

	filter textinput.Model

	query     textinput.Model
	hits      []taxonomy.SearchHit
	hitIdx    int
	searchErr error

	dialog    taxonomy.Dialog
	choice    int
	name      textinput.Model // name field, or the single-tag field of a bulk add
	desc      textinput.Model
	descFocus bool
	bulkNote  string
	busy      bool // a submission is in flight

	width  int
	height int
}

func newInput(placeholder string, limit int) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = limit
	ti.Prompt = ""
	ti.Cursor.SetMode(cursor.CursorStatic)
	return ti
}

func newExplorer(ctx context.Context, orch *taxonomy.Orchestrator, searcher *search.Searcher, toasts *toastBuffer) explorerModel {
	engine := tree.NewEngine(nil)
	return explorerModel{
		ctx:      ctx,
		orch:     orch,
		tree:     tree.NewModel(ctx, engine, orch.LoadChildren, orch.Actions),
		searcher: searcher,
		toasts:   toasts,
		toastTTL: defaultToastTTL,
		filter:   newInput("filter", taxonomy.MaxNameLength),
		query:    newInput("search everything", taxonomy.MaxNameLength),
		name:     newInput("name", taxonomy.MaxNameLength),
		desc:     newInput("description (optional)", 500),
		width:    80,
		height:   24,
	}
}

func (m explorerModel) Init() tea.Cmd {
	return m.loadRoots()
}

func (m explorerModel) loadRoots() tea.Cmd {
	orch, ctx := m.orch, m.ctx
	return func() tea.Msg {
		roots, err := orch.Roots(ctx)
		return rootsMsg{roots: roots, version: orch.Version(), err: err}
	}
}

func (m explorerModel) openDialog(n tree.Node, a tree.Action) tea.Cmd {
	orch, ctx := m.orch, m.ctx
	return func() tea.Msg {
		d, err := orch.Open(ctx, n, a)
		return dialogMsg{dialog: d, err: err}
	}
}

func (m explorerModel) expireToast() tea.Cmd {
	return tea.Tick(m.toastTTL, func(time.Time) tea.Msg { return toastExpiredMsg{} })
}

func (m explorerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.tree.SetSize(msg.Width, max(3, msg.Height-6))
		m.filter.Width = max(10, msg.Width/3)
		m.query.Width = max(10, msg.Width/3)
		return m, nil

	case rootsMsg:
		if msg.err != nil {
			m.toasts.Notify(taxonomy.LevelError, "Cannot load categories: "+msg.err.Error())
			return m, m.expireToast()
		}
		roots := msg.roots
		if roots == nil {
			roots = []tree.Node{}
		}
		var cmd tea.Cmd
		m.tree, cmd = m.tree.Update(tree.VersionMsg{Version: msg.version, Roots: roots})
		return m, cmd

	case tree.ActionMsg:
		return m, m.openDialog(msg.Node, msg.Action)

	case dialogMsg:
		if msg.err != nil || msg.dialog.Kind == taxonomy.DialogNone {
			return m, m.expireToast()
		}
		m.showDialog(msg.dialog)
		return m, nil

	case mutatedMsg:
		m.busy = false
		if msg.err != nil {
			// Keep the dialog so the input can be fixed and resubmitted.
			return m, m.expireToast()
		}
		m.closeDialog()
		return m, tea.Batch(m.loadRoots(), m.expireToast())

	case clipboardMsg:
		if msg.err != nil {
			m.toasts.Notify(taxonomy.LevelError, "Cannot read clipboard: "+msg.err.Error())
			return m, m.expireToast()
		}
		if m.mode == modeDialog && m.dialog.Kind == taxonomy.DialogBulkAdd {
			m.bulkNote = m.orch.Paste(m.dialog.Bulk, msg.text).String()
			return m, m.expireToast()
		}
		return m, nil

	case tree.LoadFailedMsg:
		m.toasts.Notify(taxonomy.LevelError, fmt.Sprintf("Cannot load %q: %v", msg.Node.Label, msg.Err))
		return m, m.expireToast()

	case search.TickMsg:
		return m, m.searcher.Fire(m.ctx, msg)

	case search.ResultsMsg:
		if !m.searcher.Accept(msg) {
			return m, nil
		}
		m.hits = msg.Hits
		m.searchErr = msg.Err
		m.hitIdx = 0
		return m, nil

	case toastExpiredMsg:
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.tree, cmd = m.tree.Update(msg)
	cmds = append(cmds, cmd)
	cmds = append(cmds, m.updateActiveInput(msg))
	return m, tea.Batch(cmds...)
}

// updateActiveInput forwards non-key messages (clipboard pastes) to the
// focused text field.
func (m *explorerModel) updateActiveInput(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch m.mode {
	case modeFilter:
		m.filter, cmd = m.filter.Update(msg)
		m.tree.SetFilter(m.filter.Value())
	case modeSearch:
		before := m.query.Value()
		m.query, cmd = m.query.Update(msg)
		if m.query.Value() != before {
			cmd = tea.Batch(cmd, m.searcher.Input(m.query.Value()))
		}
	case modeDialog:
		if m.descFocus {
			m.desc, cmd = m.desc.Update(msg)
		} else {
			m.name, cmd = m.name.Update(msg)
		}
	}
	return cmd
}

func (m explorerModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.mode {
	case modeFilter:
		return m.handleFilterKey(msg)
	case modeSearch:
		return m.handleSearchKey(msg)
	case modeDialog:
		return m.handleDialogKey(msg)
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "/":
		m.mode = modeFilter
		m.filter.Focus()
		return m, nil
	case "s":
		m.mode = modeSearch
		m.query.Focus()
		return m, nil
	case "esc":
		m.filter.SetValue("")
		m.tree.SetFilter("")
		return m, nil
	}

	var cmd tea.Cmd
	m.tree, cmd = m.tree.Update(msg)
	return m, cmd
}

func (m explorerModel) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filter.SetValue("")
		m.tree.SetFilter("")
		m.filter.Blur()
		m.mode = modeBrowse
		return m, nil
	case tea.KeyEnter:
		m.filter.Blur()
		m.mode = modeBrowse
		return m, nil
	case tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.tree, cmd = m.tree.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.tree.SetFilter(m.filter.Value())
	return m, cmd
}

func (m explorerModel) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.leaveSearch()
		return m, m.searcher.Input("")
	case tea.KeyUp:
		if m.hitIdx > 0 {
			m.hitIdx--
		}
		return m, nil
	case tea.KeyDown:
		if m.hitIdx < len(m.hits)-1 {
			m.hitIdx++
		}
		return m, nil
	case tea.KeyEnter:
		if len(m.hits) == 0 {
			return m, nil
		}
		h := m.hits[m.hitIdx]
		m.leaveSearch()
		m.filter.SetValue(h.Name)
		m.tree.SetFilter(h.Name)
		return m, m.searcher.Input("")
	}

	before := m.query.Value()
	var cmd tea.Cmd
	m.query, cmd = m.query.Update(msg)
	if m.query.Value() == before {
		return m, cmd
	}
	if strings.TrimSpace(m.query.Value()) == "" {
		m.hits = nil
		m.searchErr = nil
	}
	return m, tea.Batch(cmd, m.searcher.Input(m.query.Value()))
}

func (m *explorerModel) leaveSearch() {
	m.query.SetValue("")
	m.query.Blur()
	m.hits = nil
	m.searchErr = nil
	m.hitIdx = 0
	m.mode = modeBrowse
}

func (m *explorerModel) showDialog(d taxonomy.Dialog) {
	m.mode = modeDialog
	m.dialog = d
	m.choice = 0
	m.bulkNote = ""
	m.busy = false
	m.name.SetValue("")
	m.desc.SetValue("")
	m.descFocus = false
	m.desc.Blur()
	m.name.Focus()
	if d.Kind == taxonomy.DialogRename {
		m.name.SetValue(d.Node.Label)
		m.name.CursorEnd()
	}
}

func (m *explorerModel) closeDialog() {
	m.dialog = taxonomy.Dialog{}
	m.mode = modeBrowse
	m.name.Blur()
	m.desc.Blur()
}

// submit runs a mutation off the update loop.
func (m explorerModel) submit(run func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	m.busy = true
	ctx := m.ctx
	return m, func() tea.Msg { return mutatedMsg{err: run(ctx)} }
}

func (m explorerModel) handleDialogKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	if msg.Type == tea.KeyEsc {
		m.closeDialog()
		return m, nil
	}

	d, orch := m.dialog, m.orch
	switch d.Kind {
	case taxonomy.DialogChooseAdd:
		switch msg.String() {
		case "up", "k":
			if m.choice > 0 {
				m.choice--
			}
		case "down", "j":
			if m.choice < len(d.Choices)-1 {
				m.choice++
			}
		case "enter":
			m.choose(m.choice)
		default:
			if n, err := strconv.Atoi(msg.String()); err == nil {
				m.choose(n - 1)
			}
		}
		return m, nil

	case taxonomy.DialogCreate:
		switch msg.Type {
		case tea.KeyTab, tea.KeyShiftTab:
			m.descFocus = !m.descFocus
			if m.descFocus {
				m.name.Blur()
				m.desc.Focus()
			} else {
				m.desc.Blur()
				m.name.Focus()
			}
			return m, nil
		case tea.KeyEnter:
			name, desc := m.name.Value(), m.desc.Value()
			return m.submit(func(ctx context.Context) error { return orch.Create(ctx, d, name, desc) })
		}

	case taxonomy.DialogRename:
		if msg.Type == tea.KeyEnter {
			name := m.name.Value()
			return m.submit(func(ctx context.Context) error { return orch.Rename(ctx, d.Node, name) })
		}

	case taxonomy.DialogConfirmDelete:
		switch msg.String() {
		case "y", "enter":
			return m.submit(func(ctx context.Context) error { return orch.Delete(ctx, d.Node) })
		case "n":
			m.closeDialog()
		}
		return m, nil

	case taxonomy.DialogBulkAdd:
		return m.handleBulkKey(msg)
	}

	var cmd tea.Cmd
	if m.descFocus {
		m.desc, cmd = m.desc.Update(msg)
	} else {
		m.name, cmd = m.name.Update(msg)
	}
	return m, cmd
}

// choose advances a choose-add dialog; out-of-range picks are ignored.
func (m *explorerModel) choose(i int) {
	next := m.orch.Choose(m.dialog, i)
	if next.Kind != m.dialog.Kind {
		m.showDialog(next)
	}
}

func (m explorerModel) handleBulkKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	bulk := m.dialog.Bulk
	if msg.Paste {
		m.bulkNote = m.orch.Paste(bulk, string(msg.Runes)).String()
		return m, m.expireToast()
	}

	switch msg.Type {
	case tea.KeyCtrlV:
		return m, func() tea.Msg {
			text, err := clipboard.ReadAll()
			return clipboardMsg{text: text, err: err}
		}
	case tea.KeyCtrlX:
		if p := bulk.Pending(); len(p) > 0 {
			bulk.Remove(p[len(p)-1])
		}
		return m, nil
	case tea.KeyEnter:
		if field := strings.TrimSpace(m.name.Value()); field != "" {
			bulk.Add(field)
			m.name.SetValue("")
			return m, nil
		}
		node, orch := m.dialog.Node, m.orch
		return m.submit(func(ctx context.Context) error {
			_, err := orch.BulkAdd(ctx, node, bulk)
			return err
		})
	}

	var cmd tea.Cmd
	m.name, cmd = m.name.Update(msg)
	if rest := bulk.Type(m.name.Value()); rest != m.name.Value() {
		m.name.SetValue(rest)
	}
	return m, cmd
}

func (m explorerModel) View() string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("taxon"))
	switch {
	case m.mode == modeSearch:
		sb.WriteString("  search: " + m.query.View())
	case m.mode == modeFilter || m.filter.Value() != "":
		sb.WriteString("  filter: " + m.filter.View())
	}
	sb.WriteString("\n\n")

	if m.mode == modeSearch {
		sb.WriteString(m.searchView())
	} else {
		sb.WriteString(m.tree.View())
	}
	if m.mode == modeDialog {
		sb.WriteString("\n\n")
		sb.WriteString(dialogStyle.Width(min(64, max(20, m.width-4))).Render(m.dialogView()))
	}

	sb.WriteString("\n\n")
	sb.WriteString(m.statusLine())
	return sb.String()
}

func (m explorerModel) searchView() string {
	switch {
	case m.searchErr != nil:
		return errorStyle.Render("Search failed: " + m.searchErr.Error())
	case strings.TrimSpace(m.query.Value()) == "":
		return helpStyle.Render("Type to search categories, subcategories and tags.")
	case len(m.hits) == 0:
		return helpStyle.Render("No matches.")
	}
	lines := make([]string, len(m.hits))
	for i, h := range m.hits {
		line := fmt.Sprintf("%-12s %s", h.Kind, h.Name)
		if i == m.hitIdx {
			line = cursorStyle.Render("› " + line)
		} else {
			line = "  " + line
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func (m explorerModel) dialogView() string {
	d := m.dialog
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(d.Title))
	sb.WriteString("\n\n")

	switch d.Kind {
	case taxonomy.DialogChooseAdd:
		for i, c := range d.Choices {
			line := fmt.Sprintf("%d. %s", i+1, c.Label)
			if i == m.choice {
				sb.WriteString(cursorStyle.Render("› " + line))
			} else {
				sb.WriteString("  " + line)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n" + helpStyle.Render("↑↓ choose · enter select · esc cancel"))

	case taxonomy.DialogCreate:
		sb.WriteString("Name:        " + m.name.View() + "\n")
		sb.WriteString("Description: " + m.desc.View() + "\n")
		sb.WriteString("\n" + helpStyle.Render("tab switch field · enter save · esc cancel"))

	case taxonomy.DialogRename:
		sb.WriteString("Name: " + m.name.View() + "\n")
		sb.WriteString("\n" + helpStyle.Render("enter save · esc cancel"))

	case taxonomy.DialogConfirmDelete:
		sb.WriteString(d.Message + "\n")
		sb.WriteString("\n" + helpStyle.Render("y delete · n cancel"))

	case taxonomy.DialogBulkAdd:
		sb.WriteString("Tag: " + m.name.View() + "\n")
		if m.bulkNote != "" {
			sb.WriteString(helpStyle.Render("Pasted: "+m.bulkNote) + "\n")
		}
		sb.WriteString(m.pendingView())
		sb.WriteString("\n" + helpStyle.Render(", or enter add · enter on empty submits · ctrl+v paste · ctrl+x drop last · esc cancel"))
	}

	if m.busy {
		sb.WriteString("\n" + helpStyle.Render("Saving…"))
	}
	return sb.String()
}

func (m explorerModel) pendingView() string {
	pending := m.dialog.Bulk.Pending()
	if len(pending) == 0 {
		return helpStyle.Render("No pending tags.") + "\n"
	}
	exists := make(map[string]bool)
	for _, e := range m.dialog.Bulk.Existing() {
		exists[strings.ToLower(e)] = true
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pending (%d):\n", len(pending))
	for _, p := range pending {
		if exists[strings.ToLower(p)] {
			sb.WriteString("  " + helpStyle.Render(p+" (exists)") + "\n")
		} else {
			sb.WriteString("  " + pendingStyle.Render(p) + "\n")
		}
	}
	return sb.String()
}

func (m explorerModel) statusLine() string {
	if t, ok := m.toasts.Current(m.toastTTL); ok {
		switch t.Level {
		case taxonomy.LevelError:
			return errorStyle.Render(t.Msg)
		case taxonomy.LevelSuccess:
			return successStyle.Render(t.Msg)
		}
		return t.Msg
	}
	switch m.mode {
	case modeFilter:
		return helpStyle.Render("type to filter · enter keep · esc clear")
	case modeSearch:
		return helpStyle.Render("type to search · ↑↓ select · enter show in tree · esc close")
	case modeDialog:
		return ""
	}
	return helpStyle.Render(m.tree.Help() + " · / filter · s search · q quit")
}
