// Package search runs the explorer's global name search. Keystrokes are
// debounced and every query carries a token so that replies arriving out of
// order never overwrite the results of a later query.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lthms/taxon/internal/taxonomy"
)

// DefaultDebounce is the delay between the last keystroke and the query.
const DefaultDebounce = 300 * time.Millisecond

// Gate issues monotonically increasing tokens and accepts only the latest.
type Gate struct {
	mu     sync.Mutex
	latest uint64
}

// Issue returns a fresh token, superseding every earlier one.
func (g *Gate) Issue() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latest++
	return g.latest
}

// Accept reports whether token is the most recently issued one.
func (g *Gate) Accept(token uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return token == g.latest
}

// TickMsg fires when the debounce delay for a keystroke elapsed.
type TickMsg struct{ Token uint64 }

// ResultsMsg carries the hits of one query.
type ResultsMsg struct {
	Token uint64
	Query string
	Hits  []taxonomy.SearchHit
	Err   error
}

// Searcher debounces queries against a gateway.
type Searcher struct {
	gw       taxonomy.Gateway
	userID   string
	debounce time.Duration
	limit    int

	gate  Gate
	query string
}

// New creates a searcher. Zero debounce or limit select the defaults.
func New(gw taxonomy.Gateway, userID string, debounce time.Duration, limit int) *Searcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if limit <= 0 {
		limit = 20
	}
	return &Searcher{gw: gw, userID: userID, debounce: debounce, limit: limit}
}

// Query returns the query the searcher currently tracks.
func (s *Searcher) Query() string { return s.query }

// Input records a new query value and returns the debounce timer command.
// An empty query cancels any pending search.
func (s *Searcher) Input(query string) tea.Cmd {
	s.query = strings.TrimSpace(query)
	tok := s.gate.Issue()
	if s.query == "" {
		return nil
	}
	return tea.Tick(s.debounce, func(time.Time) tea.Msg { return TickMsg{Token: tok} })
}

// Fire runs the query for a debounce tick that is still current.
func (s *Searcher) Fire(ctx context.Context, tick TickMsg) tea.Cmd {
	if !s.gate.Accept(tick.Token) {
		return nil
	}
	gw, userID, query, limit := s.gw, s.userID, s.query, s.limit
	return func() tea.Msg {
		hits, err := gw.Search(ctx, userID, query, limit)
		return ResultsMsg{Token: tick.Token, Query: query, Hits: hits, Err: err}
	}
}

// Accept reports whether results belong to the latest query.
func (s *Searcher) Accept(res ResultsMsg) bool {
	return s.gate.Accept(res.Token)
}
