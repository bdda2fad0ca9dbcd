// Package bulktag turns pasted or typed text into candidate tag names and
// tracks the pending list of a bulk-add session.
package bulktag

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var (
	// ErrEmpty is returned when a submission has no pending tags.
	ErrEmpty = errors.New("no tags to add")
	// ErrAllDuplicates is returned when every pending tag already exists at
	// the destination.
	ErrAllDuplicates = errors.New("all tags already exist")
)

var separatorRe = regexp.MustCompile(`[,\n\t;|]`)

// Split breaks text on commas, newlines, tabs, semicolons and pipes and
// returns the trimmed, non-empty tokens in order.
func Split(text string) []string {
	var tokens []string
	for _, tok := range separatorRe.Split(text, -1) {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// Classification buckets tokens against the pending list and the
// destination's existing tags. The buckets are not exclusive.
type Classification struct {
	New    []string // in neither reference set
	InList []string // already pending (exact match)
	Exists []string // already at the destination (case-insensitive)
}

// Classify partitions tokens. Exact repeats inside tokens are reported as
// InList from their second occurrence on, so New never holds duplicates.
func Classify(tokens, inProgress, existing []string) Classification {
	var c Classification
	pending := make(map[string]struct{}, len(inProgress)+len(tokens))
	for _, t := range inProgress {
		pending[t] = struct{}{}
	}
	exists := foldSet(existing)

	for _, tok := range tokens {
		_, inList := pending[tok]
		_, inExisting := exists[strings.ToLower(tok)]
		if inList {
			c.InList = append(c.InList, tok)
		}
		if inExisting {
			c.Exists = append(c.Exists, tok)
		}
		if !inList && !inExisting {
			c.New = append(c.New, tok)
			pending[tok] = struct{}{}
		}
	}
	return c
}

// Summary reports the outcome of one paste.
type Summary struct {
	New    int `json:"new"`
	InList int `json:"in_list"`
	Exists int `json:"exists"`
}

func (s Summary) String() string {
	parts := []string{fmt.Sprintf("%d new", s.New)}
	if s.InList > 0 {
		parts = append(parts, fmt.Sprintf("%d already in list", s.InList))
	}
	if s.Exists > 0 {
		parts = append(parts, fmt.Sprintf("%d already exists", s.Exists))
	}
	return strings.Join(parts, ", ")
}

// Submission is the result of preparing a session for submit.
type Submission struct {
	Names     []string // the full pending list, duplicates included
	Creatable []string
	Skipped   []string // pending names that already exist at the destination
}

// Session is the pending list of a single bulk-add dialog for one parent.
type Session struct {
	pending  []string
	existing []string
	excluded []string // pasted names dropped because they already exist
}

// NewSession starts a session against the parent's existing tag names.
func NewSession(existing []string) *Session {
	return &Session{existing: slices.Clone(existing)}
}

// Pending returns a copy of the pending list.
func (s *Session) Pending() []string {
	return slices.Clone(s.pending)
}

// Existing returns the destination's tag names the session compares against.
func (s *Session) Existing() []string {
	return slices.Clone(s.existing)
}

// Excluded returns the pasted names that were left out of the pending list
// because the destination already has them.
func (s *Session) Excluded() []string {
	return slices.Clone(s.excluded)
}

// Paste splits text and appends the new tokens to the pending list.
func (s *Session) Paste(text string) Summary {
	c := Classify(Split(text), s.pending, s.existing)
	s.pending = append(s.pending, c.New...)
	s.excluded = append(s.excluded, c.Exists...)
	return Summary{New: len(c.New), InList: len(c.InList), Exists: len(c.Exists)}
}

// AlreadyExisting counts, case-insensitively, the distinct names of the
// session that the destination already has: those dropped on paste and
// those in sub.Skipped.
func (s *Session) AlreadyExisting(sub Submission) int {
	seen := make(map[string]struct{})
	for _, name := range slices.Concat(s.excluded, sub.Skipped) {
		seen[strings.ToLower(name)] = struct{}{}
	}
	return len(seen)
}

// Add appends a single name unless it is already pending. It reports
// whether the name was added.
func (s *Session) Add(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || slices.Contains(s.pending, name) {
		return false
	}
	s.pending = append(s.pending, name)
	return true
}

// Remove drops name from the pending list.
func (s *Session) Remove(name string) {
	s.pending = slices.DeleteFunc(s.pending, func(p string) bool { return p == name })
}

// Type handles the single-tag field: every comma-terminated segment is
// committed to the pending list and the trailing segment is returned as the
// new field value.
func (s *Session) Type(field string) string {
	if !strings.Contains(field, ",") {
		return field
	}
	segments := strings.Split(field, ",")
	for _, seg := range segments[:len(segments)-1] {
		s.Add(seg)
	}
	return strings.TrimLeft(segments[len(segments)-1], " ")
}

// Prepare partitions the pending list against the existing tags. It fails
// when there is nothing to submit or when every pending tag already exists.
func (s *Session) Prepare() (Submission, error) {
	if len(s.pending) == 0 {
		return Submission{}, ErrEmpty
	}
	exists := foldSet(s.existing)
	sub := Submission{Names: slices.Clone(s.pending)}
	for _, name := range s.pending {
		if _, ok := exists[strings.ToLower(name)]; ok {
			sub.Skipped = append(sub.Skipped, name)
		} else {
			sub.Creatable = append(sub.Creatable, name)
		}
	}
	if len(sub.Creatable) == 0 {
		return sub, ErrAllDuplicates
	}
	return sub, nil
}

func foldSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}
