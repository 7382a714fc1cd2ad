// Package locate resolves evidence quotes back to line ranges inside a
// scope clause, so that alerts can point at the exact source passage.
package locate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/coherence/internal/project"
)

// ErrNotFound is returned when the quote does not occur in the clause.
var ErrNotFound = errors.New("locate: quote not found in clause")

// Location is a resolved line range. Lines are 1-indexed and absolute
// within the source document when the clause records its LineStart.
type Location struct {
	ClauseID  string `json:"clause_id"`
	SourceRef string `json:"source_ref,omitempty"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

// Locator matches quotes against clause text. Matching ignores case and
// collapses runs of whitespace, so quotes that span wrapped lines resolve.
// The zero value is ready to use.
type Locator struct{}

// New returns a Locator.
func New() *Locator { return &Locator{} }

// Locate finds quote inside clause.Text.
func (l *Locator) Locate(_ context.Context, clause project.ScopeClause, quote string) (Location, error) {
	needle := normalize(quote)
	if needle == "" {
		return Location{}, fmt.Errorf("locate: empty quote")
	}

	lines, err := splitLines(clause.Text)
	if err != nil {
		return Location{}, err
	}

	// Build the normalized haystack while recording which line each
	// normalized byte came from.
	var hay strings.Builder
	var lineOf []int
	for i, line := range lines {
		n := normalize(line)
		if n == "" {
			continue
		}
		if hay.Len() > 0 {
			hay.WriteByte(' ')
			lineOf = append(lineOf, i)
		}
		hay.WriteString(n)
		for range len(n) {
			lineOf = append(lineOf, i)
		}
	}

	idx := strings.Index(hay.String(), needle)
	if idx < 0 {
		return Location{}, ErrNotFound
	}
	first := lineOf[idx]
	last := lineOf[idx+len(needle)-1]

	base := clause.LineStart
	if base <= 0 {
		base = 1
	}
	return Location{
		ClauseID:  clause.ID,
		SourceRef: clause.SourceRef,
		LineStart: base + first,
		LineEnd:   base + last,
	}, nil
}

// splitLines splits text into lines using the same scanner limits as the
// document segmenter.
func splitLines(text string) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("locate: scan: %w", err)
	}
	return lines, nil
}

// normalize lowercases s and collapses whitespace runs to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
