// Package history supplies the user-event history inspected by the
// anti-gaming detector.
package history

import (
	"context"
	"sort"
	"time"

	"github.com/dshills/coherence/internal/schema"
)

// Source returns the events a user recorded in [since, until], oldest
// first.
type Source interface {
	Events(ctx context.Context, userID string, since, until time.Time) ([]schema.UserEvent, error)
}

// Static is an in-memory Source keyed by user id. It is read-only after
// construction and safe for concurrent use.
type Static map[string][]schema.UserEvent

// Events returns the user's events inside the window, sorted by timestamp.
func (s Static) Events(_ context.Context, userID string, since, until time.Time) ([]schema.UserEvent, error) {
	var out []schema.UserEvent
	for _, e := range s[userID] {
		if e.Timestamp.Before(since) || e.Timestamp.After(until) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
