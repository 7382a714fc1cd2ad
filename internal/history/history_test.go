package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/coherence/internal/schema"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestStatic_Window(t *testing.T) {
	s := Static{
		"u1": {
			{Type: schema.EventEdit, Timestamp: base.Add(2 * time.Hour)},
			{Type: schema.EventEdit, Timestamp: base},
			{Type: schema.EventEdit, Timestamp: base.Add(-48 * time.Hour)},
		},
		"u2": {{Type: schema.EventResolve, Timestamp: base}},
	}
	got, err := s.Events(context.Background(), "u1", base.Add(-time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("events not sorted: %+v", got)
	}
	if got, _ := s.Events(context.Background(), "nobody", base.Add(-time.Hour), base); len(got) != 0 {
		t.Errorf("unknown user returned %+v", got)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	old, cur := 0.2, 0.4
	events := []schema.UserEvent{
		{Type: schema.EventResolve, ContentHash: "abc", Timestamp: base.Add(time.Minute)},
		{Type: schema.EventWeightChange, OldWeight: &old, NewWeight: &cur, Timestamp: base},
		{Type: schema.EventEdit, Timestamp: base.Add(-72 * time.Hour)},
	}
	for _, e := range events {
		if err := store.Record(ctx, "u1", e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.Record(ctx, "u2", schema.UserEvent{Type: schema.EventEdit, Timestamp: base}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Events(ctx, "u1", base.Add(-24*time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Type != schema.EventWeightChange || got[0].OldWeight == nil || *got[0].NewWeight != 0.4 {
		t.Errorf("event[0] = %+v", got[0])
	}
	if got[1].ContentHash != "abc" || got[1].OldWeight != nil {
		t.Errorf("event[1] = %+v", got[1])
	}
	if !got[1].Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("timestamp = %v", got[1].Timestamp)
	}
}

func TestSQLiteStore_RecordValidation(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()
	if err := store.Record(context.Background(), "", schema.UserEvent{Type: schema.EventEdit}); err == nil {
		t.Error("expected error for empty user id")
	}
	if err := store.Record(context.Background(), "u", schema.UserEvent{}); err == nil {
		t.Error("expected error for empty type")
	}
}
