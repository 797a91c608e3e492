package ot_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/serroba/collab-notes/internal/ot"
)

func TestHistory_AppendStampsVersion(t *testing.T) {
	t.Parallel()

	h := ot.NewHistory()

	first := h.Append(ot.NewInsert("alice", 0, "a"))
	second := h.Append(ot.NewInsert("alice", 1, "b"))

	if first.Version != 1 {
		t.Errorf("expected version 1, got %d", first.Version)
	}

	if second.Version != 2 {
		t.Errorf("expected version 2, got %d", second.Version)
	}

	if h.Version() != 2 {
		t.Errorf("expected history version 2, got %d", h.Version())
	}
}

func TestHistory_Rebase_CurrentBaseIsUntouched(t *testing.T) {
	t.Parallel()

	h := ot.NewHistory()
	for i := range 3 {
		h.Append(ot.NewInsert("setup", i, "x"))
	}

	c := ot.NewInsert("alice", 5, "y")
	c.BaseVersion = 3

	got, err := h.Rebase(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Position != 5 {
		t.Errorf("expected position 5 (unchanged), got %d", got.Position)
	}
}

func TestHistory_Rebase_OnlyUnobservedChanges(t *testing.T) {
	t.Parallel()

	h := ot.NewHistory()
	h.Append(ot.NewInsert("alice", 0, "aa"))  // observed by bob
	h.Append(ot.NewInsert("carol", 0, "ccc")) // not observed

	c := ot.NewInsert("bob", 2, "b")
	c.BaseVersion = 1

	got, err := h.Rebase(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Position != 5 {
		t.Errorf("expected position 5, got %d", got.Position)
	}
}

func TestHistory_Rebase_FutureBaseVersion(t *testing.T) {
	t.Parallel()

	h := ot.NewHistory()

	c := ot.NewInsert("alice", 0, "a")
	c.BaseVersion = 1

	_, err := h.Rebase(c)
	if !errors.Is(err, ot.ErrVersionAhead) {
		t.Errorf("expected ErrVersionAhead, got %v", err)
	}
}

func TestHistory_Since(t *testing.T) {
	t.Parallel()

	h := ot.NewHistory()
	for i := range 5 {
		h.Append(ot.NewInsert("alice", i, "x"))
	}

	tests := []struct {
		since int
		want  int
	}{
		{since: 0, want: 5},
		{since: 3, want: 2},
		{since: 5, want: 0},
		{since: 9, want: 0},
		{since: -1, want: 5},
	}

	for _, tt := range tests {
		got := h.Since(tt.since)
		if len(got) != tt.want {
			t.Errorf("Since(%d): expected %d changes, got %d", tt.since, tt.want, len(got))
		}
	}

	tail := h.Since(3)
	if tail[0].Version != 4 {
		t.Errorf("expected first change after 3 to be version 4, got %d", tail[0].Version)
	}
}

func TestHistory_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	h := ot.NewHistory()

	var wg sync.WaitGroup

	for range 50 {
		wg.Go(func() {
			h.Append(ot.NewInsert("alice", 0, "x"))
		})
	}

	wg.Wait()

	if h.Version() != 50 {
		t.Errorf("expected version 50, got %d", h.Version())
	}
}
