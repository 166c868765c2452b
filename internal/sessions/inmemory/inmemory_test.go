package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/skylarkhq/delver/internal/research"
	"github.com/skylarkhq/delver/internal/sessions"
)

func TestSaveGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	snap := sessions.Snapshot{RunID: "run-1", Query: "q", State: research.StateActing, UpdatedAt: time.Now()}
	if err := s.Save(ctx, snap, 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.Get(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.State != research.StateActing {
		t.Fatalf("state = %s", got.State)
	}

	if err := s.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "run-1"); ok {
		t.Fatal("still present after delete")
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	snap := sessions.Snapshot{RunID: "run-1"}
	if err := s.Save(ctx, snap, time.Nanosecond); err != nil {
		t.Fatalf("save: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, ok, _ := s.Get(ctx, "run-1"); ok {
		t.Fatal("expired snapshot still returned")
	}
}
