package research

import (
	"errors"
	"strings"
	"testing"
)

func TestChecklistInsertAssignsSequentialIDs(t *testing.T) {
	c := NewChecklist()
	first, err := c.Upsert(ItemPatch{Question: "What changed in the latest release?"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := c.Upsert(ItemPatch{Question: "Who maintains the project?"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.ID != "item_1" || second.ID != "item_2" {
		t.Fatalf("ids = %s, %s", first.ID, second.ID)
	}
	if first.Status != StatusPending {
		t.Fatalf("new item status = %s", first.Status)
	}
}

func TestChecklistInsertRequiresQuestion(t *testing.T) {
	c := NewChecklist()
	if _, err := c.Upsert(ItemPatch{Question: "   "}); err == nil {
		t.Fatal("expected error for blank question")
	}
}

func TestChecklistUnknownID(t *testing.T) {
	c := NewChecklist()
	_, err := c.Upsert(ItemPatch{ID: "item_9", Findings: "x"})
	if !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}

func TestChecklistStatusIsMonotonic(t *testing.T) {
	c := NewChecklist()
	item, _ := c.Upsert(ItemPatch{Question: "q"})
	if _, err := c.Complete(item.ID, "answered", []int{1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := c.Upsert(ItemPatch{ID: item.ID, Status: StatusPending}); err == nil {
		t.Fatal("expected completed->pending to be rejected")
	}
	// Re-completing with identical findings is a no-op, not an error.
	if _, err := c.Complete(item.ID, "answered", nil); err != nil {
		t.Fatalf("idempotent complete: %v", err)
	}
}

func TestChecklistFindingsWriteOnce(t *testing.T) {
	c := NewChecklist()
	item, _ := c.Upsert(ItemPatch{Question: "q"})
	if _, err := c.Complete(item.ID, "first answer", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := c.Upsert(ItemPatch{ID: item.ID, Findings: "different answer"}); err == nil {
		t.Fatal("expected conflicting findings to be rejected")
	}
	snap := c.Snapshot()
	if snap[0].Findings != "first answer" {
		t.Fatalf("findings mutated: %q", snap[0].Findings)
	}
}

func TestChecklistMergesSourceIDs(t *testing.T) {
	c := NewChecklist()
	item, _ := c.Upsert(ItemPatch{Question: "q", SourceIDs: []int{1, 2}})
	got, err := c.Upsert(ItemPatch{ID: item.ID, SourceIDs: []int{2, 3}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	want := []int{1, 2, 3}
	if len(got.SourceIDs) != len(want) {
		t.Fatalf("source ids = %v", got.SourceIDs)
	}
	for i, id := range want {
		if got.SourceIDs[i] != id {
			t.Fatalf("source ids = %v, want %v", got.SourceIDs, want)
		}
	}
}

func TestChecklistAllCompleted(t *testing.T) {
	c := NewChecklist()
	if c.AllCompleted() {
		t.Fatal("empty checklist must not count as complete")
	}
	a, _ := c.Upsert(ItemPatch{Question: "a"})
	b, _ := c.Upsert(ItemPatch{Question: "b"})
	c.Complete(a.ID, "done", nil)
	if c.AllCompleted() {
		t.Fatal("half-done checklist reported complete")
	}
	c.Complete(b.ID, "done", nil)
	if !c.AllCompleted() {
		t.Fatal("fully-done checklist not reported complete")
	}
}

func TestChecklistFormatDisplay(t *testing.T) {
	c := NewChecklist()
	if got := c.FormatDisplay(); got != "No checklist items yet" {
		t.Fatalf("empty display = %q", got)
	}
	a, _ := c.Upsert(ItemPatch{Question: "first"})
	c.Upsert(ItemPatch{Question: "second"})
	c.Complete(a.ID, "ok", nil)
	got := c.FormatDisplay()
	if !strings.Contains(got, "[x] item_1: first") || !strings.Contains(got, "[ ] item_2: second") {
		t.Fatalf("display = %q", got)
	}
}

func TestChecklistSnapshotIsIsolated(t *testing.T) {
	c := NewChecklist()
	item, _ := c.Upsert(ItemPatch{Question: "q", SourceIDs: []int{1}})
	snap := c.Snapshot()
	snap[0].SourceIDs[0] = 99
	snap[0].Question = "mutated"
	again := c.Snapshot()
	if again[0].SourceIDs[0] != 1 || again[0].Question != "q" {
		t.Fatalf("snapshot leaked internal state: %+v", again[0])
	}
	_ = item
}
