package research

import (
	"fmt"
	"strings"
	"sync"
)

// Checklist is the single source of truth for research progress: an ordered,
// id-keyed collection of items. Items are never deleted, only appended and
// completed.
type Checklist struct {
	mu    sync.Mutex
	items map[string]*ChecklistItem
	order []string
	seq   int
}

// ItemPatch carries one upsert. An empty ID inserts a new item; a non-empty ID
// merges the non-zero fields into the existing item.
type ItemPatch struct {
	ID        string     `json:"id,omitempty"`
	Question  string     `json:"question,omitempty"`
	Status    ItemStatus `json:"status,omitempty"`
	Findings  string     `json:"findings,omitempty"`
	SourceIDs []int      `json:"source_ids,omitempty"`
}

func NewChecklist() *Checklist {
	return &Checklist{items: make(map[string]*ChecklistItem)}
}

// Upsert inserts or merges one item and returns the resulting state.
// Unknown ids fail with ErrUnknownItem. Status only moves pending->completed;
// findings are write-once.
func (c *Checklist) Upsert(patch ItemPatch) (ChecklistItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if patch.Status != "" && patch.Status != StatusPending && patch.Status != StatusCompleted {
		return ChecklistItem{}, fmt.Errorf("invalid status %q", patch.Status)
	}

	if patch.ID == "" {
		if strings.TrimSpace(patch.Question) == "" {
			return ChecklistItem{}, fmt.Errorf("new checklist item requires a question")
		}
		c.seq++
		item := &ChecklistItem{
			ID:       fmt.Sprintf("item_%d", c.seq),
			Question: strings.TrimSpace(patch.Question),
			Status:   StatusPending,
		}
		if patch.Status == StatusCompleted {
			item.Status = StatusCompleted
			item.Findings = patch.Findings
			item.SourceIDs = append([]int(nil), patch.SourceIDs...)
		}
		c.items[item.ID] = item
		c.order = append(c.order, item.ID)
		return *item, nil
	}

	item, ok := c.items[patch.ID]
	if !ok {
		return ChecklistItem{}, fmt.Errorf("%w: %s", ErrUnknownItem, patch.ID)
	}
	if item.Status == StatusCompleted && patch.Status == StatusPending {
		return ChecklistItem{}, fmt.Errorf("item %s is completed and cannot revert to pending", item.ID)
	}
	if patch.Findings != "" && item.Findings != "" && patch.Findings != item.Findings {
		return ChecklistItem{}, fmt.Errorf("item %s already has findings recorded", item.ID)
	}
	if q := strings.TrimSpace(patch.Question); q != "" {
		item.Question = q
	}
	if patch.Findings != "" {
		item.Findings = patch.Findings
	}
	if len(patch.SourceIDs) > 0 {
		item.SourceIDs = mergeSourceIDs(item.SourceIDs, patch.SourceIDs)
	}
	if patch.Status == StatusCompleted {
		item.Status = StatusCompleted
	}
	return *item, nil
}

// Complete marks an item completed with findings and supporting citations.
func (c *Checklist) Complete(itemID, findings string, sourceIDs []int) (ChecklistItem, error) {
	return c.Upsert(ItemPatch{ID: itemID, Status: StatusCompleted, Findings: findings, SourceIDs: sourceIDs})
}

// Snapshot returns a copy of all items in insertion order.
func (c *Checklist) Snapshot() []ChecklistItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChecklistItem, 0, len(c.order))
	for _, id := range c.order {
		item := *c.items[id]
		item.SourceIDs = append([]int(nil), c.items[id].SourceIDs...)
		out = append(out, item)
	}
	return out
}

// Counts returns (total, completed).
func (c *Checklist) Counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	completed := 0
	for _, item := range c.items {
		if item.Status == StatusCompleted {
			completed++
		}
	}
	return len(c.order), completed
}

// AllCompleted reports whether every item is completed. An empty checklist is
// not considered complete.
func (c *Checklist) AllCompleted() bool {
	total, completed := c.Counts()
	return total > 0 && completed == total
}

// FormatDisplay renders the checklist as the compact progress view returned to
// the model.
func (c *Checklist) FormatDisplay() string {
	items := c.Snapshot()
	if len(items) == 0 {
		return "No checklist items yet"
	}
	var b strings.Builder
	for _, item := range items {
		mark := "[ ]"
		if item.Status == StatusCompleted {
			mark = "[x]"
		}
		fmt.Fprintf(&b, "%s %s: %s\n", mark, item.ID, item.Question)
	}
	return strings.TrimRight(b.String(), "\n")
}

func mergeSourceIDs(existing, extra []int) []int {
	seen := make(map[int]struct{}, len(existing))
	out := append([]int(nil), existing...)
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	for _, id := range extra {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
