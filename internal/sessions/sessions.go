// Package sessions tracks in-flight research runs so their progress can be
// inspected before the terminal snapshot lands in Postgres.
package sessions

import (
	"context"
	"time"

	"github.com/skylarkhq/delver/internal/research"
)

// Snapshot is the last observed progress of a live run.
type Snapshot struct {
	RunID     string                   `json:"run_id"`
	UserID    string                   `json:"user_id"`
	Query     string                   `json:"query"`
	State     research.SessionState    `json:"state"`
	Checklist []research.ChecklistItem `json:"checklist,omitempty"`
	Sources   []research.Source        `json:"sources,omitempty"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Store holds live-run snapshots. Entries expire with ttl; a finished run's
// snapshot is deleted once persisted.
type Store interface {
	Save(ctx context.Context, snap Snapshot, ttl time.Duration) error
	Get(ctx context.Context, runID string) (Snapshot, bool, error)
	Delete(ctx context.Context, runID string) error
}
