package server

import (
	"time"

	"github.com/skylarkhq/delver/internal/research"
)

// HTTPError is the uniform JSON error envelope.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ResearchRequest struct {
	Query string `json:"query"`
}

// ResearchResponse is the terminal snapshot returned by the batch endpoint.
type ResearchResponse struct {
	RunID       string                   `json:"run_id"`
	Query       string                   `json:"query"`
	State       research.SessionState    `json:"state"`
	FinalReport string                   `json:"final_report"`
	Iterations  int                      `json:"iterations"`
	Checklist   []research.ChecklistItem `json:"checklist"`
	Sources     []research.Source        `json:"sources"`
}

type ScheduleRequest struct {
	Query string `json:"query"`
	Cron  string `json:"cron"`
}

type RunSummary struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	State      string     `json:"state"`
	Iterations int        `json:"iterations"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
