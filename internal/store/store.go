// Package store persists users, research runs and schedules in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// Run states persisted for research runs.
const (
	RunStateRunning  = "running"
	RunStateFinished = "finished"
	RunStateAborted  = "aborted"
	RunStateFailed   = "failed"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// RunRecord is one persisted research run.
type RunRecord struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ScheduleID  *string         `json:"schedule_id,omitempty"`
	Query       string          `json:"query"`
	State       string          `json:"state"`
	FinalReport string          `json:"final_report,omitempty"`
	Iterations  int             `json:"iterations"`
	Checklist   json.RawMessage `json:"checklist,omitempty"`
	Sources     json.RawMessage `json:"sources,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// ScheduleRecord is one recurring research query.
type ScheduleRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Query     string    `json:"query"`
	Cron      string    `json:"cron"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Run operations

// CreateRun records the start of a research run. The id is the engine's
// session id, so streams and persisted history share one identifier.
func (s *Store) CreateRun(ctx context.Context, id, userID, query string, scheduleID *string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, user_id, schedule_id, query, state) VALUES ($1,$2,$3,$4,$5)`,
		id, userID, scheduleID, query, RunStateRunning)
	return err
}

// FinishRun records the terminal snapshot of a run.
func (s *Store) FinishRun(ctx context.Context, id, state, finalReport string, iterations int, checklist, sources json.RawMessage, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET state=$2, final_report=$3, iterations=$4, checklist=$5, sources=$6, error=$7, finished_at=NOW() WHERE id=$1`,
		id, state, finalReport, iterations, checklist, sources, errMsg)
	return err
}

func (s *Store) GetRun(ctx context.Context, id, userID string) (RunRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, schedule_id, query, state, COALESCE(final_report,''), iterations, checklist, sources, error, created_at, finished_at
		 FROM runs WHERE id=$1 AND user_id=$2`, id, userID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, schedule_id, query, state, COALESCE(final_report,''), iterations, checklist, sources, error, created_at, finished_at
		 FROM runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var checklist, sources []byte
	err := row.Scan(&rec.ID, &rec.UserID, &rec.ScheduleID, &rec.Query, &rec.State, &rec.FinalReport,
		&rec.Iterations, &checklist, &sources, &rec.Error, &rec.CreatedAt, &rec.FinishedAt)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Checklist = checklist
	rec.Sources = sources
	return rec, nil
}

// Schedule operations
func (s *Store) CreateSchedule(ctx context.Context, userID, query, cron string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO schedules (user_id, query, cron) VALUES ($1,$2,$3) RETURNING id`,
		userID, query, cron).Scan(&id)
	return id, err
}

func (s *Store) ListSchedules(ctx context.Context, userID string) ([]ScheduleRecord, error) {
	return s.querySchedules(ctx,
		`SELECT id, user_id, query, cron, enabled, created_at FROM schedules WHERE user_id=$1 ORDER BY created_at`, userID)
}

// ListEnabledSchedules returns every enabled schedule across users; the
// scheduler ticks over this set.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	return s.querySchedules(ctx,
		`SELECT id, user_id, query, cron, enabled, created_at FROM schedules WHERE enabled ORDER BY created_at`)
}

func (s *Store) querySchedules(ctx context.Context, q string, args ...any) ([]ScheduleRecord, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		var rec ScheduleRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Query, &rec.Cron, &rec.Enabled, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSchedule(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestRunTime returns when the schedule last fired, or nil if it never has.
func (s *Store) LatestRunTime(ctx context.Context, scheduleID string) (*time.Time, error) {
	var t sql.NullTime
	err := s.DB.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM runs WHERE schedule_id=$1`, scheduleID).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}
