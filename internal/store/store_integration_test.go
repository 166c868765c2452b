package store_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/skylarkhq/delver/internal/store"
)

func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("delver"),
		tcPostgres.WithUsername("delver"),
		tcPostgres.WithPassword("delver"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://delver:delver@%s:%s/delver?sslmode=disable", host, port.Port())

	if err := applyMigrations(ctx, dsn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}

	if err := st.CreateUser(ctx, "a@example.com", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	userID, hash, err := st.GetUserByEmail(ctx, "a@example.com")
	if err != nil || hash != "hash" {
		t.Fatalf("get user: %v (hash %q)", err, hash)
	}

	runID := "11111111-1111-1111-1111-111111111111"
	if err := st.CreateRun(ctx, runID, userID, "what changed", nil); err != nil {
		t.Fatalf("create run: %v", err)
	}
	checklist := json.RawMessage(`[{"id":"item_1","question":"q","status":"completed"}]`)
	sources := json.RawMessage(`[{"id":1,"url":"https://a.test"}]`)
	if err := st.FinishRun(ctx, runID, store.RunStateFinished, "# Report [1]", 4, checklist, sources, nil); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	rec, err := st.GetRun(ctx, runID, userID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if rec.State != store.RunStateFinished || rec.FinalReport != "# Report [1]" || rec.Iterations != 4 {
		t.Fatalf("rec = %+v", rec)
	}
	if rec.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}

	runs, err := st.ListRuns(ctx, userID, 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("list runs: %v (%d)", err, len(runs))
	}

	schedID, err := st.CreateSchedule(ctx, userID, "daily digest", "@daily")
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	scheds, err := st.ListEnabledSchedules(ctx)
	if err != nil || len(scheds) != 1 || scheds[0].ID != schedID {
		t.Fatalf("list schedules: %v (%+v)", err, scheds)
	}

	last, err := st.LatestRunTime(ctx, schedID)
	if err != nil {
		t.Fatalf("latest run time: %v", err)
	}
	if last != nil {
		t.Fatalf("expected no runs for schedule, got %v", last)
	}

	schedRun := "22222222-2222-2222-2222-222222222222"
	if err := st.CreateRun(ctx, schedRun, userID, "daily digest", &schedID); err != nil {
		t.Fatalf("create scheduled run: %v", err)
	}
	last, err = st.LatestRunTime(ctx, schedID)
	if err != nil || last == nil {
		t.Fatalf("latest run time after run: %v (%v)", err, last)
	}
	if time.Since(*last) > time.Minute {
		t.Fatalf("stale latest run time %v", last)
	}

	if err := st.DeleteSchedule(ctx, schedID, userID); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
}

func applyMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaSQL, err := os.ReadFile("../../migrations/0001_init.up.sql")
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
