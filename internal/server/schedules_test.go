package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/skylarkhq/delver/internal/store"
)

func newSchedulesHandler(t *testing.T) (*SchedulesHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return &SchedulesHandler{Store: &store.Store{DB: db}}, mock, func() { db.Close() }
}

func TestCreateSchedule(t *testing.T) {
	e := echo.New()
	h, mock, cleanup := newSchedulesHandler(t)
	defer cleanup()

	mock.ExpectQuery(`INSERT INTO schedules`).
		WithArgs("user-1", "daily ai news", "@daily").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sched-1"))

	req := httptest.NewRequest(http.MethodPost, "/api/schedules", strings.NewReader(`{"query":"daily ai news","cron":"@daily"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	if err := h.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] != "sched-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateScheduleInvalidCron(t *testing.T) {
	e := echo.New()
	h, _, cleanup := newSchedulesHandler(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/api/schedules", strings.NewReader(`{"query":"q","cron":"not a cron"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	err := h.create(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %v", err)
	}
}

func TestDeleteScheduleNotFound(t *testing.T) {
	e := echo.New()
	h, mock, cleanup := newSchedulesHandler(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM schedules`).
		WithArgs("sched-x", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	req := httptest.NewRequest(http.MethodDelete, "/api/schedules/sched-x", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.SetParamNames("schedule_id")
	ctx.SetParamValues("sched-x")

	err := h.delete(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %v", err)
	}
}

func TestValidateCron(t *testing.T) {
	for _, spec := range []string{"@daily", "@hourly", "0 9 * * 1", "*/15 * * * *"} {
		if err := validateCron(spec); err != nil {
			t.Fatalf("validateCron(%q): %v", spec, err)
		}
	}
	if err := validateCron("every now and then"); err == nil {
		t.Fatal("expected invalid cron to be rejected")
	}
}
