package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skylarkhq/delver/internal/index"
	"github.com/skylarkhq/delver/internal/research"
	"github.com/skylarkhq/delver/internal/runtime"
	"github.com/skylarkhq/delver/internal/sessions"
	"github.com/skylarkhq/delver/internal/store"
)

var httpTracer = otel.Tracer("delver/internal/server")

const liveSnapshotTTL = time.Hour

// Runner executes one research session; the engine satisfies it.
type Runner interface {
	RunSession(ctx context.Context, sess *research.Session, emitter research.Emitter) (*research.Result, error)
}

type ResearchHandler struct {
	Store        *store.Store
	Runner       Runner
	Live         sessions.Store
	Logger       *log.Logger
	StreamBuffer int
}

func (h *ResearchHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("/stream", h.stream)
	g.GET("/runs", h.listRuns)
	g.GET("/runs/:run_id", h.getRun)
	g.GET("/runs/:run_id/sources", h.searchSources)
}

// create runs a research session to completion and returns the terminal
// snapshot in one response.
func (h *ResearchHandler) create(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	userID, _ := c.Get("user_id").(string)

	ctx, span := httpTracer.Start(c.Request().Context(), "ResearchHandler.create")
	defer span.End()

	result, err := h.execute(ctx, userID, req.Query, nil, research.NopEmitter{})
	if err != nil {
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	span.SetAttributes(attribute.String("run_id", result.SessionID))
	return c.JSON(http.StatusOK, toResponse(result))
}

// stream runs a research session and relays its events as SSE frames. The
// query is passed as a parameter so EventSource clients can connect directly.
func (h *ResearchHandler) stream(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("query"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	userID, _ := c.Get("user_id").(string)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	buffer := h.StreamBuffer
	if buffer <= 0 {
		buffer = 256
	}
	emitter := research.NewChannelEmitter(buffer)

	ctx := c.Request().Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer emitter.Close()
		if _, err := h.execute(ctx, userID, query, nil, emitter); err != nil {
			h.Logger.Printf("streamed run failed: %v", err)
		}
	}()

	for ev := range emitter.Events() {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			h.Logger.Printf("marshal %s event: %v", ev.Type, err)
			continue
		}
		if _, err := resp.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
			break
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			break
		}
		flusher.Flush()
	}
	<-done
	return nil
}

// execute owns a run's full lifecycle: the running row, live snapshots, the
// engine call and the terminal record.
func (h *ResearchHandler) execute(ctx context.Context, userID, query string, scheduleID *string, emitter research.Emitter) (*research.Result, error) {
	sess := research.NewSession(query)
	if err := h.Store.CreateRun(ctx, sess.ID, userID, query, scheduleID); err != nil {
		return nil, err
	}
	if h.Live != nil {
		emitter = &snapshotEmitter{next: emitter, live: h.Live, sess: sess, userID: userID}
	}

	result, runErr := h.Runner.RunSession(ctx, sess, emitter)

	if h.Live != nil {
		_ = h.Live.Delete(context.WithoutCancel(ctx), sess.ID)
	}
	if result == nil {
		msg := runErr.Error()
		_ = h.Store.FinishRun(context.WithoutCancel(ctx), sess.ID, store.RunStateFailed, "", 0, nil, nil, &msg)
		return nil, runErr
	}

	state := store.RunStateFinished
	var errMsg *string
	switch {
	case runErr != nil:
		state = store.RunStateFailed
		msg := runErr.Error()
		errMsg = &msg
	case result.State == research.StateAborted:
		state = store.RunStateAborted
	}
	checklist, _ := json.Marshal(result.Checklist)
	sources, _ := json.Marshal(result.Sources)
	if err := h.Store.FinishRun(context.WithoutCancel(ctx), sess.ID, state, result.FinalReport, result.Iterations, checklist, sources, errMsg); err != nil {
		h.Logger.Printf("persist run %s failed: %v", sess.ID, err)
	}
	return result, runErr
}

func (h *ResearchHandler) listRuns(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.Store.ListRuns(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, RunSummary{
			ID: r.ID, Query: r.Query, State: r.State, Iterations: r.Iterations,
			CreatedAt: r.CreatedAt, FinishedAt: r.FinishedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ResearchHandler) getRun(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	runID := c.Param("run_id")

	// A run still in flight is served from the live snapshot store.
	if h.Live != nil {
		if snap, ok, err := h.Live.Get(c.Request().Context(), runID); err == nil && ok {
			if snap.UserID != userID {
				return echo.NewHTTPError(http.StatusNotFound, "run not found")
			}
			return c.JSON(http.StatusOK, snap)
		}
	}

	rec, err := h.Store.GetRun(c.Request().Context(), runID, userID)
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// searchSources full-text searches the sources of a finished run.
func (h *ResearchHandler) searchSources(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	runID := c.Param("run_id")
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}

	rec, err := h.Store.GetRun(c.Request().Context(), runID, userID)
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var srcs []research.Source
	if len(rec.Sources) > 0 {
		if err := json.Unmarshal(rec.Sources, &srcs); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	idx, err := index.New()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer idx.Close()
	if err := idx.Add(srcs); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	k, _ := strconv.Atoi(c.QueryParam("limit"))
	hits, err := idx.Search(q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	return c.JSON(http.StatusOK, hits)
}

func toResponse(result *research.Result) ResearchResponse {
	return ResearchResponse{
		RunID:       result.SessionID,
		Query:       result.Query,
		State:       result.State,
		FinalReport: result.FinalReport,
		Iterations:  result.Iterations,
		Checklist:   result.Checklist,
		Sources:     result.Sources,
	}
}

// snapshotEmitter tees progress events into the live-run store.
type snapshotEmitter struct {
	next   research.Emitter
	live   sessions.Store
	sess   *research.Session
	userID string
}

func (s *snapshotEmitter) Emit(ev research.Event) {
	switch ev.Type {
	case research.EventChecklistUpdated, research.EventSourceDiscovered, research.EventAgentReasoning:
		snap := sessions.Snapshot{
			RunID:     s.sess.ID,
			UserID:    s.userID,
			Query:     s.sess.Query,
			State:     research.StateActing,
			Checklist: s.sess.Checklist.Snapshot(),
			Sources:   s.sess.Ledger.Snapshot(),
			UpdatedAt: time.Now().UTC(),
		}
		_ = s.live.Save(context.Background(), snap, liveSnapshotTTL)
	}
	s.next.Emit(ev)
}
