package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skylarkhq/delver/internal/telemetry"
)

var engineTracer trace.Tracer = otel.Tracer("delver/internal/research")

// Session owns all mutable state of one research run: the append-only
// transcript, the checklist, the source ledger, the iteration counter and the
// terminal flag. The engine is the only writer; collaborators receive it by
// reference.
type Session struct {
	ID        string
	Query     string
	Checklist *Checklist
	Ledger    *Ledger

	mu          sync.Mutex
	messages    []Message
	finished    bool
	finalReport string
	state       SessionState
	iterations  int
}

func NewSession(query string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Query:     query,
		Checklist: NewChecklist(),
		Ledger:    NewLedger(),
		state:     StatePlanning,
	}
}

func (s *Session) append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// finish records the final report and sets the terminal flag, exactly once.
func (s *Session) finish(report string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrAlreadyFinished
	}
	s.finished = true
	s.finalReport = report
	return nil
}

func (s *Session) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Result assembles the session's terminal (or current) snapshot.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		SessionID:   s.ID,
		Query:       s.Query,
		State:       s.state,
		Messages:    append([]Message(nil), s.messages...),
		Checklist:   s.Checklist.Snapshot(),
		Sources:     s.Ledger.Snapshot(),
		FinalReport: s.finalReport,
		Iterations:  s.iterations,
	}
}

// Config bounds one engine instance.
type Config struct {
	MaxIterations int
	ModelTimeout  time.Duration
	SearchTimeout time.Duration
	ParallelTools bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxIterations <= 0 {
		out.MaxIterations = 15
	}
	if out.ModelTimeout <= 0 {
		out.ModelTimeout = 2 * time.Minute
	}
	if out.SearchTimeout <= 0 {
		out.SearchTimeout = 30 * time.Second
	}
	return out
}

// Engine drives the bounded model/tool-calling cycle for research sessions.
// One engine may serve many sessions concurrently; each Run call owns its
// session exclusively.
type Engine struct {
	cfg        Config
	provider   CompletionProvider
	dispatcher *Dispatcher
	logger     *log.Logger
	metrics    *telemetry.Metrics
}

func NewEngine(cfg Config, provider CompletionProvider, searcher Searcher, logger *log.Logger, metrics *telemetry.Metrics) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return &Engine{
		cfg:        cfg,
		provider:   provider,
		dispatcher: NewDispatcher(searcher, logger, cfg.SearchTimeout),
		logger:     logger,
		metrics:    metrics,
	}
}

// Run executes one research session to a terminal state. Events are published
// to emitter as they occur; pass NopEmitter for batch use — the returned
// Result is identical either way. On abort the Result still carries a
// non-empty best-effort report and all accumulated state.
func (e *Engine) Run(ctx context.Context, query string, emitter Emitter) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	return e.RunSession(ctx, NewSession(query), emitter)
}

// RunSession is Run for a caller-constructed session, so callers can know the
// session id (and register it elsewhere) before the run starts.
func (e *Engine) RunSession(ctx context.Context, sess *Session, emitter Emitter) (*Result, error) {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	if strings.TrimSpace(sess.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	start := time.Now()
	ctx, span := engineTracer.Start(ctx, "research.run")
	defer span.End()

	span.SetAttributes(attribute.String("session.id", sess.ID))
	sess.append(SystemMessage(systemPrompt), UserMessage(sess.Query))
	e.logger.Printf("session %s: starting research for %q", sess.ID, sess.Query)
	if e.metrics != nil {
		e.metrics.SessionsStarted.Inc()
	}

	result, err := e.loop(ctx, sess, emitter)

	span.SetAttributes(
		attribute.String("session.state", string(result.State)),
		attribute.Int("session.iterations", result.Iterations),
		attribute.Int("session.sources", len(result.Sources)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, string(result.State))
	}
	if e.metrics != nil {
		e.metrics.SessionsFinished.WithLabelValues(string(result.State)).Inc()
		e.metrics.SessionDuration.Observe(time.Since(start).Seconds())
		e.metrics.Iterations.Observe(float64(result.Iterations))
	}
	e.logger.Printf("session %s: %s after %d iterations in %v", sess.ID, result.State, result.Iterations, time.Since(start))
	return result, err
}

func (e *Engine) loop(ctx context.Context, sess *Session, emitter Emitter) (*Result, error) {
	for sess.iterations < e.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return e.abort(sess, emitter, "session cancelled"), err
		}
		sess.iterations++

		resp, err := e.completeWithRetry(ctx, sess)
		if err != nil {
			if ctx.Err() != nil {
				return e.abort(sess, emitter, "session cancelled"), ctx.Err()
			}
			// Collaborator failure after retry: surface it and keep looping;
			// the iteration bound still guarantees termination.
			e.logger.Printf("session %s: model call failed twice: %v", sess.ID, err)
			emitter.Emit(Event{Type: EventError, Data: ErrorPayload{Error: fmt.Sprintf("model call failed: %v", err)}})
			continue
		}

		sess.append(Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

		if len(resp.ToolCalls) == 0 {
			// No tools requested: the content is the terminal answer unless a
			// finish call already recorded one.
			if !sess.isFinished() {
				report := strings.TrimSpace(resp.Content)
				if report == "" {
					report = fallbackReport(sess.Query, sess.Checklist.Snapshot(), sess.Ledger.Snapshot())
				}
				_ = sess.finish(report)
			}
			return e.complete(sess, emitter), nil
		}

		if resp.Content != "" {
			emitter.Emit(Event{Type: EventAgentReasoning, Data: ReasoningPayload{Content: resp.Content}})
		}

		sess.setState(StateActing)
		msgs, fatal := e.dispatchTurn(ctx, sess, resp.ToolCalls, emitter)
		sess.append(msgs...)
		if fatal != nil {
			emitter.Emit(Event{Type: EventError, Data: ErrorPayload{Error: fatal.Error()}})
			return e.abort(sess, emitter, fatal.Error()), fatal
		}

		if sess.isFinished() {
			return e.complete(sess, emitter), nil
		}
	}

	emitter.Emit(Event{Type: EventError, Data: ErrorPayload{
		Error: fmt.Sprintf("iteration limit (%d) reached before research finished", e.cfg.MaxIterations),
	}})
	return e.abort(sess, emitter, "iteration limit reached"), nil
}

// dispatchTurn executes one model turn's tool calls and returns the tool
// messages in original proposal order. Calls may execute concurrently, but the
// transcript ordering and tool_call_id pairing are preserved regardless.
func (e *Engine) dispatchTurn(ctx context.Context, sess *Session, calls []ToolCall, emitter Emitter) ([]Message, error) {
	msgs := make([]Message, len(calls))
	errs := make([]error, len(calls))

	run := func(i int, call ToolCall) {
		msg, ok, err := e.dispatcher.Dispatch(ctx, sess, call, emitter)
		msgs[i], errs[i] = msg, err
		if e.metrics != nil {
			outcome := "ok"
			if err != nil || !ok {
				outcome = "error"
			}
			e.metrics.ToolCalls.WithLabelValues(call.Name, outcome).Inc()
		}
	}

	if e.cfg.ParallelTools && len(calls) > 1 {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call ToolCall) {
				defer wg.Done()
				run(i, call)
			}(i, call)
		}
		wg.Wait()
	} else {
		for i, call := range calls {
			run(i, call)
		}
	}

	for i := range msgs {
		if errs[i] != nil {
			return append([]Message(nil), msgs[:i]...), errs[i]
		}
	}
	return msgs, nil
}

// completeWithRetry calls the model with the full transcript and the fixed
// tool schema, retrying once on failure or timeout.
func (e *Engine) completeWithRetry(ctx context.Context, sess *Session) (ModelResponse, error) {
	sess.mu.Lock()
	transcript := append([]Message(nil), sess.messages...)
	sess.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
		t0 := time.Now()
		resp, err := e.provider.Complete(callCtx, transcript, ToolSchemas())
		cancel()
		if e.metrics != nil {
			e.metrics.ModelLatency.Observe(time.Since(t0).Seconds())
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			e.metrics.ModelCalls.WithLabelValues(outcome).Inc()
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		e.logger.Printf("session %s: model attempt %d failed: %v", sess.ID, attempt+1, err)
	}
	return ModelResponse{}, lastErr
}

func (e *Engine) complete(sess *Session, emitter Emitter) *Result {
	sess.setState(StateFinished)
	result := sess.Result()
	emitter.Emit(Event{Type: EventFinalReport, Data: ReportPayload{Report: result.FinalReport}})
	emitter.Emit(Event{Type: EventComplete, Data: result})
	return result
}

// abort moves the session to ABORTED, synthesizing a best-effort report from
// accumulated findings so exhaustion or failure never drops gathered state.
func (e *Engine) abort(sess *Session, emitter Emitter, reason string) *Result {
	if !sess.isFinished() {
		_ = sess.finish(fallbackReport(sess.Query, sess.Checklist.Snapshot(), sess.Ledger.Snapshot()))
	}
	sess.setState(StateAborted)
	result := sess.Result()
	e.logger.Printf("session %s: aborted: %s", sess.ID, reason)
	emitter.Emit(Event{Type: EventFinalReport, Data: ReportPayload{Report: result.FinalReport}})
	emitter.Emit(Event{Type: EventComplete, Data: result})
	return result
}
