package research

import (
	"encoding/json"
	"sync"
)

// EventType identifies one kind of session progress event.
type EventType string

const (
	EventAgentReasoning    EventType = "agent_reasoning"
	EventToolCallStarted   EventType = "tool_call_started"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventChecklistUpdated  EventType = "checklist_updated"
	EventSourceDiscovered  EventType = "source_discovered"
	EventFinalReport       EventType = "final_report"
	EventComplete          EventType = "complete"
	EventError             EventType = "error"
)

// Event is one typed state transition published by the engine. Data is always
// JSON-serializable.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Event payloads.
type (
	ReasoningPayload struct {
		Content string `json:"content"`
	}
	ToolStartedPayload struct {
		ToolName   string          `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Arguments  json.RawMessage `json:"arguments,omitempty"`
	}
	ToolCompletedPayload struct {
		ToolName      string `json:"tool_name"`
		ToolCallID    string `json:"tool_call_id"`
		Success       bool   `json:"success"`
		ResultPreview string `json:"result_preview,omitempty"`
	}
	ChecklistPayload struct {
		Items []ChecklistItem `json:"items"`
	}
	SourcesPayload struct {
		Sources []Source `json:"sources"`
	}
	ReportPayload struct {
		Report string `json:"report"`
	}
	ErrorPayload struct {
		Error string `json:"error"`
	}
)

// Emitter receives session events as they are produced. Implementations must
// not block: loop progress never depends on a consumer keeping up.
type Emitter interface {
	Emit(Event)
}

// NopEmitter discards all events; batch callers use it and read the terminal
// Result instead.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// ChannelEmitter delivers events over a buffered channel for streaming
// consumers. When the buffer is full events are dropped rather than stalling
// the loop; the terminal snapshot is unaffected.
type ChannelEmitter struct {
	ch      chan Event
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int
}

func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelEmitter{ch: make(chan Event, buffer)}
}

func (c *ChannelEmitter) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- ev:
	default:
		c.dropped++
	}
}

// Events returns the consumer side of the stream.
func (c *ChannelEmitter) Events() <-chan Event { return c.ch }

// Dropped reports how many events were discarded due to a slow consumer.
func (c *ChannelEmitter) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close ends the stream; further Emit calls are ignored.
func (c *ChannelEmitter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.once.Do(func() { close(c.ch) })
}

// CollectorEmitter records every event in order; used in tests to assert
// streaming/batch equivalence.
type CollectorEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (c *CollectorEmitter) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *CollectorEmitter) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}
