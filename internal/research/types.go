package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Message roles, OpenAI chat wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a single structured action request issued by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one turn in the session transcript. The transcript is append-only;
// every tool message's ToolCallID pairs with exactly one earlier assistant tool call.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message   { return Message{Role: RoleUser, Content: content} }

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

func ToolMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, Name: toolName, ToolCallID: callID}
}

// ItemStatus is the lifecycle state of a checklist item. Transitions are
// monotonic: pending items may complete, completed items never revert.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusCompleted ItemStatus = "completed"
)

// ChecklistItem is one sub-question the session must resolve before synthesis.
type ChecklistItem struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Status    ItemStatus `json:"status"`
	Findings  string     `json:"findings,omitempty"`
	SourceIDs []int      `json:"source_ids,omitempty"`
}

// Document is a raw search/scrape result before it is registered in the ledger.
type Document struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Source is a registered document with a stable citation id, referenced inline
// as [n] in findings and report text.
type Source struct {
	ID      int    `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// Ref returns the public citation token for the source.
func (s Source) Ref() string { return fmt.Sprintf("[%d]", s.ID) }

// SessionState is the orchestration loop state machine position.
type SessionState string

const (
	StatePlanning SessionState = "planning"
	StateActing   SessionState = "acting"
	StateFinished SessionState = "finished"
	StateAborted  SessionState = "aborted"
)

// Result is the terminal snapshot of a research session.
type Result struct {
	SessionID   string          `json:"session_id"`
	Query       string          `json:"query"`
	State       SessionState    `json:"state"`
	Messages    []Message       `json:"messages"`
	Checklist   []ChecklistItem `json:"checklist"`
	Sources     []Source        `json:"sources"`
	FinalReport string          `json:"final_report"`
	Iterations  int             `json:"iterations"`
}

// ToolSchema describes one callable tool in the fixed schema handed to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ModelResponse is the outcome of one completion call: either assistant text
// (terminal) or a list of requested tool invocations.
type ModelResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// CompletionProvider is the opaque model collaborator.
type CompletionProvider interface {
	Complete(ctx context.Context, messages []Message, tools []ToolSchema) (ModelResponse, error)
}

// Searcher is the opaque web search collaborator. An empty result list is a
// valid, non-error response.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Document, error)
}

// Sentinel errors surfaced by the stores, dispatcher and providers.
var (
	ErrUnknownItem      = errors.New("unknown checklist item")
	ErrAlreadyFinished  = errors.New("research already finished")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrIterationLimit   = errors.New("iteration limit reached")
)
