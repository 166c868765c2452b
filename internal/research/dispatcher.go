package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Tool names in the fixed schema handed to the model.
const (
	ToolSearch          = "search"
	ToolGetChecklist    = "get_current_checklist"
	ToolModifyChecklist = "modify_checklist"
	ToolWriteSubreport  = "write_subreport"
	ToolFinish          = "finish"
)

const (
	searchExcerptChars = 300
	previewChars       = 120
)

// Dispatcher validates and executes the tool invocations the model requests,
// mutating the session's checklist and ledger and producing one tool-result
// message per call. Handler failures become error tool results the model can
// see and react to; only an unknown tool name is fatal to the session.
type Dispatcher struct {
	searcher      Searcher
	logger        *log.Logger
	searchTimeout time.Duration
}

func NewDispatcher(searcher Searcher, logger *log.Logger, searchTimeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	if searchTimeout <= 0 {
		searchTimeout = 30 * time.Second
	}
	return &Dispatcher{searcher: searcher, logger: logger, searchTimeout: searchTimeout}
}

// ToolSchemas returns the fixed tool schema advertised to the model.
func ToolSchemas() []ToolSchema {
	return []ToolSchema{
		{
			Name:        ToolSearch,
			Description: "Search the web for information on a specific query. Returns sources with citation ids, titles and excerpts.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "The search query to look up"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolGetChecklist,
			Description: "Get the current state of your research checklist and progress.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolModifyChecklist,
			Description: "Create or update research checklist items. Omit id to add a new item; pass id to edit or complete an existing one.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"items": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id":         map[string]any{"type": "string"},
								"question":   map[string]any{"type": "string"},
								"status":     map[string]any{"type": "string", "enum": []string{"pending", "completed"}},
								"findings":   map[string]any{"type": "string"},
								"source_ids": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
							},
						},
					},
				},
				"required": []string{"items"},
			},
		},
		{
			Name:        ToolWriteSubreport,
			Description: "Write findings for a specific checklist item, marking it completed. Cite supporting sources by id.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"item_id":    map[string]any{"type": "string", "description": "The checklist item id, e.g. item_1"},
					"findings":   map[string]any{"type": "string", "description": "Research findings for this item"},
					"source_ids": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
				},
				"required": []string{"item_id", "findings"},
			},
		},
		{
			Name:        ToolFinish,
			Description: "Complete research with the final synthesized report, citing sources with [source_id] markers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"final_report": map[string]any{"type": "string", "description": "The complete research report"},
				},
				"required": []string{"final_report"},
			},
		},
	}
}

// Dispatch executes one tool call against the session. The returned message is
// always a valid tool result paired with call.ID and the bool reports handler
// success; a non-nil error means the session must abort (unknown tool).
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, call ToolCall, emitter Emitter) (Message, bool, error) {
	emitter.Emit(Event{Type: EventToolCallStarted, Data: ToolStartedPayload{
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Arguments:  call.Arguments,
	}})

	var content string
	var err error
	switch call.Name {
	case ToolSearch:
		content, err = d.handleSearch(ctx, sess, call.Arguments, emitter)
	case ToolGetChecklist:
		content, err = d.handleGetChecklist(sess)
	case ToolModifyChecklist:
		content, err = d.handleModifyChecklist(sess, call.Arguments, emitter)
	case ToolWriteSubreport:
		content, err = d.handleWriteSubreport(sess, call.Arguments, emitter)
	case ToolFinish:
		content, err = d.handleFinish(sess, call.Arguments)
	default:
		emitter.Emit(Event{Type: EventToolCallCompleted, Data: ToolCompletedPayload{
			ToolName: call.Name, ToolCallID: call.ID, Success: false,
			ResultPreview: "unknown tool",
		}})
		return Message{}, false, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	if err != nil {
		d.logger.Printf("tool %s failed: %v", call.Name, err)
		content = fmt.Sprintf("Tool error: %v", err)
	}
	emitter.Emit(Event{Type: EventToolCallCompleted, Data: ToolCompletedPayload{
		ToolName:      call.Name,
		ToolCallID:    call.ID,
		Success:       err == nil,
		ResultPreview: preview(content),
	}})
	return ToolMessage(call.ID, call.Name, content), err == nil, nil
}

func (d *Dispatcher) handleSearch(ctx context.Context, sess *Session, raw json.RawMessage, emitter Emitter) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid search arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("search requires a non-empty query")
	}

	docs, err := d.searchWithRetry(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Sprintf("No results found for %q.", args.Query), nil
	}

	ids, fresh := sess.Ledger.Register(docs)
	if len(fresh) > 0 {
		emitter.Emit(Event{Type: EventSourceDiscovered, Data: SourcesPayload{Sources: fresh}})
	}

	// Compact digest only: full page text never enters the transcript.
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d sources for %q:\n", len(docs), args.Query)
	for i, doc := range docs {
		fmt.Fprintf(&b, "[%d] %s\n    %s\n", ids[i], doc.Title, doc.URL)
		if excerpt := trimExcerpt(doc.Content, searchExcerptChars); excerpt != "" {
			fmt.Fprintf(&b, "    %s\n", excerpt)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// searchWithRetry retries a failed or timed-out search once with identical
// input before surfacing the error.
func (d *Dispatcher) searchWithRetry(ctx context.Context, query string) ([]Document, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, d.searchTimeout)
		docs, err := d.searcher.Search(callCtx, query)
		cancel()
		if err == nil {
			return docs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		d.logger.Printf("search attempt %d for %q failed: %v", attempt+1, query, err)
	}
	return nil, lastErr
}

func (d *Dispatcher) handleGetChecklist(sess *Session) (string, error) {
	total, completed := sess.Checklist.Counts()
	return fmt.Sprintf("Checklist: %d/%d items completed | %d sources discovered\n%s",
		completed, total, sess.Ledger.Count(), sess.Checklist.FormatDisplay()), nil
}

func (d *Dispatcher) handleModifyChecklist(sess *Session, raw json.RawMessage, emitter Emitter) (string, error) {
	var args struct {
		Items []ItemPatch `json:"items"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid modify_checklist arguments: %w", err)
	}
	if len(args.Items) == 0 {
		return "", fmt.Errorf("modify_checklist requires at least one item")
	}

	applied := 0
	var problems []string
	for i, patch := range args.Items {
		if _, err := sess.Checklist.Upsert(patch); err != nil {
			problems = append(problems, fmt.Sprintf("item %d: %v", i+1, err))
			continue
		}
		applied++
	}
	if applied > 0 {
		emitter.Emit(Event{Type: EventChecklistUpdated, Data: ChecklistPayload{Items: sess.Checklist.Snapshot()}})
	}
	if applied == 0 {
		return "", fmt.Errorf("no checklist changes applied: %s", strings.Join(problems, "; "))
	}

	out := "Checklist updated:\n" + sess.Checklist.FormatDisplay()
	if len(problems) > 0 {
		out += "\nErrors: " + strings.Join(problems, "; ")
	}
	return out, nil
}

func (d *Dispatcher) handleWriteSubreport(sess *Session, raw json.RawMessage, emitter Emitter) (string, error) {
	var args struct {
		ItemID    string `json:"item_id"`
		Findings  string `json:"findings"`
		SourceIDs []int  `json:"source_ids"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid write_subreport arguments: %w", err)
	}
	if strings.TrimSpace(args.Findings) == "" {
		return "", fmt.Errorf("write_subreport requires findings")
	}

	item, err := sess.Checklist.Complete(args.ItemID, args.Findings, args.SourceIDs)
	if err != nil {
		return "", err
	}
	emitter.Emit(Event{Type: EventChecklistUpdated, Data: ChecklistPayload{Items: sess.Checklist.Snapshot()}})

	total, completed := sess.Checklist.Counts()
	return fmt.Sprintf("Recorded findings for %s (%q). Progress: %d/%d items completed.",
		item.ID, item.Question, completed, total), nil
}

func (d *Dispatcher) handleFinish(sess *Session, raw json.RawMessage) (string, error) {
	var args struct {
		FinalReport string `json:"final_report"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid finish arguments: %w", err)
	}
	if strings.TrimSpace(args.FinalReport) == "" {
		return "", fmt.Errorf("finish requires a final_report")
	}
	if err := sess.finish(args.FinalReport); err != nil {
		return "", err
	}
	return fmt.Sprintf("Research complete. Final report recorded (%d chars).", len(args.FinalReport)), nil
}

func trimExcerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}

func preview(s string) string {
	return trimExcerpt(s, previewChars)
}
