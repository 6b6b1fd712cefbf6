// Package tools implements the business functions the model can invoke
// during a call, together with the registry that declares their schemas to
// the LLM session and dispatches invocations.
//
// Four tools are exported via [NewForCall]:
//   - "check_order_status"  — order and shipping status by phone or order id.
//   - "register_return"     — return/exchange intake with eligibility rules.
//   - "send_email"          — templated follow-up mail to the customer.
//   - "transfer_to_human"   — flags the call for a human agent.
//
// Handlers are safe for concurrent use. A handler error never reaches the
// caller as an error: the dispatcher logs it and substitutes a spoken
// apology, so a backend outage degrades to a polite sentence instead of a
// dropped call.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/koebridge/koebridge/internal/observe"
	"github.com/koebridge/koebridge/pkg/realtime"
)

// systemErrorMessage is spoken when a tool fails unexpectedly.
const systemErrorMessage = "申し訳ございません。システムエラーが発生しました。少し時間をおいてから、もう一度お試しください。"

// Priority ranks a handoff request for the support staff.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	return p == PriorityNormal || p == PriorityHigh || p == PriorityUrgent
}

// Result is the outcome of a tool invocation. Implementations are
// [TextResult], [StructuredResult], and [HandoffResult]; the mediator
// branches on the concrete type while Output renders the string handed back
// to the model.
type Result interface {
	isResult()

	// Output is the function output string sent to the model.
	Output() string
}

// TextResult is a plain sentence for the model to voice.
type TextResult struct {
	Text string
}

// StructuredResult reports a business outcome, typically a refused or
// escalated return.
type StructuredResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	RequiresHandoff bool   `json:"requiresHandoff"`
}

// HandoffResult asks the mediator to route the call to a human.
type HandoffResult struct {
	Reason   string
	Summary  string
	Priority Priority
}

func (TextResult) isResult()       {}
func (StructuredResult) isResult() {}
func (HandoffResult) isResult()    {}

func (r TextResult) Output() string { return r.Text }

func (r StructuredResult) Output() string {
	data, err := json.Marshal(r)
	if err != nil {
		return r.Message
	}
	return string(data)
}

func (r HandoffResult) Output() string {
	return "担当者への引き継ぎを受け付けました。お客様には、後ほど担当者からご連絡することをお伝えください。"
}

// CallContext carries the call-scoped facts tools fall back on when the
// model omits arguments.
type CallContext struct {
	CallID       string
	CallerNumber string
	CustomerName string
}

// Tool pairs an LLM-facing schema with the handler invoked when the model
// calls it.
type Tool struct {
	// Definition is the tool's schema: name, description, and JSON Schema
	// parameter specification.
	Definition realtime.ToolDefinition

	// Handler executes the tool with the model-supplied JSON arguments.
	// Implementations must be safe for concurrent use and must respect
	// context cancellation.
	Handler func(ctx context.Context, args string) (Result, error)
}

// Registry declares tools to the session and dispatches invocations. The
// tool set is fixed at construction time.
type Registry struct {
	log   *slog.Logger
	met   *observe.Metrics
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry over the given tools. met may be nil, in
// which case no metrics are recorded.
func NewRegistry(log *slog.Logger, met *observe.Metrics, tools ...Tool) *Registry {
	r := &Registry{
		log:   log,
		met:   met,
		tools: make(map[string]Tool, len(tools)),
	}
	for _, t := range tools {
		if _, dup := r.tools[t.Definition.Name]; !dup {
			r.order = append(r.order, t.Definition.Name)
		}
		r.tools[t.Definition.Name] = t
	}
	return r
}

// Deps are the collaborators the standard tool set is built from.
type Deps struct {
	Log    *slog.Logger
	Orders OrderService
	Email  EmailSender
	Call   CallContext

	// ShopName appears in mail subjects and bodies. Empty falls back to a
	// generic label.
	ShopName string

	// Metrics may be nil.
	Metrics *observe.Metrics

	// Now is the clock used by return eligibility. Nil means time.Now.
	Now func() time.Time
}

// NewForCall builds the standard four-tool registry for one call.
func NewForCall(d Deps) *Registry {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return NewRegistry(d.Log, d.Metrics,
		orderStatusTool(d),
		registerReturnTool(d),
		sendEmailTool(d),
		transferTool(d),
	)
}

// Definitions returns the tool schemas in registration order, ready for the
// session update.
func (r *Registry) Definitions() []realtime.ToolDefinition {
	defs := make([]realtime.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Execute dispatches one invocation. It never returns an error: unknown
// tools and handler failures both degrade to a [TextResult] the model can
// voice.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) Result {
	t, ok := r.tools[name]
	if !ok {
		r.log.Warn("unknown tool requested", "tool", name)
		r.recordCall(ctx, name, "unknown", 0)
		return TextResult{Text: "unknown tool: " + name}
	}

	start := time.Now()
	res, err := t.Handler(ctx, argsJSON)
	elapsed := time.Since(start)

	if err != nil {
		r.log.Error("tool execution failed", "tool", name, "error", err)
		r.recordCall(ctx, name, "error", elapsed)
		return TextResult{Text: systemErrorMessage}
	}
	r.recordCall(ctx, name, "ok", elapsed)
	return res
}

func (r *Registry) recordCall(ctx context.Context, name, outcome string, elapsed time.Duration) {
	if r.met == nil {
		return
	}
	r.met.RecordToolCall(ctx, name, outcome)
	if elapsed > 0 {
		r.met.ToolDuration.Record(ctx, elapsed.Seconds())
	}
}

// decodeArgs parses the model-supplied argument JSON. Malformed JSON is
// logged and degrades to empty arguments; tools then ask the caller for
// whatever is missing.
func decodeArgs[T any](log *slog.Logger, raw string) T {
	var a T
	if strings.TrimSpace(raw) == "" {
		return a
	}
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		log.Warn("malformed tool arguments treated as empty", "error", err)
		var zero T
		return zero
	}
	return a
}
