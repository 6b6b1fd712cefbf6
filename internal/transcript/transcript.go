// Package transcript persists per-call conversation records: one calls row
// per call, append-only messages and tool_calls under it. Writes are
// best-effort from the bridge's point of view; the mediator logs sink errors
// and keeps going.
package transcript

import (
	"context"
	"time"
)

// Speaker labels one transcript entry.
type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
	SpeakerTool      Speaker = "tool"
)

// Ref identifies one recorded call inside the sink. NoRef means the call is
// not being recorded; append and end operations on it are no-ops.
type Ref string

// NoRef is the zero Ref.
const NoRef Ref = ""

// CallInfo describes a call at recording start.
type CallInfo struct {
	// CallID is the carrier's call identifier.
	CallID string

	// CallerPhone is the caller's number in E.164 form.
	CallerPhone string

	// CustomerName is set when the webhook lookup identified the caller.
	CustomerName string

	// Identified reports whether the webhook lookup found the caller.
	Identified bool
}

// Sink records calls. Implementations are safe for concurrent use; one
// process-wide sink serves all calls.
type Sink interface {
	StartCall(ctx context.Context, info CallInfo) (Ref, error)
	AppendMessage(ctx context.Context, ref Ref, speaker Speaker, content string) error
	AppendToolCall(ctx context.Context, ref Ref, name, args, result string) error
	EndCall(ctx context.Context, ref Ref, duration time.Duration) error
}

// NoopSink drops everything. Used when no transcript store is configured.
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) StartCall(context.Context, CallInfo) (Ref, error) { return NoRef, nil }

func (NoopSink) AppendMessage(context.Context, Ref, Speaker, string) error { return nil }

func (NoopSink) AppendToolCall(context.Context, Ref, string, string, string) error { return nil }

func (NoopSink) EndCall(context.Context, Ref, time.Duration) error { return nil }
