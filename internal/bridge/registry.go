package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/koebridge/koebridge/internal/observe"
)

// Registry tracks live calls process-wide. The health endpoint reads the
// count, the active-calls gauge follows registration, and graceful shutdown
// drains it.
type Registry struct {
	log *slog.Logger
	met *observe.Metrics

	mu    sync.Mutex
	calls map[string]*Mediator
}

// NewRegistry builds an empty registry. log may be nil, met may be nil.
func NewRegistry(log *slog.Logger, met *observe.Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log.With("component", "calls"),
		met:   met,
		calls: make(map[string]*Mediator),
	}
}

// Add registers a running call under its carrier call SID.
func (r *Registry) Add(callSid string, m *Mediator) {
	r.mu.Lock()
	r.calls[callSid] = m
	active := len(r.calls)
	r.mu.Unlock()

	if r.met != nil {
		r.met.ActiveCalls.Add(context.Background(), 1)
	}
	r.log.Debug("call registered", "call_sid", callSid, "active", active)
}

// Remove drops a finished call. Removing an unknown SID is a no-op.
func (r *Registry) Remove(callSid string) {
	r.mu.Lock()
	_, known := r.calls[callSid]
	delete(r.calls, callSid)
	active := len(r.calls)
	r.mu.Unlock()

	if !known {
		return
	}
	if r.met != nil {
		r.met.ActiveCalls.Add(context.Background(), -1)
	}
	r.log.Debug("call released", "call_sid", callSid, "active", active)
}

// Count reports the number of live calls.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Shutdown closes every live call and waits for each to wind down, or for
// ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	calls := make([]*Mediator, 0, len(r.calls))
	for _, m := range r.calls {
		calls = append(calls, m)
	}
	r.mu.Unlock()

	if len(calls) == 0 {
		return nil
	}
	r.log.Info("draining active calls", "count", len(calls))

	for _, m := range calls {
		m.Shutdown()
	}
	for _, m := range calls {
		select {
		case <-m.Done():
		case <-ctx.Done():
			return fmt.Errorf("bridge: drain calls: %w", ctx.Err())
		}
	}
	return nil
}
