// Package mock provides test doubles for the realtime package interfaces.
//
// Use Dialer to verify Connect calls and hand out controlled sessions. Use
// Session to script server events and inspect which methods the bridge
// invoked.
//
// Example:
//
//	sess := &mock.Session{EventsCh: make(chan realtime.Event, 8)}
//	d := &mock.Dialer{Session: sess}
//	handle, _ := d.Connect(ctx)
//	sess.EventsCh <- realtime.SessionCreated{}
package mock

import (
	"context"
	"sync"

	"github.com/koebridge/koebridge/pkg/realtime"
)

// ConnectCall records a single invocation of Dialer.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
}

// Dialer is a mock implementation of realtime.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new default
	// Session with a buffered events channel.
	Session realtime.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (d *Dialer) Connect(ctx context.Context) (realtime.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectCalls = append(d.ConnectCalls, ConnectCall{Ctx: ctx})
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	if d.Session != nil {
		return d.Session, nil
	}
	return &Session{EventsCh: make(chan realtime.Event, 64)}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (d *Dialer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectCalls = nil
}

// Ensure Dialer implements realtime.Dialer at compile time.
var _ realtime.Dialer = (*Dialer)(nil)

// ToolResultCall records a single invocation of Session.SendToolResult.
type ToolResultCall struct {
	// CallID is the tool call identifier passed to SendToolResult.
	CallID string
	// Output is the JSON output string passed to SendToolResult.
	Output string
}

// Session is a mock implementation of realtime.Session.
// Callers should pre-populate EventsCh with scripted events, then close it to
// signal connection loss.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers own this channel.
	EventsCh chan realtime.Event

	// ErrVal is returned by Err.
	ErrVal error

	// --- Configurable errors ---

	// UpdateSessionErr, if non-nil, is returned by every UpdateSession call.
	UpdateSessionErr error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CommitInputBufferErr, if non-nil, is returned by every CommitInputBuffer call.
	CommitInputBufferErr error

	// ClearInputBufferErr, if non-nil, is returned by every ClearInputBuffer call.
	ClearInputBufferErr error

	// CreateResponseErr, if non-nil, is returned by every CreateResponse call.
	CreateResponseErr error

	// CancelResponseErr, if non-nil, is returned by every CancelResponse call.
	CancelResponseErr error

	// SendToolResultErr, if non-nil, is returned by every SendToolResult call.
	SendToolResultErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// UpdateSessionCalls records every config passed to UpdateSession in order.
	UpdateSessionCalls []realtime.SessionConfig

	// SendAudioCalls records every payload passed to SendAudio in order.
	SendAudioCalls []string

	// CommitInputBufferCallCount is the number of times CommitInputBuffer was called.
	CommitInputBufferCallCount int

	// ClearInputBufferCallCount is the number of times ClearInputBuffer was called.
	ClearInputBufferCallCount int

	// CreateResponseCallCount is the number of times CreateResponse was called.
	CreateResponseCallCount int

	// CancelResponseCallCount is the number of times CancelResponse was called.
	CancelResponseCallCount int

	// ToolResultCalls records every call to SendToolResult in order.
	ToolResultCalls []ToolResultCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// UpdateSession records the call and returns UpdateSessionErr.
func (s *Session) UpdateSession(cfg realtime.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateSessionCalls = append(s.UpdateSessionCalls, cfg)
	return s.UpdateSessionErr
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(audio string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = append(s.SendAudioCalls, audio)
	return s.SendAudioErr
}

// CommitInputBuffer records the call and returns CommitInputBufferErr.
func (s *Session) CommitInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommitInputBufferCallCount++
	return s.CommitInputBufferErr
}

// ClearInputBuffer records the call and returns ClearInputBufferErr.
func (s *Session) ClearInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClearInputBufferCallCount++
	return s.ClearInputBufferErr
}

// CreateResponse records the call and returns CreateResponseErr.
func (s *Session) CreateResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateResponseCallCount++
	return s.CreateResponseErr
}

// CancelResponse records the call and returns CancelResponseErr.
func (s *Session) CancelResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelResponseCallCount++
	return s.CancelResponseErr
}

// SendToolResult records the call and returns SendToolResultErr.
func (s *Session) SendToolResult(callID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolResultCalls = append(s.ToolResultCalls, ToolResultCall{CallID: callID, Output: output})
	return s.SendToolResultErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateSessionCalls = nil
	s.SendAudioCalls = nil
	s.CommitInputBufferCallCount = 0
	s.ClearInputBufferCallCount = 0
	s.CreateResponseCallCount = 0
	s.CancelResponseCallCount = 0
	s.ToolResultCalls = nil
	s.CloseCallCount = 0
}

// Ensure Session implements realtime.Session at compile time.
var _ realtime.Session = (*Session)(nil)
