// Package carrier implements the telephony side of the bridge: the inbound
// call webhook with its TwiML response, and the media-stream WebSocket
// session that carries call audio.
//
// Audio payloads are opaque base64 strings in the carrier-native codec
// (8 kHz μ-law); the package never decodes them.
package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/koebridge/koebridge/pkg/orderapi"
)

const (
	// eventBuf sizes the inbound event channel. Media frames arrive every
	// 20 ms; the buffer absorbs short mediator stalls without dropping audio.
	eventBuf = 16

	// startTimeout bounds the wait for the carrier's start frame after the
	// socket opens.
	startTimeout = 10 * time.Second
)

// ErrStreamClosed is returned by send methods after Close.
var ErrStreamClosed = errors.New("carrier: stream closed")

// ── Stream ─────────────────────────────────────────────────────────────────────

// Stream is one live media WebSocket from the carrier. Inbound frames are
// delivered as typed events on Events in wire order; the channel closes when
// the socket dies. Send methods are safe for concurrent use.
type Stream struct {
	conn   *websocket.Conn
	events chan Event
	log    *slog.Logger

	mu        sync.Mutex
	streamSid string
	closed    bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newStream(conn *websocket.Conn, log *slog.Logger) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		conn:   conn,
		events: make(chan Event, eventBuf),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// readLoop reads frames from the WebSocket and delivers them on the events
// channel. It owns the channel: it closes it when it exits.
func (s *Stream) readLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}

		evt, ok := s.parseFrame(data)
		if !ok {
			continue
		}

		// The stream SID routes every outbound frame; capture it before the
		// consumer can react to the start event.
		if st, isStart := evt.(Start); isStart {
			s.mu.Lock()
			s.streamSid = st.StreamSid
			s.mu.Unlock()
		}

		select {
		case s.events <- evt:
		case <-s.ctx.Done():
			return
		}
	}
}

// parseFrame translates one wire frame into a typed event. Malformed frames
// are logged and dropped; a single bad frame never kills the call.
func (s *Stream) parseFrame(data []byte) (Event, bool) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Warn("dropping malformed media frame", "error", err)
		return nil, false
	}

	switch f.Event {
	case "connected":
		return Connected{}, true
	case "start":
		if f.Start == nil {
			s.log.Warn("dropping start frame without payload")
			return nil, false
		}
		return Start{
			StreamSid:  f.Start.StreamSid,
			CallSid:    f.Start.CallSid,
			Parameters: f.Start.CustomParameters,
		}, true
	case "media":
		if f.Media == nil || f.Media.Payload == "" {
			return nil, false
		}
		return Media{Payload: f.Media.Payload}, true
	case "mark":
		if f.Mark == nil {
			s.log.Warn("dropping mark frame without payload")
			return nil, false
		}
		return Mark{Name: f.Mark.Name}, true
	case "stop":
		return Stop{}, true
	default:
		return Ignored{Kind: f.Event}, true
	}
}

// writeJSON marshals v and writes it as a text WebSocket message. The
// underlying connection serialises concurrent writers.
func (s *Stream) writeJSON(v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("carrier: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

func (s *Stream) sid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// SendMedia queues one base64 μ-law chunk for playback to the caller.
func (s *Stream) SendMedia(payload string) error {
	return s.writeJSON(outboundMedia{
		Event:     "media",
		StreamSid: s.sid(),
		Media:     mediaPayload{Payload: payload},
	})
}

// SendMark asks the carrier to report back, via an inbound Mark event, when
// playback reaches this point in the queued audio.
func (s *Stream) SendMark(name string) error {
	return s.writeJSON(outboundMark{
		Event:     "mark",
		StreamSid: s.sid(),
		Mark:      markPayload{Name: name},
	})
}

// SendClear discards audio the carrier has queued but not yet played.
func (s *Stream) SendClear() error {
	return s.writeJSON(outboundClear{
		Event:     "clear",
		StreamSid: s.sid(),
	})
}

// Events returns the inbound event stream. The channel closes when the
// connection dies or the stream is closed.
func (s *Stream) Events() <-chan Event { return s.events }

// Close terminates the stream and releases all resources. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	return nil
}

func (s *Stream) closeEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

// ── Endpoint ───────────────────────────────────────────────────────────────────

// StartInfo is the call identity assembled from the start frame and the
// custom parameters the webhook embedded in the stream TwiML.
type StartInfo struct {
	StreamSid   string
	CallSid     string
	CallerPhone string
	StartedAt   time.Time
	Context     orderapi.IdentificationContext
}

// SessionFunc runs one call over an accepted media stream. It is invoked
// synchronously from the HTTP handler; the socket closes when it returns.
type SessionFunc func(ctx context.Context, stream *Stream, info StartInfo)

// Handler returns the media-stream WebSocket endpoint. It upgrades the
// connection, waits for the carrier's start frame, rebuilds the
// identification context from the custom parameters, and hands the live
// stream to handle.
func Handler(log *slog.Logger, handle SessionFunc) http.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "carrier")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Media connections come from carrier infrastructure, not
			// browsers; there is no origin to verify.
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Warn("media stream accept failed", "error", err)
			return
		}

		stream := newStream(conn, log)
		defer stream.Close()
		go stream.readLoop()

		info, err := stream.waitForStart(r.Context())
		if err != nil {
			log.Warn("media stream ended before start", "error", err)
			return
		}
		log.Info("media stream started",
			"call_sid", info.CallSid,
			"stream_sid", info.StreamSid,
			"identified", info.Context.Found,
		)

		handle(r.Context(), stream, info)
	}
}

// waitForStart consumes events until the start frame arrives. Connected and
// any early media are discarded; a stop, socket close or timeout before
// start fails the call.
func (s *Stream) waitForStart(ctx context.Context) (StartInfo, error) {
	timer := time.NewTimer(startTimeout)
	defer timer.Stop()

	for {
		select {
		case evt, ok := <-s.events:
			if !ok {
				return StartInfo{}, errors.New("carrier: stream closed before start")
			}
			switch e := evt.(type) {
			case Start:
				return s.startInfo(e), nil
			case Stop:
				return StartInfo{}, errors.New("carrier: stream stopped before start")
			}
		case <-timer.C:
			return StartInfo{}, fmt.Errorf("carrier: no start frame within %s", startTimeout)
		case <-ctx.Done():
			return StartInfo{}, ctx.Err()
		}
	}
}

// startInfo reconstructs the call identity from a start event. A missing or
// malformed customer context parameter downgrades to an unidentified caller;
// it never fails the call.
func (s *Stream) startInfo(e Start) StartInfo {
	info := StartInfo{
		StreamSid:   e.StreamSid,
		CallSid:     e.CallSid,
		CallerPhone: e.Parameters[ParamCallerPhone],
		StartedAt:   time.Now(),
		Context:     orderapi.UnknownContext(false),
	}
	if info.CallSid == "" {
		info.CallSid = e.Parameters[ParamCallSid]
	}
	if enc := e.Parameters[ParamCustomerContext]; enc != "" {
		c, err := orderapi.DecodeContext(enc)
		if err != nil {
			s.log.Warn("discarding malformed customer context", "error", err)
		} else {
			info.Context = c
		}
	}
	return info
}
