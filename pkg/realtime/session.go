// Package realtime implements a client for OpenAI's Realtime API over
// WebSocket.
//
// A Session exchanges JSON events with the service: caller audio goes up as
// base64-encoded G.711 μ-law chunks, and everything the server sends back —
// assistant audio, transcripts, speech detection, tool calls, errors — is
// delivered in arrival order as typed events on a single channel. The channel
// closes when the socket dies, so consumers observe connection loss as
// end-of-stream rather than through callbacks.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Compile-time assertions that Client and session satisfy the interfaces.
var _ Dialer = (*Client)(nil)
var _ Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// audioFormat is the codec negotiated in both directions. Telephony media
	// arrives as 8 kHz μ-law, and the service accepts it natively, so audio
	// passes through without transcoding.
	audioFormat = "g711_ulaw"

	defaultTranscriptionModel = "whisper-1"

	// eventBuf sizes the server event channel. Audio deltas dominate the
	// stream; the buffer absorbs bursts while the consumer is busy.
	eventBuf = 64
)

// ErrSessionClosed is returned by send methods after Close.
var ErrSessionClosed = errors.New("realtime: session closed")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model requested when connecting.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Dialer opens Realtime sessions. Satisfied by Client and by test doubles.
type Dialer interface {
	Connect(ctx context.Context) (Session, error)
}

// Client dials the OpenAI Realtime API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
}

// NewClient creates a Client with the given API key and options.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect establishes a WebSocket connection and starts the receive loop.
// The session carries no configuration yet; callers send their instructions,
// voice and tools with UpdateSession once connected.
func (c *Client) Connect(ctx context.Context) (Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan Event, eventBuf),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Session configuration ──────────────────────────────────────────────────────

// SessionConfig carries the conversation parameters sent via UpdateSession.
type SessionConfig struct {
	Instructions string
	Voice        string
	Tools        []ToolDefinition

	// TranscriptionModel transcribes caller audio server-side. Defaults to
	// whisper-1 when empty.
	TranscriptionModel string

	// TurnDetection tunes the server VAD. The zero value selects
	// DefaultTurnDetection.
	TurnDetection TurnDetection
}

// TurnDetection configures the server-side voice activity detector.
type TurnDetection struct {
	Threshold         float64
	PrefixPaddingMS   int
	SilenceDurationMS int
}

// DefaultTurnDetection returns VAD settings tuned for telephone audio:
// a high activation threshold with generous padding, so line noise and
// assistant echo do not register as caller speech.
func DefaultTurnDetection() TurnDetection {
	return TurnDetection{
		Threshold:         0.8,
		PrefixPaddingMS:   600,
		SilenceDurationMS: 1000,
	}
}

// ToolDefinition describes one function the model may call. Parameters is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is a live Realtime conversation. All methods are safe for
// concurrent use; events arrive in server order on Events.
type Session interface {
	// UpdateSession configures instructions, voice, tools, transcription and
	// turn detection. The server acknowledges with SessionUpdated.
	UpdateSession(cfg SessionConfig) error

	// SendAudio appends one base64-encoded μ-law chunk to the input buffer.
	// The payload is forwarded verbatim.
	SendAudio(audio string) error

	// CommitInputBuffer marks the buffered caller audio as a completed turn.
	CommitInputBuffer() error

	// ClearInputBuffer discards buffered caller audio that has not been
	// committed yet.
	ClearInputBuffer() error

	// CreateResponse asks the model to respond now.
	CreateResponse() error

	// CancelResponse aborts the in-flight response, if any.
	CancelResponse() error

	// SendToolResult delivers a tool call's output and asks the model to
	// continue speaking with that result in context.
	SendToolResult(callID, output string) error

	// Events returns the server event stream. The channel closes when the
	// connection dies or the session is closed; Err reports why.
	Events() <-chan Event

	// Err returns the first error that terminated the receive loop, or nil
	// after a clean shutdown.
	Err() error

	// Close terminates the session and releases all resources. Idempotent.
	Close() error
}

type session struct {
	conn   *websocket.Conn
	events chan Event

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *serverVADParams     `json:"turn_detection,omitempty"`
	Tools                   []toolParams         `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type serverVADParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type toolParams struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded μ-law
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done /
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// serverErrorDetail is the nested error object in a Realtime error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Sending ────────────────────────────────────────────────────────────────────

// writeJSON marshals v and writes it as a text WebSocket message. The
// underlying connection serialises concurrent writers.
func (s *session) writeJSON(v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

func (s *session) UpdateSession(cfg SessionConfig) error {
	tm := cfg.TranscriptionModel
	if tm == "" {
		tm = defaultTranscriptionModel
	}
	td := cfg.TurnDetection
	if td == (TurnDetection{}) {
		td = DefaultTurnDetection()
	}

	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		InputAudioFormat:  audioFormat,
		OutputAudioFormat: audioFormat,
		InputAudioTranscription: &transcriptionParams{
			Model: tm,
		},
		TurnDetection: &serverVADParams{
			Type:              "server_vad",
			Threshold:         td.Threshold,
			PrefixPaddingMS:   td.PrefixPaddingMS,
			SilenceDurationMS: td.SilenceDurationMS,
		},
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toWireTools(cfg.Tools)
		params.ToolChoice = "auto"
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

func (s *session) SendAudio(audio string) error {
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: audio,
	})
}

func (s *session) CommitInputBuffer() error {
	return s.writeJSON(map[string]string{"type": "input_audio_buffer.commit"})
}

func (s *session) ClearInputBuffer() error {
	return s.writeJSON(map[string]string{"type": "input_audio_buffer.clear"})
}

func (s *session) CreateResponse() error {
	return s.writeJSON(map[string]string{"type": "response.create"})
}

func (s *session) CancelResponse() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// SendToolResult returns the tool output and triggers the next model response.
func (s *session) SendToolResult(callID, output string) error {
	if err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// toWireTools converts ToolDefinitions to the Realtime tool format.
func toWireTools(tools []ToolDefinition) []toolParams {
	out := make([]toolParams, len(tools))
	for i, t := range tools {
		out[i] = toolParams{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── Receiving ──────────────────────────────────────────────────────────────────

// receiveLoop reads events from the WebSocket and delivers them on the events
// channel. It owns the channel: it closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		evt, ok := parseEvent(data)
		if !ok {
			continue
		}

		select {
		case s.events <- evt:
		case <-s.ctx.Done():
			return
		}
	}
}

// parseEvent translates one wire frame into a typed event. It returns false
// for frames the consumer should never see: malformed JSON, empty audio
// deltas, and the benign response.cancel race.
func parseEvent(data []byte) (Event, bool) {
	var evt serverEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, false
	}

	switch evt.Type {
	case "session.created":
		return SessionCreated{}, true
	case "session.updated":
		return SessionUpdated{}, true
	case "response.created":
		return ResponseCreated{}, true
	case "response.done":
		return ResponseDone{}, true
	case "response.audio.delta":
		if evt.Delta == "" {
			return nil, false
		}
		return AudioDelta{Audio: evt.Delta}, true
	case "response.audio.done":
		return AudioDone{}, true
	case "response.audio_transcript.done":
		return AudioTranscriptDone{Text: evt.Transcript}, true
	case "input_audio_buffer.speech_started":
		return SpeechStarted{}, true
	case "input_audio_buffer.speech_stopped":
		return SpeechStopped{}, true
	case "conversation.item.input_audio_transcription.completed":
		return InputTranscriptionDone{Text: evt.Transcript}, true
	case "response.function_call_arguments.done":
		return FunctionCallDone{
			Name:      evt.Name,
			CallID:    evt.CallID,
			Arguments: evt.Arguments,
		}, true
	case "error":
		var code, msg string
		if evt.Error != nil {
			code = evt.Error.Code
			msg = evt.Error.Message
		}
		// Cancelling a response that already finished is a normal race
		// during barge-in, not an error worth surfacing.
		if code == "response_cancel_not_active" {
			return nil, false
		}
		if msg == "" {
			msg = "unknown error"
		}
		return ServerError{Code: code, Message: msg}, true
	default:
		return Unknown{Type: evt.Type, Raw: json.RawMessage(data)}, true
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

func (s *session) Events() <-chan Event { return s.events }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
