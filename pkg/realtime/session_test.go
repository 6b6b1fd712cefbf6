package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/koebridge/koebridge/pkg/realtime"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server. The handler receives
// the accepted conn. The server is automatically closed when the test
// finishes.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// nextEvent receives one event from the session or fails the test.
func nextEvent(t *testing.T, sess realtime.Session) realtime.Event {
	t.Helper()
	select {
	case evt, ok := <-sess.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

// ── Client construction ───────────────────────────────────────────────────────

func TestNewClient_DefaultValues(t *testing.T) {
	t.Parallel()
	c := realtime.NewClient("my-key")
	if c == nil {
		t.Fatal("NewClient returned nil")
	}
}

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelInURL := make(chan string, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		modelInURL <- r.URL.Query().Get("model")
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithModel("gpt-4o-mini-realtime"), realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case m := <-modelInURL:
		if m != "gpt-4o-mini-realtime" {
			t.Errorf("model in URL = %q; want gpt-4o-mini-realtime", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_SendsAuthHeaders(t *testing.T) {
	t.Parallel()

	type headerPair struct {
		auth string
		beta string
	}
	headers := make(chan headerPair, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- headerPair{
			auth: r.Header.Get("Authorization"),
			beta: r.Header.Get("OpenAI-Beta"),
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("my-secret-token", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case h := <-headers:
		if h.auth != "Bearer my-secret-token" {
			t.Errorf("Authorization = %q; want Bearer my-secret-token", h.auth)
		}
		if h.beta != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q; want realtime=v1", h.beta)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Connect(ctx); err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

// ── UpdateSession ─────────────────────────────────────────────────────────────

type sessionUpdateMsg struct {
	Type    string `json:"type"`
	Session struct {
		Modalities              []string `json:"modalities"`
		Instructions            string   `json:"instructions"`
		Voice                   string   `json:"voice"`
		InputAudioFormat        string   `json:"input_audio_format"`
		OutputAudioFormat       string   `json:"output_audio_format"`
		InputAudioTranscription *struct {
			Model string `json:"model"`
		} `json:"input_audio_transcription"`
		TurnDetection *struct {
			Type              string  `json:"type"`
			Threshold         float64 `json:"threshold"`
			PrefixPaddingMS   int     `json:"prefix_padding_ms"`
			SilenceDurationMS int     `json:"silence_duration_ms"`
		} `json:"turn_detection"`
		Tools []struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"tools"`
		ToolChoice string `json:"tool_choice"`
	} `json:"session"`
}

func TestUpdateSession_WireFormat(t *testing.T) {
	t.Parallel()

	received := make(chan sessionUpdateMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// First frame on the wire: Connect itself sends nothing.
		var msg sessionUpdateMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	cfg := realtime.SessionConfig{
		Instructions: "あなたはECショップの電話対応アシスタントです。",
		Voice:        "alloy",
		Tools: []realtime.ToolDefinition{
			{Name: "check_order_status", Description: "注文状況を確認します"},
		},
	}
	if err := sess.UpdateSession(cfg); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		s := msg.Session
		if len(s.Modalities) != 2 || s.Modalities[0] != "text" || s.Modalities[1] != "audio" {
			t.Errorf("modalities = %v; want [text audio]", s.Modalities)
		}
		if s.Instructions != cfg.Instructions {
			t.Errorf("instructions = %q", s.Instructions)
		}
		if s.Voice != "alloy" {
			t.Errorf("voice = %q; want alloy", s.Voice)
		}
		if s.InputAudioFormat != "g711_ulaw" {
			t.Errorf("input_audio_format = %q; want g711_ulaw", s.InputAudioFormat)
		}
		if s.OutputAudioFormat != "g711_ulaw" {
			t.Errorf("output_audio_format = %q; want g711_ulaw", s.OutputAudioFormat)
		}
		if s.InputAudioTranscription == nil || s.InputAudioTranscription.Model != "whisper-1" {
			t.Errorf("input_audio_transcription = %+v; want whisper-1", s.InputAudioTranscription)
		}
		td := s.TurnDetection
		if td == nil {
			t.Fatal("turn_detection missing")
		}
		if td.Type != "server_vad" {
			t.Errorf("turn_detection.type = %q; want server_vad", td.Type)
		}
		if td.Threshold != 0.8 || td.PrefixPaddingMS != 600 || td.SilenceDurationMS != 1000 {
			t.Errorf("turn_detection = %+v; want threshold 0.8, padding 600, silence 1000", td)
		}
		if len(s.Tools) != 1 || s.Tools[0].Name != "check_order_status" || s.Tools[0].Type != "function" {
			t.Errorf("tools = %+v", s.Tools)
		}
		if s.ToolChoice != "auto" {
			t.Errorf("tool_choice = %q; want auto", s.ToolChoice)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestUpdateSession_CustomTurnDetection(t *testing.T) {
	t.Parallel()

	received := make(chan sessionUpdateMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg sessionUpdateMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	cfg := realtime.SessionConfig{
		TurnDetection: realtime.TurnDetection{Threshold: 0.5, PrefixPaddingMS: 300, SilenceDurationMS: 500},
	}
	if err := sess.UpdateSession(cfg); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	select {
	case msg := <-received:
		td := msg.Session.TurnDetection
		if td == nil {
			t.Fatal("turn_detection missing")
		}
		if td.Threshold != 0.5 || td.PrefixPaddingMS != 300 || td.SilenceDurationMS != 500 {
			t.Errorf("turn_detection = %+v; want threshold 0.5, padding 300, silence 500", td)
		}
		if len(msg.Session.Tools) != 0 {
			t.Errorf("tools = %+v; want none", msg.Session.Tools)
		}
		if msg.Session.ToolChoice != "" {
			t.Errorf("tool_choice = %q; want empty without tools", msg.Session.ToolChoice)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

// ── Audio and buffer operations ───────────────────────────────────────────────

func TestSendAudio_ForwardsPayloadVerbatim(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}

	audioMsg := make(chan appendMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg appendMsg
		readJSON(t, conn, &msg)
		audioMsg <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	// Already base64 μ-law from the telephony leg; must not be re-encoded.
	const payload = "//8A/38B/g=="
	if err := sess.SendAudio(payload); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		if msg.Audio != payload {
			t.Errorf("audio = %q; want %q untouched", msg.Audio, payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio append message")
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = sess.Close()

	if err := sess.SendAudio("AAAA"); !errors.Is(err, realtime.ErrSessionClosed) {
		t.Fatalf("SendAudio after Close = %v; want ErrSessionClosed", err)
	}
}

func TestBufferAndResponseOps_WireTypes(t *testing.T) {
	t.Parallel()

	types := make(chan string, 4)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for range 4 {
			var msg struct {
				Type string `json:"type"`
			}
			readJSON(t, conn, &msg)
			types <- msg.Type
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ops := []struct {
		name string
		call func() error
		want string
	}{
		{"CommitInputBuffer", sess.CommitInputBuffer, "input_audio_buffer.commit"},
		{"ClearInputBuffer", sess.ClearInputBuffer, "input_audio_buffer.clear"},
		{"CreateResponse", sess.CreateResponse, "response.create"},
		{"CancelResponse", sess.CancelResponse, "response.cancel"},
	}
	for _, op := range ops {
		if err := op.call(); err != nil {
			t.Fatalf("%s: %v", op.name, err)
		}
		select {
		case got := <-types:
			if got != op.want {
				t.Errorf("%s sent type %q; want %q", op.name, got, op.want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for %s frame", op.name)
		}
	}
}

// ── SendToolResult ────────────────────────────────────────────────────────────

func TestSendToolResult_SendsOutputThenResponseCreate(t *testing.T) {
	t.Parallel()

	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}

	items := make(chan itemMsg, 2)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var first, second itemMsg
		readJSON(t, conn, &first)
		items <- first
		readJSON(t, conn, &second)
		items <- second
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.SendToolResult("call-42", `{"success":true}`); err != nil {
		t.Fatalf("SendToolResult: %v", err)
	}

	select {
	case msg := <-items:
		if msg.Type != "conversation.item.create" {
			t.Errorf("first frame type = %q; want conversation.item.create", msg.Type)
		}
		if msg.Item.Type != "function_call_output" {
			t.Errorf("item type = %q; want function_call_output", msg.Item.Type)
		}
		if msg.Item.CallID != "call-42" {
			t.Errorf("call_id = %q; want call-42", msg.Item.CallID)
		}
		if msg.Item.Output != `{"success":true}` {
			t.Errorf("output = %q", msg.Item.Output)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for conversation.item.create")
	}

	select {
	case msg := <-items:
		if msg.Type != "response.create" {
			t.Errorf("second frame type = %q; want response.create", msg.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for response.create")
	}
}

// ── Event stream ──────────────────────────────────────────────────────────────

func TestEvents_DeliversTypedEventsInOrder(t *testing.T) {
	t.Parallel()

	const audioPayload = "bm90LXJlYWwtYXVkaW8="

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		writeJSON(t, conn, map[string]any{"type": "session.updated"})
		writeJSON(t, conn, map[string]any{"type": "response.created"})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": audioPayload})
		writeJSON(t, conn, map[string]any{"type": "response.audio.done"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.done", "transcript": "はい、お調べいたします。"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_stopped"})
		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "荷物はいつ届きますか",
		})
		writeJSON(t, conn, map[string]any{
			"type":      "response.function_call_arguments.done",
			"name":      "check_order_status",
			"call_id":   "call-1",
			"arguments": `{"order_id":"R-42"}`,
		})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	want := []realtime.Event{
		realtime.SessionCreated{},
		realtime.SessionUpdated{},
		realtime.ResponseCreated{},
		realtime.AudioDelta{Audio: audioPayload},
		realtime.AudioDone{},
		realtime.AudioTranscriptDone{Text: "はい、お調べいたします。"},
		realtime.SpeechStarted{},
		realtime.SpeechStopped{},
		realtime.InputTranscriptionDone{Text: "荷物はいつ届きますか"},
		realtime.FunctionCallDone{Name: "check_order_status", CallID: "call-1", Arguments: `{"order_id":"R-42"}`},
		realtime.ResponseDone{},
	}
	for i, w := range want {
		got := nextEvent(t, sess)
		if got != w {
			t.Errorf("event[%d] = %#v; want %#v", i, got, w)
		}
	}
}

func TestEvents_UnknownTypePreserved(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "rate_limits.updated", "rate_limits": []any{}})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evt := nextEvent(t, sess)
	unk, ok := evt.(realtime.Unknown)
	if !ok {
		t.Fatalf("event = %#v; want Unknown", evt)
	}
	if unk.Type != "rate_limits.updated" {
		t.Errorf("Unknown.Type = %q; want rate_limits.updated", unk.Type)
	}
	if !strings.Contains(string(unk.Raw), "rate_limits") {
		t.Errorf("Unknown.Raw = %s; want original frame", unk.Raw)
	}
}

func TestEvents_BenignCancelRaceDropped(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    "response_cancel_not_active",
				"message": "Cancellation failed: no active response found",
			},
		})
		writeJSON(t, conn, map[string]any{"type": "session.updated"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	// The cancel race never surfaces; the next real event is first.
	if evt := nextEvent(t, sess); evt != (realtime.SessionUpdated{}) {
		t.Errorf("first event = %#v; want SessionUpdated (cancel race dropped)", evt)
	}
}

func TestEvents_ServerErrorSurfaced(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    "audio_unintelligible",
				"message": "Could not understand audio.",
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evt := nextEvent(t, sess)
	se, ok := evt.(realtime.ServerError)
	if !ok {
		t.Fatalf("event = %#v; want ServerError", evt)
	}
	if se.Code != "audio_unintelligible" {
		t.Errorf("Code = %q; want audio_unintelligible", se.Code)
	}
	if se.Message != "Could not understand audio." {
		t.Errorf("Message = %q", se.Message)
	}
}

func TestEvents_EmptyAudioDeltaDropped(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": ""})
		writeJSON(t, conn, map[string]any{"type": "response.audio.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if evt := nextEvent(t, sess); evt != (realtime.AudioDone{}) {
		t.Errorf("first event = %#v; want AudioDone (empty delta dropped)", evt)
	}
}

func TestEvents_ChannelClosesOnServerDisconnect(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		// Handler returns; the deferred close tears the socket down.
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if evt := nextEvent(t, sess); evt != (realtime.SessionCreated{}) {
		t.Fatalf("first event = %#v; want SessionCreated", evt)
	}

	select {
	case evt, ok := <-sess.Events():
		if ok {
			t.Fatalf("expected channel close, got %#v", evt)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for events channel to close")
	}

	if sess.Err() == nil {
		t.Error("Err() should report why the connection died")
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestClose_ClosesEventsChannel(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_ = sess.Close()

	select {
	case _, open := <-sess.Events():
		if open {
			t.Error("events channel should be closed after Close()")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for events channel to close")
	}

	if err := sess.Err(); err != nil {
		t.Errorf("Err() after deliberate Close = %v; want nil", err)
	}
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx := context.Background()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	const goroutines = 8
	const chunksPerGoroutine = 16

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			for range chunksPerGoroutine {
				_ = sess.SendAudio("yv66vg==")
			}
		})
	}
	wg.Wait()
}
