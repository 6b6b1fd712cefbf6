// Package bridge wires one telephone call to one realtime LLM session.
//
// A Mediator owns a call end to end: it composes the system prompt from the
// caller's identity, configures the session, speaks the greeting, then fans
// caller audio up and assistant audio down until either side hangs up. An
// embedded arbiter decides who holds the floor, covering barge-in and the
// echo cooldown that keeps the assistant from hearing itself. The Registry
// tracks live mediators for health reporting and graceful shutdown.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/koebridge/koebridge/internal/carrier"
	"github.com/koebridge/koebridge/internal/observe"
	"github.com/koebridge/koebridge/internal/prompt"
	"github.com/koebridge/koebridge/internal/tools"
	"github.com/koebridge/koebridge/internal/transcript"
	"github.com/koebridge/koebridge/pkg/realtime"
)

const (
	// defaultGreetingStabilization is the pause between configuring the
	// session and requesting the greeting. Audio sent before the carrier's
	// media path settles gets its opening clipped.
	defaultGreetingStabilization = 1200 * time.Millisecond

	// defaultSessionUpdateWait bounds the wait for the session.updated
	// acknowledgement. Missing it is logged, not fatal.
	defaultSessionUpdateWait = 3 * time.Second

	// staffAlertTimeout bounds the SMS sent when a call is handed off.
	staffAlertTimeout = 10 * time.Second

	// toolResultBuf smooths the handover from tool goroutines back into
	// the call loop.
	toolResultBuf = 4
)

// state labels the mediator's phase for logging. Forwarding decisions never
// depend on it.
type state string

const (
	stateConnecting state = "connecting"
	stateGreeting   state = "greeting"
	stateListening  state = "listening"
	stateResponding state = "responding"
	stateInTool     state = "in-tool"
	stateClosing    state = "closing"
)

// CarrierStream is the telephone leg as the mediator sees it. Implemented
// by *carrier.Stream.
type CarrierStream interface {
	Events() <-chan carrier.Event
	SendMedia(payload string) error
	SendMark(name string) error
	SendClear() error
	Close() error
}

var _ CarrierStream = (*carrier.Stream)(nil)

// SMSSender alerts support staff when a caller asks for a human.
// Implemented by notify.SMSSender and notify.NoopSMS.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Config carries the collaborators and tunables for one call. Dialer,
// Orders and Email are required; everything else has a usable zero value.
type Config struct {
	Log     *slog.Logger
	Metrics *observe.Metrics

	// Dialer opens the realtime session for the call.
	Dialer realtime.Dialer

	// Voice selects the assistant's synthesised voice.
	Voice string

	// ShopName appears in prompts and customer mail.
	ShopName string

	// Orders is the commerce backend handed to the tool set.
	Orders tools.OrderService

	// Email delivers shipping notifications for the send_email tool.
	Email tools.EmailSender

	// SMS alerts staff on handoff. Nil disables alerts.
	SMS SMSSender

	// SupportNumber receives handoff alerts.
	SupportNumber string

	// Transcripts records the conversation. Nil means no recording.
	Transcripts transcript.Sink

	// EchoCooldown, GreetingStabilization and SessionUpdateWait override
	// the call timing. Zero selects the defaults.
	EchoCooldown          time.Duration
	GreetingStabilization time.Duration
	SessionUpdateWait     time.Duration
}

// Mediator runs one call. Create with NewMediator, drive with Run; all
// event handling happens on Run's goroutine.
type Mediator struct {
	cfg    Config
	log    *slog.Logger
	met    *observe.Metrics
	stream CarrierStream
	info   carrier.StartInfo
	tools  *tools.Registry
	arb    *arbiter

	sess realtime.Session
	ref  transcript.Ref

	state       state
	initialized bool

	toolResults chan toolOutcome
	done        chan struct{}
}

// toolOutcome carries a finished tool execution back into the call loop.
type toolOutcome struct {
	callID string
	name   string
	args   string
	result tools.Result
}

// NewMediator prepares a mediator for an accepted media stream. Run must be
// called exactly once.
func NewMediator(cfg Config, stream CarrierStream, info carrier.StartInfo) *Mediator {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Transcripts == nil {
		cfg.Transcripts = transcript.NoopSink{}
	}
	if cfg.GreetingStabilization <= 0 {
		cfg.GreetingStabilization = defaultGreetingStabilization
	}
	if cfg.SessionUpdateWait <= 0 {
		cfg.SessionUpdateWait = defaultSessionUpdateWait
	}

	log := cfg.Log.With("component", "call", "call_sid", info.CallSid)

	m := &Mediator{
		cfg:         cfg,
		log:         log,
		met:         cfg.Metrics,
		stream:      stream,
		info:        info,
		state:       stateConnecting,
		toolResults: make(chan toolOutcome, toolResultBuf),
		done:        make(chan struct{}),
	}
	m.arb = newArbiter(cfg.EchoCooldown, arbiterHooks{
		cancelAssistant: m.cancelAssistant,
		clearPlayback:   m.clearPlayback,
		sendMark:        m.sendPlaybackMark,
	})
	m.tools = tools.NewForCall(tools.Deps{
		Log:    log,
		Orders: cfg.Orders,
		Email:  cfg.Email,
		Call: tools.CallContext{
			CallID:       info.CallSid,
			CallerNumber: info.CallerPhone,
			CustomerName: info.Context.CustomerName,
		},
		ShopName: cfg.ShopName,
		Metrics:  cfg.Metrics,
	})
	return m
}

// ── Lifecycle ──────────────────────────────────────────────────────────────────

// Run drives the call until either leg disconnects. It blocks for the whole
// call; the carrier handler's goroutine is the natural place to call it.
func (m *Mediator) Run(ctx context.Context) {
	defer close(m.done)
	defer m.closeStream()

	m.ref = m.startTranscript(ctx)

	if err := m.connect(ctx); err != nil {
		m.log.Error("call setup failed", "error", err)
		m.finish(ctx, "setup-failed")
		return
	}
	defer m.closeSession()

	reason := m.loop(ctx)
	m.finish(ctx, reason)
}

// Shutdown asks the call to end. Closing the carrier leg makes the loop run
// its normal teardown; Shutdown does not wait for it. Safe to call from any
// goroutine, any number of times.
func (m *Mediator) Shutdown() {
	m.closeStream()
}

// Done closes once Run has fully wound the call down.
func (m *Mediator) Done() <-chan struct{} { return m.done }

// connect opens and configures the session, then requests the greeting.
// A session that opened but failed setup is closed again before returning.
func (m *Mediator) connect(ctx context.Context) error {
	sess, err := m.cfg.Dialer.Connect(ctx)
	if err != nil {
		return fmt.Errorf("bridge: connect session: %w", err)
	}

	if err := m.configure(ctx, sess); err != nil {
		sess.Close()
		return err
	}

	m.sess = sess
	m.initialized = true
	m.setState(stateGreeting)
	m.log.Info("session live",
		"identified", m.info.Context.Found,
		"customer", m.info.Context.CustomerName)
	return nil
}

func (m *Mediator) configure(ctx context.Context, sess realtime.Session) error {
	err := sess.UpdateSession(realtime.SessionConfig{
		Instructions:  prompt.Compose(m.cfg.ShopName, m.info.Context),
		Voice:         m.cfg.Voice,
		Tools:         m.tools.Definitions(),
		TurnDetection: realtime.DefaultTurnDetection(),
	})
	if err != nil {
		return fmt.Errorf("bridge: configure session: %w", err)
	}

	if err := m.awaitSessionUpdated(ctx, sess); err != nil {
		return err
	}

	// Let the carrier's media path settle before the greeting is spoken.
	select {
	case <-time.After(m.cfg.GreetingStabilization):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := sess.CreateResponse(); err != nil {
		return fmt.Errorf("bridge: request greeting: %w", err)
	}
	return nil
}

// awaitSessionUpdated consumes events until the configuration is
// acknowledged. Timing out is logged and tolerated; a server error or a
// dead connection during setup is not.
func (m *Mediator) awaitSessionUpdated(ctx context.Context, sess realtime.Session) error {
	timer := time.NewTimer(m.cfg.SessionUpdateWait)
	defer timer.Stop()

	for {
		select {
		case evt, ok := <-sess.Events():
			if !ok {
				if err := sess.Err(); err != nil {
					return fmt.Errorf("bridge: session lost during setup: %w", err)
				}
				return errors.New("bridge: session closed during setup")
			}
			switch e := evt.(type) {
			case realtime.SessionUpdated:
				return nil
			case realtime.ServerError:
				return fmt.Errorf("bridge: session setup: %s (%s)", e.Message, e.Code)
			default:
				// session.created and friends arrive first; keep waiting.
			}
		case <-timer.C:
			m.log.Warn("session.updated not seen, continuing",
				"waited", m.cfg.SessionUpdateWait)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ── Event loop ─────────────────────────────────────────────────────────────────

// loop is the call's event pump. Every carrier frame, session event, tool
// result and cooldown expiry passes through here, which is what lets the
// arbiter run lock-free.
func (m *Mediator) loop(ctx context.Context) (reason string) {
	for {
		select {
		case evt, ok := <-m.stream.Events():
			if !ok {
				return "carrier-closed"
			}
			if hangup := m.handleCarrierEvent(ctx, evt); hangup {
				return "caller-hangup"
			}

		case evt, ok := <-m.sess.Events():
			if !ok {
				if err := m.sess.Err(); err != nil {
					m.log.Warn("session lost", "error", err)
				}
				return "session-closed"
			}
			m.handleSessionEvent(ctx, evt)

		case <-m.arb.cooldownC():
			m.arb.cooldownExpired()

		case out := <-m.toolResults:
			m.handleToolResult(ctx, out)

		case <-ctx.Done():
			return "cancelled"
		}
	}
}

// handleCarrierEvent processes one frame from the telephone leg. It reports
// whether the carrier signalled the end of the call.
func (m *Mediator) handleCarrierEvent(ctx context.Context, evt carrier.Event) bool {
	switch e := evt.(type) {
	case carrier.Media:
		m.forwardCallerAudio(ctx, e.Payload)
	case carrier.Mark:
		m.arb.markPlayed(e.Name)
	case carrier.Stop:
		return true
	default:
		// Connected and Start are consumed before the loop begins.
	}
	return false
}

// forwardCallerAudio pushes one caller frame into the session unless the
// echo cooldown is gating input.
func (m *Mediator) forwardCallerAudio(ctx context.Context, payload string) {
	if !m.initialized {
		return
	}
	if m.arb.gateCallerAudio() {
		if m.met != nil {
			m.met.FramesGated.Add(ctx, 1)
		}
		return
	}
	if err := m.sess.SendAudio(payload); err != nil {
		m.log.Debug("caller audio dropped", "error", err)
	}
}

func (m *Mediator) handleSessionEvent(ctx context.Context, evt realtime.Event) {
	if m.met != nil {
		m.met.RecordLLMEvent(ctx, eventLabel(evt))
	}

	switch e := evt.(type) {
	case realtime.ResponseCreated:
		m.arb.responseCreated()
		if m.state != stateGreeting {
			m.setState(stateResponding)
		}

	case realtime.ResponseDone:
		m.arb.responseDone()
		if m.state != stateInTool {
			m.setState(stateListening)
		}

	case realtime.AudioDelta:
		m.arb.audioDelta()
		if err := m.stream.SendMedia(e.Audio); err != nil {
			m.log.Debug("assistant audio dropped", "error", err)
		}

	case realtime.AudioDone:
		m.arb.audioDone()

	case realtime.SpeechStarted:
		if m.arb.speechStarted() {
			if m.met != nil {
				m.met.BargeIns.Add(ctx, 1)
			}
			m.log.Debug("barge-in, assistant cancelled")
			m.setState(stateListening)
		}

	case realtime.InputTranscriptionDone:
		m.appendMessage(ctx, transcript.SpeakerCaller, e.Text)

	case realtime.AudioTranscriptDone:
		m.appendMessage(ctx, transcript.SpeakerAssistant, e.Text)

	case realtime.FunctionCallDone:
		m.setState(stateInTool)
		m.startTool(ctx, e)

	case realtime.ServerError:
		m.log.Warn("session error", "code", e.Code, "message", e.Message)

	case realtime.Unknown:
		m.log.Debug("unhandled session event", "type", e.Type)
	}
}

// eventLabel is the wire-level event name used as the metric attribute.
func eventLabel(evt realtime.Event) string {
	switch e := evt.(type) {
	case realtime.SessionCreated:
		return "session.created"
	case realtime.SessionUpdated:
		return "session.updated"
	case realtime.ResponseCreated:
		return "response.created"
	case realtime.ResponseDone:
		return "response.done"
	case realtime.AudioDelta:
		return "response.audio.delta"
	case realtime.AudioDone:
		return "response.audio.done"
	case realtime.AudioTranscriptDone:
		return "response.audio_transcript.done"
	case realtime.SpeechStarted:
		return "input_audio_buffer.speech_started"
	case realtime.SpeechStopped:
		return "input_audio_buffer.speech_stopped"
	case realtime.InputTranscriptionDone:
		return "conversation.item.input_audio_transcription.completed"
	case realtime.FunctionCallDone:
		return "response.function_call_arguments.done"
	case realtime.ServerError:
		return "error"
	case realtime.Unknown:
		return e.Type
	default:
		return "unknown"
	}
}

// ── Tools ──────────────────────────────────────────────────────────────────────

// startTool runs the handler off the loop so audio keeps flowing while the
// backend works. The result re-enters through toolResults; if the call ends
// first, the goroutine drops it.
func (m *Mediator) startTool(ctx context.Context, call realtime.FunctionCallDone) {
	m.log.Info("tool requested", "tool", call.Name, "call_id", call.CallID)
	go func() {
		res := m.tools.Execute(ctx, call.Name, call.Arguments)
		select {
		case m.toolResults <- toolOutcome{
			callID: call.CallID,
			name:   call.Name,
			args:   call.Arguments,
			result: res,
		}:
		case <-m.done:
		}
	}()
}

func (m *Mediator) handleToolResult(ctx context.Context, out toolOutcome) {
	m.appendToolCall(ctx, out)

	if h, ok := out.result.(tools.HandoffResult); ok {
		m.alertStaff(ctx, h)
	}

	if err := m.sess.SendToolResult(out.callID, out.result.Output()); err != nil {
		m.log.Warn("tool result not delivered", "tool", out.name, "error", err)
	}
	m.setState(stateListening)
}

// alertStaff notifies the support number that a caller asked for a human.
// The call continues regardless; delivery is fire and forget.
func (m *Mediator) alertStaff(ctx context.Context, h tools.HandoffResult) {
	m.appendMessage(ctx, transcript.SpeakerSystem,
		"担当者への引き継ぎ依頼: "+h.Reason)

	if m.cfg.SMS == nil || m.cfg.SupportNumber == "" {
		m.log.Warn("handoff requested but staff alerts are not configured",
			"reason", h.Reason)
		return
	}

	to := m.cfg.SupportNumber
	body := m.staffAlertBody(h)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), staffAlertTimeout)
		defer cancel()
		if err := m.cfg.SMS.SendSMS(ctx, to, body); err != nil {
			m.log.Warn("staff alert failed", "error", err)
			return
		}
		m.log.Info("staff alerted", "to", to, "priority", string(h.Priority))
	}()
}

// staffAlertBody renders the handoff SMS for the support staff.
func (m *Mediator) staffAlertBody(h tools.HandoffResult) string {
	caller := m.info.CallerPhone
	if caller == "" {
		caller = "不明"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "【電話引き継ぎ】優先度: %s\n", h.Priority)
	fmt.Fprintf(&b, "発信者: %s\n", caller)
	if name := m.info.Context.CustomerName; name != "" {
		fmt.Fprintf(&b, "お客様: %s様\n", name)
	}
	fmt.Fprintf(&b, "理由: %s", h.Reason)
	if h.Summary != "" {
		fmt.Fprintf(&b, "\n概要: %s", h.Summary)
	}
	return b.String()
}

// ── Transcript ─────────────────────────────────────────────────────────────────

// startTranscript opens the call record. Recording is best effort: a sink
// failure degrades to NoRef and the call proceeds unrecorded.
func (m *Mediator) startTranscript(ctx context.Context) transcript.Ref {
	ref, err := m.cfg.Transcripts.StartCall(ctx, transcript.CallInfo{
		CallID:       m.info.CallSid,
		CallerPhone:  m.info.CallerPhone,
		CustomerName: m.info.Context.CustomerName,
		Identified:   m.info.Context.Found,
	})
	if err != nil {
		m.log.Warn("transcript start failed", "error", err)
		return transcript.NoRef
	}
	return ref
}

func (m *Mediator) appendMessage(ctx context.Context, speaker transcript.Speaker, content string) {
	if content == "" {
		return
	}
	if err := m.cfg.Transcripts.AppendMessage(ctx, m.ref, speaker, content); err != nil {
		m.log.Warn("transcript append failed", "speaker", string(speaker), "error", err)
	}
}

func (m *Mediator) appendToolCall(ctx context.Context, out toolOutcome) {
	err := m.cfg.Transcripts.AppendToolCall(ctx, m.ref, out.name, out.args, out.result.Output())
	if err != nil {
		m.log.Warn("transcript tool record failed", "tool", out.name, "error", err)
	}
}

// ── Teardown ───────────────────────────────────────────────────────────────────

// finish runs the common teardown bookkeeping. The legs themselves are
// closed by Run's defers.
func (m *Mediator) finish(ctx context.Context, reason string) {
	ctx = context.WithoutCancel(ctx)

	m.setState(stateClosing)
	m.arb.stopTimer()

	duration := time.Since(m.info.StartedAt)
	if m.met != nil {
		m.met.CallDuration.Record(ctx, duration.Seconds())
	}
	if err := m.cfg.Transcripts.EndCall(ctx, m.ref, duration); err != nil {
		m.log.Warn("transcript close failed", "error", err)
	}
	m.log.Info("call ended", "reason", reason,
		"duration", duration.Round(100*time.Millisecond))
}

func (m *Mediator) closeStream() {
	if err := m.stream.Close(); err != nil {
		m.log.Debug("carrier stream close", "error", err)
	}
}

func (m *Mediator) closeSession() {
	if err := m.sess.Close(); err != nil {
		m.log.Debug("session close", "error", err)
	}
}

// ── Arbiter hooks ──────────────────────────────────────────────────────────────

func (m *Mediator) cancelAssistant() {
	if err := m.sess.CancelResponse(); err != nil {
		m.log.Debug("cancel response", "error", err)
	}
}

func (m *Mediator) clearPlayback() {
	if err := m.stream.SendClear(); err != nil {
		m.log.Debug("clear playback", "error", err)
	}
}

func (m *Mediator) sendPlaybackMark(name string) {
	if err := m.stream.SendMark(name); err != nil {
		m.log.Debug("send playback mark", "error", err)
	}
}

func (m *Mediator) setState(s state) {
	if m.state == s {
		return
	}
	m.log.Debug("call state", "from", string(m.state), "to", string(s))
	m.state = s
}
