package carrier

// Event is the tagged union of media stream events a Stream delivers on its
// Events channel, one concrete type per carrier frame kind. Frames the
// bridge has no use for (dtmf and friends) surface as Ignored.
type Event interface{ isEvent() }

// Connected is the carrier's first frame after the WebSocket opens. It
// carries no call state; Start does.
type Connected struct{}

// Start announces the media stream and identifies the call. Parameters holds
// the custom parameters embedded in the stream TwiML by the webhook.
type Start struct {
	StreamSid  string
	CallSid    string
	Parameters map[string]string
}

// Media carries one base64-encoded μ-law audio chunk from the caller. The
// payload is opaque to the bridge; it is forwarded verbatim.
type Media struct {
	Payload string
}

// Mark reports that caller-side playback reached a named marker previously
// sent with SendMark. Playback of everything queued before the marker is
// complete.
type Mark struct {
	Name string
}

// Stop announces the end of the media stream. No frames follow it.
type Stop struct{}

// Ignored wraps a well-formed frame kind the bridge does not model.
type Ignored struct {
	Kind string
}

func (Connected) isEvent() {}
func (Start) isEvent()     {}
func (Media) isEvent()     {}
func (Mark) isEvent()      {}
func (Stop) isEvent()      {}
func (Ignored) isEvent()   {}

// ── Wire frames ────────────────────────────────────────────────────────────────

// inboundFrame is the superset of every JSON frame the carrier sends over the
// media WebSocket. Which nested object is populated depends on Event.
type inboundFrame struct {
	Event string        `json:"event"`
	Start *startPayload `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
	Mark  *markPayload  `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

// Outbound frames always carry the stream SID so the carrier can route them.

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
