package carrier

import (
	"encoding/xml"
	"fmt"
	"net"
	"strings"
)

// Custom stream parameter names carried from the webhook to the media
// session. The carrier echoes them back verbatim in the start frame.
const (
	ParamCustomerContext = "customerContext"
	ParamCallerPhone     = "callerPhone"
	ParamCallSid         = "callSid"
)

// StreamPath is the media WebSocket route the stream TwiML points at.
const StreamPath = "/media-stream"

// ── TwiML documents ────────────────────────────────────────────────────────────

// Response is the root TwiML document returned to the carrier. Exactly one
// verb is set per response.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Connect *Connect `xml:"Connect,omitempty"`
	Dial    *Dial    `xml:"Dial,omitempty"`
	Play    *Play    `xml:"Play,omitempty"`
}

// Connect hands call control to a bidirectional media stream.
type Connect struct {
	Stream StreamVerb `xml:"Stream"`
}

// StreamVerb opens the media WebSocket, with named parameters the carrier
// passes through to the start frame.
type StreamVerb struct {
	URL        string      `xml:"url,attr"`
	Parameters []Parameter `xml:"Parameter"`
}

// Parameter is one custom key/value pair on a stream.
type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Dial transfers the call to another number. Action, when set, receives the
// dial outcome callback.
type Dial struct {
	Action string `xml:"action,attr,omitempty"`
	Number string `xml:"Number"`
}

// Play plays an audio file to the caller. Loop zero repeats forever.
type Play struct {
	Loop int    `xml:"loop,attr"`
	URL  string `xml:",chardata"`
}

// Render serialises the document with the XML declaration the carrier
// expects. Attribute and character data escaping is handled by encoding/xml,
// so injected text cannot break the document.
func (r Response) Render() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("carrier: render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// ── Builders ───────────────────────────────────────────────────────────────────

// ConnectStream builds the webhook's answer: connect the call to the media
// WebSocket at wsURL, carrying params through to the start frame.
func ConnectStream(wsURL string, params ...Parameter) Response {
	return Response{
		Connect: &Connect{
			Stream: StreamVerb{URL: wsURL, Parameters: params},
		},
	}
}

// Transfer builds a blind transfer to number. Handoff is spoken-only today;
// the builder exists for a carrier-level transfer flow.
func Transfer(number, actionURL string) Response {
	return Response{
		Dial: &Dial{Action: actionURL, Number: number},
	}
}

// HoldMusic builds an endless hold loop over the audio file at audioURL.
func HoldMusic(audioURL string) Response {
	return Response{
		Play: &Play{Loop: 0, URL: audioURL},
	}
}

// StreamURL builds the media WebSocket URL for host. Local hosts get ws://
// (no TLS terminator in front of a development server); everything else
// wss://.
func StreamURL(host string) string {
	scheme := "wss"
	if isLocalHost(host) {
		scheme = "ws"
	}
	return scheme + "://" + host + StreamPath
}

func isLocalHost(host string) bool {
	h := host
	if name, _, err := net.SplitHostPort(host); err == nil {
		h = name
	}
	h = strings.Trim(strings.ToLower(h), "[]")
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}
