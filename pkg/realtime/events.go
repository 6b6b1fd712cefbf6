package realtime

import "encoding/json"

// Event is the tagged union of server events a session delivers on its
// Events channel. Exactly one concrete type matches each wire event kind;
// kinds the client does not model surface as Unknown.
type Event interface{ isEvent() }

// SessionCreated is the server's first event after the socket opens.
type SessionCreated struct{}

// SessionUpdated acknowledges a session.update.
type SessionUpdated struct{}

// ResponseCreated marks the start of an assistant response.
type ResponseCreated struct{}

// ResponseDone marks the end of an assistant response, whether it completed
// or was cancelled.
type ResponseDone struct{}

// AudioDelta carries one base64-encoded assistant audio frame in the
// session's negotiated codec. The payload is opaque to the client.
type AudioDelta struct {
	Audio string
}

// AudioDone marks the end of the assistant's audio for the current response.
// Playback at the far end may still be in progress.
type AudioDone struct{}

// AudioTranscriptDone delivers the full text of what the assistant just said.
type AudioTranscriptDone struct {
	Text string
}

// SpeechStarted reports that the server VAD detected the caller speaking.
type SpeechStarted struct{}

// SpeechStopped reports that the server VAD detected the caller going quiet.
type SpeechStopped struct{}

// InputTranscriptionDone delivers the transcription of a completed caller
// utterance.
type InputTranscriptionDone struct {
	Text string
}

// FunctionCallDone reports that the model finished streaming a tool call.
// Arguments is the raw JSON argument string; CallID correlates the eventual
// SendToolResult.
type FunctionCallDone struct {
	Name      string
	CallID    string
	Arguments string
}

// ServerError is a non-benign error event from the service. The socket may
// or may not survive it; socket death is signalled separately by the Events
// channel closing.
type ServerError struct {
	Code    string
	Message string
}

// Unknown wraps an event kind the client does not model. Raw is the
// complete frame for diagnostics.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (SessionCreated) isEvent()         {}
func (SessionUpdated) isEvent()         {}
func (ResponseCreated) isEvent()        {}
func (ResponseDone) isEvent()           {}
func (AudioDelta) isEvent()             {}
func (AudioDone) isEvent()              {}
func (AudioTranscriptDone) isEvent()    {}
func (SpeechStarted) isEvent()          {}
func (SpeechStopped) isEvent()          {}
func (InputTranscriptionDone) isEvent() {}
func (FunctionCallDone) isEvent()       {}
func (ServerError) isEvent()            {}
func (Unknown) isEvent()                {}
