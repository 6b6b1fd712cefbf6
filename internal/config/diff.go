package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Hot-applicable fields (log level, conversation tunables, voice and model
// for calls that have not started yet) are tracked individually; anything
// else lands in RestartRequired so the operator can be told a reload was
// not enough.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// BridgeChanged marks a change to the conversation timing tunables.
	// Applies to calls accepted after the reload; in-flight calls keep the
	// timings they started with.
	BridgeChanged bool
	NewBridge     BridgeConfig

	// VoiceChanged / ModelChanged apply to sessions dialed after the reload.
	VoiceChanged bool
	NewVoice     string
	ModelChanged bool
	NewModel     string

	// RestartRequired lists changed fields that only take effect after a
	// process restart (listen port, credentials, storage endpoints).
	RestartRequired []string
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.BridgeChanged && !d.VoiceChanged &&
		!d.ModelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
// Credential values are never recorded in the diff, only field names.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Bridge != new.Bridge {
		d.BridgeChanged = true
		d.NewBridge = new.Bridge
	}
	if old.LLM.Voice != new.LLM.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.LLM.Voice
	}
	if old.LLM.Model != new.LLM.Model {
		d.ModelChanged = true
		d.NewModel = new.LLM.Model
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("port", old.Port != new.Port)
	restart("environment", old.Environment != new.Environment)
	restart("public_host", old.PublicHost != new.PublicHost)
	restart("llm.api_key", old.LLM.APIKey != new.LLM.APIKey)
	restart("twilio", old.Twilio != new.Twilio)
	restart("backend", old.Backend != new.Backend)
	restart("transcript.database_url", old.Transcript != new.Transcript)
	restart("email", old.Email != new.Email)

	return d
}

// Summary renders the diff as short human-readable fragments for logging.
func (d ConfigDiff) Summary() []string {
	var out []string
	if d.LogLevelChanged {
		out = append(out, fmt.Sprintf("log_level=%s", d.NewLogLevel))
	}
	if d.BridgeChanged {
		out = append(out, fmt.Sprintf("echo_cooldown=%s greeting_stabilization=%s",
			d.NewBridge.EchoCooldown(), d.NewBridge.GreetingStabilization()))
	}
	if d.VoiceChanged {
		out = append(out, fmt.Sprintf("voice=%s", d.NewVoice))
	}
	if d.ModelChanged {
		out = append(out, fmt.Sprintf("model=%s", d.NewModel))
	}
	for _, f := range d.RestartRequired {
		out = append(out, f+" (restart required)")
	}
	return out
}
