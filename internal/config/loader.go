package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds the runtime configuration: defaults, then the optional YAML
// file at path (skipped when path is empty), then environment variables,
// then validation. An empty YAML file is treated as no overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. The environment overlay is applied only by [Load];
// this keeps configs built from string literals in tests deterministic.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// applyEnv overlays environment variables onto cfg. Unset and empty
// variables leave the current value in place; unparseable numbers are
// ignored rather than fatal.
func applyEnv(cfg *Config) {
	overlayInt(&cfg.Port, "PORT")
	overlayString(&cfg.PublicHost, "PUBLIC_HOST")

	// APP_ENV is canonical; NODE_ENV is honoured as a fallback alias for
	// deployments migrating from the previous runtime.
	if v, ok := lookupAny("APP_ENV", "NODE_ENV"); ok {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = LogLevel(strings.ToLower(v))
	}

	overlayString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	overlayString(&cfg.LLM.Model, "LLM_MODEL")
	overlayString(&cfg.LLM.Voice, "LLM_VOICE")

	overlayString(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	overlayString(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	overlayString(&cfg.Twilio.PhoneNumber, "TWILIO_PHONE_NUMBER")
	overlayString(&cfg.Twilio.SupportNumber, "SUPPORT_ALERT_NUMBER")

	overlayString(&cfg.Backend.ClientID, "NE_CLIENT_ID")
	overlayString(&cfg.Backend.ClientSecret, "NE_CLIENT_SECRET")
	overlayString(&cfg.Backend.RefreshToken, "NE_REFRESH_TOKEN")
	overlayString(&cfg.Backend.APIBase, "NE_API_BASE")

	overlayString(&cfg.Transcript.DatabaseURL, "TRANSCRIPT_DB_URL")

	overlayString(&cfg.Email.Host, "SMTP_HOST")
	overlayInt(&cfg.Email.Port, "SMTP_PORT")
	overlayString(&cfg.Email.Username, "SMTP_USERNAME")
	overlayString(&cfg.Email.Password, "SMTP_PASSWORD")
	overlayString(&cfg.Email.From, "SMTP_FROM")

	overlayInt(&cfg.Bridge.EchoCooldownMS, "ECHO_COOLDOWN_MS")
	overlayInt(&cfg.Bridge.GreetingStabilizationMS, "GREETING_STABILIZATION_MS")
}

func overlayString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func overlayInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// lookupAny returns the first non-empty value among the given variables.
func lookupAny(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; soft
// problems (disabled integrations in development) are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range [1, 65535]", cfg.Port))
	}
	if !cfg.Environment.IsValid() {
		errs = append(errs, fmt.Errorf("environment %q is invalid; valid values: development, production", cfg.Environment))
	}
	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Bridge.EchoCooldownMS <= 0 {
		errs = append(errs, fmt.Errorf("bridge.echo_cooldown_ms %d must be positive", cfg.Bridge.EchoCooldownMS))
	}
	if cfg.Bridge.GreetingStabilizationMS <= 0 {
		errs = append(errs, fmt.Errorf("bridge.greeting_stabilization_ms %d must be positive", cfg.Bridge.GreetingStabilizationMS))
	}

	if cfg.Email.Configured() {
		if cfg.Email.Port < 1 || cfg.Email.Port > 65535 {
			errs = append(errs, fmt.Errorf("email.port %d is out of range [1, 65535]", cfg.Email.Port))
		}
		if cfg.Email.From == "" {
			errs = append(errs, fmt.Errorf("email.from is required when email.host is set"))
		}
	}

	switch cfg.Environment {
	case EnvProduction:
		if !cfg.LLM.Configured() {
			errs = append(errs, fmt.Errorf("llm.api_key is required in production"))
		}
		if !cfg.Twilio.Configured() {
			errs = append(errs, fmt.Errorf("twilio.account_sid and twilio.auth_token are required in production"))
		}
		if !cfg.Backend.Configured() {
			errs = append(errs, fmt.Errorf("backend.client_id, backend.client_secret and backend.refresh_token are required in production"))
		}
	case EnvDevelopment:
		if !cfg.LLM.Configured() {
			slog.Warn("llm.api_key is empty or a placeholder; calls will not reach the model")
		}
		if !cfg.Twilio.Configured() {
			slog.Warn("twilio credentials are empty or placeholders; staff SMS alerts disabled")
		}
		if !cfg.Backend.Configured() {
			slog.Warn("backend credentials are empty or placeholders; callers will be treated as unknown")
		}
	}

	if !cfg.Transcript.Configured() {
		slog.Warn("transcript.database_url is empty; conversation transcripts will not be persisted")
	}
	if !cfg.Email.Configured() {
		slog.Warn("email.host is empty; outbound email disabled")
	}

	return errors.Join(errs...)
}
