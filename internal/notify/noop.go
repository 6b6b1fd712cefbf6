package notify

import (
	"context"
	"log/slog"

	"github.com/koebridge/koebridge/internal/tools"
)

// NoopEmail stands in for EmailSender when no relay is configured. It drops
// the mail and logs enough to see what would have gone out.
type NoopEmail struct {
	log *slog.Logger
}

var _ tools.EmailSender = (*NoopEmail)(nil)

// NewNoopEmail returns the logging no-op mailer.
func NewNoopEmail(log *slog.Logger) *NoopEmail {
	return &NoopEmail{log: log.With("component", "email")}
}

func (n *NoopEmail) Send(_ context.Context, to, subject, _ string) error {
	n.log.Warn("email disabled, dropping mail", "to", to, "subject", subject)
	return nil
}

// NoopSMS stands in for SMSSender when no carrier credentials or support
// number are configured. The alert body still lands in the log so a
// developer sees the handoff.
type NoopSMS struct {
	log *slog.Logger
}

// NewNoopSMS returns the logging no-op SMS sender.
func NewNoopSMS(log *slog.Logger) *NoopSMS {
	return &NoopSMS{log: log.With("component", "sms")}
}

func (n *NoopSMS) SendSMS(_ context.Context, to, body string) error {
	n.log.Warn("sms disabled, dropping staff alert", "to", to, "body", body)
	return nil
}
