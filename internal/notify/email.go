// Package notify holds the bridge's outbound side channels: follow-up mail
// to customers over SMTP and staff alert SMS through the carrier's messaging
// REST API. Both have logging no-op twins so development environments run
// without credentials.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/koebridge/koebridge/internal/config"
	"github.com/koebridge/koebridge/internal/tools"
)

// dialTimeout bounds the TCP connect to the relay.
const dialTimeout = 10 * time.Second

// smtpClient abstracts the methods used from *smtp.Client for testing.
type smtpClient interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// EmailSender delivers mail through the configured SMTP relay. It upgrades
// to TLS when the relay offers STARTTLS and authenticates when credentials
// are configured, so it works against both public submission services and
// bare local relays.
type EmailSender struct {
	cfg config.EmailConfig
	log *slog.Logger
	// dialFunc allows injecting a custom dialer for testing.
	dialFunc func(ctx context.Context, addr string, tlsConfig *tls.Config) (smtpClient, error)
}

var _ tools.EmailSender = (*EmailSender)(nil)

// NewEmailSender returns a sender for the given relay settings.
func NewEmailSender(cfg config.EmailConfig, log *slog.Logger) *EmailSender {
	return &EmailSender{
		cfg:      cfg,
		log:      log.With("component", "email"),
		dialFunc: dialSMTP,
	}
}

// Send delivers one UTF-8 plain-text mail.
func (s *EmailSender) Send(ctx context.Context, to, subject, body string) error {
	if !s.cfg.Configured() {
		return fmt.Errorf("notify: smtp not configured")
	}
	if to == "" {
		return fmt.Errorf("notify: no recipient address")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	client, err := s.dialFunc(ctx, addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("notify: connect to smtp relay: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("notify: smtp hello: %w", err)
	}

	// Opportunistic upgrade. Submission relays advertise STARTTLS; a local
	// development relay does not and stays plaintext.
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("notify: smtp starttls: %w", err)
		}
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("notify: smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("notify: smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("notify: smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("notify: smtp data: %w", err)
	}
	if _, err := w.Write(buildMessage(s.cfg.From, to, subject, body)); err != nil {
		w.Close()
		return fmt.Errorf("notify: smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: smtp data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.log.Warn("smtp quit failed", "error", err)
	}

	s.log.Info("mail sent", "to", to, "subject", subject)
	return nil
}

// dialSMTP connects to the relay over plain TCP; TLS comes later via
// STARTTLS when offered.
func dialSMTP(ctx context.Context, addr string, tlsConfig *tls.Config) (smtpClient, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, tlsConfig.ServerName)
}

// buildMessage assembles a single-part message. Subjects are Japanese, so
// the header carries them RFC 2047 encoded; the body goes out as raw UTF-8.
func buildMessage(from, to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "Content-Transfer-Encoding: 8bit\r\n")
	fmt.Fprintf(&buf, "\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}
