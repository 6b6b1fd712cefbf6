package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/koebridge/koebridge/internal/config"
)

const (
	// defaultMessagingBase is the carrier's REST API endpoint.
	defaultMessagingBase = "https://api.twilio.com"

	smsTimeout = 10 * time.Second
)

// SMSSender fires staff alert SMS through the carrier's messaging REST API.
// Alerts are best-effort: callers log a failure and move on.
type SMSSender struct {
	accountSID string
	authToken  string
	from       string
	base       string
	httpc      *http.Client
	log        *slog.Logger
}

// SMSOption customises an SMSSender.
type SMSOption func(*SMSSender)

// WithMessagingBase overrides the API endpoint. Tests point this at a local
// server.
func WithMessagingBase(base string) SMSOption {
	return func(s *SMSSender) { s.base = strings.TrimRight(base, "/") }
}

// WithSMSHTTPClient overrides the HTTP client.
func WithSMSHTTPClient(c *http.Client) SMSOption {
	return func(s *SMSSender) { s.httpc = c }
}

// NewSMSSender returns a sender for the given carrier account.
func NewSMSSender(cfg config.TwilioConfig, log *slog.Logger, opts ...SMSOption) *SMSSender {
	s := &SMSSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.PhoneNumber,
		base:       defaultMessagingBase,
		httpc:      &http.Client{Timeout: smsTimeout},
		log:        log.With("component", "sms"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendSMS posts one message. The carrier answers 201 on acceptance; anything
// else is decoded for its error message.
func (s *SMSSender) SendSMS(ctx context.Context, to, body string) error {
	if to == "" {
		return fmt.Errorf("notify: no sms recipient")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.base, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("notify: build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("notify: sms rejected: %s (code %d, http %d)", apiErr.Message, apiErr.Code, resp.StatusCode)
		}
		return fmt.Errorf("notify: sms rejected: http %d", resp.StatusCode)
	}

	s.log.Info("staff sms sent", "to", to)
	return nil
}
