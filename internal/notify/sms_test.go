package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koebridge/koebridge/internal/config"
)

func carrierConfig() config.TwilioConfig {
	return config.TwilioConfig{
		AccountSID:    "AC00000000000000000000000000000001",
		AuthToken:     "token-1",
		PhoneNumber:   "+815000000000",
		SupportNumber: "+819000000000",
	}
}

func newTestSMS(t *testing.T, handler http.HandlerFunc) *SMSSender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSMSSender(carrierConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithMessagingBase(srv.URL), WithSMSHTTPClient(srv.Client()))
}

func TestSendSMS_PostsMessage(t *testing.T) {
	t.Parallel()
	var gotPath, gotTo, gotFrom, gotBody string
	var gotUser, gotPass string
	s := newTestSMS(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotBody = r.PostFormValue("Body")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"SM1","status":"queued"}`)
	})

	err := s.SendSMS(context.Background(), "+819000000000", "【引き継ぎ】請求金額のトラブル")
	if err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if want := "/2010-04-01/Accounts/AC00000000000000000000000000000001/Messages.json"; gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
	if gotUser != "AC00000000000000000000000000000001" || gotPass != "token-1" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
	if gotTo != "+819000000000" {
		t.Errorf("To = %q", gotTo)
	}
	if gotFrom != "+815000000000" {
		t.Errorf("From = %q", gotFrom)
	}
	if !strings.Contains(gotBody, "請求金額のトラブル") {
		t.Errorf("Body = %q", gotBody)
	}
}

func TestSendSMS_CarrierError(t *testing.T) {
	t.Parallel()
	s := newTestSMS(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`)
	})

	err := s.SendSMS(context.Background(), "not-a-number", "本文")
	if err == nil {
		t.Fatal("want error")
	}
	for _, frag := range []string{"Invalid 'To' Phone Number", "21211"} {
		if !strings.Contains(err.Error(), frag) {
			t.Errorf("err = %v, missing %q", err, frag)
		}
	}
}

func TestSendSMS_OpaqueErrorBody(t *testing.T) {
	t.Parallel()
	s := newTestSMS(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "upstream maintenance")
	})

	err := s.SendSMS(context.Background(), "+819000000000", "本文")
	if err == nil || !strings.Contains(err.Error(), "http 503") {
		t.Errorf("err = %v, want http status error", err)
	}
}

func TestSendSMS_NoRecipient(t *testing.T) {
	t.Parallel()
	s := NewSMSSender(carrierConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := s.SendSMS(context.Background(), "", "本文")
	if err == nil || !strings.Contains(err.Error(), "no sms recipient") {
		t.Errorf("err = %v", err)
	}
}

func TestNoops_SwallowAndSucceed(t *testing.T) {
	t.Parallel()
	var sb strings.Builder
	log := slog.New(slog.NewTextHandler(&sb, nil))

	if err := NewNoopEmail(log).Send(context.Background(), "tanaka@example.com", "件名", "本文"); err != nil {
		t.Errorf("NoopEmail.Send: %v", err)
	}
	if err := NewNoopSMS(log).SendSMS(context.Background(), "+819000000000", "引き継ぎ"); err != nil {
		t.Errorf("NoopSMS.SendSMS: %v", err)
	}

	out := sb.String()
	if !strings.Contains(out, "dropping mail") || !strings.Contains(out, "dropping staff alert") {
		t.Errorf("log output missing drop notices:\n%s", out)
	}
}
