package tools_test

import (
	"context"
	"strings"
	"testing"

	"github.com/koebridge/koebridge/internal/tools"
)

func executeTransfer(t *testing.T, args string) tools.HandoffResult {
	t.Helper()
	reg := tools.NewForCall(newDeps(&fakeOrders{}, &fakeEmail{}))
	res := reg.Execute(context.Background(), "transfer_to_human", args)
	hr, ok := res.(tools.HandoffResult)
	if !ok {
		t.Fatalf("result type = %T, want HandoffResult", res)
	}
	return hr
}

func TestTransferToHuman_CarriesRequest(t *testing.T) {
	t.Parallel()
	hr := executeTransfer(t, `{"reason":"請求金額のトラブル","summary":"二重請求の訴え。注文番号R-42。","priority":"urgent"}`)
	if hr.Reason != "請求金額のトラブル" {
		t.Errorf("reason = %q", hr.Reason)
	}
	if hr.Summary != "二重請求の訴え。注文番号R-42。" {
		t.Errorf("summary = %q", hr.Summary)
	}
	if hr.Priority != tools.PriorityUrgent {
		t.Errorf("priority = %q, want urgent", hr.Priority)
	}
}

func TestTransferToHuman_DefaultPriority(t *testing.T) {
	t.Parallel()
	if hr := executeTransfer(t, `{"reason":"強いクレーム"}`); hr.Priority != tools.PriorityNormal {
		t.Errorf("priority = %q, want normal", hr.Priority)
	}
}

func TestTransferToHuman_InvalidPriorityBecomesNormal(t *testing.T) {
	t.Parallel()
	if hr := executeTransfer(t, `{"reason":"強いクレーム","priority":"asap"}`); hr.Priority != tools.PriorityNormal {
		t.Errorf("priority = %q, want normal", hr.Priority)
	}
}

func TestTransferToHuman_EmptyReasonFallback(t *testing.T) {
	t.Parallel()
	if hr := executeTransfer(t, "{}"); hr.Reason != "お客様のご要望" {
		t.Errorf("reason = %q", hr.Reason)
	}
}

// The model never sees the staff-alert plumbing; its function output is a
// fixed acknowledgement to relay to the caller.
func TestTransferToHuman_OutputIsAcknowledgement(t *testing.T) {
	t.Parallel()
	hr := executeTransfer(t, `{"reason":"請求金額のトラブル"}`)
	out := hr.Output()
	if !strings.Contains(out, "引き継ぎを受け付けました") {
		t.Errorf("Output() = %q", out)
	}
	if strings.Contains(out, hr.Reason) {
		t.Errorf("Output() leaks the internal reason: %q", out)
	}
}
