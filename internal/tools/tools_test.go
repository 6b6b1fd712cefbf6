package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/koebridge/koebridge/internal/tools"
	"github.com/koebridge/koebridge/pkg/orderapi"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// fakeOrders is a scripted OrderService.
type fakeOrders struct {
	byID    map[string]orderapi.Order
	byPhone []orderapi.Order

	searchErr error
	getErr    error

	registerRes   orderapi.ReturnResult
	registerErr   error
	registerCalls []orderapi.ReturnRequest

	searchCalls []orderapi.SearchQuery
}

func (f *fakeOrders) SearchOrders(_ context.Context, q orderapi.SearchQuery) ([]orderapi.Order, error) {
	f.searchCalls = append(f.searchCalls, q)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if q.OrderID != "" {
		if o, ok := f.byID[q.OrderID]; ok {
			return []orderapi.Order{o}, nil
		}
		return nil, nil
	}
	return f.byPhone, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, orderID string) (*orderapi.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if o, ok := f.byID[orderID]; ok {
		return &o, nil
	}
	return nil, nil
}

func (f *fakeOrders) RegisterReturn(_ context.Context, req orderapi.ReturnRequest) (orderapi.ReturnResult, error) {
	f.registerCalls = append(f.registerCalls, req)
	if f.registerErr != nil {
		return orderapi.ReturnResult{}, f.registerErr
	}
	return f.registerRes, nil
}

// fakeEmail records sent mail.
type fakeEmail struct {
	sendErr error
	sent    []sentMail
}

type sentMail struct {
	to, subject, body string
}

func (f *fakeEmail) Send(_ context.Context, to, subject, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

// shippedOrder is the canonical test order.
func shippedOrder() orderapi.Order {
	return orderapi.Order{
		OrderID:        "R-42",
		CustomerName:   "田中",
		CustomerEmail:  "tanaka@example.com",
		CustomerPhone:  "05012345678",
		Status:         orderapi.StatusShipped,
		OrderDate:      "2024-03-01",
		Carrier:        "ヤマト運輸",
		TrackingNumber: "1234-5678-9012",
		Items:          []orderapi.OrderItem{{Name: "美容クリーム", Qty: 1, Price: 3200}},
		TotalAmount:    3200,
		Platform:       "shopify",
	}
}

func newDeps(orders *fakeOrders, email *fakeEmail) tools.Deps {
	return tools.Deps{
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Orders: orders,
		Email:  email,
		Call:   tools.CallContext{CallID: "CA1", CallerNumber: "+815012345678"},
		Now:    func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) },
	}
}

func textOf(t *testing.T, res tools.Result) string {
	t.Helper()
	tr, ok := res.(tools.TextResult)
	if !ok {
		t.Fatalf("result type = %T, want TextResult", res)
	}
	return tr.Text
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestRegistry_DefinitionsInOrder(t *testing.T) {
	t.Parallel()
	reg := tools.NewForCall(newDeps(&fakeOrders{}, &fakeEmail{}))

	defs := reg.Definitions()
	want := []string{"check_order_status", "register_return", "send_email", "transfer_to_human"}
	if len(defs) != len(want) {
		t.Fatalf("got %d definitions, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("defs[%d].Name = %q, want %q", i, defs[i].Name, name)
		}
		if defs[i].Description == "" {
			t.Errorf("defs[%d] (%s) has no description", i, name)
		}
		if defs[i].Parameters["type"] != "object" {
			t.Errorf("defs[%d] (%s) parameters are not an object schema", i, name)
		}
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	t.Parallel()
	reg := tools.NewForCall(newDeps(&fakeOrders{}, &fakeEmail{}))

	res := reg.Execute(context.Background(), "fly_to_moon", "{}")
	if got := textOf(t, res); got != "unknown tool: fly_to_moon" {
		t.Errorf("result = %q, want unknown-tool text", got)
	}
}

func TestRegistry_HandlerErrorBecomesApology(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{getErr: errors.New("backend down")}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "check_order_status", `{"order_id":"R-42"}`)
	got := textOf(t, res)
	if !strings.Contains(got, "システムエラー") {
		t.Errorf("result = %q, want a spoken system-error apology", got)
	}
	if res.Output() != got {
		t.Errorf("Output() = %q, want the apology text", res.Output())
	}
}

func TestRegistry_MalformedArgsTreatedAsEmpty(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{byPhone: []orderapi.Order{shippedOrder()}}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	// order_id has the wrong type; the tool falls back to the caller number.
	res := reg.Execute(context.Background(), "check_order_status", `{"order_id": 42}`)
	got := textOf(t, res)
	if !strings.Contains(got, "R-42") {
		t.Errorf("result = %q, want the caller-number lookup result", got)
	}
}

func TestStructuredResult_OutputIsJSON(t *testing.T) {
	t.Parallel()
	r := tools.StructuredResult{Success: false, Message: "高額商品のため、担当者が対応いたします。", RequiresHandoff: true}

	var decoded struct {
		Success         bool   `json:"success"`
		Message         string `json:"message"`
		RequiresHandoff bool   `json:"requiresHandoff"`
	}
	if err := json.Unmarshal([]byte(r.Output()), &decoded); err != nil {
		t.Fatalf("Output() is not JSON: %v", err)
	}
	if decoded.Success || !decoded.RequiresHandoff {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Message != r.Message {
		t.Errorf("message = %q, want %q", decoded.Message, r.Message)
	}
}

func TestTextResult_OutputIsText(t *testing.T) {
	t.Parallel()
	r := tools.TextResult{Text: "発送済みです。"}
	if r.Output() != "発送済みです。" {
		t.Errorf("Output() = %q", r.Output())
	}
}

func TestPriority_IsValid(t *testing.T) {
	t.Parallel()
	valid := []tools.Priority{tools.PriorityNormal, tools.PriorityHigh, tools.PriorityUrgent}
	for _, p := range valid {
		if !p.IsValid() {
			t.Errorf("%q should be valid", p)
		}
	}
	for _, p := range []tools.Priority{"", "asap", "NORMAL"} {
		if p.IsValid() {
			t.Errorf("%q should be invalid", p)
		}
	}
}
