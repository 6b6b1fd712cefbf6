package tools_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/koebridge/koebridge/internal/tools"
	"github.com/koebridge/koebridge/pkg/orderapi"
)

func TestCheckOrderStatus_ByOrderID(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{byID: map[string]orderapi.Order{"R-42": shippedOrder()}}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "check_order_status", `{"order_id":"R-42"}`)
	got := textOf(t, res)
	if !strings.Contains(got, "ご注文番号R-42、2024-03-01のご注文（美容クリーム）ですね。") {
		t.Errorf("result = %q, want order header", got)
	}
	if !strings.Contains(got, "発送済みです。配送業者はヤマト運輸、お問い合わせ番号は1234-5678-9012です。") {
		t.Errorf("result = %q, want shipped status with carrier and tracking", got)
	}
}

func TestCheckOrderStatus_OrderIDNotFound(t *testing.T) {
	t.Parallel()
	reg := tools.NewForCall(newDeps(&fakeOrders{}, &fakeEmail{}))

	res := reg.Execute(context.Background(), "check_order_status", `{"order_id":"R-99"}`)
	got := textOf(t, res)
	if got != "ご注文番号R-99のご注文が見つかりませんでした。番号をもう一度お伺いできますか。" {
		t.Errorf("result = %q", got)
	}
}

func TestCheckOrderStatus_SearchesByExplicitPhone(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{byPhone: []orderapi.Order{shippedOrder()}}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "check_order_status", `{"phone_number":"09011112222"}`)
	if _, ok := res.(tools.TextResult); !ok {
		t.Fatalf("result type = %T", res)
	}
	if len(orders.searchCalls) != 1 {
		t.Fatalf("got %d search calls, want 1", len(orders.searchCalls))
	}
	if q := orders.searchCalls[0]; q.Phone != "09011112222" || q.Limit != 5 {
		t.Errorf("search query = %+v, want phone 09011112222 limit 5", q)
	}
}

func TestCheckOrderStatus_FallsBackToCallerNumber(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{byPhone: []orderapi.Order{shippedOrder()}}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "check_order_status", "{}")
	got := textOf(t, res)
	if !strings.Contains(got, "R-42") {
		t.Errorf("result = %q, want the caller's order", got)
	}
	if q := orders.searchCalls[0]; q.Phone != "+815012345678" {
		t.Errorf("search phone = %q, want the caller number", q.Phone)
	}
}

func TestCheckOrderStatus_NoPhoneAsksForOne(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{}
	d := newDeps(orders, &fakeEmail{})
	d.Call.CallerNumber = ""
	reg := tools.NewForCall(d)

	res := reg.Execute(context.Background(), "check_order_status", "{}")
	got := textOf(t, res)
	if got != "お調べするために、ご注文番号かお電話番号をお伺いできますか。" {
		t.Errorf("result = %q", got)
	}
	if len(orders.searchCalls) != 0 {
		t.Errorf("backend searched %d times, want 0", len(orders.searchCalls))
	}
}

func TestCheckOrderStatus_NoMatches(t *testing.T) {
	t.Parallel()
	reg := tools.NewForCall(newDeps(&fakeOrders{}, &fakeEmail{}))

	res := reg.Execute(context.Background(), "check_order_status", "{}")
	got := textOf(t, res)
	if got != "お電話番号に紐づくご注文が見つかりませんでした。お名前とご注文番号をお伺いできますか。" {
		t.Errorf("result = %q", got)
	}
}

func TestCheckOrderStatus_MultipleMatchesDisambiguates(t *testing.T) {
	t.Parallel()
	second := shippedOrder()
	second.OrderID = "R-41"
	second.OrderDate = "2024-02-20"
	orders := &fakeOrders{byPhone: []orderapi.Order{shippedOrder(), second}}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "check_order_status", "{}")
	got := textOf(t, res)
	if !strings.HasPrefix(got, "2件のご注文が見つかりました。") {
		t.Errorf("result = %q, want a count prefix", got)
	}
	for _, frag := range []string{"注文番号R-42（2024-03-01）", "注文番号R-41（2024-02-20）", "どのご注文についてお調べしますか。"} {
		if !strings.Contains(got, frag) {
			t.Errorf("result %q missing %q", got, frag)
		}
	}
}

func TestRegisterReturn_IncompleteArgsAsk(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args string
		want string
	}{
		{
			name: "missing order id",
			args: `{"reason":"defective","condition":"unopened","request":"refund"}`,
			want: "返品を受け付けるご注文番号をお伺いできますか。",
		},
		{
			name: "invalid reason",
			args: `{"order_id":"R-42","reason":"whatever","condition":"unopened","request":"refund"}`,
			want: "返品の理由をお伺いできますか。不良・破損・商品違い・サイズ・イメージ違い・その他、のいずれでしょうか。",
		},
		{
			name: "invalid condition",
			args: `{"order_id":"R-42","reason":"defective","condition":"sealed","request":"refund"}`,
			want: "商品は開封済みでしょうか、未開封でしょうか。",
		},
		{
			name: "invalid request",
			args: `{"order_id":"R-42","reason":"defective","condition":"unopened","request":"store_credit"}`,
			want: "ご返金とお取り替え、どちらをご希望でしょうか。",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			orders := &fakeOrders{byID: map[string]orderapi.Order{"R-42": shippedOrder()}}
			reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

			res := reg.Execute(context.Background(), "register_return", tt.args)
			if got := textOf(t, res); got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if len(orders.registerCalls) != 0 {
				t.Errorf("return registered despite incomplete args")
			}
		})
	}
}

func TestRegisterReturn_OrderNotFound(t *testing.T) {
	t.Parallel()
	reg := tools.NewForCall(newDeps(&fakeOrders{}, &fakeEmail{}))

	res := reg.Execute(context.Background(), "register_return",
		`{"order_id":"R-99","reason":"defective","condition":"unopened","request":"refund"}`)
	got := textOf(t, res)
	if got != "ご注文番号R-99のご注文が見つかりませんでした。番号をもう一度お伺いできますか。" {
		t.Errorf("result = %q", got)
	}
}

func TestRegisterReturn_HighValueRequiresHandoff(t *testing.T) {
	t.Parallel()
	order := shippedOrder()
	order.TotalAmount = 15_000
	orders := &fakeOrders{byID: map[string]orderapi.Order{"R-42": order}}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "register_return",
		`{"order_id":"R-42","reason":"defective","condition":"unopened","request":"refund"}`)
	sr, ok := res.(tools.StructuredResult)
	if !ok {
		t.Fatalf("result type = %T, want StructuredResult", res)
	}
	if sr.Success || !sr.RequiresHandoff {
		t.Errorf("result = %+v, want handoff", sr)
	}
	if sr.Message != "高額商品のため、担当者が対応いたします。" {
		t.Errorf("message = %q", sr.Message)
	}
	if len(orders.registerCalls) != 0 {
		t.Errorf("return registered despite handoff")
	}
}

func TestRegisterReturn_OpenedRequiresHandoff(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{byID: map[string]orderapi.Order{"R-42": shippedOrder()}}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "register_return",
		`{"order_id":"R-42","reason":"size_issue","condition":"opened","request":"exchange"}`)
	sr, ok := res.(tools.StructuredResult)
	if !ok {
		t.Fatalf("result type = %T, want StructuredResult", res)
	}
	if !sr.RequiresHandoff || sr.Message != "開封済みの商品のため、担当者が対応いたします。" {
		t.Errorf("result = %+v", sr)
	}
}

func TestRegisterReturn_PastWindowRequiresHandoff(t *testing.T) {
	t.Parallel()
	order := shippedOrder()
	order.Status = orderapi.StatusDelivered
	order.ShippedDate = "2024-03-01 10:00:00"
	orders := &fakeOrders{byID: map[string]orderapi.Order{"R-42": order}}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{})) // Now is 2024-03-10

	res := reg.Execute(context.Background(), "register_return",
		`{"order_id":"R-42","reason":"size_issue","condition":"unopened","request":"refund"}`)
	sr, ok := res.(tools.StructuredResult)
	if !ok {
		t.Fatalf("result type = %T, want StructuredResult", res)
	}
	if !sr.RequiresHandoff || sr.Message != "お届けから7日を過ぎているため、担当者が対応いたします。" {
		t.Errorf("result = %+v", sr)
	}
}

func TestRegisterReturn_SellerFaultSellerPays(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{
		byID: map[string]orderapi.Order{"R-42": shippedOrder()},
		registerRes: orderapi.ReturnResult{
			Success:  true,
			ReturnID: "RET-20240310-A1B2C3",
			Message:  "返品を受け付けました。受付番号はRET-20240310-A1B2C3です。",
		},
	}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "register_return",
		`{"order_id":"R-42","reason":"defective","condition":"unopened","request":"refund"}`)
	got := textOf(t, res)
	want := "返品を受け付けました。受付番号はRET-20240310-A1B2C3です。返送料は当店にて負担いたします。"
	if got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
	if len(orders.registerCalls) != 1 {
		t.Fatalf("got %d register calls, want 1", len(orders.registerCalls))
	}
	req := orders.registerCalls[0]
	if req.OrderID != "R-42" || req.Reason != orderapi.ReasonDefective ||
		req.Condition != orderapi.ConditionUnopened || req.Request != orderapi.RequestRefund {
		t.Errorf("register request = %+v", req)
	}
}

func TestRegisterReturn_BuyerPaysNote(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{
		byID:        map[string]orderapi.Order{"R-42": shippedOrder()},
		registerRes: orderapi.ReturnResult{Success: true, Message: "返品を受け付けました。受付番号はRET-20240310-A1B2C3です。"},
	}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "register_return",
		`{"order_id":"R-42","reason":"size_issue","condition":"unopened","request":"exchange"}`)
	got := textOf(t, res)
	if !strings.HasSuffix(got, "返送料はお客様のご負担となります。") {
		t.Errorf("result = %q, want buyer-pays note", got)
	}
}

func TestRegisterReturn_BackendRefusal(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{
		byID:        map[string]orderapi.Order{"R-42": shippedOrder()},
		registerRes: orderapi.ReturnResult{Success: false, Message: "対象のご注文が見つかりませんでした。"},
	}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "register_return",
		`{"order_id":"R-42","reason":"defective","condition":"unopened","request":"refund"}`)
	sr, ok := res.(tools.StructuredResult)
	if !ok {
		t.Fatalf("result type = %T, want StructuredResult", res)
	}
	if sr.Success || sr.RequiresHandoff {
		t.Errorf("result = %+v, want plain refusal", sr)
	}
}

func TestRegisterReturn_BackendError(t *testing.T) {
	t.Parallel()
	orders := &fakeOrders{
		byID:        map[string]orderapi.Order{"R-42": shippedOrder()},
		registerErr: context.DeadlineExceeded,
	}
	reg := tools.NewForCall(newDeps(orders, &fakeEmail{}))

	res := reg.Execute(context.Background(), "register_return",
		`{"order_id":"R-42","reason":"defective","condition":"unopened","request":"refund"}`)
	if got := textOf(t, res); !strings.Contains(got, "システムエラー") {
		t.Errorf("result = %q, want system-error apology", got)
	}
}

// Days since delivery come from the ship date. Five days out stays inside
// the window and the return goes through.
func TestRegisterReturn_WithinWindow(t *testing.T) {
	t.Parallel()
	order := shippedOrder()
	order.Status = orderapi.StatusDelivered
	order.ShippedDate = "2024-03-05 10:00:00"
	orders := &fakeOrders{
		byID:        map[string]orderapi.Order{"R-42": order},
		registerRes: orderapi.ReturnResult{Success: true, Message: "返品を受け付けました。受付番号はRET-20240310-A1B2C3です。"},
	}
	d := newDeps(orders, &fakeEmail{})
	d.Now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	reg := tools.NewForCall(d)

	res := reg.Execute(context.Background(), "register_return",
		`{"order_id":"R-42","reason":"size_issue","condition":"unopened","request":"refund"}`)
	if _, ok := res.(tools.TextResult); !ok {
		t.Fatalf("result type = %T, want TextResult", res)
	}
	if len(orders.registerCalls) != 1 {
		t.Errorf("got %d register calls, want 1", len(orders.registerCalls))
	}
}
