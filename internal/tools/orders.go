package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/koebridge/koebridge/pkg/orderapi"
	"github.com/koebridge/koebridge/pkg/realtime"
)

// OrderService is the slice of the order backend the tools need.
// *orderapi.Client satisfies it.
type OrderService interface {
	SearchOrders(ctx context.Context, q orderapi.SearchQuery) ([]orderapi.Order, error)
	GetOrder(ctx context.Context, orderID string) (*orderapi.Order, error)
	RegisterReturn(ctx context.Context, req orderapi.ReturnRequest) (orderapi.ReturnResult, error)
}

// statusSearchLimit caps how many orders a phone lookup considers.
const statusSearchLimit = 5

type orderStatusArgs struct {
	// PhoneNumber optionally overrides the caller's number.
	PhoneNumber string `json:"phone_number"`

	// OrderID looks up one order exactly.
	OrderID string `json:"order_id"`
}

// orderStatusTool implements check_order_status. With no arguments it falls
// back to the current call's caller number.
func orderStatusTool(d Deps) Tool {
	return Tool{
		Definition: realtime.ToolDefinition{
			Name:        "check_order_status",
			Description: "お客様の注文状況・配送状況を調べます。注文番号が分かればorder_idを、分からなければ電話番号で検索します。引数を省略すると発信元の電話番号で検索します。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phone_number": map[string]any{
						"type":        "string",
						"description": "検索に使う電話番号。省略時は発信元の番号。",
					},
					"order_id": map[string]any{
						"type":        "string",
						"description": "注文番号（例: R-42）。",
					},
				},
			},
		},
		Handler: func(ctx context.Context, args string) (Result, error) {
			a := decodeArgs[orderStatusArgs](d.Log, args)

			if a.OrderID != "" {
				order, err := d.Orders.GetOrder(ctx, a.OrderID)
				if err != nil {
					return nil, fmt.Errorf("tools: check_order_status: %w", err)
				}
				if order == nil {
					return TextResult{Text: fmt.Sprintf("ご注文番号%sのご注文が見つかりませんでした。番号をもう一度お伺いできますか。", a.OrderID)}, nil
				}
				return TextResult{Text: orderStatusSentence(*order)}, nil
			}

			phone := a.PhoneNumber
			if phone == "" {
				phone = d.Call.CallerNumber
			}
			if phone == "" {
				return TextResult{Text: "お調べするために、ご注文番号かお電話番号をお伺いできますか。"}, nil
			}

			orders, err := d.Orders.SearchOrders(ctx, orderapi.SearchQuery{Phone: phone, Limit: statusSearchLimit})
			if err != nil {
				return nil, fmt.Errorf("tools: check_order_status: %w", err)
			}
			switch len(orders) {
			case 0:
				return TextResult{Text: "お電話番号に紐づくご注文が見つかりませんでした。お名前とご注文番号をお伺いできますか。"}, nil
			case 1:
				return TextResult{Text: orderStatusSentence(orders[0])}, nil
			}
			return TextResult{Text: disambiguationSentence(orders)}, nil
		},
	}
}

// orderStatusSentence voices one order: id, date, items, then the status
// message (which itself carries carrier and tracking number once shipped).
func orderStatusSentence(o orderapi.Order) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ご注文番号%s", o.OrderID)
	if o.OrderDate != "" {
		fmt.Fprintf(&sb, "、%sのご注文", o.OrderDate)
	}
	if names := itemNames(o); names != "" {
		fmt.Fprintf(&sb, "（%s）", names)
	}
	sb.WriteString("ですね。")
	sb.WriteString(orderapi.StatusMessage(o))
	return sb.String()
}

// disambiguationSentence asks which of several orders the caller means.
func disambiguationSentence(orders []orderapi.Order) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d件のご注文が見つかりました。", len(orders))
	for _, o := range orders {
		fmt.Fprintf(&sb, "注文番号%s", o.OrderID)
		if o.OrderDate != "" {
			fmt.Fprintf(&sb, "（%s）", o.OrderDate)
		}
		sb.WriteString("、")
	}
	sb.WriteString("どのご注文についてお調べしますか。")
	return sb.String()
}

func itemNames(o orderapi.Order) string {
	names := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		names = append(names, it.Name)
	}
	return strings.Join(names, "、")
}

type registerReturnArgs struct {
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
	Condition string `json:"condition"`
	Request   string `json:"request"`
}

// registerReturnTool implements register_return: eligibility first, then the
// backend registration. Refusals and escalations come back as a
// StructuredResult so the mediator sees requiresHandoff.
func registerReturnTool(d Deps) Tool {
	return Tool{
		Definition: realtime.ToolDefinition{
			Name:        "register_return",
			Description: "返品・交換を受け付けます。受付前に返品条件（金額・期間・商品の状態）を自動判定します。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"order_id": map[string]any{
						"type":        "string",
						"description": "対象の注文番号。",
					},
					"reason": map[string]any{
						"type":        "string",
						"description": "返品理由。",
						"enum": []string{
							string(orderapi.ReasonDefective), string(orderapi.ReasonDamaged),
							string(orderapi.ReasonWrongItem), string(orderapi.ReasonSizeIssue),
							string(orderapi.ReasonImageDifferent), string(orderapi.ReasonOther),
						},
					},
					"condition": map[string]any{
						"type":        "string",
						"description": "商品の開封状態。",
						"enum":        []string{string(orderapi.ConditionUnopened), string(orderapi.ConditionOpened)},
					},
					"request": map[string]any{
						"type":        "string",
						"description": "返金か交換か。",
						"enum":        []string{string(orderapi.RequestRefund), string(orderapi.RequestExchange)},
					},
				},
				"required": []string{"order_id", "reason", "condition", "request"},
			},
		},
		Handler: func(ctx context.Context, args string) (Result, error) {
			a := decodeArgs[registerReturnArgs](d.Log, args)

			if a.OrderID == "" {
				return TextResult{Text: "返品を受け付けるご注文番号をお伺いできますか。"}, nil
			}
			req := orderapi.ReturnRequest{
				OrderID:   a.OrderID,
				Reason:    orderapi.ReturnReason(a.Reason),
				Condition: orderapi.ItemCondition(a.Condition),
				Request:   orderapi.RequestKind(a.Request),
			}
			if !req.Reason.IsValid() {
				return TextResult{Text: "返品の理由をお伺いできますか。不良・破損・商品違い・サイズ・イメージ違い・その他、のいずれでしょうか。"}, nil
			}
			if !req.Condition.IsValid() {
				return TextResult{Text: "商品は開封済みでしょうか、未開封でしょうか。"}, nil
			}
			if !req.Request.IsValid() {
				return TextResult{Text: "ご返金とお取り替え、どちらをご希望でしょうか。"}, nil
			}

			order, err := d.Orders.GetOrder(ctx, a.OrderID)
			if err != nil {
				return nil, fmt.Errorf("tools: register_return: %w", err)
			}
			if order == nil {
				return TextResult{Text: fmt.Sprintf("ご注文番号%sのご注文が見つかりませんでした。番号をもう一度お伺いできますか。", a.OrderID)}, nil
			}

			elig := orderapi.EvaluateReturn(*order, req, d.Now())
			if elig.RequiresHandoff {
				return StructuredResult{Success: false, Message: elig.Message, RequiresHandoff: true}, nil
			}

			res, err := d.Orders.RegisterReturn(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("tools: register_return: %w", err)
			}
			if !res.Success {
				return StructuredResult{Success: false, Message: res.Message}, nil
			}
			return TextResult{Text: res.Message + shippingNote(elig)}, nil
		},
	}
}

// shippingNote voices who pays return shipping.
func shippingNote(e orderapi.Eligibility) string {
	if e.SellerPaysShipping {
		return "返送料は当店にて負担いたします。"
	}
	return "返送料はお客様のご負担となります。"
}
