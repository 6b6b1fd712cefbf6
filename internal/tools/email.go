package tools

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/koebridge/koebridge/pkg/orderapi"
	"github.com/koebridge/koebridge/pkg/realtime"
)

// EmailSender delivers a composed mail. internal/notify implements it.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// defaultShopLabel is used in mail when no shop name is configured.
const defaultShopLabel = "ECショップ"

// templateParams feeds the subject/body templates.
type templateParams struct {
	CustomerName   string
	OrderID        string
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	ShopName       string
}

// emailTemplate is one entry of the template table. Label is the spoken name
// of the mail used in the confirmation sentence.
type emailTemplate struct {
	Label   string
	Subject *template.Template
	Body    *template.Template
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

// emailTemplates is the closed table of follow-up mails the assistant may
// send. The model picks a key; free-form bodies are never generated.
var emailTemplates = map[string]emailTemplate{
	"tracking": {
		Label:   "配送状況のご案内",
		Subject: mustTemplate("tracking-subject", "【{{.ShopName}}】配送状況のご案内（ご注文番号 {{.OrderID}}）"),
		Body: mustTemplate("tracking-body", `{{.CustomerName}}様

{{.ShopName}}をご利用いただきありがとうございます。
ご注文番号 {{.OrderID}} の配送状況をご案内いたします。

配送業者: {{.Carrier}}
お問い合わせ番号: {{.TrackingNumber}}
{{if .TrackingURL}}配送状況の確認: {{.TrackingURL}}
{{end}}
ご不明な点がございましたら、お気軽にお問い合わせください。

{{.ShopName}}`),
	},
	"return_form": {
		Label:   "返品手順のご案内",
		Subject: mustTemplate("return-subject", "【{{.ShopName}}】返品手順のご案内（ご注文番号 {{.OrderID}}）"),
		Body: mustTemplate("return-body", `{{.CustomerName}}様

{{.ShopName}}をご利用いただきありがとうございます。
ご注文番号 {{.OrderID}} の返品手順をご案内いたします。

1. 商品を納品書とあわせて梱包してください。
2. 受付番号を外装に記載のうえ、下記住所までご返送ください。
3. 商品の到着確認後、ご返金またはお取り替えの手続きを行います。

ご不明な点がございましたら、お気軽にお問い合わせください。

{{.ShopName}}`),
	},
	"callback": {
		Label:   "折り返しのご案内",
		Subject: mustTemplate("callback-subject", "【{{.ShopName}}】担当者からのご連絡について"),
		Body: mustTemplate("callback-body", `{{.CustomerName}}様

{{.ShopName}}をご利用いただきありがとうございます。
お問い合わせの件につきまして、担当者より改めてご連絡いたします。
ご都合の悪い時間帯がございましたら、本メールへご返信ください。

{{.ShopName}}`),
	},
}

type sendEmailArgs struct {
	Template string `json:"template"`
}

// sendEmailTool implements send_email. The recipient comes from the caller's
// latest order; when no address is on file the tool asks the assistant to
// collect one verbally instead of failing.
func sendEmailTool(d Deps) Tool {
	return Tool{
		Definition: realtime.ToolDefinition{
			Name:        "send_email",
			Description: "お客様のメールアドレスに案内メールを送ります。tracking=配送状況、return_form=返品手順、callback=担当者からの折り返し案内。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"template": map[string]any{
						"type":        "string",
						"description": "送信するメールの種類。",
						"enum":        []string{"tracking", "return_form", "callback"},
					},
				},
				"required": []string{"template"},
			},
		},
		Handler: func(ctx context.Context, args string) (Result, error) {
			a := decodeArgs[sendEmailArgs](d.Log, args)

			tmpl, ok := emailTemplates[a.Template]
			if !ok {
				return TextResult{Text: "お送りできるのは、配送状況のご案内、返品手順のご案内、折り返しのご案内です。どちらをお送りしますか。"}, nil
			}

			if d.Call.CallerNumber == "" {
				return TextResult{Text: "お客様のご注文を特定できませんでした。ご注文番号をお伺いできますか。"}, nil
			}
			orders, err := d.Orders.SearchOrders(ctx, orderapi.SearchQuery{Phone: d.Call.CallerNumber, Limit: 1})
			if err != nil {
				return nil, fmt.Errorf("tools: send_email: %w", err)
			}
			if len(orders) == 0 || orders[0].CustomerEmail == "" {
				return TextResult{Text: "お客様のメールアドレスが確認できませんでした。お手数ですが、メールアドレスを口頭でお伺いください。"}, nil
			}
			order := orders[0]

			params := templateParams{
				CustomerName:   order.CustomerName,
				OrderID:        order.OrderID,
				Carrier:        order.Carrier,
				TrackingNumber: order.TrackingNumber,
				TrackingURL:    trackingURL(order.Carrier, order.TrackingNumber),
				ShopName:       d.ShopName,
			}
			if params.ShopName == "" {
				params.ShopName = defaultShopLabel
			}
			if params.CustomerName == "" {
				params.CustomerName = "お客"
			}

			subject, body, err := renderEmail(tmpl, params)
			if err != nil {
				return nil, fmt.Errorf("tools: send_email: %w", err)
			}
			if err := d.Email.Send(ctx, order.CustomerEmail, subject, body); err != nil {
				return nil, fmt.Errorf("tools: send_email: %w", err)
			}

			return TextResult{Text: fmt.Sprintf("%s様のメールアドレスに、%sをお送りしました。", order.CustomerName, tmpl.Label)}, nil
		},
	}
}

func renderEmail(tmpl emailTemplate, params templateParams) (subject, body string, err error) {
	var sb strings.Builder
	if err := tmpl.Subject.Execute(&sb, params); err != nil {
		return "", "", err
	}
	subject = sb.String()

	sb.Reset()
	if err := tmpl.Body.Execute(&sb, params); err != nil {
		return "", "", err
	}
	return subject, sb.String(), nil
}

// trackingURL builds the carrier's public tracking page URL. Unknown
// carriers get no link; the mail then omits the line.
func trackingURL(carrier, trackingNumber string) string {
	if trackingNumber == "" {
		return ""
	}
	no := strings.ReplaceAll(trackingNumber, "-", "")
	switch carrier {
	case "ヤマト運輸":
		return "https://toi.kuronekoyamato.co.jp/cgi-bin/tneko?number=" + no
	case "佐川急便":
		return "https://k2k.sagawa-exp.co.jp/p/web/okurijosearch.do?okurijoNo=" + no
	case "日本郵便":
		return "https://trackings.post.japanpost.jp/services/srv/search/direct?reqCodeNo1=" + no
	}
	return ""
}
