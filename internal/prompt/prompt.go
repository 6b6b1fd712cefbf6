// Package prompt composes the system instructions handed to the LLM session
// at call setup.
//
// The output is one string: a fixed Japanese policy block (tone, number
// read-out, which topics the assistant may handle itself and which require a
// human) followed by a context block derived from the pre-call caller lookup.
// Downstream the string is opaque; nothing else in the bridge parses it.
package prompt

import (
	"fmt"
	"strings"

	"github.com/koebridge/koebridge/pkg/orderapi"
)

// defaultShopName is used when no shop name is configured.
const defaultShopName = "ECショップ"

// policyBlock is the fixed conduct section. It is identical for every call.
const policyBlock = `
## 応対方針
- 常に丁寧語で、一文を短く話してください。
- 数字は一桁ずつ区切って読み上げてください（例: 「1234」は「いち、に、さん、よん」）。
- お客様の発話は最後まで聞いてから応答してください。
- 分からないことは推測せず、担当者への引き継ぎをご案内してください。

## 対応できる内容
- ご注文・配送状況の確認
- 返品・交換の受付
- 追跡情報や返品手順のメール送信

## 担当者に引き継ぐ内容
- お支払い・ご請求に関するトラブル
- 商品による怪我や損害のご申告
- 強いご不満・クレームへの対応
- 上記以外で判断に迷うご依頼

## 通話の進め方
- ご用件が済んだか必ず確認してください。
- 通話の最後は「お電話ありがとうございました」で締めてください。`

// Compose builds the system instructions for one call. shopName may be empty.
//
// An identification context with Error=true reads the same as a plain
// not-found: the caller hears an identical script either way, and the lookup
// failure is already logged where it happened.
func Compose(shopName string, idctx orderapi.IdentificationContext) string {
	if shopName == "" {
		shopName = defaultShopName
	}

	var sb strings.Builder

	// ── Role and policy ───────────────────────────────────────────────────────
	fmt.Fprintf(&sb, "あなたは%sの電話対応アシスタントです。\n", shopName)
	sb.WriteString(policyBlock)

	// ── Customer context ──────────────────────────────────────────────────────
	if idctx.Found {
		writeKnownCustomer(&sb, idctx)
	} else {
		writeUnknownCustomer(&sb)
	}

	return sb.String()
}

// writeKnownCustomer appends the identified-caller section: name, the opening
// line to use, the fallback when the caller says they are someone else, and
// the latest order held back until asked about.
func writeKnownCustomer(sb *strings.Builder, idctx orderapi.IdentificationContext) {
	sb.WriteString("\n\n## お客様情報\n")
	fmt.Fprintf(sb, "現在のお客様: %s様\n", idctx.CustomerName)
	if idctx.GreetingHint != "" {
		fmt.Fprintf(sb, "最初の発話は「%s」で始めてください。\n", idctx.GreetingHint)
	}
	sb.WriteString("ご本人ではないと言われた場合は、お詫びして改めてお名前を伺ってください。")

	order, ok := idctx.LatestOrder()
	if !ok {
		return
	}

	sb.WriteString("\n\n## 直近のご注文\n")
	sb.WriteString("以下はお客様から聞かれるまで、こちらからお伝えしないでください。\n")
	fmt.Fprintf(sb, "- 注文番号: %s\n", order.OrderID)
	fmt.Fprintf(sb, "- 注文日: %s\n", order.OrderDate)
	if len(order.ItemNames) > 0 {
		fmt.Fprintf(sb, "- 商品: %s\n", strings.Join(order.ItemNames, "、"))
	}
	fmt.Fprintf(sb, "- 状況: %s", order.StatusMessage)
	if order.TrackingNumber != "" {
		fmt.Fprintf(sb, "\n- 追跡番号: %s", order.TrackingNumber)
	}
}

// writeUnknownCustomer appends the unidentified-caller script.
func writeUnknownCustomer(sb *strings.Builder) {
	sb.WriteString("\n\n## お客様情報\n")
	sb.WriteString("お客様をまだ特定できていません。まずお名前を伺ってください。\n")
	sb.WriteString("ご注文に関するご用件では、注文番号を伺ってから対応してください。")
}
