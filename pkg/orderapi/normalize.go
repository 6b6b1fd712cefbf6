package orderapi

import (
	"fmt"
	"strings"
)

// NormalizePhone converts a dialed number to the national form the backend
// stores: dashes are stripped, an international +81 prefix (with or without
// the plus) becomes a leading 0. Idempotent.
func NormalizePhone(number string) string {
	n := strings.TrimSpace(number)
	n = strings.ReplaceAll(n, "-", "")

	switch {
	case strings.HasPrefix(n, "+81"):
		return "0" + n[3:]
	case strings.HasPrefix(n, "81") && len(n) >= 11:
		return "0" + n[2:]
	}
	return n
}

// MapStatus translates a backend numeric status code to the canonical Status.
// Unknown codes map to StatusPending.
func MapStatus(code string) Status {
	switch strings.TrimSpace(code) {
	case "10":
		return StatusPending
	case "20":
		return StatusPreparing
	case "30":
		return StatusConfirmed
	case "40":
		return StatusShipped
	case "50":
		return StatusDelivered
	case "99":
		return StatusCancelled
	}
	return StatusPending
}

// carrierNames maps a substring of the backend's delivery-method column to
// the carrier's canonical Japanese name.
var carrierNames = []struct {
	match string
	name  string
}{
	{"ヤマト", "ヤマト運輸"},
	{"佐川", "佐川急便"},
	{"日本郵便", "日本郵便"},
	{"ゆうパック", "日本郵便"},
	{"西濃", "西濃運輸"},
	{"福山", "福山通運"},
}

// ExtractCarrier resolves the delivery-method string to a canonical carrier
// name. Unmatched strings are returned as-is.
func ExtractCarrier(deliveryMethod string) string {
	for _, c := range carrierNames {
		if strings.Contains(deliveryMethod, c.match) {
			return c.name
		}
	}
	return deliveryMethod
}

// trackingURLs maps canonical carrier names to their shipment lookup pages.
var trackingURLs = map[string]string{
	"ヤマト運輸": "https://toi.kuronekoyamato.co.jp/cgi-bin/tneko?number=",
	"佐川急便":  "https://k2k.sagawa-exp.co.jp/p/web/okurijosearch.do?okurijoNo=",
	"日本郵便":  "https://trackings.post.japanpost.jp/services/srv/search/?requestNo1=",
	"西濃運輸":  "https://track.seino.co.jp/cgi-bin/gempweb.cgi?GNPNO1=",
	"福山通運":  "https://corp.fukutsu.co.jp/situation/tracking_no_hunt/",
}

// TrackingURL builds the carrier's shipment lookup URL for a tracking number.
// Returns "" when the carrier has no known lookup page or the number is empty.
func TrackingURL(carrier, trackingNumber string) string {
	base, ok := trackingURLs[ExtractCarrier(carrier)]
	if !ok || trackingNumber == "" {
		return ""
	}
	return base + strings.ReplaceAll(trackingNumber, "-", "")
}

// InferPlatform guesses the sales channel from the backend store id.
func InferPlatform(storeID string) string {
	s := strings.ToLower(strings.TrimSpace(storeID))
	switch {
	case strings.HasPrefix(s, "rakuten"), strings.HasPrefix(s, "1"):
		return "rakuten"
	case strings.HasPrefix(s, "amazon"), strings.HasPrefix(s, "2"):
		return "amazon"
	}
	return "shopify"
}

// StatusMessage renders the order status as a sentence the assistant can
// speak. Shipped orders include carrier and tracking number when known.
func StatusMessage(o Order) string {
	switch o.Status {
	case StatusPending:
		return "ご注文を確認しております。"
	case StatusPreparing:
		return "商品を発送準備中です。"
	case StatusConfirmed:
		return "ご注文が確定しております。発送までしばらくお待ちください。"
	case StatusShipped:
		if o.Carrier != "" && o.TrackingNumber != "" {
			return fmt.Sprintf("発送済みです。配送業者は%s、お問い合わせ番号は%sです。", o.Carrier, o.TrackingNumber)
		}
		return "発送済みです。まもなくお届け予定です。"
	case StatusDelivered:
		return "お届け済みです。"
	case StatusCancelled:
		return "こちらのご注文はキャンセルされております。"
	case StatusReturned:
		return "返品手続きを承っております。"
	}
	return "ご注文を確認しております。"
}
