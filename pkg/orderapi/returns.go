package orderapi

import "time"

// Return policy thresholds. Orders at or above the amount threshold, or past
// the day window since delivery, are routed to a human agent.
const (
	handoffAmountThreshold = 10_000
	returnWindowDays       = 7
)

// Messages spoken for each eligibility outcome.
const (
	msgHighValue      = "高額商品のため、担当者が対応いたします。"
	msgPastWindow     = "お届けから7日を過ぎているため、担当者が対応いたします。"
	msgOpened         = "開封済みの商品のため、担当者が対応いたします。"
	msgEligibleSeller = "返品を承ります。返送料は当店にて負担いたします。"
	msgEligibleBuyer  = "返品を承ります。返送料はお客様のご負担となります。"
)

// EvaluateReturn applies the return decision table to an order snapshot and
// a return request. Days since delivery are approximated from the ship date
// once the order has been delivered.
func EvaluateReturn(o Order, req ReturnRequest, now time.Time) Eligibility {
	days := 0
	if o.Status == StatusDelivered {
		if shipped, ok := parseWireDate(o.ShippedDate); ok {
			days = int(now.Sub(shipped).Hours() / 24)
		}
	}
	return evaluate(o.TotalAmount, days, req.Reason, req.Condition)
}

// evaluate is the decision table. Rule order matters: amount and window
// checks precede the reason and condition checks.
func evaluate(totalAmount, daysSinceDelivery int, reason ReturnReason, condition ItemCondition) Eligibility {
	switch {
	case totalAmount >= handoffAmountThreshold:
		return Eligibility{RequiresHandoff: true, Message: msgHighValue}
	case daysSinceDelivery > returnWindowDays:
		return Eligibility{RequiresHandoff: true, Message: msgPastWindow}
	case reason.SellerFault():
		return Eligibility{Eligible: true, SellerPaysShipping: true, Message: msgEligibleSeller}
	case condition == ConditionOpened:
		return Eligibility{RequiresHandoff: true, Message: msgOpened}
	}
	return Eligibility{Eligible: true, Message: msgEligibleBuyer}
}
