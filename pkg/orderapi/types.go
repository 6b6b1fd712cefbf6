package orderapi

import "time"

// Status is the canonical order status inside the bridge, mapped from the
// backend's numeric status codes by MapStatus.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusConfirmed, StatusShipped,
		StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// OrderItem is a single line item on an order.
type OrderItem struct {
	Name  string `json:"name"`
	Qty   int    `json:"qty"`
	Price int    `json:"price"`
}

// Order is the bridge's read-only snapshot of a backend order. All write
// access goes through Client.RegisterReturn.
type Order struct {
	OrderID        string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	Status         Status
	OrderDate      string
	ShippedDate    string
	Carrier        string
	TrackingNumber string
	Items          []OrderItem
	TotalAmount    int
	Platform       string
	Note           string
}

// OrderSummary is the compact order view carried inside an
// IdentificationContext. It holds only what the prompt composer and the
// status tool need, keeping the base64 payload small.
type OrderSummary struct {
	OrderID        string   `json:"orderId"`
	OrderDate      string   `json:"orderDate"`
	Status         Status   `json:"status"`
	StatusMessage  string   `json:"statusMessage"`
	Carrier        string   `json:"carrier,omitempty"`
	TrackingNumber string   `json:"trackingNumber,omitempty"`
	ItemNames      []string `json:"itemNames,omitempty"`
	TotalAmount    int      `json:"totalAmount"`
}

// Summary converts an Order to its OrderSummary form.
func (o Order) Summary() OrderSummary {
	names := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		names = append(names, it.Name)
	}
	return OrderSummary{
		OrderID:        o.OrderID,
		OrderDate:      o.OrderDate,
		Status:         o.Status,
		StatusMessage:  StatusMessage(o),
		Carrier:        o.Carrier,
		TrackingNumber: o.TrackingNumber,
		ItemNames:      names,
		TotalAmount:    o.TotalAmount,
	}
}

// ReturnReason is the caller's stated reason for a return request.
type ReturnReason string

const (
	ReasonDefective      ReturnReason = "defective"
	ReasonDamaged        ReturnReason = "damaged"
	ReasonWrongItem      ReturnReason = "wrong_item"
	ReasonSizeIssue      ReturnReason = "size_issue"
	ReasonImageDifferent ReturnReason = "image_different"
	ReasonOther          ReturnReason = "other"
)

// IsValid reports whether r is one of the accepted return reasons.
func (r ReturnReason) IsValid() bool {
	switch r {
	case ReasonDefective, ReasonDamaged, ReasonWrongItem,
		ReasonSizeIssue, ReasonImageDifferent, ReasonOther:
		return true
	}
	return false
}

// SellerFault reports whether the reason makes the seller responsible for
// return shipping.
func (r ReturnReason) SellerFault() bool {
	switch r {
	case ReasonDefective, ReasonDamaged, ReasonWrongItem:
		return true
	}
	return false
}

// ItemCondition describes the state of the item being returned.
type ItemCondition string

const (
	ConditionUnopened ItemCondition = "unopened"
	ConditionOpened   ItemCondition = "opened"
)

// IsValid reports whether c is a known item condition.
func (c ItemCondition) IsValid() bool {
	return c == ConditionUnopened || c == ConditionOpened
}

// RequestKind is what the caller wants out of the return.
type RequestKind string

const (
	RequestRefund   RequestKind = "refund"
	RequestExchange RequestKind = "exchange"
)

// IsValid reports whether k is a known request kind.
func (k RequestKind) IsValid() bool {
	return k == RequestRefund || k == RequestExchange
}

// ReturnRequest is the input to return registration and eligibility checks.
type ReturnRequest struct {
	OrderID     string
	Reason      ReturnReason
	Condition   ItemCondition
	Request     RequestKind
	Description string
}

// ReturnResult is the outcome of Client.RegisterReturn.
type ReturnResult struct {
	Success  bool
	ReturnID string
	Message  string
}

// Eligibility is the outcome of the return decision table.
type Eligibility struct {
	Eligible           bool
	RequiresHandoff    bool
	SellerPaysShipping bool
	Message            string
}

// wireDateFormat is the timestamp layout the backend uses for date columns.
const wireDateFormat = "2006-01-02 15:04:05"

// parseWireDate parses a backend date column, accepting both the full
// timestamp layout and a bare date.
func parseWireDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(wireDateFormat, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
