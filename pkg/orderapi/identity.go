package orderapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// IdentificationContext is the result of the pre-call phone lookup. It is
// produced while the carrier webhook is being answered, serialized with
// EncodeContext into a custom stream parameter, and reconstructed by the
// media session with DecodeContext — no second backend round-trip.
//
// Error=true marks a failed lookup (backend down, token refresh failed).
// That is never fatal to the call: the assistant falls back to a neutral
// greeting and asks for the caller's name.
type IdentificationContext struct {
	Found        bool           `json:"found"`
	CustomerName string         `json:"customerName,omitempty"`
	GreetingHint string         `json:"greetingHint"`
	Orders       []OrderSummary `json:"orders,omitempty"`
	Error        bool           `json:"error,omitempty"`
}

// Greeting hints handed to the prompt composer.
const (
	greetingKnown   = "お電話ありがとうございます。%s様でいらっしゃいますか？"
	greetingUnknown = "お電話ありがとうございます。ご用件をお伺いいたします。"
)

// UnknownContext returns the context used when the caller cannot be matched.
// withError marks lookups that failed outright rather than finding nothing.
func UnknownContext(withError bool) IdentificationContext {
	return IdentificationContext{
		Found:        false,
		GreetingHint: greetingUnknown,
		Error:        withError,
	}
}

// KnownContext builds the context for an identified customer and their
// recent orders, newest first.
func KnownContext(name string, orders []Order) IdentificationContext {
	summaries := make([]OrderSummary, 0, len(orders))
	for _, o := range orders {
		summaries = append(summaries, o.Summary())
	}
	return IdentificationContext{
		Found:        true,
		CustomerName: name,
		GreetingHint: fmt.Sprintf(greetingKnown, name),
		Orders:       summaries,
	}
}

// LatestOrder returns the most recent order summary, or false when the
// context carries none.
func (c IdentificationContext) LatestOrder() (OrderSummary, bool) {
	if len(c.Orders) == 0 {
		return OrderSummary{}, false
	}
	return c.Orders[0], true
}

// EncodeContext serializes the context as base64 JSON for transport through
// the carrier's custom stream parameters.
func EncodeContext(c IdentificationContext) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("orderapi: encode context: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeContext parses a base64 JSON context parameter. Unknown fields are
// rejected so a malformed or stale parameter cannot smuggle state into the
// call.
func DecodeContext(encoded string) (IdentificationContext, error) {
	var c IdentificationContext
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return c, fmt.Errorf("orderapi: decode context: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("orderapi: decode context: %w", err)
	}
	return c, nil
}
