package carrier

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/koebridge/koebridge/internal/observe"
	"github.com/koebridge/koebridge/pkg/orderapi"
)

// Identifier looks up callers by phone number ahead of the media session.
// Satisfied by *orderapi.Client.
type Identifier interface {
	SearchByPhone(ctx context.Context, number string) orderapi.IdentificationContext
}

// Webhook answers the carrier's incoming-call POST with stream TwiML. The
// caller lookup runs synchronously inside the carrier's response deadline,
// single attempt; a failed lookup downgrades to an unidentified call and the
// call still connects.
type Webhook struct {
	identify Identifier
	log      *slog.Logger
	met      *observe.Metrics

	// publicHost overrides the request Host header when building the stream
	// URL. Needed behind tunnels and load balancers.
	publicHost string
}

// NewWebhook builds the incoming-call handler. publicHost may be empty, in
// which case the request's Host header is used; met may be nil.
func NewWebhook(identify Identifier, publicHost string, log *slog.Logger, met *observe.Metrics) *Webhook {
	if log == nil {
		log = slog.Default()
	}
	return &Webhook{
		identify:   identify,
		log:        log.With("component", "webhook"),
		met:        met,
		publicHost: publicHost,
	}
}

func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	callSid := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	if callSid == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	ident := wh.identify.SearchByPhone(ctx, from)
	if wh.met != nil {
		wh.met.RecordWebhookLookup(ctx, ident.Found)
	}
	wh.log.Info("incoming call",
		"call_sid", callSid,
		"from", from,
		"identified", ident.Found,
		"lookup_error", ident.Error,
	)

	encoded, err := orderapi.EncodeContext(ident)
	if err != nil {
		wh.log.Error("encoding customer context failed", "error", err)
		encoded, _ = orderapi.EncodeContext(orderapi.UnknownContext(true))
	}

	host := wh.publicHost
	if host == "" {
		host = r.Host
	}

	twiml := ConnectStream(StreamURL(host),
		Parameter{Name: ParamCustomerContext, Value: encoded},
		Parameter{Name: ParamCallerPhone, Value: from},
		Parameter{Name: ParamCallSid, Value: callSid},
	)
	body, err := twiml.Render()
	if err != nil {
		wh.log.Error("rendering stream twiml failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write(body)
}
