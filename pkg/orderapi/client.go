// Package orderapi implements the client for the order-management backend.
//
// The backend speaks a form-encoded HTTP API: a token endpoint exchanges a
// long-lived refresh token for an access token, and a search endpoint returns
// order rows filtered by phone number or order id. All wire values are
// strings; rows are one line item each and are grouped into Orders by the
// client. The package also carries the pure mapping laws the rest of the
// bridge relies on: phone normalization, status mapping, carrier extraction,
// platform inference and the return eligibility table.
package orderapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://api.next-engine.org"

	tokenPath  = "/api_neauth"
	searchPath = "/api_v1_receiveorder_base/search"
	updatePath = "/api_v1_receiveorder_base/update"

	// The backend nominally issues 24-hour tokens; treat them as expired an
	// hour early so a token never dies mid-call.
	tokenLifetime     = 24 * time.Hour
	tokenSafetyMargin = time.Hour

	requestTimeout = 10 * time.Second

	// identifyOrderLimit caps how many orders ride along in the
	// identification context; it has to stay small enough for a base64 XML
	// parameter.
	identifyOrderLimit = 5

	defaultSearchLimit = 10
)

// ErrTokenRefresh marks a failed access-token refresh. Callers on the
// identification path degrade to an unknown-caller context instead of
// failing the call.
var ErrTokenRefresh = errors.New("orderapi: token refresh failed")

// errAuthExpired signals that the backend rejected the current access token.
// The request layer refreshes once and retries once.
var errAuthExpired = errors.New("orderapi: access token rejected")

// errSchema marks a response body that did not parse. Search treats it as an
// empty result rather than an error so one malformed payload cannot take
// down a live call.
var errSchema = errors.New("orderapi: malformed response")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the backend base URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger sets the logger used for degraded-path warnings.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client is the process-wide order-backend client. It is safe for concurrent
// use: the access token is guarded by a mutex and only one refresh is in
// flight at a time — other callers block on the refresh and reuse its result.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpc        *http.Client
	log          *slog.Logger
	now          func() time.Time

	mu           sync.Mutex
	refreshToken string
	accessToken  string
	tokenExp     time.Time
}

// New creates a backend client from OAuth-style credentials.
func New(clientID, clientSecret, refreshToken string, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		baseURL:      defaultBaseURL,
		httpc:        &http.Client{Timeout: requestTimeout},
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "orderapi")
	return c
}

// SearchByPhone looks up the caller by dialed number and builds the
// identification context for the call. Lookup failures are folded into the
// context (found=false, error=true) — identification is never fatal.
func (c *Client) SearchByPhone(ctx context.Context, number string) IdentificationContext {
	normalized := NormalizePhone(number)
	if normalized == "" {
		return UnknownContext(false)
	}

	orders, err := c.SearchOrders(ctx, SearchQuery{Phone: normalized, Limit: identifyOrderLimit})
	if err != nil {
		c.log.Warn("caller lookup failed", "error", err)
		return UnknownContext(true)
	}
	if len(orders) == 0 {
		return UnknownContext(false)
	}
	return KnownContext(orders[0].CustomerName, orders)
}

// SearchQuery filters SearchOrders. At least one of Phone or OrderID must be
// set; Phone matches as a substring after normalization, OrderID exactly.
type SearchQuery struct {
	Phone   string
	OrderID string
	Limit   int
}

// SearchOrders returns orders matching the query, newest first (backend
// ordering).
func (c *Client) SearchOrders(ctx context.Context, q SearchQuery) ([]Order, error) {
	if q.Phone == "" && q.OrderID == "" {
		return nil, fmt.Errorf("orderapi: search: phone or order id required")
	}

	cond := url.Values{}
	if q.Phone != "" {
		cond.Set("receive_order_purchaser_tel-like", "%"+NormalizePhone(q.Phone)+"%")
	}
	if q.OrderID != "" {
		cond.Set("receive_order_id-eq", q.OrderID)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	rows, err := c.searchRows(ctx, cond, limit)
	if err != nil {
		return nil, err
	}
	return groupRows(rows), nil
}

// GetOrder fetches a single order by id. Returns (nil, nil) when the order
// does not exist.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	orders, err := c.SearchOrders(ctx, SearchQuery{OrderID: orderID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

// RegisterReturn records an accepted return against the order by appending a
// structured line to its note column. The return id is generated locally;
// the backend has no first-class return entity.
func (c *Client) RegisterReturn(ctx context.Context, req ReturnRequest) (ReturnResult, error) {
	if req.OrderID == "" {
		return ReturnResult{}, fmt.Errorf("orderapi: register return: order id required")
	}
	if !req.Reason.IsValid() || !req.Condition.IsValid() || !req.Request.IsValid() {
		return ReturnResult{}, fmt.Errorf("orderapi: register return: invalid request for order %s", req.OrderID)
	}

	order, err := c.GetOrder(ctx, req.OrderID)
	if err != nil {
		return ReturnResult{}, err
	}
	if order == nil {
		return ReturnResult{Message: "対象のご注文が見つかりませんでした。"}, nil
	}

	returnID := c.newReturnID()
	note := returnNote(order.Note, returnID, req, c.now())

	form := url.Values{}
	form.Set("receive_order_id", req.OrderID)
	form.Set("receive_order_note", note)
	if err := c.authedPost(ctx, updatePath, form); err != nil {
		return ReturnResult{}, fmt.Errorf("orderapi: register return: %w", err)
	}

	return ReturnResult{
		Success:  true,
		ReturnID: returnID,
		Message:  fmt.Sprintf("返品を受け付けました。受付番号は%sです。", returnID),
	}, nil
}

// newReturnID generates a short, date-prefixed return identifier.
func (c *Client) newReturnID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("RET-%s-%s", c.now().Format("20060102"), id)
}

// returnNote appends the return record to the existing order note.
func returnNote(existing, returnID string, req ReturnRequest, now time.Time) string {
	line := fmt.Sprintf("【返品受付 %s】受付番号:%s 理由:%s 状態:%s 希望:%s",
		now.Format("2006-01-02"), returnID, req.Reason, req.Condition, req.Request)
	if req.Description != "" {
		line += " 備考:" + req.Description
	}
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}

// ── Wire protocol ──────────────────────────────────────────────────────────────

// apiEnvelope is the backend's uniform response shape. Count is a string on
// some endpoints and a number on others; the client derives counts from Data
// instead.
type apiEnvelope struct {
	Result  string          `json:"result"`
	Message string          `json:"message,omitempty"`
	Count   json.RawMessage `json:"count,omitempty"`
	Data    []orderRow      `json:"data,omitempty"`
}

// orderRow is one row of the search endpoint: order columns plus a single
// line item. All values are strings on the wire.
type orderRow struct {
	OrderID       string `json:"receive_order_id"`
	OrderDate     string `json:"receive_order_date"`
	CustomerName  string `json:"receive_order_purchaser_name"`
	CustomerEmail string `json:"receive_order_purchaser_mail_address"`
	CustomerPhone string `json:"receive_order_purchaser_tel"`
	StatusCode    string `json:"receive_order_order_status_id"`
	ShippedDate   string `json:"receive_order_send_date"`
	DeliveryName  string `json:"receive_order_delivery_name"`
	TrackingNo    string `json:"receive_order_delivery_cut_form_id"`
	TotalAmount   string `json:"receive_order_total_amount"`
	StoreID       string `json:"receive_order_shop_id"`
	Note          string `json:"receive_order_note"`
	GoodsName     string `json:"receive_order_row_goods_name"`
	GoodsQty      string `json:"receive_order_row_quantity"`
	GoodsPrice    string `json:"receive_order_row_unit_price"`
}

// searchFields is the column list requested from the search endpoint.
var searchFields = strings.Join([]string{
	"receive_order_id",
	"receive_order_date",
	"receive_order_purchaser_name",
	"receive_order_purchaser_mail_address",
	"receive_order_purchaser_tel",
	"receive_order_order_status_id",
	"receive_order_send_date",
	"receive_order_delivery_name",
	"receive_order_delivery_cut_form_id",
	"receive_order_total_amount",
	"receive_order_shop_id",
	"receive_order_note",
	"receive_order_row_goods_name",
	"receive_order_row_quantity",
	"receive_order_row_unit_price",
}, ",")

type tokenResponse struct {
	Result       string `json:"result"`
	Message      string `json:"message,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// searchRows runs a search, refreshing the token and retrying exactly once
// when the backend rejects it.
func (c *Client) searchRows(ctx context.Context, cond url.Values, limit int) ([]orderRow, error) {
	rows, err := c.searchOnce(ctx, cond, limit)
	if errors.Is(err, errAuthExpired) {
		c.invalidateToken()
		rows, err = c.searchOnce(ctx, cond, limit)
	}
	if errors.Is(err, errSchema) {
		c.log.Warn("search response did not parse, treating as empty", "error", err)
		return nil, nil
	}
	return rows, err
}

func (c *Client) searchOnce(ctx context.Context, cond url.Values, limit int) ([]orderRow, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	for k, vs := range cond {
		for _, v := range vs {
			form.Add(k, v)
		}
	}
	form.Set("access_token", tok)
	form.Set("fields", searchFields)
	form.Set("limit", strconv.Itoa(limit))

	var env apiEnvelope
	if err := c.postForm(ctx, searchPath, form, &env); err != nil {
		return nil, err
	}
	if env.Result != "success" {
		if isAuthMessage(env.Message) {
			return nil, errAuthExpired
		}
		return nil, fmt.Errorf("orderapi: search: backend error: %s", env.Message)
	}
	return env.Data, nil
}

// authedPost issues a form POST that carries the access token, with the same
// refresh-and-retry-once behavior as search.
func (c *Client) authedPost(ctx context.Context, path string, form url.Values) error {
	err := c.authedPostOnce(ctx, path, form)
	if errors.Is(err, errAuthExpired) {
		c.invalidateToken()
		err = c.authedPostOnce(ctx, path, form)
	}
	return err
}

func (c *Client) authedPostOnce(ctx context.Context, path string, form url.Values) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	authed := url.Values{}
	for k, vs := range form {
		for _, v := range vs {
			authed.Add(k, v)
		}
	}
	authed.Set("access_token", tok)

	var env apiEnvelope
	if err := c.postForm(ctx, path, authed, &env); err != nil {
		return err
	}
	if env.Result != "success" {
		if isAuthMessage(env.Message) {
			return errAuthExpired
		}
		return fmt.Errorf("backend error: %s", env.Message)
	}
	return nil
}

// token returns a valid access token, refreshing it when absent or inside
// the expiry safety margin. The mutex is held across the refresh so
// concurrent callers block and then reuse the fresh token.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExp) {
		return c.accessToken, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return "", err
	}
	return c.accessToken, nil
}

// refreshLocked exchanges the refresh token for a new access token. Caller
// must hold c.mu.
func (c *Client) refreshLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", c.refreshToken)

	var tr tokenResponse
	if err := c.postForm(ctx, tokenPath, form, &tr); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}
	if tr.Result == "error" || tr.AccessToken == "" {
		return fmt.Errorf("%w: %s", ErrTokenRefresh, tr.Message)
	}

	c.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		c.refreshToken = tr.RefreshToken
	}
	lifetime := tokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	c.tokenExp = c.now().Add(lifetime - tokenSafetyMargin)
	return nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

// postForm issues a form-encoded POST and decodes the JSON response into v.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("orderapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("orderapi: %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errAuthExpired
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("orderapi: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("orderapi: read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", errSchema, err)
	}
	return nil
}

// isAuthMessage reports whether a backend error message indicates a rejected
// or expired access token.
func isAuthMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "access token") || strings.Contains(m, "アクセストークン")
}

// groupRows folds line-item rows into Orders, preserving backend order.
func groupRows(rows []orderRow) []Order {
	var orders []Order
	index := make(map[string]int)

	for _, r := range rows {
		if r.OrderID == "" {
			continue
		}
		item, hasItem := rowItem(r)
		if i, ok := index[r.OrderID]; ok {
			if hasItem {
				orders[i].Items = append(orders[i].Items, item)
			}
			continue
		}

		o := Order{
			OrderID:        r.OrderID,
			CustomerName:   r.CustomerName,
			CustomerEmail:  r.CustomerEmail,
			CustomerPhone:  NormalizePhone(r.CustomerPhone),
			Status:         MapStatus(r.StatusCode),
			OrderDate:      r.OrderDate,
			ShippedDate:    r.ShippedDate,
			Carrier:        carrierOrEmpty(r.DeliveryName),
			TrackingNumber: r.TrackingNo,
			TotalAmount:    parseAmount(r.TotalAmount),
			Platform:       InferPlatform(r.StoreID),
			Note:           r.Note,
		}
		if hasItem {
			o.Items = append(o.Items, item)
		}
		index[r.OrderID] = len(orders)
		orders = append(orders, o)
	}
	return orders
}

func rowItem(r orderRow) (OrderItem, bool) {
	if r.GoodsName == "" {
		return OrderItem{}, false
	}
	qty := parseAmount(r.GoodsQty)
	if qty == 0 {
		qty = 1
	}
	return OrderItem{
		Name:  r.GoodsName,
		Qty:   qty,
		Price: parseAmount(r.GoodsPrice),
	}, true
}

func carrierOrEmpty(deliveryName string) string {
	if deliveryName == "" {
		return ""
	}
	return ExtractCarrier(deliveryName)
}

// parseAmount parses a numeric wire string, tolerating decimal points and
// returning 0 for anything unparseable.
func parseAmount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
