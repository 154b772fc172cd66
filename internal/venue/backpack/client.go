// Package backpack implements venue.Adapter against the Backpack
// Exchange REST API. Signing, request construction, and response
// shapes are adapted directly from the teacher's src/backpack/client.go
// ed25519-signed client; ExchangeInfo is new, since the teacher never
// fetches lot step / tick size / min notional and the order manager
// needs them to round every submission.
package backpack

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"quantengine/internal/money"
	"quantengine/internal/venue"
)

const (
	BaseURL       = "https://api.backpack.exchange"
	DefaultWindow = 5000
	MaxWindow     = 60000
)

// Client is the ed25519-signed Backpack REST client.
type Client struct {
	apiKey     string
	privateKey ed25519.PrivateKey
	httpClient *http.Client
	baseURL    string
	window     int64

	filterCache map[string]venue.Filters
}

// New builds a Client from an already Base64-decoded API key and a
// Base64-encoded ed25519 seed, matching the teacher's NewClient.
func New(apiKey, privateKeySeed string) (*Client, error) {
	seed, err := base64.StdEncoding.DecodeString(privateKeySeed)
	if err != nil {
		return nil, fmt.Errorf("decode private key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed must be %d bytes", ed25519.SeedSize)
	}

	return &Client{
		apiKey:      apiKey,
		privateKey:  ed25519.NewKeyFromSeed(seed),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     BaseURL,
		window:      DefaultWindow,
		filterCache: make(map[string]venue.Filters),
	}, nil
}

func (c *Client) signRequest(instruction string, params map[string]string) (string, string, string) {
	timestamp := time.Now().UnixMilli()
	timestampStr := strconv.FormatInt(timestamp, 10)
	windowStr := strconv.FormatInt(c.window, 10)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}

	signString := fmt.Sprintf("instruction=%s", instruction)
	if len(parts) > 0 {
		signString += "&" + strings.Join(parts, "&")
	}
	signString += fmt.Sprintf("&timestamp=%s&window=%s", timestampStr, windowStr)

	signature := ed25519.Sign(c.privateKey, []byte(signString))
	return timestampStr, windowStr, base64.StdEncoding.EncodeToString(signature)
}

func (c *Client) doRequest(ctx context.Context, method, path, instruction string, body interface{}) ([]byte, error) {
	var reqBody []byte
	var err error
	params := make(map[string]string)

	if method == http.MethodGet || method == http.MethodDelete {
		if parsedURL, perr := url.Parse(c.baseURL + path); perr == nil {
			for k, v := range parsedURL.Query() {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}
		}
	} else if body != nil {
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		var bodyMap map[string]interface{}
		if err := json.Unmarshal(reqBody, &bodyMap); err == nil {
			for k, v := range bodyMap {
				params[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	var timestamp, window, signature string
	if instruction != "" {
		timestamp, window, signature = c.signRequest(instruction, params)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if method == http.MethodPost || method == http.MethodPatch || method == http.MethodDelete {
		req.Header.Set("Content-Type", "application/json")
	}
	if instruction != "" {
		req.Header.Set("X-Timestamp", timestamp)
		req.Header.Set("X-Window", window)
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("X-Signature", signature)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("venue request failed: status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

type marketFilter struct {
	Symbol string `json:"symbol"`
	Filters struct {
		Price struct {
			TickSize string `json:"tickSize"`
		} `json:"price"`
		Quantity struct {
			StepSize string `json:"stepSize"`
			MinQuantity string `json:"minQuantity"`
		} `json:"quantity"`
		Notional struct {
			MinNotional string `json:"minNotional"`
		} `json:"notional"`
	} `json:"filters"`
}

// ExchangeInfo fetches and caches lot step, tick size, and min notional
// for instrument. The underlying endpoint is public (no signature).
func (c *Client) ExchangeInfo(ctx context.Context, instrument string) (venue.Filters, error) {
	if f, ok := c.filterCache[instrument]; ok {
		return f, nil
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/v1/markets", "", nil)
	if err != nil {
		return venue.Filters{}, fmt.Errorf("fetch exchange info: %w", err)
	}

	var markets []marketFilter
	if err := json.Unmarshal(respBody, &markets); err != nil {
		return venue.Filters{}, fmt.Errorf("parse exchange info: %w", err)
	}

	for _, m := range markets {
		if m.Symbol != instrument {
			continue
		}
		f := venue.Filters{Instrument: instrument}
		if v, err := money.FromString(m.Filters.Quantity.StepSize); err == nil {
			f.LotStep = v
		}
		if v, err := money.FromString(m.Filters.Price.TickSize); err == nil {
			f.TickSize = v
		}
		if v, err := money.FromString(m.Filters.Notional.MinNotional); err == nil {
			f.MinNotional = v
		}
		c.filterCache[instrument] = f
		return f, nil
	}

	return venue.Filters{}, fmt.Errorf("instrument %s not found in exchange info", instrument)
}

// SetLeverage updates the account-wide leverage limit.
func (c *Client) SetLeverage(ctx context.Context, leverage int) error {
	req := map[string]string{"leverageLimit": strconv.Itoa(leverage)}
	_, err := c.doRequest(ctx, http.MethodPatch, "/api/v1/account", "accountUpdate", req)
	return err
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Price  string `json:"price"`
}

// NewOrder submits a market entry or a stop-market protective order.
func (c *Client) NewOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderAck, error) {
	side := "Bid"
	if req.Side == venue.SideSell {
		side = "Ask"
	}

	wire := orderRequest{
		Symbol:     req.Instrument,
		Side:       side,
		ReduceOnly: req.ReduceOnly,
	}

	switch req.Kind {
	case venue.KindMarket:
		wire.OrderType = "Market"
		wire.Quantity = req.Quantity.String()
		wire.TimeInForce = "IOC"
	case venue.KindStopMarket:
		wire.OrderType = "Market"
		wire.Quantity = req.Quantity.String()
		wire.TriggerPrice = req.Price.String()
		wire.ReduceOnly = true
	default:
		return venue.OrderAck{}, fmt.Errorf("unsupported order kind %q", req.Kind)
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/v1/order", "orderExecute", wire)
	if err != nil {
		return venue.OrderAck{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return venue.OrderAck{}, fmt.Errorf("parse order response: %w", err)
	}

	ack := venue.OrderAck{OrderID: resp.ID, Status: resp.Status}
	if resp.Price != "" {
		if v, err := money.FromString(resp.Price); err == nil {
			ack.FillPrice = v
		}
	}
	return ack, nil
}

// CancelOrder cancels an open order by id.
func (c *Client) CancelOrder(ctx context.Context, instrument, orderID string) error {
	req := map[string]string{"orderId": orderID, "symbol": instrument}
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/v1/order", "orderCancel", req)
	return err
}

// OpenOrders lists open orders for instrument.
func (c *Client) OpenOrders(ctx context.Context, instrument string) ([]venue.OrderAck, error) {
	path := "/api/v1/orders?symbol=" + url.QueryEscape(instrument)
	respBody, err := c.doRequest(ctx, http.MethodGet, path, "orderQueryAll", nil)
	if err != nil {
		return nil, err
	}
	var raw []orderResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("parse open orders: %w", err)
	}
	out := make([]venue.OrderAck, 0, len(raw))
	for _, r := range raw {
		out = append(out, venue.OrderAck{OrderID: r.ID, Status: r.Status})
	}
	return out, nil
}

type positionResponse struct {
	Symbol           string `json:"symbol"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	NetQuantity      string `json:"netQuantity"`
	UnrealizedPnl    string `json:"pnlUnrealized"`
	LiquidationPrice string `json:"estLiquidationPrice"`
}

// Positions fetches open positions, optionally filtered to one instrument.
func (c *Client) Positions(ctx context.Context, instrument string) ([]venue.Position, error) {
	path := "/api/v1/position"
	if instrument != "" {
		path += "?symbol=" + url.QueryEscape(instrument)
	}
	respBody, err := c.doRequest(ctx, http.MethodGet, path, "positionQuery", nil)
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return nil, nil
		}
		return nil, err
	}
	if len(respBody) == 0 {
		return nil, nil
	}

	var raw []positionResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	out := make([]venue.Position, 0, len(raw))
	for _, r := range raw {
		p := venue.Position{Instrument: r.Symbol}
		p.EntryPrice, _ = money.FromString(zeroIfEmpty(r.EntryPrice))
		p.MarkPrice, _ = money.FromString(zeroIfEmpty(r.MarkPrice))
		p.Quantity, _ = money.FromString(zeroIfEmpty(r.NetQuantity))
		p.UnrealizedPnL, _ = money.FromString(zeroIfEmpty(r.UnrealizedPnl))
		p.LiquidationPrice, _ = money.FromString(zeroIfEmpty(r.LiquidationPrice))
		out = append(out, p)
	}
	return out, nil
}

type balanceDetail struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// Balances fetches every asset balance on the account.
func (c *Client) Balances(ctx context.Context) ([]venue.Balance, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/v1/capital", "balanceQuery", nil)
	if err != nil {
		return nil, err
	}
	var raw map[string]balanceDetail
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("parse balances: %w", err)
	}
	out := make([]venue.Balance, 0, len(raw))
	for asset, d := range raw {
		b := venue.Balance{Asset: asset}
		b.Available, _ = money.FromString(zeroIfEmpty(d.Available))
		b.Locked, _ = money.FromString(zeroIfEmpty(d.Locked))
		out = append(out, b)
	}
	return out, nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

var _ venue.Adapter = (*Client)(nil)
