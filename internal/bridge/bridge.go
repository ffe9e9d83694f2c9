// Package bridge implements the brokerage bridge HTTP client (§6): quotes,
// order book, order placement, batch history download, and portfolio
// snapshot endpoints exposed by the external brokerage bridge process.
//
// Grounded on internal/execution/adapters/binance.go's shape (a typed
// client wrapping one venue's REST API, constructed with *zap.Logger plus
// base URL, methods returning typed results or a wrapped error) — rewritten
// against the bridge's bespoke JSON contract rather than Binance's, since
// none of the teacher's adapter bodies (signing, rate limiting, WS
// streams) apply to this bridge.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// Client talks to the brokerage bridge over HTTP.
type Client struct {
	logger     *zap.Logger
	baseURL    string
	httpClient *http.Client
}

// New constructs a bridge Client. baseURL should not have a trailing slash.
func New(logger *zap.Logger, baseURL string) *Client {
	return &Client{
		logger:  logger,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SignalResponse is the decoded body of GET /signal.
type SignalResponse struct {
	Direction    string          `json:"direction"`
	Confidence   decimal.Decimal `json:"confidence"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	ExitSignal   bool            `json:"exit_signal,omitempty"`
}

// GetSignal fetches the bridge's current directional signal.
func (c *Client) GetSignal(ctx context.Context) (SignalResponse, error) {
	var out SignalResponse
	err := c.doJSON(ctx, http.MethodGet, "/signal", nil, &out)
	return out, err
}

// Tick is one entry in the /stream/quotes response.
type Tick struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
}

// GetQuotes fetches the last limit ticks, newest first.
func (c *Client) GetQuotes(ctx context.Context, limit int) ([]Tick, error) {
	var out []Tick
	path := fmt.Sprintf("/stream/quotes?limit=%d", limit)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// OrderBookLevel is one price/volume level.
type OrderBookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// OrderBook is the decoded body of GET /orderbook/{symbol}.
type OrderBook struct {
	Bids []OrderBookLevel `json:"bids"`
	Asks []OrderBookLevel `json:"asks"`
	Ts   time.Time        `json:"ts"`
}

// GetOrderBook fetches the top 5 levels for symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (OrderBook, error) {
	var out OrderBook
	path := fmt.Sprintf("/orderbook/%s", symbol)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Subscribe subscribes the bridge's tick stream to symbol.
func (c *Client) Subscribe(ctx context.Context, symbol string) error {
	body := map[string]string{"symbol": symbol}
	var out map[string]interface{}
	return c.doJSON(ctx, http.MethodPost, "/stream/subscribe", body, &out)
}

// orderRequest mirrors POST /order's body exactly: quantity is the only
// field the bridge requires as a string integer (§6's bit-exact
// compatibility requirement). Price is a plain float64 rather than
// decimal.Decimal because shopspring/decimal's default MarshalJSON emits
// a quoted string (decimal.MarshalJSONWithoutQuotes is false by default);
// the bridge's contract wants `price` as a JSON number, so the decimal is
// converted at the edge instead of flipping that global for every other
// decimal value this process serializes.
type orderRequest struct {
	Action   string  `json:"action"`
	Quantity string  `json:"quantity"`
	Price    float64 `json:"price"`
	Symbol   string  `json:"symbol"`
	IsExit   bool    `json:"is_exit"`
}

// OrderResponse is either a successful fill marker or a bridge error body.
type OrderResponse struct {
	Filled bool
	Error  string
}

// PlaceOrder submits an order. quantity is serialized as a string integer
// per §6's bit-exact compatibility requirement — never as a JSON number.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side types.OrderSide, quantity int64, price decimal.Decimal, isExit bool) (OrderResponse, error) {
	action := "BUY"
	if side == types.OrderSideSell {
		action = "SELL"
	}
	req := orderRequest{
		Action:   action,
		Quantity: fmt.Sprintf("%d", quantity),
		Price:    price.InexactFloat64(),
		Symbol:   symbol,
		IsExit:   isExit,
	}

	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/order", req, &raw); err != nil {
		return OrderResponse{}, err
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return OrderResponse{Filled: asString == "order_filled"}, nil
	}

	var asError struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &asError); err == nil && asError.Error != "" {
		return OrderResponse{Error: asError.Error}, nil
	}

	return OrderResponse{}, fmt.Errorf("bridge: unrecognized /order response: %s", string(raw))
}

// HistoryBar is one bar in a /data/download-batch response.
type HistoryBar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// DownloadBatch fetches historical bars for symbol between start and end.
func (c *Client) DownloadBatch(ctx context.Context, symbol string, start, end time.Time) ([]HistoryBar, error) {
	req := map[string]string{
		"symbol":     symbol,
		"start_date": start.Format(time.RFC3339),
		"end_date":   end.Format(time.RFC3339),
	}
	var out struct {
		Data []HistoryBar `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/data/download-batch", req, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// PortfolioResponse is the decoded body of GET /portfolio.
type PortfolioResponse struct {
	Equity          decimal.Decimal   `json:"equity"`
	AvailableMargin decimal.Decimal   `json:"available_margin"`
	Positions       []PortfolioPosition `json:"positions"`
}

// PortfolioPosition is one entry in PortfolioResponse.Positions.
type PortfolioPosition struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// GetPortfolio fetches the bridge's current equity/margin/positions snapshot.
func (c *Client) GetPortfolio(ctx context.Context) (PortfolioResponse, error) {
	var out PortfolioResponse
	err := c.doJSON(ctx, http.MethodGet, "/portfolio", nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bridge: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bridge: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bridge: decode response %s %s: %w", method, path, err)
	}
	return nil
}
