// Package execution implements the Execution Router (C6): method
// selection (immediate/TWAP/delayed), TWAP chunk scheduling, and the
// retry-with-cash-reduction loop used for every chunk/order attempt.
//
// Grounded on the teacher's executor.go Execute pipeline (kill switch
// check, validate, price check, risk check, place-with-retry, audit log)
// and order_manager.go's OrderStatus/ManagedOrder shape; the retry loop
// itself is rewritten on top of pkg/utils.Retry/RetryConfig (already
// generic exponential backoff in the teacher's own utils package, unused
// by its own executor, which instead used a fixed time.Sleep between
// attempts).
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/bridge"
	"github.com/DreamFulFil/atrader/pkg/types"
	"github.com/DreamFulFil/atrader/pkg/utils"
)

// Method is the execution method chosen by the router for one order.
type Method string

const (
	MethodImmediate Method = "immediate"
	MethodTWAP      Method = "twap"
	MethodDelayed   Method = "delayed"
)

// Status is the terminal or in-flight status of a routed order.
type Status string

const (
	StatusFilled    Status = "filled"
	StatusPartial   Status = "partial_fill"
	StatusAbandoned Status = "abandoned"
	StatusTimeout   Status = "timeout"
)

// twapChunkTable maps a quantity threshold to its chunk count, per §4.6.
var twapChunkTable = []struct {
	minQuantity int64
	chunks      int
}{
	{500, 7},
	{200, 5},
	{100, 3},
}

func chunksFor(quantity int64) int {
	for _, row := range twapChunkTable {
		if quantity >= row.minQuantity {
			return row.chunks
		}
	}
	return 1
}

func twapWindow(quantity int64, volatilityPct decimal.Decimal) time.Duration {
	minutes := 10 + 2*(quantity/100)
	if volatilityPct.GreaterThan(decimal.NewFromFloat(0.03)) {
		minutes += 5
	}
	if minutes < 10 {
		minutes = 10
	}
	if minutes > 30 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

// AuditRecord captures one execution attempt outcome, successful or not.
type AuditRecord struct {
	Symbol    string
	Attempt   int
	Quantity  int64
	Outcome   string // "success" | "retry" | "abandon"
	Reason    string
	Timestamp time.Time
}

// Request describes the order the router must place.
type Request struct {
	Symbol        string
	Side          types.OrderSide
	Quantity      int64
	Price         decimal.Decimal
	IsExit        bool
	Emergency     bool
	VolatilityPct decimal.Decimal
}

// Result is the outcome of routing and executing a Request.
type Result struct {
	Method   Method
	Status   Status
	Fills    []types.Fill
	Audit    []AuditRecord
}

// Router decides method and drives chunked/retried execution against the
// bridge.
type Router struct {
	logger *zap.Logger
	bridge *bridge.Client

	mu    sync.Mutex
	audit []AuditRecord
}

// New constructs a Router.
func New(logger *zap.Logger, client *bridge.Client) *Router {
	return &Router{logger: logger, bridge: client}
}

// SelectMethod implements §4.6's method-selection policy.
func (r *Router) SelectMethod(req Request) Method {
	switch {
	case req.Emergency:
		return MethodImmediate
	case req.IsExit:
		return MethodImmediate
	case req.Quantity >= 100:
		return MethodTWAP
	default:
		return MethodImmediate
	}
}

// Execute routes and executes req, selecting immediate or TWAP per policy.
func (r *Router) Execute(ctx context.Context, req Request) Result {
	method := r.SelectMethod(req)
	switch method {
	case MethodTWAP:
		return r.executeTWAP(ctx, req)
	default:
		fill, status, audit := r.executeChunk(ctx, req.Symbol, req.Side, req.Quantity, req.Price, req.IsExit)
		result := Result{Method: method, Status: status, Audit: audit}
		if fill != nil {
			result.Fills = append(result.Fills, *fill)
		}
		return result
	}
}

// executeTWAP splits the order into evenly-spaced chunks across the §4.6
// window formula. Missed chunks are logged, not retried; a 1-minute buffer
// past the window produces a TIMEOUT terminal status for any unfilled
// remainder.
func (r *Router) executeTWAP(ctx context.Context, req Request) Result {
	chunks := chunksFor(req.Quantity)
	window := twapWindow(req.Quantity, req.VolatilityPct)
	interval := window / time.Duration(chunks)

	baseQty := req.Quantity / int64(chunks)
	remainder := req.Quantity % int64(chunks)

	result := Result{Method: MethodTWAP}
	deadline := time.Now().Add(window + time.Minute)

	for i := 0; i < chunks; i++ {
		qty := baseQty
		if i == chunks-1 {
			qty += remainder
		}
		if qty <= 0 {
			continue
		}

		if time.Now().After(deadline) {
			result.Status = StatusTimeout
			r.record(req.Symbol, i+1, qty, "abandon", "TWAP window exceeded")
			break
		}

		fill, status, audit := r.executeChunk(ctx, req.Symbol, req.Side, qty, req.Price, req.IsExit)
		result.Audit = append(result.Audit, audit...)
		if fill != nil {
			result.Fills = append(result.Fills, *fill)
		}
		if status == StatusAbandoned {
			r.logger.Warn("TWAP chunk missed, not retried", zap.String("symbol", req.Symbol), zap.Int("chunk", i+1))
			continue
		}

		if i < chunks-1 {
			select {
			case <-ctx.Done():
				result.Status = StatusTimeout
				return result
			case <-time.After(interval):
			}
		}
	}

	if result.Status == "" {
		if len(result.Fills) == chunks {
			result.Status = StatusFilled
		} else {
			result.Status = StatusPartial
		}
	}
	return result
}

// executeChunk places a single chunk/order with up to 3 attempts in total and
// exponential backoff (pkg/utils.Retry), re-querying available cash on each
// retry and shrinking the requested quantity to the largest feasible
// integer ≥ 1 when funds are insufficient.
func (r *Router) executeChunk(ctx context.Context, symbol string, side types.OrderSide, quantity int64, price decimal.Decimal, isExit bool) (*types.Fill, Status, []AuditRecord) {
	var audit []AuditRecord
	qty := quantity

	retryCfg := utils.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	attempt := 0
	fill, err := utils.Retry(retryCfg, func() (*types.Fill, error) {
		attempt++
		if qty < 1 {
			return nil, fmt.Errorf("execution: no feasible quantity remaining for %s", symbol)
		}

		resp, err := r.bridge.PlaceOrder(ctx, symbol, side, qty, price, isExit)
		if err != nil {
			r.record(symbol, attempt, qty, "retry", err.Error())
			audit = append(audit, r.lastRecord())
			return nil, err
		}
		if resp.Error != "" {
			adjusted := r.adjustForInsufficientFunds(ctx, qty, price)
			if adjusted < 1 {
				r.record(symbol, attempt, qty, "abandon", resp.Error)
				audit = append(audit, r.lastRecord())
				return nil, fmt.Errorf("execution: abandoning %s: %s", symbol, resp.Error)
			}
			qty = adjusted
			r.record(symbol, attempt, qty, "retry", resp.Error)
			audit = append(audit, r.lastRecord())
			return nil, fmt.Errorf("execution: %s", resp.Error)
		}
		if !resp.Filled {
			r.record(symbol, attempt, qty, "retry", "order not filled")
			audit = append(audit, r.lastRecord())
			return nil, fmt.Errorf("execution: order not filled")
		}

		r.record(symbol, attempt, qty, "success", "")
		audit = append(audit, r.lastRecord())
		return &types.Fill{
			OrderRef:    fmt.Sprintf("%s-%d", symbol, time.Now().UnixNano()),
			FilledQty:   decimal.NewFromInt(qty),
			FilledPrice: price,
			Timestamp:   time.Now(),
		}, nil
	})

	if err != nil {
		return nil, StatusAbandoned, audit
	}
	return fill, StatusFilled, audit
}

// adjustForInsufficientFunds re-queries the bridge's available cash and
// returns the largest feasible integer quantity ≥ 0 given price.
func (r *Router) adjustForInsufficientFunds(ctx context.Context, requested int64, price decimal.Decimal) int64 {
	portfolio, err := r.bridge.GetPortfolio(ctx)
	if err != nil || price.IsZero() {
		return 0
	}
	feasible := portfolio.AvailableMargin.Div(price).IntPart()
	if feasible > requested-1 {
		feasible = requested - 1
	}
	if feasible < 0 {
		feasible = 0
	}
	return feasible
}

func (r *Router) record(symbol string, attempt int, quantity int64, outcome, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := AuditRecord{Symbol: symbol, Attempt: attempt, Quantity: quantity, Outcome: outcome, Reason: reason, Timestamp: time.Now()}
	r.audit = append(r.audit, rec)
	r.logger.Info("execution attempt",
		zap.String("symbol", symbol), zap.Int("attempt", attempt),
		zap.Int64("quantity", quantity), zap.String("outcome", outcome), zap.String("reason", reason))
}

func (r *Router) lastRecord() AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audit[len(r.audit)-1]
}

// Audit returns every recorded attempt since startup.
func (r *Router) Audit() []AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditRecord, len(r.audit))
	copy(out, r.audit)
	return out
}
