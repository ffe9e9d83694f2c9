// Package ledger implements the Position Ledger (C1): the single source of
// truth for per-symbol quantity, average entry price, and realized P&L.
//
// Grounded on pkg/types/types.go's Position shape; the averaging/flatten
// arithmetic below is new (the teacher's closest equivalent,
// execution/order_manager.go's updatePosition, folds fees into the fill
// price instead of tracking them separately and doesn't split a
// sign-flipping fill into a close + reseed the way §4.1 requires).
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// Ledger maps symbol to Position and is the engine loop's single logical
// writer. All other readers receive copy-on-read snapshots.
type Ledger struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	positions map[string]*types.Position
}

// New creates an empty ledger.
func New(logger *zap.Logger) *Ledger {
	return &Ledger{
		logger:    logger,
		positions: make(map[string]*types.Position),
	}
}

// Get returns the current position for symbol, or a flat zero-value position.
func (l *Ledger) Get(symbol string) types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.positions[symbol]; ok {
		return *p
	}
	return types.Position{Symbol: symbol, Quantity: decimal.Zero}
}

// Snapshot returns a copy of every tracked position, keyed by symbol.
func (l *Ledger) Snapshot() map[string]types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]types.Position, len(l.positions))
	for sym, p := range l.positions {
		out[sym] = *p
	}
	return out
}

// signedQty converts a fill into a signed quantity delta: buys increase
// exposure, sells decrease it.
func signedQty(side types.OrderSide, qty decimal.Decimal) decimal.Decimal {
	if side == types.OrderSideSell {
		return qty.Neg()
	}
	return qty
}

// Apply applies a fill to the ledger and returns any P&L realized by the
// fill (zero unless the fill closes or flips an existing position).
//
// Averaging rule (§4.1): adding to a position with the same sign updates
// the weighted average entry price; a fill that flips the sign realizes
// P&L on the closed portion and reseeds the entry price for the residual
// at the fill price. Entry time resets only on a flat -> non-flat
// transition.
func (l *Ledger) Apply(side types.OrderSide, symbol string, qty, price decimal.Decimal, mode types.TradingMode, at time.Time) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	delta := signedQty(side, qty)
	pos, ok := l.positions[symbol]
	if !ok || pos == nil {
		pos = &types.Position{Symbol: symbol, Quantity: decimal.Zero, TradingMode: mode}
		l.positions[symbol] = pos
	}

	var realized decimal.Decimal
	wasFlat := pos.Quantity.IsZero()
	sameSign := pos.Quantity.Sign() == 0 || pos.Quantity.Sign() == delta.Sign()

	switch {
	case wasFlat:
		pos.Quantity = delta
		pos.AvgEntryPrice = price
		t := at
		pos.EntryTime = &t

	case sameSign:
		oldQty := pos.Quantity
		newQty := oldQty.Add(delta)
		pos.Quantity = newQty
		if !newQty.IsZero() {
			num := oldQty.Mul(pos.AvgEntryPrice).Add(delta.Mul(price))
			pos.AvgEntryPrice = num.Div(newQty)
		}
		// entry time preserved when adding to the same direction.

	default:
		// Opposing fill: it closes up to |oldQty| and may flip the residual.
		oldQty := pos.Quantity
		closedQty := decimal.Min(oldQty.Abs(), delta.Abs())
		// P&L per closed share: for a long position being sold down,
		// (price - avgEntry); for a short being bought back, (avgEntry - price).
		if oldQty.IsPositive() {
			realized = closedQty.Mul(price.Sub(pos.AvgEntryPrice))
		} else {
			realized = closedQty.Mul(pos.AvgEntryPrice.Sub(price))
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)

		newQty := oldQty.Add(delta)
		pos.Quantity = newQty
		switch {
		case newQty.IsZero():
			pos.AvgEntryPrice = decimal.Zero
			pos.EntryTime = nil
		case newQty.Sign() != oldQty.Sign():
			// flipped: reseed entry at the fill price for the residual.
			pos.AvgEntryPrice = price
			t := at
			pos.EntryTime = &t
		default:
			// partially closed, same sign, avg entry unchanged.
		}
	}

	l.logger.Debug("ledger applied fill",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("qty", qty.String()),
		zap.String("newQty", pos.Quantity.String()),
		zap.String("realized", realized.String()),
	)

	return realized
}

// Flatten closes the entire position at atPrice, producing exactly one
// realized P&L entry, and returns that P&L.
func (l *Ledger) Flatten(symbol string, atPrice decimal.Decimal, reason string, at time.Time) (decimal.Decimal, error) {
	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok || pos == nil || pos.Quantity.IsZero() {
		l.mu.Unlock()
		return decimal.Zero, fmt.Errorf("ledger: flatten %s: no open position", symbol)
	}
	qty := pos.Quantity
	avgEntry := pos.AvgEntryPrice
	l.mu.Unlock()

	var realized decimal.Decimal
	if qty.IsPositive() {
		realized = qty.Mul(atPrice.Sub(avgEntry))
	} else {
		realized = qty.Abs().Mul(avgEntry.Sub(atPrice))
	}

	l.mu.Lock()
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.Quantity = decimal.Zero
	pos.AvgEntryPrice = decimal.Zero
	pos.EntryTime = nil
	l.mu.Unlock()

	l.logger.Info("ledger flattened position",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.String("realizedPnl", realized.String()),
	)
	return realized, nil
}

// UnrealizedPnL computes the mark-to-market P&L of symbol's open position at mark.
func (l *Ledger) UnrealizedPnL(symbol string, mark decimal.Decimal) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok || pos == nil || pos.Quantity.IsZero() {
		return decimal.Zero
	}
	return pos.Quantity.Mul(mark.Sub(pos.AvgEntryPrice))
}
