// Package marketdata feeds the Trading Engine Loop's Position Sizer inputs:
// average daily volume, average true range, and rolling trade statistics,
// none of which the bridge or the ledger expose on their own. The rolling
// buffer/trim idiom is carried over from the strategy package's builtin
// strategies (momentumStrategy, meanReversionStrategy).
package marketdata

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/DreamFulFil/atrader/pkg/types"
)

const (
	advWindow = 20
	atrWindow = 14
)

type symbolState struct {
	bars   []types.Bar
	trades []decimal.Decimal // realized P&L per closed trade, oldest first
}

// Tracker maintains per-symbol rolling bar and trade history, implementing
// engine.MarketData.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*symbolState
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{states: make(map[string]*symbolState)}
}

func (t *Tracker) state(symbol string) *symbolState {
	s, ok := t.states[symbol]
	if !ok {
		s = &symbolState{}
		t.states[symbol] = s
	}
	return s
}

// OnBar records a new bar for symbol, trimming the retained history to the
// widest window any computation below needs.
func (t *Tracker) OnBar(bar types.Bar) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(bar.Symbol)
	s.bars = append(s.bars, bar)
	window := advWindow
	if atrWindow > window {
		window = atrWindow
	}
	if len(s.bars) > window {
		s.bars = s.bars[len(s.bars)-window:]
	}
}

// OnTradeClosed records a trade's realized P&L for symbol, trimming to the
// last 50 trades so TradeStats reflects recent performance, not lifetime.
func (t *Tracker) OnTradeClosed(symbol string, realizedPnL decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(symbol)
	s.trades = append(s.trades, realizedPnL)
	if len(s.trades) > 50 {
		s.trades = s.trades[len(s.trades)-50:]
	}
}

// ADV returns the average traded volume over the retained bar window.
func (t *Tracker) ADV(symbol string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.states[symbol]
	if s == nil || len(s.bars) == 0 {
		return decimal.Zero
	}
	n := advWindow
	if len(s.bars) < n {
		n = len(s.bars)
	}
	recent := s.bars[len(s.bars)-n:]
	sum := decimal.Zero
	for _, b := range recent {
		sum = sum.Add(b.Volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(recent))))
}

// ATR returns the average true range over the retained bar window, using
// the standard max(high-low, |high-prevClose|, |low-prevClose|) formula.
func (t *Tracker) ATR(symbol string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.states[symbol]
	if s == nil || len(s.bars) < 2 {
		return decimal.Zero
	}
	n := atrWindow
	if len(s.bars)-1 < n {
		n = len(s.bars) - 1
	}
	recent := s.bars[len(s.bars)-n-1:]
	sum := decimal.Zero
	for i := 1; i < len(recent); i++ {
		hl := recent[i].High.Sub(recent[i].Low).Abs()
		hc := recent[i].High.Sub(recent[i-1].Close).Abs()
		lc := recent[i].Low.Sub(recent[i-1].Close).Abs()
		tr := hl
		if hc.GreaterThan(tr) {
			tr = hc
		}
		if lc.GreaterThan(tr) {
			tr = lc
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// TradeStats reports whether symbol has recorded trade history and, if so,
// its win rate and average win/loss magnitude, for the Position Sizer's
// Half-Kelly formula.
func (t *Tracker) TradeStats(symbol string) (have bool, winRate, avgWin, avgLoss decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.states[symbol]
	if s == nil || len(s.trades) == 0 {
		return false, decimal.Zero, decimal.Zero, decimal.Zero
	}
	var wins, losses int
	sumWin, sumLoss := decimal.Zero, decimal.Zero
	for _, pnl := range s.trades {
		if pnl.IsPositive() {
			wins++
			sumWin = sumWin.Add(pnl)
		} else if pnl.IsNegative() {
			losses++
			sumLoss = sumLoss.Add(pnl.Abs())
		}
	}
	total := decimal.NewFromInt(int64(len(s.trades)))
	winRate = decimal.NewFromInt(int64(wins)).Div(total)
	if wins > 0 {
		avgWin = sumWin.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		avgLoss = sumLoss.Div(decimal.NewFromInt(int64(losses)))
	}
	return true, winRate, avgWin, avgLoss
}
