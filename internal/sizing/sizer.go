// Package sizing implements the Position Sizer (C4): Half-Kelly / ATR /
// fixed-risk share sizing with a 10%-of-equity hard cap.
//
// Grounded on internal/sizing/position_sizer.go's calculateKelly
// (f* = p - q/b, b = avgWin/avgLoss) and DefaultSizingConfig shape; the
// selection policy and hard caps are rewritten to match §4.4 exactly
// (the teacher's sizer always ran Kelly when trade history existed and
// applied a single global cap fraction, rather than falling through
// Kelly -> ATR -> fixed in order).
package sizing

import (
	"github.com/shopspring/decimal"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// Method names the sizing method that was used for a request.
type Method string

const (
	MethodHalfKelly  Method = "half_kelly"
	MethodATR        Method = "atr"
	MethodFixedRisk  Method = "fixed_risk"
)

// MaxPositionPct is the hard cap on position value as a fraction of equity.
var MaxPositionPct = decimal.NewFromFloat(0.10)

// ATRMultiplier scales ATR into a per-share risk distance for ATR sizing.
var ATRMultiplier = decimal.NewFromFloat(2.0)

// Request carries every optional input the selection policy considers.
type Request struct {
	Equity       decimal.Decimal
	Price        decimal.Decimal
	RiskPct      decimal.Decimal // fraction of equity risked per trade, e.g. 0.01
	LotType      types.LotType

	HaveTradeStats bool
	WinRate        decimal.Decimal
	AvgWin         decimal.Decimal
	AvgLoss        decimal.Decimal

	ATR decimal.Decimal // zero/unset means "no ATR available"
}

// Result is the sizer's output.
type Result struct {
	Shares    int64
	Method    Method
	Reasoning string
}

// Calculate applies the Half-Kelly -> ATR -> fixed-risk selection policy
// from §4.4 and the hard caps (shares >= 1, shares*price <= 10% equity).
func Calculate(req Request) Result {
	var shares decimal.Decimal
	var method Method
	var reasoning string

	switch {
	case req.HaveTradeStats && req.AvgLoss.IsPositive():
		f := kellyFraction(req.WinRate, req.AvgWin, req.AvgLoss)
		full := req.Equity.Mul(f).Div(req.Price).Floor()
		shares = full.Div(decimal.NewFromInt(2)).Floor()
		method = MethodHalfKelly
		reasoning = "half-Kelly sizing from historical win rate / avg win / avg loss"

	case req.ATR.IsPositive():
		riskAmount := req.Equity.Mul(req.RiskPct)
		perShareRisk := req.ATR.Mul(ATRMultiplier)
		shares = riskAmount.Div(perShareRisk).Floor()
		method = MethodATR
		reasoning = "ATR-based sizing from volatility-scaled risk budget"

	default:
		shares = req.Equity.Mul(req.RiskPct).Div(req.Price).Floor()
		method = MethodFixedRisk
		reasoning = "fixed-risk sizing, no trade history or ATR available"
	}

	shares = applyLotRounding(shares, req.LotType)
	shares = applyCaps(shares, req.Equity, req.Price)

	return Result{
		Shares:    shares.IntPart(),
		Method:    method,
		Reasoning: reasoning,
	}
}

// kellyFraction computes f* = max(0, min(cap, (b*p - q)/b)), the full
// (not yet halved) Kelly fraction from §4.4.
func kellyFraction(winRate, avgWin, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return decimal.Zero
	}
	b := avgWin.Div(avgLoss)
	p := winRate
	q := decimal.NewFromInt(1).Sub(winRate)

	f := b.Mul(p).Sub(q).Div(b)
	if f.IsNegative() {
		f = decimal.Zero
	}
	cap := decimal.NewFromFloat(1.0)
	if f.GreaterThan(cap) {
		f = cap
	}
	return f
}

func applyLotRounding(shares decimal.Decimal, lot types.LotType) decimal.Decimal {
	if lot != types.LotTypeRound {
		return shares
	}
	lotSize := decimal.NewFromInt(types.RoundLotSize)
	return shares.Div(lotSize).Floor().Mul(lotSize)
}

func applyCaps(shares, equity, price decimal.Decimal) decimal.Decimal {
	if shares.LessThan(decimal.NewFromInt(1)) {
		shares = decimal.NewFromInt(1)
	}
	maxValue := equity.Mul(MaxPositionPct)
	if price.IsPositive() {
		maxShares := maxValue.Div(price).Floor()
		if shares.GreaterThan(maxShares) {
			shares = maxShares
		}
	}
	if shares.LessThan(decimal.NewFromInt(1)) {
		shares = decimal.NewFromInt(1)
	}
	return shares
}
