package strategy

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// momentumStrategy trades breakouts from a lookback-period return threshold.
// Adapted from the teacher's MomentumStrategy: the bar buffer/threshold
// logic is kept, rewritten to return a types.TradeSignal instead of a
// Signal with stop/take-profit fields (sizing and stop-loss are owned by
// the Position Sizer and Risk Gatekeeper in this design, not the strategy).
type momentumStrategy struct {
	mu         sync.Mutex
	name       string
	marketCode string
	period     int
	threshold  decimal.Decimal
	bars       []types.Bar
}

// NewMomentumStrategy constructs a momentum strategy for marketCode.
func NewMomentumStrategy(name, marketCode string, period int, threshold decimal.Decimal) Strategy {
	return &momentumStrategy{name: name, marketCode: marketCode, period: period, threshold: threshold}
}

func (s *momentumStrategy) Name() string       { return s.name }
func (s *momentumStrategy) MarketCode() string { return s.marketCode }

func (s *momentumStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = s.bars[:0]
}

func (s *momentumStrategy) Evaluate(ctx context.Context, portfolio types.Portfolio, bar types.Bar) (types.TradeSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bars = append(s.bars, bar)
	if len(s.bars) > s.period+1 {
		s.bars = s.bars[len(s.bars)-s.period-1:]
	}
	neutral := types.TradeSignal{Direction: types.DirectionNeutral, Symbol: bar.Symbol, StrategyName: s.name, Price: bar.Close, Timestamp: bar.Timestamp}
	if len(s.bars) <= s.period {
		return neutral, nil
	}

	current := s.bars[len(s.bars)-1].Close
	past := s.bars[0].Close
	if past.IsZero() {
		return neutral, nil
	}
	momentum := current.Sub(past).Div(past)

	switch {
	case momentum.GreaterThan(s.threshold):
		return types.TradeSignal{
			Direction:    types.DirectionLong,
			Confidence:   clampConfidence(momentum.Div(s.threshold)),
			Reason:       "momentum breakout above threshold",
			StrategyName: s.name,
			Symbol:       bar.Symbol,
			Price:        current,
			Timestamp:    bar.Timestamp,
		}, nil
	case momentum.LessThan(s.threshold.Neg()):
		return types.TradeSignal{
			Direction:    types.DirectionShort,
			Confidence:   clampConfidence(momentum.Abs().Div(s.threshold)),
			Reason:       "momentum breakdown below threshold",
			StrategyName: s.name,
			Symbol:       bar.Symbol,
			Price:        current,
			Timestamp:    bar.Timestamp,
		}, nil
	default:
		return neutral, nil
	}
}

// meanReversionStrategy trades reversion toward a rolling mean once price
// deviates by more than stdDevMult standard deviations. Adapted from the
// teacher's MeanReversionStrategy bookkeeping (running mean/sum-of-squares).
type meanReversionStrategy struct {
	mu         sync.Mutex
	name       string
	marketCode string
	period     int
	stdDevMult decimal.Decimal
	closes     []decimal.Decimal
}

// NewMeanReversionStrategy constructs a mean-reversion strategy for marketCode.
func NewMeanReversionStrategy(name, marketCode string, period int, stdDevMult decimal.Decimal) Strategy {
	return &meanReversionStrategy{name: name, marketCode: marketCode, period: period, stdDevMult: stdDevMult}
}

func (s *meanReversionStrategy) Name() string       { return s.name }
func (s *meanReversionStrategy) MarketCode() string { return s.marketCode }

func (s *meanReversionStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = s.closes[:0]
}

func (s *meanReversionStrategy) Evaluate(ctx context.Context, portfolio types.Portfolio, bar types.Bar) (types.TradeSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closes = append(s.closes, bar.Close)
	if len(s.closes) > s.period {
		s.closes = s.closes[len(s.closes)-s.period:]
	}
	neutral := types.TradeSignal{Direction: types.DirectionNeutral, Symbol: bar.Symbol, StrategyName: s.name, Price: bar.Close, Timestamp: bar.Timestamp}
	if len(s.closes) < s.period {
		return neutral, nil
	}

	mean := decimal.Zero
	for _, c := range s.closes {
		mean = mean.Add(c)
	}
	mean = mean.Div(decimal.NewFromInt(int64(len(s.closes))))

	variance := decimal.Zero
	for _, c := range s.closes {
		d := c.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(s.closes))))
	stdDev := decimal.NewFromFloat(sqrt(variance.InexactFloat64()))
	if stdDev.IsZero() {
		return neutral, nil
	}

	zScore := bar.Close.Sub(mean).Div(stdDev)
	threshold := s.stdDevMult

	switch {
	case zScore.LessThan(threshold.Neg()):
		return types.TradeSignal{
			Direction:    types.DirectionLong,
			Confidence:   clampConfidence(zScore.Abs().Div(threshold)),
			Reason:       "price below lower reversion band",
			StrategyName: s.name,
			Symbol:       bar.Symbol,
			Price:        bar.Close,
			Timestamp:    bar.Timestamp,
		}, nil
	case zScore.GreaterThan(threshold):
		return types.TradeSignal{
			Direction:    types.DirectionShort,
			Confidence:   clampConfidence(zScore.Div(threshold)),
			Reason:       "price above upper reversion band",
			StrategyName: s.name,
			Symbol:       bar.Symbol,
			Price:        bar.Close,
			Timestamp:    bar.Timestamp,
		}, nil
	default:
		return neutral, nil
	}
}

func clampConfidence(v decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if v.GreaterThan(one) {
		return one
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
