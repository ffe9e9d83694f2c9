package backtester

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/strategy"
	"github.com/DreamFulFil/atrader/pkg/types"
)

func bar(symbol string, close decimal.Decimal, at time.Time) types.Bar {
	return types.Bar{
		Symbol:    symbol,
		Timeframe: types.Timeframe1Day,
		Timestamp: at,
		Open:      close,
		High:      close.Add(decimal.NewFromInt(1)),
		Low:       close.Sub(decimal.NewFromInt(1)),
		Close:     close,
		Volume:    decimal.NewFromInt(1_000_000),
	}
}

// oscillatingBars produces a price series that alternates between rallies
// and selloffs so a momentum strategy opens and closes several round trips.
func oscillatingBars(symbol string, start time.Time, legs int) []types.Bar {
	bars := make([]types.Bar, 0, legs*8)
	price := decimal.NewFromInt(100)
	day := start
	for leg := 0; leg < legs; leg++ {
		up := leg%2 == 0
		for step := 0; step < 8; step++ {
			if up {
				price = price.Add(decimal.NewFromInt(3))
			} else {
				price = price.Sub(decimal.NewFromInt(3))
			}
			bars = append(bars, bar(symbol, price, day))
			day = day.AddDate(0, 0, 1)
		}
	}
	return bars
}

func TestEngine_Run_ProducesValidResultOverManyRoundTrips(t *testing.T) {
	symbol := "2454.TW"
	bars := oscillatingBars(symbol, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10)

	cfg := types.BacktestConfig{
		ID:             "bt-1",
		StrategyName:   "momentum",
		Symbol:         symbol,
		InitialCapital: decimal.NewFromInt(1_000_000),
	}
	strat := strategy.NewMomentumStrategy("momentum", "TW_STOCK", 3, decimal.NewFromFloat(0.01))

	eng := New(zap.NewNop())
	result, err := eng.Run(context.Background(), cfg, strat, bars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.EquityCurve) != len(bars) {
		t.Fatalf("expected one equity point per bar, got %d want %d", len(result.EquityCurve), len(bars))
	}
	if result.Metrics == nil || result.RiskMetrics == nil {
		t.Fatalf("expected metrics to be populated")
	}
	if result.Metrics.TotalTrades == 0 {
		t.Fatalf("expected at least one round trip trade")
	}
}

func TestEngine_Run_IsDeterministicAcrossReruns(t *testing.T) {
	symbol := "2454.TW"
	bars := oscillatingBars(symbol, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 6)
	cfg := types.BacktestConfig{
		ID:             "bt-det",
		Symbol:         symbol,
		InitialCapital: decimal.NewFromInt(500_000),
	}

	run := func() types.BacktestResult {
		strat := strategy.NewMomentumStrategy("momentum", "TW_STOCK", 3, decimal.NewFromFloat(0.01))
		eng := New(zap.NewNop())
		result, err := eng.Run(context.Background(), cfg, strat, bars)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return result
	}

	a := run()
	b := run()
	if !a.Metrics.FinalEquity.Equal(b.Metrics.FinalEquity) {
		t.Fatalf("expected deterministic final equity, got %s and %s", a.Metrics.FinalEquity, b.Metrics.FinalEquity)
	}
	if a.Metrics.TotalTrades != b.Metrics.TotalTrades {
		t.Fatalf("expected deterministic trade count, got %d and %d", a.Metrics.TotalTrades, b.Metrics.TotalTrades)
	}
}

func TestEngine_Run_FlatSeriesYieldsNoTrades(t *testing.T) {
	symbol := "2454.TW"
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, 0, 20)
	for i := 0; i < 20; i++ {
		bars = append(bars, bar(symbol, decimal.NewFromInt(100), start.AddDate(0, 0, i)))
	}
	cfg := types.BacktestConfig{ID: "bt-flat", Symbol: symbol, InitialCapital: decimal.NewFromInt(100_000)}
	strat := strategy.NewMomentumStrategy("momentum", "TW_STOCK", 3, decimal.NewFromFloat(0.01))

	eng := New(zap.NewNop())
	result, err := eng.Run(context.Background(), cfg, strat, bars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Metrics.TotalTrades != 0 {
		t.Fatalf("expected no trades on a flat price series, got %d", result.Metrics.TotalTrades)
	}
	if result.Valid {
		t.Fatalf("expected Valid=false with fewer than %d trades", MinValidTrades)
	}
}

func TestCalculate_WinRateAndProfitFactor(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// round trip 1: bought at 100, sold at 110 -> +10000 win.
	// round trip 2: bought at 100, sold at 95 -> -5000 loss.
	realizedPnLs := []decimal.Decimal{
		decimal.NewFromInt(10_000),
		decimal.NewFromInt(-5_000),
	}
	curve := []types.EquityCurvePoint{
		{Timestamp: now, Equity: decimal.NewFromInt(1_000_000)},
		{Timestamp: now.AddDate(0, 0, 1), Equity: decimal.NewFromInt(1_010_000)},
		{Timestamp: now.AddDate(0, 0, 2), Equity: decimal.NewFromInt(1_010_000)},
		{Timestamp: now.AddDate(0, 0, 3), Equity: decimal.NewFromInt(1_005_000)},
	}

	m := Calculate(realizedPnLs, curve, decimal.NewFromInt(1_000_000))
	if m.TotalTrades != 2 {
		t.Fatalf("expected 2 round-trip trades, got %d", m.TotalTrades)
	}
	if m.WinningTrades != 1 || m.LosingTrades != 1 {
		t.Fatalf("expected 1 win and 1 loss, got win=%d loss=%d", m.WinningTrades, m.LosingTrades)
	}
	if !m.ProfitFactor.GreaterThan(decimal.Zero) {
		t.Fatalf("expected a positive profit factor, got %s", m.ProfitFactor)
	}
}

func TestCalculateRiskMetrics_EmptyCurveYieldsZeroValues(t *testing.T) {
	risk := CalculateRiskMetrics(nil)
	if !risk.VaR95.IsZero() || !risk.VaR99.IsZero() {
		t.Fatalf("expected zero VaR on an empty curve, got VaR95=%s VaR99=%s", risk.VaR95, risk.VaR99)
	}
}
