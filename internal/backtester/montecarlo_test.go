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

func TestEngine_Run_MonteCarloDisabledLeavesResultNil(t *testing.T) {
	symbol := "2454.TW"
	bars := oscillatingBars(symbol, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	cfg := types.BacktestConfig{ID: "bt-mc-off", Symbol: symbol, InitialCapital: decimal.NewFromInt(1_000_000)}
	strat := strategy.NewMomentumStrategy("momentum", "TW_STOCK", 3, decimal.NewFromFloat(0.01))

	eng := New(zap.NewNop())
	result, err := eng.Run(context.Background(), cfg, strat, bars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MonteCarloResult != nil {
		t.Fatalf("expected no Monte Carlo result when validation is disabled")
	}
}

func TestEngine_Run_MonteCarloEnabledProducesDistributionSummary(t *testing.T) {
	symbol := "2454.TW"
	bars := oscillatingBars(symbol, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 20)
	cfg := types.BacktestConfig{
		ID:             "bt-mc-on",
		Symbol:         symbol,
		InitialCapital: decimal.NewFromInt(1_000_000),
		Validation: types.ValidationConfig{
			MonteCarlo: types.MonteCarloConfig{Enabled: true, Iterations: 200},
		},
	}
	strat := strategy.NewMomentumStrategy("momentum", "TW_STOCK", 3, decimal.NewFromFloat(0.01))

	eng := New(zap.NewNop())
	result, err := eng.Run(context.Background(), cfg, strat, bars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Metrics.TotalTrades < MinValidTrades {
		t.Fatalf("test fixture must produce enough trades to exercise Monte Carlo, got %d", result.Metrics.TotalTrades)
	}
	if result.MonteCarloResult == nil {
		t.Fatalf("expected a Monte Carlo result once enough round trips accumulate")
	}
	if result.MonteCarloResult.Iterations != 200 {
		t.Fatalf("expected the configured iteration count to be honored, got %d", result.MonteCarloResult.Iterations)
	}
	if result.MonteCarloResult.ProbabilityRuin.IsNegative() || result.MonteCarloResult.ProbabilityRuin.GreaterThan(decimal.NewFromInt(1)) {
		t.Fatalf("expected a probability in [0,1], got %s", result.MonteCarloResult.ProbabilityRuin)
	}
}

func TestTradeReturns_EmptyInputsYieldNil(t *testing.T) {
	if tradeReturns(nil, nil) != nil {
		t.Fatalf("expected nil returns for empty input")
	}
}
