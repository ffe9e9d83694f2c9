package walkforward

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/optimization"
	"github.com/DreamFulFil/atrader/internal/strategy"
	"github.com/DreamFulFil/atrader/pkg/types"
)

func TestGenerateWindows_ProducesExpectedCount(t *testing.T) {
	cfg := types.DefaultWalkForwardConfig() // 3:1 ratio, step 20, test 20 -> trainDays=60
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 60+20+20*11) // enough room for 12 windows

	windows := GenerateWindows(start, end, cfg)
	if len(windows) < 12 {
		t.Fatalf("expected at least 12 windows, got %d", len(windows))
	}
	for _, w := range windows {
		if !w.Valid() {
			t.Fatalf("window %d failed its ordering invariant: %+v", w.Index, w)
		}
	}
}

func TestGenerateWindows_EmptyRangeYieldsNoWindows(t *testing.T) {
	cfg := types.DefaultWalkForwardConfig()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windows := GenerateWindows(start, start.AddDate(0, 0, 10), cfg)
	if len(windows) != 0 {
		t.Fatalf("expected no windows over a range shorter than one train+test span, got %d", len(windows))
	}
}

// scriptedReplayer returns fixed metrics depending on whether the config ID
// marks a train or test run, regardless of the bars or params passed in, so
// overfit scenarios are fully controllable from the test.
type scriptedReplayer struct {
	trainMetrics types.PerformanceMetrics
	testMetrics  types.PerformanceMetrics
}

func (r *scriptedReplayer) Run(_ context.Context, cfg types.BacktestConfig, _ strategy.Strategy, _ []types.Bar) (types.BacktestResult, error) {
	m := r.trainMetrics
	if strings.Contains(cfg.ID, "-test") {
		m = r.testMetrics
	}
	return types.BacktestResult{Metrics: &m}, nil
}

func fixedFactory(optimization.ParamSet) strategy.Strategy {
	return strategy.NewMomentumStrategy("momentum", "TW_STOCK", 3, decimal.NewFromFloat(0.02))
}

func syntheticBars(days int) []types.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, 0, days)
	for i := 0; i < days; i++ {
		bars = append(bars, types.Bar{
			Symbol:    "2454.TW",
			Timestamp: start.AddDate(0, 0, i),
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(101),
			Low:       decimal.NewFromInt(99),
			Close:     decimal.NewFromInt(100),
			Volume:    decimal.NewFromInt(1_000_000),
		})
	}
	return bars
}

func oneParam() []optimization.Parameter {
	return []optimization.Parameter{
		{Name: "threshold", Type: optimization.ParamTypeDiscrete, Discrete: []float64{0.01, 0.02}},
	}
}

func TestOptimizer_Run_FlagsOverfitWhenOutOfSampleCollapses(t *testing.T) {
	replayer := &scriptedReplayer{
		trainMetrics: types.PerformanceMetrics{SharpeRatio: decimal.NewFromFloat(2.0), SortinoRatio: decimal.NewFromFloat(2.0), CalmarRatio: decimal.NewFromFloat(2.0), TotalTrades: 30, TotalReturn: decimal.NewFromFloat(0.15)},
		testMetrics:  types.PerformanceMetrics{SharpeRatio: decimal.NewFromFloat(-1.0), SortinoRatio: decimal.NewFromFloat(-1.0), CalmarRatio: decimal.NewFromFloat(-1.0), TotalTrades: 20, TotalReturn: decimal.NewFromFloat(-0.1)},
	}
	opt := New(zap.NewNop(), replayer, nil)

	base := types.BacktestConfig{ID: "bt", Symbol: "2454.TW", InitialCapital: decimal.NewFromInt(1_000_000)}
	cfg := types.DefaultWalkForwardConfig()
	bars := syntheticBars(200)

	result, err := opt.Run(context.Background(), base, oneParam(), fixedFactory, bars, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Windows) == 0 {
		t.Fatalf("expected at least one window")
	}
	if !result.OverfitWarning {
		t.Fatalf("expected OverfitWarning=true when OOS Sharpe collapses negative")
	}
	for _, w := range result.Windows {
		if !w.IsOverfit {
			t.Fatalf("expected window %d to be flagged overfit", w.Window.Index)
		}
		if len(w.OverfitReasons) == 0 {
			t.Fatalf("expected at least one overfit reason recorded")
		}
	}
}

func TestOptimizer_Run_NoOverfitWhenConsistent(t *testing.T) {
	replayer := &scriptedReplayer{
		trainMetrics: types.PerformanceMetrics{SharpeRatio: decimal.NewFromFloat(1.0), SortinoRatio: decimal.NewFromFloat(1.0), CalmarRatio: decimal.NewFromFloat(1.0), TotalTrades: 30, TotalReturn: decimal.NewFromFloat(0.1)},
		testMetrics:  types.PerformanceMetrics{SharpeRatio: decimal.NewFromFloat(0.9), SortinoRatio: decimal.NewFromFloat(0.9), CalmarRatio: decimal.NewFromFloat(0.9), TotalTrades: 25, TotalReturn: decimal.NewFromFloat(0.08)},
	}
	opt := New(zap.NewNop(), replayer, nil)

	base := types.BacktestConfig{ID: "bt", Symbol: "2454.TW", InitialCapital: decimal.NewFromInt(1_000_000)}
	cfg := types.DefaultWalkForwardConfig()
	bars := syntheticBars(200)

	result, err := opt.Run(context.Background(), base, oneParam(), fixedFactory, bars, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OverfitWarning {
		t.Fatalf("expected OverfitWarning=false for consistent IS/OOS performance")
	}
	for _, w := range result.Windows {
		if w.RobustnessScore.LessThan(decimal.NewFromInt(50)) {
			t.Fatalf("expected a healthy robustness score, got %s", w.RobustnessScore)
		}
	}
}

func TestFitness_DiscountsThinTradeCounts(t *testing.T) {
	thin := types.PerformanceMetrics{SharpeRatio: decimal.NewFromFloat(1.5), SortinoRatio: decimal.NewFromFloat(1.5), CalmarRatio: decimal.NewFromFloat(1.5), TotalTrades: 5}
	full := thin
	full.TotalTrades = 30

	if fitness(thin) >= fitness(full) {
		t.Fatalf("expected a thin trade count to score lower than a full one")
	}
}

func TestFitness_DiscountsExcessiveDrawdown(t *testing.T) {
	shallow := types.PerformanceMetrics{SharpeRatio: decimal.NewFromFloat(1.5), SortinoRatio: decimal.NewFromFloat(1.5), CalmarRatio: decimal.NewFromFloat(1.5), TotalTrades: 30, MaxDrawdown: decimal.NewFromFloat(0.05)}
	deep := shallow
	deep.MaxDrawdown = decimal.NewFromFloat(0.35)

	if fitness(deep) >= fitness(shallow) {
		t.Fatalf("expected a deep drawdown to score lower than a shallow one")
	}
}

func TestRobustnessScore_ClampsToHundred(t *testing.T) {
	is := types.PerformanceMetrics{SharpeRatio: decimal.NewFromFloat(1.0)}
	oos := types.PerformanceMetrics{SharpeRatio: decimal.NewFromFloat(5.0)}
	if !robustnessScore(is, oos).Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected robustness score to clamp at 100, got %s", robustnessScore(is, oos))
	}
}

func TestRobustnessScore_ZeroInSampleSharpeYieldsZero(t *testing.T) {
	is := types.PerformanceMetrics{SharpeRatio: decimal.Zero}
	oos := types.PerformanceMetrics{SharpeRatio: decimal.NewFromFloat(1.0)}
	if !robustnessScore(is, oos).IsZero() {
		t.Fatalf("expected zero robustness score when in-sample Sharpe is zero")
	}
}
