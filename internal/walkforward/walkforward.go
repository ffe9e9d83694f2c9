// Package walkforward implements the Walk-Forward Optimizer (C10): windowed
// grid search over C9's Backtest Engine with in-sample/out-of-sample
// validation and overfit detection.
//
// Window generation and the multi-objective fitness/overfit rules are
// written fresh against §4.10's cadence (train:test ratio, step days, test
// days), since the teacher has no equivalent walk-forward harness of its
// own. Grid search itself is NOT reimplemented: internal/optimization/
// optimizer.go already provides a generic, zero-internal-coupling
// Optimizer whose ParamSet matches types.BacktestConfig.Parameters
// exactly, so each window's in-sample search delegates to it directly
// (code kept unmodified; see DESIGN.md).
package walkforward

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/optimization"
	"github.com/DreamFulFil/atrader/internal/strategy"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// MinTradesForFullWeight is the trade count below which a window's fitness
// score is linearly discounted (§4.10: "<20 trades discounted").
const MinTradesForFullWeight = 20

// MaxDrawdownBeforePenalty is the drawdown above which a window's fitness
// score is discounted (§4.10: ">20% MDD discounted").
const MaxDrawdownBeforePenalty = 0.20

// Replayer runs one deterministic backtest; internal/backtester.Engine
// satisfies this.
type Replayer interface {
	Run(ctx context.Context, cfg types.BacktestConfig, strat strategy.Strategy, bars []types.Bar) (types.BacktestResult, error)
}

// StrategyFactory builds a concrete Strategy from a candidate parameter
// set, so this package never needs to know which strategy it is tuning.
type StrategyFactory func(params optimization.ParamSet) strategy.Strategy

// Optimizer runs the windowed grid search over a Replayer.
type Optimizer struct {
	logger    *zap.Logger
	replayer  Replayer
	optConfig *optimization.OptimizerConfig
}

// New constructs a walk-forward Optimizer. optConfig may be nil, in which
// case the default config is used with its Method set to grid search; a
// non-nil optConfig is used as given, including its Method.
func New(logger *zap.Logger, replayer Replayer, optConfig *optimization.OptimizerConfig) *Optimizer {
	if optConfig == nil {
		optConfig = optimization.DefaultOptimizerConfig()
		optConfig.Method = optimization.MethodGridSearch
	}
	return &Optimizer{logger: logger, replayer: replayer, optConfig: optConfig}
}

// GenerateWindows slices [start,end) into rolling train/test windows per
// cfg: trainDays = TrainTestRatio * TestDays, stepping forward by StepDays
// each time, stopping once a window's test slice would run past end.
// Boundaries are half-open and contiguous ([trainStart,trainEnd) feeds
// directly into [testStart,testEnd) with testStart == trainEnd), but
// TestStart is recorded one nanosecond after TrainEnd so
// WalkForwardWindow.Valid()'s strict TrainEnd < TestStart invariant holds
// without leaving a slicing gap of a whole day between the two slices.
// It returns nil when TestDays is below 20 or TrainTestRatio or StepDays is
// not positive.
func GenerateWindows(start, end time.Time, cfg types.WalkForwardConfig) []types.WalkForwardWindow {
	if cfg.TestDays < 20 || cfg.TrainTestRatio <= 0 || cfg.StepDays <= 0 {
		return nil
	}
	trainDays := cfg.TrainTestRatio * cfg.TestDays

	var windows []types.WalkForwardWindow
	trainStart := start
	for idx := 0; ; idx++ {
		trainEnd := trainStart.AddDate(0, 0, trainDays)
		testEnd := trainEnd.AddDate(0, 0, cfg.TestDays)
		if testEnd.After(end) {
			break
		}
		windows = append(windows, types.WalkForwardWindow{
			Index:      idx,
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd.Add(time.Nanosecond),
			TestEnd:    testEnd,
		})
		trainStart = trainStart.AddDate(0, 0, cfg.StepDays)
	}
	return windows
}

// sliceBars returns bars in [start,end), treating a TestStart that carries
// the GenerateWindows nanosecond nudge as equal to its true day boundary.
func sliceBars(bars []types.Bar, start, end time.Time) []types.Bar {
	start = start.Truncate(24 * time.Hour)
	out := make([]types.Bar, 0, len(bars))
	for _, b := range bars {
		if !b.Timestamp.Before(start) && b.Timestamp.Before(end) {
			out = append(out, b)
		}
	}
	return out
}

// Run walks every window GenerateWindows produces for bars, grid-searching
// params on each train slice and re-evaluating the winner on the
// corresponding test slice.
func (o *Optimizer) Run(ctx context.Context, base types.BacktestConfig, params []optimization.Parameter, factory StrategyFactory, bars []types.Bar, cfg types.WalkForwardConfig) (types.WalkForwardResult, error) {
	if len(bars) == 0 {
		return types.WalkForwardResult{}, fmt.Errorf("walkforward: no bars supplied")
	}
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	start := sorted[0].Timestamp
	end := sorted[len(sorted)-1].Timestamp.Add(24 * time.Hour)
	windows := GenerateWindows(start, end, cfg)

	result := types.WalkForwardResult{Windows: make([]types.WalkForwardWindowResult, 0, len(windows))}
	if len(windows) == 0 {
		return result, nil
	}

	var sumRobustness, sumRatio decimal.Decimal
	anyOverfit := false

	for _, window := range windows {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		trainBars := sliceBars(sorted, window.TrainStart, window.TrainEnd)
		testBars := sliceBars(sorted, window.TestStart, window.TestEnd)
		if len(trainBars) == 0 || len(testBars) == 0 {
			o.logger.Warn("walkforward: window has no bars, skipping", zap.Int("window", window.Index))
			continue
		}

		windowResult, err := o.runWindow(ctx, base, params, factory, trainBars, testBars, window)
		if err != nil {
			return result, fmt.Errorf("walkforward: window %d: %w", window.Index, err)
		}

		result.Windows = append(result.Windows, windowResult)
		sumRobustness = sumRobustness.Add(windowResult.RobustnessScore)
		sumRatio = sumRatio.Add(windowResult.IsOosSharpeRatio)
		if windowResult.IsOverfit {
			anyOverfit = true
		}
	}

	n := decimal.NewFromInt(int64(len(result.Windows)))
	if !n.IsZero() {
		result.AvgRobustnessScore = sumRobustness.Div(n)
		result.AvgIsOosSharpeRatio = sumRatio.Div(n)
	}
	result.OverfitWarning = anyOverfit

	return result, nil
}

func (o *Optimizer) runWindow(ctx context.Context, base types.BacktestConfig, params []optimization.Parameter, factory StrategyFactory, trainBars, testBars []types.Bar, window types.WalkForwardWindow) (types.WalkForwardWindowResult, error) {
	var lastInSample types.PerformanceMetrics

	objective := func(p optimization.ParamSet) (float64, error) {
		cfg := base
		cfg.ID = fmt.Sprintf("%s-w%d-train", base.ID, window.Index)
		cfg.Parameters = map[string]float64(p)
		strat := factory(p)
		result, err := o.replayer.Run(ctx, cfg, strat, trainBars)
		if err != nil {
			return 0, err
		}
		lastInSample = *result.Metrics
		return fitness(*result.Metrics), nil
	}

	opt := optimization.NewOptimizer(o.logger, o.optConfig)
	optResult, err := opt.Optimize(ctx, params, objective)
	if err != nil {
		return types.WalkForwardWindowResult{}, err
	}

	bestParams := optResult.BestParams
	testCfg := base
	testCfg.ID = fmt.Sprintf("%s-w%d-test", base.ID, window.Index)
	testCfg.Parameters = map[string]float64(bestParams)
	testStrat := factory(bestParams)
	testResult, err := o.replayer.Run(ctx, testCfg, testStrat, testBars)
	if err != nil {
		return types.WalkForwardWindowResult{}, err
	}

	isMetrics := lastInSample
	oosMetrics := *testResult.Metrics

	ratio := sharpeRatio(isMetrics, oosMetrics)
	robustness := robustnessScore(isMetrics, oosMetrics)
	overfit, reasons := detectOverfit(isMetrics, oosMetrics, ratio)

	return types.WalkForwardWindowResult{
		Window:             window,
		InSampleMetrics:    &isMetrics,
		OutSampleMetrics:   &oosMetrics,
		OptimalParameters:  map[string]float64(bestParams),
		IsOosSharpeRatio:   ratio,
		RobustnessScore:    robustness,
		IsOverfit:          overfit,
		OverfitReasons:     reasons,
	}, nil
}

// fitness scores a parameter candidate per §4.10's multi-objective
// formula, discounted for thin trade counts and excessive drawdown.
func fitness(m types.PerformanceMetrics) float64 {
	sharpe, _ := m.SharpeRatio.Float64()
	sortino, _ := m.SortinoRatio.Float64()
	calmar, _ := m.CalmarRatio.Float64()

	score := 0.4*normalize(sharpe) + 0.35*normalize(sortino) + 0.25*normalize(calmar)

	if m.TotalTrades < MinTradesForFullWeight {
		score *= float64(m.TotalTrades) / float64(MinTradesForFullWeight)
	}

	maxDD, _ := m.MaxDrawdown.Float64()
	if maxDD > MaxDrawdownBeforePenalty {
		penalty := 1.0 - (maxDD - MaxDrawdownBeforePenalty)
		if penalty < 0 {
			penalty = 0
		}
		score *= penalty
	}

	return score
}

// normalize maps a ratio (typically in roughly [-3, 3]) onto [0, 1].
func normalize(x float64) float64 {
	n := (x + 3) / 6
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func sharpeRatio(is, oos types.PerformanceMetrics) decimal.Decimal {
	if oos.SharpeRatio.IsZero() {
		return decimal.Zero
	}
	return is.SharpeRatio.Div(oos.SharpeRatio)
}

// robustnessScore is clamp(100*OOS/IS, 0, 100) over Sharpe ratios.
func robustnessScore(is, oos types.PerformanceMetrics) decimal.Decimal {
	if is.SharpeRatio.IsZero() {
		return decimal.Zero
	}
	raw := oos.SharpeRatio.Div(is.SharpeRatio).Mul(decimal.NewFromInt(100))
	zero := decimal.Zero
	hundred := decimal.NewFromInt(100)
	if raw.LessThan(zero) {
		return zero
	}
	if raw.GreaterThan(hundred) {
		return hundred
	}
	return raw
}

func detectOverfit(is, oos types.PerformanceMetrics, ratio decimal.Decimal) (bool, []string) {
	var reasons []string

	if is.SharpeRatio.IsPositive() && oos.SharpeRatio.IsNegative() {
		reasons = append(reasons, "in-sample Sharpe positive, out-of-sample Sharpe negative")
	}
	if ratio.GreaterThan(decimal.NewFromFloat(2.0)) {
		reasons = append(reasons, "in-sample/out-of-sample Sharpe ratio exceeds 2.0")
	}
	if oos.TotalReturn.LessThan(decimal.NewFromFloat(-0.05)) && is.TotalReturn.IsPositive() {
		reasons = append(reasons, "out-of-sample return below -5% while in-sample return is positive")
	}

	return len(reasons) > 0, reasons
}

