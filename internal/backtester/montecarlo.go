// Monte Carlo post-processing for the Backtest Engine (§4.9, SUPPLEMENTED
// FEATURES §12). internal/montecarlo/simulator.go is kept completely
// unmodified — its bootstrap-resampling Simulator has no internal-package
// imports of its own and is already shaped around a plain []float64 trade
// return series — and is invoked here as an optional step after a replay
// completes, mirroring the way the teacher's own backtester/engine.go ran
// Monte Carlo as a post-processing pass over its own completed trade log
// rather than folding it into the bar-by-bar replay loop. Unlike the
// replay core, this step is intentionally non-deterministic (bootstrap
// resampling needs real randomness to mean anything); Run's own
// rerun-determinism guarantee is unaffected since this only runs when a
// caller opts in via cfg.Validation.MonteCarlo.Enabled.
package backtester

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/montecarlo"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// tradeReturns turns each closed round trip's realized P&L into a return
// fraction of equity at the time the trade closed, the unit
// montecarlo.TradeSequence expects for bootstrap resampling.
func tradeReturns(realizedPnLs []decimal.Decimal, equityCurve []types.EquityCurvePoint) []float64 {
	if len(realizedPnLs) == 0 || len(equityCurve) == 0 {
		return nil
	}
	out := make([]float64, 0, len(realizedPnLs))
	idx := 0
	for _, point := range equityCurve {
		if idx >= len(realizedPnLs) {
			break
		}
		base := point.Equity.Sub(realizedPnLs[idx])
		if base.IsZero() {
			idx++
			continue
		}
		r, _ := realizedPnLs[idx].Div(base).Float64()
		out = append(out, r)
		idx++
	}
	return out
}

// runMonteCarlo resamples the replay's closed-trade returns cfg.Iterations
// times and summarizes the resulting equity/drawdown distribution. It
// returns nil when there are too few trades to resample meaningfully.
func runMonteCarlo(logger *zap.Logger, cfg types.MonteCarloConfig, realizedPnLs []decimal.Decimal, equityCurve []types.EquityCurvePoint, symbol string, initialCapital decimal.Decimal) *types.MonteCarloResult {
	returns := tradeReturns(realizedPnLs, equityCurve)
	if len(returns) < MinValidTrades {
		return nil
	}

	simConfig := montecarlo.DefaultSimulatorConfig()
	if cfg.Iterations > 0 {
		simConfig.NumSimulations = cfg.Iterations
	}

	sim := montecarlo.NewSimulator(logger, simConfig)
	sequence := &montecarlo.TradeSequence{
		Returns:    returns,
		Timestamps: timestampsFor(equityCurve, len(returns)),
		Symbols:    repeat(symbol, len(returns)),
	}
	result := sim.RunSimulation(sequence, initialCapital)
	if result == nil || result.FinalEquity == nil {
		return nil
	}

	toReturn := func(equity float64) decimal.Decimal {
		if initialCapital.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromFloat(equity).Sub(initialCapital).Div(initialCapital)
	}

	maxDDP95 := decimal.Zero
	if result.MaxDrawdown != nil {
		maxDDP95 = decimal.NewFromFloat(result.MaxDrawdown.Percentiles[0.95])
	}

	return &types.MonteCarloResult{
		Iterations:      result.NumSimulations,
		MedianReturn:    toReturn(result.FinalEquity.Median),
		P5Return:        toReturn(result.FinalEquity.Percentiles[0.05]),
		P95Return:       toReturn(result.FinalEquity.Percentiles[0.95]),
		ProbabilityRuin: decimal.NewFromFloat(result.ProbabilityOfRuin),
		MaxDrawdownP95:  maxDDP95,
	}
}

func timestampsFor(equityCurve []types.EquityCurvePoint, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n && i < len(equityCurve); i++ {
		out = append(out, equityCurve[i].Timestamp)
	}
	return out
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}
