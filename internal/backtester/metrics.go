package backtester

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// Calculate derives PerformanceMetrics from a completed replay's realized
// per-trade P&L (one entry per closed round trip, already net of fees and
// correctly signed for both long and short exits — see
// Engine.closePosition) and equity curve. The Sharpe/Sortino/Calmar
// formulas are the same ones the teacher's backtester/metrics.go used,
// carried over against this rebuild's field names: daily Sharpe =
// mean(returns)/stdDev(returns), annualized by sqrt(252); Sortino
// substitutes downside deviation for stdDev; Calmar is
// AnnualizedReturn/MaxDrawdown.
func Calculate(realizedPnLs []decimal.Decimal, equityCurve []types.EquityCurvePoint, initialCapital decimal.Decimal) types.PerformanceMetrics {
	metrics := types.PerformanceMetrics{}
	if len(equityCurve) == 0 {
		return metrics
	}

	winning, losing, sumWin, sumLoss := summarizeTrades(realizedPnLs)
	metrics.TotalTrades = winning + losing
	metrics.WinningTrades = winning
	metrics.LosingTrades = losing

	if metrics.TotalTrades > 0 {
		metrics.WinRate = decimal.NewFromInt(int64(winning)).Div(decimal.NewFromInt(int64(metrics.TotalTrades)))
	}
	if winning > 0 {
		metrics.AvgWin = sumWin.Div(decimal.NewFromInt(int64(winning)))
	}
	if losing > 0 {
		metrics.AvgLoss = sumLoss.Div(decimal.NewFromInt(int64(losing))).Abs()
	}
	if !sumLoss.IsZero() {
		metrics.ProfitFactor = sumWin.Div(sumLoss.Abs())
	}
	metrics.Expectancy = metrics.WinRate.Mul(metrics.AvgWin).Sub(
		decimal.NewFromInt(1).Sub(metrics.WinRate).Mul(metrics.AvgLoss))

	final := equityCurve[len(equityCurve)-1].Equity
	metrics.FinalEquity = final
	if !initialCapital.IsZero() {
		metrics.TotalReturn = final.Sub(initialCapital).Div(initialCapital)
	}

	returns := dailyReturns(equityCurve)
	tradingDaysPerYear := 252.0
	metrics.AnnualizedReturn = decimal.NewFromFloat(mean(returns) * tradingDaysPerYear)

	sd := stdDev(returns)
	if sd > 0 {
		dailySharpe := mean(returns) / sd
		metrics.SharpeRatio = decimal.NewFromFloat(dailySharpe * math.Sqrt(tradingDaysPerYear))
	}

	dd := downsideDeviation(returns)
	if dd > 0 {
		dailySortino := mean(returns) / dd
		metrics.SortinoRatio = decimal.NewFromFloat(dailySortino * math.Sqrt(tradingDaysPerYear))
	}

	maxDD, maxDDDate := maxDrawdown(equityCurve)
	metrics.MaxDrawdown = maxDD
	metrics.MaxDrawdownDate = maxDDDate
	if !maxDD.IsZero() {
		metrics.CalmarRatio = metrics.AnnualizedReturn.Div(maxDD)
	}

	return metrics
}

// summarizeTrades buckets each closed round trip's realized P&L into win
// and loss totals.
func summarizeTrades(realizedPnLs []decimal.Decimal) (winning, losing int, sumWin, sumLoss decimal.Decimal) {
	sumWin = decimal.Zero
	sumLoss = decimal.Zero
	for _, pnl := range realizedPnLs {
		if pnl.IsPositive() {
			winning++
			sumWin = sumWin.Add(pnl)
		} else if pnl.IsNegative() {
			losing++
			sumLoss = sumLoss.Add(pnl)
		}
	}
	return winning, losing, sumWin, sumLoss
}

// CalculateRiskMetrics derives VaR/CVaR/volatility from the equity curve's
// daily return series, using the same historical-percentile method the
// teacher's metrics.go used.
func CalculateRiskMetrics(equityCurve []types.EquityCurvePoint) types.RiskMetrics {
	risk := types.RiskMetrics{}
	returns := dailyReturns(equityCurve)
	if len(returns) == 0 {
		return risk
	}

	sd := stdDev(returns)
	risk.DailyVolatility = decimal.NewFromFloat(sd)
	risk.AnnualVolatility = decimal.NewFromFloat(sd * math.Sqrt(252))

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	idx95 := int(float64(len(sorted)) * 0.05)
	idx99 := int(float64(len(sorted)) * 0.01)
	if idx95 >= len(sorted) {
		idx95 = len(sorted) - 1
	}
	if idx99 >= len(sorted) {
		idx99 = len(sorted) - 1
	}
	risk.VaR95 = decimal.NewFromFloat(sorted[idx95])
	risk.VaR99 = decimal.NewFromFloat(sorted[idx99])

	tail := sorted[:idx95+1]
	risk.CVaR95 = decimal.NewFromFloat(mean(tail))

	return risk
}

func dailyReturns(equityCurve []types.EquityCurvePoint) []float64 {
	if len(equityCurve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1].Equity
		cur := equityCurve[i].Equity
		if prev.IsZero() {
			continue
		}
		r, _ := cur.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	return returns
}

func maxDrawdown(equityCurve []types.EquityCurvePoint) (decimal.Decimal, time.Time) {
	maxDD := decimal.Zero
	var at time.Time
	peak := equityCurve[0].Equity
	for _, point := range equityCurve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(point.Equity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			at = point.Timestamp
		}
	}
	return maxDD, at
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func downsideDeviation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sumSq := 0.0
	count := 0
	for _, v := range values {
		if v < 0 {
			sumSq += v * v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(count))
}

