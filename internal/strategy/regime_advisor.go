// Regime advisory wiring for the Strategy Manager's drawdown-swap task
// (§4.3, SUPPLEMENTED FEATURES §12). internal/regime/detector.go is kept
// unmodified apart from comments and one removed unused local variable —
// it has no internal-package imports of its own,
// the same shape as internal/optimization/optimizer.go — and is wired in
// here purely as an advisory input: its regime classification biases which
// shadow strategy MaybeSwap promotes, but never excludes a candidate and
// never overrides the drawdown trigger itself.
package strategy

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/DreamFulFil/atrader/internal/regime"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// preferredBias and avoidBias scale a shadow candidate's rolling Sharpe
// when ranking swap candidates; they nudge the ranking, they do not
// exclude any candidate regardless of regime.
const preferredBias = 1.10
const avoidBias = 0.90

// SetRegimeDetector attaches a regime detector whose classification
// advises (but never decides) the drawdown-swap task. A nil detector
// disables the advisory entirely, matching the Manager's pre-regime
// behavior.
func (m *Manager) SetRegimeDetector(rd *regime.RegimeDetector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regime = rd
}

// ObserveBar feeds the main symbol's latest bar into the attached regime
// detector, if any. Callers invoke this once per tick alongside
// EvaluateAll/MainSignal. AddDataPoint derives no returns from prices, so
// bars fed through ObserveBar alone never produce a regime classification;
// GetStrategyAdjustments then reports the neutral "any" preference.
func (m *Manager) ObserveBar(bar types.Bar) {
	m.mu.RLock()
	rd := m.regime
	m.mu.RUnlock()
	if rd == nil {
		return
	}
	rd.AddDataPoint(bar.Close, bar.Volume, bar.Timestamp)
}

// regimeBias returns the ranking multiplier MaybeSwap applies to a
// candidate's rolling Sharpe, along with a short reason string for the
// swap log, given the detector's current strategy adjustments. A name is
// matched by substring against the adjustment's preferred/avoid keyword
// lists (e.g. "momentum", "mean_reversion", "trend_following"), which is
// how the detector's fixed vocabulary lines up with registered strategy
// names.
func regimeBias(adj *regime.StrategyAdjustments, name string) (decimal.Decimal, string) {
	if adj == nil {
		return decimal.NewFromInt(1), ""
	}
	lower := strings.ToLower(name)
	for _, avoid := range adj.AvoidStrategies {
		if avoid != "" && strings.Contains(lower, avoid) {
			return decimal.NewFromFloat(avoidBias), "regime advises against " + avoid
		}
	}
	for _, pref := range adj.PreferredStrategies {
		if pref != "" && pref != "any" && strings.Contains(lower, pref) {
			return decimal.NewFromFloat(preferredBias), "regime favors " + pref
		}
	}
	return decimal.NewFromInt(1), ""
}
