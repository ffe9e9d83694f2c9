// Package backtester implements the Backtest Engine (C9): a deterministic
// replay of a sorted Bar sequence against a single strategy, applying
// fills through the same Position Ledger semantics the live Engine uses
// and pricing them through the same Slippage Model.
//
// Grounded on the teacher's own backtester/engine.go structurally (a
// bar-by-bar replay loop producing an equity curve and a PerformanceMetrics
// summary) but rebuilt end to end against this rebuild's domain types and
// collaborators: internal/ledger.Ledger replaces the teacher's bespoke
// OrderManager/EventQueue/Trade machinery (internal/backtester/events.go,
// orders.go, portfolio.go are dropped — see DESIGN.md), and
// internal/slippage.Model replaces internal/backtester/slippage.go's
// separate cost model, since both now need to agree with the live tick
// path's execution costs rather than maintain two divergent models.
// metrics.go's Sharpe/Sortino/Calmar formulas are carried over verbatim
// (already verified against the textbook definitions) rewritten against
// pkg/types.PerformanceMetrics/EquityCurvePoint instead of the dropped
// types.Trade.
package backtester

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/ledger"
	"github.com/DreamFulFil/atrader/internal/sizing"
	"github.com/DreamFulFil/atrader/internal/slippage"
	"github.com/DreamFulFil/atrader/internal/strategy"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// MinValidTrades is the minimum trade count for a result to be usable by
// the Walk-Forward Optimizer's fitness scoring (§4.9).
const MinValidTrades = 10

// Engine replays one strategy over one symbol's bar history.
type Engine struct {
	logger *zap.Logger
}

// New constructs a backtest Engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Run replays bars (assumed pre-sorted ascending by Timestamp; Run sorts
// defensively) against strat, producing a BacktestResult. Replays are
// idempotent: the same bars, strategy, and config always produce the same
// metrics, since nothing in the loop below reads wall-clock time or
// randomness.
func (e *Engine) Run(ctx context.Context, cfg types.BacktestConfig, strat strategy.Strategy, bars []types.Bar) (types.BacktestResult, error) {
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	led := ledger.New(e.logger)
	slip := slippage.New(e.logger)
	strat.Reset()

	cash := cfg.InitialCapital
	equityCurve := make([]types.EquityCurvePoint, 0, len(sorted))
	fills := make([]types.Fill, 0)
	realizedPnLs := make([]decimal.Decimal, 0)
	peak := cfg.InitialCapital

	for _, bar := range sorted {
		select {
		case <-ctx.Done():
			return types.BacktestResult{}, ctx.Err()
		default:
		}

		portfolio := e.portfolioSnapshot(led, cash, bar, cfg.Symbol)

		signal, err := strat.Evaluate(ctx, portfolio, bar)
		if err != nil {
			e.logger.Warn("backtester: strategy evaluation failed", zap.Error(err))
			signal = types.TradeSignal{Direction: types.DirectionNeutral, Symbol: cfg.Symbol, Timestamp: bar.Timestamp}
		}

		pos := led.Get(cfg.Symbol)
		cash, fills, realizedPnLs = e.applySignal(led, slip, cfg, pos, signal, bar, cash, fills, realizedPnLs)

		equity := cash.Add(led.UnrealizedPnL(cfg.Symbol, bar.Close))
		if equity.GreaterThan(peak) {
			peak = equity
		}
		drawdown := decimal.Zero
		if !peak.IsZero() {
			drawdown = peak.Sub(equity).Div(peak)
		}
		equityCurve = append(equityCurve, types.EquityCurvePoint{
			Timestamp: bar.Timestamp,
			Equity:    equity,
			Cash:      cash,
			Drawdown:  drawdown,
		})
	}

	metrics := Calculate(realizedPnLs, equityCurve, cfg.InitialCapital)
	risk := CalculateRiskMetrics(equityCurve)

	result := types.BacktestResult{
		ID:              cfg.ID,
		Config:          &cfg,
		Metrics:         &metrics,
		RiskMetrics:     &risk,
		EquityCurve:     equityCurve,
		Fills:           fills,
		EventsProcessed: uint64(len(sorted)),
		Valid:           metrics.TotalTrades >= MinValidTrades,
	}
	if cfg.Validation.MonteCarlo.Enabled {
		result.MonteCarloResult = runMonteCarlo(e.logger, cfg.Validation.MonteCarlo, realizedPnLs, equityCurve, cfg.Symbol, cfg.InitialCapital)
	}
	return result, nil
}

func (e *Engine) portfolioSnapshot(led *ledger.Ledger, cash decimal.Decimal, bar types.Bar, symbol string) types.Portfolio {
	pos := led.Get(symbol)
	equity := cash.Add(led.UnrealizedPnL(symbol, bar.Close))
	positions := map[string]*types.Position{}
	if !pos.IsFlat() {
		p := pos
		positions[symbol] = &p
	}
	return types.Portfolio{
		Cash:      cash,
		Equity:    equity,
		Positions: positions,
		UpdatedAt: bar.Timestamp,
	}
}

// applySignal turns one bar's signal into at most one ledger fill,
// pricing the fill through the slippage model the same way the live
// Engine does for an order of this size against this bar's volume.
func (e *Engine) applySignal(led *ledger.Ledger, slip *slippage.Model, cfg types.BacktestConfig, pos types.Position, signal types.TradeSignal, bar types.Bar, cash decimal.Decimal, fills []types.Fill, realizedPnLs []decimal.Decimal) (decimal.Decimal, []types.Fill, []decimal.Decimal) {
	wantLong := signal.Direction == types.DirectionLong
	wantShort := signal.Direction == types.DirectionShort
	isLong := pos.Quantity.IsPositive()
	isShort := pos.Quantity.IsNegative()

	needsExit := signal.Direction == types.DirectionExit ||
		(wantLong && isShort) || (wantShort && isLong)
	if needsExit && !pos.IsFlat() {
		cash, fills, realizedPnLs = e.closePosition(led, slip, cfg, pos, bar, cash, fills, realizedPnLs)
		pos = led.Get(cfg.Symbol)
	}

	if (wantLong && !isLong) || (wantShort && !isShort) {
		cash, fills = e.openPosition(led, slip, cfg, signal.Direction, bar, cash, fills)
	}

	return cash, fills, realizedPnLs
}

// closePosition settles the open position at this bar's price, recording
// the ledger's already-correctly-signed realized P&L (profit per share
// for a long exit is price-avgEntry; for a short cover it is
// avgEntry-price) net of the closing fee, rather than re-deriving it from
// the Fill record afterward — FilledQty is always reported as an
// unsigned traded quantity, so it cannot itself disambiguate a long exit
// from a short cover.
func (e *Engine) closePosition(led *ledger.Ledger, slip *slippage.Model, cfg types.BacktestConfig, pos types.Position, bar types.Bar, cash decimal.Decimal, fills []types.Fill, realizedPnLs []decimal.Decimal) (decimal.Decimal, []types.Fill, []decimal.Decimal) {
	side := exitSide(pos)
	qty := pos.Quantity.Abs()
	execPrice, fee := e.priceFill(slip, cfg.Symbol, qty, bar, side)
	realized := led.Apply(side, cfg.Symbol, qty, execPrice, types.TradingModeStock, bar.Timestamp)
	cash = cash.Add(realized).Sub(fee)
	fills = append(fills, types.Fill{
		OrderRef:    fmt.Sprintf("bt-%s-%d", cfg.Symbol, bar.Timestamp.UnixNano()),
		FilledQty:   qty,
		FilledPrice: execPrice,
		Timestamp:   bar.Timestamp,
		Fees:        fee,
	})
	realizedPnLs = append(realizedPnLs, realized.Sub(fee))
	return cash, fills, realizedPnLs
}

func (e *Engine) openPosition(led *ledger.Ledger, slip *slippage.Model, cfg types.BacktestConfig, direction types.Direction, bar types.Bar, cash decimal.Decimal, fills []types.Fill) (decimal.Decimal, []types.Fill) {
	equity := cash.Add(led.UnrealizedPnL(cfg.Symbol, bar.Close))
	sized := sizing.Calculate(sizing.Request{
		Equity:  equity,
		Price:   bar.Close,
		RiskPct: decimal.NewFromFloat(0.01),
		LotType: types.LotTypeRound,
		ATR:     bar.High.Sub(bar.Low),
	})
	if sized.Shares <= 0 {
		return cash, fills
	}
	side := types.OrderSideBuy
	if direction == types.DirectionShort {
		side = types.OrderSideSell
	}
	qty := decimal.NewFromInt(sized.Shares)
	execPrice, fee := e.priceFill(slip, cfg.Symbol, qty, bar, side)
	led.Apply(side, cfg.Symbol, qty, execPrice, types.TradingModeStock, bar.Timestamp)
	cash = cash.Sub(fee)
	fills = append(fills, types.Fill{
		OrderRef:    fmt.Sprintf("bt-%s-%d", cfg.Symbol, bar.Timestamp.UnixNano()),
		FilledQty:   qty,
		FilledPrice: execPrice,
		Timestamp:   bar.Timestamp,
		Fees:        fee,
	})
	return cash, fills
}

func (e *Engine) priceFill(slip *slippage.Model, symbol string, qty decimal.Decimal, bar types.Bar, side types.OrderSide) (decimal.Decimal, decimal.Decimal) {
	est := slip.EstimateBps(symbol, qty.Mul(bar.Close), bar.Volume, bar.Timestamp)
	isSell := side == types.OrderSideSell
	cost := slippage.ExpectedCost(est.TotalBps, isSell)
	execPrice := bar.Close.Mul(decimal.NewFromInt(1).Add(cost))
	if isSell {
		execPrice = bar.Close.Mul(decimal.NewFromInt(1).Sub(cost))
	}
	fee := execPrice.Mul(qty).Mul(decimal.NewFromFloat(0.001425))
	return execPrice, fee
}

func exitSide(pos types.Position) types.OrderSide {
	if pos.Quantity.IsPositive() {
		return types.OrderSideSell
	}
	return types.OrderSideBuy
}
