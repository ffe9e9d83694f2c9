// Package engine implements the Trading Engine Loop (C7): the per-tick
// control loop that fuses strategy signals, risk state, position sizing,
// and time-based exits into at most one order per tick, and owns the
// Position Ledger as its single logical writer.
//
// Grounded on the teacher's internal/autonomous/agent.go ticker-driven
// mainLoop/shouldTrade/Start/Stop/Pause/Resume shape (a single goroutine
// polling a ticker, gated by a running/paused flag and trading-hours
// check) rather than internal/orchestrator/orchestrator.go's event-bus
// fan-out, which couples a PhD-grade regime/Monte-Carlo/walk-forward
// stack directly into the tick path; this spec keeps those as standalone
// components (C9/C10) invoked by the Scheduler, not by every tick.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/bridge"
	"github.com/DreamFulFil/atrader/internal/execution"
	"github.com/DreamFulFil/atrader/internal/ledger"
	"github.com/DreamFulFil/atrader/internal/risk"
	"github.com/DreamFulFil/atrader/internal/sizing"
	"github.com/DreamFulFil/atrader/internal/slippage"
	"github.com/DreamFulFil/atrader/internal/strategy"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// ShutdownGrace is how long a shutdown request waits for in-flight orders
// to drain before the engine force-flattens every open position.
const ShutdownGrace = 30 * time.Second

// TradingWindow is one same-day [Start, End) Taipei-local session, e.g.
// TSE's 09:00-13:30 continuous session.
type TradingWindow struct {
	Start time.Duration // offset from local midnight
	End   time.Duration
}

// Contains reports whether now's time-of-day falls within w on a weekday.
func (w TradingWindow) Contains(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := now.Sub(midnight)
	return offset >= w.Start && offset < w.End
}

// DefaultTradingWindow matches the TSE/TAIFEX continuous-trading session.
func DefaultTradingWindow() TradingWindow {
	return TradingWindow{Start: 9 * time.Hour, End: 13*time.Hour + 30*time.Minute}
}

// MarketData supplies the volatility/history inputs the sizer and
// slippage model need but which don't live on a Bar.
type MarketData interface {
	ADV(symbol string) decimal.Decimal
	ATR(symbol string) decimal.Decimal
	TradeStats(symbol string) (have bool, winRate, avgWin, avgLoss decimal.Decimal)
}

// barRecorder is an optional capability a MarketData implementation may
// support to keep its rolling bar history current; *marketdata.Tracker
// implements it. Checked with a type assertion so the minimal MarketData
// interface above stays the only thing test doubles need to satisfy.
type barRecorder interface {
	OnBar(bar types.Bar)
}

// tradeRecorder is an optional capability a MarketData implementation may
// support to keep rolling trade statistics current; *marketdata.Tracker
// implements it.
type tradeRecorder interface {
	OnTradeClosed(symbol string, realizedPnL decimal.Decimal)
}

// TickSnapshot is persisted once per tick that reaches the signal stage,
// whether or not an order was routed. Ticks outside the trading window,
// while paused, on a fatal risk result, or whose bar or portfolio fetch
// fails record no snapshot.
type TickSnapshot struct {
	Timestamp     time.Time
	Symbol        string
	Signal        types.TradeSignal
	Veto          *types.RiskCheckResult
	UnrealizedPnL decimal.Decimal
}

// Recorder persists per-tick state. Implementations must not block the
// engine loop for long; a store-backed Recorder should buffer internally.
type Recorder interface {
	RecordTick(TickSnapshot)
}

type noopRecorder struct{}

func (noopRecorder) RecordTick(TickSnapshot) {}

// Notifier delivers operator-facing alerts (fatal risk events, swaps).
type Notifier interface {
	Notify(message string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// Config bundles the engine's tunables.
type Config struct {
	ActiveSymbol   string
	TradingMode    types.TradingMode
	Window         TradingWindow
	MaxHoldMinutes int
	RiskPct        decimal.Decimal
	LotType        types.LotType
	TickInterval   time.Duration
}

// DefaultConfig matches the stock-session defaults referenced across §4.
func DefaultConfig(symbol string) Config {
	return Config{
		ActiveSymbol:   symbol,
		TradingMode:    types.TradingModeStock,
		Window:         DefaultTradingWindow(),
		MaxHoldMinutes: 240,
		RiskPct:        decimal.NewFromFloat(0.01),
		LotType:        types.LotTypeRound,
		TickInterval:   time.Second,
	}
}

// Engine is the single logical writer over the Position Ledger. It
// consumes bar/timer ticks and emits at most one routed order per tick.
type Engine struct {
	logger   *zap.Logger
	config   Config
	bridge   *bridge.Client
	ledger   *ledger.Ledger
	gate     *risk.Gatekeeper
	manager  *strategy.Manager
	router   *execution.Router
	slip     *slippage.Model
	market   MarketData
	recorder Recorder
	notifier Notifier

	mu           sync.Mutex
	running      bool
	paused       bool
	eodDone      bool
	lastWindowOn bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	eodTasks     []EODTask
}

// New constructs an Engine. recorder/notifier may be nil, in which case
// no-op implementations are used.
func New(
	logger *zap.Logger,
	config Config,
	bridgeClient *bridge.Client,
	posLedger *ledger.Ledger,
	gate *risk.Gatekeeper,
	manager *strategy.Manager,
	router *execution.Router,
	slip *slippage.Model,
	market MarketData,
	recorder Recorder,
	notifier Notifier,
) *Engine {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine{
		logger:   logger,
		config:   config,
		bridge:   bridgeClient,
		ledger:   posLedger,
		gate:     gate,
		manager:  manager,
		router:   router,
		slip:     slip,
		market:   market,
		recorder: recorder,
		notifier: notifier,
	}
}

// Start launches the engine's tick loop on a ticker and returns
// immediately. ctx cancellation stops the loop without running the
// shutdown grace period; use Stop for a graceful shutdown.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine: already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	go e.loop(ctx)
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.tick(ctx, now)
		}
	}
}

// Stop requests a graceful shutdown: in-flight TWAP chunks are given up
// to ShutdownGrace to drain, then every open position is force-flattened.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine: not running")
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	select {
	case <-e.doneCh:
	case <-time.After(ShutdownGrace):
		e.logger.Warn("engine: shutdown grace period elapsed, forcing flatten")
	}

	e.flattenAll(ctx, "shutdown")
	return nil
}

// Pause sets the engine's own pause flag. The risk Gatekeeper's pause
// flag is a separate, operator-facing cell (§5) that Pause does not touch.
// While paused, tick returns right after the trading-window gate, so
// neither entries nor exits (signal, max-hold, stop-loss) are evaluated.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume clears the engine's pause flag.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// IsPaused reports the engine's own pause state.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SetActiveSymbol flattens any open position in the old symbol (if one
// exists) and commits the new ActiveSymbol, per §4.8's /change-stock
// semantics. It is the engine-side half of that command; the dispatcher
// owns eligibility checks.
func (e *Engine) SetActiveSymbol(ctx context.Context, symbol string) error {
	e.mu.Lock()
	old := e.config.ActiveSymbol
	e.mu.Unlock()

	if old != "" && old != symbol {
		if pos := e.ledger.Get(old); !pos.IsFlat() {
			if err := e.flattenOne(ctx, old, "change-stock"); err != nil {
				return fmt.Errorf("engine: flatten %s before switching to %s: %w", old, symbol, err)
			}
		}
	}

	e.mu.Lock()
	e.config.ActiveSymbol = symbol
	e.mu.Unlock()
	return nil
}

// tick implements §4.7's pseudocode exactly: trading-window gate, fatal
// risk gate, exit/hold/entry branches, then a persisted snapshot.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	inWindow := e.config.Window.Contains(now)
	if !inWindow {
		e.mu.Lock()
		wasOn := e.lastWindowOn
		e.lastWindowOn = false
		done := e.eodDone
		e.mu.Unlock()
		if wasOn && !done {
			e.runEODTasks(ctx, now)
		}
		return
	}
	e.mu.Lock()
	e.lastWindowOn = true
	e.eodDone = false
	paused := e.paused
	e.mu.Unlock()
	if paused {
		return
	}

	symbol := e.activeSymbol()

	riskResult := e.gate.Check(symbol, now)
	if riskResult.Severity == types.RiskSeverityFatal {
		e.logger.Warn("fatal risk condition, flattening and pausing", zap.String("reason", riskResult.Reason))
		e.flattenAll(ctx, riskResult.Reason)
		e.gate.TriggerEmergencyShutdown()
		e.notifier.Notify(fmt.Sprintf("EMERGENCY SHUTDOWN: %s", riskResult.Reason))
		return
	}

	bar, err := e.latestBar(ctx, symbol, now)
	if err != nil {
		e.logger.Warn("engine: could not fetch latest bar, skipping tick", zap.Error(err))
		return
	}
	if recorder, ok := e.market.(barRecorder); ok {
		recorder.OnBar(bar)
	}

	portfolio, err := e.portfolioSnapshot(ctx)
	if err != nil {
		e.logger.Warn("engine: could not fetch portfolio snapshot, skipping tick", zap.Error(err))
		return
	}

	signal := e.manager.MainSignal(portfolio, bar)
	pos := e.ledger.Get(symbol)
	unrealized := e.ledger.UnrealizedPnL(symbol, bar.Close)

	var veto *types.RiskCheckResult
	if !pos.IsFlat() {
		veto = e.handleOpenPosition(ctx, symbol, signal, pos, bar, unrealized, now)
	} else if (signal.Direction == types.DirectionLong || signal.Direction == types.DirectionShort) && riskResult.Allow {
		e.handleEntry(ctx, symbol, signal, bar, portfolio)
	} else if !riskResult.Allow {
		veto = &riskResult
	}

	e.recorder.RecordTick(TickSnapshot{
		Timestamp:     now,
		Symbol:        symbol,
		Signal:        signal,
		Veto:          veto,
		UnrealizedPnL: unrealized,
	})
}

// exitCondition reports whether signal alone justifies closing pos: an
// explicit exit call, or a directional call opposite the held position.
func exitCondition(signal types.TradeSignal, pos types.Position) bool {
	if signal.Direction == types.DirectionExit {
		return true
	}
	if pos.Quantity.IsPositive() && signal.Direction == types.DirectionShort {
		return true
	}
	if pos.Quantity.IsNegative() && signal.Direction == types.DirectionLong {
		return true
	}
	return false
}

// handleOpenPosition routes an exit when the signal, the max-hold clock,
// or the stop-loss threshold calls for it. Exits still pass through the
// Gatekeeper's CheckExit so the pause/daily/weekly rules it still applies
// to exits (§4.2: exits bypass blackout, news and LLM only) are logged
// for audit, but the veto never blocks the exit itself — it is returned
// to tick() purely for the persisted snapshot.
func (e *Engine) handleOpenPosition(ctx context.Context, symbol string, signal types.TradeSignal, pos types.Position, bar types.Bar, unrealized decimal.Decimal, now time.Time) *types.RiskCheckResult {
	reason := ""
	hardExit := false
	switch {
	case exitCondition(signal, pos):
		reason = "signal exit"
	case pos.EntryTime != nil && now.Sub(*pos.EntryTime) > time.Duration(e.config.MaxHoldMinutes)*time.Minute:
		reason = fmt.Sprintf("%d-MIN HARD EXIT", e.config.MaxHoldMinutes)
		hardExit = true
	case e.gate.StopLossBreached(pos, unrealized):
		reason = "stop loss"
	default:
		return nil
	}

	exitCheck := e.gate.CheckExit(symbol, now)
	var veto *types.RiskCheckResult
	if !exitCheck.Allow {
		veto = &exitCheck
	}

	side := types.OrderSideSell
	if pos.Quantity.IsNegative() {
		side = types.OrderSideBuy
	}
	qty := pos.Quantity.Abs().IntPart()
	if qty <= 0 {
		return veto
	}

	if hardExit {
		e.notifier.Notify(fmt.Sprintf("%s: flattening %s, held since %s", reason, symbol, pos.EntryTime.Format(time.RFC3339)))
	}

	result := e.router.Execute(ctx, execution.Request{
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    bar.Close,
		IsExit:   true,
	})
	e.recordSlippage(symbol, bar.Close, result.Fills)
	e.applyFills(symbol, side, result.Fills, true, pos.TradingMode, reason)
	return veto
}

func (e *Engine) handleEntry(ctx context.Context, symbol string, signal types.TradeSignal, bar types.Bar, portfolio types.Portfolio) {
	have, winRate, avgWin, avgLoss := e.market.TradeStats(symbol)
	sizeResult := sizing.Calculate(sizing.Request{
		Equity:         portfolio.Equity,
		Price:          bar.Close,
		RiskPct:        e.config.RiskPct,
		LotType:        e.config.LotType,
		HaveTradeStats: have,
		WinRate:        winRate,
		AvgWin:         avgWin,
		AvgLoss:        avgLoss,
		ATR:            e.market.ATR(symbol),
	})
	if sizeResult.Shares <= 0 {
		return
	}

	side := types.OrderSideBuy
	if signal.Direction == types.DirectionShort {
		side = types.OrderSideSell
	}

	volatilityPct := decimal.Zero
	if bar.Close.IsPositive() {
		volatilityPct = bar.High.Sub(bar.Low).Div(bar.Close)
	}

	result := e.router.Execute(ctx, execution.Request{
		Symbol:        symbol,
		Side:          side,
		Quantity:      sizeResult.Shares,
		Price:         bar.Close,
		VolatilityPct: volatilityPct,
	})
	e.recordSlippage(symbol, bar.Close, result.Fills)
	e.applyFills(symbol, side, result.Fills, false, e.config.TradingMode, sizeResult.Reasoning)
}

// recordSlippage feeds each fill's realized deviation from the quoted
// price back into the slippage model's historical blend.
func (e *Engine) recordSlippage(symbol string, expectedPrice decimal.Decimal, fills []types.Fill) {
	if e.slip == nil || expectedPrice.IsZero() {
		return
	}
	for _, f := range fills {
		bps := f.FilledPrice.Sub(expectedPrice).Div(expectedPrice).Mul(decimal.NewFromInt(10000)).Abs()
		e.slip.RecordRealized(slippage.Record{
			Symbol:        symbol,
			ExpectedPrice: expectedPrice,
			ExecutedPrice: f.FilledPrice,
			SlippageBps:   bps,
			Timestamp:     f.Timestamp,
		})
	}
}

func (e *Engine) applyFills(symbol string, side types.OrderSide, fills []types.Fill, isExit bool, mode types.TradingMode, reason string) {
	for _, f := range fills {
		realized := e.ledger.Apply(side, symbol, f.FilledQty, f.FilledPrice, mode, f.Timestamp)
		if !realized.IsZero() {
			e.gate.RecordRealizedPnL(realized)
			if recorder, ok := e.market.(tradeRecorder); ok {
				recorder.OnTradeClosed(symbol, realized)
			}
		}
	}
	if len(fills) > 0 {
		e.logger.Info("engine routed order", zap.String("symbol", symbol), zap.String("side", string(side)), zap.Bool("isExit", isExit), zap.String("reason", reason), zap.Int("fills", len(fills)))
	}
}

// flattenOne force-closes symbol's open position via an immediate,
// emergency-flagged order.
func (e *Engine) flattenOne(ctx context.Context, symbol, reason string) error {
	pos := e.ledger.Get(symbol)
	if pos.IsFlat() {
		return nil
	}
	bar, err := e.latestBar(ctx, symbol, time.Now())
	if err != nil {
		return fmt.Errorf("engine: latest bar for flatten %s: %w", symbol, err)
	}

	side := types.OrderSideSell
	if pos.Quantity.IsNegative() {
		side = types.OrderSideBuy
	}

	result := e.router.Execute(ctx, execution.Request{
		Symbol:    symbol,
		Side:      side,
		Quantity:  pos.Quantity.Abs().IntPart(),
		Price:     bar.Close,
		IsExit:    true,
		Emergency: true,
	})
	e.applyFills(symbol, side, result.Fills, true, pos.TradingMode, reason)
	return nil
}

func (e *Engine) flattenAll(ctx context.Context, reason string) {
	for symbol, pos := range e.ledger.Snapshot() {
		if pos.IsFlat() {
			continue
		}
		if err := e.flattenOne(ctx, symbol, reason); err != nil {
			e.logger.Error("engine: failed to flatten position", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (e *Engine) activeSymbol() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config.ActiveSymbol
}

// ActiveSymbol reports the symbol the engine is currently trading, for
// callers outside the package (the command dispatcher, the admin API).
func (e *Engine) ActiveSymbol() string {
	return e.activeSymbol()
}

func (e *Engine) latestBar(ctx context.Context, symbol string, now time.Time) (types.Bar, error) {
	ticks, err := e.bridge.GetQuotes(ctx, 1)
	if err != nil {
		return types.Bar{}, err
	}
	if len(ticks) == 0 {
		return types.Bar{}, fmt.Errorf("engine: no quotes available for %s", symbol)
	}
	t := ticks[0]
	return types.Bar{
		Symbol:     symbol,
		Timeframe:  types.TimeframeTick,
		Timestamp:  now,
		Open:       t.Price,
		High:       t.Price,
		Low:        t.Price,
		Close:      t.Price,
		Volume:     t.Volume,
		IsComplete: true,
	}, nil
}

func (e *Engine) portfolioSnapshot(ctx context.Context) (types.Portfolio, error) {
	resp, err := e.bridge.GetPortfolio(ctx)
	if err != nil {
		return types.Portfolio{}, err
	}
	positions := make(map[string]*types.Position, len(e.ledger.Snapshot()))
	for symbol, pos := range e.ledger.Snapshot() {
		p := pos
		positions[symbol] = &p
	}
	return types.Portfolio{
		Cash:      resp.AvailableMargin,
		Equity:    resp.Equity,
		Positions: positions,
		UpdatedAt: time.Now(),
	}, nil
}

// EODTask is one end-of-day job invoked once per trading day, outside
// the trading window, the first tick after the window closes.
type EODTask func(ctx context.Context, now time.Time)

// RegisterEODTask appends a task run exactly once per day when the
// engine transitions from inside to outside the trading window.
func (e *Engine) RegisterEODTask(task EODTask) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eodTasks = append(e.eodTasks, task)
}

func (e *Engine) runEODTasks(ctx context.Context, now time.Time) {
	e.mu.Lock()
	tasks := append([]EODTask(nil), e.eodTasks...)
	e.eodDone = true
	e.mu.Unlock()

	for _, task := range tasks {
		task(ctx, now)
	}
}
