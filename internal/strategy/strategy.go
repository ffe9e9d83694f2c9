// Package strategy implements the Strategy Manager (C3): a main strategy
// bound to the active symbol, zero or more shadow strategies tracked for
// comparison, bounded-deadline parallel evaluation, and the drawdown-driven
// swap task that promotes a shadow to main.
//
// Grounded on the teacher's strategy.go Strategy/StrategyRegistry
// interface shape (Name/Parameters/Reset, a name-keyed registry of
// factories) and on workers/pool.go's executeTask goroutine+select
// timeout pattern, adapted here per-strategy instead of per-pool-task.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/regime"
	"github.com/DreamFulFil/atrader/internal/signals"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// EvalDeadline bounds how long the manager waits for one strategy's
// signal before treating it as neutral.
const EvalDeadline = 200 * time.Millisecond

// SwapCheckInterval is the cadence of the drawdown-driven swap task.
const SwapCheckInterval = 5 * time.Minute

// SharpeWindow is the rolling window used for shadow-performance Sharpe.
const SharpeWindow = 30 * 24 * time.Hour

// MaxDrawdownTrigger is the main strategy's trailing drawdown threshold
// that triggers an automatic swap.
var MaxDrawdownTrigger = decimal.NewFromFloat(0.15)

// Strategy is a pure function over a portfolio snapshot and the latest bar.
// Implementations must not read or mutate any other strategy's state.
type Strategy interface {
	Name() string
	MarketCode() string
	Evaluate(ctx context.Context, portfolio types.Portfolio, bar types.Bar) (types.TradeSignal, error)
	Reset()
}

// Registry creates named strategy instances.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]func() Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Strategy)}
}

// Register adds a strategy factory under name.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the named strategy, or reports it unknown.
func (r *Registry) Create(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// List returns every registered strategy name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// shadowResult is one recorded shadow-strategy evaluation, kept for the
// rolling Sharpe/drawdown computation.
type shadowResult struct {
	at      time.Time
	pnl     decimal.Decimal
	equity  decimal.Decimal
}

// binding pairs a live Strategy instance with its symbol.
type binding struct {
	strategy Strategy
	symbol   string
}

// Manager holds the main strategy and its shadows, and evaluates all of
// them in parallel each tick under a shared deadline.
type Manager struct {
	logger   *zap.Logger
	registry *Registry

	mu     sync.RWMutex
	main   binding
	shadow map[string]binding // keyed by strategy name

	results map[string][]shadowResult // keyed by strategy name
	peak    map[string]decimal.Decimal

	regime *regime.RegimeDetector // optional; see regime_advisor.go

	consensus signals.Consensus // latest cross-strategy reading; see EvaluateAll
}

// New constructs a Manager with no main strategy bound yet.
func New(logger *zap.Logger, registry *Registry) *Manager {
	return &Manager{
		logger:   logger,
		registry: registry,
		shadow:   make(map[string]binding),
		results:  make(map[string][]shadowResult),
		peak:     make(map[string]decimal.Decimal),
	}
}

// Consensus returns the ensemble's cross-strategy signal reading from the
// most recent EvaluateAll call, weighted by each strategy's rolling Sharpe.
func (m *Manager) Consensus() signals.Consensus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consensus
}

// SetMain binds name as the live main strategy for symbol. This is only
// ever invoked by an explicit operator command or the automatic swap task
// — never implicitly on a stock change.
func (m *Manager) SetMain(name, symbol string) error {
	s, ok := m.registry.Create(name)
	if !ok {
		return errUnknownStrategy(name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.main = binding{strategy: s, symbol: symbol}
	return nil
}

// AddShadow registers name as a shadow strategy tracked for symbol.
func (m *Manager) AddShadow(name, symbol string) error {
	s, ok := m.registry.Create(name)
	if !ok {
		return errUnknownStrategy(name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadow[name] = binding{strategy: s, symbol: symbol}
	return nil
}

// MainSignal evaluates only the main strategy and returns its signal,
// treating a deadline overrun as neutral.
func (m *Manager) MainSignal(portfolio types.Portfolio, bar types.Bar) types.TradeSignal {
	m.mu.RLock()
	main := m.main
	m.mu.RUnlock()
	if main.strategy == nil {
		return types.TradeSignal{Direction: types.DirectionNeutral, Symbol: bar.Symbol, Timestamp: bar.Timestamp}
	}
	return m.evaluateWithDeadline(main.strategy, portfolio, bar)
}

// EvaluateAll runs the main and every shadow strategy in parallel under
// EvalDeadline, and records each shadow's result for later Sharpe/drawdown
// computation. Only the main strategy's signal is returned to the caller;
// shadow signals feed the internal performance store.
func (m *Manager) EvaluateAll(portfolio types.Portfolio, bar types.Bar) types.TradeSignal {
	m.mu.RLock()
	main := m.main
	shadows := make([]binding, 0, len(m.shadow))
	for _, b := range m.shadow {
		shadows = append(shadows, b)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	var votesMu sync.Mutex
	votes := make([]signals.Vote, 0, len(shadows)+1)
	var mainSignal types.TradeSignal
	if main.strategy != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mainSignal = m.evaluateWithDeadline(main.strategy, portfolio, bar)
			m.recordShadowResult(main.strategy.Name(), bar.Timestamp, mainSignal, portfolio)
			weight := m.rollingSharpe(main.strategy.Name())
			if weight.IsNegative() {
				weight = decimal.Zero
			}
			votesMu.Lock()
			votes = append(votes, signals.Vote{StrategyName: main.strategy.Name(), Signal: mainSignal, Weight: weight})
			votesMu.Unlock()
		}()
	}

	for _, b := range shadows {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig := m.evaluateWithDeadline(b.strategy, portfolio, bar)
			m.recordShadowResult(b.strategy.Name(), bar.Timestamp, sig, portfolio)
			weight := m.rollingSharpe(b.strategy.Name())
			if weight.IsNegative() {
				weight = decimal.Zero
			}
			votesMu.Lock()
			votes = append(votes, signals.Vote{StrategyName: b.strategy.Name(), Signal: sig, Weight: weight})
			votesMu.Unlock()
		}()
	}
	wg.Wait()

	consensus := signals.Aggregate(bar.Symbol, votes, bar.Timestamp)
	m.mu.Lock()
	m.consensus = consensus
	m.mu.Unlock()

	if main.strategy == nil {
		return types.TradeSignal{Direction: types.DirectionNeutral, Symbol: bar.Symbol, Timestamp: bar.Timestamp}
	}
	return mainSignal
}

// evaluateWithDeadline runs a single strategy's Evaluate under EvalDeadline;
// a slow strategy is treated as neutral and never blocks its siblings.
func (m *Manager) evaluateWithDeadline(s Strategy, portfolio types.Portfolio, bar types.Bar) types.TradeSignal {
	ctx, cancel := context.WithTimeout(context.Background(), EvalDeadline)
	defer cancel()

	done := make(chan types.TradeSignal, 1)
	go func() {
		sig, err := s.Evaluate(ctx, portfolio, bar)
		if err != nil {
			sig = types.TradeSignal{Direction: types.DirectionNeutral, Symbol: bar.Symbol, Timestamp: bar.Timestamp, Reason: err.Error()}
		}
		done <- sig
	}()

	select {
	case sig := <-done:
		return sig
	case <-ctx.Done():
		m.logger.Warn("strategy evaluation missed deadline, treating as neutral",
			zap.String("strategy", s.Name()), zap.Duration("deadline", EvalDeadline))
		return types.TradeSignal{Direction: types.DirectionNeutral, Symbol: bar.Symbol, Timestamp: bar.Timestamp, StrategyName: s.Name()}
	}
}

func (m *Manager) recordShadowResult(name string, at time.Time, sig types.TradeSignal, portfolio types.Portfolio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	equity := portfolio.Equity
	m.results[name] = append(m.results[name], shadowResult{at: at, equity: equity})
	if peak, ok := m.peak[name]; !ok || equity.GreaterThan(peak) {
		m.peak[name] = equity
	}
	cutoff := at.Add(-SharpeWindow)
	trimmed := m.results[name][:0]
	for _, r := range m.results[name] {
		if r.at.After(cutoff) {
			trimmed = append(trimmed, r)
		}
	}
	m.results[name] = trimmed
}

// MainDrawdown returns the main strategy's trailing drawdown from its
// rolling peak equity.
func (m *Manager) MainDrawdown() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name := m.main.strategy
	if name == nil {
		return decimal.Zero
	}
	return m.drawdownFor(m.main.strategy.Name())
}

func (m *Manager) drawdownFor(name string) decimal.Decimal {
	results := m.results[name]
	peak, ok := m.peak[name]
	if !ok || len(results) == 0 || peak.IsZero() {
		return decimal.Zero
	}
	last := results[len(results)-1].equity
	return peak.Sub(last).Div(peak)
}

// rollingSharpe computes an annualized Sharpe ratio from a shadow's
// recorded equity series over the rolling window, matching the standard
// dailySharpe * sqrt(252) annualization used across the backtester.
func (m *Manager) rollingSharpe(name string) decimal.Decimal {
	results := m.results[name]
	if len(results) < 2 {
		return decimal.Zero
	}
	returns := make([]float64, 0, len(results)-1)
	for i := 1; i < len(results); i++ {
		prev := results[i-1].equity
		if prev.IsZero() {
			continue
		}
		r := results[i].equity.Sub(prev).Div(prev)
		returns = append(returns, r.InexactFloat64())
	}
	if len(returns) == 0 {
		return decimal.Zero
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	if variance == 0 {
		return decimal.Zero
	}
	stdDev := sqrt(variance)
	dailySharpe := mean / stdDev
	return decimal.NewFromFloat(dailySharpe * sqrt(252))
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 40; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

// MaybeSwap implements the drawdown-driven swap task (§4.3): if the main
// strategy's trailing drawdown exceeds MaxDrawdownTrigger, it is atomically
// replaced with the highest rolling-Sharpe shadow whose market code matches
// the main's current symbol market. It returns the new main strategy name
// and true if a swap occurred. Stock/symbol changes are never performed
// here — only the strategy binding changes.
func (m *Manager) MaybeSwap() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.main.strategy == nil {
		return "", false
	}
	dd := m.drawdownFor(m.main.strategy.Name())
	if dd.LessThanOrEqual(MaxDrawdownTrigger) {
		return "", false
	}

	var adj *regime.StrategyAdjustments
	var regimeState string
	if m.regime != nil {
		adj = m.regime.GetStrategyAdjustments()
		if st := m.regime.GetCurrentRegime(); st != nil {
			regimeState = string(st.Primary)
		}
	}

	var best binding
	var bestReason string
	bestScore := decimal.NewFromFloat(-1 << 30)
	bestSharpe := decimal.Zero
	for _, b := range m.shadow {
		if b.strategy.MarketCode() != m.main.strategy.MarketCode() {
			continue
		}
		sharpe := m.rollingSharpe(b.strategy.Name())
		bias, reason := regimeBias(adj, b.strategy.Name())
		score := sharpe.Mul(bias)
		if score.GreaterThan(bestScore) {
			bestScore = score
			bestSharpe = sharpe
			best = b
			bestReason = reason
		}
	}
	if best.strategy == nil {
		return "", false
	}

	oldName := m.main.strategy.Name()
	m.main = binding{strategy: best.strategy, symbol: m.main.symbol}
	fields := []zap.Field{
		zap.String("from", oldName),
		zap.String("to", best.strategy.Name()),
		zap.String("drawdown", dd.String()),
		zap.String("sharpe", bestSharpe.String()),
	}
	if regimeState != "" {
		fields = append(fields, zap.String("regime", regimeState))
	}
	if bestReason != "" {
		fields = append(fields, zap.String("regime_reason", bestReason))
	}
	if m.consensus.Direction != "" {
		fields = append(fields,
			zap.String("consensus_direction", string(m.consensus.Direction)),
			zap.String("consensus_score", m.consensus.ConsensusScore.String()),
		)
	}
	m.logger.Warn("automatic strategy swap due to drawdown", fields...)
	return best.strategy.Name(), true
}

type unknownStrategyError string

func (e unknownStrategyError) Error() string { return "strategy: unknown strategy " + string(e) }

func errUnknownStrategy(name string) error { return unknownStrategyError(name) }
