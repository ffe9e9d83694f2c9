package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/bridge"
	"github.com/DreamFulFil/atrader/internal/execution"
	"github.com/DreamFulFil/atrader/internal/ledger"
	"github.com/DreamFulFil/atrader/internal/risk"
	"github.com/DreamFulFil/atrader/internal/slippage"
	"github.com/DreamFulFil/atrader/internal/strategy"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// fixedSignalStrategy always returns the configured signal.
type fixedSignalStrategy struct {
	name   string
	market string
	signal types.TradeSignal
}

func (s *fixedSignalStrategy) Name() string       { return s.name }
func (s *fixedSignalStrategy) MarketCode() string { return s.market }
func (s *fixedSignalStrategy) Evaluate(_ context.Context, _ types.Portfolio, bar types.Bar) (types.TradeSignal, error) {
	sig := s.signal
	sig.Symbol = bar.Symbol
	sig.Price = bar.Close
	sig.Timestamp = bar.Timestamp
	return sig, nil
}
func (s *fixedSignalStrategy) Reset() {}

type zeroMarketData struct{}

func (zeroMarketData) ADV(string) decimal.Decimal { return decimal.NewFromInt(1_000_000) }
func (zeroMarketData) ATR(string) decimal.Decimal { return decimal.Zero }
func (zeroMarketData) TradeStats(string) (bool, decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	return false, decimal.Zero, decimal.Zero, decimal.Zero
}

func newTestEngine(t *testing.T, handler http.HandlerFunc, direction types.Direction) (*Engine, *ledger.Ledger, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)

	logger := zap.NewNop()
	bc := bridge.New(logger, srv.URL)
	led := ledger.New(logger)
	gate := risk.New(logger, risk.DefaultConfig())
	reg := strategy.NewRegistry()
	reg.Register("fixed", func() strategy.Strategy {
		return &fixedSignalStrategy{name: "fixed", market: "TW_STOCK", signal: types.TradeSignal{Direction: direction, Confidence: decimal.NewFromFloat(0.9)}}
	})
	mgr := strategy.New(logger, reg)
	if err := mgr.SetMain("fixed", "2454.TW"); err != nil {
		t.Fatalf("SetMain: %v", err)
	}
	router := execution.New(logger, bc)
	slip := slippage.New(logger)

	cfg := DefaultConfig("2454.TW")
	cfg.TickInterval = 10 * time.Millisecond
	eng := New(logger, cfg, bc, led, gate, mgr, router, slip, zeroMarketData{}, nil, nil)

	return eng, led, srv.Close
}

// spyNotifier records every message it is asked to deliver, for tests
// that assert on the exact operator-facing text.
type spyNotifier struct {
	messages []string
}

func (n *spyNotifier) Notify(message string) {
	n.messages = append(n.messages, message)
}

// newTestEngineWithGate is like newTestEngine but returns the Gatekeeper
// and a spyNotifier so a test can arm a risk condition beforehand and
// assert on the operator alert it produces.
func newTestEngineWithGate(t *testing.T, handler http.HandlerFunc, direction types.Direction) (*Engine, *ledger.Ledger, *risk.Gatekeeper, *spyNotifier, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)

	logger := zap.NewNop()
	bc := bridge.New(logger, srv.URL)
	led := ledger.New(logger)
	gate := risk.New(logger, risk.DefaultConfig())
	reg := strategy.NewRegistry()
	reg.Register("fixed", func() strategy.Strategy {
		return &fixedSignalStrategy{name: "fixed", market: "TW_STOCK", signal: types.TradeSignal{Direction: direction, Confidence: decimal.NewFromFloat(0.9)}}
	})
	mgr := strategy.New(logger, reg)
	if err := mgr.SetMain("fixed", "2454.TW"); err != nil {
		t.Fatalf("SetMain: %v", err)
	}
	router := execution.New(logger, bc)
	slip := slippage.New(logger)
	notifier := &spyNotifier{}

	cfg := DefaultConfig("2454.TW")
	cfg.TickInterval = 10 * time.Millisecond
	eng := New(logger, cfg, bc, led, gate, mgr, router, slip, zeroMarketData{}, nil, notifier)

	return eng, led, gate, notifier, srv.Close
}

func bridgeHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/stream/quotes":
			json.NewEncoder(w).Encode([]bridge.Tick{{Timestamp: time.Now(), Price: decimal.NewFromInt(600), Volume: decimal.NewFromInt(1000)}})
		case r.URL.Path == "/portfolio":
			json.NewEncoder(w).Encode(bridge.PortfolioResponse{Equity: decimal.NewFromInt(1_000_000), AvailableMargin: decimal.NewFromInt(1_000_000)})
		case r.URL.Path == "/order":
			json.NewEncoder(w).Encode("order_filled")
		default:
			t.Fatalf("unexpected bridge call: %s", r.URL.Path)
		}
	}
}

func withinTradingWindow() time.Time {
	now := time.Now()
	for now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		now = now.AddDate(0, 0, 1)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 10, 0, 0, 0, now.Location())
}

func TestTick_FlatPositionRoutesEntryOnLongSignal(t *testing.T) {
	eng, led, closeFn := newTestEngine(t, bridgeHandler(t), types.DirectionLong)
	defer closeFn()

	eng.tick(context.Background(), withinTradingWindow())

	pos := led.Get("2454.TW")
	if pos.IsFlat() {
		t.Fatalf("expected a non-flat position after a long entry signal")
	}
	if !pos.Quantity.IsPositive() {
		t.Fatalf("expected a long position, got quantity %s", pos.Quantity)
	}
}

func TestTick_OpenPositionExitsOnExitSignal(t *testing.T) {
	eng, led, closeFn := newTestEngine(t, bridgeHandler(t), types.DirectionExit)
	defer closeFn()

	led.Apply(types.OrderSideBuy, "2454.TW", decimal.NewFromInt(1000), decimal.NewFromInt(590), types.TradingModeStock, withinTradingWindow().Add(-time.Hour))

	eng.tick(context.Background(), withinTradingWindow())

	pos := led.Get("2454.TW")
	if !pos.IsFlat() {
		t.Fatalf("expected position to be flattened on exit signal, got quantity %s", pos.Quantity)
	}
}

func TestTick_OutsideWindowRunsEODTasksExactlyOnce(t *testing.T) {
	eng, _, closeFn := newTestEngine(t, bridgeHandler(t), types.DirectionNeutral)
	defer closeFn()

	var calls int32
	eng.RegisterEODTask(func(context.Context, time.Time) {
		atomic.AddInt32(&calls, 1)
	})

	now := withinTradingWindow()
	eng.mu.Lock()
	eng.lastWindowOn = true
	eng.mu.Unlock()

	afterClose := now.Add(5 * time.Hour) // well past 13:30
	eng.tick(context.Background(), afterClose)
	eng.tick(context.Background(), afterClose.Add(time.Minute))

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected EOD tasks to fire exactly once, fired %d times", got)
	}
}

func TestTick_NeutralSignalFlatPositionStaysFlat(t *testing.T) {
	eng, led, closeFn := newTestEngine(t, bridgeHandler(t), types.DirectionNeutral)
	defer closeFn()

	eng.tick(context.Background(), withinTradingWindow())

	if !led.Get("2454.TW").IsFlat() {
		t.Fatalf("expected position to remain flat on a neutral signal")
	}
}

func TestTick_DailyLossBreach_TriggersEmergencyShutdownAndNotifies(t *testing.T) {
	// §8 scenario 3: realized P&L for the day = -5000, dailyLossLimit = 4500.
	eng, led, gate, notifier, closeFn := newTestEngineWithGate(t, bridgeHandler(t), types.DirectionNeutral)
	defer closeFn()

	led.Apply(types.OrderSideBuy, "2454.TW", decimal.NewFromInt(1000), decimal.NewFromInt(590), types.TradingModeStock, withinTradingWindow().Add(-time.Hour))
	gate.RecordRealizedPnL(decimal.NewFromInt(-5000))

	eng.tick(context.Background(), withinTradingWindow())

	if !gate.IsEmergencyShutdown() {
		t.Fatalf("expected IsEmergencyShutdown to be true after a daily-loss breach")
	}
	if !led.Get("2454.TW").IsFlat() {
		t.Fatalf("expected the position to be flattened by the emergency shutdown")
	}
	found := false
	for _, m := range notifier.messages {
		if strings.Contains(m, "EMERGENCY SHUTDOWN") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a notification containing \"EMERGENCY SHUTDOWN\", got %v", notifier.messages)
	}
}

func TestTick_MaxHoldExceeded_NotifiesHardExit(t *testing.T) {
	// §8 scenario 2: position held for 46 minutes against a 45-minute cap.
	eng, led, _, notifier, closeFn := newTestEngineWithGate(t, bridgeHandler(t), types.DirectionNeutral)
	defer closeFn()
	eng.config.MaxHoldMinutes = 45

	entryTime := withinTradingWindow().Add(-46 * time.Minute)
	led.Apply(types.OrderSideBuy, "2454.TW", decimal.NewFromInt(2), decimal.NewFromInt(22500), types.TradingModeStock, entryTime)

	eng.tick(context.Background(), withinTradingWindow())

	if !led.Get("2454.TW").IsFlat() {
		t.Fatalf("expected the position to be flattened by the max-hold exit")
	}
	found := false
	for _, m := range notifier.messages {
		if strings.Contains(m, "45-MIN HARD EXIT") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a notification containing \"45-MIN HARD EXIT\", got %v", notifier.messages)
	}
}

func TestTradingWindow_ContainsWeekendIsFalse(t *testing.T) {
	w := DefaultTradingWindow()
	sat := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC) // a Saturday
	if w.Contains(sat) {
		t.Fatalf("expected weekend to be outside the trading window")
	}
}

func TestTradingWindow_ContainsWeekdayWithinHours(t *testing.T) {
	w := DefaultTradingWindow()
	if !w.Contains(withinTradingWindow()) {
		t.Fatalf("expected 10:00 on a weekday to be inside the trading window")
	}
}
