package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

func TestCheck_PauseFlagPreemptsEverything(t *testing.T) {
	g := New(zap.NewNop(), DefaultConfig())
	g.Pause()
	res := g.Check("2454.TW", time.Now())
	if res.Allow || res.Severity != types.RiskSeverityFatal {
		t.Fatalf("expected fatal veto from pause flag, got %+v", res)
	}
}

func TestCheck_DailyLossBreach_Scenario(t *testing.T) {
	// §8 scenario 3: realized P&L for the day = -5000, dailyLossLimit = 4500.
	g := New(zap.NewNop(), DefaultConfig())
	g.RecordRealizedPnL(decimal.NewFromInt(-5000))

	if !g.IsDailyLimitBreached() {
		t.Fatalf("expected daily limit breached")
	}
	res := g.Check("2454.TW", time.Now())
	if res.Allow || res.Severity != types.RiskSeverityFatal {
		t.Fatalf("expected fatal veto on daily-loss breach, got %+v", res)
	}
}

func TestCheck_RiskPrecedence_FatalBeatsEverythingElse(t *testing.T) {
	g := New(zap.NewNop(), DefaultConfig())
	g.SetNewsVeto(true)
	g.RecordRealizedPnL(decimal.NewFromInt(-10000))

	res := g.Check("2454.TW", time.Now())
	if res.Severity != types.RiskSeverityFatal {
		t.Fatalf("expected the daily-loss fatal check to preempt the news veto, got severity %s", res.Severity)
	}
}

func TestCheck_AllowsWhenNothingTripped(t *testing.T) {
	g := New(zap.NewNop(), DefaultConfig())
	res := g.Check("2454.TW", time.Now())
	if !res.Allow {
		t.Fatalf("expected allow, got %+v", res)
	}
}

func TestStopLossBreached_Stock(t *testing.T) {
	g := New(zap.NewNop(), DefaultConfig())
	pos := types.Position{
		Symbol:        "2454.TW",
		Quantity:      decimal.NewFromInt(1000),
		AvgEntryPrice: decimal.NewFromInt(100),
		TradingMode:   types.TradingModeStock,
	}
	// 5% of 1000*100 = 5000; a -5500 unrealized loss breaches it.
	if !g.StopLossBreached(pos, decimal.NewFromInt(-5500)) {
		t.Fatalf("expected stop loss breached")
	}
	if g.StopLossBreached(pos, decimal.NewFromInt(-1000)) {
		t.Fatalf("did not expect stop loss breached")
	}
}

func TestCheck_WeeklyLossBreach_ArmsPauseUntilMonday(t *testing.T) {
	g := New(zap.NewNop(), DefaultConfig())
	g.RecordRealizedPnL(decimal.NewFromInt(-20000))
	// The loss belongs to earlier days of the week: clear the daily total so
	// only the weekly limit (checked after the daily one) is breached.
	g.ResetDaily()

	wed := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC) // a Wednesday
	res := g.Check("2454.TW", wed)
	if res.Allow || res.Severity != types.RiskSeverityWarn {
		t.Fatalf("expected weekly-loss veto, got %+v", res)
	}

	// The pause should hold through Friday and only lift once Monday arrives.
	fri := wed.AddDate(0, 0, 2)
	if g.Check("2454.TW", fri).Allow {
		t.Fatalf("expected weekly pause to still be armed on Friday")
	}
}

func TestCheckExit_BypassesNewsAndBlackoutButNotDailyFatal(t *testing.T) {
	g := New(zap.NewNop(), DefaultConfig())
	g.SetNewsVeto(true)
	g.SetBlackout("2454.TW", []BlackoutWindow{{Symbol: "2454.TW", Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour)}})

	res := g.CheckExit("2454.TW", time.Now())
	if !res.Allow {
		t.Fatalf("expected CheckExit to bypass news/blackout, got %+v", res)
	}

	g.RecordRealizedPnL(decimal.NewFromInt(-5000))
	res = g.CheckExit("2454.TW", time.Now())
	if res.Allow || res.Severity != types.RiskSeverityFatal {
		t.Fatalf("expected CheckExit to still observe the daily-loss fatal breach, got %+v", res)
	}
}

func TestStopLossBreached_FuturesPerContract(t *testing.T) {
	g := New(zap.NewNop(), DefaultConfig()) // -500/contract default
	pos := types.Position{
		Symbol:      "TXFF4",
		Quantity:    decimal.NewFromInt(2),
		TradingMode: types.TradingModeFutures,
	}
	if !g.StopLossBreached(pos, decimal.NewFromInt(-1200)) { // -600/contract
		t.Fatalf("expected per-contract stop loss breached")
	}
	if g.StopLossBreached(pos, decimal.NewFromInt(-600)) { // -300/contract
		t.Fatalf("did not expect per-contract stop loss breached")
	}
}
