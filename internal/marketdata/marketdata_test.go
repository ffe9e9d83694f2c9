package marketdata

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DreamFulFil/atrader/pkg/types"
)

func bar(close decimal.Decimal, volume int64, at time.Time) types.Bar {
	return types.Bar{
		Symbol: "2454.TW", Timeframe: types.Timeframe1Day, Timestamp: at,
		Open: close, High: close.Mul(decimal.NewFromFloat(1.01)), Low: close.Mul(decimal.NewFromFloat(0.99)),
		Close: close, Volume: decimal.NewFromInt(volume), IsComplete: true,
	}
}

func TestTracker_ADV_AveragesRetainedVolume(t *testing.T) {
	tr := New()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tr.OnBar(bar(decimal.NewFromInt(600), 1000, now))
	tr.OnBar(bar(decimal.NewFromInt(601), 2000, now.Add(24*time.Hour)))

	adv := tr.ADV("2454.TW")
	if !adv.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected ADV 1500, got %s", adv)
	}
}

func TestTracker_ADV_UnknownSymbolIsZero(t *testing.T) {
	tr := New()
	if !tr.ADV("nope").IsZero() {
		t.Fatalf("expected zero ADV for an untracked symbol")
	}
}

func TestTracker_ATR_RequiresAtLeastTwoBars(t *testing.T) {
	tr := New()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tr.OnBar(bar(decimal.NewFromInt(600), 1000, now))
	if !tr.ATR("2454.TW").IsZero() {
		t.Fatalf("expected zero ATR with a single bar")
	}

	tr.OnBar(bar(decimal.NewFromInt(610), 1000, now.Add(24*time.Hour)))
	if tr.ATR("2454.TW").IsZero() {
		t.Fatalf("expected a nonzero ATR once a second bar arrives")
	}
}

func TestTracker_TradeStats_ComputesWinRateAndAverages(t *testing.T) {
	tr := New()
	tr.OnTradeClosed("2454.TW", decimal.NewFromInt(100))
	tr.OnTradeClosed("2454.TW", decimal.NewFromInt(-50))
	tr.OnTradeClosed("2454.TW", decimal.NewFromInt(200))

	have, winRate, avgWin, avgLoss := tr.TradeStats("2454.TW")
	if !have {
		t.Fatalf("expected trade stats to be available")
	}
	diff := winRate.Sub(decimal.NewFromInt(2).Div(decimal.NewFromInt(3))).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Fatalf("expected win rate ~2/3, got %s", winRate)
	}
	if !avgWin.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected avg win 150, got %s", avgWin)
	}
	if !avgLoss.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected avg loss 50, got %s", avgLoss)
	}
}

func TestTracker_TradeStats_NoTradesReportsUnavailable(t *testing.T) {
	tr := New()
	have, _, _, _ := tr.TradeStats("2454.TW")
	if have {
		t.Fatalf("expected trade stats to be unavailable with no trade history")
	}
}
