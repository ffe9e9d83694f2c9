package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestApply_SameSignAveragesEntryPrice(t *testing.T) {
	l := New(zap.NewNop())
	now := time.Now()

	l.Apply(types.OrderSideBuy, "2454.TW", d("1000"), d("100"), types.TradingModeStock, now)
	l.Apply(types.OrderSideBuy, "2454.TW", d("1000"), d("110"), types.TradingModeStock, now)

	pos := l.Get("2454.TW")
	if !pos.Quantity.Equal(d("2000")) {
		t.Fatalf("expected qty 2000, got %s", pos.Quantity)
	}
	if !pos.AvgEntryPrice.Equal(d("105")) {
		t.Fatalf("expected avg entry 105, got %s", pos.AvgEntryPrice)
	}
}

func TestApply_EntryTimeResetsOnlyFromFlat(t *testing.T) {
	l := New(zap.NewNop())
	t1 := time.Now()
	t2 := t1.Add(time.Hour)

	l.Apply(types.OrderSideBuy, "2454.TW", d("1000"), d("100"), types.TradingModeStock, t1)
	first := l.Get("2454.TW").EntryTime

	l.Apply(types.OrderSideBuy, "2454.TW", d("1000"), d("100"), types.TradingModeStock, t2)
	second := l.Get("2454.TW").EntryTime

	if first == nil || second == nil || !first.Equal(*second) {
		t.Fatalf("expected entry time preserved across same-direction add, got %v then %v", first, second)
	}
}

func TestApply_SignFlipRealizesAndReseeds(t *testing.T) {
	l := New(zap.NewNop())
	now := time.Now()

	l.Apply(types.OrderSideBuy, "2454.TW", d("1000"), d("100"), types.TradingModeStock, now)
	realized := l.Apply(types.OrderSideSell, "2454.TW", d("1500"), d("110"), types.TradingModeStock, now)

	// closes 1000 long @ (110-100)=10/share = 10000, then flips short 500 @ 110.
	if !realized.Equal(d("10000")) {
		t.Fatalf("expected realized 10000, got %s", realized)
	}
	pos := l.Get("2454.TW")
	if !pos.Quantity.Equal(d("-500")) {
		t.Fatalf("expected residual short -500, got %s", pos.Quantity)
	}
	if !pos.AvgEntryPrice.Equal(d("110")) {
		t.Fatalf("expected reseeded entry 110, got %s", pos.AvgEntryPrice)
	}
}

func TestFlatten_ProducesExactlyOneRealizedEntry(t *testing.T) {
	l := New(zap.NewNop())
	now := time.Now()
	l.Apply(types.OrderSideBuy, "2330.TW", d("70"), d("590"), types.TradingModeStock, now)

	realized, err := l.Flatten("2330.TW", d("600"), "change-stock", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !realized.Equal(d("700")) { // 70 * (600-590)
		t.Fatalf("expected realized 700, got %s", realized)
	}
	pos := l.Get("2330.TW")
	if !pos.IsFlat() || pos.EntryTime != nil {
		t.Fatalf("expected flat position with nil entry time, got %+v", pos)
	}

	if _, err := l.Flatten("2330.TW", d("600"), "already flat", now); err == nil {
		t.Fatalf("expected error flattening an already-flat position")
	}
}

func TestAccountingIdentity_RealizedPlusUnrealizedEqualsMarkedPnL(t *testing.T) {
	l := New(zap.NewNop())
	now := time.Now()

	l.Apply(types.OrderSideBuy, "2454.TW", d("1000"), d("100"), types.TradingModeStock, now)
	realized := l.Apply(types.OrderSideSell, "2454.TW", d("400"), d("105"), types.TradingModeStock, now)

	mark := d("108")
	unrealized := l.UnrealizedPnL("2454.TW", mark)

	// sum(signedQty * (mark - fillPrice)) for fills (+1000@100, -400@105):
	// 1000*(108-100) + (-400)*(108-105) = 8000 - 1200 = 6800
	expected := d("1000").Mul(mark.Sub(d("100"))).Add(d("-400").Mul(mark.Sub(d("105"))))
	got := realized.Add(unrealized)
	if !got.Equal(expected) {
		t.Fatalf("accounting identity violated: got %s want %s", got, expected)
	}
}
