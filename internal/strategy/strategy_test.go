package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

func bar(close decimal.Decimal, at time.Time) types.Bar {
	return types.Bar{Symbol: "2454.TW", Close: close, Open: close, High: close, Low: close, Timestamp: at}
}

func TestMomentumStrategy_SignalsLongOnBreakout(t *testing.T) {
	s := NewMomentumStrategy("momentum", "TW_STOCK", 3, decimal.NewFromFloat(0.02))
	now := time.Now()
	prices := []string{"100", "100", "100", "110"}
	var last types.TradeSignal
	for i, p := range prices {
		v, _ := decimal.NewFromString(p)
		sig, err := s.Evaluate(context.Background(), types.Portfolio{}, bar(v, now.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		last = sig
	}
	if last.Direction != types.DirectionLong {
		t.Fatalf("expected long signal on breakout, got %s", last.Direction)
	}
}

func TestManager_EvalDeadlineTreatsSlowStrategyAsNeutral(t *testing.T) {
	reg := NewRegistry()
	reg.Register("slow", func() Strategy { return &slowStrategy{} })
	m := New(zap.NewNop(), reg)
	if err := m.SetMain("slow", "2454.TW"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sig := m.MainSignal(types.Portfolio{}, bar(decimal.NewFromInt(100), time.Now()))
	if sig.Direction != types.DirectionNeutral {
		t.Fatalf("expected neutral signal from slow strategy, got %s", sig.Direction)
	}
}

func TestManager_MaybeSwap_PromotesHighestSharpeMatchingMarket(t *testing.T) {
	reg := NewRegistry()
	reg.Register("main", func() Strategy { return &fixedStrategy{name: "main", marketCode: "TW_STOCK"} })
	reg.Register("shadow-good", func() Strategy { return &fixedStrategy{name: "shadow-good", marketCode: "TW_STOCK"} })
	reg.Register("shadow-wrong-market", func() Strategy { return &fixedStrategy{name: "shadow-wrong-market", marketCode: "TW_FUTURES"} })

	m := New(zap.NewNop(), reg)
	_ = m.SetMain("main", "2454.TW")
	_ = m.AddShadow("shadow-good", "2454.TW")
	_ = m.AddShadow("shadow-wrong-market", "TXFF4")

	now := time.Now()
	// drive main's equity down to trip the 15% drawdown trigger.
	equities := []string{"1000000", "1000000", "1000000", "1000000", "800000"}
	for i, eq := range equities {
		v, _ := decimal.NewFromString(eq)
		portfolio := types.Portfolio{Equity: v}
		m.EvaluateAll(portfolio, bar(decimal.NewFromInt(100), now.Add(time.Duration(i)*time.Minute)))
	}

	name, swapped := m.MaybeSwap()
	if !swapped {
		t.Fatalf("expected a swap to occur once drawdown trigger is breached")
	}
	if name != "shadow-good" {
		t.Fatalf("expected swap to shadow-good (matching market), got %s", name)
	}
}

// slowStrategy always exceeds EvalDeadline.
type slowStrategy struct{}

func (s *slowStrategy) Name() string       { return "slow" }
func (s *slowStrategy) MarketCode() string { return "TW_STOCK" }
func (s *slowStrategy) Reset()             {}
func (s *slowStrategy) Evaluate(ctx context.Context, portfolio types.Portfolio, b types.Bar) (types.TradeSignal, error) {
	time.Sleep(EvalDeadline * 3)
	return types.TradeSignal{Direction: types.DirectionLong, Symbol: b.Symbol, Timestamp: b.Timestamp}, nil
}

// fixedStrategy always returns neutral; used only to drive the shadow
// equity/Sharpe bookkeeping in Manager tests.
type fixedStrategy struct {
	name       string
	marketCode string
}

func (s *fixedStrategy) Name() string       { return s.name }
func (s *fixedStrategy) MarketCode() string { return s.marketCode }
func (s *fixedStrategy) Reset()             {}
func (s *fixedStrategy) Evaluate(ctx context.Context, portfolio types.Portfolio, b types.Bar) (types.TradeSignal, error) {
	return types.TradeSignal{Direction: types.DirectionNeutral, Symbol: b.Symbol, Timestamp: b.Timestamp}, nil
}
