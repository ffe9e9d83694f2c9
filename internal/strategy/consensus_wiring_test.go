package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// directionalStrategy always signals the configured direction at a fixed
// confidence, to exercise the Manager's consensus aggregation without
// depending on any indicator's bar-by-bar math.
type directionalStrategy struct {
	name       string
	marketCode string
	direction  types.Direction
	confidence decimal.Decimal
}

func (s *directionalStrategy) Name() string       { return s.name }
func (s *directionalStrategy) MarketCode() string { return s.marketCode }
func (s *directionalStrategy) Reset()             {}
func (s *directionalStrategy) Evaluate(ctx context.Context, portfolio types.Portfolio, b types.Bar) (types.TradeSignal, error) {
	return types.TradeSignal{Direction: s.direction, Confidence: s.confidence, Symbol: b.Symbol, Timestamp: b.Timestamp}, nil
}

func TestManager_EvaluateAll_PopulatesConsensusFromMainAndShadows(t *testing.T) {
	reg := NewRegistry()
	reg.Register("main-long", func() Strategy {
		return &directionalStrategy{name: "main-long", marketCode: "TW_STOCK", direction: types.DirectionLong, confidence: decimal.NewFromFloat(0.8)}
	})
	reg.Register("shadow-long", func() Strategy {
		return &directionalStrategy{name: "shadow-long", marketCode: "TW_STOCK", direction: types.DirectionLong, confidence: decimal.NewFromFloat(0.6)}
	})

	m := New(zap.NewNop(), reg)
	if err := m.SetMain("main-long", "2454.TW"); err != nil {
		t.Fatalf("SetMain: %v", err)
	}
	if err := m.AddShadow("shadow-long", "2454.TW"); err != nil {
		t.Fatalf("AddShadow: %v", err)
	}

	m.EvaluateAll(types.Portfolio{}, bar(decimal.NewFromInt(100), time.Now()))

	c := m.Consensus()
	if c.Direction != types.DirectionLong {
		t.Fatalf("expected a long consensus from two agreeing strategies, got %s", c.Direction)
	}
	if len(c.Sources) != 2 {
		t.Fatalf("expected both main and shadow to contribute votes, got %d", len(c.Sources))
	}
}

func TestManager_EvaluateAll_NoShadowsStillYieldsMainOnlyConsensus(t *testing.T) {
	reg := NewRegistry()
	reg.Register("main-short", func() Strategy {
		return &directionalStrategy{name: "main-short", marketCode: "TW_STOCK", direction: types.DirectionShort, confidence: decimal.NewFromFloat(0.5)}
	})

	m := New(zap.NewNop(), reg)
	if err := m.SetMain("main-short", "2454.TW"); err != nil {
		t.Fatalf("SetMain: %v", err)
	}

	m.EvaluateAll(types.Portfolio{}, bar(decimal.NewFromInt(100), time.Now()))

	c := m.Consensus()
	if c.Direction != types.DirectionShort {
		t.Fatalf("expected the lone main strategy's direction to carry the consensus, got %s", c.Direction)
	}
	if len(c.Sources) != 1 {
		t.Fatalf("expected exactly one vote with no shadows bound, got %d", len(c.Sources))
	}
}
