package signals

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DreamFulFil/atrader/pkg/types"
)

func TestAggregate_UnanimousLongYieldsFullConsensus(t *testing.T) {
	now := time.Now()
	votes := []Vote{
		{StrategyName: "momentum", Signal: types.TradeSignal{Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.8)}, Weight: decimal.NewFromInt(1)},
		{StrategyName: "breakout", Signal: types.TradeSignal{Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.6)}, Weight: decimal.NewFromInt(1)},
	}
	c := Aggregate("2454.TW", votes, now)
	if c.Direction != types.DirectionLong {
		t.Fatalf("expected long consensus, got %s", c.Direction)
	}
	if !c.ConsensusScore.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected full consensus score, got %s", c.ConsensusScore)
	}
	if !c.Confidence.IsPositive() {
		t.Fatalf("expected positive confidence, got %s", c.Confidence)
	}
}

func TestAggregate_SplitVotesDiscountConfidence(t *testing.T) {
	now := time.Now()
	votes := []Vote{
		{StrategyName: "momentum", Signal: types.TradeSignal{Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.9)}, Weight: decimal.NewFromInt(1)},
		{StrategyName: "mean_reversion", Signal: types.TradeSignal{Direction: types.DirectionShort, Confidence: decimal.NewFromFloat(0.9)}, Weight: decimal.NewFromInt(1)},
	}
	c := Aggregate("2454.TW", votes, now)
	if c.ConsensusScore.GreaterThan(decimal.NewFromFloat(0.55)) {
		t.Fatalf("expected a contested consensus score near 0.5, got %s", c.ConsensusScore)
	}
}

func TestAggregate_NoVotesYieldsNeutralZeroConfidence(t *testing.T) {
	c := Aggregate("2454.TW", nil, time.Now())
	if c.Direction != types.DirectionNeutral {
		t.Fatalf("expected neutral direction with no votes, got %s", c.Direction)
	}
	if !c.Confidence.IsZero() {
		t.Fatalf("expected zero confidence with no votes, got %s", c.Confidence)
	}
}

func TestAggregate_ZeroWeightDefaultsToOne(t *testing.T) {
	now := time.Now()
	votes := []Vote{
		{StrategyName: "momentum", Signal: types.TradeSignal{Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.5)}},
	}
	c := Aggregate("2454.TW", votes, now)
	if c.ConsensusScore.IsZero() {
		t.Fatalf("expected a zero-weight vote to still count toward consensus")
	}
}
