package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/regime"
	"github.com/DreamFulFil/atrader/pkg/types"
)

func TestRegimeBias_AvoidOutweighsPreferred(t *testing.T) {
	adj := &regime.StrategyAdjustments{
		PreferredStrategies: []string{"mean_reversion"},
		AvoidStrategies:     []string{"momentum"},
	}
	bias, reason := regimeBias(adj, "momentum-breakout")
	if !bias.Equal(decimal.NewFromFloat(avoidBias)) {
		t.Fatalf("expected avoid bias, got %s", bias)
	}
	if reason == "" {
		t.Fatalf("expected a non-empty reason for an avoided strategy")
	}
}

func TestRegimeBias_PreferredBoostsScore(t *testing.T) {
	adj := &regime.StrategyAdjustments{
		PreferredStrategies: []string{"mean_reversion"},
		AvoidStrategies:     []string{"momentum"},
	}
	bias, reason := regimeBias(adj, "mean_reversion")
	if !bias.Equal(decimal.NewFromFloat(preferredBias)) {
		t.Fatalf("expected preferred bias, got %s", bias)
	}
	if reason == "" {
		t.Fatalf("expected a non-empty reason for a preferred strategy")
	}
}

func TestRegimeBias_AnyIsNeverTreatedAsPreferred(t *testing.T) {
	adj := &regime.StrategyAdjustments{PreferredStrategies: []string{"any"}, AvoidStrategies: []string{}}
	bias, reason := regimeBias(adj, "momentum")
	if !bias.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected neutral bias for the default 'any' adjustment, got %s", bias)
	}
	if reason != "" {
		t.Fatalf("expected no reason recorded for a neutral bias, got %q", reason)
	}
}

func TestRegimeBias_NilAdjustmentsAreNeutral(t *testing.T) {
	bias, reason := regimeBias(nil, "momentum")
	if !bias.Equal(decimal.NewFromInt(1)) || reason != "" {
		t.Fatalf("expected neutral, reasonless bias with no detector attached")
	}
}

func TestManager_MaybeSwap_UnclassifiedRegimeDoesNotAlterOutcome(t *testing.T) {
	reg := NewRegistry()
	reg.Register("main", func() Strategy { return &fixedStrategy{name: "main", marketCode: "TW_STOCK"} })
	reg.Register("shadow-good", func() Strategy { return &fixedStrategy{name: "shadow-good", marketCode: "TW_STOCK"} })

	m := New(zap.NewNop(), reg)
	m.SetRegimeDetector(regime.NewRegimeDetector(zap.NewNop(), regime.DefaultRegimeConfig()))
	_ = m.SetMain("main", "2454.TW")
	_ = m.AddShadow("shadow-good", "2454.TW")

	now := time.Now()
	equities := []string{"1000000", "1000000", "1000000", "1000000", "800000"}
	for i, eq := range equities {
		v, _ := decimal.NewFromString(eq)
		portfolio := types.Portfolio{Equity: v}
		m.EvaluateAll(portfolio, bar(decimal.NewFromInt(100), now.Add(time.Duration(i)*time.Minute)))
	}

	name, swapped := m.MaybeSwap()
	if !swapped || name != "shadow-good" {
		t.Fatalf("expected an unclassified regime detector to leave the swap outcome unchanged, got name=%s swapped=%v", name, swapped)
	}
}

func TestManager_ObserveBar_NoDetectorAttachedIsNoop(t *testing.T) {
	reg := NewRegistry()
	m := New(zap.NewNop(), reg)
	m.ObserveBar(bar(decimal.NewFromInt(100), time.Now()))
}
