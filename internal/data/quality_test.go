package data

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

func stockBar(close decimal.Decimal, at time.Time) types.Bar {
	return types.Bar{
		Symbol: "2454.TW", Timeframe: types.Timeframe1Day, Timestamp: at,
		Open: close, High: close.Mul(decimal.NewFromFloat(1.01)), Low: close.Mul(decimal.NewFromFloat(0.99)),
		Close: close, Volume: decimal.NewFromInt(500_000), IsComplete: true,
	}
}

func TestValidator_Validate_CleanSeriesScoresHigh(t *testing.T) {
	v := NewStockValidator(zap.NewNop())
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, 10)
	for i := range bars {
		bars[i] = stockBar(decimal.NewFromInt(int64(600+i)), now.Add(time.Duration(i)*24*time.Hour))
	}
	report := v.Validate(bars, "2454.TW")
	if !report.IsUsable {
		t.Fatalf("expected a clean series to be usable, score=%d issues=%v", report.QualityScore, report.Issues)
	}
	if report.QualityScore < 90 {
		t.Fatalf("expected a near-perfect score, got %d", report.QualityScore)
	}
}

func TestValidator_Validate_FlagsOHLCInconsistency(t *testing.T) {
	v := NewStockValidator(zap.NewNop())
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	bad := stockBar(decimal.NewFromInt(600), now)
	bad.High = decimal.NewFromInt(590) // High below Close: invalid
	report := v.Validate([]types.Bar{bad}, "2454.TW")
	if report.OHLCErrorCount == 0 {
		t.Fatalf("expected an OHLC inconsistency to be flagged")
	}
}

func TestValidator_Validate_FlagsDuplicateTimestamps(t *testing.T) {
	v := NewStockValidator(zap.NewNop())
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	bars := []types.Bar{stockBar(decimal.NewFromInt(600), now), stockBar(decimal.NewFromInt(601), now)}
	report := v.Validate(bars, "2454.TW")
	found := false
	for _, issue := range report.Issues {
		if issue.Type == "DUPLICATE_TIMESTAMP" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a duplicate-timestamp issue, got %v", report.Issues)
	}
}

func TestValidator_Validate_NoBarsIsUnusable(t *testing.T) {
	v := NewStockValidator(zap.NewNop())
	report := v.Validate(nil, "2454.TW")
	if report.IsUsable {
		t.Fatalf("expected an empty series to be unusable")
	}
}

func TestValidator_Clean_DropsDuplicatesAndSortsAscending(t *testing.T) {
	v := NewStockValidator(zap.NewNop())
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	later := stockBar(decimal.NewFromInt(610), now.Add(24*time.Hour))
	earlier := stockBar(decimal.NewFromInt(600), now)
	dup := earlier
	cleaned := v.Clean([]types.Bar{later, earlier, dup})
	if len(cleaned) != 2 {
		t.Fatalf("expected duplicates removed, got %d bars", len(cleaned))
	}
	if !cleaned[0].Timestamp.Before(cleaned[1].Timestamp) {
		t.Fatalf("expected ascending order after Clean")
	}
}

func TestValidator_Clean_WidensHighLowToEncompassOpenClose(t *testing.T) {
	v := NewStockValidator(zap.NewNop())
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	bar := stockBar(decimal.NewFromInt(600), now)
	bar.High = decimal.NewFromInt(590) // narrower than Open/Close
	cleaned := v.Clean([]types.Bar{bar})
	if len(cleaned) != 1 {
		t.Fatalf("expected the bar to survive cleaning, got %d", len(cleaned))
	}
	if cleaned[0].High.LessThan(cleaned[0].Open) || cleaned[0].High.LessThan(cleaned[0].Close) {
		t.Fatalf("expected High to be widened to cover Open/Close, got %s", cleaned[0].High)
	}
}
