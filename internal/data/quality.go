// Package data gates persisted bars before they reach the Backtest Engine
// or Walk-Forward Optimizer: a quality report over gaps, price/volume
// anomalies, and duplicate/out-of-order timestamps, plus a loader that
// pulls bars out of the Postgres store for a symbol/date range.
//
// Grounded on the teacher's internal/data/quality.go DataQualityValidator
// end to end (same six checks, same 0-100 scoring and severity weights,
// same CleanData repair pass) retyped against pkg/types.Bar instead of
// the teacher's own types.OHLCV, which does not exist in this rebuild.
package data

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// Validator checks historical bar integrity before a backtest replay.
type Validator struct {
	logger *zap.Logger

	ExpectedTradingDaysPerYear int
	MaxIntradayMove            float64
	MaxGapMove                 float64
	MinVolume                  float64
	MaxVolumeMultiple          float64
}

// Issue is one data quality problem found in a bar series.
type Issue struct {
	Type      string
	Severity  string // "critical", "high", "medium", "low"
	Timestamp time.Time
	Symbol    string
	Message   string
	Value     string
	BarIndex  int
}

// Report summarizes a bar series' quality assessment.
type Report struct {
	Symbol       string
	TotalBars    int
	Issues       []Issue
	QualityScore int
	IsUsable     bool

	MissingDataCount   int
	PriceAnomalyCount  int
	VolumeAnomalyCount int
	OHLCErrorCount     int

	StartDate time.Time
	EndDate   time.Time
	Duration  time.Duration

	Recommendations []string
}

// NewStockValidator returns a Validator tuned for Taiwan-equity session
// characteristics: 252 trading days/year, 10% daily circuit breakers
// allowing up to a 20% combined intraday range, and a higher minimum
// volume than the teacher's crypto-market default.
func NewStockValidator(logger *zap.Logger) *Validator {
	return &Validator{
		logger:                     logger,
		ExpectedTradingDaysPerYear: 252,
		MaxIntradayMove:            0.20,
		MaxGapMove:                 0.15,
		MinVolume:                  1000,
		MaxVolumeMultiple:          10.0,
	}
}

// Validate runs every quality check over bars and scores the result.
func (v *Validator) Validate(bars []types.Bar, symbol string) *Report {
	if len(bars) == 0 {
		return &Report{
			Symbol:       symbol,
			Issues:       []Issue{{Type: "NO_DATA", Severity: "critical", Message: "no bars provided"}},
			QualityScore: 0,
			IsUsable:     false,
		}
	}

	var issues []Issue
	issues = append(issues, v.checkMissingData(bars, symbol)...)
	issues = append(issues, v.checkPriceAnomalies(bars, symbol)...)
	issues = append(issues, v.checkVolumeAnomalies(bars, symbol)...)
	issues = append(issues, v.checkOHLCConsistency(bars, symbol)...)
	issues = append(issues, v.checkDuplicates(bars, symbol)...)
	issues = append(issues, v.checkChronologicalOrder(bars, symbol)...)

	score := v.calculateQualityScore(len(bars), issues)

	return &Report{
		Symbol:             symbol,
		TotalBars:          len(bars),
		Issues:             issues,
		QualityScore:       score,
		IsUsable:           score >= 70 && !hasCriticalIssues(issues),
		MissingDataCount:   countIssuesByType(issues, "GAP_DETECTED"),
		PriceAnomalyCount:  countIssuesByType(issues, "NEGATIVE_PRICE", "EXTREME_MOVE", "GAP_MOVE", "ZERO_PRICE"),
		VolumeAnomalyCount: countIssuesByType(issues, "ZERO_VOLUME", "LOW_VOLUME", "VOLUME_SPIKE"),
		OHLCErrorCount:     countIssuesByType(issues, "OHLC_INCONSISTENT"),
		StartDate:          bars[0].Timestamp,
		EndDate:            bars[len(bars)-1].Timestamp,
		Duration:           bars[len(bars)-1].Timestamp.Sub(bars[0].Timestamp),
		Recommendations:    generateRecommendations(issues, len(bars)),
	}
}

func (v *Validator) checkMissingData(bars []types.Bar, symbol string) []Issue {
	var issues []Issue
	if len(bars) < 2 {
		return issues
	}

	intervals := make([]time.Duration, 0, 10)
	for i := 1; i < len(bars) && i <= 10; i++ {
		intervals = append(intervals, bars[i].Timestamp.Sub(bars[i-1].Timestamp))
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	var expected time.Duration
	if len(intervals) > 0 {
		expected = intervals[len(intervals)/2]
	}

	for i := 1; i < len(bars); i++ {
		actual := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		maxInterval := expected + expected/2
		if actual > maxInterval*3 {
			severity := "high"
			if actual > maxInterval*10 {
				severity = "critical"
			}
			issues = append(issues, Issue{
				Type: "GAP_DETECTED", Severity: severity, Timestamp: bars[i-1].Timestamp, Symbol: symbol,
				Message: "data gap: " + actual.String() + " (expected ~" + expected.String() + ")",
				Value:   actual.String(), BarIndex: i - 1,
			})
		}
	}
	return issues
}

func (v *Validator) checkPriceAnomalies(bars []types.Bar, symbol string) []Issue {
	var issues []Issue
	for i, bar := range bars {
		if bar.Open.IsZero() || bar.High.IsZero() || bar.Low.IsZero() || bar.Close.IsZero() {
			issues = append(issues, Issue{Type: "ZERO_PRICE", Severity: "critical", Timestamp: bar.Timestamp, Symbol: symbol, Message: "zero price", BarIndex: i})
			continue
		}
		if bar.Open.IsNegative() || bar.High.IsNegative() || bar.Low.IsNegative() || bar.Close.IsNegative() {
			issues = append(issues, Issue{Type: "NEGATIVE_PRICE", Severity: "critical", Timestamp: bar.Timestamp, Symbol: symbol, Message: "negative price", BarIndex: i})
			continue
		}
		if !bar.Low.IsZero() {
			move := bar.High.Sub(bar.Low).Div(bar.Low)
			moveFloat, _ := move.Float64()
			if moveFloat > v.MaxIntradayMove {
				issues = append(issues, Issue{
					Type: "EXTREME_MOVE", Severity: "high", Timestamp: bar.Timestamp, Symbol: symbol,
					Message: "extreme intraday move: " + move.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
					Value:   move.StringFixed(4), BarIndex: i,
				})
			}
		}
		if i > 0 {
			prevClose := bars[i-1].Close
			if !prevClose.IsZero() {
				gap := bar.Open.Sub(prevClose).Div(prevClose).Abs()
				gapFloat, _ := gap.Float64()
				if gapFloat > v.MaxGapMove {
					issues = append(issues, Issue{
						Type: "GAP_MOVE", Severity: "medium", Timestamp: bar.Timestamp, Symbol: symbol,
						Message: "large gap: " + gap.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
						Value:   gap.StringFixed(4), BarIndex: i,
					})
				}
			}
		}
	}
	return issues
}

func (v *Validator) checkVolumeAnomalies(bars []types.Bar, symbol string) []Issue {
	var issues []Issue
	var totalVolume decimal.Decimal
	nonZero := 0
	for _, bar := range bars {
		if bar.Volume.IsPositive() {
			totalVolume = totalVolume.Add(bar.Volume)
			nonZero++
		}
	}
	var avgVolume decimal.Decimal
	if nonZero > 0 {
		avgVolume = totalVolume.Div(decimal.NewFromInt(int64(nonZero)))
	}
	avgFloat, _ := avgVolume.Float64()

	for i, bar := range bars {
		volFloat, _ := bar.Volume.Float64()
		if bar.Volume.IsZero() {
			issues = append(issues, Issue{Type: "ZERO_VOLUME", Severity: "low", Timestamp: bar.Timestamp, Symbol: symbol, Message: "zero volume bar", BarIndex: i})
			continue
		}
		if volFloat < v.MinVolume {
			issues = append(issues, Issue{Type: "LOW_VOLUME", Severity: "low", Timestamp: bar.Timestamp, Symbol: symbol, Message: "volume below threshold: " + bar.Volume.String(), Value: bar.Volume.String(), BarIndex: i})
		}
		if avgFloat > 0 && volFloat > avgFloat*v.MaxVolumeMultiple {
			issues = append(issues, Issue{
				Type: "VOLUME_SPIKE", Severity: "low", Timestamp: bar.Timestamp, Symbol: symbol,
				Message: "volume spike: " + decimal.NewFromFloat(volFloat/avgFloat).StringFixed(1) + "x average",
				Value:   bar.Volume.String(), BarIndex: i,
			})
		}
	}
	return issues
}

func (v *Validator) checkOHLCConsistency(bars []types.Bar, symbol string) []Issue {
	var issues []Issue
	for i, bar := range bars {
		if !bar.Valid() {
			issues = append(issues, Issue{
				Type: "OHLC_INCONSISTENT", Severity: "critical", Timestamp: bar.Timestamp, Symbol: symbol,
				Message: "OHLC invariant violated (O:" + bar.Open.String() + " H:" + bar.High.String() + " L:" + bar.Low.String() + " C:" + bar.Close.String() + ")",
				BarIndex: i,
			})
		}
	}
	return issues
}

func (v *Validator) checkDuplicates(bars []types.Bar, symbol string) []Issue {
	var issues []Issue
	seen := make(map[int64]int)
	for i, bar := range bars {
		ts := bar.Timestamp.UnixNano()
		if first, ok := seen[ts]; ok {
			issues = append(issues, Issue{Type: "DUPLICATE_TIMESTAMP", Severity: "high", Timestamp: bar.Timestamp, Symbol: symbol, Message: "duplicate of bar index", Value: itoa(int64(first)), BarIndex: i})
		} else {
			seen[ts] = i
		}
	}
	return issues
}

func (v *Validator) checkChronologicalOrder(bars []types.Bar, symbol string) []Issue {
	var issues []Issue
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Before(bars[i-1].Timestamp) {
			issues = append(issues, Issue{Type: "OUT_OF_ORDER", Severity: "critical", Timestamp: bars[i].Timestamp, Symbol: symbol, Message: "bar out of chronological order", BarIndex: i})
		}
	}
	return issues
}

func (v *Validator) calculateQualityScore(totalBars int, issues []Issue) int {
	penalty := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			penalty += 10.0
		case "high":
			penalty += 5.0
		case "medium":
			penalty += 2.0
		case "low":
			penalty += 0.5
		}
	}
	normalized := penalty / math.Max(1, float64(totalBars)/100) * 10
	score := 100.0 - math.Min(normalized, 100)
	return int(math.Max(0, math.Min(100, score)))
}

func hasCriticalIssues(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == "critical" {
			return true
		}
	}
	return false
}

func generateRecommendations(issues []Issue, totalBars int) []string {
	var recs []string
	counts := make(map[string]int)
	for _, issue := range issues {
		counts[issue.Type]++
	}
	if counts["GAP_DETECTED"] > 0 {
		recs = append(recs, "data gaps detected: consider filling or excluding the affected window")
	}
	if counts["OHLC_INCONSISTENT"] > 0 {
		recs = append(recs, "OHLC inconsistencies detected: verify the ingestion source")
	}
	if counts["EXTREME_MOVE"] > totalBars/100 {
		recs = append(recs, "many extreme moves detected: verify against a circuit-breaker calendar")
	}
	if counts["ZERO_VOLUME"] > totalBars/10 {
		recs = append(recs, "high proportion of zero-volume bars: verify the symbol's liquidity")
	}
	if counts["DUPLICATE_TIMESTAMP"] > 0 {
		recs = append(recs, "duplicate timestamps present: deduplicate before replay")
	}
	if counts["OUT_OF_ORDER"] > 0 {
		recs = append(recs, "bars are not chronologically sorted")
	}
	if len(recs) == 0 {
		recs = append(recs, "quality is acceptable for backtesting")
	}
	return recs
}

func countIssuesByType(issues []Issue, types ...string) int {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	count := 0
	for _, issue := range issues {
		if set[issue.Type] {
			count++
		}
	}
	return count
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Clean sorts bars by timestamp, drops duplicates and invalid rows, and
// widens High/Low to encompass Open/Close where the source rounded
// inconsistently.
func (v *Validator) Clean(bars []types.Bar) []types.Bar {
	if len(bars) == 0 {
		return bars
	}
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	cleaned := make([]types.Bar, 0, len(sorted))
	seen := make(map[int64]bool, len(sorted))
	for _, bar := range sorted {
		ts := bar.Timestamp.UnixNano()
		if seen[ts] {
			continue
		}
		seen[ts] = true
		if bar.Open.LessThanOrEqual(decimal.Zero) || bar.High.LessThanOrEqual(decimal.Zero) ||
			bar.Low.LessThanOrEqual(decimal.Zero) || bar.Close.LessThanOrEqual(decimal.Zero) {
			continue
		}
		bar.High = decimal.Max(bar.Open, decimal.Max(bar.High, bar.Close))
		bar.Low = decimal.Min(bar.Open, decimal.Min(bar.Low, bar.Close))
		cleaned = append(cleaned, bar)
	}

	v.logger.Info("data quality: cleaned bar series",
		zap.Int("original_bars", len(bars)),
		zap.Int("cleaned_bars", len(cleaned)),
		zap.Int("removed", len(bars)-len(cleaned)),
	)
	return cleaned
}
