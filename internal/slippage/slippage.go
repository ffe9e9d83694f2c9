// Package slippage implements the Slippage Model (C5): a basis-point cost
// estimator blended with historical realized slippage, plus the fee/tax
// overlay used to compute expected transaction cost.
//
// Grounded on internal/execution/slippage.go's SlippageCalculator/
// SlippageRecord/factor-list shape; the factor formulas themselves are
// rewritten to the exact base/volume/time/size bps model (§4.5) in place
// of the teacher's spread/order-book/MEV-oriented factors, which have no
// equivalent in a TW equity/futures bridge that exposes no order book.
package slippage

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	baseBps            = 5.0
	volumeFactorWeight = 15.0
	adVThreshold       = 1_000_000.0
	timeFactorBps      = 10.0
	sizeFactorWeight   = 5.0
	sizeFactorFloor    = 0.01

	feeRate     = 0.001425 // 0.1425%
	sellTaxRate = 0.003    // 0.3%

	historicalWeight = 0.30
	modelWeight       = 0.70
)

var taipei = mustLoadLocation("Asia/Taipei")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Record is one realized slippage observation, kept for the historical blend.
type Record struct {
	Symbol        string
	ExpectedPrice decimal.Decimal
	ExecutedPrice decimal.Decimal
	SlippageBps   decimal.Decimal
	Timestamp     time.Time
}

// Estimate is the output of EstimateBps: the blended rate plus the factor
// breakdown that produced it.
type Estimate struct {
	TotalBps          decimal.Decimal
	BaseBps           decimal.Decimal
	VolumeFactorBps   decimal.Decimal
	TimeFactorBps     decimal.Decimal
	SizeFactorBps     decimal.Decimal
	HistoricalBps      decimal.Decimal
	UsedHistorical    bool
}

// Model estimates slippage and tracks realized history per symbol.
type Model struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	history map[string][]Record
}

// New constructs a slippage Model.
func New(logger *zap.Logger) *Model {
	return &Model{
		logger:  logger,
		history: make(map[string][]Record),
	}
}

// EstimateBps computes the rate in basis points per §4.5: base + volume +
// time + size factors, blended 70/30 with historical realized slippage
// when at least one historical record exists for the symbol.
func (m *Model) EstimateBps(symbol string, orderSize, adv decimal.Decimal, now time.Time) Estimate {
	volumeFactor := volumeFactorWeight * math.Max(0, 1-adv.InexactFloat64()/adVThreshold)

	timeFactor := 0.0
	if inOpeningOrLunchAuction(now) {
		timeFactor = timeFactorBps
	}

	sizeFactor := 0.0
	if adv.IsPositive() {
		ratio := orderSize.Div(adv).InexactFloat64()
		sizeFactor = sizeFactorWeight * math.Max(0, ratio-sizeFactorFloor) / sizeFactorFloor
	}

	modelBps := decimal.NewFromFloat(baseBps + volumeFactor + timeFactor + sizeFactor)

	est := Estimate{
		BaseBps:         decimal.NewFromFloat(baseBps),
		VolumeFactorBps: decimal.NewFromFloat(volumeFactor),
		TimeFactorBps:   decimal.NewFromFloat(timeFactor),
		SizeFactorBps:   decimal.NewFromFloat(sizeFactor),
		TotalBps:        modelBps,
	}

	if hist, ok := m.historicalAverageBps(symbol); ok {
		est.HistoricalBps = hist
		est.UsedHistorical = true
		est.TotalBps = modelBps.Mul(decimal.NewFromFloat(modelWeight)).
			Add(hist.Mul(decimal.NewFromFloat(historicalWeight)))
	}

	return est
}

// inOpeningOrLunchAuction reports whether now (interpreted in Asia/Taipei)
// falls in the opening call-auction or midday reopening window.
func inOpeningOrLunchAuction(now time.Time) bool {
	t := now.In(taipei)
	minutesSinceMidnight := t.Hour()*60 + t.Minute()
	return (minutesSinceMidnight >= 9*60 && minutesSinceMidnight < 9*60+30) ||
		(minutesSinceMidnight >= 13*60 && minutesSinceMidnight < 13*60+30)
}

func (m *Model) historicalAverageBps(symbol string) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.history[symbol]
	if len(records) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.SlippageBps)
	}
	return sum.Div(decimal.NewFromInt(int64(len(records)))), true
}

// RecordRealized appends a realized slippage observation for symbol,
// capping retained history at 1000 entries per symbol.
func (m *Model) RecordRealized(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[r.Symbol] = append(m.history[r.Symbol], r)
	if len(m.history[r.Symbol]) > 1000 {
		m.history[r.Symbol] = m.history[r.Symbol][len(m.history[r.Symbol])-1000:]
	}
	m.logger.Debug("slippage recorded",
		zap.String("symbol", r.Symbol),
		zap.String("bps", r.SlippageBps.String()))
}

// ExpectedCost computes total expected transaction cost as a fraction of
// notional: slippage + the fixed trading fee + (sell only) the securities
// transaction tax.
func ExpectedCost(slippageBps decimal.Decimal, isSell bool) decimal.Decimal {
	cost := slippageBps.Div(decimal.NewFromInt(10000)).Add(decimal.NewFromFloat(feeRate))
	if isSell {
		cost = cost.Add(decimal.NewFromFloat(sellTaxRate))
	}
	return cost
}
