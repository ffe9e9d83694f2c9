package data

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/store"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// Loader pulls a symbol's persisted bars out of Postgres and gates them
// through a Validator before handing them to a backtest replay, since a
// corrupt ingestion run should fail loudly rather than silently skew
// strategy metrics.
type Loader struct {
	logger    *zap.Logger
	store     *store.Store
	validator *Validator
}

// NewLoader constructs a Loader backed by s, validating with the
// stock-market-tuned Validator.
func NewLoader(logger *zap.Logger, s *store.Store) *Loader {
	return &Loader{logger: logger, store: s, validator: NewStockValidator(logger)}
}

// Load returns symbol's bars for timeframe within [from, to], cleaned and
// gated by the quality Validator. It returns an error if the series
// scores below the Validator's usability threshold rather than silently
// feeding a corrupt series into a replay.
func (l *Loader) Load(symbol, timeframe string, from, to time.Time) ([]types.Bar, *Report, error) {
	bars, err := l.store.LoadBars(symbol, timeframe, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("data: load bars: %w", err)
	}
	report := l.validator.Validate(bars, symbol)
	if !report.IsUsable {
		return nil, report, fmt.Errorf("data: %s bars failed quality gate (score %d/100)", symbol, report.QualityScore)
	}
	cleaned := l.validator.Clean(bars)
	return cleaned, report, nil
}
