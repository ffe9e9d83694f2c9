// Package signals implements cross-strategy signal consensus: combining
// every strategy's trade signal for a symbol, at one tick, into a single
// confidence-weighted reading of how much the ensemble agrees.
//
// Grounded on the teacher's internal/signals/aggregator.go
// calculateAggregatedSignal/calculateLevels: a weighted buy/sell total
// decides the consensus direction, and confidence is scaled down by how
// contested that direction is (ConsensusScore). The teacher's
// SignalSource plumbing (subscription channels, per-source health
// tracking) and its four provider implementations
// (TechnicalSignalSource hitting an internal REST API,
// SentimentSignalSource/OnChainSignalSource/PerplexitySignalSource
// hitting crypto sentiment/on-chain/AI feeds) are dropped entirely — see
// DESIGN.md — since every "source" here is already a strategy.Strategy
// evaluated in-process by the Strategy Manager, not an external feed
// worth subscribing to. parser.go (free-text/JSON ingestion of
// third-party signal payloads) is dropped for the same reason.
package signals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// Vote is one strategy's signal for the symbol at the current tick,
// weighted by its track record (e.g. rolling Sharpe).
type Vote struct {
	StrategyName string
	Signal       types.TradeSignal
	Weight       decimal.Decimal
}

// Consensus is the ensemble's combined reading for one symbol at one
// tick: how much the pool agrees, and in which direction.
type Consensus struct {
	Symbol         string
	Direction      types.Direction
	Confidence     decimal.Decimal // weighted average confidence, scaled by ConsensusScore
	ConsensusScore decimal.Decimal // 0-1: the winning direction's share of directional weight
	Sources        []string
	Timestamp      time.Time
}

// Aggregate combines votes the same way the teacher's aggregator scored
// buy/sell weight: an unweighted vote defaults to weight 1, the
// majority-weighted direction wins ties go to Neutral, and the returned
// confidence is discounted by how contested the winning direction was.
func Aggregate(symbol string, votes []Vote, at time.Time) Consensus {
	longWeight := decimal.Zero
	shortWeight := decimal.Zero
	totalWeight := decimal.Zero
	confidenceSum := decimal.Zero
	sources := make([]string, 0, len(votes))

	for _, v := range votes {
		weight := v.Weight
		if weight.IsZero() {
			weight = decimal.NewFromInt(1)
		}
		totalWeight = totalWeight.Add(weight)
		confidenceSum = confidenceSum.Add(v.Signal.Confidence.Mul(weight))
		sources = append(sources, v.StrategyName)

		switch v.Signal.Direction {
		case types.DirectionLong:
			longWeight = longWeight.Add(weight.Mul(v.Signal.Confidence))
		case types.DirectionShort:
			shortWeight = shortWeight.Add(weight.Mul(v.Signal.Confidence))
		}
	}

	direction := types.DirectionNeutral
	directionWeight := decimal.Zero
	switch {
	case longWeight.GreaterThan(shortWeight):
		direction = types.DirectionLong
		directionWeight = longWeight
	case shortWeight.GreaterThan(longWeight):
		direction = types.DirectionShort
		directionWeight = shortWeight
	}

	consensusScore := decimal.Zero
	totalDirectional := longWeight.Add(shortWeight)
	if !totalDirectional.IsZero() {
		consensusScore = directionWeight.Div(totalDirectional)
	}

	confidence := decimal.Zero
	if !totalWeight.IsZero() {
		confidence = confidenceSum.Div(totalWeight).Mul(consensusScore)
	}

	return Consensus{
		Symbol:         symbol,
		Direction:      direction,
		Confidence:     confidence,
		ConsensusScore: consensusScore,
		Sources:        sources,
		Timestamp:      at,
	}
}
