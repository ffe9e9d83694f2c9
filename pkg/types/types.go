// Package types provides the shared domain model for the trading orchestrator.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Direction is the directional call a strategy makes for a tick.
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionExit    Direction = "exit"
	DirectionNeutral Direction = "neutral"
)

// LotType distinguishes Taiwan odd-lot from round-lot order sizing.
type LotType string

const (
	LotTypeOdd   LotType = "odd"
	LotTypeRound LotType = "round"
)

// RoundLotSize is the share multiple for a TW stock round lot.
const RoundLotSize = 1000

// Timeframe enumerates the closed set of bar aggregation periods.
type Timeframe string

const (
	TimeframeTick Timeframe = "tick"
	Timeframe1Min Timeframe = "1min"
	Timeframe5Min Timeframe = "5min"
	Timeframe15Min Timeframe = "15min"
	Timeframe1Hour Timeframe = "1hour"
	Timeframe1Day  Timeframe = "1day"
)

// TradingMode selects which markets the engine is allowed to trade.
type TradingMode string

const (
	TradingModeStock          TradingMode = "stock"
	TradingModeFutures        TradingMode = "futures"
	TradingModeStockAndFutures TradingMode = "stock_and_futures"
)

// Bar is an immutable OHLCV aggregate. (symbol, timeframe, timestamp) is unique.
type Bar struct {
	Symbol     string          `json:"symbol"`
	Timeframe  Timeframe       `json:"timeframe"`
	Timestamp  time.Time       `json:"timestamp"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	IsComplete bool            `json:"isComplete"`
}

// Valid checks the bar's OHLC/volume invariants from the data model.
func (b Bar) Valid() bool {
	if b.Volume.IsNegative() {
		return false
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) || b.Low.GreaterThan(b.High) {
		return false
	}
	if b.Open.GreaterThan(b.High) || b.Close.GreaterThan(b.High) {
		return false
	}
	return true
}

// Position is the ledger's per-symbol holding. Quantity is signed: long > 0,
// short < 0, flat = 0.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	EntryTime     *time.Time      `json:"entryTime"`
	TradingMode   TradingMode     `json:"tradingMode"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
}

// IsFlat reports whether the position carries no exposure.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// TradeSignal is what a strategy produces for one tick. Signals that are not
// acted on are discarded (logged), never retried.
type TradeSignal struct {
	Direction    Direction       `json:"direction"`
	Confidence   decimal.Decimal `json:"confidence"`
	Reason       string          `json:"reason"`
	StrategyName string          `json:"strategyName"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Order is a request to trade a positive quantity of a symbol.
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	LotType   LotType         `json:"lotType"`
	IsExit    bool            `json:"isExit"`
	Emergency bool            `json:"emergency"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Fill is the materialization of a submitted order.
type Fill struct {
	OrderRef     string          `json:"orderRef"`
	FilledQty    decimal.Decimal `json:"filledQty"`
	FilledPrice  decimal.Decimal `json:"filledPrice"`
	Timestamp    time.Time       `json:"timestamp"`
	Fees         decimal.Decimal `json:"fees"`
	Tax          decimal.Decimal `json:"tax"`
	SlippageBps  decimal.Decimal `json:"slippageBps"`
}

// StrategyConfig is enablement and tunable parameters for a named strategy.
// The authoritative "which strategy is currently main" binding lives
// separately in ActiveStrategyBinding — see DESIGN.md open question #3.
type StrategyConfig struct {
	StrategyName string             `json:"strategyName"`
	Enabled      bool               `json:"enabled"`
	Priority     int                `json:"priority"`
	MarketCode   string             `json:"marketCode"`
	Parameters   map[string]float64 `json:"parameters"`
}

// ActiveStrategyBinding is the single authoritative record of which
// registered strategy currently drives live orders.
type ActiveStrategyBinding struct {
	StrategyName string    `json:"strategyName"`
	Symbol       string    `json:"symbol"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Reason       string    `json:"reason"`
}

// ShadowStock is one entry in the ranked list of symbols/strategies
// evaluated for comparison but never traded live.
type ShadowStock struct {
	Rank         int    `json:"rank"`
	Symbol       string `json:"symbol"`
	StrategyName string `json:"strategyName"`
	Enabled      bool   `json:"enabled"`
}

// LlmInsightType enumerates the kinds of LLM enrichment the engine may request.
type LlmInsightType string

const (
	LlmInsightDailySummary  LlmInsightType = "daily_summary"
	LlmInsightTradeComment  LlmInsightType = "trade_comment"
	LlmInsightRiskAdvisory  LlmInsightType = "risk_advisory"
)

// LlmInsight is a write-only enrichment record; the engine never blocks on it
// except for the optional BLOCK veto in the risk pipeline (§4.2 rule 6).
type LlmInsight struct {
	Timestamp        time.Time       `json:"timestamp"`
	Type             LlmInsightType  `json:"type"`
	Symbol           string          `json:"symbol,omitempty"`
	TradeID          string          `json:"tradeId,omitempty"`
	SignalID         string          `json:"signalId,omitempty"`
	EventID          string          `json:"eventId,omitempty"`
	Content          string          `json:"content"`
	Confidence       decimal.Decimal `json:"confidence,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	Success          bool            `json:"success"`
	Recommendation   string          `json:"recommendation,omitempty"` // "BLOCK" is the only recommendation the risk pipeline reads
}

// VetoSource enumerates where a risk veto originated.
type VetoSource string

const (
	VetoSourceBlackout   VetoSource = "blackout"
	VetoSourceDailyLimit VetoSource = "dailyLimit"
	VetoSourceWeeklyLimit VetoSource = "weeklyLimit"
	VetoSourceNews       VetoSource = "news"
	VetoSourcePause      VetoSource = "pause"
	VetoSourceLlm        VetoSource = "llm"
)

// VetoEvent records a risk-pipeline decision that blocked an otherwise valid signal.
type VetoEvent struct {
	Timestamp       time.Time  `json:"timestamp"`
	Source          VetoSource `json:"source"`
	Reason          string     `json:"reason"`
	AffectedSymbols []string   `json:"affectedSymbols"`
}

// RiskSeverity grades the outcome of a risk check.
type RiskSeverity string

const (
	RiskSeverityInfo  RiskSeverity = "info"
	RiskSeverityWarn  RiskSeverity = "warn"
	RiskSeverityFatal RiskSeverity = "fatal"
)

// RiskCheckResult is the outcome of the Risk Gatekeeper's evaluation.
type RiskCheckResult struct {
	Allow    bool         `json:"allow"`
	Reason   string       `json:"reason"`
	Severity RiskSeverity `json:"severity"`
}

// DailyStatistics is a derived per (tradeDate, symbol) rollup.
type DailyStatistics struct {
	TradeDate      time.Time       `json:"tradeDate"`
	Symbol         string          `json:"symbol"`
	TotalTrades    int             `json:"totalTrades"`
	WinRate        decimal.Decimal `json:"winRate"`
	RealizedPnL    decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealizedPnl"`
	SharpeRatio    decimal.Decimal `json:"sharpeRatio"`
	SortinoRatio   decimal.Decimal `json:"sortinoRatio"`
	CalmarRatio    decimal.Decimal `json:"calmarRatio"`
	LlmInsightText string          `json:"llmInsightText,omitempty"`
	Consistency    decimal.Decimal `json:"consistency"`
}

// WalkForwardWindow is one train/test slice. Invariant:
// trainStart <= trainEnd < testStart <= testEnd.
type WalkForwardWindow struct {
	Index      int       `json:"index"`
	TrainStart time.Time `json:"trainStart"`
	TrainEnd   time.Time `json:"trainEnd"`
	TestStart  time.Time `json:"testStart"`
	TestEnd    time.Time `json:"testEnd"`
}

// Valid checks the window ordering invariant from §3.
func (w WalkForwardWindow) Valid() bool {
	return !w.TrainStart.After(w.TrainEnd) &&
		w.TrainEnd.Before(w.TestStart) &&
		!w.TestStart.After(w.TestEnd)
}

// WalkForwardWindowResult pairs a window with its in-sample/out-of-sample metrics.
type WalkForwardWindowResult struct {
	Window            WalkForwardWindow   `json:"window"`
	InSampleMetrics    *PerformanceMetrics `json:"inSampleMetrics"`
	OutSampleMetrics   *PerformanceMetrics `json:"outSampleMetrics"`
	OptimalParameters  map[string]float64  `json:"optimalParameters"`
	IsOosSharpeRatio   decimal.Decimal     `json:"isOosSharpeRatio"`
	RobustnessScore    decimal.Decimal     `json:"robustnessScore"`
	IsOverfit          bool                `json:"isOverfit"`
	OverfitReasons     []string            `json:"overfitReasons,omitempty"`
}

// WalkForwardResult aggregates every window of a walk-forward run.
type WalkForwardResult struct {
	Windows             []WalkForwardWindowResult `json:"windows"`
	AvgRobustnessScore   decimal.Decimal           `json:"avgRobustnessScore"`
	AvgIsOosSharpeRatio  decimal.Decimal           `json:"avgIsOosSharpeRatio"`
	OverfitWarning       bool                      `json:"overfitWarning"`
}

// PerformanceMetrics is the standard set of backtest/live performance figures.
type PerformanceMetrics struct {
	TotalReturn      decimal.Decimal `json:"totalReturn"`
	AnnualizedReturn decimal.Decimal `json:"annualizedReturn"`
	SharpeRatio      decimal.Decimal `json:"sharpeRatio"`
	SortinoRatio     decimal.Decimal `json:"sortinoRatio"`
	CalmarRatio      decimal.Decimal `json:"calmarRatio"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownDate  time.Time       `json:"maxDrawdownDate"`
	WinRate          decimal.Decimal `json:"winRate"`
	ProfitFactor     decimal.Decimal `json:"profitFactor"`
	Expectancy       decimal.Decimal `json:"expectancy"`
	TotalTrades      int             `json:"totalTrades"`
	WinningTrades    int             `json:"winningTrades"`
	LosingTrades     int             `json:"losingTrades"`
	AvgWin           decimal.Decimal `json:"avgWin"`
	AvgLoss          decimal.Decimal `json:"avgLoss"`
	FinalEquity      decimal.Decimal `json:"finalEquity"`
}

// EquityCurvePoint is one sample on a backtest's equity curve.
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Drawdown  decimal.Decimal `json:"drawdown"`
}

// MonteCarloResult is an optional resampling validation over a trade sequence.
type MonteCarloResult struct {
	Iterations      int             `json:"iterations"`
	MedianReturn    decimal.Decimal `json:"medianReturn"`
	P5Return        decimal.Decimal `json:"p5Return"`
	P95Return       decimal.Decimal `json:"p95Return"`
	ProbabilityRuin decimal.Decimal `json:"probabilityRuin"`
	MaxDrawdownP95  decimal.Decimal `json:"maxDrawdownP95"`
}

// Portfolio is a snapshot of cash/equity/positions the strategies see.
type Portfolio struct {
	Cash      decimal.Decimal      `json:"cash"`
	Equity    decimal.Decimal      `json:"equity"`
	Positions map[string]*Position `json:"positions"`
	DailyPnL  decimal.Decimal      `json:"dailyPnl"`
	WeeklyPnL decimal.Decimal      `json:"weeklyPnl"`
	UpdatedAt time.Time            `json:"updatedAt"`
}
