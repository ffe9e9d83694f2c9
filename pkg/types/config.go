// Package types provides configuration types for the trading orchestrator.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig is the configuration for a single backtest or walk-forward
// window replay (C9).
type BacktestConfig struct {
	ID             string         `json:"id"`
	StrategyName   string         `json:"strategyName"`
	Parameters     map[string]float64 `json:"parameters"`
	Symbol         string         `json:"symbol"`
	StartDate      time.Time      `json:"startDate"`
	EndDate        time.Time      `json:"endDate"`
	Timeframe      Timeframe      `json:"timeframe"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	RiskLimits     RiskLimits     `json:"riskLimits"`
	Validation     ValidationConfig `json:"validation"`
}

// RiskLimits bounds a backtest/live run's exposure.
type RiskLimits struct {
	MaxPositionPct   decimal.Decimal `json:"maxPositionPct"` // e.g. 0.10 for the 10%-of-equity cap
	DailyLossLimit   decimal.Decimal `json:"dailyLossLimit"`
	WeeklyLossLimit  decimal.Decimal `json:"weeklyLossLimit"`
	MaxOpenPositions int             `json:"maxOpenPositions"`
}

// ValidationConfig bundles the optional post-backtest validation passes.
type ValidationConfig struct {
	WalkForward WalkForwardConfig `json:"walkForward,omitempty"`
	MonteCarlo  MonteCarloConfig  `json:"monteCarlo,omitempty"`
}

// WalkForwardConfig is the walk-forward window generation policy (§4.10).
// Default train:test ratio is 3:1 with a 20-day step and a 20-day minimum
// test period.
type WalkForwardConfig struct {
	Enabled        bool `json:"enabled"`
	TrainTestRatio int  `json:"trainTestRatio"` // train days per test day, default 3
	StepDays       int  `json:"stepDays"`       // default 20
	TestDays       int  `json:"testDays"`       // default 20, must be >= 20
}

// DefaultWalkForwardConfig matches §4.10's stated defaults.
func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{
		Enabled:        true,
		TrainTestRatio: 3,
		StepDays:       20,
		TestDays:       20,
	}
}

// MonteCarloConfig is the optional trade-resampling validation pass.
type MonteCarloConfig struct {
	Enabled         bool            `json:"enabled"`
	Iterations      int             `json:"iterations"`
	ConfidenceLevel decimal.Decimal `json:"confidenceLevel"`
}

// RiskMetrics are the distributional risk figures computed alongside
// PerformanceMetrics.
type RiskMetrics struct {
	VaR95            decimal.Decimal `json:"var95"`
	VaR99            decimal.Decimal `json:"var99"`
	CVaR95           decimal.Decimal `json:"cvar95"`
	DailyVolatility  decimal.Decimal `json:"dailyVolatility"`
	AnnualVolatility decimal.Decimal `json:"annualVolatility"`
}

// BacktestResult is the final output of a Backtest Engine run (C9).
type BacktestResult struct {
	ID                string              `json:"id"`
	Config            *BacktestConfig     `json:"config"`
	Metrics           *PerformanceMetrics `json:"metrics"`
	RiskMetrics       *RiskMetrics        `json:"riskMetrics"`
	EquityCurve       []EquityCurvePoint  `json:"equityCurve"`
	Fills             []Fill              `json:"fills"`
	MonteCarloResult  *MonteCarloResult   `json:"monteCarloResult,omitempty"`
	WalkForwardResult *WalkForwardResult  `json:"walkForwardResult,omitempty"`
	StartedAt         time.Time           `json:"startedAt"`
	CompletedAt       time.Time           `json:"completedAt"`
	EventsProcessed   uint64              `json:"eventsProcessed"`
	Valid             bool                `json:"valid"` // false when fewer than 10 trades (§4.9)
}

// BacktestProgress is streamed while a backtest/walk-forward run is in flight.
type BacktestProgress struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"` // "running", "completed", "failed", "cancelled"
	Progress        float64         `json:"progress"`
	EventsProcessed uint64          `json:"eventsProcessed"`
	TotalEvents     uint64          `json:"totalEvents"`
	CurrentDate     time.Time       `json:"currentDate"`
	TradesExecuted  int             `json:"tradesExecuted"`
	CurrentEquity   decimal.Decimal `json:"currentEquity"`
	Error           string          `json:"error,omitempty"`
}

// ServerConfig configures the operator-facing admin HTTP/WS surface.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
}

// DataConfig configures the history ingestor / bar store.
type DataConfig struct {
	DataDir   string `json:"dataDir"`
	CacheSize int    `json:"cacheSize"` // MB
}
