// Package store is the GORM/Postgres persistence layer over the logical
// tables enumerated in §6: bar, market_data, trade, signal, event,
// veto_event, llm_insight, economic_news, economic_event, system_config,
// active_strategy, strategy_config, strategy_performance,
// strategy_stock_mapping, shadow_mode_stock, active_shadow_selection,
// stock_settings, risk_settings, earnings_blackout_meta,
// earnings_blackout_date, daily_statistics, fundamental_data.
//
// Grounded on ChoSanghyuk-blackholedex/internal/db/transaction_recorder.go's
// GORM model + AutoMigrate + Create/query shape. The driver is swapped:
// gorm.io/driver/postgres replaces the teacher's gorm.io/driver/mysql (no
// example repo in the pack uses a native Postgres client, and the spec's
// POSTGRES_{HOST,...} env vars require Postgres specifically) — see
// DESIGN.md's dependency-substitution entry.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// Config holds the Postgres connection parameters from §6's enumerated
// POSTGRES_{HOST,PORT,DB,USER,PASSWORD} environment variables.
type Config struct {
	Host     string
	Port     int
	DB       string
	User     string
	Password string
}

// DSN builds the libpq-style connection string gorm's postgres driver expects.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		c.Host, c.Port, c.DB, c.User, c.Password)
}

// BarRecord is the `bar` table: immutable OHLCV rows, unique on
// (symbol, timeframe, timestamp).
type BarRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Symbol     string    `gorm:"size:32;not null;uniqueIndex:idx_bar_unique"`
	Timeframe  string    `gorm:"size:16;not null;uniqueIndex:idx_bar_unique"`
	Timestamp  time.Time `gorm:"not null;uniqueIndex:idx_bar_unique"`
	Open       string    `gorm:"type:numeric;not null"`
	High       string    `gorm:"type:numeric;not null"`
	Low        string    `gorm:"type:numeric;not null"`
	Close      string    `gorm:"type:numeric;not null"`
	Volume     string    `gorm:"type:numeric;not null"`
	IsComplete bool      `gorm:"not null;default:true"`
}

func (BarRecord) TableName() string { return "bar" }

// MarketDataRecord is the `market_data` table: a derived row alongside
// each bar batch (ADV/ATR rollups the ingestor computes once per batch,
// consumed by sizing/slippage at runtime instead of recomputing from raw
// bars on every tick).
type MarketDataRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Symbol    string    `gorm:"size:32;not null;uniqueIndex:idx_md_unique"`
	Timestamp time.Time `gorm:"not null;uniqueIndex:idx_md_unique"`
	ADV       string    `gorm:"type:numeric;not null"`
	ATR       string    `gorm:"type:numeric;not null"`
}

func (MarketDataRecord) TableName() string { return "market_data" }

// TradeRecord is the `trade` table: one materialized fill.
type TradeRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	OrderRef    string    `gorm:"size:64;not null;index"`
	Symbol      string    `gorm:"size:32;not null;index"`
	Side        string    `gorm:"size:8;not null"`
	FilledQty   string    `gorm:"type:numeric;not null"`
	FilledPrice string    `gorm:"type:numeric;not null"`
	Fees        string    `gorm:"type:numeric;not null"`
	Tax         string    `gorm:"type:numeric;not null"`
	SlippageBps string    `gorm:"type:numeric;not null"`
	RealizedPnL string    `gorm:"type:numeric;not null"`
	IsExit      bool      `gorm:"not null"`
	Timestamp   time.Time `gorm:"not null;index"`
}

func (TradeRecord) TableName() string { return "trade" }

// SignalRecord is the `signal` table: every strategy signal produced per
// tick, acted on or not (§3's TradeSignal lifecycle — discarded signals
// are still logged here, never retried).
type SignalRecord struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	StrategyName string    `gorm:"size:64;not null;index"`
	Symbol       string    `gorm:"size:32;not null;index"`
	Direction    string    `gorm:"size:16;not null"`
	Confidence   string    `gorm:"type:numeric;not null"`
	Reason       string    `gorm:"type:text"`
	Timestamp    time.Time `gorm:"not null;index"`
}

func (SignalRecord) TableName() string { return "signal" }

// EventRecord is the `event` table: a general audit trail entry (engine
// notifications, swaps, command results) distinct from risk vetoes.
type EventRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Kind      string    `gorm:"size:32;not null;index"`
	Message   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null;index"`
}

func (EventRecord) TableName() string { return "event" }

// VetoEventRecord is the `veto_event` table.
type VetoEventRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	Source          string    `gorm:"size:32;not null;index"`
	Reason          string    `gorm:"type:text;not null"`
	AffectedSymbols string    `gorm:"type:text"` // comma-joined
	Timestamp       time.Time `gorm:"not null;index"`
}

func (VetoEventRecord) TableName() string { return "veto_event" }

// LlmInsightRecord is the `llm_insight` table: write-only from the
// engine's perspective.
type LlmInsightRecord struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	Type             string    `gorm:"size:32;not null;index"`
	Symbol           string    `gorm:"size:32;index"`
	TradeID          string    `gorm:"size:64"`
	SignalID         string    `gorm:"size:64"`
	EventID          string    `gorm:"size:64"`
	Content          string    `gorm:"type:text;not null"`
	Confidence       string    `gorm:"type:numeric"`
	ProcessingTimeMs int64     `gorm:"not null"`
	Success          bool      `gorm:"not null"`
	Recommendation   string    `gorm:"size:16"`
	Timestamp        time.Time `gorm:"not null;index"`
}

func (LlmInsightRecord) TableName() string { return "llm_insight" }

// EconomicNewsRecord is the `economic_news` table backing the cached
// news-veto flag (§4.2 rule 5).
type EconomicNewsRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Symbol    string    `gorm:"size:32;index"`
	Headline  string    `gorm:"type:text;not null"`
	Severity  string    `gorm:"size:16;not null"`
	Timestamp time.Time `gorm:"not null;index"`
}

func (EconomicNewsRecord) TableName() string { return "economic_news" }

// EconomicEventRecord is the `economic_event` table. The Scheduler's
// monthly task (§4.12) deletes rows older than 2 years.
type EconomicEventRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Name        string    `gorm:"size:128;not null"`
	OccursAt    time.Time `gorm:"not null;index"`
	Description string    `gorm:"type:text"`
}

func (EconomicEventRecord) TableName() string { return "economic_event" }

// SystemConfigRecord is the `system_config (key,value)` table. It backs
// ActiveStock under key CURRENT_ACTIVE_STOCK and TRADING_MODE.
type SystemConfigRecord struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"type:text;not null"`
}

func (SystemConfigRecord) TableName() string { return "system_config" }

// ActiveStrategyRecord is the `active_strategy` table: the single
// authoritative current-main-strategy binding (DESIGN.md open question 3).
type ActiveStrategyRecord struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	StrategyName string    `gorm:"size:64;not null"`
	Symbol       string    `gorm:"size:32;not null"`
	Reason       string    `gorm:"type:text"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (ActiveStrategyRecord) TableName() string { return "active_strategy" }

// StrategyConfigRecord is the `strategy_config` table: enablement +
// parameters, one row per strategy name.
type StrategyConfigRecord struct {
	StrategyName string `gorm:"primaryKey;size:64"`
	Enabled      bool   `gorm:"not null"`
	Priority     int    `gorm:"not null"`
	MarketCode   string `gorm:"size:16;not null"`
	ParametersJSON string `gorm:"type:text"` // map[string]float64 marshaled
}

func (StrategyConfigRecord) TableName() string { return "strategy_config" }

// StrategyPerformanceRecord is the `strategy_performance` table: one row
// per strategy per day, persisted by the drawdown-monitor scheduler task.
type StrategyPerformanceRecord struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	StrategyName string    `gorm:"size:64;not null;index"`
	TradeDate    time.Time `gorm:"not null;index"`
	Equity       string    `gorm:"type:numeric;not null"`
	Drawdown     string    `gorm:"type:numeric;not null"`
	Sharpe       string    `gorm:"type:numeric;not null"`
}

func (StrategyPerformanceRecord) TableName() string { return "strategy_performance" }

// StrategyStockMappingRecord is the `strategy_stock_mapping` table: which
// symbol a given strategy is bound to evaluate (main or shadow).
type StrategyStockMappingRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	StrategyName string `gorm:"size:64;not null;index"`
	Symbol       string `gorm:"size:32;not null"`
	IsShadow     bool   `gorm:"not null"`
}

func (StrategyStockMappingRecord) TableName() string { return "strategy_stock_mapping" }

// ShadowModeStockRecord is the `shadow_mode_stock` table: the ranked
// ShadowStock list from §3.
type ShadowModeStockRecord struct {
	Rank         int    `gorm:"primaryKey"`
	Symbol       string `gorm:"size:32;not null"`
	StrategyName string `gorm:"size:64;not null"`
	Enabled      bool   `gorm:"not null"`
}

func (ShadowModeStockRecord) TableName() string { return "shadow_mode_stock" }

// ActiveShadowSelectionRecord is the `active_shadow_selection` table: the
// shadow entry the swap task most recently considered or promoted.
type ActiveShadowSelectionRecord struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	StrategyName string    `gorm:"size:64;not null"`
	Symbol       string    `gorm:"size:32;not null"`
	Sharpe       string    `gorm:"type:numeric"`
	SelectedAt   time.Time `gorm:"not null"`
}

func (ActiveShadowSelectionRecord) TableName() string { return "active_shadow_selection" }

// StockSettingsRecord is the `stock_settings` table: per-symbol lot type
// and trading-mode overrides.
type StockSettingsRecord struct {
	Symbol      string `gorm:"primaryKey;size:32"`
	LotType     string `gorm:"size:8;not null"`
	TradingMode string `gorm:"size:24;not null"`
}

func (StockSettingsRecord) TableName() string { return "stock_settings" }

// RiskSettingsRecord is the `risk_settings` table: the gatekeeper's
// tunable thresholds, persisted so an operator override survives restart.
type RiskSettingsRecord struct {
	ID                  uint   `gorm:"primaryKey;autoIncrement"`
	DailyLossLimit      string `gorm:"type:numeric;not null"`
	WeeklyLossLimit     string `gorm:"type:numeric;not null"`
	StopLossPercent     string `gorm:"type:numeric;not null"`
	StopLossPerContract string `gorm:"type:numeric;not null"`
}

func (RiskSettingsRecord) TableName() string { return "risk_settings" }

// EarningsBlackoutMetaRecord is the `earnings_blackout_meta` table: the
// per-symbol refresh timestamp gating the TTL in §4.2 rule 2.
type EarningsBlackoutMetaRecord struct {
	Symbol      string    `gorm:"primaryKey;size:32"`
	LastRefresh time.Time `gorm:"not null"`
}

func (EarningsBlackoutMetaRecord) TableName() string { return "earnings_blackout_meta" }

// EarningsBlackoutDateRecord is the `earnings_blackout_date` table: one
// blackout date range for a symbol.
type EarningsBlackoutDateRecord struct {
	ID     uint      `gorm:"primaryKey;autoIncrement"`
	Symbol string    `gorm:"size:32;not null;index"`
	Start  time.Time `gorm:"not null"`
	End    time.Time `gorm:"not null"`
}

func (EarningsBlackoutDateRecord) TableName() string { return "earnings_blackout_date" }

// DailyStatisticsRecord is the `daily_statistics` table.
type DailyStatisticsRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	TradeDate      time.Time `gorm:"not null;uniqueIndex:idx_daily_stats_unique"`
	Symbol         string    `gorm:"size:32;not null;uniqueIndex:idx_daily_stats_unique"`
	TotalTrades    int       `gorm:"not null"`
	WinRate        string    `gorm:"type:numeric;not null"`
	RealizedPnL    string    `gorm:"type:numeric;not null"`
	UnrealizedPnL  string    `gorm:"type:numeric;not null"`
	SharpeRatio    string    `gorm:"type:numeric;not null"`
	SortinoRatio   string    `gorm:"type:numeric;not null"`
	CalmarRatio    string    `gorm:"type:numeric;not null"`
	LlmInsightText string    `gorm:"type:text"`
	Consistency    string    `gorm:"type:numeric;not null"`
}

func (DailyStatisticsRecord) TableName() string { return "daily_statistics" }

// FundamentalDataRecord is the `fundamental_data` table: per-symbol
// fundamentals consulted when deciding earnings-blackout windows.
type FundamentalDataRecord struct {
	Symbol        string    `gorm:"primaryKey;size:32"`
	NextEarnings  time.Time `gorm:"not null"`
	MarketCode    string    `gorm:"size:16;not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (FundamentalDataRecord) TableName() string { return "fundamental_data" }

var allModels = []interface{}{
	&BarRecord{}, &MarketDataRecord{}, &TradeRecord{}, &SignalRecord{}, &EventRecord{},
	&VetoEventRecord{}, &LlmInsightRecord{}, &EconomicNewsRecord{}, &EconomicEventRecord{},
	&SystemConfigRecord{}, &ActiveStrategyRecord{}, &StrategyConfigRecord{},
	&StrategyPerformanceRecord{}, &StrategyStockMappingRecord{}, &ShadowModeStockRecord{},
	&ActiveShadowSelectionRecord{}, &StockSettingsRecord{}, &RiskSettingsRecord{},
	&EarningsBlackoutMetaRecord{}, &EarningsBlackoutDateRecord{}, &DailyStatisticsRecord{},
	&FundamentalDataRecord{},
}

// Store wraps a GORM DB handle and the query helpers every other
// component needs (engine Recorder, risk blackout refresh, dispatcher
// config mutation, ingestor batch insert, scheduler cleanup).
type Store struct {
	logger *zap.Logger
	db     *gorm.DB
}

// Open connects to Postgres and auto-migrates every logical table.
func Open(logger *zap.Logger, cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return &Store{logger: logger, db: db}, nil
}

// OpenWithDB wraps an already-opened *gorm.DB (used by tests with
// sqlite, or a shared connection pool).
func OpenWithDB(logger *zap.Logger, db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return &Store{logger: logger, db: db}, nil
}

// DB exposes the underlying handle for callers that need a raw query.
func (s *Store) DB() *gorm.DB { return s.db }

// SaveSignal inserts one signal row, acted on or discarded.
func (s *Store) SaveSignal(sig types.TradeSignal) error {
	rec := SignalRecord{
		StrategyName: sig.StrategyName,
		Symbol:       sig.Symbol,
		Direction:    string(sig.Direction),
		Confidence:   sig.Confidence.String(),
		Reason:       sig.Reason,
		Timestamp:    sig.Timestamp,
	}
	return s.db.Create(&rec).Error
}

// SaveVeto inserts one veto_event row.
func (s *Store) SaveVeto(v types.VetoEvent) error {
	rec := VetoEventRecord{
		Source:          string(v.Source),
		Reason:          v.Reason,
		AffectedSymbols: joinSymbols(v.AffectedSymbols),
		Timestamp:       v.Timestamp,
	}
	return s.db.Create(&rec).Error
}

// SaveTrade inserts one materialized fill.
func (s *Store) SaveTrade(orderRef, symbol, side string, realizedPnL decimal.Decimal, f types.Fill, isExit bool) error {
	rec := TradeRecord{
		OrderRef:    orderRef,
		Symbol:      symbol,
		Side:        side,
		FilledQty:   f.FilledQty.String(),
		FilledPrice: f.FilledPrice.String(),
		Fees:        f.Fees.String(),
		Tax:         f.Tax.String(),
		SlippageBps: f.SlippageBps.String(),
		RealizedPnL: realizedPnL.String(),
		IsExit:      isExit,
		Timestamp:   f.Timestamp,
	}
	return s.db.Create(&rec).Error
}

// SaveLlmInsight inserts one llm_insight row.
func (s *Store) SaveLlmInsight(in types.LlmInsight) error {
	rec := LlmInsightRecord{
		Type:             string(in.Type),
		Symbol:           in.Symbol,
		TradeID:          in.TradeID,
		SignalID:         in.SignalID,
		EventID:          in.EventID,
		Content:          in.Content,
		Confidence:       in.Confidence.String(),
		ProcessingTimeMs: in.ProcessingTimeMs,
		Success:          in.Success,
		Recommendation:   in.Recommendation,
		Timestamp:        in.Timestamp,
	}
	return s.db.Create(&rec).Error
}

// SaveDailyStatistics upserts one (tradeDate, symbol) rollup.
func (s *Store) SaveDailyStatistics(stat types.DailyStatistics) error {
	rec := DailyStatisticsRecord{
		TradeDate:      stat.TradeDate,
		Symbol:         stat.Symbol,
		TotalTrades:    stat.TotalTrades,
		WinRate:        stat.WinRate.String(),
		RealizedPnL:    stat.RealizedPnL.String(),
		UnrealizedPnL:  stat.UnrealizedPnL.String(),
		SharpeRatio:    stat.SharpeRatio.String(),
		SortinoRatio:   stat.SortinoRatio.String(),
		CalmarRatio:    stat.CalmarRatio.String(),
		LlmInsightText: stat.LlmInsightText,
		Consistency:    stat.Consistency.String(),
	}
	return s.db.Where(DailyStatisticsRecord{TradeDate: stat.TradeDate, Symbol: stat.Symbol}).
		Assign(rec).FirstOrCreate(&DailyStatisticsRecord{}).Error
}

// AggregateDaily rolls up every exit fill on at's calendar day into a
// DailyStatistics row, for the Scheduler's nightly EOD task. Sharpe/
// Sortino/Calmar/Consistency are left zero: deriving them needs an equity
// curve, not a single day's handful of trade rows, and nothing in this
// repository fills them in.
func (s *Store) AggregateDaily(ctx context.Context, at time.Time) (types.DailyStatistics, error) {
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var records []TradeRecord
	err := s.db.WithContext(ctx).
		Where("is_exit = ? AND timestamp >= ? AND timestamp < ?", true, dayStart, dayEnd).
		Find(&records).Error
	if err != nil {
		return types.DailyStatistics{}, fmt.Errorf("store: aggregate daily: %w", err)
	}

	stat := types.DailyStatistics{TradeDate: dayStart}
	if len(records) == 0 {
		return stat, nil
	}

	stat.Symbol = records[0].Symbol
	wins := 0
	realized := decimal.Zero
	for _, r := range records {
		pnl, err := decimal.NewFromString(r.RealizedPnL)
		if err != nil {
			return types.DailyStatistics{}, fmt.Errorf("store: aggregate daily: parse realized pnl: %w", err)
		}
		realized = realized.Add(pnl)
		if pnl.IsPositive() {
			wins++
		}
	}
	stat.TotalTrades = len(records)
	stat.RealizedPnL = realized
	stat.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(records))))
	return stat, nil
}

// GetConfig reads one system_config value; ok is false if the key is unset.
func (s *Store) GetConfig(key string) (value string, ok bool) {
	var rec SystemConfigRecord
	if err := s.db.First(&rec, "key = ?", key).Error; err != nil {
		return "", false
	}
	return rec.Value, true
}

// SetConfig upserts one system_config value.
func (s *Store) SetConfig(key, value string) error {
	rec := SystemConfigRecord{Key: key, Value: value}
	return s.db.Save(&rec).Error
}

// GetActiveStrategy reads the current authoritative strategy binding.
func (s *Store) GetActiveStrategy() (ActiveStrategyRecord, error) {
	var rec ActiveStrategyRecord
	err := s.db.Order("id desc").First(&rec).Error
	return rec, err
}

// SetActiveStrategy inserts a new authoritative binding row (append-only,
// so history of swaps is retained for audit).
func (s *Store) SetActiveStrategy(strategyName, symbol, reason string, at time.Time) error {
	rec := ActiveStrategyRecord{StrategyName: strategyName, Symbol: symbol, Reason: reason, UpdatedAt: at}
	return s.db.Create(&rec).Error
}

// ListStrategyConfigs returns every registered strategy's enablement row.
func (s *Store) ListStrategyConfigs() ([]StrategyConfigRecord, error) {
	var recs []StrategyConfigRecord
	err := s.db.Find(&recs).Error
	return recs, err
}

// SetEarningsBlackout replaces every blackout date row for symbol and
// refreshes its meta TTL timestamp.
func (s *Store) SetEarningsBlackout(symbol string, windows []EarningsBlackoutDateRecord, at time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("symbol = ?", symbol).Delete(&EarningsBlackoutDateRecord{}).Error; err != nil {
			return err
		}
		for i := range windows {
			windows[i].Symbol = symbol
			if err := tx.Create(&windows[i]).Error; err != nil {
				return err
			}
		}
		meta := EarningsBlackoutMetaRecord{Symbol: symbol, LastRefresh: at}
		return tx.Save(&meta).Error
	})
}

// ListBlackoutWindows returns every cached blackout window for symbol.
func (s *Store) ListBlackoutWindows(symbol string) ([]EarningsBlackoutDateRecord, error) {
	var recs []EarningsBlackoutDateRecord
	err := s.db.Where("symbol = ?", symbol).Find(&recs).Error
	return recs, err
}

// DeleteOldEconomicEvents deletes economic_event rows older than cutoff,
// implementing the Scheduler's monthly 2-year retention task (§4.12).
func (s *Store) DeleteOldEconomicEvents(cutoff time.Time) (int64, error) {
	result := s.db.Where("occurs_at < ?", cutoff).Delete(&EconomicEventRecord{})
	return result.RowsAffected, result.Error
}

// SaveEconomicEvent inserts one economic_event row; the Scheduler's yearly
// task uses this to persist generated futures expiration dates.
func (s *Store) SaveEconomicEvent(name string, occursAt time.Time, description string) error {
	rec := EconomicEventRecord{Name: name, OccursAt: occursAt, Description: description}
	return s.db.Create(&rec).Error
}

func joinSymbols(symbols []string) string {
	out := ""
	for i, s := range symbols {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// SaveBarBatch bulk-inserts a batch of bar rows and their paired
// market_data rollups in one transaction, the two parameterized inserts
// the History Ingestor's writer executes per batch (§4.11).
func (s *Store) SaveBarBatch(bars []BarRecord, marketData []MarketDataRecord) error {
	if len(bars) == 0 && len(marketData) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if len(bars) > 0 {
			if err := tx.CreateInBatches(bars, 500).Error; err != nil {
				return fmt.Errorf("store: insert bar batch: %w", err)
			}
		}
		if len(marketData) > 0 {
			if err := tx.CreateInBatches(marketData, 500).Error; err != nil {
				return fmt.Errorf("store: insert market_data batch: %w", err)
			}
		}
		return nil
	})
}

// TruncateHistorical empties the bar and market_data tables ahead of a
// fresh ingestion run. The ingestor guards the call with a per-Ingestor
// compare-and-set flag so it only runs once per run even with multiple
// producer goroutines racing to start the writer.
func (s *Store) TruncateHistorical() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM market_data").Error; err != nil {
			return fmt.Errorf("store: truncate market_data: %w", err)
		}
		if err := tx.Exec("DELETE FROM bar").Error; err != nil {
			return fmt.Errorf("store: truncate bar: %w", err)
		}
		return nil
	})
}

// LoadBars returns symbol's persisted bars for timeframe within [from, to],
// ascending by timestamp, for the Backtest Engine and Walk-Forward
// Optimizer to replay.
func (s *Store) LoadBars(symbol, timeframe string, from, to time.Time) ([]types.Bar, error) {
	var records []BarRecord
	err := s.db.Where("symbol = ? AND timeframe = ? AND timestamp BETWEEN ? AND ?", symbol, timeframe, from, to).
		Order("timestamp ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("store: load bars: %w", err)
	}
	bars := make([]types.Bar, 0, len(records))
	for _, r := range records {
		bar, err := barFromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("store: decode bar %s@%s: %w", r.Symbol, r.Timestamp, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func barFromRecord(r BarRecord) (types.Bar, error) {
	open, err := decimal.NewFromString(r.Open)
	if err != nil {
		return types.Bar{}, err
	}
	high, err := decimal.NewFromString(r.High)
	if err != nil {
		return types.Bar{}, err
	}
	low, err := decimal.NewFromString(r.Low)
	if err != nil {
		return types.Bar{}, err
	}
	closePrice, err := decimal.NewFromString(r.Close)
	if err != nil {
		return types.Bar{}, err
	}
	volume, err := decimal.NewFromString(r.Volume)
	if err != nil {
		return types.Bar{}, err
	}
	return types.Bar{
		Symbol:     r.Symbol,
		Timeframe:  types.Timeframe(r.Timeframe),
		Timestamp:  r.Timestamp,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePrice,
		Volume:     volume,
		IsComplete: r.IsComplete,
	}, nil
}
