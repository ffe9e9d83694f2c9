// Package main is the composition root for the trading orchestrator: a
// single binary exposing serve/backtest/walkforward/download-history
// subcommands over the same wired collaborators.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DreamFulFil/atrader/internal/api"
	"github.com/DreamFulFil/atrader/internal/backtester"
	"github.com/DreamFulFil/atrader/internal/bridge"
	"github.com/DreamFulFil/atrader/internal/chat"
	"github.com/DreamFulFil/atrader/internal/config"
	"github.com/DreamFulFil/atrader/internal/data"
	"github.com/DreamFulFil/atrader/internal/dispatcher"
	"github.com/DreamFulFil/atrader/internal/engine"
	"github.com/DreamFulFil/atrader/internal/events"
	"github.com/DreamFulFil/atrader/internal/execution"
	"github.com/DreamFulFil/atrader/internal/ingestor"
	"github.com/DreamFulFil/atrader/internal/ledger"
	"github.com/DreamFulFil/atrader/internal/marketdata"
	"github.com/DreamFulFil/atrader/internal/metrics"
	"github.com/DreamFulFil/atrader/internal/optimization"
	"github.com/DreamFulFil/atrader/internal/risk"
	"github.com/DreamFulFil/atrader/internal/scheduler"
	"github.com/DreamFulFil/atrader/internal/slippage"
	"github.com/DreamFulFil/atrader/internal/store"
	"github.com/DreamFulFil/atrader/internal/strategy"
	"github.com/DreamFulFil/atrader/internal/walkforward"
	"github.com/DreamFulFil/atrader/pkg/types"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitFatalRuntime = 2
	exitInterrupted  = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: atrader <serve|backtest|walkforward|download-history> [years]")
		return exitConfigError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	logger := setupLogger("info")
	defer logger.Sync()

	switch os.Args[1] {
	case "serve":
		return runServe(logger, cfg)
	case "backtest":
		years, err := yearsArg()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitConfigError
		}
		return runBacktest(logger, cfg, years)
	case "walkforward":
		years, err := yearsArg()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitConfigError
		}
		return runWalkForward(logger, cfg, years)
	case "download-history":
		years, err := yearsArg()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitConfigError
		}
		return runDownloadHistory(logger, cfg, years)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		return exitConfigError
	}
}

func yearsArg() (int, error) {
	if len(os.Args) < 3 {
		return 0, fmt.Errorf("expected <years> argument")
	}
	years, err := strconv.Atoi(os.Args[2])
	if err != nil || years <= 0 {
		return 0, fmt.Errorf("invalid <years> argument %q", os.Args[2])
	}
	return years, nil
}

// registerStrategies registers every builtin strategy under the stock
// market code, so /set-main-strategy and shadow swaps can name either one.
func registerStrategies(registry *strategy.Registry) {
	registry.Register("momentum", func() strategy.Strategy {
		return strategy.NewMomentumStrategy("momentum", "stock", 20, decimal.NewFromFloat(0.02))
	})
	registry.Register("mean_reversion", func() strategy.Strategy {
		return strategy.NewMeanReversionStrategy("mean_reversion", "stock", 20, decimal.NewFromFloat(2.0))
	})
}

// buildCollaborators wires every long-lived component serve runs on:
// store, bridge, ledger, risk, strategy manager, market data tracker,
// slippage model, execution router, and the trading engine itself. Only
// runServe calls it. notifier is supplied by the caller, which decides how
// operator alerts are delivered (runServe passes its chat transport).
func buildCollaborators(logger *zap.Logger, cfg config.Config, notifier engine.Notifier) (*store.Store, *engine.Engine, *risk.Gatekeeper, *strategy.Manager, error) {
	db, err := store.Open(logger, cfg.Postgres)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	bridgeClient := bridge.New(logger, cfg.BridgeURL)
	posLedger := ledger.New(logger)

	riskCfg := risk.DefaultConfig()
	riskCfg.DailyLossLimit = cfg.DailyLossLimit
	riskCfg.WeeklyLossLimit = cfg.WeeklyLossLimit
	gate := risk.New(logger, riskCfg)

	registry := strategy.NewRegistry()
	registerStrategies(registry)
	manager := strategy.New(logger, registry)
	if err := manager.SetMain("momentum", cfg.ActiveSymbol); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("set main strategy: %w", err)
	}

	tracker := marketdata.New()
	slip := slippage.New(logger)
	router := execution.New(logger, bridgeClient)

	engConfig := engine.DefaultConfig(cfg.ActiveSymbol)
	engConfig.TradingMode = cfg.TradingMode

	recorder := storeRecorder{store: db}

	eng := engine.New(logger, engConfig, bridgeClient, posLedger, gate, manager, router, slip, tracker, recorder, notifier)
	return db, eng, gate, manager, nil
}

// chatNotifier delivers operator-facing alerts (emergency shutdown, hard
// exits, strategy swaps) over the chat transport, logging alongside so
// the alert survives even if the send itself fails.
type chatNotifier struct {
	logger    *zap.Logger
	transport chat.Transport
}

func (n chatNotifier) Notify(message string) {
	n.logger.Warn("operator notification", zap.String("message", message))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.transport.Send(ctx, message); err != nil {
		n.logger.Error("failed to deliver operator notification", zap.Error(err))
	}
}

// storeRecorder persists per-tick signals, giving the admin dashboard and
// post-hoc analysis a durable tick-level trail.
type storeRecorder struct {
	store *store.Store
}

func (r storeRecorder) RecordTick(snap engine.TickSnapshot) {
	if snap.Signal.Direction == "" {
		return
	}
	_ = r.store.SaveSignal(snap.Signal)
}

// eligibilitySource answers /confirmlive's track-record check from the
// persisted daily_statistics rows, rolled up for the current day.
type eligibilitySource struct {
	store *store.Store
}

func (e eligibilitySource) GoLiveEligibility() dispatcher.GoLiveEligibility {
	stat, err := e.store.AggregateDaily(context.Background(), time.Now())
	if err != nil {
		return dispatcher.GoLiveEligibility{}
	}
	return dispatcher.GoLiveEligibility{
		SimulationTrades: stat.TotalTrades,
		WinRate:          stat.WinRate,
		MaxDrawdown:      decimal.Zero,
	}
}

func runServe(logger *zap.Logger, cfg config.Config) int {
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var transport chat.Transport
	if cfg.TelegramBotToken != "" {
		transport = chat.NewTelegram(ctx, logger, cfg.TelegramBotToken, cfg.TelegramChatID)
	} else {
		transport = chat.NewNoop()
	}
	notifier := chatNotifier{logger: logger, transport: transport}

	db, eng, gate, manager, err := buildCollaborators(logger, cfg, notifier)
	if err != nil {
		logger.Error("failed to wire collaborators", zap.Error(err))
		return exitFatalRuntime
	}

	bus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	bus.Start(ctx)
	defer bus.Stop()

	disp := dispatcher.New(logger, transport, eng, gate, manager, eligibilitySource{store: db})
	go disp.Run(ctx)

	sched := scheduler.New(logger, scheduler.Config{
		Location:   cfg.Location(),
		Swapper:    manager,
		Aggregator: db,
		StatsSaver: db,
		Cleaner:    db,
		Events:     db,
		Notifier:   notifier,
		Symbol:     cfg.ActiveSymbol,
	})
	sched.Start(ctx)

	serverCfg := types.ServerConfig{
		Host:         cfg.ServerHost,
		Port:         cfg.ServerPort,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	loader := data.NewLoader(logger, db)
	registry := strategy.NewRegistry()
	registerStrategies(registry)
	adminServer := api.NewServer(logger, serverCfg, eng, gate, disp, registry, loader, bus)

	go func() {
		if err := adminServer.Start(); err != nil {
			logger.Error("admin server stopped", zap.Error(err))
		}
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", zap.Error(err))
		return exitFatalRuntime
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping engine", zap.Error(err))
	}
	if err := adminServer.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping admin server", zap.Error(err))
	}

	if sig == syscall.SIGINT {
		return exitInterrupted
	}
	return exitOK
}

func runBacktest(logger *zap.Logger, cfg config.Config, years int) int {
	db, err := store.Open(logger, cfg.Postgres)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return exitFatalRuntime
	}

	registry := strategy.NewRegistry()
	registerStrategies(registry)
	strat, ok := registry.Create("momentum")
	if !ok {
		logger.Error("unknown strategy")
		return exitFatalRuntime
	}

	loader := data.NewLoader(logger, db)
	end := time.Now()
	start := end.AddDate(-years, 0, 0)
	bars, _, err := loader.Load(cfg.ActiveSymbol, string(types.Timeframe1Day), start, end)
	if err != nil {
		logger.Error("failed to load bars", zap.Error(err))
		return exitFatalRuntime
	}

	backtestCfg := types.BacktestConfig{
		ID:             fmt.Sprintf("backtest-%d", time.Now().Unix()),
		StrategyName:   "momentum",
		Symbol:         cfg.ActiveSymbol,
		StartDate:      start,
		EndDate:        end,
		Timeframe:      types.Timeframe1Day,
		InitialCapital: decimal.NewFromInt(1_000_000),
	}

	bt := backtester.New(logger)
	result, err := bt.Run(context.Background(), backtestCfg, strat, bars)
	if err != nil {
		logger.Error("backtest failed", zap.Error(err))
		return exitFatalRuntime
	}

	logger.Info("backtest complete",
		zap.Uint64("events", result.EventsProcessed),
		zap.Bool("valid", result.Valid),
	)
	return exitOK
}

func runWalkForward(logger *zap.Logger, cfg config.Config, years int) int {
	db, err := store.Open(logger, cfg.Postgres)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return exitFatalRuntime
	}

	loader := data.NewLoader(logger, db)
	end := time.Now()
	start := end.AddDate(-years, 0, 0)
	bars, _, err := loader.Load(cfg.ActiveSymbol, string(types.Timeframe1Day), start, end)
	if err != nil {
		logger.Error("failed to load bars", zap.Error(err))
		return exitFatalRuntime
	}

	base := types.BacktestConfig{
		ID:             fmt.Sprintf("walkforward-%d", time.Now().Unix()),
		StrategyName:   "momentum",
		Symbol:         cfg.ActiveSymbol,
		StartDate:      start,
		EndDate:        end,
		Timeframe:      types.Timeframe1Day,
		InitialCapital: decimal.NewFromInt(1_000_000),
	}

	params := []optimization.Parameter{
		{Name: "period", Type: optimization.ParamTypeInteger, Min: 10, Max: 60, Step: 5, Default: 20},
		{Name: "threshold", Type: optimization.ParamTypeContinuous, Min: 0.005, Max: 0.05, Step: 0.005, Default: 0.02},
	}
	factory := func(set optimization.ParamSet) strategy.Strategy {
		period := 20
		if v, ok := set["period"]; ok {
			period = int(v)
		}
		threshold := decimal.NewFromFloat(0.02)
		if v, ok := set["threshold"]; ok {
			threshold = decimal.NewFromFloat(v)
		}
		return strategy.NewMomentumStrategy("momentum", "stock", period, threshold)
	}

	bt := backtester.New(logger)
	opt := walkforward.New(logger, bt, optimization.DefaultOptimizerConfig())
	result, err := opt.Run(context.Background(), base, params, factory, bars, types.DefaultWalkForwardConfig())
	if err != nil {
		logger.Error("walk-forward run failed", zap.Error(err))
		return exitFatalRuntime
	}

	logger.Info("walk-forward complete", zap.Int("windows", len(result.Windows)))
	return exitOK
}

func runDownloadHistory(logger *zap.Logger, cfg config.Config, years int) int {
	db, err := store.Open(logger, cfg.Postgres)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return exitFatalRuntime
	}

	bridgeClient := bridge.New(logger, cfg.BridgeURL)
	ing := ingestor.New(logger, bridgeClient, db, types.Timeframe1Day)

	result, err := ing.Run(context.Background(), []string{cfg.ActiveSymbol}, years)
	if err != nil {
		logger.Error("history download failed", zap.Error(err))
		return exitFatalRuntime
	}

	logger.Info("history download complete",
		zap.Int("written", result.BarsWritten),
		zap.Int("dropped", result.BarsDropped),
	)
	return exitOK
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
