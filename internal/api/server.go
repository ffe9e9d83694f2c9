// Package api exposes the operator-facing admin HTTP/WebSocket surface:
// health, live status, and one-shot backtest/walk-forward runs, plus the
// push feed websocket.go's Hub forwards from the event bus.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/backtester"
	"github.com/DreamFulFil/atrader/internal/data"
	"github.com/DreamFulFil/atrader/internal/dispatcher"
	"github.com/DreamFulFil/atrader/internal/engine"
	"github.com/DreamFulFil/atrader/internal/events"
	"github.com/DreamFulFil/atrader/internal/metrics"
	"github.com/DreamFulFil/atrader/internal/optimization"
	"github.com/DreamFulFil/atrader/internal/risk"
	"github.com/DreamFulFil/atrader/internal/strategy"
	"github.com/DreamFulFil/atrader/internal/walkforward"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// defaultInitialCapital seeds an ad-hoc backtest/walk-forward request that
// doesn't specify its own starting equity.
var defaultInitialCapital = decimal.NewFromInt(1_000_000)

// Server is the admin HTTP/WebSocket server. Construct with NewServer and
// call Start; Stop drains in-flight requests and closes every WS client.
type Server struct {
	logger *zap.Logger
	config types.ServerConfig

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub

	eng        *engine.Engine
	gate       *risk.Gatekeeper
	dispatcher *dispatcher.Dispatcher
	registry   *strategy.Registry
	loader     *data.Loader
	backtest   *backtester.Engine
	walkfwd    *walkforward.Optimizer
}

// NewServer wires every collaborator the admin surface reports on or
// drives. bus may be nil, in which case the WebSocket push feed stays
// silent but /ws connections still accept and heartbeat.
func NewServer(
	logger *zap.Logger,
	config types.ServerConfig,
	eng *engine.Engine,
	gate *risk.Gatekeeper,
	disp *dispatcher.Dispatcher,
	registry *strategy.Registry,
	loader *data.Loader,
	bus *events.EventBus,
) *Server {
	hub := NewHub(logger)
	if bus != nil {
		hub.SubscribeBus(bus)
	}

	s := &Server{
		logger:     logger,
		config:     config,
		router:     mux.NewRouter(),
		hub:        hub,
		eng:        eng,
		gate:       gate,
		dispatcher: disp,
		registry:   registry,
		loader:     loader,
		backtest:   backtester.New(logger),
		walkfwd:    walkforward.New(logger, backtester.New(logger), optimization.DefaultOptimizerConfig()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	go hub.Run()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/pause", s.handlePause).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/resume", s.handleResume).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/backtest", s.handleBacktest).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/walkforward", s.handleWalkForward).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start blocks serving HTTP until Stop is called or the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	readTimeout, writeTimeout := s.config.ReadTimeout, s.config.WriteTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout == 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{Addr: addr, Handler: handler, ReadTimeout: readTimeout, WriteTimeout: writeTimeout}
	s.logger.Info("admin API listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP listener within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "time": time.Now().Unix()})
}

// statusResponse is the live snapshot an operator polls or a dashboard
// renders from the /status route.
type statusResponse struct {
	ActiveSymbol string `json:"activeSymbol"`
	Paused       bool   `json:"paused"`
	RiskPaused   bool   `json:"riskPaused"`
	Emergency    bool   `json:"emergencyShutdown"`
	ClientCount  int    `json:"wsClients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		ActiveSymbol: s.eng.ActiveSymbol(),
		Paused:       s.eng.IsPaused(),
		RiskPaused:   s.gate.IsPaused(),
		Emergency:    s.gate.IsEmergencyShutdown(),
		ClientCount:  s.hub.ClientCount(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.eng.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.eng.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

// backtestRequest is the minimal set of knobs a one-shot backtest needs;
// risk limits and validation passes use §4.9's defaults unless overridden.
type backtestRequest struct {
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	StrategyName string    `json:"strategyName"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	strat, ok := s.registry.Create(req.StrategyName)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown strategy %q", req.StrategyName))
		return
	}

	bars, _, err := s.loader.Load(req.Symbol, req.Timeframe, req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	cfg := types.BacktestConfig{
		ID:             uuid.New().String(),
		StrategyName:   req.StrategyName,
		Symbol:         req.Symbol,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Timeframe:      types.Timeframe(req.Timeframe),
		InitialCapital: defaultInitialCapital,
	}
	result, err := s.backtest.Run(r.Context(), cfg, strat, bars)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// walkForwardRequest additionally names the candidate parameters the
// optimizer searches over each window.
type walkForwardRequest struct {
	backtestRequest
	Parameters []optimizationParameter `json:"parameters"`
}

type optimizationParameter struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

func (s *Server) handleWalkForward(w http.ResponseWriter, r *http.Request) {
	var req walkForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bars, _, err := s.loader.Load(req.Symbol, req.Timeframe, req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	params := make([]optimization.Parameter, 0, len(req.Parameters))
	for _, p := range req.Parameters {
		params = append(params, optimization.Parameter{Name: p.Name, Type: optimization.ParamTypeContinuous, Min: p.Min, Max: p.Max, Step: p.Step})
	}

	factory := func(set optimization.ParamSet) strategy.Strategy {
		strat, _ := s.registry.Create(req.StrategyName)
		return strat
	}

	base := types.BacktestConfig{
		ID:             uuid.New().String(),
		StrategyName:   req.StrategyName,
		Symbol:         req.Symbol,
		Timeframe:      types.Timeframe(req.Timeframe),
		InitialCapital: defaultInitialCapital,
	}

	result, err := s.walkfwd.Run(r.Context(), base, params, factory, bars, types.DefaultWalkForwardConfig())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WS upgrade failed", zap.Error(err))
		return
	}
	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
