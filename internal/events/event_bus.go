// Package events provides the publish/subscribe transport the admin API's
// WebSocket broadcaster rides on: websocket.go's Hub subscribes once and
// forwards every published event to connected operator clients. No
// component in this repository calls Publish; the Trading Engine Loop,
// Risk Gatekeeper and Position Ledger do not publish onto the bus.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// EventType categorizes what a published Event carries.
type EventType string

const (
	EventTypeBar  EventType = "bar"
	EventTypeTick EventType = "tick"

	EventTypeSignal    EventType = "signal"
	EventTypeOrder     EventType = "order"
	EventTypeExecution EventType = "execution"
	EventTypeFill      EventType = "fill"

	EventTypeRiskAlert  EventType = "risk_alert"
	EventTypeKillSwitch EventType = "kill_switch"
	EventTypeDrawdown   EventType = "drawdown"

	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeStatus    EventType = "status"
	EventTypeError     EventType = "error"

	EventTypePosition EventType = "position"
	EventTypeBalance  EventType = "balance"
	EventTypePnL      EventType = "pnl"
)

// Event is the interface every published payload satisfies.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides the bookkeeping every concrete event embeds.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

var eventCounter atomic.Int64

func generateEventID() string {
	id := eventCounter.Add(1)
	return "evt_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

func newBaseEvent(t EventType, ts time.Time) BaseEvent {
	return BaseEvent{ID: generateEventID(), Type: t, Timestamp: ts}
}

// BarEvent carries a completed bar.
type BarEvent struct {
	BaseEvent
	Symbol string    `json:"symbol"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// NewBarEvent constructs a BarEvent from a types.Bar.
func NewBarEvent(bar types.Bar) *BarEvent {
	return &BarEvent{
		BaseEvent: newBaseEvent(EventTypeBar, bar.Timestamp),
		Symbol:    bar.Symbol,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		Volume:    bar.Volume,
	}
}

// SignalEvent carries a strategy's trade signal.
type SignalEvent struct {
	BaseEvent
	Symbol       string    `json:"symbol"`
	Direction    types.Direction `json:"direction"`
	Confidence   decimal.Decimal `json:"confidence"`
	StrategyName string          `json:"strategy_name"`
	Reason       string          `json:"reason"`
	Price        decimal.Decimal `json:"price"`
}

// NewSignalEvent constructs a SignalEvent from a types.TradeSignal.
func NewSignalEvent(sig types.TradeSignal) *SignalEvent {
	return &SignalEvent{
		BaseEvent:    newBaseEvent(EventTypeSignal, sig.Timestamp),
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		Confidence:   sig.Confidence,
		StrategyName: sig.StrategyName,
		Reason:       sig.Reason,
		Price:        sig.Price,
	}
}

// FillEvent carries one execution fill.
type FillEvent struct {
	BaseEvent
	Symbol      string    `json:"symbol"`
	Side        types.OrderSide `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	IsExit      bool            `json:"is_exit"`
}

// NewFillEvent constructs a FillEvent from a types.Fill.
func NewFillEvent(symbol string, side types.OrderSide, isExit bool, fill types.Fill) *FillEvent {
	return &FillEvent{
		BaseEvent:   newBaseEvent(EventTypeFill, fill.Timestamp),
		Symbol:      symbol,
		Side:        side,
		Quantity:    fill.FilledQty,
		FilledPrice: fill.FilledPrice,
		IsExit:      isExit,
	}
}

// RiskAlertEvent carries a non-allow risk check result.
type RiskAlertEvent struct {
	BaseEvent
	Symbol   string       `json:"symbol,omitempty"`
	Severity types.RiskSeverity `json:"severity"`
	Reason   string             `json:"reason"`
}

// NewRiskAlertEvent constructs a RiskAlertEvent from a risk check result.
func NewRiskAlertEvent(symbol string, result types.RiskCheckResult) *RiskAlertEvent {
	return &RiskAlertEvent{
		BaseEvent: newBaseEvent(EventTypeRiskAlert, time.Now()),
		Symbol:    symbol,
		Severity:  result.Severity,
		Reason:    result.Reason,
	}
}

// DrawdownEvent carries a shadow/main strategy drawdown reading.
type DrawdownEvent struct {
	BaseEvent
	StrategyName string          `json:"strategy_name"`
	DrawdownPct  decimal.Decimal `json:"drawdown_pct"`
	Swapped      bool            `json:"swapped"`
}

// NewDrawdownEvent constructs a DrawdownEvent.
func NewDrawdownEvent(strategyName string, drawdownPct decimal.Decimal, swapped bool) *DrawdownEvent {
	return &DrawdownEvent{
		BaseEvent:    newBaseEvent(EventTypeDrawdown, time.Now()),
		StrategyName: strategyName,
		DrawdownPct:  drawdownPct,
		Swapped:      swapped,
	}
}

// PositionEvent carries a post-fill position snapshot.
type PositionEvent struct {
	BaseEvent
	Symbol        string    `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// NewPositionEvent constructs a PositionEvent from a types.Position.
func NewPositionEvent(pos types.Position, unrealizedPnL decimal.Decimal) *PositionEvent {
	return &PositionEvent{
		BaseEvent:     newBaseEvent(EventTypePosition, time.Now()),
		Symbol:        pos.Symbol,
		Quantity:      pos.Quantity,
		AvgEntryPrice: pos.AvgEntryPrice,
		UnrealizedPnL: unrealizedPnL,
	}
}

// EventHandler processes one delivered event.
type EventHandler func(event Event) error

// EventFilter selectively admits events to a handler.
type EventFilter func(event Event) bool

// SubscriptionOptions configures how a subscription is dispatched.
type SubscriptionOptions struct {
	Filter     EventFilter
	Async      bool
	BufferSize int
}

// Subscription is a live registration returned by Subscribe/SubscribeAll.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive reports whether the subscription is still receiving events.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats summarizes bus throughput, as returned by GetStats.
type EventBusStats struct {
	EventsPublished   int64         `json:"events_published"`
	EventsProcessed   int64         `json:"events_processed"`
	EventsDropped     int64         `json:"events_dropped"`
	ProcessingErrors  int64         `json:"processing_errors"`
	AvgLatencyNs      int64         `json:"avg_latency_ns"`
	MaxLatencyNs      int64         `json:"max_latency_ns"`
	P99Latency        time.Duration `json:"p99_latency"`
	ActiveSubscribers int64         `json:"active_subscribers"`
}

// EventBusConfig tunes the bus's worker pool and channel depth.
type EventBusConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultEventBusConfig matches the teacher's defaults: 16 workers, a
// 100K-event buffer, sized for a tick-driven single-symbol engine with
// plenty of headroom.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{NumWorkers: 16, BufferSize: 100_000}
}

// EventBus fans published events out to type-specific and catch-all
// subscribers across a fixed worker pool.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencies  []int64
	latencyMu  sync.Mutex
	maxLatency atomic.Int64
	avgLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus constructs and starts a worker pool of config.NumWorkers
// goroutines draining a config.BufferSize-deep channel.
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 16
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100_000
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		subscribers:    make(map[EventType][]*Subscription),
		allSubscribers: make([]*Subscription, 0),
		eventChan:      make(chan Event, config.BufferSize),
		workerCount:    config.NumWorkers,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
		latencies:      make([]int64, 0, 10_000),
	}

	for i := 0; i < config.NumWorkers; i++ {
		eb.wg.Add(1)
		go eb.worker(i)
	}

	eb.logger.Info("event bus initialized", zap.Int("workers", config.NumWorkers), zap.Int("buffer_size", config.BufferSize))
	return eb
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			start := time.Now()
			eb.processEvent(event)
			eb.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	dispatch := func(sub *Subscription) {
		if !sub.active.Load() {
			return
		}
		if sub.Options.Filter != nil && !sub.Options.Filter(event) {
			return
		}
		if sub.Options.Async {
			go eb.executeHandler(sub, event)
		} else {
			eb.executeHandler(sub, event)
		}
	}
	for _, sub := range subs {
		dispatch(sub)
	}
	for _, sub := range allSubs {
		dispatch(sub)
	}

	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("event handler panic", zap.String("subscription_id", sub.ID), zap.String("event_type", string(event.GetType())), zap.Any("panic", r))
		}
	}()
	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("event handler error", zap.String("subscription_id", sub.ID), zap.String("event_type", string(event.GetType())), zap.Error(err))
	}
}

func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	eb.latencies = append(eb.latencies, latencyNs)
	if len(eb.latencies) > 10_000 {
		eb.latencies = eb.latencies[5_000:]
	}

	if currentMax := eb.maxLatency.Load(); latencyNs > currentMax {
		eb.maxLatency.Store(latencyNs)
	}
	currentAvg := eb.avgLatency.Load()
	eb.avgLatency.Store((currentAvg*99 + latencyNs) / 100)
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	id := subscriptionCounter.Add(1)
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(id)
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

// Subscribe registers handler for eventType, dispatched async by default.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true, BufferSize: 1000}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// SubscribeAll registers handler for every event type, used by the admin
// WebSocket hub to forward the full event stream to operator clients.
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true, BufferSize: 1000}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates sub; already in-flight dispatches still run.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish enqueues event for async dispatch, dropping it if the buffer is full.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("event dropped, buffer full", zap.String("event_type", string(event.GetType())))
	}
}

// GetStats returns current throughput/latency counters.
func (eb *EventBus) GetStats() EventBusStats {
	eb.latencyMu.Lock()
	p99 := eb.p99LatencyNsLocked()
	eb.latencyMu.Unlock()

	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		AvgLatencyNs:      eb.avgLatency.Load(),
		MaxLatencyNs:      eb.maxLatency.Load(),
		P99Latency:        time.Duration(p99),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

func (eb *EventBus) p99LatencyNsLocked() int64 {
	if len(eb.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(eb.latencies))
	copy(sorted, eb.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Start is a no-op kept for symmetry with Stop: the worker pool is already
// running once NewEventBus returns.
func (eb *EventBus) Start(context.Context) error {
	return nil
}

// Stop cancels the worker pool and waits up to 5 seconds for it to drain.
func (eb *EventBus) Stop() {
	eb.logger.Info("shutting down event bus")
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus shutdown complete", zap.Int64("events_processed", eb.eventsProcessed.Load()), zap.Int64("events_dropped", eb.eventsDropped.Load()))
	case <-time.After(5 * time.Second):
		eb.logger.Warn("event bus shutdown timed out")
	}
}
