package store

import (
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/engine"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// EngineRecorder adapts Store to the engine.Recorder interface so every
// tick's signal and veto outcome is persisted without the engine loop
// blocking on the write — writes happen on a buffered background
// goroutine, matching the "must not block the engine loop" contract
// engine.Recorder documents.
type EngineRecorder struct {
	logger *zap.Logger
	store  *Store
	queue  chan engine.TickSnapshot
	done   chan struct{}
}

// NewEngineRecorder starts the background writer goroutine. capacity
// bounds how many unwritten snapshots may queue; once the queue is full,
// RecordTick drops (and logs) the incoming snapshot rather than blocking
// the caller.
func NewEngineRecorder(logger *zap.Logger, s *Store, capacity int) *EngineRecorder {
	r := &EngineRecorder{
		logger: logger,
		store:  s,
		queue:  make(chan engine.TickSnapshot, capacity),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *EngineRecorder) run() {
	defer close(r.done)
	for snap := range r.queue {
		if err := r.store.SaveSignal(snap.Signal); err != nil {
			r.logger.Warn("recorder: failed to save signal", zap.Error(err))
		}
		if snap.Veto != nil {
			v := types.VetoEvent{
				Timestamp:       snap.Timestamp,
				Reason:          snap.Veto.Reason,
				AffectedSymbols: []string{snap.Symbol},
			}
			if err := r.store.SaveVeto(v); err != nil {
				r.logger.Warn("recorder: failed to save veto", zap.Error(err))
			}
		}
	}
}

// RecordTick implements engine.Recorder.
func (r *EngineRecorder) RecordTick(snap engine.TickSnapshot) {
	select {
	case r.queue <- snap:
	default:
		r.logger.Warn("recorder: queue full, dropping tick snapshot", zap.String("symbol", snap.Symbol))
	}
}

// Close stops accepting new snapshots and waits for the writer to drain.
func (r *EngineRecorder) Close() {
	close(r.queue)
	<-r.done
}
