// Package scheduler implements the Scheduler (C12): timer-driven
// background tasks running at the cadences §4.12 names, independent of
// the per-tick Engine loop.
//
// Grounded on internal/orchestrator/orchestrator.go's regimeDetectionLoop/
// strategyMonitoringLoop shape: a dedicated goroutine per task, each
// running its own time.Ticker inside a select against ctx.Done() and
// a stop channel. That orchestrator (and internal/autonomous) were
// already deleted from this workspace in favor of internal/engine for
// the tick path; this package reuses only the ticker-goroutine *shape*,
// rewritten against calendar-anchored cadences (daily/weekly/monthly/
// yearly) instead of the orchestrator's fixed-interval regime/strategy
// checks.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

// DrawdownSwapper is the strategy-swap check the 5-minute task drives.
type DrawdownSwapper interface {
	MaybeSwap() (string, bool)
}

// StatsAggregator computes one day's DailyStatistics for the EOD task.
type StatsAggregator interface {
	AggregateDaily(ctx context.Context, at time.Time) (types.DailyStatistics, error)
}

// StatsSaver persists an aggregated DailyStatistics row.
type StatsSaver interface {
	SaveDailyStatistics(stat types.DailyStatistics) error
}

// EventCleaner removes stale economic_event rows.
type EventCleaner interface {
	DeleteOldEconomicEvents(cutoff time.Time) (int64, error)
}

// EventRecorder persists a generated economic_event row (futures
// expiration dates).
type EventRecorder interface {
	SaveEconomicEvent(name string, occursAt time.Time, description string) error
}

// Notifier delivers operator-facing messages for EOD/weekly summaries.
type Notifier interface {
	Notify(message string)
}

// Config bundles the Scheduler's collaborators. Any field may be nil; a
// nil collaborator simply makes its corresponding task a no-op.
type Config struct {
	Location *time.Location

	Swapper    DrawdownSwapper
	Aggregator StatsAggregator
	StatsSaver StatsSaver
	Cleaner    EventCleaner
	Events     EventRecorder
	Notifier   Notifier

	Symbol string
}

// Scheduler runs every background task as its own goroutine under a
// shared context.
type Scheduler struct {
	logger *zap.Logger
	cfg    Config
}

// New constructs a Scheduler.
func New(logger *zap.Logger, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{logger: logger, cfg: cfg}
}

// Start launches every task loop; it returns once all loops have been
// scheduled, not once they have run.
func (s *Scheduler) Start(ctx context.Context) {
	go s.drawdownLoop(ctx)
	go s.dailyLoop(ctx)
	go s.weeklyLoop(ctx)
	go s.yearlyLoop(ctx)
	go s.monthlyCleanupLoop(ctx)
}

func (s *Scheduler) notify(message string) {
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Notify(message)
	}
}

// drawdownLoop runs the 5-minute drawdown check -> maybe-swap task.
func (s *Scheduler) drawdownLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.cfg.Swapper == nil {
				continue
			}
			if newName, swapped := s.cfg.Swapper.MaybeSwap(); swapped {
				s.logger.Info("scheduler: strategy swapped on drawdown", zap.String("new_strategy", newName))
				s.notify(fmt.Sprintf("strategy swapped to %s after drawdown trigger", newName))
			}
		}
	}
}

// dailyLoop fires once at 14:30 Taipei time on weekdays, aggregating and
// persisting DailyStatistics.
func (s *Scheduler) dailyLoop(ctx context.Context) {
	s.runAt(ctx, func(now time.Time) time.Time {
		return nextDailyTime(now, 14, 30, s.cfg.Location)
	}, func(now time.Time) {
		if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
			return
		}
		s.runEOD(ctx, now)
	})
}

func (s *Scheduler) runEOD(ctx context.Context, now time.Time) {
	if s.cfg.Aggregator == nil {
		return
	}
	stat, err := s.cfg.Aggregator.AggregateDaily(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: daily aggregation failed", zap.Error(err))
		return
	}
	if s.cfg.StatsSaver != nil {
		if err := s.cfg.StatsSaver.SaveDailyStatistics(stat); err != nil {
			s.logger.Error("scheduler: failed to save daily statistics", zap.Error(err))
		}
	}
	s.notify(fmt.Sprintf("EOD %s: trades=%d winRate=%s realizedPnL=%s",
		stat.Symbol, stat.TotalTrades, stat.WinRate.StringFixed(4), stat.RealizedPnL.StringFixed(2)))
}

// weeklyLoop fires once every Monday at 08:30 Taipei time.
func (s *Scheduler) weeklyLoop(ctx context.Context) {
	s.runAt(ctx, func(now time.Time) time.Time {
		return nextWeeklyTime(now, time.Monday, 8, 30, s.cfg.Location)
	}, func(now time.Time) {
		s.notify(fmt.Sprintf("weekly report for week ending %s", now.Format("2006-01-02")))
	})
}

// yearlyLoop fires once every January 1st at 00:00, generating the coming
// year's futures expiration dates (third Wednesday of each month).
func (s *Scheduler) yearlyLoop(ctx context.Context) {
	s.runAt(ctx, func(now time.Time) time.Time {
		return nextYearlyTime(now, time.January, 1, 0, 0, s.cfg.Location)
	}, func(now time.Time) {
		s.generateFuturesExpirations(now.Year())
	})
}

// generateFuturesExpirations computes the third Wednesday of each month
// of year and persists each as an economic_event row.
func (s *Scheduler) generateFuturesExpirations(year int) {
	if s.cfg.Events == nil {
		return
	}
	for month := time.January; month <= time.December; month++ {
		date := thirdWeekday(year, month, time.Wednesday, s.cfg.Location)
		name := fmt.Sprintf("futures_expiration_%04d_%02d", year, int(month))
		if err := s.cfg.Events.SaveEconomicEvent(name, date, "generated futures contract expiration date"); err != nil {
			s.logger.Error("scheduler: failed to persist futures expiration", zap.Error(err), zap.Time("date", date))
		}
	}
}

// monthlyCleanupLoop fires once every month on the 1st at 01:00,
// deleting economic_event rows older than 2 years.
func (s *Scheduler) monthlyCleanupLoop(ctx context.Context) {
	s.runAt(ctx, func(now time.Time) time.Time {
		return nextMonthlyTime(now, 1, 1, 0, s.cfg.Location)
	}, func(now time.Time) {
		if s.cfg.Cleaner == nil {
			return
		}
		cutoff := now.AddDate(-2, 0, 0)
		n, err := s.cfg.Cleaner.DeleteOldEconomicEvents(cutoff)
		if err != nil {
			s.logger.Error("scheduler: economic event cleanup failed", zap.Error(err))
			return
		}
		s.logger.Info("scheduler: deleted stale economic events", zap.Int64("count", n))
	})
}

// runAt sleeps until next(now) fires, runs task, and repeats, exiting on
// ctx cancellation. next is called fresh after every firing so that DST
// and calendar irregularities never compound.
func (s *Scheduler) runAt(ctx context.Context, next func(now time.Time) time.Time, task func(now time.Time)) {
	for {
		now := time.Now().In(s.cfg.Location)
		fireAt := next(now)
		timer := time.NewTimer(fireAt.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case firedAt := <-timer.C:
			task(firedAt.In(s.cfg.Location))
		}
	}
}

func nextDailyTime(now time.Time, hour, minute int, loc *time.Location) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func nextWeeklyTime(now time.Time, weekday time.Weekday, hour, minute int, loc *time.Location) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	for candidate.Weekday() != weekday || !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func nextMonthlyTime(now time.Time, day, hour, minute int, loc *time.Location) time.Time {
	candidate := time.Date(now.Year(), now.Month(), day, hour, minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = time.Date(now.Year(), now.Month()+1, day, hour, minute, 0, 0, loc)
	}
	return candidate
}

func nextYearlyTime(now time.Time, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	candidate := time.Date(now.Year(), month, day, hour, minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = time.Date(now.Year()+1, month, day, hour, minute, 0, 0, loc)
	}
	return candidate
}

// thirdWeekday returns the third occurrence of weekday in the given
// month/year.
func thirdWeekday(year int, month time.Month, weekday time.Weekday, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	firstOccurrence := first.AddDate(0, 0, offset)
	return firstOccurrence.AddDate(0, 0, 14)
}
