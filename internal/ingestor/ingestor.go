// Package ingestor implements the History Ingestor (C11): many producer
// downloaders feeding a bounded queue, drained by a single writer that
// batches inserts into the store.
//
// Grounded on internal/workers/pool.go's Pool/BatchProcessor shape (bounded
// channel queue, fixed worker count, batched SubmitFunc draining) — the
// producer/single-writer split here is the same bounded-queue idiom with
// the roles fixed: N producers downloading chunks, exactly one goroutine
// performing the ordered batch writes §4.11 requires. Bar OHLC sanity
// checking reuses pkg/types.Bar.Valid(), which already encodes the same
// invariant internal/data/quality.go's OHLC-consistency check enforces
// (low <= open/close/high, high >= open/close, volume >= 0); a bar that
// fails Valid() is dropped and logged rather than inserted.
package ingestor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/bridge"
	"github.com/DreamFulFil/atrader/internal/store"
	"github.com/DreamFulFil/atrader/pkg/types"
)

// QueueCapacity bounds how many bars may be buffered between the
// producers and the writer.
const QueueCapacity = 5000

// BatchSize is how many bars the writer accumulates before flushing.
const BatchSize = 1000

// ChunkDays is the span of one download request; requests longer than
// this are split into consecutive chunks.
const ChunkDays = 365

// WriterTimeout is how long the writer waits for the queue to drain after
// every producer has signalled completion.
const WriterTimeout = 5 * time.Minute

// Downloader fetches historical bars for one symbol/date range; satisfied
// by *bridge.Client in production and a fake in tests.
type Downloader interface {
	DownloadBatch(ctx context.Context, symbol string, start, end time.Time) ([]bridge.HistoryBar, error)
}

// Writer persists batches; satisfied by *store.Store in production.
type Writer interface {
	SaveBarBatch(bars []store.BarRecord, marketData []store.MarketDataRecord) error
	TruncateHistorical() error
}

// Ingestor coordinates one ingestion run across a set of symbols.
type Ingestor struct {
	logger     *zap.Logger
	downloader Downloader
	writer     Writer
	timeframe  types.Timeframe

	truncated atomic.Bool
}

// New constructs an Ingestor.
func New(logger *zap.Logger, downloader Downloader, writer Writer, timeframe types.Timeframe) *Ingestor {
	return &Ingestor{logger: logger, downloader: downloader, writer: writer, timeframe: timeframe}
}

// queuedBar pairs a downloaded bar with the symbol it belongs to, since
// bridge.HistoryBar itself carries no symbol (DownloadBatch is called
// once per symbol).
type queuedBar struct {
	symbol string
	bar    bridge.HistoryBar
}

// Result summarizes one completed run.
type Result struct {
	BarsWritten   int
	BarsDropped   int
	SymbolsFailed []string
}

// Run downloads `years` of history for every symbol in parallel, queues
// validated bars onto a single writer, and blocks until the writer drains
// or WriterTimeout elapses after the last producer finishes.
func (ig *Ingestor) Run(ctx context.Context, symbols []string, years int) (Result, error) {
	if err := ig.truncateOnce(); err != nil {
		return Result{}, err
	}

	queue := make(chan queuedBar, QueueCapacity)
	var result Result
	var resultMu sync.Mutex

	writerDone := make(chan struct{})
	go ig.writeLoop(ctx, queue, &result, &resultMu, writerDone)

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := ig.download(ctx, symbol, years, queue); err != nil {
				ig.logger.Error("ingestor: download failed", zap.String("symbol", symbol), zap.Error(err))
				failedMu.Lock()
				result.SymbolsFailed = append(result.SymbolsFailed, symbol)
				failedMu.Unlock()
			}
		}(symbol)
	}
	wg.Wait()
	close(queue)

	select {
	case <-writerDone:
	case <-time.After(WriterTimeout):
		ig.logger.Error("ingestor: writer did not drain within timeout", zap.Duration("timeout", WriterTimeout))
		return result, fmt.Errorf("ingestor: writer timeout after producers completed")
	}

	return result, nil
}

// truncateOnce empties the historical tables exactly once per process
// using a compare-and-set flag, resetting it on failure so a retried run
// can try again.
func (ig *Ingestor) truncateOnce() error {
	if !ig.truncated.CompareAndSwap(false, true) {
		return nil
	}
	if err := ig.writer.TruncateHistorical(); err != nil {
		ig.truncated.Store(false)
		return fmt.Errorf("ingestor: truncate: %w", err)
	}
	return nil
}

func (ig *Ingestor) download(ctx context.Context, symbol string, years int, queue chan<- queuedBar) error {
	end := time.Now()
	start := end.AddDate(-years, 0, 0)

	for cursor := start; cursor.Before(end); {
		chunkEnd := cursor.AddDate(0, 0, ChunkDays)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		bars, err := ig.downloader.DownloadBatch(ctx, symbol, cursor, chunkEnd)
		if err != nil {
			return fmt.Errorf("ingestor: download %s [%s, %s]: %w", symbol, cursor, chunkEnd, err)
		}
		for _, b := range bars {
			select {
			case queue <- queuedBar{symbol: symbol, bar: b}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		cursor = chunkEnd
	}
	return nil
}

// writeLoop is the single consumer: it accumulates bars per symbol into
// batches of BatchSize, validates each via pkg/types.Bar.Valid(), and
// flushes through the writer once a batch fills or the queue closes.
func (ig *Ingestor) writeLoop(ctx context.Context, queue <-chan queuedBar, result *Result, resultMu *sync.Mutex, done chan<- struct{}) {
	defer close(done)

	batch := make([]bridge.HistoryBar, 0, BatchSize)
	flush := func(symbol string) {
		if len(batch) == 0 {
			return
		}
		written, dropped := ig.writeBatch(symbol, batch)
		resultMu.Lock()
		result.BarsWritten += written
		result.BarsDropped += dropped
		resultMu.Unlock()
		batch = batch[:0]
	}

	var currentSymbol string
	for qb := range queue {
		if currentSymbol != "" && currentSymbol != qb.symbol {
			flush(currentSymbol)
		}
		currentSymbol = qb.symbol
		batch = append(batch, qb.bar)
		if len(batch) >= BatchSize {
			flush(currentSymbol)
		}
	}
	flush(currentSymbol)
}

func (ig *Ingestor) writeBatch(symbol string, historyBars []bridge.HistoryBar) (written, dropped int) {
	sort.Slice(historyBars, func(i, j int) bool { return historyBars[i].Timestamp.Before(historyBars[j].Timestamp) })

	barRecords := make([]store.BarRecord, 0, len(historyBars))
	mdRecords := make([]store.MarketDataRecord, 0, len(historyBars))

	for _, hb := range historyBars {
		bar := types.Bar{
			Symbol:    symbol,
			Timeframe: ig.timeframe,
			Timestamp: hb.Timestamp,
			Open:      hb.Open,
			High:      hb.High,
			Low:       hb.Low,
			Close:     hb.Close,
			Volume:    hb.Volume,
		}
		if !bar.Valid() {
			dropped++
			ig.logger.Warn("ingestor: dropping invalid bar",
				zap.String("symbol", symbol), zap.Time("timestamp", hb.Timestamp))
			continue
		}
		barRecords = append(barRecords, store.BarRecord{
			Symbol:     symbol,
			Timeframe:  string(ig.timeframe),
			Timestamp:  hb.Timestamp,
			Open:       hb.Open.String(),
			High:       hb.High.String(),
			Low:        hb.Low.String(),
			Close:      hb.Close.String(),
			Volume:     hb.Volume.String(),
			IsComplete: true,
		})
		mdRecords = append(mdRecords, store.MarketDataRecord{
			Symbol:    symbol,
			Timestamp: hb.Timestamp,
			ADV:       hb.Volume.String(),
			ATR:       hb.High.Sub(hb.Low).String(),
		})
	}

	if err := ig.writer.SaveBarBatch(barRecords, mdRecords); err != nil {
		ig.logger.Error("ingestor: batch write failed", zap.String("symbol", symbol), zap.Error(err))
		return 0, dropped + len(barRecords)
	}
	return len(barRecords), dropped
}
