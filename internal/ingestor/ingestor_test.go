package ingestor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/bridge"
	"github.com/DreamFulFil/atrader/internal/store"
	"github.com/DreamFulFil/atrader/pkg/types"
)

type fakeDownloader struct {
	bars map[string][]bridge.HistoryBar
}

func (f fakeDownloader) DownloadBatch(_ context.Context, symbol string, _, _ time.Time) ([]bridge.HistoryBar, error) {
	return f.bars[symbol], nil
}

type fakeWriter struct {
	mu         sync.Mutex
	truncated  int
	barBatches [][]store.BarRecord
}

func (f *fakeWriter) SaveBarBatch(bars []store.BarRecord, _ []store.MarketDataRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]store.BarRecord, len(bars))
	copy(cp, bars)
	f.barBatches = append(f.barBatches, cp)
	return nil
}

func (f *fakeWriter) TruncateHistorical() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncated++
	return nil
}

func (f *fakeWriter) totalBars() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.barBatches {
		n += len(b)
	}
	return n
}

func validHistoryBar(ts time.Time, price float64) bridge.HistoryBar {
	p := decimal.NewFromFloat(price)
	return bridge.HistoryBar{
		Timestamp: ts,
		Open:      p,
		High:      p.Add(decimal.NewFromFloat(1)),
		Low:       p.Sub(decimal.NewFromFloat(1)),
		Close:     p,
		Volume:    decimal.NewFromInt(1000),
	}
}

func TestRun_WritesValidBarsAndTruncatesOnce(t *testing.T) {
	now := time.Now()
	downloader := fakeDownloader{bars: map[string][]bridge.HistoryBar{
		"2454.TW": {
			validHistoryBar(now.AddDate(0, 0, -2), 100),
			validHistoryBar(now.AddDate(0, 0, -1), 101),
		},
	}}
	writer := &fakeWriter{}
	ig := New(zap.NewNop(), downloader, writer, types.Timeframe1Day)

	result, err := ig.Run(context.Background(), []string{"2454.TW"}, 1)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.BarsWritten != 2 {
		t.Fatalf("expected 2 bars written, got %d", result.BarsWritten)
	}
	if writer.truncated != 1 {
		t.Fatalf("expected exactly 1 truncate call, got %d", writer.truncated)
	}
	if writer.totalBars() != 2 {
		t.Fatalf("expected 2 bars persisted, got %d", writer.totalBars())
	}
}

func TestRun_DropsInvalidBars(t *testing.T) {
	now := time.Now()
	bad := bridge.HistoryBar{
		Timestamp: now,
		Open:      decimal.NewFromFloat(100),
		High:      decimal.NewFromFloat(90), // high < open: invalid
		Low:       decimal.NewFromFloat(80),
		Close:     decimal.NewFromFloat(100),
		Volume:    decimal.NewFromInt(100),
	}
	downloader := fakeDownloader{bars: map[string][]bridge.HistoryBar{
		"2454.TW": {bad, validHistoryBar(now.AddDate(0, 0, -1), 100)},
	}}
	writer := &fakeWriter{}
	ig := New(zap.NewNop(), downloader, writer, types.Timeframe1Day)

	result, err := ig.Run(context.Background(), []string{"2454.TW"}, 1)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.BarsDropped != 1 {
		t.Fatalf("expected 1 dropped bar, got %d", result.BarsDropped)
	}
	if result.BarsWritten != 1 {
		t.Fatalf("expected 1 written bar, got %d", result.BarsWritten)
	}
}

func TestRun_EmptyDownloadIsNotAFailure(t *testing.T) {
	downloader := fakeDownloader{bars: map[string][]bridge.HistoryBar{}}
	writer := &fakeWriter{}
	ig := New(zap.NewNop(), downloader, writer, types.Timeframe1Day)

	result, err := ig.Run(context.Background(), []string{"2330.TW"}, 1)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.BarsWritten != 0 {
		t.Fatalf("expected 0 bars written for empty downloader, got %d", result.BarsWritten)
	}
	if len(result.SymbolsFailed) != 0 {
		t.Fatalf("empty download is not a failure, got failed=%v", result.SymbolsFailed)
	}
}
