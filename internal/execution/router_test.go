package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/bridge"
	"github.com/DreamFulFil/atrader/pkg/types"
)

func newTestRouter(t *testing.T, handler http.HandlerFunc) (*Router, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := bridge.New(zap.NewNop(), srv.URL)
	return New(zap.NewNop(), c), srv.Close
}

func TestSelectMethod_EmergencyAlwaysImmediate(t *testing.T) {
	r := New(zap.NewNop(), nil)
	m := r.SelectMethod(Request{Emergency: true, Quantity: 5000})
	if m != MethodImmediate {
		t.Fatalf("expected immediate for emergency, got %s", m)
	}
}

func TestSelectMethod_ExitAlwaysImmediate(t *testing.T) {
	r := New(zap.NewNop(), nil)
	m := r.SelectMethod(Request{IsExit: true, Quantity: 5000})
	if m != MethodImmediate {
		t.Fatalf("expected immediate for exit, got %s", m)
	}
}

func TestSelectMethod_LargeQuantityUsesTWAP(t *testing.T) {
	r := New(zap.NewNop(), nil)
	m := r.SelectMethod(Request{Quantity: 200})
	if m != MethodTWAP {
		t.Fatalf("expected twap for qty>=100, got %s", m)
	}
}

func TestSelectMethod_SmallQuantityImmediate(t *testing.T) {
	r := New(zap.NewNop(), nil)
	m := r.SelectMethod(Request{Quantity: 50})
	if m != MethodImmediate {
		t.Fatalf("expected immediate for small qty, got %s", m)
	}
}

func TestChunksFor_MatchesTable(t *testing.T) {
	cases := map[int64]int{100: 3, 200: 5, 500: 7, 999: 7, 50: 1}
	for qty, want := range cases {
		got := chunksFor(qty)
		if got != want {
			t.Fatalf("chunksFor(%d) = %d, want %d", qty, got, want)
		}
	}
}

func TestExecuteChunk_SucceedsOnFirstAttempt(t *testing.T) {
	r, closeFn := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode("order_filled")
	})
	defer closeFn()

	result := r.Execute(context.Background(), Request{Symbol: "2454.TW", Side: types.OrderSideBuy, Quantity: 50, Price: decimal.NewFromInt(600)})
	if result.Status != StatusFilled {
		t.Fatalf("expected filled, got %s", result.Status)
	}
	if len(result.Fills) != 1 || !result.Fills[0].FilledQty.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected fills: %+v", result.Fills)
	}
}

func TestExecuteChunk_AbandonsWhenBridgeAlwaysErrors(t *testing.T) {
	r, closeFn := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"error": "insufficient funds"})
	})
	defer closeFn()

	result := r.Execute(context.Background(), Request{Symbol: "2454.TW", Side: types.OrderSideBuy, Quantity: 50, Price: decimal.NewFromInt(600)})
	if result.Status != StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", result.Status)
	}
	if len(result.Audit) == 0 {
		t.Fatalf("expected at least one audit record")
	}
}

func TestTwapWindow_ClampedBetween10And30Minutes(t *testing.T) {
	if w := twapWindow(100, decimal.Zero); w != 12*time.Minute {
		t.Fatalf("expected 12m window for qty=100, got %s", w)
	}
	if w := twapWindow(10000, decimal.NewFromFloat(0.05)); w != 30*time.Minute {
		t.Fatalf("expected window clamped to 30m, got %s", w)
	}
}
