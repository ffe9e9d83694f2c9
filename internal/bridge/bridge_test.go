package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/pkg/types"
)

func TestPlaceOrder_SerializesQuantityAsStringInteger(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode("order_filled")
	}))
	defer srv.Close()

	c := New(zap.NewNop(), srv.URL)
	resp, err := c.PlaceOrder(context.Background(), "2454.TW", types.OrderSideBuy, 1000, decimal.NewFromInt(600), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Filled {
		t.Fatalf("expected filled order response")
	}

	qty, ok := captured["quantity"].(string)
	if !ok {
		t.Fatalf("expected quantity to be serialized as a JSON string, got %T: %v", captured["quantity"], captured["quantity"])
	}
	if qty != "1000" {
		t.Fatalf("expected quantity \"1000\", got %q", qty)
	}

	price, ok := captured["price"].(float64)
	if !ok {
		t.Fatalf("expected price to be serialized as a JSON number, got %T: %v", captured["price"], captured["price"])
	}
	if price != 600 {
		t.Fatalf("expected price 600, got %v", price)
	}
}

func TestPlaceOrder_DecodesBridgeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"error": "insufficient funds"})
	}))
	defer srv.Close()

	c := New(zap.NewNop(), srv.URL)
	resp, err := c.PlaceOrder(context.Background(), "2454.TW", types.OrderSideSell, 1000, decimal.NewFromInt(600), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error != "insufficient funds" {
		t.Fatalf("expected bridge error message, got %+v", resp)
	}
}

func TestGetSignal_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SignalResponse{Direction: "long", Confidence: decimal.NewFromFloat(0.8), CurrentPrice: decimal.NewFromInt(600)})
	}))
	defer srv.Close()

	c := New(zap.NewNop(), srv.URL)
	sig, err := c.GetSignal(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Direction != "long" {
		t.Fatalf("expected direction long, got %s", sig.Direction)
	}
}
