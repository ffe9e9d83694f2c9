package dispatcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/chat"
)

type fakeEligibility struct {
	elig GoLiveEligibility
}

func (f fakeEligibility) GoLiveEligibility() GoLiveEligibility { return f.elig }

func TestHandleGoLive_RejectsBelowTradeMinimum(t *testing.T) {
	d := New(zap.NewNop(), chat.NewNoop(), nil, nil, nil, fakeEligibility{elig: GoLiveEligibility{
		SimulationTrades: 5,
		WinRate:          decimal.NewFromFloat(0.6),
		MaxDrawdown:      decimal.NewFromFloat(0.05),
	}})

	reply := d.Handle(context.Background(), chat.Message{Text: "/golive", UserID: "u1"})
	if !strings.Contains(reply, "not eligible") {
		t.Fatalf("expected not-eligible reply, got %q", reply)
	}
}

func TestGoLiveThenConfirmLive_Succeeds(t *testing.T) {
	d := New(zap.NewNop(), chat.NewNoop(), nil, nil, nil, fakeEligibility{elig: GoLiveEligibility{
		SimulationTrades: 50,
		WinRate:          decimal.NewFromFloat(0.55),
		MaxDrawdown:      decimal.NewFromFloat(0.08),
	}})

	reply := d.Handle(context.Background(), chat.Message{Text: "/golive", UserID: "u1"})
	if !strings.Contains(reply, "reply /confirmlive") {
		t.Fatalf("expected pending-confirmation reply, got %q", reply)
	}

	reply = d.Handle(context.Background(), chat.Message{Text: "/confirmlive", UserID: "u1"})
	if !strings.Contains(reply, "confirmed") {
		t.Fatalf("expected confirmation reply, got %q", reply)
	}
}

func TestConfirmLive_WithoutPending_Rejected(t *testing.T) {
	d := New(zap.NewNop(), chat.NewNoop(), nil, nil, nil, fakeEligibility{})
	reply := d.Handle(context.Background(), chat.Message{Text: "/confirmlive", UserID: "u1"})
	if !strings.Contains(reply, "no pending") {
		t.Fatalf("expected no-pending reply, got %q", reply)
	}
}

func TestConfirmLive_ExpiredWindow_Rejected(t *testing.T) {
	d := New(zap.NewNop(), chat.NewNoop(), nil, nil, nil, fakeEligibility{elig: GoLiveEligibility{
		SimulationTrades: 50,
		WinRate:          decimal.NewFromFloat(0.55),
		MaxDrawdown:      decimal.NewFromFloat(0.08),
	}})
	d.Handle(context.Background(), chat.Message{Text: "/golive", UserID: "u1"})

	d.mu.Lock()
	d.pending.requestedAt = time.Now().Add(-PendingLiveWindow - time.Minute)
	d.mu.Unlock()

	reply := d.Handle(context.Background(), chat.Message{Text: "/confirmlive", UserID: "u1"})
	if !strings.Contains(reply, "expired") {
		t.Fatalf("expected expired reply, got %q", reply)
	}
}

func TestHandle_UnknownCommand(t *testing.T) {
	d := New(zap.NewNop(), chat.NewNoop(), nil, nil, nil, fakeEligibility{})
	reply := d.Handle(context.Background(), chat.Message{Text: "/bogus"})
	if !strings.Contains(reply, "unknown command") {
		t.Fatalf("expected unknown-command reply, got %q", reply)
	}
}

func TestHandle_EmptyMessage_NoReply(t *testing.T) {
	d := New(zap.NewNop(), chat.NewNoop(), nil, nil, nil, fakeEligibility{})
	reply := d.Handle(context.Background(), chat.Message{Text: "   "})
	if reply != "" {
		t.Fatalf("expected no reply for empty message, got %q", reply)
	}
}
