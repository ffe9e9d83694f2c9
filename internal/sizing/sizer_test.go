package sizing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/DreamFulFil/atrader/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCalculate_HalfKellyUsedWhenTradeStatsPresent(t *testing.T) {
	res := Calculate(Request{
		Equity:         d("1000000"),
		Price:          d("100"),
		RiskPct:        d("0.01"),
		LotType:        types.LotTypeOdd,
		HaveTradeStats: true,
		WinRate:        d("0.6"),
		AvgWin:         d("2"),
		AvgLoss:        d("1"),
	})
	if res.Method != MethodHalfKelly {
		t.Fatalf("expected half_kelly method, got %s", res.Method)
	}
	if res.Shares < 1 {
		t.Fatalf("expected at least 1 share, got %d", res.Shares)
	}
}

func TestCalculate_ATRUsedWhenNoTradeStats(t *testing.T) {
	res := Calculate(Request{
		Equity:  d("1000000"),
		Price:   d("100"),
		RiskPct: d("0.01"),
		LotType: types.LotTypeOdd,
		ATR:     d("2"),
	})
	if res.Method != MethodATR {
		t.Fatalf("expected atr method, got %s", res.Method)
	}
	// riskAmount = 10000, perShareRisk = 2*2=4 -> 2500 shares, capped by 10% equity / price = 1000.
	if res.Shares != 1000 {
		t.Fatalf("expected 1000 shares (capped), got %d", res.Shares)
	}
}

func TestCalculate_FixedRiskFallback(t *testing.T) {
	res := Calculate(Request{
		Equity:  d("1000000"),
		Price:   d("100"),
		RiskPct: d("0.01"),
		LotType: types.LotTypeOdd,
	})
	if res.Method != MethodFixedRisk {
		t.Fatalf("expected fixed_risk method, got %s", res.Method)
	}
	// equity*riskPct/price = 1000000*0.01/100 = 100 shares.
	if res.Shares != 100 {
		t.Fatalf("expected 100 shares, got %d", res.Shares)
	}
}

func TestCalculate_RoundLotRoundsDownToMultipleOf1000(t *testing.T) {
	res := Calculate(Request{
		Equity:  d("10000000"),
		Price:   d("100"),
		RiskPct: d("0.05"),
		LotType: types.LotTypeRound,
	})
	if res.Shares%types.RoundLotSize != 0 {
		t.Fatalf("expected round-lot multiple of %d, got %d", types.RoundLotSize, res.Shares)
	}
}

func TestCalculate_HardCapOnPositionValue(t *testing.T) {
	res := Calculate(Request{
		Equity:  d("100000"),
		Price:   d("10"),
		RiskPct: d("0.5"), // deliberately oversized ask
		LotType: types.LotTypeOdd,
	})
	maxValue := d("100000").Mul(MaxPositionPct)
	positionValue := decimal.NewFromInt(res.Shares).Mul(d("10"))
	if positionValue.GreaterThan(maxValue) {
		t.Fatalf("position value %s exceeds 10%% equity cap %s", positionValue, maxValue)
	}
}

func TestCalculate_MinimumOneShare(t *testing.T) {
	res := Calculate(Request{
		Equity:  d("100"),
		Price:   d("1000000"),
		RiskPct: d("0.01"),
		LotType: types.LotTypeOdd,
	})
	if res.Shares < 1 {
		t.Fatalf("expected at least 1 share, got %d", res.Shares)
	}
}
