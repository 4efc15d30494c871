package adapters

import (
	"encoding/json"
	"testing"
	"time"

	"tradepool.com/internal/model"
)

func closesToBars(closes []float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	ts := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = model.Bar{
			Symbol:    "AAPL",
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
		}
	}
	return bars
}

func TestSMACrossover(t *testing.T) {
	adapter, err := NewSMA(json.RawMessage(`{"fast": 2, "slow": 3}`))
	if err != nil {
		t.Fatalf("NewSMA failed: %v", err)
	}

	tests := []struct {
		name   string
		closes []float64
		want   model.SignalType
	}{
		{
			// 快线从下方上穿慢线
			name:   "golden cross buys",
			closes: []float64{10, 9, 8, 9, 14},
			want:   model.SignalBuy,
		},
		{
			// 快线从上方下穿慢线
			name:   "death cross closes",
			closes: []float64{8, 9, 10, 9, 4},
			want:   model.SignalClose,
		},
		{
			name:   "flat market holds",
			closes: []float64{10, 10, 10, 10, 10},
			want:   model.SignalHold,
		},
		{
			name:   "short data holds",
			closes: []float64{10, 11},
			want:   model.SignalHold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := adapter.ExtractSignal(closesToBars(tt.closes))
			if err != nil {
				t.Fatalf("ExtractSignal failed: %v", err)
			}
			if sig.Type != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, sig.Type)
			}
			if sig.Price != tt.closes[len(tt.closes)-1] {
				t.Fatalf("signal should carry the last close, got %.2f", sig.Price)
			}
		})
	}
}

func TestSMAConfigValidation(t *testing.T) {
	if _, err := NewSMA(json.RawMessage(`{"fast": 30, "slow": 10}`)); err == nil {
		t.Fatalf("fast >= slow should be rejected")
	}
	if _, err := NewSMA(json.RawMessage(`{"fast": -1, "slow": 10}`)); err == nil {
		t.Fatalf("negative period should be rejected")
	}
	if _, err := NewSMA(json.RawMessage(`not json`)); err == nil {
		t.Fatalf("malformed config should be rejected")
	}

	// 缺省参数
	adapter, err := NewSMA(nil)
	if err != nil {
		t.Fatalf("default config failed: %v", err)
	}
	if adapter.Lookback() != 31 {
		t.Fatalf("expected default lookback 31, got %d", adapter.Lookback())
	}
}

func TestMomentumThreshold(t *testing.T) {
	adapter, err := NewMomentum(json.RawMessage(`{"period": 3, "threshold": 0.05}`))
	if err != nil {
		t.Fatalf("NewMomentum failed: %v", err)
	}

	// +10% 超过 5% 阈值
	sig, _ := adapter.ExtractSignal(closesToBars([]float64{100, 101, 102, 110}))
	if sig.Type != model.SignalBuy {
		t.Fatalf("expected buy on strong momentum, got %s", sig.Type)
	}

	// -10% 跌破负阈值
	sig, _ = adapter.ExtractSignal(closesToBars([]float64{100, 99, 98, 90}))
	if sig.Type != model.SignalClose {
		t.Fatalf("expected close on negative momentum, got %s", sig.Type)
	}

	// 2% 在阈值以内
	sig, _ = adapter.ExtractSignal(closesToBars([]float64{100, 101, 101, 102}))
	if sig.Type != model.SignalHold {
		t.Fatalf("expected hold inside threshold, got %s", sig.Type)
	}
}

func TestRandomIsReproducible(t *testing.T) {
	run := func() []model.SignalType {
		adapter, err := NewRandom(json.RawMessage(`{"seed": 42, "trade_prob": 0.5}`))
		if err != nil {
			t.Fatalf("NewRandom failed: %v", err)
		}
		var out []model.SignalType
		bars := closesToBars([]float64{100, 101})
		for i := 0; i < 20; i++ {
			sig, _ := adapter.ExtractSignal(bars)
			out = append(out, sig.Type)
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seeded random must be reproducible, diverged at %d: %s vs %s", i, a[i], b[i])
		}
	}

	// 买入/平仓严格交替
	var trades []model.SignalType
	for _, s := range a {
		if s != model.SignalHold {
			trades = append(trades, s)
		}
	}
	for i, s := range trades {
		want := model.SignalBuy
		if i%2 == 1 {
			want = model.SignalClose
		}
		if s != want {
			t.Fatalf("expected alternating buy/close, got %v", trades)
		}
	}
}

func TestRegistry(t *testing.T) {
	if _, err := Detect("sma"); err != nil {
		t.Fatalf("sma should be registered: %v", err)
	}
	if _, err := Detect("does-not-exist"); err == nil {
		t.Fatalf("unknown strategy should fail detection")
	}
	if _, err := Create("does-not-exist", nil); err == nil {
		t.Fatalf("unknown strategy should fail creation")
	}

	supported := Supported()
	for _, want := range []string{"momentum", "random", "sma"} {
		found := false
		for _, name := range supported {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %s in supported list %v", want, supported)
		}
	}
}
