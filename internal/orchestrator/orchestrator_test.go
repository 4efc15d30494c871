package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tradepool.com/internal/adapters"
	"tradepool.com/internal/broker"
	"tradepool.com/internal/domain"
	"tradepool.com/internal/event"
	"tradepool.com/internal/ledger"
	"tradepool.com/internal/model"
	"tradepool.com/internal/pool"
)

// alwaysBuy 第一根 K 线就给买入信号
type alwaysBuy struct{}

func (a *alwaysBuy) Lookback() int { return 1 }
func (a *alwaysBuy) ExtractSignal(bars []model.Bar) (model.Signal, error) {
	return model.Signal{Type: model.SignalBuy, Price: bars[len(bars)-1].Close}, nil
}

func init() {
	adapters.Register(adapters.AdapterInfo{Name: "orch-buy", Description: "test adapter"},
		func(config json.RawMessage) (domain.StrategyAdapter, error) { return &alwaysBuy{}, nil })
}

// scriptedFeed 可控的测试数据源
type scriptedFeed struct {
	history    map[string][]model.Bar
	latestErr  map[string]error
	latestCall atomic.Int64
	price      float64
}

func (f *scriptedFeed) Historical(ctx context.Context, symbol string, lookback int) ([]model.Bar, error) {
	return f.history[symbol], nil
}

func (f *scriptedFeed) Latest(ctx context.Context, symbol string) (*model.Bar, error) {
	if err := f.latestErr[symbol]; err != nil {
		return nil, err
	}
	n := f.latestCall.Add(1)
	price := f.price
	if price == 0 {
		price = 100
	}
	return &model.Bar{
		Symbol:    symbol,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    1000,
		Timestamp: time.Now().Add(time.Duration(n) * time.Minute),
	}, nil
}

func newTestPool(t *testing.T, startingCash float64) *pool.Pool {
	t.Helper()
	l := ledger.New()
	l.UpdateTotalValue(startingCash)
	p := pool.New(l)
	if ok, reason := p.DeployRuntime(model.DeploySpec{
		ID:         "s1",
		Strategy:   "orch-buy",
		Allocation: 0.5,
	}); !ok {
		t.Fatalf("deploy failed: %s", reason)
	}
	return p
}

func TestPrimingToleratesUnderDelivery(t *testing.T) {
	p := newTestPool(t, 100000)
	f := &scriptedFeed{history: map[string][]model.Bar{
		"AAPL": {{Symbol: "AAPL", Close: 100, Timestamp: time.Now()}},
	}}
	o := New(Config{Symbols: []string{"AAPL", "MSFT"}, Granularity: model.Granularity{Multiplier: 1, Unit: 's'}},
		p, f, broker.NewPaper(100000), event.NewBus(16))

	o.prime(context.Background())
	if len(o.buffers["AAPL"]) != 1 {
		t.Fatalf("expected 1 primed bar for AAPL, got %d", len(o.buffers["AAPL"]))
	}
	// MSFT 没有历史数据也照常启动
	if len(o.buffers["MSFT"]) != 0 {
		t.Fatalf("expected cold start for MSFT, got %d bars", len(o.buffers["MSFT"]))
	}
}

func TestTickExecutesAndRecordsTrade(t *testing.T) {
	p := newTestPool(t, 100000)
	f := &scriptedFeed{}
	pb := broker.NewPaper(100000)
	bus := event.NewBus(16)

	var executed atomic.Int64
	bus.Subscribe(event.EventTradeExecuted, func(ctx context.Context, evt event.Event) error {
		executed.Add(1)
		return nil
	})

	o := New(Config{
		Symbols:        []string{"AAPL"},
		Granularity:    model.Granularity{Multiplier: 1, Unit: 's'},
		TradingEnabled: true,
	}, p, f, pb, bus)

	o.refreshAccountValue(context.Background())
	o.tick(context.Background())

	if pb.FillCount() != 1 {
		t.Fatalf("expected 1 fill, got %d", pb.FillCount())
	}

	info, _ := p.Ledger().Status("s1")
	if info.TotalSpent <= 0 {
		t.Fatalf("buy must be recorded in the ledger, spent=%.2f", info.TotalSpent)
	}
	if owner, ok := p.Ledger().Owner("AAPL"); !ok || owner != "s1" {
		t.Fatalf("expected s1 to own AAPL, got %q", owner)
	}
	if o.TickCount() != 1 {
		t.Fatalf("expected tick count 1, got %d", o.TickCount())
	}

	// 等异步事件派发落地
	deadline := time.Now().Add(time.Second)
	for executed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if executed.Load() != 1 {
		t.Fatalf("expected 1 trade.executed event, got %d", executed.Load())
	}
}

func TestTradingDisabledSkipsExecution(t *testing.T) {
	p := newTestPool(t, 100000)
	pb := broker.NewPaper(100000)
	o := New(Config{
		Symbols:        []string{"AAPL"},
		Granularity:    model.Granularity{Multiplier: 1, Unit: 's'},
		TradingEnabled: false,
	}, p, &scriptedFeed{}, pb, event.NewBus(16))

	o.refreshAccountValue(context.Background())
	o.tick(context.Background())

	if pb.FillCount() != 0 {
		t.Fatalf("trading disabled must not reach the broker, got %d fills", pb.FillCount())
	}
	info, _ := p.Ledger().Status("s1")
	if info.TotalSpent != 0 {
		t.Fatalf("no trade should be recorded, spent=%.2f", info.TotalSpent)
	}
}

// 一个标的拉取失败不影响兄弟标的
func TestSymbolFailureIsolation(t *testing.T) {
	p := newTestPool(t, 100000)
	f := &scriptedFeed{latestErr: map[string]error{"BAD": errors.New("feed offline")}}
	o := New(Config{
		Symbols:        []string{"BAD", "GOOD"},
		Granularity:    model.Granularity{Multiplier: 1, Unit: 's'},
		TradingEnabled: true,
	}, p, f, broker.NewPaper(100000), event.NewBus(16))

	o.refreshAccountValue(context.Background())
	o.tick(context.Background())

	if len(o.buffers["GOOD"]) != 1 {
		t.Fatalf("healthy symbol must still be processed, got %d bars", len(o.buffers["GOOD"]))
	}
	if o.TickCount() != 1 {
		t.Fatalf("tick must complete despite symbol failure")
	}
}

func TestRunLifecycle(t *testing.T) {
	p := newTestPool(t, 100000)
	o := New(Config{
		Symbols:        []string{"AAPL"},
		Granularity:    model.Granularity{Multiplier: 1, Unit: 's'},
		TradingEnabled: true,
	}, p, &scriptedFeed{}, broker.NewPaper(100000), event.NewBus(16))

	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for o.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if o.State() != StateRunning {
		t.Fatalf("loop never reached running, state=%s", o.State())
	}

	cancel()
	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
	if o.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", o.State())
	}
}

// 同名 ID 重新部署不能继承旧仓位：下线通知在下一个节拍先于
// 新信号被应用，随后的卖出只回补本次买入的金额
func TestUndeployForgetsPositions(t *testing.T) {
	p := newTestPool(t, 100000)
	pb := broker.NewPaper(100000)
	o := New(Config{
		Symbols:        []string{"AAPL"},
		Granularity:    model.Granularity{Multiplier: 1, Unit: 's'},
		TradingEnabled: true,
	}, p, &scriptedFeed{}, pb, event.NewBus(16))

	o.refreshAccountValue(context.Background())
	o.tick(context.Background())
	if got := o.positions["s1/AAPL"]; got != 50000 {
		t.Fatalf("expected position 50000 after first buy, got %.2f", got)
	}

	if ok, reason := p.UndeployRuntime("s1"); !ok {
		t.Fatalf("undeploy failed: %s", reason)
	}
	o.ForgetStrategy("s1")

	if ok, reason := p.DeployRuntime(model.DeploySpec{
		ID:         "s1",
		Strategy:   "orch-buy",
		Allocation: 0.5,
	}); !ok {
		t.Fatalf("redeploy failed: %s", reason)
	}

	o.tick(context.Background())
	if got := o.positions["s1/AAPL"]; got != 50000 {
		t.Fatalf("stale position must not survive redeploy, got %.2f", got)
	}

	o.handleSignal(context.Background(), "AAPL", model.Signal{
		Type:       model.SignalSell,
		StrategyID: "s1",
		Symbol:     "AAPL",
		Price:      100,
	})

	info, ok := p.Ledger().Status("s1")
	if !ok {
		t.Fatalf("ledger entry missing after sell")
	}
	if info.TotalSpent != 0 {
		t.Fatalf("sell must return exactly the bought amount, spent=%.2f", info.TotalSpent)
	}
	if info.AvailableCapital != info.TotalAllocated {
		t.Fatalf("available %.2f must not exceed allocated %.2f",
			info.AvailableCapital, info.TotalAllocated)
	}
}

// 构造完成即进入 priming：startedAt 与状态在循环协程启动前就绪，
// 无锁读取方不会看到启动前的中间态
func TestNewStartsInPriming(t *testing.T) {
	p := newTestPool(t, 100000)
	o := New(Config{Symbols: []string{"AAPL"}, Granularity: model.Granularity{Multiplier: 1, Unit: 's'}},
		p, &scriptedFeed{}, broker.NewPaper(100000), event.NewBus(16))

	if o.State() != StatePriming {
		t.Fatalf("expected priming right after construction, got %s", o.State())
	}
	if o.StartedAt().IsZero() {
		t.Fatalf("startedAt must be set before the loop goroutine starts")
	}
}

func TestBufferCap(t *testing.T) {
	p := newTestPool(t, 100000)
	o := New(Config{Symbols: []string{"AAPL"}, Granularity: model.Granularity{Multiplier: 1, Unit: 's'}},
		p, &scriptedFeed{}, broker.NewPaper(100000), event.NewBus(16))

	for i := 0; i < 300; i++ {
		o.appendBar("AAPL", model.Bar{Symbol: "AAPL", Close: 100})
	}
	// 最大回看期很小，缓冲应被保底值 128 封顶
	if got := len(o.buffers["AAPL"]); got != 128 {
		t.Fatalf("expected buffer capped at 128, got %d", got)
	}
}
