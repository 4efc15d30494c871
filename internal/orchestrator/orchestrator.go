package orchestrator

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"tradepool.com/internal/domain"
	"tradepool.com/internal/event"
	"tradepool.com/internal/model"
	"tradepool.com/internal/pool"
)

var log = logrus.WithField("module", "orchestrator")

// ===========================
// 运行状态机
// ===========================

// State 交易循环的生命周期状态
type State int32

const (
	StateIdle State = iota
	StatePriming
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePriming:
		return "priming"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ===========================
// 交易循环编排器
// ===========================

// Config 编排器的运行参数
type Config struct {
	Symbols        []string
	Granularity    model.Granularity
	Duration       time.Duration // 运行时长，<=0 表示不限时
	TradingEnabled bool          // false 时只产信号不下单
}

// Orchestrator 驱动 行情拉取 -> 信号生成 -> 资金校验 -> 下单 的主循环。
// 每根 K 线缓冲区只由循环协程一个写者维护；
// 状态、tick 计数、账户价值用原子变量暴露，读取方不需要加锁。
type Orchestrator struct {
	cfg    Config
	pool   *pool.Pool
	feed   domain.DataFeed
	broker domain.Broker
	bus    *event.Bus

	state     atomic.Int32
	tickCount atomic.Int64
	valueBits atomic.Uint64 // 账户价值的 float64 位表示

	startedAt time.Time
	buffers   map[string][]model.Bar
	positions map[string]float64 // strategyID+"/"+symbol -> 买入占用金额

	// dropCh 把"策略已下线"通知进循环协程，由它清掉持仓记录
	dropCh chan string

	done chan struct{}
}

// New 创建编排器。startedAt 与 Priming 状态在这里同步置好，
// 外部随后 go Run 即可：无锁读取方不会看到启动前的中间态。
func New(cfg Config, p *pool.Pool, feed domain.DataFeed, broker domain.Broker, bus *event.Bus) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		pool:      p,
		feed:      feed,
		broker:    broker,
		bus:       bus,
		buffers:   make(map[string][]model.Bar),
		positions: make(map[string]float64),
		dropCh:    make(chan string, 64),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	o.state.Store(int32(StatePriming))
	return o
}

// Run 阻塞运行交易循环直到 ctx 取消或到达运行时长。
// 只允许调用一次。
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)

	o.prime(ctx)

	o.refreshAccountValue(ctx)
	o.state.Store(int32(StateRunning))
	o.bus.Publish(event.Event{Type: event.EventSystemStarted, Data: map[string]interface{}{
		"symbols":     o.cfg.Symbols,
		"granularity": o.cfg.Granularity.String(),
	}})
	log.Infof("trading loop started: symbols=%v granularity=%s trading=%v",
		o.cfg.Symbols, o.cfg.Granularity, o.cfg.TradingEnabled)

	// 节拍 = 粒度秒数，最低 1 秒
	interval := o.cfg.Granularity.Duration()
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if o.cfg.Duration > 0 {
		timer := time.NewTimer(o.cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			o.drain("context cancelled")
			return
		case <-deadline:
			o.drain("session duration reached")
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// Done 在循环完全退出后关闭
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// State 返回当前生命周期状态
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// TickCount 返回已完成的 tick 数
func (o *Orchestrator) TickCount() int64 {
	return o.tickCount.Load()
}

// AccountValue 返回最近一次刷新的账户价值
func (o *Orchestrator) AccountValue() float64 {
	return math.Float64frombits(o.valueBits.Load())
}

// StartedAt 返回循环启动时间
func (o *Orchestrator) StartedAt() time.Time {
	return o.startedAt
}

// Symbols 返回交易标的列表
func (o *Orchestrator) Symbols() []string {
	out := make([]string, len(o.cfg.Symbols))
	copy(out, o.cfg.Symbols)
	return out
}

// TradingEnabled 返回是否实际下单
func (o *Orchestrator) TradingEnabled() bool {
	return o.cfg.TradingEnabled
}

// Granularity 返回运行粒度
func (o *Orchestrator) Granularity() model.Granularity {
	return o.cfg.Granularity
}

// ===========================
// 内部：预热与节拍
// ===========================

// prime 拉取每个标的的历史 K 线作为初始缓冲。
// 数据源给不足量甚至给不出历史时照常启动，靠后续 tick 逐根补齐。
func (o *Orchestrator) prime(ctx context.Context) {
	lookback := o.pool.MaxLookback()
	for _, symbol := range o.cfg.Symbols {
		bars, err := o.feed.Historical(ctx, symbol, lookback)
		if err != nil {
			log.Warnf("priming %s failed, starting cold: %v", symbol, err)
			continue
		}
		if len(bars) < lookback {
			log.Warnf("priming %s under-delivered: got %d of %d bars", symbol, len(bars), lookback)
		}
		o.buffers[symbol] = bars
	}
}

// ForgetStrategy 通知循环丢弃一个策略的全部持仓记录。
// 下线后的策略若复用同一 ID 重新部署，不能继承旧仓位。
func (o *Orchestrator) ForgetStrategy(strategyID string) {
	select {
	case o.dropCh <- strategyID:
	default:
		log.Warnf("drop queue full, position records for %s not pruned", strategyID)
	}
}

// tick 处理一个节拍：先应用积压的下线通知，再逐标的拉新 K 线、
// 生成信号、执行交易。单个标的失败只记日志，不影响其他标的。
func (o *Orchestrator) tick(ctx context.Context) {
	o.drainDrops()
	for _, symbol := range o.cfg.Symbols {
		if err := o.tickSymbol(ctx, symbol); err != nil {
			log.Errorf("tick failed for %s: %v", symbol, err)
		}
	}
	o.refreshAccountValue(ctx)
	o.tickCount.Add(1)
}

func (o *Orchestrator) tickSymbol(ctx context.Context, symbol string) error {
	bar, err := o.feed.Latest(ctx, symbol)
	if err != nil {
		return err
	}
	if bar == nil {
		return nil
	}
	o.appendBar(symbol, *bar)

	signals := o.pool.GenerateSignals(symbol, o.buffers[symbol])
	for _, sig := range signals {
		o.bus.Publish(event.Event{Type: event.EventSignalGenerated, Data: sig})
		if sig.Error != "" {
			log.Warnf("strategy %s degraded to hold on %s: %s", sig.StrategyID, symbol, sig.Error)
			continue
		}
		if sig.Type == model.SignalHold {
			continue
		}
		o.handleSignal(ctx, symbol, sig)
	}
	return nil
}

// appendBar 追加一根 K 线并裁剪缓冲区。
// 缓冲上限取最大回看期的 4 倍，保底 128 根。
func (o *Orchestrator) appendBar(symbol string, bar model.Bar) {
	buf := append(o.buffers[symbol], bar)
	limit := 4 * o.pool.MaxLookback()
	if limit < 128 {
		limit = 128
	}
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	o.buffers[symbol] = buf
}

// ===========================
// 内部：信号执行
// ===========================

func (o *Orchestrator) handleSignal(ctx context.Context, symbol string, sig model.Signal) {
	ledger := o.pool.Ledger()

	switch {
	case sig.Type.IsBuy():
		amount := o.buyAmount(sig)
		if amount <= 0 {
			log.Infof("no capital available for %s buy on %s, skipping", sig.StrategyID, symbol)
			return
		}
		if ok, reason := ledger.CanBuy(sig.StrategyID, symbol, amount); !ok {
			log.Infof("buy rejected for %s on %s: %s", sig.StrategyID, symbol, reason)
			o.bus.Publish(event.Event{Type: event.EventTradeRejected, Data: map[string]interface{}{
				"strategy_id": sig.StrategyID,
				"symbol":      symbol,
				"side":        "buy",
				"reason":      reason,
			}})
			return
		}
		if !o.cfg.TradingEnabled {
			log.Infof("trading disabled, would buy %s %.2f for %s", symbol, amount, sig.StrategyID)
			return
		}
		filled, err := o.broker.Execute(ctx, symbol, sig, amount)
		if err != nil {
			log.Errorf("buy execution failed for %s on %s: %v", sig.StrategyID, symbol, err)
			return
		}
		if !filled {
			return
		}
		ledger.RecordBuy(sig.StrategyID, symbol, amount)
		o.positions[positionKey(sig.StrategyID, symbol)] += amount
		o.publishTrade(sig, symbol, "buy", amount)

	case sig.Type.IsSell():
		if ok, reason := ledger.CanSell(sig.StrategyID, symbol); !ok {
			log.Infof("sell rejected for %s on %s: %s", sig.StrategyID, symbol, reason)
			o.bus.Publish(event.Event{Type: event.EventTradeRejected, Data: map[string]interface{}{
				"strategy_id": sig.StrategyID,
				"symbol":      symbol,
				"side":        "sell",
				"reason":      reason,
			}})
			return
		}
		key := positionKey(sig.StrategyID, symbol)
		amount := o.positions[key]
		if !o.cfg.TradingEnabled {
			log.Infof("trading disabled, would sell %s %.2f for %s", symbol, amount, sig.StrategyID)
			return
		}
		filled, err := o.broker.Execute(ctx, symbol, sig, amount)
		if err != nil {
			log.Errorf("sell execution failed for %s on %s: %v", sig.StrategyID, symbol, err)
			return
		}
		if !filled {
			return
		}
		ledger.RecordSell(sig.StrategyID, symbol, amount)
		delete(o.positions, key)
		o.publishTrade(sig, symbol, "sell", amount)
	}
}

// buyAmount 计算本次买入占用的资金额度。
// 信号带 Size(0,1] 时按可用资金的比例下单，否则全额占用。
func (o *Orchestrator) buyAmount(sig model.Signal) float64 {
	info, ok := o.pool.Ledger().Status(sig.StrategyID)
	if !ok {
		return 0
	}
	available := info.AvailableCapital
	if sig.Size > 0 && sig.Size <= 1 {
		return available * sig.Size
	}
	return available
}

func (o *Orchestrator) publishTrade(sig model.Signal, symbol, side string, amount float64) {
	log.Infof("trade executed: %s %s %.2f @ %.2f [%s]", side, symbol, amount, sig.Price, sig.StrategyID)
	o.bus.Publish(event.Event{Type: event.EventTradeExecuted, Data: map[string]interface{}{
		"strategy_id": sig.StrategyID,
		"symbol":      symbol,
		"side":        side,
		"price":       sig.Price,
		"amount":      amount,
		"signal_type": string(sig.Type),
	}})
}

func (o *Orchestrator) refreshAccountValue(ctx context.Context) {
	value, err := o.broker.AccountValue(ctx)
	if err != nil {
		log.Warnf("account value refresh failed: %v", err)
		return
	}
	o.valueBits.Store(math.Float64bits(value))
	o.pool.Ledger().UpdateTotalValue(value)
}

// drain 收尾：打印会话汇总并置为停止态
func (o *Orchestrator) drain(reason string) {
	o.state.Store(int32(StateDraining))
	o.bus.Publish(event.Event{Type: event.EventSystemDraining, Data: map[string]interface{}{"reason": reason}})
	log.Infof("draining trading loop: %s", reason)
	log.Infof("session summary: ticks=%d strategies=%d account_value=%.2f elapsed=%s",
		o.tickCount.Load(), o.pool.Count(), o.AccountValue(), time.Since(o.startedAt).Round(time.Second))
	o.state.Store(int32(StateStopped))
	o.bus.Publish(event.Event{Type: event.EventSystemStopped, Data: map[string]interface{}{"reason": reason}})
}

// drainDrops 在循环协程内消化下线通知，保持 positions 单写者
func (o *Orchestrator) drainDrops() {
	for {
		select {
		case strategyID := <-o.dropCh:
			prefix := strategyID + "/"
			for key := range o.positions {
				if strings.HasPrefix(key, prefix) {
					delete(o.positions, key)
				}
			}
		default:
			return
		}
	}
}

func positionKey(strategyID, symbol string) string {
	return strategyID + "/" + symbol
}
