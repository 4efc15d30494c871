package feed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"tradepool.com/internal/domain"
	"tradepool.com/internal/model"
)

var _ domain.DataFeed = (*DemoFeed)(nil)

// DemoConfig 模拟数据源的参数
type DemoConfig struct {
	// Volatility 每根 K 线的随机波动幅度（标准差，按价格比例）
	Volatility float64
	// Seed 随机种子，固定后输出完全可复现（0 表示按时间取）
	Seed int64
	// Granularity 决定 K 线的时间间隔
	Granularity model.Granularity
	// BasePrices 各品种的起始价格，缺省 100
	BasePrices map[string]float64
	// MaxHistory 限制 Historical 最多返回多少根 K 线（0 表示不限制）。
	// 用于模拟数据不足量的场景。
	MaxHistory int
}

// DemoFeed 随机游走的模拟行情源：无需任何外部依赖即可跑通整个系统。
type DemoFeed struct {
	cfg DemoConfig

	mu  sync.Mutex
	rng *rand.Rand
	// lastBar 各品种最近一根 K 线
	lastBar map[string]model.Bar
}

// NewDemoFeed 创建模拟行情源
func NewDemoFeed(cfg DemoConfig) *DemoFeed {
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.01
	}
	if cfg.Granularity.Seconds() == 0 {
		cfg.Granularity = model.Granularity{Multiplier: 1, Unit: 'm'}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DemoFeed{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		lastBar: make(map[string]model.Bar),
	}
}

// Historical 生成截止到当前时刻的 lookback 根历史 K 线。
// 配置了 MaxHistory 时可能少于请求量（调用方需容忍不足量）。
func (f *DemoFeed) Historical(ctx context.Context, symbol string, lookback int) ([]model.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := lookback
	if f.cfg.MaxHistory > 0 && n > f.cfg.MaxHistory {
		n = f.cfg.MaxHistory
	}
	if n <= 0 {
		return nil, nil
	}

	step := f.cfg.Granularity.Duration()
	ts := time.Now().Truncate(step).Add(-step * time.Duration(n-1))

	price := f.basePrice(symbol)
	bars := make([]model.Bar, 0, n)
	for i := 0; i < n; i++ {
		bar := f.nextBar(symbol, price, ts)
		bars = append(bars, bar)
		price = bar.Close
		ts = ts.Add(step)
	}

	f.lastBar[symbol] = bars[len(bars)-1]
	return bars, nil
}

// Latest 基于最近一根 K 线随机游走出下一根
func (f *DemoFeed) Latest(ctx context.Context, symbol string) (*model.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	last, ok := f.lastBar[symbol]
	if !ok {
		bar := f.nextBar(symbol, f.basePrice(symbol), time.Now())
		f.lastBar[symbol] = bar
		return &bar, nil
	}

	bar := f.nextBar(symbol, last.Close, last.Timestamp.Add(f.cfg.Granularity.Duration()))
	f.lastBar[symbol] = bar
	return &bar, nil
}

func (f *DemoFeed) basePrice(symbol string) float64 {
	if p, ok := f.cfg.BasePrices[symbol]; ok {
		return p
	}
	return 100.0
}

// nextBar 以 prev 为开盘价随机游走出一根 K 线
func (f *DemoFeed) nextBar(symbol string, prev float64, ts time.Time) model.Bar {
	change := f.rng.NormFloat64() * f.cfg.Volatility
	open := prev
	clos := open * (1 + change)
	high := math.Max(open, clos) * (1 + f.rng.Float64()*f.cfg.Volatility/2)
	low := math.Min(open, clos) * (1 - f.rng.Float64()*f.cfg.Volatility/2)

	return model.Bar{
		Symbol:    symbol,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     clos,
		Volume:    float64(f.rng.Intn(9000) + 1000),
		Timestamp: ts,
	}
}
