package adapters

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"tradepool.com/internal/domain"
	"tradepool.com/internal/model"
)

// RandomConfig 随机策略的参数
type RandomConfig struct {
	Seed      int64   `json:"seed"`       // 随机种子（0 表示按时间取）
	TradeProb float64 `json:"trade_prob"` // 每个周期发出交易信号的概率
}

// Random 是演示用的随机策略：以固定概率交替发出买入/平仓信号。
// 种子固定后输出完全可复现，主要用于联调和演示。
type Random struct {
	cfg RandomConfig

	mu     sync.Mutex
	rng    *rand.Rand
	inLong bool
}

// NewRandom 从 JSON 配置构造随机策略
func NewRandom(config json.RawMessage) (domain.StrategyAdapter, error) {
	cfg := RandomConfig{TradeProb: 0.2}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse random config: %w", err)
		}
	}
	if cfg.TradeProb < 0 || cfg.TradeProb > 1 {
		return nil, fmt.Errorf("trade_prob must be between 0 and 1, got %f", cfg.TradeProb)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{cfg: cfg, rng: rand.New(rand.NewSource(seed))}, nil
}

func (r *Random) Lookback() int {
	return 2
}

func (r *Random) ExtractSignal(bars []model.Bar) (model.Signal, error) {
	if len(bars) == 0 {
		return holdOnShortData(bars), nil
	}
	last := bars[len(bars)-1]
	sig := model.HoldSignal("", last.Symbol, last.Timestamp)
	sig.Price = last.Close

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rng.Float64() >= r.cfg.TradeProb {
		return sig, nil
	}

	// 交替做多/平仓，避免连续重复买入
	if r.inLong {
		sig.Type = model.SignalClose
	} else {
		sig.Type = model.SignalBuy
	}
	r.inLong = !r.inLong
	sig.Confidence = r.rng.Float64()*0.5 + 0.25

	return sig, nil
}
