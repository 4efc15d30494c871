package adapters

import (
	"encoding/json"
	"fmt"
	"math"

	"tradepool.com/internal/domain"
	"tradepool.com/internal/model"
)

// SMAConfig 均线交叉策略的参数
type SMAConfig struct {
	Fast int `json:"fast"` // 快线周期
	Slow int `json:"slow"` // 慢线周期
}

// SMA 是快慢均线交叉策略：快线上穿慢线买入，下穿平仓。
type SMA struct {
	cfg SMAConfig
}

// NewSMA 从 JSON 配置构造均线策略
func NewSMA(config json.RawMessage) (domain.StrategyAdapter, error) {
	cfg := SMAConfig{Fast: 10, Slow: 30}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse sma config: %w", err)
		}
	}
	if cfg.Fast <= 0 || cfg.Slow <= 0 {
		return nil, fmt.Errorf("sma periods must be positive, got fast=%d slow=%d", cfg.Fast, cfg.Slow)
	}
	if cfg.Fast >= cfg.Slow {
		return nil, fmt.Errorf("sma fast period %d must be shorter than slow period %d", cfg.Fast, cfg.Slow)
	}
	return &SMA{cfg: cfg}, nil
}

// Lookback 需要慢线周期 +1 根 K 线才能判断交叉
func (s *SMA) Lookback() int {
	return s.cfg.Slow + 1
}

func (s *SMA) ExtractSignal(bars []model.Bar) (model.Signal, error) {
	// 数据不足：无法判断，按 HOLD 处理（业务条件，不是错误）
	if len(bars) < s.cfg.Slow+1 {
		return holdOnShortData(bars), nil
	}

	last := bars[len(bars)-1]
	sig := model.HoldSignal("", last.Symbol, last.Timestamp)
	sig.Price = last.Close

	fastNow := sma(bars, s.cfg.Fast, 0)
	slowNow := sma(bars, s.cfg.Slow, 0)
	fastPrev := sma(bars, s.cfg.Fast, 1)
	slowPrev := sma(bars, s.cfg.Slow, 1)

	sig.Indicators = map[string]float64{
		"sma_fast": fastNow,
		"sma_slow": slowNow,
	}

	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		// 金叉
		sig.Type = model.SignalBuy
		sig.Confidence = crossConfidence(fastNow, slowNow)
	case fastPrev >= slowPrev && fastNow < slowNow:
		// 死叉
		sig.Type = model.SignalClose
		sig.Confidence = crossConfidence(fastNow, slowNow)
	}

	return sig, nil
}

// sma 计算倒数第 offset 根 K 线处、周期为 period 的简单均线
func sma(bars []model.Bar, period, offset int) float64 {
	end := len(bars) - offset
	sum := 0.0
	for i := end - period; i < end; i++ {
		sum += bars[i].Close
	}
	return sum / float64(period)
}

// crossConfidence 用快慢线的相对距离粗略估计信号强度
func crossConfidence(fast, slow float64) float64 {
	if slow == 0 {
		return 0.5
	}
	spread := math.Abs(fast-slow) / slow
	return math.Min(0.5+spread*50, 1.0)
}
