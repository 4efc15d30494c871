package adapters

import (
	"encoding/json"
	"fmt"
	"math"

	"tradepool.com/internal/domain"
	"tradepool.com/internal/model"
)

// MomentumConfig 动量策略的参数
type MomentumConfig struct {
	Period    int     `json:"period"`    // 回看周期
	Threshold float64 `json:"threshold"` // 触发阈值（收益率，如 0.02 = 2%）
}

// Momentum 是变化率动量策略：周期收益率超过阈值追涨，跌破负阈值平仓。
type Momentum struct {
	cfg MomentumConfig
}

// NewMomentum 从 JSON 配置构造动量策略
func NewMomentum(config json.RawMessage) (domain.StrategyAdapter, error) {
	cfg := MomentumConfig{Period: 14, Threshold: 0.02}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse momentum config: %w", err)
		}
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("momentum period must be positive, got %d", cfg.Period)
	}
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("momentum threshold must be positive, got %f", cfg.Threshold)
	}
	return &Momentum{cfg: cfg}, nil
}

func (m *Momentum) Lookback() int {
	return m.cfg.Period + 1
}

func (m *Momentum) ExtractSignal(bars []model.Bar) (model.Signal, error) {
	if len(bars) < m.cfg.Period+1 {
		return holdOnShortData(bars), nil
	}

	last := bars[len(bars)-1]
	sig := model.HoldSignal("", last.Symbol, last.Timestamp)
	sig.Price = last.Close

	base := bars[len(bars)-1-m.cfg.Period].Close
	if base == 0 {
		return sig, nil
	}
	roc := (last.Close - base) / base

	sig.Indicators = map[string]float64{"roc": roc}

	switch {
	case roc > m.cfg.Threshold:
		sig.Type = model.SignalBuy
		sig.Confidence = math.Min(roc/m.cfg.Threshold/2, 1.0)
	case roc < -m.cfg.Threshold:
		sig.Type = model.SignalClose
		sig.Confidence = math.Min(-roc/m.cfg.Threshold/2, 1.0)
	}

	return sig, nil
}
