package adapters

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradepool.com/internal/domain"
	"tradepool.com/internal/model"
)

// Factory 根据原始 JSON 配置构造一个策略适配器
type Factory func(config json.RawMessage) (domain.StrategyAdapter, error)

// AdapterInfo 是策略类型识别的结果：一个带标签的描述，
// 而不是运行时反射出来的东西。
type AdapterInfo struct {
	Name        string
	Description string
}

type registration struct {
	info    AdapterInfo
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register 在注册表中登记一个适配器类型（启动时调用）
func Register(info AdapterInfo, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[info.Name] = registration{info: info, factory: factory}
}

// Detect 把一个策略标识分类成已知的适配器类型。
// 未知类型返回错误并列出当前支持的类型。
func Detect(strategy string) (AdapterInfo, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[strategy]
	if !ok {
		return AdapterInfo{}, fmt.Errorf("unknown strategy type %q (supported: %v)", strategy, supportedLocked())
	}
	return reg.info, nil
}

// Create 构造一个指定类型的适配器实例
func Create(strategy string, config json.RawMessage) (domain.StrategyAdapter, error) {
	registryMu.RLock()
	reg, ok := registry[strategy]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q (supported: %v)", strategy, Supported())
	}
	return reg.factory(config)
}

// Supported 返回所有已注册的适配器类型名（排序后）
func Supported() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return supportedLocked()
}

func supportedLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// holdOnShortData 数据不足时的保底 HOLD 信号
func holdOnShortData(bars []model.Bar) model.Signal {
	if len(bars) == 0 {
		return model.HoldSignal("", "", time.Time{})
	}
	last := bars[len(bars)-1]
	sig := model.HoldSignal("", last.Symbol, last.Timestamp)
	sig.Price = last.Close
	return sig
}

func init() {
	Register(AdapterInfo{Name: "sma", Description: "simple moving average crossover"}, NewSMA)
	Register(AdapterInfo{Name: "momentum", Description: "rate-of-change momentum"}, NewMomentum)
	Register(AdapterInfo{Name: "random", Description: "seeded random signals for demos"}, NewRandom)
}
