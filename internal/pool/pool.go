package pool

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tradepool.com/internal/adapters"
	"tradepool.com/internal/domain"
	"tradepool.com/internal/ledger"
	"tradepool.com/internal/model"
)

var log = logrus.WithField("module", "pool")

// StrategyRecord 池中的一条策略记录：适配器实例 + 生命周期状态
type StrategyRecord struct {
	ID         string
	Strategy   string // 适配器类型名
	Config     json.RawMessage
	Adapter    domain.StrategyAdapter
	Status     model.StrategyStatus
	Allocation float64
	Lookback   int
	// Symbol 非空时策略只接受该品种的行情
	Symbol     string
	DeployedAt time.Time
}

// acceptsSymbol 判断策略是否关注某个品种
func (r *StrategyRecord) acceptsSymbol(symbol string) bool {
	return r.Symbol == "" || r.Symbol == symbol
}

// Pool 策略池：持有全部策略记录，驱动每个周期的信号生成，
// 并把准入检查转发给资金台账。
//
// 读写锁保证热插拔（deploy/undeploy）和进行中的 GenerateSignals
// 互不破坏：生成信号时先在读锁下做记录快照，再在锁外调用适配器。
type Pool struct {
	mu      sync.RWMutex
	records map[string]*StrategyRecord
	order   []string // 保持部署顺序

	ledger *ledger.CapitalLedger
}

// New 创建一个挂在指定资金台账上的策略池
func New(l *ledger.CapitalLedger) *Pool {
	return &Pool{
		records: make(map[string]*StrategyRecord),
		ledger:  l,
	}
}

// Ledger 返回池使用的资金台账
func (p *Pool) Ledger() *ledger.CapitalLedger {
	return p.ledger
}

// Initialize 按配置批量装载策略：加载适配器、计算回看周期、
// 在台账登记资金、置为 Active。任何一个失败都整体失败。
func (p *Pool) Initialize(specs []model.DeploySpec) error {
	for _, spec := range specs {
		if ok, reason := p.DeployRuntime(spec); !ok {
			return fmt.Errorf("failed to initialize strategy %s: %s", spec.ID, reason)
		}
	}
	log.Infof("initialized pool with %d strategies", len(specs))
	return nil
}

// DeployRuntime 热部署一个策略。
// 拒绝条件：重复 ID、未知适配器类型、非法配置、台账资金不足。
// 校验全部在变更之前完成，失败时不留下任何半成品状态。
func (p *Pool) DeployRuntime(spec model.DeploySpec) (bool, string) {
	if spec.ID == "" {
		return false, "strategy_id is required"
	}

	// 显式分类，而不是运行时自省
	info, err := adapters.Detect(spec.Strategy)
	if err != nil {
		return false, err.Error()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[spec.ID]; ok {
		return false, fmt.Sprintf("duplicate strategy id: %s", spec.ID)
	}

	adapter, err := adapters.Create(info.Name, spec.Config)
	if err != nil {
		return false, err.Error()
	}

	// 台账是资金准入的唯一裁决者
	if ok, reason := p.ledger.Register(spec.ID, spec.Allocation); !ok {
		return false, reason
	}

	p.records[spec.ID] = &StrategyRecord{
		ID:         spec.ID,
		Strategy:   info.Name,
		Config:     spec.Config,
		Adapter:    adapter,
		Status:     model.StrategyStatusActive,
		Allocation: spec.Allocation,
		Lookback:   adapter.Lookback(),
		Symbol:     spec.Symbol,
		DeployedAt: time.Now(),
	}
	p.order = append(p.order, spec.ID)

	log.Infof("deployed strategy %s (%s, %.1f%%, lookback=%d, symbol=%q)",
		spec.ID, info.Name, spec.Allocation*100, adapter.Lookback(), spec.Symbol)
	return true, fmt.Sprintf("strategy %s deployed", spec.ID)
}

// PauseRuntime 暂停策略：O(1) 状态翻转，不触碰台账。
// 暂停的策略保留资金记录和品种归属，只是不再参与信号生成。
func (p *Pool) PauseRuntime(strategyID string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.records[strategyID]
	if !ok {
		return false, fmt.Sprintf("unknown strategy: %s", strategyID)
	}
	if r.Status == model.StrategyStatusPaused {
		return false, fmt.Sprintf("strategy %s is already paused", strategyID)
	}

	r.Status = model.StrategyStatusPaused
	log.Infof("paused strategy %s", strategyID)
	return true, fmt.Sprintf("strategy %s paused", strategyID)
}

// ResumeRuntime 恢复被暂停的策略
func (p *Pool) ResumeRuntime(strategyID string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.records[strategyID]
	if !ok {
		return false, fmt.Sprintf("unknown strategy: %s", strategyID)
	}
	if r.Status != model.StrategyStatusPaused {
		return false, fmt.Sprintf("strategy %s is not paused", strategyID)
	}

	r.Status = model.StrategyStatusActive
	log.Infof("resumed strategy %s", strategyID)
	return true, fmt.Sprintf("strategy %s resumed", strategyID)
}

// UndeployRuntime 下线策略：移除记录、注销台账资金、释放品种归属。
// 实际持仓的清算由 Broker 协作方负责。
func (p *Pool) UndeployRuntime(strategyID string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[strategyID]; !ok {
		return false, fmt.Sprintf("unknown strategy: %s", strategyID)
	}

	delete(p.records, strategyID)
	for i, id := range p.order {
		if id == strategyID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}

	released := p.ledger.Unregister(strategyID)

	log.Infof("undeployed strategy %s, released symbols: %v", strategyID, released)
	return true, fmt.Sprintf("strategy %s undeployed", strategyID)
}

// RebalanceRuntime 校验所有 ID 都在池中，然后整体委托给台账
func (p *Pool) RebalanceRuntime(allocations map[string]float64) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for strategyID := range allocations {
		if _, ok := p.records[strategyID]; !ok {
			return false, fmt.Sprintf("unknown strategy: %s", strategyID)
		}
	}

	ok, reason := p.ledger.Rebalance(allocations)
	if !ok {
		return false, reason
	}

	// 台账已应用，同步记录上的分配比例
	for strategyID, pct := range allocations {
		p.records[strategyID].Allocation = pct
	}
	return true, "OK"
}

// GenerateSignals 为一个品种驱动所有 Active 策略产信号。
// 暂停的策略完全跳过（不调用、无开销）；单个适配器的 error 或 panic
// 被就地降级成携带错误信息的 HOLD 信号，绝不拖垮兄弟策略或整个循环。
func (p *Pool) GenerateSignals(symbol string, bars []model.Bar) []model.Signal {
	// 读锁下做快照，适配器调用放在锁外，
	// 和并发的 DeployRuntime 互不阻塞
	p.mu.RLock()
	snapshot := make([]*StrategyRecord, 0, len(p.order))
	for _, id := range p.order {
		r := p.records[id]
		if r.Status == model.StrategyStatusActive && r.acceptsSymbol(symbol) {
			snapshot = append(snapshot, r)
		}
	}
	p.mu.RUnlock()

	signals := make([]model.Signal, 0, len(snapshot))
	for _, r := range snapshot {
		sig := p.extractSignal(r, symbol, bars)
		sig.StrategyID = r.ID
		sig.Symbol = symbol
		signals = append(signals, sig)
	}
	return signals
}

// extractSignal 在 recover 保护下调用单个适配器
func (p *Pool) extractSignal(r *StrategyRecord, symbol string, bars []model.Bar) (sig model.Signal) {
	var ts time.Time
	if len(bars) > 0 {
		ts = bars[len(bars)-1].Timestamp
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("strategy %s panicked for %s: %v", r.ID, symbol, rec)
			sig = model.HoldSignal(r.ID, symbol, ts)
			sig.Error = fmt.Sprintf("panic: %v", rec)
		}
	}()

	sig, err := r.Adapter.ExtractSignal(bars)
	if err != nil {
		log.Errorf("strategy %s failed for %s: %v", r.ID, symbol, err)
		sig = model.HoldSignal(r.ID, symbol, ts)
		sig.Error = err.Error()
	}
	return sig
}

// MaxLookback 返回池中未移除策略的最大回看周期
func (p *Pool) MaxLookback() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	max := 0
	for _, r := range p.records {
		if r.Lookback > max {
			max = r.Lookback
		}
	}
	return max
}

// Count 返回池中的策略数量
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// Status 返回单个策略的生命周期状态
func (p *Pool) Status(strategyID string) (model.StrategyStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.records[strategyID]
	if !ok {
		return "", false
	}
	return r.Status, true
}

// Snapshot 返回全部策略的一致快照（按部署顺序）
func (p *Pool) Snapshot() []model.StrategyInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]model.StrategyInfo, 0, len(p.order))
	for _, id := range p.order {
		r := p.records[id]
		infos = append(infos, model.StrategyInfo{
			ID:         r.ID,
			Strategy:   r.Strategy,
			Status:     r.Status,
			Allocation: r.Allocation,
			Lookback:   r.Lookback,
			Symbol:     r.Symbol,
			DeployedAt: r.DeployedAt,
		})
	}
	return infos
}
