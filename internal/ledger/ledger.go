package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"tradepool.com/internal/model"
)

var log = logrus.WithField("module", "ledger")

// AllocationEpsilon 允许的浮点误差：Σ allocation ≤ 1.0 + ε
const AllocationEpsilon = 0.01

// entry 单个策略的资金记录
type entry struct {
	strategyID    string
	allocationPct float64
	// totalAllocated = allocationPct × 账户总价值
	totalAllocated float64
	totalSpent     float64
}

func (e *entry) available() float64 {
	return e.totalAllocated - e.totalSpent
}

// CapitalLedger 资金台账：跟踪每个策略的资金分配、已花费金额，
// 以及品种的独占归属。它是"某策略能否以某金额交易某品种"的唯一裁决者。
//
// 所有业务判定都返回 (bool, reason) 而不是 error，保证调用点统一、
// 每个准入决策都可以独立测试。内部用读写锁保护，Snapshot 在不持有
// 控制面大锁的情况下也能拿到一致视图。
type CapitalLedger struct {
	mu sync.RWMutex

	entries map[string]*entry
	// symbolOwners 品种 -> 持有策略 ID，同一时刻至多一个持有者
	symbolOwners map[string]string

	totalAccountValue float64
}

// New 创建一个空的资金台账
func New() *CapitalLedger {
	return &CapitalLedger{
		entries:      make(map[string]*entry),
		symbolOwners: make(map[string]string),
	}
}

// Register 登记一个策略的资金分配。
// 拒绝条件：重复 ID、分配比例不在 (0, 1]、或登记后总分配超过 1.0+ε。
func (l *CapitalLedger) Register(strategyID string, pct float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[strategyID]; ok {
		return false, fmt.Sprintf("strategy %s already registered", strategyID)
	}
	if pct <= 0 || pct > 1 {
		return false, fmt.Sprintf("allocation %.4f must be between 0 and 1", pct)
	}

	total := pct
	for _, e := range l.entries {
		total += e.allocationPct
	}
	if total > 1.0+AllocationEpsilon {
		return false, fmt.Sprintf("total allocation %.2f%% would exceed 100%%", total*100)
	}

	l.entries[strategyID] = &entry{
		strategyID:     strategyID,
		allocationPct:  pct,
		totalAllocated: pct * l.totalAccountValue,
	}

	log.Infof("registered strategy %s with %.1f%% allocation", strategyID, pct*100)
	return true, "OK"
}

// Unregister 注销一个策略并释放它持有的所有品种。
// 返回被释放的品种列表；实际持仓的清算由 Broker 协作方负责。
func (l *CapitalLedger) Unregister(strategyID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, strategyID)
	return l.releaseOwnershipsLocked(strategyID)
}

// ReleaseOwnerships 释放某个策略持有的所有品种（保留资金记录）
func (l *CapitalLedger) ReleaseOwnerships(strategyID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseOwnershipsLocked(strategyID)
}

func (l *CapitalLedger) releaseOwnershipsLocked(strategyID string) []string {
	var released []string
	for symbol, owner := range l.symbolOwners {
		if owner == strategyID {
			released = append(released, symbol)
			delete(l.symbolOwners, symbol)
		}
	}
	sort.Strings(released)
	if len(released) > 0 {
		log.Infof("released %d symbol(s) owned by %s: %v", len(released), strategyID, released)
	}
	return released
}

// UpdateTotalValue 更新账户总价值并重算每个策略的分配额度
func (l *CapitalLedger) UpdateTotalValue(accountValue float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalAccountValue = accountValue
	for _, e := range l.entries {
		e.totalAllocated = accountValue * e.allocationPct
	}
}

// CanBuy 判定某策略能否以 amount 金额买入某品种。
// 拒绝条件：策略未登记、品种已被其他策略持有、金额超过可用资金。
func (l *CapitalLedger) CanBuy(strategyID, symbol string, amount float64) (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[strategyID]
	if !ok {
		return false, fmt.Sprintf("unknown strategy: %s", strategyID)
	}

	if owner, owned := l.symbolOwners[symbol]; owned && owner != strategyID {
		return false, fmt.Sprintf("symbol %s already owned by strategy %s", symbol, owner)
	}

	if amount > e.available() {
		return false, fmt.Sprintf("insufficient capital for %s: %.2f requested, %.2f available",
			strategyID, amount, e.available())
	}

	return true, "OK"
}

// CanSell 判定某策略能否卖出某品种：必须是当前持有者。
func (l *CapitalLedger) CanSell(strategyID, symbol string) (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.entries[strategyID]; !ok {
		return false, fmt.Sprintf("unknown strategy: %s", strategyID)
	}

	owner, owned := l.symbolOwners[symbol]
	if !owned {
		return false, fmt.Sprintf("no position found for symbol %s", symbol)
	}
	if owner != strategyID {
		return false, fmt.Sprintf("symbol %s owned by %s, not %s", symbol, owner, strategyID)
	}

	return true, "OK"
}

// RecordBuy 记录一笔成交的买入：累计花费并登记品种归属
func (l *CapitalLedger) RecordBuy(strategyID, symbol string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[strategyID]
	if !ok {
		log.Errorf("cannot record buy for unknown strategy: %s", strategyID)
		return
	}

	e.totalSpent += amount
	l.symbolOwners[symbol] = strategyID

	log.Infof("recorded buy: %s bought %s for %.2f (%.2f remaining)",
		strategyID, symbol, amount, e.available())
}

// RecordSell 记录一笔成交的卖出：回补资金并释放品种归属。
// 回补金额不会超过已花费金额，available 因此永远不会高于分配额度。
func (l *CapitalLedger) RecordSell(strategyID, symbol string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[strategyID]
	if !ok {
		log.Errorf("cannot record sell for unknown strategy: %s", strategyID)
		return
	}

	if amount > e.totalSpent {
		log.Warnf("sell of %.2f for %s exceeds recorded spend %.2f, clamping",
			amount, strategyID, e.totalSpent)
		amount = e.totalSpent
	}
	e.totalSpent -= amount
	delete(l.symbolOwners, symbol)

	log.Infof("recorded sell: %s sold %s for %.2f (%.2f available)",
		strategyID, symbol, amount, e.available())
}

// Rebalance 整体替换分配表。先完整校验（每项比例合法、总和 ≤ 1.0+ε、
// 不引用未登记的策略），全部通过后才原子地应用；已花费金额保持不变。
// 总和可以小于 1.0：未分配的部分有意作为现金保留。
func (l *CapitalLedger) Rebalance(allocations map[string]float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(allocations) == 0 {
		return false, "allocations map is empty"
	}

	total := 0.0
	for strategyID, pct := range allocations {
		if _, ok := l.entries[strategyID]; !ok {
			return false, fmt.Sprintf("unknown strategy: %s", strategyID)
		}
		if pct <= 0 || pct > 1 {
			return false, fmt.Sprintf("allocation %.4f for %s must be between 0 and 1", pct, strategyID)
		}
		total += pct
	}
	if total > 1.0+AllocationEpsilon {
		return false, fmt.Sprintf("total allocation %.2f%% exceeds 100%%", total*100)
	}

	// 校验全部通过，开始应用
	for strategyID, pct := range allocations {
		e := l.entries[strategyID]
		e.allocationPct = pct
		e.totalAllocated = pct * l.totalAccountValue
	}

	if total < 1.0 {
		log.Infof("rebalanced: %.1f%% allocated, %.1f%% held as cash reserve", total*100, (1.0-total)*100)
	} else {
		log.Infof("rebalanced: fully allocated across %d strategies", len(allocations))
	}
	return true, "OK"
}

// Owner 返回某品种的当前持有者
func (l *CapitalLedger) Owner(symbol string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owner, ok := l.symbolOwners[symbol]
	return owner, ok
}

// TotalAllocationPct 返回当前所有策略的分配比例之和
func (l *CapitalLedger) TotalAllocationPct() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0.0
	for _, e := range l.entries {
		total += e.allocationPct
	}
	return total
}

// Status 返回单个策略的资金状态
func (l *CapitalLedger) Status(strategyID string) (model.LedgerEntryInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[strategyID]
	if !ok {
		return model.LedgerEntryInfo{}, false
	}
	return l.entryInfoLocked(e), true
}

// Snapshot 返回全部资金状态的一致快照（按策略 ID 排序）
func (l *CapitalLedger) Snapshot() ([]model.LedgerEntryInfo, map[string]string, float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	infos := make([]model.LedgerEntryInfo, 0, len(l.entries))
	for _, e := range l.entries {
		infos = append(infos, l.entryInfoLocked(e))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StrategyID < infos[j].StrategyID })

	owners := make(map[string]string, len(l.symbolOwners))
	for symbol, owner := range l.symbolOwners {
		owners[symbol] = owner
	}

	return infos, owners, l.totalAccountValue
}

func (l *CapitalLedger) entryInfoLocked(e *entry) model.LedgerEntryInfo {
	var owned []string
	for symbol, owner := range l.symbolOwners {
		if owner == e.strategyID {
			owned = append(owned, symbol)
		}
	}
	sort.Strings(owned)

	return model.LedgerEntryInfo{
		StrategyID:       e.strategyID,
		AllocationPct:    e.allocationPct,
		TotalAllocated:   e.totalAllocated,
		TotalSpent:       e.totalSpent,
		AvailableCapital: e.available(),
		OwnedSymbols:     owned,
	}
}
