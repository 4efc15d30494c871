package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"tradepool.com/internal/adapters"
	"tradepool.com/internal/broker"
	"tradepool.com/internal/config"
	"tradepool.com/internal/domain"
	"tradepool.com/internal/event"
	"tradepool.com/internal/feed"
	"tradepool.com/internal/ledger"
	"tradepool.com/internal/model"
	"tradepool.com/internal/orchestrator"
	"tradepool.com/internal/pool"
)

var log = logrus.WithField("module", "daemon")

// runtime 一次交易会话的全部活动组件。
// 首次部署时整体构建，停机时整体丢弃。
type runtime struct {
	pool   *pool.Pool
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
	source string
}

// ControlPlane 守护进程核心：持有唯一的一组
// Orchestrator + StrategyPool + CapitalLedger，
// 用一把进程级互斥锁串行化所有变更命令。
// Status 读取不走这把锁，靠各组件自身的快照保证一致性。
type ControlPlane struct {
	cfg *config.Config
	bus *event.Bus

	// mu 串行化 Deploy/Pause/Resume/Undeploy/Rebalance/Shutdown
	mu sync.Mutex
	rt atomic.Pointer[runtime]

	// brokerFactory 便于测试替换，缺省为模拟盘
	brokerFactory func() domain.Broker
	feedFactory   func(gran model.Granularity) (domain.DataFeed, error)
}

// New 创建控制面
func New(cfg *config.Config, bus *event.Bus) *ControlPlane {
	return &ControlPlane{cfg: cfg, bus: bus}
}

// SetBrokerFactory 覆盖经纪商构造，测试用
func (cp *ControlPlane) SetBrokerFactory(f func() domain.Broker) {
	cp.brokerFactory = f
}

// SetFeedFactory 覆盖数据源构造，测试用
func (cp *ControlPlane) SetFeedFactory(f func(model.Granularity) (domain.DataFeed, error)) {
	cp.feedFactory = f
}

// Running 返回交易系统是否在运行
func (cp *ControlPlane) Running() bool {
	rt := cp.rt.Load()
	if rt == nil {
		return false
	}
	s := rt.orch.State()
	return s == orchestrator.StatePriming || s == orchestrator.StateRunning
}

// ===========================
// 命令：部署
// ===========================

// Deploy 部署一个策略。
// 空闲时第一次部署会构建并启动整套交易系统，
// 之后的部署热插进正在运行的策略池。
func (cp *ControlPlane) Deploy(req model.DeployRequest) (model.CommandResponse, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if req.Strategy == "" {
		return model.CommandResponse{}, domain.NewBadRequestError("strategy type is required")
	}
	if _, err := adapters.Detect(req.Strategy); err != nil {
		return model.CommandResponse{}, domain.NewBadRequestError(err.Error())
	}
	if req.Allocation <= 0 || req.Allocation > 1 {
		return model.CommandResponse{}, domain.NewBadRequestError(
			fmt.Sprintf("allocation must be in (0, 1], got %.4f", req.Allocation))
	}

	spec := req.DeploySpec
	if spec.ID == "" {
		spec.ID = generateStrategyID(req.Strategy, req.Symbol)
	}

	rt := cp.rt.Load()
	if rt == nil {
		return cp.bootSystem(req, spec)
	}

	// 循环已停（到时长或被取消）时不能再热插：策略会占资金但永远不被调度
	if s := rt.orch.State(); s != orchestrator.StatePriming && s != orchestrator.StateRunning {
		return model.CommandResponse{}, domain.NewUnavailableError(
			"trading loop has stopped; shut down before deploying a new session")
	}

	// 热插：标的必须落在本会话的交易范围内，否则永远不会被调度
	if spec.Symbol != "" && !containsSymbol(rt.orch.Symbols(), spec.Symbol) {
		return model.CommandResponse{
			Success: false,
			Error: fmt.Sprintf("symbol %s is not traded in this session (trading: %s)",
				spec.Symbol, strings.Join(rt.orch.Symbols(), ", ")),
		}, nil
	}

	ok, reason := rt.pool.DeployRuntime(spec)
	if !ok {
		return model.CommandResponse{Success: false, Error: reason}, nil
	}

	cp.publishLifecycle(event.EventStrategyDeployed, spec.ID, map[string]interface{}{
		"strategy":   spec.Strategy,
		"allocation": spec.Allocation,
		"symbol":     spec.Symbol,
	})
	log.Infof("strategy %s hot-swapped into running system", spec.ID)
	return model.CommandResponse{
		Success:    true,
		Message:    fmt.Sprintf("strategy %s deployed", spec.ID),
		StrategyID: spec.ID,
	}, nil
}

// bootSystem 首次部署：构建台账、策略池、数据源、经纪商和交易循环
func (cp *ControlPlane) bootSystem(req model.DeployRequest, spec model.DeploySpec) (model.CommandResponse, error) {
	symbols := req.Symbols
	if len(symbols) == 0 && spec.Symbol != "" {
		symbols = []string{spec.Symbol}
	}
	if len(symbols) == 0 {
		return model.CommandResponse{}, domain.NewBadRequestError("at least one symbol is required to start the system")
	}

	granStr := req.Granularity
	if granStr == "" {
		granStr = cp.cfg.Trading.Granularity
	}
	gran, err := model.ParseGranularity(granStr)
	if err != nil {
		return model.CommandResponse{}, domain.NewBadRequestError(err.Error())
	}

	duration := time.Duration(cp.cfg.Trading.DurationMinutes) * time.Minute
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}

	p := pool.New(ledger.New())
	p.Ledger().UpdateTotalValue(cp.cfg.Trading.StartingCash)
	ok, reason := p.DeployRuntime(spec)
	if !ok {
		return model.CommandResponse{Success: false, Error: reason}, nil
	}

	dataFeed, err := cp.newFeed(gran)
	if err != nil {
		return model.CommandResponse{}, domain.NewInternalError("failed to initialize data feed", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		Symbols:        symbols,
		Granularity:    gran,
		Duration:       duration,
		TradingEnabled: cp.cfg.Trading.Enabled,
	}, p, dataFeed, cp.newBroker(), cp.bus)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)

	cp.rt.Store(&runtime{pool: p, orch: orch, cancel: cancel, source: cp.cfg.Feed.Source})

	cp.publishLifecycle(event.EventStrategyDeployed, spec.ID, map[string]interface{}{
		"strategy":   spec.Strategy,
		"allocation": spec.Allocation,
		"symbol":     spec.Symbol,
	})
	log.Infof("trading system started with strategy %s: symbols=%v granularity=%s duration=%s",
		spec.ID, symbols, gran, duration)
	return model.CommandResponse{
		Success:    true,
		Message:    fmt.Sprintf("trading system started, strategy %s deployed", spec.ID),
		StrategyID: spec.ID,
	}, nil
}

func (cp *ControlPlane) newBroker() domain.Broker {
	if cp.brokerFactory != nil {
		return cp.brokerFactory()
	}
	return broker.NewPaper(cp.cfg.Trading.StartingCash)
}

func (cp *ControlPlane) newFeed(gran model.Granularity) (domain.DataFeed, error) {
	if cp.feedFactory != nil {
		return cp.feedFactory(gran)
	}
	return feed.NewFromConfig(cp.cfg, gran)
}

// ===========================
// 命令：生命周期
// ===========================

// Pause 暂停一个策略
func (cp *ControlPlane) Pause(strategyID string) (model.CommandResponse, error) {
	return cp.lifecycle(strategyID, event.EventStrategyPaused, "paused",
		func(p *pool.Pool) (bool, string) { return p.PauseRuntime(strategyID) })
}

// Resume 恢复一个暂停的策略
func (cp *ControlPlane) Resume(strategyID string) (model.CommandResponse, error) {
	return cp.lifecycle(strategyID, event.EventStrategyResumed, "resumed",
		func(p *pool.Pool) (bool, string) { return p.ResumeRuntime(strategyID) })
}

// Undeploy 下线一个策略并释放其资金与标的占用
func (cp *ControlPlane) Undeploy(strategyID string) (model.CommandResponse, error) {
	return cp.lifecycle(strategyID, event.EventStrategyUndeployed, "undeployed",
		func(p *pool.Pool) (bool, string) { return p.UndeployRuntime(strategyID) })
}

func (cp *ControlPlane) lifecycle(strategyID, eventType, verb string, op func(*pool.Pool) (bool, string)) (model.CommandResponse, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if strategyID == "" {
		return model.CommandResponse{}, domain.NewBadRequestError("strategy_id is required")
	}
	rt := cp.rt.Load()
	if rt == nil {
		return model.CommandResponse{}, domain.NewUnavailableError("trading system not running")
	}
	if _, found := rt.pool.Status(strategyID); !found {
		return model.CommandResponse{}, domain.NewNotFoundError(
			fmt.Sprintf("strategy %s not found", strategyID))
	}

	ok, reason := op(rt.pool)
	if !ok {
		return model.CommandResponse{Success: false, Error: reason}, nil
	}
	if eventType == event.EventStrategyUndeployed {
		// 丢掉持仓记录：同名 ID 重新部署不能继承旧仓位
		rt.orch.ForgetStrategy(strategyID)
	}

	cp.publishLifecycle(eventType, strategyID, nil)
	log.Infof("strategy %s %s", strategyID, verb)
	return model.CommandResponse{
		Success:    true,
		Message:    fmt.Sprintf("strategy %s %s", strategyID, verb),
		StrategyID: strategyID,
	}, nil
}

// Rebalance 原子替换所有策略的资金分配
func (cp *ControlPlane) Rebalance(allocations map[string]float64) (model.CommandResponse, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if len(allocations) == 0 {
		return model.CommandResponse{}, domain.NewBadRequestError("allocations map is required")
	}
	rt := cp.rt.Load()
	if rt == nil {
		return model.CommandResponse{}, domain.NewUnavailableError("trading system not running")
	}

	ok, reason := rt.pool.RebalanceRuntime(allocations)
	if !ok {
		return model.CommandResponse{Success: false, Error: reason}, nil
	}

	cp.bus.Publish(event.Event{Type: event.EventPortfolioRebalanced, Data: map[string]interface{}{
		"allocations": allocations,
	}})
	log.Infof("portfolio rebalanced across %d strategies", len(allocations))
	return model.CommandResponse{Success: true, Message: "portfolio rebalanced"}, nil
}

// ===========================
// 状态与停机
// ===========================

// Status 返回一致的系统快照，不抢命令锁
func (cp *ControlPlane) Status() model.SystemStatus {
	status := model.SystemStatus{DaemonRunning: true}

	rt := cp.rt.Load()
	if rt == nil {
		status.State = orchestrator.StateIdle.String()
		return status
	}

	state := rt.orch.State()
	entries, owners, _ := rt.pool.Ledger().Snapshot()

	status.SystemRunning = state == orchestrator.StatePriming || state == orchestrator.StateRunning
	status.State = state.String()
	status.Symbols = rt.orch.Symbols()
	status.DataSource = rt.source
	status.Granularity = rt.orch.Granularity().String()
	status.TradingEnabled = rt.orch.TradingEnabled()
	status.TickCount = rt.orch.TickCount()
	status.AccountValue = rt.orch.AccountValue()
	status.Strategies = rt.pool.Snapshot()
	status.Ledger = entries
	status.SymbolOwners = owners
	status.StartedAt = rt.orch.StartedAt()
	return status
}

// Shutdown 优雅停机：取消交易循环并在宽限期内等它退干净。
// 超过宽限期视为致命错误。
func (cp *ControlPlane) Shutdown() (model.CommandResponse, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	rt := cp.rt.Load()
	if rt != nil {
		grace := time.Duration(cp.cfg.Trading.ShutdownGraceSeconds) * time.Second
		if grace <= 0 {
			grace = 5 * time.Second
		}

		rt.cancel()
		select {
		case <-rt.orch.Done():
		case <-time.After(grace):
			log.Fatalf("trading loop failed to drain within %s", grace)
		}
		cp.rt.Store(nil)
	}

	if err := RemoveHandle(cp.cfg.Server.StateDir); err != nil {
		log.Warnf("failed to remove discovery handle: %v", err)
	}

	log.Info("control plane shut down")
	return model.CommandResponse{Success: true, Message: "daemon shutting down"}, nil
}

func (cp *ControlPlane) publishLifecycle(eventType, strategyID string, extra map[string]interface{}) {
	data := map[string]interface{}{"strategy_id": strategyID}
	for k, v := range extra {
		data[k] = v
	}
	cp.bus.Publish(event.Event{Type: eventType, Data: data})
}

// generateStrategyID 客户端没给 id 时按 {策略}_{标的}_{时间} 生成
func generateStrategyID(strategy, symbol string) string {
	ts := time.Now().Format("20060102_150405")
	if symbol == "" {
		return fmt.Sprintf("%s_%s", strategy, ts)
	}
	return fmt.Sprintf("%s_%s_%s", strategy, strings.ToUpper(symbol), ts)
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}
