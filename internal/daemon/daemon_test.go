package daemon

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tradepool.com/internal/config"
	"tradepool.com/internal/domain"
	"tradepool.com/internal/event"
	"tradepool.com/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Host:     "127.0.0.1",
			Port:     0,
			StateDir: t.TempDir(),
		},
		Trading: config.TradingConfig{
			Enabled:              false,
			StartingCash:         100000,
			Granularity:          "1s",
			DurationMinutes:      1,
			ShutdownGraceSeconds: 5,
		},
		Feed: config.FeedConfig{Source: "demo", Seed: 42},
	}
}

func newControlPlane(t *testing.T) *ControlPlane {
	t.Helper()
	return New(testConfig(t), event.NewBus(64))
}

func shutdownQuietly(t *testing.T, cp *ControlPlane) {
	t.Helper()
	if _, err := cp.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestDeployBootsSystem(t *testing.T) {
	cp := newControlPlane(t)
	defer shutdownQuietly(t, cp)

	resp, err := cp.Deploy(model.DeployRequest{
		DeploySpec: model.DeploySpec{Strategy: "sma", Allocation: 0.5},
		Symbols:    []string{"AAPL"},
	})
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("deploy rejected: %s", resp.Error)
	}
	if !strings.HasPrefix(resp.StrategyID, "sma_") {
		t.Fatalf("generated id should start with strategy name, got %s", resp.StrategyID)
	}

	status := cp.Status()
	if !status.DaemonRunning || !status.SystemRunning {
		t.Fatalf("system should be running after first deploy: %+v", status)
	}
	if len(status.Strategies) != 1 {
		t.Fatalf("expected 1 strategy in status, got %d", len(status.Strategies))
	}
	if status.Granularity != "1s" {
		t.Fatalf("expected granularity 1s, got %s", status.Granularity)
	}
}

func TestDeployValidation(t *testing.T) {
	cp := newControlPlane(t)

	cases := []model.DeployRequest{
		{DeploySpec: model.DeploySpec{Strategy: "", Allocation: 0.5}},
		{DeploySpec: model.DeploySpec{Strategy: "sma", Allocation: 0}},
		{DeploySpec: model.DeploySpec{Strategy: "sma", Allocation: 1.5}},
		{DeploySpec: model.DeploySpec{Strategy: "no-such-adapter", Allocation: 0.5}},
		// 没有任何标的无法启动系统
		{DeploySpec: model.DeploySpec{Strategy: "sma", Allocation: 0.5}},
	}
	for i, req := range cases {
		_, err := cp.Deploy(req)
		var appErr *domain.AppError
		if !errors.As(err, &appErr) || appErr.Code != 400 {
			t.Fatalf("case %d: expected bad request, got %v", i, err)
		}
	}

	if rt := cp.rt.Load(); rt != nil {
		t.Fatalf("rejected deploys must not boot the system")
	}
}

func TestLifecycleRequiresRunningSystem(t *testing.T) {
	cp := newControlPlane(t)

	for name, op := range map[string]func(string) (model.CommandResponse, error){
		"pause":    cp.Pause,
		"resume":   cp.Resume,
		"undeploy": cp.Undeploy,
	} {
		_, err := op("anything")
		var appErr *domain.AppError
		if !errors.As(err, &appErr) || appErr.Code != 503 {
			t.Fatalf("%s on idle daemon: expected 503, got %v", name, err)
		}
	}

	_, err := cp.Rebalance(map[string]float64{"x": 0.5})
	var appErr *domain.AppError
	if !errors.As(err, &appErr) || appErr.Code != 503 {
		t.Fatalf("rebalance on idle daemon: expected 503, got %v", err)
	}
}

func TestLifecycleRoundTrip(t *testing.T) {
	cp := newControlPlane(t)
	defer shutdownQuietly(t, cp)

	resp, err := cp.Deploy(model.DeployRequest{
		DeploySpec: model.DeploySpec{ID: "s1", Strategy: "sma", Allocation: 0.5},
		Symbols:    []string{"AAPL"},
	})
	if err != nil || !resp.Success {
		t.Fatalf("deploy failed: %v %+v", err, resp)
	}

	// 未知策略 404
	_, err = cp.Pause("ghost")
	var appErr *domain.AppError
	if !errors.As(err, &appErr) || appErr.Code != 404 {
		t.Fatalf("expected 404 for unknown strategy, got %v", err)
	}

	if resp, _ := cp.Pause("s1"); !resp.Success {
		t.Fatalf("pause failed: %s", resp.Error)
	}
	// 重复暂停是业务拒绝，不是传输错误
	if resp, err := cp.Pause("s1"); err != nil || resp.Success {
		t.Fatalf("double pause should be a business rejection, got %v %+v", err, resp)
	}
	if resp, _ := cp.Resume("s1"); !resp.Success {
		t.Fatalf("resume failed: %s", resp.Error)
	}

	if resp, _ := cp.Rebalance(map[string]float64{"s1": 0.8}); !resp.Success {
		t.Fatalf("rebalance failed: %s", resp.Error)
	}

	if resp, _ := cp.Undeploy("s1"); !resp.Success {
		t.Fatalf("undeploy failed: %s", resp.Error)
	}
	if n := len(cp.Status().Strategies); n != 0 {
		t.Fatalf("expected empty pool after undeploy, got %d", n)
	}
}

// 热插的标的必须在会话交易范围内
func TestHotSwapSymbolOutsideSession(t *testing.T) {
	cp := newControlPlane(t)
	defer shutdownQuietly(t, cp)

	cp.Deploy(model.DeployRequest{
		DeploySpec: model.DeploySpec{ID: "s1", Strategy: "sma", Allocation: 0.3},
		Symbols:    []string{"AAPL"},
	})

	resp, err := cp.Deploy(model.DeployRequest{
		DeploySpec: model.DeploySpec{ID: "s2", Strategy: "sma", Allocation: 0.3, Symbol: "TSLA"},
	})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if resp.Success {
		t.Fatalf("deploy for untradable symbol should be rejected")
	}
	if !strings.Contains(resp.Error, "TSLA") {
		t.Fatalf("rejection should name the symbol, got: %s", resp.Error)
	}
}

// 交易循环已经停了（到时长或被取消）就不能再热插：
// 策略会占住资金却永远不被调度
func TestDeployRejectedAfterLoopStopped(t *testing.T) {
	cp := newControlPlane(t)
	defer shutdownQuietly(t, cp)

	resp, err := cp.Deploy(model.DeployRequest{
		DeploySpec: model.DeploySpec{ID: "s1", Strategy: "sma", Allocation: 0.5},
		Symbols:    []string{"AAPL"},
	})
	if err != nil || !resp.Success {
		t.Fatalf("deploy failed: %v %+v", err, resp)
	}

	rt := cp.rt.Load()
	rt.cancel()
	select {
	case <-rt.orch.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop after cancel")
	}

	_, err = cp.Deploy(model.DeployRequest{
		DeploySpec: model.DeploySpec{ID: "s2", Strategy: "sma", Allocation: 0.3},
	})
	var appErr *domain.AppError
	if !errors.As(err, &appErr) || appErr.Code != 503 {
		t.Fatalf("deploy into stopped loop: expected 503, got %v", err)
	}
}

// 并发部署抢最后一份资金：恰好一个成功
func TestConcurrentDeployExactlyOneWins(t *testing.T) {
	cp := newControlPlane(t)
	defer shutdownQuietly(t, cp)

	resp, err := cp.Deploy(model.DeployRequest{
		DeploySpec: model.DeploySpec{ID: "base", Strategy: "sma", Allocation: 0.5},
		Symbols:    []string{"AAPL"},
	})
	if err != nil || !resp.Success {
		t.Fatalf("base deploy failed: %v %+v", err, resp)
	}

	const n = 8
	var wg sync.WaitGroup
	winners := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := cp.Deploy(model.DeployRequest{
				DeploySpec: model.DeploySpec{
					ID:         fmt.Sprintf("racer-%d", i),
					Strategy:   "sma",
					Allocation: 0.5,
				},
			})
			if err == nil && resp.Success {
				winners <- resp.StrategyID
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winning deploy, got %d", count)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	cp := newControlPlane(t)

	cp.Deploy(model.DeployRequest{
		DeploySpec: model.DeploySpec{ID: "s1", Strategy: "sma", Allocation: 0.5},
		Symbols:    []string{"AAPL"},
	})

	start := time.Now()
	if resp, err := cp.Shutdown(); err != nil || !resp.Success {
		t.Fatalf("shutdown failed: %v %+v", err, resp)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("shutdown took too long: %s", elapsed)
	}

	status := cp.Status()
	if status.SystemRunning {
		t.Fatalf("system should be stopped after shutdown")
	}

	// 再关一次也成功
	if resp, err := cp.Shutdown(); err != nil || !resp.Success {
		t.Fatalf("second shutdown failed: %v %+v", err, resp)
	}
}

func TestGenerateStrategyID(t *testing.T) {
	id := generateStrategyID("sma", "aapl")
	if !strings.HasPrefix(id, "sma_AAPL_") {
		t.Fatalf("expected sma_AAPL_ prefix, got %s", id)
	}
	if id2 := generateStrategyID("momentum", ""); !strings.HasPrefix(id2, "momentum_") {
		t.Fatalf("expected momentum_ prefix, got %s", id2)
	}
}
