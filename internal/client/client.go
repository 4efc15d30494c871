package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"tradepool.com/internal/daemon"
	"tradepool.com/internal/model"
)

var log = logrus.WithField("module", "client")

// Client 守护进程命令协议的 HTTP 客户端
type Client struct {
	http *resty.Client
}

// New 创建指向 baseURL 的客户端
func New(baseURL string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http}
}

// NewFromHandle 从服务发现句柄创建客户端
func NewFromHandle(h *daemon.Handle) *Client {
	return New(fmt.Sprintf("http://%s", h.Addr()))
}

// Health 探测守护进程是否存活
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("daemon health check failed: %s", resp.Status())
	}
	return nil
}

// Status 拉取系统状态快照
func (c *Client) Status(ctx context.Context) (*model.SystemStatus, error) {
	var status model.SystemStatus
	resp, err := c.http.R().SetContext(ctx).SetResult(&status).Get("/status")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status request failed: %s", resp.Status())
	}
	return &status, nil
}

// Deploy 部署一个策略
func (c *Client) Deploy(ctx context.Context, req model.DeployRequest) (*model.CommandResponse, error) {
	return c.command(ctx, "/deploy", req)
}

// Pause 暂停一个策略
func (c *Client) Pause(ctx context.Context, strategyID string) (*model.CommandResponse, error) {
	return c.command(ctx, "/strategy/pause", map[string]string{"strategy_id": strategyID})
}

// Resume 恢复一个策略
func (c *Client) Resume(ctx context.Context, strategyID string) (*model.CommandResponse, error) {
	return c.command(ctx, "/strategy/resume", map[string]string{"strategy_id": strategyID})
}

// Undeploy 下线一个策略
func (c *Client) Undeploy(ctx context.Context, strategyID string) (*model.CommandResponse, error) {
	return c.command(ctx, "/strategy/undeploy", map[string]string{"strategy_id": strategyID})
}

// Rebalance 调整全部策略的资金分配
func (c *Client) Rebalance(ctx context.Context, allocations map[string]float64) (*model.CommandResponse, error) {
	return c.command(ctx, "/portfolio/rebalance", map[string]interface{}{"allocations": allocations})
}

// Shutdown 请求守护进程优雅停机
func (c *Client) Shutdown(ctx context.Context) (*model.CommandResponse, error) {
	return c.command(ctx, "/shutdown", nil)
}

func (c *Client) command(ctx context.Context, path string, body interface{}) (*model.CommandResponse, error) {
	var result model.CommandResponse
	r := c.http.R().SetContext(ctx).SetResult(&result).SetError(&result)
	if body != nil {
		r.SetBody(body)
	}
	resp, err := r.Post(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() && result.Error == "" {
		return nil, fmt.Errorf("command %s failed: %s", path, resp.Status())
	}
	return &result, nil
}

// ===========================
// 守护进程发现与拉起
// ===========================

// EnsureDaemon 返回一个可用的守护进程客户端。
// 句柄存在且健康就直接连接；否则拉起守护进程二进制，
// 在有限的启动等待后重试一次。
func EnsureDaemon(ctx context.Context, stateDir, daemonBin string, startupWait time.Duration) (*Client, error) {
	if h, err := daemon.ReadHandle(stateDir); err == nil && h != nil {
		c := NewFromHandle(h)
		if err := c.Health(ctx); err == nil {
			return c, nil
		}
		log.Warnf("daemon handle found but daemon unreachable, respawning")
	}

	if err := spawnDaemon(daemonBin); err != nil {
		return nil, fmt.Errorf("failed to spawn daemon: %w", err)
	}

	if startupWait <= 0 {
		startupWait = 3 * time.Second
	}
	deadline := time.Now().Add(startupWait)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		h, err := daemon.ReadHandle(stateDir)
		if err != nil || h == nil {
			continue
		}
		c := NewFromHandle(h)
		if err := c.Health(ctx); err == nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("daemon did not become healthy within %s", startupWait)
}

// spawnDaemon 以独立进程拉起守护进程
func spawnDaemon(daemonBin string) error {
	cmd := exec.Command(daemonBin)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	log.Infof("spawned daemon %s (pid %d)", daemonBin, cmd.Process.Pid)
	// 不等子进程，让它独立存活
	go func() { _ = cmd.Wait() }()
	return nil
}

// DefaultDaemonBin 优先取当前可执行文件旁边的守护进程，
// 找不到就退回 PATH 查找。
func DefaultDaemonBin() string {
	exe, err := os.Executable()
	if err != nil {
		return "tradepoold"
	}
	sibling := filepath.Join(filepath.Dir(exe), "tradepoold")
	if _, err := os.Stat(sibling); err == nil {
		return sibling
	}
	return "tradepoold"
}
