package api

import (
	"github.com/gofiber/fiber/v2"

	"tradepool.com/internal/daemon"
	"tradepool.com/internal/model"
)

// DaemonHandler 把控制面命令暴露成 HTTP 接口
type DaemonHandler struct {
	cp *ControlPlaneRef
}

// ControlPlaneRef 收拢处理器对控制面的依赖，便于测试注入
type ControlPlaneRef struct {
	*daemon.ControlPlane
	// OnShutdown 在停机命令受理后异步触发（关闭 fiber 服务）
	OnShutdown func()
}

// NewDaemonHandler 创建命令处理器
func NewDaemonHandler(cp *ControlPlaneRef) *DaemonHandler {
	return &DaemonHandler{cp: cp}
}

// Health 守护进程存活探测
// GET /health
func (h *DaemonHandler) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":  "ok",
		"message": "daemon is alive",
	})
}

// Status 返回只读的系统快照
// GET /status
func (h *DaemonHandler) Status(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.cp.Status())
}

// Deploy 首次部署或热插一个策略
// POST /deploy, POST /strategy/deploy
func (h *DaemonHandler) Deploy(c *fiber.Ctx) error {
	var req model.DeployRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := h.cp.Deploy(req)
	if err != nil {
		return handleError(c, err)
	}
	return sendResponse(c, resp)
}

// Pause 暂停策略
// POST /strategy/pause
func (h *DaemonHandler) Pause(c *fiber.Ctx) error {
	return h.lifecycle(c, h.cp.Pause)
}

// Resume 恢复策略
// POST /strategy/resume
func (h *DaemonHandler) Resume(c *fiber.Ctx) error {
	return h.lifecycle(c, h.cp.Resume)
}

// Undeploy 下线策略
// POST /strategy/undeploy
func (h *DaemonHandler) Undeploy(c *fiber.Ctx) error {
	return h.lifecycle(c, h.cp.Undeploy)
}

func (h *DaemonHandler) lifecycle(c *fiber.Ctx, op func(string) (model.CommandResponse, error)) error {
	var req struct {
		StrategyID string `json:"strategy_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := op(req.StrategyID)
	if err != nil {
		return handleError(c, err)
	}
	return sendResponse(c, resp)
}

// Rebalance 原子调整全部策略的资金分配
// POST /portfolio/rebalance
func (h *DaemonHandler) Rebalance(c *fiber.Ctx) error {
	var req struct {
		Allocations map[string]float64 `json:"allocations"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := h.cp.Rebalance(req.Allocations)
	if err != nil {
		return handleError(c, err)
	}
	return sendResponse(c, resp)
}

// Shutdown 优雅停机
// POST /shutdown
func (h *DaemonHandler) Shutdown(c *fiber.Ctx) error {
	resp, err := h.cp.Shutdown()
	if err != nil {
		return handleError(c, err)
	}
	if h.cp.OnShutdown != nil {
		go h.cp.OnShutdown()
	}
	return sendResponse(c, resp)
}
