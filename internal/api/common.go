package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"tradepool.com/internal/domain"
	"tradepool.com/internal/model"
)

// sendResponse 把命令结果写成统一的 {success, message|error} 响应。
// 业务性拒绝（资金不足、重复部署等）是正常结果，HTTP 状态保持 200。
func sendResponse(c *fiber.Ctx, resp model.CommandResponse) error {
	return c.Status(fiber.StatusOK).JSON(resp)
}

// handleError 把应用错误映射成对应的 HTTP 状态码
func handleError(c *fiber.Ctx, err error) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Code).JSON(model.CommandResponse{
			Success: false,
			Error:   appErr.Message,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(model.CommandResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// badRequest 请求体解析失败时的统一响应
func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(model.CommandResponse{
		Success: false,
		Error:   msg,
	})
}
