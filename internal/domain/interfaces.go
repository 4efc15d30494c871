package domain

import (
	"context"

	"tradepool.com/internal/model"
)

// ===========================
// 策略适配器接口
// ===========================

// StrategyAdapter 把任意一种策略定义统一成信号提取接口。
// 业务性的"不交易"一律返回 HOLD 信号，而不是 error；
// error（以及 panic）在策略池边界被捕获并降级为 HOLD。
type StrategyAdapter interface {
	// Lookback 返回产生有意义信号所需的最少 K 线数量
	Lookback() int
	// ExtractSignal 基于历史 K 线提取一个交易信号
	ExtractSignal(bars []model.Bar) (model.Signal, error)
}

// ===========================
// 行情数据接口
// ===========================

// DataFeed 定义按需拉取行情的数据源
type DataFeed interface {
	// Historical 拉取最近 lookback 根历史 K 线（可能不足量）
	Historical(ctx context.Context, symbol string, lookback int) ([]model.Bar, error)
	// Latest 拉取最新一根 K 线；没有新数据时返回 (nil, nil)
	Latest(ctx context.Context, symbol string) (*model.Bar, error)
}

// ===========================
// 经纪商接口
// ===========================

// Broker 执行交易信号。执行失败只记录日志，核心不做自动重试。
type Broker interface {
	// Execute 按 amount 金额执行一个信号，返回是否成交
	Execute(ctx context.Context, symbol string, sig model.Signal, amount float64) (bool, error)
	// AccountValue 返回当前账户总价值
	AccountValue(ctx context.Context) (float64, error)
}
