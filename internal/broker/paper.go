package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tradepool.com/internal/domain"
	"tradepool.com/internal/model"
)

var log = logrus.WithField("module", "broker")

var _ domain.Broker = (*PaperBroker)(nil)

// Fill 一笔模拟成交记录
type Fill struct {
	OrderID    string
	StrategyID string
	Symbol     string
	Side       string // "buy" / "sell"
	Price      float64
	Amount     float64
	ExecutedAt time.Time
}

// PaperBroker 模拟盘经纪商：所有信号按信号价立即全额成交。
// 账户价值固定为初始资金（模拟盘不做盯市估值），
// 作为资金台账换算分配额度的基准。
type PaperBroker struct {
	startingCash float64

	mu    sync.Mutex
	fills []Fill
}

// NewPaper 创建模拟盘经纪商
func NewPaper(startingCash float64) *PaperBroker {
	return &PaperBroker{startingCash: startingCash}
}

// Execute 按 amount 金额模拟执行一个信号，始终全额成交
func (b *PaperBroker) Execute(ctx context.Context, symbol string, sig model.Signal, amount float64) (bool, error) {
	if sig.Type == model.SignalHold {
		return false, nil
	}
	if sig.Price <= 0 {
		return false, fmt.Errorf("signal for %s has no price", symbol)
	}
	if amount <= 0 {
		return false, fmt.Errorf("invalid order amount %.2f for %s", amount, symbol)
	}

	side := "buy"
	if sig.Type.IsSell() {
		side = "sell"
	}

	fill := Fill{
		OrderID:    uuid.NewString(),
		StrategyID: sig.StrategyID,
		Symbol:     symbol,
		Side:       side,
		Price:      sig.Price,
		Amount:     amount,
		ExecutedAt: time.Now(),
	}

	b.mu.Lock()
	b.fills = append(b.fills, fill)
	b.mu.Unlock()

	log.Infof("paper fill %s: %s %s %.2f @ %.2f [%s]", fill.OrderID[:8], side, symbol, amount, sig.Price, sig.StrategyID)
	return true, nil
}

// AccountValue 返回账户总价值
func (b *PaperBroker) AccountValue(ctx context.Context) (float64, error) {
	return b.startingCash, nil
}

// Fills 返回成交历史的副本
func (b *PaperBroker) Fills() []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

// FillCount 返回成交笔数
func (b *PaperBroker) FillCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fills)
}
