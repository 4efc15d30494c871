package event

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "event")

// 事件类型常量
const (
	// 信号事件
	EventSignalGenerated = "signal.generated"

	// 成交事件
	EventTradeExecuted = "trade.executed"
	EventTradeRejected = "trade.rejected"

	// 策略生命周期事件
	EventStrategyDeployed    = "strategy.deployed"
	EventStrategyPaused      = "strategy.paused"
	EventStrategyResumed     = "strategy.resumed"
	EventStrategyUndeployed  = "strategy.undeployed"
	EventPortfolioRebalanced = "portfolio.rebalanced"

	// 系统生命周期事件
	EventSystemStarted  = "system.started"
	EventSystemDraining = "system.draining"
	EventSystemStopped  = "system.stopped"
)

// Event 表示系统中的一个事件
type Event struct {
	Type      string      `json:"type"`      // 事件类型
	Data      interface{} `json:"data"`      // 事件数据
	Timestamp time.Time   `json:"timestamp"` // 时间戳
}

// Handler 事件处理函数
type Handler func(ctx context.Context, event Event) error

// Bus 事件总线，用于解耦交易循环和各个消费者（WebSocket 推送、流水记录）
type Bus struct {
	handlers map[string][]Handler
	mu       sync.RWMutex

	// 异步处理的缓冲通道
	eventChan chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewBus 创建新的事件总线
func NewBus(bufferSize int) *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	bus := &Bus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan Event, bufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	// 启动事件处理协程
	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe 订阅事件类型
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish 发布事件（异步）。通道满时丢弃并告警，绝不阻塞交易循环。
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventChan <- event:
	default:
		log.Warnf("event channel full, dropping event: %s", event.Type)
	}
}

// PublishSync 同步发布事件（立即处理）
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return b.dispatch(ctx, event)
}

// processEvents 处理事件的后台协程
func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventChan:
			if err := b.dispatch(b.ctx, event); err != nil {
				log.Errorf("error processing event %s: %v", event.Type, err)
			}
		case <-b.ctx.Done():
			return
		}
	}
}

// dispatch 分发事件给所有订阅者
func (b *Bus) dispatch(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		// 没有订阅者，这是正常的
		return nil
	}

	// 并发执行所有处理器
	var wg sync.WaitGroup
	errChan := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h(ctx, event); err != nil {
				errChan <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		if err != nil {
			log.Errorf("handler error for event %s: %v", event.Type, err)
		}
	}

	return nil
}

// Shutdown 关闭事件总线
func (b *Bus) Shutdown() {
	b.cancel()
	b.wg.Wait()
}

// SubscriberCount 获取某个事件类型的订阅者数量（用于测试）
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
