package api

import (
	"context"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"tradepool.com/internal/event"
)

var wsLog = logrus.WithField("module", "ws")

// StreamMessage 推给客户端的事件帧
type StreamMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// WsHub 管理事件流的 WebSocket 连接。
// 每个连接一条带缓冲的发送通道和一个专属写协程，
// 慢客户端只会丢自己的消息，绝不阻塞交易循环。
type WsHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan StreamMessage
}

// NewWsHub 创建连接管理器
func NewWsHub() *WsHub {
	return &WsHub{clients: make(map[*websocket.Conn]chan StreamMessage)}
}

// Attach 订阅需要对外广播的总线事件
func (hub *WsHub) Attach(bus *event.Bus) {
	for _, evt := range []string{
		event.EventSignalGenerated,
		event.EventTradeExecuted,
		event.EventTradeRejected,
		event.EventStrategyDeployed,
		event.EventStrategyPaused,
		event.EventStrategyResumed,
		event.EventStrategyUndeployed,
		event.EventPortfolioRebalanced,
		event.EventSystemStarted,
		event.EventSystemDraining,
		event.EventSystemStopped,
	} {
		bus.Subscribe(evt, hub.onEvent)
	}
}

func (hub *WsHub) onEvent(ctx context.Context, evt event.Event) error {
	hub.Broadcast(StreamMessage{
		Type:      evt.Type,
		Data:      evt.Data,
		Timestamp: evt.Timestamp.UnixMilli(),
	})
	return nil
}

// Broadcast 把消息推给所有在线客户端，缓冲满的客户端丢弃本条
func (hub *WsHub) Broadcast(msg StreamMessage) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, ch := range hub.clients {
		select {
		case ch <- msg:
		default:
			// 缓冲已满：只丢这个慢客户端的消息
		}
	}
}

// ClientCount 返回在线连接数
func (hub *WsHub) ClientCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

func (hub *WsHub) register(conn *websocket.Conn) chan StreamMessage {
	sendCh := make(chan StreamMessage, 256)

	hub.mu.Lock()
	hub.clients[conn] = sendCh
	hub.mu.Unlock()

	go func() {
		for msg := range sendCh {
			if err := conn.WriteJSON(msg); err != nil {
				wsLog.Warnf("ws write failed, closing connection: %v", err)
				conn.Close()
				return
			}
		}
	}()
	return sendCh
}

func (hub *WsHub) unregister(conn *websocket.Conn) {
	hub.mu.Lock()
	if ch, ok := hub.clients[conn]; ok {
		delete(hub.clients, conn)
		close(ch)
	}
	hub.mu.Unlock()
}

// RegisterRoutes 注册 /ws 端点
func (hub *WsHub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		wsLog.Info("new event stream client connected")
		hub.register(c)
		defer func() {
			hub.unregister(c)
			wsLog.Info("event stream client disconnected")
		}()

		// 读循环只用来感知断开，客户端不需要上行任何内容
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					wsLog.Warnf("ws read error: %v", err)
				}
				break
			}
		}
	}))
}
