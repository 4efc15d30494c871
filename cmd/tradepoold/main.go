package main

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"tradepool.com/internal/api"
	"tradepool.com/internal/config"
	"tradepool.com/internal/daemon"
	"tradepool.com/internal/event"
	"tradepool.com/internal/journal"
	"tradepool.com/pkg/logger"
)

func main() {
	// 1. 加载配置与日志
	cfg := config.LoadConfig()
	if err := logger.Init(cfg.Log); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	log := logrus.WithField("module", "main")

	// 2. 事件总线
	bus := event.NewBus(1024)
	defer bus.Shutdown()

	// 3. 可选的交易流水库
	if cfg.Journal.Enabled {
		jrnl, err := journal.Open(cfg.Journal)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer jrnl.Close()
		jrnl.Attach(bus)
	}

	// 4. 控制面核心
	cp := daemon.New(cfg, bus)

	// 5. 设置 Fiber 服务器
	cpRef := &api.ControlPlaneRef{ControlPlane: cp}
	app := api.NewServer(cfg, cpRef, bus)
	cpRef.OnShutdown = func() {
		// 给响应留出落地时间再关监听
		time.Sleep(200 * time.Millisecond)
		if err := app.Shutdown(); err != nil {
			log.Errorf("Server shutdown failed: %v", err)
		}
	}

	// 6. 先绑定端口，成功后再写服务发现句柄
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to bind %s: %v", addr, err)
	}
	if err := daemon.WriteHandle(cfg.Server.StateDir, cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("Failed to write discovery handle: %v", err)
	}
	defer daemon.RemoveHandle(cfg.Server.StateDir)

	log.Infof("Daemon listening on %s", addr)
	if err := app.Listener(ln); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
