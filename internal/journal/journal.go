package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tradepool.com/internal/config"
	"tradepool.com/internal/event"
	"tradepool.com/internal/model"
)

var log = logrus.WithField("module", "journal")

// ===========================
// 持久化模型
// ===========================

// TradeRecord 一笔已执行交易的落库记录
type TradeRecord struct {
	ID         uint      `gorm:"primaryKey"`
	StrategyID string    `gorm:"index;size:128"`
	Symbol     string    `gorm:"index;size:32"`
	Side       string    `gorm:"size:8"`
	SignalType string    `gorm:"size:32"`
	Price      float64
	Amount     float64
	ExecutedAt time.Time
	CreatedAt  time.Time
}

// StrategyEvent 策略生命周期事件的落库记录
type StrategyEvent struct {
	ID         uint      `gorm:"primaryKey"`
	StrategyID string    `gorm:"index;size:128"`
	Event      string    `gorm:"size:64"`
	Detail     string    `gorm:"size:512"`
	CreatedAt  time.Time
}

// ===========================
// 交易流水日志
// ===========================

// Journal 订阅事件总线，把成交和策略生命周期事件写进数据库。
// 写失败只记日志，绝不影响交易主循环。
type Journal struct {
	db *gorm.DB
}

// Open 按配置打开流水库并完成建表
func Open(cfg config.JournalConfig) (*Journal, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.AutoMigrate(&TradeRecord{}, &StrategyEvent{}); err != nil {
		log.Warnf("journal AutoMigrate failed: %v", err)
	}

	log.Infof("journal opened: driver=%s", driverName(cfg.Driver))
	return &Journal{db: db}, nil
}

func driverName(driver string) string {
	if driver == "" {
		return "sqlite"
	}
	return driver
}

// Attach 把流水日志挂到事件总线上
func (j *Journal) Attach(bus *event.Bus) {
	bus.Subscribe(event.EventTradeExecuted, j.onTradeExecuted)

	for _, evt := range []string{
		event.EventStrategyDeployed,
		event.EventStrategyPaused,
		event.EventStrategyResumed,
		event.EventStrategyUndeployed,
		event.EventPortfolioRebalanced,
	} {
		bus.Subscribe(evt, j.onStrategyEvent)
	}
}

func (j *Journal) onTradeExecuted(ctx context.Context, evt event.Event) error {
	data, ok := evt.Data.(map[string]interface{})
	if !ok {
		return nil
	}
	rec := TradeRecord{
		StrategyID: asString(data["strategy_id"]),
		Symbol:     asString(data["symbol"]),
		Side:       asString(data["side"]),
		SignalType: asString(data["signal_type"]),
		Price:      asFloat(data["price"]),
		Amount:     asFloat(data["amount"]),
		ExecutedAt: evt.Timestamp,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Errorf("failed to journal trade for %s: %v", rec.StrategyID, err)
	}
	return nil
}

func (j *Journal) onStrategyEvent(ctx context.Context, evt event.Event) error {
	rec := StrategyEvent{Event: evt.Type}
	switch data := evt.Data.(type) {
	case map[string]interface{}:
		rec.StrategyID = asString(data["strategy_id"])
		rec.Detail = fmt.Sprintf("%v", data)
	case model.StrategyInfo:
		rec.StrategyID = data.ID
		rec.Detail = fmt.Sprintf("strategy=%s allocation=%.2f symbol=%s", data.Strategy, data.Allocation, data.Symbol)
	default:
		rec.Detail = fmt.Sprintf("%v", evt.Data)
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Errorf("failed to journal event %s: %v", evt.Type, err)
	}
	return nil
}

// Trades 返回最近 limit 条成交流水，limit<=0 表示全部
func (j *Journal) Trades(limit int) ([]TradeRecord, error) {
	var records []TradeRecord
	q := j.db.Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load trade records: %w", err)
	}
	return records, nil
}

// Close 关闭底层连接
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
