package feed

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"tradepool.com/internal/config"
	"tradepool.com/internal/domain"
	"tradepool.com/internal/model"
)

// NewFromConfig 按配置选择数据源实现
func NewFromConfig(cfg *config.Config, gran model.Granularity) (domain.DataFeed, error) {
	switch cfg.Feed.Source {
	case "", "demo":
		return NewDemoFeed(DemoConfig{
			Volatility:  cfg.Feed.Volatility,
			Seed:        cfg.Feed.Seed,
			Granularity: gran,
		}), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisFeed(rdb), nil
	default:
		return nil, fmt.Errorf("unknown feed source %q (supported: demo, redis)", cfg.Feed.Source)
	}
}
