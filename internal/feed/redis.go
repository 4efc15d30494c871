package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tradepool.com/internal/domain"
	"tradepool.com/internal/model"
)

var _ domain.DataFeed = (*RedisFeed)(nil)

// Redis 键约定：外部采集进程写入，本进程按需读取
const (
	// RedisKeyLatest 最新行情 Hash：field = symbol, value = JSON Bar
	RedisKeyLatest = "market:latest"
	// RedisKeyHistoryPrefix 历史 K 线 List 前缀（LPUSH 最新在前）
	RedisKeyHistoryPrefix = "market:history:"
)

// RedisFeed 从 Redis 读取外部采集进程发布的行情。
// 采集侧约定：每根新 K 线 HSET 进 market:latest，同时 LPUSH 进
// market:history:<symbol>（定期 LTRIM 控制长度）。
type RedisFeed struct {
	rdb *redis.Client

	// lastSeen 各品种最近消费过的 K 线时间戳，避免重复推进
	lastSeen map[string]int64
}

// NewRedisFeed 创建 Redis 行情源
func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{
		rdb:      rdb,
		lastSeen: make(map[string]int64),
	}
}

// Historical 读取最近 lookback 根历史 K 线（时间升序返回）。
// 采集侧积累不足时返回现有的部分，不视为错误。
func (f *RedisFeed) Historical(ctx context.Context, symbol string, lookback int) ([]model.Bar, error) {
	vals, err := f.rdb.LRange(ctx, RedisKeyHistoryPrefix+symbol, 0, int64(lookback-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history for %s: %w", symbol, err)
	}

	// List 里最新在前，倒序还原成时间升序
	bars := make([]model.Bar, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var bar model.Bar
		if err := json.Unmarshal([]byte(vals[i]), &bar); err != nil {
			return nil, fmt.Errorf("malformed bar in history for %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}

	if len(bars) > 0 {
		f.lastSeen[symbol] = bars[len(bars)-1].Timestamp.Unix()
	}
	return bars, nil
}

// Latest 读取最新一根 K 线；没有新数据时返回 (nil, nil)
func (f *RedisFeed) Latest(ctx context.Context, symbol string) (*model.Bar, error) {
	val, err := f.rdb.HGet(ctx, RedisKeyLatest, symbol).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest bar for %s: %w", symbol, err)
	}

	var bar model.Bar
	if err := json.Unmarshal([]byte(val), &bar); err != nil {
		return nil, fmt.Errorf("malformed latest bar for %s: %w", symbol, err)
	}

	// 同一根 K 线只消费一次
	ts := bar.Timestamp.Unix()
	if ts <= f.lastSeen[symbol] {
		return nil, nil
	}
	f.lastSeen[symbol] = ts

	return &bar, nil
}
