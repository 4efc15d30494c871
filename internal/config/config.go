package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"

	"tradepool.com/pkg/logger"
)

type Config struct {
	Server  ServerConfig
	Trading TradingConfig
	Feed    FeedConfig
	Redis   RedisConfig
	Journal JournalConfig
	Log     logger.Config
}

type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	AppName  string `mapstructure:"app_name"`
	StateDir string `mapstructure:"state_dir"` // pid 文件等运行时状态目录
}

type TradingConfig struct {
	// Enabled 为 false 时只产信号不下单
	Enabled bool `mapstructure:"enabled"`
	// StartingCash 模拟盘的初始资金
	StartingCash float64 `mapstructure:"starting_cash"`
	// Granularity 行情粒度，如 "1m"、"5m"、"1h"
	Granularity string `mapstructure:"granularity"`
	// DurationMinutes 交易循环最长运行时间（分钟）
	DurationMinutes int `mapstructure:"duration_minutes"`
	// ShutdownGraceSeconds 停机时等待交易循环退出的宽限期（秒）
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

type FeedConfig struct {
	// Source 数据源类型: "demo" 或 "redis"
	Source string `mapstructure:"source"`
	// Volatility demo 数据源的随机波动幅度
	Volatility float64 `mapstructure:"volatility"`
	// Seed demo 数据源的随机种子（0 表示按时间取）
	Seed int64 `mapstructure:"seed"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // "sqlite" 或 "postgres"
	// DSN: sqlite 为文件路径，postgres 为标准 DSN
	DSN string `mapstructure:"dsn"`
}

func LoadConfig() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")        // 在当前目录中查找配置
	viper.AddConfigPath("./config") // 在 config 目录中查找配置

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Error reading config file, %s", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	return &config
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8400)
	viper.SetDefault("server.app_name", "tradepoold")
	viper.SetDefault("server.state_dir", ".tradepool")

	viper.SetDefault("trading.enabled", true)
	viper.SetDefault("trading.starting_cash", 100000.0)
	viper.SetDefault("trading.granularity", "1m")
	viper.SetDefault("trading.duration_minutes", 60)
	viper.SetDefault("trading.shutdown_grace_seconds", 5)

	viper.SetDefault("feed.source", "demo")
	viper.SetDefault("feed.volatility", 0.01)

	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("journal.enabled", false)
	viper.SetDefault("journal.driver", "sqlite")
	viper.SetDefault("journal.dsn", ".tradepool/journal.db")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output_file", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 7)
	viper.SetDefault("log.compress", true)
}
