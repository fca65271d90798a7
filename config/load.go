package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fairmm-go/infrastructure/logger"
	"fairmm-go/market"
	"fairmm-go/order"
	"fairmm-go/sim"
	"fairmm-go/strategy"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string          `yaml:"env"`
	Strategy strategy.Config `yaml:"strategy"`
	Market   MarketConfig    `yaml:"market"`
	Feed     FeedConfig      `yaml:"feed"`
	Gateway  GatewayConfig   `yaml:"gateway"`
	Paper    PaperConfig     `yaml:"paper"`
	Runner   RunnerConfig    `yaml:"runner"`
	Store    StoreConfig     `yaml:"store"`
	Log      logger.Config   `yaml:"log"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Alert    AlertConfig     `yaml:"alert"`
}

// MarketConfig 交易对精度与本策略身份。
type MarketConfig struct {
	Symbol        string `yaml:"symbol"`
	TickSize      string `yaml:"tickSize"` // 十进制字符串，避免浮点误差
	MaxPriceTicks uint64 `yaml:"maxPriceTicks"`
	Trader        string `yaml:"trader"`
	SizeStep      uint64 `yaml:"sizeStep"`
	MinSize       uint64 `yaml:"minSize"`
	MaxSize       uint64 `yaml:"maxSize"`
}

// Feed kinds.
const (
	FeedCoinbase = "coinbase"
	FeedWS       = "ws"
	FeedRedis    = "redis"
	FeedStatic   = "static"
)

type FeedConfig struct {
	Kind   string        `yaml:"kind"`
	Ticker string        `yaml:"ticker"` // 如 SOL-USD
	URL    string        `yaml:"url"`    // 为空时使用各 feed 的默认地址
	MaxAge time.Duration `yaml:"maxAge"` // ws 行情最长可接受的延迟
	Static string        `yaml:"static"` // kind=static 时的固定价格
	Redis  RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	Field    string `yaml:"field"`
}

type GatewayConfig struct {
	APIKey    string        `yaml:"apiKey"`
	APISecret string        `yaml:"apiSecret"`
	BaseURL   string        `yaml:"baseURL"`
	RateLimit float64       `yaml:"rateLimit"` // 每秒请求数，0 表示不限
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PaperConfig paper 交易所的初始状态（runner.paper=true 时使用）。
type PaperConfig struct {
	Funds  uint64      `yaml:"funds"`
	Levels []sim.Level `yaml:"levels"`
}

type RunnerConfig struct {
	Refresh      time.Duration `yaml:"refresh"`      // 驱动周期
	Schedule     string        `yaml:"schedule"`     // 可选 cron 表达式，优先于 refresh
	CancelOnExit bool          `yaml:"cancelOnExit"` // 退出时撤掉本策略全部挂单
	Paper        bool          `yaml:"paper"`
	Strict       bool          `yaml:"strict"`    // 单边多笔挂单视为错误
	HaltAfter    int           `yaml:"haltAfter"` // 连续失败多少轮后暂停，0 表示不暂停
	HaltFor      time.Duration `yaml:"haltFor"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

type AlertConfig struct {
	Throttle time.Duration `yaml:"throttle"`
}

// Default returns the configuration applied before the YAML file.
func Default() AppConfig {
	return AppConfig{
		Env:      "dev",
		Strategy: strategy.Config{EdgeBps: 50, QuoteSize: 1, Improvement: strategy.Ignore()},
		Feed:     FeedConfig{Kind: FeedCoinbase, MaxAge: 10 * time.Second},
		Gateway:  GatewayConfig{RateLimit: 10, Burst: 5, Timeout: 10 * time.Second},
		Runner:   RunnerConfig{Refresh: 5 * time.Second},
		Store:    StoreConfig{Path: "fairmm.db"},
		Log:      logger.DefaultConfig(),
		Metrics:  MetricsConfig{Addr: ":9101", Namespace: "mm"},
		Alert:    AlertConfig{Throttle: 5 * time.Minute},
	}
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// Read 读取配置文件并应用环境变量覆盖，不做校验（调用方可继续修改后再 Validate）。
func Read(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	ApplyEnv(&cfg)
	return cfg, nil
}

// ApplyEnv 用环境变量覆盖敏感字段。
func ApplyEnv(cfg *AppConfig) {
	if v := os.Getenv("MM_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("MM_GATEWAY_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if v := os.Getenv("MM_REDIS_PASSWORD"); v != "" {
		cfg.Feed.Redis.Password = v
	}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if _, err := cfg.MarketParams(); err != nil {
		return err
	}
	if cfg.Market.MaxSize > 0 && cfg.Market.MinSize > cfg.Market.MaxSize {
		return fmt.Errorf("market minSize %d > maxSize %d", cfg.Market.MinSize, cfg.Market.MaxSize)
	}
	switch cfg.Feed.Kind {
	case FeedCoinbase, FeedWS:
		if cfg.Feed.Ticker == "" {
			return fmt.Errorf("feed.ticker is required for %s feed", cfg.Feed.Kind)
		}
	case FeedRedis:
		if cfg.Feed.Redis.Addr == "" || cfg.Feed.Redis.Key == "" {
			return errors.New("feed.redis.addr/key is required")
		}
	case FeedStatic:
		p, err := decimal.NewFromString(cfg.Feed.Static)
		if err != nil || !p.IsPositive() {
			return fmt.Errorf("feed.static must be a positive decimal, got %q", cfg.Feed.Static)
		}
	default:
		return fmt.Errorf("unknown feed kind %q", cfg.Feed.Kind)
	}
	if !cfg.Runner.Paper {
		if cfg.Gateway.BaseURL == "" {
			return errors.New("gateway.baseURL is required")
		}
		if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" {
			return errors.New("gateway.apiKey/apiSecret is required (or env overrides)")
		}
	}
	if cfg.Gateway.RateLimit < 0 || cfg.Gateway.Burst < 0 {
		return errors.New("gateway rateLimit/burst must be >= 0")
	}
	if cfg.Runner.Refresh <= 0 && strings.TrimSpace(cfg.Runner.Schedule) == "" {
		return errors.New("runner.refresh must be > 0 (or set runner.schedule)")
	}
	if cfg.Runner.HaltAfter < 0 || cfg.Runner.HaltFor < 0 {
		return errors.New("runner.haltAfter/haltFor must be >= 0")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// MarketParams 解析交易对参数。
func (c AppConfig) MarketParams() (market.Params, error) {
	tick, err := decimal.NewFromString(strings.TrimSpace(c.Market.TickSize))
	if err != nil {
		return market.Params{}, fmt.Errorf("market.tickSize %q: %w", c.Market.TickSize, err)
	}
	p := market.Params{
		Symbol:        c.Market.Symbol,
		TickSize:      tick,
		MaxPriceTicks: market.Ticks(c.Market.MaxPriceTicks),
		Trader:        c.Market.Trader,
	}
	if err := p.Validate(); err != nil {
		return market.Params{}, err
	}
	return p, nil
}

// Constraints 交易所下单约束（paper 模式下由 sim 强制执行）。
func (c AppConfig) Constraints() order.Constraints {
	return order.Constraints{
		MaxPrice: market.Ticks(c.Market.MaxPriceTicks),
		SizeStep: c.Market.SizeStep,
		MinSize:  c.Market.MinSize,
		MaxSize:  c.Market.MaxSize,
	}
}
