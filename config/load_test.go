package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fairmm-go/market"
	"fairmm-go/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const liveYAML = `
env: prod
strategy:
  edgeBps: 50
  quoteSize: 10
  postOnly: true
  improvement: improve:2
market:
  symbol: SOL-USDC
  tickSize: "0.01"
  maxPriceTicks: 1000000
  trader: mm-1
feed:
  kind: coinbase
  ticker: SOL-USD
gateway:
  apiKey: foo
  apiSecret: bar
  baseURL: https://venue.test
runner:
  refresh: 2s
  cancelOnExit: true
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, liveYAML))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, strategy.Config{EdgeBps: 50, QuoteSize: 10, PostOnly: true, Improvement: strategy.Improve(2)}, cfg.Strategy)
	assert.Equal(t, 2*time.Second, cfg.Runner.Refresh)
	assert.True(t, cfg.Runner.CancelOnExit)
	// 未配置的字段保留默认值
	assert.Equal(t, "fairmm.db", cfg.Store.Path)
	assert.Equal(t, 10*time.Second, cfg.Feed.MaxAge)

	p, err := cfg.MarketParams()
	require.NoError(t, err)
	assert.Equal(t, "0.01", p.TickSize.String())
	assert.Equal(t, market.Ticks(1000000), p.PriceCap())
	assert.Equal(t, market.Ticks(1000000), cfg.Constraints().MaxPrice)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
market:
  symbol: SOL-USDC
  tickSize: "0.01"
  trader: mm-1
feed:
  kind: redis
  redis:
    addr: localhost:6379
    key: fair:SOL
gateway:
  baseURL: https://venue.test
`)
	_, err := Load(path)
	require.Error(t, err, "credentials missing without env")

	t.Setenv("MM_GATEWAY_API_KEY", "env-key")
	t.Setenv("MM_GATEWAY_API_SECRET", "env-secret")
	t.Setenv("MM_REDIS_PASSWORD", "env-redis")
	cfg, err := LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Gateway.APIKey)
	assert.Equal(t, "env-secret", cfg.Gateway.APISecret)
	assert.Equal(t, "env-redis", cfg.Feed.Redis.Password)
}

func TestLoadPaper(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `
env: dev
market:
  symbol: SOL-USDC
  tickSize: "0.001"
  trader: mm
feed:
  kind: static
  static: "142.5"
runner:
  paper: true
paper:
  funds: 100
  levels:
    - {owner: lp, side: ask, price: 143000, size: 5}
`))
	require.NoError(t, err)
	require.Len(t, cfg.Paper.Levels, 1)
	assert.Equal(t, "lp", cfg.Paper.Levels[0].Owner)
	assert.Equal(t, uint64(143000), cfg.Paper.Levels[0].Price)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(AppConfig{}))

	base, err := Load(writeTempConfig(t, liveYAML))
	require.NoError(t, err)

	cases := map[string]func(c *AppConfig){
		"zero size":        func(c *AppConfig) { c.Strategy.QuoteSize = 0 },
		"bad tick":         func(c *AppConfig) { c.Market.TickSize = "abc" },
		"zero tick":        func(c *AppConfig) { c.Market.TickSize = "0" },
		"no trader":        func(c *AppConfig) { c.Market.Trader = "" },
		"unknown feed":     func(c *AppConfig) { c.Feed.Kind = "oracle" },
		"ws no ticker":     func(c *AppConfig) { c.Feed.Kind = FeedWS; c.Feed.Ticker = "" },
		"bad static":       func(c *AppConfig) { c.Feed.Kind = FeedStatic; c.Feed.Static = "-1" },
		"no refresh":       func(c *AppConfig) { c.Runner.Refresh = 0 },
		"size bounds":      func(c *AppConfig) { c.Market.MinSize = 10; c.Market.MaxSize = 5 },
		"metrics no addr":  func(c *AppConfig) { c.Metrics.Enabled = true; c.Metrics.Addr = "" },
		"no store":         func(c *AppConfig) { c.Store.Path = "" },
		"negative limiter": func(c *AppConfig) { c.Gateway.Burst = -1 },
		"negative halt":    func(c *AppConfig) { c.Runner.HaltAfter = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, Validate(c))
		})
	}

	c := base
	c.Runner.Refresh = 0
	c.Runner.Schedule = "@every 3s"
	assert.NoError(t, Validate(c))
}
