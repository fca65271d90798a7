package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fairmm-go/config"
	"fairmm-go/feed"
	"fairmm-go/gateway"
	"fairmm-go/infrastructure/alert"
	"fairmm-go/infrastructure/logger"
	"fairmm-go/infrastructure/monitor"
	internalconfig "fairmm-go/internal/config"
	"fairmm-go/internal/engine"
	"fairmm-go/internal/store"
	"fairmm-go/market"
	"fairmm-go/order"
	"fairmm-go/sim"
	"fairmm-go/strategy"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options 启动选项（通常来自命令行）
type Options struct {
	ConfigPath   string // 为空时不启用热更新
	Reinitialize bool   // 启动时用配置文件中的 strategy 覆盖已持久化的配置
	HotReload    bool
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg  *config.AppConfig
	opts Options

	// 基础设施
	logger   *logger.Logger
	monitor  *monitor.Monitor
	alertMgr *alert.Manager

	// 存储
	store *store.Store

	// 交易所
	exchange order.Exchange
	paper    *sim.Exchange

	// 行情
	source      feed.Source
	redisClient *redis.Client

	// 核心
	params       market.Params
	orchestrator *engine.Orchestrator
	driver       *Driver
	reloader     *internalconfig.HotReloader

	strategyMu sync.RWMutex
	strategy   strategy.Config

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, opts), nil
}

// NewWithConfig 使用已加载（可能已被命令行覆盖）的配置
func NewWithConfig(cfg config.AppConfig, opts Options) *Container {
	return &Container{
		cfg:       &cfg,
		opts:      opts,
		lifecycle: NewLifecycleManager(),
	}
}

// SetLogger 注入日志器（需在 Build 之前调用）
func (c *Container) SetLogger(l *logger.Logger) {
	c.logger = l
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = c.closeResources()
		}
	}()
	if err := config.Validate(*c.cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildStore(ctx); err != nil {
		return fmt.Errorf("build store failed: %w", err)
	}
	if err := c.buildExchange(); err != nil {
		return fmt.Errorf("build exchange failed: %w", err)
	}
	if err := c.buildFeed(); err != nil {
		return fmt.Errorf("build feed failed: %w", err)
	}
	if err := c.buildCore(); err != nil {
		return fmt.Errorf("build core failed: %w", err)
	}
	if err := c.registerLifecycleComponents(); err != nil {
		return err
	}
	c.logger.Info("container built", zap.Strings("components", c.lifecycle.Names()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.logger == nil {
		l, err := logger.New(c.cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
		c.logger = l
	}
	c.logger = c.logger.WithFields(map[string]interface{}{"env": c.cfg.Env, "symbol": c.cfg.Market.Symbol})

	monCfg := monitor.DefaultConfig()
	if c.cfg.Metrics.Namespace != "" {
		monCfg.Namespace = c.cfg.Metrics.Namespace
	}
	c.monitor = monitor.New(monCfg)
	c.alertMgr = alert.NewManager(nil, c.cfg.Alert.Throttle)
	c.alertMgr.AddChannel(alert.NewLogChannel("log", c.logger))
	return nil
}

// buildStore 首次运行时写入策略配置；之后沿用已持久化的配置，除非显式 Reinitialize。
func (c *Container) buildStore(ctx context.Context) error {
	st, err := store.Open(c.cfg.Store.Path)
	if err != nil {
		return err
	}
	c.store = st

	qs, err := st.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNotInitialized):
		if err := st.Initialize(ctx, c.cfg.Market.Symbol, c.cfg.Strategy); err != nil {
			return err
		}
		c.logger.Info("strategy initialized", zap.String("improvement", c.cfg.Strategy.Improvement.String()))
		c.setStrategy(c.cfg.Strategy)
		return nil
	case err != nil:
		return err
	}

	if qs.Symbol != c.cfg.Market.Symbol {
		return fmt.Errorf("store %s holds strategy for %s, config is %s", c.cfg.Store.Path, qs.Symbol, c.cfg.Market.Symbol)
	}
	if c.opts.Reinitialize && qs.Config != c.cfg.Strategy {
		version, err := st.Reinitialize(ctx, c.cfg.Market.Symbol, c.cfg.Strategy)
		if err != nil {
			return err
		}
		c.logger.Info("strategy reinitialized", zap.Uint64("version", version))
		c.setStrategy(c.cfg.Strategy)
		return nil
	}
	if qs.Config != c.cfg.Strategy {
		c.logger.Warn("persisted strategy differs from config file; using persisted (start with -reinit to replace)",
			zap.Uint64("version", qs.Version))
	}
	c.cfg.Strategy = qs.Config
	c.setStrategy(qs.Config)
	return nil
}

func (c *Container) buildExchange() error {
	if c.cfg.Runner.Paper {
		ex, acct, err := sim.Build(sim.Config{
			Symbol:      c.cfg.Market.Symbol,
			Trader:      c.cfg.Market.Trader,
			Funds:       c.cfg.Paper.Funds,
			Constraints: c.cfg.Constraints(),
			Levels:      c.cfg.Paper.Levels,
		})
		if err != nil {
			return err
		}
		c.paper = ex
		c.exchange = acct
		c.logger.Info("paper exchange enabled", zap.Int("levels", len(c.cfg.Paper.Levels)))
		return nil
	}

	httpClient := gateway.NewDefaultHTTPClient()
	if c.cfg.Gateway.Timeout > 0 {
		httpClient.Timeout = c.cfg.Gateway.Timeout
	}
	cli := &gateway.Client{
		BaseURL:    c.cfg.Gateway.BaseURL,
		Symbol:     c.cfg.Market.Symbol,
		Trader:     c.cfg.Market.Trader,
		APIKey:     c.cfg.Gateway.APIKey,
		Secret:     c.cfg.Gateway.APISecret,
		HTTPClient: httpClient,
		Observe:    c.monitor.RecordREST,
	}
	if c.cfg.Gateway.RateLimit > 0 {
		cli.Limiter = gateway.NewTokenBucketLimiter(c.cfg.Gateway.RateLimit, c.cfg.Gateway.Burst)
	}
	c.exchange = cli
	return nil
}

func (c *Container) buildFeed() error {
	fc := c.cfg.Feed
	switch fc.Kind {
	case config.FeedCoinbase:
		src := feed.NewCoinbaseSpot(fc.Ticker)
		if fc.URL != "" {
			src.BaseURL = fc.URL
		}
		c.source = src
	case config.FeedWS:
		ws := feed.NewWSTicker(fc.URL, fc.Ticker, fc.MaxAge, c.logger)
		c.source = ws
		c.lifecycle.Register(&runnerComponent{name: "ws_ticker", run: ws.Run, logger: c.logger})
	case config.FeedRedis:
		c.redisClient = redis.NewClient(&redis.Options{
			Addr:     fc.Redis.Addr,
			Password: fc.Redis.Password,
			DB:       fc.Redis.DB,
		})
		c.source = feed.NewRedisKey(c.redisClient, fc.Redis.Key, fc.Redis.Field)
	case config.FeedStatic:
		p, err := decimal.NewFromString(fc.Static)
		if err != nil {
			return err
		}
		c.source = feed.NewStatic(p)
	default:
		return fmt.Errorf("unknown feed kind %q", fc.Kind)
	}
	return nil
}

func (c *Container) buildCore() error {
	params, err := c.cfg.MarketParams()
	if err != nil {
		return err
	}
	c.params = params
	c.orchestrator, err = engine.New(params, order.ReconcileOptions{Strict: c.cfg.Runner.Strict}, engine.Components{
		Exchange:     c.exchange,
		Recorder:     c.store,
		Monitor:      c.monitor,
		AlertManager: c.alertMgr,
		Logger:       c.logger,
	})
	if err != nil {
		return err
	}
	spec := ScheduleSpec(c.cfg.Runner.Schedule, c.cfg.Runner.Refresh)
	c.driver, err = NewDriver(spec, c.orchestrator, c.source, c.Strategy, c.logger, c.monitor)
	if err != nil {
		return err
	}
	if b := NewCycleBreaker(c.cfg.Runner.HaltAfter, c.cfg.Runner.HaltFor); b != nil {
		c.driver.SetBreaker(b)
	}

	if c.opts.HotReload && c.opts.ConfigPath != "" {
		c.reloader, err = internalconfig.NewHotReloader(c.opts.ConfigPath, internalconfig.DefaultHotReloadConfig(), *c.cfg, c.store, c.logger)
		if err != nil {
			return err
		}
		c.reloader.OnApplied(func(cfg strategy.Config, _ uint64) { c.setStrategy(cfg) })
	}
	return nil
}

func (c *Container) registerLifecycleComponents() error {
	if c.cfg.Metrics.Enabled {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.metricsMux(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		})
	}
	if c.reloader != nil {
		c.lifecycle.Register(&runnerComponent{
			name:   "hot_reload",
			logger: c.logger,
			run: func(ctx context.Context) error {
				if err := c.reloader.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				return c.reloader.Stop()
			},
		})
	}
	// 最后启动、最先停止
	c.lifecycle.Register(c.driver)
	return nil
}

func (c *Container) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.monitor.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := c.HealthCheck(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (c *Container) setStrategy(cfg strategy.Config) {
	c.strategyMu.Lock()
	defer c.strategyMu.Unlock()
	c.strategy = cfg
}

// Strategy 返回当前生效的策略配置
func (c *Container) Strategy() strategy.Config {
	c.strategyMu.RLock()
	defer c.strategyMu.RUnlock()
	return c.strategy
}

// Start 启动全部组件
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止组件；runner.cancelOnExit 时撤掉本策略全部挂单。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	var errs []error
	if err := c.lifecycle.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		errs = append(errs, err)
	}

	if c.cfg.Runner.CancelOnExit && c.exchange != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := c.CancelAll(ctx)
		cancel()
		if err != nil {
			c.logger.LogError(err, map[string]interface{}{"action": "cancel_all"})
			errs = append(errs, err)
		} else {
			c.logger.Info("resting orders cancelled", zap.Int("count", n))
		}
	}

	if err := c.closeResources(); err != nil {
		errs = append(errs, err)
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return errors.Join(errs...)
}

// closeResources 关闭 Redis 与存储；可重复调用。
func (c *Container) closeResources() error {
	var errs []error
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
		c.redisClient = nil
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
		c.store = nil
	}
	return errors.Join(errs...)
}

// CancelAll 以一个原子批次撤掉本策略的全部挂单，返回撤单数量。
func (c *Container) CancelAll(ctx context.Context) (int, error) {
	view, err := c.exchange.View(ctx)
	if err != nil {
		return 0, err
	}
	if len(view.Own) == 0 {
		return 0, nil
	}
	if view.Symbol == "" {
		view.Symbol = c.params.Symbol
	}
	actions := make([]order.Action, 0, len(view.Own))
	for _, o := range view.Own {
		actions = append(actions, order.Cancel(o))
	}
	if _, err := c.exchange.Submit(ctx, order.NewBatch(view, c.params.Trader, false, actions)); err != nil {
		return 0, err
	}
	return len(actions), nil
}

// HealthCheck 检查所有组件健康状态
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Orchestrator 返回报价编排器
func (c *Container) Orchestrator() *engine.Orchestrator { return c.orchestrator }

// Driver 返回驱动器
func (c *Container) Driver() *Driver { return c.driver }

// Paper 返回 paper 交易所（非 paper 模式为 nil）
func (c *Container) Paper() *sim.Exchange { return c.paper }

// Config 返回生效的配置
func (c *Container) Config() config.AppConfig { return *c.cfg }
