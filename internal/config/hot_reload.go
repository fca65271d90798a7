package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	appconfig "fairmm-go/config"
	"fairmm-go/infrastructure/logger"
	"fairmm-go/strategy"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免编辑器多次写入触发重复更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 2 * time.Second,
	}
}

// Reinitializer 策略配置的唯一修改入口（见 store.Store）。
type Reinitializer interface {
	Reinitialize(ctx context.Context, symbol string, cfg strategy.Config) (uint64, error)
}

// HotReloader 监听配置文件；strategy 段变化时显式 Reinitialize。
// 其他段（market、feed、gateway…）的变化需要重启，这里只记录日志。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	store      Reinitializer
	log        *logger.Logger

	mu         sync.RWMutex
	symbol     string
	current    strategy.Config
	lastReload time.Time
	onApplied  func(cfg strategy.Config, version uint64)
	now        func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHotReloader 创建热更新器；current 为启动时生效的配置。
func NewHotReloader(configPath string, cfg HotReloadConfig, current appconfig.AppConfig, store Reinitializer, log *logger.Logger) (*HotReloader, error) {
	if store == nil {
		return nil, fmt.Errorf("reinitializer is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		store:      store,
		log:        log.Named("hot_reload"),
		symbol:     current.Market.Symbol,
		current:    current.Strategy,
		now:        time.Now,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// OnApplied 设置新配置生效后的回调
func (h *HotReloader) OnApplied(fn func(cfg strategy.Config, version uint64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onApplied = fn
}

// Start 启动热更新监听。监听所在目录，兼容编辑器"写临时文件再 rename"的保存方式。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		close(h.doneChan)
		return nil
	}
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })
	select {
	case <-h.doneChan:
	case <-time.After(time.Second):
		// watch goroutine 未启动
	}
	return h.watcher.Close()
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if h.coolingDown() {
				continue
			}
			if err := h.Reload(ctx); err != nil {
				h.log.Warn("config reload rejected", zap.String("path", h.configPath), zap.Error(err))
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (h *HotReloader) coolingDown() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.lastReload.IsZero() && h.now().Sub(h.lastReload) < h.config.CooldownTime
}

// Reload 重新读取配置文件；strategy 段有变化时调用 Reinitialize。
// 非法配置不会写入任何内容。
func (h *HotReloader) Reload(ctx context.Context) error {
	next, err := appconfig.LoadWithEnvOverrides(h.configPath)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// 被拒绝的修改不进入冷却，修正后的保存立即生效
	if next.Market.Symbol != h.symbol {
		return fmt.Errorf("market.symbol changed %s -> %s: restart required", h.symbol, next.Market.Symbol)
	}
	if next.Strategy == h.current {
		h.lastReload = h.now()
		h.log.Debug("config changed outside strategy section; ignored")
		return nil
	}
	version, err := h.store.Reinitialize(ctx, h.symbol, next.Strategy)
	if err != nil {
		return fmt.Errorf("reinitialize strategy: %w", err)
	}
	h.lastReload = h.now()
	h.log.Info("strategy reinitialized",
		zap.Uint64("version", version),
		zap.Uint64("edge_bps", next.Strategy.EdgeBps),
		zap.Uint64("quote_size", next.Strategy.QuoteSize),
		zap.Bool("post_only", next.Strategy.PostOnly),
		zap.String("improvement", next.Strategy.Improvement.String()),
	)
	h.current = next.Strategy
	if h.onApplied != nil {
		h.onApplied(next.Strategy, version)
	}
	return nil
}
