package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fairmm-go/config"
	"fairmm-go/internal/container"
	"fairmm-go/strategy"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
)

// cliFlags 命令行参数；仅显式设置的参数覆盖配置文件。
type cliFlags struct {
	ticker      string
	refresh     time.Duration
	edgeBps     uint64
	size        uint64
	improvement string
	postOnly    bool
	paper       bool
}

func main() {
	var f cliFlags
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件（不存在则忽略）")
	reinit := flag.Bool("reinit", false, "用配置文件中的 strategy 覆盖已持久化的策略配置")
	hotReload := flag.Bool("hot-reload", true, "监听配置文件，strategy 变化时重新初始化")
	flag.StringVar(&f.ticker, "ticker", "", "fair price 行情代码（例如 SOL-USD）")
	flag.DurationVar(&f.refresh, "refresh", 0, "报价周期（例如 5s）")
	flag.Uint64Var(&f.edgeBps, "edge-bps", 0, "半价差（bps）")
	flag.Uint64Var(&f.size, "size", 0, "每侧挂单数量（最小单位）")
	flag.StringVar(&f.improvement, "improvement", "", "价格改善策略：ignore | join | dime | improve:N")
	flag.BoolVar(&f.postOnly, "post-only", false, "只做 maker")
	flag.BoolVar(&f.paper, "paper", false, "使用内存 paper 交易所")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("加载 %s 失败: %v", *envFile, err)
	}

	cfg, err := loadConfig(*cfgPath, f, setFlags())
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchPath := *cfgPath
	if _, err := os.Stat(watchPath); err != nil {
		// 只用命令行参数运行时没有可监听的文件
		watchPath = ""
	}
	c := container.NewWithConfig(cfg, container.Options{
		ConfigPath:   watchPath,
		Reinitialize: *reinit,
		HotReload:    *hotReload,
	})
	if err := c.Build(ctx); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify ready: %v", err)
	}
	go watchdog(ctx, c)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("收到信号 %s，停止中...", sig)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	if err := c.Stop(); err != nil {
		log.Printf("停止时出错: %v", err)
		os.Exit(1)
	}
}

func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return set
}

// loadConfig 读取配置文件（可不存在）并应用显式设置的命令行参数。
func loadConfig(path string, f cliFlags, set map[string]bool) (config.AppConfig, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.Read(path); err != nil {
			return cfg, err
		}
	} else if os.IsNotExist(err) {
		config.ApplyEnv(&cfg)
	} else {
		return cfg, err
	}
	if err := applyFlags(&cfg, f, set); err != nil {
		return cfg, err
	}
	return cfg, config.Validate(cfg)
}

func applyFlags(cfg *config.AppConfig, f cliFlags, set map[string]bool) error {
	if set["ticker"] {
		cfg.Feed.Ticker = f.ticker
	}
	if set["refresh"] {
		cfg.Runner.Refresh = f.refresh
		cfg.Runner.Schedule = ""
	}
	if set["edge-bps"] {
		cfg.Strategy.EdgeBps = f.edgeBps
	}
	if set["size"] {
		cfg.Strategy.QuoteSize = f.size
	}
	if set["improvement"] {
		p, err := strategy.ParsePriceImprovement(f.improvement)
		if err != nil {
			return fmt.Errorf("-improvement: %w", err)
		}
		cfg.Strategy.Improvement = p
	}
	if set["post-only"] {
		cfg.Strategy.PostOnly = f.postOnly
	}
	if set["paper"] {
		cfg.Runner.Paper = f.paper
	}
	return nil
}

// watchdog 在 systemd 启用 WatchdogSec 时按一半周期上报健康状态。
func watchdog(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				log.Printf("健康检查失败，跳过 watchdog 通知: %v", err)
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
