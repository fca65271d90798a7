package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fairmm-go/feed"
	"fairmm-go/infrastructure/logger"
	"fairmm-go/infrastructure/monitor"
	"fairmm-go/internal/engine"
	"fairmm-go/strategy"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Updater 单轮报价入口（见 engine.Orchestrator）
type Updater interface {
	Update(ctx context.Context, req engine.UpdateRequest) (engine.CycleResult, error)
}

// Driver 按 cron 计划读取 fair price 并驱动一轮报价。
// 上一轮未结束时跳过本次触发（SkipIfStillRunning），失败不重试。
type Driver struct {
	spec    string
	updater Updater
	source  feed.Source
	config  func() strategy.Config
	logger  *logger.Logger
	monitor *monitor.Monitor
	breaker *CycleBreaker

	mu       sync.Mutex
	cron     *cron.Cron
	lastTick time.Time
	lastErr  error
}

// NewDriver 创建驱动器；spec 为 cron 表达式（如 "@every 5s"）。
func NewDriver(spec string, updater Updater, source feed.Source, config func() strategy.Config, log *logger.Logger, mon *monitor.Monitor) (*Driver, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Driver{
		spec:    spec,
		updater: updater,
		source:  source,
		config:  config,
		logger:  log.Named("driver"),
		monitor: mon,
	}, nil
}

// PanicError 记录一轮因 panic 中止；panic 本身由 cron.Recover 记录。
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cycle panicked: %v", e.Value)
}

// SetBreaker 设置连续失败熔断器（nil 表示不启用）
func (d *Driver) SetBreaker(b *CycleBreaker) {
	d.breaker = b
}

// ScheduleSpec 由 refresh 间隔或显式 cron 表达式得到调度规则。
func ScheduleSpec(schedule string, refresh time.Duration) string {
	if schedule != "" {
		return schedule
	}
	return "@every " + refresh.String()
}

// Tick 执行一轮：读取 fair price，然后调用 Update。
func (d *Driver) Tick(ctx context.Context) (engine.CycleResult, error) {
	defer func() {
		if r := recover(); r != nil {
			d.record(&PanicError{Value: r})
			panic(r)
		}
	}()
	if d.breaker != nil {
		if err := d.breaker.Allow(); err != nil {
			d.logger.Debug("cycle skipped", zap.Error(err))
			d.record(err)
			return engine.CycleResult{}, err
		}
	}
	price, err := d.source.FairPrice(ctx)
	if err != nil {
		if d.monitor != nil {
			d.monitor.RecordFeedError()
		}
		d.logger.Warn("fair price unavailable; cycle skipped", zap.Error(err))
		d.record(err)
		return engine.CycleResult{}, fmt.Errorf("fair price: %w", err)
	}
	res, err := d.updater.Update(ctx, engine.UpdateRequest{FairPrice: price, Config: d.config()})
	if d.breaker != nil && !errors.Is(err, engine.ErrCycleInFlight) && d.breaker.Record(err) {
		d.logger.Error("quoting halted after consecutive failed cycles", zap.Error(err), zap.Int("trips", d.breaker.Trips()))
	}
	d.record(err)
	return res, err
}

func (d *Driver) record(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastTick = time.Now()
	d.lastErr = err
}

func (d *Driver) Name() string { return "driver" }

// Start 启动 cron 调度
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return nil
	}
	cl := cronLogger{l: d.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(d.spec, func() {
		_, _ = d.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", d.spec, err)
	}
	c.Start()
	d.cron = c
	d.logger.Info("driver started", zap.String("schedule", d.spec))
	return nil
}

// Stop 停止调度并等待进行中的一轮结束
func (d *Driver) Stop() error {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("driver: running cycle did not finish")
	}
}

// Health 未启动或最近一轮 panic 时返回错误，watchdog 因此停止上报。
func (d *Driver) Health() error {
	d.mu.Lock()
	started := d.cron != nil
	d.mu.Unlock()
	if !started {
		return fmt.Errorf("driver not started")
	}
	_, err := d.LastTick()
	var perr *PanicError
	if errors.As(err, &perr) {
		return fmt.Errorf("driver: %w", err)
	}
	return nil
}

// LastTick 返回最近一轮的时间与错误
func (d *Driver) LastTick() (time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTick, d.lastErr
}

// cronLogger 将 cron 日志转到 zap
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
