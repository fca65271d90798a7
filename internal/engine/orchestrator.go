package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fairmm-go/infrastructure/alert"
	"fairmm-go/infrastructure/logger"
	"fairmm-go/infrastructure/monitor"
	"fairmm-go/internal/store"
	"fairmm-go/market"
	"fairmm-go/order"
	"fairmm-go/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UpdateRequest 一轮报价的输入：fair price 与当时的策略配置快照。
type UpdateRequest struct {
	FairPrice decimal.Decimal
	Config    strategy.Config
}

// AuditReport 提交被拒绝后重新读取交易所得到的挂单差异。
// 原子提交下三个列表都应为空。
type AuditReport struct {
	Removed []string
	Added   []string
	Changed []string
}

// Clean 报告挂单是否与周期开始前一致
func (r AuditReport) Clean() bool {
	return len(r.Removed) == 0 && len(r.Added) == 0 && len(r.Changed) == 0
}

// CycleResult 一轮报价的结果
type CycleResult struct {
	Cycle     uint64
	State     State // Settled 或 Failed
	FairPrice decimal.Decimal
	Target    strategy.Target
	Actions   []order.Action
	BatchID   string
	Cancels   int
	Places    int
	Orders    []order.RestingOrder // Settled 后本策略的挂单
	Audit     *AuditReport         // 仅在提交被拒绝时填充
	Elapsed   time.Duration
}

// Recorder 持久化 Settled 周期的报价状态（见 store.Store）
type Recorder interface {
	RecordCycle(ctx context.Context, rec store.CycleRecord) error
}

// Components 编排器依赖组件；除 Exchange 外均可为空。
type Components struct {
	Exchange     order.Exchange
	Recorder     Recorder
	Monitor      *monitor.Monitor
	AlertManager *alert.Manager
	Logger       *logger.Logger
}

// Statistics 编排器统计信息
type Statistics struct {
	Cycles          uint64
	Settled         uint64
	Failed          uint64
	NoOps           uint64
	Rejected        uint64
	ActionsApplied  uint64
	AuditViolations uint64
	LastCycleAt     time.Time
	LastError       string
}

// Orchestrator 每个 tick 调用一次 Update：读取盘口 → 推导 → 对账 → 原子提交。
// 同一时刻只处理一轮；失败不重试，由外部驱动循环用新的 fair price 再次调用。
type Orchestrator struct {
	params    market.Params
	reconcile order.ReconcileOptions

	exchange order.Exchange
	recorder Recorder
	monitor  *monitor.Monitor
	alertMgr *alert.Manager
	logger   *logger.Logger

	mu    sync.Mutex // 周期锁
	cycle uint64

	stateMu sync.RWMutex
	state   State

	statsMu sync.RWMutex
	stats   Statistics

	now func() time.Time
}

// New 创建编排器
func New(params market.Params, opts order.ReconcileOptions, c Components) (*Orchestrator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	if c.Exchange == nil {
		return nil, errors.New("exchange is required")
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	return &Orchestrator{
		params:    params,
		reconcile: opts,
		exchange:  c.Exchange,
		recorder:  c.Recorder,
		monitor:   c.Monitor,
		alertMgr:  c.AlertManager,
		logger:    c.Logger.Named("engine"),
		state:     StateIdle,
		now:       time.Now,
	}, nil
}

// Params 返回交易对参数
func (o *Orchestrator) Params() market.Params { return o.params }

// State 返回当前状态；两轮之间总是 Idle。
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

// GetStatistics 返回统计信息副本
func (o *Orchestrator) GetStatistics() Statistics {
	o.statsMu.RLock()
	defer o.statsMu.RUnlock()
	return o.stats
}

func (o *Orchestrator) setState(to State) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if err := validateTransition(o.state, to); err != nil {
		// 只可能是编程错误
		panic(err)
	}
	o.state = to
}

// Update 执行一轮完整的报价周期。
// 返回的 error 为以下类型之一（均只影响本轮）：
// *strategy.ConfigurationError, *strategy.DerivationError, *order.ReconciliationError,
// *order.SubmissionError, *SnapshotError；并发调用返回 ErrCycleInFlight。
func (o *Orchestrator) Update(ctx context.Context, req UpdateRequest) (CycleResult, error) {
	if !o.mu.TryLock() {
		return CycleResult{}, ErrCycleInFlight
	}
	defer o.mu.Unlock()

	o.cycle++
	res := CycleResult{Cycle: o.cycle, FairPrice: req.FairPrice}
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			o.abort(res.Cycle, r)
			panic(r)
		}
	}()

	res, err := o.run(ctx, req, res)
	res.Elapsed = o.now().Sub(start)
	if err != nil {
		res.State = StateFailed
	} else {
		res.State = StateSettled
	}
	o.setState(res.State)
	o.finish(ctx, req, res, err)
	o.setState(StateIdle)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, req UpdateRequest, res CycleResult) (CycleResult, error) {
	o.setState(StateDeriving)
	if err := req.Config.Validate(); err != nil {
		return res, err
	}

	view, err := o.exchange.View(ctx)
	if err != nil {
		return res, &SnapshotError{Err: err}
	}
	if view.Symbol != "" && view.Symbol != o.params.Symbol {
		return res, &SnapshotError{Err: fmt.Errorf("view for %s, want %s", view.Symbol, o.params.Symbol)}
	}
	if view.Symbol == "" {
		view.Symbol = o.params.Symbol
	}

	target, err := strategy.Derive(req.FairPrice, req.Config, o.params, view.BBO)
	if err != nil {
		return res, err
	}
	res.Target = target

	o.setState(StateReconciling)
	actions, err := order.Reconcile(view.Own, target, req.Config, o.reconcile)
	if err != nil {
		return res, err
	}
	res.Actions = actions
	before := order.NewBook(view.Own)
	if len(actions) == 0 {
		res.Orders = before.List()
		return res, nil
	}

	o.setState(StateSubmitting)
	batch := order.NewBatch(view, o.params.Trader, req.Config.PostOnly, actions)
	res.BatchID = batch.ID.String()
	res.Cancels, res.Places = batch.Counts()
	receipt, err := o.exchange.Submit(ctx, batch)
	if err != nil {
		var serr *order.SubmissionError
		if errors.As(err, &serr) {
			o.recordReject(serr)
			report := o.audit(ctx, before, batch)
			res.Audit = &report
		} else {
			// 网络错误等：批次是否生效未知，下一轮重新读取交易所
			o.sendAlert(alert.LevelError, "batch outcome unknown", map[string]interface{}{
				"batch_id": res.BatchID,
				"error":    err.Error(),
			})
		}
		return res, err
	}
	res.Orders = before.Apply(actions, receipt.Placed).List()
	for _, a := range actions {
		o.logger.LogAction(a.Kind.String(), a.Side.String(), uint64(a.Price), map[string]interface{}{
			"cycle":    res.Cycle,
			"batch_id": res.BatchID,
			"order_id": a.OrderID,
			"size":     a.Size,
		})
		if o.monitor != nil {
			o.monitor.RecordAction(a.Kind.String(), a.Side.String())
		}
	}
	return res, nil
}

// audit 拒绝后重新读取挂单，与周期开始前比较。
// 读取失败时返回空报告，只记录日志。
func (o *Orchestrator) audit(ctx context.Context, before order.Book, batch order.Batch) AuditReport {
	view, err := o.exchange.View(ctx)
	if err != nil {
		o.logger.Warn("atomicity audit skipped", zap.String("batch_id", batch.ID.String()), zap.Error(err))
		return AuditReport{}
	}
	after := order.NewBook(view.Own)
	if before.Equal(after) {
		return AuditReport{}
	}
	removed, added, changed := before.Diff(after)
	report := AuditReport{Removed: removed, Added: added, Changed: changed}
	if report.Clean() {
		return report
	}

	o.statsMu.Lock()
	o.stats.AuditViolations++
	o.statsMu.Unlock()
	if o.monitor != nil {
		o.monitor.RecordAuditViolation()
	}
	fields := map[string]interface{}{
		"symbol":   o.params.Symbol,
		"batch_id": batch.ID.String(),
		"removed":  removed,
		"added":    added,
		"changed":  changed,
	}
	o.logger.LogAudit("resting orders changed after rejected batch", fields)
	o.sendAlert(alert.LevelCritical, "resting orders changed after rejected batch", fields)
	return report
}

func (o *Orchestrator) recordReject(serr *order.SubmissionError) {
	o.statsMu.Lock()
	o.stats.Rejected++
	o.statsMu.Unlock()
	if o.monitor != nil {
		o.monitor.RecordReject(serr.Reason.String())
	}
}

// finish 更新统计、指标、日志，并在 Settled 时持久化报价状态。
func (o *Orchestrator) finish(ctx context.Context, req UpdateRequest, res CycleResult, err error) {
	at := o.now()

	o.statsMu.Lock()
	o.stats.Cycles++
	o.stats.LastCycleAt = at
	if err != nil {
		o.stats.Failed++
		o.stats.LastError = err.Error()
	} else {
		o.stats.Settled++
		o.stats.ActionsApplied += uint64(len(res.Actions))
		if len(res.Actions) == 0 {
			o.stats.NoOps++
		}
	}
	o.statsMu.Unlock()

	if o.monitor != nil {
		o.monitor.RecordCycle(res.State.String(), res.Elapsed)
		// 失败的周期没有改变盘口，不更新目标报价
		if err == nil && res.Target.Valid() {
			fair, _ := req.FairPrice.Float64()
			o.monitor.UpdateQuote(fair, uint64(res.Target.Bid), uint64(res.Target.Ask))
		}
	}

	fields := map[string]interface{}{
		"cycle":      res.Cycle,
		"symbol":     o.params.Symbol,
		"fair":       req.FairPrice.String(),
		"target":     res.Target.String(),
		"actions":    len(res.Actions),
		"cancels":    res.Cancels,
		"places":     res.Places,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		o.logger.LogCycle(res.State.String(), fields)
		o.sendAlert(alert.LevelWarning, "quote cycle failed: "+errorKind(err), fields)
		return
	}
	o.logger.LogCycle(res.State.String(), fields)

	if o.recorder == nil {
		return
	}
	ids := make([]string, 0, len(res.Orders))
	for _, ro := range res.Orders {
		ids = append(ids, ro.ID)
	}
	rec := store.CycleRecord{Cycle: res.Cycle, Fair: req.FairPrice, Target: res.Target, OrderIDs: ids, At: at}
	if rerr := o.recorder.RecordCycle(ctx, rec); rerr != nil {
		// 交易所状态已生效；记录失败不影响本轮结果
		o.logger.LogError(rerr, map[string]interface{}{"cycle": res.Cycle, "op": "record_cycle"})
	}
}

func (o *Orchestrator) sendAlert(level alert.Level, msg string, fields map[string]interface{}) {
	if o.alertMgr == nil {
		return
	}
	var err error
	switch level {
	case alert.LevelCritical:
		err = o.alertMgr.SendCritical(msg, fields)
	case alert.LevelError:
		err = o.alertMgr.SendError(msg, fields)
	default:
		err = o.alertMgr.SendWarning(msg, fields)
	}
	if err != nil {
		o.logger.Warn("send alert failed", zap.Error(err))
	}
}

// abort 协作方 panic 后把状态复位为 Idle，使后续周期可以继续；panic 由调用方重新抛出。
func (o *Orchestrator) abort(cycle uint64, r interface{}) {
	o.stateMu.Lock()
	from := o.state
	o.state = StateIdle
	o.stateMu.Unlock()

	msg := fmt.Sprintf("cycle panicked in %s: %v", from, r)
	// 终态说明 finish 已经计入统计
	if !from.Terminal() {
		o.statsMu.Lock()
		o.stats.Cycles++
		o.stats.Failed++
		o.stats.LastCycleAt = o.now()
		o.stats.LastError = msg
		o.statsMu.Unlock()
		if o.monitor != nil {
			o.monitor.RecordCycle(StateFailed.String(), 0)
		}
	}
	o.logger.Error("quote cycle panicked",
		zap.Uint64("cycle", cycle),
		zap.Stringer("state", from),
		zap.Any("panic", r),
	)
	o.sendAlert(alert.LevelCritical, "quote cycle panicked", map[string]interface{}{
		"cycle":  cycle,
		"symbol": o.params.Symbol,
		"state":  from.String(),
	})
}

// errorKind 用于告警分组（限流按消息去重）
func errorKind(err error) string {
	var (
		cfgErr  *strategy.ConfigurationError
		derErr  *strategy.DerivationError
		recErr  *order.ReconciliationError
		subErr  *order.SubmissionError
		snapErr *SnapshotError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &derErr):
		return "derivation"
	case errors.As(err, &recErr):
		return "reconciliation"
	case errors.As(err, &subErr):
		return "submission:" + subErr.Reason.String()
	case errors.As(err, &snapErr):
		return "snapshot"
	default:
		return "unknown"
	}
}
