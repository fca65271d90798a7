package engine

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"fairmm-go/infrastructure/alert"
	"fairmm-go/infrastructure/logger"
	"fairmm-go/infrastructure/monitor"
	"fairmm-go/internal/store"
	"fairmm-go/market"
	"fairmm-go/order"
	"fairmm-go/sim"
	"fairmm-go/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const symbol = "SOL-USDC"

func testParams() market.Params {
	return market.Params{Symbol: symbol, TickSize: decimal.RequireFromString("0.01"), Trader: "mm"}
}

func testConfig() strategy.Config {
	return strategy.Config{EdgeBps: 50, QuoteSize: 10, PostOnly: true, Improvement: strategy.Ignore()}
}

func fair(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestOrchestrator(t *testing.T, ex order.Exchange, c Components) *Orchestrator {
	t.Helper()
	c.Exchange = ex
	o, err := New(testParams(), order.ReconcileOptions{}, c)
	require.NoError(t, err)
	return o
}

func TestUpdateExamples(t *testing.T) {
	ex := sim.NewExchange(symbol, order.Constraints{})
	o := newTestOrchestrator(t, ex.Account("mm"), Components{})
	ctx := context.Background()

	// 空簿：两侧挂单
	res, err := o.Update(ctx, UpdateRequest{FairPrice: fair("100.00"), Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, StateSettled, res.State)
	assert.Equal(t, strategy.Target{Bid: 9950, Ask: 10050}, res.Target)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, order.Place(market.SideBid, 9950, 10), res.Actions[0])
	assert.Equal(t, order.Place(market.SideAsk, 10050, 10), res.Actions[1])
	require.Len(t, res.Orders, 2)
	assert.ElementsMatch(t, res.Orders, ex.Orders("mm"))
	assert.Equal(t, StateIdle, o.State())

	// fair 变化：先撤后挂
	res, err = o.Update(ctx, UpdateRequest{FairPrice: fair("100.02"), Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, strategy.Target{Bid: 9952, Ask: 10052}, res.Target)
	require.Len(t, res.Actions, 4)
	kinds := []order.ActionKind{res.Actions[0].Kind, res.Actions[1].Kind, res.Actions[2].Kind, res.Actions[3].Kind}
	assert.Equal(t, []order.ActionKind{order.ActionCancel, order.ActionCancel, order.ActionPlace, order.ActionPlace}, kinds)
	assert.Equal(t, market.SideBid, res.Actions[0].Side)
	assert.Equal(t, market.SideAsk, res.Actions[1].Side)
	assert.Equal(t, market.Ticks(9952), res.Actions[2].Price)
	assert.Equal(t, market.Ticks(10052), res.Actions[3].Price)

	// fair 不变：无动作，不提交
	submitted := ex.Submitted()
	res, err = o.Update(ctx, UpdateRequest{FairPrice: fair("100.02"), Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, StateSettled, res.State)
	assert.Empty(t, res.Actions)
	assert.Empty(t, res.BatchID)
	assert.Equal(t, submitted, ex.Submitted())

	stats := o.GetStatistics()
	assert.Equal(t, uint64(3), stats.Cycles)
	assert.Equal(t, uint64(3), stats.Settled)
	assert.Equal(t, uint64(1), stats.NoOps)
	assert.Equal(t, uint64(6), stats.ActionsApplied)
}

func TestUpdateJoinsOtherParticipants(t *testing.T) {
	ex := sim.NewExchange(symbol, order.Constraints{})
	ex.Seed("lp", market.SideAsk, 10010, 5)
	o := newTestOrchestrator(t, ex.Account("mm"), Components{})

	cfg := testConfig()
	cfg.Improvement = strategy.Join()
	cfg.PostOnly = false
	res, err := o.Update(context.Background(), UpdateRequest{FairPrice: fair("100.00"), Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, strategy.Target{Bid: 9950, Ask: 10010}, res.Target)
}

func TestUpdatePartialFillReplacesOneSide(t *testing.T) {
	ex := sim.NewExchange(symbol, order.Constraints{})
	o := newTestOrchestrator(t, ex.Account("mm"), Components{})
	ctx := context.Background()

	res, err := o.Update(ctx, UpdateRequest{FairPrice: fair("100.00"), Config: testConfig()})
	require.NoError(t, err)
	var bidID string
	for _, ro := range res.Orders {
		if ro.Side == market.SideBid {
			bidID = ro.ID
		}
	}
	require.NoError(t, ex.Fill(bidID, 4))

	res, err = o.Update(ctx, UpdateRequest{FairPrice: fair("100.00"), Config: testConfig()})
	require.NoError(t, err)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, order.ActionCancel, res.Actions[0].Kind)
	assert.Equal(t, bidID, res.Actions[0].OrderID)
	assert.Equal(t, order.Place(market.SideBid, 9950, 10), res.Actions[1])
}

func TestUpdateDerivationFailureTouchesNothing(t *testing.T) {
	ex := sim.NewExchange(symbol, order.Constraints{})
	o := newTestOrchestrator(t, ex.Account("mm"), Components{})

	res, err := o.Update(context.Background(), UpdateRequest{FairPrice: decimal.Zero, Config: testConfig()})
	var derr *strategy.DerivationError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, ex.Submitted())
	assert.Equal(t, StateIdle, o.State())

	cfg := testConfig()
	cfg.QuoteSize = 0
	_, err = o.Update(context.Background(), UpdateRequest{FairPrice: fair("100"), Config: cfg})
	var cerr *strategy.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint64(2), o.GetStatistics().Failed)
}

func TestUpdateRejectionLeavesOrdersIntact(t *testing.T) {
	ex := sim.NewExchange(symbol, order.Constraints{})
	o := newTestOrchestrator(t, ex.Account("mm"), Components{})
	ctx := context.Background()

	_, err := o.Update(ctx, UpdateRequest{FairPrice: fair("100.00"), Config: testConfig()})
	require.NoError(t, err)
	before := ex.Orders("mm")

	for _, reason := range []order.RejectReason{order.RejectStale, order.RejectInsufficientFunds, order.RejectCrossed} {
		ex.FailNext(reason)
		res, err := o.Update(ctx, UpdateRequest{FairPrice: fair("100.07"), Config: testConfig()})
		var serr *order.SubmissionError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, reason, serr.Reason)
		assert.Equal(t, StateFailed, res.State)
		require.NotNil(t, res.Audit)
		assert.True(t, res.Audit.Clean())
		assert.Equal(t, before, ex.Orders("mm"))
	}
	assert.Equal(t, uint64(3), o.GetStatistics().Rejected)
	assert.Zero(t, o.GetStatistics().AuditViolations)
}

// leakyExchange 违反原子性：拒绝前已经撤掉了一个订单。
type leakyExchange struct {
	*sim.Account
	ex *sim.Exchange
}

func (l leakyExchange) Submit(ctx context.Context, b order.Batch) (order.Receipt, error) {
	for _, a := range b.Actions {
		if a.Kind == order.ActionCancel {
			l.ex.Remove(a.OrderID)
			break
		}
	}
	return order.Receipt{}, order.Reject(b, order.RejectUnknown, "partially applied")
}

func TestUpdateAuditDetectsNonAtomicExchange(t *testing.T) {
	ex := sim.NewExchange(symbol, order.Constraints{})
	ctx := context.Background()
	mon := monitor.New(monitor.DefaultConfig())
	mock := alert.NewMockChannel("mock")
	alerts := alert.NewManager([]alert.Channel{mock}, time.Minute)

	seed := newTestOrchestrator(t, ex.Account("mm"), Components{})
	_, err := seed.Update(ctx, UpdateRequest{FairPrice: fair("100.00"), Config: testConfig()})
	require.NoError(t, err)

	o := newTestOrchestrator(t, leakyExchange{Account: ex.Account("mm"), ex: ex}, Components{Monitor: mon, AlertManager: alerts})
	res, err := o.Update(ctx, UpdateRequest{FairPrice: fair("100.02"), Config: testConfig()})
	require.Error(t, err)
	require.NotNil(t, res.Audit)
	assert.False(t, res.Audit.Clean())
	assert.Len(t, res.Audit.Removed, 1)
	assert.Equal(t, uint64(1), o.GetStatistics().AuditViolations)

	var critical int
	for _, a := range mock.GetAlerts() {
		if a.Level == alert.LevelCritical {
			critical++
		}
	}
	assert.Equal(t, 1, critical)
	assert.Contains(t, scrape(t, mon), "mm_quoter_atomicity_violations_total 1")
}

func TestUpdateSnapshotFailure(t *testing.T) {
	ex := sim.NewExchange(symbol, order.Constraints{})
	ex.FailViews(errors.New("connection reset"))
	o := newTestOrchestrator(t, ex.Account("mm"), Components{})

	res, err := o.Update(context.Background(), UpdateRequest{FairPrice: fair("100"), Config: testConfig()})
	var serr *SnapshotError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, ex.Submitted())
}

func TestUpdateSymbolMismatch(t *testing.T) {
	ex := sim.NewExchange("BTC-USDC", order.Constraints{})
	o := newTestOrchestrator(t, ex.Account("mm"), Components{})
	_, err := o.Update(context.Background(), UpdateRequest{FairPrice: fair("100"), Config: testConfig()})
	var serr *SnapshotError
	assert.ErrorAs(t, err, &serr)
}

// blockingExchange 在 View 中阻塞，直到 release 关闭。
type blockingExchange struct {
	order.Exchange
	entered chan struct{}
	release chan struct{}
}

func (b *blockingExchange) View(ctx context.Context) (order.BookView, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Exchange.View(ctx)
}

func TestUpdateRejectsConcurrentCycle(t *testing.T) {
	ex := sim.NewExchange(symbol, order.Constraints{})
	blocking := &blockingExchange{Exchange: ex.Account("mm"), entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := newTestOrchestrator(t, blocking, Components{})

	done := make(chan error, 1)
	go func() {
		_, err := o.Update(context.Background(), UpdateRequest{FairPrice: fair("100"), Config: testConfig()})
		done <- err
	}()
	<-blocking.entered
	assert.Equal(t, StateDeriving, o.State())

	_, err := o.Update(context.Background(), UpdateRequest{FairPrice: fair("101"), Config: testConfig()})
	assert.ErrorIs(t, err, ErrCycleInFlight)

	close(blocking.release)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), o.GetStatistics().Cycles)
}

func TestUpdateRecordsSettledCycle(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "quotes.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	require.NoError(t, st.Initialize(ctx, symbol, testConfig()))

	ex := sim.NewExchange(symbol, order.Constraints{})
	o := newTestOrchestrator(t, ex.Account("mm"), Components{Recorder: st})

	res, err := o.Update(ctx, UpdateRequest{FairPrice: fair("100.00"), Config: testConfig()})
	require.NoError(t, err)

	qs, err := st.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, qs.Last)
	assert.Equal(t, res.Cycle, qs.Last.Cycle)
	assert.Equal(t, res.Target, qs.Last.Target)
	assert.Len(t, qs.Last.OrderIDs, 2)

	// 失败周期不覆盖记录
	_, err = o.Update(ctx, UpdateRequest{FairPrice: decimal.Zero, Config: testConfig()})
	require.Error(t, err)
	qs, err = st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Cycle, qs.Last.Cycle)
}

func TestUpdateLogsAndMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mon := monitor.New(monitor.DefaultConfig())
	ex := sim.NewExchange(symbol, order.Constraints{})
	o := newTestOrchestrator(t, ex.Account("mm"), Components{Logger: logger.NewWithCore(core), Monitor: mon})
	ctx := context.Background()

	_, err := o.Update(ctx, UpdateRequest{FairPrice: fair("100.00"), Config: testConfig()})
	require.NoError(t, err)
	_, err = o.Update(ctx, UpdateRequest{FairPrice: decimal.Zero, Config: testConfig()})
	require.Error(t, err)

	assert.Equal(t, 2, logs.FilterMessage("action_event").Len())
	for _, e := range logs.All() {
		assert.NoError(t, logger.ValidateEvent(e.Message, e.ContextMap()))
	}
	cycles := logs.FilterMessage("cycle_event").All()
	require.Len(t, cycles, 2)
	assert.Equal(t, "settled", cycles[0].ContextMap()["state"])
	assert.Equal(t, zapcore.WarnLevel, cycles[1].Level)

	out := scrape(t, mon)
	assert.Contains(t, out, `mm_quoter_cycles_total{state="settled"} 1`)
	assert.Contains(t, out, `mm_quoter_cycles_total{state="failed"} 1`)
	assert.Contains(t, out, `mm_quoter_actions_total{kind="place",side="bid"} 1`)
	assert.Contains(t, out, "mm_quoter_target_spread_ticks 100")
}

type panickyExchange struct {
	*sim.Account
	armed bool
}

func (p *panickyExchange) View(ctx context.Context) (order.BookView, error) {
	if p.armed {
		p.armed = false
		panic("view exploded")
	}
	return p.Account.View(ctx)
}

func TestUpdateRecoversAfterCollaboratorPanic(t *testing.T) {
	mock := alert.NewMockChannel("mock")
	mon := monitor.New(monitor.DefaultConfig())
	ex := sim.NewExchange(symbol, order.Constraints{})
	px := &panickyExchange{Account: ex.Account("mm"), armed: true}
	o := newTestOrchestrator(t, px, Components{
		Monitor:      mon,
		AlertManager: alert.NewManager([]alert.Channel{mock}, time.Minute),
	})
	ctx := context.Background()
	req := UpdateRequest{FairPrice: fair("100.00"), Config: testConfig()}

	// cron.Recover 在驱动层兜住 panic；编排器必须回到 Idle
	assert.PanicsWithValue(t, "view exploded", func() { _, _ = o.Update(ctx, req) })
	assert.Equal(t, StateIdle, o.State())
	stats := o.GetStatistics()
	assert.Equal(t, uint64(1), stats.Cycles)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Contains(t, stats.LastError, "deriving")

	res, err := o.Update(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, res.State)
	assert.Equal(t, 0, res.Cancels)
	assert.Equal(t, 2, res.Places)
	assert.Len(t, ex.Orders("mm"), 2)

	alerts := mock.GetAlerts()
	require.NotEmpty(t, alerts)
	assert.Equal(t, alert.LevelCritical, alerts[0].Level)
	assert.Equal(t, "quote cycle panicked", alerts[0].Message)
	assert.Contains(t, scrape(t, mon), `mm_quoter_cycles_total{state="failed"} 1`)
}

func TestRejectedCycleKeepsQuoteGauges(t *testing.T) {
	mon := monitor.New(monitor.DefaultConfig())
	ex := sim.NewExchange(symbol, order.Constraints{})
	o := newTestOrchestrator(t, ex.Account("mm"), Components{Monitor: mon})
	ctx := context.Background()

	_, err := o.Update(ctx, UpdateRequest{FairPrice: fair("100.00"), Config: testConfig()})
	require.NoError(t, err)

	ex.FailNext(order.RejectStale)
	res, err := o.Update(ctx, UpdateRequest{FairPrice: fair("100.02"), Config: testConfig()})
	require.Error(t, err)
	assert.Equal(t, strategy.Target{Bid: 9952, Ask: 10052}, res.Target)

	out := scrape(t, mon)
	assert.Contains(t, out, "mm_quoter_target_bid_ticks 9950")
	assert.Contains(t, out, "mm_quoter_target_ask_ticks 10050")
	assert.Contains(t, out, "mm_quoter_fair_price 100\n")
}

func TestTransitionTable(t *testing.T) {
	assert.NoError(t, validateTransition(StateIdle, StateDeriving))
	assert.NoError(t, validateTransition(StateReconciling, StateSettled))
	assert.ErrorContains(t, validateTransition(StateDeriving, StateDeriving), "allowed: [reconciling failed]")
	assert.Error(t, validateTransition(StateIdle, StateSubmitting))
	assert.Error(t, validateTransition(StateSettled, StateFailed))
	assert.Error(t, validateTransition(StateDeriving, StateSubmitting))

	assert.Equal(t, []State{StateSubmitting, StateSettled, StateFailed}, AllowedTransitions(StateReconciling))
	assert.Equal(t, []State{StateIdle}, AllowedTransitions(StateFailed))
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSubmitting.Terminal())
	assert.Equal(t, "unknown", State(42).String())
}

func TestNewValidates(t *testing.T) {
	_, err := New(market.Params{}, order.ReconcileOptions{}, Components{Exchange: sim.NewExchange(symbol, order.Constraints{}).Account("mm")})
	assert.Error(t, err)
	_, err = New(testParams(), order.ReconcileOptions{}, Components{})
	assert.Error(t, err)
}

func scrape(t *testing.T, mon *monitor.Monitor) string {
	t.Helper()
	rec := httptest.NewRecorder()
	mon.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
