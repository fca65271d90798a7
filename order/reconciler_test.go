package order

import (
	"fmt"
	"testing"

	"fairmm-go/market"
	"fairmm-go/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = strategy.Config{EdgeBps: 50, QuoteSize: 10}

// placeAll 模拟交易所执行成功：为每个 Place 分配顺序 ID。
func placeAll(t *testing.T, own []RestingOrder, actions []Action, next *int) []RestingOrder {
	t.Helper()
	var placed []RestingOrder
	for _, a := range actions {
		if a.Kind == ActionPlace {
			*next++
			placed = append(placed, RestingOrder{ID: fmt.Sprintf("o%03d", *next), Side: a.Side, Price: a.Price, Size: a.Size})
		}
	}
	return NewBook(own).Apply(actions, placed).List()
}

func TestReconcileEmptyBookPlacesBothSides(t *testing.T) {
	actions, err := Reconcile(nil, strategy.Target{Bid: 9950, Ask: 10050}, testCfg, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Action{
		Place(market.SideBid, 9950, 10),
		Place(market.SideAsk, 10050, 10),
	}, actions)
}

func TestReconcileRequoteCancelsBeforePlacing(t *testing.T) {
	own := []RestingOrder{
		{ID: "ask1", Side: market.SideAsk, Price: 10050, Size: 10},
		{ID: "bid1", Side: market.SideBid, Price: 9950, Size: 10},
	}
	actions, err := Reconcile(own, strategy.Target{Bid: 9952, Ask: 10052}, testCfg, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Action{
		Cancel(own[1]),
		Cancel(own[0]),
		Place(market.SideBid, 9952, 10),
		Place(market.SideAsk, 10052, 10),
	}, actions)
}

func TestReconcileUnchangedTargetIsNoop(t *testing.T) {
	own := []RestingOrder{
		{ID: "bid1", Side: market.SideBid, Price: 9950, Size: 10},
		{ID: "ask1", Side: market.SideAsk, Price: 10050, Size: 25},
	}
	actions, err := Reconcile(own, strategy.Target{Bid: 9950, Ask: 10050}, testCfg, ReconcileOptions{})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestReconcileOneSideChanged(t *testing.T) {
	own := []RestingOrder{
		{ID: "bid1", Side: market.SideBid, Price: 9950, Size: 10},
		{ID: "ask1", Side: market.SideAsk, Price: 10050, Size: 10},
	}
	actions, err := Reconcile(own, strategy.Target{Bid: 9950, Ask: 10010}, testCfg, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Action{Cancel(own[1]), Place(market.SideAsk, 10010, 10)}, actions)
}

func TestReconcilePartiallyFilledOrderIsReplaced(t *testing.T) {
	own := []RestingOrder{
		{ID: "bid1", Side: market.SideBid, Price: 9950, Size: 4},
		{ID: "ask1", Side: market.SideAsk, Price: 10050, Size: 10},
	}
	actions, err := Reconcile(own, strategy.Target{Bid: 9950, Ask: 10050}, testCfg, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Action{Cancel(own[0]), Place(market.SideBid, 9950, 10)}, actions)
}

func TestReconcileMultipleOrdersPerSide(t *testing.T) {
	own := []RestingOrder{
		{ID: "b2", Side: market.SideBid, Price: 9950, Size: 10},
		{ID: "b1", Side: market.SideBid, Price: 9940, Size: 10},
		{ID: "b3", Side: market.SideBid, Price: 9950, Size: 10},
	}
	target := strategy.Target{Bid: 9950, Ask: 10050}

	actions, err := Reconcile(own, target, testCfg, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Action{
		Cancel(own[1]),
		Cancel(own[2]),
		Place(market.SideAsk, 10050, 10),
	}, actions)

	_, err = Reconcile(own, target, testCfg, ReconcileOptions{Strict: true})
	var rerr *ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "b2", rerr.OrderID)
}

func TestReconcileRejectsBrokenInput(t *testing.T) {
	target := strategy.Target{Bid: 9950, Ask: 10050}
	cases := map[string][]RestingOrder{
		"duplicate": {
			{ID: "x", Side: market.SideBid, Price: 1, Size: 1},
			{ID: "x", Side: market.SideAsk, Price: 2, Size: 1},
		},
		"side":  {{ID: "x", Side: 9, Price: 1, Size: 1}},
		"size":  {{ID: "x", Side: market.SideBid, Price: 1, Size: 0}},
		"no id": {{Side: market.SideBid, Price: 1, Size: 1}},
	}
	for name, own := range cases {
		_, err := Reconcile(own, target, testCfg, ReconcileOptions{})
		var rerr *ReconciliationError
		assert.ErrorAs(t, err, &rerr, name)
	}

	_, err := Reconcile(nil, strategy.Target{Bid: 10, Ask: 10}, testCfg, ReconcileOptions{})
	var rerr *ReconciliationError
	assert.ErrorAs(t, err, &rerr)
}

func TestReconcileIdempotent(t *testing.T) {
	next := 0
	var own []RestingOrder
	targets := []strategy.Target{
		{Bid: 9950, Ask: 10050},
		{Bid: 9952, Ask: 10052},
		{Bid: 9952, Ask: 10010},
		{Bid: 1, Ask: 2},
	}
	for _, target := range targets {
		first, err := Reconcile(own, target, testCfg, ReconcileOptions{Strict: true})
		require.NoError(t, err)
		own = placeAll(t, own, first, &next)

		second, err := Reconcile(own, target, testCfg, ReconcileOptions{Strict: true})
		require.NoError(t, err)
		assert.Empty(t, second, "target %s", target)
		assert.Len(t, own, 2)
	}
}
