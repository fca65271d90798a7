package sim

import (
	"context"
	"errors"
	"testing"

	"fairmm-go/market"
	"fairmm-go/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVenue(t *testing.T) (*Exchange, *Account) {
	t.Helper()
	ex, acct, err := Build(Config{
		Symbol:      "SOL-USDC",
		Trader:      "mm",
		Constraints: order.Constraints{MaxPrice: 1_000_000, MinSize: 1},
		Levels: []Level{
			{Owner: "lp", Side: "bid", Price: 9900, Size: 5},
			{Owner: "lp", Side: "ask", Price: 10100, Size: 5},
		},
	})
	require.NoError(t, err)
	return ex, acct
}

func submit(t *testing.T, acct *Account, actions ...order.Action) (order.Receipt, error) {
	t.Helper()
	view, err := acct.View(context.Background())
	require.NoError(t, err)
	return acct.Submit(context.Background(), order.NewBatch(view, acct.Trader(), true, actions))
}

func TestAccountViewExcludesOwnOrders(t *testing.T) {
	_, acct := newTestVenue(t)
	_, err := submit(t, acct,
		order.Place(market.SideBid, 9950, 10),
		order.Place(market.SideAsk, 10050, 10),
	)
	require.NoError(t, err)

	view, err := acct.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, market.BBO{Bid: 9900, Ask: 10100}, view.BBO)
	require.Len(t, view.Own, 2)
}

func TestSubmitPlacesAndCancels(t *testing.T) {
	ex, acct := newTestVenue(t)
	seq := ex.Sequence()

	rec, err := submit(t, acct, order.Place(market.SideBid, 9950, 10))
	require.NoError(t, err)
	require.Len(t, rec.Placed, 1)
	assert.Equal(t, seq+1, rec.Sequence)
	assert.NotEmpty(t, rec.Placed[0].ID)

	_, err = submit(t, acct,
		order.Cancel(rec.Placed[0]),
		order.Place(market.SideBid, 9952, 10),
	)
	require.NoError(t, err)
	own := ex.Orders("mm")
	require.Len(t, own, 1)
	assert.Equal(t, market.Ticks(9952), own[0].Price)
}

func TestSubmitIsAtomic(t *testing.T) {
	ex, acct := newTestVenue(t)
	rec, err := submit(t, acct, order.Place(market.SideBid, 9950, 10), order.Place(market.SideAsk, 10050, 10))
	require.NoError(t, err)
	before := ex.Orders("mm")
	seq := ex.Sequence()

	cases := map[string]struct {
		actions []order.Action
		reason  order.RejectReason
	}{
		"crossed": {
			actions: []order.Action{order.Cancel(rec.Placed[0]), order.Place(market.SideBid, 10100, 10)},
			reason:  order.RejectCrossed,
		},
		"price": {
			actions: []order.Action{order.Cancel(rec.Placed[0]), order.Place(market.SideBid, 2_000_000, 10)},
			reason:  order.RejectInvalidPrice,
		},
		"size": {
			actions: []order.Action{order.Cancel(rec.Placed[1]), order.Place(market.SideAsk, 10060, 0)},
			reason:  order.RejectInvalidSize,
		},
		"missing cancel": {
			actions: []order.Action{order.Cancel(rec.Placed[0]), order.Cancel(order.RestingOrder{ID: "nope"})},
			reason:  order.RejectStale,
		},
	}
	for name, tc := range cases {
		_, err := submit(t, acct, tc.actions...)
		var serr *order.SubmissionError
		require.ErrorAs(t, err, &serr, name)
		assert.Equal(t, tc.reason, serr.Reason, name)
		assert.Equal(t, before, ex.Orders("mm"), name)
		assert.Equal(t, seq, ex.Sequence(), name)
	}
}

func TestSubmitRejectsStaleSequence(t *testing.T) {
	ex, acct := newTestVenue(t)
	view, err := acct.View(context.Background())
	require.NoError(t, err)

	ex.Seed("lp", market.SideBid, 9800, 1)
	_, err = acct.Submit(context.Background(), order.NewBatch(view, "mm", true, []order.Action{order.Place(market.SideBid, 9950, 1)}))
	var serr *order.SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, order.RejectStale, serr.Reason)
	assert.Empty(t, ex.Orders("mm"))
}

func TestSubmitFundsAndInjectedFailure(t *testing.T) {
	ex, acct := newTestVenue(t)
	ex.SetFunds("mm", 15)

	_, err := submit(t, acct, order.Place(market.SideBid, 9950, 10), order.Place(market.SideAsk, 10050, 10))
	var serr *order.SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, order.RejectInsufficientFunds, serr.Reason)

	ex.FailNext(order.RejectUnknown)
	_, err = submit(t, acct, order.Place(market.SideBid, 9950, 10))
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, order.RejectUnknown, serr.Reason)

	_, err = submit(t, acct, order.Place(market.SideBid, 9950, 10))
	require.NoError(t, err)
	assert.Equal(t, 3, ex.Submitted())
}

func TestFillAndViewFailure(t *testing.T) {
	ex, acct := newTestVenue(t)
	rec, err := submit(t, acct, order.Place(market.SideBid, 9950, 10))
	require.NoError(t, err)

	require.NoError(t, ex.Fill(rec.Placed[0].ID, 4))
	own := ex.Orders("mm")
	require.Len(t, own, 1)
	assert.Equal(t, uint64(6), own[0].Size)
	require.NoError(t, ex.Fill(rec.Placed[0].ID, 6))
	assert.Empty(t, ex.Orders("mm"))
	assert.Error(t, ex.Fill("missing", 1))

	boom := errors.New("rpc down")
	ex.FailViews(boom)
	_, err = acct.View(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestBuildRejectsBadLevels(t *testing.T) {
	_, _, err := Build(Config{Symbol: "X", Trader: "mm", Levels: []Level{{Owner: "mm", Side: "bid", Price: 1, Size: 1}}})
	assert.Error(t, err)
	_, _, err = Build(Config{Symbol: "X", Trader: "mm", Levels: []Level{{Owner: "lp", Side: "up", Price: 1, Size: 1}}})
	assert.Error(t, err)
	_, _, err = Build(Config{Symbol: "X"})
	assert.Error(t, err)
}
