package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fairmm-go/market"
	"fairmm-go/order"

	"github.com/google/uuid"
)

type entry struct {
	owner string
	order.RestingOrder
}

type state struct {
	seq    uint64
	orders map[string]entry
}

func (s *state) clone() *state {
	c := &state{seq: s.seq, orders: make(map[string]entry, len(s.orders))}
	for id, e := range s.orders {
		c.orders[id] = e
	}
	return c
}

// levels 由挂单聚合出按参与者区分的盘口。
func (s *state) levels() *market.OrderBook {
	ob := market.NewOrderBook()
	for _, e := range s.orders {
		ob.Add(e.Side, e.owner, e.Price, e.Size)
	}
	return ob
}

func (s *state) locked(owner string) uint64 {
	var total uint64
	for _, e := range s.orders {
		if e.owner == owner {
			total += e.Size
		}
	}
	return total
}

// Exchange 内存撮合簿（不撮合）：用于测试与 paper 模式。
// Submit 在副本上逐条校验，全部通过后整体替换，任何一条失败则原状态不变。
type Exchange struct {
	mu          sync.Mutex
	symbol      string
	constraints order.Constraints
	funds       map[string]uint64 // 0 或缺失表示不限制
	st          *state

	failNext  *order.RejectReason
	viewErr   error
	submitted int
}

// NewExchange creates an empty paper venue for symbol.
func NewExchange(symbol string, constraints order.Constraints) *Exchange {
	return &Exchange{
		symbol:      symbol,
		constraints: constraints,
		funds:       make(map[string]uint64),
		st:          &state{orders: make(map[string]entry)},
	}
}

// Symbol returns the traded symbol.
func (e *Exchange) Symbol() string { return e.symbol }

// SetFunds 设置参与者可锁定的总数量；每个挂单锁定其剩余数量。
func (e *Exchange) SetFunds(owner string, amount uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funds[owner] = amount
}

// Seed 以 owner 身份直接挂单（第三方流动性），返回订单 ID。
func (e *Exchange) Seed(owner string, side market.Side, price market.Ticks, size uint64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	e.st.orders[id] = entry{owner: owner, RestingOrder: order.RestingOrder{ID: id, Side: side, Price: price, Size: size}}
	e.st.seq++
	return id
}

// Fill 模拟成交 qty；成交完毕的订单从簿上移除。
func (e *Exchange) Fill(id string, qty uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.st.orders[id]
	if !ok {
		return fmt.Errorf("order %s not found", id)
	}
	if qty >= en.Size {
		delete(e.st.orders, id)
	} else {
		en.Size -= qty
		e.st.orders[id] = en
	}
	e.st.seq++
	return nil
}

// Remove 在策略之外撤掉一个订单（模拟外部撤单）。
func (e *Exchange) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.st.orders[id]; !ok {
		return false
	}
	delete(e.st.orders, id)
	e.st.seq++
	return true
}

// FailNext makes the next Submit fail with reason without touching state.
func (e *Exchange) FailNext(reason order.RejectReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = &reason
}

// FailViews makes View return err until called again with nil.
func (e *Exchange) FailViews(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewErr = err
}

// Sequence 当前序号；任何状态变化都会递增。
func (e *Exchange) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.seq
}

// Submitted returns how many batches reached Submit.
func (e *Exchange) Submitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitted
}

// Orders 返回 owner 的挂单（按 ID 排序）。
func (e *Exchange) Orders(owner string) []order.RestingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ordersOf(owner)
}

func (e *Exchange) ordersOf(owner string) []order.RestingOrder {
	res := make([]order.RestingOrder, 0, 2)
	for _, en := range e.st.orders {
		if en.owner == owner {
			res = append(res, en.RestingOrder)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Account returns the order.Exchange view of the venue for trader.
func (e *Exchange) Account(trader string) *Account {
	return &Account{ex: e, trader: trader}
}

func (e *Exchange) view(trader string) (order.BookView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.viewErr != nil {
		return order.BookView{}, e.viewErr
	}
	return order.BookView{
		Symbol:   e.symbol,
		Sequence: e.st.seq,
		BBO:      e.st.levels().BestExcluding(trader),
		Own:      e.ordersOf(trader),
	}, nil
}

func (e *Exchange) submit(trader string, b order.Batch) (order.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted++

	if e.failNext != nil {
		reason := *e.failNext
		e.failNext = nil
		return order.Receipt{}, order.Reject(b, reason, "injected failure")
	}
	if b.Symbol != e.symbol {
		return order.Receipt{}, order.Reject(b, order.RejectUnknown, "symbol %q not traded here", b.Symbol)
	}
	if b.Trader != "" && b.Trader != trader {
		return order.Receipt{}, order.Reject(b, order.RejectUnknown, "batch trader %q does not match account %q", b.Trader, trader)
	}
	if b.ExpectedSequence != e.st.seq {
		return order.Receipt{}, order.Reject(b, order.RejectStale, "expected sequence %d, book at %d", b.ExpectedSequence, e.st.seq)
	}

	next := e.st.clone()
	placed := make([]order.RestingOrder, 0, 2)
	for _, a := range b.Actions {
		switch a.Kind {
		case order.ActionCancel:
			en, ok := next.orders[a.OrderID]
			if !ok || en.owner != trader {
				return order.Receipt{}, order.Reject(b, order.RejectStale, "order %s not resting", a.OrderID)
			}
			delete(next.orders, a.OrderID)
		case order.ActionPlace:
			if !a.Side.Valid() {
				return order.Receipt{}, order.Reject(b, order.RejectUnknown, "unknown side %d", a.Side)
			}
			if err := e.constraints.ValidatePrice(a.Price); err != nil {
				return order.Receipt{}, order.Reject(b, order.RejectInvalidPrice, "%v", err)
			}
			if err := e.constraints.ValidateSize(a.Size); err != nil {
				return order.Receipt{}, order.Reject(b, order.RejectInvalidSize, "%v", err)
			}
			if opp, ok := next.levels().Best().Best(a.Side.Opposite()); ok && crosses(a.Side, a.Price, opp) {
				return order.Receipt{}, order.Reject(b, order.RejectCrossed, "%s %d crosses %d", a.Side, a.Price, opp)
			}
			ro := order.RestingOrder{ID: uuid.NewString(), Side: a.Side, Price: a.Price, Size: a.Size}
			next.orders[ro.ID] = entry{owner: trader, RestingOrder: ro}
			placed = append(placed, ro)
		default:
			return order.Receipt{}, order.Reject(b, order.RejectUnknown, "unknown action kind %d", a.Kind)
		}
	}
	if limit := e.funds[trader]; limit > 0 {
		if need := next.locked(trader); need > limit {
			return order.Receipt{}, order.Reject(b, order.RejectInsufficientFunds, "need %d, have %d", need, limit)
		}
	}

	next.seq++
	e.st = next
	return order.Receipt{BatchID: b.ID, Sequence: next.seq, Placed: placed}, nil
}

// 不做撮合：任何会立即成交的挂单（包括与自身对手盘）一律拒绝。
func crosses(side market.Side, price, opposite market.Ticks) bool {
	if side == market.SideBid {
		return price >= opposite
	}
	return price <= opposite
}

// Account 以某个参与者身份访问 Exchange，实现 order.Exchange。
type Account struct {
	ex     *Exchange
	trader string
}

var _ order.Exchange = (*Account)(nil)

func (a *Account) Trader() string { return a.trader }

func (a *Account) View(ctx context.Context) (order.BookView, error) {
	if err := ctx.Err(); err != nil {
		return order.BookView{}, err
	}
	return a.ex.view(a.trader)
}

func (a *Account) Submit(ctx context.Context, b order.Batch) (order.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return order.Receipt{}, err
	}
	return a.ex.submit(a.trader, b)
}
