package order

import (
	"sort"

	"fairmm-go/market"
)

// Book 本策略挂单的只读集合，按 ID 索引。
type Book struct {
	orders map[string]RestingOrder
}

// NewBook copies orders into a Book. Later duplicates overwrite earlier ones;
// use Reconcile when duplicates must be reported.
func NewBook(orders []RestingOrder) Book {
	b := Book{orders: make(map[string]RestingOrder, len(orders))}
	for _, o := range orders {
		b.orders[o.ID] = o
	}
	return b
}

func (b Book) Get(id string) (RestingOrder, bool) {
	o, ok := b.orders[id]
	return o, ok
}

func (b Book) Len() int { return len(b.orders) }

// List 返回按 ID 排序的全部挂单（拷贝）。
func (b Book) List() []RestingOrder {
	res := make([]RestingOrder, 0, len(b.orders))
	for _, o := range b.orders {
		res = append(res, o)
	}
	sortOrders(res)
	return res
}

// Side returns the orders on one side, sorted by ID.
func (b Book) Side(side market.Side) []RestingOrder {
	res := make([]RestingOrder, 0, 1)
	for _, o := range b.orders {
		if o.Side == side {
			res = append(res, o)
		}
	}
	sortOrders(res)
	return res
}

// Equal 判断两个集合是否完全一致（ID、方向、价格、数量）。
func (b Book) Equal(other Book) bool {
	if len(b.orders) != len(other.orders) {
		return false
	}
	for id, o := range b.orders {
		if p, ok := other.orders[id]; !ok || p != o {
			return false
		}
	}
	return true
}

// Diff 返回仅在 b 中、仅在 other 中以及两边都有但内容不同的订单 ID。
func (b Book) Diff(other Book) (removed, added, changed []string) {
	for id, o := range b.orders {
		p, ok := other.orders[id]
		switch {
		case !ok:
			removed = append(removed, id)
		case p != o:
			changed = append(changed, id)
		}
	}
	for id := range other.orders {
		if _, ok := b.orders[id]; !ok {
			added = append(added, id)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)
	sort.Strings(changed)
	return removed, added, changed
}

// Apply 返回执行 actions 之后的集合；placed 为交易所分配的新订单。
// 用于模拟一次成功的提交。
func (b Book) Apply(actions []Action, placed []RestingOrder) Book {
	next := Book{orders: make(map[string]RestingOrder, len(b.orders)+len(placed))}
	for id, o := range b.orders {
		next.orders[id] = o
	}
	for _, a := range actions {
		if a.Kind == ActionCancel {
			delete(next.orders, a.OrderID)
		}
	}
	for _, o := range placed {
		next.orders[o.ID] = o
	}
	return next
}

func sortOrders(orders []RestingOrder) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}
