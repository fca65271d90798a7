package order

import (
	"fmt"

	"fairmm-go/market"
	"fairmm-go/strategy"
)

// ReconcileOptions 对账选项。
type ReconcileOptions struct {
	// Strict 为 true 时，同一方向出现多于一个挂单视为不变量被破坏并中止本轮；
	// 默认会把多余的挂单一并撤掉。
	Strict bool
}

var reconcileSides = [...]market.Side{market.SideBid, market.SideAsk}

// Reconcile 对比期望报价与当前挂单，生成最少的动作列表：
//   - 某方向已有价格恰好等于目标且数量 >= QuoteSize 的挂单时保留它（多个时取 ID 最小者），
//     撤掉该方向其余挂单；
//   - 否则撤掉该方向全部挂单，再按目标价下 QuoteSize。
//
// 所有 Cancel（先买后卖）排在所有 Place（先买后卖）之前。返回的列表需要整体原子提交。
func Reconcile(own []RestingOrder, target strategy.Target, cfg strategy.Config, opts ReconcileOptions) ([]Action, error) {
	if !target.Valid() {
		return nil, &ReconciliationError{Reason: fmt.Sprintf("invalid target %s", target)}
	}
	if cfg.QuoteSize == 0 {
		return nil, &ReconciliationError{Reason: "quote size must be > 0"}
	}

	seen := make(map[string]struct{}, len(own))
	for _, o := range own {
		if o.ID == "" {
			return nil, &ReconciliationError{Reason: "resting order without id"}
		}
		if _, dup := seen[o.ID]; dup {
			return nil, &ReconciliationError{Reason: "duplicate order id", OrderID: o.ID}
		}
		seen[o.ID] = struct{}{}
		if !o.Side.Valid() {
			return nil, &ReconciliationError{Reason: fmt.Sprintf("unknown side %d", o.Side), OrderID: o.ID}
		}
		if o.Size == 0 {
			return nil, &ReconciliationError{Reason: "resting order with zero size", OrderID: o.ID}
		}
	}

	book := NewBook(own)
	var cancels, places []Action
	for _, side := range reconcileSides {
		orders := book.Side(side)
		if opts.Strict && len(orders) > 1 {
			return nil, &ReconciliationError{Reason: fmt.Sprintf("%d resting orders on %s side", len(orders), side), OrderID: orders[1].ID}
		}
		price := target.Price(side)
		keep := -1
		for i, o := range orders {
			if o.Price == price && o.Size >= cfg.QuoteSize {
				keep = i
				break
			}
		}
		for i, o := range orders {
			if i != keep {
				cancels = append(cancels, Cancel(o))
			}
		}
		if keep < 0 {
			places = append(places, Place(side, price, cfg.QuoteSize))
		}
	}
	return append(cancels, places...), nil
}
