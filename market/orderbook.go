package market

import "sync"

// OrderBook 维护按价格、按参与者聚合的挂单数量：price -> owner -> qty。
// 自成交排除依赖 owner 维度。
type OrderBook struct {
	mu   sync.RWMutex
	bids map[Ticks]map[string]uint64
	asks map[Ticks]map[string]uint64
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: make(map[Ticks]map[string]uint64),
		asks: make(map[Ticks]map[string]uint64),
	}
}

// Add 在现有数量上累加（挂单）。
func (ob *OrderBook) Add(side Side, owner string, price Ticks, qty uint64) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	levels := ob.levels(side)
	if levels == nil || qty == 0 {
		return
	}
	byOwner, ok := levels[price]
	if !ok {
		byOwner = make(map[string]uint64)
		levels[price] = byOwner
	}
	byOwner[owner] += qty
}

// Best 返回最好买/卖价；若不存在则为 0。
func (ob *OrderBook) Best() BBO {
	return ob.BestExcluding("")
}

// BestExcluding returns the best bid/ask resting from anyone other than owner.
func (ob *OrderBook) BestExcluding(owner string) BBO {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	var bbo BBO
	for p, byOwner := range ob.bids {
		if p > bbo.Bid && hasOther(byOwner, owner) {
			bbo.Bid = p
		}
	}
	for p, byOwner := range ob.asks {
		if (bbo.Ask == 0 || p < bbo.Ask) && hasOther(byOwner, owner) {
			bbo.Ask = p
		}
	}
	return bbo
}

func (ob *OrderBook) levels(side Side) map[Ticks]map[string]uint64 {
	switch side {
	case SideBid:
		return ob.bids
	case SideAsk:
		return ob.asks
	}
	return nil
}

func hasOther(byOwner map[string]uint64, owner string) bool {
	if owner == "" {
		return len(byOwner) > 0
	}
	for o, q := range byOwner {
		if o != owner && q > 0 {
			return true
		}
	}
	return false
}
