package strategy

import (
	"fmt"

	"fairmm-go/market"

	"github.com/shopspring/decimal"
)

// Target 本轮期望的买卖报价（tick）。不变量：Bid < Ask。
type Target struct {
	Bid market.Ticks
	Ask market.Ticks
}

// Price returns the target price for side.
func (t Target) Price(side market.Side) market.Ticks {
	if side == market.SideAsk {
		return t.Ask
	}
	return t.Bid
}

// Spread 返回买卖价差（tick）。
func (t Target) Spread() market.Ticks {
	if t.Ask <= t.Bid {
		return 0
	}
	return t.Ask - t.Bid
}

// Valid reports whether the pair is non-zero and uncrossed.
func (t Target) Valid() bool {
	return t.Bid > 0 && t.Bid < t.Ask
}

func (t Target) String() string {
	return fmt.Sprintf("%d/%d", t.Bid, t.Ask)
}

const bpsDenominatorShift = -4 // x * bps / 10000

// Derive 将 fair price 映射为期望报价：
//  1. 按 edgeBps 计算整 tick 的 edge，买价向下、卖价向上取整；
//  2. 按改善策略向其他参与者的最优价靠拢（bbo 不含自身挂单）；
//  3. 交叉时向中点收拢，卖价取中点 tick，买价在其下一 tick；
//  4. postOnly 时夹到对手最优价一 tick 之外。
//
// 纯函数：相同输入总是得到相同输出，不访问网络。
func Derive(fair decimal.Decimal, cfg Config, params market.Params, bbo market.BBO) (Target, error) {
	if err := cfg.Validate(); err != nil {
		return Target{}, err
	}
	if !fair.IsPositive() {
		return Target{}, derivationErr(fmt.Sprintf("fair price must be > 0, got %s", fair))
	}
	if !params.TickSize.IsPositive() {
		return Target{}, derivationErr("tick size must be > 0")
	}

	floorFair, ceilFair, ok := params.FloorCeil(fair)
	if !ok {
		return Target{}, derivationErr(fmt.Sprintf("fair price %s out of tick range", fair))
	}
	edgeAmount := fair.Mul(decimal.NewFromInt(int64(cfg.EdgeBps))).Shift(bpsDenominatorShift)
	edge, _, ok := params.FloorCeil(edgeAmount)
	if !ok {
		return Target{}, derivationErr("edge out of tick range")
	}

	var t Target
	if edge < floorFair {
		t.Bid = floorFair - edge
	}
	if ceilFair > market.MaxTicks-edge {
		return Target{}, derivationErr("ask exceeds price representation")
	}
	t.Ask = ceilFair + edge

	t = applyImprovement(t, cfg.Improvement, bbo)

	if t.Bid >= t.Ask {
		var err error
		if t, err = collapse(t); err != nil {
			return Target{}, err
		}
	}

	if cfg.PostOnly {
		if bbo.HasAsk() && t.Bid >= bbo.Ask {
			t.Bid = bbo.Ask - 1
		}
		if bbo.HasBid() && t.Ask <= bbo.Bid {
			t.Ask = bbo.Bid + 1
		}
	}

	if t.Bid == 0 {
		return Target{}, &DerivationError{Reason: "no positive bid tick", Bid: int64(t.Bid), Ask: int64(t.Ask)}
	}
	if t.Bid >= t.Ask {
		return Target{}, &DerivationError{Reason: "crossed quotes", Bid: int64(t.Bid), Ask: int64(t.Ask)}
	}
	if t.Ask > params.PriceCap() {
		return Target{}, &DerivationError{Reason: "ask above price cap", Bid: int64(t.Bid), Ask: int64(t.Ask)}
	}
	return t, nil
}

// applyImprovement 只在报价劣于他人最优价时生效。
func applyImprovement(t Target, p PriceImprovement, bbo market.BBO) Target {
	joinBid := bbo.HasBid() && t.Bid < bbo.Bid
	joinAsk := bbo.HasAsk() && t.Ask > bbo.Ask
	if !joinBid && !joinAsk {
		return t
	}
	switch p.Kind() {
	case ImproveJoin:
		if joinBid {
			t.Bid = bbo.Bid
		}
		if joinAsk {
			t.Ask = bbo.Ask
		}
	case ImproveTicks:
		// 从 n 开始逐 tick 收缩，直到 bid < ask；收缩到 0 即退化为 Join。
		for k := market.Ticks(p.Ticks()); ; k-- {
			c := t
			if joinBid {
				if bbo.Bid > market.MaxTicks-k {
					continue
				}
				c.Bid = bbo.Bid + k
			}
			if joinAsk {
				if bbo.Ask <= k {
					continue
				}
				c.Ask = bbo.Ask - k
			}
			if c.Bid < c.Ask || k == 0 {
				return c
			}
		}
	}
	return t
}

// collapse 将交叉的报价向中点收拢到相邻两个 tick：ask 取中点，bid = ask-1。
func collapse(t Target) (Target, error) {
	lo, hi := t.Ask, t.Bid
	var bid market.Ticks
	if hi == lo {
		if lo == 0 {
			return Target{}, &DerivationError{Reason: "no valid tick below midpoint", Bid: int64(t.Bid), Ask: int64(t.Ask)}
		}
		bid = lo - 1
	} else {
		bid = lo + (hi-lo-1)/2
	}
	if bid < 1 {
		return Target{}, &DerivationError{Reason: "no valid tick below midpoint", Bid: int64(t.Bid), Ask: int64(t.Ask)}
	}
	return Target{Bid: bid, Ask: bid + 1}, nil
}
