package market

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Ticks 交易所定点价格单位（价格 = Ticks * TickSize）。
type Ticks uint64

// MaxTicks is the largest price representable in ticks.
const MaxTicks = Ticks(math.MaxUint64)

// Side 订单方向。
type Side uint8

const (
	SideBid Side = iota + 1
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the two book sides.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// Opposite 返回对手方向。
func (s Side) Opposite() Side {
	switch s {
	case SideBid:
		return SideAsk
	case SideAsk:
		return SideBid
	default:
		return s
	}
}

// ParseSide accepts bid/ask as well as the BUY/SELL spelling used by most venues.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "bid", "buy", "b":
		return SideBid, nil
	case "ask", "sell", "s", "offer":
		return SideAsk, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

// Params 描述单个交易对的价格精度与本策略的参与者标识。
type Params struct {
	Symbol        string
	TickSize      decimal.Decimal // 报价货币 / 基础货币单位
	MaxPriceTicks Ticks           // 0 表示不限制（MaxTicks）
	Trader        string          // 本策略在交易所的参与者 ID，用于自成交排除
}

// Validate 检查交易对参数。
func (p Params) Validate() error {
	if p.Symbol == "" {
		return errors.New("market symbol is required")
	}
	if !p.TickSize.IsPositive() {
		return fmt.Errorf("market %s tickSize must be > 0", p.Symbol)
	}
	if p.Trader == "" {
		return fmt.Errorf("market %s trader is required", p.Symbol)
	}
	return nil
}

// PriceCap returns the highest valid price in ticks.
func (p Params) PriceCap() Ticks {
	if p.MaxPriceTicks == 0 {
		return MaxTicks
	}
	return p.MaxPriceTicks
}

// PriceOf 将 tick 换算回价格。
func (p Params) PriceOf(t Ticks) decimal.Decimal {
	return TicksDecimal(t).Mul(p.TickSize)
}

// FloorCeil 精确计算 price/TickSize 的下取整与上取整（不经过浮点）。
// ok is false when the price is negative or does not fit in Ticks.
func (p Params) FloorCeil(price decimal.Decimal) (floor, ceil Ticks, ok bool) {
	if !p.TickSize.IsPositive() || price.IsNegative() {
		return 0, 0, false
	}
	q, r := price.QuoRem(p.TickSize, 0)
	if floor, ok = toTicks(q); !ok {
		return 0, 0, false
	}
	ceil = floor
	if !r.IsZero() {
		if floor == MaxTicks {
			return 0, 0, false
		}
		ceil++
	}
	return floor, ceil, true
}

// TicksDecimal converts t to a decimal without going through float64.
func TicksDecimal(t Ticks) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(t)), 0)
}

var maxTicksDecimal = TicksDecimal(MaxTicks)

func toTicks(whole decimal.Decimal) (Ticks, bool) {
	if whole.GreaterThan(maxTicksDecimal) {
		return 0, false
	}
	return Ticks(whole.BigInt().Uint64()), true
}

// BBO 其他参与者的最优买卖价；0 表示该侧为空。
type BBO struct {
	Bid Ticks
	Ask Ticks
}

func (b BBO) HasBid() bool { return b.Bid > 0 }
func (b BBO) HasAsk() bool { return b.Ask > 0 }

// Best returns the best price for side and whether that side has liquidity.
func (b BBO) Best(side Side) (Ticks, bool) {
	switch side {
	case SideBid:
		return b.Bid, b.HasBid()
	case SideAsk:
		return b.Ask, b.HasAsk()
	}
	return 0, false
}

// Crossed 报告盘口本身是否交叉。
func (b BBO) Crossed() bool {
	return b.HasBid() && b.HasAsk() && b.Bid >= b.Ask
}
