package sim

import (
	"fmt"

	"fairmm-go/market"
	"fairmm-go/order"
)

// Level 预置的第三方挂单。
type Level struct {
	Owner string `yaml:"owner"`
	Side  string `yaml:"side"`
	Price uint64 `yaml:"price"`
	Size  uint64 `yaml:"size"`
}

// Config 描述 paper 交易所的初始状态。
type Config struct {
	Symbol      string
	Trader      string
	Funds       uint64 // 本策略可锁定的总数量，0 表示不限制
	Constraints order.Constraints
	Levels      []Level
}

// Build 基于配置组装 paper 交易所，并返回本策略的账户视图。
func Build(cfg Config) (*Exchange, *Account, error) {
	if cfg.Symbol == "" || cfg.Trader == "" {
		return nil, nil, fmt.Errorf("sim: symbol and trader are required")
	}
	ex := NewExchange(cfg.Symbol, cfg.Constraints)
	if cfg.Funds > 0 {
		ex.SetFunds(cfg.Trader, cfg.Funds)
	}
	for i, lv := range cfg.Levels {
		side, err := market.ParseSide(lv.Side)
		if err != nil {
			return nil, nil, fmt.Errorf("sim level %d: %w", i, err)
		}
		if lv.Owner == "" || lv.Owner == cfg.Trader {
			return nil, nil, fmt.Errorf("sim level %d: owner must be a third party", i)
		}
		if err := cfg.Constraints.Validate(market.Ticks(lv.Price), lv.Size); err != nil {
			return nil, nil, fmt.Errorf("sim level %d: %w", i, err)
		}
		ex.Seed(lv.Owner, side, market.Ticks(lv.Price), lv.Size)
	}
	return ex, ex.Account(cfg.Trader), nil
}
