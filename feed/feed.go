// Package feed 提供外部 fair price 来源：HTTP、WebSocket、Redis 与固定值。
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Source 每轮提供一个正的 fair price。调用节奏由驱动循环控制。
type Source interface {
	FairPrice(ctx context.Context) (decimal.Decimal, error)
}

var (
	// ErrStale 最近一次价格过旧或尚未收到任何价格。
	ErrStale = errors.New("feed: price is stale")
	// ErrInvalidPrice 来源返回了非正价格。
	ErrInvalidPrice = errors.New("feed: price must be > 0")
)

func checkPositive(p decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: got %s", ErrInvalidPrice, p)
	}
	return p, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return checkPositive(p)
}

// Static 固定价格，可在运行中修改；用于测试与 paper 模式。
type Static struct {
	mu    sync.RWMutex
	price decimal.Decimal
}

func NewStatic(price decimal.Decimal) *Static {
	return &Static{price: price}
}

func (s *Static) Set(price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
}

func (s *Static) FairPrice(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return checkPositive(s.price)
}
