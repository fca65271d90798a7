package order

import (
	"fmt"

	"fairmm-go/market"
)

// Constraints 描述交易对的价格与数量限制（均为整数单位）。
type Constraints struct {
	MaxPrice market.Ticks `yaml:"maxPriceTicks" json:"maxPriceTicks"` // 0 表示不限制
	SizeStep uint64       `yaml:"sizeStep" json:"sizeStep"`
	MinSize  uint64       `yaml:"minSize" json:"minSize"`
	MaxSize  uint64       `yaml:"maxSize" json:"maxSize"`
}

// ValidatePrice 检查价格是否在 (0, MaxPrice] 内。
func (c Constraints) ValidatePrice(price market.Ticks) error {
	if price == 0 {
		return fmt.Errorf("price must be > 0")
	}
	if c.MaxPrice > 0 && price > c.MaxPrice {
		return fmt.Errorf("price %d > maxPrice %d", price, c.MaxPrice)
	}
	return nil
}

// ValidateSize 检查数量是否符合步长与上下限。
func (c Constraints) ValidateSize(size uint64) error {
	if size == 0 {
		return fmt.Errorf("size must be > 0")
	}
	if c.SizeStep > 0 && size%c.SizeStep != 0 {
		return fmt.Errorf("size %d not aligned to sizeStep %d", size, c.SizeStep)
	}
	if c.MinSize > 0 && size < c.MinSize {
		return fmt.Errorf("size %d < minSize %d", size, c.MinSize)
	}
	if c.MaxSize > 0 && size > c.MaxSize {
		return fmt.Errorf("size %d > maxSize %d", size, c.MaxSize)
	}
	return nil
}

// Validate 检查挂单价格与数量。
func (c Constraints) Validate(price market.Ticks, size uint64) error {
	if err := c.ValidatePrice(price); err != nil {
		return err
	}
	return c.ValidateSize(size)
}
