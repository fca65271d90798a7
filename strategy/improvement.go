package strategy

import (
	"fmt"
	"strconv"
	"strings"
)

// ImprovementKind 价格改善行为的种类。
type ImprovementKind uint8

const (
	ImproveIgnore ImprovementKind = iota
	ImproveJoin
	ImproveTicks
)

// MaxImproveTicks bounds Improve(n) so a typo cannot walk a quote across the book.
const MaxImproveTicks = 1000

// PriceImprovement 决定报价是否向盘口最优价靠拢：Ignore | Join | Improve(n)。
// 零值为 Ignore。
type PriceImprovement struct {
	kind  ImprovementKind
	ticks uint64
}

func Ignore() PriceImprovement { return PriceImprovement{kind: ImproveIgnore} }
func Join() PriceImprovement   { return PriceImprovement{kind: ImproveJoin} }

// Improve returns the policy that quotes n ticks better than the best price.
func Improve(n uint64) PriceImprovement {
	return PriceImprovement{kind: ImproveTicks, ticks: n}
}

func (p PriceImprovement) Kind() ImprovementKind { return p.kind }

// Ticks returns n for Improve(n) and 0 otherwise.
func (p PriceImprovement) Ticks() uint64 {
	if p.kind != ImproveTicks {
		return 0
	}
	return p.ticks
}

// Validate 检查参数范围。
func (p PriceImprovement) Validate() error {
	switch p.kind {
	case ImproveIgnore, ImproveJoin:
		return nil
	case ImproveTicks:
		if p.ticks == 0 || p.ticks > MaxImproveTicks {
			return fmt.Errorf("improve ticks must be in [1, %d], got %d", MaxImproveTicks, p.ticks)
		}
		return nil
	}
	return fmt.Errorf("unknown price improvement kind %d", p.kind)
}

func (p PriceImprovement) String() string {
	switch p.kind {
	case ImproveIgnore:
		return "ignore"
	case ImproveJoin:
		return "join"
	case ImproveTicks:
		return "improve:" + strconv.FormatUint(p.ticks, 10)
	}
	return "unknown"
}

// ParsePriceImprovement 解析 ignore / join / dime / improve:N。
// dime 等价于 improve:1。
func ParsePriceImprovement(v string) (PriceImprovement, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "", "ignore":
		return Ignore(), nil
	case "join":
		return Join(), nil
	case "dime":
		return Improve(1), nil
	}
	if rest, ok := strings.CutPrefix(s, "improve"); ok {
		rest = strings.TrimLeft(rest, ":(= ")
		rest = strings.TrimRight(rest, ")")
		n, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return PriceImprovement{}, fmt.Errorf("parse improve ticks %q: %w", v, err)
		}
		p := Improve(n)
		if err := p.Validate(); err != nil {
			return PriceImprovement{}, err
		}
		return p, nil
	}
	return PriceImprovement{}, fmt.Errorf("unknown price improvement %q", v)
}

// MarshalText/UnmarshalText 让策略参数可以直接写入 YAML/JSON/sqlite。
func (p PriceImprovement) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PriceImprovement) UnmarshalText(b []byte) error {
	parsed, err := ParsePriceImprovement(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
