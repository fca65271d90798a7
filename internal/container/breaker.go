package container

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	// BreakerClosed 正常报价
	BreakerClosed BreakerState = iota
	// BreakerOpen 暂停报价
	BreakerOpen
	// BreakerHalfOpen 冷却结束，放行一轮试探
	BreakerHalfOpen
)

// String 返回状态名称
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// HaltedError 熔断期间跳过的周期
type HaltedError struct {
	Remaining time.Duration
}

func (e *HaltedError) Error() string {
	return fmt.Sprintf("quoting halted after consecutive failures, resumes in %s", e.Remaining.Truncate(time.Millisecond))
}

// CycleBreaker 连续失败 threshold 轮后暂停驱动 cooldown；
// 冷却后放行一轮，成功则恢复，失败则再次暂停。不会重放失败的周期。
type CycleBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	openTime        time.Time
	trips           int
}

// NewCycleBreaker 创建熔断器；threshold <= 0 时返回 nil（不启用）。
func NewCycleBreaker(threshold int, cooldown time.Duration) *CycleBreaker {
	if threshold <= 0 {
		return nil
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CycleBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow 检查本轮是否可以执行
func (b *CycleBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return nil
	}
	elapsed := b.now().Sub(b.openTime)
	if elapsed >= b.cooldown {
		b.state = BreakerHalfOpen
		return nil
	}
	return &HaltedError{Remaining: b.cooldown - elapsed}
}

// Record 记录一轮的结果；返回 true 表示本次记录使熔断器打开。
func (b *CycleBreaker) Record(err error) (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutiveFail = 0
		b.state = BreakerClosed
		return false
	}
	b.consecutiveFail++
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.consecutiveFail >= b.threshold) {
		b.state = BreakerOpen
		b.openTime = b.now()
		b.trips++
		return true
	}
	return false
}

// GetState 返回当前状态
func (b *CycleBreaker) GetState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trips 返回累计熔断次数
func (b *CycleBreaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Reset 手动恢复
func (b *CycleBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.consecutiveFail = 0
}
