package strategy

import "fmt"

// ConfigurationError 初始化参数非法；在创建任何状态之前返回。
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid strategy config: %s %s", e.Field, e.Reason)
}

// DerivationError 表示给定输入下不存在满足 bid < ask 的 tick 价格对。
// 此时本轮不会与交易所交互。
type DerivationError struct {
	Reason string
	Bid    int64
	Ask    int64
}

func (e *DerivationError) Error() string {
	if e.Bid == 0 && e.Ask == 0 {
		return "derive quotes: " + e.Reason
	}
	return fmt.Sprintf("derive quotes: %s (bid=%d ask=%d)", e.Reason, e.Bid, e.Ask)
}

func derivationErr(reason string) *DerivationError {
	return &DerivationError{Reason: reason}
}
