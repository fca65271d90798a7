package engine

import (
	"errors"
	"fmt"
)

// State 单个报价周期的状态
type State int

const (
	StateIdle State = iota
	StateDeriving
	StateReconciling
	StateSubmitting
	StateSettled
	StateFailed
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeriving:
		return "deriving"
	case StateReconciling:
		return "reconciling"
	case StateSubmitting:
		return "submitting"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal 报告是否为一轮的终态
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

// transition 状态转换
type transition struct {
	From State
	To   State
}

// 所有合法的状态转换；终态只能回到 Idle。
var legalTransitions = map[transition]bool{
	{StateIdle, StateDeriving}: true,

	{StateDeriving, StateReconciling}: true,
	{StateDeriving, StateFailed}:      true,

	{StateReconciling, StateSubmitting}: true,
	{StateReconciling, StateSettled}:    true, // 空动作列表
	{StateReconciling, StateFailed}:     true,

	{StateSubmitting, StateSettled}: true,
	{StateSubmitting, StateFailed}:  true,

	{StateSettled, StateIdle}: true,
	{StateFailed, StateIdle}:  true,
}

// validateTransition 验证状态转换是否合法
func validateTransition(from, to State) error {
	if !legalTransitions[transition{From: from, To: to}] {
		return fmt.Errorf("illegal cycle transition: %s -> %s (allowed: %v)", from, to, AllowedTransitions(from))
	}
	return nil
}

// AllowedTransitions 返回 from 的所有合法目标状态（按状态值排序）
func AllowedTransitions(from State) []State {
	out := make([]State, 0, 2)
	for s := StateIdle; s <= StateFailed; s++ {
		if legalTransitions[transition{From: from, To: s}] {
			out = append(out, s)
		}
	}
	return out
}

// ErrCycleInFlight 上一轮尚未结束时再次调用 Update。
var ErrCycleInFlight = errors.New("engine: update cycle already in flight")

// SnapshotError 周期开始时读取交易所失败；此时尚未推导报价，也未提交任何动作。
type SnapshotError struct {
	Err error
}

func (e *SnapshotError) Error() string {
	return "exchange snapshot: " + e.Err.Error()
}

func (e *SnapshotError) Unwrap() error { return e.Err }
