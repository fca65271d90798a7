package order

import (
	"fmt"
	"strings"
)

// ReconciliationError 挂单集合违反内部不变量；本轮中止，不猜测意图。
type ReconciliationError struct {
	Reason  string
	OrderID string
}

func (e *ReconciliationError) Error() string {
	if e.OrderID == "" {
		return "reconcile: " + e.Reason
	}
	return fmt.Sprintf("reconcile: %s (order %s)", e.Reason, e.OrderID)
}

// RejectReason 交易所拒绝批次的原因。
type RejectReason uint8

const (
	RejectUnknown RejectReason = iota
	RejectStale
	RejectCrossed
	RejectInsufficientFunds
	RejectInvalidPrice
	RejectInvalidSize
)

var rejectNames = map[RejectReason]string{
	RejectUnknown:           "unknown",
	RejectStale:             "stale",
	RejectCrossed:           "crossed",
	RejectInsufficientFunds: "insufficient_funds",
	RejectInvalidPrice:      "invalid_price",
	RejectInvalidSize:       "invalid_size",
}

func (r RejectReason) String() string {
	if s, ok := rejectNames[r]; ok {
		return s
	}
	return "unknown"
}

// ParseRejectReason maps a wire code to a RejectReason; unrecognised codes map to RejectUnknown.
func ParseRejectReason(code string) RejectReason {
	c := strings.ToLower(strings.TrimSpace(code))
	for r, name := range rejectNames {
		if name == c {
			return r
		}
	}
	return RejectUnknown
}

// SubmissionError 交易所原子拒绝整个批次；自身挂单保持提交前的状态。
type SubmissionError struct {
	BatchID string
	Reason  RejectReason
	Message string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("batch %s rejected: %s: %s", e.BatchID, e.Reason, e.Message)
}

// Reject is shorthand for building a *SubmissionError.
func Reject(batch Batch, reason RejectReason, format string, args ...any) *SubmissionError {
	return &SubmissionError{BatchID: batch.ID.String(), Reason: reason, Message: fmt.Sprintf(format, args...)}
}
