package order

import (
	"context"
	"fmt"

	"fairmm-go/market"

	"github.com/google/uuid"
)

// RestingOrder 交易所上属于本策略的挂单；以交易所为准，每轮重新读取。
type RestingOrder struct {
	ID    string       `json:"id"`
	Side  market.Side  `json:"side"`
	Price market.Ticks `json:"price"`
	Size  uint64       `json:"size"` // 剩余数量
}

func (o RestingOrder) String() string {
	return fmt.Sprintf("%s %s %d@%d", o.ID, o.Side, o.Size, o.Price)
}

// ActionKind 动作类型。
type ActionKind uint8

const (
	ActionCancel ActionKind = iota + 1
	ActionPlace
)

func (k ActionKind) String() string {
	switch k {
	case ActionCancel:
		return "cancel"
	case ActionPlace:
		return "place"
	default:
		return "unknown"
	}
}

// Action 是批量指令中的一项：Cancel(id) 或 Place(side, price, size)。
// Cancel 也带上原订单的方向与价格，便于日志与统计。
type Action struct {
	Kind     ActionKind   `json:"kind"`
	OrderID  string       `json:"orderId,omitempty"`
	ClientID string       `json:"clientId,omitempty"`
	Side     market.Side  `json:"side"`
	Price    market.Ticks `json:"price"`
	Size     uint64       `json:"size,omitempty"`
}

// Cancel builds a cancel action for o.
func Cancel(o RestingOrder) Action {
	return Action{Kind: ActionCancel, OrderID: o.ID, Side: o.Side, Price: o.Price}
}

// Place builds a placement action.
func Place(side market.Side, price market.Ticks, size uint64) Action {
	return Action{Kind: ActionPlace, Side: side, Price: price, Size: size}
}

func (a Action) String() string {
	if a.Kind == ActionCancel {
		return fmt.Sprintf("cancel(%s %s@%d)", a.OrderID, a.Side, a.Price)
	}
	return fmt.Sprintf("place(%s %d@%d)", a.Side, a.Size, a.Price)
}

// Batch 一轮的全部动作，作为一个原子单元提交：要么全部生效，要么全部不生效。
type Batch struct {
	ID               uuid.UUID `json:"id"`
	Symbol           string    `json:"symbol"`
	Trader           string    `json:"trader"`
	ExpectedSequence uint64    `json:"expectedSequence"` // 读取快照时的交易所序号；不一致视为 stale
	PostOnly         bool      `json:"postOnly"`
	Actions          []Action  `json:"actions"`
}

// NewBatch 生成批次 ID，并为每个 Place 分配 client ID。
func NewBatch(view BookView, trader string, postOnly bool, actions []Action) Batch {
	b := Batch{
		ID:               uuid.New(),
		Symbol:           view.Symbol,
		Trader:           trader,
		ExpectedSequence: view.Sequence,
		PostOnly:         postOnly,
		Actions:          make([]Action, len(actions)),
	}
	copy(b.Actions, actions)
	for i := range b.Actions {
		if b.Actions[i].Kind == ActionPlace && b.Actions[i].ClientID == "" {
			b.Actions[i].ClientID = uuid.NewString()
		}
	}
	return b
}

// Counts returns the number of cancels and placements in the batch.
func (b Batch) Counts() (cancels, places int) {
	for _, a := range b.Actions {
		switch a.Kind {
		case ActionCancel:
			cancels++
		case ActionPlace:
			places++
		}
	}
	return cancels, places
}

// Receipt 原子提交成功后的回执。
type Receipt struct {
	BatchID  uuid.UUID      `json:"batchId"`
	Sequence uint64         `json:"sequence"` // 提交后的交易所序号
	Placed   []RestingOrder `json:"placed"`   // 新挂单，顺序与批次中的 Place 一致
}

// BookView 一次读取得到的盘口快照。
type BookView struct {
	Symbol   string         `json:"symbol"`
	Sequence uint64         `json:"sequence"`
	BBO      market.BBO     `json:"bbo"` // 不含本策略自身挂单
	Own      []RestingOrder `json:"own"`
}

// Exchange 交易所边界：读取盘口与自身挂单，原子地执行动作列表。
// Submit 失败时必须保证没有任何动作生效，并返回 *SubmissionError。
type Exchange interface {
	View(ctx context.Context) (BookView, error)
	Submit(ctx context.Context, batch Batch) (Receipt, error)
}
