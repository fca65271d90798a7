package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fairmm-go/market"
	"fairmm-go/order"
)

// Client 通过 REST 批量接口对接交易所，实现 order.Exchange。
// HTTPClient 可注入 httptest。
type Client struct {
	BaseURL    string
	Symbol     string
	Trader     string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
	Limiter    RateLimiter
	// Observe 每次请求结束后回调（action 为 view/submit），用于记录延迟与错误。
	Observe func(action string, elapsed time.Duration, err error)
}

var _ order.Exchange = (*Client)(nil)

type wireOrder struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId,omitempty"`
	Side     string `json:"side"`
	Price    uint64 `json:"price"`
	Size     uint64 `json:"size"`
}

type bookResp struct {
	Sequence uint64      `json:"sequence"`
	BestBid  uint64      `json:"bestBid"`
	BestAsk  uint64      `json:"bestAsk"`
	Orders   []wireOrder `json:"orders"`
}

type wireAction struct {
	Type     string `json:"type"`
	OrderID  string `json:"orderId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Side     string `json:"side,omitempty"`
	Price    uint64 `json:"price,omitempty"`
	Size     uint64 `json:"size,omitempty"`
}

type batchReq struct {
	BatchID          string       `json:"batchId"`
	Trader           string       `json:"trader"`
	ExpectedSequence uint64       `json:"expectedSequence"`
	PostOnly         bool         `json:"postOnly"`
	Actions          []wireAction `json:"actions"`
}

type batchResp struct {
	Sequence uint64      `json:"sequence"`
	Placed   []wireOrder `json:"placed"`
}

type errorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) path(suffix string) string {
	return "/api/v1/markets/" + url.PathEscape(c.Symbol) + suffix
}

// View 调用 GET /api/v1/markets/{symbol}/book?trader=，返回他人最优价与本策略挂单。
func (c *Client) View(ctx context.Context) (order.BookView, error) {
	if err := c.ready(); err != nil {
		return order.BookView{}, err
	}
	endpoint := c.path("/book") + "?trader=" + url.QueryEscape(c.Trader)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+endpoint, nil)
	if err != nil {
		return order.BookView{}, err
	}
	var br bookResp
	status, raw, err := c.do(ctx, "view", req, nil)
	if err != nil {
		return order.BookView{}, err
	}
	if status >= 300 {
		return order.BookView{}, fmt.Errorf("book status %d: %s", status, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, &br); err != nil {
		return order.BookView{}, fmt.Errorf("decode book: %w", err)
	}
	view := order.BookView{
		Symbol:   c.Symbol,
		Sequence: br.Sequence,
		BBO:      market.BBO{Bid: market.Ticks(br.BestBid), Ask: market.Ticks(br.BestAsk)},
		Own:      make([]order.RestingOrder, 0, len(br.Orders)),
	}
	for _, wo := range br.Orders {
		ro, err := wo.resting()
		if err != nil {
			return order.BookView{}, err
		}
		view.Own = append(view.Own, ro)
	}
	return view, nil
}

// Submit 调用 POST /api/v1/markets/{symbol}/batch。
// 交易所以 {code,message} 拒绝时返回 *order.SubmissionError；网络错误时结果未知，原样返回。
func (c *Client) Submit(ctx context.Context, b order.Batch) (order.Receipt, error) {
	if err := c.ready(); err != nil {
		return order.Receipt{}, err
	}
	body, err := json.Marshal(encodeBatch(b))
	if err != nil {
		return order.Receipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.path("/batch"), bytes.NewReader(body))
	if err != nil {
		return order.Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	status, raw, err := c.do(ctx, "submit", req, body)
	if err != nil {
		return order.Receipt{}, err
	}
	if status >= 300 {
		return order.Receipt{}, decodeReject(b, status, raw)
	}
	var br batchResp
	if err := json.Unmarshal(raw, &br); err != nil {
		return order.Receipt{}, fmt.Errorf("decode batch receipt: %w", err)
	}
	rec := order.Receipt{BatchID: b.ID, Sequence: br.Sequence, Placed: make([]order.RestingOrder, 0, len(br.Placed))}
	for _, wo := range br.Placed {
		ro, err := wo.resting()
		if err != nil {
			return order.Receipt{}, err
		}
		rec.Placed = append(rec.Placed, ro)
	}
	return rec, nil
}

func (c *Client) ready() error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Symbol == "" || c.Trader == "" {
		return fmt.Errorf("symbol and trader are required")
	}
	return nil
}

func (c *Client) do(ctx context.Context, action string, req *http.Request, body []byte) (status int, raw []byte, err error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}
	start := time.Now()
	defer func() {
		if c.Observe == nil {
			return
		}
		var obsErr = err
		if obsErr == nil && status >= 300 {
			obsErr = fmt.Errorf("status %d", status)
		}
		c.Observe(action, time.Since(start), obsErr)
	}()
	signRequest(req, c.APIKey, c.Secret, body)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func encodeBatch(b order.Batch) batchReq {
	req := batchReq{
		BatchID:          b.ID.String(),
		Trader:           b.Trader,
		ExpectedSequence: b.ExpectedSequence,
		PostOnly:         b.PostOnly,
		Actions:          make([]wireAction, 0, len(b.Actions)),
	}
	for _, a := range b.Actions {
		wa := wireAction{Type: a.Kind.String()}
		if a.Kind == order.ActionCancel {
			wa.OrderID = a.OrderID
		} else {
			wa.ClientID = a.ClientID
			wa.Side = a.Side.String()
			wa.Price = uint64(a.Price)
			wa.Size = a.Size
		}
		req.Actions = append(req.Actions, wa)
	}
	return req
}

func decodeReject(b order.Batch, status int, raw []byte) error {
	var er errorResp
	if err := json.Unmarshal(raw, &er); err != nil || er.Code == "" {
		if status >= 500 {
			// 服务端异常：批次是否生效未知，不能当作原子拒绝。
			return fmt.Errorf("batch status %d: %s", status, bytes.TrimSpace(raw))
		}
		reason := order.RejectUnknown
		if status == http.StatusConflict {
			reason = order.RejectStale
		}
		return order.Reject(b, reason, "status %d", status)
	}
	return &order.SubmissionError{BatchID: b.ID.String(), Reason: order.ParseRejectReason(er.Code), Message: er.Message}
}

func (wo wireOrder) resting() (order.RestingOrder, error) {
	side, err := market.ParseSide(wo.Side)
	if err != nil {
		return order.RestingOrder{}, fmt.Errorf("order %s: %w", wo.ID, err)
	}
	if wo.ID == "" {
		return order.RestingOrder{}, errors.New("order without id")
	}
	return order.RestingOrder{ID: wo.ID, Side: side, Price: market.Ticks(wo.Price), Size: wo.Size}, nil
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
