package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fairmm-go/infrastructure/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultCoinbaseWSURL Coinbase Exchange 行情推送地址。
const DefaultCoinbaseWSURL = "wss://ws-feed.exchange.coinbase.com"

const (
	wsReadTimeout  = 30 * time.Second
	wsPingInterval = 10 * time.Second
)

type wsSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type wsTickerMsg struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

// WSTicker 订阅 ticker 频道并缓存最新成交价；超过 MaxAge 未更新视为 stale。
type WSTicker struct {
	URL            string
	Product        string
	MaxAge         time.Duration
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer

	log *logger.Logger
	now func() time.Time

	mu    sync.RWMutex
	price decimal.Decimal
	at    time.Time
}

func NewWSTicker(url, product string, maxAge time.Duration, log *logger.Logger) *WSTicker {
	if url == "" {
		url = DefaultCoinbaseWSURL
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &WSTicker{
		URL:            url,
		Product:        product,
		MaxAge:         maxAge,
		ReconnectDelay: 2 * time.Second,
		Dialer:         websocket.DefaultDialer,
		log:            log.Named("ws_ticker"),
		now:            time.Now,
	}
}

// FairPrice 返回缓存的最新价格。
func (w *WSTicker) FairPrice(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.at.IsZero() {
		return decimal.Zero, ErrStale
	}
	if w.MaxAge > 0 && w.now().Sub(w.at) > w.MaxAge {
		return decimal.Zero, fmt.Errorf("%w: last update %s ago", ErrStale, w.now().Sub(w.at).Truncate(time.Millisecond))
	}
	return w.price, nil
}

// Run 保持连接直到 ctx 结束；断线后按 ReconnectDelay 重连。
func (w *WSTicker) Run(ctx context.Context) error {
	for {
		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn("ws ticker disconnected", zap.String("product", w.Product), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.ReconnectDelay):
		}
	}
}

func (w *WSTicker) runOnce(ctx context.Context) error {
	conn, _, err := w.Dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	defer conn.Close()

	sub := wsSubscribe{Type: "subscribe", ProductIDs: []string{w.Product}, Channels: []string{"ticker"}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("ws subscribe: %w", err)
	}
	w.log.Info("ws ticker subscribed", zap.String("url", w.URL), zap.String("product", w.Product))

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// 关闭连接以打断阻塞中的 ReadMessage
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(3*time.Second))
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if err := w.handle(msg); err != nil {
			return err
		}
	}
}

// handle 解析一条推送；error 类型的消息会中断当前连接。
func (w *WSTicker) handle(raw []byte) error {
	var m wsTickerMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		w.log.Debug("ws ticker: skip undecodable message", zap.Error(err))
		return nil
	}
	switch m.Type {
	case "error":
		return errors.New("ws ticker error: " + m.Message + " " + m.Reason)
	case "ticker":
		if m.ProductID != w.Product {
			return nil
		}
		p, err := parsePrice(m.Price)
		if err != nil {
			w.log.Warn("ws ticker: bad price", zap.String("price", m.Price), zap.Error(err))
			return nil
		}
		w.mu.Lock()
		w.price = p
		w.at = w.now()
		w.mu.Unlock()
	}
	return nil
}
