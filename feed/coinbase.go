package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCoinbaseURL Coinbase 现货价格接口。
const DefaultCoinbaseURL = "https://api.coinbase.com"

// CoinbaseSpot 轮询 GET /v2/prices/{ticker}/spot，读取 data.amount。
type CoinbaseSpot struct {
	BaseURL    string
	Ticker     string // 如 SOL-USD
	HTTPClient *http.Client
}

func NewCoinbaseSpot(ticker string) *CoinbaseSpot {
	return &CoinbaseSpot{
		BaseURL:    DefaultCoinbaseURL,
		Ticker:     ticker,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type coinbaseSpotResp struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

func (c *CoinbaseSpot) FairPrice(ctx context.Context) (decimal.Decimal, error) {
	if c.HTTPClient == nil {
		return decimal.Zero, fmt.Errorf("http client not set")
	}
	endpoint := c.BaseURL + "/v2/prices/" + url.PathEscape(c.Ticker) + "/spot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coinbase spot %s: %w", c.Ticker, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("coinbase spot %s: status %d: %s", c.Ticker, resp.StatusCode, raw)
	}
	var body coinbaseSpotResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode coinbase spot: %w", err)
	}
	return parsePrice(body.Data.Amount)
}
