// quotecalc 按给定输入计算一次目标报价，并可选地给出相对现有挂单的动作列表。
//
//	quotecalc -fair 100.02 -tick 0.01 -edge-bps 50 -improvement join -best-ask 10010 -own bid:9950:10,ask:10050:10
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fairmm-go/market"
	"fairmm-go/order"
	"fairmm-go/strategy"

	"github.com/shopspring/decimal"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "quotecalc:", err)
		os.Exit(1)
	}
}

type output struct {
	Bid      market.Ticks   `json:"bidTicks"`
	Ask      market.Ticks   `json:"askTicks"`
	BidPrice string         `json:"bidPrice"`
	AskPrice string         `json:"askPrice"`
	Actions  []order.Action `json:"actions,omitempty"`
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("quotecalc", flag.ContinueOnError)
	fs.SetOutput(out)
	fairStr := fs.String("fair", "", "fair price（十进制）")
	tickStr := fs.String("tick", "0.01", "tick size")
	edge := fs.Uint64("edge-bps", 50, "半价差（bps）")
	size := fs.Uint64("size", 1, "每侧数量")
	impr := fs.String("improvement", "ignore", "ignore | join | dime | improve:N")
	postOnly := fs.Bool("post-only", false, "只做 maker")
	bestBid := fs.Uint64("best-bid", 0, "其他参与者最优买价（tick，0 表示无）")
	bestAsk := fs.Uint64("best-ask", 0, "其他参与者最优卖价（tick，0 表示无）")
	maxTicks := fs.Uint64("max-price-ticks", 0, "价格上限（tick，0 表示不限）")
	own := fs.String("own", "", "现有挂单 side:price:size，逗号分隔")
	asJSON := fs.Bool("json", false, "输出 JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fair, err := decimal.NewFromString(*fairStr)
	if err != nil {
		return fmt.Errorf("-fair: %w", err)
	}
	tick, err := decimal.NewFromString(*tickStr)
	if err != nil {
		return fmt.Errorf("-tick: %w", err)
	}
	improvement, err := strategy.ParsePriceImprovement(*impr)
	if err != nil {
		return err
	}
	cfg := strategy.Config{EdgeBps: *edge, QuoteSize: *size, PostOnly: *postOnly, Improvement: improvement}
	params := market.Params{Symbol: "calc", TickSize: tick, MaxPriceTicks: market.Ticks(*maxTicks), Trader: "calc"}
	bbo := market.BBO{Bid: market.Ticks(*bestBid), Ask: market.Ticks(*bestAsk)}

	target, err := strategy.Derive(fair, cfg, params, bbo)
	if err != nil {
		return err
	}
	res := output{
		Bid:      target.Bid,
		Ask:      target.Ask,
		BidPrice: params.PriceOf(target.Bid).String(),
		AskPrice: params.PriceOf(target.Ask).String(),
	}
	if *own != "" {
		orders, err := parseOwn(*own)
		if err != nil {
			return err
		}
		if res.Actions, err = order.Reconcile(orders, target, cfg, order.ReconcileOptions{}); err != nil {
			return err
		}
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "bid %s (%d ticks)\nask %s (%d ticks)\n", res.BidPrice, res.Bid, res.AskPrice, res.Ask)
	for _, a := range res.Actions {
		fmt.Fprintln(out, a.String())
	}
	return nil
}

// parseOwn 解析 "bid:9950:10,ask:10050:10"；订单 ID 依次为 o1, o2, ...
func parseOwn(spec string) ([]order.RestingOrder, error) {
	var orders []order.RestingOrder
	for i, part := range strings.Split(spec, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("-own %q: want side:price:size", part)
		}
		side, err := market.ParseSide(fields[0])
		if err != nil {
			return nil, err
		}
		price, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("-own %q: %w", part, err)
		}
		sz, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("-own %q: %w", part, err)
		}
		orders = append(orders, order.RestingOrder{ID: fmt.Sprintf("o%d", i+1), Side: side, Price: market.Ticks(price), Size: sz})
	}
	return orders, nil
}
