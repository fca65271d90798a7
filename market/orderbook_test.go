package market

import "testing"

func TestOrderBookAddAndBest(t *testing.T) {
	ob := NewOrderBook()
	ob.Add(SideBid, "mm1", 10000, 1)
	ob.Add(SideBid, "mm2", 9950, 2)
	ob.Add(SideAsk, "mm1", 10100, 1)
	ob.Add(SideAsk, "mm2", 10200, 3)
	bbo := ob.Best()
	if bbo.Bid != 10000 || bbo.Ask != 10100 {
		t.Fatalf("unexpected best bid/ask: %d/%d", bbo.Bid, bbo.Ask)
	}
	// 数量为 0 不建档
	ob.Add(SideBid, "mm3", 10050, 0)
	if bbo = ob.Best(); bbo.Bid != 10000 {
		t.Fatalf("zero-size add must be ignored, got bid %d", bbo.Bid)
	}
}

func TestOrderBookBestExcludingOwner(t *testing.T) {
	ob := NewOrderBook()
	ob.Add(SideBid, "self", 10010, 5)
	ob.Add(SideBid, "other", 10000, 1)
	ob.Add(SideAsk, "self", 10040, 5)
	ob.Add(SideAsk, "other", 10060, 1)

	bbo := ob.BestExcluding("self")
	if bbo.Bid != 10000 || bbo.Ask != 10060 {
		t.Fatalf("self levels must be skipped, got %d/%d", bbo.Bid, bbo.Ask)
	}

	// 同一价位有他人挂单时仍计入
	ob.Add(SideAsk, "other", 10040, 2)
	if bbo = ob.BestExcluding("self"); bbo.Ask != 10040 {
		t.Fatalf("shared level should count, got %d", bbo.Ask)
	}
}
