package market

import "math"

// BookSnapshot is the top-of-book summary derived from one Book. Quantities
// are the summed size of every level received.
type BookSnapshot struct {
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	BidQty    float64 `json:"bid_qty"`
	AskQty    float64 `json:"ask_qty"`
	Spread    float64 `json:"spread"`
	Imbalance float64 `json:"imbalance"`
}

// NewBookSnapshot summarises a book. It reports false for a book without
// levels. Missing sides default to a best bid of 0 and a best ask of 1.
func NewBookSnapshot(b Book) (BookSnapshot, bool) {
	if b.Empty() {
		return BookSnapshot{}, false
	}
	bestBid, bestAsk := 0.0, 1.0
	var bidQty, askQty float64
	for _, l := range b.Bids {
		bidQty += l.Size
		if l.Price > bestBid {
			bestBid = l.Price
		}
	}
	for _, l := range b.Asks {
		askQty += l.Size
		if l.Price < bestAsk {
			bestAsk = l.Price
		}
	}
	imbalance := 0.0
	if total := bidQty + askQty; total > eps {
		imbalance = (bidQty - askQty) / total
	}
	return BookSnapshot{
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		BidQty:    Round(bidQty, 2),
		AskQty:    Round(askQty, 2),
		Spread:    Round(bestAsk-bestBid, 4),
		Imbalance: Round(imbalance, 4),
	}, true
}

func (s BookSnapshot) Mid() float64 {
	return (s.BestBid + s.BestAsk) / 2
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
