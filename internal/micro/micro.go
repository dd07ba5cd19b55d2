// Package micro derives order-book microstructure features from one book.
package micro

import "bookpoly/internal/market"

const (
	micropriceLevels    = 3
	concentrationLevels = 5
	SmallOrderShares    = 100
	LargeOrderShares    = 500
)

// Metrics is the microstructure view of a single tick. Impact fields hold the
// slippage of a market order versus mid and are nil when the book is too
// thin to fill the size.
type Metrics struct {
	Microprice       float64  `json:"microprice"`
	MicropriceEdge   float64  `json:"microprice_edge"`
	Imbalance        float64  `json:"imbalance"`
	ImbalanceDelta   *float64 `json:"imbalance_delta"`
	ImpactBuySmall   *float64 `json:"impact_buy_100"`
	ImpactSellSmall  *float64 `json:"impact_sell_100"`
	ImpactBuyLarge   *float64 `json:"impact_buy_500"`
	ImpactSellLarge  *float64 `json:"impact_sell_500"`
	BidConcentration float64  `json:"bid_concentration"`
	AskConcentration float64  `json:"ask_concentration"`
	DepthRatio       float64  `json:"depth_ratio"`
	Spread           float64  `json:"spread"`
	SpreadPct        float64  `json:"spread_pct"`
	Mid              float64  `json:"mid"`
}

// Analyze computes Metrics for book. snap must be derived from the same book
// and mid is the tick's probability midpoint.
func Analyze(book market.Book, snap market.BookSnapshot, mid float64, prevImbalance *float64) Metrics {
	var mp float64
	if len(book.Bids) > 0 && len(book.Asks) > 0 {
		mp = Microprice(book, micropriceLevels)
	} else {
		mp = SimpleMicroprice(book)
	}
	m := Metrics{
		Microprice:       mp,
		Imbalance:        Imbalance(snap.BidQty, snap.AskQty),
		BidConcentration: Concentration(book.Bids, concentrationLevels),
		AskConcentration: Concentration(book.Asks, concentrationLevels),
		Spread:           snap.Spread,
		Mid:              mid,
	}
	if mid > 0 {
		m.MicropriceEdge = mp - mid
		m.SpreadPct = snap.Spread / mid
	}
	if prevImbalance != nil {
		d := m.Imbalance - *prevImbalance
		m.ImbalanceDelta = &d
	}
	if snap.AskQty > 0 {
		m.DepthRatio = snap.BidQty / snap.AskQty
	}
	m.ImpactBuySmall = buySlippage(book.Asks, SmallOrderShares, mid)
	m.ImpactSellSmall = sellSlippage(book.Bids, SmallOrderShares, mid)
	m.ImpactBuyLarge = buySlippage(book.Asks, LargeOrderShares, mid)
	m.ImpactSellLarge = sellSlippage(book.Bids, LargeOrderShares, mid)
	return m
}

// Microprice is the size-weighted average price of the top levels of both
// sides combined. It returns 0 when those levels carry no size.
func Microprice(book market.Book, levels int) float64 {
	var value, size float64
	for _, side := range [][]market.Level{top(book.Bids, levels), top(book.Asks, levels)} {
		for _, l := range side {
			value += l.Price * l.Size
			size += l.Size
		}
	}
	if size == 0 {
		return 0
	}
	return value / size
}

// SimpleMicroprice weights the best bid and ask by the opposite side's top
// size and falls back to the midpoint when both sizes are zero.
func SimpleMicroprice(book market.Book) float64 {
	hasBid, hasAsk := len(book.Bids) > 0, len(book.Asks) > 0
	switch {
	case !hasBid && !hasAsk:
		return 0
	case !hasBid:
		return book.Asks[0].Price
	case !hasAsk:
		return book.Bids[0].Price
	}
	bb, ba := book.Bids[0], book.Asks[0]
	total := bb.Size + ba.Size
	if total == 0 {
		return (bb.Price + ba.Price) / 2
	}
	return (bb.Price*ba.Size + ba.Price*bb.Size) / total
}

func Imbalance(bidDepth, askDepth float64) float64 {
	total := bidDepth + askDepth
	if total == 0 {
		return 0
	}
	return (bidDepth - askDepth) / total
}

// AverageFill walks levels best-first and returns the average execution
// price for size shares. ok is false when the levels cannot fill the size.
func AverageFill(levels []market.Level, size float64) (price float64, ok bool) {
	if len(levels) == 0 || size <= 0 {
		return 0, false
	}
	remaining := size
	var cost float64
	for _, l := range levels {
		fill := min(remaining, l.Size)
		cost += fill * l.Price
		remaining -= fill
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		return 0, false
	}
	return cost / size, true
}

// Concentration is the share of a side's depth held in its top levels.
func Concentration(levels []market.Level, n int) float64 {
	var total float64
	for _, l := range levels {
		total += l.Size
	}
	if total == 0 {
		return 0
	}
	var head float64
	for _, l := range top(levels, n) {
		head += l.Size
	}
	return head / total
}

func buySlippage(asks []market.Level, size, mid float64) *float64 {
	avg, ok := AverageFill(asks, size)
	if !ok {
		return nil
	}
	s := avg - mid
	return &s
}

func sellSlippage(bids []market.Level, size, mid float64) *float64 {
	avg, ok := AverageFill(bids, size)
	if !ok {
		return nil
	}
	s := mid - avg
	return &s
}

func top(levels []market.Level, n int) []market.Level {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}
