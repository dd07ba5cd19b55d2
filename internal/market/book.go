package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

const eps = 1e-12

// Level is one price level of an order book side.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Book holds raw levels for the UP outcome. Bids are kept best-first
// (descending), asks best-first (ascending).
type Book struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

var ErrEmptyBook = errors.New("book has no levels")

func (b Book) Empty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// Sorted returns a copy with bids descending and asks ascending by price.
func (b Book) Sorted() Book {
	out := Book{
		Bids: append([]Level(nil), b.Bids...),
		Asks: append([]Level(nil), b.Asks...),
	}
	sort.SliceStable(out.Bids, func(i, j int) bool { return out.Bids[i].Price > out.Bids[j].Price })
	sort.SliceStable(out.Asks, func(i, j int) bool { return out.Asks[i].Price < out.Asks[j].Price })
	return out
}

func (b Book) BidDepth() float64 { return sumSize(b.Bids) }

func (b Book) AskDepth() float64 { return sumSize(b.Asks) }

func sumSize(levels []Level) float64 {
	var total float64
	for _, l := range levels {
		total += l.Size
	}
	return total
}

// UnmarshalJSON accepts CLOB style payloads where price and size arrive as
// strings or numbers, under either "price"/"size" or "p"/"s" keys.
func (b *Book) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	bids, err := parseLevels(raw["bids"])
	if err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(raw["asks"])
	if err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	*b = Book{Bids: bids, Asks: asks}.Sorted()
	return nil
}

// ParseBook decodes a CLOB /book response body.
func ParseBook(data []byte) (Book, error) {
	var book Book
	if err := json.Unmarshal(data, &book); err != nil {
		return Book{}, err
	}
	if book.Empty() {
		return Book{}, ErrEmptyBook
	}
	return book, nil
}

func parseLevels(v any) ([]Level, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := toSlice(v)
	if !ok {
		return nil, errors.New("levels must be an array")
	}
	levels := make([]Level, 0, len(items))
	for i, item := range items {
		m, ok := toMap(item)
		if !ok {
			return nil, fmt.Errorf("level %d is not an object", i)
		}
		price, okP := floatFromKeys(m, "price", "p")
		size, okS := floatFromKeys(m, "size", "s")
		if !okP || !okS {
			return nil, fmt.Errorf("level %d missing price or size", i)
		}
		if math.IsNaN(price) || math.IsNaN(size) || size < 0 {
			return nil, fmt.Errorf("level %d has invalid values", i)
		}
		levels = append(levels, Level{Price: price, Size: size})
	}
	return levels, nil
}
