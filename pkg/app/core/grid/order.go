package grid

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"
)

// Order is one resting maker order. Zero orders sell token0 and collect
// token1 as the price rises through their cell; the others sell token1 and
// collect token0 as the price falls.
type Order struct {
	ID            uint64         `json:"id"`
	Owner         common.Address `json:"owner"`
	Zero          bool           `json:"zero"`
	BoundaryLower int32          `json:"boundaryLower"`
	Amount        *big.Int       `json:"amount"`
	Remaining     *big.Int       `json:"remaining"`
	Proceeds      *big.Int       `json:"proceeds"`
	Cancelled     bool           `json:"cancelled"`
}

// Less orders the btree index by id.
func (o *Order) Less(than btree.Item) bool {
	return o.ID < than.(*Order).ID
}

func (o *Order) clone() *Order {
	c := *o
	c.Amount = new(big.Int).Set(o.Amount)
	c.Remaining = new(big.Int).Set(o.Remaining)
	c.Proceeds = new(big.Int).Set(o.Proceeds)
	return &c
}

// Open reports whether the order still rests in the book.
func (o *Order) Open() bool {
	return !o.Cancelled && o.Remaining.Sign() > 0
}

// bundle aggregates every order resting at one boundary on one side.
// Orders are filled in id order.
type bundle struct {
	remaining *big.Int
	orders    []uint64
}

func newBundle() *bundle {
	return &bundle{remaining: new(big.Int)}
}

func (b *bundle) remove(id uint64) {
	for i, oid := range b.orders {
		if oid == id {
			b.orders = append(b.orders[:i], b.orders[i+1:]...)
			return
		}
	}
}

// BookEntry is one row of a maker book.
type BookEntry struct {
	BoundaryLower int32    `json:"boundaryLower"`
	Remaining     *big.Int `json:"makerAmountRemaining"`
}
