// Package grid is an in-memory grid exchange: resting maker orders bucketed
// by boundary, one bitmap per side, and a swap engine that walks initialized
// cells in price order.
package grid

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/uhyunpark/gridquote/pkg/app/core/bitmap"
	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
)

const btreeDegree = 32

var (
	ErrNotInitialized     = errors.New("grid not initialized")
	ErrAlreadyInitialized = errors.New("grid already initialized")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidPriceLimit  = errors.New("invalid price limit")
	ErrOrderNotFound      = errors.New("order not found")
	ErrNotOrderOwner      = errors.New("not order owner")
	ErrIdenticalTokens    = errors.New("identical tokens")
)

type Grid struct {
	mu sync.RWMutex

	token0     common.Address
	token1     common.Address
	resolution int32

	initialized bool
	price       *big.Int
	boundary    int32

	bitmap0  *bitmap.Index
	bitmap1  *bitmap.Index
	bundles0 map[int32]*bundle
	bundles1 map[int32]*bundle

	orders      *btree.BTree
	nextOrderID uint64

	logger *zap.Logger
}

// New creates an uninitialized grid. The pair is sorted so that token0 < token1.
func New(tokenA, tokenB common.Address, resolution int32, logger *zap.Logger) (*Grid, error) {
	if tokenA == tokenB {
		return nil, fmt.Errorf("%w: %s", ErrIdenticalTokens, tokenA.Hex())
	}
	if err := boundary.ValidateResolution(resolution); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t0, t1 := ledger.SortTokens(tokenA, tokenB)
	return &Grid{
		token0:      t0,
		token1:      t1,
		resolution:  resolution,
		price:       new(big.Int),
		bitmap0:     bitmap.New(resolution),
		bitmap1:     bitmap.New(resolution),
		bundles0:    make(map[int32]*bundle),
		bundles1:    make(map[int32]*bundle),
		orders:      btree.New(btreeDegree),
		nextOrderID: 1,
		logger:      logger.With(zap.String("grid", fmt.Sprintf("%s/%s/%d", t0.Hex(), t1.Hex(), resolution))),
	}, nil
}

func (g *Grid) Token0() common.Address { return g.token0 }
func (g *Grid) Token1() common.Address { return g.token1 }
func (g *Grid) Resolution() int32      { return g.resolution }

// Initialize sets the starting price. It may only be called once.
func (g *Grid) Initialize(priceX96 *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.initialized {
		return ErrAlreadyInitialized
	}
	b, err := boundary.BoundaryAtPrice(priceX96)
	if err != nil {
		return err
	}
	g.price = new(big.Int).Set(priceX96)
	g.boundary = b
	g.initialized = true
	g.logger.Info("grid initialized", zap.String("priceX96", priceX96.String()), zap.Int32("boundary", b))
	return nil
}

func (g *Grid) Initialized() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.initialized
}

func (g *Grid) Slot0() ledger.Slot0 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return ledger.Slot0{PriceX96: new(big.Int).Set(g.price), Boundary: g.boundary}
}

// Bitmap returns a snapshot of one side's index.
func (g *Grid) Bitmap(zero bool) bitmap.Reader {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, _ := g.side(zero)
	return idx.Clone()
}

func (g *Grid) side(zero bool) (*bitmap.Index, map[int32]*bundle) {
	if zero {
		return g.bitmap0, g.bundles0
	}
	return g.bitmap1, g.bundles1
}

// PlaceMakerOrder rests amount of token0 (zero) or token1 in the cell
// starting at boundaryLower and returns the new order id.
func (g *Grid) PlaceMakerOrder(owner common.Address, zero bool, boundaryLower int32, amount *big.Int) (uint64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if err := boundary.CheckAligned(boundaryLower, g.resolution); err != nil {
		return 0, err
	}
	if err := boundary.CheckRange(boundaryLower); err != nil {
		return 0, err
	}
	if _, ok := boundary.UpperOf(boundaryLower, g.resolution); !ok {
		return 0, fmt.Errorf("%w: cell %d has no upper boundary", boundary.ErrOutOfRange, boundaryLower)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		return 0, ErrNotInitialized
	}

	o := &Order{
		ID:            g.nextOrderID,
		Owner:         owner,
		Zero:          zero,
		BoundaryLower: boundaryLower,
		Amount:        new(big.Int).Set(amount),
		Remaining:     new(big.Int).Set(amount),
		Proceeds:      new(big.Int),
	}
	g.nextOrderID++
	if err := g.rest(o); err != nil {
		return 0, err
	}

	g.logger.Debug("maker order placed",
		zap.Uint64("id", o.ID),
		zap.Bool("zero", zero),
		zap.Int32("boundaryLower", boundaryLower),
		zap.String("amount", amount.String()))
	return o.ID, nil
}

// rest indexes o and adds its remaining amount to the bundle at its boundary.
func (g *Grid) rest(o *Order) error {
	g.orders.ReplaceOrInsert(o)
	if !o.Open() {
		return nil
	}
	idx, bundles := g.side(o.Zero)
	b, ok := bundles[o.BoundaryLower]
	if !ok {
		b = newBundle()
		bundles[o.BoundaryLower] = b
	}
	b.remaining.Add(b.remaining, o.Remaining)
	b.orders = append(b.orders, o.ID)
	return idx.Set(o.BoundaryLower)
}

// CancelMakerOrder withdraws the unfilled part of an order. The returned
// order carries the refunded remaining amount and the proceeds collected so far.
func (g *Grid) CancelMakerOrder(owner common.Address, id uint64) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o := g.order(id)
	if o == nil {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if o.Owner != owner {
		return nil, fmt.Errorf("%w: order %d", ErrNotOrderOwner, id)
	}
	if o.Cancelled {
		return nil, fmt.Errorf("%w: %d already cancelled", ErrOrderNotFound, id)
	}

	refund := o.clone()
	idx, bundles := g.side(o.Zero)
	if b, ok := bundles[o.BoundaryLower]; ok {
		b.remaining.Sub(b.remaining, o.Remaining)
		b.remove(o.ID)
		if b.remaining.Sign() == 0 {
			delete(bundles, o.BoundaryLower)
			if err := idx.Clear(o.BoundaryLower); err != nil {
				return nil, err
			}
		}
	}
	o.Remaining.SetInt64(0)
	o.Cancelled = true

	g.logger.Debug("maker order cancelled", zap.Uint64("id", id), zap.String("refund", refund.Remaining.String()))
	return refund, nil
}

func (g *Grid) order(id uint64) *Order {
	item := g.orders.Get(&Order{ID: id})
	if item == nil {
		return nil
	}
	return item.(*Order)
}

// Order returns a copy of an order.
func (g *Grid) Order(id uint64) (*Order, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o := g.order(id)
	if o == nil {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return o.clone(), nil
}

// OrdersByOwner lists an owner's orders in id order.
func (g *Grid) OrdersByOwner(owner common.Address) []*Order {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Order
	g.orders.Ascend(func(item btree.Item) bool {
		o := item.(*Order)
		if o.Owner == owner {
			out = append(out, o.clone())
		}
		return true
	})
	return out
}

// MakerBooks lists up to maxCount boundaries with resting orders on one side,
// nearest to the current price first. Zero walks upward from the current
// boundary-lower; the other side walks downward, starting one cell lower when
// the price sits exactly on the boundary-lower.
func (g *Grid) MakerBooks(zero bool, maxCount int) []BookEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]BookEntry, 0)
	if !g.initialized || maxCount <= 0 {
		return out
	}

	idx, bundles := g.side(zero)
	from, ok := g.startCell(!zero)
	for ok && len(out) < maxCount {
		var c int32
		c, ok = bitmap.NextInitialized(idx, from, zero)
		if !ok {
			break
		}
		if b := bundles[c]; b != nil && b.remaining.Sign() > 0 {
			out = append(out, BookEntry{BoundaryLower: c, Remaining: new(big.Int).Set(b.remaining)})
		}
		if zero {
			from, ok = boundary.UpperOf(c, g.resolution)
		} else {
			from = c - g.resolution
			ok = from >= boundary.BoundaryLower(boundary.MinBoundary, g.resolution)
		}
	}
	return out
}

// startCell is the first cell a walk visits. A falling price that sits
// exactly on its boundary-lower has already left that cell.
func (g *Grid) startCell(zeroForOne bool) (int32, bool) {
	lower := boundary.BoundaryLower(g.boundary, g.resolution)
	if !zeroForOne {
		return lower, true
	}
	p, err := boundary.PriceAtBoundary(lower)
	if err == nil && g.price.Cmp(p) == 0 {
		lower -= g.resolution
	}
	return lower, lower >= boundary.BoundaryLower(boundary.MinBoundary, g.resolution)
}

// State is the serializable form of a grid.
type State struct {
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Resolution  int32          `json:"resolution"`
	Initialized bool           `json:"initialized"`
	PriceX96    *big.Int       `json:"priceX96"`
	Boundary    int32          `json:"boundary"`
	NextOrderID uint64         `json:"nextOrderId"`
	Orders      []*Order       `json:"orders"`
}

// Snapshot copies the grid into a State.
func (g *Grid) Snapshot() *State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := &State{
		Token0:      g.token0,
		Token1:      g.token1,
		Resolution:  g.resolution,
		Initialized: g.initialized,
		PriceX96:    new(big.Int).Set(g.price),
		Boundary:    g.boundary,
		NextOrderID: g.nextOrderID,
		Orders:      make([]*Order, 0, g.orders.Len()),
	}
	g.orders.Ascend(func(item btree.Item) bool {
		s.Orders = append(s.Orders, item.(*Order).clone())
		return true
	})
	return s
}

// Restore rebuilds a grid from a State, recomputing bundles and bitmaps.
func Restore(s *State, logger *zap.Logger) (*Grid, error) {
	g, err := New(s.Token0, s.Token1, s.Resolution, logger)
	if err != nil {
		return nil, err
	}
	g.initialized = s.Initialized
	if s.PriceX96 != nil {
		g.price = new(big.Int).Set(s.PriceX96)
	}
	g.boundary = s.Boundary
	g.nextOrderID = s.NextOrderID
	for _, o := range s.Orders {
		if err := g.rest(o.clone()); err != nil {
			return nil, fmt.Errorf("restore order %d: %w", o.ID, err)
		}
		if o.ID >= g.nextOrderID {
			g.nextOrderID = o.ID + 1
		}
	}
	return g, nil
}

// Revert puts g back into state s, which must be a snapshot of g.
func (g *Grid) Revert(s *State) error {
	if s.Token0 != g.token0 || s.Token1 != g.token1 || s.Resolution != g.resolution {
		return fmt.Errorf("revert: snapshot of %s/%s/%d", s.Token0.Hex(), s.Token1.Hex(), s.Resolution)
	}
	r, err := Restore(s, g.logger)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized = r.initialized
	g.price = r.price
	g.boundary = r.boundary
	g.bitmap0, g.bitmap1 = r.bitmap0, r.bitmap1
	g.bundles0, g.bundles1 = r.bundles0, r.bundles1
	g.orders = r.orders
	g.nextOrderID = r.nextOrderID
	return nil
}

var _ ledger.Pool = (*Grid)(nil)
