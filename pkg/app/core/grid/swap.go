package grid

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/uhyunpark/gridquote/pkg/app/core/bitmap"
	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
)

// Fill is the part of a swap executed against one cell.
type Fill struct {
	BoundaryLower int32
	AmountIn      *big.Int
	AmountOut     *big.Int
}

type walk struct {
	in    *big.Int
	out   *big.Int
	price *big.Int
	fills []Fill
}

// Swap executes p against resting orders and moves the price.
func (g *Grid) Swap(p ledger.SwapParams) (*ledger.SwapResult, []Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, err := g.walk(p)
	if err != nil {
		return nil, nil, err
	}
	res, err := g.result(w)
	if err != nil {
		return nil, nil, err
	}
	if err := g.commit(p.ZeroForOne, w); err != nil {
		return nil, nil, err
	}
	g.price = new(big.Int).Set(res.PriceAfter)
	g.boundary = res.BoundaryAfter

	g.logger.Debug("swap",
		zap.Bool("zeroForOne", p.ZeroForOne),
		zap.Bool("exactInput", p.ExactInput),
		zap.String("amountIn", res.AmountIn.String()),
		zap.String("amountOut", res.AmountOut.String()),
		zap.Int32("boundaryBefore", res.BoundaryBefore),
		zap.Int32("boundaryAfter", res.BoundaryAfter),
		zap.Int("cells", len(w.fills)))
	return res, w.fills, nil
}

// SimulateSwap runs the same walk as Swap without touching grid state.
func (g *Grid) SimulateSwap(p ledger.SwapParams) (*ledger.SwapResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	w, err := g.walk(p)
	if err != nil {
		return nil, err
	}
	res, err := g.result(w)
	if err != nil {
		return nil, err
	}
	idx, _ := g.side(!p.ZeroForOne)
	res.Consumed = idx.Clone()
	return res, nil
}

func (g *Grid) result(w *walk) (*ledger.SwapResult, error) {
	after, err := boundary.BoundaryAtPrice(w.price)
	if err != nil {
		return nil, err
	}
	return &ledger.SwapResult{
		AmountIn:            w.in,
		AmountOut:           w.out,
		PriceBefore:         new(big.Int).Set(g.price),
		BoundaryBefore:      g.boundary,
		BoundaryLowerBefore: boundary.BoundaryLower(g.boundary, g.resolution),
		PriceAfter:          w.price,
		BoundaryAfter:       after,
		BoundaryLowerAfter:  boundary.BoundaryLower(after, g.resolution),
	}, nil
}

func (g *Grid) checkParams(p ledger.SwapParams) error {
	if !g.initialized {
		return ErrNotInitialized
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if p.PriceLimit == nil {
		return nil
	}
	if p.PriceLimit.Cmp(boundary.MinRatio) < 0 || p.PriceLimit.Cmp(boundary.MaxRatio) > 0 {
		return fmt.Errorf("%w: price limit %s", boundary.ErrOutOfRange, p.PriceLimit)
	}
	if p.ZeroForOne && p.PriceLimit.Cmp(g.price) >= 0 {
		return fmt.Errorf("%w: %s not below current price", ErrInvalidPriceLimit, p.PriceLimit)
	}
	if !p.ZeroForOne && p.PriceLimit.Cmp(g.price) <= 0 {
		return fmt.Errorf("%w: %s not above current price", ErrInvalidPriceLimit, p.PriceLimit)
	}
	return nil
}

// walk visits initialized cells in the direction of travel and records the
// fills it would make. Caller holds the lock; grid state is only read.
func (g *Grid) walk(p ledger.SwapParams) (*walk, error) {
	if err := g.checkParams(p); err != nil {
		return nil, err
	}

	w := &walk{in: new(big.Int), out: new(big.Int), price: new(big.Int).Set(g.price)}
	remaining := new(big.Int).Set(p.Amount)
	idx, bundles := g.side(!p.ZeroForOne)
	limit := p.PriceLimit
	from, ok := g.startCell(p.ZeroForOne)

	for ok && remaining.Sign() > 0 {
		c, found := bitmap.NextInitialized(idx, from, !p.ZeroForOne)
		if !found {
			break
		}
		upper, _ := boundary.UpperOf(c, g.resolution)
		pL, err := boundary.PriceAtBoundary(c)
		if err != nil {
			return nil, err
		}
		pU, err := boundary.PriceAtBoundary(upper)
		if err != nil {
			return nil, err
		}
		b := bundles[c]
		if b == nil {
			return nil, fmt.Errorf("cell %d flagged without orders", c)
		}
		avail := b.remaining

		var in, out, next, pT *big.Int
		capped := false
		if p.ZeroForOne {
			pS := minInt(w.price, pU)
			if limit != nil && pS.Cmp(limit) <= 0 {
				break
			}
			pT = pL
			if limit != nil && limit.Cmp(pL) > 0 {
				pT, capped = limit, true
				avail = mulDiv(avail, new(big.Int).Sub(pS, limit), new(big.Int).Sub(pS, pL))
			}
			if pS.Cmp(pT) > 0 && avail.Sign() > 0 {
				in, out, next = stepDown(pS, pT, avail, remaining, p.ExactInput)
			} else {
				in, out, next = new(big.Int), new(big.Int), pT
			}
			from = c - g.resolution
		} else {
			pS := maxInt(w.price, pL)
			if limit != nil && pS.Cmp(limit) >= 0 {
				break
			}
			pT = pU
			if limit != nil && limit.Cmp(pU) < 0 {
				pT, capped = limit, true
				avail = mulDiv(avail, new(big.Int).Sub(limit, pS), new(big.Int).Sub(pU, pS))
			}
			if pT.Cmp(pS) > 0 && avail.Sign() > 0 {
				in, out, next = stepUp(pS, pT, avail, remaining, p.ExactInput)
			} else {
				in, out, next = new(big.Int), new(big.Int), pT
			}
			from = upper
		}

		w.in.Add(w.in, in)
		w.out.Add(w.out, out)
		w.price = next
		if out.Sign() > 0 || in.Sign() > 0 {
			w.fills = append(w.fills, Fill{BoundaryLower: c, AmountIn: in, AmountOut: out})
		}
		if p.ExactInput {
			remaining.Sub(remaining, in)
		} else {
			remaining.Sub(remaining, out)
		}

		if next.Cmp(pT) != 0 || capped {
			break
		}
		if p.ZeroForOne {
			ok = from >= boundary.BoundaryLower(boundary.MinBoundary, g.resolution)
		} else {
			_, ok = boundary.UpperOf(from, g.resolution)
		}
	}

	if remaining.Sign() > 0 && limit == nil {
		return nil, fmt.Errorf("%w: %s of %s unfilled", ledger.ErrInsufficientLiquidity, remaining, p.Amount)
	}
	return w, nil
}

// commit applies the walk's fills to bundles and orders, clearing emptied cells.
func (g *Grid) commit(zeroForOne bool, w *walk) error {
	idx, bundles := g.side(!zeroForOne)
	for _, f := range w.fills {
		b := bundles[f.BoundaryLower]
		b.remaining.Sub(b.remaining, f.AmountOut)
		g.distribute(b, f)
		if b.remaining.Sign() == 0 {
			delete(bundles, f.BoundaryLower)
			if err := idx.Clear(f.BoundaryLower); err != nil {
				return err
			}
		}
	}
	return nil
}

// distribute hands a fill to the bundle's orders oldest first. Each order
// collects input in proportion to the output it gave; the last order touched
// takes the rounding remainder.
func (g *Grid) distribute(b *bundle, f Fill) {
	if f.AmountOut.Sign() == 0 {
		if len(b.orders) > 0 {
			o := g.order(b.orders[0])
			o.Proceeds.Add(o.Proceeds, f.AmountIn)
		}
		return
	}
	left := new(big.Int).Set(f.AmountOut)
	paid := new(big.Int)
	kept := b.orders[:0]
	for _, id := range b.orders {
		o := g.order(id)
		if left.Sign() == 0 {
			kept = append(kept, id)
			continue
		}
		take := minInt(o.Remaining, left)
		take = new(big.Int).Set(take)
		o.Remaining.Sub(o.Remaining, take)
		left.Sub(left, take)

		share := mulDiv(f.AmountIn, take, f.AmountOut)
		if left.Sign() == 0 {
			share = new(big.Int).Sub(f.AmountIn, paid)
		}
		o.Proceeds.Add(o.Proceeds, share)
		paid.Add(paid, share)

		if o.Remaining.Sign() > 0 {
			kept = append(kept, id)
		}
	}
	b.orders = kept
}
