package gridex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/gridquote/pkg/app/core/grid"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
	"github.com/uhyunpark/gridquote/pkg/app/core/market"
	"github.com/uhyunpark/gridquote/pkg/app/core/swappath"
	"github.com/uhyunpark/gridquote/pkg/metrics"
	"github.com/uhyunpark/gridquote/pkg/storage"
)

// SwapEvent is published after each executed hop.
type SwapEvent struct {
	SwapID        string         `json:"swapId"`
	GridID        common.Hash    `json:"gridId"`
	ZeroForOne    bool           `json:"zeroForOne"`
	AmountIn      *big.Int       `json:"amountIn"`
	AmountOut     *big.Int       `json:"amountOut"`
	PriceX96      *big.Int       `json:"priceX96"`
	Boundary      int32          `json:"boundary"`
	Cells         int            `json:"cells"`
	TokenIn       common.Address `json:"tokenIn"`
	TokenOut      common.Address `json:"tokenOut"`
	TimestampNano int64          `json:"ts"`
}

// SwapReceipt describes an executed path swap. Hops follow the encoded
// path order.
type SwapReceipt struct {
	ID        string      `json:"id"`
	AmountIn  *big.Int    `json:"amountIn"`
	AmountOut *big.Int    `json:"amountOut"`
	Hops      []SwapEvent `json:"hops"`
}

// SwapExactInput sells amountIn along path and fails without touching any
// grid if the output would be below minOut.
func (a *App) SwapExactInput(ctx context.Context, path []byte, amountIn, minOut *big.Int) (*SwapReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hops, err := a.checkPath(path)
	if err != nil {
		return nil, err
	}
	q, err := a.quoter.QuoteExactInput(ctx, path, amountIn)
	if err != nil {
		return nil, err
	}
	if minOut != nil && q.Amount.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: output %s below minimum %s", ErrSlippage, q.Amount, minOut)
	}

	rcpt := &SwapReceipt{ID: uuid.NewString(), AmountIn: new(big.Int).Set(amountIn)}
	r := &route{app: a, id: rcpt.ID}
	running := new(big.Int).Set(amountIn)
	for i, h := range hops {
		ev, err := r.execute(h.Protocol, h.TokenIn, h.TokenOut, h.Resolution, running, true)
		if err != nil {
			r.rollback()
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		running = ev.AmountOut
	}
	if err := r.commit(); err != nil {
		return nil, err
	}
	rcpt.Hops = r.events()
	rcpt.AmountOut = running
	return rcpt, nil
}

// SwapExactOutput buys amountOut through a path encoded output-first, the
// same layout QuoteExactOutput takes. It fails without touching any grid if
// the input would exceed maxIn.
func (a *App) SwapExactOutput(ctx context.Context, path []byte, amountOut, maxIn *big.Int) (*SwapReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hops, err := a.checkPath(path)
	if err != nil {
		return nil, err
	}
	q, err := a.quoter.QuoteExactOutput(ctx, path, amountOut)
	if err != nil {
		return nil, err
	}
	if maxIn != nil && q.Amount.Cmp(maxIn) > 0 {
		return nil, fmt.Errorf("%w: input %s above maximum %s", ErrSlippage, q.Amount, maxIn)
	}

	rcpt := &SwapReceipt{ID: uuid.NewString(), AmountOut: new(big.Int).Set(amountOut)}
	r := &route{app: a, id: rcpt.ID}
	running := new(big.Int).Set(amountOut)
	for i, h := range hops {
		// the encoded tokenOut is what the trader pays into this hop
		ev, err := r.execute(h.Protocol, h.TokenOut, h.TokenIn, h.Resolution, running, false)
		if err != nil {
			r.rollback()
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		running = ev.AmountIn
	}
	if err := r.commit(); err != nil {
		return nil, err
	}
	rcpt.Hops = r.events()
	rcpt.AmountIn = running
	return rcpt, nil
}

// checkPath decodes path and rejects routes that visit one pool twice; the
// quote of such a route would not match its execution.
func (a *App) checkPath(path []byte) ([]swappath.Hop, error) {
	hops, err := swappath.Decode(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[market.GridKey]struct{}, len(hops))
	for i, h := range hops {
		k := market.NewGridKey(h.TokenIn, h.TokenOut, h.Resolution)
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("%w: hop %d (%s)", ErrRepeatedPool, i, k)
		}
		seen[k] = struct{}{}
	}
	return hops, nil
}

// route is a path swap in progress. Hops execute in memory first; nothing
// is persisted or published until every hop has succeeded, and a failure at
// any point puts each touched grid back to its pre-swap snapshot.
// Every method must be called with app.mu held.
type route struct {
	app   *App
	id    string
	steps []*step
}

type step struct {
	grid       *grid.Grid
	before     *grid.State
	exactInput bool
	ev         SwapEvent
}

// execute runs one leg against its grid without persisting it.
func (r *route) execute(protocol uint8, tokenIn, tokenOut common.Address, resolution int32, amount *big.Int, exactInput bool) (*SwapEvent, error) {
	pool, err := r.app.registry.Pool(protocol, tokenIn, tokenOut, resolution)
	if err != nil {
		return nil, err
	}
	g, ok := pool.(*grid.Grid)
	if !ok {
		return nil, fmt.Errorf("%w: pool is not executable", ledger.ErrUnsupportedProtocol)
	}

	before := g.Snapshot()
	zeroForOne := tokenIn == g.Token0()
	res, fills, err := g.Swap(ledger.SwapParams{
		ZeroForOne: zeroForOne,
		Amount:     amount,
		ExactInput: exactInput,
	})
	if err != nil {
		return nil, err
	}

	st := &step{grid: g, before: before, exactInput: exactInput, ev: SwapEvent{
		SwapID:        r.id,
		GridID:        market.NewGridKey(g.Token0(), g.Token1(), g.Resolution()).ID(),
		ZeroForOne:    zeroForOne,
		AmountIn:      res.AmountIn,
		AmountOut:     res.AmountOut,
		PriceX96:      res.PriceAfter,
		Boundary:      res.BoundaryAfter,
		Cells:         len(fills),
		TokenIn:       tokenIn,
		TokenOut:      tokenOut,
		TimestampNano: r.app.clock.Now().UnixNano(),
	}}
	r.steps = append(r.steps, st)
	return &st.ev, nil
}

// rollback reverts every executed leg, newest first.
func (r *route) rollback() {
	for i := len(r.steps) - 1; i >= 0; i-- {
		st := r.steps[i]
		if err := st.grid.Revert(st.before); err != nil {
			r.app.logger.Error("failed to revert grid",
				zap.String("swap", r.id), zap.String("grid", st.ev.GridID.Hex()), zap.Error(err))
		}
	}
}

// commit persists every touched grid, then records and publishes the legs.
// If a grid cannot be saved the whole route is reverted, including the
// grids already written.
func (r *route) commit() error {
	for i, st := range r.steps {
		if err := r.app.persist(st.grid); err != nil {
			r.rollback()
			for _, done := range r.steps[:i] {
				if err := r.app.persist(done.grid); err != nil {
					r.app.logger.Error("failed to restore persisted grid",
						zap.String("swap", r.id), zap.String("grid", done.ev.GridID.Hex()), zap.Error(err))
				}
			}
			return fmt.Errorf("hop %d: %w", i, err)
		}
	}
	for _, st := range r.steps {
		r.app.record(st)
	}
	return nil
}

func (r *route) events() []SwapEvent {
	out := make([]SwapEvent, 0, len(r.steps))
	for _, st := range r.steps {
		out = append(out, st.ev)
	}
	return out
}

// record stores the swap history of one committed leg and publishes it.
func (a *App) record(st *step) {
	ev := st.ev
	if a.store != nil {
		rec := &storage.SwapRecord{
			ID:            ev.SwapID,
			GridID:        ev.GridID,
			ZeroForOne:    ev.ZeroForOne,
			ExactInput:    st.exactInput,
			AmountIn:      ev.AmountIn,
			AmountOut:     ev.AmountOut,
			PriceAfter:    ev.PriceX96,
			BoundaryAfter: ev.Boundary,
			Timestamp:     ev.TimestampNano,
		}
		if err := a.store.SaveSwap(rec); err != nil {
			// the grid is already saved; losing history is not fatal
			a.logger.Warn("failed to save swap record", zap.String("swap", ev.SwapID), zap.Error(err))
		}
	}

	metrics.SwapsTotal.WithLabelValues(metrics.Direction(ev.ZeroForOne)).Inc()
	a.journal("swap", map[string]any{
		"swap": ev.SwapID, "grid": ev.GridID, "zeroForOne": ev.ZeroForOne, "exactInput": st.exactInput,
		"amountIn": ev.AmountIn.String(), "amountOut": ev.AmountOut.String(),
		"priceX96": ev.PriceX96.String(), "boundary": ev.Boundary,
	})
	a.logger.Info("swap executed",
		zap.String("swap", ev.SwapID),
		zap.String("grid", ev.GridID.Hex()),
		zap.Bool("zeroForOne", ev.ZeroForOne),
		zap.String("amountIn", ev.AmountIn.String()),
		zap.String("amountOut", ev.AmountOut.String()),
		zap.Int32("boundary", ev.Boundary))

	a.emit(ev)
}
