package quoter

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/gridquote/pkg/app/core/bitmap"
	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
	"github.com/uhyunpark/gridquote/pkg/app/core/grid"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
	"github.com/uhyunpark/gridquote/pkg/app/core/market"
	"github.com/uhyunpark/gridquote/pkg/app/core/swappath"
)

var tokens = []common.Address{
	common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707"),
	common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9"),
	common.HexToAddress("0xDc64a140Aa3E981100a9becA4E685f962f0cF6C9"),
}

const medium = boundary.ResolutionMedium

type fixture struct {
	quoter *Quoter
	grid01 *grid.Grid
	grid12 *grid.Grid
}

// newFixture builds grids 0/1 and 1/2 at price 1 with 1000 resting on both
// sides of every cell from two cells below to two cells above the price.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := market.NewGridRegistry()
	mk := func(a, b common.Address) *grid.Grid {
		g, err := grid.New(a, b, medium, nil)
		require.NoError(t, err)
		require.NoError(t, g.Initialize(new(big.Int).Set(boundary.Q96)))
		lower := boundary.BoundaryLower(g.Slot0().Boundary, medium)
		for _, zero := range []bool{false, true} {
			for _, off := range []int32{-2, -1, 0, 1, 2} {
				_, err := g.PlaceMakerOrder(common.Address{}, zero, lower+off*medium, big.NewInt(1000))
				require.NoError(t, err)
			}
		}
		require.NoError(t, reg.RegisterGrid(g))
		return g
	}
	return &fixture{
		grid01: mk(tokens[0], tokens[1]),
		grid12: mk(tokens[1], tokens[2]),
		quoter: New(reg, nil),
	}
}

func encode(t *testing.T, toks ...common.Address) []byte {
	t.Helper()
	protocols := make([]uint8, len(toks)-1)
	resolutions := make([]int32, len(toks)-1)
	for i := range protocols {
		protocols[i] = swappath.ProtocolGrid
		resolutions[i] = medium
	}
	p, err := swappath.Encode(toks, protocols, resolutions)
	require.NoError(t, err)
	return p
}

func swap(t *testing.T, g *grid.Grid, tokenIn common.Address, amount *big.Int, exactInput bool) *ledger.SwapResult {
	t.Helper()
	res, _, err := g.Swap(ledger.SwapParams{
		ZeroForOne: tokenIn == g.Token0(),
		Amount:     amount,
		ExactInput: exactInput,
	})
	require.NoError(t, err)
	return res
}

func TestQuoteExactOutputSingleHop(t *testing.T) {
	tests := []struct {
		name        string
		out, in     common.Address
		amount      int64
		wantCrossed uint32
	}{
		{"0 -> 1 within one boundary", tokens[1], tokens[0], 100, 1},
		{"0 -> 1 across boundaries", tokens[1], tokens[0], 1500, 2},
		{"1 -> 0 within one boundary", tokens[0], tokens[1], 100, 1},
		{"1 -> 0 across boundaries", tokens[0], tokens[1], 1500, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			quote, err := f.quoter.QuoteExactOutput(context.Background(), encode(t, tt.out, tt.in), big.NewInt(tt.amount))
			require.NoError(t, err)

			executed := swap(t, f.grid01, tt.in, big.NewInt(tt.amount), false)

			assert.Equal(t, 0, quote.Amount.Cmp(executed.AmountIn), "quote %s, real %s", quote.Amount, executed.AmountIn)
			require.Len(t, quote.PriceAfterList, 1)
			require.Len(t, quote.InitializedBoundariesCrossedList, 1)
			assert.Equal(t, 0, quote.PriceAfterList[0].Cmp(f.grid01.Slot0().PriceX96))
			assert.Equal(t, tt.wantCrossed, quote.InitializedBoundariesCrossedList[0])
		})
	}
}

func TestQuoteExactOutputTwoHops(t *testing.T) {
	for _, tt := range []struct {
		amount      int64
		wantCrossed []uint32
	}{
		{100, []uint32{1, 1}},
		{1500, []uint32{2, 2}},
	} {
		f := newFixture(t)
		// 0 -> 1 -> 2, encoded output first
		quote, err := f.quoter.QuoteExactOutput(context.Background(), encode(t, tokens[2], tokens[1], tokens[0]), big.NewInt(tt.amount))
		require.NoError(t, err)

		r12 := swap(t, f.grid12, tokens[1], big.NewInt(tt.amount), false)
		r01 := swap(t, f.grid01, tokens[0], r12.AmountIn, false)

		assert.Equal(t, 0, quote.Amount.Cmp(r01.AmountIn))
		require.Len(t, quote.PriceAfterList, 2)
		require.Len(t, quote.InitializedBoundariesCrossedList, 2)
		assert.Equal(t, 0, quote.PriceAfterList[0].Cmp(f.grid12.Slot0().PriceX96))
		assert.Equal(t, 0, quote.PriceAfterList[1].Cmp(f.grid01.Slot0().PriceX96))
		assert.Equal(t, tt.wantCrossed, quote.InitializedBoundariesCrossedList)

		assert.Equal(t, tokens[1], quote.Hops[0].TokenIn)
		assert.Equal(t, tokens[2], quote.Hops[0].TokenOut)
	}
}

func TestQuoteExactInput(t *testing.T) {
	for _, tt := range []struct {
		name        string
		path        []common.Address
		amount      int64
		wantCrossed []uint32
	}{
		{"0 -> 1", []common.Address{tokens[0], tokens[1]}, 100, []uint32{1}},
		{"1 -> 0 across boundaries", []common.Address{tokens[1], tokens[0]}, 1500, []uint32{2}},
		{"0 -> 1 -> 2", []common.Address{tokens[0], tokens[1], tokens[2]}, 100, []uint32{1, 1}},
		{"2 -> 1 -> 0 across boundaries", []common.Address{tokens[2], tokens[1], tokens[0]}, 1500, []uint32{2, 2}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			quote, err := f.quoter.QuoteExactInput(context.Background(), encode(t, tt.path...), big.NewInt(tt.amount))
			require.NoError(t, err)

			amount := big.NewInt(tt.amount)
			var prices []*big.Int
			for i := 0; i+1 < len(tt.path); i++ {
				g := f.grid01
				if tt.path[i] == tokens[2] || tt.path[i+1] == tokens[2] {
					g = f.grid12
				}
				r := swap(t, g, tt.path[i], amount, true)
				amount = r.AmountOut
				prices = append(prices, g.Slot0().PriceX96)
			}

			assert.Equal(t, 0, quote.Amount.Cmp(amount), "quote %s, real %s", quote.Amount, amount)
			require.Len(t, quote.PriceAfterList, len(prices))
			for i := range prices {
				assert.Equal(t, 0, quote.PriceAfterList[i].Cmp(prices[i]), "hop %d", i)
			}
			assert.Equal(t, tt.wantCrossed, quote.InitializedBoundariesCrossedList)
		})
	}
}

func TestQuoteDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	before := f.grid01.Slot0()
	books := f.grid01.MakerBooks(true, 10)

	_, err := f.quoter.QuoteExactInput(context.Background(), encode(t, tokens[1], tokens[0]), big.NewInt(2500))
	require.NoError(t, err)

	assert.Equal(t, 0, before.PriceX96.Cmp(f.grid01.Slot0().PriceX96))
	assert.Equal(t, books, f.grid01.MakerBooks(true, 10))
}

func TestQuoteErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := encode(t, tokens[0], tokens[1])

	_, err := f.quoter.QuoteExactInput(ctx, path[:30], big.NewInt(1))
	assert.ErrorIs(t, err, swappath.ErrMalformedPath)

	_, err = f.quoter.QuoteExactInput(ctx, path, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.quoter.QuoteExactOutput(ctx, path, big.NewInt(10_000))
	assert.ErrorIs(t, err, ledger.ErrInsufficientLiquidity)

	// second hop fails: no 0/2 grid
	_, err = f.quoter.QuoteExactInput(ctx, encode(t, tokens[1], tokens[0], tokens[2]), big.NewInt(10))
	assert.ErrorIs(t, err, ledger.ErrPoolNotFound)

	bad, err := swappath.Encode(tokens[:2], []uint8{9}, []int32{medium})
	require.NoError(t, err)
	_, err = f.quoter.QuoteExactInput(ctx, bad, big.NewInt(10))
	assert.ErrorIs(t, err, ledger.ErrUnsupportedProtocol)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.quoter.QuoteExactInput(cancelled, path, big.NewInt(10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuoteSingle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hq, err := f.quoter.QuoteExactInputSingle(ctx, SingleParams{
		TokenIn: tokens[1], TokenOut: tokens[0], Protocol: swappath.ProtocolGrid,
		Resolution: medium, Amount: big.NewInt(1500),
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), hq.BoundariesCrossed)

	// a limit at boundary 5 stops after the first cell
	hq, err = f.quoter.QuoteExactOutputSingle(ctx, SingleParams{
		TokenIn: tokens[1], TokenOut: tokens[0], Protocol: swappath.ProtocolGrid,
		Resolution: medium, Amount: big.NewInt(1500), PriceLimit: boundary.MustPriceAtBoundary(5),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), hq.AmountOut.Int64())
	assert.Equal(t, uint32(1), hq.BoundariesCrossed)

	_, err = f.quoter.QuoteExactOutputSingle(ctx, SingleParams{TokenIn: tokens[1], TokenOut: tokens[0], Protocol: 1, Resolution: medium})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

// stubLedger serves a single pool with canned results.
type stubLedger struct{ pool ledger.Pool }

func (l stubLedger) Pool(uint8, common.Address, common.Address, int32) (ledger.Pool, error) {
	return l.pool, nil
}

type stubPool struct {
	res *ledger.SwapResult
	err error
	idx *bitmap.Index
}

func (p *stubPool) Token0() common.Address    { return tokens[0] }
func (p *stubPool) Token1() common.Address    { return tokens[1] }
func (p *stubPool) Resolution() int32         { return medium }
func (p *stubPool) Slot0() ledger.Slot0       { return ledger.Slot0{} }
func (p *stubPool) Bitmap(bool) bitmap.Reader { return p.idx }
func (p *stubPool) SimulateSwap(ledger.SwapParams) (*ledger.SwapResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	res := *p.res
	res.Consumed = p.idx
	return &res, nil
}

func TestQuotePropagatesLedgerErrors(t *testing.T) {
	sentinel := errors.New("ledger unavailable")
	q := New(stubLedger{pool: &stubPool{err: sentinel, idx: bitmap.New(medium)}}, nil)
	_, err := q.QuoteExactInput(context.Background(), encode(t, tokens[0], tokens[1]), big.NewInt(1))
	assert.ErrorIs(t, err, sentinel)
}

func TestQuoteCountsAgainstInjectedBitmap(t *testing.T) {
	idx := bitmap.New(medium)
	for _, b := range []int32{0, 5, 10, 15} {
		require.NoError(t, idx.Set(b))
	}
	p0, p17 := boundary.MustPriceAtBoundary(0), boundary.MustPriceAtBoundary(17)
	pool := &stubPool{idx: idx, res: &ledger.SwapResult{
		AmountIn: big.NewInt(1), AmountOut: big.NewInt(1),
		PriceBefore: p0, BoundaryBefore: 0, BoundaryLowerBefore: 0,
		PriceAfter: p17, BoundaryAfter: 17, BoundaryLowerAfter: 15,
	}}
	q := New(stubLedger{pool: pool}, nil)

	quote, err := q.QuoteExactInput(context.Background(), encode(t, tokens[1], tokens[0]), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, []uint32{4}, quote.InitializedBoundariesCrossedList)
}

// racingPool places a maker order the first time Bitmap or SimulateSwap is
// called, standing in for a write that lands while a quote is in flight.
type racingPool struct {
	*grid.Grid
	t      *testing.T
	placed bool
}

func (p *racingPool) place() {
	if p.placed {
		return
	}
	p.placed = true
	_, err := p.Grid.PlaceMakerOrder(common.Address{}, true, 5*medium, big.NewInt(1000))
	require.NoError(p.t, err)
}

func (p *racingPool) Bitmap(zero bool) bitmap.Reader {
	p.place()
	return p.Grid.Bitmap(zero)
}

func (p *racingPool) SimulateSwap(sp ledger.SwapParams) (*ledger.SwapResult, error) {
	p.place()
	return p.Grid.SimulateSwap(sp)
}

func TestQuoteCountsAgainstSimulatedState(t *testing.T) {
	g, err := grid.New(tokens[0], tokens[1], medium, nil)
	require.NoError(t, err)
	require.NoError(t, g.Initialize(new(big.Int).Set(boundary.Q96)))
	_, err = g.PlaceMakerOrder(common.Address{}, true, 0, big.NewInt(1000))
	require.NoError(t, err)

	pool := &racingPool{Grid: g, t: t}
	q := New(stubLedger{pool: pool}, nil)

	// exact output of token0 pushes the price up through cell 0 into cell 5
	quote, err := q.QuoteExactOutput(context.Background(), encode(t, tokens[0], tokens[1]), big.NewInt(1500))
	require.NoError(t, err)
	require.True(t, pool.placed)

	executed, fills, err := g.Swap(ledger.SwapParams{Amount: big.NewInt(1500)})
	require.NoError(t, err)
	assert.Equal(t, 0, quote.Amount.Cmp(executed.AmountIn))
	assert.Equal(t, []uint32{uint32(len(fills))}, quote.InitializedBoundariesCrossedList)
}
