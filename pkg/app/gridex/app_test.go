package gridex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
	"github.com/uhyunpark/gridquote/pkg/app/core/grid"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
	"github.com/uhyunpark/gridquote/pkg/app/core/market"
	"github.com/uhyunpark/gridquote/pkg/app/core/swappath"
	"github.com/uhyunpark/gridquote/pkg/crypto"
	"github.com/uhyunpark/gridquote/pkg/storage"
	"github.com/uhyunpark/gridquote/pkg/util"
)

var (
	tokenA = common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707")
	tokenB = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	tokenC = common.HexToAddress("0xDc64a140Aa3E981100a9becA4E685f962f0cF6C9")
)

const medium = boundary.ResolutionMedium

type recordingWAL struct{ lines []string }

func (w *recordingWAL) Append(line string) { w.lines = append(w.lines, line) }

func (w *recordingWAL) types(t *testing.T) []string {
	t.Helper()
	out := make([]string, 0, len(w.lines))
	for _, l := range w.lines {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m["type"].(string))
	}
	return out
}

type fixture struct {
	app   *App
	maker *crypto.Signer
	grid  common.Hash
	nonce int64
}

func newApp(t *testing.T, opts Options) *App {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = &util.StepClock{T: time.Unix(1_700_000_000, 0), Step: time.Millisecond}
	}
	a, err := New(opts)
	require.NoError(t, err)
	return a
}

func (f *fixture) place(t *testing.T, zero bool, lower int32, amount int64) uint64 {
	t.Helper()
	f.nonce++
	o := &crypto.MakerOrderEIP712{
		GridID:        f.grid,
		Zero:          zero,
		BoundaryLower: lower,
		Amount:        big.NewInt(amount),
		Nonce:         big.NewInt(f.nonce),
		Owner:         f.maker.Address(),
	}
	sig, err := f.app.Verifier().SignMakerOrder(f.maker, o)
	require.NoError(t, err)
	id, err := f.app.PlaceMakerOrder(o, sig)
	require.NoError(t, err)
	return id
}

// seed rests 1000 on both sides of every cell from -10 to +10 of f.grid.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	for _, zero := range []bool{true, false} {
		for _, b := range []int32{-10, -5, 0, 5, 10} {
			f.place(t, zero, b, 1000)
		}
	}
}

// newFixture creates one MEDIUM grid at price 1 with 1000 resting on both
// sides of every cell from -10 to +10.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	maker, err := crypto.GenerateKey()
	require.NoError(t, err)
	f := &fixture{app: newApp(t, opts), maker: maker}

	f.grid, err = f.app.CreateGrid(tokenB, tokenA, medium, boundary.MustPriceAtBoundary(0))
	require.NoError(t, err)
	f.seed(t)
	return f
}

// buyToken0Path is encoded output-first: token0 is received, token1 paid.
func buyToken0Path(t *testing.T) []byte {
	t.Helper()
	path, err := swappath.Encode([]common.Address{tokenA, tokenB}, []uint8{swappath.ProtocolGrid}, []int32{medium})
	require.NoError(t, err)
	return path
}

func TestCreateGrid(t *testing.T) {
	a := newApp(t, Options{})
	id, err := a.CreateGrid(tokenB, tokenA, medium, boundary.Q96)
	require.NoError(t, err)
	assert.Equal(t, market.NewGridKey(tokenA, tokenB, medium).ID(), id)

	_, err = a.CreateGrid(tokenA, tokenB, medium, boundary.Q96)
	assert.ErrorIs(t, err, market.ErrGridExists)
	_, err = a.CreateGrid(tokenA, tokenB, 7, boundary.Q96)
	assert.ErrorIs(t, err, boundary.ErrInvalidResolution)
	_, err = a.CreateGrid(tokenA, tokenB, boundary.ResolutionHigh, big.NewInt(1))
	assert.ErrorIs(t, err, boundary.ErrOutOfRange)

	info, err := a.Grid(id)
	require.NoError(t, err)
	assert.Equal(t, tokenA, info.Token0)
	assert.Equal(t, int32(0), info.Boundary)
	assert.Equal(t, "1.000000000000000000", info.Price)
	assert.Equal(t, "active", info.Status)
	assert.Len(t, a.Grids(), 1)

	_, err = a.Grid(common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ledger.ErrPoolNotFound)
}

func TestPlaceMakerOrderChecks(t *testing.T) {
	f := newFixture(t, Options{})
	o := &crypto.MakerOrderEIP712{
		GridID:        f.grid,
		Zero:          true,
		BoundaryLower: 15,
		Amount:        big.NewInt(10),
		Nonce:         big.NewInt(f.nonce + 1),
		Owner:         f.maker.Address(),
	}
	sig, err := f.app.Verifier().SignMakerOrder(f.maker, o)
	require.NoError(t, err)

	forged := *o
	forged.Amount = big.NewInt(11)
	_, err = f.app.PlaceMakerOrder(&forged, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = f.app.PlaceMakerOrder(o, sig)
	require.NoError(t, err)
	_, err = f.app.PlaceMakerOrder(o, sig)
	assert.ErrorIs(t, err, ErrNonceTooLow)

	missing := *o
	missing.GridID = common.HexToHash("0x02")
	missing.Nonce = big.NewInt(f.nonce + 10)
	sig, err = f.app.Verifier().SignMakerOrder(f.maker, &missing)
	require.NoError(t, err)
	_, err = f.app.PlaceMakerOrder(&missing, sig)
	assert.ErrorIs(t, err, ledger.ErrPoolNotFound)
}

func TestCancelMakerOrder(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.place(t, true, 15, 700)

	c := &crypto.CancelEIP712{GridID: f.grid, OrderID: id, Nonce: big.NewInt(f.nonce + 1), Owner: f.maker.Address()}
	sig, err := f.app.Verifier().SignCancel(f.maker, c)
	require.NoError(t, err)

	refund, err := f.app.CancelMakerOrder(c, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(700), refund.Remaining.Int64())

	books, err := f.app.MakerBooks(f.grid, true, 10)
	require.NoError(t, err)
	for _, e := range books {
		assert.NotEqual(t, int32(15), e.BoundaryLower)
	}
}

func TestMakerBooksDepthCap(t *testing.T) {
	f := newFixture(t, Options{MaxBookDepth: 2})
	books, err := f.app.MakerBooks(f.grid, true, 10)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, int32(0), books[0].BoundaryLower)
	assert.Equal(t, int32(5), books[1].BoundaryLower)
}

func TestSwapExactOutputMatchesQuote(t *testing.T) {
	wal := &recordingWAL{}
	f := newFixture(t, Options{WAL: wal})
	ctx := context.Background()
	path := buyToken0Path(t)

	var events []SwapEvent
	f.app.OnSwap(func(ev SwapEvent) { events = append(events, ev) })

	q, err := f.app.Quoter().QuoteExactOutput(ctx, path, big.NewInt(1500))
	require.NoError(t, err)
	assert.Equal(t, int64(1502), q.Amount.Int64())
	assert.Equal(t, []uint32{2}, q.InitializedBoundariesCrossedList)

	rcpt, err := f.app.SwapExactOutput(ctx, path, big.NewInt(1500), big.NewInt(1502))
	require.NoError(t, err)
	assert.Equal(t, 0, q.Amount.Cmp(rcpt.AmountIn))
	assert.Equal(t, int64(1500), rcpt.AmountOut.Int64())
	require.Len(t, rcpt.Hops, 1)
	assert.False(t, rcpt.Hops[0].ZeroForOne)
	assert.Equal(t, 0, q.PriceAfterList[0].Cmp(rcpt.Hops[0].PriceX96))
	assert.NotEmpty(t, rcpt.ID)

	require.Len(t, events, 1)
	assert.Equal(t, f.grid, events[0].GridID)
	assert.Equal(t, rcpt.ID, events[0].SwapID)

	info, err := f.app.Grid(f.grid)
	require.NoError(t, err)
	assert.Equal(t, 0, info.PriceX96.Cmp(rcpt.Hops[0].PriceX96))

	books, err := f.app.MakerBooks(f.grid, true, 1)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, int32(5), books[0].BoundaryLower)
	assert.Equal(t, int64(500), books[0].Remaining.Int64())

	types := wal.types(t)
	assert.Equal(t, "create", types[0])
	assert.Equal(t, "swap", types[len(types)-1])
}

func TestSwapSlippageLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	path := buyToken0Path(t)
	before := f.app.StateHash()

	_, err := f.app.SwapExactOutput(ctx, path, big.NewInt(1500), big.NewInt(1501))
	assert.ErrorIs(t, err, ErrSlippage)

	in, err := swappath.Reverse(path)
	require.NoError(t, err)
	_, err = f.app.SwapExactInput(ctx, in, big.NewInt(100), big.NewInt(100))
	assert.ErrorIs(t, err, ErrSlippage)

	_, err = f.app.SwapExactInput(ctx, in, big.NewInt(1_000_000), nil)
	assert.ErrorIs(t, err, ledger.ErrInsufficientLiquidity)

	assert.Equal(t, before, f.app.StateHash())
}

func TestSwapExactInput(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in, err := swappath.Reverse(buyToken0Path(t))
	require.NoError(t, err)

	q, err := f.app.Quoter().QuoteExactInput(ctx, in, big.NewInt(101))
	require.NoError(t, err)

	rcpt, err := f.app.SwapExactInput(ctx, in, big.NewInt(101), q.Amount)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Amount.Cmp(rcpt.AmountOut))
	assert.Equal(t, int64(101), rcpt.AmountIn.Int64())
}

func TestSwapRejectsRepeatedPool(t *testing.T) {
	f := newFixture(t, Options{})
	path, err := swappath.Encode(
		[]common.Address{tokenA, tokenB, tokenA},
		[]uint8{swappath.ProtocolGrid, swappath.ProtocolGrid},
		[]int32{medium, medium},
	)
	require.NoError(t, err)
	_, err = f.app.SwapExactInput(context.Background(), path, big.NewInt(10), nil)
	assert.ErrorIs(t, err, ErrRepeatedPool)
}

func TestPausedGridIsNotRouted(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.app.SetGridStatus(f.grid, market.Paused))
	_, err := f.app.SwapExactOutput(context.Background(), buyToken0Path(t), big.NewInt(10), nil)
	assert.ErrorIs(t, err, ledger.ErrPoolNotFound)
}

func TestRestoreFromStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	store, err := storage.NewPebbleStore(dir)
	require.NoError(t, err)

	f := newFixture(t, Options{Store: store})
	_, err = f.app.SwapExactOutput(context.Background(), buyToken0Path(t), big.NewInt(100), nil)
	require.NoError(t, err)
	want := f.app.StateHash()

	swaps, err := f.app.RecentSwaps(f.grid, 10)
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	assert.Equal(t, int64(101), swaps[0].AmountIn.Int64())
	require.NoError(t, store.Close())

	store, err = storage.NewPebbleStore(dir)
	require.NoError(t, err)
	defer store.Close()

	restored := newApp(t, Options{Store: store})
	assert.Equal(t, want, restored.StateHash())
	orders, err := restored.Orders(f.grid, f.maker.Address())
	require.NoError(t, err)
	assert.Len(t, orders, 10)

	replay := &crypto.MakerOrderEIP712{
		GridID:        f.grid,
		Zero:          true,
		BoundaryLower: 20,
		Amount:        big.NewInt(1),
		Nonce:         big.NewInt(f.nonce),
		Owner:         f.maker.Address(),
	}
	sig, err := restored.Verifier().SignMakerOrder(f.maker, replay)
	require.NoError(t, err)
	_, err = restored.PlaceMakerOrder(replay, sig)
	assert.ErrorIs(t, err, ErrNonceTooLow)
}

// flakyStore fails exactly the failAt-th SaveGrid call.
type flakyStore struct {
	*storage.PebbleStore
	calls  int
	failAt int
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) SaveGrid(state *grid.State) error {
	s.calls++
	if s.calls == s.failAt {
		return errDiskFull
	}
	return s.PebbleStore.SaveGrid(state)
}

func TestSwapRevertsEveryHopWhenPersistFails(t *testing.T) {
	pebble, err := storage.NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer pebble.Close()
	store := &flakyStore{PebbleStore: pebble}

	f := newFixture(t, Options{Store: store})
	first := f.grid
	f.grid, err = f.app.CreateGrid(tokenB, tokenC, medium, boundary.MustPriceAtBoundary(0))
	require.NoError(t, err)
	f.seed(t)
	second := f.grid

	var events []SwapEvent
	f.app.OnSwap(func(ev SwapEvent) { events = append(events, ev) })

	ctx := context.Background()
	path, err := swappath.Encode(
		[]common.Address{tokenA, tokenB, tokenC},
		[]uint8{swappath.ProtocolGrid, swappath.ProtocolGrid},
		[]int32{medium, medium},
	)
	require.NoError(t, err)
	q, err := f.app.Quoter().QuoteExactInput(ctx, path, big.NewInt(1500))
	require.NoError(t, err)
	before := f.app.StateHash()

	// the first hop's grid saves, the second hop's does not
	store.failAt = store.calls + 2
	_, err = f.app.SwapExactInput(ctx, path, big.NewInt(1500), nil)
	require.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, before, f.app.StateHash())
	assert.Empty(t, events)
	for _, id := range []common.Hash{first, second} {
		swaps, err := f.app.RecentSwaps(id, 10)
		require.NoError(t, err)
		assert.Empty(t, swaps)

		saved, err := pebble.LoadGrid(id)
		require.NoError(t, err)
		assert.Equal(t, 0, saved.PriceX96.Cmp(boundary.MustPriceAtBoundary(0)), "grid %s", id.Hex())
	}

	rcpt, err := f.app.SwapExactInput(ctx, path, big.NewInt(1500), q.Amount)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Amount.Cmp(rcpt.AmountOut))
	assert.Len(t, events, 2)
}

func TestRejectedOrderKeepsNonce(t *testing.T) {
	f := newFixture(t, Options{})
	nonce := big.NewInt(f.nonce + 1)
	sign := func(o *crypto.MakerOrderEIP712) []byte {
		sig, err := f.app.Verifier().SignMakerOrder(f.maker, o)
		require.NoError(t, err)
		return sig
	}

	unaligned := &crypto.MakerOrderEIP712{
		GridID: f.grid, Zero: true, BoundaryLower: 7,
		Amount: big.NewInt(10), Nonce: nonce, Owner: f.maker.Address(),
	}
	_, err := f.app.PlaceMakerOrder(unaligned, sign(unaligned))
	assert.ErrorIs(t, err, boundary.ErrInvalidResolution)

	unknown := *unaligned
	unknown.GridID = common.HexToHash("0x03")
	unknown.BoundaryLower = 15
	_, err = f.app.PlaceMakerOrder(&unknown, sign(&unknown))
	assert.ErrorIs(t, err, ledger.ErrPoolNotFound)

	c := &crypto.CancelEIP712{GridID: f.grid, OrderID: 999, Nonce: nonce, Owner: f.maker.Address()}
	csig, err := f.app.Verifier().SignCancel(f.maker, c)
	require.NoError(t, err)
	_, err = f.app.CancelMakerOrder(c, csig)
	assert.ErrorIs(t, err, grid.ErrOrderNotFound)

	valid := *unaligned
	valid.BoundaryLower = 15
	_, err = f.app.PlaceMakerOrder(&valid, sign(&valid))
	require.NoError(t, err)
	_, err = f.app.PlaceMakerOrder(&valid, sign(&valid))
	assert.ErrorIs(t, err, ErrNonceTooLow)
}

func TestWriteBigIsUnambiguous(t *testing.T) {
	enc := func(xs ...int64) []byte {
		var buf bytes.Buffer
		for _, x := range xs {
			writeBig(&buf, big.NewInt(x))
		}
		return buf.Bytes()
	}
	// without a length prefix both pairs serialize to 01 02 03
	assert.NotEqual(t, enc(0x01, 0x0203), enc(0x0102, 0x03))
	assert.NotEqual(t, enc(0, 0x01), enc(0x01, 0))
	assert.Equal(t, []byte{0, 0, 0, 2, 0x01, 0x02}, enc(0x0102))
}
