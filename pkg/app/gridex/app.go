// Package gridex wires the grid registry, quoter, persistence and signed
// maker order handling into one application.
package gridex

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
	"github.com/uhyunpark/gridquote/pkg/app/core/grid"
	"github.com/uhyunpark/gridquote/pkg/app/core/market"
	"github.com/uhyunpark/gridquote/pkg/app/core/quoter"
	"github.com/uhyunpark/gridquote/pkg/crypto"
	"github.com/uhyunpark/gridquote/pkg/metrics"
	"github.com/uhyunpark/gridquote/pkg/storage"
	"github.com/uhyunpark/gridquote/pkg/util"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNonceTooLow      = errors.New("nonce too low")
	ErrSlippage         = errors.New("slippage limit exceeded")
	ErrRepeatedPool     = errors.New("path visits a pool twice")
)

// Store is the persistence the app needs. *storage.PebbleStore satisfies it.
type Store interface {
	SaveGrid(state *grid.State) error
	LoadAllGrids() ([]*grid.State, error)
	SaveSwap(rec *storage.SwapRecord) error
	LoadRecentSwaps(id common.Hash, limit int) ([]*storage.SwapRecord, error)
	SaveNonce(owner common.Address, nonce uint64) error
	LoadNonces() (map[common.Address]uint64, error)
}

type Options struct {
	Store        Store // nil keeps grids in memory only
	WAL          storage.WAL
	Clock        util.Clock
	Logger       *zap.Logger
	Domain       crypto.EIP712Domain
	MaxBookDepth int
}

// GridInfo is the public view of one grid.
type GridInfo struct {
	ID         common.Hash    `json:"id"`
	Token0     common.Address `json:"token0"`
	Token1     common.Address `json:"token1"`
	Resolution int32          `json:"resolution"`
	PriceX96   *big.Int       `json:"priceX96"`
	Price      string         `json:"price"`
	Boundary   int32          `json:"boundary"`
	Status     string         `json:"status"`
}

type App struct {
	registry *market.GridRegistry
	quoter   *quoter.Quoter
	verifier *crypto.EIP712Signer

	store  Store
	wal    storage.WAL
	clock  util.Clock
	logger *zap.Logger

	maxBookDepth int

	// mu serializes every state change made through the app so that a
	// multi-hop swap executes against the state it was quoted on.
	mu     sync.Mutex
	nonces map[common.Address]uint64

	hookMu sync.RWMutex
	onSwap []func(SwapEvent)
}

// New builds the app and restores every grid found in the store.
func New(opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WAL == nil {
		opts.WAL = storage.NewNopWAL()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Domain.ChainID == nil {
		opts.Domain = crypto.DefaultDomain()
	}
	if opts.MaxBookDepth <= 0 {
		opts.MaxBookDepth = 100
	}

	registry := market.NewGridRegistry()
	a := &App{
		registry:     registry,
		quoter:       quoter.New(registry, opts.Logger.Named("quoter")),
		verifier:     crypto.NewEIP712Signer(opts.Domain),
		store:        opts.Store,
		wal:          opts.WAL,
		clock:        opts.Clock,
		logger:       opts.Logger,
		maxBookDepth: opts.MaxBookDepth,
		nonces:       make(map[common.Address]uint64),
	}
	if err := a.restore(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) restore() error {
	if a.store == nil {
		return nil
	}
	states, err := a.store.LoadAllGrids()
	if err != nil {
		return fmt.Errorf("failed to load grids: %w", err)
	}
	for _, st := range states {
		g, err := grid.Restore(st, a.logger)
		if err != nil {
			return fmt.Errorf("failed to restore grid %s: %w",
				market.NewGridKey(st.Token0, st.Token1, st.Resolution), err)
		}
		if err := a.registry.RegisterGrid(g); err != nil {
			return err
		}
	}
	metrics.GridsRegistered.Set(float64(a.registry.Count()))

	nonces, err := a.store.LoadNonces()
	if err != nil {
		return fmt.Errorf("failed to load nonces: %w", err)
	}
	a.nonces = nonces
	a.logger.Info("grids restored", zap.Int("count", len(states)), zap.Int("owners", len(nonces)))
	return nil
}

func (a *App) Registry() *market.GridRegistry { return a.registry }
func (a *App) Quoter() *quoter.Quoter         { return a.quoter }
func (a *App) Verifier() *crypto.EIP712Signer { return a.verifier }
func (a *App) MaxBookDepth() int              { return a.maxBookDepth }

// OnSwap registers fn to be called after every executed swap hop.
func (a *App) OnSwap(fn func(SwapEvent)) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	a.onSwap = append(a.onSwap, fn)
}

func (a *App) emit(ev SwapEvent) {
	a.hookMu.RLock()
	defer a.hookMu.RUnlock()
	for _, fn := range a.onSwap {
		fn(ev)
	}
}

// CreateGrid registers and initializes a new grid at priceX96.
func (a *App) CreateGrid(tokenA, tokenB common.Address, resolution int32, priceX96 *big.Int) (common.Hash, error) {
	if priceX96 == nil {
		return common.Hash{}, fmt.Errorf("%w: missing initial price", boundary.ErrOutOfRange)
	}
	g, err := grid.New(tokenA, tokenB, resolution, a.logger)
	if err != nil {
		return common.Hash{}, err
	}
	if err := g.Initialize(priceX96); err != nil {
		return common.Hash{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.registry.RegisterGrid(g); err != nil {
		return common.Hash{}, err
	}
	id := market.NewGridKey(g.Token0(), g.Token1(), g.Resolution()).ID()
	if err := a.persist(g); err != nil {
		return common.Hash{}, err
	}
	metrics.GridsRegistered.Set(float64(a.registry.Count()))
	a.journal("create", map[string]any{"grid": id, "priceX96": priceX96.String()})
	a.logger.Info("grid created",
		zap.String("id", id.Hex()),
		zap.String("token0", g.Token0().Hex()),
		zap.String("token1", g.Token1().Hex()),
		zap.Int32("resolution", resolution))
	return id, nil
}

// PlaceMakerOrder verifies a signed maker order and rests it in its grid.
func (a *App) PlaceMakerOrder(o *crypto.MakerOrderEIP712, signature []byte) (uint64, error) {
	ok, err := a.verifier.VerifyMakerOrder(o, signature)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return 0, ErrInvalidSignature
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	n, err := a.checkNonce(o.Owner, o.Nonce)
	if err != nil {
		return 0, err
	}
	g, err := a.registry.GetGridByID(o.GridID)
	if err != nil {
		return 0, err
	}
	before := g.Snapshot()
	id, err := g.PlaceMakerOrder(o.Owner, o.Zero, o.BoundaryLower, o.Amount)
	if err != nil {
		return 0, err
	}
	if err := a.commitSigned(g, before, o.Owner, n); err != nil {
		return 0, err
	}

	metrics.MakerOrdersTotal.WithLabelValues("place").Inc()
	a.journal("place", map[string]any{
		"grid": o.GridID, "order": id, "owner": o.Owner,
		"zero": o.Zero, "boundaryLower": o.BoundaryLower, "amount": o.Amount.String(),
	})
	return id, nil
}

// CancelMakerOrder verifies a signed cancel and withdraws the order.
func (a *App) CancelMakerOrder(c *crypto.CancelEIP712, signature []byte) (*grid.Order, error) {
	ok, err := a.verifier.VerifyCancel(c, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return nil, ErrInvalidSignature
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	n, err := a.checkNonce(c.Owner, c.Nonce)
	if err != nil {
		return nil, err
	}
	g, err := a.registry.GetGridByID(c.GridID)
	if err != nil {
		return nil, err
	}
	before := g.Snapshot()
	refund, err := g.CancelMakerOrder(c.Owner, c.OrderID)
	if err != nil {
		return nil, err
	}
	if err := a.commitSigned(g, before, c.Owner, n); err != nil {
		return nil, err
	}

	metrics.MakerOrdersTotal.WithLabelValues("cancel").Inc()
	a.journal("cancel", map[string]any{"grid": c.GridID, "order": c.OrderID, "owner": c.Owner})
	return refund, nil
}

// checkNonce enforces strictly increasing nonces per owner without
// consuming the nonce. Caller must hold a.mu.
func (a *App) checkNonce(owner common.Address, nonce *big.Int) (uint64, error) {
	if nonce == nil || !nonce.IsUint64() {
		return 0, fmt.Errorf("%w: invalid nonce", ErrNonceTooLow)
	}
	n := nonce.Uint64()
	if last, ok := a.nonces[owner]; ok && n <= last {
		return 0, fmt.Errorf("%w: got %d, last %d", ErrNonceTooLow, n, last)
	}
	return n, nil
}

// commitSigned saves a signed change to g and then consumes the signer's nonce.
// When either write fails, g goes back to before. Caller must hold a.mu.
func (a *App) commitSigned(g *grid.Grid, before *grid.State, owner common.Address, nonce uint64) error {
	err := a.persist(g)
	if err == nil && a.store != nil {
		err = a.store.SaveNonce(owner, nonce)
	}
	if err != nil {
		if rerr := g.Revert(before); rerr != nil {
			a.logger.Error("failed to revert grid", zap.Error(rerr))
		} else if perr := a.persist(g); perr != nil {
			a.logger.Error("failed to restore persisted grid", zap.Error(perr))
		}
		return err
	}
	a.nonces[owner] = nonce
	return nil
}

// Grid returns the info of one grid.
func (a *App) Grid(id common.Hash) (*GridInfo, error) {
	g, err := a.registry.GetGridByID(id)
	if err != nil {
		return nil, err
	}
	return a.info(id, g), nil
}

// Grids lists every grid ordered by id.
func (a *App) Grids() []*GridInfo {
	grids := a.registry.ListGrids()
	out := make([]*GridInfo, 0, len(grids))
	for _, g := range grids {
		out = append(out, a.info(market.NewGridKey(g.Token0(), g.Token1(), g.Resolution()).ID(), g))
	}
	return out
}

func (a *App) info(id common.Hash, g *grid.Grid) *GridInfo {
	slot := g.Slot0()
	status, _ := a.registry.Status(id)
	return &GridInfo{
		ID:         id,
		Token0:     g.Token0(),
		Token1:     g.Token1(),
		Resolution: g.Resolution(),
		PriceX96:   slot.PriceX96,
		Price:      boundary.PriceToDecimal(slot.PriceX96).StringFixed(18),
		Boundary:   slot.Boundary,
		Status:     status.String(),
	}
}

// MakerBooks lists resting liquidity on one side of a grid. maxCount is
// capped at the configured book depth.
func (a *App) MakerBooks(id common.Hash, zero bool, maxCount int) ([]grid.BookEntry, error) {
	g, err := a.registry.GetGridByID(id)
	if err != nil {
		return nil, err
	}
	if maxCount > a.maxBookDepth {
		maxCount = a.maxBookDepth
	}
	return g.MakerBooks(zero, maxCount), nil
}

// Orders lists an owner's orders in one grid.
func (a *App) Orders(id common.Hash, owner common.Address) ([]*grid.Order, error) {
	g, err := a.registry.GetGridByID(id)
	if err != nil {
		return nil, err
	}
	return g.OrdersByOwner(owner), nil
}

// RecentSwaps returns up to limit swaps of a grid, newest first. Without a
// store there is no history.
func (a *App) RecentSwaps(id common.Hash, limit int) ([]*storage.SwapRecord, error) {
	if _, err := a.registry.GetGridByID(id); err != nil {
		return nil, err
	}
	if a.store == nil {
		return nil, nil
	}
	return a.store.LoadRecentSwaps(id, limit)
}

// SetGridStatus pauses or resumes routing through a grid.
func (a *App) SetGridStatus(id common.Hash, status market.GridStatus) error {
	if err := a.registry.UpdateGridStatus(id, status); err != nil {
		return err
	}
	a.journal("status", map[string]any{"grid": id, "status": status.String()})
	return nil
}

// StateHash digests every grid's slot0 and resting books in id order.
func (a *App) StateHash() [32]byte {
	h := sha256.New()
	var buf [8]byte
	for _, g := range a.registry.ListGrids() {
		id := market.NewGridKey(g.Token0(), g.Token1(), g.Resolution()).ID()
		h.Write(id[:])

		slot := g.Slot0()
		writeBig(h, slot.PriceX96)
		binary.BigEndian.PutUint32(buf[:4], uint32(slot.Boundary))
		h.Write(buf[:4])

		for _, zero := range []bool{true, false} {
			for _, e := range g.MakerBooks(zero, a.maxBookDepth) {
				binary.BigEndian.PutUint32(buf[:4], uint32(e.BoundaryLower))
				h.Write(buf[:4])
				writeBig(h, e.Remaining)
			}
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// writeBig writes x length-prefixed so that adjacent values cannot run
// into each other.
func writeBig(w io.Writer, x *big.Int) {
	b := x.Bytes()
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	w.Write(n[:])
	w.Write(b)
}

// persist saves g. Caller must hold a.mu.
func (a *App) persist(g *grid.Grid) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.SaveGrid(g.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist grid: %w", err)
	}
	return nil
}

func (a *App) journal(kind string, fields map[string]any) {
	fields["type"] = kind
	fields["ts"] = a.clock.Now().UnixNano()
	line, err := json.Marshal(fields)
	if err != nil {
		a.logger.Warn("journal encode failed", zap.String("type", kind), zap.Error(err))
		return
	}
	a.wal.Append(string(line))
}
