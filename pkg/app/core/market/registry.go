package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/gridquote/pkg/app/core/grid"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
	"github.com/uhyunpark/gridquote/pkg/app/core/swappath"
)

var ErrGridExists = errors.New("grid already registered")

type GridStatus int8

const (
	Active GridStatus = iota
	Paused
)

func (s GridStatus) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

type entry struct {
	grid   *grid.Grid
	status GridStatus
}

// GridRegistry manages every grid in a thread-safe manner.
// It is the Ledger the quoter resolves hops against.
type GridRegistry struct {
	mu    sync.RWMutex
	grids map[common.Hash]*entry // key id -> grid
}

// NewGridRegistry creates an empty registry
func NewGridRegistry() *GridRegistry {
	return &GridRegistry{
		grids: make(map[common.Hash]*entry),
	}
}

// RegisterGrid adds a grid.
// Returns error if a grid with the same key already exists
func (r *GridRegistry) RegisterGrid(g *grid.Grid) error {
	if g == nil {
		return fmt.Errorf("cannot register nil grid")
	}
	key := NewGridKey(g.Token0(), g.Token1(), g.Resolution())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.grids[key.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrGridExists, key)
	}
	r.grids[key.ID()] = &entry{grid: g, status: Active}
	return nil
}

// GetGrid looks a grid up by key.
func (r *GridRegistry) GetGrid(key GridKey) (*grid.Grid, error) {
	return r.GetGridByID(key.ID())
}

func (r *GridRegistry) GetGridByID(id common.Hash) (*grid.Grid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.grids[id]
	if !exists {
		return nil, fmt.Errorf("%w: grid %s", ledger.ErrPoolNotFound, id.Hex())
	}
	return e.grid, nil
}

// ListGrids returns all registered grids ordered by key id.
func (r *GridRegistry) ListGrids() []*grid.Grid {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]common.Hash, 0, len(r.grids))
	for id := range r.grids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })

	grids := make([]*grid.Grid, 0, len(ids))
	for _, id := range ids {
		grids = append(grids, r.grids[id].grid)
	}
	return grids
}

// UpdateGridStatus pauses or resumes a grid.
// Paused grids stay queryable but are hidden from the Ledger.
func (r *GridRegistry) UpdateGridStatus(id common.Hash, status GridStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.grids[id]
	if !exists {
		return fmt.Errorf("%w: grid %s", ledger.ErrPoolNotFound, id.Hex())
	}
	e.status = status
	return nil
}

func (r *GridRegistry) Status(id common.Hash) (GridStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.grids[id]
	if !ok {
		return 0, false
	}
	return e.status, true
}

// Count returns the total number of registered grids
func (r *GridRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.grids)
}

// Pool implements ledger.Ledger.
func (r *GridRegistry) Pool(protocol uint8, tokenA, tokenB common.Address, resolution int32) (ledger.Pool, error) {
	if protocol != swappath.ProtocolGrid {
		return nil, fmt.Errorf("%w: %d", ledger.ErrUnsupportedProtocol, protocol)
	}
	key := NewGridKey(tokenA, tokenB, resolution)

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.grids[key.ID()]
	if !exists || e.status != Active {
		return nil, fmt.Errorf("%w: %s", ledger.ErrPoolNotFound, key)
	}
	return e.grid, nil
}

var _ ledger.Ledger = (*GridRegistry)(nil)
