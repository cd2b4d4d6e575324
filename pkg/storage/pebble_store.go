package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/gridquote/pkg/app/core/grid"
	"github.com/uhyunpark/gridquote/pkg/app/core/market"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// ============================================================================
// Grid Persistence Methods
// ============================================================================

// SaveGrid replaces the stored header and order set of a grid in one batch.
func (s *PebbleStore) SaveGrid(state *grid.State) error {
	id := market.NewGridKey(state.Token0, state.Token1, state.Resolution).ID()

	header := *state
	header.Orders = nil
	data, err := json.Marshal(&header)
	if err != nil {
		return fmt.Errorf("failed to marshal grid: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(gridKey(id), data, nil); err != nil {
		return fmt.Errorf("failed to save grid: %w", err)
	}
	prefix := orderPrefix(id)
	if err := batch.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return fmt.Errorf("failed to clear orders: %w", err)
	}
	for _, o := range state.Orders {
		od, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
		}
		if err := batch.Set(orderKey(id, o.ID), od, nil); err != nil {
			return fmt.Errorf("failed to save order %d: %w", o.ID, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit grid: %w", err)
	}
	return nil
}

// LoadGrid loads a grid with its orders.
// Returns nil if the grid doesn't exist
func (s *PebbleStore) LoadGrid(id common.Hash) (*grid.State, error) {
	data, closer, err := s.db.Get(gridKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grid: %w", err)
	}
	var state grid.State
	err = json.Unmarshal(data, &state)
	closer.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal grid: %w", err)
	}

	orders, err := s.LoadOrders(id)
	if err != nil {
		return nil, err
	}
	state.Orders = orders
	return &state, nil
}

// LoadOrders loads every stored order of a grid in id order.
func (s *PebbleStore) LoadOrders(id common.Hash) ([]*grid.Order, error) {
	prefix := orderPrefix(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open order iterator: %w", err)
	}
	defer iter.Close()

	var orders []*grid.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o grid.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order %s: %w", iter.Key(), err)
		}
		orders = append(orders, &o)
	}
	return orders, nil
}

// LoadAllGrids loads every stored grid.
func (s *PebbleStore) LoadAllGrids() ([]*grid.State, error) {
	prefix := gridPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open grid iterator: %w", err)
	}
	defer iter.Close()

	var ids []common.Hash
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, common.HexToHash(string(iter.Key()[len(prefix):])))
	}

	states := make([]*grid.State, 0, len(ids))
	for _, id := range ids {
		st, err := s.LoadGrid(id)
		if err != nil {
			return nil, err
		}
		if st != nil {
			states = append(states, st)
		}
	}
	return states, nil
}

// DeleteGrid removes a grid, its orders and its swap history.
func (s *PebbleStore) DeleteGrid(id common.Hash) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(gridKey(id), nil); err != nil {
		return fmt.Errorf("failed to delete grid: %w", err)
	}
	for _, prefix := range [][]byte{orderPrefix(id), swapPrefix(id)} {
		if err := batch.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
			return fmt.Errorf("failed to delete grid range: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit grid delete: %w", err)
	}
	return nil
}

// ============================================================================
// Swap History
// ============================================================================

// SaveSwap persists an executed swap
func (s *PebbleStore) SaveSwap(rec *SwapRecord) error {
	data, err := rec.encode()
	if err != nil {
		return err
	}
	if err := s.db.Set(rec.key(), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save swap: %w", err)
	}
	return nil
}

// LoadRecentSwaps loads the most recent swaps of a grid, newest first
func (s *PebbleStore) LoadRecentSwaps(id common.Hash, limit int) ([]*SwapRecord, error) {
	prefix := swapPrefix(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open swap iterator: %w", err)
	}
	defer iter.Close()

	var swaps []*SwapRecord
	for iter.Last(); iter.Valid() && len(swaps) < limit; iter.Prev() {
		rec, err := decodeSwapRecord(iter.Value())
		if err != nil {
			continue
		}
		swaps = append(swaps, rec)
	}
	return swaps, nil
}

// ============================================================================
// Signing Nonces
// ============================================================================

// SaveNonce records the last nonce accepted from owner.
func (s *PebbleStore) SaveNonce(owner common.Address, nonce uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	if err := s.db.Set(nonceKey(owner), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// LoadNonces loads the last accepted nonce of every owner.
func (s *PebbleStore) LoadNonces() (map[common.Address]uint64, error) {
	prefix := noncePrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open nonce iterator: %w", err)
	}
	defer iter.Close()

	nonces := make(map[common.Address]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		if len(iter.Value()) != 8 {
			return nil, fmt.Errorf("corrupt nonce at %s", iter.Key())
		}
		owner := common.HexToAddress(string(iter.Key()[len(prefix):]))
		nonces[owner] = binary.BigEndian.Uint64(iter.Value())
	}
	return nonces, nil
}
