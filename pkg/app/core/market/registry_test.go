package market

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
	"github.com/uhyunpark/gridquote/pkg/app/core/grid"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
	"github.com/uhyunpark/gridquote/pkg/app/core/swappath"
)

var (
	tok0 = common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707")
	tok1 = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
)

func mustGrid(t *testing.T, a, b common.Address, res int32) *grid.Grid {
	t.Helper()
	g, err := grid.New(a, b, res, nil)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	return g
}

func TestGridKeyID(t *testing.T) {
	k1 := NewGridKey(tok0, tok1, boundary.ResolutionMedium)
	k2 := NewGridKey(tok1, tok0, boundary.ResolutionMedium)
	if k1 != k2 {
		t.Errorf("key not order independent: %v != %v", k1, k2)
	}
	if k1.ID() != k2.ID() {
		t.Errorf("ID differs for the same pair")
	}
	k3 := NewGridKey(tok0, tok1, boundary.ResolutionHigh)
	if k1.ID() == k3.ID() {
		t.Errorf("ID collides across resolutions")
	}
	if k1.ID() == (common.Hash{}) {
		t.Errorf("ID is zero")
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewGridRegistry()
	g := mustGrid(t, tok1, tok0, boundary.ResolutionMedium)
	if err := r.RegisterGrid(g); err != nil {
		t.Fatalf("RegisterGrid: %v", err)
	}
	if err := r.RegisterGrid(mustGrid(t, tok0, tok1, boundary.ResolutionMedium)); !errors.Is(err, ErrGridExists) {
		t.Errorf("duplicate registration succeeded")
	}
	if err := r.RegisterGrid(nil); err == nil {
		t.Errorf("nil registration succeeded")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}

	got, err := r.GetGrid(NewGridKey(tok0, tok1, boundary.ResolutionMedium))
	if err != nil || got != g {
		t.Errorf("GetGrid = %v, %v; want registered grid", got, err)
	}

	pool, err := r.Pool(swappath.ProtocolGrid, tok0, tok1, boundary.ResolutionMedium)
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if pool.Token0() != tok0 || pool.Token1() != tok1 {
		t.Errorf("pool tokens = %s/%s", pool.Token0().Hex(), pool.Token1().Hex())
	}
}

func TestPoolErrors(t *testing.T) {
	r := NewGridRegistry()
	g := mustGrid(t, tok0, tok1, boundary.ResolutionLow)
	if err := r.RegisterGrid(g); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Pool(2, tok0, tok1, boundary.ResolutionLow); !errors.Is(err, ledger.ErrUnsupportedProtocol) {
		t.Errorf("err = %v, want ErrUnsupportedProtocol", err)
	}
	if _, err := r.Pool(swappath.ProtocolGrid, tok0, tok1, boundary.ResolutionHigh); !errors.Is(err, ledger.ErrPoolNotFound) {
		t.Errorf("err = %v, want ErrPoolNotFound", err)
	}

	id := NewGridKey(tok0, tok1, boundary.ResolutionLow).ID()
	if err := r.UpdateGridStatus(id, Paused); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Pool(swappath.ProtocolGrid, tok0, tok1, boundary.ResolutionLow); !errors.Is(err, ledger.ErrPoolNotFound) {
		t.Errorf("paused grid: err = %v, want ErrPoolNotFound", err)
	}
	if s, _ := r.Status(id); s != Paused {
		t.Errorf("status = %s, want paused", s)
	}
	if _, err := r.GetGridByID(id); err != nil {
		t.Errorf("paused grid should stay queryable: %v", err)
	}
}

func TestListGridsSorted(t *testing.T) {
	r := NewGridRegistry()
	for _, res := range []int32{boundary.ResolutionLow, boundary.ResolutionMedium, boundary.ResolutionHigh} {
		if err := r.RegisterGrid(mustGrid(t, tok0, tok1, res)); err != nil {
			t.Fatal(err)
		}
	}
	grids := r.ListGrids()
	if len(grids) != 3 {
		t.Fatalf("len = %d, want 3", len(grids))
	}
	for i := 1; i < len(grids); i++ {
		prev := NewGridKey(grids[i-1].Token0(), grids[i-1].Token1(), grids[i-1].Resolution()).ID()
		cur := NewGridKey(grids[i].Token0(), grids[i].Token1(), grids[i].Resolution()).ID()
		if prev.Cmp(cur) >= 0 {
			t.Errorf("grids not sorted at %d", i)
		}
	}
}
