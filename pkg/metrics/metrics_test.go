package metrics

import (
	"context"
	"fmt"
	"testing"

	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
	"github.com/uhyunpark/gridquote/pkg/app/core/swappath"
)

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("hop 1: %w", swappath.ErrMalformedPath), "malformed_path"},
		{fmt.Errorf("hop 0: %w", ledger.ErrInsufficientLiquidity), "insufficient_liquidity"},
		{ledger.ErrPoolNotFound, "pool_not_found"},
		{context.Canceled, "error"},
	}
	for _, tt := range tests {
		if got := Result(tt.err); got != tt.want {
			t.Errorf("Result(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
