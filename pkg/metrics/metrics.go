// Package metrics holds the node's Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
	"github.com/uhyunpark/gridquote/pkg/app/core/swappath"
)

var (
	// QuotesTotal counts quotes by kind ("exact_input", "exact_output") and result.
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridquote_quotes_total",
		Help: "Total quotes by kind and result",
	}, []string{"kind", "result"})

	QuoteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridquote_quote_duration_seconds",
		Help:    "Quote duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
	}, []string{"kind"})

	QuoteHops = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridquote_quote_hops",
		Help:    "Number of hops per quoted path",
		Buckets: []float64{1, 2, 3, 4, 6, 8},
	})

	BoundariesCrossed = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridquote_boundaries_crossed",
		Help:    "Initialized boundaries crossed per quoted hop",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
	})

	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridquote_swaps_total",
		Help: "Total executed swaps by direction",
	}, []string{"direction"})

	MakerOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridquote_maker_orders_total",
		Help: "Maker order events by action",
	}, []string{"action"}) // "place" or "cancel"

	GridsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridquote_grids_registered",
		Help: "Number of grids in the registry",
	})
)

// Result classifies an error into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, swappath.ErrMalformedPath):
		return "malformed_path"
	case errors.Is(err, ledger.ErrPoolNotFound):
		return "pool_not_found"
	case errors.Is(err, ledger.ErrUnsupportedProtocol):
		return "unsupported_protocol"
	case errors.Is(err, ledger.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, boundary.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, boundary.ErrInvalidResolution):
		return "invalid_resolution"
	default:
		return "error"
	}
}

// Direction labels a swap by which token goes in.
func Direction(zeroForOne bool) string {
	if zeroForOne {
		return "zero_for_one"
	}
	return "one_for_zero"
}
