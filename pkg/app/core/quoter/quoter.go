// Package quoter simulates single and multi-hop trades against a Ledger
// without changing its state.
package quoter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/gridquote/pkg/app/core/counter"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
	"github.com/uhyunpark/gridquote/pkg/app/core/swappath"
	"github.com/uhyunpark/gridquote/pkg/metrics"
)

var ErrInvalidAmount = errors.New("quote amount must be positive")

const (
	kindExactInput  = "exact_input"
	kindExactOutput = "exact_output"
)

// Quote is the result of a multi-hop simulation. Amount is the final output
// for exact-input quotes and the required input for exact-output quotes.
// The per-hop lists follow the encoded path order.
type Quote struct {
	Amount                           *big.Int
	PriceAfterList                   []*big.Int
	InitializedBoundariesCrossedList []uint32
	Hops                             []HopQuote
}

// HopQuote is one simulated leg, expressed in trade direction.
type HopQuote struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Resolution        int32
	AmountIn          *big.Int
	AmountOut         *big.Int
	PriceAfter        *big.Int
	BoundariesCrossed uint32
}

// SingleParams quotes one pool. A nil PriceLimit lets the simulation walk
// as far as the amount requires.
type SingleParams struct {
	TokenIn    common.Address
	TokenOut   common.Address
	Protocol   uint8
	Resolution int32
	Amount     *big.Int
	PriceLimit *big.Int
}

type Quoter struct {
	ledger ledger.Ledger
	logger *zap.Logger
}

func New(l ledger.Ledger, logger *zap.Logger) *Quoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Quoter{ledger: l, logger: logger}
}

// QuoteExactInput walks path from its head, feeding each hop's output into
// the next hop's input.
func (q *Quoter) QuoteExactInput(ctx context.Context, path []byte, amountIn *big.Int) (quote *Quote, err error) {
	defer q.observe(kindExactInput, time.Now(), &err)

	n, err := q.validate(path, amountIn)
	if err != nil {
		return nil, err
	}
	quote = newQuote(n)
	amount := new(big.Int).Set(amountIn)

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hop, err := swappath.FirstHop(path)
		if err != nil {
			return nil, err
		}
		hq, err := q.quoteHop(hop.Protocol, hop.TokenIn, hop.TokenOut, hop.Resolution, amount, true, nil)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		quote.add(hq)
		amount = hq.AmountOut

		if !swappath.HasMultipleHops(path) {
			break
		}
		if path, err = swappath.DropFirstToken(path); err != nil {
			return nil, err
		}
	}

	quote.Amount = amount
	return quote, nil
}

// QuoteExactOutput takes a path encoded from the output token back to the
// input token. Each hop reports the input it needs to produce the running
// output, which becomes the output the following hop must produce.
func (q *Quoter) QuoteExactOutput(ctx context.Context, path []byte, amountOut *big.Int) (quote *Quote, err error) {
	defer q.observe(kindExactOutput, time.Now(), &err)

	n, err := q.validate(path, amountOut)
	if err != nil {
		return nil, err
	}
	quote = newQuote(n)
	amount := new(big.Int).Set(amountOut)

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hop, err := swappath.FirstHop(path)
		if err != nil {
			return nil, err
		}
		// encoded tokenOut is what the trader pays into this hop
		hq, err := q.quoteHop(hop.Protocol, hop.TokenOut, hop.TokenIn, hop.Resolution, amount, false, nil)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		quote.add(hq)
		amount = hq.AmountIn

		if !swappath.HasMultipleHops(path) {
			break
		}
		if path, err = swappath.DropFirstToken(path); err != nil {
			return nil, err
		}
	}

	quote.Amount = amount
	return quote, nil
}

// QuoteExactInputSingle quotes selling p.Amount of TokenIn in one pool.
func (q *Quoter) QuoteExactInputSingle(ctx context.Context, p SingleParams) (hq *HopQuote, err error) {
	defer q.observe(kindExactInput, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return q.quoteHop(p.Protocol, p.TokenIn, p.TokenOut, p.Resolution, p.Amount, true, p.PriceLimit)
}

// QuoteExactOutputSingle quotes buying p.Amount of TokenOut in one pool.
// With a price limit the walk may stop short; the quote then reports the
// output actually reachable.
func (q *Quoter) QuoteExactOutputSingle(ctx context.Context, p SingleParams) (hq *HopQuote, err error) {
	defer q.observe(kindExactOutput, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return q.quoteHop(p.Protocol, p.TokenIn, p.TokenOut, p.Resolution, p.Amount, false, p.PriceLimit)
}

func (q *Quoter) validate(path []byte, amount *big.Int) (int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	n, err := swappath.NumHops(path)
	if err != nil {
		return 0, err
	}
	metrics.QuoteHops.Observe(float64(n))
	return n, nil
}

// quoteHop simulates tokenIn -> tokenOut on one pool and counts the
// initialized boundaries the move touches on the consumed side.
func (q *Quoter) quoteHop(protocol uint8, tokenIn, tokenOut common.Address, resolution int32, amount *big.Int, exactInput bool, limit *big.Int) (*HopQuote, error) {
	pool, err := q.ledger.Pool(protocol, tokenIn, tokenOut, resolution)
	if err != nil {
		return nil, err
	}
	zeroForOne := tokenIn == pool.Token0()

	res, err := pool.SimulateSwap(ledger.SwapParams{
		ZeroForOne: zeroForOne,
		Amount:     amount,
		ExactInput: exactInput,
		PriceLimit: limit,
	})
	if err != nil {
		return nil, err
	}

	if res.Consumed == nil {
		return nil, fmt.Errorf("pool %s/%s returned no bitmap", pool.Token0().Hex(), pool.Token1().Hex())
	}
	crossed, err := counter.CountInitializedBoundariesCrossed(res.Consumed, counter.Move{
		ZeroForOne:          zeroForOne,
		PriceBefore:         res.PriceBefore,
		BoundaryBefore:      res.BoundaryBefore,
		BoundaryLowerBefore: res.BoundaryLowerBefore,
		PriceAfter:          res.PriceAfter,
		BoundaryAfter:       res.BoundaryAfter,
		BoundaryLowerAfter:  res.BoundaryLowerAfter,
	})
	if err != nil {
		return nil, err
	}
	metrics.BoundariesCrossed.Observe(float64(crossed))

	q.logger.Debug("hop quoted",
		zap.String("tokenIn", tokenIn.Hex()),
		zap.String("tokenOut", tokenOut.Hex()),
		zap.Int32("resolution", resolution),
		zap.Bool("exactInput", exactInput),
		zap.String("amountIn", res.AmountIn.String()),
		zap.String("amountOut", res.AmountOut.String()),
		zap.Uint32("crossed", crossed))

	return &HopQuote{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Resolution:        resolution,
		AmountIn:          res.AmountIn,
		AmountOut:         res.AmountOut,
		PriceAfter:        res.PriceAfter,
		BoundariesCrossed: crossed,
	}, nil
}

func (q *Quoter) observe(kind string, start time.Time, err *error) {
	metrics.QuoteDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.QuotesTotal.WithLabelValues(kind, metrics.Result(*err)).Inc()
}

func newQuote(hops int) *Quote {
	return &Quote{
		PriceAfterList:                   make([]*big.Int, 0, hops),
		InitializedBoundariesCrossedList: make([]uint32, 0, hops),
		Hops:                             make([]HopQuote, 0, hops),
	}
}

func (q *Quote) add(hq *HopQuote) {
	q.PriceAfterList = append(q.PriceAfterList, hq.PriceAfter)
	q.InitializedBoundariesCrossedList = append(q.InitializedBoundariesCrossedList, hq.BoundariesCrossed)
	q.Hops = append(q.Hops, *hq)
}
