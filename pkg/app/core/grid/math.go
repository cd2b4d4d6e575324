package grid

import (
	"math/big"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
)

var (
	big1 = big.NewInt(1)
	big2 = big.NewInt(2)
)

// mulDiv returns floor(a*b/d).
func mulDiv(a, b, d *big.Int) *big.Int {
	n := new(big.Int).Mul(a, b)
	return n.Quo(n, d)
}

// mulDivUp returns ceil(a*b/d).
func mulDivUp(a, b, d *big.Int) *big.Int {
	n := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big1)
	}
	return q
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func maxInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// A cell holding `avail` of the output token spreads it evenly across the
// price interval it still covers, so taking part of it moves the price
// linearly and costs the amount times the average of the two prices.

// stepUp fills against orders selling token0 while the price rises from pS
// toward pT. Input is token1, output token0. When remaining covers the whole
// cell the price lands exactly on pT.
func stepUp(pS, pT, avail, remaining *big.Int, exactInput bool) (in, out, next *big.Int) {
	span := new(big.Int).Sub(pT, pS)
	sum := new(big.Int).Add(pS, pT)
	twoQ96 := new(big.Int).Lsh(boundary.Q96, 1)
	fullCost := mulDivUp(avail, sum, twoQ96)

	if exactInput {
		if remaining.Cmp(fullCost) >= 0 {
			return fullCost, new(big.Int).Set(avail), new(big.Int).Set(pT)
		}
		if span.Sign() == 0 {
			out = mulDiv(remaining, boundary.Q96, pS)
		} else {
			// span*a^2 + 2*pS*avail*a - 2*in*Q96*avail = 0
			b := new(big.Int).Mul(pS, avail)
			b.Mul(b, big2)
			disc := new(big.Int).Mul(b, b)
			c := new(big.Int).Mul(span, remaining)
			c.Mul(c, boundary.Q96)
			c.Mul(c, avail)
			c.Lsh(c, 3)
			disc.Add(disc, c)
			out = new(big.Int).Sqrt(disc)
			out.Sub(out, b)
			out.Quo(out, new(big.Int).Lsh(span, 1))
		}
		out = minInt(out, avail)
		next = new(big.Int).Add(pS, mulDiv(span, out, avail))
		return new(big.Int).Set(remaining), out, next
	}

	if remaining.Cmp(avail) >= 0 {
		return fullCost, new(big.Int).Set(avail), new(big.Int).Set(pT)
	}
	out = new(big.Int).Set(remaining)
	next = new(big.Int).Add(pS, mulDiv(span, out, avail))
	in = mulDivUp(out, new(big.Int).Add(pS, next), twoQ96)
	return in, out, next
}

// stepDown fills against orders selling token1 while the price falls from pS
// toward pT. Input is token0, output token1.
func stepDown(pS, pT, avail, remaining *big.Int, exactInput bool) (in, out, next *big.Int) {
	span := new(big.Int).Sub(pS, pT)
	twoQ96 := new(big.Int).Lsh(boundary.Q96, 1)
	fullCost := mulDivUp(avail, twoQ96, new(big.Int).Add(pS, pT))

	if exactInput {
		if remaining.Cmp(fullCost) >= 0 {
			return fullCost, new(big.Int).Set(avail), new(big.Int).Set(pT)
		}
		// in = 2*a*Q96 / (2*pS - span*a/avail), solved for a
		num := new(big.Int).Mul(remaining, pS)
		num.Mul(num, avail)
		num.Lsh(num, 1)
		den := new(big.Int).Mul(twoQ96, avail)
		den.Add(den, new(big.Int).Mul(remaining, span))
		out = minInt(num.Quo(num, den), avail)
		next = new(big.Int).Sub(pS, mulDiv(span, out, avail))
		return new(big.Int).Set(remaining), out, next
	}

	if remaining.Cmp(avail) >= 0 {
		return fullCost, new(big.Int).Set(avail), new(big.Int).Set(pT)
	}
	out = new(big.Int).Set(remaining)
	next = new(big.Int).Sub(pS, mulDiv(span, out, avail))
	in = mulDivUp(out, twoQ96, new(big.Int).Add(pS, next))
	return in, out, next
}
