package execution

import (
	"math/big"
	"math/rand"
)

// JiggleAmounts splits total into n positive integer amounts summing
// exactly to total. Every amount but the last falls within
// [(1-factor)*avg, (1+factor)*avg]; the last absorbs whatever rounding
// remainder keeps the sum exact. factor=0 degenerates to an even floor
// division with the remainder placed on the last element, which is also
// what the sync and staggered strategy modes use directly.
func JiggleAmounts(total *big.Int, n int, factor float64, rng *rand.Rand) []*big.Int {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []*big.Int{new(big.Int).Set(total)}
	}

	nBig := big.NewInt(int64(n))
	avg := new(big.Int).Div(total, nBig)
	remainder := new(big.Int).Mod(total, nBig)

	out := make([]*big.Int, n)
	running := big.NewInt(0)

	for i := 0; i < n-1; i++ {
		amount := new(big.Int).Set(avg)
		if factor > 0 {
			amount = jiggleOne(avg, factor, rng)
		}
		if amount.Sign() <= 0 {
			amount = big.NewInt(1)
		}
		out[i] = amount
		running.Add(running, amount)
	}

	last := new(big.Int).Sub(total, running)
	if last.Sign() <= 0 {
		// Degenerate case: the jiggled amounts already consumed the total
		// (or more). Fall back to the even split so every amount stays
		// positive and the sum remains exact.
		return evenSplit(total, n, remainder, avg)
	}
	out[n-1] = last
	return out
}

// evenSplit is the factor=0 fallback: floor(total/n) for every element, with
// the remainder placed on the last.
func evenSplit(total *big.Int, n int, remainder, avg *big.Int) []*big.Int {
	out := make([]*big.Int, n)
	for i := 0; i < n-1; i++ {
		out[i] = new(big.Int).Set(avg)
	}
	out[n-1] = new(big.Int).Add(avg, remainder)
	return out
}

// jiggleOne returns a value within [(1-factor)*avg, (1+factor)*avg],
// truncated toward zero to an integer.
func jiggleOne(avg *big.Int, factor float64, rng *rand.Rand) *big.Int {
	avgF := new(big.Float).SetInt(avg)
	deviation := (rng.Float64()*2 - 1) * factor
	scale := new(big.Float).SetFloat64(1 + deviation)
	result := new(big.Float).Mul(avgF, scale)
	out, _ := result.Int(nil)
	return out
}
