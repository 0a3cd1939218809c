package execution

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJiggleAmountsFactorZeroIsEvenSplitWithRemainderOnLast(t *testing.T) {
	total := big.NewInt(1000)
	amounts := JiggleAmounts(total, 3, 0, rand.New(rand.NewSource(1)))
	require.Len(t, amounts, 3)
	require.Equal(t, "333", amounts[0].String())
	require.Equal(t, "333", amounts[1].String())
	require.Equal(t, "334", amounts[2].String())
}

func TestJiggleAmountsInvariantsUnderRandomization(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		total := big.NewInt(int64(1 + rng.Intn(1_000_000)))
		n := 1 + rng.Intn(20)
		factor := rng.Float64() * 0.9

		amounts := JiggleAmounts(total, n, factor, rng)
		require.Len(t, amounts, n)

		sum := big.NewInt(0)
		for _, a := range amounts {
			require.True(t, a.Sign() > 0, "every amount must be positive")
			sum.Add(sum, a)
		}
		require.Equal(t, total.String(), sum.String(), "amounts must sum exactly to total")
	}
}

func TestJiggleAmountsSingleWallet(t *testing.T) {
	total := big.NewInt(500)
	amounts := JiggleAmounts(total, 1, 0.5, rand.New(rand.NewSource(1)))
	require.Len(t, amounts, 1)
	require.Equal(t, "500", amounts[0].String())
}
