package agents

import (
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	ten, _ := new(big.Int).SetString("10000000000000000000", 10)
	cases := map[string]*big.Int{
		"10":                    ten,
		" 1.5 ":                 new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)),
		"0.000000000000000001":  big.NewInt(1),
		"1.0000000000000000000": new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		"1e2":                   new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil),
	}
	for input, want := range cases {
		got, err := ParseAmount(input)
		require.NoError(t, err, input)
		assert.Equal(t, 0, want.Cmp(got), "%s: got %s", input, got)
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, input := range []string{"", "0", "-1", "abc", "1.0000000000000000001", "0x10", "1e100", "1e5000000", "1e-19"} {
		_, err := ParseAmount(input)
		assert.Error(t, err, input)
	}
}

func TestParseAmountUint256Bound(t *testing.T) {
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	whole := decimal.NewFromBigInt(maxUint256, -TokenDecimals).String()

	got, err := ParseAmount(whole)
	require.NoError(t, err)
	assert.Equal(t, 0, maxUint256.Cmp(got))

	over := decimal.NewFromBigInt(new(big.Int).Add(maxUint256, big.NewInt(1)), -TokenDecimals).String()
	_, err = ParseAmount(over)
	assert.Error(t, err)

	_, err = ParseAmount(strings.Repeat("9", maxAmountLength+1))
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	units, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatAmount(units))
	assert.Equal(t, "0", FormatAmount(nil))
	assert.Equal(t, "0.000000000000000001", FormatAmount(big.NewInt(1)))
}
