package agents

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed precision assumed for payment tokens.
const TokenDecimals = 18

const (
	// maxAmountLength covers every uint256 value written out with all
	// TokenDecimals fractional digits.
	maxAmountLength = 128
	// maxAmountExponent keeps Shift from materialising huge integers.
	maxAmountExponent = 78
	maxAmountBits     = 256
)

// ParseAmount converts a user entered decimal into base units. The amount
// must be positive, fit in a uint256 once scaled and carry at most
// TokenDecimals significant fractional digits.
func ParseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	if len(raw) > maxAmountLength {
		return nil, errors.New("amount is too long")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("amount %q is not a decimal number", raw)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("amount must be greater than zero")
	}
	if d.Exponent() > maxAmountExponent {
		return nil, errors.New("amount exceeds the uint256 range")
	}
	units := d.Shift(TokenDecimals)
	if !units.IsInteger() {
		return nil, fmt.Errorf("amount supports at most %d decimal places", TokenDecimals)
	}
	out := units.BigInt()
	if out.BitLen() > maxAmountBits {
		return nil, errors.New("amount exceeds the uint256 range")
	}
	return out, nil
}

// FormatAmount renders base units as a decimal string without trailing zeros.
func FormatAmount(units *big.Int) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -TokenDecimals).String()
}
