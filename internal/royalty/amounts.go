package royalty

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of every amount the contracts emit.
const Decimals = 18

// ParseMinor reads a minor-unit integer string. Anything unparsable counts as zero.
func ParseMinor(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func ToDecimal(minor *big.Int) decimal.Decimal {
	if minor == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(minor, -Decimals)
}

// FormatMinor renders "1500000000000000000" as "1.5".
func FormatMinor(s string) string {
	return ToDecimal(ParseMinor(s)).String()
}

func minorString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
