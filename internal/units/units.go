// Package units converts between wei and human ether amounts.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

var weiPerGwei = big.NewInt(1_000_000_000)

// ParseEther converts a decimal ether string ("0.005", "1", "2.5e-3") to wei.
// More than 18 fractional digits is an error rather than a silent truncation.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, etherDecimals)
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// FormatEtherFixed renders wei as ether rounded to places decimals.
func FormatEtherFixed(wei *big.Int, places int32) string {
	if wei == nil {
		wei = new(big.Int)
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).StringFixed(places)
}

// GweiToWei converts whole gwei to wei.
func GweiToWei(g int64) *big.Int {
	x := new(big.Int).SetInt64(g)
	return x.Mul(x, weiPerGwei)
}

// FormatGwei renders wei as gwei with three decimals.
func FormatGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -9).StringFixed(3)
}
