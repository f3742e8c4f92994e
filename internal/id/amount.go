package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/shopspring/decimal"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// FormatUnits renders a base-unit integer as a decimal string without trailing zeros.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).String()
}

// UnitsToFloat is lossy and only meant for USD math and display.
func UnitsToFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(amount, int32(-decimals)).Float64()
	return f
}

// ParseUnits converts a decimal string such as "1.25" into base units.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	raw := strings.TrimSpace(value)
	if !decimalPattern.MatchString(raw) {
		return nil, clierr.New(clierr.CodeUsage, "amount must be in decimal form like 1.23")
	}
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "invalid decimal amount", err)
	}
	if parts := strings.SplitN(raw, ".", 2); len(parts) == 2 && len(strings.TrimRight(parts[1], "0")) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

// ParseBaseUnits parses a non-negative integer string.
func ParseBaseUnits(value string) (*big.Int, error) {
	raw := strings.TrimSpace(value)
	if raw == "" || strings.HasPrefix(raw, "-") {
		return nil, clierr.New(clierr.CodeUsage, "amount must be a non-negative integer string")
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "amount must be a non-negative integer string")
	}
	return n, nil
}
