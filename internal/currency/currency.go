// Package currency converts between smallest-unit integers and display
// amounts, and between fiat and crypto through a fixed-point stored rate.
package currency

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RatePrecision is the number of decimal places kept in a stored rate (rate x 10^8)
const RatePrecision = 8

var decimalsByCode = map[string]int32{
	"TXC":  8,
	"BTC":  8,
	"LTC":  8,
	"ETH":  18,
	"USDC": 6,
	"USDT": 6,
	"USD":  2,
	"EUR":  2,
}

var maxInt64 = decimal.NewFromInt(math.MaxInt64)

// Decimals returns the number of decimal places of the currency's smallest unit
func Decimals(code string) (int32, error) {
	d, ok := decimalsByCode[strings.ToUpper(code)]
	if !ok {
		return 0, fmt.Errorf("unsupported currency %q", code)
	}
	return d, nil
}

// IsSupported reports whether the currency has a known unit size
func IsSupported(code string) bool {
	_, err := Decimals(code)
	return err == nil
}

// IsFiat reports whether the code names a fiat currency
func IsFiat(code string) bool {
	switch strings.ToUpper(code) {
	case "USD", "EUR":
		return true
	}
	return false
}

// ToSmallestUnit parses a display amount ("1.5") into smallest units, rounding half away from zero
func ToSmallestUnit(amount, code string) (int64, error) {
	d, err := Decimals(code)
	if err != nil {
		return 0, err
	}
	v, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if v.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", amount)
	}
	return toInt64(v.Shift(d).Round(0))
}

// FromSmallestUnit converts smallest units to a display amount
func FromSmallestUnit(units int64, code string) (decimal.Decimal, error) {
	d, err := Decimals(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(units).Shift(-d), nil
}

// Format renders smallest units with the currency's full precision, e.g. "1.50000000".
// Unknown currencies are rendered as the raw integer.
func Format(units int64, code string) string {
	d, err := Decimals(code)
	if err != nil {
		return strconv.FormatInt(units, 10)
	}
	return decimal.NewFromInt(units).Shift(-d).StringFixed(d)
}

// RateToStoredRate converts a display rate (fiat per 1 crypto) to rate x 10^8
func RateToStoredRate(rate decimal.Decimal) int64 {
	return rate.Shift(RatePrecision).Round(0).IntPart()
}

// StoredRateToRate converts rate x 10^8 back to a display rate
func StoredRateToRate(stored int64) decimal.Decimal {
	return decimal.NewFromInt(stored).Shift(-RatePrecision)
}

// FiatToCrypto converts fiat smallest units to crypto smallest units at the
// stored rate (fiat per 1 crypto, x 10^8). The result is truncated.
func FiatToCrypto(fiatUnits int64, fiatCode, cryptoCode string, storedRate int64) (int64, error) {
	if storedRate <= 0 {
		return 0, fmt.Errorf("stored rate must be positive, got %d", storedRate)
	}
	fiatDec, err := Decimals(fiatCode)
	if err != nil {
		return 0, err
	}
	cryptoDec, err := Decimals(cryptoCode)
	if err != nil {
		return 0, err
	}

	num := decimal.NewFromInt(fiatUnits).Shift(cryptoDec + RatePrecision)
	den := decimal.NewFromInt(storedRate).Shift(fiatDec)
	q, _ := num.QuoRem(den, 0)
	return toInt64(q)
}

// CryptoToFiat converts crypto smallest units to fiat smallest units at the
// stored rate. The result is truncated.
func CryptoToFiat(cryptoUnits int64, cryptoCode, fiatCode string, storedRate int64) (int64, error) {
	if storedRate <= 0 {
		return 0, fmt.Errorf("stored rate must be positive, got %d", storedRate)
	}
	fiatDec, err := Decimals(fiatCode)
	if err != nil {
		return 0, err
	}
	cryptoDec, err := Decimals(cryptoCode)
	if err != nil {
		return 0, err
	}

	num := decimal.NewFromInt(cryptoUnits).Mul(decimal.NewFromInt(storedRate)).Shift(fiatDec)
	den := decimal.New(1, cryptoDec+RatePrecision)
	q, _ := num.QuoRem(den, 0)
	return toInt64(q)
}

func toInt64(v decimal.Decimal) (int64, error) {
	if v.GreaterThan(maxInt64) {
		return 0, fmt.Errorf("amount %s overflows int64 smallest units", v.String())
	}
	return v.IntPart(), nil
}
