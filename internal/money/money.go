// Package money keeps every monetary and quantity value in fixed-point decimal.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Amount is the single fixed-point type used for money and quantities.
type Amount = decimal.Decimal

// DefaultCurrency is used when an account or document does not name one.
const DefaultCurrency = "IDR"

// Column scales: money is stored as NUMERIC(20,2), quantities as NUMERIC(18,3).
const (
	AmountPlaces int32 = 2
	QtyPlaces    int32 = 3
)

// ErrInvalidAmount indicates an amount string that is not a finite decimal.
var ErrInvalidAmount = errors.New("money: invalid amount")

var printer = message.NewPrinter(language.English)

// Parse reads a decimal from its textual form.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FitsScale reports whether d has no more than places fractional digits, so
// storing it does not round.
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Round(places))
}

// ToNumeric converts a decimal into a pgtype.Numeric without passing through float.
func ToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// FromNumeric converts a pgtype.Numeric back into a decimal. NULL maps to zero.
func FromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, ErrInvalidAmount
	}
	if n.Int == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// Format renders an amount for user-facing messages, e.g. "IDR 4,950,000,000.00".
// Quantities carry no code and print as plain decimals.
func Format(amount decimal.Decimal, code string) string {
	if code == "" {
		return amount.String()
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return strings.TrimSpace(amount.StringFixed(2) + " " + code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	fixed := amount.Abs().StringFixed(int32(scale))
	whole, frac, _ := strings.Cut(fixed, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return unit.String() + " " + amount.StringFixed(int32(scale))
	}
	out := printer.Sprintf("%v", n)
	if frac != "" {
		out += "." + frac
	}
	if amount.IsNegative() {
		out = "-" + out
	}
	return unit.String() + " " + out
}
