// internal/models/money.go
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const DefaultCurrency = "RWF"

var moneyPrinter = message.NewPrinter(language.English)

// FormatMoney renders minor units with the currency's ISO scale, e.g. "RWF 2,000" or "USD 12.50".
func FormatMoney(minor int64, code string) string {
	if code == "" {
		code = DefaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%s %d", code, minor)
	}
	scale, _ := currency.Standard.Rounding(unit)
	if scale == 0 {
		return moneyPrinter.Sprintf("%s %d", unit.String(), minor)
	}
	major := float64(minor) / math.Pow10(scale)
	return moneyPrinter.Sprintf(fmt.Sprintf("%%s %%.%df", scale), unit.String(), major)
}

// ServiceCharge applies a percentage to a subtotal, rounding half away from zero.
func ServiceCharge(subtotalMinor int64, pct float64) int64 {
	return int64(math.Round(float64(subtotalMinor) * pct / 100))
}

// ParseMoney reads a user-typed amount such as "2,500", "RWF 2500" or "12.50" into minor units
// of code. Currency letters, spaces and thousands separators are ignored.
func ParseMoney(raw, code string) (int64, error) {
	if code == "" {
		code = DefaultCurrency
	}
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.':
			return r
		case r == ',' || r == ' ' || r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			return -1
		}
		return 'x'
	}, strings.TrimSpace(raw))
	if cleaned == "" || strings.Contains(cleaned, "x") {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return int64(math.Round(v * math.Pow10(scale))), nil
}
