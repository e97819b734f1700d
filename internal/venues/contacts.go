package venues

import (
	"regexp"
	"strings"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/validation"
)

// DefaultCountryCode is assumed for numbers typed in local format.
const DefaultCountryCode = "250"

var numberSeparators = regexp.MustCompile(`[\s,;]+`)

// NormalizeMomo accepts a MoMo phone number (leading + or 0) or a numeric merchant code.
func NormalizeMomo(raw string) (string, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "0") {
		phone, ok := validation.NormalizePhone(s, DefaultCountryCode)
		if !ok {
			return "", errors.NewValidationError("Enter a valid MoMo number, e.g. 0788123456.")
		}
		return phone, nil
	}
	if len(s) < 4 || len(s) > 10 || strings.Trim(s, "0123456789") != "" {
		return "", errors.NewValidationError("Merchant codes are 4 to 10 digits.")
	}
	return s, nil
}

// ParseNumbers splits a list of phone numbers, returning the normalised ones and the rejects.
func ParseNumbers(raw string) (ok, bad []string) {
	seen := make(map[string]bool)
	for _, part := range numberSeparators.Split(strings.TrimSpace(raw), -1) {
		if part == "" {
			continue
		}
		n, valid := validation.NormalizePhone(part, DefaultCountryCode)
		if !valid {
			bad = append(bad, part)
			continue
		}
		if !seen[n] {
			seen[n] = true
			ok = append(ok, n)
		}
	}
	return ok, bad
}
