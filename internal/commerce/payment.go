package commerce

import (
	"fmt"
	"strings"

	"dinein-commerce/internal/models"
)

// BuildPayment returns the mobile-money USSD string for amount, or nil when the venue has no
// payment target. Values starting with "+" or "0" are phone numbers; anything else is a
// merchant code.
func BuildPayment(momo string, amountMinor int64) *models.PaymentDescriptor {
	target := strings.TrimSpace(momo)
	if target == "" {
		return nil
	}

	var ussd string
	if strings.HasPrefix(target, "+") || strings.HasPrefix(target, "0") {
		ussd = fmt.Sprintf("*182*1*1*%s*%d#", localPhone(target), amountMinor)
	} else {
		ussd = fmt.Sprintf("*182*8*1*%s*%d#", target, amountMinor)
	}
	return &models.PaymentDescriptor{
		USSD: ussd,
		URI:  "tel:" + strings.ReplaceAll(ussd, "#", "%23"),
	}
}

// localPhone turns +2507XXXXXXXX into 07XXXXXXXX and strips anything that is not a digit.
func localPhone(p string) string {
	if strings.HasPrefix(p, "+250") {
		p = "0" + p[4:]
	}
	var b strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
