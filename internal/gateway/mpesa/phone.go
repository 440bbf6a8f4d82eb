package mpesa

import (
	"regexp"
	"strings"

	"dukapos/backend/internal/apperror"
)

var msisdnPattern = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone resolves the local and international spellings of a
// Safaricom/Airtel number (07…, 01…, 7…, +254…, 254…) to the 12-digit MSISDN
// the STK push endpoint expects.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		cleaned = "254" + cleaned[1:]
	case len(cleaned) == 9:
		cleaned = "254" + cleaned
	}

	if !msisdnPattern.MatchString(cleaned) {
		return "", apperror.Newf(apperror.CodeValidation, "phone number %q is not a valid M-PESA number", raw)
	}
	return cleaned, nil
}
