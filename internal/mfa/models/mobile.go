package models

import (
	"errors"
	"strings"
)

// SubscriberDigits is the length of a subscriber number without country code.
const SubscriberDigits = 10

// ErrInvalidMobile is returned for anything that is not a bare 10-digit number.
var ErrInvalidMobile = errors.New("mobile number must be exactly 10 digits")

// NormalizeMobile turns a 10-digit subscriber number into the single wire
// format the authority expects, e.g. "5551234567" -> "+15551234567".
func NormalizeMobile(mobile, countryCode string) (string, error) {
	digits := strings.TrimSpace(mobile)
	if len(digits) != SubscriberDigits {
		return "", ErrInvalidMobile
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", ErrInvalidMobile
		}
	}
	cc := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if cc == "" {
		cc = "1"
	}
	return "+" + cc + digits, nil
}

// MaskMobile keeps the last four digits for logs and snapshots.
func MaskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return strings.Repeat("*", len(mobile))
	}
	return strings.Repeat("*", len(mobile)-4) + mobile[len(mobile)-4:]
}
