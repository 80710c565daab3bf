package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

var (
	// ErrInsufficientFunds is returned when a bucket change would leave a wallet negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for amounts that are not positive.
	ErrInvalidAmount = errors.New("amount must be a positive number of paise")
	ErrUnknownBucket = errors.New("unknown wallet bucket")
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// FormatPaise renders an amount in paise as major units with two decimals, e.g. 12345 -> "123.45".
func FormatPaise(paise int64) string {
	return decimal.New(paise, -2).StringFixed(2)
}

// fuzzyMatch reports whether two strings are equal after normalisation, one
// contains the other, or their edit distance is within allowableDrift percent
// of the longer string.
func fuzzyMatch(str1, str2 string, allowableDrift float64) bool {
	str1 = strings.ToLower(strings.TrimSpace(str1))
	str2 = strings.ToLower(strings.TrimSpace(str2))
	if str1 == "" || str2 == "" {
		return false
	}

	if strings.Contains(str1, str2) || strings.Contains(str2, str1) {
		return true
	}

	distance := levenshtein.DistanceForStrings([]rune(str1), []rune(str2), levenshtein.DefaultOptions)
	maxLength := float64(max(len([]rune(str1)), len([]rune(str2))))
	maxAllowedDistance := int(maxLength * (allowableDrift / 100))

	return distance <= maxAllowedDistance
}
