package util

import (
	"regexp"
	"strings"
)

const EntryKeyLength = 7

var (
	entryKeyRegex  = regexp.MustCompile(`^[0-9]{3}[A-Z]{4}$`)
	nonAlnumRegex  = regexp.MustCompile(`[^A-Za-z0-9]`)
	serialRegex    = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)
	objectKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)
)

// NormalizeEntryKey strips everything but letters and digits and upper-cases
// the rest, so "123-abcd" and "123 ABCD" both become "123ABCD".
func NormalizeEntryKey(raw string) string {
	return strings.ToUpper(nonAlnumRegex.ReplaceAllString(raw, ""))
}

// IsValidEntryKey reports whether code has the generated shape: three digits then four letters.
func IsValidEntryKey(code string) bool {
	return entryKeyRegex.MatchString(code)
}

func IsValidSerial(s string) bool {
	return serialRegex.MatchString(s)
}

func IsValidObjectKey(s string) bool {
	return objectKeyRegex.MatchString(s)
}

// SanitizeUserID drops the identity provider's "user_" prefix.
func SanitizeUserID(userID string) string {
	return strings.TrimPrefix(userID, "user_")
}
