package security

import (
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsAddress reports whether s has the shape of a hex Ethereum address. Checksum
// casing is not enforced.
func IsAddress(s string) bool { return addressPattern.MatchString(s) }

func NormalizeAddress(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func SameAddress(a, b string) bool { return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) }
