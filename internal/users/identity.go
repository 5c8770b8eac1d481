package users

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// IdentityKey returns the comparison key for a username or email. Keys are
// NFKC-normalised and Unicode case-folded so "Alice" and "ALICE" collide.
func IdentityKey(value string) string {
	value = strings.TrimSpace(value)
	return cases.Fold().String(norm.NFKC.String(value))
}
