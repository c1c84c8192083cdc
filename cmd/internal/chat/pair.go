package chat

import "strings"

// NormalizeEmail performs case-insensitive canonicalization of an identity.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// PairKey returns the canonical ordering of two identities.
// (X, Y) and (Y, X) always map to the same (lo, hi) pair, so a conversation
// between two users has exactly one composite key regardless of who initiated.
func PairKey(a, b string) (lo, hi string) {
	a = NormalizeEmail(a)
	b = NormalizeEmail(b)
	if a > b {
		return b, a
	}
	return a, b
}
