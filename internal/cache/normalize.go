package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// keyVersion is baked into every cache key so a change to the
// normalization rules invalidates old entries instead of colliding
// with them.
const keyVersion = "v1"

// Normalize reduces a question to its canonical lookup form: NFKC
// normalization, case folding, punctuation stripped, whitespace
// collapsed. Two phrasings that differ only in casing, punctuation or
// spacing normalize to the same string.
func Normalize(question string) string {
	s := norm.NFKC.String(question)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Key generates the cache key for a question. Keys are derived from
// the normalized form, so equivalent phrasings share one entry.
func Key(question string) string {
	data := keyVersion + "|" + Normalize(question)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}
