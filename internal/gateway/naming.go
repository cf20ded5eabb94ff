package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	consumerIDPrefix = "user_"
	routeIDPrefix    = "metered_"
	hexDigits        = "0123456789abcdef"

	// APISIX caps consumer usernames at 100 bytes and object ids at 64.
	maxConsumerIDLen = 100
	maxRouteIDLen    = 64

	// Bounded IDs carry this many bytes of SHA-256, hex encoded.
	digestBytes = 16
)

// ConsumerID derives the gateway consumer identifier for an email. Distinct
// emails (compared case-insensitively) always map to distinct IDs: letters and
// digits pass through and every other byte, '_' included, becomes '_' plus two
// hex digits.
//
// When the escaped form would not fit in a consumer username the ID becomes
// "userh_", a readable head of the escaped email, '_' and a SHA-256 digest of
// the normalized email. The 'h' keeps hashed IDs apart from escaped ones.
func ConsumerID(email string) string {
	return boundedIdent(consumerIDPrefix, strings.ToLower(strings.TrimSpace(email)), maxConsumerIDLen)
}

// RouteID derives the gateway route identifier for a metered path prefix,
// bounded the same way as ConsumerID.
func RouteID(prefix string) string {
	return boundedIdent(routeIDPrefix, prefix, maxRouteIDLen)
}

func boundedIdent(prefix, s string, max int) string {
	escaped := escapeIdent(s)
	if len(prefix)+len(escaped) <= max {
		return prefix + escaped
	}

	sum := sha256.Sum256([]byte(s))
	digest := hex.EncodeToString(sum[:digestBytes])
	hashedPrefix := strings.TrimSuffix(prefix, "_") + "h_"
	head := cutEscaped(escaped, max-len(hashedPrefix)-1-len(digest))
	return hashedPrefix + head + "_" + digest
}

// cutEscaped shortens an escaped identifier to at most n bytes without
// splitting a '_' escape sequence.
func cutEscaped(escaped string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(escaped) <= n {
		return escaped
	}
	for k := n - 1; k >= n-2 && k >= 0; k-- {
		if escaped[k] == '_' {
			return escaped[:k]
		}
	}
	return escaped[:n]
}

func escapeIdent(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
