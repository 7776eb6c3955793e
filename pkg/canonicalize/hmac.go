package canonicalize

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultMaxAge is the default signature replay window.
const DefaultMaxAge = 300 * time.Second

// Sign produces an HMAC-SHA256 signature over the JCS-canonical form of v,
// optionally binding a unix timestamp for replay protection.
func Sign(v interface{}, key []byte, timestamp int64) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("canonicalize: signing key must not be empty")
	}

	payload, err := JCS(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize: sign canonicalization failed: %w", err)
	}

	if timestamp != 0 {
		payload = append([]byte(fmt.Sprintf("%d:", timestamp)), payload...)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks an HMAC-SHA256 signature produced by Sign, additionally
// requiring now-timestamp <= maxAge when timestamp is non-zero. A maxAge of
// zero uses DefaultMaxAge.
func Verify(v interface{}, signature string, key []byte, timestamp int64, now time.Time, maxAge time.Duration) bool {
	if signature == "" || len(key) == 0 {
		return false
	}
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}

	if timestamp != 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > maxAge {
			return false
		}
	}

	expected, err := Sign(v, key, timestamp)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
