package util

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// SnapshotKey returns the storage key of a persisted resource snapshot.
func SnapshotKey(namespace, resource string) string {
	return "snapshot:" + namespace + ":" + resource
}

// ShortHash returns a short stable digest of s, for logging keys that may
// carry user data.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:8])
}

// Redact keeps the first n bytes of s and masks the rest.
func Redact(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	return s[:n] + strings.Repeat("*", len(s)-n)
}
