package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key joins key parts into a namespaced cache key, for example
// Key("pypi", "requests", "2.31.0") returns "pypi:requests:2.31.0".
func Key(namespace string, parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
