// Package checksum hashes note bodies. Every content hash in notesync is the
// hex SHA-256 of the plaintext body.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Empty is the digest of a zero-length body.
var Empty = Sum(nil)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 characters of a digest for log output.
func Short(sum string) string {
	if len(sum) <= 12 {
		return sum
	}
	return sum[:12]
}
