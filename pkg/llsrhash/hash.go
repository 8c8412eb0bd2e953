// Package llsrhash implements the keyed integrity tag carried by management
// packets: an 8-bit truncation of a SHA-256 digest computed over the
// space-separated decimal rendering of the covered bytes and a shared secret.
package llsrhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Compute returns the single-byte keyed hash of parts under key, matching
// int(hex_digest[0:2], 16) over sha256(" ".join(str(b) for b in parts) + key).
func Compute(key string, parts ...byte) byte {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(int(p)))
	}
	b.WriteString(key)

	sum := sha256.Sum256([]byte(b.String()))
	hexDigest := hex.EncodeToString(sum[:])

	v, err := strconv.ParseUint(hexDigest[0:2], 16, 8)
	if err != nil {
		// hex.EncodeToString always produces valid hex, so this is unreachable.
		panic("llsrhash: impossible hex decode failure: " + err.Error())
	}
	return byte(v)
}

// Verify reports whether hash matches Compute(key, parts...).
func Verify(key string, hash byte, parts ...byte) bool {
	return Compute(key, parts...) == hash
}
