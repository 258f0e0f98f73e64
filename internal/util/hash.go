package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex identifies uploaded books and unit texts by content.
func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}

// HashParts hashes parts with a NUL between each, so ("ab","c") and
// ("a","bc") never collide.
func HashParts(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
