package crypto

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Hash returns the BLAKE3-256 digest of data as a lowercase hex string.
func Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw BLAKE3-256 digest of data.
func HashBytes(data []byte) []byte {
	h := blake3.Sum256(data)
	return h[:]
}

// HashParts hashes the concatenation of parts, each prefixed by its length so
// that ("ab","c") and ("a","bc") never collide.
func HashParts(parts ...[]byte) [32]byte {
	h := blake3.New(32, nil)
	var lenBuf [4]byte
	for _, p := range parts {
		n := len(p)
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
