// Package fhe is the confidential-computation capability the ledger calls
// into: typed ciphertext handles, homomorphic arithmetic against plaintext
// operands, and grant-checked decryption.
package fhe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Type is the encrypted integer type behind a handle.
type Type uint8

const (
	Ebool Type = iota + 1
	Euint32
	Euint64
)

// Bits returns the bit width of t, or 0 for an unknown type.
func (t Type) Bits() int {
	switch t {
	case Ebool:
		return 1
	case Euint32:
		return 32
	case Euint64:
		return 64
	}
	return 0
}

// Max returns the largest plaintext representable by t.
func (t Type) Max() uint64 {
	switch t {
	case Ebool:
		return 1
	case Euint32:
		return 1<<32 - 1
	case Euint64:
		return ^uint64(0)
	}
	return 0
}

func (t Type) Valid() bool { return t.Bits() != 0 }

func (t Type) String() string {
	switch t {
	case Ebool:
		return "ebool"
	case Euint32:
		return "euint32"
	case Euint64:
		return "euint64"
	}
	return fmt.Sprintf("fhe.Type(%d)", uint8(t))
}

// HandleSize is the byte length of a ciphertext handle.
const HandleSize = 32

// Handle is an opaque reference to a ciphertext. The last byte carries the
// Type so a handle can be type-checked without loading its ciphertext.
// The zero Handle means "never initialized".
type Handle [HandleSize]byte

// ZeroHandle is the never-initialized sentinel.
var ZeroHandle Handle

func (h Handle) IsZero() bool { return h == ZeroHandle }

func (h Handle) Type() Type { return Type(h[HandleSize-1]) }

// Hex returns the 0x-prefixed hex form.
func (h Handle) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Handle) String() string { return h.Hex() }

func (h Handle) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Handle) UnmarshalText(b []byte) error {
	parsed, err := ParseHandle(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

var errHandleLength = errors.New("handle must be 32 bytes")

// ParseHandle decodes a hex handle, with or without the 0x prefix.
func ParseHandle(s string) (Handle, error) {
	var h Handle
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("parse handle: %w", err)
	}
	if len(b) != HandleSize {
		return h, errHandleLength
	}
	copy(h[:], b)
	return h, nil
}
