package core

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/tolelom/cipherforge/crypto"
	"github.com/tolelom/cipherforge/fhe"
)

// DecryptWindow bounds how far a decrypt request's timestamp may drift from
// the serving node's clock.
const DecryptWindow = 5 * time.Minute

var (
	ErrStaleRequest = errors.New("decrypt request outside freshness window")
	ErrSealedValue  = errors.New("sealed value cannot be opened")
)

// DecryptRequest asks a node to reveal the plaintext behind Handle to
// Player. The signature proves the caller holds Player's key; the node then
// checks Player's decryption grant on Handle and seals the result to
// PublicKey, so only the holder of the matching DecryptKey can read it.
type DecryptRequest struct {
	ChainID   string     `json:"chain_id"`
	Handle    fhe.Handle `json:"handle"`
	Player    string     `json:"player"`
	PublicKey string     `json:"public_key"` // hex X25519, single use
	Timestamp int64      `json:"timestamp"`  // unix nanoseconds
	Signature string     `json:"signature"`
}

func (r *DecryptRequest) message() []byte {
	return []byte(fmt.Sprintf("decrypt:%s:%s:%s:%s:%d",
		r.ChainID, r.Handle.Hex(), r.Player, r.PublicKey, r.Timestamp))
}

// Sign signs the request with priv.
func (r *DecryptRequest) Sign(priv crypto.PrivateKey) {
	r.Signature = crypto.Sign(priv, r.message())
}

// Verify checks the signature against Player and the timestamp against now.
func (r *DecryptRequest) Verify(now time.Time) error {
	if r.Player == "" {
		return errors.New("missing player")
	}
	if _, err := parseBoxKey(r.PublicKey); err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	drift := now.Sub(time.Unix(0, r.Timestamp))
	if drift > DecryptWindow || drift < -DecryptWindow {
		return ErrStaleRequest
	}
	return crypto.VerifyFrom(r.Player, r.message(), r.Signature)
}

// Seal encrypts value to the request's public key. The output is hex.
func (r *DecryptRequest) Seal(value uint64) (string, error) {
	pub, err := parseBoxKey(r.PublicKey)
	if err != nil {
		return "", fmt.Errorf("public key: %w", err)
	}
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], value)
	sealed, err := box.SealAnonymous(nil, msg[:], pub, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	return hex.EncodeToString(sealed), nil
}

// DecryptKey is the ephemeral keypair a decrypt result is sealed to.
type DecryptKey struct {
	pub, priv *[32]byte
}

// NewDecryptKey generates a fresh X25519 keypair.
func NewDecryptKey() (*DecryptKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate decrypt key: %w", err)
	}
	return &DecryptKey{pub: pub, priv: priv}, nil
}

// PublicHex returns the hex public half for DecryptRequest.PublicKey.
func (k *DecryptKey) PublicHex() string { return hex.EncodeToString(k.pub[:]) }

// Open recovers a value sealed by DecryptRequest.Seal.
func (k *DecryptKey) Open(sealed string) (uint64, error) {
	b, err := hex.DecodeString(sealed)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSealedValue, err)
	}
	msg, ok := box.OpenAnonymous(nil, b, k.pub, k.priv)
	if !ok || len(msg) != 8 {
		return 0, ErrSealedValue
	}
	return binary.BigEndian.Uint64(msg), nil
}

func parseBoxKey(s string) (*[32]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	var k [32]byte
	copy(k[:], b)
	return &k, nil
}
