package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/crypto"
	"github.com/tolelom/cipherforge/fhe"
)

// registerPrefix records a state-key prefix so ComputeRoot covers it. Every
// state prefix must be declared through it.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

var statePrefixes []string

var (
	prefixAccount    = registerPrefix("acct:")
	prefixCiphertext = registerPrefix("ct:")
	prefixGrant      = registerPrefix("acl:")
	prefixMeta       = registerPrefix("meta:")
)

var keyHandleNonce = prefixMeta + "fhe-nonce"

type stateSnapshot struct {
	dirty map[string][]byte
}

// StateDB implements core.State on top of a DB with an in-memory write
// buffer, snapshot/rollback, and deterministic state-root computation.
// Methods are safe for concurrent use; multi-call atomicity is provided by
// Snapshot/RevertToSnapshot and the single-writer executor.
type StateDB struct {
	db DB

	mu        sync.RWMutex
	dirty     map[string][]byte
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{db: db, dirty: make(map[string][]byte)}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	s.mu.RLock()
	v, ok := s.dirty[key]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[key] = val
}

func (s *StateDB) getJSON(key string, v any) (bool, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

// GetAccount returns the zero-value account for addresses never written.
func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	acc := &core.Account{Address: address}
	if _, err := s.getJSON(prefixAccount+address, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	if acc.Address == "" {
		return errors.New("account address required")
	}
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Ciphertexts (fhe.Store) ----

func ciphertextKey(h fhe.Handle) string {
	return prefixCiphertext + hex.EncodeToString(h[:])
}

func (s *StateDB) GetCiphertext(h fhe.Handle) (*fhe.Ciphertext, error) {
	var ct fhe.Ciphertext
	found, err := s.getJSON(ciphertextKey(h), &ct)
	if err != nil || !found {
		return nil, err
	}
	return &ct, nil
}

func (s *StateDB) PutCiphertext(h fhe.Handle, ct *fhe.Ciphertext) error {
	return s.setJSON(ciphertextKey(h), ct)
}

func (s *StateDB) NextHandleNonce() (uint64, error) {
	var n uint64
	data, err := s.get(keyHandleNonce)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return 0, err
	case len(data) != 8:
		return 0, fmt.Errorf("corrupt handle nonce (%d bytes)", len(data))
	default:
		n = binary.BigEndian.Uint64(data)
	}
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, n+1)
	s.set(keyHandleNonce, next)
	return n, nil
}

// ---- Grants (acl.Store) ----

func grantKey(h fhe.Handle, principal string) string {
	return prefixGrant + hex.EncodeToString(h[:]) + ":" + principal
}

func (s *StateDB) HasGrant(h fhe.Handle, principal string) (bool, error) {
	_, err := s.get(grantKey(h, principal))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *StateDB) PutGrant(h fhe.Handle, principal string) error {
	s.set(grantKey(h, principal), []byte{1})
	return nil
}

// ---- Snapshot / Rollback / Commit ----

func copyBuffer(dirty map[string][]byte) map[string][]byte {
	d := make(map[string][]byte, len(dirty))
	for k, v := range dirty {
		d[k] = bytes.Clone(v)
	}
	return d
}

// Snapshot saves the current write buffer and returns its ID.
func (s *StateDB) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, stateSnapshot{dirty: copyBuffer(s.dirty)})
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to snapshot id and discards it
// along with every later snapshot.
func (s *StateDB) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	s.dirty = copyBuffer(s.snapshots[id].dirty)
	s.snapshots = s.snapshots[:id]
	return nil
}

// DiscardSnapshot releases snapshot id and every later snapshot without
// touching the write buffer.
func (s *StateDB) DiscardSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot hashes the complete world state: persisted entries under the
// state prefixes overlaid with the write buffer, sorted by key and
// length-prefix encoded. It does not flush.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			merged[string(it.Key())] = bytes.Clone(it.Value())
		}
		it.Release()
	}

	s.mu.RLock()
	for k, v := range s.dirty {
		merged[k] = v
	}
	s.mu.RUnlock()

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit flushes the write buffer through one batch and clears it.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.snapshots = nil
	return nil
}
