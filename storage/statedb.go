package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated by registerPrefix() below.
var statePrefixes []string

var (
	prefixAccount    = registerPrefix("acct:")
	prefixCollection = registerPrefix("coll:")
	prefixAsset      = registerPrefix("nft:")
	prefixApproval   = registerPrefix("appr:")
	prefixListing    = registerPrefix("list:")
	prefixMarket     = registerPrefix("mkt:")

	keyMarketInfo = prefixMarket + "info"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
// It is not safe for concurrent use; the marketplace ledger serialises access.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
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

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Collection ----

func (s *StateDB) GetCollection(id string) (*core.Collection, error) {
	var c core.Collection
	if err := s.getJSON(prefixCollection+id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StateDB) SetCollection(c *core.Collection) error {
	return s.setJSON(prefixCollection+c.ID, c)
}

// ---- Asset ----

func (s *StateDB) GetAsset(collection, id string) (*core.Asset, error) {
	var a core.Asset
	if err := s.getJSON(prefixAsset+core.AssetKey(collection, id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAsset(a *core.Asset) error {
	return s.setJSON(prefixAsset+core.AssetKey(a.Collection, a.ID), a)
}

func (s *StateDB) DeleteAsset(collection, id string) error {
	s.del(prefixAsset + core.AssetKey(collection, id))
	return nil
}

// ---- Approval ----

func approvalKey(owner, operator string) string {
	return prefixApproval + owner + ":" + operator
}

func (s *StateDB) IsApprovedForAll(owner, operator string) (bool, error) {
	_, err := s.get(approvalKey(owner, operator))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetApprovalForAll stores approvals as key presence so a revoked approval
// leaves nothing behind in the state root.
func (s *StateDB) SetApprovalForAll(owner, operator string, approved bool) error {
	key := approvalKey(owner, operator)
	if approved {
		s.set(key, []byte{1})
	} else {
		s.del(key)
	}
	return nil
}

// ---- Market ----

func (s *StateDB) GetListing(collection, assetID string) (*core.Listing, error) {
	var l core.Listing
	if err := s.getJSON(prefixListing+core.AssetKey(collection, assetID), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *StateDB) SetListing(l *core.Listing) error {
	return s.setJSON(prefixListing+core.AssetKey(l.Collection, l.AssetID), l)
}

func (s *StateDB) DeleteListing(collection, assetID string) error {
	s.del(prefixListing + core.AssetKey(collection, assetID))
	return nil
}

func (s *StateDB) GetMarket() (*core.MarketInfo, error) {
	var m core.MarketInfo
	if err := s.getJSON(keyMarketInfo, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *StateDB) SetMarket(m *core.MarketInfo) error {
	return s.setJSON(keyMarketInfo, m)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
// Snapshots nest: reverting to id discards id and every later snapshot.
func (s *StateDB) Snapshot() (int, error) {
	s.snapshots = append(s.snapshots, stateSnapshot{
		dirty:   copyDirty(s.dirty),
		deleted: copyDeleted(s.deleted),
	})
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]
	s.dirty = copyDirty(snap.dirty)
	s.deleted = copyDeleted(snap.deleted)
	s.snapshots = s.snapshots[:id]
	return nil
}

func copyDirty(src map[string][]byte) map[string][]byte {
	dst := make(map[string][]byte, len(src))
	for k, v := range src {
		cp := make([]byte, len(v))
		copy(cp, v)
		dst[k] = cp
	}
	return dst
}

func copyDeleted(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ComputeRoot returns the deterministic hash of the complete service state.
// It merges all persisted entries under the known prefixes with the write
// buffer, drops deleted keys, and hashes the sorted pairs using length-prefix
// encoding. It does not flush or modify state.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[string(it.Key())] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

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

// Commit atomically flushes the write buffer to the underlying DB via a
// Batch and then clears it, together with any outstanding snapshots.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
