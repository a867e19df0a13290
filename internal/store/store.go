// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists the engine's domain records. Store is the
// interface the orchestrator and stages depend on; BadgerStore is the
// on-disk implementation, grounded on the teacher's
// internal/storage/storage.go (badger.DefaultOptions + custom logger
// adapter, key-prefixed records) and internal/oracle/storage.go
// (JSON-marshalled per-entity records, iterate-prefix-then-filter reads).
package store

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/cardano-vaults/distengine/internal/vault"
)

const (
	vaultKeyPrefix       = "vault_"
	claimKeyPrefix       = "claim_"
	transactionKeyPrefix = "tx_"
)

// Store is the engine's persistence surface: flat JSON records keyed by
// id, per spec.md §3's "no ORM, no backpointers" data model.
type Store interface {
	SaveVault(v vault.Vault) error
	LoadVault(id string) (vault.Vault, bool, error)
	ListVaults() ([]vault.Vault, error)

	SaveClaim(c vault.Claim) error
	LoadClaim(id string) (vault.Claim, bool, error)
	ListClaimsByVault(vaultId string) ([]vault.Claim, error)

	SaveTransaction(t vault.Transaction) error
	LoadTransaction(id string) (vault.Transaction, bool, error)
	ListTransactionsByVault(vaultId string, kinds ...vault.TransactionType) ([]vault.Transaction, error)

	Close() error
}

// BadgerStore is the Store implementation backed by an embedded Badger
// database, one file tree per engine process.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts the engine's structured logger to Badger's minimal
// logging interface, the same role the teacher's BadgerLogger wrapper
// plays in internal/storage/storage.go.
type badgerLogger struct {
	warnf  func(string, ...any)
	infof  func(string, ...any)
	debugf func(string, ...any)
}

func (l badgerLogger) Errorf(f string, args ...any)   { l.warnf(f, args...) }
func (l badgerLogger) Warningf(f string, args ...any) { l.warnf(f, args...) }
func (l badgerLogger) Infof(f string, args ...any)    { l.infof(f, args...) }
func (l badgerLogger) Debugf(f string, args ...any)   { l.debugf(f, args...) }

// Open opens (or creates) a Badger database at dir. warnf, infof and
// debugf route Badger's own log lines through the engine's logger; a nil
// one discards that level's lines.
func Open(dir string, warnf, infof, debugf func(string, ...any)) (*BadgerStore, error) {
	noop := func(string, ...any) {}
	if warnf == nil {
		warnf = noop
	}
	if infof == nil {
		infof = noop
	}
	if debugf == nil {
		debugf = noop
	}
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{warnf: warnf, infof: infof, debugf: debugf}).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) SaveVault(v vault.Vault) error {
	return s.save(vaultKeyPrefix+v.Id, v)
}

func (s *BadgerStore) LoadVault(id string) (vault.Vault, bool, error) {
	var v vault.Vault
	ok, err := s.load(vaultKeyPrefix+id, &v)
	return v, ok, err
}

func (s *BadgerStore) ListVaults() ([]vault.Vault, error) {
	var out []vault.Vault
	err := s.scan(vaultKeyPrefix, func(data []byte) error {
		var v vault.Vault
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

func (s *BadgerStore) SaveClaim(c vault.Claim) error {
	return s.save(claimKeyPrefix+c.Id, c)
}

func (s *BadgerStore) LoadClaim(id string) (vault.Claim, bool, error) {
	var c vault.Claim
	ok, err := s.load(claimKeyPrefix+id, &c)
	return c, ok, err
}

func (s *BadgerStore) ListClaimsByVault(vaultId string) ([]vault.Claim, error) {
	var out []vault.Claim
	err := s.scan(claimKeyPrefix, func(data []byte) error {
		var c vault.Claim
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		if c.VaultId == vaultId {
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) SaveTransaction(t vault.Transaction) error {
	return s.save(transactionKeyPrefix+t.Id, t)
}

func (s *BadgerStore) LoadTransaction(id string) (vault.Transaction, bool, error) {
	var t vault.Transaction
	ok, err := s.load(transactionKeyPrefix+id, &t)
	return t, ok, err
}

func (s *BadgerStore) ListTransactionsByVault(vaultId string, kinds ...vault.TransactionType) ([]vault.Transaction, error) {
	want := make(map[vault.TransactionType]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []vault.Transaction
	err := s.scan(transactionKeyPrefix, func(data []byte) error {
		var t vault.Transaction
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		if t.VaultId != vaultId {
			return nil
		}
		if len(want) > 0 && !want[t.Type] {
			return nil
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

func (s *BadgerStore) save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *BadgerStore) load(key string, out any) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err != nil {
		return false, fmt.Errorf("store: load %s: %w", key, err)
	}
	return found, nil
}

func (s *BadgerStore) scan(prefix string, fn func([]byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if err := item.Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
