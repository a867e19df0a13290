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

// Package priceoracle implements PriceOracle (spec §4.2/§5): per-asset
// coin-denominated pricing with a floor-price source preferred over a
// DEX mid-price source, falling back to the last price observed when
// both sources are unavailable. Grounded on the teacher's internal/oracle
// package (pool-state tracking across multiple protocol-specific
// sources, Badger-persisted so a restart doesn't lose history) and
// internal/oracle/storage.go's key-prefixed JSON record shape, simplified
// down to the two sources spec.md §4.2 actually names.
package priceoracle

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const lastPriceKeyPrefix = "lastprice_"

// PriceOracle returns the coin-denominated unit price of an asset, or
// false if no price is known at all.
type PriceOracle interface {
	PriceOf(policyId, assetId string) (uint64, bool)
}

// Source is one price feed a CompositeOracle consults, e.g. a
// floor-price listing service or a DEX pool-price aggregator.
type Source interface {
	// Name identifies the source in logs and cache provenance.
	Name() string
	// PriceOf returns the source's current price for the asset, or
	// false if the source has no opinion (delisted, no liquidity, not
	// tracked).
	PriceOf(policyId, assetId string) (uint64, bool)
}

// Logger is the minimal structured logging surface CompositeOracle
// needs, satisfied by *logging.Logger.
type Logger interface {
	Warnf(string, ...any)
	Debugf(string, ...any)
}

// CompositeOracle consults sources in priority order (floor price first,
// then DEX price, matching spec.md §4.2's `floorPrice || dexPrice || 0`)
// and persists the last price it actually observed per asset, so a
// transient outage of every source falls back to history instead of
// failing the Calculator run outright.
type CompositeOracle struct {
	sources []Source
	db      *badger.DB
	logger  Logger
}

// New builds a CompositeOracle. sources are consulted in order; the
// first to report a price wins. db is the cache of last-observed
// prices; pass nil to disable caching (every miss then reports false).
func New(sources []Source, db *badger.DB, logger Logger) *CompositeOracle {
	return &CompositeOracle{sources: sources, db: db, logger: logger}
}

// Open opens (or creates) a Badger database at dir to back the
// last-seen-price cache, mirroring the teacher's NewOracleStorage.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("priceoracle: open badger at %s: %w", dir, err)
	}
	return db, nil
}

// PriceOf implements PriceOracle: it tries each source in order, caches
// the first hit, and on a total miss falls back to the last cached
// price (if any).
func (o *CompositeOracle) PriceOf(policyId, assetId string) (uint64, bool) {
	for _, src := range o.sources {
		if price, ok := src.PriceOf(policyId, assetId); ok {
			o.cache(policyId, assetId, price)
			return price, true
		}
	}
	if o.logger != nil {
		o.logger.Warnf("priceoracle: no live source for %s.%s, falling back to last seen price", policyId, assetId)
	}
	return o.lastSeen(policyId, assetId)
}

type cachedPrice struct {
	Price uint64 `json:"price"`
}

func (o *CompositeOracle) cache(policyId, assetId string, price uint64) {
	if o.db == nil {
		return
	}
	data, err := json.Marshal(cachedPrice{Price: price})
	if err != nil {
		return
	}
	err = o.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lastPriceKey(policyId, assetId)), data)
	})
	if err != nil && o.logger != nil {
		o.logger.Warnf("priceoracle: failed to cache price for %s.%s: %v", policyId, assetId, err)
	}
}

func (o *CompositeOracle) lastSeen(policyId, assetId string) (uint64, bool) {
	if o.db == nil {
		return 0, false
	}
	var cached cachedPrice
	found := false
	err := o.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastPriceKey(policyId, assetId)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cached)
		})
	})
	if err != nil {
		if o.logger != nil {
			o.logger.Warnf("priceoracle: failed to read cached price for %s.%s: %v", policyId, assetId, err)
		}
		return 0, false
	}
	if !found {
		return 0, false
	}
	return cached.Price, true
}

func lastPriceKey(policyId, assetId string) string {
	return lastPriceKeyPrefix + policyId + ":" + assetId
}
