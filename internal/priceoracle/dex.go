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

package priceoracle

import (
	"sync"
	"time"

	"github.com/blinklabs-io/adder/event"

	"github.com/cardano-vaults/distengine/internal/common"
	"github.com/cardano-vaults/distengine/internal/priceoracle/minswap"
)

// dexPriceScale is the fixed-point scale a DexSource reports prices at:
// lovelace per whole unit of the non-ADA asset in a pool, matching the
// coin-lovelace units every other part of the engine already uses.
const dexPriceScale = 1_000_000

// MinswapSource tracks Minswap V2 pool reserves observed on chain and
// reports a lovelace mid-price for whichever side of the pool isn't
// lovelace itself. Grounded on the teacher's internal/oracle/oracle.go
// (Oracle.handleTransaction: scan Produced() outputs, decode a datum with
// the protocol parser, keep the latest state per pool) and
// internal/oracle/minswap's V2 datum parser, adapted here as the DEX leg
// of PriceOracle (spec §4.2's `dexPrice` feed) instead of the teacher's
// own market-making pool tracker.
type MinswapSource struct {
	parser *minswap.Parser

	mu     sync.RWMutex
	prices map[string]uint64 // common.AssetClass.Fingerprint() -> lovelace price
}

// NewMinswapSource builds a MinswapSource with no pools observed yet.
func NewMinswapSource() *MinswapSource {
	return &MinswapSource{
		parser: minswap.NewV2Parser(),
		prices: make(map[string]uint64),
	}
}

// Name implements Source.
func (s *MinswapSource) Name() string { return "minswap" }

// PriceOf implements Source, keyed on the same policy/name pair a pool's
// non-lovelace side was last observed carrying.
func (s *MinswapSource) PriceOf(policyId, assetId string) (uint64, bool) {
	class, err := common.NewAssetClass(policyId, assetId)
	if err != nil {
		return 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[class.Fingerprint()]
	return price, ok
}

// HandleEvent is registered with chainwatch.Watcher.AddEventFunc: it scans
// every produced output for a datum the Minswap V2 parser accepts,
// independent of the engine's own watched-address allowlist, since pool
// addresses aren't vault- or wallet-owned.
func (s *MinswapSource) HandleEvent(evt event.Event) error {
	txEvt, ok := evt.Payload.(event.TransactionEvent)
	if !ok {
		return nil
	}
	ctx, ok := evt.Context.(event.TransactionContext)
	if !ok {
		return nil
	}
	for _, utxo := range txEvt.Transaction.Produced() {
		if utxo.Output.Datum() == nil {
			continue
		}
		state, err := s.parser.ParsePoolDatum(
			utxo.Output.Datum().Cbor(),
			ctx.TransactionHash,
			utxo.Id.Index(),
			ctx.SlotNumber,
			time.Now(),
		)
		if err != nil {
			continue
		}
		s.observe(state)
	}
	return nil
}

func (s *MinswapSource) observe(state *minswap.PoolState) {
	price, class, ok := dexMidPrice(state)
	if !ok {
		return
	}
	s.mu.Lock()
	s.prices[class.Fingerprint()] = price
	s.mu.Unlock()
}

// dexMidPrice converts a pool's two reserves into a lovelace price for
// whichever side isn't lovelace. Pools with neither or both sides in
// lovelace report no price (no ADA leg to denominate against).
func dexMidPrice(state *minswap.PoolState) (uint64, common.AssetClass, bool) {
	switch {
	case state.AssetX.IsLovelace() && !state.AssetY.IsLovelace():
		return reservePrice(state.AssetX.Amount, state.AssetY.Amount), state.AssetY.Class, true
	case state.AssetY.IsLovelace() && !state.AssetX.IsLovelace():
		return reservePrice(state.AssetY.Amount, state.AssetX.Amount), state.AssetX.Class, true
	default:
		return 0, common.AssetClass{}, false
	}
}

func reservePrice(lovelaceReserve, tokenReserve uint64) uint64 {
	if tokenReserve == 0 {
		return 0
	}
	return lovelaceReserve * dexPriceScale / tokenReserve
}
