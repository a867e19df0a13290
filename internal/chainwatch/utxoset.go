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

package chainwatch

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Salvionied/apollo/serialization/UTxO"
	"github.com/blinklabs-io/gouroboros/cbor"

	"github.com/cardano-vaults/distengine/internal/vault"
)

// trackedUtxo is one unspent output the Watcher has observed at a
// watched address, held exactly as reported by the chainsync event
// (the underlying ledger.TransactionOutput's own CBOR encoding).
type trackedUtxo struct {
	txHash     string
	index      uint32
	address    string
	outputCbor []byte
}

// Utxo resolves a single UTxO by its transaction reference, satisfying
// stage.UtxoProvider. Implements the engine's only cross-library UTxO
// conversion: gouroboros (chainsync/adder's wire format) to apollo (the
// builder's own UTxO.UTxO), grounded on the teacher's spectrum/tx.go
// (cbor.Decode(rawUtxoBytes, &apolloUTxO)) decoding raw on-chain-shaped
// CBOR directly into apollo's UTxO.UTxO — the standard Cardano
// [tx_in, tx_out] pair encoding both libraries round-trip compatibly.
func (w *Watcher) Utxo(_ context.Context, ref vault.TxRef) (UTxO.UTxO, error) {
	w.mu.RLock()
	tracked, ok := w.utxos[utxoKey(ref.TxHash, ref.OutputIndex)]
	w.mu.RUnlock()
	if !ok {
		return UTxO.UTxO{}, fmt.Errorf("chainwatch: utxo not found: %s#%d", ref.TxHash, ref.OutputIndex)
	}
	return decodeUtxo(tracked)
}

// WalletUtxos lists every unspent output currently tracked at address,
// satisfying stage.UtxoProvider.
func (w *Watcher) WalletUtxos(_ context.Context, address string) ([]UTxO.UTxO, error) {
	w.mu.RLock()
	keys := append([]string(nil), w.byAddress[address]...)
	tracked := make([]trackedUtxo, 0, len(keys))
	for _, k := range keys {
		if u, ok := w.utxos[k]; ok {
			tracked = append(tracked, u)
		}
	}
	w.mu.RUnlock()

	out := make([]UTxO.UTxO, 0, len(tracked))
	for _, t := range tracked {
		u, err := decodeUtxo(t)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeUtxo(t trackedUtxo) (UTxO.UTxO, error) {
	txIdBytes, err := hex.DecodeString(t.txHash)
	if err != nil {
		return UTxO.UTxO{}, fmt.Errorf("chainwatch: decode tx hash %s: %w", t.txHash, err)
	}
	pair := []any{
		[]any{txIdBytes, t.index},
		cbor.RawMessage(t.outputCbor),
	}
	pairCbor, err := cbor.Encode(&pair)
	if err != nil {
		return UTxO.UTxO{}, fmt.Errorf("chainwatch: re-encode utxo pair: %w", err)
	}
	var u UTxO.UTxO
	if _, err := cbor.Decode(pairCbor, &u); err != nil {
		return UTxO.UTxO{}, fmt.Errorf("chainwatch: decode apollo utxo: %w", err)
	}
	return u, nil
}
