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

// Package stage holds the shared surface UpdateStage/ExtractStage/
// PayStage (spec §4.6-§4.8) all build on: looking up the UTxOs a plan
// needs to spend and the wallet's own spendable UTxOs. Real chain access
// goes through chainclient.ApolloClient plus chainwatch.Watcher's known-
// UTxO bookkeeping; tests substitute an in-memory fake.
package stage

import (
	"context"

	"github.com/Salvionied/apollo/serialization/UTxO"

	"github.com/cardano-vaults/distengine/internal/vault"
)

// UtxoProvider resolves the UTxOs a stage needs to spend: a vault's own
// datum-bearing output (by TxRef), a dispatch UTxO set, or the admin
// wallet's own spendable coin. Satisfied by *chainwatch.Watcher.
type UtxoProvider interface {
	// Utxo fetches a single UTxO by its transaction hash and output
	// index, e.g. a vault's lastUpdateTxRef or a contribution UTxO.
	Utxo(ctx context.Context, ref vault.TxRef) (UTxO.UTxO, error)
	// WalletUtxos lists the admin wallet's own spendable UTxOs, used by
	// UtxoSelector to cover fees and, for the dispatch script, coin.
	WalletUtxos(ctx context.Context, address string) ([]UTxO.UTxO, error)
	// IsSpent reports whether a UTxO has already been consumed by some
	// observed transaction, distinguishing spec §7's
	// InputConsumedElsewhere from a generic build failure.
	IsSpent(txHash string, index uint32) (string, bool)
	// ConfirmationDepth reports whether a submitted transaction has been
	// observed on-chain, gating the Available->Claimed claim transition
	// and a stage's own on-chain-confirmed state mutations (spec §5's
	// ordering guarantee, §7's "not an error, the next tick reconciles").
	ConfirmationDepth(txHash string) (uint64, bool)
}

// TransactionRecorder persists the write-ahead Created->Submitted
// lifecycle of a stage's own settlement transactions (spec §4.8),
// distinct from UtxoProvider's live chain-state queries. Satisfied by
// store.Store.
type TransactionRecorder interface {
	SaveTransaction(t vault.Transaction) error
}
