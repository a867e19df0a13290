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

// Package utxoselect implements UtxoSelector & Retry (spec §4.10): a
// largest-first greedy wallet UTxO selector used to cover fees and
// collateral for settlement transactions, with an exclude-set retry loop
// for when a selected UTxO turns out already spent. Grounded on the
// teacher's wallet-UTxO gather loops in fluidtokens/tx.go and
// geniusyield/tx.go (decode-from-storage into []UTxO.UTxO, then hand the
// whole slice to Apollo) generalized into a reusable selector that picks
// a covering subset instead of handing over everything.
package utxoselect

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/Salvionied/apollo/serialization/UTxO"

	"github.com/cardano-vaults/distengine/internal/vault"
)

// MaxRetries bounds how many times Select retries after a
// KindInputConsumedElsewhere-style rejection, per spec §4.10/§7.
const MaxRetries = 3

// utxoKey is the stable string identity of a UTxO, used both for the
// exclude set and for de-duplication. Matches the teacher's own
// "txhash#index" convention (geniusyield/tx.go's utxoKey).
func utxoKey(u UTxO.UTxO) string {
	return fmt.Sprintf("%s#%d", hex.EncodeToString(u.Input.TransactionId), u.Input.Index)
}

// Select runs a largest-first greedy cover: sort candidates by lovelace
// descending, and take UTxOs one at a time until the accumulated
// lovelace meets minLovelace, skipping anything in exclude. required, if
// non-empty, is a set of UTxOs that must always be included (e.g. the
// vault's own script input) regardless of value ordering.
func Select(candidates []UTxO.UTxO, minLovelace uint64, exclude map[string]bool, required []UTxO.UTxO) ([]UTxO.UTxO, error) {
	byKey := make(map[string]UTxO.UTxO, len(candidates)+len(required))
	toItem := func(u UTxO.UTxO) weighted {
		key := utxoKey(u)
		byKey[key] = u
		return weighted{key: key, coin: uint64(u.Output.GetAmount().GetCoin())}
	}

	candidateItems := make([]weighted, 0, len(candidates))
	for _, u := range candidates {
		candidateItems = append(candidateItems, toItem(u))
	}
	requiredItems := make([]weighted, 0, len(required))
	for _, u := range required {
		requiredItems = append(requiredItems, toItem(u))
	}

	selectedItems, err := selectGreedy(candidateItems, minLovelace, exclude, requiredItems)
	if err != nil {
		return nil, err
	}

	selected := make([]UTxO.UTxO, 0, len(selectedItems))
	for _, item := range selectedItems {
		selected = append(selected, byKey[item.key])
	}
	return selected, nil
}

// weighted is the pure-logic view of a UTxO the greedy selector needs:
// a stable key and its lovelace value. Kept separate from UTxO.UTxO so
// the selection algorithm itself can be exercised by tests without
// constructing real Apollo transaction outputs.
type weighted struct {
	key  string
	coin uint64
}

func selectGreedy(candidates []weighted, minLovelace uint64, exclude map[string]bool, required []weighted) ([]weighted, error) {
	usable := make([]weighted, 0, len(candidates))
	for _, w := range candidates {
		if exclude != nil && exclude[w.key] {
			continue
		}
		usable = append(usable, w)
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i].coin > usable[j].coin })

	selected := make([]weighted, 0, len(required)+1)
	seen := map[string]bool{}
	var total uint64
	for _, w := range required {
		selected = append(selected, w)
		seen[w.key] = true
		total += w.coin
	}

	for _, w := range usable {
		if total >= minLovelace {
			break
		}
		if seen[w.key] {
			continue
		}
		selected = append(selected, w)
		seen[w.key] = true
		total += w.coin
	}

	if total < minLovelace {
		return nil, vault.NewError(
			vault.KindInsufficientUtxos,
			"wallet UTxOs do not cover the required lovelace",
			nil,
		)
	}
	return selected, nil
}

// BuildFn attempts to build+submit a transaction given a selected UTxO
// set. It returns only an error; it does not name which input was
// already spent.
type BuildFn func(selected []UTxO.UTxO) error

// Retry runs Select then fn, and on a KindInputConsumedElsewhere error
// adds every UTxO of that attempt's selection to the exclude set (not
// only the spent one) and retries, making at most MaxRetries attempts
// and returning the last error once they are used up. This is the
// generalization of the teacher's
// always-use-every-wallet-UTxO approach into the exclude-and-retry loop
// spec §4.10 calls for.
func Retry(
	candidates []UTxO.UTxO,
	minLovelace uint64,
	required []UTxO.UTxO,
	fn BuildFn,
) error {
	exclude := map[string]bool{}
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		selected, err := Select(candidates, minLovelace, exclude, required)
		if err != nil {
			return err
		}
		err = fn(selected)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isConsumedElsewhere(err) {
			return err
		}
		for _, u := range selected {
			exclude[utxoKey(u)] = true
		}
	}
	return lastErr
}

func isConsumedElsewhere(err error) bool {
	type kinded interface{ Unwrap() error }
	for e := err; e != nil; {
		if ve, ok := e.(*vault.Error); ok {
			return ve.Kind == vault.KindInputConsumedElsewhere
		}
		u, ok := e.(kinded)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
