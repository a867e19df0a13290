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

// Package packer implements the MultiplierPacker (spec §4.3): it turns
// Calculator-produced Claim records into the (policyId, assetName?,
// multiplier) tuple lists that get published on-chain, compressing
// uniformly-priced policies into a single policy-level entry.
package packer

import (
	"sort"

	"github.com/cardano-vaults/distengine/internal/arith"
	"github.com/cardano-vaults/distengine/internal/vault"
)

// DefaultGroupingThreshold is GROUPING_THRESHOLD's default (spec §4.3):
// a policy groups into one tuple as soon as it has at least this many
// assets and they all share one integer price.
const DefaultGroupingThreshold = 1

// TransactionGroup is an ordered, disjoint bundle of tuples that must be
// published together in one batch: either the tuples belonging to a
// single contribution transaction, the tuples of several contribution
// transactions that got merged by a shared policy-level grouping tuple,
// or a single acquirer claim's trivial one-tuple group.
type TransactionGroup struct {
	TransactionIds []string
	VtTuples       []vault.MultiplierTuple
	CoinTuples     []vault.MultiplierTuple
}

// Result is the packer's output: the flat tuple lists (for SizeOracle
// estimation) plus the transaction groups BatchSolver partitions on.
type Result struct {
	VtTuples   []vault.MultiplierTuple
	CoinTuples []vault.MultiplierTuple
	Groups     []TransactionGroup
}

type assetAlloc struct {
	policyId    string
	assetName   string
	quantity    uint64
	price       uint64
	vtPerUnit   uint64
	coinPerUnit uint64
	txId        string
}

// splitAmount divides total across n buckets: base = floor(total/n), and
// the first (total - base*n) buckets receive one extra unit.
func splitAmount(total uint64, n int) []uint64 {
	if n <= 0 {
		return nil
	}
	base := total / uint64(n)
	rem := total - base*uint64(n)
	out := make([]uint64, n)
	for i := range out {
		out[i] = base
		if uint64(i) < rem {
			out[i]++
		}
	}
	return out
}

// unionFind is a minimal disjoint-set over contribution transaction IDs,
// used to merge transaction groups when a policy-level tuple spans
// assets from more than one contribution transaction.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}}
}

func (u *unionFind) add(id string) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
	}
}

func (u *unionFind) find(id string) string {
	u.add(id)
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// Pack runs the §4.3 algorithm. txByID must map every Contributor/
// Acquirer claim's TransactionId to its originating vault.Transaction
// (with its Assets populated).
func Pack(
	claims []vault.Claim,
	txByID map[string]vault.Transaction,
	groupingThreshold int,
) Result {
	if groupingThreshold <= 0 {
		groupingThreshold = DefaultGroupingThreshold
	}

	// --- Pass 1: per-asset VT/coin shares for contributor claims ---
	var allocs []assetAlloc
	policyOrder := []string{}
	policyAllocs := map[string][]int{} // policyId -> indices into allocs
	uf := newUnionFind()

	for _, claim := range claims {
		if claim.Type != vault.ClaimTypeContributor {
			continue
		}
		tx, ok := txByID[claim.TransactionId]
		if !ok || len(tx.Assets) == 0 {
			continue
		}
		uf.add(tx.Id)
		n := len(tx.Assets)
		vtShares := splitAmount(claim.VtAmount, n)
		coinShares := splitAmount(claim.CoinAmount, n)
		for i, asset := range tx.Assets {
			a := assetAlloc{
				policyId:    asset.PolicyId,
				assetName:   asset.AssetId,
				quantity:    asset.Quantity,
				price:       asset.Price(),
				vtPerUnit:   arith.FloorDiv(vtShares[i], asset.Quantity),
				coinPerUnit: arith.FloorDiv(coinShares[i], asset.Quantity),
				txId:        tx.Id,
			}
			idx := len(allocs)
			allocs = append(allocs, a)
			if _, seen := policyAllocs[a.policyId]; !seen {
				policyOrder = append(policyOrder, a.policyId)
			}
			policyAllocs[a.policyId] = append(policyAllocs[a.policyId], idx)
		}
	}

	// --- Pass 2: decide, per policy, whether to group ---
	grouped := map[string]bool{}
	for _, policyId := range policyOrder {
		idxs := policyAllocs[policyId]
		if len(idxs) < groupingThreshold {
			continue
		}
		uniform := true
		firstPrice := allocs[idxs[0]].price
		for _, idx := range idxs[1:] {
			if allocs[idx].price != firstPrice {
				uniform = false
				break
			}
		}
		if !uniform {
			continue
		}
		grouped[policyId] = true
		// Merge every contributing transaction's group: a single
		// policy-level tuple can never be split across batches, so
		// every transaction it covers must travel together.
		first := allocs[idxs[0]].txId
		for _, idx := range idxs[1:] {
			uf.union(first, allocs[idx].txId)
		}
	}

	// --- Pass 3: emit tuples in policy first-appearance order ---
	type groupBucket struct {
		txIds      map[string]bool
		vtTuples   []vault.MultiplierTuple
		coinTuples []vault.MultiplierTuple
		order      int
	}
	buckets := map[string]*groupBucket{}
	var bucketOrder []string
	bucketFor := func(txId string) *groupBucket {
		root := uf.find(txId)
		b, ok := buckets[root]
		if !ok {
			b = &groupBucket{txIds: map[string]bool{}, order: len(bucketOrder)}
			buckets[root] = b
			bucketOrder = append(bucketOrder, root)
		}
		return b
	}

	var vtTuples, coinTuples []vault.MultiplierTuple

	for _, policyId := range policyOrder {
		idxs := policyAllocs[policyId]
		if grouped[policyId] {
			var minVt, minCoin uint64
			haveMin := false
			for _, idx := range idxs {
				a := allocs[idx]
				if !haveMin || a.vtPerUnit < minVt {
					minVt = a.vtPerUnit
				}
				if !haveMin || a.coinPerUnit < minCoin {
					minCoin = a.coinPerUnit
				}
				haveMin = true
			}
			vtTuple := vault.MultiplierTuple{PolicyId: policyId, AssetName: nil, Value: minVt}
			coinTuple := vault.MultiplierTuple{PolicyId: policyId, AssetName: nil, Value: minCoin}
			vtTuples = append(vtTuples, vtTuple)
			coinTuples = append(coinTuples, coinTuple)

			b := bucketFor(allocs[idxs[0]].txId)
			for _, idx := range idxs {
				b.txIds[allocs[idx].txId] = true
				// All indices in this policy now share one root; make
				// sure every one of them maps into the same bucket.
				bucketFor(allocs[idx].txId)
			}
			b = bucketFor(allocs[idxs[0]].txId)
			b.vtTuples = append(b.vtTuples, vtTuple)
			b.coinTuples = append(b.coinTuples, coinTuple)
			continue
		}
		for _, idx := range idxs {
			a := allocs[idx]
			name := a.assetName
			vtTuple := vault.MultiplierTuple{PolicyId: a.policyId, AssetName: &name, Value: a.vtPerUnit}
			coinTuple := vault.MultiplierTuple{PolicyId: a.policyId, AssetName: &name, Value: a.coinPerUnit}
			vtTuples = append(vtTuples, vtTuple)
			coinTuples = append(coinTuples, coinTuple)

			b := bucketFor(a.txId)
			b.txIds[a.txId] = true
			b.vtTuples = append(b.vtTuples, vtTuple)
			b.coinTuples = append(b.coinTuples, coinTuple)
		}
	}

	// --- Acquirer claims: one trivial single-tuple group each ---
	for _, claim := range claims {
		if claim.Type != vault.ClaimTypeAcquirer {
			continue
		}
		tuple := vault.MultiplierTuple{PolicyId: "", AssetName: nil, Value: claim.Multiplier}
		vtTuples = append(vtTuples, tuple)

		key := "acquirer:" + claim.TransactionId
		b, ok := buckets[key]
		if !ok {
			b = &groupBucket{txIds: map[string]bool{claim.TransactionId: true}, order: len(bucketOrder)}
			buckets[key] = b
			bucketOrder = append(bucketOrder, key)
		}
		b.vtTuples = append(b.vtTuples, tuple)
	}

	groups := make([]TransactionGroup, 0, len(bucketOrder))
	for _, key := range bucketOrder {
		b := buckets[key]
		ids := make([]string, 0, len(b.txIds))
		for id := range b.txIds {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		groups = append(groups, TransactionGroup{
			TransactionIds: ids,
			VtTuples:       b.vtTuples,
			CoinTuples:     b.coinTuples,
		})
	}

	return Result{VtTuples: vtTuples, CoinTuples: coinTuples, Groups: groups}
}

// MultiplierGivenAsset looks up the on-chain multiplier for an asset:
// exact (policyId, assetName) match first, falling back to the
// policy-level (policyId, nil) entry. This is the authoritative lookup
// contract the on-chain validator uses (spec §4.8/§9 Open Question #2),
// and is reused by the Pay stage when replaying VT across a
// contribution UTxO's actual assets.
func MultiplierGivenAsset(table []vault.MultiplierTuple, policyId, assetName string) (uint64, bool) {
	var policyLevel *uint64
	for _, t := range table {
		if t.PolicyId != policyId {
			continue
		}
		if t.AssetName != nil && *t.AssetName == assetName {
			return t.Value, true
		}
		if t.AssetName == nil {
			v := t.Value
			policyLevel = &v
		}
	}
	if policyLevel != nil {
		return *policyLevel, true
	}
	return 0, false
}
