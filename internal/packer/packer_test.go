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

package packer

import (
	"testing"

	"github.com/cardano-vaults/distengine/internal/vault"
)

func price(p uint64) *uint64 { return &p }

// TestUniformPolicyGroups mirrors S2: many same-priced assets from one
// policy in a single contribution transaction collapse into one tuple.
func TestUniformPolicyGroups(t *testing.T) {
	assets := make([]vault.Asset, 0, 200)
	for i := 0; i < 200; i++ {
		assets = append(assets, vault.Asset{
			Id:         "nft",
			PolicyId:   "policyA",
			AssetId:    "nft" + string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Quantity:   1,
			FloorPrice: price(100),
		})
	}
	tx := vault.Transaction{Id: "contrib-1", UserId: "alice", Assets: assets}
	claims := []vault.Claim{
		{TransactionId: "contrib-1", Type: vault.ClaimTypeContributor, VtAmount: 2000, CoinAmount: 2000},
	}
	txByID := map[string]vault.Transaction{"contrib-1": tx}

	res := Pack(claims, txByID, 1)

	if len(res.VtTuples) != 1 {
		t.Fatalf("expected 1 policy-level VT tuple, got %d", len(res.VtTuples))
	}
	if res.VtTuples[0].PolicyId != "policyA" || res.VtTuples[0].AssetName != nil {
		t.Fatalf("expected policy-level tuple, got %+v", res.VtTuples[0])
	}
	if len(res.Groups) != 1 {
		t.Fatalf("expected all 200 assets merged into 1 transaction group, got %d", len(res.Groups))
	}
}

// TestMixedPricePolicyStaysPerAsset mirrors S3: a policy whose assets
// carry different prices never compresses into one tuple.
func TestMixedPricePolicyStaysPerAsset(t *testing.T) {
	tx := vault.Transaction{
		Id:     "contrib-1",
		UserId: "alice",
		Assets: []vault.Asset{
			{Id: "nft-1", PolicyId: "policyA", AssetId: "nft1", Quantity: 1, FloorPrice: price(100)},
			{Id: "nft-2", PolicyId: "policyA", AssetId: "nft2", Quantity: 1, FloorPrice: price(200)},
		},
	}
	claims := []vault.Claim{
		{TransactionId: "contrib-1", Type: vault.ClaimTypeContributor, VtAmount: 300, CoinAmount: 300},
	}
	txByID := map[string]vault.Transaction{"contrib-1": tx}

	res := Pack(claims, txByID, 1)

	if len(res.VtTuples) != 2 {
		t.Fatalf("expected 2 per-asset VT tuples, got %d", len(res.VtTuples))
	}
	for _, tuple := range res.VtTuples {
		if tuple.AssetName == nil {
			t.Fatalf("expected per-asset tuple (non-nil AssetName), got %+v", tuple)
		}
	}
}

// TestCrossTransactionPolicyGroupMergesGroups verifies that when a
// policy-level tuple spans assets contributed in two different
// transactions, both transactions end up in the same group (so the
// batch solver never has to split that single on-chain tuple).
func TestCrossTransactionPolicyGroupMergesGroups(t *testing.T) {
	txA := vault.Transaction{
		Id:     "contrib-a",
		UserId: "alice",
		Assets: []vault.Asset{{Id: "nft-a", PolicyId: "policyA", AssetId: "a", Quantity: 1, FloorPrice: price(50)}},
	}
	txB := vault.Transaction{
		Id:     "contrib-b",
		UserId: "bob",
		Assets: []vault.Asset{{Id: "nft-b", PolicyId: "policyA", AssetId: "b", Quantity: 1, FloorPrice: price(50)}},
	}
	claims := []vault.Claim{
		{TransactionId: "contrib-a", Type: vault.ClaimTypeContributor, VtAmount: 100, CoinAmount: 100},
		{TransactionId: "contrib-b", Type: vault.ClaimTypeContributor, VtAmount: 100, CoinAmount: 100},
	}
	txByID := map[string]vault.Transaction{"contrib-a": txA, "contrib-b": txB}

	res := Pack(claims, txByID, 2)

	if len(res.Groups) != 1 {
		t.Fatalf("expected the two contributions to merge into 1 group, got %d", len(res.Groups))
	}
	if len(res.Groups[0].TransactionIds) != 2 {
		t.Fatalf("expected merged group to list both transactions, got %v", res.Groups[0].TransactionIds)
	}
}

// TestAcquirerClaimsFormTrivialGroups checks that acquirer claims each
// get their own single-tuple group, independent of contributor groups.
func TestAcquirerClaimsFormTrivialGroups(t *testing.T) {
	claims := []vault.Claim{
		{TransactionId: "acquire-1", Type: vault.ClaimTypeAcquirer, Multiplier: 5},
		{TransactionId: "acquire-2", Type: vault.ClaimTypeAcquirer, Multiplier: 5},
	}
	res := Pack(claims, map[string]vault.Transaction{}, 1)

	if len(res.Groups) != 2 {
		t.Fatalf("expected 2 trivial acquirer groups, got %d", len(res.Groups))
	}
	for _, g := range res.Groups {
		if len(g.VtTuples) != 1 {
			t.Fatalf("expected exactly 1 tuple per acquirer group, got %d", len(g.VtTuples))
		}
	}
}

// TestMultiplierGivenAssetFallsBackToPolicyLevel checks the lookup
// contract shared by the packer and the Pay stage.
func TestMultiplierGivenAssetFallsBackToPolicyLevel(t *testing.T) {
	name := "nft1"
	table := []vault.MultiplierTuple{
		{PolicyId: "policyA", AssetName: nil, Value: 10},
		{PolicyId: "policyB", AssetName: &name, Value: 99},
	}
	if v, ok := MultiplierGivenAsset(table, "policyA", "whatever"); !ok || v != 10 {
		t.Fatalf("expected policy-level fallback of 10, got %d ok=%v", v, ok)
	}
	if v, ok := MultiplierGivenAsset(table, "policyB", "nft1"); !ok || v != 99 {
		t.Fatalf("expected exact match of 99, got %d ok=%v", v, ok)
	}
	if _, ok := MultiplierGivenAsset(table, "policyC", "x"); ok {
		t.Fatalf("expected no match for unknown policy")
	}
}
