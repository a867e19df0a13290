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

package update

import (
	"context"
	"testing"

	"github.com/cardano-vaults/distengine/internal/batchsolver"
	"github.com/cardano-vaults/distengine/internal/packer"
	"github.com/cardano-vaults/distengine/internal/vault"
)

func batchNo(n uint32) *uint32 { return &n }

func TestUnassignedClaimsFiltersByTypeBatchAndStatus(t *testing.T) {
	claims := []vault.Claim{
		{Id: "a", Type: vault.ClaimTypeContributor, Status: vault.ClaimPending},
		{Id: "b", Type: vault.ClaimTypeAcquirer, Status: vault.ClaimPending, DistributionBatch: batchNo(1)},
		{Id: "c", Type: vault.ClaimTypeContributor, Status: vault.ClaimClaimed},
		{Id: "d", Type: vault.ClaimTypeContributor, Status: vault.ClaimFailed},
	}
	got := unassignedClaims(claims)
	if len(got) != 1 || got[0].Id != "a" {
		t.Fatalf("expected only claim %q, got %+v", "a", got)
	}
}

func TestCoveredTransactionIds(t *testing.T) {
	batch := batchsolver.Batch{
		Groups: []packer.TransactionGroup{
			{TransactionIds: []string{"tx1", "tx2"}},
			{TransactionIds: []string{"tx3"}},
		},
	}
	ids := coveredTransactionIds(batch)
	for _, want := range []string{"tx1", "tx2", "tx3"} {
		if !ids[want] {
			t.Fatalf("expected %q to be covered, got %v", want, ids)
		}
	}
	if len(ids) != 3 {
		t.Fatalf("expected exactly 3 covered ids, got %d", len(ids))
	}
}

func TestFlattenBatch(t *testing.T) {
	groups := []packer.TransactionGroup{
		{
			VtTuples:   []vault.MultiplierTuple{{PolicyId: "p1"}},
			CoinTuples: []vault.MultiplierTuple{{PolicyId: "p2"}},
		},
		{
			VtTuples: []vault.MultiplierTuple{{PolicyId: "p3"}},
		},
	}
	b := flattenBatch(groups)
	if len(b.VtTuples) != 2 || len(b.CoinTuples) != 1 {
		t.Fatalf("expected 2 VT tuples and 1 coin tuple, got %+v", b)
	}
}

func TestSubmitNoUnassignedClaimsIsNoop(t *testing.T) {
	s := New(nil, nil, nil, "preview", "addr", 200000, 1)
	v := vault.Vault{Id: "vault-1"}
	claims := []vault.Claim{
		{Id: "c1", Type: vault.ClaimTypeContributor, Status: vault.ClaimClaimed},
	}
	result, err := s.Submit(context.Background(), v, claims, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Vault.Id != v.Id || result.Vault.PendingUpdate != nil {
		t.Fatalf("expected an unchanged vault with no pending update, got %+v", result)
	}
}

func TestSubmitWithoutLastUpdateTxRefFails(t *testing.T) {
	s := New(nil, nil, nil, "preview", "addr", 200000, 1)
	v := vault.Vault{Id: "vault-1"}
	claims := []vault.Claim{
		{Id: "c1", Type: vault.ClaimTypeContributor, Status: vault.ClaimPending, TransactionId: "tx1"},
	}
	txByID := map[string]vault.Transaction{
		"tx1": {Id: "tx1", Assets: []vault.Asset{{PolicyId: "p", Quantity: 1}}},
	}
	_, err := s.Submit(context.Background(), v, claims, txByID)
	if err == nil {
		t.Fatalf("expected an error when the vault has no lastUpdateTxRef to spend")
	}
}

func TestSubmitManualWithoutLastUpdateTxRefFails(t *testing.T) {
	s := New(nil, nil, nil, "preview", "addr", 200000, 1)
	v := vault.Vault{Id: "vault-1"}
	_, err := s.SubmitManual(context.Background(), v, nil, nil, false)
	if err == nil {
		t.Fatalf("expected an error when the vault has no lastUpdateTxRef to spend")
	}
}
