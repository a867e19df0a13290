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

package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/Salvionied/apollo/serialization/UTxO"

	"github.com/cardano-vaults/distengine/internal/vault"
)

// erroringUtxoProvider always fails to resolve a UTxO, so buildPlan
// returns before ever touching apollo-specific output construction --
// enough to exercise Run's halve-and-retry-then-fail ladder without a
// real chain-shaped fixture.
type erroringUtxoProvider struct{}

func (erroringUtxoProvider) Utxo(context.Context, vault.TxRef) (UTxO.UTxO, error) {
	return UTxO.UTxO{}, errors.New("no utxo")
}

func (erroringUtxoProvider) WalletUtxos(context.Context, string) ([]UTxO.UTxO, error) {
	return nil, errors.New("no utxos")
}

func (erroringUtxoProvider) IsSpent(string, uint32) (string, bool) { return "", false }

func (erroringUtxoProvider) ConfirmationDepth(string) (uint64, bool) { return 0, false }

// spentUtxoProvider reports every contribution UTxO as already consumed
// by consumedByTx, exercising spec §7's InputConsumedElsewhere path
// (scenario S5) without ever reaching buildPlan.
type spentUtxoProvider struct {
	consumedByTx string
}

func (spentUtxoProvider) Utxo(context.Context, vault.TxRef) (UTxO.UTxO, error) {
	return UTxO.UTxO{}, errors.New("should not be called once already-spent")
}

func (spentUtxoProvider) WalletUtxos(context.Context, string) ([]UTxO.UTxO, error) {
	return nil, errors.New("should not be called once already-spent")
}

func (p spentUtxoProvider) IsSpent(string, uint32) (string, bool) { return p.consumedByTx, true }

func (spentUtxoProvider) ConfirmationDepth(string) (uint64, bool) { return 0, false }

func batchNo(n uint32) *uint32 { return &n }

func TestPendingAcquirerClaimsFiltersByTypeStatusAndBatch(t *testing.T) {
	v := vault.Vault{CurrentBatch: 2}
	claims := []vault.Claim{
		{Type: vault.ClaimTypeAcquirer, Status: vault.ClaimPending, DistributionBatch: batchNo(2)},
		{Type: vault.ClaimTypeContributor, Status: vault.ClaimPending, DistributionBatch: batchNo(2)},
		{Type: vault.ClaimTypeAcquirer, Status: vault.ClaimClaimed, DistributionBatch: batchNo(2)},
		{Type: vault.ClaimTypeAcquirer, Status: vault.ClaimPending, DistributionBatch: batchNo(1)},
		{Type: vault.ClaimTypeAcquirer, Status: vault.ClaimPending, DistributionBatch: nil},
	}
	got := pendingAcquirerClaims(v, claims)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 matching claim, got %d: %+v", len(got), got)
	}
}

func TestRunNoPendingClaimsIsNoop(t *testing.T) {
	s := New(nil, nil, nil, nil, "preview", "addr", 200000, 20, 6)
	v := vault.Vault{CurrentBatch: 1}
	result, err := s.Run(context.Background(), v, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Claims) != 0 || result.StakeTxHash != nil {
		t.Fatalf("expected an empty result, got %+v", result)
	}
}

func TestRunDegradesEveryClaimToFailedWhenUtxosAreUnresolvable(t *testing.T) {
	s := New(nil, erroringUtxoProvider{}, nil, nil, "preview", "addr", 200000, 20, 6)
	v := vault.Vault{CurrentBatch: 1, StakeRegistered: true}
	claims := []vault.Claim{
		{Id: "c1", Type: vault.ClaimTypeAcquirer, Status: vault.ClaimPending, DistributionBatch: batchNo(1), TransactionId: "tx1"},
		{Id: "c2", Type: vault.ClaimTypeAcquirer, Status: vault.ClaimPending, DistributionBatch: batchNo(1), TransactionId: "tx2"},
	}
	txByID := map[string]vault.Transaction{
		"tx1": {Id: "tx1", TxHash: "hash1"},
		"tx2": {Id: "tx2", TxHash: "hash2"},
	}

	result, err := s.Run(context.Background(), v, claims, txByID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Claims) != 2 {
		t.Fatalf("expected both claims to come back settled (as failures), got %d", len(result.Claims))
	}
	for _, c := range result.Claims {
		if c.Status != vault.ClaimFailed {
			t.Fatalf("expected ClaimFailed, got %v for %s", c.Status, c.Id)
		}
		if c.FailureReason == nil || c.FailureReason.Reason != vault.FailureBuildFailure {
			t.Fatalf("expected a BuildFailure reason, got %+v", c.FailureReason)
		}
	}
	if result.StakeTxHash != nil {
		t.Fatalf("stake registration should not be reported on a run where every batch failed to build")
	}
}

// TestRunFailsClaimAsUtxoAlreadySpentWhenContributionUtxoIsConsumed
// exercises scenario S5 for ExtractStage: another transaction already
// spent the contribution UTxO a Pending acquirer claim would have
// settled. Run must mark it Failed{UtxoAlreadySpent, ConsumedByTx}
// rather than a generic BuildFailure (spec §7).
func TestRunFailsClaimAsUtxoAlreadySpentWhenContributionUtxoIsConsumed(t *testing.T) {
	s := New(nil, spentUtxoProvider{consumedByTx: "rogue-hash"}, nil, nil, "preview", "addr", 200000, 20, 6)
	v := vault.Vault{CurrentBatch: 1, StakeRegistered: true}
	claims := []vault.Claim{
		{Id: "c1", Type: vault.ClaimTypeAcquirer, Status: vault.ClaimPending, DistributionBatch: batchNo(1), TransactionId: "tx1"},
	}
	txByID := map[string]vault.Transaction{
		"tx1": {Id: "tx1", TxHash: "hash1"},
	}

	result, err := s.Run(context.Background(), v, claims, txByID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Claims) != 1 {
		t.Fatalf("expected exactly 1 claim in the result, got %d", len(result.Claims))
	}
	c := result.Claims[0]
	if c.Status != vault.ClaimFailed {
		t.Fatalf("expected ClaimFailed, got %v", c.Status)
	}
	if c.FailureReason == nil || c.FailureReason.Reason != vault.FailureUtxoAlreadySpent {
		t.Fatalf("expected a UtxoAlreadySpent reason, got %+v", c.FailureReason)
	}
	if c.FailureReason.ConsumedByTx != "rogue-hash" {
		t.Fatalf("expected ConsumedByTx to name the consuming tx, got %q", c.FailureReason.ConsumedByTx)
	}
}
