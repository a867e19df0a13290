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

package admin

import (
	"testing"
	"time"

	"github.com/cardano-vaults/distengine/internal/store"
	"github.com/cardano-vaults/distengine/internal/vault"
)

func openTestStore(t *testing.T) *store.BadgerStore {
	t.Helper()
	s, err := store.Open(t.TempDir(), nil, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnableManualMode(t *testing.T) {
	st := openTestStore(t)
	if err := st.SaveVault(vault.Vault{Id: "v1"}); err != nil {
		t.Fatalf("save vault: %v", err)
	}
	a := New(st, nil, time.Hour)

	if err := a.EnableManualMode("v1", "oracle outage"); err != nil {
		t.Fatalf("enable manual mode: %v", err)
	}

	got, ok, err := st.LoadVault("v1")
	if err != nil || !ok {
		t.Fatalf("load vault: ok=%v err=%v", ok, err)
	}
	if !got.ManualMode || got.ManualModeReason != "oracle outage" {
		t.Fatalf("expected manual mode enabled with reason recorded, got %+v", got)
	}
}

func TestEnableManualModeUnknownVault(t *testing.T) {
	st := openTestStore(t)
	a := New(st, nil, time.Hour)

	err := a.EnableManualMode("missing", "")
	if err == nil {
		t.Fatal("expected error for unknown vault")
	}
}

func TestProcessClaimsRequeuesFailedOnly(t *testing.T) {
	st := openTestStore(t)
	claims := []vault.Claim{
		{Id: "c1", VaultId: "v1", Status: vault.ClaimFailed, FailureReason: &vault.ClaimFailure{Reason: vault.FailureBuildFailure}},
		{Id: "c2", VaultId: "v1", Status: vault.ClaimClaimed},
	}
	for _, c := range claims {
		if err := st.SaveClaim(c); err != nil {
			t.Fatalf("save claim: %v", err)
		}
	}
	a := New(st, nil, time.Hour)

	if err := a.ProcessClaims([]string{"c1", "c2", "missing"}); err != nil {
		t.Fatalf("process claims: %v", err)
	}

	got1, _, _ := st.LoadClaim("c1")
	if got1.Status != vault.ClaimPending || got1.FailureReason != nil {
		t.Fatalf("expected c1 requeued to Pending with failure cleared, got %+v", got1)
	}
	got2, _, _ := st.LoadClaim("c2")
	if got2.Status != vault.ClaimClaimed {
		t.Fatalf("expected c2 (already Claimed) untouched, got %+v", got2)
	}
}

func TestStatusCountsByClaimStatus(t *testing.T) {
	st := openTestStore(t)
	if err := st.SaveVault(vault.Vault{Id: "v1"}); err != nil {
		t.Fatalf("save vault: %v", err)
	}
	claims := []vault.Claim{
		{Id: "c1", VaultId: "v1", Status: vault.ClaimPending},
		{Id: "c2", VaultId: "v1", Status: vault.ClaimClaimed},
		{Id: "c3", VaultId: "v1", Status: vault.ClaimFailed},
		{Id: "c4", VaultId: "v1", Status: vault.ClaimFailed},
	}
	for _, c := range claims {
		if err := st.SaveClaim(c); err != nil {
			t.Fatalf("save claim: %v", err)
		}
	}
	a := New(st, nil, time.Hour)

	got, err := a.Status("v1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.PendingClaims != 1 || got.ClaimedClaims != 1 || got.FailedClaims != 2 {
		t.Fatalf("unexpected status counts: %+v", got)
	}
	if len(got.FailedClaimIds) != 2 {
		t.Fatalf("expected 2 failed claim ids, got %v", got.FailedClaimIds)
	}
}

func TestListStuckVaults(t *testing.T) {
	st := openTestStore(t)
	stale := time.Now().Add(-2 * time.Hour)
	fresh := time.Now().Add(-time.Minute)

	vaults := []vault.Vault{
		{Id: "stuck", DistributionInProgress: true, DistributionStartedAt: &stale},
		{Id: "fresh", DistributionInProgress: true, DistributionStartedAt: &fresh},
		{Id: "idle", DistributionInProgress: false},
	}
	for _, v := range vaults {
		if err := st.SaveVault(v); err != nil {
			t.Fatalf("save vault: %v", err)
		}
	}
	a := New(st, nil, time.Hour)

	got, err := a.ListStuckVaults(time.Now())
	if err != nil {
		t.Fatalf("list stuck vaults: %v", err)
	}
	if len(got) != 1 || got[0].VaultId != "stuck" {
		t.Fatalf("expected only the stale vault reported, got %+v", got)
	}
}

func TestForceResetClearsInProgressOnly(t *testing.T) {
	st := openTestStore(t)
	batch := uint32(3)
	if err := st.SaveVault(vault.Vault{Id: "v1", DistributionInProgress: true, CurrentBatch: batch}); err != nil {
		t.Fatalf("save vault: %v", err)
	}
	a := New(st, nil, time.Hour)

	if err := a.ForceReset("v1"); err != nil {
		t.Fatalf("force reset: %v", err)
	}

	got, ok, err := st.LoadVault("v1")
	if err != nil || !ok {
		t.Fatalf("load vault: ok=%v err=%v", ok, err)
	}
	if got.DistributionInProgress {
		t.Fatalf("expected distributionInProgress cleared")
	}
	if got.CurrentBatch != batch {
		t.Fatalf("expected CurrentBatch left untouched, got %d", got.CurrentBatch)
	}
}
