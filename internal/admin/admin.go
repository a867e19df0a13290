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

// Package admin implements the operator-facing behaviors spec §6 names
// as the engine's entire admin surface: enableManualMode,
// submitBatchManual, processClaims, status, plus the stuck-vault
// recovery backstop spec §7 describes ("eligible for manual recovery but
// not auto-reset by the core"). The teacher has no equivalent admin
// surface at all (a fire-and-forget indexer daemon); this package is
// net-new, grounded directly on spec.md §6/§7.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/cardano-vaults/distengine/internal/stage/update"
	"github.com/cardano-vaults/distengine/internal/store"
	"github.com/cardano-vaults/distengine/internal/vault"
)

// Admin wraps the store with the operator-facing operations.
type Admin struct {
	store         store.Store
	update        *update.Stage
	stuckVaultAge time.Duration
}

// New builds an Admin surface.
func New(st store.Store, updateStage *update.Stage, stuckVaultAge time.Duration) *Admin {
	return &Admin{store: st, update: updateStage, stuckVaultAge: stuckVaultAge}
}

// EnableManualMode switches a vault to operator-driven batch submission,
// bypassing Calculator/MultiplierPacker/BatchSolver (spec §4.6 policy).
// reason is recorded for the status surface; it may be empty.
func (a *Admin) EnableManualMode(vaultId, reason string) error {
	v, ok, err := a.store.LoadVault(vaultId)
	if err != nil {
		return fmt.Errorf("admin: load vault: %w", err)
	}
	if !ok {
		return vault.NewError(vault.KindInputValidation, "unknown vault: "+vaultId, nil)
	}
	v.ManualMode = true
	v.ManualModeReason = reason
	return a.store.SaveVault(v)
}

// SubmitBatchManual publishes an operator-supplied tuple list directly
// (spec §6 submitBatchManual), via UpdateStage.SubmitManual.
func (a *Admin) SubmitBatchManual(ctx context.Context, vaultId string, multipliers, coinDistribution []vault.MultiplierTuple, replaceExisting bool) error {
	v, ok, err := a.store.LoadVault(vaultId)
	if err != nil {
		return fmt.Errorf("admin: load vault: %w", err)
	}
	if !ok {
		return vault.NewError(vault.KindInputValidation, "unknown vault: "+vaultId, nil)
	}
	newV, err := a.update.SubmitManual(ctx, v, multipliers, coinDistribution, replaceExisting)
	if err != nil {
		return err
	}
	return a.store.SaveVault(newV)
}

// ProcessClaims requeues named Failed claims to Pending so the next tick
// retries them, clearing their failure detail (spec §6 processClaims).
// Claims not currently Failed are left untouched.
func (a *Admin) ProcessClaims(claimIds []string) error {
	for _, id := range claimIds {
		c, ok, err := a.store.LoadClaim(id)
		if err != nil {
			return fmt.Errorf("admin: load claim %s: %w", id, err)
		}
		if !ok || c.Status != vault.ClaimFailed {
			continue
		}
		c.Status = vault.ClaimPending
		c.FailureReason = nil
		if err := a.store.SaveClaim(c); err != nil {
			return fmt.Errorf("admin: save claim %s: %w", id, err)
		}
	}
	return nil
}

// Status is the operator-facing snapshot spec §6's status(vaultId)
// returns: the vault row plus its claims counted by status (Available
// claims count as pending).
type Status struct {
	Vault          vault.Vault
	PendingClaims  int
	ClaimedClaims  int
	FailedClaims   int
	FailedClaimIds []string
}

// Status reports one vault's distribution progress.
func (a *Admin) Status(vaultId string) (Status, error) {
	v, ok, err := a.store.LoadVault(vaultId)
	if err != nil {
		return Status{}, fmt.Errorf("admin: load vault: %w", err)
	}
	if !ok {
		return Status{}, vault.NewError(vault.KindInputValidation, "unknown vault: "+vaultId, nil)
	}
	claims, err := a.store.ListClaimsByVault(vaultId)
	if err != nil {
		return Status{}, fmt.Errorf("admin: list claims: %w", err)
	}

	st := Status{Vault: v}
	for _, c := range claims {
		switch c.Status {
		case vault.ClaimPending, vault.ClaimAvailable:
			st.PendingClaims++
		case vault.ClaimClaimed:
			st.ClaimedClaims++
		case vault.ClaimFailed:
			st.FailedClaims++
			st.FailedClaimIds = append(st.FailedClaimIds, c.Id)
		}
	}
	return st, nil
}

// StuckVault names one vault eligible for manual recovery (spec §7: age
// > StuckVaultAge while distributionInProgress).
type StuckVault struct {
	VaultId string
	Since   time.Time
}

// ListStuckVaults reports every vault whose distribution has been in
// progress longer than the configured StuckVaultAge. Spec §7 is explicit
// that this is informational only — the core never auto-resets a stuck
// vault; an operator must call ForceReset.
func (a *Admin) ListStuckVaults(now time.Time) ([]StuckVault, error) {
	vaults, err := a.store.ListVaults()
	if err != nil {
		return nil, fmt.Errorf("admin: list vaults: %w", err)
	}
	var out []StuckVault
	for _, v := range vaults {
		if !v.DistributionInProgress || v.DistributionStartedAt == nil {
			continue
		}
		if now.Sub(*v.DistributionStartedAt) > a.stuckVaultAge {
			out = append(out, StuckVault{VaultId: v.Id, Since: *v.DistributionStartedAt})
		}
	}
	return out, nil
}

// ForceReset clears a stuck vault's distributionInProgress flag so the
// orchestrator's next tick resumes work on it (spec §7's "explicit
// operator action"). It never touches CurrentBatch or claims: work
// already batched and in flight is picked back up, not restarted.
func (a *Admin) ForceReset(vaultId string) error {
	v, ok, err := a.store.LoadVault(vaultId)
	if err != nil {
		return fmt.Errorf("admin: load vault: %w", err)
	}
	if !ok {
		return vault.NewError(vault.KindInputValidation, "unknown vault: "+vaultId, nil)
	}
	v.DistributionInProgress = false
	return a.store.SaveVault(v)
}
