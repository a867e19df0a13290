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

// Package orchestrator drives the per-vault distribution state machine
// (spec §4.9) on a periodic tick, grounded on the teacher's
// internal/fluidtokens/fluidtokens.go (checkTicker/stopChan/
// processExpiredRentals shape) and internal/oracle/oracle.go
// (Start/Stop/event-handler registration shape).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardano-vaults/distengine/internal/calculator"
	"github.com/cardano-vaults/distengine/internal/logging"
	"github.com/cardano-vaults/distengine/internal/priceoracle"
	"github.com/cardano-vaults/distengine/internal/stage/extract"
	"github.com/cardano-vaults/distengine/internal/stage/pay"
	"github.com/cardano-vaults/distengine/internal/stage/update"
	"github.com/cardano-vaults/distengine/internal/store"
	"github.com/cardano-vaults/distengine/internal/vault"
)

// ConfirmationChecker reports whether a submitted transaction has been
// observed on-chain, letting the orchestrator promote write-ahead state
// (Vault.PendingUpdate/PendingStakeTx, Available claims) to confirmed
// only once chainwatch has actually seen it land (spec §4.8's Created/
// Submitted/Confirmed lifecycle, §5's ordering guarantee). Satisfied by
// *chainwatch.Watcher.
type ConfirmationChecker interface {
	ConfirmationDepth(txHash string) (uint64, bool)
}

// Orchestrator owns the periodic tick and the three stages it drives.
type Orchestrator struct {
	store        store.Store
	update       *update.Stage
	extract      *extract.Stage
	pay          *pay.Stage
	prices       priceoracle.PriceOracle
	confirm      ConfirmationChecker
	coinDecimals uint8

	ticker *time.Ticker
	stop   chan struct{}

	ticking  atomic.Bool
	vaultMus sync.Map // vaultId -> *sync.Mutex
}

// New builds an Orchestrator around the three stage implementations and
// the store they all share. prices may be nil, in which case
// startDistribution trusts whatever FloorPrice/DexPrice a transaction's
// assets already carry (set at ingestion time). confirm may be nil in
// tests that never submit a settlement, in which case reconcileSettlements
// is a no-op.
func New(st store.Store, updateStage *update.Stage, extractStage *extract.Stage, payStage *pay.Stage, prices priceoracle.PriceOracle, confirm ConfirmationChecker, coinDecimals uint8) *Orchestrator {
	return &Orchestrator{
		store:        st,
		update:       updateStage,
		extract:      extractStage,
		pay:          payStage,
		prices:       prices,
		confirm:      confirm,
		coinDecimals: coinDecimals,
		stop:         make(chan struct{}),
	}
}

// Start begins the periodic tick loop at the given interval (spec §4.9:
// "e.g., every 15 minutes"), grounded on the teacher's checkExpiredRentals
// select loop.
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) {
	o.ticker = time.NewTicker(interval)
	go o.loop(ctx)
}

// Stop halts the tick loop. Idempotent.
func (o *Orchestrator) Stop() {
	if o.ticker != nil {
		o.ticker.Stop()
	}
	select {
	case <-o.stop:
	default:
		close(o.stop)
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	for {
		select {
		case <-o.ticker.C:
			o.tick(ctx)
		case <-o.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one pass over every vault, under the process-wide
// single-flight guard spec §4.9/§5 requires ("a process-wide flag
// prevents overlapping ticks").
func (o *Orchestrator) tick(ctx context.Context) {
	if !o.ticking.CompareAndSwap(false, true) {
		return
	}
	defer o.ticking.Store(false)

	logger := logging.GetLogger()
	vaults, err := o.store.ListVaults()
	if err != nil {
		logger.Errorf("orchestrator: list vaults: %v", err)
		return
	}

	for _, v := range vaults {
		if err := o.tickVault(ctx, v.Id); err != nil {
			logger.Errorf("orchestrator: tick vault %s: %v", v.Id, err)
		}
	}
}

// vaultLock returns the per-vault mutex spec §4.9/§5 requires ("a
// per-vault lock prevents concurrent stage work").
func (o *Orchestrator) vaultLock(vaultId string) *sync.Mutex {
	mu, _ := o.vaultMus.LoadOrStore(vaultId, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// tickVault runs the five-step tick body (spec §4.9) for one vault.
func (o *Orchestrator) tickVault(ctx context.Context, vaultId string) error {
	mu := o.vaultLock(vaultId)
	mu.Lock()
	defer mu.Unlock()

	v, ok, err := o.store.LoadVault(vaultId)
	if err != nil {
		return fmt.Errorf("load vault: %w", err)
	}
	if !ok {
		return nil
	}

	// Step 0: promote any write-ahead state chainwatch has since observed
	// confirmed, before anything else runs (manual-mode vaults' pending
	// updates reconcile here too).
	v, err = o.reconcileSettlements(v)
	if err != nil {
		return fmt.Errorf("reconcile settlements: %w", err)
	}

	// Step 1: manualMode vaults skip straight to finalization checks.
	if v.ManualMode {
		return o.maybeFinalize(ctx, v)
	}

	// Step 2: kick off distribution for a freshly-Locked vault. CurrentBatch
	// == 0 guards against re-running Calculate after an admin ForceReset
	// clears distributionInProgress mid-flight (distributionInProgress
	// alone isn't a safe guard there, since that's exactly the flag being
	// cleared).
	if v.Status == vault.StatusLocked && v.LastUpdateTxRef != nil && !v.DistributionProcessed && !v.DistributionInProgress && v.CurrentBatch == 0 {
		if err := o.startDistribution(ctx, v); err != nil {
			return err
		}
		return nil
	}

	if !v.DistributionInProgress {
		return nil
	}

	// Step 3: settle pending acquirer claims of the current batch.
	claims, txByID, err := o.loadClaimsAndTxs(vaultId)
	if err != nil {
		return err
	}
	extractResult, err := o.extract.Run(ctx, v, claims, txByID)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	for _, c := range extractResult.Claims {
		if err := o.store.SaveClaim(c); err != nil {
			return fmt.Errorf("save claim %s: %w", c.Id, err)
		}
	}
	if extractResult.StakeTxHash != nil {
		v.PendingStakeTx = extractResult.StakeTxHash
		if err := o.store.SaveVault(v); err != nil {
			return fmt.Errorf("save vault: %w", err)
		}
	}

	// Step 4: settle contributor claims once every acquirer claim of the
	// current batch is Claimed (pay.Run checks this itself and is a
	// no-op otherwise).
	claims, txByID, err = o.loadClaimsAndTxs(vaultId)
	if err != nil {
		return err
	}
	payResult, err := o.pay.Run(ctx, v, claims, txByID)
	if err != nil {
		return fmt.Errorf("pay: %w", err)
	}
	for _, c := range payResult.Claims {
		if err := o.store.SaveClaim(c); err != nil {
			return fmt.Errorf("save claim %s: %w", c.Id, err)
		}
	}

	// Step 5: finalize, or submit the next batch.
	return o.maybeFinalize(ctx, v)
}

// reconcileSettlements promotes any write-ahead state chainwatch has
// since observed confirmed onto the vault's confirmed fields and its
// claims: an outstanding PendingUpdate (applying its prospective state
// and assigning DistributionBatch to its BatchedClaimIds), an
// outstanding PendingStakeTx (flipping StakeRegistered), and any
// Available claim whose DistributionTxId has confirmed (promoting it to
// Claimed). No-op when confirm is nil or nothing is pending (spec
// §4.8's Created/Submitted/Confirmed lifecycle, §5's ordering
// guarantee).
func (o *Orchestrator) reconcileSettlements(v vault.Vault) (vault.Vault, error) {
	if o.confirm == nil {
		return v, nil
	}

	if v.PendingUpdate != nil {
		if _, ok := o.confirm.ConfirmationDepth(v.PendingUpdate.TxHash); ok {
			pu := v.PendingUpdate
			v.LastUpdateTxRef = &pu.LastUpdateTxRef
			v.OnChainMultipliers = pu.OnChainMultipliers
			v.OnChainCoinDistribution = pu.OnChainCoinDistribution
			v.CurrentBatch = pu.CurrentBatch
			v.TotalBatches = pu.TotalBatches
			v.PendingUpdate = nil

			batchNo := v.CurrentBatch
			for _, claimId := range pu.BatchedClaimIds {
				claim, ok, err := o.store.LoadClaim(claimId)
				if err != nil {
					return v, fmt.Errorf("load claim %s: %w", claimId, err)
				}
				if !ok {
					continue
				}
				claim.DistributionBatch = &batchNo
				if err := o.store.SaveClaim(claim); err != nil {
					return v, fmt.Errorf("save claim %s: %w", claim.Id, err)
				}
			}
			if err := o.store.SaveVault(v); err != nil {
				return v, fmt.Errorf("save vault: %w", err)
			}
		}
	}

	if v.PendingStakeTx != nil {
		if _, ok := o.confirm.ConfirmationDepth(*v.PendingStakeTx); ok {
			v.StakeRegistered = true
			v.PendingStakeTx = nil
			if err := o.store.SaveVault(v); err != nil {
				return v, fmt.Errorf("save vault: %w", err)
			}
		}
	}

	claims, err := o.store.ListClaimsByVault(v.Id)
	if err != nil {
		return v, fmt.Errorf("list claims: %w", err)
	}
	for _, c := range claims {
		if c.Status != vault.ClaimAvailable || c.DistributionTxId == nil {
			continue
		}
		if _, ok := o.confirm.ConfirmationDepth(*c.DistributionTxId); !ok {
			continue
		}
		c.Status = vault.ClaimClaimed
		if err := o.store.SaveClaim(c); err != nil {
			return v, fmt.Errorf("save claim %s: %w", c.Id, err)
		}
	}

	return v, nil
}

// startDistribution runs Calculator -> MultiplierPacker -> BatchSolver
// and submits batch 1 via UpdateStage (spec §4.9 step 2).
func (o *Orchestrator) startDistribution(ctx context.Context, v vault.Vault) error {
	contributions, err := o.store.ListTransactionsByVault(v.Id, vault.TxTypeContribute)
	if err != nil {
		return fmt.Errorf("list contributions: %w", err)
	}
	acquisitions, err := o.store.ListTransactionsByVault(v.Id, vault.TxTypeAcquire)
	if err != nil {
		return fmt.Errorf("list acquisitions: %w", err)
	}
	contributions = confirmedOnly(contributions)
	acquisitions = confirmedOnly(acquisitions)
	if err := o.refreshPrices(contributions); err != nil {
		return fmt.Errorf("refresh prices: %w", err)
	}

	result := calculator.Calculate(calculator.Inputs{
		Vault:         v,
		CoinDecimals:  o.coinDecimals,
		Contributions: contributions,
		Acquisitions:  acquisitions,
	})
	if !result.ThresholdMet {
		v.Status = vault.StatusFailed
		return o.store.SaveVault(v)
	}

	v.CoinPairMultiplier = result.CoinPairMultiplier
	claims := assignClaimIds(v.Id, result.Claims)
	for _, c := range claims {
		if err := o.store.SaveClaim(c); err != nil {
			return fmt.Errorf("save claim %s: %w", c.Id, err)
		}
	}

	txByID := map[string]vault.Transaction{}
	for _, tx := range contributions {
		txByID[tx.Id] = tx
	}
	for _, tx := range acquisitions {
		txByID[tx.Id] = tx
	}

	v.DistributionInProgress = true
	updRes, err := o.update.Submit(ctx, v, claims, txByID)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	// updRes.Vault.PendingUpdate carries the submitted batch's claim
	// assignment and state; reconcileSettlements applies both once
	// chainwatch observes the transaction confirmed (spec §5).
	return o.store.SaveVault(updRes.Vault)
}

// maybeFinalize applies spec §4.9 step 5: finalize once every current-
// batch claim is Claimed and no claim remains unassigned to a batch;
// otherwise, if the current batch is complete but unassigned claims
// remain, submit the next batch.
func (o *Orchestrator) maybeFinalize(ctx context.Context, v vault.Vault) error {
	// An Update transaction is already outstanding and unconfirmed:
	// submitting another now would double-spend the same datum-bearing
	// UTxO before the prior spend is even observed. Wait for
	// reconcileSettlements to clear it on a later tick.
	if v.PendingUpdate != nil {
		return nil
	}

	claims, txByID, err := o.loadClaimsAndTxs(v.Id)
	if err != nil {
		return err
	}

	if hasUnsettledCurrentBatch(v, claims) {
		return nil
	}

	if !hasUnassigned(claims) {
		v.DistributionProcessed = true
		v.DistributionInProgress = false
		return o.store.SaveVault(v)
	}

	updRes, err := o.update.Submit(ctx, v, claims, txByID)
	if err != nil {
		return fmt.Errorf("update (next batch): %w", err)
	}
	return o.store.SaveVault(updRes.Vault)
}

func (o *Orchestrator) loadClaimsAndTxs(vaultId string) ([]vault.Claim, map[string]vault.Transaction, error) {
	claims, err := o.store.ListClaimsByVault(vaultId)
	if err != nil {
		return nil, nil, fmt.Errorf("list claims: %w", err)
	}
	txs, err := o.store.ListTransactionsByVault(vaultId)
	if err != nil {
		return nil, nil, fmt.Errorf("list transactions: %w", err)
	}
	txByID := make(map[string]vault.Transaction, len(txs))
	for _, tx := range txs {
		txByID[tx.Id] = tx
	}
	return claims, txByID, nil
}

// refreshPrices stamps each contribution asset's FloorPrice with the
// PriceOracle's current quote before Calculate runs, so Asset.Price()'s
// floorPrice||dexPrice||0 fallback (spec §4.2) sees a fresh number
// rather than whatever was last observed at ingestion time.
func (o *Orchestrator) refreshPrices(contributions []vault.Transaction) error {
	if o.prices == nil {
		return nil
	}
	for i, tx := range contributions {
		changed := false
		for j, a := range tx.Assets {
			price, ok := o.prices.PriceOf(a.PolicyId, a.AssetId)
			if !ok {
				continue
			}
			tx.Assets[j].FloorPrice = &price
			changed = true
		}
		if !changed {
			continue
		}
		contributions[i] = tx
		if err := o.store.SaveTransaction(tx); err != nil {
			return fmt.Errorf("save transaction %s: %w", tx.Id, err)
		}
	}
	return nil
}

func confirmedOnly(txs []vault.Transaction) []vault.Transaction {
	var out []vault.Transaction
	for _, tx := range txs {
		if tx.Status == vault.TxStatusConfirmed {
			out = append(out, tx)
		}
	}
	return out
}

// assignClaimIds stamps a deterministic Id onto every freshly-computed
// Calculator claim: vaultId + transactionId + claim type, so reruns
// before the first save are idempotent (no random/clock source, per the
// engine's no-wallclock-ids convention).
func assignClaimIds(vaultId string, claims []vault.Claim) []vault.Claim {
	out := make([]vault.Claim, len(claims))
	for i, c := range claims {
		c.VaultId = vaultId
		c.Id = fmt.Sprintf("%s:%s:%s", vaultId, c.TransactionId, c.Type)
		out[i] = c
	}
	return out
}

func hasUnassigned(claims []vault.Claim) bool {
	for _, c := range claims {
		if c.Type != vault.ClaimTypeContributor && c.Type != vault.ClaimTypeAcquirer {
			continue
		}
		if c.DistributionBatch == nil {
			return true
		}
	}
	return false
}

func hasUnsettledCurrentBatch(v vault.Vault, claims []vault.Claim) bool {
	for _, c := range claims {
		if c.Type != vault.ClaimTypeContributor && c.Type != vault.ClaimTypeAcquirer {
			continue
		}
		if c.DistributionBatch == nil || *c.DistributionBatch != v.CurrentBatch {
			continue
		}
		if c.Status != vault.ClaimClaimed {
			return true
		}
	}
	return false
}
