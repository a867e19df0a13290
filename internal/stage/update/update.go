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

// Package update implements UpdateStage (spec §4.6): submit the state-
// update transaction for a single batch, and, in manualMode, the
// operator-supplied tuple publish path. Grounded on the teacher's
// BuildReturnTx sequence (fluidtokens/tx.go), generalized from "return
// one NFT" to "republish the vault's multiplier/coin-distribution
// tables".
package update

import (
	"context"
	"fmt"

	"github.com/Salvionied/apollo/serialization/UTxO"

	"github.com/cardano-vaults/distengine/internal/batchsolver"
	"github.com/cardano-vaults/distengine/internal/chainclient"
	"github.com/cardano-vaults/distengine/internal/onchain"
	"github.com/cardano-vaults/distengine/internal/packer"
	"github.com/cardano-vaults/distengine/internal/sizeoracle"
	"github.com/cardano-vaults/distengine/internal/stage"
	"github.com/cardano-vaults/distengine/internal/utxoselect"
	"github.com/cardano-vaults/distengine/internal/vault"
)

// Stage submits UpdateStage transactions for one vault at a time.
type Stage struct {
	client            chainclient.BlockchainClient
	utxos             stage.UtxoProvider
	oracle            *sizeoracle.Oracle
	network           string
	adminAddress      string
	fee               uint64
	groupingThreshold int
}

// New builds an UpdateStage. adminAddress pays transaction fees and
// receives the change; fee is the engine's fixed exact fee (config.Engine.Fee).
func New(client chainclient.BlockchainClient, utxos stage.UtxoProvider, oracle *sizeoracle.Oracle, network, adminAddress string, fee uint64, groupingThreshold int) *Stage {
	return &Stage{
		client:            client,
		utxos:             utxos,
		oracle:            oracle,
		network:           network,
		adminAddress:      adminAddress,
		fee:               fee,
		groupingThreshold: groupingThreshold,
	}
}

// Result is what Submit returns: the vault row with the submitted
// transaction's prospective state stashed on Vault.PendingUpdate, not
// yet applied. The orchestrator only promotes PendingUpdate onto the
// vault's confirmed fields, and assigns its BatchedClaimIds a
// DistributionBatch, once chainwatch reports PendingUpdate.TxHash
// observed confirmed (spec §4.6 "on success (confirmed on-chain)",
// §5's ordering guarantee).
type Result struct {
	Vault vault.Vault
}

// Submit computes Calculator-output claims → MultiplierPacker →
// BatchSolver and submits the next feasible batch. claims must include
// every Contributor/Acquirer claim for the vault (assigned or not);
// txByID must map every claim's TransactionId to its Transaction.
func (s *Stage) Submit(ctx context.Context, v vault.Vault, claims []vault.Claim, txByID map[string]vault.Transaction) (Result, error) {
	unassigned := unassignedClaims(claims)
	if len(unassigned) == 0 {
		return Result{Vault: v}, nil
	}

	packed := packer.Pack(unassigned, txByID, s.groupingThreshold)
	if len(packed.Groups) == 0 {
		return Result{Vault: v}, nil
	}

	vaultUtxoRef := v.LastUpdateTxRef
	if vaultUtxoRef == nil {
		return Result{}, vault.NewError(vault.KindInputValidation, "vault has no lastUpdateTxRef to spend", nil)
	}
	vaultUtxo, err := s.utxos.Utxo(ctx, *vaultUtxoRef)
	if err != nil {
		return Result{}, vault.NewError(vault.KindBuildFailure, "fetch vault script utxo", err)
	}

	scriptAddr, err := chainclient.ScriptAddress(s.network, v.ScriptHash)
	if err != nil {
		return Result{}, err
	}

	solver := batchsolver.New(s.oracle, func(groups []packer.TransactionGroup) chainclient.Plan {
		trial := flattenBatch(groups)
		trialV := v
		trialV.OnChainMultipliers = append(append([]vault.MultiplierTuple{}, v.OnChainMultipliers...), trial.VtTuples...)
		trialV.OnChainCoinDistribution = append(append([]vault.MultiplierTuple{}, v.OnChainCoinDistribution...), trial.CoinTuples...)
		plan, _ := s.buildPlan(ctx, trialV, vaultUtxo, scriptAddr, trial, false)
		return plan
	})

	batches, err := solver.Solve(ctx, packed.Groups, v.ManualMode)
	if err != nil {
		return Result{}, err
	}
	batch := batches[0]

	// pendingV is the prospective next on-chain state, used only to build
	// the republished datum and to stash on PendingUpdate; it is never
	// returned as the vault's confirmed state (spec §4.6, §5).
	pendingV := v
	pendingV.OnChainMultipliers = append(append([]vault.MultiplierTuple{}, v.OnChainMultipliers...), batch.VtTuples...)
	pendingV.OnChainCoinDistribution = append(append([]vault.MultiplierTuple{}, v.OnChainCoinDistribution...), batch.CoinTuples...)

	plan, err := s.buildPlan(ctx, pendingV, vaultUtxo, scriptAddr, batch, false)
	if err != nil {
		return Result{}, err
	}

	built, err := s.client.Build(ctx, plan)
	if err != nil {
		return Result{}, vault.NewError(vault.KindBuildFailure, "build update transaction", err)
	}
	txHash, err := s.client.Submit(ctx, built.TxBytes)
	if err != nil {
		return Result{}, vault.NewError(vault.KindSubmitFailure, "submit update transaction", err)
	}

	batchedIds := coveredTransactionIds(batch)
	var batchedClaimIds []string
	for _, c := range unassigned {
		if !batchedIds[c.TransactionId] {
			continue
		}
		batchedClaimIds = append(batchedClaimIds, c.Id)
	}

	newV := v
	newV.PendingUpdate = &vault.PendingUpdateState{
		TxHash:                  txHash,
		LastUpdateTxRef:         vault.TxRef{TxHash: txHash, OutputIndex: 0},
		OnChainMultipliers:      pendingV.OnChainMultipliers,
		OnChainCoinDistribution: pendingV.OnChainCoinDistribution,
		CurrentBatch:            v.CurrentBatch + 1,
		TotalBatches:            v.CurrentBatch + uint32(len(batches)),
		BatchedClaimIds:         batchedClaimIds,
	}

	return Result{Vault: newV}, nil
}

// SubmitManual publishes an operator-supplied tuple list directly,
// bypassing Calculator/MultiplierPacker/BatchSolver entirely (spec
// §4.6's manualMode policy, internal/admin.SubmitBatchManual). When
// replaceExisting is set, onChainMultipliers/onChainCoinDistribution are
// overwritten rather than appended; pending entries are left untouched
// either way.
func (s *Stage) SubmitManual(ctx context.Context, v vault.Vault, vtTuples, coinTuples []vault.MultiplierTuple, replaceExisting bool) (vault.Vault, error) {
	vaultUtxoRef := v.LastUpdateTxRef
	if vaultUtxoRef == nil {
		return vault.Vault{}, vault.NewError(vault.KindInputValidation, "vault has no lastUpdateTxRef to spend", nil)
	}
	vaultUtxo, err := s.utxos.Utxo(ctx, *vaultUtxoRef)
	if err != nil {
		return vault.Vault{}, vault.NewError(vault.KindBuildFailure, "fetch vault script utxo", err)
	}
	scriptAddr, err := chainclient.ScriptAddress(s.network, v.ScriptHash)
	if err != nil {
		return vault.Vault{}, err
	}

	pendingV := v
	if replaceExisting {
		pendingV.OnChainMultipliers = vtTuples
		pendingV.OnChainCoinDistribution = coinTuples
	} else {
		pendingV.OnChainMultipliers = append(append([]vault.MultiplierTuple{}, v.OnChainMultipliers...), vtTuples...)
		pendingV.OnChainCoinDistribution = append(append([]vault.MultiplierTuple{}, v.OnChainCoinDistribution...), coinTuples...)
	}

	plan, err := s.buildPlan(ctx, pendingV, vaultUtxo, scriptAddr, batchsolver.Batch{VtTuples: vtTuples, CoinTuples: coinTuples}, true)
	if err != nil {
		return vault.Vault{}, err
	}
	built, err := s.client.Build(ctx, plan)
	if err != nil {
		return vault.Vault{}, vault.NewError(vault.KindBuildFailure, "build manual update transaction", err)
	}
	txHash, err := s.client.Submit(ctx, built.TxBytes)
	if err != nil {
		return vault.Vault{}, vault.NewError(vault.KindSubmitFailure, "submit manual update transaction", err)
	}

	newV := v
	newV.PendingUpdate = &vault.PendingUpdateState{
		TxHash:                  txHash,
		LastUpdateTxRef:         vault.TxRef{TxHash: txHash, OutputIndex: 0},
		OnChainMultipliers:      pendingV.OnChainMultipliers,
		OnChainCoinDistribution: pendingV.OnChainCoinDistribution,
		CurrentBatch:            v.CurrentBatch + 1,
		TotalBatches:            v.TotalBatches,
	}
	return newV, nil
}

// buildPlan assembles the Plan that spends the vault's datum-bearing
// UTxO with UpdateRedeemer and re-pays it to the same script address
// carrying its existing value plus a datum republished with v's current
// on-chain tables. A small wallet-UTxO top-up covers the fixed fee.
func (s *Stage) buildPlan(ctx context.Context, v vault.Vault, vaultUtxo UTxO.UTxO, scriptAddr string, _ batchsolver.Batch, _ bool) (chainclient.Plan, error) {
	walletUtxos, err := s.utxos.WalletUtxos(ctx, s.adminAddress)
	if err != nil {
		return chainclient.Plan{}, fmt.Errorf("update: list wallet utxos: %w", err)
	}
	feeInputs, err := utxoselect.Select(walletUtxos, s.fee, nil, nil)
	if err != nil {
		return chainclient.Plan{}, err
	}

	slot, err := s.client.CurrentSlot(ctx)
	if err != nil {
		return chainclient.Plan{}, fmt.Errorf("update: current slot: %w", err)
	}

	inputs := []chainclient.Input{{Utxo: vaultUtxo, Redeemer: onchain.UpdateRedeemer()}}
	for _, u := range feeInputs {
		inputs = append(inputs, chainclient.Input{Utxo: u})
	}

	return chainclient.Plan{
		Inputs: inputs,
		Outputs: []chainclient.Output{{
			Address:  scriptAddr,
			Lovelace: chainclient.Lovelace(vaultUtxo),
			Units:    chainclient.AssetUnits(vaultUtxo),
			Datum:    onchain.VaultDatum(v),
		}},
		LoadedUtxos:   walletUtxos,
		ChangeAddress: s.adminAddress,
		TtlSlot:       slot + 1200,
		Fee:           s.fee,
	}, nil
}

func unassignedClaims(claims []vault.Claim) []vault.Claim {
	var out []vault.Claim
	for _, c := range claims {
		if c.Type != vault.ClaimTypeContributor && c.Type != vault.ClaimTypeAcquirer {
			continue
		}
		if c.DistributionBatch != nil {
			continue
		}
		if c.Status != vault.ClaimPending {
			continue
		}
		out = append(out, c)
	}
	return out
}

func coveredTransactionIds(batch batchsolver.Batch) map[string]bool {
	out := map[string]bool{}
	for _, g := range batch.Groups {
		for _, id := range g.TransactionIds {
			out[id] = true
		}
	}
	return out
}

func flattenBatch(groups []packer.TransactionGroup) batchsolver.Batch {
	b := batchsolver.Batch{Groups: groups}
	for _, g := range groups {
		b.VtTuples = append(b.VtTuples, g.VtTuples...)
		b.CoinTuples = append(b.CoinTuples, g.CoinTuples...)
	}
	return b
}
