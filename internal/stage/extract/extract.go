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

// Package extract implements ExtractStage (spec §4.7): move every
// confirmed Acquire transaction's coin for the current batch into the
// dispatch script and mint the acquirer's VT, registering the dispatch
// script's stake credential on the vault's very first Extract. Grounded
// on the teacher's BuildReturnTx sequence (fluidtokens/tx.go),
// generalized from "one NFT back to its owner" to "N claims settled in
// one transaction, greedily batched".
package extract

import (
	"context"
	"fmt"

	"github.com/Salvionied/apollo"

	"github.com/cardano-vaults/distengine/internal/arith"
	"github.com/cardano-vaults/distengine/internal/chainclient"
	"github.com/cardano-vaults/distengine/internal/onchain"
	"github.com/cardano-vaults/distengine/internal/sizeoracle"
	"github.com/cardano-vaults/distengine/internal/stage"
	"github.com/cardano-vaults/distengine/internal/utxoselect"
	"github.com/cardano-vaults/distengine/internal/vault"
)

// Stage submits ExtractStage transactions for one vault's current batch.
type Stage struct {
	client           chainclient.BlockchainClient
	utxos            stage.UtxoProvider
	txs              stage.TransactionRecorder
	oracle           *sizeoracle.Oracle
	network          string
	adminAddress     string
	fee              uint64
	maxAcquirerBatch int
	coinDecimals     uint8
}

// New builds an ExtractStage. txs records the write-ahead
// Created->Submitted lifecycle of each settlement transaction (spec
// §4.8); it may be nil in tests that don't exercise persistence.
func New(client chainclient.BlockchainClient, utxos stage.UtxoProvider, txs stage.TransactionRecorder, oracle *sizeoracle.Oracle, network, adminAddress string, fee uint64, maxAcquirerBatch int, coinDecimals uint8) *Stage {
	if maxAcquirerBatch <= 0 {
		maxAcquirerBatch = 20
	}
	return &Stage{
		client:           client,
		utxos:            utxos,
		txs:              txs,
		oracle:           oracle,
		network:          network,
		adminAddress:     adminAddress,
		fee:              fee,
		maxAcquirerBatch: maxAcquirerBatch,
		coinDecimals:     coinDecimals,
	}
}

// Result reports every claim Run touched (Claimed, Available or Failed)
// and, if this run submitted the vault's one-time dispatch-stake
// registration, the tx hash to await confirmation on before
// Vault.StakeRegistered flips true (spec §4.7, §5's ordering guarantee).
type Result struct {
	Claims      []vault.Claim
	StakeTxHash *string
}

// Run settles every Pending Acquirer claim belonging to the vault's
// current batch, in greedily-sized transactions. claims must be
// pre-filtered to this vault; txByID must map every claim's
// TransactionId to its Transaction (CoinAmount populated).
func (s *Stage) Run(ctx context.Context, v vault.Vault, claims []vault.Claim, txByID map[string]vault.Transaction) (Result, error) {
	pending := pendingAcquirerClaims(v, claims)
	if len(pending) == 0 {
		return Result{}, nil
	}

	result := Result{}
	spendable, alreadySpent := s.splitAlreadySpent(pending, txByID)
	result.Claims = append(result.Claims, alreadySpent...)
	pending = spendable

	registerStake := !v.StakeRegistered && v.PendingStakeTx == nil

	size := s.maxAcquirerBatch
	if size > len(pending) {
		size = len(pending)
	}
	for len(pending) > 0 {
		if size > len(pending) {
			size = len(pending)
		}

		settled, stakeTxHash, ok := s.settleBatch(ctx, v, pending[:size], txByID, registerStake)
		if ok {
			result.Claims = append(result.Claims, settled...)
			if registerStake {
				result.StakeTxHash = stakeTxHash
				registerStake = false
			}
			pending = pending[size:]
			size = s.maxAcquirerBatch
			continue
		}

		if size == 1 {
			c := pending[0]
			c.Status = vault.ClaimFailed
			c.FailureReason = &vault.ClaimFailure{Reason: vault.FailureBuildFailure, LastError: "extract: persistent single-claim build failure"}
			result.Claims = append(result.Claims, c)
			pending = pending[1:]
			size = s.maxAcquirerBatch
			continue
		}

		// Size overflow or a transient build error: halve and retry
		// against the same pending prefix, never touching claim status
		// (spec §4.7 "on size overflow, halve and retry").
		size = (size + 1) / 2
	}

	return result, nil
}

// saveTx persists a settlement transaction's lifecycle row if a
// TransactionRecorder was configured.
func (s *Stage) saveTx(t vault.Transaction) {
	if s.txs == nil {
		return
	}
	_ = s.txs.SaveTransaction(t)
}

// splitAlreadySpent pulls out claims whose contribution UTxO has
// already been consumed by some other observed transaction, marking
// them Failed{UtxoAlreadySpent, ConsumedByTx} instead of letting
// buildPlan's UTxO fetch fail them as a generic build error (spec §7
// InputConsumedElsewhere).
func (s *Stage) splitAlreadySpent(pending []vault.Claim, txByID map[string]vault.Transaction) (spendable, failed []vault.Claim) {
	for _, c := range pending {
		tx, ok := txByID[c.TransactionId]
		if !ok {
			spendable = append(spendable, c)
			continue
		}
		consumedBy, spent := s.utxos.IsSpent(tx.TxHash, 0)
		if !spent {
			spendable = append(spendable, c)
			continue
		}
		c.Status = vault.ClaimFailed
		c.FailureReason = &vault.ClaimFailure{Reason: vault.FailureUtxoAlreadySpent, ConsumedByTx: consumedBy}
		failed = append(failed, c)
	}
	return spendable, failed
}

// settleBatch builds, measures, signs and submits one Extract
// transaction for batch. ok is false on any build/measure/submit
// failure, signalling the caller to shrink and retry. On success,
// settled claims are marked Available (not Claimed) and, if
// registerStake was set, stakeTxHash names the tx to await confirmation
// of before Vault.StakeRegistered flips true.
func (s *Stage) settleBatch(ctx context.Context, v vault.Vault, batch []vault.Claim, txByID map[string]vault.Transaction, registerStake bool) (settled []vault.Claim, stakeTxHash *string, ok bool) {
	plan, err := s.buildPlan(ctx, v, batch, txByID, registerStake)
	if err != nil {
		return nil, nil, false
	}

	report, err := s.oracle.Measure(ctx, plan)
	if err != nil || !report.FitsTarget {
		return nil, nil, false
	}

	txId := v.Id + ":extract:" + batch[0].Id
	s.saveTx(vault.Transaction{Id: txId, VaultId: v.Id, Type: vault.TxTypeExtractDispatch, Status: vault.TxStatusCreated})

	txHash, err := s.client.Submit(ctx, report.BuildResult.TxBytes)
	if err != nil {
		return nil, nil, false
	}
	s.saveTx(vault.Transaction{Id: txId, VaultId: v.Id, TxHash: txHash, Type: vault.TxTypeExtractDispatch, Status: vault.TxStatusSubmitted})

	for _, c := range batch {
		c.Status = vault.ClaimAvailable
		c.DistributionTxId = &txHash
		settled = append(settled, c)
	}
	if registerStake {
		stakeTxHash = &txHash
	}
	return settled, stakeTxHash, true
}

// buildPlan assembles one Extract transaction for batch: spend every
// claim's contribution UTxO at the vault script with ExtractCoin, mint
// the batch's total VT under the vault policy, burn one receipt per
// claim, and pay (a) each user their VT, (b) the admin the vault's
// coin-pair VT share, (c) the dispatch script the batch's total coin.
func (s *Stage) buildPlan(ctx context.Context, v vault.Vault, batch []vault.Claim, txByID map[string]vault.Transaction, registerStake bool) (chainclient.Plan, error) {
	dispatchAddr, err := chainclient.DispatchAddress(s.network, v.DispatchScriptHash)
	if err != nil {
		return chainclient.Plan{}, err
	}

	coinScale := arith.Pow10(s.coinDecimals)

	var inputs []chainclient.Input
	var outputs []chainclient.Output
	var mintTotal int64
	var dispatchCoin uint64

	for i, claim := range batch {
		tx, ok := txByID[claim.TransactionId]
		if !ok {
			return chainclient.Plan{}, fmt.Errorf("extract: no transaction for claim %s", claim.Id)
		}

		contribRef := vault.TxRef{TxHash: tx.TxHash, OutputIndex: 0}
		contribUtxo, err := s.utxos.Utxo(ctx, contribRef)
		if err != nil {
			return chainclient.Plan{}, fmt.Errorf("extract: fetch contribution utxo: %w", err)
		}

		vtOutputIndex := uint64(i)
		inputs = append(inputs, chainclient.Input{
			Utxo:     contribUtxo,
			Redeemer: onchain.ExtractCoinRedeemer(vtOutputIndex),
		})

		userVt := claim.Multiplier * tx.CoinAmount * coinScale
		mintTotal += int64(userVt)
		dispatchCoin += tx.CoinAmount

		datumTag, err := onchain.DatumTag(tx.TxHash, contribRef.OutputIndex)
		if err != nil {
			return chainclient.Plan{}, fmt.Errorf("extract: datum tag: %w", err)
		}

		payoutAddr, err := chainclient.UserAddress(s.network, tx.UserId)
		if err != nil {
			return chainclient.Plan{}, fmt.Errorf("extract: resolve user address: %w", err)
		}

		outputs = append(outputs, chainclient.Output{
			Address:  payoutAddr,
			Lovelace: onchain.MinUtxoLovelace,
			Units:    []apollo.Unit{apollo.NewUnit(v.ScriptHash, v.AssetVaultName, int(userVt))},
			Datum:    onchain.OutputPayoutDatum(datumTag, nil),
		})
	}

	var receiptBurn []chainclient.Mint
	for range batch {
		receiptBurn = append(receiptBurn, chainclient.Mint{
			PolicyId:  v.ScriptHash,
			AssetName: v.ReceiptAssetName,
			Amount:    -1,
		})
	}

	adminVtShare := v.CoinPairMultiplier * dispatchCoin * coinScale
	if adminVtShare > 0 {
		mintTotal += int64(adminVtShare)
		outputs = append(outputs, chainclient.Output{
			Address:  s.adminAddress,
			Lovelace: onchain.MinUtxoLovelace,
			Units:    []apollo.Unit{apollo.NewUnit(v.ScriptHash, v.AssetVaultName, int(adminVtShare))},
		})
	}

	outputs = append(outputs, chainclient.Output{
		Address:  dispatchAddr,
		Lovelace: dispatchCoin * coinScale,
	})

	mints := append([]chainclient.Mint{{
		PolicyId:  v.ScriptHash,
		AssetName: v.AssetVaultName,
		Amount:    mintTotal,
	}}, receiptBurn...)

	walletUtxos, err := s.utxos.WalletUtxos(ctx, s.adminAddress)
	if err != nil {
		return chainclient.Plan{}, fmt.Errorf("extract: list wallet utxos: %w", err)
	}
	feeInputs, err := utxoselect.Select(walletUtxos, s.fee, nil, nil)
	if err != nil {
		return chainclient.Plan{}, err
	}
	for _, u := range feeInputs {
		inputs = append(inputs, chainclient.Input{Utxo: u})
	}

	slot, err := s.client.CurrentSlot(ctx)
	if err != nil {
		return chainclient.Plan{}, fmt.Errorf("extract: current slot: %w", err)
	}

	plan := chainclient.Plan{
		Inputs:        inputs,
		Outputs:       outputs,
		Mints:         mints,
		LoadedUtxos:   walletUtxos,
		ChangeAddress: s.adminAddress,
		TtlSlot:       slot + 1200,
		Fee:           s.fee,
	}
	if registerStake {
		hash := v.DispatchScriptHash
		plan.StakeScriptHash = &hash
	}
	return plan, nil
}

func pendingAcquirerClaims(v vault.Vault, claims []vault.Claim) []vault.Claim {
	var out []vault.Claim
	for _, c := range claims {
		if c.Type != vault.ClaimTypeAcquirer {
			continue
		}
		if c.Status != vault.ClaimPending {
			continue
		}
		if c.DistributionBatch == nil || *c.DistributionBatch != v.CurrentBatch {
			continue
		}
		out = append(out, c)
	}
	return out
}
