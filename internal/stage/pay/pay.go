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

// Package pay implements PayStage (spec §4.8): settle every contributor
// claim of the current batch once its sibling acquirer claims are all
// Claimed, returning contributed assets and paying VT plus (when the
// vault funds it) coin. Grounded on the teacher's BuildReturnTx sequence
// (fluidtokens/tx.go), generalized the same way ExtractStage is.
package pay

import (
	"context"
	"fmt"

	"github.com/Salvionied/apollo"

	"github.com/cardano-vaults/distengine/internal/chainclient"
	"github.com/cardano-vaults/distengine/internal/onchain"
	"github.com/cardano-vaults/distengine/internal/packer"
	"github.com/cardano-vaults/distengine/internal/sizeoracle"
	"github.com/cardano-vaults/distengine/internal/stage"
	"github.com/cardano-vaults/distengine/internal/utxoselect"
	"github.com/cardano-vaults/distengine/internal/vault"
)

// Stage submits PayStage transactions for one vault's current batch.
type Stage struct {
	client       chainclient.BlockchainClient
	utxos        stage.UtxoProvider
	txs          stage.TransactionRecorder
	oracle       *sizeoracle.Oracle
	network      string
	adminAddress string
	fee          uint64
	minPayment   uint64
	maxPayBatch  int
}

// New builds a PayStage. minPayment and maxPayBatch are config.Engine's
// MinPayment/MaxPayBatch (spec §4.8). txs records the write-ahead
// Created->Submitted lifecycle of each settlement transaction (spec
// §4.8); it may be nil in tests that don't exercise persistence.
func New(client chainclient.BlockchainClient, utxos stage.UtxoProvider, txs stage.TransactionRecorder, oracle *sizeoracle.Oracle, network, adminAddress string, fee, minPayment uint64, maxPayBatch int) *Stage {
	if maxPayBatch <= 0 {
		maxPayBatch = 15
	}
	return &Stage{
		client:       client,
		utxos:        utxos,
		txs:          txs,
		oracle:       oracle,
		network:      network,
		adminAddress: adminAddress,
		fee:          fee,
		minPayment:   minPayment,
		maxPayBatch:  maxPayBatch,
	}
}

// Result reports every claim Run settled or failed.
type Result struct {
	Claims []vault.Claim
}

// Run settles every Pending Contributor claim of the vault's current
// batch, provided every sibling Acquirer claim of that batch is already
// Claimed (spec §4.8). claims must be pre-filtered to this vault;
// txByID must map every claim's TransactionId to its Transaction.
func (s *Stage) Run(ctx context.Context, v vault.Vault, claims []vault.Claim, txByID map[string]vault.Transaction) (Result, error) {
	pending := pendingContributorClaims(v, claims)
	if len(pending) == 0 {
		return Result{}, nil
	}
	if !allAcquirerClaimsSettled(v, claims) {
		return Result{}, nil
	}

	var result Result
	spendable, alreadySpent := s.splitAlreadySpent(pending, txByID)
	result.Claims = append(result.Claims, alreadySpent...)
	pending = spendable

	for len(pending) > 0 {
		batch, report, ok := s.growBatch(ctx, v, pending, txByID)
		if !ok {
			c := pending[0]
			c.Status = vault.ClaimFailed
			c.FailureReason = &vault.ClaimFailure{Reason: vault.FailureBuildFailure, LastError: "pay: persistent single-claim build failure"}
			result.Claims = append(result.Claims, c)
			pending = pending[1:]
			continue
		}

		// Write-ahead: the settlement tx row exists Created before it is
		// ever submitted, so a crash between Submit and the caller's save
		// of result.Claims still leaves a durable record to reconcile from
		// (spec §4.8).
		txId := v.Id + ":pay:" + batch[0].Id
		s.saveTx(vault.Transaction{Id: txId, VaultId: v.Id, Type: vault.TxTypeClaim, Status: vault.TxStatusCreated})

		txHash, err := s.client.Submit(ctx, report.BuildResult.TxBytes)
		if err != nil {
			// A submit failure is not fatal: the remaining claims stay
			// Pending and the next tick reconciles them.
			return result, nil
		}
		s.saveTx(vault.Transaction{Id: txId, VaultId: v.Id, TxHash: txHash, Type: vault.TxTypeClaim, Status: vault.TxStatusSubmitted})

		// Claims go Available, not Claimed: the orchestrator only promotes
		// them to Claimed once chainwatch reports txHash confirmed (spec
		// §5's ordering guarantee, §4.8's write-ahead lifecycle).
		for _, c := range batch {
			c.Status = vault.ClaimAvailable
			c.DistributionTxId = &txHash
			result.Claims = append(result.Claims, c)
		}
		pending = pending[len(batch):]
	}

	return result, nil
}

// saveTx persists a settlement transaction's lifecycle row if a
// TransactionRecorder was configured; a save failure is ignored and
// settlement proceeds without that row.
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

// growBatch implements the §4.8 dynamic batch sizing: starting at 2
// claims, build-and-measure, growing while the plan still fits the
// target and MAX_PAY_BATCH isn't reached; falls back to exactly 1 claim
// if no multi-claim size ever fit.
func (s *Stage) growBatch(ctx context.Context, v vault.Vault, pending []vault.Claim, txByID map[string]vault.Transaction) ([]vault.Claim, sizeoracle.Report, bool) {
	size := 2
	if size > len(pending) {
		size = len(pending)
	}

	var bestBatch []vault.Claim
	var bestReport sizeoracle.Report
	found := false

	for size >= 1 {
		batch := pending[:size]
		plan, err := s.buildPlan(ctx, v, batch, txByID)
		if err != nil {
			break
		}
		report, err := s.oracle.Measure(ctx, plan)
		if err != nil || !report.FitsTarget {
			break
		}
		bestBatch, bestReport, found = batch, report, true
		if size >= s.maxPayBatch || size >= len(pending) {
			break
		}
		size++
	}
	if found {
		return bestBatch, bestReport, true
	}

	plan, err := s.buildPlan(ctx, v, pending[:1], txByID)
	if err != nil {
		return nil, sizeoracle.Report{}, false
	}
	report, err := s.oracle.Measure(ctx, plan)
	if err != nil || !report.FitsTarget {
		return nil, sizeoracle.Report{}, false
	}
	return pending[:1], report, true
}

// buildPlan assembles one Pay transaction for batch: spend every claim's
// contribution UTxO at the vault script with CollectVaultToken, mint the
// batch's replayed VT total, burn one receipt per claim, and for each
// claim output (i) the user's coin (when the vault funds it and the
// claim clears MIN_PAYMENT) plus their VT, and (ii) the vault script's
// returned assets; one trailing change output returns unspent dispatch
// coin.
func (s *Stage) buildPlan(ctx context.Context, v vault.Vault, batch []vault.Claim, txByID map[string]vault.Transaction) (chainclient.Plan, error) {
	scriptAddr, err := chainclient.ScriptAddress(s.network, v.ScriptHash)
	if err != nil {
		return chainclient.Plan{}, err
	}
	dispatchAddr, err := chainclient.DispatchAddress(s.network, v.DispatchScriptHash)
	if err != nil {
		return chainclient.Plan{}, err
	}
	fundedByDispatch := v.TokensForAcquirersPct > 0

	var inputs []chainclient.Input
	var outputs []chainclient.Output
	var mintTotal int64
	var totalCoinNeeded uint64

	for _, claim := range batch {
		tx, ok := txByID[claim.TransactionId]
		if !ok {
			return chainclient.Plan{}, fmt.Errorf("pay: no transaction for claim %s", claim.Id)
		}

		contribRef := vault.TxRef{TxHash: tx.TxHash, OutputIndex: 0}
		contribUtxo, err := s.utxos.Utxo(ctx, contribRef)
		if err != nil {
			return chainclient.Plan{}, fmt.Errorf("pay: fetch contribution utxo: %w", err)
		}

		var userVt uint64
		for _, asset := range tx.Assets {
			mult, ok := packer.MultiplierGivenAsset(v.OnChainMultipliers, asset.PolicyId, asset.AssetId)
			if !ok {
				continue
			}
			userVt += mult * asset.Quantity
		}
		mintTotal += int64(userVt)

		var coinPaid *uint64
		payCoin := uint64(0)
		if fundedByDispatch && claim.CoinAmount >= s.minPayment {
			payCoin = claim.CoinAmount
			c := payCoin
			coinPaid = &c
		}
		totalCoinNeeded += payCoin

		datumTag, err := onchain.DatumTag(tx.TxHash, contribRef.OutputIndex)
		if err != nil {
			return chainclient.Plan{}, fmt.Errorf("pay: datum tag: %w", err)
		}
		payoutAddr, err := chainclient.UserAddress(s.network, tx.UserId)
		if err != nil {
			return chainclient.Plan{}, fmt.Errorf("pay: resolve user address: %w", err)
		}

		payoutLovelace := uint64(onchain.MinUtxoLovelace)
		if payCoin > payoutLovelace {
			payoutLovelace = payCoin
		}
		vtOutIdx := uint64(len(outputs))
		outputs = append(outputs, chainclient.Output{
			Address:  payoutAddr,
			Lovelace: payoutLovelace,
			Units:    []apollo.Unit{apollo.NewUnit(v.ScriptHash, v.AssetVaultName, int(userVt))},
			Datum:    onchain.OutputPayoutDatum(datumTag, coinPaid),
		})

		var assetUnits []apollo.Unit
		for _, a := range tx.Assets {
			assetUnits = append(assetUnits, apollo.NewUnit(a.PolicyId, a.AssetId, int(a.Quantity)))
		}
		changeOutIdx := uint64(len(outputs))
		outputs = append(outputs, chainclient.Output{
			Address:  scriptAddr,
			Lovelace: onchain.MinUtxoLovelace,
			Units:    assetUnits,
			Datum:    onchain.AssetDatum(v.ScriptHash, v.AssetVaultName, tx.UserId, datumTag),
		})

		inputs = append(inputs, chainclient.Input{
			Utxo:     contribUtxo,
			Redeemer: onchain.CollectVaultTokenRedeemer(vtOutIdx, changeOutIdx),
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

	if totalCoinNeeded > 0 {
		dispatchUtxos, err := s.utxos.WalletUtxos(ctx, dispatchAddr)
		if err != nil {
			return chainclient.Plan{}, fmt.Errorf("pay: list dispatch utxos: %w", err)
		}
		selected, err := utxoselect.Select(dispatchUtxos, totalCoinNeeded, nil, nil)
		if err != nil {
			return chainclient.Plan{}, err
		}
		var totalSelected uint64
		for _, u := range selected {
			inputs = append(inputs, chainclient.Input{Utxo: u})
			totalSelected += chainclient.Lovelace(u)
		}
		if totalSelected > totalCoinNeeded {
			outputs = append(outputs, chainclient.Output{
				Address:  dispatchAddr,
				Lovelace: totalSelected - totalCoinNeeded,
			})
		}
	}

	mints := append([]chainclient.Mint{{
		PolicyId:  v.ScriptHash,
		AssetName: v.AssetVaultName,
		Amount:    mintTotal,
	}}, receiptBurn...)

	walletUtxos, err := s.utxos.WalletUtxos(ctx, s.adminAddress)
	if err != nil {
		return chainclient.Plan{}, fmt.Errorf("pay: list wallet utxos: %w", err)
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
		return chainclient.Plan{}, fmt.Errorf("pay: current slot: %w", err)
	}

	return chainclient.Plan{
		Inputs:        inputs,
		Outputs:       outputs,
		Mints:         mints,
		LoadedUtxos:   walletUtxos,
		ChangeAddress: s.adminAddress,
		TtlSlot:       slot + 1200,
		Fee:           s.fee,
	}, nil
}

func pendingContributorClaims(v vault.Vault, claims []vault.Claim) []vault.Claim {
	var out []vault.Claim
	for _, c := range claims {
		if c.Type != vault.ClaimTypeContributor {
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

// allAcquirerClaimsSettled reports whether every Acquirer claim assigned
// to the vault's current batch is Claimed; PayStage does not run while
// any is Pending, merely Available (submitted but not yet observed
// confirmed) or Failed — spec §5's ordering guarantee is
// confirmed-before, not submitted-before.
func allAcquirerClaimsSettled(v vault.Vault, claims []vault.Claim) bool {
	for _, c := range claims {
		if c.Type != vault.ClaimTypeAcquirer {
			continue
		}
		if c.DistributionBatch == nil || *c.DistributionBatch != v.CurrentBatch {
			continue
		}
		if c.Status != vault.ClaimClaimed {
			return false
		}
	}
	return true
}
