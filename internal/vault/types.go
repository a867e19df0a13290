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

// Package vault holds the flat, ORM-free record types for the
// distribution engine's data model: the vault aggregate, its assets,
// contribution/acquisition transactions and settlement claims.
package vault

import "time"

// Status is the lifecycle state of a Vault.
type Status string

const (
	StatusDraft        Status = "Draft"
	StatusOpen         Status = "Open"
	StatusContributing Status = "Contributing"
	StatusAcquiring    Status = "Acquiring"
	StatusLocked       Status = "Locked"
	StatusSuccessful   Status = "Successful"
	StatusFailed       Status = "Failed"
	StatusFinalized    Status = "Finalized"
)

// TxRef is a transaction hash plus output index, used both for on-chain
// UTxO references and as the stable identifier of a datum-bearing output.
type TxRef struct {
	TxHash      string
	OutputIndex uint32
}

// MultiplierTuple is one (policyId, assetName?, multiplier) entry as
// published on-chain. AssetName == nil denotes a policy-level entry; the
// acquirer slot is represented by an empty PolicyId and nil AssetName.
type MultiplierTuple struct {
	PolicyId  string
	AssetName *string
	Value     uint64
}

// IsAcquirerSlot reports whether this tuple is the single acquirer-side
// multiplier slot (empty policy and asset name).
func (t MultiplierTuple) IsAcquirerSlot() bool {
	return t.PolicyId == "" && t.AssetName == nil
}

// IsPolicyLevel reports whether this tuple applies to every asset under
// PolicyId rather than one specific asset name.
func (t MultiplierTuple) IsPolicyLevel() bool {
	return !t.IsAcquirerSlot() && t.AssetName == nil
}

// Vault is the aggregate root for one fractionalization.
type Vault struct {
	Id                     string
	ScriptHash             string
	AssetVaultName         string // hex
	DispatchScriptHash     string
	VtTokenSupply          uint64 // whole tokens, pre-decimal
	VtDecimals             uint8  // 0-9
	TokensForAcquirersPct  uint64 // 0-100
	LpPct                  uint64 // 0-100
	AcquireReservePct      uint64 // 0-100
	Status                 Status
	LastUpdateTxRef        *TxRef
	StakeRegistered        bool
	OnChainMultipliers     []MultiplierTuple
	PendingMultipliers     []MultiplierTuple
	OnChainCoinDistribution []MultiplierTuple
	PendingCoinDistribution []MultiplierTuple
	CoinPairMultiplier     uint64
	CurrentBatch           uint32
	TotalBatches           uint32
	ManualMode             bool
	ManualModeReason       string
	// ReceiptAssetName (hex) is the one-time deposit-receipt token minted
	// under ScriptHash when a user contributes or acquires, and burned by
	// ExtractStage/PayStage on settlement — additive, not read by
	// Calculator/MultiplierPacker/BatchSolver.
	ReceiptAssetName       string
	DistributionInProgress bool
	DistributionProcessed  bool
	DistributionStartedAt  *time.Time
	// PendingUpdate holds the next on-chain state an UpdateStage
	// transaction has submitted but chainwatch has not yet observed
	// confirmed; LastUpdateTxRef/OnChainMultipliers/
	// OnChainCoinDistribution/CurrentBatch/TotalBatches are only advanced
	// to these values, and BatchedClaimIds only assigned their batch
	// number, once that confirmation is observed (spec §4.6 "on success
	// (confirmed on-chain)", §5's ordering guarantee).
	PendingUpdate *PendingUpdateState
	// PendingStakeTx is the tx hash of an ExtractStage transaction that
	// attempted the vault's one-time dispatch-stake registration, awaiting
	// confirmation before StakeRegistered flips true (spec §4.7).
	PendingStakeTx *string
}

// PendingUpdateState is the prospective vault state an UpdateStage
// transaction publishes on-chain, held off the confirmed Vault fields
// until chainwatch reports TxHash observed (write-ahead gating, spec
// §4.8's Created/Submitted/Confirmed lifecycle generalized to the
// vault's own datum-republishing transaction, which has no Transaction
// row of its own since TransactionType's closed enum names only
// Contribute/Acquire/Claim/ExtractDispatch).
type PendingUpdateState struct {
	TxHash                  string
	LastUpdateTxRef         TxRef
	OnChainMultipliers      []MultiplierTuple
	OnChainCoinDistribution []MultiplierTuple
	CurrentBatch            uint32
	TotalBatches            uint32
	// BatchedClaimIds are assigned DistributionBatch = CurrentBatch once
	// TxHash confirms; they remain unassigned (and therefore invisible to
	// Extract/Pay) until then.
	BatchedClaimIds []string
}

// AssetOriginType classifies how an Asset entered the vault's ledger.
type AssetOriginType string

const (
	OriginContributed AssetOriginType = "Contributed"
	OriginOther       AssetOriginType = "Other"
)

// Asset is one logical entry contributed by a user's transaction.
type Asset struct {
	Id          string
	PolicyId    string
	AssetId     string // hex, may be empty for policy-level entries
	Quantity    uint64
	FloorPrice  *uint64 // coin, nullable
	DexPrice    *uint64 // coin, nullable
	OriginType  AssetOriginType
	Distributed bool
}

// Price returns floorPrice || dexPrice || 0, per spec.
func (a Asset) Price() uint64 {
	if a.FloorPrice != nil {
		return *a.FloorPrice
	}
	if a.DexPrice != nil {
		return *a.DexPrice
	}
	return 0
}

// TransactionType classifies a Contribution/Acquisition Transaction.
type TransactionType string

const (
	TxTypeContribute      TransactionType = "Contribute"
	TxTypeAcquire         TransactionType = "Acquire"
	TxTypeClaim           TransactionType = "Claim"
	TxTypeExtractDispatch TransactionType = "ExtractDispatch"
)

// TransactionStatus is the lifecycle of a Contribution/Acquisition
// Transaction or of a stage-submitted settlement transaction.
type TransactionStatus string

const (
	TxStatusCreated   TransactionStatus = "Created"
	TxStatusSubmitted TransactionStatus = "Submitted"
	TxStatusConfirmed TransactionStatus = "Confirmed"
	TxStatusFailed    TransactionStatus = "Failed"
)

// Transaction is a user input that locked an asset or sent coin, or an
// engine-submitted settlement transaction (Claim/ExtractDispatch).
type Transaction struct {
	Id      string
	VaultId string
	// UserId is the user's raw payment key hash (hex); stages resolve it
	// to a payable address with chainclient.UserAddress rather than
	// persisting both forms.
	UserId     string
	TxHash     string
	Type       TransactionType
	Status     TransactionStatus
	CoinAmount uint64 // whole coin for Acquire; ignored for Contribute
	Assets     []Asset
}

// TotalAssetValue sums Price()*Quantity across the transaction's assets,
// used by the Calculator for TVL/value-share computation.
func (t Transaction) TotalAssetValue() uint64 {
	var total uint64
	for _, a := range t.Assets {
		total += a.Price() * a.Quantity
	}
	return total
}

// ClaimType classifies what a Claim settles.
type ClaimType string

const (
	ClaimTypeContributor ClaimType = "Contributor"
	ClaimTypeAcquirer    ClaimType = "Acquirer"
	ClaimTypeLp          ClaimType = "Lp"
)

// ClaimStatus is the monotone lifecycle of a Claim: Pending may only
// transition to Available, Claimed or Failed; Claimed and Failed are
// terminal.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "Pending"
	ClaimAvailable ClaimStatus = "Available"
	ClaimClaimed   ClaimStatus = "Claimed"
	ClaimFailed    ClaimStatus = "Failed"
)

// ClaimFailureReason names why a Claim transitioned to Failed.
type ClaimFailureReason string

const (
	FailureUtxoAlreadySpent ClaimFailureReason = "UtxoAlreadySpent"
	FailureBuildFailure     ClaimFailureReason = "BuildFailure"
)

// ClaimFailure records the structured detail behind a Failed claim, so
// operators (via the admin status surface) can see why, not just that.
type ClaimFailure struct {
	Reason       ClaimFailureReason
	ConsumedByTx string // set only for UtxoAlreadySpent
	LastError    string // set only for BuildFailure
}

// Claim is the engine's settlement promise to one user for one input
// transaction. It is created once, mutated only by stages, never deleted.
type Claim struct {
	Id                string
	VaultId           string
	UserId            string
	TransactionId     string
	Type              ClaimType
	VtAmount          uint64
	CoinAmount        uint64 // base units; 0 for Acquirer claims before extraction
	Multiplier        uint64 // for Acquirer claims
	Status            ClaimStatus
	DistributionBatch *uint32
	DistributionTxId  *string
	FailureReason     *ClaimFailure
}

// CanTransitionTo enforces the monotone status machine: Pending and
// Available may move to Available, Claimed or Failed; Claimed and Failed
// are terminal and may not move.
func (c Claim) CanTransitionTo(next ClaimStatus) bool {
	if c.Status == ClaimClaimed || c.Status == ClaimFailed {
		return false
	}
	switch next {
	case ClaimAvailable, ClaimClaimed, ClaimFailed:
		return true
	default:
		return false
	}
}
