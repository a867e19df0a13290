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

// Package onchain builds the redeemers and datums the stage packages
// attach to transaction plans: the vault's own state datum, per-claim
// payout/asset datums, and the spending redeemers the vault and dispatch
// validators expect. Grounded on the teacher's fluidtokens/models.go
// (Constructor-tagged structs built with cbor.NewConstructor +
// cbor.IndefLengthList, e.g. ReturnRedeemer's Constructor 4).
package onchain

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/Salvionied/apollo/serialization/PlutusData"
	"github.com/Salvionied/apollo/serialization/Redeemer"
	"github.com/blinklabs-io/gouroboros/cbor"
	"golang.org/x/crypto/blake2b"

	"github.com/cardano-vaults/distengine/internal/common"
	"github.com/cardano-vaults/distengine/internal/vault"
)

const (
	// updateRedeemerTag spends the vault script to replace its datum
	// with an appended multiplier/coin-distribution table (UpdateStage).
	updateRedeemerTag = 0
	// extractCoinRedeemerTag spends a contribution UTxO on behalf of an
	// acquirer claim (ExtractStage).
	extractCoinRedeemerTag = 1
	// collectVaultTokenRedeemerTag spends a contribution UTxO on behalf
	// of a contributor claim (PayStage).
	collectVaultTokenRedeemerTag = 2

	// MinUtxoLovelace is the minimum lovelace a token-bearing output must
	// carry, the same fixed floor the teacher's tx.go builders use
	// instead of Apollo's coins-per-utxo-byte estimator.
	MinUtxoLovelace = 2_000_000
)

// DatumTag derives the stable correlation hash an OutputPayout/AssetDatum
// carries: blake2b-256 of the producing transaction's hash concatenated
// with its output index, big-endian (GLOSSARY "Datum tag").
func DatumTag(txHash string, outputIndex uint32) (string, error) {
	hashBytes, err := hex.DecodeString(txHash)
	if err != nil {
		return "", err
	}
	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], outputIndex)
	sum := blake2b.Sum256(append(hashBytes, idxBytes[:]...))
	return hex.EncodeToString(sum[:]), nil
}

func exUnits() Redeemer.ExecutionUnits {
	return Redeemer.ExecutionUnits{Mem: 1_000_000, Steps: 400_000_000}
}

func spendRedeemer(tag int, fields cbor.IndefLengthList) *Redeemer.Redeemer {
	constr := cbor.NewConstructor(tag, fields)
	return &Redeemer.Redeemer{
		Tag:     Redeemer.SPEND,
		ExUnits: exUnits(),
		Data:    PlutusData.PlutusData{Value: constr},
	}
}

// UpdateRedeemer spends the vault script's datum-bearing UTxO to replace
// it with the next state (spec §4.6).
func UpdateRedeemer() *Redeemer.Redeemer {
	return spendRedeemer(updateRedeemerTag, cbor.IndefLengthList{})
}

// ExtractCoinRedeemer spends a contribution UTxO on behalf of an
// acquirer claim settling at vtOutputIndex (spec §4.7).
func ExtractCoinRedeemer(vtOutputIndex uint64) *Redeemer.Redeemer {
	return spendRedeemer(extractCoinRedeemerTag, cbor.IndefLengthList{vtOutputIndex})
}

// CollectVaultTokenRedeemer spends a contribution UTxO on behalf of a
// contributor claim, naming both its VT payout output and its change
// (returned-assets) output (spec §4.8).
func CollectVaultTokenRedeemer(vtOutputIndex, changeOutputIndex uint64) *Redeemer.Redeemer {
	return spendRedeemer(collectVaultTokenRedeemerTag, cbor.IndefLengthList{vtOutputIndex, changeOutputIndex})
}

// tupleList encodes each multiplier tuple as Constructor 0 [assetClass,
// value], nesting the asset's own Constructor-0-tagged policy/name pair
// (common.AssetClass's wire encoding) as a raw CBOR field rather than
// flattening policy and name alongside value. Grounded on the teacher's
// storage/utxo.go and chainwatch/utxoset.go, which both re-wrap an
// already-encoded CBOR value as cbor.RawMessage before nesting it inside
// an outer constructor.
func tupleList(tuples []vault.MultiplierTuple) cbor.IndefLengthList {
	out := make(cbor.IndefLengthList, 0, len(tuples))
	for _, t := range tuples {
		nameHex := ""
		if t.AssetName != nil {
			nameHex = *t.AssetName
		}
		class, err := common.NewAssetClass(t.PolicyId, nameHex)
		if err != nil {
			class = common.Lovelace()
		}
		classBytes, err := class.MarshalCBOR()
		if err != nil {
			classBytes = nil
		}
		out = append(out, cbor.NewConstructor(0, cbor.IndefLengthList{cbor.RawMessage(classBytes), t.Value}))
	}
	return out
}

// VaultDatum encodes the vault's published state: its multiplier and
// coin-distribution tables, the coin-pair multiplier and the current
// batch counter, as the Update transaction's new datum-bearing output.
func VaultDatum(v vault.Vault) *PlutusData.PlutusData {
	constr := cbor.NewConstructor(0, cbor.IndefLengthList{
		tupleList(v.OnChainMultipliers),
		tupleList(v.OnChainCoinDistribution),
		v.CoinPairMultiplier,
		uint64(v.CurrentBatch),
	})
	return &PlutusData.PlutusData{Value: constr}
}

// OutputPayoutDatum tags a user-facing claim payout output with its
// datumTag (the blake2b correlation hash from DatumTag) and coinPaid,
// nil for the "None" case (no dispatch funding, or a sub-MIN_PAYMENT
// amount per spec §4.8).
func OutputPayoutDatum(datumTagHex string, coinPaid *uint64) *PlutusData.PlutusData {
	tag, _ := hex.DecodeString(datumTagHex)
	fields := cbor.IndefLengthList{tag}
	if coinPaid != nil {
		fields = append(fields, cbor.NewConstructor(0, cbor.IndefLengthList{*coinPaid}))
	} else {
		fields = append(fields, cbor.NewConstructor(1, cbor.IndefLengthList{}))
	}
	constr := cbor.NewConstructor(0, fields)
	return &PlutusData.PlutusData{Value: constr}
}

// AssetDatum tags a contributed asset returned to the vault script in
// PayStage, naming its owning policy, the vault's own asset name, the
// original owner's payment key hash and this output's datumTag.
func AssetDatum(policyId, assetVaultName, ownerPkhHex, datumTagHex string) *PlutusData.PlutusData {
	policy, _ := hex.DecodeString(policyId)
	assetName, _ := hex.DecodeString(assetVaultName)
	owner, _ := hex.DecodeString(ownerPkhHex)
	tag, _ := hex.DecodeString(datumTagHex)
	constr := cbor.NewConstructor(0, cbor.IndefLengthList{
		policy, assetName, owner, tag,
	})
	return &PlutusData.PlutusData{Value: constr}
}
