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

// Package chainclient builds, signs and submits the engine's settlement
// transactions. It is the one package that touches Apollo directly; the
// stage packages describe what a transaction should contain and hand it
// a Plan, grounded on the teacher's internal/fluidtokens/tx.go and
// internal/geniusyield/tx.go build sequences.
package chainclient

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Salvionied/apollo"
	serAddress "github.com/Salvionied/apollo/serialization/Address"
	"github.com/Salvionied/apollo/serialization/Key"
	"github.com/Salvionied/apollo/serialization/PlutusData"
	"github.com/Salvionied/apollo/serialization/Redeemer"
	"github.com/Salvionied/apollo/serialization/UTxO"
	"github.com/blinklabs-io/bursa"
)

// Input is one UTxO the plan spends, with an optional spending redeemer
// (nil for plain key-witnessed inputs such as fee/collateral UTxOs).
type Input struct {
	Utxo     UTxO.UTxO
	Redeemer *Redeemer.Redeemer
}

// Output is one transaction output the plan pays. Datum is non-nil only
// for contract-locked outputs (the vault's own script address).
type Output struct {
	Address  string
	Lovelace uint64
	Units    []apollo.Unit
	Datum    *PlutusData.PlutusData
}

// Mint is one minting/burning action attached to the transaction. Amount
// is signed: positive mints, negative burns.
type Mint struct {
	PolicyId  string
	AssetName string
	Amount    int64
	Redeemer  *Redeemer.Redeemer
}

// Plan is a chain-agnostic description of one transaction to build. Every
// stage package (update/extract/pay) constructs a Plan and hands it to
// BlockchainClient.Build; none of them touch Apollo types directly.
type Plan struct {
	Inputs          []Input
	ReferenceInputs []UTxO.UTxO
	Outputs         []Output
	Mints           []Mint
	// LoadedUtxos backstops Apollo's own collateral/coin selection the
	// same way the teacher's AddLoadedUTxOs(walletUtxos...) call does;
	// Inputs still names the UtxoSelector-chosen covering set explicitly.
	LoadedUtxos     []UTxO.UTxO
	ChangeAddress   string
	TtlSlot         uint64
	Fee             uint64 // exact fee; stages pick this from config, same as the teacher's fixed returnTxFee constant
	// StakeScriptHash, when set, attaches a stake-registration certificate
	// for the named script credential to the transaction: ExtractStage's
	// first run for a vault registers its dispatch script this way (spec
	// §4.7, §6 "deposits").
	StakeScriptHash *string
}

// BuildResult is what Build returns: the signed transaction's raw CBOR
// bytes plus its hash and size, the three things SizeOracle and the
// calling stage both need.
type BuildResult struct {
	TxBytes []byte
	TxHash  string
	Bytes   int
}

// BlockchainClient is the engine's entire surface onto the chain: build+
// sign a transaction from a Plan, and submit raw bytes. Spec.md §6.
type BlockchainClient interface {
	Build(ctx context.Context, plan Plan) (BuildResult, error)
	Submit(ctx context.Context, txBytes []byte) (string, error)
	CurrentSlot(ctx context.Context) (uint64, error)
}

// ApolloClient is the BlockchainClient implementation backed by the
// Salvionied/apollo transaction builder and a bursa-derived signing
// wallet, grounded on BuildReturnTx (fluidtokens/tx.go) and buildMatchTx
// (geniusyield/tx.go).
type ApolloClient struct {
	wallet   *bursa.Wallet
	submit   Submitter
	slotFeed SlotSource
}

// Submitter abstracts the network leg of transaction submission (NtN
// connection manager or a remote submit API), grounded on
// internal/txsubmit/txsubmit.go's channel-based SubmitTx.
type Submitter interface {
	SubmitTx(ctx context.Context, txBytes []byte) (string, error)
}

// SlotSource abstracts "what slot is it right now", used for TTL
// calculation the same way fluidtokens/tx.go's unixTimeToSlot does.
type SlotSource interface {
	CurrentSlot(ctx context.Context) (uint64, error)
}

// NewApolloClient builds a client around a derived wallet and the given
// network adapters.
func NewApolloClient(wallet *bursa.Wallet, submit Submitter, slots SlotSource) *ApolloClient {
	return &ApolloClient{wallet: wallet, submit: submit, slotFeed: slots}
}

// Build constructs, completes and signs one transaction from a Plan. It
// follows the teacher's sequence exactly: AddInputAddress/CollectFrom/
// PayToAddress(orContract)/AddMint/SetTtl, DisableExecutionUnitsEstimation
// (the engine supplies fixed fees the same way BuildReturnTx does),
// CompleteExact, SignWithSkey, GetTx().Bytes().
func (c *ApolloClient) Build(ctx context.Context, plan Plan) (BuildResult, error) {
	if c.wallet == nil {
		return BuildResult{}, fmt.Errorf("chainclient: wallet not configured")
	}

	changeAddress, err := serAddress.DecodeAddress(plan.ChangeAddress)
	if err != nil {
		return BuildResult{}, fmt.Errorf("chainclient: decode change address: %w", err)
	}

	cc := apollo.NewEmptyBackend()
	apollob := apollo.New(&cc)
	apollob = apollob.
		AddInputAddress(changeAddress).
		AddLoadedUTxOs(plan.LoadedUtxos...).
		SetTtl(int64(plan.TtlSlot))

	for _, ref := range plan.ReferenceInputs {
		apollob = apollob.AddReferenceInput(hex.EncodeToString(ref.Input.TransactionId), int(ref.Input.Index))
	}

	for _, in := range plan.Inputs {
		if in.Redeemer != nil {
			apollob = apollob.CollectFrom(in.Utxo, *in.Redeemer)
		} else {
			apollob = apollob.CollectFrom(in.Utxo)
		}
	}

	for _, out := range plan.Outputs {
		addr, err := serAddress.DecodeAddress(out.Address)
		if err != nil {
			return BuildResult{}, fmt.Errorf("chainclient: decode output address: %w", err)
		}
		if out.Datum != nil {
			apollob = apollob.PayToContract(addr, out.Datum, int(out.Lovelace), false, out.Units...)
		} else {
			apollob = apollob.PayToAddress(addr, int(out.Lovelace), out.Units...)
		}
	}

	for _, m := range plan.Mints {
		unit := apollo.NewUnit(m.PolicyId, m.AssetName, int(m.Amount))
		if m.Redeemer != nil {
			apollob = apollob.AddMint(unit, *m.Redeemer)
		} else {
			apollob = apollob.AddMint(unit)
		}
	}

	if plan.StakeScriptHash != nil {
		scriptHash, err := hex.DecodeString(*plan.StakeScriptHash)
		if err != nil {
			return BuildResult{}, fmt.Errorf("chainclient: decode stake script hash: %w", err)
		}
		apollob = apollob.AddCert(apollo.NewStakeRegistrationCertificate(scriptHash))
	}

	tx, err := apollob.
		DisableExecutionUnitsEstimation().
		CompleteExact(int(plan.Fee))
	if err != nil {
		return BuildResult{}, fmt.Errorf("chainclient: complete transaction: %w", err)
	}

	vkey, skey, err := c.signingKeys()
	if err != nil {
		return BuildResult{}, err
	}
	tx, err = tx.SignWithSkey(vkey, skey)
	if err != nil {
		return BuildResult{}, fmt.Errorf("chainclient: sign transaction: %w", err)
	}

	txBytes, err := tx.GetTx().Bytes()
	if err != nil {
		return BuildResult{}, fmt.Errorf("chainclient: serialize transaction: %w", err)
	}

	return BuildResult{
		TxBytes: txBytes,
		TxHash:  tx.GetTx().Id(),
		Bytes:   len(txBytes),
	}, nil
}

// signingKeys derives the payment key pair from the engine's wallet the
// same way BuildReturnTx does: decode the bursa CBOR-hex keys, strip the
// 2-byte CBOR type-tag header, and for the extended signing key drop its
// embedded chain-code/public-key padding down to the raw 64-byte scalar.
func (c *ApolloClient) signingKeys() (Key.VerificationKey, Key.SigningKey, error) {
	vKeyBytes, err := hex.DecodeString(c.wallet.PaymentVKey.CborHex)
	if err != nil {
		return Key.VerificationKey{}, Key.SigningKey{}, fmt.Errorf("chainclient: decode vkey: %w", err)
	}
	sKeyBytes, err := hex.DecodeString(c.wallet.PaymentExtendedSKey.CborHex)
	if err != nil {
		return Key.VerificationKey{}, Key.SigningKey{}, fmt.Errorf("chainclient: decode skey: %w", err)
	}
	vKeyBytes = vKeyBytes[2:]
	sKeyBytes = sKeyBytes[2:]
	sKeyBytes = append(sKeyBytes[:64], sKeyBytes[96:]...)

	return Key.VerificationKey{Payload: vKeyBytes}, Key.SigningKey{Payload: sKeyBytes}, nil
}

// Lovelace returns a UTxO's ADA amount, the same
// uint64(utxo.Output.GetAmount().GetCoin()) cast the teacher's tx
// builders use.
func Lovelace(u UTxO.UTxO) uint64 {
	return uint64(u.Output.GetAmount().GetCoin())
}

// AssetUnits returns a UTxO's native assets as apollo.Unit values,
// ready to re-attach to an output that should carry the same tokens
// forward, grounded on the teacher's returnUnits-building loop in
// fluidtokens/tx.go and geniusyield/tx.go.
func AssetUnits(u UTxO.UTxO) []apollo.Unit {
	var units []apollo.Unit
	assets := u.Output.GetAmount().GetAssets()
	if assets == nil {
		return nil
	}
	for policyId, byName := range assets {
		for assetName, amount := range byName {
			units = append(units, apollo.NewUnit(policyId.Value, assetName.String(), int(amount)))
		}
	}
	return units
}

// Submit hands raw transaction bytes to the configured Submitter.
func (c *ApolloClient) Submit(ctx context.Context, txBytes []byte) (string, error) {
	if c.submit == nil {
		return "", fmt.Errorf("chainclient: no submitter configured")
	}
	return c.submit.SubmitTx(ctx, txBytes)
}

// CurrentSlot reports the current chain tip slot, used by stages to pick
// a TTL the same way fluidtokens/tx.go's unixTimeToSlot does.
func (c *ApolloClient) CurrentSlot(ctx context.Context) (uint64, error) {
	if c.slotFeed == nil {
		return 0, fmt.Errorf("chainclient: no slot source configured")
	}
	return c.slotFeed.CurrentSlot(ctx)
}
