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

package chainclient

import (
	"encoding/hex"
	"fmt"

	ouroboros "github.com/blinklabs-io/gouroboros"
	"github.com/blinklabs-io/gouroboros/ledger"
)

// ScriptAddress derives the payment-credential-only bech32 address of a
// Plutus script from its hash, the same construction as the teacher's
// cmd/mk-script-address tool (ledger.NewAddressFromParts with
// AddressTypeScriptNone). Vault script addresses carry no staking
// credential; the dispatch script's address, which does, is built by
// DispatchAddress instead.
func ScriptAddress(network, scriptHashHex string) (string, error) {
	netParams := ouroboros.NetworkByName(network)
	if netParams == ouroboros.NetworkInvalid {
		return "", fmt.Errorf("chainclient: unknown network: %s", network)
	}
	scriptHash, err := hex.DecodeString(scriptHashHex)
	if err != nil {
		return "", fmt.Errorf("chainclient: decode script hash: %w", err)
	}
	addr, err := ledger.NewAddressFromParts(
		ledger.AddressTypeScriptNone,
		netParams.Id,
		scriptHash,
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("chainclient: derive script address: %w", err)
	}
	return addr.String(), nil
}

// DispatchAddress derives the dispatch script's base address: the same
// script hash as both payment and staking credential, since the
// dispatch script parameterizes both spending and withdrawing (spec
// §GLOSSARY "Dispatch script"). Its stake credential is registered
// on-chain separately by ExtractStage's first run for a vault.
func DispatchAddress(network, scriptHashHex string) (string, error) {
	netParams := ouroboros.NetworkByName(network)
	if netParams == ouroboros.NetworkInvalid {
		return "", fmt.Errorf("chainclient: unknown network: %s", network)
	}
	scriptHash, err := hex.DecodeString(scriptHashHex)
	if err != nil {
		return "", fmt.Errorf("chainclient: decode script hash: %w", err)
	}
	addr, err := ledger.NewAddressFromParts(
		ledger.AddressTypeScriptScript,
		netParams.Id,
		scriptHash,
		scriptHash,
	)
	if err != nil {
		return "", fmt.Errorf("chainclient: derive dispatch address: %w", err)
	}
	return addr.String(), nil
}

// UserAddress derives a user's enterprise (payment-credential-only)
// address from their raw payment key hash, grounded on the teacher's
// addressFromKeys (internal/spectrum/spectrum.go) with no stake key.
// Claims/Transactions record a user by payment key hash; stages resolve
// it to a payable address with this helper rather than storing both.
func UserAddress(network, pkhHex string) (string, error) {
	netParams := ouroboros.NetworkByName(network)
	if netParams == ouroboros.NetworkInvalid {
		return "", fmt.Errorf("chainclient: unknown network: %s", network)
	}
	pkh, err := hex.DecodeString(pkhHex)
	if err != nil {
		return "", fmt.Errorf("chainclient: decode payment key hash: %w", err)
	}
	addr, err := ledger.NewAddressFromParts(
		ledger.AddressTypeKeyNone,
		netParams.Id,
		pkh,
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("chainclient: derive user address: %w", err)
	}
	return addr.String(), nil
}
