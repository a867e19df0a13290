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

package priceoracle

import (
	"testing"

	"github.com/cardano-vaults/distengine/internal/common"
	"github.com/cardano-vaults/distengine/internal/priceoracle/minswap"
)

func tokenClass() common.AssetClass {
	return common.AssetClass{PolicyId: []byte{0xaa}, Name: []byte("TOKEN")}
}

func TestDexMidPriceAdaOnOneSide(t *testing.T) {
	state := &minswap.PoolState{
		AssetX: common.AssetAmount{Class: common.Lovelace(), Amount: 2_000_000_000},
		AssetY: common.AssetAmount{Class: tokenClass(), Amount: 1_000_000_000},
	}
	price, class, ok := dexMidPrice(state)
	if !ok {
		t.Fatal("expected a price")
	}
	if class.Fingerprint() != tokenClass().Fingerprint() {
		t.Fatalf("expected the non-ADA side's class, got %s", class)
	}
	if want := uint64(2_000_000); price != want {
		t.Fatalf("expected %d lovelace per token, got %d", want, price)
	}
}

func TestDexMidPriceNoAdaSideReportsNoPrice(t *testing.T) {
	state := &minswap.PoolState{
		AssetX: common.AssetAmount{Class: tokenClass(), Amount: 100},
		AssetY: common.AssetAmount{Class: common.AssetClass{PolicyId: []byte{0xbb}, Name: []byte("OTHER")}, Amount: 200},
	}
	if _, _, ok := dexMidPrice(state); ok {
		t.Fatal("expected no price without an ADA leg")
	}
}

func TestMinswapSourceObserveThenPriceOf(t *testing.T) {
	s := NewMinswapSource()
	class := tokenClass()
	s.observe(&minswap.PoolState{
		AssetX: common.AssetAmount{Class: common.Lovelace(), Amount: 5_000_000},
		AssetY: common.AssetAmount{Class: class, Amount: 1_000_000},
	})
	price, ok := s.PriceOf(class.PolicyIdHex(), class.NameHex())
	if !ok {
		t.Fatal("expected a cached price after observe")
	}
	if want := uint64(5_000_000); price != want {
		t.Fatalf("expected %d, got %d", want, price)
	}
	if _, ok := s.PriceOf("ccdd", "ABSENT"); ok {
		t.Fatal("expected no price for an unobserved asset")
	}
}
