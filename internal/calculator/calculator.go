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

// Package calculator turns a locked vault's confirmed contribution and
// acquisition transactions into per-user Claim records, per spec §4.2.
package calculator

import (
	"math/big"

	"github.com/cardano-vaults/distengine/internal/arith"
	"github.com/cardano-vaults/distengine/internal/vault"
)

// Inputs bundles everything the Calculator needs for one vault run.
type Inputs struct {
	Vault         vault.Vault
	CoinDecimals  uint8 // decimals of the native coin, 6 on mainnet
	Contributions []vault.Transaction
	Acquisitions  []vault.Transaction
}

// Result is everything the Calculator produces: the claims plus the LP
// split and normalization values the MultiplierPacker and downstream
// stages need.
type Result struct {
	// ThresholdMet is false when totalAcquiredCoin fell below the
	// required reserve threshold; in that case Claims is empty and the
	// caller must transition the vault to Failed.
	ThresholdMet bool

	TotalTvl          uint64
	TotalAcquiredCoin uint64
	LpCoin            uint64
	LpVt              uint64
	CoinPairMultiplier uint64
	AdjustedLpVt      uint64
	AcquireMultiplier uint64 // the single normalized acquirer multiplier

	Claims []vault.Claim
}

// Calculate runs the full §4.2 pipeline: threshold check, LP split,
// acquirer-claim computation with acquirer-multiplier normalization, and
// proportional contributor-claim computation.
func Calculate(in Inputs) Result {
	v := in.Vault
	coinScale := arith.Pow10(in.CoinDecimals)

	totalTvl := uint64(0)
	for _, tx := range in.Contributions {
		totalTvl += tx.TotalAssetValue()
	}

	totalAcquiredCoin := uint64(0)
	for _, tx := range in.Acquisitions {
		totalAcquiredCoin += tx.CoinAmount
	}

	requiredThreshold := mulDiv3(totalTvl, v.TokensForAcquirersPct, v.AcquireReservePct, 10000)
	if totalAcquiredCoin < requiredThreshold {
		return Result{
			ThresholdMet:      false,
			TotalTvl:          totalTvl,
			TotalAcquiredCoin: totalAcquiredCoin,
		}
	}

	vtSupplyScaled := v.VtTokenSupply * arith.Pow10(v.VtDecimals)

	// fdv = floor(totalAcquiredCoin * 100 / tokensForAcquirersPct)
	fdv := arith.FloorMulDiv(totalAcquiredCoin, 100, v.TokensForAcquirersPct)

	lpCoin := mulDiv2(v.LpPct, fdv, 200)
	lpVt := mulDiv2(v.LpPct, vtSupplyScaled, 200)

	denom := totalAcquiredCoin * coinScale
	coinPairMultiplier := arith.FloorDiv(lpVt, denom)
	adjustedLpVt := coinPairMultiplier * denom

	acquirerPoolVt := uint64(0)
	if vtSupplyScaled > lpVt {
		acquirerPoolVt = vtSupplyScaled - lpVt
	}

	claims := make([]vault.Claim, 0, len(in.Acquisitions)+len(in.Contributions))

	// --- Acquirer claims ---
	type acquirerCalc struct {
		tx         vault.Transaction
		multiplier uint64
	}
	var acquirerCalcs []acquirerCalc
	var minMultiplier uint64
	haveMin := false
	for _, tx := range in.Acquisitions {
		a := tx.CoinAmount
		if a == 0 || totalAcquiredCoin == 0 {
			acquirerCalcs = append(acquirerCalcs, acquirerCalc{tx: tx, multiplier: 0})
			continue
		}
		// vtReceived = floor(a/totalAcquiredCoin * tokensForAcquirersPct/100 * acquirerPoolVt)
		vtReceived := mulDiv3Big(a, v.TokensForAcquirersPct, acquirerPoolVt, totalAcquiredCoin*100)
		denomUnit := a * coinScale
		mult := arith.FloorDiv(vtReceived, denomUnit)
		acquirerCalcs = append(acquirerCalcs, acquirerCalc{tx: tx, multiplier: mult})
		if !haveMin || mult < minMultiplier {
			minMultiplier = mult
			haveMin = true
		}
	}
	if !haveMin {
		minMultiplier = 0
	}
	for _, ac := range acquirerCalcs {
		a := ac.tx.CoinAmount
		vtAmount := minMultiplier * a * coinScale
		claims = append(claims, vault.Claim{
			VaultId:       v.Id,
			UserId:        ac.tx.UserId,
			TransactionId: ac.tx.Id,
			Type:          vault.ClaimTypeAcquirer,
			VtAmount:      vtAmount,
			CoinAmount:    0,
			Multiplier:    minMultiplier,
			Status:        vault.ClaimPending,
		})
	}

	// --- Contributor claims ---
	coinForContributors := uint64(0)
	if totalAcquiredCoin > lpCoin {
		coinForContributors = totalAcquiredCoin - lpCoin
	}

	userValue := map[string]uint64{}
	userTxs := map[string][]vault.Transaction{}
	var userOrder []string
	for _, tx := range in.Contributions {
		if _, seen := userTxs[tx.UserId]; !seen {
			userOrder = append(userOrder, tx.UserId)
		}
		userValue[tx.UserId] += tx.TotalAssetValue()
		userTxs[tx.UserId] = append(userTxs[tx.UserId], tx)
	}

	// Iterate users in order of first appearance (not map order) so the
	// claim list - and therefore the packer's tuple order - is stable
	// across runs, per spec's "natural iteration order of claims" rule.
	for _, userId := range userOrder {
		txs := userTxs[userId]
		uVal := userValue[userId]
		// userTotalVt = floor(acquirerPoolVt * (100-pct) * userValue / (100*totalTvl))
		userTotalVt := uint64(0)
		if totalTvl > 0 {
			userTotalVt = mulDiv3Big(acquirerPoolVt, 100-v.TokensForAcquirersPct, uVal, 100*totalTvl)
		}
		for _, tx := range txs {
			tVal := tx.TotalAssetValue()
			vtAmount := uint64(0)
			if uVal > 0 {
				vtAmount = arith.FloorMulDiv(userTotalVt, tVal, uVal)
			}
			coinAmount := uint64(0)
			if totalTvl > 0 {
				coinAmount = mulDiv3Big(coinForContributors, tVal, coinScale, totalTvl)
			}
			claims = append(claims, vault.Claim{
				VaultId:       v.Id,
				UserId:        userId,
				TransactionId: tx.Id,
				Type:          vault.ClaimTypeContributor,
				VtAmount:      vtAmount,
				CoinAmount:    coinAmount,
				Status:        vault.ClaimPending,
			})
		}
	}

	return Result{
		ThresholdMet:       true,
		TotalTvl:           totalTvl,
		TotalAcquiredCoin:  totalAcquiredCoin,
		LpCoin:             lpCoin,
		LpVt:               lpVt,
		CoinPairMultiplier: coinPairMultiplier,
		AdjustedLpVt:       adjustedLpVt,
		AcquireMultiplier:  minMultiplier,
		Claims:             claims,
	}
}

// mulDiv2 computes floor(a*b/den) for two uint64 factors, using big.Int
// to avoid overflow.
func mulDiv2(a, b, den uint64) uint64 {
	return arith.FloorMulDiv(a, b, den)
}

// mulDiv3 computes floor(a*b*c/den) for three uint64 factors.
func mulDiv3(a, b, c, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	prod.Mul(prod, new(big.Int).SetUint64(c))
	q := new(big.Int).Quo(prod, new(big.Int).SetUint64(den))
	return q.Uint64()
}

// mulDiv3Big is an alias of mulDiv3 kept distinct for call sites where
// the product is expected to regularly need the full big.Int width (the
// VT-side formulas, which multiply a coin amount, a percentage and a
// base-unit VT pool together).
func mulDiv3Big(a, b, c, den uint64) uint64 {
	return mulDiv3(a, b, c, den)
}
