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

// Package batchsolver implements the BatchSolver component (spec §4.5):
// given the packer's transaction groups, find the largest size-feasible
// prefix under the SizeOracle's 85% target, one group at a time, never
// splitting a single group (a policy-level tuple's contributing
// transactions travel together) across two batches.
package batchsolver

import (
	"context"

	"github.com/cardano-vaults/distengine/internal/chainclient"
	"github.com/cardano-vaults/distengine/internal/packer"
	"github.com/cardano-vaults/distengine/internal/sizeoracle"
	"github.com/cardano-vaults/distengine/internal/vault"
)

// PlanBuilder builds a trial Plan for a prefix of transaction groups, so
// the Oracle can measure its signed size. Stages supply this since only
// they know the rest of the transaction shape (the vault's own input,
// the datum, reference scripts).
type PlanBuilder func(groups []packer.TransactionGroup) chainclient.Plan

// Batch is one size-feasible slice of transaction groups plus its
// flattened tuple lists, ready to be turned into a single on-chain
// transaction by the calling stage.
type Batch struct {
	Groups     []packer.TransactionGroup
	VtTuples   []vault.MultiplierTuple
	CoinTuples []vault.MultiplierTuple
}

// Solver runs the binary search described above.
type Solver struct {
	oracle      *sizeoracle.Oracle
	planBuilder PlanBuilder
}

// New builds a BatchSolver around a SizeOracle and the stage's PlanBuilder.
func New(oracle *sizeoracle.Oracle, planBuilder PlanBuilder) *Solver {
	return &Solver{oracle: oracle, planBuilder: planBuilder}
}

// Solve partitions groups into size-feasible batches. When manualMode is
// true the solver is bypassed entirely and every group is returned as a
// single batch: the operator has taken over batch sizing via the admin
// submitBatchManual path and accepts whatever size results (spec.md §9
// Open Question #1 resolution, internal/admin).
func (s *Solver) Solve(ctx context.Context, groups []packer.TransactionGroup, manualMode bool) ([]Batch, error) {
	if manualMode || len(groups) == 0 {
		return []Batch{flatten(groups)}, nil
	}

	var batches []Batch
	remaining := groups
	for len(remaining) > 0 {
		k, err := s.largestFeasiblePrefix(ctx, remaining)
		if err != nil {
			return nil, err
		}
		if k == 0 {
			// Even the single next group alone doesn't fit under the
			// target; a contribution transaction's assets can't be
			// split across batches, so this is a hard failure rather
			// than something coin-list trimming can repair.
			return nil, vault.NewError(
				vault.KindSizeOverflow,
				"single transaction group exceeds size target and cannot be split",
				nil,
			)
		}
		batches = append(batches, flatten(remaining[:k]))
		remaining = remaining[k:]
	}
	return batches, nil
}

// EstimateTotalBatches recursively estimates how many batches Solve
// would produce, without building every intermediate transaction: it
// reuses the same binary search but only measures the prefixes the
// search needs, the same cost as an actual Solve. Used by the Update
// stage to populate Vault.TotalBatches up front.
func (s *Solver) EstimateTotalBatches(ctx context.Context, groups []packer.TransactionGroup, manualMode bool) (uint32, error) {
	batches, err := s.Solve(ctx, groups, manualMode)
	if err != nil {
		return 0, err
	}
	return uint32(len(batches)), nil
}

// largestFeasiblePrefix binary searches for the largest k in [1, len(groups)]
// such that the first k groups fit under the SizeOracle's 85% target.
func (s *Solver) largestFeasiblePrefix(ctx context.Context, groups []packer.TransactionGroup) (int, error) {
	fits := func(k int) (bool, error) {
		plan := s.planBuilder(groups[:k])
		report, err := s.oracle.Measure(ctx, plan)
		if err != nil {
			// A build failure at this prefix size counts as "doesn't
			// fit" rather than a hard error: the caller's binary search
			// narrows away from it the same as an oversize measurement.
			return false, nil
		}
		return report.FitsTarget, nil
	}

	lo, hi, best := 1, len(groups), 0
	for lo <= hi {
		mid := (lo + hi) / 2
		ok, err := fits(mid)
		if err != nil {
			return 0, err
		}
		if ok {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, nil
}

func flatten(groups []packer.TransactionGroup) Batch {
	b := Batch{Groups: groups}
	for _, g := range groups {
		b.VtTuples = append(b.VtTuples, g.VtTuples...)
		b.CoinTuples = append(b.CoinTuples, g.CoinTuples...)
	}
	return b
}
