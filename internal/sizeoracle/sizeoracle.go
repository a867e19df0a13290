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

// Package sizeoracle implements the SizeOracle component (spec §4.4):
// the only way the engine learns whether a candidate batch fits on
// chain is to actually build it and measure the signed bytes, the same
// way the teacher's tx.go builders always finish with
// tx.GetTx().Bytes() and log the resulting length.
package sizeoracle

import (
	"context"
	"fmt"

	"github.com/cardano-vaults/distengine/internal/chainclient"
)

// MaxTxBytes is the hard Cardano transaction size ceiling.
const MaxTxBytes = 16384

// TargetFraction is the fraction of MaxTxBytes a batch should stay
// under, leaving headroom for fee/witness drift between estimate and
// final submission.
const TargetFraction = 0.85

// Report is one size measurement against the ceiling and the target.
type Report struct {
	Bytes        int
	PercentOfMax float64
	FitsMax      bool
	FitsTarget   bool
	BuildResult  chainclient.BuildResult
}

// Oracle measures a candidate Plan's signed on-chain size by actually
// building it.
type Oracle struct {
	client chainclient.BlockchainClient
}

// New builds a SizeOracle around a BlockchainClient.
func New(client chainclient.BlockchainClient) *Oracle {
	return &Oracle{client: client}
}

// Measure builds plan and reports its size against MaxTxBytes and the
// 85% target. A build failure (e.g. the plan genuinely doesn't fit and
// Apollo errors during fee completion) returns a non-fitting report
// together with the wrapped build error; BatchSolver's binary search
// treats that error as "doesn't fit", the same as an oversize
// measurement.
func (o *Oracle) Measure(ctx context.Context, plan chainclient.Plan) (Report, error) {
	res, err := o.client.Build(ctx, plan)
	if err != nil {
		return Report{FitsMax: false, FitsTarget: false}, fmt.Errorf("sizeoracle: build: %w", err)
	}
	pct := float64(res.Bytes) / float64(MaxTxBytes)
	return Report{
		Bytes:        res.Bytes,
		PercentOfMax: pct,
		FitsMax:      res.Bytes <= MaxTxBytes,
		FitsTarget:   pct <= TargetFraction,
		BuildResult:  res,
	}, nil
}
