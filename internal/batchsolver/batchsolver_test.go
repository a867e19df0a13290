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

package batchsolver

import (
	"context"
	"testing"

	"github.com/cardano-vaults/distengine/internal/chainclient"
	"github.com/cardano-vaults/distengine/internal/packer"
	"github.com/cardano-vaults/distengine/internal/sizeoracle"
)

// bytesPerGroupClient simulates a linear relationship between group
// count and signed transaction size, so the binary search's behavior can
// be checked without a real Apollo backend.
type bytesPerGroupClient struct {
	bytesPerGroup int
}

func (c *bytesPerGroupClient) Build(ctx context.Context, plan chainclient.Plan) (chainclient.BuildResult, error) {
	size := len(plan.Outputs) * c.bytesPerGroup
	return chainclient.BuildResult{TxBytes: make([]byte, size), Bytes: size}, nil
}

func (c *bytesPerGroupClient) Submit(ctx context.Context, txBytes []byte) (string, error) { return "", nil }

func (c *bytesPerGroupClient) CurrentSlot(ctx context.Context) (uint64, error) { return 0, nil }

func groupsOfSize(n int) []packer.TransactionGroup {
	groups := make([]packer.TransactionGroup, n)
	for i := range groups {
		groups[i] = packer.TransactionGroup{TransactionIds: []string{"tx"}}
	}
	return groups
}

func planBuilderOneOutputPerGroup(groups []packer.TransactionGroup) chainclient.Plan {
	return chainclient.Plan{Outputs: make([]chainclient.Output, len(groups))}
}

func TestSolveSplitsIntoMultipleBatchesWhenOversize(t *testing.T) {
	// 100 bytes/group * 200 groups = 20000 bytes, well past the 16384
	// ceiling, so this must split into more than one batch.
	oracle := sizeoracle.New(&bytesPerGroupClient{bytesPerGroup: 100})
	s := New(oracle, planBuilderOneOutputPerGroup)

	batches, err := s.Solve(context.Background(), groupsOfSize(200), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) < 2 {
		t.Fatalf("expected multiple batches, got %d", len(batches))
	}

	var total int
	for _, b := range batches {
		total += len(b.Groups)
	}
	if total != 200 {
		t.Fatalf("expected all 200 groups accounted for across batches, got %d", total)
	}
}

func TestSolveSingleBatchWhenSmall(t *testing.T) {
	oracle := sizeoracle.New(&bytesPerGroupClient{bytesPerGroup: 100})
	s := New(oracle, planBuilderOneOutputPerGroup)

	batches, err := s.Solve(context.Background(), groupsOfSize(5), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch for a small group set, got %d", len(batches))
	}
	if len(batches[0].Groups) != 5 {
		t.Fatalf("expected all 5 groups in the one batch, got %d", len(batches[0].Groups))
	}
}

func TestSolveManualModeBypassesSizing(t *testing.T) {
	oracle := sizeoracle.New(&bytesPerGroupClient{bytesPerGroup: 100})
	s := New(oracle, planBuilderOneOutputPerGroup)

	batches, err := s.Solve(context.Background(), groupsOfSize(500), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 1 || len(batches[0].Groups) != 500 {
		t.Fatalf("expected manual mode to bypass solving into a single batch, got %d batches", len(batches))
	}
}

func TestSolveFailsWhenSingleGroupExceedsTarget(t *testing.T) {
	// A single group alone already costs more than the target allows.
	oracle := sizeoracle.New(&bytesPerGroupClient{bytesPerGroup: 20000})
	s := New(oracle, planBuilderOneOutputPerGroup)

	_, err := s.Solve(context.Background(), groupsOfSize(3), false)
	if err == nil {
		t.Fatalf("expected a size overflow error")
	}
}
