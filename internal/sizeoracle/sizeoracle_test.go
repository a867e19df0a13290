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

package sizeoracle

import (
	"context"
	"testing"

	"github.com/cardano-vaults/distengine/internal/chainclient"
)

type fakeClient struct {
	size int
	err  error
}

func (f *fakeClient) Build(ctx context.Context, plan chainclient.Plan) (chainclient.BuildResult, error) {
	if f.err != nil {
		return chainclient.BuildResult{}, f.err
	}
	return chainclient.BuildResult{TxBytes: make([]byte, f.size), TxHash: "deadbeef", Bytes: f.size}, nil
}

func (f *fakeClient) Submit(ctx context.Context, txBytes []byte) (string, error) { return "", nil }

func (f *fakeClient) CurrentSlot(ctx context.Context) (uint64, error) { return 0, nil }

func TestMeasureFitsTarget(t *testing.T) {
	o := New(&fakeClient{size: 1000})
	r, err := o.Measure(context.Background(), chainclient.Plan{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.FitsMax || !r.FitsTarget {
		t.Fatalf("expected a small tx to fit both ceiling and target, got %+v", r)
	}
}

func TestMeasureUnderMaxButOverTarget(t *testing.T) {
	// Exercise a size that's within the 16384 ceiling but beyond the 85%
	// target band, which BatchSolver treats as "shrink further".
	o := New(&fakeClient{size: 15000})
	r, err := o.Measure(context.Background(), chainclient.Plan{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.FitsMax {
		t.Fatalf("expected 15000 bytes to fit under the 16384 ceiling")
	}
	if r.FitsTarget {
		t.Fatalf("expected 15000 bytes to exceed the 85%% target band")
	}
}

func TestMeasureOverCeiling(t *testing.T) {
	o := New(&fakeClient{size: 20000})
	r, err := o.Measure(context.Background(), chainclient.Plan{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.FitsMax || r.FitsTarget {
		t.Fatalf("expected an oversize tx to fail both checks, got %+v", r)
	}
}
