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

// Package txsubmit implements chainclient.Submitter over a remote
// tx-submit HTTP API, grounded on the teacher's internal/txsubmit/api.go
// (submitTxApi). The teacher's NtN connection-manager submission path
// (ntn.go) has no SPEC_FULL.md component to drive it: the engine submits
// from a single admin wallet through one configured endpoint, so that
// peer-to-peer fallback was dropped (see DESIGN.md).
package txsubmit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/blinklabs-io/gouroboros/ledger"
)

// HTTPSubmitter posts raw transaction CBOR to a cardano-submit-api
// compatible endpoint, the same request shape as the teacher's
// submitTxApi.
type HTTPSubmitter struct {
	url    string
	client *http.Client
}

// New builds an HTTPSubmitter against the given submit-API URL.
func New(url string) *HTTPSubmitter {
	return &HTTPSubmitter{url: url, client: http.DefaultClient}
}

// SubmitTx posts txBytes and returns its transaction hash, computed the
// same way the teacher's startApi goroutine does before logging it.
func (s *HTTPSubmitter) SubmitTx(ctx context.Context, txBytes []byte) (string, error) {
	txType, err := ledger.DetermineTransactionType(txBytes)
	if err != nil {
		return "", fmt.Errorf("txsubmit: determine transaction type: %w", err)
	}
	tx, err := ledger.NewTransactionFromCbor(txType, txBytes)
	if err != nil {
		return "", fmt.Errorf("txsubmit: parse transaction cbor: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(txBytes))
	if err != nil {
		return "", fmt.Errorf("txsubmit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/cbor")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("txsubmit: send request to %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("txsubmit: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		if len(respBody) == 0 {
			return "", errors.New("txsubmit: submission failed with empty response body")
		}
		return "", fmt.Errorf("txsubmit: unexpected response from %s: %d: %s", s.url, resp.StatusCode, respBody)
	}

	return tx.Hash().String(), nil
}
