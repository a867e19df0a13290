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

// Package chainwatch watches the chain for confirmations, rollbacks and
// already-spent UTxOs. Grounded on the teacher's internal/indexer/
// indexer.go (adder pipeline wiring, cursor persistence, periodic
// catch-up logging) and internal/fluidtokens/fluidtokens.go's
// handleTransaction/handleRollback (Consumed()/Produced() UTxO
// classification against a tracked set).
package chainwatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/adder/event"
	input_chainsync "github.com/blinklabs-io/adder/input/chainsync"
	output_embedded "github.com/blinklabs-io/adder/output/embedded"
	"github.com/blinklabs-io/adder/pipeline"
	ocommon "github.com/blinklabs-io/gouroboros/protocol/common"

	"github.com/cardano-vaults/distengine/internal/store"
)

// syncStatusLogInterval mirrors the teacher's catch-up log cadence.
const syncStatusLogInterval = 30 * time.Second

// EventFunc is a caller-registered hook invoked for every chain event,
// after the Watcher's own bookkeeping has run.
type EventFunc func(event.Event) error

// Logger is the minimal structured logging surface chainwatch needs,
// satisfied by *logging.Logger.
type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Errorf(string, ...any)
}

// Watcher tracks confirmation depth and already-spent inputs for the
// vault script addresses and wallet address the engine cares about.
type Watcher struct {
	network          string
	indexerAddress   string
	watchedAddresses []string
	store            store.Store
	logger           Logger

	pipeline   *pipeline.Pipeline
	eventFuncs []EventFunc

	mu          sync.RWMutex
	spentBy     map[string]string // "txHash#index" -> consuming tx hash
	confirmedAt map[string]uint64 // txHash -> slot first seen confirmed

	// utxos/byAddress track unspent outputs the engine cares about, fed
	// by Produced()/Consumed() the same way spentBy is, so that stage
	// packages can resolve a Plan's inputs from chain state rather than
	// a live node query (spec §6's BlockchainClient boundary).
	utxos     map[string]trackedUtxo // "txHash#index" -> output
	byAddress map[string][]string    // address -> "txHash#index" keys

	syncLogTimer *time.Timer
	cursorSlot   uint64
	cursorHash   string
	tipSlot      uint64
	tipHash      string
}

// New builds a Watcher. indexerAddress is the chainsync peer to dial (a
// relay host:port or a local UNIX socket path); network selects the
// chain parameters adder/gouroboros need.
func New(network, indexerAddress string, watchedAddresses []string, st store.Store, logger Logger) *Watcher {
	return &Watcher{
		network:          network,
		indexerAddress:   indexerAddress,
		watchedAddresses: watchedAddresses,
		store:            st,
		logger:           logger,
		spentBy:          make(map[string]string),
		confirmedAt:      make(map[string]uint64),
		utxos:            make(map[string]trackedUtxo),
		byAddress:        make(map[string][]string),
	}
}

// AddWatchedAddress registers another address whose produced outputs
// should be tracked, e.g. a vault's script or dispatch address the
// moment its vault is created. Safe to call after Start.
func (w *Watcher) AddWatchedAddress(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isWatched(address) {
		return
	}
	w.watchedAddresses = append(w.watchedAddresses, address)
}

// AddEventFunc registers an additional handler invoked on every event,
// after IsSpent/confirmation bookkeeping.
func (w *Watcher) AddEventFunc(fn EventFunc) {
	w.eventFuncs = append(w.eventFuncs, fn)
}

// Start connects to the chain and begins streaming events. loadCursor
// never reports a saved position, so no intersect point is passed and
// the chainsync input starts from its own default position.
func (w *Watcher) Start() error {
	w.pipeline = pipeline.New()

	inputOpts := []input_chainsync.ChainSyncOptionFunc{
		input_chainsync.WithBulkMode(true),
		input_chainsync.WithAutoReconnect(true),
		input_chainsync.WithStatusUpdateFunc(w.updateStatus),
		input_chainsync.WithNetwork(w.network),
		input_chainsync.WithIncludeCbor(true),
	}
	if w.indexerAddress != "" {
		inputOpts = append(inputOpts, input_chainsync.WithAddress(w.indexerAddress))
	}

	if point, ok, err := w.loadCursor(); err != nil {
		return err
	} else if ok {
		inputOpts = append(inputOpts, input_chainsync.WithIntersectPoints([]ocommon.Point{point}))
	}

	w.pipeline.AddInput(input_chainsync.New(inputOpts...))
	w.pipeline.AddOutput(output_embedded.New(
		output_embedded.WithCallbackFunc(w.handleEvent),
	))

	if err := w.pipeline.Start(); err != nil {
		return fmt.Errorf("chainwatch: start pipeline: %w", err)
	}
	go func() {
		if err, ok := <-w.pipeline.ErrorChan(); ok {
			if w.logger != nil {
				w.logger.Errorf("chainwatch: pipeline failed: %v", err)
			}
		}
	}()
	w.scheduleSyncStatusLog()
	return nil
}

func (w *Watcher) loadCursor() (ocommon.Point, bool, error) {
	// The engine keeps no cursor record, so there is never a resume
	// point to report. Re-deriving confirmations/spent-sets from events
	// already seen is idempotent.
	return ocommon.Point{}, false, nil
}

func (w *Watcher) updateStatus(status input_chainsync.ChainSyncStatus) {
	w.mu.Lock()
	w.cursorSlot = status.SlotNumber
	w.cursorHash = status.BlockHash
	w.tipSlot = status.TipSlotNumber
	w.tipHash = status.TipBlockHash
	w.mu.Unlock()
}

func (w *Watcher) scheduleSyncStatusLog() {
	w.syncLogTimer = time.AfterFunc(syncStatusLogInterval, func() {
		w.mu.RLock()
		slot, tip := w.cursorSlot, w.tipSlot
		w.mu.RUnlock()
		if w.logger != nil {
			w.logger.Infof("chainwatch: sync progress slot=%d tip=%d", slot, tip)
		}
		w.scheduleSyncStatusLog()
	})
}

// Stop halts the pipeline and sync-status timer.
func (w *Watcher) Stop() {
	if w.syncLogTimer != nil {
		w.syncLogTimer.Stop()
	}
	if w.pipeline != nil {
		_ = w.pipeline.Stop()
	}
}

func (w *Watcher) handleEvent(evt event.Event) error {
	switch payload := evt.Payload.(type) {
	case event.TransactionEvent:
		w.handleTransaction(evt, payload)
	case event.RollbackEvent:
		w.handleRollback(payload)
	}
	for _, fn := range w.eventFuncs {
		if err := fn(evt); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) handleTransaction(evt event.Event, txEvt event.TransactionEvent) {
	ctx, ok := evt.Context.(event.TransactionContext)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.confirmedAt[ctx.TransactionHash] = ctx.SlotNumber
	for _, in := range txEvt.Transaction.Consumed() {
		key := utxoKey(in.Id().String(), in.Index())
		w.spentBy[key] = ctx.TransactionHash
		delete(w.utxos, key)
	}
	for _, out := range txEvt.Transaction.Produced() {
		addr := out.Output.Address().String()
		if !w.isWatched(addr) {
			continue
		}
		key := utxoKey(ctx.TransactionHash, out.Id.Index())
		w.utxos[key] = trackedUtxo{
			txHash:     ctx.TransactionHash,
			index:      out.Id.Index(),
			address:    addr,
			outputCbor: out.Output.Cbor(),
		}
		w.byAddress[addr] = append(w.byAddress[addr], key)
	}
}

func (w *Watcher) isWatched(address string) bool {
	for _, a := range w.watchedAddresses {
		if a == address {
			return true
		}
	}
	return false
}

func (w *Watcher) handleRollback(evt event.RollbackEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for txHash, slot := range w.confirmedAt {
		if slot >= evt.SlotNumber {
			delete(w.confirmedAt, txHash)
		}
	}
}

// IsSpent reports whether a UTxO has already been consumed by some
// observed transaction, and if so, by which tx hash. Stages use this to
// distinguish KindInputConsumedElsewhere from a generic build failure.
func (w *Watcher) IsSpent(txHash string, index uint32) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	by, ok := w.spentBy[utxoKey(txHash, index)]
	return by, ok
}

// ConfirmationDepth returns how many slots behind the current tip a
// transaction's confirming block is, or (0, false) if it hasn't been
// seen.
func (w *Watcher) ConfirmationDepth(txHash string) (uint64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	slot, ok := w.confirmedAt[txHash]
	if !ok {
		return 0, false
	}
	if w.tipSlot < slot {
		return 0, true
	}
	return w.tipSlot - slot, true
}

func utxoKey(txHash string, index uint32) string {
	return fmt.Sprintf("%s#%d", txHash, index)
}
