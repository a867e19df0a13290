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

// Command distengine runs the distribution engine: it ticks the
// Orchestrator (spec §4.9) over every vault in the store, settling
// acquirer and contributor claims until each vault finalizes. Grounded
// on the teacher's cmd/shai/main.go (flag/config/logging bootstrap
// shape); "do something useful" is this engine's Orchestrator loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/blinklabs-io/bursa"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardano-vaults/distengine/internal/admin"
	"github.com/cardano-vaults/distengine/internal/chainclient"
	"github.com/cardano-vaults/distengine/internal/chainwatch"
	"github.com/cardano-vaults/distengine/internal/config"
	"github.com/cardano-vaults/distengine/internal/logging"
	"github.com/cardano-vaults/distengine/internal/orchestrator"
	"github.com/cardano-vaults/distengine/internal/priceoracle"
	"github.com/cardano-vaults/distengine/internal/sizeoracle"
	"github.com/cardano-vaults/distengine/internal/stage/extract"
	"github.com/cardano-vaults/distengine/internal/stage/pay"
	"github.com/cardano-vaults/distengine/internal/stage/update"
	"github.com/cardano-vaults/distengine/internal/store"
	"github.com/cardano-vaults/distengine/internal/txsubmit"
)

const programName = "distengine"

var cmdlineFlags struct {
	configFile string
}

func main() {
	flag.StringVar(&cmdlineFlags.configFile, "config", "", "path to config file to load")
	flag.Parse()

	cfg, err := config.Load(cmdlineFlags.configFile)
	if err != nil {
		fmt.Printf("Failed to load config: %s\n", err)
		os.Exit(1)
	}

	logger, err := logging.Configure(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to configure logging: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			return
		}
	}()

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Infof)); err != nil {
		logger.Warnf("%s: failed to set GOMAXPROCS: %v", programName, err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("%s: %v", programName, err)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	st, err := store.Open(cfg.Storage.Directory, logger.Warnf, logger.Infof, logger.Debugf)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	wallet, err := bursa.NewWallet(cfg.Wallet.Mnemonic)
	if err != nil {
		return fmt.Errorf("derive wallet: %w", err)
	}
	adminAddress := wallet.PaymentAddress

	submitter := txsubmit.New(cfg.Submit.Url)
	slots := slotSource{network: cfg.Network}
	client := chainclient.NewApolloClient(wallet, submitter, slots)

	watchedAddresses, err := initialWatchedAddresses(st, cfg.Network, adminAddress)
	if err != nil {
		return fmt.Errorf("collect watched addresses: %w", err)
	}
	watcher := chainwatch.New(cfg.Network, cfg.Indexer.Address, watchedAddresses, st, logger)

	priceDB, err := priceoracle.Open(filepath.Join(cfg.Storage.Directory, "prices"))
	if err != nil {
		return fmt.Errorf("open price cache: %w", err)
	}
	defer priceDB.Close()
	// DEX mid-price feed, fed by every pool-shaped output the watcher
	// observes (spec §4.2's dexPrice leg). No floor-price listing Source
	// is wired - the teacher carries no such feed, and CompositeOracle's
	// last-seen-price cache covers the gap when the DEX source misses.
	minswapSource := priceoracle.NewMinswapSource()
	watcher.AddEventFunc(minswapSource.HandleEvent)
	prices := priceoracle.New([]priceoracle.Source{minswapSource}, priceDB, logger)

	if err := watcher.Start(); err != nil {
		return fmt.Errorf("start chain watcher: %w", err)
	}
	defer watcher.Stop()

	oracle := sizeoracle.New(client)
	updateStage := update.New(client, watcher, oracle, cfg.Network, adminAddress, cfg.Engine.Fee, cfg.Engine.GroupingThreshold)
	extractStage := extract.New(client, watcher, st, oracle, cfg.Network, adminAddress, cfg.Engine.Fee, cfg.Engine.MaxAcquirerBatch, cfg.Engine.CoinDecimals)
	payStage := pay.New(client, watcher, st, oracle, cfg.Network, adminAddress, cfg.Engine.Fee, cfg.Engine.MinPayment, cfg.Engine.MaxPayBatch)

	orch := orchestrator.New(st, updateStage, extractStage, payStage, prices, watcher, cfg.Engine.CoinDecimals)
	_ = admin.New(st, updateStage, cfg.Engine.StuckVaultAge) // reachable via package callers (CLI/RPC front-ends are a Non-goal, spec §1)

	if cfg.Debug.ListenPort > 0 {
		logger.Infof("starting debug listener on %s:%d", cfg.Debug.ListenAddress, cfg.Debug.ListenPort)
		go func() {
			addr := fmt.Sprintf("%s:%d", cfg.Debug.ListenAddress, cfg.Debug.ListenPort)
			if err := http.ListenAndServe(addr, nil); err != nil {
				logger.Fatalf("failed to start debug listener: %s", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("%s: starting orchestrator, tick interval %s", programName, cfg.Engine.TickInterval)
	orch.Start(ctx, cfg.Engine.TickInterval)
	<-ctx.Done()
	orch.Stop()
	return nil
}

// initialWatchedAddresses seeds the Watcher with the admin wallet's own
// address plus every known vault's script and dispatch address, so a
// restart doesn't miss outputs already produced before the process came
// back up. Vaults stored after startup are not watched unless their
// addresses are passed to Watcher.AddWatchedAddress, which this process
// does not call.
func initialWatchedAddresses(st store.Store, network, adminAddress string) ([]string, error) {
	addresses := []string{adminAddress}
	vaults, err := st.ListVaults()
	if err != nil {
		return nil, err
	}
	for _, v := range vaults {
		scriptAddr, err := chainclient.ScriptAddress(network, v.ScriptHash)
		if err != nil {
			return nil, fmt.Errorf("script address for vault %s: %w", v.Id, err)
		}
		addresses = append(addresses, scriptAddr)
		if v.DispatchScriptHash == "" {
			continue
		}
		dispatchAddr, err := chainclient.DispatchAddress(network, v.DispatchScriptHash)
		if err != nil {
			return nil, fmt.Errorf("dispatch address for vault %s: %w", v.Id, err)
		}
		addresses = append(addresses, dispatchAddr)
	}
	return addresses, nil
}

// slotSource converts wall-clock time to a slot number via each
// network's Shelley-era linear offset, the same calculation the
// teacher's tx builders use for TTL, grounded on
// config.SlotFromUnixTime.
type slotSource struct {
	network string
}

func (s slotSource) CurrentSlot(_ context.Context) (uint64, error) {
	return config.SlotFromUnixTime(s.network, time.Now().Unix())
}
