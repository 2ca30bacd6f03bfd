// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockrelay/btcchain/internal/blockchain"
	"github.com/blockrelay/btcchain/internal/limits"
	"github.com/blockrelay/btcchain/internal/mining"
	"github.com/blockrelay/btcchain/internal/mining/cpuminer"
	"github.com/blockrelay/btcchain/internal/version"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// emptyTxSource is a mining.TxSource that never has any transactions to
// offer beyond the coinbase. Wiring a full mempool policy implementation is
// explicitly out of scope for this daemon (see the non-goals recorded in
// DESIGN.md), so block templates generated against this source only ever
// contain a coinbase transaction. It exists to give the mining package a
// valid, concurrency-safe implementation of its narrow TxSource interface
// without pulling in mempool orphan tracking or P2P transaction relay.
type emptyTxSource struct {
	updated time.Time
}

func newEmptyTxSource() *emptyTxSource {
	return &emptyTxSource{updated: time.Now()}
}

func (s *emptyTxSource) LastUpdated() time.Time { return s.updated }

func (s *emptyTxSource) HaveTransaction(hash *chainhash.Hash) bool { return false }

func (s *emptyTxSource) HaveAllTransactions(hashes []chainhash.Hash) bool {
	return len(hashes) == 0
}

func (s *emptyTxSource) MiningView() *mining.TxMiningView {
	return mining.NewTxMiningView(false, nil)
}

// btcchaindMain is the real main function for btcchaind. It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func btcchaindMain() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	if !cfg.NoFileLog {
		initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	}
	setLogLevels(cfg.DebugLevel)

	log.Infof("Version %s", version.String())

	if cfg.MaxMemoryLimitMB > 0 && limits.SupportsMemoryLimit {
		limits.SetMemoryLimit(cfg.MaxMemoryLimitMB * 1024 * 1024)
		log.Infof("Configured soft memory limit of %d MiB", cfg.MaxMemoryLimitMB)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	ctx := shutdownListener()

	db, err := blockchain.OpenChainDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("failed to open chain database: %w", err)
	}
	defer db.Close()

	sigCache := txscript.NewSigCache(cfg.SigCacheMaxSize)
	timeSource := blockchain.NewMedianTime()

	chain, err := blockchain.New(&blockchain.Config{
		DB:          db,
		Params:      cfg.params,
		TimeSource:  timeSource,
		SigCache:    sigCache,
		Checkpoints: !cfg.NoCheckpoints,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chain: %w", err)
	}

	policy := &mining.Policy{
		BlockMinWeight:      0,
		BlockMaxWeight:      uint32(cfg.params.MaxBlockWeight),
		BlockPriorityWeight: uint32(cfg.params.MaxBlockWeight / 20),
		TxMinFreeFee:        btcutil.Amount(1000),
	}

	tg := mining.NewBlkTmplGenerator(&mining.Config{
		Policy:                 policy,
		TxSource:               newEmptyTxSource(),
		TimeSource:             timeSource,
		Chain:                  chain,
		ChainParams:            cfg.params,
		MiningAddrs:            cfg.miningAddrs,
		IsFinalizedTransaction: chain.IsFinalizedTransaction,
	})

	bg := mining.NewBgBlkTmplGenerator(&mining.BgBlkTmplConfig{
		TemplateGenerator:   tg,
		MiningAddrs:         cfg.miningAddrs,
		AllowUnsyncedMining: true,
		IsCurrent:           chain.IsCurrent,
	})

	chain.Subscribe(func(n *blockchain.Notification) {
		switch n.Type {
		case blockchain.NTConnect:
			data := n.Data.(*blockchain.BlockConnectedData)
			bg.BlockConnected(data.Block)
		case blockchain.NTDisconnect:
			data := n.Data.(*blockchain.BlockDisconnectedData)
			bg.BlockDisconnected(data.Block)
		case blockchain.NTReorganize:
			bg.ChainReorgDone()
		}
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bg.Run(ctx)
	}()

	// There is deliberately no P2P layer wired in (see the non-goals
	// recorded in DESIGN.md), so there are no peers to relay solved
	// blocks to or receive blocks from. Connectionless mining lets the
	// CPU miner run against itself, submitting solved blocks directly
	// back into the local chain.
	var connectedCount atomic.Int32
	miner := cpuminer.New(&cpuminer.Config{
		ChainParams:                cfg.params,
		PermitConnectionlessMining: true,
		BgBlkTmplGenerator:         bg,
		ProcessBlock: func(block *btcutil.Block) error {
			return chain.Add(block)
		},
		ConnectedCount: func() int32 { return connectedCount.Load() },
		IsCurrent:      chain.IsCurrent,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		miner.Run(ctx)
	}()

	if cfg.Generate {
		miner.SetNumWorkers(int32(cfg.GenerateWorkers))
	}

	log.Infof("Chain state at startup: height %d, hash %v",
		chain.BestSnapshot().Height, chain.BestSnapshot().Hash)

	<-ctx.Done()
	wg.Wait()

	log.Info("Shutdown complete")
	return nil
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := btcchaindMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
