// Copyright (c) 2018-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"path/filepath"
	"testing"

	"github.com/blockrelay/btcchain/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()

	db, err := OpenChainDB(filepath.Join(t.TempDir(), "chain"))
	if err != nil {
		t.Fatalf("OpenChainDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	chain, err := New(&Config{
		DB:     db,
		Params: &chaincfg.RegressionNetParams,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return chain
}

func TestChainGenesisQueries(t *testing.T) {
	chain := newTestChain(t)
	genesisHash := chaincfg.RegressionNetParams.GenesisHash

	snapshot := chain.BestSnapshot()
	if snapshot.Height != 0 {
		t.Fatalf("expected genesis-only chain to be at height 0, got %d", snapshot.Height)
	}
	if snapshot.Hash != genesisHash {
		t.Fatalf("tip hash %v does not match genesis hash %v", snapshot.Hash, genesisHash)
	}

	if !chain.HaveBlock(&genesisHash) {
		t.Error("expected HaveBlock to report true for the genesis block")
	}

	block, err := chain.BlockByHash(genesisHash)
	if err != nil {
		t.Fatalf("BlockByHash failed: %v", err)
	}
	if block == nil || *block.Hash() != genesisHash {
		t.Fatalf("BlockByHash returned unexpected block: %+v", block)
	}

	hash, ok := chain.BlockHashByHeight(0)
	if !ok || hash != genesisHash {
		t.Fatalf("BlockHashByHeight(0) = %v, %v, want %v, true", hash, ok, genesisHash)
	}

	if _, ok := chain.BlockHashByHeight(1); ok {
		t.Error("expected BlockHashByHeight to fail for a height beyond the tip")
	}

	height, ok := chain.HeightByHash(genesisHash)
	if !ok || height != 0 {
		t.Fatalf("HeightByHash = %d, %v, want 0, true", height, ok)
	}

	unknownHash := genesisHash
	unknownHash[0] ^= 0xff
	if chain.HaveBlock(&unknownHash) {
		t.Error("expected HaveBlock to report false for an unknown hash")
	}
	if _, ok := chain.HeightByHash(unknownHash); ok {
		t.Error("expected HeightByHash to fail for an unknown hash")
	}

	tips := chain.ChainTips()
	if len(tips) != 1 {
		t.Fatalf("expected a single chain tip on a genesis-only chain, got %d", len(tips))
	}
	if !tips[0].Active || tips[0].Hash != genesisHash || tips[0].Height != 0 {
		t.Fatalf("unexpected chain tip: %+v", tips[0])
	}
}

func TestChainFetchUtxoEntryGenesisCoinbaseUnspendable(t *testing.T) {
	chain := newTestChain(t)

	// The genesis block is stored via storeGenesis without ever running
	// its coinbase through the coin-set machinery, matching the network
	// rule that the genesis coinbase output can never be spent.
	coinbase := chaincfg.RegressionNetParams.GenesisBlock.Transactions[0]
	txHash := coinbase.TxHash()

	utxo, err := chain.FetchUtxoEntry(wire.OutPoint{Hash: txHash, Index: 0})
	if err != nil {
		t.Fatalf("FetchUtxoEntry failed: %v", err)
	}
	if utxo != nil {
		t.Fatalf("expected the genesis coinbase output to be absent from the utxo set, got %+v", utxo)
	}
}

func TestChainGetOrphanRootNotOrphan(t *testing.T) {
	chain := newTestChain(t)
	genesisHash := chaincfg.RegressionNetParams.GenesisHash

	root := chain.GetOrphanRoot(&genesisHash)
	if root != genesisHash {
		t.Fatalf("expected GetOrphanRoot to return the hash itself for a non-orphan, got %v", root)
	}
	if chain.IsKnownOrphan(&genesisHash) {
		t.Error("expected the genesis block to not be a known orphan")
	}
}

func TestChainVerifyProgressGenesis(t *testing.T) {
	chain := newTestChain(t)
	if got := chain.VerifyProgress(); got != 0.0 {
		t.Fatalf("expected 0%% verify progress on a genesis-only chain, got %v", got)
	}
}
