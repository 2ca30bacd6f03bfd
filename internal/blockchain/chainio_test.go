// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/math/uint256"
)

func newIndexTestEntry(hash chainhash.Hash, height int64, parent *chainEntry) *chainEntry {
	e := &chainEntry{
		hash:      hash,
		height:    height,
		version:   1,
		bits:      0x1d00ffff,
		timestamp: 1231006505,
		nonce:     2083236893,
		parent:    parent,
		status:    statusDataStored | statusValid,
	}
	e.workSum = *new(uint256.Uint256).SetBig(big.NewInt(height + 1))
	return e
}

func TestSerializeDeserializeEntry(t *testing.T) {
	var parentHash chainhash.Hash
	parentHash[0] = 0xaa
	parent := newIndexTestEntry(parentHash, 99, nil)

	var hash chainhash.Hash
	hash[0] = 0xbb
	entry := newIndexTestEntry(hash, 100, parent)
	entry.merkleRoot[0] = 0xcc

	data := serializeEntry(entry)

	lookup := map[chainhash.Hash]*chainEntry{parentHash: parent}
	got, err := deserializeEntry(hash, data, func(h chainhash.Hash) *chainEntry {
		return lookup[h]
	})
	if err != nil {
		t.Fatalf("deserializeEntry failed: %v", err)
	}

	if got.height != entry.height {
		t.Errorf("height: got %d, want %d", got.height, entry.height)
	}
	if got.version != entry.version {
		t.Errorf("version: got %d, want %d", got.version, entry.version)
	}
	if got.bits != entry.bits {
		t.Errorf("bits: got %d, want %d", got.bits, entry.bits)
	}
	if got.timestamp != entry.timestamp {
		t.Errorf("timestamp: got %d, want %d", got.timestamp, entry.timestamp)
	}
	if got.merkleRoot != entry.merkleRoot {
		t.Errorf("merkleRoot: got %v, want %v", got.merkleRoot, entry.merkleRoot)
	}
	if got.nonce != entry.nonce {
		t.Errorf("nonce: got %d, want %d", got.nonce, entry.nonce)
	}
	if got.status != entry.status {
		t.Errorf("status: got %v, want %v", got.status, entry.status)
	}
	if got.workSum.ToBig().Cmp(entry.workSum.ToBig()) != 0 {
		t.Errorf("workSum: got %v, want %v", got.workSum, entry.workSum)
	}
	if got.parent == nil || got.parent.hash != parentHash {
		t.Fatalf("parent not relinked: got %+v", got.parent)
	}
}

func TestDeserializeEntryNoParent(t *testing.T) {
	entry := newIndexTestEntry(chainhash.Hash{0x01}, 0, nil)
	data := serializeEntry(entry)

	got, err := deserializeEntry(entry.hash, data, func(chainhash.Hash) *chainEntry {
		t.Fatal("lookupParent should not be called for a zero parent hash")
		return nil
	})
	if err != nil {
		t.Fatalf("deserializeEntry failed: %v", err)
	}
	if got.parent != nil {
		t.Errorf("expected nil parent, got %+v", got.parent)
	}
}

func openTestChainDB(t *testing.T) *ChainDB {
	t.Helper()
	db, err := OpenChainDB(filepath.Join(t.TempDir(), "chain"))
	if err != nil {
		t.Fatalf("OpenChainDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testBlock(extraNonce byte) *btcutil.Block {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{extraNonce},
	})
	msgTx.AddTxOut(&wire.TxOut{Value: 5000000000, PkScript: []byte{0x51}})

	msgBlock := &wire.MsgBlock{
		Header:       wire.BlockHeader{Nonce: uint32(extraNonce)},
		Transactions: []*wire.MsgTx{msgTx},
	}
	return btcutil.NewBlock(msgBlock)
}

func TestChainDBSaveAndGetTip(t *testing.T) {
	db := openTestChainDB(t)

	if tip, err := db.GetTip(); err != nil || tip != nil {
		t.Fatalf("expected no tip in an empty database, got %+v, err %v", tip, err)
	}

	block := testBlock(0)
	block.SetHeight(0)
	entry := newIndexTestEntry(*block.Hash(), 0, nil)

	if err := db.Save(entry, block, nil, nil, true); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !db.HasEntry(entry.hash) {
		t.Fatal("expected HasEntry to report true after Save")
	}

	tip, err := db.GetTip()
	if err != nil {
		t.Fatalf("GetTip failed: %v", err)
	}
	if tip == nil || tip.hash != entry.hash {
		t.Fatalf("GetTip returned %+v, want hash %v", tip, entry.hash)
	}

	gotBlock, err := db.GetBlock(entry.hash)
	if err != nil {
		t.Fatalf("GetBlock failed: %v", err)
	}
	if gotBlock == nil || *gotBlock.Hash() != *block.Hash() {
		t.Fatalf("GetBlock returned unexpected block: %+v", gotBlock)
	}
}

func TestChainDBUnknownEntry(t *testing.T) {
	db := openTestChainDB(t)

	entry, err := db.GetEntry(chainhash.Hash{0x42})
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry for unknown hash, got %+v", entry)
	}

	block, err := db.GetBlock(chainhash.Hash{0x42})
	if err != nil {
		t.Fatalf("GetBlock failed: %v", err)
	}
	if block != nil {
		t.Fatalf("expected nil block for unknown hash, got %+v", block)
	}
}

func TestChainDBFetchUtxoEntryAndHasCoins(t *testing.T) {
	db := openTestChainDB(t)

	block := testBlock(1)
	block.SetHeight(1)
	tx := block.Transactions()[0]

	view := NewUtxoViewpoint(db)
	view.AddTxOuts(tx, int64(block.Height()))

	entry := newIndexTestEntry(*block.Hash(), 1, nil)
	if err := db.Save(entry, block, view, nil, true); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !db.HasCoins(*tx.Hash()) {
		t.Fatal("expected HasCoins to report true after saving the coin delta")
	}

	outpoint := wire.OutPoint{Hash: *tx.Hash(), Index: 0}
	utxo, err := db.FetchUtxoEntry(outpoint)
	if err != nil {
		t.Fatalf("FetchUtxoEntry failed: %v", err)
	}
	if utxo == nil {
		t.Fatal("expected a persisted utxo entry")
	}
	if !utxo.IsCoinBase() {
		t.Error("expected coinbase utxo entry")
	}

	missing, err := db.FetchUtxoEntry(wire.OutPoint{Hash: *tx.Hash(), Index: 5})
	if err != nil {
		t.Fatalf("FetchUtxoEntry failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for an unknown output index, got %+v", missing)
	}
}
