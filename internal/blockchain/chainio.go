// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/math/uint256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes used to partition the flat leveldb keyspace into the
// logical tables described by the persisted layout: the block index, the
// height-to-hash index for the main chain, block bodies, the coin set, the
// undo log, the BIP9 state cache, and the tip pointer.
var (
	entryPrefix   = []byte("e")
	heightPrefix  = []byte("h")
	blockPrefix   = []byte("b")
	coinPrefix    = []byte("c")
	undoPrefix    = []byte("u")
	statePrefix   = []byte("s")
	tipKey        = []byte("tip")
)

func entryKey(hash chainhash.Hash) []byte {
	return append(append([]byte{}, entryPrefix...), hash[:]...)
}

func heightKey(height int64) []byte {
	key := make([]byte, len(heightPrefix)+8)
	copy(key, heightPrefix)
	binary.BigEndian.PutUint64(key[len(heightPrefix):], uint64(height))
	return key
}

func blockKey(hash chainhash.Hash) []byte {
	return append(append([]byte{}, blockPrefix...), hash[:]...)
}

func coinKey(op wire.OutPoint) []byte {
	key := make([]byte, len(coinPrefix)+36)
	copy(key, coinPrefix)
	copy(key[len(coinPrefix):], op.Hash[:])
	binary.BigEndian.PutUint32(key[len(coinPrefix)+32:], op.Index)
	return key
}

func coinTxPrefix(txid chainhash.Hash) []byte {
	return append(append([]byte{}, coinPrefix...), txid[:]...)
}

func undoKey(hash chainhash.Hash) []byte {
	return append(append([]byte{}, undoPrefix...), hash[:]...)
}

func stateKey(bit uint8, hash chainhash.Hash) []byte {
	key := make([]byte, len(statePrefix)+1+chainhash.HashSize)
	copy(key, statePrefix)
	key[len(statePrefix)] = bit
	copy(key[len(statePrefix)+1:], hash[:])
	return key
}

// ChainDB is a leveldb-backed implementation of the chain's persistence
// layer: the block index, the coin set, the undo log used to reverse
// disconnected blocks, and the versionbits state cache. It is the only
// component of the chain that ever touches storage directly.
type ChainDB struct {
	ldb *leveldb.DB
}

// OpenChainDB opens (creating if necessary) the leveldb database at the
// given path.
func OpenChainDB(path string) (*ChainDB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &ChainDB{ldb: ldb}, nil
}

// Close releases the underlying leveldb handle.
func (db *ChainDB) Close() error {
	return db.ldb.Close()
}

// serializeEntry encodes a chain entry's header fields, cumulative work,
// and validation status for storage. The parent hash is stored explicitly
// since chainEntry only keeps an in-memory pointer to its parent.
func serializeEntry(e *chainEntry) []byte {
	var parentHash chainhash.Hash
	if e.parent != nil {
		parentHash = e.parent.hash
	}

	workHex := fmt.Sprintf("%064x", e.workSum)
	workBytes, err := hex.DecodeString(workHex)
	if err != nil || len(workBytes) != 32 {
		workBytes = make([]byte, 32)
	}

	buf := new(bytes.Buffer)
	buf.Write(parentHash[:])
	binary.Write(buf, binary.BigEndian, e.height)
	binary.Write(buf, binary.BigEndian, e.version)
	binary.Write(buf, binary.BigEndian, e.bits)
	binary.Write(buf, binary.BigEndian, e.timestamp)
	buf.Write(e.merkleRoot[:])
	binary.Write(buf, binary.BigEndian, e.nonce)
	buf.Write(workBytes)
	buf.WriteByte(byte(e.status))
	return buf.Bytes()
}

// deserializeEntry reconstructs a chain entry from its serialized form,
// re-linking it to its parent via the passed lookup function so callers can
// wire up the in-memory chain graph and skip-list pointers as entries load.
func deserializeEntry(hash chainhash.Hash, data []byte, lookupParent func(chainhash.Hash) *chainEntry) (*chainEntry, error) {
	r := bytes.NewReader(data)
	e := &chainEntry{hash: hash}

	var parentHash chainhash.Hash
	if _, err := r.Read(parentHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &e.height); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &e.version); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &e.bits); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &e.timestamp); err != nil {
		return nil, err
	}
	if _, err := r.Read(e.merkleRoot[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &e.nonce); err != nil {
		return nil, err
	}
	workBytes := make([]byte, 32)
	if _, err := r.Read(workBytes); err != nil {
		return nil, err
	}
	workBig := new(big.Int).SetBytes(workBytes)
	e.workSum = *new(uint256.Uint256).SetBig(workBig)

	statusByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	e.status = entryStatus(statusByte)

	if parentHash != zeroHash && lookupParent != nil {
		e.parent = lookupParent(parentHash)
		if e.parent != nil {
			e.skipToAncestor = e.parent.Ancestor(calcSkipListHeight(e.height))
		}
	}

	return e, nil
}

// serializeUtxoEntry encodes a utxo entry for storage in the coin set.
func serializeUtxoEntry(entry *UtxoEntry) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, entry.amount)
	binary.Write(buf, binary.BigEndian, entry.blockHeight)
	if entry.isCoinBase {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(entry.pkScript)
	return buf.Bytes()
}

// deserializeUtxoEntry decodes a utxo entry previously written by
// serializeUtxoEntry.
func deserializeUtxoEntry(data []byte) (*UtxoEntry, error) {
	if len(data) < 17 {
		return nil, fmt.Errorf("short utxo entry: %d bytes", len(data))
	}
	r := bytes.NewReader(data)
	entry := new(UtxoEntry)
	if err := binary.Read(r, binary.BigEndian, &entry.amount); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &entry.blockHeight); err != nil {
		return nil, err
	}
	isCoinBase, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	entry.isCoinBase = isCoinBase == 1
	pkScript := make([]byte, r.Len())
	if _, err := r.Read(pkScript); err != nil && r.Len() != 0 {
		return nil, err
	}
	entry.pkScript = pkScript
	return entry, nil
}

// GetTip returns the chain entry the tip pointer currently references.
func (db *ChainDB) GetTip() (*chainEntry, error) {
	hashBytes, err := db.ldb.Get(tipKey, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var hash chainhash.Hash
	copy(hash[:], hashBytes)
	return db.GetEntry(hash)
}

// GetEntry returns the chain entry for the passed hash, or nil if unknown.
// Ancestor entries are loaded transitively as needed to relink the skip
// list and parent pointer.
func (db *ChainDB) GetEntry(hash chainhash.Hash) (*chainEntry, error) {
	return db.getEntry(hash, make(map[chainhash.Hash]*chainEntry))
}

func (db *ChainDB) getEntry(hash chainhash.Hash, seen map[chainhash.Hash]*chainEntry) (*chainEntry, error) {
	if hash == zeroHash {
		return nil, nil
	}
	if e, ok := seen[hash]; ok {
		return e, nil
	}

	data, err := db.ldb.Get(entryKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry, err := deserializeEntry(hash, data, func(parentHash chainhash.Hash) *chainEntry {
		parent, _ := db.getEntry(parentHash, seen)
		return parent
	})
	if err != nil {
		return nil, err
	}
	seen[hash] = entry
	return entry, nil
}

// HasEntry reports whether the block index contains an entry for hash.
func (db *ChainDB) HasEntry(hash chainhash.Hash) bool {
	ok, _ := db.ldb.Has(entryKey(hash), nil)
	return ok
}

// GetBlock returns the full block for the passed hash, or nil if unknown.
func (db *ChainDB) GetBlock(hash chainhash.Hash) (*btcutil.Block, error) {
	data, err := db.ldb.Get(blockKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return btcutil.NewBlockFromBytes(data)
}

// HasCoins reports whether any unspent output of the transaction identified
// by txid remains in the persisted coin set (spent coins are deleted from
// it) -- the check BIP30 uses to reject a block that reintroduces a
// duplicate coinbase txid.
func (db *ChainDB) HasCoins(txid chainhash.Hash) bool {
	iter := db.ldb.NewIterator(util.BytesPrefix(coinTxPrefix(txid)), nil)
	defer iter.Release()
	return iter.Next()
}

// FetchUtxoEntry implements CoinViewSource by loading a single coin from
// the persisted coin set.
func (db *ChainDB) FetchUtxoEntry(outpoint wire.OutPoint) (*UtxoEntry, error) {
	data, err := db.ldb.Get(coinKey(outpoint), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeUtxoEntry(data)
}

// Save atomically persists a newly validated block: its header index
// entry, its raw body, and -- when view is non-nil -- the coin set delta
// and undo log recorded while connecting it. The height index and tip
// pointer are updated only when advance is true, which the caller sets
// when the block being saved becomes the new best chain tip.
func (db *ChainDB) Save(entry *chainEntry, block *btcutil.Block, view *UtxoViewpoint, stxos []spentTxOut, advance bool) error {
	batch := new(leveldb.Batch)

	batch.Put(entryKey(entry.hash), serializeEntry(entry))

	blockBytes, err := block.Bytes()
	if err != nil {
		return err
	}
	batch.Put(blockKey(entry.hash), blockBytes)

	if view != nil {
		writeCoinDelta(batch, view)
	}
	if len(stxos) > 0 {
		batch.Put(undoKey(entry.hash), serializeUndoLog(stxos))
	}

	if advance {
		batch.Put(heightKey(entry.height), entry.hash[:])
		batch.Put(tipKey, entry.hash[:])
	}

	return db.ldb.Write(batch, nil)
}

// Reconnect re-applies a previously validated block during the
// roll-forward phase of a reorganize: its coin delta is written, its
// height index entry is (re)installed, and the tip pointer is advanced.
func (db *ChainDB) Reconnect(entry *chainEntry, block *btcutil.Block, view *UtxoViewpoint, stxos []spentTxOut) error {
	return db.Save(entry, block, view, stxos, true)
}

// Disconnect reverses a previously connected block using its stored undo
// log, removes it from the height index, and returns the resulting
// viewpoint so the caller can inspect or extend it further.
func (db *ChainDB) Disconnect(entry *chainEntry, block *btcutil.Block) (*UtxoViewpoint, error) {
	undoData, err := db.ldb.Get(undoKey(entry.hash), nil)
	if err != nil && err != leveldb.ErrNotFound {
		return nil, err
	}
	stxos, err := deserializeUndoLog(undoData)
	if err != nil {
		return nil, err
	}

	view := NewUtxoViewpoint(db)
	if err := view.fetchInputUtxos(block); err != nil {
		return nil, err
	}
	for _, tx := range block.Transactions() {
		view.AddTxOuts(tx, int64(block.Height()))
	}
	if err := view.disconnectTransactions(block, stxos); err != nil {
		return nil, err
	}

	batch := new(leveldb.Batch)
	writeCoinDelta(batch, view)
	batch.Delete(heightKey(entry.height))
	batch.Delete(undoKey(entry.hash))
	if entry.parent != nil {
		batch.Put(tipKey, entry.parent.hash[:])
	}
	if err := db.ldb.Write(batch, nil); err != nil {
		return nil, err
	}

	return view, nil
}

// Reset moves the tip pointer directly to the passed entry without
// touching the coin set, for use when re-initializing after a corrupted
// shutdown or when pruning back to a known-good height.
func (db *ChainDB) Reset(entry *chainEntry) error {
	return db.ldb.Put(tipKey, entry.hash[:], nil)
}

// writeCoinDelta stages every modified entry in the view's in-memory delta
// into the batch: spent coins are deleted, unspent coins are (re)written.
func writeCoinDelta(batch *leveldb.Batch, view *UtxoViewpoint) {
	for outpoint, entry := range view.Entries() {
		if entry == nil {
			continue
		}
		if entry.IsSpent() {
			batch.Delete(coinKey(outpoint))
			continue
		}
		if entry.isModified() {
			batch.Put(coinKey(outpoint), serializeUtxoEntry(entry))
		}
	}
}

// serializeUndoLog encodes the spent-txout records for a connected block so
// a later disconnect can restore them.
func serializeUndoLog(stxos []spentTxOut) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(len(stxos)))
	for _, stxo := range stxos {
		binary.Write(buf, binary.BigEndian, stxo.amount)
		binary.Write(buf, binary.BigEndian, stxo.blockHeight)
		if stxo.isCoinBase {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		binary.Write(buf, binary.BigEndian, uint32(len(stxo.pkScript)))
		buf.Write(stxo.pkScript)
	}
	return buf.Bytes()
}

// deserializeUndoLog decodes an undo log previously written by
// serializeUndoLog. A nil or empty input decodes to an empty, non-error
// result since a block with no spent inputs writes no undo log.
func deserializeUndoLog(data []byte) ([]spentTxOut, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	stxos := make([]spentTxOut, 0, count)
	for i := uint32(0); i < count; i++ {
		var stxo spentTxOut
		if err := binary.Read(r, binary.BigEndian, &stxo.amount); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &stxo.blockHeight); err != nil {
			return nil, err
		}
		isCoinBase, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		stxo.isCoinBase = isCoinBase == 1
		var scriptLen uint32
		if err := binary.Read(r, binary.BigEndian, &scriptLen); err != nil {
			return nil, err
		}
		pkScript := make([]byte, scriptLen)
		if _, err := r.Read(pkScript); err != nil && scriptLen != 0 {
			return nil, err
		}
		stxo.pkScript = pkScript
		stxos = append(stxos, stxo)
	}
	return stxos, nil
}

// GetThresholdState returns the cached BIP9 threshold state for the given
// deployment bit as observed at the passed entry hash, and whether a
// cached value existed.
func (db *ChainDB) GetThresholdState(bit uint8, hash chainhash.Hash) (ThresholdState, bool) {
	data, err := db.ldb.Get(stateKey(bit, hash), nil)
	if err != nil || len(data) != 1 {
		return ThresholdDefined, false
	}
	return ThresholdState(data[0]), true
}

// PutThresholdState caches the BIP9 threshold state for the given
// deployment bit as observed at the passed entry hash.
func (db *ChainDB) PutThresholdState(bit uint8, hash chainhash.Hash, state ThresholdState) error {
	return db.ldb.Put(stateKey(bit, hash), []byte{byte(state)}, nil)
}
