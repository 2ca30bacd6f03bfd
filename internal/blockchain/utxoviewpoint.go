// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/blockrelay/btcchain/blockchain/standalone"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// mempoolHeight is a special height used to indicate that an output was
// created in the mempool and thus has no associated block height yet.
const mempoolHeight = 0x7fffffff

// utxoState defines the in-memory state of a utxo entry.
type utxoState uint8

const (
	utxoStateSpent utxoState = 1 << iota
	utxoStateModified
	utxoStateFresh
)

// UtxoEntry houses details about an individual unspent transaction output:
// whether it was contained in a coinbase transaction, the height of the
// block that contains it, whether it is spent, its public key script, and
// how much it pays.
type UtxoEntry struct {
	amount      int64
	pkScript    []byte
	blockHeight int64
	isCoinBase  bool
	state       utxoState
}

// IsCoinBase returns whether the output was contained in a coinbase
// transaction.
func (entry *UtxoEntry) IsCoinBase() bool {
	return entry.isCoinBase
}

// IsSpent returns whether the output has been spent based on the current
// state of the view it was obtained from.
func (entry *UtxoEntry) IsSpent() bool {
	return entry.state&utxoStateSpent == utxoStateSpent
}

func (entry *UtxoEntry) isModified() bool {
	return entry.state&utxoStateModified == utxoStateModified
}

// BlockHeight returns the height of the block containing the output.
func (entry *UtxoEntry) BlockHeight() int64 {
	return entry.blockHeight
}

// IsMempoolHeight reports whether the entry's coin has not yet been mined
// into a block.
func (entry *UtxoEntry) IsMempoolHeight() bool {
	return entry.blockHeight == mempoolHeight
}

// Amount returns the amount of the output.
func (entry *UtxoEntry) Amount() int64 {
	return entry.amount
}

// PkScript returns the public key script for the output.
func (entry *UtxoEntry) PkScript() []byte {
	return entry.pkScript
}

// Spend marks the output as spent. Spending an already-spent output has no
// effect.
func (entry *UtxoEntry) Spend() {
	if entry.IsSpent() {
		return
	}
	entry.state |= utxoStateSpent | utxoStateModified
}

// Clone returns a copy of the utxo entry.
func (entry *UtxoEntry) Clone() *UtxoEntry {
	if entry == nil {
		return nil
	}
	return &UtxoEntry{
		amount:      entry.amount,
		pkScript:    entry.pkScript,
		blockHeight: entry.blockHeight,
		isCoinBase:  entry.isCoinBase,
		state:       entry.state,
	}
}

// spentTxOut houses details about an individual spent transaction output,
// as recorded in the undo log for a connected block, so that a subsequent
// disconnect can restore it.
type spentTxOut struct {
	amount      int64
	pkScript    []byte
	blockHeight int64
	isCoinBase  bool
}

// CoinViewSource is the subset of a ChainDB the view needs in order to
// fetch coins that are not already present in the in-memory delta.
type CoinViewSource interface {
	FetchUtxoEntry(outpoint wire.OutPoint) (*UtxoEntry, error)
}

// UtxoViewpoint represents an in-memory view of the unspent transaction
// output set as it existed at a particular point in the chain, layered as a
// delta over the persistent coin set held by a ChainDB.
type UtxoViewpoint struct {
	entries  map[wire.OutPoint]*UtxoEntry
	bestHash chainhash.Hash
	db       CoinViewSource
}

// NewUtxoViewpoint returns an initialized but empty UtxoViewpoint layered
// over the passed backing source.
func NewUtxoViewpoint(db CoinViewSource) *UtxoViewpoint {
	return &UtxoViewpoint{
		entries: make(map[wire.OutPoint]*UtxoEntry),
		db:      db,
	}
}

// BestHash returns the hash of the best block this view corresponds to.
func (view *UtxoViewpoint) BestHash() *chainhash.Hash {
	return &view.bestHash
}

// SetBestHash sets the hash of the best block this view corresponds to.
func (view *UtxoViewpoint) SetBestHash(hash *chainhash.Hash) {
	view.bestHash = *hash
}

// Entries returns the underlying map of the utxos held by the view.
func (view *UtxoViewpoint) Entries() map[wire.OutPoint]*UtxoEntry {
	return view.entries
}

// LookupEntry returns the entry for the passed outpoint, consulting the
// backing ChainDB when the delta does not already have an entry cached.
// Returns nil if the output is unknown. An entry the view already holds is
// returned even when it is marked spent, so callers check IsSpent.
func (view *UtxoViewpoint) LookupEntry(outpoint wire.OutPoint) *UtxoEntry {
	entry, ok := view.entries[outpoint]
	if ok {
		return entry
	}
	if view.db == nil {
		return nil
	}
	dbEntry, err := view.db.FetchUtxoEntry(outpoint)
	if err != nil || dbEntry == nil {
		return nil
	}
	view.entries[outpoint] = dbEntry
	return dbEntry
}

// PrevScript implements PrevScripter for use by the script validator: it
// returns the public key script that the referenced outpoint's coin pays
// to, without mutating the view.
func (view *UtxoViewpoint) PrevScript(prevOut *wire.OutPoint) ([]byte, bool) {
	entry := view.LookupEntry(*prevOut)
	if entry == nil || entry.IsSpent() {
		return nil, false
	}
	return entry.PkScript(), true
}

// PrevOutputAmount returns the amount of the coin the referenced outpoint's
// coin pays, without mutating the view.
func (view *UtxoViewpoint) PrevOutputAmount(prevOut *wire.OutPoint) (int64, bool) {
	entry := view.LookupEntry(*prevOut)
	if entry == nil || entry.IsSpent() {
		return 0, false
	}
	return entry.Amount(), true
}

// addTxOut adds the specified output to the view unless it is provably
// unspendable. An existing entry at the outpoint is overwritten in place,
// matching the semantics used when a reorganize reconnects a block whose
// outputs a competing history had previously recorded as spent.
func (view *UtxoViewpoint) addTxOut(outpoint wire.OutPoint, txOut *wire.TxOut, isCoinBase bool, blockHeight int64) {
	if txscript.IsUnspendable(txOut.PkScript) {
		return
	}

	entry, ok := view.entries[outpoint]
	if !ok {
		entry = new(UtxoEntry)
		view.entries[outpoint] = entry
	}

	entry.amount = txOut.Value
	entry.pkScript = txOut.PkScript
	entry.blockHeight = blockHeight
	entry.isCoinBase = isCoinBase
	entry.state = utxoStateModified
}

// AddTxOuts adds all outputs in the passed transaction to the view as
// available unspent coins at the given block height.
func (view *UtxoViewpoint) AddTxOuts(tx *btcutil.Tx, blockHeight int64) {
	isCoinBase := standalone.IsCoinBaseTx(tx.MsgTx())
	prevOut := wire.OutPoint{Hash: *tx.Hash()}
	for txOutIdx, txOut := range tx.MsgTx().TxOut {
		prevOut.Index = uint32(txOutIdx)
		view.addTxOut(prevOut, txOut, isCoinBase, blockHeight)
	}
}

// connectTransaction updates the view by marking all utxos referenced by
// the transaction's inputs as spent and adds all of its outputs as new
// unspent coins. When stxos is non-nil, the details of the spent outputs
// are appended, allowing the block to be disconnected later.
func (view *UtxoViewpoint) connectTransaction(tx *btcutil.Tx, blockHeight int64, stxos *[]spentTxOut) error {
	if standalone.IsCoinBaseTx(tx.MsgTx()) {
		view.AddTxOuts(tx, blockHeight)
		return nil
	}

	for _, txIn := range tx.MsgTx().TxIn {
		entry := view.entries[txIn.PreviousOutPoint]
		if entry == nil {
			return fmt.Errorf("view missing input %v", txIn.PreviousOutPoint)
		}

		if stxos != nil {
			*stxos = append(*stxos, spentTxOut{
				amount:      entry.Amount(),
				pkScript:    entry.PkScript(),
				blockHeight: entry.BlockHeight(),
				isCoinBase:  entry.IsCoinBase(),
			})
		}

		entry.Spend()
	}

	view.AddTxOuts(tx, blockHeight)
	return nil
}

// connectTransactions updates the view by connecting all of the
// transactions in the passed block, in order.
func (view *UtxoViewpoint) connectTransactions(block *btcutil.Block, stxos *[]spentTxOut) error {
	blockHeight := int64(block.Height())
	for _, tx := range block.Transactions() {
		if err := view.connectTransaction(tx, blockHeight, stxos); err != nil {
			return err
		}
	}
	hash := block.Hash()
	view.SetBestHash(hash)
	return nil
}

// disconnectTransactions updates the view by undoing all of the
// transaction connections in the passed block using the provided spent
// txout details, restoring each spent coin and removing every coin the
// block itself created.
func (view *UtxoViewpoint) disconnectTransactions(block *btcutil.Block, stxos []spentTxOut) error {
	txs := block.Transactions()
	var numSpent int
	for _, tx := range txs {
		if !standalone.IsCoinBaseTx(tx.MsgTx()) {
			numSpent += len(tx.MsgTx().TxIn)
		}
	}
	if len(stxos) != numSpent {
		return fmt.Errorf("undo log for block %v has %d stxos, want %d",
			block.Hash(), len(stxos), numSpent)
	}

	stxoIdx := len(stxos) - 1
	for txIdx := len(txs) - 1; txIdx > -1; txIdx-- {
		tx := txs[txIdx]

		// Remove any outputs the transaction created.
		prevOut := wire.OutPoint{Hash: *tx.Hash()}
		for txOutIdx := range tx.MsgTx().TxOut {
			prevOut.Index = uint32(txOutIdx)
			if entry := view.entries[prevOut]; entry != nil {
				entry.Spend()
			}
		}

		if standalone.IsCoinBaseTx(tx.MsgTx()) {
			continue
		}

		// Restore the inputs, walking backward to match the order the
		// undo records were written in.
		txIns := tx.MsgTx().TxIn
		for txInIdx := len(txIns) - 1; txInIdx > -1; txInIdx-- {
			stxo := stxos[stxoIdx]
			stxoIdx--

			txIn := txIns[txInIdx]
			view.entries[txIn.PreviousOutPoint] = &UtxoEntry{
				amount:      stxo.amount,
				pkScript:    stxo.pkScript,
				blockHeight: stxo.blockHeight,
				isCoinBase:  stxo.isCoinBase,
				state:       utxoStateModified,
			}
		}
	}

	return nil
}

// fetchInputUtxos loads the unspent transaction outputs referenced by every
// non-coinbase input in the block into the view, either from the
// in-memory delta or from the backing ChainDB.
func (view *UtxoViewpoint) fetchInputUtxos(block *btcutil.Block) error {
	for _, tx := range block.Transactions() {
		if standalone.IsCoinBaseTx(tx.MsgTx()) {
			continue
		}
		for _, txIn := range tx.MsgTx().TxIn {
			outpoint := txIn.PreviousOutPoint
			if _, ok := view.entries[outpoint]; ok || view.db == nil {
				continue
			}
			entry, err := view.db.FetchUtxoEntry(outpoint)
			if err != nil {
				return err
			}
			if entry != nil {
				view.entries[outpoint] = entry
			}
		}
	}
	return nil
}
