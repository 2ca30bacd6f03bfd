// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/blockrelay/btcchain/blockchain/standalone"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// SequenceLock represents the minimum height and minimum median time-past
// after which a transaction may be included in a block, per the relative
// lock-time semantics defined by BIP68. A value of -1 for either field
// indicates that particular relative lock type imposes no constraint.
type SequenceLock struct {
	MinHeight int64
	MinTime   int64
}

// getLocks computes the relative lock-time SequenceLock for the passed
// transaction given the entry the transaction would be mined on top of. The
// view is used to look up the height at which each of the transaction's
// referenced inputs was mined. csvActive indicates whether BIP68/BIP112
// sequence lock semantics are active for the entry the transaction is being
// considered for inclusion in; when false, or when the transaction version
// is less than 2, the returned lock imposes no constraint.
func getLocks(tx *btcutil.Tx, entry *chainEntry, view *UtxoViewpoint, csvActive bool) (*SequenceLock, error) {
	sequenceLock := &SequenceLock{MinHeight: -1, MinTime: -1}

	mtx := tx.MsgTx()
	sequenceLockActive := mtx.Version >= 2 && csvActive
	if !sequenceLockActive || standalone.IsCoinBaseTx(mtx) {
		return sequenceLock, nil
	}

	nextHeight := entry.height + 1
	for txInIndex, txIn := range mtx.TxIn {
		utxo := view.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil {
			str := fmt.Sprintf("output %v referenced from transaction %s:%d "+
				"either does not exist or has already been spent",
				txIn.PreviousOutPoint, tx.Hash(), txInIndex)
			return sequenceLock, ruleError(ErrMissingTxOut, str)
		}

		inputHeight := utxo.BlockHeight()
		if utxo.IsMempoolHeight() {
			inputHeight = nextHeight
		}

		sequenceNum := txIn.Sequence
		relativeLock := int64(sequenceNum & wire.SequenceLockTimeMask)

		switch {
		case sequenceNum&wire.SequenceLockTimeDisabled == wire.SequenceLockTimeDisabled:
			continue

		case sequenceNum&wire.SequenceLockTimeIsSeconds == wire.SequenceLockTimeIsSeconds:
			prevInputHeight := inputHeight - 1
			if prevInputHeight < 0 {
				prevInputHeight = 0
			}
			ancestor := entry.Ancestor(prevInputHeight)
			medianTime := ancestor.CalcPastMedianTime()

			timeLockSeconds := (relativeLock << wire.SequenceLockTimeGranularity) - 1
			timeLock := medianTime.Unix() + timeLockSeconds
			if timeLock > sequenceLock.MinTime {
				sequenceLock.MinTime = timeLock
			}

		default:
			blockHeight := inputHeight + relativeLock - 1
			if blockHeight > sequenceLock.MinHeight {
				sequenceLock.MinHeight = blockHeight
			}
		}
	}

	return sequenceLock, nil
}

// verifyLocks reports whether the passed sequence lock has matured relative
// to the entry the candidate block is being built on and its past median
// time. A transaction is sequence-valid only once both the height and time
// components of its lock have been satisfied.
func verifyLocks(entry *chainEntry, lock *SequenceLock) bool {
	return lock.MinHeight < entry.height+1 && lock.MinTime < entry.CalcPastMedianTime().Unix()
}
