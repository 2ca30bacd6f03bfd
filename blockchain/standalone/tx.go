// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// satoshiPerBitcoin is the number of satoshi in one bitcoin. Defined
	// here rather than pulled in from btcutil to avoid a dependency in
	// consensus code which can't be changed without a network-wide upgrade
	// anyway.
	satoshiPerBitcoin = 1e8

	// maxSatoshi is the maximum transaction amount allowed, in satoshi.
	maxSatoshi = 21e6 * satoshiPerBitcoin
)

// zeroHash is the zero value for a chainhash.Hash and is defined as a
// package level variable to avoid the need to create a new instance every
// time a check is needed.
var zeroHash = chainhash.Hash{}

// IsCoinBaseTx determines whether or not a transaction is a coinbase. A
// coinbase is a special transaction created by miners that has no real
// inputs. This is represented in the block chain by a transaction with a
// single input whose previous output has an index set to the maximum value
// along with a zero hash.
func IsCoinBaseTx(tx *wire.MsgTx) bool {
	// A coinbase must only have one transaction input.
	if len(tx.TxIn) != 1 {
		return false
	}

	// The previous output of a coinbase must have a max value index and a
	// zero hash.
	prevOut := &tx.TxIn[0].PreviousOutPoint
	return prevOut.Index == math.MaxUint32 && prevOut.Hash == zeroHash
}

// CheckTransactionSanity performs preliminary, context-free checks on a
// transaction to ensure it is sane: it has inputs and outputs, it does not
// exceed the maximum allowed serialized size, output amounts are in range,
// and there are no duplicate inputs.
func CheckTransactionSanity(tx *wire.MsgTx, maxTxSize uint64) error {
	// A transaction must have at least one input.
	if len(tx.TxIn) == 0 {
		return ruleError(ErrNoTxInputs, "transaction has no inputs")
	}

	// A transaction must have at least one output.
	if len(tx.TxOut) == 0 {
		return ruleError(ErrNoTxOutputs, "transaction has no outputs")
	}

	// A transaction must not exceed the maximum allowed size when serialized.
	serializedTxSize := uint64(tx.SerializeSize())
	if serializedTxSize > maxTxSize {
		str := fmt.Sprintf("serialized transaction is too big - got %d, max %d",
			serializedTxSize, maxTxSize)
		return ruleError(ErrTxTooBig, str)
	}

	// Ensure the transaction amounts are in range. Each transaction output
	// must not be negative or more than the max allowed per transaction, and
	// the total of all outputs must abide by the same restriction. All
	// amounts in a transaction are in a unit value known as a satoshi. One
	// bitcoin is a quantity of satoshi as defined by satoshiPerBitcoin.
	var totalSatoshi int64
	for _, txOut := range tx.TxOut {
		satoshi := txOut.Value
		if satoshi < 0 {
			str := fmt.Sprintf("transaction output has negative value of %v",
				satoshi)
			return ruleError(ErrBadTxOutValue, str)
		}
		if satoshi > maxSatoshi {
			str := fmt.Sprintf("transaction output value of %v is higher than "+
				"max allowed value of %v", satoshi, maxSatoshi)
			return ruleError(ErrBadTxOutValue, str)
		}

		// Two's complement int64 overflow guarantees that any overflow is
		// detected and reported.
		totalSatoshi += satoshi
		if totalSatoshi < 0 {
			str := fmt.Sprintf("total value of all transaction outputs "+
				"exceeds max allowed value of %v", maxSatoshi)
			return ruleError(ErrBadTxOutValue, str)
		}
		if totalSatoshi > maxSatoshi {
			str := fmt.Sprintf("total value of all transaction outputs is %v "+
				"which is higher than max allowed value of %v", totalSatoshi,
				maxSatoshi)
			return ruleError(ErrBadTxOutValue, str)
		}
	}

	// Check for duplicate transaction inputs.
	existingTxOut := make(map[wire.OutPoint]struct{})
	for _, txIn := range tx.TxIn {
		if _, exists := existingTxOut[txIn.PreviousOutPoint]; exists {
			return ruleError(ErrDuplicateTxInputs, "transaction contains duplicate inputs")
		}
		existingTxOut[txIn.PreviousOutPoint] = struct{}{}
	}

	// A coinbase transaction has special rules that are enforced elsewhere;
	// non-coinbase transactions must not reference the null outpoint.
	if !IsCoinBaseTx(tx) {
		for _, txIn := range tx.TxIn {
			prevOut := &txIn.PreviousOutPoint
			if prevOut.Index == math.MaxUint32 && prevOut.Hash == zeroHash {
				return ruleError(ErrBadTxInput, "transaction "+
					"input refers to previous output that is null")
			}
		}
	}

	return nil
}
