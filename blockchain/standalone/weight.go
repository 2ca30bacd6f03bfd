// Copyright (c) 2019-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"github.com/btcsuite/btcd/wire"
)

// WitnessScaleFactor is the amount by which a transaction's stripped size is
// multiplied to arrive at its weight, per BIP141. Non-witness data therefore
// costs 4 weight units per byte while witness data costs 1.
const WitnessScaleFactor = 4

// GetTransactionWeight computes the weight of a transaction as defined by
// BIP141:
//
//	weight = strippedSize*(WitnessScaleFactor-1) + totalSize
//
// which is algebraically equivalent to 3*strippedSize + totalSize.
func GetTransactionWeight(tx *wire.MsgTx) int64 {
	strippedSize := int64(tx.SerializeSizeStripped())
	totalSize := int64(tx.SerializeSize())
	return strippedSize*(WitnessScaleFactor-1) + totalSize
}

// GetBlockWeight computes the weight of a block as defined by BIP141: three
// times the stripped (non-witness) serialized size plus the full serialized
// size, including any witness data.
func GetBlockWeight(block *wire.MsgBlock) int64 {
	strippedSize := int64(GetStrippedSize(block))
	totalSize := int64(getBlockSize(block))
	return strippedSize*(WitnessScaleFactor-1) + totalSize
}

// GetBlockSize returns the full serialized size of a block, including
// witness data.
func GetBlockSize(block *wire.MsgBlock) int64 {
	return int64(getBlockSize(block))
}

// GetStrippedSize returns the serialized size of a block as it would appear
// to a pre-segwit peer: no witness data or the segwit marker/flag bytes.
func GetStrippedSize(block *wire.MsgBlock) int {
	// SerializeSizeStripped is exposed per-transaction; sum it along with
	// the fixed 80-byte header and the varint transaction count to obtain
	// the block-level stripped size without invoking a witness-aware
	// encoder.
	size := wire.MaxBlockHeaderPayload
	size += wire.VarIntSerializeSize(uint64(len(block.Transactions)))
	for _, tx := range block.Transactions {
		size += tx.SerializeSizeStripped()
	}
	return size
}

// getBlockSize returns the full serialized size of the block by summing the
// header and each transaction's full (witness-inclusive) size.
func getBlockSize(block *wire.MsgBlock) int {
	size := wire.MaxBlockHeaderPayload
	size += wire.VarIntSerializeSize(uint64(len(block.Transactions)))
	for _, tx := range block.Transactions {
		size += tx.SerializeSize()
	}
	return size
}
