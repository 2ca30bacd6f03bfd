// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sort"
	"time"

	"github.com/blockrelay/btcchain/blockchain/standalone"
	"github.com/decred/dcrd/math/uint256"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// entryStatus is a bitmask describing the validation status of an entry.
type entryStatus byte

const (
	// statusNone indicates the entry has no validated status.
	statusNone entryStatus = 0

	// statusDataStored indicates the block payload for the entry is
	// available in the database.
	statusDataStored entryStatus = 1 << 0

	// statusValid indicates the entry passed all consensus checks required
	// to be connected to the main chain.
	statusValid entryStatus = 1 << 1

	// statusValidateFailed indicates the entry has failed validation.
	statusValidateFailed entryStatus = 1 << 2

	// statusInvalidAncestor indicates an ancestor of the entry failed
	// validation, so the entry can never become valid itself.
	statusInvalidAncestor entryStatus = 1 << 3
)

// KnownInvalid returns whether the entry is known to be invalid, either
// directly or because of an invalid ancestor.
func (status entryStatus) KnownInvalid() bool {
	return status&(statusValidateFailed|statusInvalidAncestor) != 0
}

// chainEntry represents a block in the chain index. It stores the header
// fields required for consensus decisions along with the cumulative amount
// of proof-of-work committed to the chain up to and including this entry.
type chainEntry struct {
	parent         *chainEntry
	skipToAncestor *chainEntry

	hash       chainhash.Hash
	height     int64
	version    int32
	bits       uint32
	timestamp  int64
	merkleRoot chainhash.Hash
	nonce      uint32

	workSum uint256.Uint256
	status  entryStatus
}

// clearLowestOneBit clears the lowest set bit in the passed value.
func clearLowestOneBit(n int64) int64 {
	return n & (n - 1)
}

// calcSkipListHeight calculates the height of an ancestor entry to use when
// constructing the ancestor traversal skip list. Because the chain is
// append-only, a single deterministic level achieves close to O(log n)
// ancestor lookups without the complexity of a full skip list.
func calcSkipListHeight(height int64) int64 {
	if height < 0 {
		return 0
	}
	return clearLowestOneBit(clearLowestOneBit(height))
}

// newChainEntry returns a new chain entry for the given block header and
// parent entry. The header's own work is added to the parent's cumulative
// work sum, or used as-is when there is no parent (the genesis entry).
func newChainEntry(header *wire.BlockHeader, height int64, parent *chainEntry) *chainEntry {
	entry := &chainEntry{
		hash:       header.BlockHash(),
		height:     height,
		version:    header.Version,
		bits:       header.Bits,
		timestamp:  header.Timestamp.Unix(),
		merkleRoot: header.MerkleRoot,
		nonce:      header.Nonce,
		workSum:    *new(uint256.Uint256).SetBig(standalone.CalcWork(header.Bits)),
		parent:     parent,
	}
	if parent != nil {
		entry.skipToAncestor = parent.Ancestor(calcSkipListHeight(height))
		entry.workSum.Add(&parent.workSum)
	}
	return entry
}

// WorkSum returns the cumulative proof-of-work committed to the chain up to
// and including this entry.
func (e *chainEntry) WorkSum() uint256.Uint256 {
	return e.workSum
}

// Header reconstructs the wire block header the entry was built from.
func (e *chainEntry) Header() wire.BlockHeader {
	prevHash := zeroHash
	if e.parent != nil {
		prevHash = e.parent.hash
	}
	return wire.BlockHeader{
		Version:    e.version,
		PrevBlock:  prevHash,
		MerkleRoot: e.merkleRoot,
		Timestamp:  time.Unix(e.timestamp, 0),
		Bits:       e.bits,
		Nonce:      e.nonce,
	}
}

// Ancestor returns the ancestor entry at the given height by walking
// backwards from this entry, using the skip pointer to avoid a fully linear
// scan. Returns nil for a height after this entry's height or less than
// zero.
func (e *chainEntry) Ancestor(height int64) *chainEntry {
	if height < 0 || height > e.height {
		return nil
	}

	n := e
	for n != nil && n.height != height {
		if n.skipToAncestor != nil && calcSkipListHeight(n.height) >= height {
			n = n.skipToAncestor
			continue
		}
		n = n.parent
	}
	return n
}

// RelativeAncestor returns the ancestor entry a relative distance blocks
// before this entry.
func (e *chainEntry) RelativeAncestor(distance int64) *chainEntry {
	return e.Ancestor(e.height - distance)
}

// CalcPastMedianTime calculates the median time of the previous
// medianTimeBlocks entries, inclusive of this one -- the MTP used to
// validate block timestamps and BIP68/BIP113 sequence and lock times.
func (e *chainEntry) CalcPastMedianTime() time.Time {
	timestamps := make([]int64, 0, medianTimeBlocks)
	iter := e
	for i := 0; i < medianTimeBlocks && iter != nil; i++ {
		timestamps = append(timestamps, iter.timestamp)
		iter = iter.parent
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	// The constant is odd so this always selects the true middle element
	// once the chain has grown past the first few blocks.
	return time.Unix(timestamps[len(timestamps)/2], 0)
}

// retargetAncestors returns the last interval entries ending at, and
// including, this entry, ordered oldest first, by walking backward via
// Ancestor. Returns fewer than interval entries near the start of the chain.
func (e *chainEntry) retargetAncestors(interval int64) []*chainEntry {
	startHeight := e.height - interval + 1
	if startHeight < 0 {
		startHeight = 0
	}
	entries := make([]*chainEntry, 0, e.height-startHeight+1)
	for h := e.height; h >= startHeight; h-- {
		entries = append(entries, e.Ancestor(h))
	}
	// Reverse into oldest-first order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}
