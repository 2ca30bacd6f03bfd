// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// medianTimeBlocks is the number of previous blocks used to calculate
	// the median time used to validate block timestamps and BIP68/BIP113
	// sequence and lock times.
	medianTimeBlocks = 11

	// maxTimeOffsetSeconds is the maximum number of seconds a block's
	// timestamp is allowed to be ahead of the node's adjusted time before
	// it is rejected as too new.
	maxTimeOffsetSeconds = 2 * 60 * 60

	// maxOrphanBlocks is the maximum number of orphan blocks kept in
	// memory before the pruning heuristic starts evicting them.
	maxOrphanBlocks = 500
)

// zeroHash is the zero value for a chainhash.Hash and is defined as a
// package-level variable to avoid recreating it on every comparison.
var zeroHash = chainhash.Hash{}
