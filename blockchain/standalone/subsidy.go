// Copyright (c) 2015-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"sync"
)

// SubsidyParams defines an interface that is used to provide the parameters
// required when calculating the block subsidy.  These values are typically
// well-defined and unique per network.
type SubsidyParams interface {
	// BaseSubsidyValue returns the starting block subsidy, in satoshi, paid
	// to the miner of the first block in the chain's first reduction
	// interval.  This value is halved every SubsidyReductionIntervalBlocks
	// blocks until it reaches zero.
	BaseSubsidyValue() int64

	// SubsidyReductionIntervalBlocks returns the reduction interval in
	// number of blocks.
	SubsidyReductionIntervalBlocks() int64
}

// SubsidyCache provides efficient access to the calculated subsidy for any
// given block height by caching the subsidy associated with each reduction
// interval it has already calculated.
//
// It makes use of caching to avoid repeated calculations.
type SubsidyCache struct {
	// cache houses the cached subsidies keyed by reduction interval and is
	// protected by mtx.
	mtx   sync.RWMutex
	cache map[uint64]int64

	// params stores the subsidy parameters to use during subsidy
	// calculation.
	params SubsidyParams
}

// NewSubsidyCache creates and initializes a new subsidy cache instance.  See
// the SubsidyCache documentation for more details.
func NewSubsidyCache(params SubsidyParams) *SubsidyCache {
	const prealloc = 5
	cache := make(map[uint64]int64, prealloc)
	cache[0] = params.BaseSubsidyValue()

	return &SubsidyCache{
		cache:  cache,
		params: params,
	}
}

// CalcBlockSubsidy returns the subsidy for a block at the provided height.
// The subsidy is halved every SubsidyReductionIntervalBlocks blocks, and it
// permanently reaches zero once it has been halved 64 times, matching
// Bitcoin's original integer-halving schedule:
//
//	subsidy := BaseSubsidyValue() >> (height / SubsidyReductionIntervalBlocks())
//
// This function is safe for concurrent access.
func (c *SubsidyCache) CalcBlockSubsidy(height int64) int64 {
	// Negative block heights are invalid and produce no subsidy.  Block 0 is
	// the genesis block, which does not carry a spendable coinbase, and also
	// produces no subsidy.
	if height <= 0 {
		return 0
	}

	reqInterval := uint64(height / c.params.SubsidyReductionIntervalBlocks())

	// The subsidy is always zero once 64 or more halvings have occurred
	// since int64 has 63 usable bits.
	if reqInterval >= 64 {
		return 0
	}

	c.mtx.RLock()
	if cachedSubsidy, ok := c.cache[reqInterval]; ok {
		c.mtx.RUnlock()
		return cachedSubsidy
	}
	c.mtx.RUnlock()

	subsidy := c.params.BaseSubsidyValue() >> reqInterval

	c.mtx.Lock()
	c.cache[reqInterval] = subsidy
	c.mtx.Unlock()

	return subsidy
}
