// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/blockrelay/btcchain/chaincfg"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ThresholdState identifies the various states a BIP9 rule change
// deployment can be in at any given point in the chain.
type ThresholdState byte

const (
	// ThresholdDefined is the first state a deployment is in before its
	// start time has been reached by the median time of a period.
	ThresholdDefined ThresholdState = iota

	// ThresholdStarted indicates a deployment's start time has been
	// reached and voting for the deployment bit is underway.
	ThresholdStarted

	// ThresholdLockedIn indicates a sufficient number of blocks in the
	// prior period signaled the deployment bit. The deployment activates
	// unconditionally at the next period boundary.
	ThresholdLockedIn

	// ThresholdActive indicates the deployment has activated and its
	// associated rules are in force.
	ThresholdActive

	// ThresholdFailed indicates the deployment's timeout was reached
	// before it locked in, so it will never activate.
	ThresholdFailed
)

var thresholdStateStrings = map[ThresholdState]string{
	ThresholdDefined:  "ThresholdDefined",
	ThresholdStarted:  "ThresholdStarted",
	ThresholdLockedIn: "ThresholdLockedIn",
	ThresholdActive:   "ThresholdActive",
	ThresholdFailed:   "ThresholdFailed",
}

// String returns the ThresholdState as a human-readable name.
func (t ThresholdState) String() string {
	if s, ok := thresholdStateStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown threshold state %d", int(t))
}

// thresholdStateCache memoizes the BIP9 threshold state per (bit, hash) so
// it never has to be recomputed for a period boundary the chain has
// already walked past. This in-memory layer sits in front of the ChainDB's
// own persisted state cache, avoiding a round-trip to storage for hashes
// already visited earlier in the same run.
type thresholdStateCache struct {
	db      *ChainDB
	bit     uint8
	entries map[chainhash.Hash]ThresholdState
}

// newThresholdStateCache returns a cache for the given deployment bit backed
// by db's persisted state cache, so memoized answers survive a restart.
func newThresholdStateCache(db *ChainDB, bit uint8) *thresholdStateCache {
	return &thresholdStateCache{
		db:      db,
		bit:     bit,
		entries: make(map[chainhash.Hash]ThresholdState),
	}
}

func (c *thresholdStateCache) lookup(hash chainhash.Hash) (ThresholdState, bool) {
	if state, ok := c.entries[hash]; ok {
		return state, true
	}
	if c.db != nil {
		if state, ok := c.db.GetThresholdState(c.bit, hash); ok {
			c.entries[hash] = state
			return state, true
		}
	}
	return ThresholdDefined, false
}

func (c *thresholdStateCache) update(hash chainhash.Hash, state ThresholdState) {
	c.entries[hash] = state
	if c.db != nil {
		// Best-effort: a failed persist only costs a recomputation on the
		// next restart, not correctness.
		_ = c.db.PutThresholdState(c.bit, hash, state)
	}
}

// deploymentState computes the BIP9 threshold state of the given deployment
// bit as of the period containing prevEntry, i.e. the state that governs
// the block built on top of prevEntry. It walks back to the most recent
// period boundary with a cached answer -- or the genesis boundary -- and
// then forward-folds the state machine one period at a time, caching every
// intermediate result as it goes.
func deploymentState(params *chaincfg.Params, cache *thresholdStateCache, prevEntry *chainEntry, deployment *chaincfg.ConsensusDeployment) (ThresholdState, error) {
	confirmationWindow := int64(params.MinerConfirmationWindow)
	if confirmationWindow == 0 {
		return ThresholdActive, nil
	}

	if prevEntry == nil || prevEntry.height+1 < confirmationWindow {
		return ThresholdDefined, nil
	}

	// Walk back to the last entry of the most recent period that ends at
	// or before prevEntry, then continue walking backward one period at a time as long as the
	// cache doesn't already know the answer.
	entry := prevEntry.Ancestor(prevEntry.height - (prevEntry.height+1)%confirmationWindow)

	var neededEntries []*chainEntry
	var state ThresholdState
	for entry != nil {
		if cached, ok := cache.lookup(entry.hash); ok {
			state = cached
			break
		}

		if entry.height < confirmationWindow-1 {
			state = ThresholdDefined
			break
		}

		neededEntries = append(neededEntries, entry)
		entry = entry.Ancestor(entry.height - confirmationWindow)
	}
	if entry == nil {
		state = ThresholdDefined
	}

	// Fold forward through the periods that weren't already cached,
	// oldest first, applying the BIP9 state transition table.
	for i := len(neededEntries) - 1; i >= 0; i-- {
		periodEntry := neededEntries[i]

		switch state {
		case ThresholdDefined:
			medianTime := periodEntry.CalcPastMedianTime().Unix()
			switch {
			case uint64(medianTime) >= deployment.ExpireTime:
				state = ThresholdFailed
			case uint64(medianTime) >= deployment.StartTime:
				state = ThresholdStarted
			}

		case ThresholdStarted:
			medianTime := periodEntry.CalcPastMedianTime().Unix()
			if uint64(medianTime) >= deployment.ExpireTime {
				state = ThresholdFailed
				break
			}

			count := countVotes(periodEntry, confirmationWindow, deployment.Bit)
			if count >= int64(params.RuleChangeActivationThreshold) {
				state = ThresholdLockedIn
			}

		case ThresholdLockedIn:
			state = ThresholdActive

		case ThresholdActive, ThresholdFailed:
			// Terminal states never change.
		}

		cache.update(periodEntry.hash, state)
	}

	return state, nil
}

// countVotes counts how many of the confirmationWindow entries ending at
// periodEntry have the deployment bit set in their version, using the
// BIP9 top-bits signal (0x20000000) to distinguish versionbits voting from
// a plain version number.
func countVotes(periodEntry *chainEntry, confirmationWindow int64, bit uint8) int64 {
	var count int64
	entry := periodEntry
	for i := int64(0); i < confirmationWindow && entry != nil; i++ {
		if entry.version&versionBitsTopMask == versionBitsTopBits &&
			entry.version&(1<<uint(bit)) != 0 {
			count++
		}
		entry = entry.parent
	}
	return count
}
