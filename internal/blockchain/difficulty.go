// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"time"

	"github.com/blockrelay/btcchain/blockchain/standalone"
	"github.com/blockrelay/btcchain/chaincfg"
)

// calcNextRequiredDifficulty calculates the required difficulty for the
// block after the passed previous entry, using the classic every-interval
// Bitcoin retarget algorithm: every RetargetInterval blocks, the target is
// scaled by the ratio of the actual time it took to produce those blocks
// against the expected time, clamped to a factor of
// RetargetAdjustmentFactor in either direction.
func calcNextRequiredDifficulty(params *chaincfg.Params, lastEntry *chainEntry, newBlockTime time.Time) (uint32, error) {
	// Genesis block uses the pow limit.
	if lastEntry == nil {
		return params.PowLimitBits, nil
	}

	// Only change the difficulty once per retarget interval.
	nextHeight := lastEntry.height + 1
	if nextHeight%params.RetargetInterval != 0 {
		if params.ReduceMinDifficulty {
			return reducedDifficulty(params, lastEntry, newBlockTime), nil
		}
		return lastEntry.bits, nil
	}

	// Compute the actual timespan between the current entry and the entry
	// at the start of the retarget interval.
	blocksPerRetarget := params.RetargetInterval - 1
	firstEntry := lastEntry.RelativeAncestor(blocksPerRetarget)
	if firstEntry == nil {
		return lastEntry.bits, nil
	}

	actualTimespan := lastEntry.timestamp - firstEntry.timestamp
	adjustedTimespan := actualTimespan
	minTimespan := int64(params.TargetTimespan) / params.RetargetAdjustmentFactor
	maxTimespan := int64(params.TargetTimespan) * params.RetargetAdjustmentFactor
	switch {
	case adjustedTimespan < minTimespan:
		adjustedTimespan = minTimespan
	case adjustedTimespan > maxTimespan:
		adjustedTimespan = maxTimespan
	}

	oldTarget := standalone.CompactToBig(lastEntry.bits)
	newTarget := oldTarget.Mul(oldTarget, big.NewInt(adjustedTimespan))
	newTarget = newTarget.Div(newTarget, big.NewInt(int64(params.TargetTimespan)))
	if newTarget.Cmp(params.PowLimit) > 0 {
		newTarget.Set(params.PowLimit)
	}

	return standalone.BigToCompact(newTarget), nil
}

// reducedDifficulty implements the testnet "min difficulty" rule: if no
// block has been found for twice the target spacing, allow the minimum
// difficulty; otherwise walk back through the chain skipping min-difficulty
// blocks to find the last "real" difficulty to reuse.
func reducedDifficulty(params *chaincfg.Params, lastEntry *chainEntry, newBlockTime time.Time) uint32 {
	reductionTime := int64(params.MinDiffReductionTime / time.Second)
	if newBlockTime.Unix() > lastEntry.timestamp+reductionTime {
		return params.PowLimitBits
	}

	entry := lastEntry
	for entry.parent != nil && entry.height%params.RetargetInterval != 0 &&
		entry.bits == params.PowLimitBits {
		entry = entry.parent
	}
	return entry.bits
}
