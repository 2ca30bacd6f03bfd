// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"
	"time"

	"github.com/blockrelay/btcchain/chaincfg"

	"github.com/btcsuite/btcd/wire"
)

// newTestEntry builds a bare chainEntry chained off parent for use in
// difficulty and median-time tests, without going through newChainEntry's
// hashing overhead.
func newTestEntry(height int64, bits uint32, timestamp int64, parent *chainEntry) *chainEntry {
	e := &chainEntry{
		height:    height,
		bits:      bits,
		timestamp: timestamp,
		parent:    parent,
	}
	if parent != nil {
		e.skipToAncestor = parent.Ancestor(calcSkipListHeight(height))
	}
	return e
}

func TestCalcNextRequiredDifficultyGenesis(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	got, err := calcNextRequiredDifficulty(params, nil, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != params.PowLimitBits {
		t.Fatalf("got %x, want pow limit %x", got, params.PowLimitBits)
	}
}

func TestCalcNextRequiredDifficultyNotRetarget(t *testing.T) {
	params := &chaincfg.MainNetParams
	genesis := newTestEntry(0, params.PowLimitBits, 1231006505, nil)
	next := newTestEntry(1, params.PowLimitBits, 1231006505+600, genesis)

	got, err := calcNextRequiredDifficulty(params, next, time.Unix(next.timestamp+600, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != next.bits {
		t.Fatalf("got %x, want unchanged bits %x", got, next.bits)
	}
}

func TestCalcNextRequiredDifficultyRetargetFasterThanExpected(t *testing.T) {
	params := &chaincfg.MainNetParams

	// Build a chain of RetargetInterval blocks where the entire interval
	// took only half of the expected timespan, so the next target is
	// roughly halved, well inside the max clamp factor.
	const spacing = 600
	startTime := int64(1231006505)
	var entry *chainEntry
	for h := int64(0); h < params.RetargetInterval; h++ {
		ts := startTime + h*(spacing/2)
		entry = newTestEntry(h, params.PowLimitBits, ts, entry)
	}

	got, err := calcNextRequiredDifficulty(params, entry, time.Unix(entry.timestamp+spacing, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A faster-than-expected interval tightens the target, which is a
	// smaller exponent or mantissa in compact form, i.e. the raw uint32
	// decreases relative to the pow limit encoding.
	if got == params.PowLimitBits {
		t.Fatalf("expected retarget to change difficulty from the pow limit")
	}
}

func TestReducedDifficultyAllowsMinAfterGap(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	genesis := newTestEntry(0, params.PowLimitBits/2, 1231006505, nil)

	gap := int64(params.MinDiffReductionTime/time.Second) + 1
	newBlockTime := time.Unix(genesis.timestamp+gap, 0)

	got := reducedDifficulty(params, genesis, newBlockTime)
	if got != params.PowLimitBits {
		t.Fatalf("got %x, want pow limit %x after reduction gap", got, params.PowLimitBits)
	}
}

func TestReducedDifficultyReusesLastRealBits(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	realBits := params.PowLimitBits / 2

	genesis := newTestEntry(0, realBits, 1231006505, nil)
	minDiffEntry := newTestEntry(1, params.PowLimitBits, genesis.timestamp+1, genesis)

	newBlockTime := time.Unix(minDiffEntry.timestamp+1, 0)
	got := reducedDifficulty(params, minDiffEntry, newBlockTime)
	if got != realBits {
		t.Fatalf("got %x, want last real bits %x", got, realBits)
	}
}

func TestCalcNextRequiredDifficultyHeader(t *testing.T) {
	// Sanity check that a chainEntry constructed via newChainEntry from a
	// real header round-trips its bits field for use by the retarget
	// calculation.
	header := &wire.BlockHeader{
		Version:   1,
		Bits:      0x1d00ffff,
		Timestamp: time.Unix(1231006505, 0),
	}
	entry := newChainEntry(header, 0, nil)
	if entry.bits != header.Bits {
		t.Fatalf("got %x, want %x", entry.bits, header.Bits)
	}
}
