// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"github.com/blockrelay/btcchain/chaincfg"
)

// buildDeploymentChain builds a linear chain of numPeriods confirmation
// windows, each entry's version optionally signaling the passed bit
// according to votesPerPeriod, with timestamps advancing so the passed
// deployment's start/expire times are crossed at the requested periods.
func buildDeploymentChain(params *chaincfg.Params, numPeriods int, votesPerPeriod func(period int) int64, bit uint8, timePerPeriod func(period int) int64) *chainEntry {
	window := int64(params.MinerConfirmationWindow)
	var entry *chainEntry
	var height int64
	for period := 0; period < numPeriods; period++ {
		votes := votesPerPeriod(period)
		ts := timePerPeriod(period)
		for i := int64(0); i < window; i++ {
			version := int32(0)
			if i < votes {
				version = int32(0x20000000 | (1 << bit))
			}
			entry = newTestEntry(height, params.PowLimitBits, ts, entry)
			entry.version = version
			height++
		}
	}
	return entry
}

func TestDeploymentStateDefinedBeforeStart(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	deployment := &chaincfg.ConsensusDeployment{
		Id: "test", Bit: 0, StartTime: 1000000000, ExpireTime: 2000000000,
	}

	entry := buildDeploymentChain(params, 1, func(int) int64 { return 0 }, 0, func(int) int64 { return 500000000 })

	cache := newThresholdStateCache(nil, deployment.Bit)
	state, err := deploymentState(params, cache, entry, deployment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != ThresholdDefined {
		t.Fatalf("got %v, want ThresholdDefined", state)
	}
}

func TestDeploymentStateLocksInThenActivates(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	deployment := &chaincfg.ConsensusDeployment{
		Id: "test", Bit: 1, StartTime: 1000000000, ExpireTime: 2000000000,
	}
	window := int64(params.MinerConfirmationWindow)
	threshold := int64(params.RuleChangeActivationThreshold)

	// Period 0: before start time, DEFINED.
	// Period 1: after start time, DEFINED -> STARTED.
	// Period 2: everyone votes, STARTED -> LOCKED_IN.
	// Period 3: LOCKED_IN -> ACTIVE unconditionally.
	entry := buildDeploymentChain(params, 4, func(period int) int64 {
		if period >= 2 {
			return threshold
		}
		return 0
	}, 1, func(period int) int64 {
		if period == 0 {
			return 500000000
		}
		return 1500000000
	})

	cache := newThresholdStateCache(nil, deployment.Bit)
	state, err := deploymentState(params, cache, entry, deployment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != ThresholdActive {
		t.Fatalf("got %v, want ThresholdActive after %d periods", state, window)
	}
}

func TestDeploymentStateFailsAfterExpiry(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	deployment := &chaincfg.ConsensusDeployment{
		Id: "test", Bit: 2, StartTime: 1000000000, ExpireTime: 1500000000,
	}

	entry := buildDeploymentChain(params, 2, func(int) int64 { return 0 }, 2, func(period int) int64 {
		if period == 0 {
			return 1000000001
		}
		return 2000000000
	})

	cache := newThresholdStateCache(nil, deployment.Bit)
	state, err := deploymentState(params, cache, entry, deployment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != ThresholdFailed {
		t.Fatalf("got %v, want ThresholdFailed", state)
	}
}

func TestThresholdStateString(t *testing.T) {
	if got := ThresholdActive.String(); got != "ThresholdActive" {
		t.Fatalf("got %q, want ThresholdActive", got)
	}
	if got := ThresholdState(255).String(); got == "" {
		t.Fatal("expected non-empty fallback string for unknown state")
	}
}
