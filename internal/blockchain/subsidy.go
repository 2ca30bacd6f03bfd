// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/blockrelay/btcchain/blockchain/standalone"
	"github.com/blockrelay/btcchain/chaincfg"
)

// subsidyParams adapts a *chaincfg.Params to the standalone.SubsidyParams
// interface expected by standalone.SubsidyCache.
type subsidyParams struct {
	params *chaincfg.Params
}

// BaseSubsidyValue returns the starting block subsidy, in satoshi, for the
// configured network.
func (s subsidyParams) BaseSubsidyValue() int64 {
	return s.params.BaseSubsidy
}

// SubsidyReductionIntervalBlocks returns the halving interval, in blocks,
// for the configured network.
func (s subsidyParams) SubsidyReductionIntervalBlocks() int64 {
	return s.params.SubsidyReductionInterval
}

// newSubsidyCache returns a subsidy cache configured for the given network.
func newSubsidyCache(params *chaincfg.Params) *standalone.SubsidyCache {
	return standalone.NewSubsidyCache(subsidyParams{params: params})
}

// CalcBlockSubsidy returns the halving-schedule subsidy, in satoshi, for a
// block at the given height.
func CalcBlockSubsidy(height int64, params *chaincfg.Params) int64 {
	return newSubsidyCache(params).CalcBlockSubsidy(height)
}
