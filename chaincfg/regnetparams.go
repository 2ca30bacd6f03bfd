// Copyright (c) 2018-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// regNetPowLimit is the highest proof-of-work target a regression test
// network block header may have: 2^255 - 1, the lowest possible difficulty.
var regNetPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)

// RegressionNetParams defines the network parameters for the regression
// test network. It exists purely for unit and integration tests: blocks can
// be mined instantly at minimum difficulty and no checkpoints constrain
// reorganizations.
var RegressionNetParams = Params{
	Name:        "regtest",
	Net:         wire.TestNet,
	DefaultPort: "18444",

	GenesisBlock: &regTestGenesisBlock,
	GenesisHash:  regTestGenesisHash,

	PowLimit:                 regNetPowLimit,
	PowLimitBits:             0x207fffff,
	TargetTimespan:           time.Hour * 24 * 14,
	TargetTimePerBlock:       time.Minute * 10,
	RetargetAdjustmentFactor: 4,
	ReduceMinDifficulty:      true,
	MinDiffReductionTime:     time.Minute * 20,
	GenerateSupported:        true,

	MaxBlockWeight:     4_000_000,
	MaxBlockSigOpsCost: 80_000,
	MaxBlockBaseSize:   1_000_000,

	BaseSubsidy:              50 * 1e8,
	SubsidyReductionInterval: 150,
	CoinbaseMaturity:         100,
	RetargetInterval:         2016,

	BIP0016Time:   time.Unix(0, 0),
	BIP0034Height: 100000000,
	BIP0065Height: 1351,
	BIP0066Height: 1251,

	RuleChangeActivationThreshold: 108,
	MinerConfirmationWindow:       144,

	Deployments: map[uint8]ConsensusDeployment{
		0: {Id: "csv", Bit: 0, StartTime: 0, ExpireTime: 999999999999},
		1: {Id: "segwit", Bit: 1, StartTime: 0, ExpireTime: 999999999999},
	},

	BIP30Exceptions: map[int64]chainhash.Hash{},

	Checkpoints: nil,

	MinKnownChainWork: nil,
	MaxTipAge:         time.Hour * 24 * 365 * 100,
}
