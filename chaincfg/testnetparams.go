// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// testNet3PowLimit is the highest proof-of-work target a testnet3 block
// header may have: 2^224 - 1, same as mainnet.
var testNet3PowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

// TestNet3Params defines the network parameters for the test Bitcoin
// network (version 3).
var TestNet3Params = Params{
	Name:        "testnet3",
	Net:         wire.TestNet3,
	DefaultPort: "18333",

	GenesisBlock: &testNet3GenesisBlock,
	GenesisHash:  testNet3GenesisHash,

	PowLimit:                 testNet3PowLimit,
	PowLimitBits:             0x1d00ffff,
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
	SubsidyReductionInterval: 210_000,
	CoinbaseMaturity:         100,
	RetargetInterval:         2016,

	BIP0016Time:   time.Unix(1333238400, 0),
	BIP0034Height: 21111,
	BIP0065Height: 581885,
	BIP0066Height: 330776,

	RuleChangeActivationThreshold: 1512,
	MinerConfirmationWindow:       2016,

	Deployments: map[uint8]ConsensusDeployment{
		0: {Id: "csv", Bit: 0, StartTime: 1456790400, ExpireTime: 1493596800},
		1: {Id: "segwit", Bit: 1, StartTime: 1462060800, ExpireTime: 1493596800},
	},

	BIP30Exceptions: map[int64]chainhash.Hash{},

	Checkpoints: []Checkpoint{
		{Height: 546, Hash: newHashFromStr("000000002a936ca763904c3c35fce2f3556c559c0214345d31b1bcebf76acb0")},
	},

	MinKnownChainWork: hexToBigInt("0000000000000000000000000000000000000000000198b41c9b1e5f0b1c11"),
	MaxTipAge:         time.Hour * 24 * 2,
}
