// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// bigOne is 1 represented as a big.Int, used in the proof-of-work limit
// calculations below.
var bigOne = big.NewInt(1)

// mainPowLimit is the highest proof-of-work target a mainnet block header
// may have: 2^224 - 1.
var mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

// MainNetParams defines the network parameters for the main Bitcoin network.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         wire.MainNet,
	DefaultPort: "8333",

	GenesisBlock: &genesisBlock,
	GenesisHash:  genesisHash,

	PowLimit:                 mainPowLimit,
	PowLimitBits:             0x1d00ffff,
	TargetTimespan:           time.Hour * 24 * 14,
	TargetTimePerBlock:       time.Minute * 10,
	RetargetAdjustmentFactor: 4,
	ReduceMinDifficulty:      false,
	GenerateSupported:        false,

	MaxBlockWeight:     4_000_000,
	MaxBlockSigOpsCost: 80_000,
	MaxBlockBaseSize:   1_000_000,

	BaseSubsidy:              50 * 1e8,
	SubsidyReductionInterval: 210_000,
	CoinbaseMaturity:         100,
	RetargetInterval:         2016,

	BIP0016Time:   time.Unix(1333238400, 0),
	BIP0034Height: 227931,
	BIP0065Height: 388381,
	BIP0066Height: 363725,

	RuleChangeActivationThreshold: 1916,
	MinerConfirmationWindow:       2016,

	Deployments: map[uint8]ConsensusDeployment{
		0: {Id: "csv", Bit: 0, StartTime: 1462060800, ExpireTime: 1493596800},
		1: {Id: "segwit", Bit: 1, StartTime: 1479168000, ExpireTime: 1510704000},
	},

	// BIP30Exceptions permits the two known mainnet blocks whose coinbase
	// duplicates the txid of an earlier, still-unspent coinbase: 91842
	// duplicates the coinbase of block 91812, and 91880 duplicates the
	// coinbase of block 91722. Both predate BIP34 (227931), which made
	// the height push mandatory and closed off this class of collision.
	BIP30Exceptions: map[int64]chainhash.Hash{
		91842: *newHashFromStr("00000000000a4d0a398161ffc163c503763b1f4360639393e0e4c9e0f9e6167"),
		91880: *newHashFromStr("00000000000743f190a18c5577a3c2d2a1f610ae9601ac046a38084ccb7cd71"),
	},

	Checkpoints: []Checkpoint{
		{Height: 11111, Hash: newHashFromStr("0000000069e244f73d78e8fd29ba2fd2ed618bd6fa2ee92559f542fdb26e7c1")},
		{Height: 33333, Hash: newHashFromStr("000000002dd5588a74784eaa7ab0507a18ad16a236e7b1ce69f00d7ddfb5d0a")},
		{Height: 210000, Hash: newHashFromStr("000000000000048b95347e83192f69cf0366076336c639f9b7228e9ba17134")},
		{Height: 216116, Hash: newHashFromStr("00000000000001b4f4b433e81ee46494af945cf96014816a4e2370f11b23df")},
	},

	MinKnownChainWork: hexToBigInt("00000000000000000000000000000000000000000009d78d0bb9f1c1d8b0a3"),
	MaxTipAge:         time.Hour * 24 * 2,
}
