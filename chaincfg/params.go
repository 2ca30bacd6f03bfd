// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines the network parameters consumed by the chain and
// mining packages: genesis block, proof-of-work limits, retarget intervals,
// BIP16/34/65/66 activation points, the BIP9 deployment table, and the
// hard-coded checkpoint map.
package chaincfg

import (
	"errors"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// newHashFromStr converts the passed big-endian hex string into a
// chainhash.Hash.  It only differs from the one available in chainhash in
// that it panics on an error since it will only (and must only) be called
// with hard-coded, and therefore known good, hashes.
func newHashFromStr(hexStr string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		panic(err)
	}
	return hash
}

// hexToBigInt converts the passed hex string into a big integer and panics
// if there is an error.  It is only ever called with hard-coded values.
func hexToBigInt(hexStr string) *big.Int {
	val, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		panic("failed to parse big integer from hex: " + hexStr)
	}
	return val
}

// Checkpoint identifies a known good point in the block chain.  Using
// checkpoints allows a few optimizations during initial download and also
// prevents forks from before the checkpoint.
type Checkpoint struct {
	Height int64
	Hash   *chainhash.Hash
}

// ConsensusDeployment defines the BIP9 versionbits vote for a single soft
// fork: the bit miners signal in the block version, and the median-time
// window during which that signal is meaningful.
type ConsensusDeployment struct {
	// Id is a human-readable identifier for the deployment (e.g. "csv").
	Id string

	// Bit defines the specific bit number within the block version this
	// deployment refers to.
	Bit uint8

	// StartTime is the median block time after which voting on the
	// deployment starts.
	StartTime uint64

	// ExpireTime is the median block time after which the attempted
	// deployment expires, whether or not it was locked in.
	ExpireTime uint64
}

// Params defines a Bitcoin-family network by its consensus parameters.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Net defines the magic bytes used to identify the network on the wire.
	Net wire.BitcoinNet

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *wire.MsgBlock

	// GenesisHash is the starting block hash.
	GenesisHash chainhash.Hash

	// PowLimit defines the highest allowed proof-of-work target for a block.
	PowLimit *big.Int

	// PowLimitBits is PowLimit in compact form.
	PowLimitBits uint32

	// TargetTimespan is the desired amount of time it should take to find
	// enough blocks to trigger a difficulty retarget (14 days on mainnet).
	TargetTimespan time.Duration

	// TargetTimePerBlock is the desired amount of time to generate each
	// block (10 minutes on mainnet).
	TargetTimePerBlock time.Duration

	// RetargetAdjustmentFactor is the clamp applied to the ratio between the
	// actual and expected timespan at a retarget boundary (4 on mainnet).
	RetargetAdjustmentFactor int64

	// ReduceMinDifficulty indicates whether the network allows the "min
	// difficulty" testnet rule: if no block has been found for twice the
	// target spacing, allow a block with the minimum difficulty.
	ReduceMinDifficulty bool

	// MinDiffReductionTime is the amount of elapsed time since the previous
	// block after which the minimum difficulty rule applies.  Only
	// meaningful when ReduceMinDifficulty is true.
	MinDiffReductionTime time.Duration

	// GenerateSupported specifies whether or not CPU mining is supported.
	GenerateSupported bool

	// MaxBlockWeight is the maximum allowed weight for a block, as defined
	// by BIP141 (4,000,000 on mainnet).
	MaxBlockWeight int64

	// MaxBlockSigOpsCost is the maximum allowed cumulative sigop cost for a
	// block, as defined by BIP141 (80,000 on mainnet).
	MaxBlockSigOpsCost int64

	// MaxBlockBaseSize is the maximum allowed serialized size of a block's
	// non-witness data (1,000,000 on mainnet, prior to any witness
	// discount).
	MaxBlockBaseSize int64

	// BaseSubsidy is the starting block subsidy, in satoshi, paid to the
	// miner of the first block in the chain's first reduction interval
	// (50 BTC on mainnet).
	BaseSubsidy int64

	// SubsidyReductionInterval is the number of blocks between each halving
	// of the block subsidy (210,000 on mainnet).
	SubsidyReductionInterval int64

	// CoinbaseMaturity is the number of blocks required before newly
	// generated coins via the coinbase transaction may be spent.
	CoinbaseMaturity uint16

	// RetargetInterval is the number of blocks between difficulty
	// retargets (2016 on mainnet).
	RetargetInterval int64

	// BIP0016Time is the timestamp after which BIP0016 (P2SH) is enforced.
	BIP0016Time time.Time

	// BIP0034Height is the block height at which BIP0034 (block height in
	// coinbase) becomes active.
	BIP0034Height int64

	// BIP0065Height is the block height at which BIP0065 (CHECKLOCKTIMEVERIFY)
	// becomes active.
	BIP0065Height int64

	// BIP0066Height is the block height at which BIP0066 (strict DER
	// signatures) becomes active.
	BIP0066Height int64

	// RuleChangeActivationThreshold is the number of blocks in a
	// MinerConfirmationWindow-block window that must signal for a
	// deployment for it to lock in (1916 of 2016 on mainnet, 95%).
	RuleChangeActivationThreshold uint32

	// MinerConfirmationWindow is the number of blocks in each BIP9 signaling
	// period (equal to RetargetInterval on mainnet: 2016).
	MinerConfirmationWindow uint32

	// Deployments defines the set of BIP9 deployments tracked on this
	// network, indexed by their signaling bit.
	Deployments map[uint8]ConsensusDeployment

	// BIP30Exceptions lists the (height, hash) pairs that are permitted to
	// violate the BIP30 duplicate-transaction rule because they predate it.
	BIP30Exceptions map[int64]chainhash.Hash

	// Checkpoints is a list of hard-coded checkpoints in ascending order of
	// height.
	Checkpoints []Checkpoint

	// MinKnownChainWork is the minimum amount of known total work for the
	// chain at a given point in time, used as a cheap early sync-gate check.
	MinKnownChainWork *big.Int

	// MaxTipAge is the maximum age, in wall-clock terms, that the tip's
	// timestamp is allowed to lag behind now before the chain is considered
	// not yet synced.
	MaxTipAge time.Duration
}

// DeploymentByID returns the deployment with the given human-readable id and
// true, or the zero value and false when no such deployment is configured.
func (p *Params) DeploymentByID(id string) (ConsensusDeployment, bool) {
	for _, d := range p.Deployments {
		if d.Id == id {
			return d, true
		}
	}
	return ConsensusDeployment{}, false
}

// CheckpointByHeight returns the checkpoint at the given height and true, or
// the zero value and false when there is no checkpoint at that height.
func (p *Params) CheckpointByHeight(height int64) (Checkpoint, bool) {
	for _, cp := range p.Checkpoints {
		if cp.Height == height {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// LastCheckpoint returns the highest configured checkpoint, or false if none
// are configured.
func (p *Params) LastCheckpoint() (Checkpoint, bool) {
	if len(p.Checkpoints) == 0 {
		return Checkpoint{}, false
	}
	return p.Checkpoints[len(p.Checkpoints)-1], true
}

var registeredNets = make(map[wire.BitcoinNet]*Params)

// ErrDuplicateNet is returned when the same network is registered more than
// once.
var ErrDuplicateNet = errors.New("duplicate network")

// Register registers the network parameters for a Bitcoin-family network so
// that it may later be looked up by its wire.BitcoinNet magic.  This mirrors
// the teacher's approach of a package-level registry populated by init().
func Register(params *Params) error {
	if _, ok := registeredNets[params.Net]; ok {
		return ErrDuplicateNet
	}
	registeredNets[params.Net] = params
	return nil
}

// ParamsForNet returns the previously registered Params for the given magic,
// or nil if it was never registered.
func ParamsForNet(net wire.BitcoinNet) *Params {
	return registeredNets[net]
}

func init() {
	mustRegister(&MainNetParams)
	mustRegister(&TestNet3Params)
	mustRegister(&RegressionNetParams)
}

func mustRegister(p *Params) {
	if err := Register(p); err != nil {
		panic(err)
	}
}
