// Copyright (c) 2018-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChainTipInfo models information about a chain tip, whether it is the
// current main chain tip or the tip of a known but unconnected side branch.
type ChainTipInfo struct {
	// Height specifies the block height of the chain tip.
	Height int64

	// Hash specifies the block hash of the chain tip.
	Hash chainhash.Hash

	// BranchLen specifies the length of the branch that connects the
	// chain tip to the main chain. It is zero for the main chain tip.
	BranchLen int64

	// Active is true for the current main chain tip.
	Active bool
}

// chainTipInfoSorter sorts a slice of ChainTipInfo by descending height,
// falling back to hash order for a stable result when heights match.
type chainTipInfoSorter []ChainTipInfo

func (s chainTipInfoSorter) Len() int      { return len(s) }
func (s chainTipInfoSorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s chainTipInfoSorter) Less(i, j int) bool {
	if s[i].Height == s[j].Height {
		return s[i].Hash.String() < s[j].Hash.String()
	}
	return s[i].Height > s[j].Height
}

// ChainTips returns information about the current main chain tip together
// with every known side-branch tip, sorted by descending height.
//
// This function is safe for concurrent access.
func (c *Chain) ChainTips() []ChainTipInfo {
	c.mtx.RLock()
	tip := c.tip
	c.mtx.RUnlock()

	c.candMtx.Lock()
	results := make([]ChainTipInfo, 0, len(c.candidates)+1)
	for _, e := range c.candidates {
		results = append(results, ChainTipInfo{
			Height:    e.height,
			Hash:      e.hash,
			BranchLen: e.height - findFork(tip, e).height,
		})
	}
	c.candMtx.Unlock()

	results = append(results, ChainTipInfo{
		Height: tip.height,
		Hash:   tip.hash,
		Active: true,
	})

	sort.Sort(chainTipInfoSorter(results))
	return results
}

// HaveBlock returns whether the block referenced by hash is either part of
// the main chain, a known side branch, or a known orphan.
//
// This function is safe for concurrent access.
func (c *Chain) HaveBlock(hash *chainhash.Hash) bool {
	if c.IsKnownOrphan(hash) {
		return true
	}
	return c.db.HasEntry(*hash)
}

// IsKnownOrphan returns whether the passed hash is currently a known orphan.
// This function is safe for concurrent access, but the returned state may
// change as more blocks arrive.
func (c *Chain) IsKnownOrphan(hash *chainhash.Hash) bool {
	c.orphanMtx.Lock()
	defer c.orphanMtx.Unlock()
	return c.orphans.exists(hash)
}

// GetOrphanRoot returns the head of the orphan chain that eventually leads
// to hash, i.e. the hash of the earliest-known orphan that is missing its
// own parent. It returns hash itself when it is not a known orphan.
//
// This function is safe for concurrent access.
func (c *Chain) GetOrphanRoot(hash *chainhash.Hash) chainhash.Hash {
	c.orphanMtx.Lock()
	defer c.orphanMtx.Unlock()

	root := *hash
	for {
		orphan, ok := c.orphans.byHash[root]
		if !ok {
			break
		}
		root = orphan.block.MsgBlock().Header.PrevBlock
	}
	return root
}

// BlockByHash returns the block identified by hash from the database.
//
// This function is safe for concurrent access.
func (c *Chain) BlockByHash(hash chainhash.Hash) (*btcutil.Block, error) {
	return c.blockByHash(hash)
}

// BlockHashByHeight returns the hash of the main chain block at height, or
// false if height is outside the main chain's range.
//
// This function is safe for concurrent access.
func (c *Chain) BlockHashByHeight(height int64) (chainhash.Hash, bool) {
	c.mtx.RLock()
	tip := c.tip
	c.mtx.RUnlock()

	if height < 0 || height > tip.height {
		return chainhash.Hash{}, false
	}
	entry := tip.Ancestor(height)
	if entry == nil {
		return chainhash.Hash{}, false
	}
	return entry.hash, true
}

// HeightByHash returns the main chain height of the block identified by
// hash, or false if it is not part of the main chain.
//
// This function is safe for concurrent access.
func (c *Chain) HeightByHash(hash chainhash.Hash) (int64, bool) {
	entry, err := c.db.GetEntry(hash)
	if err != nil || entry == nil {
		return 0, false
	}

	c.mtx.RLock()
	tip := c.tip
	c.mtx.RUnlock()

	if anc := tip.Ancestor(entry.height); anc == nil || anc.hash != entry.hash {
		return 0, false
	}
	return entry.height, true
}

// IsKnownInvalidBlock returns whether hash is recorded in the invalid block
// cache, either because it failed validation itself or descends from a
// block that did. A return value of false does not imply the block is
// valid -- only that it has not (yet) been proven otherwise.
//
// This function is safe for concurrent access.
func (c *Chain) IsKnownInvalidBlock(hash chainhash.Hash) bool {
	c.invalidMtx.Lock()
	defer c.invalidMtx.Unlock()
	return c.invalidCache.Contains(hash)
}

// FetchUtxoEntry loads and returns the requested unspent transaction output
// from the database, or nil if it does not exist or has already been spent.
// This is the only UTXO access the chain exposes outside of block
// connection/disconnection; it exists to let other packages (such as the
// mining package's priority calculations) consult confirmed output age
// without being handed the full UtxoViewpoint machinery.
//
// This function is safe for concurrent access.
func (c *Chain) FetchUtxoEntry(outpoint wire.OutPoint) (*UtxoEntry, error) {
	return c.db.FetchUtxoEntry(outpoint)
}

// IsFinalizedTransaction returns whether or not tx is finalized for the
// given height and time, in the same manner it would be checked as part of
// full block validation.
//
// This function is safe for concurrent access.
func (c *Chain) IsFinalizedTransaction(tx *btcutil.Tx, blockHeight int64, blockTime time.Time) bool {
	return isFinalizedTransaction(tx, blockHeight, blockTime)
}

// CalcNextBlockVersion returns the version a block template building on the
// current tip should advertise: the base version OR'd with the versionbits
// top bits and the deployment bit of every currently known deployment whose
// threshold state is ThresholdStarted, so a miner using this chain signals
// readiness for every active vote.
//
// This function is safe for concurrent access.
func (c *Chain) CalcNextBlockVersion() (int32, error) {
	c.mtx.RLock()
	tip := c.tip
	c.mtx.RUnlock()

	version := int32(generatedBlockVersion)
	for _, deployment := range c.params.Deployments {
		deployment := deployment
		cache := c.thresholdCacheFor(deployment.Id)
		if cache == nil {
			continue
		}
		state, err := deploymentState(c.params, cache, tip, &deployment)
		if err != nil {
			return 0, err
		}
		if state == ThresholdStarted {
			version |= int32(versionBitsTopBits) | int32(1)<<uint(deployment.Bit)
		}
	}
	return version, nil
}

// VerifyProgress returns a guess, expressed as a percentage, of how far the
// main chain has progressed towards the most recent point the node has any
// knowledge of, based on median block time versus wall-clock time.
//
// This function is safe for concurrent access.
func (c *Chain) VerifyProgress() float64 {
	snapshot := c.BestSnapshot()
	if snapshot.Height == 0 {
		return 0.0
	}

	genesisTime := c.params.GenesisBlock.Header.Timestamp
	now := c.timeSource.AdjustedTime()
	totalSpan := now.Sub(genesisTime).Seconds()
	if totalSpan <= 0 {
		return 100.0
	}

	elapsed := snapshot.MedianTime.Sub(genesisTime).Seconds()
	return math.Min(elapsed/totalSpan, 1.0) * 100
}
