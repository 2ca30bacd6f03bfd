// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"sync"
	"time"

	"github.com/blockrelay/btcchain/chaincfg"
	"github.com/blockrelay/btcchain/internal/progresslog"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/decred/dcrd/lru"
)

// generatedBlockVersion is the base version a mined block advertises before
// any versionbits deployment signal bits are OR'd in.
const generatedBlockVersion = 4

// versionBitsTopMask and versionBitsTopBits identify the top three bits a
// version must carry to be interpreted as a versionbits signal rather than
// a plain version number, per BIP9.
const (
	versionBitsTopMask int32 = -0x20000000 // 0xe0000000 as int32
	versionBitsTopBits int32 = 0x20000000
)

// invalidCacheLimit bounds the number of known-bad block hashes the chain
// remembers, so a flood of variations on a rejected block can't grow memory
// without bound.
const invalidCacheLimit = 500

// recentBlockCacheSize bounds the number of full blocks kept in memory so a
// peer re-requesting a just-connected block doesn't force a database read.
const recentBlockCacheSize = 72

// contextCheckCacheSize bounds the number of block hashes remembered as
// having already passed verifyContext, so a block reached again through a
// different path (e.g. while probing reorg candidates) doesn't redo
// expensive script validation.
const contextCheckCacheSize = 500

// Config holds everything needed to construct a Chain.
type Config struct {
	// DB is the persistent backing store for the block index, coin set,
	// and state cache.
	DB *ChainDB

	// Params holds the consensus parameters for the network being
	// validated.
	Params *chaincfg.Params

	// TimeSource supplies the node's adjusted time used to bound how far
	// in the future a block's timestamp may be. A default implementation
	// is used if nil.
	TimeSource MedianTimeSource

	// SigCache caches script signature verification results across
	// blocks. May be nil, in which case every signature is verified from
	// scratch.
	SigCache *txscript.SigCache

	// Checkpoints enables hard-coded checkpoint enforcement and the
	// accompanying historical-block script-verification skip. It is
	// disabled automatically once the chain reaches IsCurrent.
	Checkpoints bool
}

// BestState summarizes the tip of the main chain for callers outside the
// package that only need a stable snapshot rather than the full entry
// graph.
type BestState struct {
	Hash       chainhash.Hash
	PrevHash   chainhash.Hash
	Height     int64
	Bits       uint32
	MedianTime time.Time
}

// Chain is the orchestrator described by the component design: it ingests
// candidate blocks arriving out of order from untrusted peers, validates
// them against consensus rules, tracks BIP9 deployment activation, and
// reorganizes the tracked main chain when a heavier competitor appears. All
// mutating entry points are serialized by locker.
type Chain struct {
	params     *chaincfg.Params
	db         *ChainDB
	timeSource MedianTimeSource
	sigCache   *txscript.SigCache

	locker        *Locker
	notifications *notificationManager

	mtx sync.RWMutex
	tip *chainEntry

	checkpointsEnabled bool

	orphanMtx sync.Mutex
	orphans   *orphanStore

	invalidMtx   sync.Mutex
	invalidCache lru.Cache

	recentBlocks        lru.KVCache
	recentContextChecks lru.Cache

	candMtx    sync.Mutex
	candidates map[chainhash.Hash]*chainEntry

	csvCache    *thresholdStateCache
	segwitCache *thresholdStateCache

	progressLogger *progresslog.Logger
}

// New returns a Chain backed by the given configuration, bootstrapping the
// database with the network's genesis block if it has not been initialized
// yet.
func New(config *Config) (*Chain, error) {
	params := config.Params
	timeSource := config.TimeSource
	if timeSource == nil {
		timeSource = NewMedianTime()
	}

	var csvBit, segwitBit uint8
	if d, ok := params.DeploymentByID("csv"); ok {
		csvBit = d.Bit
	}
	if d, ok := params.DeploymentByID("segwit"); ok {
		segwitBit = d.Bit
	}

	c := &Chain{
		params:              params,
		db:                  config.DB,
		timeSource:          timeSource,
		sigCache:            config.SigCache,
		locker:              NewLocker(),
		notifications:       newNotificationManager(),
		orphans:             newOrphanStore(),
		invalidCache:        lru.NewCache(invalidCacheLimit),
		recentBlocks:        lru.NewKVCache(recentBlockCacheSize),
		recentContextChecks: lru.NewCache(contextCheckCacheSize),
		candidates:          make(map[chainhash.Hash]*chainEntry),
		csvCache:            newThresholdStateCache(config.DB, csvBit),
		segwitCache:         newThresholdStateCache(config.DB, segwitBit),
		checkpointsEnabled:  config.Checkpoints,
		progressLogger:      progresslog.New("Processed", log),
	}

	tip, err := c.db.GetTip()
	if err != nil {
		return nil, err
	}
	if tip == nil {
		tip, err = c.storeGenesis()
		if err != nil {
			return nil, err
		}
	}
	c.tip = tip

	return c, nil
}

// thresholdCacheFor returns the in-memory threshold state cache backing the
// named deployment, or nil if the chain does not track one for it. Only csv
// and segwit are wired up today; a deployment added to chaincfg without a
// matching cache here simply never signals as started.
func (c *Chain) thresholdCacheFor(deploymentID string) *thresholdStateCache {
	switch deploymentID {
	case "csv":
		return c.csvCache
	case "segwit":
		return c.segwitCache
	default:
		return nil
	}
}

// storeGenesis constructs and persists the entry for the network's genesis
// block, which is always valid by definition and is never itself fed
// through Add.
func (c *Chain) storeGenesis() (*chainEntry, error) {
	block := btcutil.NewBlock(c.params.GenesisBlock)
	block.SetHeight(0)

	entry := newChainEntry(&block.MsgBlock().Header, 0, nil)
	entry.status = statusDataStored | statusValid

	if err := c.db.Save(entry, block, nil, nil, true); err != nil {
		return nil, err
	}
	return entry, nil
}

// Subscribe registers a callback to receive every notification the chain
// raises. Callbacks run synchronously on the goroutine driving Add and must
// not call back into the chain.
func (c *Chain) Subscribe(callback NotificationCallback) {
	c.notifications.Subscribe(callback)
}

// BestSnapshot returns a point-in-time snapshot of the main chain tip.
func (c *Chain) BestSnapshot() *BestState {
	c.mtx.RLock()
	tip := c.tip
	c.mtx.RUnlock()

	var prevHash chainhash.Hash
	if tip.parent != nil {
		prevHash = tip.parent.hash
	}
	return &BestState{
		Hash:       tip.hash,
		PrevHash:   prevHash,
		Height:     tip.height,
		Bits:       tip.bits,
		MedianTime: tip.CalcPastMedianTime(),
	}
}

// CalcNextRequiredDifficulty returns the PoW target bits required for a
// block building on the current tip at the given time.
//
// This function is safe for concurrent access.
func (c *Chain) CalcNextRequiredDifficulty(timestamp time.Time) (uint32, error) {
	c.mtx.RLock()
	tip := c.tip
	c.mtx.RUnlock()
	return calcNextRequiredDifficulty(c.params, tip, timestamp)
}

// IsCurrent implements the sync gate: the chain is considered caught up
// with the network once its cumulative work has reached the configured
// minimum, its tip is recent relative to wall-clock time, and it has passed
// the last hard-coded checkpoint. Checkpoint enforcement and the associated
// historical-block script skip are disabled the first time this becomes
// true.
func (c *Chain) IsCurrent() bool {
	c.mtx.RLock()
	tip := c.tip
	c.mtx.RUnlock()

	if c.params.MinKnownChainWork != nil {
		work := tip.WorkSum()
		if work.ToBig().Cmp(c.params.MinKnownChainWork) < 0 {
			return false
		}
	}

	maxAge := c.params.MaxTipAge
	if maxAge == 0 {
		maxAge = 24 * time.Hour
	}
	if time.Unix(tip.timestamp, 0).Before(c.timeSource.AdjustedTime().Add(-maxAge)) {
		return false
	}

	if cp, ok := c.params.LastCheckpoint(); ok && tip.height < cp.Height {
		return false
	}

	if c.checkpointsEnabled {
		c.checkpointsEnabled = false
		c.notifications.sendNotification(NTFull, nil)
	}
	return true
}

// shouldRunScripts reports whether signature and BIP68 sequence-lock
// verification should run for a block being connected at the given height.
// When checkpoints are enabled and the height is at or below the last
// checkpoint, the block's validity is already implied by the checkpoint
// itself, so the expensive per-input checks are skipped and only the coin
// movements are recorded.
func (c *Chain) shouldRunScripts(height int64) bool {
	if !c.checkpointsEnabled {
		return true
	}
	cp, ok := c.params.LastCheckpoint()
	if !ok {
		return true
	}
	return height > cp.Height
}

// markInvalid records hash in the invalid block cache unless err reflects a
// malleated failure, in which case the sending peer may simply have mutated
// an otherwise-valid block and the hash must not be permanently rejected.
// Every rule failure is logged with its banscore regardless of malleation,
// since that score is the signal a hosting P2P layer would use to decide
// whether to disconnect or ban the peer that delivered the block.
func (c *Chain) markInvalid(hash chainhash.Hash, err error) {
	ruleErr, ok := err.(RuleError)
	if ok {
		log.Warnf("Rejected block %v: %v (score %d)", hash, ruleErr.Description,
			ruleErr.Score)
		if ruleErr.Malleated {
			return
		}
	}
	c.invalidMtx.Lock()
	c.invalidCache.Add(hash)
	c.invalidMtx.Unlock()
}

// Add is the chain's single entry point for a newly received candidate
// block. Calls for the same block hash are serialized by locker, so a
// second concurrent submission of the same block fails fast rather than
// waiting on, and redundantly repeating, the first.
func (c *Chain) Add(block *btcutil.Block) error {
	hash := *block.Hash()

	if hash == c.params.GenesisHash {
		return ruleError(ErrDuplicateBlock, "block is the genesis block")
	}
	if c.locker.IsPending(hash) {
		return ruleError(ErrDuplicateBlock, "block is already being processed")
	}

	_, err, _ := c.locker.Do(hash, func() (interface{}, error) {
		return nil, c.addInternal(block)
	})
	return err
}

// addInternal implements the ingestion and commit algorithm: duplicate
// guards, non-contextual verification, parent lookup, checkpoint
// enforcement, placement by cumulative work (extending the tip, saving a
// side chain, or triggering a reorganization), and finally resolving any
// orphans that were waiting on this block.
func (c *Chain) addInternal(block *btcutil.Block) error {
	hash := *block.Hash()

	if c.orphans.exists(&hash) {
		return ruleError(ErrDuplicateBlock, "block is an already known orphan")
	}

	prevHash := block.MsgBlock().Header.PrevBlock
	c.invalidMtx.Lock()
	known := c.invalidCache.Contains(hash) || c.invalidCache.Contains(prevHash)
	if known {
		c.invalidCache.Add(hash)
	}
	c.invalidMtx.Unlock()
	if known {
		return ruleError(ErrKnownInvalidBlock, "block or its parent is known invalid")
	}

	if err := verifySanity(block, c.params, c.timeSource); err != nil {
		c.markInvalid(hash, err)
		c.notifications.sendNotification(NTInvalid, block)
		return err
	}

	if c.db.HasEntry(hash) {
		c.notifications.sendNotification(NTExists, block)
		return ruleError(ErrDuplicateBlock, "block already exists")
	}

	parent, err := c.db.GetEntry(prevHash)
	if err != nil {
		return err
	}
	if parent == nil {
		c.storeOrphan(block)
		c.notifications.sendNotification(NTOrphan, block)
		return ruleError(ErrMissingParent, "parent block is unknown")
	}

	nextHeight := parent.height + 1
	if cp, ok := c.params.CheckpointByHeight(nextHeight); c.checkpointsEnabled && ok && *cp.Hash != hash {
		c.purgeOrphans()
		c.notifications.sendNotification(NTFork, &ForkData{Height: nextHeight, Hash: hash})
		str := fmt.Sprintf("block at height %d does not match checkpoint hash %v",
			nextHeight, cp.Hash)
		return ruleError(ErrCheckpointMismatch, str)
	}

	entry := newChainEntry(&block.MsgBlock().Header, nextHeight, parent)
	block.SetHeight(int32(nextHeight))

	c.mtx.RLock()
	tip := c.tip
	c.mtx.RUnlock()

	entryWork := entry.WorkSum()
	tipWork := tip.WorkSum()
	if entryWork.ToBig().Cmp(tipWork.ToBig()) <= 0 {
		if err := c.saveSideChain(entry, parent, block); err != nil {
			return err
		}
	} else {
		if err := c.extendTip(entry, parent, tip, block); err != nil {
			return err
		}
	}

	if err := c.resolveOrphans(hash); err != nil {
		return err
	}

	c.pruneOrphans()
	c.IsCurrent()

	return nil
}

// saveSideChain validates and persists a block that does not (yet) carry
// more cumulative work than the tip. Only the header/transaction checks that
// don't depend on a branch-local coin set are run here -- verify, not
// verifyContext -- since the persisted UTXO set this chain exposes reflects
// the main chain's state, not this side branch's: a coin the branch itself
// created isn't in it yet, and a coin the branch itself spent may still
// appear unspent. Running verifyInputs against it would spend-check side
// chain transactions against the wrong view and misjudge them either way.
// Real input verification happens later, against a freshly-built branch-local
// view, if and when reorganizeOnce replays this block onto the main chain.
func (c *Chain) saveSideChain(entry, parent *chainEntry, block *btcutil.Block) error {
	if _, _, err := verify(c.params, parent, block, c.timeSource, c.csvCache, c.segwitCache); err != nil {
		c.markInvalid(entry.hash, err)
		c.notifications.sendNotification(NTInvalid, block)
		return err
	}

	entry.status = statusDataStored
	if err := c.db.Save(entry, block, nil, nil, false); err != nil {
		return err
	}
	c.recentBlocks.Add(entry.hash, block)
	c.addCandidate(entry, parent)

	c.notifications.sendNotification(NTBlock, block)
	c.notifications.sendNotification(NTCompetitor, block)
	return nil
}

// extendTip connects a block that carries more cumulative work than the
// current tip, reorganizing onto its branch first if it does not directly
// extend it, then commits the block itself as the new best chain tip.
func (c *Chain) extendTip(entry, parent, oldTip *chainEntry, block *btcutil.Block) error {
	if parent.hash != oldTip.hash {
		if err := c.reorganize(parent); err != nil {
			return err
		}
	}

	view := NewUtxoViewpoint(c.db)
	runScripts := c.shouldRunScripts(entry.height)

	_, stxos, _, _, err := verifyContext(c.db, c.params, parent, block, view,
		c.timeSource, c.csvCache, c.segwitCache, runScripts, c.sigCache)
	if err != nil {
		c.markInvalid(entry.hash, err)
		c.notifications.sendNotification(NTInvalid, block)
		return err
	}
	c.recentContextChecks.Add(entry.hash)

	entry.status = statusDataStored | statusValid
	if err := c.db.Save(entry, block, view, stxos, true); err != nil {
		return err
	}
	c.recentBlocks.Add(entry.hash, block)
	c.removeCandidate(entry.hash)

	c.mtx.Lock()
	c.tip = entry
	c.mtx.Unlock()

	c.progressLogger.LogProgress(block.MsgBlock(), entry.height, c.IsCurrent())

	c.notifications.sendNotification(NTBlock, block)
	c.notifications.sendNotification(NTConnect, &BlockConnectedData{Entry: entry, Block: block})
	c.notifications.sendNotification(NTTip, entry)

	if _, ok := c.params.CheckpointByHeight(entry.height); ok {
		c.notifications.sendNotification(NTCheckpoint, &BlockConnectedData{Entry: entry, Block: block})
	}

	return nil
}

// addCandidate records entry as the tip of a known side branch, dropping
// its parent from the candidate set since a branch is only interesting at
// its deepest known point.
func (c *Chain) addCandidate(entry, parent *chainEntry) {
	c.candMtx.Lock()
	delete(c.candidates, parent.hash)
	c.candidates[entry.hash] = entry
	c.candMtx.Unlock()
}

// removeCandidate drops hash from the side-branch candidate set, used once
// an entry has been connected to the main chain or proven invalid.
func (c *Chain) removeCandidate(hash chainhash.Hash) {
	c.candMtx.Lock()
	delete(c.candidates, hash)
	c.candMtx.Unlock()
}

// bestCandidate returns the known side-chain tip with the most cumulative
// work other than exclude, or nil if none remain.
func (c *Chain) bestCandidate(exclude chainhash.Hash) *chainEntry {
	c.candMtx.Lock()
	defer c.candMtx.Unlock()

	var best *chainEntry
	for hash, e := range c.candidates {
		if hash == exclude {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		eWork := e.WorkSum()
		bestWork := best.WorkSum()
		if eWork.ToBig().Cmp(bestWork.ToBig()) > 0 {
			best = e
		}
	}
	return best
}

// reorganize switches the main chain onto newBranchTip's branch, retrying
// against the next-best known candidate if the attempt fails partway
// through rather than leaving the chain stalled at the fork point.
func (c *Chain) reorganize(newBranchTip *chainEntry) error {
	target := newBranchTip
	for target != nil {
		c.mtx.RLock()
		tip := c.tip
		c.mtx.RUnlock()
		if tip.hash == target.hash {
			return nil
		}

		err := c.reorganizeOnce(target)
		if err == nil {
			return nil
		}
		if _, ok := err.(RuleError); !ok {
			return err
		}

		c.removeCandidate(target.hash)
		next := c.bestCandidate(target.hash)
		if next == nil || next.hash == target.hash {
			return err
		}
		target = next
	}
	return nil
}

// reorganizeOnce performs a single reorganization attempt: it finds the
// common ancestor of the current tip and newBranchTip, rolls the current
// branch back to that point, and replays the competing branch forward up
// to and including newBranchTip. The caller then connects the new block on
// top of it. A failure during replay leaves the chain
// sitting partway through the rollback/replay and is surfaced to the caller.
func (c *Chain) reorganizeOnce(newBranchTip *chainEntry) error {
	c.mtx.RLock()
	oldTip := c.tip
	c.mtx.RUnlock()

	fork := findFork(oldTip, newBranchTip)

	var disconnect []*chainEntry
	for e := oldTip; e != nil && e.height > fork.height; e = e.parent {
		disconnect = append(disconnect, e)
	}

	var connect []*chainEntry
	for e := newBranchTip; e != nil && e.height > fork.height; e = e.parent {
		connect = append(connect, e)
	}
	for i, j := 0, len(connect)-1; i < j; i, j = i+1, j-1 {
		connect[i], connect[j] = connect[j], connect[i]
	}

	for _, e := range disconnect {
		block, err := c.blockByHash(e.hash)
		if err != nil {
			return err
		}
		if block == nil {
			return fmt.Errorf("missing block body for %v during reorg rollback", e.hash)
		}
		block.SetHeight(int32(e.height))

		if _, err := c.db.Disconnect(e, block); err != nil {
			return err
		}
		c.addCandidate(e, e.parent)

		c.mtx.Lock()
		c.tip = e.parent
		c.mtx.Unlock()

		c.notifications.sendNotification(NTDisconnect, &BlockDisconnectedData{Entry: e, Block: block})
	}

	for _, e := range connect {
		block, err := c.blockByHash(e.hash)
		if err != nil {
			return err
		}
		if block == nil {
			return fmt.Errorf("missing block body for %v during reorg replay", e.hash)
		}
		block.SetHeight(int32(e.height))

		view := NewUtxoViewpoint(c.db)
		runScripts := c.shouldRunScripts(e.height)
		var stxos []spentTxOut
		if !c.recentContextChecks.Contains(e.hash) {
			_, stxos, _, _, err = verifyContext(c.db, c.params, e.parent, block, view,
				c.timeSource, c.csvCache, c.segwitCache, runScripts, c.sigCache)
			if err != nil {
				c.markInvalid(e.hash, err)
				return err
			}
			c.recentContextChecks.Add(e.hash)
		} else if err := view.fetchInputUtxos(block); err != nil {
			return err
		} else if err := view.connectTransactions(block, &stxos); err != nil {
			return err
		}

		if err := c.db.Reconnect(e, block, view, stxos); err != nil {
			return err
		}
		c.removeCandidate(e.hash)

		c.mtx.Lock()
		c.tip = e
		c.mtx.Unlock()

		c.notifications.sendNotification(NTReconnect, &BlockConnectedData{Entry: e, Block: block})
	}

	c.notifications.sendNotification(NTReorganize, &ReorganizationData{OldTip: oldTip, NewTip: newBranchTip})
	return nil
}

// blockByHash returns the full block for hash, consulting the recent-block
// cache before falling back to the database.
func (c *Chain) blockByHash(hash chainhash.Hash) (*btcutil.Block, error) {
	if v, ok := c.recentBlocks.Lookup(hash); ok {
		return v.(*btcutil.Block), nil
	}
	block, err := c.db.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	if block != nil {
		c.recentBlocks.Add(hash, block)
	}
	return block, nil
}

// findFork returns the lowest common ancestor of a and b by walking the
// deeper entry back to the shallower one's height and then both back in
// lockstep.
func findFork(a, b *chainEntry) *chainEntry {
	for a.height > b.height {
		a = a.parent
	}
	for b.height > a.height {
		b = b.parent
	}
	for a.hash != b.hash {
		a = a.parent
		b = b.parent
	}
	return a
}

// storeOrphan records a parentless block in the orphan store, under the
// chain's orphan lock.
func (c *Chain) storeOrphan(block *btcutil.Block) {
	c.orphanMtx.Lock()
	c.orphans.add(block)
	c.orphanMtx.Unlock()
}

// purgeOrphans discards every staged orphan, for use when a checkpoint
// mismatch invalidates whatever the node has accumulated in memory.
func (c *Chain) purgeOrphans() {
	c.orphanMtx.Lock()
	c.orphans.purge()
	c.orphanMtx.Unlock()
	c.notifications.sendNotification(NTPurge, nil)
}

// pruneOrphans sweeps out orphans that have sat without their parent arriving
// for too long, then enforces the orphan store's size limit, evicting the
// heuristically weakest entries first.
func (c *Chain) pruneOrphans() {
	c.orphanMtx.Lock()
	before := c.orphans.len()
	c.orphans.removeExpired(time.Now())
	for c.orphans.len() > maxOrphanBlocks {
		c.orphans.evictOne()
	}
	evicted := c.orphans.len() < before
	c.orphanMtx.Unlock()
	if evicted {
		c.notifications.sendNotification(NTPurge, nil)
	}
}

// resolveOrphans iteratively reprocesses every orphan waiting on
// committedHash, removing each from the orphan store and feeding it back
// through addInternal. Because addInternal itself calls resolveOrphans,
// this pulls in an entire stalled chain of orphans in order as their common
// ancestor finally arrives.
func (c *Chain) resolveOrphans(committedHash chainhash.Hash) error {
	c.orphanMtx.Lock()
	children := c.orphans.childrenOf(&committedHash)
	c.orphanMtx.Unlock()

	for _, child := range children {
		childHash := *child.Hash()
		c.orphanMtx.Lock()
		c.orphans.remove(&childHash)
		c.orphanMtx.Unlock()

		if err := c.addInternal(child); err != nil {
			if _, ok := err.(RuleError); !ok {
				return err
			}
			continue
		}
		c.notifications.sendNotification(NTResolved, child)
	}
	return nil
}
