// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// orphanBlock represents a block for which the parent is not yet known,
// along with the time it expires (an hour after it was added) so long-idle
// orphans can be swept out by removeExpired, and a monotonic insertion sequence number used to break
// eviction ties in insertion order.
type orphanBlock struct {
	block      *btcutil.Block
	expiration time.Time
	seq        uint64
}

// orphanStore holds blocks whose parent has not yet been seen, indexed by
// their own hash and, separately, by their previous block hash so a
// newly-connected block can be used to look up any orphans that were
// waiting on it. Bounded by maxOrphanBlocks to keep memory use predictable
// under a flood of unconnectable blocks.
type orphanStore struct {
	byHash   map[chainhash.Hash]*orphanBlock
	byParent map[chainhash.Hash][]*orphanBlock
	nextSeq  uint64
}

func newOrphanStore() *orphanStore {
	return &orphanStore{
		byHash:   make(map[chainhash.Hash]*orphanBlock),
		byParent: make(map[chainhash.Hash][]*orphanBlock),
	}
}

// exists reports whether the passed hash is already stored as an orphan.
func (s *orphanStore) exists(hash *chainhash.Hash) bool {
	_, ok := s.byHash[*hash]
	return ok
}

// len returns the number of orphans currently stored.
func (s *orphanStore) len() int {
	return len(s.byHash)
}

// add inserts a block into the orphan store, evicting the weakest existing
// orphan first if the store is already at capacity.
func (s *orphanStore) add(block *btcutil.Block) {
	hash := *block.Hash()
	if s.exists(&hash) {
		return
	}

	if len(s.byHash) >= maxOrphanBlocks {
		s.evictOne()
	}

	ob := &orphanBlock{
		block:      block,
		expiration: time.Now().Add(time.Hour),
		seq:        s.nextSeq,
	}
	s.nextSeq++
	s.byHash[hash] = ob

	prevHash := block.MsgBlock().Header.PrevBlock
	s.byParent[prevHash] = append(s.byParent[prevHash], ob)
}

// remove deletes the passed orphan from both the by-hash and by-parent
// indexes.
func (s *orphanStore) remove(hash *chainhash.Hash) {
	ob, ok := s.byHash[*hash]
	if !ok {
		return
	}
	delete(s.byHash, *hash)

	prevHash := ob.block.MsgBlock().Header.PrevBlock
	siblings := s.byParent[prevHash]
	for i, sibling := range siblings {
		if sibling == ob {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(s.byParent, prevHash)
	} else {
		s.byParent[prevHash] = siblings
	}
}

// childrenOf returns every orphan currently waiting on the passed parent
// hash. The caller is expected to remove and reprocess each one; the
// returned slice is a snapshot so it remains valid across those removals.
func (s *orphanStore) childrenOf(parentHash *chainhash.Hash) []*btcutil.Block {
	siblings := s.byParent[*parentHash]
	if len(siblings) == 0 {
		return nil
	}
	blocks := make([]*btcutil.Block, len(siblings))
	for i, ob := range siblings {
		blocks[i] = ob.block
	}
	return blocks
}

// purge removes every orphan from the store, for use when a checkpoint
// mismatch or similarly severe event invalidates whatever the node has
// staged in memory.
func (s *orphanStore) purge() {
	s.byHash = make(map[chainhash.Hash]*orphanBlock)
	s.byParent = make(map[chainhash.Hash][]*orphanBlock)
}

// removeExpired evicts every orphan whose expiration has passed as of now,
// reclaiming memory held by orphans whose parent never showed up.
func (s *orphanStore) removeExpired(now time.Time) {
	for hash, ob := range s.byHash {
		if now.After(ob.expiration) {
			s.remove(&hash)
		}
	}
}

// evictOne removes a single orphan using a DoS-mitigation heuristic rather
// than a consensus rule: prefer to keep the orphan with the highest
// coinbase-encoded height, since it is the most likely to represent the
// tip of a stalled peer's chain. Ties -- including the common case where no
// orphan has a decodable coinbase height -- are broken by insertion order,
// evicting the most recently added orphan so the oldest survives.
func (s *orphanStore) evictOne() {
	var worst *orphanBlock
	var worstHeight int64 = -1
	for _, ob := range s.byHash {
		height := coinbaseHeightHint(ob.block)
		switch {
		case worst == nil:
			worst, worstHeight = ob, height
		case height < worstHeight:
			worst, worstHeight = ob, height
		case height == worstHeight && ob.seq > worst.seq:
			worst = ob
		}
	}
	if worst != nil {
		hash := *worst.block.Hash()
		s.remove(&hash)
	}
}

// coinbaseHeightHint returns a best-effort height extracted from the
// block's coinbase scriptSig, or -1 if it cannot be determined -- e.g.
// because BIP34 push-height encoding isn't in use yet on this network.
func coinbaseHeightHint(block *btcutil.Block) int64 {
	txs := block.Transactions()
	if len(txs) == 0 {
		return -1
	}
	sigScript := txs[0].MsgTx().TxIn[0].SignatureScript
	if len(sigScript) < 1 {
		return -1
	}
	pushLen := int(sigScript[0])
	if pushLen < 1 || pushLen > 8 || len(sigScript) < pushLen+1 {
		return -1
	}
	var height int64
	for i := pushLen; i > 0; i-- {
		height = height<<8 | int64(sigScript[i])
	}
	return height
}
