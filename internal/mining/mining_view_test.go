// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// newTestMiningView builds a mining view from the transactions added to the
// given fakeTxSource.
func newTestMiningView(txSource *fakeTxSource) *TxMiningView {
	return txSource.MiningView()
}

// TestMiningView exercises the ancestor and descendant relationships tracked
// by a TxMiningView over a small transaction graph:
//
//	txA --> txB --> txD
//	    \-> txC --> txE
//	              \-> txF
func TestMiningView(t *testing.T) {
	t.Parallel()

	txSource := newFakeTxSource()

	txA := newTestTx([]wire.OutPoint{{Index: 0}}, 2, 50000)
	txSource.addTx(txA, 1000, 100)

	txB := newTestTx([]wire.OutPoint{txOutPoint(txA, 0)}, 1, 40000)
	txSource.addTx(txB, 1000, 100)

	txC := newTestTx([]wire.OutPoint{txOutPoint(txA, 1)}, 2, 40000)
	txSource.addTx(txC, 1000, 100)

	txD := newTestTx([]wire.OutPoint{txOutPoint(txB, 0)}, 1, 30000)
	txSource.addTx(txD, 1000, 100)

	txE := newTestTx([]wire.OutPoint{txOutPoint(txC, 0)}, 1, 30000)
	txSource.addTx(txE, 1000, 100)

	txF := newTestTx([]wire.OutPoint{txOutPoint(txC, 1)}, 1, 30000)
	txSource.addTx(txF, 1000, 100)

	view := newTestMiningView(txSource)

	hashA := txA.Hash()
	hashB := txB.Hash()
	hashC := txC.Hash()
	hashD := txD.Hash()
	hashE := txE.Hash()
	hashF := txF.Hash()

	// txA has no parents and is the ancestor of every other transaction.
	if view.hasParents(hashA) {
		t.Fatalf("expected txA to have no parents")
	}
	if parents := view.parents(hashB); len(parents) != 1 || parents[0].Tx.Hash() != hashA {
		t.Fatalf("expected txB's only parent to be txA")
	}

	wantChildrenOfA := map[chainhash.Hash]bool{*hashB: true, *hashC: true}
	gotChildrenOfA := view.children(hashA)
	if len(gotChildrenOfA) != len(wantChildrenOfA) {
		t.Fatalf("unexpected number of children of txA -- got %d, want %d",
			len(gotChildrenOfA), len(wantChildrenOfA))
	}
	for _, child := range gotChildrenOfA {
		if !wantChildrenOfA[*child.Tx.Hash()] {
			t.Fatalf("unexpected child of txA: %v", child.Tx.Hash())
		}
	}

	// txD's ancestors are txB and txA.
	ancestorsOfD := view.ancestors(hashD)
	if len(ancestorsOfD) != 2 {
		t.Fatalf("unexpected number of ancestors of txD -- got %d, want 2",
			len(ancestorsOfD))
	}
	statsD, ok := view.AncestorStats(hashD)
	if !ok {
		t.Fatalf("expected ancestor stats to be tracked for txD")
	}
	if statsD.NumAncestors != 2 {
		t.Fatalf("unexpected ancestor count for txD -- got %d, want 2",
			statsD.NumAncestors)
	}

	// txC's descendants are txE and txF.
	wantDescendantsOfC := map[chainhash.Hash]bool{*hashE: true, *hashF: true}
	gotDescendantsOfC := view.descendants(hashC)
	if len(gotDescendantsOfC) != len(wantDescendantsOfC) {
		t.Fatalf("unexpected number of descendants of txC -- got %d, want %d",
			len(gotDescendantsOfC), len(wantDescendantsOfC))
	}
	for _, descendant := range gotDescendantsOfC {
		if !wantDescendantsOfC[*descendant] {
			t.Fatalf("unexpected descendant of txC: %v", descendant)
		}
	}

	statsA, ok := view.AncestorStats(hashA)
	if !ok {
		t.Fatalf("expected ancestor stats to be tracked for txA")
	}
	if statsA.NumDescendants != 5 {
		t.Fatalf("unexpected descendant count for txA -- got %d, want 5",
			statsA.NumDescendants)
	}

	// Removing txB (and propagating to descendants) should leave txD without
	// a tracked parent relationship to txA, while txC's subtree stays intact.
	view.RemoveTransaction(hashB, true)
	if view.hasParents(hashD) {
		t.Fatalf("expected txD to have no parents after txB was removed")
	}
	statsAAfterRemoval, ok := view.AncestorStats(hashA)
	if !ok {
		t.Fatalf("expected ancestor stats to still be tracked for txA")
	}
	if statsAAfterRemoval.NumDescendants != 3 {
		t.Fatalf("unexpected descendant count for txA after removal -- got %d, want 3",
			statsAAfterRemoval.NumDescendants)
	}

	// Rejecting txC should remove it and its descendants (txE, txF) from the
	// view and mark all three as rejected.
	view.reject(hashC)
	for _, hash := range []*chainhash.Hash{hashC, hashE, hashF} {
		if !view.isRejected(hash) {
			t.Fatalf("expected %v to be marked as rejected", hash)
		}
		if _, ok := view.AncestorStats(hash); ok {
			t.Fatalf("expected no ancestor stats tracked for rejected tx %v", hash)
		}
	}
	if view.isRejected(hashA) {
		t.Fatalf("did not expect txA to be rejected")
	}
}

// TestAncestorTrackingLimits ensures that a transaction with more ancestors
// than ancestorTrackingLimit does not have ancestor statistics cached, and
// that such a transaction does not cause its own descendants to have
// statistics tracked either.
func TestAncestorTrackingLimits(t *testing.T) {
	t.Parallel()

	txSource := newFakeTxSource()

	// Build a straight chain of ancestorTrackingLimit+2 transactions, each
	// spending the prior transaction's only output.
	chainLen := ancestorTrackingLimit + 2
	txs := make([]*btcutil.Tx, 0, chainLen)
	prevOuts := []wire.OutPoint{{Index: 0}}
	for i := 0; i < chainLen; i++ {
		tx := newTestTx(prevOuts, 1, 50000)
		txSource.addTx(tx, 1000, 100)
		txs = append(txs, tx)
		prevOuts = []wire.OutPoint{txOutPoint(tx, 0)}
	}

	view := newTestMiningView(txSource)

	// The last transaction in the chain has more ancestors than the tracking
	// limit allows, so it must not have cached stats.
	lastHash := txs[len(txs)-1].Hash()
	if _, ok := view.AncestorStats(lastHash); ok {
		t.Fatalf("did not expect ancestor stats to be tracked beyond the limit")
	}

	// A transaction within the limit must still have accurate stats.
	withinLimitIdx := ancestorTrackingLimit - 1
	withinLimitHash := txs[withinLimitIdx].Hash()
	stats, ok := view.AncestorStats(withinLimitHash)
	if !ok {
		t.Fatalf("expected ancestor stats to be tracked within the limit")
	}
	if int(stats.NumAncestors) != withinLimitIdx {
		t.Fatalf("unexpected ancestor count -- got %d, want %d",
			stats.NumAncestors, withinLimitIdx)
	}
}
