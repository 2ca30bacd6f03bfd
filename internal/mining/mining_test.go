// Copyright (c) 2020-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"errors"
	"testing"

	"github.com/blockrelay/btcchain/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// TestNewBlockTemplateBasicErrorScenarios tests basic error scenarios that
// can occur during new block template generation.
func TestNewBlockTemplateBasicErrorScenarios(t *testing.T) {
	t.Parallel()

	harness := newMiningHarness(&chaincfg.MainNetParams)

	errDifficulty := errors.New("error calculating difficulty")
	harness.chain.calcNextRequiredDifficultyErr = errDifficulty
	_, err := harness.generator.NewBlockTemplate(nil, 0)
	if !errors.Is(err, errDifficulty) {
		t.Fatalf("unexpected error calculating difficulty -- got %v, want %v",
			err, errDifficulty)
	}
	harness.chain.calcNextRequiredDifficultyErr = nil

	// Sanity check that clearing the injected error allows generation to
	// succeed again.
	if _, err := harness.generator.NewBlockTemplate(nil, 0); err != nil {
		t.Fatalf("unexpected error generating block template: %v", err)
	}
}

// TestNewBlockTemplate tests the generation of a new block template
// containing transactions with varying fee rates and a dependency chain,
// ensuring fee-rate ordering, parent-before-child ordering, and the
// weight/sigop budget are all honored.
func TestNewBlockTemplate(t *testing.T) {
	t.Parallel()

	harness := newMiningHarness(&chaincfg.MainNetParams)

	// txA is a standalone, high fee-rate transaction.
	txA := newTestTx([]wire.OutPoint{{Index: 0}}, 1, 50000)
	harness.txSource.addTx(txA, 10000, harness.chain.bestState.Height)

	// txB is a standalone, low fee-rate transaction.
	txB := newTestTx([]wire.OutPoint{{Index: 1}}, 1, 50000)
	harness.txSource.addTx(txB, 100, harness.chain.bestState.Height)

	// txC pays a low fee on its own, and txD spends its output paying a
	// high fee. txD's fee rate counts txC as an ancestor, but txD still
	// waits until txC has been included.
	txC := newTestTx([]wire.OutPoint{{Index: 2}}, 1, 50000)
	harness.txSource.addTx(txC, 100, harness.chain.bestState.Height)

	txD := newTestTx([]wire.OutPoint{txOutPoint(txC, 0)}, 1, 40000)
	harness.txSource.addTx(txD, 9000, harness.chain.bestState.Height)

	template, err := harness.generator.NewBlockTemplate(nil, 0)
	if err != nil {
		t.Fatalf("unexpected error generating block template: %v", err)
	}

	// Expect the coinbase plus all four regular transactions.
	wantTxns := 5
	if got := len(template.Block.Transactions); got != wantTxns {
		t.Fatalf("unexpected number of transactions -- got %d, want %d",
			got, wantTxns)
	}

	// txC must appear before txD since a child can never be selected
	// ahead of its parent.
	indexOf := func(hash [32]byte) int {
		for i, tx := range template.Block.Transactions {
			if tx.TxHash() == hash {
				return i
			}
		}
		return -1
	}
	idxC := indexOf(txC.MsgTx().TxHash())
	idxD := indexOf(txD.MsgTx().TxHash())
	if idxC == -1 || idxD == -1 {
		t.Fatalf("expected both txC and txD in the template")
	}
	if idxC > idxD {
		t.Fatalf("expected txC (index %d) to precede txD (index %d)", idxC, idxD)
	}

	// The coinbase's negated fee entry must equal the sum of all other
	// fees.
	var sumOtherFees int64
	for _, fee := range template.Fees[1:] {
		sumOtherFees += fee
	}
	if template.Fees[0] != -sumOtherFees {
		t.Fatalf("unexpected coinbase fee entry -- got %d, want %d",
			template.Fees[0], -sumOtherFees)
	}
}

// TestNewBlockTemplateRespectsWeightBudget ensures transactions that would
// push the block over its configured maximum weight are excluded.
func TestNewBlockTemplateRespectsWeightBudget(t *testing.T) {
	t.Parallel()

	harness := newMiningHarness(&chaincfg.MainNetParams)

	txA := newTestTx([]wire.OutPoint{{Index: 0}}, 1, 50000)
	txADesc := harness.txSource.addTx(txA, 10000, harness.chain.bestState.Height)

	txB := newTestTx([]wire.OutPoint{{Index: 1}}, 1, 50000)
	harness.txSource.addTx(txB, 5000, harness.chain.bestState.Height)

	// Shrink the weight budget so only the coinbase and the highest
	// fee-rate transaction fit.
	harness.policy.BlockMaxWeight = uint32(2*txADesc.Weight + 1)

	template, err := harness.generator.NewBlockTemplate(nil, 0)
	if err != nil {
		t.Fatalf("unexpected error generating block template: %v", err)
	}

	wantTxns := 2 // coinbase + txA
	if got := len(template.Block.Transactions); got != wantTxns {
		t.Fatalf("unexpected number of transactions -- got %d, want %d",
			got, wantTxns)
	}
	if template.Block.Transactions[1].TxHash() != txA.MsgTx().TxHash() {
		t.Fatalf("expected the higher fee-rate transaction to be selected")
	}
}
