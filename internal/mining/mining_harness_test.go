// Copyright (c) 2020-2023 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"bytes"
	"time"

	"github.com/blockrelay/btcchain/blockchain/standalone"
	"github.com/blockrelay/btcchain/chaincfg"
	"github.com/blockrelay/btcchain/internal/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// dummyPkScript is a fixed-size placeholder output script used by test
// transactions. Scripts are never executed by the mining package, which
// only consults the sizes, fees, and dependency relationships supplied by
// its TxSource, so the contents need not be spendable.
var dummyPkScript = []byte{0x76, 0xa9, 0x14, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0x88, 0xac}

// dummySigScript is a fixed-size placeholder input script matching the
// typical size of a compressed-key P2PKH spend.
var dummySigScript = bytes.Repeat([]byte{0x00}, 107)

// fakeChain is used by the mining harness to provide a faked chain state
// implementing TemplateChain.
type fakeChain struct {
	bestState                     blockchain.BestState
	calcNextRequiredDifficultyErr error
	blocks                        map[chainhash.Hash]*btcutil.Block
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		bestState: blockchain.BestState{
			Height:     100,
			Bits:       0x1d00ffff,
			MedianTime: time.Unix(1600000000, 0),
		},
		blocks: make(map[chainhash.Hash]*btcutil.Block),
	}
}

func (c *fakeChain) BestSnapshot() *blockchain.BestState {
	return &c.bestState
}

func (c *fakeChain) CalcNextRequiredDifficulty(_ time.Time) (uint32, error) {
	if c.calcNextRequiredDifficultyErr != nil {
		return 0, c.calcNextRequiredDifficultyErr
	}
	return c.bestState.Bits, nil
}

func (c *fakeChain) FetchUtxoEntry(_ wire.OutPoint) (*blockchain.UtxoEntry, error) {
	// The test transactions below are not backed by confirmed coins, so
	// every lookup reports a miss the same way it would for an
	// unconfirmed parent still sitting in the source pool.
	return nil, nil
}

func (c *fakeChain) CalcNextBlockVersion() (int32, error) {
	return 4, nil
}

func (c *fakeChain) BlockByHash(hash chainhash.Hash) (*btcutil.Block, error) {
	block, ok := c.blocks[hash]
	if !ok {
		return nil, blockchain.RuleError{
			Err:         blockchain.ErrMissingParent,
			Description: "unable to find block in fake chain",
		}
	}
	return block, nil
}

// fakeMedianTimeSource is a fixed, deterministic blockchain.MedianTimeSource
// implementation for use in tests.
type fakeMedianTimeSource struct {
	adjustedTime time.Time
}

func (f *fakeMedianTimeSource) AdjustedTime() time.Time       { return f.adjustedTime }
func (f *fakeMedianTimeSource) AddTimeSample(_ string, _ time.Time) {}
func (f *fakeMedianTimeSource) Offset() time.Duration         { return 0 }

// fakeTxSource is a TxSource backed by an in-memory pool of TxDescs, used to
// exercise the mining view and block template generation without a mempool.
type fakeTxSource struct {
	pool  map[chainhash.Hash]*TxDesc
	order []chainhash.Hash
}

func newFakeTxSource() *fakeTxSource {
	return &fakeTxSource{pool: make(map[chainhash.Hash]*TxDesc)}
}

func (s *fakeTxSource) LastUpdated() time.Time {
	return time.Unix(1600000000, 0)
}

func (s *fakeTxSource) HaveTransaction(hash *chainhash.Hash) bool {
	_, ok := s.pool[*hash]
	return ok
}

func (s *fakeTxSource) HaveAllTransactions(hashes []chainhash.Hash) bool {
	for _, hash := range hashes {
		if _, ok := s.pool[hash]; !ok {
			return false
		}
	}
	return true
}

// MiningView builds a fresh snapshot of the pool's transaction graph and
// ancestor statistics, adding transactions in the order they entered the
// pool so that parents precede their children. It is part of the TxSource
// interface.
func (s *fakeTxSource) MiningView() *TxMiningView {
	forEachRedeemer := func(tx *btcutil.Tx, f func(redeemerTx *TxDesc)) {
		txHash := *tx.Hash()
		for _, txDesc := range s.pool {
			for _, txIn := range txDesc.Tx.MsgTx().TxIn {
				if txIn.PreviousOutPoint.Hash == txHash {
					f(txDesc)
					break
				}
			}
		}
	}

	findTx := func(hash *chainhash.Hash) *TxDesc {
		return s.pool[*hash]
	}

	view := NewTxMiningView(true, forEachRedeemer)
	txDescs := make([]*TxDesc, 0, len(s.pool))
	for _, hash := range s.order {
		if txDesc, ok := s.pool[hash]; ok {
			txDescs = append(txDescs, txDesc)
		}
	}
	view.txDescs = txDescs
	for _, txDesc := range txDescs {
		view.AddTransaction(txDesc, findTx)
	}
	return view
}

// addTx inserts a transaction into the source pool paying the given fee as
// though it were added at the given block height.
func (s *fakeTxSource) addTx(tx *btcutil.Tx, fee int64, height int64) *TxDesc {
	msgTx := tx.MsgTx()
	txDesc := &TxDesc{
		Tx:          tx,
		Added:       time.Unix(1600000000, 0),
		Height:      height,
		Fee:         fee,
		TotalSigOps: len(msgTx.TxIn),
		TxSize:      int64(msgTx.SerializeSize()),
		Weight:      standalone.GetTransactionWeight(msgTx),
	}
	s.pool[*tx.Hash()] = txDesc
	s.order = append(s.order, *tx.Hash())
	return txDesc
}

func (s *fakeTxSource) removeTx(hash chainhash.Hash) {
	delete(s.pool, hash)
}

// miningHarness bundles a fake chain, fake tx source, and configured
// template generator for use across mining package tests.
type miningHarness struct {
	chain       *fakeChain
	txSource    *fakeTxSource
	policy      *Policy
	chainParams *chaincfg.Params
	generator   *BlkTmplGenerator
}

func newMiningHarness(params *chaincfg.Params) *miningHarness {
	chain := newFakeChain()
	txSource := newFakeTxSource()
	policy := &Policy{
		BlockMinWeight:      0,
		BlockMaxWeight:      uint32(params.MaxBlockWeight),
		BlockPriorityWeight: 0,
		TxMinFreeFee:        0,
	}

	h := &miningHarness{
		chain:       chain,
		txSource:    txSource,
		policy:      policy,
		chainParams: params,
	}
	h.generator = NewBlkTmplGenerator(&Config{
		Policy:      policy,
		TxSource:    txSource,
		TimeSource:  &fakeMedianTimeSource{adjustedTime: chain.bestState.MedianTime.Add(time.Minute)},
		Chain:       chain,
		ChainParams: params,
		MiningAddrs: nil,
	})
	return h
}

// newTestTx builds a transaction spending the provided previous outpoints and
// producing the given number of outputs at outputValue each, using
// placeholder scripts. It is a convenience for tests that only care about
// size, fee, and dependency relationships, not script validity.
func newTestTx(prevOuts []wire.OutPoint, numOutputs int, outputValue int64) *btcutil.Tx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, prevOut := range prevOuts {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: prevOut,
			SignatureScript:  dummySigScript,
			Sequence:         wire.MaxTxInSequenceNum,
		})
	}
	for i := 0; i < numOutputs; i++ {
		tx.AddTxOut(&wire.TxOut{
			Value:    outputValue,
			PkScript: dummyPkScript,
		})
	}
	return btcutil.NewTx(tx)
}

// txOutPoint returns the outpoint for the given output index of tx.
func txOutPoint(tx *btcutil.Tx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: *tx.Hash(), Index: index}
}
