// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/blockrelay/btcchain/blockchain/standalone"
	"github.com/blockrelay/btcchain/chaincfg"
	"github.com/blockrelay/btcchain/internal/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// zeroHash is the zero value hash (all zeros). It is defined as a
	// convenience.
	zeroHash chainhash.Hash
)

const (
	// MinHighPriority is the minimum priority value that allows a
	// transaction to be considered high priority.
	MinHighPriority = btcutil.SatoshiPerBitcoin * 144.0 / 250

	// blockHeaderOverhead is the max number of bytes it takes to serialize
	// a block header and the transaction count.
	blockHeaderOverhead = wire.MaxBlockHeaderPayload + wire.MaxVarIntPayload

	// coinbaseFlags is added to the coinbase script of a generated block
	// and is used to monitor block generation with this software.
	coinbaseFlags = "/btcchaind/"
)

// TemplateChain defines the narrow subset of *blockchain.Chain that the
// block template generator depends on. Depending on this interface rather
// than the concrete type keeps template generation testable against a fake
// and documents exactly how much chain state mining needs.
type TemplateChain interface {
	// BestSnapshot returns information about the current best chain block
	// and related state.
	BestSnapshot() *blockchain.BestState

	// CalcNextRequiredDifficulty calculates the required difficulty for a
	// block building on the current tip at the given time.
	CalcNextRequiredDifficulty(timestamp time.Time) (uint32, error)

	// FetchUtxoEntry loads the requested unspent transaction output, or
	// nil if it does not exist or has already been spent.
	FetchUtxoEntry(outpoint wire.OutPoint) (*blockchain.UtxoEntry, error)

	// BlockByHash returns the block with the given hash from the main
	// chain or any side chain.
	BlockByHash(hash chainhash.Hash) (*btcutil.Block, error)

	// CalcNextBlockVersion returns the version a block template building
	// on the current tip should advertise, including any versionbits
	// signal bits for deployments currently in their voting period.
	CalcNextBlockVersion() (int32, error)
}

// Config is a descriptor containing the mining configuration.
type Config struct {
	// Policy houses the policy (configuration parameters) which is used
	// to control the generation of block templates.
	Policy *Policy

	// TxSource represents a source of transactions to consider for
	// inclusion in new blocks.
	TxSource TxSource

	// TimeSource defines the median time source which is used to
	// retrieve the current time adjusted by the median time offset. This
	// is used when setting the timestamp in the header of new blocks.
	TimeSource blockchain.MedianTimeSource

	// Chain gives access to the subset of chain functionality this
	// package needs: the best snapshot, the next required PoW target,
	// confirmed UTXO lookups, and side chain block retrieval.
	Chain TemplateChain

	// ChainParams identifies which chain parameters the block template
	// generator is associated with.
	ChainParams *chaincfg.Params

	// MiningAddrs is the list of addresses to choose from when
	// selecting which one to which coinbase payments will be made.
	MiningAddrs []btcutil.Address

	// IsFinalizedTransaction determines whether a transaction is finalized
	// for inclusion at the given height and reference time, per the
	// locktime and sequence lock rules a mined block must respect.
	IsFinalizedTransaction func(tx *btcutil.Tx, blockHeight int64, blockTime time.Time) bool
}

// TxDesc is a descriptor about a transaction in a transaction source along
// with additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *btcutil.Tx

	// Added is the time when the entry was added to the source pool.
	Added time.Time

	// Height is the block height when the entry was added to the source
	// pool.
	Height int64

	// Fee is the total fee the transaction associated with the entry pays.
	Fee int64

	// TotalSigOps is the total signature operation cost for this
	// transaction.
	TotalSigOps int

	// TxSize is the serialized size of the transaction.
	TxSize int64

	// Weight is the BIP141 weight of the transaction.
	Weight int64
}

// TxAncestorStats is a descriptor that stores aggregated statistics for the
// unconfirmed ancestors of a transaction.
type TxAncestorStats struct {
	// Fees is the sum of all fees of unconfirmed ancestors.
	Fees int64

	// SizeBytes is the total size of all unconfirmed ancestors.
	SizeBytes int64

	// TotalSigOps is the total number of signature operations of all
	// ancestors.
	TotalSigOps int

	// NumAncestors is the total number of ancestors for a given
	// transaction.
	NumAncestors int

	// NumDescendants is the total number of descendants that have
	// ancestor statistics tracked for a given transaction.
	NumDescendants int
}

// BlockTemplate houses a block that has yet to be solved along with
// additional metadata related to the block that is used throughout the
// mining process.
type BlockTemplate struct {
	// Block is a block that is ready to be solved by miners. Thus, it is
	// completely valid with the exception of satisfying the proof-of-work
	// requirement.
	Block *wire.MsgBlock

	// Fees contains the amount of fees each transaction in the generated
	// template pays in base units. Since the first transaction is the
	// coinbase, the first entry (offset 0) will contain the negative of
	// the sum of the fees of all other transactions.
	Fees []int64

	// SigOpCosts contains the number of signature operations each
	// transaction in the generated template performs.
	SigOpCosts []int64

	// Height is the height at which the block template connects to the
	// main chain.
	Height int64

	// ValidPayAddress indicates whether or not the template was
	// generated with a valid payment address.
	ValidPayAddress bool
}

// hashInSlice determines if a hash is contained in a slice of hashes.
func hashInSlice(h chainhash.Hash, list []chainhash.Hash) bool {
	for _, hash := range list {
		if h == hash {
			return true
		}
	}
	return false
}

// standardCoinbaseScript returns a standard coinbase script that includes
// the serialized block height as required by BIP34 along with any extra
// nonce data and a flags string identifying the generating software.
func standardCoinbaseScript(nextBlockHeight int64, extraNonce uint64) ([]byte, error) {
	return txscript.NewScriptBuilder().AddInt64(nextBlockHeight).
		AddInt64(int64(extraNonce)).AddData([]byte(coinbaseFlags)).Script()
}

// calcBlockMerkleRoot calculates and returns the merkle root for the passed
// block's transactions. It does not run the CVE-2012-2459 duplicate check
// that the validator applies.
func calcBlockMerkleRoot(txns []*wire.MsgTx) chainhash.Hash {
	leaves := make([]chainhash.Hash, len(txns))
	for i, tx := range txns {
		leaves[i] = tx.TxHash()
	}
	return standalone.CalcMerkleRoot(leaves)
}

// calcWitnessCommitment builds the 32-byte witness commitment that must be
// embedded, as an OP_RETURN output on the coinbase, whenever any transaction
// in the block carries witness data.
func calcWitnessCommitment(txns []*btcutil.Tx) []byte {
	leaves := make([]chainhash.Hash, len(txns))
	for i, tx := range txns {
		if i == 0 {
			leaves[i] = chainhash.Hash{}
			continue
		}
		leaves[i] = tx.MsgTx().WitnessHash()
	}
	root := standalone.CalcMerkleRoot(leaves)

	var nonce [32]byte
	var buf [chainhash.HashSize + 32]byte
	copy(buf[:chainhash.HashSize], root[:])
	copy(buf[chainhash.HashSize:], nonce[:])
	commitment := chainhash.DoubleHashH(buf[:])
	return commitment[:]
}

// witnessCommitmentScript builds the standard OP_RETURN pkScript that
// carries a witness commitment, per BIP141.
func witnessCommitmentScript(commitment []byte) []byte {
	script := make([]byte, 0, 38)
	script = append(script, txscript.OP_RETURN, 0x24)
	script = append(script, 0xaa, 0x21, 0xa9, 0xed)
	script = append(script, commitment...)
	return script
}

// createCoinbaseTx returns a coinbase transaction paying an appropriate
// subsidy based on the passed block height to the provided address. When
// the address is nil, the coinbase transaction will instead be redeemable
// by anyone, matching the teacher's fallback for solo/benchmark mining.
func createCoinbaseTx(nextBlockHeight int64, addr btcutil.Address, params *chaincfg.Params, extraNonce uint64) (*btcutil.Tx, error) {
	coinbaseScript, err := standardCoinbaseScript(nextBlockHeight, extraNonce)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{},
			wire.MaxPrevOutIndex),
		SignatureScript: coinbaseScript,
		Sequence:        wire.MaxTxInSequenceNum,
	})

	subsidy := blockchain.CalcBlockSubsidy(nextBlockHeight, params)

	var pkScript []byte
	if addr != nil {
		pkScript, err = txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		scriptBuilder := txscript.NewScriptBuilder()
		pkScript, err = scriptBuilder.AddOp(txscript.OP_TRUE).Script()
		if err != nil {
			return nil, err
		}
	}
	tx.AddTxOut(&wire.TxOut{
		Value:    subsidy,
		PkScript: pkScript,
	})

	return btcutil.NewTx(tx), nil
}

// logSkippedDeps logs any dependencies that are then skipped as a result of
// skipping a transaction.
func logSkippedDeps(tx *btcutil.Tx, deps []*TxDesc) {
	if len(deps) == 0 {
		return
	}

	for _, txD := range deps {
		log.Tracef("Skipping tx %s since it depends on %s\n",
			txD.Tx.Hash(), tx.Hash())
	}
}

// minimumMedianTime returns the minimum allowed timestamp for a block
// building on the end of the current best chain. In particular, it is one
// second after the median timestamp of the last several blocks per the
// chain consensus rules.
func minimumMedianTime(best *blockchain.BestState) time.Time {
	return best.MedianTime.Add(time.Second)
}

// medianAdjustedTime returns the current time adjusted to ensure it is at
// least one second after the median timestamp of the last several blocks
// per the chain consensus rules.
func (g *BlkTmplGenerator) medianAdjustedTime(best *blockchain.BestState) time.Time {
	newTimestamp := g.cfg.TimeSource.AdjustedTime()
	minTimestamp := minimumMedianTime(best)
	if newTimestamp.Before(minTimestamp) {
		newTimestamp = minTimestamp
	}
	return newTimestamp
}

// BlkTmplGenerator provides a type that can be used to generate block
// templates based on a given mining policy and source of transactions to
// choose from.
type BlkTmplGenerator struct {
	cfg *Config
}

// NewBlkTmplGenerator returns a new block template generator for the given
// policy using the provided transaction source.
func NewBlkTmplGenerator(cfg *Config) *BlkTmplGenerator {
	return &BlkTmplGenerator{cfg: cfg}
}

// chainPriorityInputser implements PriorityInputser against the confirmed
// coin set. Inputs that do not resolve to a confirmed output are reported as
// not ok, which covers both unconfirmed parents still sitting in the source
// pool and any other lookup failure; either way they contribute no input age
// per CalcPriority's documented handling of unmined dependencies.
type chainPriorityInputser struct {
	chain TemplateChain
}

// PriorityInput looks up the confirmed height and amount of the output a
// transaction input spends. It is part of the PriorityInputser interface.
func (c chainPriorityInputser) PriorityInput(prevOut *wire.OutPoint) (int64, int64, bool) {
	entry, err := c.chain.FetchUtxoEntry(*prevOut)
	if err != nil || entry == nil {
		return 0, 0, false
	}
	return entry.BlockHeight(), entry.Amount(), true
}

// calcFeePerKb returns the fee rate, in satoshi per kilobyte, paid by a
// transaction, combined with the fee rate of its unconfirmed ancestors when
// ancestor tracking is available.
func calcFeePerKb(txDesc *TxDesc, ancestorStats *TxAncestorStats) float64 {
	fee := txDesc.Fee + ancestorStats.Fees
	size := txDesc.TxSize + ancestorStats.SizeBytes
	if size == 0 {
		return 0
	}
	return float64(fee) * 1000 / float64(size)
}

// NewBlockTemplate returns a new block template that is ready to be solved
// using the transactions from the passed transaction source pool and a
// coinbase that either pays to the passed address if it is not nil, or a
// coinbase that is redeemable by anyone if the address is nil. The nil
// address functionality is useful for the integration tests and is not
// exposed through any public commands.
//
// The transactions selected and included are prioritized according to
// several factors: absolute priority, fee per kilobyte, and whether or not
// the transactions are related to one another. Transactions which depend on
// other transactions in the source pool are only considered for inclusion
// once all of their ancestors are already included.
func (g *BlkTmplGenerator) NewBlockTemplate(payToAddress btcutil.Address, extraNonce uint64) (*BlockTemplate, error) {
	best := g.cfg.Chain.BestSnapshot()
	nextBlockHeight := best.Height + 1

	coinbaseTx, err := createCoinbaseTx(nextBlockHeight, payToAddress,
		g.cfg.ChainParams, extraNonce)
	if err != nil {
		return nil, err
	}
	// The coinbase input carries only a height/extra-nonce/flags push and
	// its sole output pays directly to a standard script, so it
	// contributes no signature operations of its own.
	var coinbaseSigOpCost int64

	mv := g.cfg.TxSource.MiningView()
	sourceTxns := mv.TxDescs()

	maxWeight := g.cfg.Policy.BlockMaxWeight
	if maxWeight == 0 || maxWeight > uint32(g.cfg.ChainParams.MaxBlockWeight) {
		maxWeight = uint32(g.cfg.ChainParams.MaxBlockWeight)
	}
	maxSigOpCost := g.cfg.ChainParams.MaxBlockSigOpsCost

	blockWeight := uint32(blockHeaderOverhead) +
		uint32(standalone.GetTransactionWeight(coinbaseTx.MsgTx()))
	blockSigOpCost := coinbaseSigOpCost
	totalFees := int64(0)

	blockTxns := make([]*btcutil.Tx, 0, len(sourceTxns)+1)
	blockTxns = append(blockTxns, coinbaseTx)

	fees := make([]int64, 0, len(sourceTxns)+1)
	fees = append(fees, -1) // filled in once totalFees is known
	sigOpCosts := make([]int64, 0, len(sourceTxns)+1)
	sigOpCosts = append(sigOpCosts, coinbaseSigOpCost)

	// Transactions are initially popped from a priority queue ordered by
	// absolute priority until either the priority weight budget is
	// exhausted or priority drops to MinHighPriority, at which point
	// selection switches to fee rate, combined with the fee rate of any
	// still-unmined ancestors. That raises a child's place in the queue, but
	// a parent is still ordered by its own fee rate and the child waits
	// until the parent is included, so a low-fee parent is not pulled in
	// ahead of its turn.  A transaction is skipped, along with a log line
	// naming its
	// dependents, whenever it would push the block over its weight or
	// sigop budget.
	prioInputs := chainPriorityInputser{chain: g.cfg.Chain}
	sortedByFee := g.cfg.Policy.BlockPriorityWeight == 0
	lessFunc := txPQByPriority
	if sortedByFee {
		lessFunc = txPQByFee
	}
	priorityQueue := newTxPriorityQueue(len(sourceTxns), lessFunc)
	for _, txDesc := range sourceTxns {
		hash := txDesc.Tx.Hash()
		ancestorStats, _ := mv.AncestorStats(hash)
		heap.Push(priorityQueue, &txPrioItem{
			txDesc:   txDesc,
			fee:      txDesc.Fee,
			priority: CalcPriority(txDesc.Tx.MsgTx(), prioInputs, nextBlockHeight),
			feePerKB: calcFeePerKb(txDesc, ancestorStats),
		})
	}

	var deferred []*txPrioItem
	for priorityQueue.Len() > 0 {
		prioItem := heap.Pop(priorityQueue).(*txPrioItem)
		txDesc := prioItem.txDesc
		tx := txDesc.Tx
		hash := tx.Hash()

		// Hold a transaction back until all of its parents are included.
		if mv.hasParents(hash) {
			deferred = append(deferred, prioItem)
			continue
		}

		if g.cfg.IsFinalizedTransaction != nil &&
			!g.cfg.IsFinalizedTransaction(tx, nextBlockHeight, g.medianAdjustedTime(best)) {
			logSkippedDeps(tx, mv.children(hash))
			continue
		}

		txWeight := uint32(standalone.GetTransactionWeight(tx.MsgTx()))
		txSigOpCost := int64(txDesc.TotalSigOps)
		if blockWeight+txWeight >= maxWeight || blockSigOpCost+txSigOpCost >= maxSigOpCost {
			logSkippedDeps(tx, mv.children(hash))
			continue
		}

		// Once the priority weight budget has been exhausted, or the
		// priority of the transaction being considered falls below the
		// threshold that marks it as high priority, switch to sorting
		// by fee rate for the remainder of the block.
		if !sortedByFee && (blockWeight+txWeight >= g.cfg.Policy.BlockPriorityWeight ||
			prioItem.priority <= MinHighPriority) {

			sortedByFee = true
			priorityQueue.SetLessFunc(txPQByFee)

			heap.Push(priorityQueue, prioItem)
			continue
		}

		// Skip free transactions once the block has grown beyond the
		// configured minimum weight.
		if sortedByFee && prioItem.feePerKB < float64(g.cfg.Policy.TxMinFreeFee) &&
			blockWeight+txWeight >= g.cfg.Policy.BlockMinWeight {

			logSkippedDeps(tx, mv.children(hash))
			continue
		}

		blockTxns = append(blockTxns, tx)
		fees = append(fees, txDesc.Fee)
		sigOpCosts = append(sigOpCosts, txSigOpCost)

		blockWeight += txWeight
		blockSigOpCost += txSigOpCost
		totalFees += txDesc.Fee

		// Release the transactions that were waiting on this one.
		mv.RemoveTransaction(hash, false)
		for _, item := range deferred {
			heap.Push(priorityQueue, item)
		}
		deferred = deferred[:0]
	}
	fees[0] = -totalFees

	// Compute the witness commitment. If no selected transaction carries
	// witness data the commitment is simply omitted, matching the
	// optional nature of the BIP141 output.
	hasWitness := false
	for _, tx := range blockTxns[1:] {
		if tx.MsgTx().HasWitness() {
			hasWitness = true
			break
		}
	}
	if hasWitness {
		commitment := calcWitnessCommitment(blockTxns)
		coinbaseTx.MsgTx().TxOut = append(coinbaseTx.MsgTx().TxOut, &wire.TxOut{
			Value:    0,
			PkScript: witnessCommitmentScript(commitment),
		})
		coinbaseTx.MsgTx().TxIn[0].Witness = wire.TxWitness{make([]byte, 32)}
	}

	msgTxns := make([]*wire.MsgTx, len(blockTxns))
	for i, tx := range blockTxns {
		msgTxns[i] = tx.MsgTx()
	}
	merkleRoot := calcBlockMerkleRoot(msgTxns)

	reqDifficulty, err := g.cfg.Chain.CalcNextRequiredDifficulty(
		g.medianAdjustedTime(best))
	if err != nil {
		return nil, err
	}

	blockVersion, err := g.cfg.Chain.CalcNextBlockVersion()
	if err != nil {
		return nil, err
	}

	msgBlock := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:    blockVersion,
			PrevBlock:  best.Hash,
			MerkleRoot: merkleRoot,
			Timestamp:  g.medianAdjustedTime(best),
			Bits:       reqDifficulty,
		},
		Transactions: msgTxns,
	}

	log.Debugf("Created new block template (%d transactions, %d in "+
		"fees, %d weight, target bits %08x)",
		len(msgBlock.Transactions), totalFees, blockWeight,
		msgBlock.Header.Bits)

	return &BlockTemplate{
		Block:           msgBlock,
		Fees:            fees,
		SigOpCosts:      sigOpCosts,
		Height:          nextBlockHeight,
		ValidPayAddress: payToAddress != nil,
	}, nil
}

// UpdateBlockTime updates the timestamp in the header of the passed block
// to the current time while taking into account the median time of the last
// several blocks to ensure the new time is after that time per the chain
// consensus rules.
func (g *BlkTmplGenerator) UpdateBlockTime(header *wire.BlockHeader) error {
	best := g.cfg.Chain.BestSnapshot()
	newTime := g.medianAdjustedTime(best)
	header.Timestamp = newTime

	difficulty, err := g.cfg.Chain.CalcNextRequiredDifficulty(newTime)
	if err != nil {
		return fmt.Errorf("unable to calc new difficulty: %w", err)
	}
	header.Bits = difficulty

	return nil
}
