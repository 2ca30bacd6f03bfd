// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/blockrelay/btcchain/blockchain/standalone"
	"github.com/blockrelay/btcchain/chaincfg"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// serializedHeightVersion is the block version at and after which a
// coinbase's signature script must start with the serialized block height,
// per BIP34.
const serializedHeightVersion = 2

// witnessMagic is the four-byte value that, prefixed by an OP_RETURN push of
// 36 bytes, marks a coinbase output as carrying the segwit witness
// commitment described by BIP141.
var witnessMagic = []byte{0xaa, 0x21, 0xa9, 0xed}

// verifySanity performs the non-contextual checks every block must pass
// regardless of its position in the chain: proof of work, timestamp bounds,
// structural well-formedness, per-transaction sanity, the merkle root, and
// an unscaled sigop cap. Every failure other than a high-hash failure is
// reported as malleated, since a relaying peer could have derived the
// offending block from an otherwise-valid one without having created the
// defect itself.
func verifySanity(block *btcutil.Block, params *chaincfg.Params, timeSource MedianTimeSource) error {
	header := &block.MsgBlock().Header

	powHash := header.BlockHash()
	if err := standalone.CheckProofOfWork(&powHash, header.Bits, params.PowLimit); err != nil {
		return asMalleated(err)
	}

	if !header.Timestamp.Equal(time.Unix(header.Timestamp.Unix(), 0)) {
		str := fmt.Sprintf("block timestamp of %v has a higher precision "+
			"than one second", header.Timestamp)
		return malleatedError(ErrTimeTooNew, str)
	}
	maxTimestamp := timeSource.AdjustedTime().Add(maxTimeOffsetSeconds * time.Second)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %v is too far in the future",
			header.Timestamp)
		return malleatedError(ErrTimeTooNew, str)
	}

	transactions := block.Transactions()
	if len(transactions) == 0 {
		return malleatedError(ErrNoTransactions, "block does not contain any transactions")
	}

	strippedSize := int64(standalone.GetStrippedSize(block.MsgBlock()))
	if strippedSize < 80 || strippedSize > params.MaxBlockBaseSize {
		str := fmt.Sprintf("serialized block size of %d is outside the "+
			"allowed range [80, %d]", strippedSize, params.MaxBlockBaseSize)
		return malleatedError(ErrBlockTooBig, str)
	}

	if !standalone.IsCoinBaseTx(transactions[0].MsgTx()) {
		return malleatedError(ErrFirstTxNotCoinbase, "first transaction in block is not a coinbase")
	}
	for i, tx := range transactions[1:] {
		if standalone.IsCoinBaseTx(tx.MsgTx()) {
			str := fmt.Sprintf("block contains second coinbase at index %d", i+1)
			return malleatedError(ErrMultipleCoinbases, str)
		}
	}

	maxTxSize := uint64(params.MaxBlockBaseSize)
	leaves := make([]chainhash.Hash, len(transactions))
	existingTxHashes := make(map[chainhash.Hash]struct{}, len(transactions))
	for i, tx := range transactions {
		if err := standalone.CheckTransactionSanity(tx.MsgTx(), maxTxSize); err != nil {
			return asMalleated(err)
		}
		hash := *tx.Hash()
		if _, exists := existingTxHashes[hash]; exists {
			str := fmt.Sprintf("block contains duplicate transaction %v", hash)
			return malleatedError(ErrBadMerkleRoot, str)
		}
		existingTxHashes[hash] = struct{}{}
		leaves[i] = hash
	}

	if standalone.HasDuplicateLeaf(leaves) {
		return malleatedError(ErrBadMerkleParent, "block contains a duplicate "+
			"transaction hash that mutates the merkle root (CVE-2012-2459)")
	}
	calculatedRoot := standalone.CalcMerkleRoot(leaves)
	if header.MerkleRoot != calculatedRoot {
		str := fmt.Sprintf("block merkle root is invalid - block header "+
			"indicates %v, but calculated value is %v",
			header.MerkleRoot, calculatedRoot)
		return malleatedError(ErrBadMerkleRoot, str)
	}

	var totalSigOps int64
	for _, tx := range transactions {
		lastSigOps := totalSigOps
		totalSigOps += int64(countSigOps(tx)) * standalone.WitnessScaleFactor
		if totalSigOps < lastSigOps || totalSigOps > params.MaxBlockSigOpsCost {
			str := fmt.Sprintf("block contains too many signature "+
				"operations - got %v, max %v", totalSigOps, params.MaxBlockSigOpsCost)
			return malleatedError(ErrTooManySigOps, str)
		}
	}

	return nil
}

// asMalleated rewrites a RuleError produced by the standalone package as
// malleated, consistent with verifySanity's rule that only a high-hash
// failure is ever conclusive proof the block itself -- not merely the
// relaying peer -- is at fault.
func asMalleated(err error) error {
	ruleErr, ok := err.(standalone.RuleError)
	if !ok {
		return err
	}
	if ruleErr.Err == standalone.ErrHighHash {
		return ruleError(ErrHighHash, ruleErr.Description)
	}
	return RuleError{Err: ruleErr.Err, Description: ruleErr.Description, Malleated: true}
}

// countSigOps returns the legacy, unscaled signature operation count for
// every input and output script in the transaction.
func countSigOps(tx *btcutil.Tx) int {
	msgTx := tx.MsgTx()
	total := 0
	for _, txIn := range msgTx.TxIn {
		total += txscript.GetSigOpCount(txIn.SignatureScript)
	}
	for _, txOut := range msgTx.TxOut {
		total += txscript.GetSigOpCount(txOut.PkScript)
	}
	return total
}

// countP2SHSigOps returns the precise signature operation count contributed
// by this transaction's pay-to-script-hash inputs. Coinbase transactions
// have no such inputs and always contribute zero.
func countP2SHSigOps(tx *btcutil.Tx, isCoinBase bool, view *UtxoViewpoint) (int, error) {
	if isCoinBase {
		return 0, nil
	}

	msgTx := tx.MsgTx()
	total := 0
	for txInIndex, txIn := range msgTx.TxIn {
		utxo := view.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil || utxo.IsSpent() {
			str := fmt.Sprintf("output %v referenced from transaction %s:%d "+
				"either does not exist or has already been spent",
				txIn.PreviousOutPoint, tx.Hash(), txInIndex)
			return 0, ruleError(ErrMissingTxOut, str)
		}

		pkScript := utxo.PkScript()
		if !txscript.IsPayToScriptHash(pkScript) {
			continue
		}

		last := total
		total += txscript.GetPreciseSigOpCount(txIn.SignatureScript, pkScript, true)
		if total < last {
			str := fmt.Sprintf("the public key script from output %v "+
				"contains too many signature operations - overflow",
				txIn.PreviousOutPoint)
			return 0, ruleError(ErrTooManySigOps, str)
		}
	}
	return total, nil
}

// sigOpCost returns the total weighted signature operation cost for a
// transaction per BIP141: legacy and P2SH sigops each count WitnessScaleFactor
// per op, while witness-program sigops count 1 per op since they are already
// weighted by the witness discount.
func sigOpCost(tx *btcutil.Tx, isCoinBase bool, view *UtxoViewpoint, bip16, segwitActive bool) (int, error) {
	legacy := countSigOps(tx) * standalone.WitnessScaleFactor

	if bip16 {
		p2sh, err := countP2SHSigOps(tx, isCoinBase, view)
		if err != nil {
			return 0, err
		}
		legacy += p2sh * standalone.WitnessScaleFactor
	}

	if !segwitActive || isCoinBase {
		return legacy, nil
	}

	msgTx := tx.MsgTx()
	witnessSigOps := 0
	for _, txIn := range msgTx.TxIn {
		utxo := view.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil || utxo.IsSpent() {
			continue
		}
		witnessSigOps += txscript.GetWitnessSigOpCount(txIn.SignatureScript,
			utxo.PkScript(), txIn.Witness)
	}
	return legacy + witnessSigOps, nil
}

// ExtractCoinbaseHeight extracts the block height BIP34 requires a
// version-2-or-later coinbase to encode as the first push of its signature
// script.
func ExtractCoinbaseHeight(coinbaseTx *btcutil.Tx) (int64, error) {
	sigScript := coinbaseTx.MsgTx().TxIn[0].SignatureScript
	if len(sigScript) < 1 {
		str := fmt.Sprintf("the coinbase signature script for blocks of "+
			"version %d or greater must start with the length of the "+
			"serialized block height", serializedHeightVersion)
		return 0, ruleError(ErrCoinbaseHeight, str)
	}

	opcode := int(sigScript[0])
	if opcode == txscript.OP_0 {
		return 0, nil
	}
	if opcode >= txscript.OP_1 && opcode <= txscript.OP_16 {
		return int64(opcode - (txscript.OP_1 - 1)), nil
	}

	serializedLen := int(sigScript[0])
	if len(sigScript[1:]) < serializedLen {
		str := "the coinbase signature script must start with the " +
			"serialized block height"
		return 0, ruleError(ErrCoinbaseHeight, str)
	}

	heightBytes := make([]byte, 8)
	copy(heightBytes, sigScript[1:serializedLen+1])
	return int64(binary.LittleEndian.Uint64(heightBytes)), nil
}

// checkSerializedHeight verifies the coinbase's BIP34 height push matches
// wantHeight.
func checkSerializedHeight(coinbaseTx *btcutil.Tx, wantHeight int64) error {
	height, err := ExtractCoinbaseHeight(coinbaseTx)
	if err != nil {
		return err
	}
	if height != wantHeight {
		str := fmt.Sprintf("coinbase signature script serialized block "+
			"height is %d when %d was expected", height, wantHeight)
		return ruleError(ErrCoinbaseHeight, str)
	}
	return nil
}

// findWitnessCommitment returns the 32-byte witness commitment carried by
// the coinbase's commitment output, searching from the last output backward
// as required by BIP141, or nil if no such output is present.
func findWitnessCommitment(coinbase *btcutil.Tx) []byte {
	msgTx := coinbase.MsgTx()
	for i := len(msgTx.TxOut) - 1; i >= 0; i-- {
		pkScript := msgTx.TxOut[i].PkScript
		if len(pkScript) < 38 {
			continue
		}
		if pkScript[0] != txscript.OP_RETURN || pkScript[1] != 0x24 {
			continue
		}
		if string(pkScript[2:6]) != string(witnessMagic) {
			continue
		}
		return pkScript[6:38]
	}
	return nil
}

// witnessMerkleRoot computes the merkle root of the block's transaction
// wtxids, with the coinbase's own wtxid forced to the zero hash as BIP141
// requires.
func witnessMerkleRoot(block *btcutil.Block) chainhash.Hash {
	transactions := block.Transactions()
	leaves := make([]chainhash.Hash, len(transactions))
	for i, tx := range transactions {
		if i == 0 {
			leaves[i] = chainhash.Hash{}
			continue
		}
		leaves[i] = tx.MsgTx().WitnessHash()
	}
	return standalone.CalcMerkleRoot(leaves)
}

// validateWitnessCommitment verifies a block's segwit witness commitment:
// when the coinbase carries a commitment output, its witness nonce must be
// present and the commitment must match the recomputed witness merkle root;
// when no commitment is present, the block must carry no witness data at
// all.
func validateWitnessCommitment(block *btcutil.Block) error {
	coinbase := block.Transactions()[0]
	commitment := findWitnessCommitment(coinbase)

	if commitment == nil {
		for _, tx := range block.Transactions() {
			for _, txIn := range tx.MsgTx().TxIn {
				if len(txIn.Witness) > 0 {
					return ruleError(ErrUnexpectedWitness, "transaction "+
						"carries witness data but the block's coinbase "+
						"has no witness commitment output")
				}
			}
		}
		return nil
	}

	coinbaseIn := coinbase.MsgTx().TxIn[0]
	if len(coinbaseIn.Witness) != 1 || len(coinbaseIn.Witness[0]) != 32 {
		return ruleError(ErrUnexpectedWitness, "the coinbase witness stack "+
			"must contain exactly one 32-byte witness commitment nonce")
	}
	nonce := coinbaseIn.Witness[0]

	root := witnessMerkleRoot(block)
	var buf [chainhash.HashSize + 32]byte
	copy(buf[:chainhash.HashSize], root[:])
	copy(buf[chainhash.HashSize:], nonce)
	computed := chainhash.DoubleHashH(buf[:])

	if !bytesEqual(computed[:], commitment) {
		str := fmt.Sprintf("witness commitment mismatch: computed %x, "+
			"block declares %x", computed[:], commitment)
		return ruleError(ErrUnexpectedWitness, str)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isFinalizedTransaction reports whether tx may be included in a block at
// blockHeight with the given reference time: a zero locktime, a locktime in
// the past relative to height/time as appropriate, or an all-max-sequence
// input set all finalize a transaction.
func isFinalizedTransaction(tx *btcutil.Tx, blockHeight int64, blockTime time.Time) bool {
	msgTx := tx.MsgTx()

	lockTime := msgTx.LockTime
	if lockTime == 0 {
		return true
	}

	var blockTimeOrHeight int64
	if lockTime < txscript.LockTimeThreshold {
		blockTimeOrHeight = blockHeight
	} else {
		blockTimeOrHeight = blockTime.Unix()
	}
	if int64(lockTime) < blockTimeOrHeight {
		return true
	}

	for _, txIn := range msgTx.TxIn {
		if txIn.Sequence != math.MaxUint32 {
			return false
		}
	}
	return true
}

// verify performs the contextual header- and transaction-level checks that
// depend on the block's position in the chain but not on its inputs: the
// expected difficulty, the timestamp ordering relative to the previous
// entry, transaction finality, the BIP34 coinbase height commitment, the
// segwit witness commitment, and the block weight cap. It returns whether
// the CSV and segwit deployments are active for the block being validated,
// since callers need that state to gate the checks that follow.
func verify(params *chaincfg.Params, prevEntry *chainEntry, block *btcutil.Block, timeSource MedianTimeSource, csvCache, segwitCache *thresholdStateCache) (bool, bool, error) {
	header := &block.MsgBlock().Header
	nextHeight := prevEntry.height + 1

	expectedBits, err := calcNextRequiredDifficulty(params, prevEntry, header.Timestamp)
	if err != nil {
		return false, false, err
	}
	if header.Bits != expectedBits {
		str := fmt.Sprintf("block difficulty of %d is not the expected "+
			"value of %d", header.Bits, expectedBits)
		return false, false, ruleError(ErrUnexpectedDifficulty, str)
	}

	medianTime := prevEntry.CalcPastMedianTime()
	if !header.Timestamp.After(medianTime) {
		str := fmt.Sprintf("block timestamp of %v is not after expected %v",
			header.Timestamp, medianTime)
		return false, false, ruleError(ErrTimeTooOld, str)
	}
	maxTimestamp := timeSource.AdjustedTime().Add(maxTimeOffsetSeconds * time.Second)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %v is too far in the future",
			header.Timestamp)
		return false, false, malleatedError(ErrTimeTooNew, str)
	}

	csvActive := false
	if csvDeployment, ok := params.DeploymentByID("csv"); ok {
		state, err := deploymentState(params, csvCache, prevEntry, &csvDeployment)
		if err != nil {
			return false, false, err
		}
		csvActive = state == ThresholdActive
	}

	blockTime := header.Timestamp
	if csvActive {
		blockTime = medianTime
	}
	for _, tx := range block.Transactions() {
		if !isFinalizedTransaction(tx, nextHeight, blockTime) {
			str := fmt.Sprintf("block contains unfinalized transaction %v", tx.Hash())
			return false, false, ruleError(ErrUnfinalizedTx, str)
		}
	}

	if header.Version >= serializedHeightVersion && nextHeight >= params.BIP0034Height {
		if err := checkSerializedHeight(block.Transactions()[0], nextHeight); err != nil {
			return false, false, err
		}
	}

	segwitActive := false
	if segwitDeployment, ok := params.DeploymentByID("segwit"); ok {
		state, err := deploymentState(params, segwitCache, prevEntry, &segwitDeployment)
		if err != nil {
			return false, false, err
		}
		segwitActive = state == ThresholdActive
	}

	if segwitActive {
		if err := validateWitnessCommitment(block); err != nil {
			return false, false, err
		}
		weight := standalone.GetBlockWeight(block.MsgBlock())
		if weight > int64(params.MaxBlockWeight) {
			str := fmt.Sprintf("block's weight metric is too high - got "+
				"%v, max %v", weight, params.MaxBlockWeight)
			return false, false, ruleError(ErrBlockWeightTooHigh, str)
		}
	}

	return csvActive, segwitActive, nil
}

// verifyInputs spends and validates every non-coinbase transaction's inputs
// against view, accumulating sigop cost and fees, and returns the total
// fees paid once the coinbase's own claimed output value has been checked
// against them. When runScripts is false -- because the block is behind the
// last checkpoint -- script and BIP68 sequence-lock checks are skipped and
// only the coin movements themselves are recorded, matching the
// checkpoint-gated optimization real nodes apply to historical blocks.
func verifyInputs(params *chaincfg.Params, prevEntry *chainEntry, block *btcutil.Block, view *UtxoViewpoint, csvActive, segwitActive, runScripts bool, sigCache *txscript.SigCache) (int64, []spentTxOut, error) {
	if err := view.fetchInputUtxos(block); err != nil {
		return 0, nil, err
	}

	height := prevEntry.height + 1
	bip16 := header(block).Timestamp.Unix() >= params.BIP0016Time.Unix()

	transactions := block.Transactions()
	var totalCost int64
	for i, tx := range transactions {
		cost, err := sigOpCost(tx, i == 0, view, bip16, segwitActive)
		if err != nil {
			return 0, nil, err
		}
		last := totalCost
		totalCost += int64(cost)
		if totalCost < last || totalCost > params.MaxBlockSigOpsCost {
			str := fmt.Sprintf("block contains too many signature "+
				"operations - got %v, max %v", totalCost, params.MaxBlockSigOpsCost)
			return 0, nil, ruleError(ErrTooManySigOps, str)
		}
	}

	var stxos []spentTxOut
	var totalFees int64

	for _, tx := range transactions {
		if standalone.IsCoinBaseTx(tx.MsgTx()) {
			if err := view.connectTransaction(tx, height, &stxos); err != nil {
				return 0, nil, err
			}
			continue
		}

		if runScripts {
			lock, err := getLocks(tx, prevEntry, view, csvActive)
			if err != nil {
				return 0, nil, err
			}
			if !verifyLocks(prevEntry, lock) {
				str := fmt.Sprintf("transaction %v's sequence locks are "+
					"not yet met", tx.Hash())
				return 0, nil, ruleError(ErrUnfinalizedTx, str)
			}
		}

		fee, err := checkTransactionInputs(tx, height, view, params)
		if err != nil {
			return 0, nil, err
		}
		last := totalFees
		totalFees += fee
		if totalFees < last {
			return 0, nil, ruleError(ErrBadCoinbaseValue, "total fees for block overflows accumulator")
		}

		if err := view.connectTransaction(tx, height, &stxos); err != nil {
			return 0, nil, err
		}
	}

	if runScripts {
		scriptFlags := scriptFlagsFor(params, &block.MsgBlock().Header, height, csvActive, segwitActive, bip16)
		if err := checkBlockScripts(transactions, view, scriptFlags, sigCache); err != nil {
			return 0, nil, err
		}
	}

	var coinbaseOut int64
	for _, txOut := range transactions[0].MsgTx().TxOut {
		coinbaseOut += txOut.Value
	}
	expected := CalcBlockSubsidy(height, params) + totalFees
	if coinbaseOut > expected {
		str := fmt.Sprintf("coinbase transaction for block pays %v which "+
			"is more than the expected value of %v", coinbaseOut, expected)
		return 0, nil, ruleError(ErrBadCoinbaseValue, str)
	}

	view.SetBestHash(block.Hash())
	return totalFees, stxos, nil
}

func header(block *btcutil.Block) *wire.BlockHeader {
	return &block.MsgBlock().Header
}

// scriptFlagsFor assembles the script-verification flag set that governs
// the block being connected, gating each soft-fork's flags on the height or
// versionbits threshold that activates it.
func scriptFlagsFor(params *chaincfg.Params, header *wire.BlockHeader, height int64, csvActive, segwitActive, bip16 bool) txscript.ScriptFlags {
	var flags txscript.ScriptFlags
	if bip16 {
		flags |= txscript.ScriptBip16
	}
	if header.Version >= 3 && height >= params.BIP0066Height {
		flags |= txscript.ScriptVerifyDERSignatures
	}
	if header.Version >= 4 && height >= params.BIP0065Height {
		flags |= txscript.ScriptVerifyCheckLockTimeVerify
	}
	if csvActive {
		flags |= txscript.ScriptVerifyCheckSequenceVerify
	}
	if segwitActive {
		flags |= txscript.ScriptVerifyWitness
		flags |= txscript.ScriptStrictMultiSig
	}
	return flags
}

// checkTransactionInputs verifies a non-coinbase transaction's inputs exist
// and are unspent, enforces the coinbase-maturity invariant, checks value
// ranges and conservation, and returns the fee the transaction pays.
func checkTransactionInputs(tx *btcutil.Tx, txHeight int64, view *UtxoViewpoint, params *chaincfg.Params) (int64, error) {
	txHash := tx.Hash()
	var totalIn int64
	for txInIndex, txIn := range tx.MsgTx().TxIn {
		utxo := view.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil || utxo.IsSpent() {
			str := fmt.Sprintf("output %v referenced from transaction %s:%d "+
				"either does not exist or has already been spent",
				txIn.PreviousOutPoint, txHash, txInIndex)
			return 0, ruleError(ErrMissingTxOut, str)
		}

		if utxo.IsCoinBase() {
			originHeight := utxo.BlockHeight()
			blocksSincePrev := txHeight - originHeight
			if blocksSincePrev < int64(params.CoinbaseMaturity) {
				str := fmt.Sprintf("tried to spend coinbase output %v "+
					"from height %v at height %v before required "+
					"maturity of %v blocks", txIn.PreviousOutPoint,
					originHeight, txHeight, params.CoinbaseMaturity)
				return 0, ruleError(ErrImmatureSpend, str)
			}
		}

		amount := utxo.Amount()
		last := totalIn
		totalIn += amount
		if totalIn < last {
			str := fmt.Sprintf("total value of all transaction inputs for "+
				"%v overflows the accumulator", txHash)
			return 0, ruleError(ErrSpendTooHigh, str)
		}
	}

	var totalOut int64
	for _, txOut := range tx.MsgTx().TxOut {
		totalOut += txOut.Value
	}

	if totalIn < totalOut {
		str := fmt.Sprintf("total value of all transaction inputs for %v "+
			"is %v which is less than the amount spent of %v", txHash,
			totalIn, totalOut)
		return 0, ruleError(ErrSpendTooHigh, str)
	}

	return totalIn - totalOut, nil
}

// checkBIP30 rejects a block that reintroduces a transaction id still
// unspent in the chain, the rule BIP30 added after two historical blocks
// ended up doing exactly that. The check becomes redundant, and is skipped
// by the caller, once BIP34 makes duplicate coinbases structurally
// impossible. The two blocks that triggered the rule are grandfathered in
// through params.BIP30Exceptions rather than rejected retroactively.
func checkBIP30(params *chaincfg.Params, nextHeight int64, db *ChainDB, block *btcutil.Block) error {
	if exception, ok := params.BIP30Exceptions[nextHeight]; ok && exception == *block.Hash() {
		return nil
	}
	for _, tx := range block.Transactions() {
		if db.HasCoins(*tx.Hash()) {
			str := fmt.Sprintf("tried to overwrite transaction %v that "+
				"is not fully spent", tx.Hash())
			return ruleError(ErrBIP30Violation, str)
		}
	}
	return nil
}

// verifyContext runs every check needed to connect block on top of
// prevEntry -- verify's contextual header/transaction checks, the BIP30
// duplicate-txid guard, and verifyInputs' coin-view spend-and-validate pass
// -- returning the total fees collected so the caller can finish updating
// its own bookkeeping (chain work, deployment state caches, persistence).
func verifyContext(db *ChainDB, params *chaincfg.Params, prevEntry *chainEntry, block *btcutil.Block, view *UtxoViewpoint, timeSource MedianTimeSource, csvCache, segwitCache *thresholdStateCache, runScripts bool, sigCache *txscript.SigCache) (int64, []spentTxOut, bool, bool, error) {
	csvActive, segwitActive, err := verify(params, prevEntry, block, timeSource, csvCache, segwitCache)
	if err != nil {
		return 0, nil, false, false, err
	}

	nextHeight := prevEntry.height + 1
	if nextHeight < params.BIP0034Height {
		if err := checkBIP30(params, nextHeight, db, block); err != nil {
			return 0, nil, false, false, err
		}
	}

	fees, stxos, err := verifyInputs(params, prevEntry, block, view, csvActive, segwitActive, runScripts, sigCache)
	if err != nil {
		return 0, nil, false, false, err
	}

	return fees, stxos, csvActive, segwitActive, nil
}
