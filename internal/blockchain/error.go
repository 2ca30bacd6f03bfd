// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

// ErrorKind identifies a kind of error. It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateBlock indicates a block with the same hash already exists
	// and has already been processed.
	ErrDuplicateBlock = ErrorKind("ErrDuplicateBlock")

	// ErrMissingParent indicates that the block was an orphan.
	ErrMissingParent = ErrorKind("ErrMissingParent")

	// ErrBlockTooBig indicates the serialized block size exceeds the
	// maximum allowed size.
	ErrBlockTooBig = ErrorKind("ErrBlockTooBig")

	// ErrBlockWeightTooHigh indicates the block's calculated weight metric
	// exceeds the maximum allowed value.
	ErrBlockWeightTooHigh = ErrorKind("ErrBlockWeightTooHigh")

	// ErrTimeTooOld indicates the timestamp is not after the median time of
	// the last several blocks.
	ErrTimeTooOld = ErrorKind("ErrTimeTooOld")

	// ErrTimeTooNew indicates the timestamp is too far in the future
	// compared to the node's adjusted time.
	ErrTimeTooNew = ErrorKind("ErrTimeTooNew")

	// ErrUnexpectedDifficulty indicates the bits field of a block does not
	// align with the expected value either because it doesn't match the
	// calculated value or it is out of the valid range.
	ErrUnexpectedDifficulty = ErrorKind("ErrUnexpectedDifficulty")

	// ErrHighHash indicates the block does not hash to a value which is
	// lower than the required target difficulty.
	ErrHighHash = ErrorKind("ErrHighHash")

	// ErrBadMerkleRoot indicates the calculated merkle root does not match
	// the expected value.
	ErrBadMerkleRoot = ErrorKind("ErrBadMerkleRoot")

	// ErrBadMerkleParent indicates the merkle tree built from the leaf list
	// pairs a node with an identical sibling at some level, the
	// CVE-2012-2459 merkle-mutation signature.
	ErrBadMerkleParent = ErrorKind("ErrBadMerkleParent")

	// ErrNoTransactions indicates the block does not have a single
	// transaction. A valid block must have at least the coinbase.
	ErrNoTransactions = ErrorKind("ErrNoTransactions")

	// ErrFirstTxNotCoinbase indicates the first transaction in the block is
	// not a coinbase transaction.
	ErrFirstTxNotCoinbase = ErrorKind("ErrFirstTxNotCoinbase")

	// ErrMultipleCoinbases indicates a block contains more than one
	// coinbase transaction.
	ErrMultipleCoinbases = ErrorKind("ErrMultipleCoinbases")

	// ErrBadCoinbaseScriptLen indicates the length of the signature script
	// for a coinbase transaction is not within the valid range.
	ErrBadCoinbaseScriptLen = ErrorKind("ErrBadCoinbaseScriptLen")

	// ErrCoinbaseHeight indicates the encoded height in the coinbase's
	// signature script does not match the height of the block, per BIP34.
	ErrCoinbaseHeight = ErrorKind("ErrCoinbaseHeight")

	// ErrBadCoinbaseValue indicates the total fees plus the block subsidy
	// exceed the total value of all outputs of the coinbase transaction.
	ErrBadCoinbaseValue = ErrorKind("ErrBadCoinbaseValue")

	// ErrMissingTxOut indicates a transaction output referenced by an
	// input either does not exist or has already been spent.
	ErrMissingTxOut = ErrorKind("ErrMissingTxOut")

	// ErrImmatureSpend indicates an attempt to spend a coinbase output
	// before it has reached coinbase maturity.
	ErrImmatureSpend = ErrorKind("ErrImmatureSpend")

	// ErrSpendTooHigh indicates the total value of all outputs of a
	// transaction exceeds the total value of all inputs.
	ErrSpendTooHigh = ErrorKind("ErrSpendTooHigh")

	// ErrBIP30Violation indicates a block introduces a transaction whose
	// id duplicates one that is still unspent in the chain.
	ErrBIP30Violation = ErrorKind("ErrBIP30Violation")

	// ErrUnfinalizedTx indicates a transaction was not finalized based on
	// the lock time or sequence locks required by the block it is
	// contained in.
	ErrUnfinalizedTx = ErrorKind("ErrUnfinalizedTx")

	// ErrTooManySigOps indicates the cumulative number of sigops for a
	// transaction or block exceeds the maximum allowed limit.
	ErrTooManySigOps = ErrorKind("ErrTooManySigOps")

	// ErrScriptMalformed indicates a transaction script is malformed in
	// some way. For example, it might be longer than the maximum allowed
	// length or fail to parse.
	ErrScriptMalformed = ErrorKind("ErrScriptMalformed")

	// ErrScriptValidation indicates the result of executing a transaction
	// script pair failed.
	ErrScriptValidation = ErrorKind("ErrScriptValidation")

	// ErrUnexpectedWitness indicates a block contains segregated witness
	// data despite the witness commitment output being absent, or the
	// witness commitment output is present but does not match the
	// recomputed witness merkle root.
	ErrUnexpectedWitness = ErrorKind("ErrUnexpectedWitness")

	// ErrCheckpointMismatch indicates a block at a checkpointed height has
	// a hash that does not match the hard-coded checkpoint.
	ErrCheckpointMismatch = ErrorKind("ErrCheckpointMismatch")

	// ErrForkTooOld indicates a reorganize was attempted that would extend
	// or replace a chain that forked from the main chain too far in the
	// past relative to the last checkpoint.
	ErrForkTooOld = ErrorKind("ErrForkTooOld")

	// ErrKnownInvalidBlock indicates the block, or one of its ancestors, is
	// already recorded in the invalid block cache.
	ErrKnownInvalidBlock = ErrorKind("ErrKnownInvalidBlock")
)

// RuleError identifies a rule violation. It has full support for errors.Is
// and errors.As, so the caller can ascertain the specific reason for the
// error by checking the underlying error.
type RuleError struct {
	Description string
	Err         error

	// Malleated indicates whether the peer that sent the offending block
	// could plausibly have derived it, unmodified, from a valid block --
	// i.e. the failure does not conclusively prove the block itself is
	// invalid. Malleated failures must not be inserted into the invalid
	// block cache.
	Malleated bool

	// Score is the peer banscore this failure carries, one of 0, 10, 50,
	// or 100. It is assigned per ErrorKind by scoreForKind and is purely
	// advisory -- this package has no peer connections of its own to ban,
	// but a hosting P2P layer can accumulate it per peer.
	Score int
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// scoreForKind returns the peer banscore associated with an ErrorKind.
//
// 0 is used for outcomes that are not evidence of misbehavior at all:
// duplicates, orphans (explicitly non-bannable, since an honest peer may
// simply be ahead of this node), and blocks already known invalid (the
// banscore was already charged the first time the hash was seen). 10 is
// used for ErrTimeTooNew, which the network's own 2-hour future-drift
// allowance treats as "may become valid shortly" rather than a violation.
// 50 is used for failures that are real but have a plausible non-malicious
// explanation tied to timing or view divergence (a stale median-time
// check, an overly deep reorg attempt, a transaction that will become
// final soon). Every other kind is a conclusive consensus violation and
// scores the maximum.
func scoreForKind(kind ErrorKind) int {
	switch kind {
	case ErrDuplicateBlock, ErrMissingParent, ErrKnownInvalidBlock:
		return 0
	case ErrTimeTooNew:
		return 10
	case ErrTimeTooOld, ErrForkTooOld, ErrUnfinalizedTx:
		return 50
	default:
		return 100
	}
}

// ruleError creates a non-malleated RuleError given a set of arguments.
func ruleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc, Score: scoreForKind(kind)}
}

// malleatedError creates a RuleError flagged as malleated: the sending peer
// may have derived the offending block from an otherwise-valid one, so its
// hash must not poison the invalid-block cache.
func malleatedError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc, Malleated: true, Score: scoreForKind(kind)}
}
