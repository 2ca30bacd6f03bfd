// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2023 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid the
	// overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// oneLsh256 is 1 shifted left 256 bits.  It is defined here to avoid the
	// overhead of creating it multiple times.
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)
)

// HashToBig converts a chainhash.Hash into a big.Int that can be used to
// perform math comparisons.
func HashToBig(hash *chainhash.Hash) *big.Int {
	// A Hash is in little-endian, but the big package wants the bytes in
	// big-endian, so reverse them.
	buf := *hash
	blen := len(buf)
	for i := 0; i < blen/2; i++ {
		buf[i], buf[blen-1-i] = buf[blen-1-i], buf[i]
	}

	return new(big.Int).SetBytes(buf[:])
}

// CompactToBig converts a compact representation of a whole number N, held in
// an unsigned 32-bit number, to a big integer.  The representation is similar
// to IEEE754 floating point numbers.
//
// Like IEEE754 floating point, there are three basic components: the sign,
// the exponent, and the mantissa.  They are broken out as follows:
//
//  1. the most significant 8 bits represent the unsigned base 256 exponent
//  2. zero-based bit 23 (the 24th bit) represents the sign bit
//  3. the least significant 23 bits represent the mantissa
//
// Diagram:
//
//	-------------------------------------------------
//	|   Exponent     |    Sign    |    Mantissa     |
//	|-----------------------------------------------|
//	| 8 bits [31-24] | 1 bit [23] | 23 bits [22-00] |
//	-------------------------------------------------
//
// The formula to calculate N is:
//
//	N = (-1^sign) * mantissa * 256^(exponent-3)
//
// This compact form is used in Bitcoin's block header "bits" field to encode
// unsigned 256-bit difficulty targets. There really is not a need for a sign
// bit in that context, but it is implemented here to stay consistent with
// the original format.
func CompactToBig(compact uint32) *big.Int {
	// Extract the mantissa, sign bit, and exponent.
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	// Since the base for the exponent is 256, the exponent can be treated as
	// the number of bytes to represent the full 256-bit number.  So, treat the
	// exponent as the number of bytes and shift the mantissa right or left
	// accordingly.  This is equivalent to:
	// N = mantissa * 256^(exponent-3)
	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	// Make it negative if the sign bit is set.
	if isNegative {
		bn = bn.Neg(bn)
	}

	return bn
}

// BigToCompact converts a whole number N to a compact representation using an
// unsigned 32-bit number.  The compact representation only provides 23 bits of
// precision, so values larger than (2^23 - 1) only encode the most significant
// digits of the number.  See CompactToBig for details.
func BigToCompact(n *big.Int) uint32 {
	// No need to do any work if it's zero.
	if n.Sign() == 0 {
		return 0
	}

	// Since the base for the exponent is 256, the exponent can be treated as
	// the number of bytes.  So, shift the number right or left accordingly.
	// This is equivalent to:
	// mantissa = mantissa / 256^(exponent-3)
	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		// Use a copy to avoid modifying the caller's original number.
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	// When the mantissa already has the sign bit set, the number is too large
	// to fit into the available 23-bits, so divide the number by 256 and
	// increment the exponent accordingly.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	// Pack the exponent, sign bit, and mantissa into an unsigned 32-bit int and
	// return it.
	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// CalcWork calculates a work value from difficulty bits. Bitcoin increases the
// difficulty for generating a block by decreasing the value which the generated
// hash must be less than. This difficulty target is stored in each block
// header using a compact representation as described in the documentation for
// CompactToBig. The main chain is selected by choosing the chain that has the
// most cumulative proof of work (highest chainwork), so since a lower target
// difficulty value equates to higher actual difficulty, the work value which
// will be accumulated must be the inverse of the difficulty. Also, in order to
// avoid potential division by zero and really small floating point numbers,
// the result adds 1 to the denominator and multiplies the numerator by 2^256.
func CalcWork(bits uint32) *big.Int {
	// Return a work value of zero if the passed difficulty bits represent a
	// negative number. Note this should not happen in practice with valid
	// blocks, but an invalid block could trigger it.
	difficultyNum := CompactToBig(bits)
	if difficultyNum.Sign() <= 0 {
		return big.NewInt(0)
	}

	// (1 << 256) / (difficultyNum + 1)
	denominator := new(big.Int).Add(difficultyNum, bigOne)
	return new(big.Int).Div(oneLsh256, denominator)
}

// checkProofOfWorkRange ensures the provided target difficulty is in min/max
// range per the provided proof-of-work limit.
func checkProofOfWorkRange(target *big.Int, powLimit *big.Int) error {
	// The target difficulty must be larger than zero.
	if target.Sign() <= 0 {
		str := fmt.Sprintf("target difficulty of %064x is too low", target)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	// The target difficulty must be less than the maximum allowed.
	if target.Cmp(powLimit) > 0 {
		str := fmt.Sprintf("target difficulty of %064x is higher than max of "+
			"%064x", target, powLimit)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	return nil
}

// CheckProofOfWorkRange ensures the provided compact target difficulty is in
// min/max range per the provided proof-of-work limit.
func CheckProofOfWorkRange(difficultyBits uint32, powLimit *big.Int) error {
	target := CompactToBig(difficultyBits)
	return checkProofOfWorkRange(target, powLimit)
}

// checkProofOfWorkHash ensures the provided hash is less than the provided
// target difficulty.
func checkProofOfWorkHash(powHash *chainhash.Hash, target *big.Int) error {
	// The proof of work hash must be less than the target difficulty.
	hashNum := HashToBig(powHash)
	if hashNum.Cmp(target) > 0 {
		str := fmt.Sprintf("proof of work hash %064x is higher than "+
			"expected max of %064x", hashNum, target)
		return ruleError(ErrHighHash, str)
	}

	return nil
}

// CheckProofOfWorkHash ensures the provided hash is less than the provided
// compact target difficulty.
func CheckProofOfWorkHash(powHash *chainhash.Hash, difficultyBits uint32) error {
	target := CompactToBig(difficultyBits)
	return checkProofOfWorkHash(powHash, target)
}

// CheckProofOfWork ensures the provided hash is less than the provided compact
// target difficulty and that the target difficulty is in min/max range per the
// provided proof-of-work limit.
//
// This is semantically equivalent to and slightly more efficient than calling
// CheckProofOfWorkRange followed by CheckProofOfWorkHash.
func CheckProofOfWork(powHash *chainhash.Hash, difficultyBits uint32, powLimit *big.Int) error {
	target := CompactToBig(difficultyBits)
	if err := checkProofOfWorkRange(target, powLimit); err != nil {
		return err
	}

	// The proof of work hash must be less than the target difficulty.
	return checkProofOfWorkHash(powHash, target)
}
