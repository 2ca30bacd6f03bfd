// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// hashMerkleBranches takes two hashes, treated as the left and right tree
// nodes, and returns the hash of their concatenation. This is a helper
// function used to aid in the generation of a merkle tree.
func hashMerkleBranches(left, right *chainhash.Hash) *chainhash.Hash {
	var hash [chainhash.HashSize * 2]byte
	copy(hash[:chainhash.HashSize], left[:])
	copy(hash[chainhash.HashSize:], right[:])
	newHash := chainhash.DoubleHashH(hash[:])
	return &newHash
}

// CalcMerkleRoot creates a merkle tree from the slice of hashes and returns
// the resulting root hash. The merkle root is computed by pairwise hashing
// leaves bottom-up, duplicating the final node at each level when the level
// has an odd number of entries, exactly as Bitcoin has always done.
//
// This duplication rule is what makes the well-known CVE-2012-2459
// vulnerability possible: an attacker who appends a duplicate of the last
// transaction to an otherwise-valid block produces a distinct block whose
// serialized transactions differ but whose merkle root is identical. Callers
// that build blocks from a list of transactions rather than recomputing this
// function from a validated tree must independently reject that duplication,
// which is what HasDuplicateLeaf does below.
//
// A merkle tree is a tree in which every non-leaf node is the hash of its
// child nodes. A diagram depicting how this works for bitcoin transactions
// where h(x) is a double sha256 follows:
//
//	         root = h1234 = h(h12 + h34)
//	        /                           \
//	  h12 = h(h1 + h2)            h34 = h(h3 + h4)
//	   /            \              /            \
//	h1 = h(tx1)  h2 = h(tx2)  h3 = h(tx3)  h4 = h(tx4)
func CalcMerkleRoot(leaves []chainhash.Hash) chainhash.Hash {
	if len(leaves) == 0 {
		return chainhash.Hash{}
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	current := make([]chainhash.Hash, len(leaves))
	copy(current, leaves)
	for len(current) > 1 {
		if len(current)&1 != 0 {
			current = append(current, current[len(current)-1])
		}

		next := make([]chainhash.Hash, 0, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			next = append(next, *hashMerkleBranches(&current[i], &current[i+1]))
		}
		current = next
	}

	return current[0]
}

// HasDuplicateLeaf reports whether any level of the merkle tree built from the
// given ordered list of transaction hashes pairs a node with an identical
// sibling -- the signature of the CVE-2012-2459 merkle root mutation. This must be checked
// against the raw transaction list before trusting CalcMerkleRoot's result as
// a unique fingerprint of the block's contents.
func HasDuplicateLeaf(leaves []chainhash.Hash) bool {
	if len(leaves) == 0 {
		return false
	}

	current := make([]chainhash.Hash, len(leaves))
	copy(current, leaves)
	for len(current) > 1 {
		// A node paired with an identical sibling is exactly the
		// duplication CVE-2012-2459 exploits.
		for i := 0; i+1 < len(current); i += 2 {
			if current[i] == current[i+1] {
				return true
			}
		}
		if len(current)&1 != 0 {
			current = append(current, current[len(current)-1])
		}

		next := make([]chainhash.Hash, 0, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			next = append(next, *hashMerkleBranches(&current[i], &current[i+1]))
		}
		current = next
	}

	return false
}
