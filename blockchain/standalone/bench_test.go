// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"strconv"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BenchmarkCalcMerkleRoot benchmarks merkle root calculation for various
// numbers of leaves.
func BenchmarkCalcMerkleRoot(b *testing.B) {
	numLeavesToBench := []int{20, 1000, 2000, 4000, 8000, 16000, 32000}
	origLeaves := make([][]chainhash.Hash, len(numLeavesToBench))
	for i, numLeaves := range numLeavesToBench {
		origLeaves[i] = make([]chainhash.Hash, numLeaves)
	}

	for benchIdx := range origLeaves {
		testLeaves := origLeaves[benchIdx]
		benchName := strconv.Itoa(len(testLeaves))
		b.Run(benchName, func(b *testing.B) {
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = CalcMerkleRoot(testLeaves)
			}
		})
	}
}

// BenchmarkHasDuplicateLeaf benchmarks the duplicate-leaf scan for various
// numbers of leaves.
func BenchmarkHasDuplicateLeaf(b *testing.B) {
	numLeavesToBench := []int{20, 1000, 2000, 4000, 8000, 16000, 32000}
	origLeaves := make([][]chainhash.Hash, len(numLeavesToBench))
	for i, numLeaves := range numLeavesToBench {
		origLeaves[i] = make([]chainhash.Hash, numLeaves)
	}

	for benchIdx := range origLeaves {
		testLeaves := origLeaves[benchIdx]
		benchName := strconv.Itoa(len(testLeaves))
		b.Run(benchName, func(b *testing.B) {
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = HasDuplicateLeaf(testLeaves)
			}
		})
	}
}

// BenchmarkCalcBlockSubsidy benchmarks calculating the subsidy for various
// heights with a sparse access pattern.
func BenchmarkCalcBlockSubsidy(b *testing.B) {
	params := &mockSubsidyParams{
		baseSubsidy:     50 * satoshiPerBitcoin,
		reductionBlocks: 210000,
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		cache := NewSubsidyCache(params)
		for j := int64(0); j < 10; j++ {
			cache.CalcBlockSubsidy(210000 * (10000 + j))
			cache.CalcBlockSubsidy(210000 * 1)
			cache.CalcBlockSubsidy(210000 * 5)
			cache.CalcBlockSubsidy(210000 * 25)
			cache.CalcBlockSubsidy(210000 * 13)
		}
	}
}
