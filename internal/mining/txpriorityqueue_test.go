// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"container/heap"
	"math/rand"
	"testing"
)

// TestTxFeePrioHeap tests the priority heap for both transaction fees per KB
// and transaction priority.  It ensures that the primary sorting is by fee
// per KB, and then falls back to priority for ties.
func TestTxFeePrioHeap(t *testing.T) {
	numTestItems := 1000

	// Create some fake priority items that exercise the expected sort
	// edge conditions.
	testItems := []*txPrioItem{
		{feePerKB: 5678, priority: 3},
		{feePerKB: 5678, priority: 1},
		{feePerKB: 5678, priority: 1}, // Duplicate fee and prio
		{feePerKB: 5678, priority: 5},
		{feePerKB: 5678, priority: 2},
		{feePerKB: 1234, priority: 3},
		{feePerKB: 1234, priority: 1},
		{feePerKB: 1234, priority: 5},
		{feePerKB: 1234, priority: 5}, // Duplicate fee and prio
		{feePerKB: 1234, priority: 2},
		{feePerKB: 10000, priority: 0}, // Higher fee, lower prio
		{feePerKB: 0, priority: 10000}, // Higher prio, lower fee
	}

	// Add random data in addition to the edge conditions already manually
	// specified.
	for i := len(testItems); i < numTestItems; i++ {
		randPrio := rand.Float64() * 100
		randFeePerKB := rand.Float64() * 10
		testItems = append(testItems, &txPrioItem{
			txDesc:   nil,
			feePerKB: randFeePerKB,
			priority: randPrio,
		})
	}

	// Test sorting by fee per KB, then priority.
	ph := newTxPriorityQueue(numTestItems, txPQByFee)
	for i := 0; i < numTestItems; i++ {
		heap.Push(ph, testItems[i])
	}
	last := &txPrioItem{
		txDesc:   nil,
		priority: 10000.0,
		feePerKB: 10000.0,
	}
	for i := 0; i < numTestItems; i++ {
		prioItem := heap.Pop(ph)
		txpi, ok := prioItem.(*txPrioItem)
		if ok {
			if txpi.feePerKB > last.feePerKB ||
				(txpi.feePerKB == last.feePerKB && txpi.priority > last.priority) {
				t.Errorf("bad pop: %v fee per KB was more than last of %v",
					txpi.feePerKB, last.feePerKB)
			}
			last = txpi
		}
	}

	// Test sorting by priority, then fee per KB.
	ph = newTxPriorityQueue(numTestItems, txPQByPriority)
	for i := 0; i < numTestItems; i++ {
		heap.Push(ph, testItems[i])
	}
	last = &txPrioItem{
		txDesc:   nil,
		priority: 10000.0,
		feePerKB: 10000.0,
	}
	for i := 0; i < numTestItems; i++ {
		prioItem := heap.Pop(ph)
		txpi, ok := prioItem.(*txPrioItem)
		if ok {
			if txpi.priority > last.priority ||
				(txpi.priority == last.priority && txpi.feePerKB > last.feePerKB) {
				t.Errorf("bad pop: %v priority was more than last of %v",
					txpi.priority, last.priority)
			}
			last = txpi
		}
	}
}
