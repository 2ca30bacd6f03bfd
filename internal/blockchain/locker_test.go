// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestLockerIsPendingDuringExecution(t *testing.T) {
	l := NewLocker()
	hash := chainhash.Hash{0x01}

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		l.Do(hash, func() (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()

	<-started
	if !l.IsPending(hash) {
		t.Fatal("expected hash to be pending during execution")
	}
	close(release)
}

func TestLockerSerializesConcurrentCalls(t *testing.T) {
	l := NewLocker()

	var calls int32
	var inFlight int32
	var maxInFlight int32
	var wg sync.WaitGroup
	var ready sync.WaitGroup
	release := make(chan struct{})

	const goroutines = 5
	wg.Add(goroutines)
	ready.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		hash := chainhash.Hash{byte(i)}
		go func() {
			defer wg.Done()
			ready.Done()
			<-release
			l.Do(hash, func() (interface{}, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&maxInFlight)
					if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
						break
					}
				}
				atomic.AddInt32(&calls, 1)
				atomic.AddInt32(&inFlight, -1)
				return "done", nil
			})
		}()
	}

	ready.Wait()
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != goroutines {
		t.Fatalf("got %d calls, want %d (every call for a distinct hash runs)",
			got, goroutines)
	}
	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("got max %d calls in flight at once, want 1 (fully serialized)", got)
	}
}

func TestLockerNotPendingAfterCompletion(t *testing.T) {
	l := NewLocker()
	hash := chainhash.Hash{0x03}

	_, _, _ = l.Do(hash, func() (interface{}, error) { return nil, nil })

	if l.IsPending(hash) {
		t.Fatal("expected hash to no longer be pending after Do returns")
	}
}
