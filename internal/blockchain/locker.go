// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Locker is the chain's single-writer gate: Do holds one chain-wide lock for
// the entire decide-then-commit sequence of a call to Add, so two blocks
// with different hashes can never run addInternal concurrently and observe
// or mutate the tip out from under one another. The pending set layers a
// cheap, non-blocking same-hash check on top of that -- a second submission
// of a block already being processed fails fast with ErrDuplicateBlock
// instead of queuing behind the writer lock to redundantly repeat the work.
type Locker struct {
	writeMtx sync.Mutex

	mtx     sync.Mutex
	pending map[chainhash.Hash]struct{}
}

// NewLocker returns an initialized Locker with no pending keys.
func NewLocker() *Locker {
	return &Locker{pending: make(map[chainhash.Hash]struct{})}
}

// IsPending reports whether the passed hash is currently being processed
// by a call to Do that has not yet returned.
func (l *Locker) IsPending(hash chainhash.Hash) bool {
	l.mtx.Lock()
	_, ok := l.pending[hash]
	l.mtx.Unlock()
	return ok
}

// Do runs fn for the given hash while holding the chain-wide writer lock,
// serializing it against every other call to Do regardless of hash. The
// caller is expected to have already rejected a duplicate submission of the
// same in-flight hash via IsPending; Do itself only tracks pending for that
// purpose and does not collapse concurrent same-hash calls into one another.
func (l *Locker) Do(hash chainhash.Hash, fn func() (interface{}, error)) (interface{}, error, bool) {
	l.mtx.Lock()
	l.pending[hash] = struct{}{}
	l.mtx.Unlock()

	defer func() {
		l.mtx.Lock()
		delete(l.pending, hash)
		l.mtx.Unlock()
	}()

	l.writeMtx.Lock()
	defer l.writeMtx.Unlock()

	v, err := fn()
	return v, err, false
}
