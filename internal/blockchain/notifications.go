// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// NotificationType represents the type of a chain notification.
type NotificationType int

const (
	// NTTip is emitted whenever the best chain tip entry changes.
	NTTip NotificationType = iota

	// NTBlock is emitted when a block is accepted into the block index,
	// whether or not it extends the main chain.
	NTBlock

	// NTConnect is emitted when a block is connected to the main chain as
	// its new tip. Blocks replayed during the roll-forward half of a reorg
	// raise NTReconnect instead.
	NTConnect

	// NTDisconnect is emitted for every block disconnected from the main
	// chain during the rollback half of a reorg.
	NTDisconnect

	// NTReconnect is emitted for every block reconnected to the main
	// chain while the chain is replaying a different branch's history.
	NTReconnect

	// NTReorganize is emitted once a reorganize has fully completed.
	NTReorganize

	// NTCompetitor is emitted when a block is accepted onto a side chain
	// that does not yet have more cumulative work than the main tip.
	NTCompetitor

	// NTResolved is emitted when a previously orphaned block has had its
	// parent arrive and has been reprocessed.
	NTResolved

	// NTOrphan is emitted when a block is stored as an orphan.
	NTOrphan

	// NTExists is emitted when a block already present in the database is
	// submitted again.
	NTExists

	// NTInvalid is emitted when a block fails validation.
	NTInvalid

	// NTFork is emitted when a checkpoint mismatch or similarly severe
	// event forces the node to discard staged work.
	NTFork

	// NTCheckpoint is emitted when a block matching a hard-coded
	// checkpoint is connected.
	NTCheckpoint

	// NTPurge is emitted when a checkpoint mismatch forces a full purge of
	// the staged orphans, or when the sweep after a processed block
	// removes expired orphans or trims the store to its size limit. The
	// eviction the store makes to fit a new orphan into a full store does
	// not raise it.
	NTPurge

	// NTError is emitted when an unexpected, non-consensus error occurs
	// while processing a block.
	NTError

	// NTReset is emitted when the chain tip is forcibly reset, e.g. during
	// recovery from an unclean shutdown.
	NTReset

	// NTFull is emitted once, the first time the chain reaches the sync
	// gate (sufficient cumulative work, a recent tip, and past the last
	// checkpoint). Checkpoint enforcement is disabled from that point on.
	NTFull
)

var notificationTypeStrings = map[NotificationType]string{
	NTTip:        "NTTip",
	NTBlock:      "NTBlock",
	NTConnect:    "NTConnect",
	NTDisconnect: "NTDisconnect",
	NTReconnect:  "NTReconnect",
	NTReorganize: "NTReorganize",
	NTCompetitor: "NTCompetitor",
	NTResolved:   "NTResolved",
	NTOrphan:     "NTOrphan",
	NTExists:     "NTExists",
	NTInvalid:    "NTInvalid",
	NTFork:       "NTFork",
	NTCheckpoint: "NTCheckpoint",
	NTPurge:      "NTPurge",
	NTError:      "NTError",
	NTReset:      "NTReset",
	NTFull:       "NTFull",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return "unknown notification type"
}

// Notification defines notification that is sent to the caller via the
// callback function provided during a call to Subscribe.
type Notification struct {
	Type NotificationType
	Data interface{}
}

// BlockConnectedData is the data sent with an NTConnect, NTReconnect, or
// NTCheckpoint notification.
type BlockConnectedData struct {
	Entry *chainEntry
	Block *btcutil.Block
}

// BlockDisconnectedData is the data sent with an NTDisconnect notification.
type BlockDisconnectedData struct {
	Entry *chainEntry
	Block *btcutil.Block
}

// ReorganizationData is the data sent with an NTReorganize notification.
type ReorganizationData struct {
	OldTip *chainEntry
	NewTip *chainEntry
}

// ForkData is the data sent with an NTFork notification.
type ForkData struct {
	Height int64
	Hash   chainhash.Hash
}

// NotificationCallback is a function that subscribes to notifications from
// the chain. Notifications are delivered synchronously and must not call
// back into the chain, which could deadlock against the chain lock held by
// the goroutine raising the notification.
type NotificationCallback func(*Notification)

// notificationManager fans chain events out to every registered callback.
// Subscription and delivery are both guarded by the same mutex since
// callbacks are expected to be cheap and non-reentrant.
type notificationManager struct {
	mtx       sync.RWMutex
	callbacks []NotificationCallback
}

func newNotificationManager() *notificationManager {
	return &notificationManager{}
}

// Subscribe registers a callback to be executed when a notification is
// raised.
func (nm *notificationManager) Subscribe(callback NotificationCallback) {
	nm.mtx.Lock()
	nm.callbacks = append(nm.callbacks, callback)
	nm.mtx.Unlock()
}

// sendNotification sends a notification with the passed type and data to
// all currently registered callbacks.
func (nm *notificationManager) sendNotification(typ NotificationType, data interface{}) {
	nm.mtx.RLock()
	callbacks := nm.callbacks
	nm.mtx.RUnlock()

	if len(callbacks) == 0 {
		return
	}

	n := &Notification{Type: typ, Data: data}
	for _, callback := range callbacks {
		callback(n)
	}
}
