// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// maxAllowedOffsetSecs is the maximum number of seconds in either
	// direction the local clock will be adjusted. When the median time of
	// the network is outside of this range, no offset is applied.
	maxAllowedOffsetSecs = 70 * 60

	// similarTimeSecs is the number of seconds in either direction from
	// the local clock used to decide the local clock is likely wrong and
	// warn about it.
	similarTimeSecs = 5 * 60
)

// maxMedianTimeEntries is the maximum number of entries allowed in the
// median time data. It is a variable rather than a constant so test code can
// shrink it.
var maxMedianTimeEntries = 200

// MedianTimeSource provides a mechanism to add several time samples which
// are used to determine a median time that is then used as an offset to the
// local clock, matching the peer-timestamp handling every full node applies
// before evaluating a block's own timestamp against it.
type MedianTimeSource interface {
	// AdjustedTime returns the current time adjusted by the median time
	// offset as calculated from the time samples added by AddTimeSample.
	AdjustedTime() time.Time

	// AddTimeSample adds a time sample that is used when determining the
	// median time of the added samples.
	AddTimeSample(id string, timeVal time.Time)

	// Offset returns the number of seconds to adjust the local clock by
	// based on the median of the time samples added by AddTimeSample.
	Offset() time.Duration
}

type int64Sorter []int64

func (s int64Sorter) Len() int           { return len(s) }
func (s int64Sorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s int64Sorter) Less(i, j int) bool { return s[i] < s[j] }

// medianTime is the concurrency-safe implementation of MedianTimeSource. It
// intentionally reproduces the same bias Bitcoin Core's equivalent
// mechanism has always had -- the offset is only recomputed on an odd
// sample count, so it stops moving once the entry cap (itself even) is
// reached -- since the rule is part of what peers collectively enforce.
type medianTime struct {
	mtx                sync.Mutex
	knownIDs           map[string]struct{}
	offsets            []int64
	offsetSecs         int64
	invalidTimeChecked bool
}

var _ MedianTimeSource = (*medianTime)(nil)

// AdjustedTime returns the current time adjusted by the median time offset.
func (m *medianTime) AdjustedTime() time.Time {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := time.Unix(time.Now().Unix(), 0)
	return now.Add(time.Duration(m.offsetSecs) * time.Second)
}

// AddTimeSample adds a time sample that is used when determining the median
// time of the added samples.
func (m *medianTime) AddTimeSample(sourceID string, timeVal time.Time) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, exists := m.knownIDs[sourceID]; exists {
		return
	}
	m.knownIDs[sourceID] = struct{}{}

	now := time.Unix(time.Now().Unix(), 0)
	offsetSecs := int64(timeVal.Sub(now).Seconds())
	numOffsets := len(m.offsets)
	if numOffsets == maxMedianTimeEntries && maxMedianTimeEntries > 0 {
		m.offsets = m.offsets[1:]
		numOffsets--
	}
	m.offsets = append(m.offsets, offsetSecs)
	numOffsets++

	sortedOffsets := make([]int64, numOffsets)
	copy(sortedOffsets, m.offsets)
	sort.Sort(int64Sorter(sortedOffsets))

	log.Debugf("Added time sample of %v (total: %v)",
		time.Duration(offsetSecs)*time.Second, numOffsets)

	if numOffsets < 5 || numOffsets&0x01 != 1 {
		return
	}

	median := sortedOffsets[numOffsets/2]
	if math.Abs(float64(median)) < maxAllowedOffsetSecs {
		m.offsetSecs = median
	} else {
		m.offsetSecs = 0

		if !m.invalidTimeChecked {
			m.invalidTimeChecked = true

			var remoteHasCloseTime bool
			for _, offset := range sortedOffsets {
				if math.Abs(float64(offset)) < similarTimeSecs {
					remoteHasCloseTime = true
					break
				}
			}
			if !remoteHasCloseTime {
				log.Warnf("Please check your date and time are correct! " +
					"Consensus validation will not work properly with an " +
					"invalid local clock")
			}
		}
	}

	log.Debugf("New time offset: %v", time.Duration(m.offsetSecs)*time.Second)
}

// Offset returns the number of seconds to adjust the local clock by based on
// the median of the time samples added by AddTimeSample.
func (m *medianTime) Offset() time.Duration {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return time.Duration(m.offsetSecs) * time.Second
}

// NewMedianTime returns a new concurrency-safe implementation of
// MedianTimeSource. The returned implementation contains the rules
// necessary for proper time handling and expects time samples to be added
// from the timestamp field of the version message received from peers.
func NewMedianTime() MedianTimeSource {
	return &medianTime{
		knownIDs: make(map[string]struct{}),
		offsets:  make([]int64, 0, maxMedianTimeEntries),
	}
}
