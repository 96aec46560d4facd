// Package bufferpool implements the sukunadb buffer pool: a fixed-capacity
// cache of disk pages with LRU-K eviction, pin accounting and scoped page
// guards.
package bufferpool

import (
	"sync"

	pagemanager "github.com/sushant-115/sukunadb/core/storage_engine/page_manager"
)

// lruKNode tracks the access history of a single frame: up to k timestamps,
// oldest first, plus the evictable flag.
type lruKNode struct {
	history   []uint64
	evictable bool
}

// recordAccess appends the given timestamp, dropping the oldest entry once
// the history exceeds k.
func (n *lruKNode) recordAccess(timestamp uint64, k int) {
	n.history = append(n.history, timestamp)
	if len(n.history) > k {
		n.history = n.history[1:]
	}
}

// LRUKReplacer selects eviction victims by backward k-distance: the
// evictable frame whose k-th most recent access is furthest in the past. A
// frame with fewer than k recorded accesses has infinite k-distance; such
// frames are always preferred as victims, tie-broken by their oldest access.
//
// The replacer performs no I/O and takes its own latch on every operation.
// When invoked by the pool under the pool latch, lock order is always
// pool latch, then replacer latch.
type LRUKReplacer struct {
	latch     sync.Mutex
	nodeStore map[pagemanager.FrameID]*lruKNode

	currentTimestamp uint64
	currSize         int
	numFrames        int
	k                int
}

// NewLRUKReplacer creates a replacer for numFrames frames with history
// window k.
func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	return &LRUKReplacer{
		nodeStore: make(map[pagemanager.FrameID]*lruKNode),
		numFrames: numFrames,
		k:         k,
	}
}

// Evict removes and returns the frame with the largest backward k-distance
// among evictable frames. Frames with infinite k-distance win over frames
// with finite k-distance; within the infinite class the oldest single access
// wins, within the finite class the smallest k-th most recent timestamp
// wins. Returns false when no frame is evictable.
func (r *LRUKReplacer) Evict() (pagemanager.FrameID, bool) {
	r.latch.Lock()
	defer r.latch.Unlock()

	victim := pagemanager.FrameID(-1)
	victimInf := false
	var victimStamp uint64

	for fid, node := range r.nodeStore {
		if !node.evictable {
			continue
		}
		// The history holds at most k entries, so the front is the k-th most
		// recent access when full, and the least recent access otherwise.
		inf := len(node.history) < r.k
		stamp := node.history[0]

		better := false
		switch {
		case victim == -1:
			better = true
		case inf && !victimInf:
			better = true
		case inf == victimInf && stamp < victimStamp:
			better = true
		}
		if better {
			victim = fid
			victimInf = inf
			victimStamp = stamp
		}
	}

	if victim == -1 {
		return victim, false
	}
	delete(r.nodeStore, victim)
	r.currSize--
	return victim, true
}

// RecordAccess stamps the frame with the next logical timestamp, creating
// its history on first touch. The access type is advisory and currently
// ignored.
func (r *LRUKReplacer) RecordAccess(frameID pagemanager.FrameID, _ pagemanager.AccessType) {
	r.latch.Lock()
	defer r.latch.Unlock()

	node, ok := r.nodeStore[frameID]
	if !ok {
		node = &lruKNode{}
		r.nodeStore[frameID] = node
	}
	r.currentTimestamp++
	node.recordAccess(r.currentTimestamp, r.k)
}

// SetEvictable toggles whether the frame may be chosen as a victim,
// adjusting the evictable count on state change. Unknown frames are ignored.
func (r *LRUKReplacer) SetEvictable(frameID pagemanager.FrameID, evictable bool) {
	r.latch.Lock()
	defer r.latch.Unlock()

	node, ok := r.nodeStore[frameID]
	if !ok || node.evictable == evictable {
		return
	}
	node.evictable = evictable
	if evictable {
		r.currSize++
	} else {
		r.currSize--
	}
}

// Remove drops the frame's history unconditionally, regardless of its
// position in the eviction order. Unknown frames are ignored.
func (r *LRUKReplacer) Remove(frameID pagemanager.FrameID) {
	r.latch.Lock()
	defer r.latch.Unlock()

	node, ok := r.nodeStore[frameID]
	if !ok {
		return
	}
	if node.evictable {
		r.currSize--
	}
	delete(r.nodeStore, frameID)
}

// Size returns the number of evictable frames.
func (r *LRUKReplacer) Size() int {
	r.latch.Lock()
	defer r.latch.Unlock()
	return r.currSize
}
