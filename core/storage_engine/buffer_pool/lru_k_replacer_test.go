package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	pagemanager "github.com/sushant-115/sukunadb/core/storage_engine/page_manager"
)

// evictAll drains the replacer and returns the victims in eviction order.
func evictAll(r *LRUKReplacer) []pagemanager.FrameID {
	var order []pagemanager.FrameID
	for {
		fid, ok := r.Evict()
		if !ok {
			return order
		}
		order = append(order, fid)
	}
}

// TestLRUKReplacer_EvictionOrder drives the full tie-break rule: frames with
// fewer than k accesses (infinite k-distance) are evicted first, oldest
// single access first; frames with a full history follow, ordered by their
// k-th most recent access.
func TestLRUKReplacer_EvictionOrder(t *testing.T) {
	r := NewLRUKReplacer(7, 2)

	// One access each for frames 0..6, then a second access for 0..4.
	// Frames 5 and 6 keep a single access and so have infinite k-distance.
	for fid := 0; fid < 7; fid++ {
		r.RecordAccess(pagemanager.FrameID(fid), pagemanager.AccessUnknown)
	}
	for fid := 0; fid < 5; fid++ {
		r.RecordAccess(pagemanager.FrameID(fid), pagemanager.AccessUnknown)
	}
	for fid := 0; fid < 7; fid++ {
		r.SetEvictable(pagemanager.FrameID(fid), true)
	}
	require.Equal(t, 7, r.Size())

	// 5 before 6 (older single access), then 0..4 by oldest retained access.
	want := []pagemanager.FrameID{5, 6, 0, 1, 2, 3, 4}
	require.Equal(t, want, evictAll(r))
	require.Equal(t, 0, r.Size())
}

// TestLRUKReplacer_K1BehavesAsLRU checks that with k=1 the policy degrades
// to classical least-recently-used.
func TestLRUKReplacer_K1BehavesAsLRU(t *testing.T) {
	r := NewLRUKReplacer(3, 1)

	for fid := 0; fid < 3; fid++ {
		r.RecordAccess(pagemanager.FrameID(fid), pagemanager.AccessUnknown)
		r.SetEvictable(pagemanager.FrameID(fid), true)
	}
	// Touch frame 0 again; it becomes the most recently used.
	r.RecordAccess(0, pagemanager.AccessUnknown)

	require.Equal(t, []pagemanager.FrameID{1, 2, 0}, evictAll(r))
}

// TestLRUKReplacer_OnlyEvictableFramesAreVictims pins two of three frames
// and checks the replacer never selects them.
func TestLRUKReplacer_OnlyEvictableFramesAreVictims(t *testing.T) {
	r := NewLRUKReplacer(3, 2)

	for fid := 0; fid < 3; fid++ {
		r.RecordAccess(pagemanager.FrameID(fid), pagemanager.AccessUnknown)
	}
	r.SetEvictable(1, true)

	fid, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, pagemanager.FrameID(1), fid)

	_, ok = r.Evict()
	require.False(t, ok, "no evictable frame should remain")
}

// TestLRUKReplacer_SizeBookkeeping exercises the evictable counter across
// SetEvictable transitions, Evict and Remove.
func TestLRUKReplacer_SizeBookkeeping(t *testing.T) {
	r := NewLRUKReplacer(4, 2)
	require.Equal(t, 0, r.Size())

	for fid := 0; fid < 3; fid++ {
		r.RecordAccess(pagemanager.FrameID(fid), pagemanager.AccessUnknown)
	}
	require.Equal(t, 0, r.Size(), "recorded frames start non-evictable")

	for fid := 0; fid < 3; fid++ {
		r.SetEvictable(pagemanager.FrameID(fid), true)
	}
	require.Equal(t, 3, r.Size())

	// Repeated transitions to the same state must not double-count.
	r.SetEvictable(0, true)
	require.Equal(t, 3, r.Size())

	r.SetEvictable(0, false)
	require.Equal(t, 2, r.Size())

	_, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 1, r.Size())

	r.Remove(0)
	require.Equal(t, 1, r.Size(), "removing a non-evictable frame leaves the count alone")

	r.Remove(2)
	r.Remove(1)
	require.Equal(t, 0, r.Size())
}

// TestLRUKReplacer_UnknownFramesAreIgnored checks that SetEvictable and
// Remove fail silently for frames that were never recorded.
func TestLRUKReplacer_UnknownFramesAreIgnored(t *testing.T) {
	r := NewLRUKReplacer(2, 2)

	r.SetEvictable(99, true)
	require.Equal(t, 0, r.Size())

	r.Remove(99)
	require.Equal(t, 0, r.Size())

	_, ok := r.Evict()
	require.False(t, ok)
}

// TestLRUKReplacer_RemoveDropsHistory removes a frame and checks that a
// fresh access starts a new history rather than resuming the old one.
func TestLRUKReplacer_RemoveDropsHistory(t *testing.T) {
	r := NewLRUKReplacer(2, 2)

	r.RecordAccess(0, pagemanager.AccessUnknown)
	r.RecordAccess(0, pagemanager.AccessUnknown)
	r.RecordAccess(1, pagemanager.AccessUnknown)
	r.Remove(0)

	// Frame 0 re-enters with a single access: infinite k-distance, so it is
	// preferred over frame 1 despite frame 1's older timestamp.
	r.RecordAccess(0, pagemanager.AccessUnknown)
	r.RecordAccess(1, pagemanager.AccessUnknown)
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)

	fid, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, pagemanager.FrameID(0), fid)
}
