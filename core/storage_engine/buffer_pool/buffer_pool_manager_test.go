package bufferpool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	flushmanager "github.com/sushant-115/sukunadb/core/storage_engine/flush_manager"
	pagemanager "github.com/sushant-115/sukunadb/core/storage_engine/page_manager"
)

// testDiskManager is an in-memory DiskManager recording operation order so
// tests can observe the pool's I/O behavior.
type testDiskManager struct {
	mu    sync.Mutex
	pages map[pagemanager.PageID][]byte
	ops   []string
}

func newTestDiskManager() *testDiskManager {
	return &testDiskManager{pages: make(map[pagemanager.PageID][]byte)}
}

func (f *testDiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("read(%d)", pageID))
	if stored, ok := f.pages[pageID]; ok {
		copy(pageData, stored)
	} else {
		for i := range pageData {
			pageData[i] = 0
		}
	}
	return nil
}

func (f *testDiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("write(%d)", pageID))
	stored := make([]byte, len(pageData))
	copy(stored, pageData)
	f.pages[pageID] = stored
	return nil
}

func (f *testDiskManager) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// setupPool builds a pool over an in-memory disk manager. The scheduler is
// shut down through bpm.Close in the cleanup.
func setupPool(t *testing.T, poolSize, k int) (*BufferPoolManager, *testDiskManager) {
	t.Helper()
	fake := newTestDiskManager()
	bpm := NewBufferPoolManager(poolSize, k, fake, zap.NewNop(), nil)
	t.Cleanup(func() { _ = bpm.Close() })
	return bpm, fake
}

// isResident reports whether pageID currently occupies some frame.
func isResident(bpm *BufferPoolManager, pageID pagemanager.PageID) bool {
	for _, page := range bpm.GetPages() {
		if page.GetPageID() == pageID {
			return true
		}
	}
	return false
}

// TestBufferPoolManager_BasicPinUnpin fills a ten-frame pool with new
// pages, checks exhaustion, then frees one frame with an unpin and
// allocates once more.
func TestBufferPoolManager_BasicPinUnpin(t *testing.T) {
	bpm, _ := setupPool(t, 10, 5)

	for i := 0; i < 10; i++ {
		page, pid, err := bpm.NewPage()
		require.NoError(t, err)
		require.Equal(t, pagemanager.PageID(i), pid)
		require.Equal(t, 1, page.GetPinCount())
	}

	_, _, err := bpm.NewPage()
	require.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)

	require.NoError(t, bpm.UnpinPage(0, true, pagemanager.AccessUnknown))

	_, pid, err := bpm.NewPage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(10), pid)
}

// TestBufferPoolManager_LRUKEvictionOrder reproduces the LRU-K scenario:
// with k=2, pages touched only once keep infinite k-distance and are
// evicted first, oldest single access first.
func TestBufferPoolManager_LRUKEvictionOrder(t *testing.T) {
	bpm, _ := setupPool(t, 7, 2)

	for i := 0; i < 7; i++ {
		_, pid, err := bpm.NewPage()
		require.NoError(t, err)
		require.Equal(t, pagemanager.PageID(i), pid)
		require.NoError(t, bpm.UnpinPage(pid, false, pagemanager.AccessUnknown))
	}

	// Touch pages 0..4 twice more each; pages 5 and 6 stay at one access.
	for round := 0; round < 2; round++ {
		for i := 0; i < 5; i++ {
			pid := pagemanager.PageID(i)
			_, err := bpm.FetchPage(pid, pagemanager.AccessUnknown)
			require.NoError(t, err)
			require.NoError(t, bpm.UnpinPage(pid, false, pagemanager.AccessUnknown))
		}
	}

	// The next miss must evict page 5 (the older of the two single-access
	// pages), then page 6.
	_, _, err := bpm.NewPage()
	require.NoError(t, err)
	require.False(t, isResident(bpm, 5))
	require.True(t, isResident(bpm, 6))

	_, _, err = bpm.NewPage()
	require.NoError(t, err)
	require.False(t, isResident(bpm, 6))
}

// TestBufferPoolManager_DirtyWriteBack runs a pool of one frame through a
// dirty eviction and checks the scheduler observed exactly one write of the
// old page followed by one read of the refetched page.
func TestBufferPoolManager_DirtyWriteBack(t *testing.T) {
	bpm, fake := setupPool(t, 1, 1)

	page, p0, err := bpm.NewPage()
	require.NoError(t, err)
	for i := range page.GetData() {
		page.GetData()[i] = 0xAB
	}
	require.NoError(t, bpm.UnpinPage(p0, true, pagemanager.AccessUnknown))

	// Allocating the next page evicts p0 and writes it back.
	_, p1, err := bpm.NewPage()
	require.NoError(t, err)
	require.NoError(t, bpm.UnpinPage(p1, false, pagemanager.AccessUnknown))
	require.Equal(t, []string{"write(0)"}, fake.opLog())

	// Refetching p0 evicts the clean p1 (no write) and reads p0 back with
	// the bytes intact.
	page, err = bpm.FetchPage(p0, pagemanager.AccessUnknown)
	require.NoError(t, err)
	require.Equal(t, []string{"write(0)", "read(0)"}, fake.opLog())
	for _, b := range page.GetData() {
		require.Equal(t, byte(0xAB), b)
	}
}

// TestBufferPoolManager_DeleteWhilePinned checks a pinned page cannot be
// deleted and remains resident.
func TestBufferPoolManager_DeleteWhilePinned(t *testing.T) {
	bpm, _ := setupPool(t, 3, 2)

	_, pid, err := bpm.NewPage()
	require.NoError(t, err)

	require.ErrorIs(t, bpm.DeletePage(pid), flushmanager.ErrPagePinned)
	require.True(t, isResident(bpm, pid))
}

// TestBufferPoolManager_DeleteThenReallocate deletes an unpinned page and
// checks the next allocation hands out a fresh identifier while the frame
// itself may be reused.
func TestBufferPoolManager_DeleteThenReallocate(t *testing.T) {
	bpm, _ := setupPool(t, 3, 2)

	_, pid, err := bpm.NewPage()
	require.NoError(t, err)
	require.NoError(t, bpm.UnpinPage(pid, false, pagemanager.AccessUnknown))
	require.NoError(t, bpm.DeletePage(pid))
	require.False(t, isResident(bpm, pid))

	// Deleting a non-resident page succeeds unchanged.
	require.NoError(t, bpm.DeletePage(pid))

	_, next, err := bpm.NewPage()
	require.NoError(t, err)
	require.NotEqual(t, pid, next)
	require.Greater(t, int32(next), int32(pid))
}

// TestBufferPoolManager_UnpinEdgeCases covers unknown pages, double unpin
// and the dirty flag OR-merge.
func TestBufferPoolManager_UnpinEdgeCases(t *testing.T) {
	bpm, _ := setupPool(t, 2, 2)

	require.ErrorIs(t, bpm.UnpinPage(42, false, pagemanager.AccessUnknown), flushmanager.ErrPageNotFound)

	page, pid, err := bpm.NewPage()
	require.NoError(t, err)

	require.NoError(t, bpm.UnpinPage(pid, true, pagemanager.AccessUnknown))
	require.Equal(t, 0, page.GetPinCount())

	// A second unpin fails and must not underflow the pin count.
	require.Error(t, bpm.UnpinPage(pid, false, pagemanager.AccessUnknown))
	require.Equal(t, 0, page.GetPinCount())

	// The dirty flag from the successful unpin is still set; the failed
	// unpin changed no state.
	require.True(t, page.IsDirty())
}

// TestBufferPoolManager_FetchHitBumpsPin fetches a resident page and checks
// every successful fetch adds a pin, so the frame only becomes evictable
// after a matching number of unpins.
func TestBufferPoolManager_FetchHitBumpsPin(t *testing.T) {
	bpm, _ := setupPool(t, 2, 2)

	page, pid, err := bpm.NewPage()
	require.NoError(t, err)

	fetched, err := bpm.FetchPage(pid, pagemanager.AccessUnknown)
	require.NoError(t, err)
	require.Same(t, page, fetched)
	require.Equal(t, 2, page.GetPinCount())

	require.NoError(t, bpm.UnpinPage(pid, false, pagemanager.AccessUnknown))
	require.Equal(t, 0, bpm.replacer.Size(), "still pinned, not evictable")

	require.NoError(t, bpm.UnpinPage(pid, false, pagemanager.AccessUnknown))
	require.Equal(t, 1, bpm.replacer.Size())
}

// TestBufferPoolManager_FlushPage covers argument validation, dirty flag
// clearing and idempotence of explicit flushes.
func TestBufferPoolManager_FlushPage(t *testing.T) {
	bpm, fake := setupPool(t, 2, 2)

	require.ErrorIs(t, bpm.FlushPage(pagemanager.InvalidPageID), flushmanager.ErrInvalidPageID)
	require.ErrorIs(t, bpm.FlushPage(7), flushmanager.ErrPageNotFound)

	page, pid, err := bpm.NewPage()
	require.NoError(t, err)
	page.GetData()[0] = 0x11
	page.SetDirty(true)

	require.NoError(t, bpm.FlushPage(pid))
	require.False(t, page.IsDirty())
	require.Equal(t, 1, page.GetPinCount(), "flush leaves the pin count alone")

	// Flushing again without an intervening write is equivalent: the same
	// bytes land on disk.
	require.NoError(t, bpm.FlushPage(pid))
	require.Equal(t, []string{"write(0)", "write(0)"}, fake.opLog())

	stored := fake.pages[pid]
	require.Equal(t, byte(0x11), stored[0])
}

// TestBufferPoolManager_FlushAllPages flushes three resident pages and
// checks each one reached the disk, in no particular order.
func TestBufferPoolManager_FlushAllPages(t *testing.T) {
	bpm, fake := setupPool(t, 3, 2)

	for i := 0; i < 3; i++ {
		page, pid, err := bpm.NewPage()
		require.NoError(t, err)
		page.GetData()[0] = byte(i)
		require.NoError(t, bpm.UnpinPage(pid, true, pagemanager.AccessUnknown))
	}

	require.NoError(t, bpm.FlushAllPages())

	got := fake.opLog()
	sort.Strings(got)
	require.Equal(t, []string{"write(0)", "write(1)", "write(2)"}, got)
}

// TestBufferPoolManager_PoolOfOne checks the smallest pool: one pinned page
// blocks both allocation and fetches of other pages.
func TestBufferPoolManager_PoolOfOne(t *testing.T) {
	bpm, _ := setupPool(t, 1, 1)

	_, pid, err := bpm.NewPage()
	require.NoError(t, err)

	_, _, err = bpm.NewPage()
	require.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)

	_, err = bpm.FetchPage(pid+1, pagemanager.AccessUnknown)
	require.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)

	// Refetching the resident page is a hit and still works.
	_, err = bpm.FetchPage(pid, pagemanager.AccessUnknown)
	require.NoError(t, err)
}

// TestBufferPoolManager_RoundTripThroughEviction writes a recognizable
// pattern, cycles the page out through eviction and back in, and checks
// the bytes survived the disk round trip.
func TestBufferPoolManager_RoundTripThroughEviction(t *testing.T) {
	bpm, _ := setupPool(t, 2, 2)

	page, pid, err := bpm.NewPage()
	require.NoError(t, err)
	for i := range page.GetData() {
		page.GetData()[i] = byte(i % 251)
	}
	require.NoError(t, bpm.UnpinPage(pid, true, pagemanager.AccessUnknown))

	// Churn enough new pages through the pool to force pid out.
	for i := 0; i < 4; i++ {
		_, churn, err := bpm.NewPage()
		require.NoError(t, err)
		require.NoError(t, bpm.UnpinPage(churn, false, pagemanager.AccessUnknown))
	}
	require.False(t, isResident(bpm, pid))

	page, err = bpm.FetchPage(pid, pagemanager.AccessUnknown)
	require.NoError(t, err)
	for i, b := range page.GetData() {
		require.Equal(t, byte(i%251), b)
	}
}

// TestBufferPoolManager_Invariants runs a mixed workload and then checks
// the structural invariants: every frame is free or resident but not both,
// resident frames agree with the page table, and the replacer's evictable
// count matches the unpinned resident frames.
func TestBufferPoolManager_Invariants(t *testing.T) {
	bpm, _ := setupPool(t, 8, 3)

	var pids []pagemanager.PageID
	for i := 0; i < 12; i++ {
		_, pid, err := bpm.NewPage()
		if errors.Is(err, flushmanager.ErrBufferPoolFull) {
			break
		}
		require.NoError(t, err)
		pids = append(pids, pid)
		if i%2 == 0 {
			require.NoError(t, bpm.UnpinPage(pid, i%4 == 0, pagemanager.AccessUnknown))
		}
	}
	require.NoError(t, bpm.DeletePage(pids[0]))

	resident := 0
	unpinnedResident := 0
	for fid, page := range bpm.GetPages() {
		if page.GetPageID() == pagemanager.InvalidPageID {
			require.Equal(t, 0, page.GetPinCount())
			require.False(t, page.IsDirty())
			continue
		}
		resident++
		if page.GetPinCount() == 0 {
			unpinnedResident++
		}
		// The page table must map this frame's resident page back to it.
		got, ok := bpm.pageTable[page.GetPageID()]
		require.True(t, ok)
		require.Equal(t, pagemanager.FrameID(fid), got)
	}
	require.Equal(t, len(bpm.pageTable), resident)
	require.Equal(t, resident+bpm.freeList.Len(), bpm.GetPoolSize())
	require.Equal(t, unpinnedResident, bpm.replacer.Size())
}

// TestBufferPoolManager_PageIDsStrictlyIncrease allocates across deletes
// and checks identifiers never repeat or regress.
func TestBufferPoolManager_PageIDsStrictlyIncrease(t *testing.T) {
	bpm, _ := setupPool(t, 2, 2)

	last := pagemanager.PageID(-1)
	for i := 0; i < 6; i++ {
		_, pid, err := bpm.NewPage()
		require.NoError(t, err)
		require.Greater(t, int32(pid), int32(last))
		last = pid
		require.NoError(t, bpm.UnpinPage(pid, false, pagemanager.AccessUnknown))
		require.NoError(t, bpm.DeletePage(pid))
	}
}
