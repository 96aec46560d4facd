package bufferpool

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	flushmanager "github.com/sushant-115/sukunadb/core/storage_engine/flush_manager"
	pagemanager "github.com/sushant-115/sukunadb/core/storage_engine/page_manager"
	internaltelemetry "github.com/sushant-115/sukunadb/internal/telemetry"
)

// BufferPoolManager presents a fixed-capacity cache of PageSize frames keyed
// by page id, with pinning, LRU-K eviction and write-back through the disk
// scheduler.
//
// One coarse latch protects the page table, the free list, pin counts and
// dirty flags, and is held for the whole duration of every public operation,
// including while blocking on scheduler completions. This serializes I/O
// through the pool and guarantees no concurrent evictor can touch a frame
// undergoing I/O. Lock order is always pool latch, then replacer latch.
type BufferPoolManager struct {
	poolSize  int
	pages     []*pagemanager.Page
	pageTable map[pagemanager.PageID]pagemanager.FrameID
	freeList  *list.List // of pagemanager.FrameID
	replacer  *LRUKReplacer
	scheduler *flushmanager.DiskScheduler

	nextPageID pagemanager.PageID
	mu         sync.Mutex

	logger  *zap.Logger
	metrics *internaltelemetry.BufferPoolMetrics
}

// NewBufferPoolManager creates a pool of poolSize frames over the given disk
// manager, owning a freshly spawned disk scheduler. metrics may be nil, in
// which case the pool records nothing.
func NewBufferPoolManager(poolSize, replacerK int, diskManager flushmanager.DiskManager,
	logger *zap.Logger, metrics *internaltelemetry.BufferPoolMetrics) *BufferPoolManager {
	bpm := &BufferPoolManager{
		poolSize:  poolSize,
		pages:     make([]*pagemanager.Page, poolSize),
		pageTable: make(map[pagemanager.PageID]pagemanager.FrameID),
		freeList:  list.New(),
		replacer:  NewLRUKReplacer(poolSize, replacerK),
		scheduler: flushmanager.NewDiskScheduler(diskManager, logger),
		logger:    logger.Named("buffer_pool"),
		metrics:   metrics,
	}
	// Initially, every frame is in the free list, in ascending order.
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage()
		bpm.freeList.PushBack(pagemanager.FrameID(i))
	}
	bpm.logger.Info("Buffer pool initialized",
		zap.Int("pool_size", poolSize),
		zap.Int("replacer_k", replacerK),
	)
	return bpm
}

// NewPage allocates a fresh page id, installs it in a frame, pins it once
// and returns the frame. Fails with ErrBufferPoolFull when the free list is
// empty and no frame is evictable.
func (bpm *BufferPoolManager) NewPage() (*pagemanager.Page, pagemanager.PageID, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	fid, err := bpm.acquireFrame()
	if err != nil {
		return nil, pagemanager.InvalidPageID, err
	}

	pid := bpm.allocatePage()
	page := bpm.pages[fid]
	bpm.pageTable[pid] = fid
	page.SetPageID(pid)
	page.SetPinCount(1)
	bpm.replacer.RecordAccess(fid, pagemanager.AccessUnknown)
	bpm.replacer.SetEvictable(fid, false)
	bpm.addPinned(1)

	bpm.logger.Debug("Allocated new page",
		zap.Int32("page_id", int32(pid)),
		zap.Int32("frame_id", int32(fid)),
	)
	return page, pid, nil
}

// FetchPage returns the requested page pinned once more, reading it from
// disk if it is not resident. Fails with ErrBufferPoolFull when no frame can
// be found for a miss.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID, accessType pagemanager.AccessType) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if pageID == pagemanager.InvalidPageID {
		return nil, fmt.Errorf("%w: fetch of page %d", flushmanager.ErrInvalidPageID, pageID)
	}

	if fid, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[fid]
		page.Pin()
		bpm.replacer.RecordAccess(fid, accessType)
		bpm.replacer.SetEvictable(fid, false)
		bpm.countHit()
		bpm.addPinned(1)
		return page, nil
	}

	bpm.countMiss()
	fid, err := bpm.acquireFrame()
	if err != nil {
		return nil, err
	}

	page := bpm.pages[fid]
	bpm.pageTable[pageID] = fid
	page.SetPageID(pageID)
	page.SetPinCount(1)
	bpm.replacer.RecordAccess(fid, accessType)
	bpm.replacer.SetEvictable(fid, false)

	// Pin before read so the frame cannot be reclaimed while the scheduler
	// works on it.
	callback := bpm.scheduler.CreatePromise()
	if err := bpm.scheduler.Schedule(&flushmanager.DiskRequest{
		IsWrite:  false,
		Data:     page.GetData(),
		PageID:   pageID,
		Callback: callback,
	}); err != nil {
		bpm.abortInstall(pageID, fid)
		return nil, err
	}
	if ok := <-callback; !ok {
		bpm.abortInstall(pageID, fid)
		return nil, fmt.Errorf("%w: reading page %d", flushmanager.ErrIO, pageID)
	}

	bpm.addPinned(1)
	bpm.logger.Debug("Fetched page from disk",
		zap.Int32("page_id", int32(pageID)),
		zap.Int32("frame_id", int32(fid)),
	)
	return page, nil
}

// UnpinPage drops one pin from the resident page, OR-merging isDirty into
// the frame's dirty flag. When the pin count reaches zero the frame becomes
// evictable. Unpinning an unknown page or a page with no pins fails without
// any state change; the dirty flag is not merged in that case either.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool, _ pagemanager.AccessType) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	fid, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to unpin", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[fid]
	if page.GetPinCount() <= 0 {
		return fmt.Errorf("cannot unpin page %d with pin count 0", pageID)
	}
	if isDirty {
		page.SetDirty(true)
	}

	page.Unpin()
	bpm.addPinned(-1)
	if page.GetPinCount() == 0 {
		bpm.replacer.SetEvictable(fid, true)
	}
	return nil
}

// FlushPage writes the resident page to disk synchronously and clears its
// dirty flag, regardless of pin count or dirtiness.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.flushPageLocked(pageID)
}

// flushPageLocked is FlushPage with the pool latch already held.
func (bpm *BufferPoolManager) flushPageLocked(pageID pagemanager.PageID) error {
	if pageID == pagemanager.InvalidPageID {
		return fmt.Errorf("%w: flush of page %d", flushmanager.ErrInvalidPageID, pageID)
	}
	fid, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to flush", flushmanager.ErrPageNotFound, pageID)
	}

	page := bpm.pages[fid]
	if err := bpm.scheduler.FlushPage(pageID, page.GetData()); err != nil {
		return err
	}
	page.SetDirty(false)
	bpm.countFlush()
	return nil
}

// FlushAllPages flushes every resident page. Order is unspecified. All pages
// are attempted; the first error encountered is returned.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	for pid := range bpm.pageTable {
		if err := bpm.flushPageLocked(pid); err != nil {
			bpm.logger.Error("Failed to flush page",
				zap.Int32("page_id", int32(pid)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// DeletePage evicts the page from the pool and returns its frame to the free
// list. Deleting a non-resident page succeeds; deleting a pinned page fails
// with ErrPagePinned. The page id is not reused.
func (bpm *BufferPoolManager) DeletePage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	fid, ok := bpm.pageTable[pageID]
	if !ok {
		return nil
	}
	page := bpm.pages[fid]
	if page.GetPinCount() > 0 {
		return fmt.Errorf("%w: page %d has pin count %d", flushmanager.ErrPagePinned, pageID, page.GetPinCount())
	}

	delete(bpm.pageTable, pageID)
	page.Reset()
	bpm.replacer.Remove(fid)
	bpm.freeList.PushBack(fid)

	bpm.logger.Debug("Deleted page",
		zap.Int32("page_id", int32(pageID)),
		zap.Int32("frame_id", int32(fid)),
	)
	return nil
}

// GetPoolSize returns the number of frames in the pool.
func (bpm *BufferPoolManager) GetPoolSize() int {
	return bpm.poolSize
}

// GetPages returns the pool's frame array.
func (bpm *BufferPoolManager) GetPages() []*pagemanager.Page {
	return bpm.pages
}

// Close flushes every resident page and shuts down the disk scheduler.
func (bpm *BufferPoolManager) Close() error {
	err := bpm.FlushAllPages()
	bpm.scheduler.Close()
	return err
}

// allocatePage hands out the next page id. Ids are strictly increasing and
// never reused within one pool lifetime.
func (bpm *BufferPoolManager) allocatePage() pagemanager.PageID {
	pid := bpm.nextPageID
	bpm.nextPageID++
	return pid
}

// acquireFrame finds a frame for a new resident page: free list first,
// replacer victim second. A dirty victim is written back through the
// scheduler, blocking on completion, before the frame is reset and its old
// page table entry removed. Must be called with the pool latch held.
func (bpm *BufferPoolManager) acquireFrame() (pagemanager.FrameID, error) {
	var fid pagemanager.FrameID
	fromReplacer := false

	if bpm.freeList.Len() > 0 {
		fid = bpm.freeList.Remove(bpm.freeList.Front()).(pagemanager.FrameID)
	} else {
		victim, ok := bpm.replacer.Evict()
		if !ok {
			return 0, fmt.Errorf("%w: all %d frames pinned", flushmanager.ErrBufferPoolFull, bpm.poolSize)
		}
		fid = victim
		fromReplacer = true
		bpm.countEviction()
	}

	page := bpm.pages[fid]
	if page.IsDirty() {
		callback := bpm.scheduler.CreatePromise()
		err := bpm.scheduler.Schedule(&flushmanager.DiskRequest{
			IsWrite:  true,
			Data:     page.GetData(),
			PageID:   page.GetPageID(),
			Callback: callback,
		})
		if err == nil && !<-callback {
			err = fmt.Errorf("%w: writing back page %d", flushmanager.ErrIO, page.GetPageID())
		}
		if err != nil {
			// The victim keeps its frame; put it back under the replacer's
			// control so a later call can retry.
			if fromReplacer {
				bpm.replacer.RecordAccess(fid, pagemanager.AccessUnknown)
				bpm.replacer.SetEvictable(fid, true)
			}
			bpm.logger.Error("Write-back of victim failed",
				zap.Int32("page_id", int32(page.GetPageID())),
				zap.Error(err),
			)
			return 0, err
		}
		page.SetDirty(false)
		bpm.countWriteback()
	}

	if page.GetPageID() != pagemanager.InvalidPageID {
		delete(bpm.pageTable, page.GetPageID())
	}
	page.Reset()
	return fid, nil
}

// abortInstall rolls back a failed fetch-miss installation: the page table
// entry is removed, the frame is reset and pushed onto the free list, and
// the replacer forgets the frame. Must be called with the pool latch held.
func (bpm *BufferPoolManager) abortInstall(pageID pagemanager.PageID, fid pagemanager.FrameID) {
	delete(bpm.pageTable, pageID)
	bpm.pages[fid].Reset()
	bpm.replacer.Remove(fid)
	bpm.freeList.PushBack(fid)
}

func (bpm *BufferPoolManager) countHit() {
	if bpm.metrics != nil {
		bpm.metrics.HitsCounter.Add(context.Background(), 1)
	}
}

func (bpm *BufferPoolManager) countMiss() {
	if bpm.metrics != nil {
		bpm.metrics.MissesCounter.Add(context.Background(), 1)
	}
}

func (bpm *BufferPoolManager) countEviction() {
	if bpm.metrics != nil {
		bpm.metrics.EvictionsCounter.Add(context.Background(), 1)
	}
}

func (bpm *BufferPoolManager) countWriteback() {
	if bpm.metrics != nil {
		bpm.metrics.WritebacksCounter.Add(context.Background(), 1)
	}
}

func (bpm *BufferPoolManager) countFlush() {
	if bpm.metrics != nil {
		bpm.metrics.FlushesCounter.Add(context.Background(), 1)
	}
}

func (bpm *BufferPoolManager) addPinned(delta int64) {
	if bpm.metrics != nil {
		bpm.metrics.PinnedFramesUpDown.Add(context.Background(), delta)
	}
}
