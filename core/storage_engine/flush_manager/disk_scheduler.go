package flushmanager

import (
	"container/list"
	"sync"

	"go.uber.org/zap"

	pagemanager "github.com/sushant-115/sukunadb/core/storage_engine/page_manager"
)

// DiskRequest represents one page read or write handed to the scheduler.
// Callback is resolved with true once the disk manager has completed the
// request, or false if the disk manager reported an error.
type DiskRequest struct {
	IsWrite  bool
	Data     []byte
	PageID   pagemanager.PageID
	Callback chan bool
}

// DiskScheduler serializes all page I/O through a single background worker.
// Callers enqueue requests with Schedule and block on the request's Callback
// when they need completion; requests are processed strictly in FIFO order
// with no reordering or coalescing.
type DiskScheduler struct {
	diskManager DiskManager
	logger      *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *list.List // of *DiskRequest; a nil entry is the shutdown poison
	closed bool

	workerDone chan struct{}
}

// NewDiskScheduler spawns the background worker and returns the scheduler.
func NewDiskScheduler(diskManager DiskManager, logger *zap.Logger) *DiskScheduler {
	ds := &DiskScheduler{
		diskManager: diskManager,
		logger:      logger.Named("disk_scheduler"),
		queue:       list.New(),
		workerDone:  make(chan struct{}),
	}
	ds.cond = sync.NewCond(&ds.mu)
	go ds.workerLoop()
	return ds
}

// CreatePromise returns a fresh one-shot completion channel for a request.
// The buffer of one lets the worker resolve it without blocking even when
// the scheduling caller has gone away.
func (ds *DiskScheduler) CreatePromise() chan bool {
	return make(chan bool, 1)
}

// Schedule enqueues a request. The queue is unbounded, so Schedule never
// blocks. Scheduling against a closed scheduler fails and the request's
// callback is resolved with false.
func (ds *DiskScheduler) Schedule(r *DiskRequest) error {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		if r.Callback != nil {
			r.Callback <- false
		}
		return ErrSchedulerDown
	}
	ds.queue.PushBack(r)
	ds.cond.Signal()
	ds.mu.Unlock()
	return nil
}

// FlushPage writes a page synchronously on the caller's thread, bypassing
// the queue. Used for explicit flushes where the caller already serializes
// against other I/O.
func (ds *DiskScheduler) FlushPage(pageID pagemanager.PageID, pageData []byte) error {
	return ds.diskManager.WritePage(pageID, pageData)
}

// Close enqueues the shutdown poison and joins the worker. Requests already
// queued ahead of the poison are still processed. Close is idempotent.
func (ds *DiskScheduler) Close() {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return
	}
	ds.closed = true
	ds.queue.PushBack((*DiskRequest)(nil))
	ds.cond.Signal()
	ds.mu.Unlock()

	<-ds.workerDone
}

// workerLoop drains the queue until it pops the shutdown poison. Individual
// request failures are resolved through the request's callback; the worker
// itself never stops on them.
func (ds *DiskScheduler) workerLoop() {
	defer close(ds.workerDone)

	for {
		ds.mu.Lock()
		for ds.queue.Len() == 0 {
			ds.cond.Wait()
		}
		r := ds.queue.Remove(ds.queue.Front()).(*DiskRequest)
		ds.mu.Unlock()

		if r == nil {
			ds.logger.Debug("Disk scheduler worker exiting")
			return
		}

		var err error
		if r.IsWrite {
			err = ds.diskManager.WritePage(r.PageID, r.Data)
		} else {
			err = ds.diskManager.ReadPage(r.PageID, r.Data)
		}
		if err != nil {
			ds.logger.Error("Disk request failed",
				zap.Bool("is_write", r.IsWrite),
				zap.Int32("page_id", int32(r.PageID)),
				zap.Error(err),
			)
		}
		if r.Callback != nil {
			r.Callback <- err == nil
		}
	}
}
