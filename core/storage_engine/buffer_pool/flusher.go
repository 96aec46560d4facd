package bufferpool

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	flushmanager "github.com/sushant-115/sukunadb/core/storage_engine/flush_manager"
	pagemanager "github.com/sushant-115/sukunadb/core/storage_engine/page_manager"
)

const (
	defaultFlushInterval    = 200 * time.Millisecond
	defaultMaxPagesPerRound = 100
)

// FlusherConfig configures the background flusher.
type FlusherConfig struct {
	// Interval is the delay between flush rounds.
	Interval time.Duration `yaml:"interval"`
	// RateBytesPerSec throttles background writes. Zero disables throttling.
	RateBytesPerSec int64 `yaml:"rate_bytes_per_sec"`
	// MaxPagesPerRound caps how many pages one round may write.
	MaxPagesPerRound int `yaml:"max_pages_per_round"`
}

// BackgroundFlusher periodically writes out dirty, unpinned resident pages
// ahead of eviction, so a future victim is less likely to need a synchronous
// write-back on the fetch path. Writes go through FlushPage, so the pool
// latch is taken and released per page and all pool invariants hold
// throughout.
type BackgroundFlusher struct {
	bpm     *BufferPoolManager
	cfg     FlusherConfig
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *zap.Logger
}

// StartBackgroundFlusher spawns the flusher goroutine. Call Stop to shut it
// down.
func (bpm *BufferPoolManager) StartBackgroundFlusher(cfg FlusherConfig) *BackgroundFlusher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultFlushInterval
	}
	if cfg.MaxPagesPerRound <= 0 {
		cfg.MaxPagesPerRound = defaultMaxPagesPerRound
	}

	var limiter *rate.Limiter
	if cfg.RateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateBytesPerSec), pagemanager.PageSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bf := &BackgroundFlusher{
		bpm:     bpm,
		cfg:     cfg,
		limiter: limiter,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  bpm.logger.Named("flusher"),
	}
	go bf.run(ctx)
	return bf
}

// Stop cancels the flusher and waits for the goroutine to exit.
func (bf *BackgroundFlusher) Stop() {
	bf.cancel()
	<-bf.done
}

func (bf *BackgroundFlusher) run(ctx context.Context) {
	defer close(bf.done)

	ticker := time.NewTicker(bf.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bf.flushRound(ctx)
		}
	}
}

// flushRound snapshots the current dirty, unpinned pages and flushes them
// one at a time. A page that is evicted or deleted between the snapshot and
// its flush is skipped silently.
func (bf *BackgroundFlusher) flushRound(ctx context.Context) {
	candidates := bf.bpm.dirtyUnpinnedPages(bf.cfg.MaxPagesPerRound)
	written := 0
	for _, pid := range candidates {
		if bf.limiter != nil {
			if err := bf.limiter.WaitN(ctx, pagemanager.PageSize); err != nil {
				return
			}
		}
		if err := bf.bpm.FlushPage(pid); err != nil {
			if errors.Is(err, flushmanager.ErrPageNotFound) {
				continue
			}
			bf.logger.Warn("Background flush failed",
				zap.Int32("page_id", int32(pid)),
				zap.Error(err),
			)
			continue
		}
		written++
	}
	if written > 0 {
		bf.logger.Debug("Flush round complete", zap.Int("pages_written", written))
	}
}

// dirtyUnpinnedPages returns up to limit resident page ids that are dirty
// and unpinned at the time of the call.
func (bpm *BufferPoolManager) dirtyUnpinnedPages(limit int) []pagemanager.PageID {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var pids []pagemanager.PageID
	for pid, fid := range bpm.pageTable {
		page := bpm.pages[fid]
		if page.IsDirty() && page.GetPinCount() == 0 {
			pids = append(pids, pid)
			if len(pids) >= limit {
				break
			}
		}
	}
	return pids
}
