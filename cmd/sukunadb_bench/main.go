package main

import (
	"context"
	"encoding/binary"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	bufferpool "github.com/sushant-115/sukunadb/core/storage_engine/buffer_pool"
	flushmanager "github.com/sushant-115/sukunadb/core/storage_engine/flush_manager"
	pagemanager "github.com/sushant-115/sukunadb/core/storage_engine/page_manager"
	internaltelemetry "github.com/sushant-115/sukunadb/internal/telemetry"
	"github.com/sushant-115/sukunadb/pkg/logger"
	"github.com/sushant-115/sukunadb/pkg/telemetry"
)

const (
	poolSize  = 128
	replacerK = 4
	numPages  = 2000
	readers   = 10
)

func main() {
	baseDataDir, err := os.MkdirTemp("", "sukunadb-bench")
	if err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}
	defer os.RemoveAll(baseDataDir)
	dbPath := filepath.Join(baseDataDir, "bench.db")

	zlogger, _ := logger.New(logger.Config{Level: "info", Format: "console"})
	defer zlogger.Sync()

	tel, shutdownTelemetry, err := telemetry.New(telemetry.Config{
		Enabled:        true,
		ServiceName:    "sukunadb_bench",
		PrometheusPort: 9464,
	})
	if err != nil {
		zlogger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTelemetry(context.Background())

	metrics, err := internaltelemetry.NewBufferPoolMetrics(tel.Meter)
	if err != nil {
		zlogger.Fatal("failed to register buffer pool metrics", zap.Error(err))
	}

	diskManager, err := flushmanager.NewFileDiskManager(dbPath, true, zlogger)
	if err != nil {
		zlogger.Fatal("failed to create disk manager", zap.Error(err))
	}
	defer diskManager.Close()

	bpm := bufferpool.NewBufferPoolManager(poolSize, replacerK, diskManager, zlogger, metrics)
	flusher := bpm.StartBackgroundFlusher(bufferpool.FlusherConfig{
		Interval:        100 * time.Millisecond,
		RateBytesPerSec: 8 << 20,
	})

	start := time.Now()
	pids := write(bpm, zlogger)
	zlogger.Info("Write phase complete",
		zap.Int("pages", len(pids)),
		zap.Duration("elapsed", time.Since(start)),
	)

	start = time.Now()
	read(bpm, pids, zlogger)
	zlogger.Info("Read phase complete", zap.Duration("elapsed", time.Since(start)))

	flusher.Stop()
	if err := bpm.Close(); err != nil {
		zlogger.Error("failed to close buffer pool", zap.Error(err))
	}
}

// write creates numPages pages, stamps each with its own id and unpins it
// dirty, forcing steady eviction traffic once the pool fills up.
func write(bpm *bufferpool.BufferPoolManager, zlogger *zap.Logger) []pagemanager.PageID {
	pids := make([]pagemanager.PageID, 0, numPages)
	for i := 0; i < numPages; i++ {
		guard, pid, err := bpm.NewPageGuarded()
		if err != nil {
			zlogger.Fatal("NewPage failed", zap.Error(err))
		}
		binary.LittleEndian.PutUint32(guard.GetDataMut(), uint32(pid))
		guard.Drop()
		pids = append(pids, pid)
	}
	return pids
}

// read fetches every page back through read guards from a pool of worker
// goroutines and verifies the stamp survived eviction and reload.
func read(bpm *bufferpool.BufferPoolManager, pids []pagemanager.PageID, zlogger *zap.Logger) {
	wg := sync.WaitGroup{}
	sem := make(chan struct{}, readers)
	for _, pid := range pids {
		sem <- struct{}{}
		wg.Add(1)
		go func(pid pagemanager.PageID) {
			defer wg.Done()
			defer func() { <-sem }()
			guard, err := bpm.FetchPageRead(pid)
			if err != nil {
				zlogger.Error("FetchPageRead failed", zap.Int32("page_id", int32(pid)), zap.Error(err))
				return
			}
			defer guard.Drop()
			if got := pagemanager.PageID(binary.LittleEndian.Uint32(guard.GetData())); got != pid {
				zlogger.Error("Stamp mismatch",
					zap.Int32("want", int32(pid)),
					zap.Int32("got", int32(got)),
				)
			}
		}(pid)
	}
	wg.Wait()
}
