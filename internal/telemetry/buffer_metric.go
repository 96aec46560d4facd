package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// BufferPoolMetrics holds all the metric instruments for the buffer pool.
type BufferPoolMetrics struct {
	HitsCounter        metric.Int64Counter
	MissesCounter      metric.Int64Counter
	EvictionsCounter   metric.Int64Counter
	WritebacksCounter  metric.Int64Counter
	FlushesCounter     metric.Int64Counter
	PinnedFramesUpDown metric.Int64UpDownCounter
}

// NewBufferPoolMetrics creates and registers all the metrics for the buffer pool.
func NewBufferPoolMetrics(meter metric.Meter) (*BufferPoolMetrics, error) {
	hitsCounter, err := meter.Int64Counter(
		"sukunadb.buffer_pool.hits_total",
		metric.WithDescription("Total number of page requests served from the pool."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	missesCounter, err := meter.Int64Counter(
		"sukunadb.buffer_pool.misses_total",
		metric.WithDescription("Total number of page requests that went to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictionsCounter, err := meter.Int64Counter(
		"sukunadb.buffer_pool.evictions_total",
		metric.WithDescription("Total number of frames reclaimed from the replacer."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writebacksCounter, err := meter.Int64Counter(
		"sukunadb.buffer_pool.writebacks_total",
		metric.WithDescription("Total number of dirty pages written back on eviction."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushesCounter, err := meter.Int64Counter(
		"sukunadb.buffer_pool.flushes_total",
		metric.WithDescription("Total number of explicit page flushes."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinnedFramesUpDown, err := meter.Int64UpDownCounter(
		"sukunadb.buffer_pool.pinned_frames",
		metric.WithDescription("Number of pins currently held by callers."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &BufferPoolMetrics{
		HitsCounter:        hitsCounter,
		MissesCounter:      missesCounter,
		EvictionsCounter:   evictionsCounter,
		WritebacksCounter:  writebacksCounter,
		FlushesCounter:     flushesCounter,
		PinnedFramesUpDown: pinnedFramesUpDown,
	}, nil
}
