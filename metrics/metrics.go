package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MetricsCollector tracks per-worker sampling work and process memory
type MetricsCollector struct {
	mutex     sync.RWMutex
	runID     uuid.UUID
	startTime time.Time      // time when collection started
	endTime   time.Time      // time when collection stopped
	workers   map[int]Worker // rank -> recorded work

	// Go-specific metrics
	memoryUsage   []MemorySnapshot
	gcStats       []GCSnapshot
	numCPU        int
	maxGoroutines int
}

// Worker is the work one rank did between the broadcast and the reduction
type Worker struct {
	Rank             int           `json:"rank"`
	Samples          int64         `json:"samples"`
	Elapsed          time.Duration `json:"elapsed"`
	SamplesPerSecond float64       `json:"samples_per_second"`
}

// MemorySnapshot captures memory usage at a point in time
type MemorySnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	HeapAlloc    uint64    `json:"heap_alloc"`
	HeapSys      uint64    `json:"heap_sys"`
	HeapInuse    uint64    `json:"heap_inuse"`
	StackInuse   uint64    `json:"stack_inuse"`
	NumGoroutine int       `json:"num_goroutine"`
}

// GCSnapshot captures garbage collection statistics
type GCSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	NumGC        uint32    `json:"num_gc"`
	PauseTotalNs uint64    `json:"pause_total_ns"`
	LastPauseNs  uint64    `json:"last_pause_ns"`
}

// RunMetrics contains all collected performance data for one run
type RunMetrics struct {
	RunID            string           `json:"run_id"`
	Duration         time.Duration    `json:"duration"`
	TotalSamples     int64            `json:"total_samples"`
	SamplesPerSecond float64          `json:"samples_per_second"`
	Workers          []Worker         `json:"workers"`
	SlowestWorker    time.Duration    `json:"slowest_worker"`
	FastestWorker    time.Duration    `json:"fastest_worker"`
	PeakMemoryUsage  uint64           `json:"peak_memory_usage"`
	MaxGoroutines    int              `json:"max_goroutines"`
	NumCPU           int              `json:"num_cpu"`
	TotalGCPauses    uint64           `json:"total_gc_pauses"`
	MemorySnapshots  []MemorySnapshot `json:"memory_snapshots"`
	GCSnapshots      []GCSnapshot     `json:"gc_snapshots"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime:   time.Now(),
		workers:     make(map[int]Worker),
		memoryUsage: make([]MemorySnapshot, 0, 64),
		gcStats:     make([]GCSnapshot, 0, 64),
		numCPU:      runtime.NumCPU(),
	}
}

// Start begins metrics collection
func (mc *MetricsCollector) Start() {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.startTime = time.Now()
}

// Stop ends metrics collection
func (mc *MetricsCollector) Stop() {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.endTime = time.Now()
}

// SetRunID tags the collected metrics with the run they belong to
func (mc *MetricsCollector) SetRunID(id uuid.UUID) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.runID = id
}

// RecordWorker records the samples one rank drew and how long it took
func (mc *MetricsCollector) RecordWorker(rank int, samples int64, elapsed time.Duration) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	w := Worker{Rank: rank, Samples: samples, Elapsed: elapsed}
	if elapsed > 0 {
		w.SamplesPerSecond = float64(samples) / elapsed.Seconds()
	}
	mc.workers[rank] = w
}

// TakeSnapshot captures current system state
func (mc *MetricsCollector) TakeSnapshot() {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	now := time.Now()
	numGoroutines := runtime.NumGoroutine()

	mc.memoryUsage = append(mc.memoryUsage, MemorySnapshot{
		Timestamp:    now,
		HeapAlloc:    memStats.HeapAlloc,
		HeapSys:      memStats.HeapSys,
		HeapInuse:    memStats.HeapInuse,
		StackInuse:   memStats.StackInuse,
		NumGoroutine: numGoroutines,
	})

	mc.gcStats = append(mc.gcStats, GCSnapshot{
		Timestamp:    now,
		NumGC:        memStats.NumGC,
		PauseTotalNs: memStats.PauseTotalNs,
		// last pause lives in a ring buffer of 256
		LastPauseNs: memStats.PauseNs[(memStats.NumGC+255)%256],
	})

	if numGoroutines > mc.maxGoroutines {
		mc.maxGoroutines = numGoroutines
	}
}

// GetMetrics returns aggregated metrics
func (mc *MetricsCollector) GetMetrics() RunMetrics {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	duration := mc.endTime.Sub(mc.startTime)
	if mc.endTime.IsZero() {
		duration = time.Since(mc.startTime)
	}

	workers := make([]Worker, 0, len(mc.workers))
	for _, w := range mc.workers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Rank < workers[j].Rank })

	var total int64
	var slowest, fastest time.Duration
	for i, w := range workers {
		total += w.Samples
		if w.Elapsed > slowest {
			slowest = w.Elapsed
		}
		if i == 0 || w.Elapsed < fastest {
			fastest = w.Elapsed
		}
	}

	var peakMemory uint64
	for _, snapshot := range mc.memoryUsage {
		if snapshot.HeapAlloc > peakMemory {
			peakMemory = snapshot.HeapAlloc
		}
	}

	var totalGCPauses uint64
	if len(mc.gcStats) > 0 {
		totalGCPauses = mc.gcStats[len(mc.gcStats)-1].PauseTotalNs
	}

	var rate float64
	if duration > 0 {
		rate = float64(total) / duration.Seconds()
	}

	runID := ""
	if mc.runID != uuid.Nil {
		runID = mc.runID.String()
	}

	return RunMetrics{
		RunID:            runID,
		Duration:         duration,
		TotalSamples:     total,
		SamplesPerSecond: rate,
		Workers:          workers,
		SlowestWorker:    slowest,
		FastestWorker:    fastest,
		PeakMemoryUsage:  peakMemory,
		MaxGoroutines:    mc.maxGoroutines,
		NumCPU:           mc.numCPU,
		TotalGCPauses:    totalGCPauses,
		MemorySnapshots:  mc.memoryUsage,
		GCSnapshots:      mc.gcStats,
	}
}

// ExportToJSON exports metrics to JSON format
func (mc *MetricsCollector) ExportToJSON() ([]byte, error) {
	return json.MarshalIndent(mc.GetMetrics(), "", "  ")
}

// PrintSummary writes a summary of the metrics to w
func (mc *MetricsCollector) PrintSummary(w io.Writer) {
	metrics := mc.GetMetrics()

	fmt.Fprintln(w, "\n========== SAMPLING METRICS SUMMARY ==========")
	if metrics.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", metrics.RunID)
	}
	fmt.Fprintf(w, "Duration: %v\n", metrics.Duration)
	fmt.Fprintf(w, "Total Samples: %d\n", metrics.TotalSamples)
	fmt.Fprintf(w, "Samples/Second: %.2f\n", metrics.SamplesPerSecond)
	for _, worker := range metrics.Workers {
		fmt.Fprintf(w, "  rank %-3d %12d samples in %v\n", worker.Rank, worker.Samples, worker.Elapsed)
	}
	fmt.Fprintf(w, "Slowest Worker: %v\n", metrics.SlowestWorker)
	fmt.Fprintf(w, "Peak Memory Usage: %.2f MB\n", float64(metrics.PeakMemoryUsage)/1024/1024)
	fmt.Fprintf(w, "Max Goroutines: %d\n", metrics.MaxGoroutines)
	fmt.Fprintf(w, "Number of CPUs: %d\n", metrics.NumCPU)
	fmt.Fprintf(w, "Total GC Pauses: %.2f ms\n", float64(metrics.TotalGCPauses)/1e6)
	fmt.Fprintln(w, "==============================================")
}
