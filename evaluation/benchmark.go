package evaluation

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"mc-integrate/comm"
	"mc-integrate/integrand"
	"mc-integrate/metrics"
	"mc-integrate/simulation"
)

// BenchmarkResult contains the results of a benchmark run
type BenchmarkResult struct {
	Name             string        `json:"name"`
	Workers          int           `json:"workers"`
	Samples          int64         `json:"samples"`
	Estimate         float64       `json:"estimate"`
	AbsError         float64       `json:"abs_error"`
	Duration         time.Duration `json:"duration"`
	SamplesPerSecond float64       `json:"samples_per_second"`
	SlowestWorker    time.Duration `json:"slowest_worker"`
	PeakMemoryMB     float64       `json:"peak_memory_mb"`
	MaxGoroutines    int           `json:"max_goroutines"`
	GCPauseTimeMs    float64       `json:"gc_pause_time_ms"`
}

// ConcurrencyComparison compares a worker group against the single-process path
type ConcurrencyComparison struct {
	ConcurrentResult BenchmarkResult `json:"concurrent_result"`
	SequentialResult BenchmarkResult `json:"sequential_result"`
	SpeedupRatio     float64         `json:"speedup_ratio"`
	Efficiency       float64         `json:"efficiency"`
}

func samplesArgs(sel integrand.Selector, n int64) []string {
	return []string{"-P", strconv.Itoa(int(sel)), "-N", strconv.FormatInt(n, 10)}
}

// RunConcurrentBenchmark integrates with an in-process group of workers
func RunConcurrentBenchmark(workers int, sel integrand.Selector, n int64) (BenchmarkResult, error) {
	group, err := comm.NewGroup(workers)
	if err != nil {
		return BenchmarkResult{}, err
	}
	members := make([]comm.Communicator, len(group))
	for i, m := range group {
		members[i] = m
	}
	defer func() {
		for _, m := range group {
			m.Close()
		}
	}()

	collector := metrics.NewMetricsCollector()
	collector.Start()
	collector.TakeSnapshot()
	res, err := simulation.RunGroup(context.Background(), members, simulation.Options{
		Args:    samplesArgs(sel, n),
		Metrics: collector,
	})
	collector.TakeSnapshot()
	collector.Stop()
	if err != nil {
		return BenchmarkResult{}, err
	}

	return newResult(fmt.Sprintf("Concurrent_%d_workers", workers), res, collector.GetMetrics()), nil
}

// RunSequentialBenchmark integrates on the single-process path
func RunSequentialBenchmark(sel integrand.Selector, n int64) (BenchmarkResult, error) {
	collector := metrics.NewMetricsCollector()
	collector.Start()
	collector.TakeSnapshot()
	res, err := simulation.RunSolo(simulation.Options{
		Args:    samplesArgs(sel, n),
		Metrics: collector,
	})
	collector.TakeSnapshot()
	collector.Stop()
	if err != nil {
		return BenchmarkResult{}, err
	}

	return newResult("Sequential", res, collector.GetMetrics()), nil
}

func newResult(name string, res simulation.Result, m metrics.RunMetrics) BenchmarkResult {
	return BenchmarkResult{
		Name:             name,
		Workers:          res.Workers,
		Samples:          res.Params.Samples,
		Estimate:         res.Estimate,
		AbsError:         math.Abs(res.Estimate - res.Params.Selector.Exact()),
		Duration:         m.Duration,
		SamplesPerSecond: m.SamplesPerSecond,
		SlowestWorker:    m.SlowestWorker,
		PeakMemoryMB:     float64(m.PeakMemoryUsage) / 1024 / 1024,
		MaxGoroutines:    m.MaxGoroutines,
		GCPauseTimeMs:    float64(m.TotalGCPauses) / 1e6,
	}
}

// RunConcurrencyComparison runs both concurrent and sequential benchmarks
func RunConcurrencyComparison(workers int, sel integrand.Selector, n int64) (ConcurrencyComparison, error) {
	concurrent, err := RunConcurrentBenchmark(workers, sel, n)
	if err != nil {
		return ConcurrencyComparison{}, err
	}
	sequential, err := RunSequentialBenchmark(sel, n)
	if err != nil {
		return ConcurrencyComparison{}, err
	}

	speedup := 1.0
	if concurrent.Duration > 0 {
		speedup = sequential.Duration.Seconds() / concurrent.Duration.Seconds()
	}
	return ConcurrencyComparison{
		ConcurrentResult: concurrent,
		SequentialResult: sequential,
		SpeedupRatio:     speedup,
		Efficiency:       speedup / float64(workers) * 100,
	}, nil
}

// RunScalabilityTest runs the same integration across worker counts
func RunScalabilityTest(workerCounts []int, sel integrand.Selector, n int64) ([]BenchmarkResult, error) {
	results := make([]BenchmarkResult, 0, len(workerCounts))
	for _, count := range workerCounts {
		result, err := RunConcurrentBenchmark(count, sel, n)
		if err != nil {
			return results, fmt.Errorf("%d workers: %w", count, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// PrintComparisonReport writes a detailed comparison report
func PrintComparisonReport(w io.Writer, comparison ConcurrencyComparison) {
	fmt.Fprintf(w, "\n========== CONCURRENCY COMPARISON REPORT ==========\n")
	for _, r := range []BenchmarkResult{comparison.ConcurrentResult, comparison.SequentialResult} {
		fmt.Fprintf(w, "%s (%d workers):\n", r.Name, r.Workers)
		fmt.Fprintf(w, "  - Estimate: %s (error %.2e)\n", simulation.FormatEstimate(r.Estimate), r.AbsError)
		fmt.Fprintf(w, "  - Duration: %v\n", r.Duration)
		fmt.Fprintf(w, "  - Samples/Second: %.2f\n", r.SamplesPerSecond)
		fmt.Fprintf(w, "  - Peak Memory: %.2f MB\n", r.PeakMemoryMB)
		fmt.Fprintf(w, "  - GC Pause Time: %.2f ms\n", r.GCPauseTimeMs)
	}

	fmt.Fprintf(w, "\nComparison Results:\n")
	fmt.Fprintf(w, "  - Speedup Ratio: %.2fx\n", comparison.SpeedupRatio)
	fmt.Fprintf(w, "  - Parallel Efficiency: %.2f%%\n", comparison.Efficiency)
	fmt.Fprintf(w, "==================================================\n")
}

// PrintScalabilityTable writes one row per worker count
func PrintScalabilityTable(w io.Writer, results []BenchmarkResult) {
	fmt.Fprintf(w, "%-10s %-15s %-15s %-15s %-12s\n", "Workers", "Samples/Sec", "Slowest", "Estimate", "Error")
	for _, r := range results {
		fmt.Fprintf(w, "%-10d %-15.2f %-15v %-15s %-12.2e\n",
			r.Workers, r.SamplesPerSecond, r.SlowestWorker.Truncate(time.Microsecond),
			simulation.FormatEstimate(r.Estimate), r.AbsError)
	}
}
