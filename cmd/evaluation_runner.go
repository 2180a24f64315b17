package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"mc-integrate/evaluation"
	"mc-integrate/integrand"
)

type runnerOptions struct {
	outputDir     string
	fullBenchmark bool
	quickTest     bool
	scalability   bool
	selector      string
	samples       int64
	workers       int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &runnerOptions{}
	cmd := &cobra.Command{
		Use:   "evaluation_runner",
		Short: "Benchmark the Monte Carlo integrator across worker counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluation(cmd, opts)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.outputDir, "output", "evaluation_results", "output directory for results")
	flags.BoolVar(&opts.fullBenchmark, "full-benchmark", false, "run comprehensive benchmark suite")
	flags.BoolVar(&opts.quickTest, "quick", false, "run quick evaluation tests")
	flags.BoolVar(&opts.scalability, "scalability", false, "run scalability tests")
	flags.StringVarP(&opts.selector, "integrand", "P", "1", "integrand selector, 1 or 2")
	flags.Int64VarP(&opts.samples, "samples", "N", 10_000_000, "total sample count")
	flags.IntVarP(&opts.workers, "workers", "W", runtime.NumCPU(), "workers for the basic comparison")
	return cmd
}

func runEvaluation(cmd *cobra.Command, opts *runnerOptions) error {
	sel, err := integrand.Parse(opts.selector)
	if err != nil {
		return err
	}
	if opts.samples <= 0 {
		return fmt.Errorf("samples must be positive, got %d", opts.samples)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "========== Monte Carlo Integration Evaluation Runner ==========")

	if err := os.MkdirAll(opts.outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	switch {
	case opts.quickTest:
		err = runQuickEvaluation(cmd, opts, sel)
	case opts.scalability:
		err = runScalabilityEvaluation(cmd, opts, sel, []int{1, 2, 4, 8, 16})
	case opts.fullBenchmark:
		err = runFullBenchmarkSuite(cmd, opts, sel)
	default:
		err = runBasicComparison(cmd, opts, sel)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nEvaluation completed. Results saved to: %s\n", opts.outputDir)
	return nil
}

// runBasicComparison runs a basic concurrent vs sequential comparison
func runBasicComparison(cmd *cobra.Command, opts *runnerOptions, sel integrand.Selector) error {
	fmt.Fprintf(cmd.OutOrStdout(), "\n=== Running Basic Concurrency Comparison (%d workers) ===\n", opts.workers)

	comparison, err := evaluation.RunConcurrencyComparison(opts.workers, sel, opts.samples)
	if err != nil {
		return err
	}
	evaluation.PrintComparisonReport(cmd.OutOrStdout(), comparison)
	return saveJSON(cmd, opts, comparison, "basic_comparison.json")
}

// runQuickEvaluation runs small sample counts for rapid feedback
func runQuickEvaluation(cmd *cobra.Command, opts *runnerOptions, sel integrand.Selector) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n=== Running Quick Evaluation Tests ===")

	tests := []struct {
		name    string
		workers int
		samples int64
	}{
		{"Small", 2, 100_000},
		{"Medium", 4, 1_000_000},
		{"Large", 8, 5_000_000},
	}

	var results []evaluation.BenchmarkResult
	for _, test := range tests {
		fmt.Fprintf(out, "Running %s test (%d workers, %d samples)...\n", test.name, test.workers, test.samples)
		result, err := evaluation.RunConcurrentBenchmark(test.workers, sel, test.samples)
		if err != nil {
			return err
		}
		results = append(results, result)

		fmt.Fprintf(out, "  - Estimate: %.6g (error %.2e)\n", result.Estimate, result.AbsError)
		fmt.Fprintf(out, "  - Throughput: %.2f samples/sec\n", result.SamplesPerSecond)
	}
	return saveJSON(cmd, opts, results, "quick_evaluation.json")
}

// runScalabilityEvaluation runs the same integration across worker counts
func runScalabilityEvaluation(cmd *cobra.Command, opts *runnerOptions, sel integrand.Selector, counts []int) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n=== Running Scalability Evaluation ===")

	results, err := evaluation.RunScalabilityTest(counts, sel, opts.samples)
	if err != nil {
		return err
	}
	evaluation.PrintScalabilityTable(out, results)
	return saveJSON(cmd, opts, results, "scalability_evaluation.json")
}

// runFullBenchmarkSuite runs comparisons at several scales plus a scalability sweep
func runFullBenchmarkSuite(cmd *cobra.Command, opts *runnerOptions, sel integrand.Selector) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n=== Running Full Benchmark Suite ===")

	comparisons := make(map[string]evaluation.ConcurrencyComparison)
	scales := []struct {
		name    string
		samples int64
	}{
		{"Small", opts.samples / 100},
		{"Medium", opts.samples / 10},
		{"Large", opts.samples},
	}
	for _, scale := range scales {
		if scale.samples <= 0 {
			continue
		}
		fmt.Fprintf(out, "  Running %s scale (%d samples)...\n", scale.name, scale.samples)
		comparison, err := evaluation.RunConcurrencyComparison(opts.workers, sel, scale.samples)
		if err != nil {
			return err
		}
		comparisons[scale.name] = comparison
		fmt.Fprintf(out, "    Speedup: %.2fx, Efficiency: %.2f%%\n", comparison.SpeedupRatio, comparison.Efficiency)
	}

	counts := []int{1, 2, 3, 4, 6, 8, 12, 16}
	scalability, err := evaluation.RunScalabilityTest(counts, sel, opts.samples)
	if err != nil {
		return err
	}
	evaluation.PrintScalabilityTable(out, scalability)

	if err := saveJSON(cmd, opts, comparisons, "full_benchmark_comparison.json"); err != nil {
		return err
	}
	if err := saveJSON(cmd, opts, scalability, "full_benchmark_scalability.json"); err != nil {
		return err
	}
	return writeReport(cmd, opts, sel, comparisons, scalability)
}

// saveJSON writes v to a file in the output directory
func saveJSON(cmd *cobra.Command, opts *runnerOptions, v any, filename string) error {
	path := filepath.Join(opts.outputDir, filename)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filename, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Results saved to: %s\n", path)
	return nil
}

// createReport opens the report file; tests swap it out.
var createReport = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// writeReport creates a plain text report next to the JSON files
func writeReport(
	cmd *cobra.Command,
	opts *runnerOptions,
	sel integrand.Selector,
	comparisons map[string]evaluation.ConcurrencyComparison,
	scalability []evaluation.BenchmarkResult,
) error {
	reportPath := filepath.Join(opts.outputDir, "benchmark_report.txt")
	file, err := createReport(reportPath)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			file.Close()
		}
	}()

	fmt.Fprintf(file, "Monte Carlo Integration - Benchmark Report\n")
	fmt.Fprintf(file, "Generated: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(file, "Integrand: %v, exact value %.6f\n", sel, sel.Exact())
	fmt.Fprintf(file, "==========================================\n\n")

	fmt.Fprintf(file, "CONCURRENCY COMPARISON RESULTS\n")
	fmt.Fprintf(file, "------------------------------\n")
	for name, comp := range comparisons {
		fmt.Fprintf(file, "%s Scale:\n", name)
		fmt.Fprintf(file, "  Concurrent: %v, estimate %.6g\n", comp.ConcurrentResult.Duration, comp.ConcurrentResult.Estimate)
		fmt.Fprintf(file, "  Sequential: %v, estimate %.6g\n", comp.SequentialResult.Duration, comp.SequentialResult.Estimate)
		fmt.Fprintf(file, "  Speedup: %.2fx, Efficiency: %.2f%%\n\n", comp.SpeedupRatio, comp.Efficiency)
	}

	fmt.Fprintf(file, "SCALABILITY TEST RESULTS\n")
	fmt.Fprintf(file, "------------------------\n")
	evaluation.PrintScalabilityTable(file, scalability)
	if err := file.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	closed = true

	fmt.Fprintf(cmd.OutOrStdout(), "Comprehensive report saved to: %s\n", reportPath)
	return nil
}
