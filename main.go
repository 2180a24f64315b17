package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"mc-integrate/bootstrap"
	"mc-integrate/comm"
	"mc-integrate/metrics"
	"mc-integrate/params"
	"mc-integrate/simulation"
)

// exitInvalid is returned for rejected parameters on every rank.
const exitInvalid = -1

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := bootstrap.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	collector := metrics.NewMetricsCollector()
	collector.Start()
	opts := simulation.Options{
		Args:    args,
		Stderr:  stderr,
		Metrics: collector,
		Logger:  logger,

		JoinTimeout: cfg.DialTimeout,
	}

	var res simulation.Result
	if !cfg.Parallel() {
		res, err = simulation.RunSolo(opts)
	} else {
		res, err = runParallel(ctx, cfg, opts)
	}
	collector.TakeSnapshot()
	collector.Stop()

	if err != nil {
		return fail(err, cfg, stdout, stderr)
	}

	simulation.Report(stdout, res, cfg.Parallel())

	if res.Coordinator {
		if cfg.Verbose {
			collector.PrintSummary(stderr)
		}
		if cfg.Export != "" {
			if err := exportMetrics(collector, cfg.Export); err != nil {
				fmt.Fprintf(stderr, "Error exporting metrics: %v\n", err)
			}
		}
	}
	return 0
}

func runParallel(ctx context.Context, cfg bootstrap.Config, opts simulation.Options) (simulation.Result, error) {
	rt, err := bootstrap.Open(ctx, cfg, opts.Logger)
	if err != nil {
		return simulation.Result{}, err
	}
	defer rt.Finalize()

	if cfg.Transport == bootstrap.Local {
		return simulation.RunGroup(ctx, rt.Members, opts)
	}
	return simulation.Run(ctx, rt.Members[0], opts)
}

// fail maps a run error to an exit code. Validation messages go to stdout.
func fail(err error, cfg bootstrap.Config, stdout, stderr io.Writer) int {
	var fe *params.FlagError
	switch {
	case errors.As(err, &fe):
		fmt.Fprintln(stdout, fe.Error())
		return exitInvalid
	case errors.Is(err, simulation.ErrAborted):
		cfg.Logger().Printf("[rank %d] %v", cfg.Rank, err)
		return exitInvalid
	case errors.Is(err, comm.ErrClosed), errors.Is(err, context.Canceled):
		fmt.Fprintf(stderr, "run interrupted: %v\n", err)
		return 1
	}
	fmt.Fprintln(stderr, err)
	return 1
}

// exportMetrics saves metrics to a JSON file
func exportMetrics(collector *metrics.MetricsCollector, exportPath string) error {
	if err := os.MkdirAll(filepath.Dir(exportPath), 0755); err != nil {
		return err
	}
	data, err := collector.ExportToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(exportPath, data, 0644)
}
