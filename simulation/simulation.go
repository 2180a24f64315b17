// Package simulation runs one Monte Carlo integration: parameters are
// validated on the coordinator, broadcast, sampled independently on every
// rank and summed back with a single reduction.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"mc-integrate/comm"
	"mc-integrate/kernel"
	"mc-integrate/metrics"
	"mc-integrate/params"
)

// ErrAborted is returned on non-coordinator ranks when the coordinator
// rejected the run's parameters.
var ErrAborted = errors.New("run aborted by coordinator")

// Options configure a run. Args and Stderr are only read on the coordinator.
// JoinTimeout bounds how long an aborting coordinator waits for the other
// ranks to pick up the abort; zero waits until ctx is done.
type Options struct {
	Args        []string
	Stderr      io.Writer
	Metrics     *metrics.MetricsCollector
	Logger      *log.Logger
	JoinTimeout time.Duration
}

// Result is what one rank knows after the run. GlobalSum and Estimate are
// only set on the coordinator.
type Result struct {
	RunID       uuid.UUID      `json:"run_id"`
	Rank        int            `json:"rank"`
	Workers     int            `json:"workers"`
	Params      params.Params  `json:"params"`
	Partial     kernel.Partial `json:"partial"`
	Coordinator bool           `json:"coordinator"`
	GlobalSum   float64        `json:"global_sum,omitempty"`
	Estimate    float64        `json:"estimate,omitempty"`
}

func (o Options) stderr() io.Writer {
	if o.Stderr == nil {
		return io.Discard
	}
	return o.Stderr
}

func (o Options) logger() *log.Logger {
	if o.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return o.Logger
}

// Run executes the run on c. Every rank calls Run exactly once.
//
// The coordinator validates before broadcasting and always broadcasts, so a
// rejected run reaches every rank as an abort instead of leaving them blocked
// on the broadcast. The coordinator returns the validation error itself;
// other ranks return ErrAborted.
func Run(ctx context.Context, c comm.Communicator, opts Options) (Result, error) {
	logger := opts.logger()
	res := Result{
		Rank:        c.Rank(),
		Workers:     c.Size(),
		Coordinator: comm.IsCoordinator(c),
	}

	var ann comm.Announcement
	var invalid error
	if res.Coordinator {
		p, err := params.Parse(opts.Args, opts.stderr())
		ann = comm.Announcement{RunID: uuid.New(), Params: p}
		if err != nil {
			invalid = err
			ann.Abort = err.Error()
		}
	}

	if err := c.Broadcast(ctx, &ann); err != nil {
		return res, fmt.Errorf("broadcast: %w", err)
	}
	res.RunID = ann.RunID
	if ann.Abort != "" {
		if invalid != nil {
			awaitAbort(ctx, c, opts.JoinTimeout, logger)
			return res, invalid
		}
		return res, fmt.Errorf("%w: %s", ErrAborted, ann.Abort)
	}
	res.Params = ann.Params
	if opts.Metrics != nil && res.Coordinator {
		opts.Metrics.SetRunID(ann.RunID)
	}

	start := time.Now()
	res.Partial = kernel.Local(ann.Params.Selector, ann.Params.Samples, res.Rank, res.Workers)
	elapsed := time.Since(start)
	if opts.Metrics != nil {
		opts.Metrics.RecordWorker(res.Rank, res.Partial.Samples, elapsed)
	}
	logger.Printf("[rank %d] %d samples of %v, local sum %v in %v",
		res.Rank, res.Partial.Samples, ann.Params.Selector, res.Partial.LocalSum, elapsed)

	sum, err := c.ReduceSum(ctx, res.Partial.LocalSum)
	if err != nil {
		return res, fmt.Errorf("reduce: %w", err)
	}
	if res.Coordinator {
		res.GlobalSum = sum
		res.Estimate = kernel.Estimate(sum, ann.Params.Samples)
	}
	return res, nil
}

// awaitAbort keeps the coordinator's transport up until every rank has seen
// the abort. Nobody contributes to a reduction after an abort, so this is the
// only point the coordinator learns that the others have it.
func awaitAbort(ctx context.Context, c comm.Communicator, timeout time.Duration, logger *log.Logger) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := c.AwaitJoined(ctx); err != nil {
		logger.Printf("[rank %d] abort may not have reached every rank: %v", c.Rank(), err)
	}
}

// RunSolo is the single-process path: no broadcast and no reduction.
func RunSolo(opts Options) (Result, error) {
	p, err := params.Parse(opts.Args, opts.stderr())
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	partial := kernel.Local(p.Selector, p.Samples, 0, 1)
	if opts.Metrics != nil {
		opts.Metrics.RecordWorker(0, partial.Samples, time.Since(start))
	}
	return Result{
		RunID:       uuid.New(),
		Workers:     1,
		Params:      p,
		Partial:     partial,
		Coordinator: true,
		GlobalSum:   partial.LocalSum,
		Estimate:    kernel.Estimate(partial.LocalSum, p.Samples),
	}, nil
}

// RunGroup runs every member of an in-process group on its own goroutine and
// returns the coordinator's result. The coordinator's error takes precedence.
func RunGroup(ctx context.Context, members []comm.Communicator, opts Options) (Result, error) {
	results := make([]Result, len(members))
	errs := make([]error, len(members))

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m comm.Communicator) {
			defer wg.Done()
			results[i], errs[i] = Run(ctx, m, opts)
		}(i, m)
	}
	wg.Wait()

	for i, m := range members {
		if comm.IsCoordinator(m) {
			if errs[i] != nil {
				return results[i], errs[i]
			}
			for j, err := range errs {
				if err != nil {
					return results[i], fmt.Errorf("rank %d: %w", members[j].Rank(), err)
				}
			}
			return results[i], nil
		}
	}
	return Result{}, errors.New("simulation: group has no coordinator")
}

// FormatEstimate renders v with six significant digits.
func FormatEstimate(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// Report prints the estimate from the coordinator. Parallel runs end with a
// farewell line.
func Report(w io.Writer, res Result, parallel bool) {
	if !res.Coordinator {
		return
	}
	fmt.Fprintf(w, "Estimate = %s\n", FormatEstimate(res.Estimate))
	if parallel {
		fmt.Fprintln(w, "Bye!")
	}
}
