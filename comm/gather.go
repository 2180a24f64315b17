package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// gather is the coordinator-side state of one run: the announcement every
// rank waits for and one slot per rank for its contribution.
type gather struct {
	size int

	mu        sync.Mutex
	ann       Announcement
	announced chan struct{}
	values    []float64
	seen      []bool
	count     int
	full      chan struct{}
	open      int

	// ranks other than the coordinator that have received the announcement
	joined    []bool
	joins     int
	allJoined chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newGather(size int) *gather {
	g := &gather{
		size:      size,
		announced: make(chan struct{}),
		values:    make([]float64, size),
		seen:      make([]bool, size),
		full:      make(chan struct{}),
		joined:    make([]bool, size),
		allJoined: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	if size <= 1 {
		close(g.allJoined)
	}
	return g
}

func (g *gather) announce(a Announcement) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.announced:
		return fmt.Errorf("comm: run %s already announced", g.ann.RunID)
	default:
	}
	g.ann = a
	close(g.announced)
	return nil
}

// wait blocks until ready is closed. A ready channel wins over a concurrent
// close of the gather.
func (g *gather) wait(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	default:
	}
	select {
	case <-ready:
		return nil
	case <-g.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gather) waitAnnouncement(ctx context.Context) (Announcement, error) {
	if err := g.wait(ctx, g.announced); err != nil {
		return Announcement{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ann, nil
}

// delivered records that rank has been handed the announcement. Repeats are
// ignored.
func (g *gather) delivered(rank int) {
	if rank <= Coordinator || rank >= g.size {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.joined[rank] {
		return
	}
	g.joined[rank] = true
	g.joins++
	if g.joins == g.size-1 {
		close(g.allJoined)
	}
}

// waitJoined blocks until every non-coordinator rank has the announcement.
func (g *gather) waitJoined(ctx context.Context) error {
	if err := g.wait(ctx, g.allJoined); err != nil {
		g.mu.Lock()
		missing := g.size - 1 - g.joins
		g.mu.Unlock()
		return fmt.Errorf("%d rank(s) never joined: %w", missing, err)
	}
	return nil
}

func (g *gather) contribute(runID uuid.UUID, rank int, v float64) error {
	if rank < 0 || rank >= g.size {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrRankOutOfRange, rank, g.size)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.announced:
	default:
		return fmt.Errorf("%w: nothing announced yet", ErrRunMismatch)
	}
	if runID != g.ann.RunID {
		return fmt.Errorf("%w: got %s, running %s", ErrRunMismatch, runID, g.ann.RunID)
	}
	if g.seen[rank] {
		return fmt.Errorf("%w: rank %d", ErrDuplicateContribution, rank)
	}

	g.values[rank] = v
	g.seen[rank] = true
	g.count++
	if g.count == g.size {
		close(g.full)
	}
	return nil
}

// sum waits for every rank and adds the values in rank order, so the result
// does not depend on arrival order.
func (g *gather) sum(ctx context.Context) (float64, error) {
	if err := g.wait(ctx, g.full); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0.0
	for _, v := range g.values {
		total += v
	}
	return total, nil
}

func (g *gather) close() {
	g.closeOnce.Do(func() { close(g.closed) })
}
