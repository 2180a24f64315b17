package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Local is a member of an in-process group. Each member is driven by its own
// goroutine; the members share nothing but the group's gather.
type Local struct {
	rank int
	g    *gather

	mu     sync.Mutex
	runID  uuid.UUID
	closed bool
}

// NewGroup returns size members with ranks 0..size-1.
func NewGroup(size int) ([]*Local, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrSizeMismatch, size)
	}
	g := newGather(size)
	g.open = size
	members := make([]*Local, size)
	for i := range members {
		members[i] = &Local{rank: i, g: g}
	}
	return members, nil
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.g.size }

func (l *Local) Broadcast(ctx context.Context, a *Announcement) error {
	if l.rank == Coordinator {
		if err := l.g.announce(*a); err != nil {
			return err
		}
	} else {
		got, err := l.g.waitAnnouncement(ctx)
		if err != nil {
			return err
		}
		*a = got
	}
	l.mu.Lock()
	l.runID = a.RunID
	l.mu.Unlock()
	return nil
}

// AwaitJoined returns nil: members of a group read the announcement straight
// from the shared gather, which stays open until every member has closed.
func (l *Local) AwaitJoined(ctx context.Context) error {
	return nil
}

func (l *Local) ReduceSum(ctx context.Context, v float64) (float64, error) {
	l.mu.Lock()
	runID := l.runID
	l.mu.Unlock()

	if err := l.g.contribute(runID, l.rank, v); err != nil {
		return 0, err
	}
	if l.rank != Coordinator {
		return 0, nil
	}
	return l.g.sum(ctx)
}

// Close leaves the group. Once every member has left, anyone still blocked
// on the group is released with ErrClosed.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.g.mu.Lock()
	l.g.open--
	last := l.g.open == 0
	l.g.mu.Unlock()
	if last {
		l.g.close()
	}
	return nil
}
