// Package comm provides the collective operations workers use to meet: a
// broadcast of run parameters from the coordinator and a sum reduction back
// to it.
package comm

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/google/uuid"

	"mc-integrate/params"
)

// Coordinator is the rank that broadcasts parameters and receives the sum.
const Coordinator = 0

var (
	ErrDuplicateContribution = errors.New("comm: rank already contributed")
	ErrRunMismatch           = errors.New("comm: contribution for another run")
	ErrRankOutOfRange        = errors.New("comm: rank out of range")
	ErrSizeMismatch          = errors.New("comm: group size mismatch")
	ErrClosed                = errors.New("comm: communicator closed")
)

// Announcement is what the coordinator broadcasts. A non-empty Abort means
// the coordinator rejected the run and Params must be ignored.
type Announcement struct {
	RunID  uuid.UUID     `json:"run_id"`
	Params params.Params `json:"params"`
	Abort  string        `json:"abort,omitempty"`
}

// Communicator is one worker's view of the group.
type Communicator interface {
	Rank() int
	Size() int
	// Broadcast sends a from the coordinator. On every other rank it blocks
	// until the announcement arrives and stores it in a.
	Broadcast(ctx context.Context, a *Announcement) error
	// ReduceSum contributes v and blocks until the coordinator holds the sum
	// of all contributions. Only the coordinator's return value is meaningful.
	ReduceSum(ctx context.Context, v float64) (float64, error)
	// AwaitJoined blocks on the coordinator until every other rank has
	// received the broadcast. A coordinator that skips the reduction calls it
	// before Close so late ranks still learn about an abort. It returns nil
	// immediately on other ranks.
	AwaitJoined(ctx context.Context) error
	Close() error
}

// IsCoordinator reports whether c is rank 0.
func IsCoordinator(c Communicator) bool {
	return c.Rank() == Coordinator
}

func orDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l
}
