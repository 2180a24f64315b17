package comm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/rpc"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServiceName is the net/rpc name the coordinator registers.
const ServiceName = "Collective"

const dialInterval = 100 * time.Millisecond

//
// RPC definitions.
//

type JoinArgs struct {
	Rank int
	Size int
}

type JoinReply struct {
	Announcement Announcement
}

type ContributeArgs struct {
	RunID uuid.UUID
	Rank  int
	Value float64
}

type ContributeReply struct {
	Accepted bool
}

// Collective is the coordinator's RPC handler.
type Collective struct {
	g *gather
}

// Join blocks until the coordinator has something to announce.
func (c *Collective) Join(args JoinArgs, reply *JoinReply) error {
	if args.Size != c.g.size {
		return fmt.Errorf("%w: worker expects %d, coordinator has %d", ErrSizeMismatch, args.Size, c.g.size)
	}
	if args.Rank <= Coordinator || args.Rank >= c.g.size {
		return fmt.Errorf("%w: %d", ErrRankOutOfRange, args.Rank)
	}
	a, err := c.g.waitAnnouncement(context.Background())
	if err != nil {
		return err
	}
	reply.Announcement = a
	c.g.delivered(args.Rank)
	return nil
}

func (c *Collective) Contribute(args ContributeArgs, reply *ContributeReply) error {
	if args.Rank == Coordinator {
		return fmt.Errorf("%w: coordinator cannot contribute remotely", ErrRankOutOfRange)
	}
	if err := c.g.contribute(args.RunID, args.Rank, args.Value); err != nil {
		return err
	}
	reply.Accepted = true
	return nil
}

// RPC is a Communicator whose workers are separate processes talking to the
// coordinator over TCP.
type RPC struct {
	rank int
	size int
	log  *log.Logger

	// coordinator side
	server *Server
	g      *gather

	// worker side
	client *rpc.Client

	mu    sync.Mutex
	runID uuid.UUID
}

// ListenRPC starts the coordinator for a group of size ranks on addr.
func ListenRPC(addr string, size int, logger *log.Logger) (*RPC, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrSizeMismatch, size)
	}
	g := newGather(size)
	server, err := NewServer("coordinator", ServiceName, &Collective{g: g}, logger)
	if err != nil {
		return nil, err
	}
	if err := server.Serve(addr); err != nil {
		return nil, err
	}
	return &RPC{
		rank:   Coordinator,
		size:   size,
		log:    orDiscard(logger),
		server: server,
		g:      g,
	}, nil
}

// DialRPC connects worker rank to the coordinator at addr, retrying until
// ctx is done so workers may start before the coordinator.
func DialRPC(ctx context.Context, addr string, rank, size int, logger *log.Logger) (*RPC, error) {
	if rank <= Coordinator || rank >= size {
		return nil, fmt.Errorf("%w: %d", ErrRankOutOfRange, rank)
	}
	logger = orDiscard(logger)

	ticker := time.NewTicker(dialInterval)
	defer ticker.Stop()
	for {
		client, err := rpc.Dial("tcp", addr)
		if err == nil {
			logger.Printf("[rank %d] connected to coordinator at %s", rank, addr)
			return &RPC{rank: rank, size: size, log: logger, client: client}, nil
		}
		logger.Printf("[rank %d] coordinator at %s not reachable: %v", rank, addr, err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial coordinator %s: %w", addr, errors.Join(ctx.Err(), err))
		case <-ticker.C:
		}
	}
}

func (r *RPC) Rank() int { return r.rank }
func (r *RPC) Size() int { return r.size }

// Addr is the coordinator's listen address, or "" on a worker.
func (r *RPC) Addr() string {
	if r.server == nil {
		return ""
	}
	return r.server.Addr().String()
}

func (r *RPC) Broadcast(ctx context.Context, a *Announcement) error {
	if r.rank == Coordinator {
		if err := r.g.announce(*a); err != nil {
			return err
		}
		r.setRun(a.RunID)
		return nil
	}

	var reply JoinReply
	if err := r.call(ctx, ServiceName+".Join", JoinArgs{Rank: r.rank, Size: r.size}, &reply); err != nil {
		return err
	}
	*a = reply.Announcement
	r.setRun(a.RunID)
	r.log.Printf("[rank %d] received run %s", r.rank, a.RunID)
	return nil
}

func (r *RPC) AwaitJoined(ctx context.Context) error {
	if r.rank != Coordinator {
		return nil
	}
	return r.g.waitJoined(ctx)
}

func (r *RPC) ReduceSum(ctx context.Context, v float64) (float64, error) {
	runID := r.run()
	if r.rank == Coordinator {
		if err := r.g.contribute(runID, r.rank, v); err != nil {
			return 0, err
		}
		return r.g.sum(ctx)
	}

	var reply ContributeReply
	args := ContributeArgs{RunID: runID, Rank: r.rank, Value: v}
	if err := r.call(ctx, ServiceName+".Contribute", args, &reply); err != nil {
		return 0, err
	}
	if !reply.Accepted {
		return 0, fmt.Errorf("comm: coordinator did not accept contribution from rank %d", r.rank)
	}
	return 0, nil
}

func (r *RPC) call(ctx context.Context, method string, args any, reply any) error {
	call := r.client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RPC) Close() error {
	if r.server != nil {
		r.g.close()
		r.server.Shutdown()
		return nil
	}
	return r.client.Close()
}

func (r *RPC) setRun(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = id
}

func (r *RPC) run() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}
