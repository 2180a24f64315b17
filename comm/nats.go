package comm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix roots every subject a group uses.
const SubjectPrefix = "mci"

const joinRetry = 200 * time.Millisecond

// Subjects a group meets on. Session keeps concurrent groups apart.
type Subjects struct {
	Join   string
	Reduce string
}

func SubjectsFor(session string) Subjects {
	return Subjects{
		Join:   fmt.Sprintf("%s.%s.join", SubjectPrefix, session),
		Reduce: fmt.Sprintf("%s.%s.reduce", SubjectPrefix, session),
	}
}

// joinRequest is sent by a worker on the join subject.
type joinRequest struct {
	Rank int `json:"rank"`
	Size int `json:"size"`
}

// contribution is sent by a worker on the reduce subject.
type contribution struct {
	RunID uuid.UUID `json:"run_id"`
	Rank  int       `json:"rank"`
	Value float64   `json:"value"`
}

// ack answers both requests. Error is empty on success.
type ack struct {
	Announcement *Announcement `json:"announcement,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// NATS is a Communicator that meets through a NATS server.
type NATS struct {
	rank     int
	size     int
	subjects Subjects
	conn     *nats.Conn
	log      *log.Logger

	// joinTimeout bounds how long requests keep retrying while nobody
	// answers. Zero retries until ctx is done.
	joinTimeout time.Duration

	// coordinator side
	g    *gather
	subs []*nats.Subscription
	wg   sync.WaitGroup

	mu    sync.Mutex
	runID uuid.UUID
}

// ConnectNATS joins the group for session on the server at url. Rank 0
// subscribes to the group's subjects and acts as coordinator. Workers give up
// waiting for a coordinator after joinTimeout.
func ConnectNATS(url, session string, rank, size int, joinTimeout time.Duration, logger *log.Logger) (*NATS, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrSizeMismatch, size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: %d", ErrRankOutOfRange, rank)
	}
	logger = orDiscard(logger)

	nc, err := nats.Connect(url, nats.Name(fmt.Sprintf("mci-%s-rank-%d", session, rank)))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	n := &NATS{
		rank:     rank,
		size:     size,
		subjects: SubjectsFor(session),
		conn:     nc,
		log:      logger,

		joinTimeout: joinTimeout,
	}
	if rank != Coordinator {
		return n, nil
	}

	n.g = newGather(size)
	join, err := nc.Subscribe(n.subjects.Join, n.handleJoin)
	if err != nil {
		nc.Close()
		return nil, err
	}
	reduce, err := nc.Subscribe(n.subjects.Reduce, n.handleReduce)
	if err != nil {
		nc.Close()
		return nil, err
	}
	n.subs = []*nats.Subscription{join, reduce}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, err
	}
	logger.Printf("[rank 0] coordinating %d ranks on %s.%s.*", size, SubjectPrefix, session)
	return n, nil
}

func (n *NATS) Rank() int { return n.rank }
func (n *NATS) Size() int { return n.size }

// handleJoin answers once the announcement exists; the wait happens off the
// subscription's delivery goroutine.
func (n *NATS) handleJoin(msg *nats.Msg) {
	var req joinRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		respond(msg, ack{Error: err.Error()})
		return
	}
	if req.Size != n.size {
		respond(msg, ack{Error: fmt.Sprintf("%v: worker expects %d, coordinator has %d", ErrSizeMismatch, req.Size, n.size)})
		return
	}
	if req.Rank <= Coordinator || req.Rank >= n.size {
		respond(msg, ack{Error: fmt.Sprintf("%v: %d", ErrRankOutOfRange, req.Rank)})
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		a, err := n.g.waitAnnouncement(context.Background())
		if err != nil {
			respond(msg, ack{Error: err.Error()})
			return
		}
		respond(msg, ack{Announcement: &a})
		n.g.delivered(req.Rank)
	}()
}

func (n *NATS) handleReduce(msg *nats.Msg) {
	var c contribution
	if err := json.Unmarshal(msg.Data, &c); err != nil {
		respond(msg, ack{Error: err.Error()})
		return
	}
	if c.Rank == Coordinator {
		respond(msg, ack{Error: "coordinator cannot contribute remotely"})
		return
	}
	if err := n.g.contribute(c.RunID, c.Rank, c.Value); err != nil {
		n.log.Printf("[rank 0] rejected contribution from rank %d: %v", c.Rank, err)
		respond(msg, ack{Error: err.Error()})
		return
	}
	respond(msg, ack{})
}

func respond(msg *nats.Msg, a ack) {
	data, _ := json.Marshal(a)
	msg.Respond(data)
}

func (n *NATS) Broadcast(ctx context.Context, a *Announcement) error {
	if n.rank == Coordinator {
		if err := n.g.announce(*a); err != nil {
			return err
		}
		n.setRun(a.RunID)
		return nil
	}

	req, err := json.Marshal(joinRequest{Rank: n.rank, Size: n.size})
	if err != nil {
		return err
	}
	reply, err := n.request(ctx, n.subjects.Join, req)
	if err != nil {
		return err
	}
	if reply.Announcement == nil {
		return errors.New("comm: join reply without announcement")
	}
	*a = *reply.Announcement
	n.setRun(a.RunID)
	n.log.Printf("[rank %d] received run %s", n.rank, a.RunID)
	return nil
}

func (n *NATS) AwaitJoined(ctx context.Context) error {
	if n.rank != Coordinator {
		return nil
	}
	if err := n.g.waitJoined(ctx); err != nil {
		return err
	}
	return n.conn.Flush()
}

func (n *NATS) ReduceSum(ctx context.Context, v float64) (float64, error) {
	runID := n.run()
	if n.rank == Coordinator {
		if err := n.g.contribute(runID, n.rank, v); err != nil {
			return 0, err
		}
		return n.g.sum(ctx)
	}

	data, err := json.Marshal(contribution{RunID: runID, Rank: n.rank, Value: v})
	if err != nil {
		return 0, err
	}
	if _, err := n.request(ctx, n.subjects.Reduce, data); err != nil {
		return 0, err
	}
	return 0, nil
}

// request retries while nobody is subscribed yet, which happens when a worker
// starts before the coordinator.
func (n *NATS) request(ctx context.Context, subject string, data []byte) (ack, error) {
	start := time.Now()
	for {
		msg, err := n.conn.RequestWithContext(ctx, subject, data)
		if errors.Is(err, nats.ErrNoResponders) {
			if n.joinTimeout > 0 && time.Since(start) >= n.joinTimeout {
				return ack{}, fmt.Errorf("comm: no coordinator on %s after %v: %w", subject, n.joinTimeout, err)
			}
			n.log.Printf("[rank %d] no coordinator on %s yet", n.rank, subject)
			select {
			case <-ctx.Done():
				return ack{}, ctx.Err()
			case <-time.After(joinRetry):
				continue
			}
		}
		if err != nil {
			return ack{}, err
		}

		var a ack
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			return ack{}, err
		}
		if a.Error != "" {
			return ack{}, fmt.Errorf("comm: coordinator: %s", a.Error)
		}
		return a, nil
	}
}

func (n *NATS) Close() error {
	if n.g != nil {
		n.g.close()
		n.wg.Wait()
		for _, sub := range n.subs {
			sub.Unsubscribe()
		}
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

func (n *NATS) setRun(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runID = id
}

func (n *NATS) run() uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runID
}
