package comm

import (
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"
)

// drainTimeout bounds how long Shutdown waits for clients to hang up before
// closing their connections.
const drainTimeout = 2 * time.Second

// Server hosts one net/rpc service on a TCP listener.
type Server struct {
	serverId string

	rpcServer *rpc.Server
	listener  net.Listener
	log       *log.Logger

	conns map[net.Conn]struct{}

	mu   sync.Mutex
	wg   sync.WaitGroup
	quit chan struct{}
}

func NewServer(serverId string, name string, handler any, logger *log.Logger) (*Server, error) {
	s := &Server{
		serverId:  serverId,
		rpcServer: rpc.NewServer(),
		log:       orDiscard(logger),
		conns:     make(map[net.Conn]struct{}),
		quit:      make(chan struct{}),
	}
	if err := s.rpcServer.RegisterName(name, handler); err != nil {
		return nil, err
	}
	return s, nil
}

// Serve starts accepting connections on addr. Use ":0" for any free port.
func (s *Server) Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Printf("[%v] listening on %s", s.serverId, listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.quit:
					return
				default:
					s.log.Printf("[%v] accept error: %v", s.serverId, err)
					return
				}
			}
			s.mu.Lock()
			s.conns[conn] = struct{}{}
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.rpcServer.ServeConn(conn)
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
		}
	}()
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, gives connected clients drainTimeout to hang up
// and then closes whatever is left.
func (s *Server) Shutdown() {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		return
	default:
	}
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(drainTimeout):
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	<-done
}
