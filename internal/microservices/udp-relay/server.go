// Package relay implements the UDP chat relay: an ingest loop reading
// datagrams and a dispatch loop rebroadcasting them to every peer seen so far.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"chatrelay/internal/transport/udp"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrServerClosed  = errors.New("relay server closed")
	ErrServerRunning = errors.New("relay server already running")
)

// Server represents the UDP relay
type Server struct {
	endpoint *udp.Endpoint
	registry *PeerRegistry
	queue    chan InboundMessage
	logger   *slog.Logger

	queueSize    int
	bufferSize   int
	readTimeout  time.Duration
	format       Formatter
	decodePolicy DecodePolicy
	peerRate     float64
	peerBurst    int
	limiters     map[netip.AddrPort]*rate.Limiter // dispatch goroutine only

	peersReq    chan peersRequest
	announceReq chan announceRequest

	counters counters
	started  atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	closed   bool // set by Shutdown, guarded by mu
	done     chan struct{}
}

// Stats is a point-in-time view of the relay counters
type Stats struct {
	Received       uint64 `json:"received"`
	Relayed        uint64 `json:"relayed"`
	SendFailures   uint64 `json:"send_failures"`
	DecodeFailures uint64 `json:"decode_failures"`
	Throttled      uint64 `json:"throttled"`
	Peers          int64  `json:"peers"`
}

type counters struct {
	received       atomic.Uint64
	relayed        atomic.Uint64
	sendFailures   atomic.Uint64
	decodeFailures atomic.Uint64
	throttled      atomic.Uint64
	peers          atomic.Int64
}

type peersRequest struct {
	reply chan []netip.AddrPort
}

type announceRequest struct {
	text  string
	reply chan int
}

// NewServer binds the relay socket on addr ("host:port")
func NewServer(addr string, opts ...Option) (*Server, error) {
	s := &Server{
		registry:     NewPeerRegistry(),
		logger:       slog.Default(),
		queueSize:    1024,
		bufferSize:   udp.DefaultBufferSize,
		readTimeout:  udp.DefaultReadTimeout,
		format:       FormatFrom,
		decodePolicy: DecodeSkip,
		limiters:     make(map[netip.AddrPort]*rate.Limiter),
		peersReq:     make(chan peersRequest),
		announceReq:  make(chan announceRequest),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	endpoint, err := udp.Bind(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind relay socket: %w", err)
	}
	if err := endpoint.SetReadTimeout(s.readTimeout); err != nil {
		endpoint.Close()
		return nil, fmt.Errorf("failed to configure relay socket: %w", err)
	}

	s.endpoint = endpoint
	s.queue = make(chan InboundMessage, s.queueSize)
	return s, nil
}

// Run starts the ingest and dispatch loops and blocks until ctx is cancelled,
// Shutdown is called, or one of the loops fails. A clean stop returns nil.
// Run on a server that was already shut down returns ErrServerClosed.
func (s *Server) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ingest(gctx, s.queue) })
	g.Go(func() error { return s.dispatch(gctx, s.queue) })
	g.Go(func() error {
		// closing the socket releases an ingest loop blocked in Receive
		<-gctx.Done()
		s.endpoint.Close()
		return nil
	})

	s.logger.Info("udp_relay_listening",
		"addr", s.Addr().String(),
		"queue_size", s.queueSize,
		"read_timeout", s.readTimeout.String(),
		"decode_policy", s.decodePolicy.String(),
	)

	err := g.Wait()
	if err != nil {
		s.logger.Error("udp_relay_failed", "error", err.Error())
		return err
	}
	s.logger.Info("udp_relay_stopped", "peers", s.counters.peers.Load())
	return nil
}

// Shutdown stops a running server and closes its socket. A later or
// concurrent Run that has not started its loops yet returns ErrServerClosed.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.endpoint.Close()
	if s.started.Load() {
		<-s.done
	}
	return err
}

// Addr returns the address the relay is bound to
func (s *Server) Addr() netip.AddrPort {
	return s.endpoint.LocalAddr()
}

// Peers returns the registered peers in first-seen order. The snapshot is taken
// by the dispatch loop, so it only answers while the server is running.
func (s *Server) Peers(ctx context.Context) ([]netip.AddrPort, error) {
	reply := make(chan []netip.AddrPort, 1)
	select {
	case s.peersReq <- peersRequest{reply: reply}:
	case <-s.done:
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-reply, nil
}

// Announce broadcasts text to every registered peer, annotated with the relay's
// own address, and returns how many peers it was delivered to.
func (s *Server) Announce(ctx context.Context, text string) (int, error) {
	if _, err := Decode([]byte(text)); err != nil {
		return 0, err
	}

	reply := make(chan int, 1)
	select {
	case s.announceReq <- announceRequest{text: text, reply: reply}:
	case <-s.done:
		return 0, ErrServerClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return <-reply, nil
}

// Stats returns the current counters
func (s *Server) Stats() Stats {
	return Stats{
		Received:       s.counters.received.Load(),
		Relayed:        s.counters.relayed.Load(),
		SendFailures:   s.counters.sendFailures.Load(),
		DecodeFailures: s.counters.decodeFailures.Load(),
		Throttled:      s.counters.throttled.Load(),
		Peers:          s.counters.peers.Load(),
	}
}

// PeerCount returns the number of registered peers
func (s *Server) PeerCount() int {
	return int(s.counters.peers.Load())
}
