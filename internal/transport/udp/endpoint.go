// Package udp wraps a bound UDP socket with the receive/send contract used by
// the relay server and the chat client.
package udp

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultReadTimeout bounds a single Receive call.
	DefaultReadTimeout = 2 * time.Second
	// DefaultBufferSize is the receive buffer callers should allocate.
	// Longer datagrams are truncated by the kernel.
	DefaultBufferSize = 4096
)

// socket is the shared resource behind every Endpoint handle.
type socket struct {
	conn      *net.UDPConn
	local     netip.AddrPort
	timeout   atomic.Int64
	peer      atomic.Pointer[netip.AddrPort]
	closeOnce sync.Once
	closeErr  error
}

// Endpoint is a handle to a bound UDP socket.
//
// Handles produced by Clone share the socket: the read timeout and default
// peer are socket attributes, and closing any handle closes the socket for
// all of them. The socket itself is safe for concurrent use, so one handle can
// block in Receive while another sends. Two concurrent Receive calls share the
// read deadline and should be avoided.
type Endpoint struct {
	s *socket
}

// Bind opens a UDP socket on addr ("host:port", port 0 picks an ephemeral
// port) with DefaultReadTimeout applied.
func Bind(addr string) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %w", ErrBind, addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %q: %w", ErrBind, addr, err)
	}

	s := &socket{
		conn:  conn,
		local: normalize(conn.LocalAddr().(*net.UDPAddr).AddrPort()),
	}
	s.timeout.Store(int64(DefaultReadTimeout))

	return &Endpoint{s: s}, nil
}

// ConnectDefaultPeer fixes the destination used by Send and makes Receive
// discard datagrams from any other source.
func (e *Endpoint) ConnectDefaultPeer(remote string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return fmt.Errorf("%w: resolve %q: %w", ErrConnect, remote, err)
	}

	peer := normalize(udpAddr.AddrPort())
	if !peer.IsValid() || peer.Port() == 0 {
		return fmt.Errorf("%w: %q is not a usable peer address", ErrConnect, remote)
	}

	e.s.peer.Store(&peer)
	return nil
}

// SetReadTimeout changes how long Receive blocks before failing with ErrTimeout.
func (e *Endpoint) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: read timeout must be positive, got %v", ErrConfig, d)
	}
	e.s.timeout.Store(int64(d))
	return nil
}

// ReadTimeout returns the current read timeout.
func (e *Endpoint) ReadTimeout() time.Duration {
	return time.Duration(e.s.timeout.Load())
}

// Receive blocks for at most the read timeout waiting for one datagram.
//
// Errors wrap ErrTimeout or ErrIO when the caller should retry, and
// ErrFatalSocket once the socket has been closed.
func (e *Endpoint) Receive(buf []byte) (int, netip.AddrPort, error) {
	if err := e.s.conn.SetReadDeadline(time.Now().Add(e.ReadTimeout())); err != nil {
		return 0, netip.AddrPort{}, classifyReadError(err)
	}

	for {
		n, src, err := e.s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return 0, netip.AddrPort{}, classifyReadError(err)
		}

		src = normalize(src)
		if peer := e.s.peer.Load(); peer != nil && *peer != src {
			// not from the default peer; keep waiting under the same deadline
			continue
		}
		return n, src, nil
	}
}

// SendTo writes one datagram to dst without waiting for delivery.
func (e *Endpoint) SendTo(b []byte, dst netip.AddrPort) error {
	if !dst.IsValid() {
		return fmt.Errorf("%w: invalid destination", ErrSend)
	}
	if _, err := e.s.conn.WriteToUDPAddrPort(b, dst); err != nil {
		return fmt.Errorf("%w: to %s: %w", ErrSend, dst, err)
	}
	return nil
}

// Send writes one datagram to the default peer.
func (e *Endpoint) Send(b []byte) error {
	peer := e.s.peer.Load()
	if peer == nil {
		return fmt.Errorf("%w: no default peer", ErrSend)
	}
	return e.SendTo(b, *peer)
}

// Clone returns another handle to the same socket.
func (e *Endpoint) Clone() *Endpoint {
	return &Endpoint{s: e.s}
}

// LocalAddr returns the bound address.
func (e *Endpoint) LocalAddr() netip.AddrPort {
	return e.s.local
}

// DefaultPeer returns the address set by ConnectDefaultPeer, if any.
func (e *Endpoint) DefaultPeer() (netip.AddrPort, bool) {
	peer := e.s.peer.Load()
	if peer == nil {
		return netip.AddrPort{}, false
	}
	return *peer, true
}

// Close closes the shared socket. Blocked Receive calls on any handle return
// ErrFatalSocket. Calling Close more than once is safe.
func (e *Endpoint) Close() error {
	e.s.closeOnce.Do(func() {
		e.s.closeErr = e.s.conn.Close()
	})
	return e.s.closeErr
}

// normalize unmaps IPv4-in-IPv6 addresses so peers are reported and compared
// in their IPv4 form on dual-stack sockets.
func normalize(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
