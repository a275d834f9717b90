package client

// udp_client.go = chat session against the UDP relay: login, background receive loop, poll bridge and send path.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	relay "chatrelay/internal/microservices/udp-relay"
	"chatrelay/internal/transport/udp"

	"github.com/google/uuid"
)

var (
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrClientClosed    = errors.New("chat client closed")
)

// ChatState is the state shared between the receive loop and the UI.
// It is only touched through Client.Modify or under the client lock.
type ChatState struct {
	History    []string
	NewMessage bool
}

// LoginRequest is what the login form collects
type LoginRequest struct {
	LocalAddr  string // host:port to bind, port 0 picks one
	ServerAddr string // relay host:port
}

// SessionInfo describes the active session
type SessionInfo struct {
	ID         string
	LocalAddr  netip.AddrPort
	ServerAddr netip.AddrPort
	StartedAt  time.Time
}

// ChatStats holds client side counters
type ChatStats struct {
	ConnectedAt      time.Time
	MessagesReceived int
	MessagesSent     int
	DecodeFailures   int
	LastMessage      time.Time
	Uptime           time.Duration
}

// session owns the socket of one login
type session struct {
	info     SessionInfo
	endpoint *udp.Endpoint
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// UDPClient is a chat participant. The UI goroutine and the receive loop
// share its state behind mu, which is never held across a blocking receive.
type UDPClient struct {
	mu      sync.Mutex
	state   ChatState
	session *session
	closed  bool
	stats   ChatStats

	logger       *slog.Logger
	readTimeout  time.Duration
	bufferSize   int
	historyLimit int
}

// Option configures a UDPClient
type Option func(c *UDPClient)

// WithLogger replaces slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *UDPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReadTimeout sets how long one receive blocks before the loop checks for cancellation
func WithReadTimeout(d time.Duration) Option {
	return func(c *UDPClient) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithBufferSize sets the receive buffer, longer datagrams are truncated
func WithBufferSize(n int) Option {
	return func(c *UDPClient) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithHistoryLimit keeps only the newest n messages. 0 keeps everything.
func WithHistoryLimit(n int) Option {
	return func(c *UDPClient) {
		if n >= 0 {
			c.historyLimit = n
		}
	}
}

// NewUDPClient creates a logged-out chat client
func NewUDPClient(opts ...Option) *UDPClient {
	c := &UDPClient{
		logger:      slog.Default(),
		readTimeout: udp.DefaultReadTimeout,
		bufferSize:  udp.DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login binds the local socket, points it at the relay and starts the
// receive loop. The session lives until Logout, Close or cancellation of ctx;
// a cancelled ctx ends it the same way Logout does, so Login works again.
func (c *UDPClient) Login(ctx context.Context, req LoginRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.session != nil {
		return ErrAlreadyLoggedIn
	}

	endpoint, err := udp.Bind(req.LocalAddr)
	if err != nil {
		return fmt.Errorf("failed to bind chat socket: %w", err)
	}
	if err := endpoint.SetReadTimeout(c.readTimeout); err != nil {
		endpoint.Close()
		return fmt.Errorf("failed to configure chat socket: %w", err)
	}
	if err := endpoint.ConnectDefaultPeer(req.ServerAddr); err != nil {
		endpoint.Close()
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	server, _ := endpoint.DefaultPeer()
	sessionCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		info: SessionInfo{
			ID:         uuid.NewString(),
			LocalAddr:  endpoint.LocalAddr(),
			ServerAddr: server,
			StartedAt:  time.Now(),
		},
		endpoint: endpoint,
		cancel:   cancel,
	}
	c.session = sess
	c.stats = ChatStats{ConnectedAt: sess.info.StartedAt}

	// the loop reads through its own handle; the lock is released before its first receive
	reader := endpoint.Clone()
	sess.wg.Add(1)
	go c.receiveLoop(sessionCtx, sess, reader)

	c.logger.Info("chat_login",
		"session_id", sess.info.ID,
		"local_addr", sess.info.LocalAddr.String(),
		"server_addr", sess.info.ServerAddr.String(),
	)
	return nil
}

// receiveLoop appends every relayed line to the history and raises the
// new-message flag for Poll.
func (c *UDPClient) receiveLoop(ctx context.Context, sess *session, reader *udp.Endpoint) {
	defer sess.wg.Done()
	defer c.endSession(sess, "receive loop stopped")
	buffer := make([]byte, c.bufferSize)

	for {
		if ctx.Err() != nil {
			return
		}

		n, _, err := reader.Receive(buffer)
		if err != nil {
			switch {
			case errors.Is(err, udp.ErrTimeout):
				continue
			case errors.Is(err, udp.ErrIO):
				c.logger.Warn("chat_read_error", "session_id", sess.info.ID, "error", err.Error())
				continue
			}
			if ctx.Err() == nil {
				c.logger.Error("chat_receive_stopped", "session_id", sess.info.ID, "error", err.Error())
			}
			return
		}

		if !utf8.Valid(buffer[:n]) {
			c.mu.Lock()
			c.stats.DecodeFailures++
			c.mu.Unlock()
			c.logger.Warn("chat_decode_failed",
				"session_id", sess.info.ID,
				"error", fmt.Errorf("%w (%d bytes)", udp.ErrDecode, n).Error(),
			)
			continue
		}

		line := string(buffer[:n])
		c.Modify(func(s *ChatState) {
			s.History = append(s.History, line)
			if c.historyLimit > 0 && len(s.History) > c.historyLimit {
				s.History = append([]string(nil), s.History[len(s.History)-c.historyLimit:]...)
			}
			s.NewMessage = true
		})

		c.mu.Lock()
		c.stats.MessagesReceived++
		c.stats.LastMessage = time.Now()
		c.mu.Unlock()
	}
}

// endSession drops sess if it is still the active session and closes its
// socket. Logout detaches the session first, so this is a no-op there.
func (c *UDPClient) endSession(sess *session, reason string) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	sess.cancel()
	sess.endpoint.Close()
	c.logger.Info("chat_session_ended",
		"session_id", sess.info.ID,
		"reason", reason,
		"duration", time.Since(sess.info.StartedAt).String(),
	)
}

// Modify runs fn on the shared chat state under the client lock.
// fn must not block.
func (c *UDPClient) Modify(fn func(s *ChatState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}

// Poll reports whether a message arrived since the previous call and clears
// the flag. keepPolling turns false once the client is closed. Never blocks on I/O.
func (c *UDPClient) Poll() (redraw bool, keepPolling bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	redraw = c.state.NewMessage
	c.state.NewMessage = false
	return redraw, !c.closed
}

// Send transmits text to the relay. Without a session it does nothing.
func (c *UDPClient) Send(text string) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		c.logger.Debug("chat_send_skipped", "reason", "not logged in")
		return nil
	}

	if err := sess.endpoint.Send([]byte(text)); err != nil {
		return fmt.Errorf("failed to send chat message: %w", err)
	}

	c.mu.Lock()
	c.stats.MessagesSent++
	c.mu.Unlock()
	return nil
}

// WaitForEcho blocks until the relay's broadcast of text from this session
// shows up in the history, checking every interval, and returns that line.
// Lines relayed for other peers are ignored.
func (c *UDPClient) WaitForEcho(ctx context.Context, interval time.Duration, text string) (string, error) {
	info, ok := c.Session()
	if !ok {
		return "", ErrNotLoggedIn
	}
	want := []string{
		relay.FormatFrom(info.LocalAddr, text),
		relay.FormatCompact(info.LocalAddr, text),
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if line, ok := c.findEcho(want); ok {
			return line, nil
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return "", ErrClientClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// findEcho returns the newest history line equal to one of want
func (c *UDPClient) findEcho(want []string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.state.History) - 1; i >= 0; i-- {
		if slices.Contains(want, c.state.History[i]) {
			return c.state.History[i], true
		}
	}
	return "", false
}

// History returns a copy of the received lines, oldest first
func (c *UDPClient) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.state.History...)
}

// Session returns the active session, if any
func (c *UDPClient) Session() (SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return SessionInfo{}, false
	}
	return c.session.info, true
}

// IsConnected returns whether a session is active
func (c *UDPClient) IsConnected() bool {
	_, ok := c.Session()
	return ok
}

// Logout ends the session: the socket is closed, which unblocks the receive
// loop, and the call waits for the loop to exit. History is kept.
func (c *UDPClient) Logout() error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess == nil {
		return nil
	}

	sess.cancel()
	err := sess.endpoint.Close()
	sess.wg.Wait()

	c.logger.Info("chat_logout",
		"session_id", sess.info.ID,
		"duration", time.Since(sess.info.StartedAt).String(),
	)
	return err
}

// Close logs out and stops polling for good
func (c *UDPClient) Close() error {
	err := c.Logout()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

// GetStats returns the current session statistics
func (c *UDPClient) GetStats() ChatStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	if c.session != nil {
		stats.Uptime = time.Since(c.stats.ConnectedAt)
	}
	return stats
}

// PrintStats writes session statistics to w
func (c *UDPClient) PrintStats(w io.Writer) {
	stats := c.GetStats()

	fmt.Fprintln(w, "\n📊 Chat Session Statistics")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if !stats.ConnectedAt.IsZero() {
		fmt.Fprintf(w, "  Connected at:       %s\n", stats.ConnectedAt.Format("2006-01-02 15:04:05"))
	}
	if stats.Uptime > 0 {
		fmt.Fprintf(w, "  Uptime:             %s\n", formatDuration(stats.Uptime))
	}
	fmt.Fprintf(w, "  Messages sent:      %d\n", stats.MessagesSent)
	fmt.Fprintf(w, "  Messages received:  %d\n", stats.MessagesReceived)
	if stats.DecodeFailures > 0 {
		fmt.Fprintf(w, "  Undecodable:        %d\n", stats.DecodeFailures)
	}

	if !stats.LastMessage.IsZero() {
		fmt.Fprintf(w, "  Last message:       %s\n", stats.LastMessage.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(w, "  Last message:       N/A\n")
	}
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	} else {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
}
