package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	relay "chatrelay/internal/microservices/udp-relay"
	"chatrelay/internal/transport/udp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietClient(opts ...Option) *UDPClient {
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithReadTimeout(50 * time.Millisecond),
	}, opts...)
	return NewUDPClient(opts...)
}

// fakeRelay is a bare socket standing in for the relay
func fakeRelay(t *testing.T) *udp.Endpoint {
	t.Helper()
	ep, err := udp.Bind("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ep.SetReadTimeout(2*time.Second))
	t.Cleanup(func() { ep.Close() })
	return ep
}

func loggedIn(t *testing.T, server *udp.Endpoint, opts ...Option) *UDPClient {
	t.Helper()
	c := quietClient(opts...)
	require.NoError(t, c.Login(context.Background(), LoginRequest{
		LocalAddr:  "127.0.0.1:0",
		ServerAddr: server.LocalAddr().String(),
	}))
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForRedraw(t *testing.T, c *UDPClient) {
	t.Helper()
	require.Eventually(t, func() bool {
		redraw, _ := c.Poll()
		return redraw
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLogin(t *testing.T) {
	server := fakeRelay(t)
	c := loggedIn(t, server)

	info, ok := c.Session()
	require.True(t, ok)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, server.LocalAddr(), info.ServerAddr)
	assert.Equal(t, "127.0.0.1", info.LocalAddr.Addr().String())
	assert.True(t, c.IsConnected())

	err := c.Login(context.Background(), LoginRequest{LocalAddr: "127.0.0.1:0", ServerAddr: server.LocalAddr().String()})
	assert.ErrorIs(t, err, ErrAlreadyLoggedIn)

	again, _ := c.Session()
	assert.Equal(t, info.ID, again.ID, "a second login leaves the first session alone")
}

func TestLogin_Errors(t *testing.T) {
	t.Run("Bad local address", func(t *testing.T) {
		c := quietClient()
		err := c.Login(context.Background(), LoginRequest{LocalAddr: "nope", ServerAddr: "127.0.0.1:9000"})
		assert.ErrorIs(t, err, udp.ErrBind)
		assert.False(t, c.IsConnected())
	})

	t.Run("Bad server address", func(t *testing.T) {
		c := quietClient()
		err := c.Login(context.Background(), LoginRequest{LocalAddr: "127.0.0.1:0", ServerAddr: "127.0.0.1"})
		assert.ErrorIs(t, err, udp.ErrConnect)
		assert.False(t, c.IsConnected())
	})

	t.Run("Closed client", func(t *testing.T) {
		c := quietClient()
		require.NoError(t, c.Close())
		err := c.Login(context.Background(), LoginRequest{LocalAddr: "127.0.0.1:0", ServerAddr: "127.0.0.1:9000"})
		assert.ErrorIs(t, err, ErrClientClosed)
	})
}

func TestSend_WithoutSessionIsNoop(t *testing.T) {
	c := quietClient()
	assert.NoError(t, c.Send("hello?"))
	assert.Zero(t, c.GetStats().MessagesSent)
}

func TestSend_ReachesServer(t *testing.T) {
	server := fakeRelay(t)
	c := loggedIn(t, server)

	require.NoError(t, c.Send("hello"))

	buf := make([]byte, udp.DefaultBufferSize)
	n, src, err := server.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	info, _ := c.Session()
	assert.Equal(t, info.LocalAddr, src)
	assert.Equal(t, 1, c.GetStats().MessagesSent)
}

func TestReceiveLoop_AppendsAndPollClears(t *testing.T) {
	server := fakeRelay(t)
	c := loggedIn(t, server)
	info, _ := c.Session()

	lines := []string{"FROM: 127.0.0.1:1 MESSAGE: a", "FROM: 127.0.0.1:2 MESSAGE: b", "FROM: 127.0.0.1:3 MESSAGE: c"}
	for i, line := range lines {
		require.NoError(t, server.SendTo([]byte(line), info.LocalAddr))
		waitForRedraw(t, c)

		redraw, keepPolling := c.Poll()
		assert.False(t, redraw, "flag is cleared by the first poll")
		assert.True(t, keepPolling)
		assert.Equal(t, lines[:i+1], c.History())
	}

	assert.Equal(t, 3, c.GetStats().MessagesReceived)
}

func TestReceiveLoop_TimeoutChangesNothing(t *testing.T) {
	server := fakeRelay(t)
	c := loggedIn(t, server)

	// several 50ms read timeouts
	time.Sleep(250 * time.Millisecond)

	redraw, keepPolling := c.Poll()
	assert.False(t, redraw)
	assert.True(t, keepPolling)
	assert.Empty(t, c.History())
	assert.True(t, c.IsConnected())
}

func TestReceiveLoop_IgnoresStrangers(t *testing.T) {
	server := fakeRelay(t)
	stranger := fakeRelay(t)
	c := loggedIn(t, server)
	info, _ := c.Session()

	require.NoError(t, stranger.SendTo([]byte("spam"), info.LocalAddr))
	require.NoError(t, server.SendTo([]byte("real"), info.LocalAddr))
	waitForRedraw(t, c)

	assert.Equal(t, []string{"real"}, c.History())
}

func TestReceiveLoop_SkipsInvalidUTF8(t *testing.T) {
	server := fakeRelay(t)
	c := loggedIn(t, server)
	info, _ := c.Session()

	require.NoError(t, server.SendTo([]byte{0xff, 0xfe}, info.LocalAddr))
	require.NoError(t, server.SendTo([]byte("ok"), info.LocalAddr))
	waitForRedraw(t, c)

	assert.Equal(t, []string{"ok"}, c.History())
	assert.Equal(t, 1, c.GetStats().DecodeFailures)
}

func TestHistoryLimit(t *testing.T) {
	server := fakeRelay(t)
	c := loggedIn(t, server, WithHistoryLimit(2))
	info, _ := c.Session()

	for _, line := range []string{"1", "2", "3"} {
		require.NoError(t, server.SendTo([]byte(line), info.LocalAddr))
		waitForRedraw(t, c)
	}

	assert.Equal(t, []string{"2", "3"}, c.History())
}

func TestModify(t *testing.T) {
	c := quietClient()
	c.Modify(func(s *ChatState) {
		s.History = append(s.History, "local note")
		s.NewMessage = true
	})

	redraw, _ := c.Poll()
	assert.True(t, redraw)
	assert.Equal(t, []string{"local note"}, c.History())
}

func TestLogout(t *testing.T) {
	server := fakeRelay(t)
	c := loggedIn(t, server, WithReadTimeout(10*time.Second))
	info, _ := c.Session()

	require.NoError(t, server.SendTo([]byte("before"), info.LocalAddr))
	waitForRedraw(t, c)

	start := time.Now()
	require.NoError(t, c.Logout())
	assert.Less(t, time.Since(start), 2*time.Second, "closing the socket unblocks the receive loop")

	assert.False(t, c.IsConnected())
	assert.Equal(t, []string{"before"}, c.History())
	assert.NoError(t, c.Send("after"))
	assert.NoError(t, c.Logout(), "logging out twice is fine")

	require.NoError(t, c.Login(context.Background(), LoginRequest{
		LocalAddr:  "127.0.0.1:0",
		ServerAddr: server.LocalAddr().String(),
	}))
	assert.True(t, c.IsConnected())
}

func TestLogin_CancelledContextEndsSession(t *testing.T) {
	server := fakeRelay(t)
	c := quietClient()
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	req := LoginRequest{LocalAddr: "127.0.0.1:0", ServerAddr: server.LocalAddr().String()}
	require.NoError(t, c.Login(ctx, req))

	cancel()
	require.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, c.Logout(), "the session is already gone")

	require.NoError(t, c.Login(context.Background(), req))
	info, _ := c.Session()
	require.NoError(t, server.SendTo([]byte("after-cancel"), info.LocalAddr))
	waitForRedraw(t, c)
	assert.Equal(t, []string{"after-cancel"}, c.History())
}

func TestClose_StopsPolling(t *testing.T) {
	server := fakeRelay(t)
	c := loggedIn(t, server)

	require.NoError(t, c.Close())
	_, keepPolling := c.Poll()
	assert.False(t, keepPolling)
	assert.False(t, c.IsConnected())
}

func TestWaitForEcho(t *testing.T) {
	t.Run("Not logged in", func(t *testing.T) {
		_, err := quietClient().WaitForEcho(context.Background(), 10*time.Millisecond, "hi")
		assert.ErrorIs(t, err, ErrNotLoggedIn)
	})

	t.Run("Skips other peers", func(t *testing.T) {
		server := fakeRelay(t)
		c := loggedIn(t, server)
		info, _ := c.Session()
		other := netip.MustParseAddrPort("127.0.0.1:9")

		go func() {
			time.Sleep(50 * time.Millisecond)
			server.SendTo([]byte(relay.FormatFrom(other, "hi")), info.LocalAddr)
			server.SendTo([]byte(relay.FormatFrom(info.LocalAddr, "hi")), info.LocalAddr)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		line, err := c.WaitForEcho(ctx, 10*time.Millisecond, "hi")
		require.NoError(t, err)
		assert.Equal(t, "FROM: "+info.LocalAddr.String()+" MESSAGE: hi", line)
	})

	t.Run("Compact format", func(t *testing.T) {
		server := fakeRelay(t)
		c := loggedIn(t, server)
		info, _ := c.Session()

		require.NoError(t, server.SendTo([]byte(relay.FormatCompact(info.LocalAddr, "hi")), info.LocalAddr))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		line, err := c.WaitForEcho(ctx, 10*time.Millisecond, "hi")
		require.NoError(t, err)
		assert.Equal(t, info.LocalAddr.String()+" : hi", line)
	})

	t.Run("Flag without history", func(t *testing.T) {
		server := fakeRelay(t)
		c := loggedIn(t, server)
		c.Modify(func(s *ChatState) { s.NewMessage = true })

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := c.WaitForEcho(ctx, 10*time.Millisecond, "hi")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Context deadline", func(t *testing.T) {
		server := fakeRelay(t)
		c := loggedIn(t, server)
		info, _ := c.Session()
		require.NoError(t, server.SendTo([]byte("unrelated"), info.LocalAddr))

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := c.WaitForEcho(ctx, 10*time.Millisecond, "hi")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestPrintStats(t *testing.T) {
	c := quietClient()
	var out bytes.Buffer
	c.PrintStats(&out)
	assert.Contains(t, out.String(), "Messages sent:      0")
	assert.Contains(t, out.String(), "Last message:       N/A")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m 5s", formatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h 10m", formatDuration(2*time.Hour+10*time.Minute))
}

// Two clients talking through a real relay
func TestChatThroughRelay(t *testing.T) {
	server, err := relay.NewServer("127.0.0.1:0",
		relay.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		relay.WithReadTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)
	go server.Run(context.Background())
	t.Cleanup(func() { server.Shutdown() })

	relayAddr := server.Addr().String()
	a := quietClient()
	b := quietClient()
	require.NoError(t, a.Login(context.Background(), LoginRequest{LocalAddr: "127.0.0.1:0", ServerAddr: relayAddr}))
	require.NoError(t, b.Login(context.Background(), LoginRequest{LocalAddr: "127.0.0.1:0", ServerAddr: relayAddr}))
	t.Cleanup(func() { a.Close(); b.Close() })

	aInfo, _ := a.Session()
	bInfo, _ := b.Session()

	require.NoError(t, a.Send("hi"))
	waitForRedraw(t, a)
	assert.Equal(t, []string{"FROM: " + aInfo.LocalAddr.String() + " MESSAGE: hi"}, a.History())

	require.NoError(t, b.Send("yo"))
	waitForRedraw(t, a)
	waitForRedraw(t, b)

	yo := "FROM: " + bInfo.LocalAddr.String() + " MESSAGE: yo"
	assert.Equal(t, yo, a.History()[1])
	assert.Equal(t, []string{yo}, b.History())
}
