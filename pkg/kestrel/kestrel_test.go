package kestrel

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/pkg/config"
	"github.com/kestrel-run/kestrel/pkg/httpwire"
	"github.com/kestrel-run/kestrel/pkg/logging"
	"github.com/kestrel-run/kestrel/pkg/reactor"
	"github.com/stretchr/testify/require"
)

func buildTestServer(t *testing.T) (*Server, *Builder) {
	t.Helper()
	cfg := config.New(config.WithPort(18080), config.WithWorkers(2))
	b := NewBuilder(cfg).WithLogger(logging.Discard())
	require.NoError(t, b.Handle("GET", "/hello", reactor.Handler(func(req *httpwire.Request) *httpwire.ResponseBuilder {
		return httpwire.NewResponseBuilder().Status(200).BodyString("world")
	})))
	srv, err := b.Build()
	require.NoError(t, err)
	return srv, b
}

func TestBuildFailsWithoutPort(t *testing.T) {
	t.Parallel()
	b := NewBuilder(config.New())
	_, err := b.Build()
	require.Error(t, err)
}

func TestStartBlockingServesTrafficUntilShutdown(t *testing.T) {
	t.Parallel()
	srv, _ := buildTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.StartBlocking(ctx) }()

	var port int
	require.Eventually(t, func() bool {
		p, err := srv.reactor.ListenPort()
		if err != nil || p == 0 {
			return false
		}
		port = p
		return true
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoaKestrel(port)), 2*time.Second)
	require.NoError(t, err)
	_, err = conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "200")
	conn.Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("StartBlocking did not return after ctx cancellation")
	}
}

func itoaKestrel(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
