package reactor

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/pkg/httpwire"
	"github.com/kestrel-run/kestrel/pkg/logging"
	"github.com/kestrel-run/kestrel/pkg/metrics"
	"github.com/kestrel-run/kestrel/pkg/routing"
	"github.com/kestrel-run/kestrel/pkg/task"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func startTestReactor(t *testing.T, router *routing.Router, keepAlive bool) (*Reactor, int) {
	t.Helper()

	rt := task.New(2, logging.Discard(), metrics.New())
	require.NoError(t, rt.Start(context.Background()))

	reg := metrics.New()
	r := New(Options{
		BindAddress: "127.0.0.1",
		Port:        0,
		Router:      router,
		Runtime:     rt,
		Log:         logging.Discard(),
		Metrics:     reg,
		Limits:      httpwire.DefaultLimits(),
		ReadTimeout: 5 * time.Second,
		KeepAlive:   keepAlive,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	port, err := r.ListenPort()
	require.NoError(t, err)

	t.Cleanup(func() {
		shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shCancel()
		_ = r.Shutdown(shCtx)
		cancel()
		rtCtx, rtCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer rtCancel()
		_ = rt.Shutdown(rtCtx)
	})

	return r, port
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(port)), 2*time.Second)
	require.NoError(t, err)
	return conn
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestReactorServesSimpleGet(t *testing.T) {
	t.Parallel()
	router := routing.New()
	require.NoError(t, router.Register("GET", "/hello", Handler(func(req *httpwire.Request) *httpwire.ResponseBuilder {
		return httpwire.NewResponseBuilder().Status(200).BodyString("world")
	})))

	_, port := startTestReactor(t, router, false)

	conn := dial(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "200")
}

func TestReactorReturns404ForUnknownRoute(t *testing.T) {
	t.Parallel()
	router := routing.New()
	_, port := startTestReactor(t, router, false)

	conn := dial(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "404")
}

func TestReactorReturns405WithAllowHeader(t *testing.T) {
	t.Parallel()
	router := routing.New()
	require.NoError(t, router.Register("GET", "/only-get", Handler(func(req *httpwire.Request) *httpwire.ResponseBuilder {
		return httpwire.NewResponseBuilder().Status(200)
	})))
	_, port := startTestReactor(t, router, false)

	conn := dial(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("POST /only-get HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "405")

	sawAllow := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil || line == "\r\n" {
			break
		}
		if len(line) >= 6 && (line[:6] == "allow:" || line[:6] == "Allow:") {
			sawAllow = true
		}
	}
	require.True(t, sawAllow)
}

func TestReactorClosesOnMalformedRequest(t *testing.T) {
	t.Parallel()
	router := routing.New()
	_, port := startTestReactor(t, router, false)

	conn := dial(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("NOT A REQUEST\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "400")
}

func TestReactorCatchesHandlerPanic(t *testing.T) {
	t.Parallel()
	router := routing.New()
	require.NoError(t, router.Register("GET", "/boom", Handler(func(req *httpwire.Request) *httpwire.ResponseBuilder {
		panic("handler exploded")
	})))
	_, port := startTestReactor(t, router, false)

	conn := dial(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /boom HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "500")
}

func TestReactorRejectsRequestsOverBodyBudget(t *testing.T) {
	t.Parallel()
	router := routing.New()
	require.NoError(t, router.Register("POST", "/upload", Handler(func(req *httpwire.Request) *httpwire.ResponseBuilder {
		return httpwire.NewResponseBuilder().Status(200)
	})))

	rt := task.New(2, logging.Discard(), metrics.New())
	require.NoError(t, rt.Start(context.Background()))

	reg := metrics.New()
	limits := httpwire.DefaultLimits()
	limits.MaxBodyBytes = 1 << 20
	r := New(Options{
		BindAddress: "127.0.0.1",
		Port:        0,
		Router:      router,
		Runtime:     rt,
		Log:         logging.Discard(),
		Metrics:     reg,
		Limits:      limits,
		ReadTimeout: 5 * time.Second,
	})
	// Shrink the budget far below one oversized body so a single
	// connection's read trips the TryAcquire failure path.
	r.bodySem = semaphore.NewWeighted(1024)
	r.bodySemThreshold = 512

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	port, err := r.ListenPort()
	require.NoError(t, err)
	t.Cleanup(func() {
		shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shCancel()
		_ = r.Shutdown(shCtx)
		cancel()
		rtCtx, rtCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer rtCancel()
		_ = rt.Shutdown(rtCtx)
	})

	conn := dial(t, port)
	defer conn.Close()

	body := make([]byte, 8192)
	req := "POST /upload HTTP/1.1\r\nHost: x\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)
	_, err = conn.Write(body)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "503")
}

func TestReactorShutdownClosesListener(t *testing.T) {
	t.Parallel()
	router := routing.New()
	r, port := startTestReactor(t, router, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	_, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(port)), 500*time.Millisecond)
	require.Error(t, err)
}
