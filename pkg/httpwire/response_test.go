package httpwire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseBuilderBasic(t *testing.T) {
	t.Parallel()

	out := NewResponseBuilder().
		Status(200).
		Header("Content-Type", "application/json").
		BodyString(`{"status":"ok"}`).
		Build()

	s := string(out)
	require.True(t, strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, s, "content-length: 15\r\n")
	require.Contains(t, s, "content-type: application/json\r\n")
	require.True(t, strings.HasSuffix(s, `{"status":"ok"}`))
}

func TestResponseBuilderDefaultReason(t *testing.T) {
	t.Parallel()

	out := NewResponseBuilder().Status(404).Build()
	require.True(t, strings.HasPrefix(string(out), "HTTP/1.1 404 Not Found\r\n"))
}

func TestResponseBuilderChunked(t *testing.T) {
	t.Parallel()

	out := NewResponseBuilder().
		Status(200).
		Chunk([]byte("hello")).
		Chunk([]byte(" world")).
		Build()

	s := string(out)
	require.Contains(t, s, "transfer-encoding: chunked\r\n")
	require.NotContains(t, s, "content-length")
	require.True(t, strings.HasSuffix(s, "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"))
}

func TestResponseBuilderBothBodyAndChunkPanics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		NewResponseBuilder().BodyString("x").Chunk([]byte("y")).Build()
	})
}

func TestCreateMinimalConstructor(t *testing.T) {
	t.Parallel()

	out := Create(500, "boom")
	s := string(out)
	require.True(t, strings.HasPrefix(s, "HTTP/1.1 500 Internal Server Error\r\n"))
	require.True(t, strings.HasSuffix(s, "boom"))
}

func TestResponseBuilderDeterministicHeaderOrder(t *testing.T) {
	t.Parallel()

	b := func() []byte {
		return NewResponseBuilder().
			Header("Z-One", "1").
			Header("A-Two", "2").
			Status(200).
			Build()
	}
	first := b()
	second := b()
	require.Equal(t, first, second)

	s := string(first)
	require.True(t, strings.Index(s, "a-two") < strings.Index(s, "z-one"))
}
