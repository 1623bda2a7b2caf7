package httpwire

import (
	"net/http"
	"strconv"
	"strings"
)

// ResponseBuilder is a fluent builder for HTTP/1.1 response bytes. It
// carries either a body or a sequence of chunks, never both — Build
// panics if both have been set, since that invariant is cheap to check
// at the one place it could be violated and expensive to debug if it
// silently picked one.
type ResponseBuilder struct {
	statusCode int
	reason     string
	header     Header
	body       []byte
	bodySet    bool
	chunks     [][]byte
	chunkedSet bool
}

// NewResponseBuilder starts a builder defaulted to 200 OK with no
// headers or body set.
func NewResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		header:     make(Header),
	}
}

// Status sets the status code; the reason phrase is derived from the
// standard table unless Reason is also called.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

// Reason overrides the default reason phrase for the current status
// code.
func (b *ResponseBuilder) Reason(reason string) *ResponseBuilder {
	b.reason = reason
	return b
}

// Header sets a response header, lowercasing the name and replacing any
// existing value.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.header.Set(name, value)
	return b
}

// Body sets a fixed body. Exclusive with Chunk.
func (b *ResponseBuilder) Body(body []byte) *ResponseBuilder {
	b.body = body
	b.bodySet = true
	return b
}

// BodyString is a convenience wrapper around Body for string bodies.
func (b *ResponseBuilder) BodyString(body string) *ResponseBuilder {
	return b.Body([]byte(body))
}

// Chunk appends one chunk of a chunked-mode body. Exclusive with Body.
func (b *ResponseBuilder) Chunk(data []byte) *ResponseBuilder {
	b.chunks = append(b.chunks, data)
	b.chunkedSet = true
	return b
}

// Build emits the response bytes: status line, headers sorted by
// lowercased name (so the order is deterministic), a blank line, then body.
func (b *ResponseBuilder) Build() []byte {
	if b.bodySet && b.chunkedSet {
		panic("httpwire: ResponseBuilder has both Body and Chunk set")
	}

	reason := b.reason
	if reason == "" {
		reason = http.StatusText(b.statusCode)
	}

	header := cloneHeader(b.header)
	var bodyBytes []byte

	switch {
	case b.chunkedSet:
		header.Set("transfer-encoding", "chunked")
		delete(header, "content-length")
		bodyBytes = buildChunkedBody(b.chunks)
	default:
		if !header.Has("content-length") {
			header.Set("content-length", strconv.Itoa(len(b.body)))
		}
		bodyBytes = b.body
	}

	var out strings.Builder
	out.WriteString("HTTP/1.1 ")
	out.WriteString(strconv.Itoa(b.statusCode))
	out.WriteByte(' ')
	out.WriteString(reason)
	out.WriteString("\r\n")

	for _, name := range sortedKeys(header) {
		out.WriteString(name)
		out.WriteString(": ")
		out.WriteString(header[name])
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n")

	result := make([]byte, 0, out.Len()+len(bodyBytes))
	result = append(result, out.String()...)
	result = append(result, bodyBytes...)
	return result
}

func buildChunkedBody(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, strconv.FormatInt(int64(len(c)), 16)...)
		out = append(out, '\r', '\n')
		out = append(out, c...)
		out = append(out, '\r', '\n')
	}
	out = append(out, "0\r\n\r\n"...)
	return out
}

func cloneHeader(h Header) Header {
	c := make(Header, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

func sortedKeys(h Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	// Simple insertion sort: header counts are tiny (single digits), so
	// this avoids pulling in sort for a handful of comparisons per
	// response and keeps ordering deterministic per-call as required.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// Create is the minimal Response constructor named in the external
// interface: a plain 200 (or given status) with a string body.
func Create(status int, body string) []byte {
	return NewResponseBuilder().Status(status).BodyString(body).Build()
}
