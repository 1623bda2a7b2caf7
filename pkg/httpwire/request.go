// Package httpwire implements the HTTP/1.1 request parser and response
// builder kestrel's reactor drives connections through. The parser is
// tolerant of partial input: it is handed whatever bytes have been read
// from a non-blocking socket so far and reports whether it needs more,
// has a complete request, or has found the input unsalvageable.
package httpwire

import (
	"strconv"
	"strings"
)

// ParseStatus is the outcome of a single ParseRequest call.
type ParseStatus int

const (
	// NeedMore means buf does not yet contain a complete request; the
	// caller should read more bytes and try again.
	NeedMore ParseStatus = iota
	// Complete means a request was fully parsed; Consumed bytes of buf
	// were used and may be discarded (or retained, for pipelining
	// tolerance — see Request parser notes).
	Complete
	// Invalid means buf contains a request that can never be completed
	// as valid HTTP/1.1; the connection should receive an error response
	// and be closed.
	Invalid
)

// InvalidReason enumerates the ways a request can be rejected.
type InvalidReason int

const (
	ReasonNone InvalidReason = iota
	ReasonMalformedRequestLine
	ReasonUnsupportedMethod
	ReasonUnsupportedVersion
	ReasonFoldedHeader
	ReasonMalformedHeader
	ReasonHeaderTooLarge
	ReasonBodyTooLarge
	ReasonBadContentLength
	ReasonChunkedRequestBody
)

// Limits bounds how much of a request ParseRequest will accept.
type Limits struct {
	// MaxHeaderBytes bounds the request line + header block, default
	// 8192 per spec (a known-undersized default carried over
	// deliberately; callers needing larger headers must raise it).
	MaxHeaderBytes int
	// MaxBodyBytes bounds the declared Content-Length.
	MaxBodyBytes int
}

// DefaultLimits matches the configuration defaults named in the external
// interface: 8 KiB headers, 1 MiB body.
func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes: 8192,
		MaxBodyBytes:   1 << 20,
	}
}

// Request is a parsed HTTP/1.1 request. It is immutable after parsing,
// except for PathParams, which the router populates post-match.
type Request struct {
	Method     string
	Target     string // the raw request target, as sent
	Path       string // Target split at the first '?'
	Query      string // everything after the first '?', or ""
	ProtoMajor int
	ProtoMinor int
	Header     Header
	Body       []byte

	// PathParams is populated by the router after a successful match; it
	// is nil immediately after ParseRequest returns.
	PathParams map[string]string
}

var standardMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
	"CONNECT": true, "OPTIONS": true, "TRACE": true, "PATCH": true,
}

// ParseRequest attempts to parse a single HTTP/1.1 request from the
// front of buf. It never mutates buf. On Complete, consumed is the
// number of bytes of buf that made up the request; bytes beyond that
// remain valid for a subsequent ParseRequest call (pipelining
// tolerance), even though kestrel's handler dispatch currently closes
// the connection after one response.
func ParseRequest(buf []byte, limits Limits) (req *Request, consumed int, status ParseStatus, reason InvalidReason) {
	// Tolerate leading CRLFs before the request line, per RFC
	// recommendation.
	start := 0
	for start+1 < len(buf) && buf[start] == '\r' && buf[start+1] == '\n' {
		start += 2
	}

	headerEnd, ok := findHeaderBlockEnd(buf[start:])
	if !ok {
		if len(buf)-start > limits.MaxHeaderBytes {
			return nil, 0, Invalid, ReasonHeaderTooLarge
		}
		return nil, 0, NeedMore, ReasonNone
	}
	if headerEnd > limits.MaxHeaderBytes {
		return nil, 0, Invalid, ReasonHeaderTooLarge
	}

	block := buf[start : start+headerEnd]
	lineEnd := indexCRLF(block)
	if lineEnd < 0 {
		return nil, 0, Invalid, ReasonMalformedRequestLine
	}
	requestLine := block[:lineEnd]

	method, target, major, minor, ok := parseRequestLine(string(requestLine))
	if !ok {
		return nil, 0, Invalid, ReasonMalformedRequestLine
	}
	if !standardMethods[method] && !isValidToken(method) {
		return nil, 0, Invalid, ReasonUnsupportedMethod
	}
	if major != 1 || minor != 1 {
		return nil, 0, Invalid, ReasonUnsupportedVersion
	}

	headerBytes := block[lineEnd+2:]
	header, hok, folded := parseHeaders(headerBytes)
	if !hok {
		if folded {
			return nil, 0, Invalid, ReasonFoldedHeader
		}
		return nil, 0, Invalid, ReasonMalformedHeader
	}

	if te := header.Get("transfer-encoding"); te != "" {
		if strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return nil, 0, Invalid, ReasonChunkedRequestBody
		}
	}

	bodyLen := 0
	if cl := header.Get("content-length"); cl != "" {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, 0, Invalid, ReasonBadContentLength
		}
		if n > limits.MaxBodyBytes {
			return nil, 0, Invalid, ReasonBodyTooLarge
		}
		bodyLen = n
	}

	totalNeeded := start + headerEnd + bodyLen
	if len(buf) < totalNeeded {
		return nil, 0, NeedMore, ReasonNone
	}

	var body []byte
	if bodyLen > 0 {
		body = make([]byte, bodyLen)
		copy(body, buf[start+headerEnd:totalNeeded])
	}

	path, query := splitTarget(target)

	req = &Request{
		Method:     method,
		Target:     target,
		Path:       path,
		Query:      query,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     header,
		Body:       body,
	}
	return req, totalNeeded, Complete, ReasonNone
}

// findHeaderBlockEnd returns the offset just past the blank line
// terminating the header block (i.e. the start of the body), or false if
// buf does not yet contain one.
func findHeaderBlockEnd(buf []byte) (int, bool) {
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' && buf[i+2] == '\r' && buf[i+3] == '\n' {
			return i + 4, true
		}
	}
	return 0, false
}

func indexCRLF(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func parseRequestLine(line string) (method, target string, major, minor int, ok bool) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return "", "", 0, 0, false
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if method == "" || target == "" {
		return "", "", 0, 0, false
	}
	if !strings.HasPrefix(proto, "HTTP/") {
		return "", "", 0, 0, false
	}
	ver := strings.TrimPrefix(proto, "HTTP/")
	dot := strings.IndexByte(ver, '.')
	if dot < 0 {
		return "", "", 0, 0, false
	}
	maj, err1 := strconv.Atoi(ver[:dot])
	min, err2 := strconv.Atoi(ver[dot+1:])
	if err1 != nil || err2 != nil {
		return "", "", 0, 0, false
	}
	return method, target, maj, min, true
}

func isValidToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

// parseHeaders parses the header block (excluding the request line and
// the trailing blank line). It lowercases names, rejects obsolete line
// folding, and reports folded separately from other malformations so
// callers can tell the two apart (ParseRequest maps them to
// ReasonFoldedHeader and ReasonMalformedHeader).
func parseHeaders(buf []byte) (h Header, ok bool, folded bool) {
	h = make(Header)
	lines := splitHeaderLines(buf)
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, false, true
		}
		colon := indexByte(line, ':')
		if colon <= 0 {
			return nil, false, false
		}
		name := strings.ToLower(strings.TrimSpace(string(line[:colon])))
		if !isValidToken(name) {
			return nil, false, false
		}
		value := strings.TrimSpace(string(line[colon+1:]))
		if !isValidHeaderValue(value) {
			return nil, false, false
		}
		h.Set(name, value)
	}
	return h, true, false
}

func splitHeaderLines(buf []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			lines = append(lines, buf[start:i])
			start = i + 2
			i++
		}
	}
	if start < len(buf) {
		lines = append(lines, buf[start:])
	}
	return lines
}

func indexByte(buf []byte, c byte) int {
	for i, b := range buf {
		if b == c {
			return i
		}
	}
	return -1
}

func splitTarget(target string) (path, query string) {
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		return target[:idx], target[idx+1:]
	}
	return target, ""
}
