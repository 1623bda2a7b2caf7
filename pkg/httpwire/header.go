package httpwire

import "strings"

// Header is a mapping from lowercase header name to value. Unlike
// net/http.Header, duplicates are last-write-wins rather than
// accumulated into a slice — this is the wire-level representation
// parseHeaders and the ResponseBuilder both operate on.
type Header map[string]string

// Get returns the value for name, case-insensitively, or "" if absent.
func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Set stores value under the lowercased form of name, replacing any
// existing value.
func (h Header) Set(name, value string) {
	h[strings.ToLower(name)] = value
}

// Has reports whether name is present, case-insensitively.
func (h Header) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '!', c == '#', c == '$', c == '%', c == '&', c == '\'',
		c == '*', c == '+', c == '-', c == '.', c == '^', c == '_',
		c == '`', c == '|', c == '~':
		return true
	default:
		return false
	}
}

func isValidHeaderValue(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
