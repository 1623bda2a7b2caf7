package routing

import (
	"fmt"
	"strings"
)

// segment is one element of a compiled PathPattern: either a literal to
// match exactly or a named capture that binds one path segment.
type segment struct {
	literal string
	capture string // "" if this is a literal segment
}

// PathPattern is an ordered sequence of segments compiled from a
// "/literal/:param/literal" string. Captures may not span '/' — each
// ":name" binds exactly one segment.
type PathPattern struct {
	raw      string
	segments []segment
}

// CompilePattern parses pattern into a PathPattern, rejecting duplicate
// capture names within the same pattern.
func CompilePattern(pattern string) (*PathPattern, error) {
	parts := strings.Split(pattern, "/")
	segs := make([]segment, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for _, p := range parts {
		if strings.HasPrefix(p, ":") {
			name := p[1:]
			if name == "" {
				return nil, fmt.Errorf("routing: empty capture name in pattern %q", pattern)
			}
			if seen[name] {
				return nil, fmt.Errorf("routing: duplicate capture name %q in pattern %q", name, pattern)
			}
			seen[name] = true
			segs = append(segs, segment{capture: name})
		} else {
			segs = append(segs, segment{literal: p})
		}
	}

	return &PathPattern{raw: pattern, segments: segs}, nil
}

// String returns the pattern as originally given.
func (p *PathPattern) String() string {
	return p.raw
}

// match attempts to match pathSegments (already split on '/') against p,
// returning the bound capture values on success.
func (p *PathPattern) match(pathSegments []string) (map[string]string, bool) {
	if len(pathSegments) != len(p.segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range p.segments {
		value := pathSegments[i]
		if seg.capture == "" {
			if seg.literal != value {
				return nil, false
			}
			continue
		}
		if value == "" {
			// Captures bind one non-empty segment.
			return nil, false
		}
		if params == nil {
			params = make(map[string]string, len(p.segments))
		}
		params[seg.capture] = value
	}
	return params, true
}

// shape returns a key identifying this pattern's segment structure
// (literal vs capture per position), used to detect ambiguous patterns
// registered on the same method that could never be distinguished.
func (p *PathPattern) shape() string {
	var b strings.Builder
	for _, seg := range p.segments {
		if seg.capture == "" {
			b.WriteString("L:")
			b.WriteString(seg.literal)
		} else {
			b.WriteString("C")
		}
		b.WriteByte('/')
	}
	return b.String()
}

// splitPath splits a request path on '/', preserving the leading empty
// segment convention ("/a/b" -> ["", "a", "b"]).
func splitPath(path string) []string {
	// normalizePath collapses any run of '/' before this is called, so a
	// plain strings.Split is sufficient here.
	return strings.Split(path, "/")
}

// normalizePath collapses repeated slashes, matching the teacher's
// NormalizedServeMux behavior (it special-cased "//" before delegating
// to http.ServeMux's own path.Clean-based normalization).
func normalizePath(path string) string {
	if !strings.Contains(path, "//") {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
