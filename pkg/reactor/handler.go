package reactor

import "github.com/kestrel-run/kestrel/pkg/httpwire"

// Handler produces a response for a parsed request. It runs on a task
// runtime worker, never on the reactor goroutine, so it may block
// without stalling the reactor loop; a blocked handler does occupy one
// of the runtime's fixed workers until it returns.
type Handler func(req *httpwire.Request) *httpwire.ResponseBuilder
