package task

import "errors"

// errAlreadyStarted is returned by Start when called more than once on
// the same Runtime.
var errAlreadyStarted = errors.New("task: runtime already started")
