package engine

import "errors"

// ErrStopped is returned when work is submitted after the engine stopped.
var ErrStopped = errors.New("engine stopped")
