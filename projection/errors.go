package projection

import "errors"

// ErrStreamInFlight is returned by Registry.Begin while a previous stream
// for the same task has not reached a terminal event. Rapid double-submits
// are rejected rather than queued.
var ErrStreamInFlight = errors.New("stream already in flight")
