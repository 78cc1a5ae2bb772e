package lookup

import "errors"

// ErrUnavailable marks a lookup that could not reach the relay.
var ErrUnavailable = errors.New("lookup unavailable")
