package llm

import "errors"

// ErrUnavailable marks any failure to obtain a reply: transport errors,
// non-2xx statuses, or a response without message content.
var ErrUnavailable = errors.New("language model unavailable")
