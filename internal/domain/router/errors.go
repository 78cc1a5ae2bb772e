package router

import "errors"

// Reasons an inbound event is dropped before any reply is built.
var (
	ErrSelf       = errors.New("event authored by the bot")
	ErrMalformed  = errors.New("malformed event")
	ErrIrrelevant = errors.New("event not addressed to the bot")
	ErrEmpty      = errors.New("nothing to answer after sanitizing")
)
