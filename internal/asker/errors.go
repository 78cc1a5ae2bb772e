package asker

import "errors"

// Sentinel errors for the asker.
var (
	ErrInvalidConfig = errors.New("invalid asker config")
	ErrNoAnswer      = errors.New("no answer before timeout")
	ErrUnreadable    = errors.New("answer could not be decrypted")
)
