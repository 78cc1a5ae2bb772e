package testrelay

// Option configures a Relay.
type Option func(*Relay)

// WithoutEOSE makes the relay never send EOSE, so clients rely on timeouts.
func WithoutEOSE() Option {
	return func(r *Relay) { r.eose = false }
}

// WithoutOK suppresses OK acknowledgements for published events.
func WithoutOK() Option {
	return func(r *Relay) { r.autoOK = false }
}
