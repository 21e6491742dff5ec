package netsim

import "errors"

// Transport-level errors (§7 TransportError), reported synchronously to
// the submitter.
var (
	ErrOversized          = errors.New("netsim: OVERSIZED")
	ErrUnknownDestination = errors.New("netsim: UNKNOWN_DESTINATION")
	ErrNetsimDown         = errors.New("netsim: NETSIM_DOWN")
)
