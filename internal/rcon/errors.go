package rcon

import "errors"

// Transport errors returned by Execute. Callers are expected to match
// with errors.Is and log-and-continue rather than tear the loop down.
var (
	// ErrNotConnected reports that no authenticated connection was
	// available within the auth wait window.
	ErrNotConnected = errors.New("rcon: not connected")
	// ErrTimeout reports that the server did not answer a command
	// within the response window.
	ErrTimeout = errors.New("rcon: response timed out")
	// ErrOversize reports a command body larger than the protocol's
	// single-frame bound. Splitting is the caller's responsibility.
	ErrOversize = errors.New("rcon: command body exceeds protocol limit")
	// ErrSlotsBusy reports that every request slot in the id window is
	// still awaiting a response.
	ErrSlotsBusy = errors.New("rcon: all request slots in flight")
	// ErrClosed reports that the client has been shut down.
	ErrClosed = errors.New("rcon: client closed")
)

// ErrBadFrame reports a malformed frame. It is handled inside the
// client by clearing the receive buffer and is never returned from
// Execute.
var ErrBadFrame = errors.New("rcon: bad frame")
