package reconcile

import "errors"

// ErrUnrecoverableOutOfOrder is returned when an event predates all
// retained history. The instance's event stream cannot be repaired and
// the owner must perform a full reset.
var ErrUnrecoverableOutOfOrder = errors.New("reconcile: event older than retained history")
