package device

import "errors"

// ErrStateNotFound is returned when no state has ever been recorded
// for an address.
var ErrStateNotFound = errors.New("device: state not found")
