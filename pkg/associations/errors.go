package associations

import "errors"

// ErrPeerUnreachable indicates the remote datasite could not be reached.
// Associations degrade toward expiry on repeated failures; the local server
// keeps running.
var ErrPeerUnreachable = errors.New("peer datasite unreachable")

// ErrInvalidTransition indicates a state change outside the legal graph.
var ErrInvalidTransition = errors.New("invalid association state transition")

// ErrConflict indicates a compare-and-set transition lost to a concurrent
// writer; the caller should reload and re-evaluate.
var ErrConflict = errors.New("association state changed concurrently")

// ErrNotFound indicates the requested association does not exist.
var ErrNotFound = errors.New("association not found")

// ErrAlreadyAssociated indicates a non-terminal association with the same
// peer already exists; expired associations require a fresh handshake, but
// live ones are not duplicated.
var ErrAlreadyAssociated = errors.New("association with this peer already exists")
