package node

import "errors"

// Sentinel errors for the node library's own misuse/precondition checks
// (§7: protocol misuse). Callers distinguish them with
// errors.Is rather than string matching.
var (
	// ErrReservedTag is returned by Barrier when the caller supplies a
	// tag <= 0; those tags are reserved for the collective engine.
	ErrReservedTag = errors.New("node: tag is reserved for internal use")

	// ErrNotPowerOfTwo is returned by a collective when the cohort size
	// learned from the hub is not a power of two.
	ErrNotPowerOfTwo = errors.New("node: collective requires a power-of-two node count")
)
