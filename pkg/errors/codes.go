// Package errors implements DataHub's error taxonomy (spec §7): a rich,
// structured error type for fatal/validation/operational failures, plus a
// small set of sentinel "expected outcome" values (Timeout, NoSlot, Stale)
// that callers compare with errors.Is rather than unwrap for detail.
//
// Grounded on iamNilotpal-ignite/pkg/errors: a baseError embedding cause,
// code, message and a lazily-allocated details map, wrapped by specialized
// fluent builders that each return their own concrete type so chaining
// preserves it.
package errors

// ErrorCode categorizes a DataHub error (the Code() of a ValidationError,
// SegmentError or ProtocolError) programmatically.
type ErrorCode string

const (
	// ErrorCodeInvalidConfig marks a bad producer/consumer configuration
	// (spec §6.3): out-of-range sizes, missing required fields, bad alignment.
	ErrorCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// ErrorCodeSchemaMismatch marks a BLDS fingerprint mismatch at attach
	// (spec §4.7, §8.4 scenario 4).
	ErrorCodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"

	// ErrorCodeCorruptSegment marks a failed header/layout checksum or bad
	// magic/version (spec §4.2 step 4).
	ErrorCodeCorruptSegment ErrorCode = "CORRUPT_SEGMENT"

	// ErrorCodeSecretMismatch marks a shared-secret check failure at attach.
	ErrorCodeSecretMismatch ErrorCode = "SECRET_MISMATCH"

	// ErrorCodeSegmentDestroyed marks an operational failure: the segment
	// backing a handle was unlinked or unmapped out from under it.
	ErrorCodeSegmentDestroyed ErrorCode = "SEGMENT_DESTROYED"

	// ErrorCodeBrokerUnreachable marks a failed call to the control-plane
	// broker (spec §6.2).
	ErrorCodeBrokerUnreachable ErrorCode = "BROKER_UNREACHABLE"

	// ErrorCodeHeartbeatTableFull marks the 9th-consumer-attach failure of
	// spec §8.3.
	ErrorCodeHeartbeatTableFull ErrorCode = "HEARTBEAT_TABLE_FULL"

	// ErrorCodeProtocolViolation marks a precondition violation inside a
	// transaction (index out of range, invalid state transition).
	ErrorCodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"

	// ErrorCodeIO marks a filesystem/shared-memory syscall failure.
	ErrorCodeIO ErrorCode = "IO_ERROR"
)
