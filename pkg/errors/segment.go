package errors

// SegmentError marks a failure tied to a specific shared-memory segment:
// corruption, schema mismatch at attach, secret mismatch, or the segment
// having been destroyed out from under a live handle (spec §7
// "Operational" taxonomy entry). Carries enough context for user-visible
// diagnostics without exposing raw pointers or internal handles (spec §7
// "User-visible failure behavior").
type SegmentError struct {
	*baseError
	channel string
	slotID  int64 // -1 when not slot-specific
}

// NewSegmentError constructs a SegmentError.
func NewSegmentError(cause error, code ErrorCode, msg string) *SegmentError {
	return &SegmentError{baseError: NewBaseError(cause, code, msg), slotID: -1}
}

// WithChannel records the DataHub channel name involved.
func (s *SegmentError) WithChannel(channel string) *SegmentError {
	s.channel = channel
	return s
}

// WithSlotID records the logical slot index involved, if any.
func (s *SegmentError) WithSlotID(id uint64) *SegmentError {
	s.slotID = int64(id)
	return s
}

// WithDetail attaches arbitrary structured context, preserving the concrete type.
func (s *SegmentError) WithDetail(key string, value any) *SegmentError {
	s.withDetail(key, value)
	return s
}

// Channel returns the channel name, if set.
func (s *SegmentError) Channel() string { return s.channel }

// SlotID returns the slot index, or -1 if this error is not slot-specific.
func (s *SegmentError) SlotID() int64 { return s.slotID }
