package errors

// ValidationError marks a fatal configuration or schema precondition
// failure (spec §7 "Validation" taxonomy entry): bad config, bad schema,
// bad magic/version/secret. These are raised at the factory layer and
// never retried.
type ValidationError struct {
	*baseError
	field    string
	provided any
	expected any
}

// NewValidationError constructs a ValidationError.
func NewValidationError(code ErrorCode, msg string) *ValidationError {
	return &ValidationError{baseError: NewBaseError(nil, code, msg)}
}

// WithField records which configuration field failed validation.
func (v *ValidationError) WithField(field string) *ValidationError {
	v.field = field
	return v
}

// WithProvided records the value that was rejected.
func (v *ValidationError) WithProvided(value any) *ValidationError {
	v.provided = value
	return v
}

// WithExpected describes what would have been accepted.
func (v *ValidationError) WithExpected(value any) *ValidationError {
	v.expected = value
	return v
}

// WithDetail attaches arbitrary structured context, preserving the concrete type.
func (v *ValidationError) WithDetail(key string, value any) *ValidationError {
	v.withDetail(key, value)
	return v
}

// Field returns the offending field name, if set.
func (v *ValidationError) Field() string { return v.field }

// Provided returns the rejected value.
func (v *ValidationError) Provided() any { return v.provided }

// Expected returns the description of an acceptable value.
func (v *ValidationError) Expected() any { return v.expected }
