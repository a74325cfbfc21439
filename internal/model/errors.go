package model

//
// Error taxonomy
//

import "errors"

// ConfigurationError is a fatal error that aborts the whole run,
// e.g., a missing browser driver or an injector that exits
// right after being started.
type ConfigurationError struct {
	// Op describes what we were doing.
	Op string

	// Err is the underlying error.
	Err error
}

// NewConfigurationError creates a new [*ConfigurationError].
func NewConfigurationError(op string, err error) *ConfigurationError {
	return &ConfigurationError{Op: op, Err: err}
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Op + ": " + e.Err.Error()
}

// Unwrap allows to use errors.Is and errors.As.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError returns whether err wraps a [*ConfigurationError].
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// TrialError is a non-fatal error that degrades a single trial.
type TrialError struct {
	// URL is the URL of the trial.
	URL string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *TrialError) Error() string {
	return "trial error: " + e.URL + ": " + e.Err.Error()
}

// Unwrap allows to use errors.Is and errors.As.
func (e *TrialError) Unwrap() error {
	return e.Err
}

// ProcessLifecycleError is a non-fatal error occurring when
// a process does not stop gracefully within its deadline.
type ProcessLifecycleError struct {
	// Name is the name of the process (e.g., "injector").
	Name string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *ProcessLifecycleError) Error() string {
	return e.Name + ": " + e.Err.Error()
}

// Unwrap allows to use errors.Is and errors.As.
func (e *ProcessLifecycleError) Unwrap() error {
	return e.Err
}
