package service

import "errors"

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{}

func (tooBusyError) Error() string { return "too busy: generation queue is full" }

// ErrTooBusy constructs a backpressure error.
func ErrTooBusy() error { return tooBusyError{} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// dependencyUnavailableError signals a missing runtime dependency (e.g. a
// binary built without llama support) so the HTTP layer can return 503
// Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed
// runtime dependency. Errors from other packages participate by carrying a
// DependencyUnavailable marker method.
func IsDependencyUnavailable(err error) bool {
	if _, ok := err.(dependencyUnavailableError); ok {
		return true
	}
	var marker interface{ DependencyUnavailable() bool }
	return errors.As(err, &marker)
}
