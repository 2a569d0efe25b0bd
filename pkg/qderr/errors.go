// Package qderr defines the error taxonomy shared by all queryduck packages.
// Callers match errors with errors.Is against the sentinels below; every error
// returned by this module wraps exactly one of them.
package qderr

import (
	"errors"
	"fmt"
)

var (
	// ErrValue reports a malformed or unrecognized value representation.
	ErrValue = errors.New("invalid value")

	// ErrSchema reports a binding name that is absent from the loaded schemas.
	ErrSchema = errors.New("schema error")

	// ErrUser reports caller misuse, such as malformed query construction.
	ErrUser = errors.New("user error")

	// ErrNotFound reports that a referenced remote entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrGeneral is the fallback for unclassified failures.
	ErrGeneral = errors.New("general error")

	// ErrProtocol reports a wire format the client does not understand,
	// which usually means client and server versions disagree.
	ErrProtocol = errors.New("protocol error")
)

// Valuef returns an error wrapping ErrValue.
func Valuef(format string, args ...any) error {
	return wrapf(ErrValue, format, args...)
}

// Schemaf returns an error wrapping ErrSchema.
func Schemaf(format string, args ...any) error {
	return wrapf(ErrSchema, format, args...)
}

// Userf returns an error wrapping ErrUser.
func Userf(format string, args ...any) error {
	return wrapf(ErrUser, format, args...)
}

// Protocolf returns an error wrapping ErrProtocol.
func Protocolf(format string, args ...any) error {
	return wrapf(ErrProtocol, format, args...)
}

func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
