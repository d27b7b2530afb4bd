package source

import (
	"errors"
	"fmt"
)

// SourceType identifies the kind of external system an error came from.
type SourceType string

const (
	SourceTypeEmail SourceType = "email"
	SourceTypeCRM   SourceType = "crm"
	SourceTypeModel SourceType = "model"
)

// ErrNotFound is returned when a requested item no longer resolves,
// e.g. a message deleted or moved between listing and fetching.
var ErrNotFound = errors.New("not found")

// ErrMalformed marks an item that was retrieved but can never be decoded.
// Retrying it cannot succeed.
var ErrMalformed = errors.New("malformed item")

// AuthError indicates that authentication has failed or expired for a source.
// It is returned when the remote side rejects credentials.
type AuthError struct {
	SourceType SourceType
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ConnectionError is returned once the connect retry budget is exhausted.
// The orchestrator treats it as "skip this cycle", never as fatal.
type ConnectionError struct {
	SourceType SourceType
	Attempts   int
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s) after %d attempts: %v", e.SourceType, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err (or any error in its chain) is a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
