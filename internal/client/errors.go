package client

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyArtifact reports an optimize reply without code.
	ErrEmptyArtifact = errors.New("optimizer returned no optimized code")
	// ErrMalformedResponse reports a reply that is not the expected JSON.
	ErrMalformedResponse = errors.New("malformed response")
)

// ConnectivityError reports that a backend could not be reached or did not
// answer in time.
type ConnectivityError struct {
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ServiceError carries an error reported by the backend itself. Message is
// shown to the user verbatim.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string { return e.Message }

// IsConnectivity reports whether err is a connectivity failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsService reports whether err is a service-level failure.
func IsService(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
