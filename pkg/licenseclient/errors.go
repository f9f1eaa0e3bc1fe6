package licenseclient

import (
	"errors"
	"fmt"
)

// Sentinel errors for negative verdicts, returned by ValidateResponse.Err.
var (
	ErrLicenseNotFound = errors.New("license not found")
	ErrLicenseRevoked  = errors.New("license revoked")
	ErrLicenseExpired  = errors.New("license expired")
)

// ErrInvalidRequest is returned when the server rejects the request itself,
// e.g. an empty license key.
var ErrInvalidRequest = errors.New("invalid request")

// ServerError is a non-2xx response from the keyserver.
type ServerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
}

// requestError matches ErrInvalidRequest and still exposes the ServerError via errors.As.
type requestError struct {
	server *ServerError
}

func (e *requestError) Error() string {
	return ErrInvalidRequest.Error() + ": " + e.server.Message
}

func (e *requestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func (e *requestError) Unwrap() error {
	return e.server
}
