package license

import "errors"

var (
	ErrNotFound     = errors.New("license not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConcurrentUpdate means the license kept changing underneath a
	// validation and no stable verdict could be reached.
	ErrConcurrentUpdate = errors.New("license changed concurrently")
)
