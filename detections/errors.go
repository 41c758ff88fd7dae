package detections

import (
	"fmt"

	"github.com/pkg/errors"
)

// FormatError reports plane data that cannot describe the declared frame.
// The frame is dropped; the pipeline keeps running.
type FormatError struct {
	Message string
	Cause   error
}

func (e *FormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("format: %s: %v", e.Message, e.Cause)
	}
	return "format: " + e.Message
}

func (e *FormatError) Unwrap() error { return e.Cause }

// ErrInvalidTensor is the cause of an InferenceError raised because the
// engine refused its input; the engine itself is still usable.
var ErrInvalidTensor = errors.New("invalid input tensor")

// InferenceError reports a failed engine invocation or a malformed engine
// result. The frame is dropped and is not retried.
type InferenceError struct {
	Message string
	Cause   error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("inference: %s: %v", e.Message, e.Cause)
	}
	return "inference: " + e.Message
}

func (e *InferenceError) Unwrap() error { return e.Cause }

// ResourceError reports an engine that could not be loaded. It is fatal and
// is raised before any frame is processed.
type ResourceError struct {
	Message string
	Cause   error
}

func (e *ResourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resource: %s: %v", e.Message, e.Cause)
	}
	return "resource: " + e.Message
}

func (e *ResourceError) Unwrap() error { return e.Cause }

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Message: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err must stop the pipeline.
func IsFatal(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}
