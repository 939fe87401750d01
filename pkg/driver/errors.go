package driver

import (
	"errors"
	"fmt"

	"github.com/krisarmstrong/omxconf/pkg/omx"
)

var (
	// ErrTimeout is a soft timeout: the wait expired and the caller decides
	// whether that matters.
	ErrTimeout = errors.New("wait timed out")

	// ErrUnresponsive is the hard timeout of the buffer pump: nothing could be
	// submitted and no buffer came back.
	ErrUnresponsive = errors.New("component unresponsive to buffer processing")

	// ErrNotAttached is returned when the driver has no component handle.
	ErrNotAttached = errors.New("no component attached")
)

// ViolationError reports a protocol violation by the component under test,
// such as a buffer returned twice or a callback naming the wrong port.
type ViolationError struct {
	Op     string
	Detail string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("protocol violation in %s: %s", e.Op, e.Detail)
}

// Unwrap makes violations match omx.ErrorUndefined.
func (e *ViolationError) Unwrap() error { return omx.ErrorUndefined }

func violation(op, format string, args ...any) *ViolationError {
	return &ViolationError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// MismatchError reports that an operation produced a different outcome than
// the scenario expected.
type MismatchError struct {
	Op   string
	Want omx.Error
	Got  omx.Error
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Op, e.Want.String(), e.Got.String())
}

// Unwrap returns the code the component actually produced.
func (e *MismatchError) Unwrap() error {
	if e.Got == omx.ErrorNone {
		return nil
	}
	return e.Got
}

// ExpectError checks that err carries exactly want. ErrorNone expects a nil
// error.
func ExpectError(op string, err error, want omx.Error) error {
	got := omx.Code(err)
	if got == want {
		return nil
	}
	return &MismatchError{Op: op, Want: want, Got: got}
}
