package native

import (
	"fmt"
	"syscall"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound reports a watch target missing at registration time.
	ErrNotFound = errors.New("path does not exist")
	// ErrClosed reports use of an engine after Close.
	ErrClosed = errors.New("watch engine closed")
	// ErrRootRemoved terminates a watch whose root was deleted or moved away.
	ErrRootRemoved = errors.New("watch root removed or moved")
	// ErrUnsupported reports a backend that cannot run on this platform.
	ErrUnsupported = errors.New("watch backend not supported on this platform")
)

// APIError reports a failed operating system call together with the code the
// system returned.
type APIError struct {
	Call string
	Code int
	Err  error
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s failed (code %d): %v", e.Call, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Call, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func newAPIError(call string, err error) error {
	if err == nil {
		return nil
	}
	apiErr := &APIError{Call: call, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		apiErr.Code = int(errno)
	}
	return apiErr
}

func notFoundError(path string) error {
	return errors.Wrapf(ErrNotFound, "watch %s", path)
}
