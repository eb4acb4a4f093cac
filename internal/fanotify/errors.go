package fanotify

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("fanotify session closed")

// StartupError means a session could not be created. It is not retried.
type StartupError struct {
	Op   string
	Path string
	Err  error
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("fanotify %s", e.Op)
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Err.Error()
	switch {
	case errors.Is(e.Err, unix.EPERM):
		msg += " (requires root or CAP_SYS_ADMIN)"
	case errors.Is(e.Err, unix.ENOSYS):
		msg += " (kernel built without fanotify)"
	}
	return msg
}

func (e *StartupError) Unwrap() error { return e.Err }

// ReadError is a non-transient failure reading or decoding the event
// stream. The session is unusable afterwards.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return "reading fanotify events: " + e.Err.Error() }

func (e *ReadError) Unwrap() error { return e.Err }
