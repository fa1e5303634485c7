package procmon

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for an empty command list or a malformed command.
	// Supervisor state is left untouched.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIllegalState is returned for lifecycle transitions the supervisor does not allow,
	// such as starting twice or starting after a stop.
	ErrIllegalState = errors.New("illegal supervisor state")

	// ErrProcessDead is the cause carried by a ChannelError when the child died while the
	// supervisor was still trying to reach it.
	ErrProcessDead = errors.New("process is not alive")
)

// LaunchError reports an OS-level failure to spawn a command.
type LaunchError struct {
	Key string
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.Key, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ChannelError reports that the control channel to a child could not be used.
// It is distinct from a child that is reachable but not ready yet.
type ChannelError struct {
	Key string
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("control channel %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// StartupError reports a child that died before it reported ready.
type StartupError struct {
	Key string
	Err error
}

func (e *StartupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("startup %q: process died before becoming ready", e.Key)
	}
	return fmt.Sprintf("startup %q: %v", e.Key, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func illegalState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalState, fmt.Sprintf(format, args...))
}
