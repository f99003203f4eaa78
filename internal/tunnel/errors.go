package tunnel

import (
	"errors"
	"fmt"
)

// ErrReadinessTimeout means the forwarded port never became connectable in
// time. The spawned process has already been terminated; callers may retry
// by opening a fresh tunnel.
var ErrReadinessTimeout = errors.New("timeout waiting for tunnel to become ready")

// ProcessError reports a failure spawning or signaling the ssh child process.
type ProcessError struct {
	Op  string
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("tunnel process %s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
