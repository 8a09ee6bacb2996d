package preflight

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested Docker resource was not found.
var ErrNotFound = errors.New("docker: resource not found")

// ErrDaemonUnavailable means no usable Docker daemon answered.
var ErrDaemonUnavailable = errors.New("docker daemon unavailable")

// ErrCheckFailed marks a failed local build or smoke run.
var ErrCheckFailed = errors.New("preflight check failed")

// CheckError carries the output tail of a failed phase.
type CheckError struct {
	Phase  string
	Output string
	Err    error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("preflight %s failed: %v", e.Phase, e.Err)
}

func (e *CheckError) Is(target error) bool { return target == ErrCheckFailed }

func (e *CheckError) Unwrap() error { return e.Err }
