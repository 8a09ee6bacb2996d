package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidInput marks request validation failures raised before any network call.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidURL indicates the repository URL could not be parsed.
	ErrInvalidURL = errors.New("invalid repository url")
	// ErrCloneFailed indicates both the archive download and the clone fallback failed.
	ErrCloneFailed = errors.New("clone failed")
	// ErrCreateFailed indicates the target could not be created.
	ErrCreateFailed = errors.New("create target failed")
	// ErrPushFailed indicates the commit to the target failed.
	ErrPushFailed = errors.New("push failed")
	// ErrTimeout indicates the target did not reach RUNNING in time.
	ErrTimeout = errors.New("wait timeout")
	// ErrStageFailed indicates the platform reported a terminal error stage.
	ErrStageFailed = errors.New("runtime error stage")
	// ErrRepairExhausted indicates every allowed attempt failed.
	ErrRepairExhausted = errors.New("repair attempts exhausted")
)

// InputError describes a malformed request field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// FetchError wraps source acquisition failures. Kind is ErrInvalidURL or ErrCloneFailed.
type FetchError struct {
	Kind error
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %v: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Is(target error) bool { return target == e.Kind }

func (e *FetchError) Unwrap() error { return e.Err }

// DeployError wraps platform failures. Kind is ErrCreateFailed or ErrPushFailed.
type DeployError struct {
	Kind   error
	Target string
	Err    error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("%v for %s: %v", e.Kind, e.Target, e.Err)
}

func (e *DeployError) Is(target error) bool { return target == e.Kind }

func (e *DeployError) Unwrap() error { return e.Err }

// TimeoutError is returned when a wait exceeds its bound.
type TimeoutError struct {
	Target       string
	LastStage    string
	ErrorMessage string
	Elapsed      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not reach RUNNING within %s (last stage %q)", e.Target, e.Elapsed.Round(time.Second), e.LastStage)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// StageError is returned when the platform reports a terminal error stage.
type StageError struct {
	Target  string
	Stage   string
	Message string
}

func (e *StageError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s entered %s", e.Target, e.Stage)
	}
	return fmt.Sprintf("%s entered %s: %s", e.Target, e.Stage, e.Message)
}

func (e *StageError) Is(target error) bool { return target == ErrStageFailed }

// RepairExhaustedError is returned after the last allowed attempt fails.
type RepairExhaustedError struct {
	Attempts int
	History  []AttemptRecord
	Last     error
}

func (e *RepairExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RepairExhaustedError) Is(target error) bool { return target == ErrRepairExhausted }

func (e *RepairExhaustedError) Unwrap() error { return e.Last }

// FailureText extracts the observed failure text handed to the repair engine.
func FailureText(err error) string {
	if err == nil {
		return ""
	}
	var stage *StageError
	if errors.As(err, &stage) {
		return strings.TrimSpace(stage.Stage + "\n" + stage.Message)
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return strings.TrimSpace(timeout.LastStage + "\n" + timeout.ErrorMessage)
	}
	return err.Error()
}

// StatusFor maps a run outcome to its terminal status token.
func StatusFor(err error) Status {
	switch {
	case err == nil:
		return StatusRunning
	case errors.Is(err, ErrInvalidInput):
		return StatusError
	default:
		return StatusBuildError
	}
}
