package hub

import "strings"

// Runtime stages reported by the platform.
const (
	StageRunning      = "RUNNING"
	StageBuilding     = "BUILDING"
	StageBuildError   = "BUILD_ERROR"
	StageRuntimeError = "RUNTIME_ERROR"
	StageConfigError  = "CONFIG_ERROR"
	StageNoAppFile    = "NO_APP_FILE"
)

// File is one entry of a commit.
type File struct {
	Path    string
	Content []byte
}

// Commit is a batched set of file writes with a message.
type Commit struct {
	Summary     string
	Description string
	Files       []File
}

// Runtime is the platform's view of a running Space.
type Runtime struct {
	Stage             string `json:"stage"`
	Hardware          string `json:"-"`
	RequestedHardware string `json:"-"`
	ErrorMessage      string `json:"errorMessage"`
}

// IsRunning compares the stage case-insensitively.
func (r Runtime) IsRunning() bool {
	return strings.EqualFold(r.Stage, StageRunning)
}

// IsError reports whether the stage is terminal and failed.
func (r Runtime) IsError() bool {
	switch strings.ToUpper(r.Stage) {
	case StageBuildError, StageRuntimeError, StageConfigError, StageNoAppFile:
		return true
	}
	return false
}

type runtimePayload struct {
	Stage    string `json:"stage"`
	Hardware struct {
		Current   *string `json:"current"`
		Requested *string `json:"requested"`
	} `json:"hardware"`
	ErrorMessage string `json:"errorMessage"`
}

func (p runtimePayload) runtime() Runtime {
	r := Runtime{Stage: p.Stage, ErrorMessage: p.ErrorMessage}
	if p.Hardware.Current != nil {
		r.Hardware = *p.Hardware.Current
	}
	if p.Hardware.Requested != nil {
		r.RequestedHardware = *p.Hardware.Requested
	}
	return r
}
