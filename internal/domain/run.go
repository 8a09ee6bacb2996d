package domain

import (
	"strings"
	"time"
)

// Status is the terminal token reported for a run.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusBuildError Status = "BUILD_ERROR"
	StatusSynced     Status = "SYNCED"
	StatusError      Status = "ERROR"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// SourceOrigin records how a source bundle was obtained.
type SourceOrigin string

const (
	OriginArchive SourceOrigin = "archive"
	OriginClone   SourceOrigin = "clone"
)

// SourceBundle is a local directory tree holding the fetched repository.
// Root is owned by the run that fetched it and removed when the run ends.
type SourceBundle struct {
	Root   string
	Origin SourceOrigin
	Branch string
	Repo   string
}

// HardwareKind explains where a hardware tier came from.
type HardwareKind string

const (
	HardwareOverride    HardwareKind = "override"
	HardwareInferredGPU HardwareKind = "inferred-gpu"
	HardwareInferredCPU HardwareKind = "inferred-cpu"
)

// HardwareDecision is the tier requested for a target. An empty Tier means
// no hardware request is made.
type HardwareDecision struct {
	Kind HardwareKind `json:"kind"`
	Tier string       `json:"tier,omitempty"`
}

// DecideHardware applies the override-first rule: a caller supplied tier
// always wins, otherwise GPU evidence selects gpuTier and CPU needs nothing.
func DecideHardware(override string, needsGPU bool, gpuTier string) HardwareDecision {
	if tier := strings.TrimSpace(override); tier != "" {
		return HardwareDecision{Kind: HardwareOverride, Tier: tier}
	}
	if needsGPU {
		return HardwareDecision{Kind: HardwareInferredGPU, Tier: gpuTier}
	}
	return HardwareDecision{Kind: HardwareInferredCPU}
}

// DeploymentTarget identifies a Space on the hosting platform.
type DeploymentTarget struct {
	Namespace string
	Name      string
	Private   bool
	Hardware  HardwareDecision
}

// ID returns the platform identifier namespace/name.
func (t DeploymentTarget) ID() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "/" + t.Name
}

// AttemptRecord captures one deploy-and-wait attempt.
type AttemptRecord struct {
	Ordinal       int       `json:"ordinal"`
	Failure       string    `json:"failure,omitempty"`
	RepairApplied bool      `json:"repair_applied"`
	Recipes       []string  `json:"recipes,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// Succeeded reports whether the attempt ended with the target running.
func (a AttemptRecord) Succeeded() bool {
	return a.Failure == "" && !a.EndedAt.IsZero()
}
