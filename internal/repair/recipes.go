package repair

import (
	"regexp"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/dockerfile"
)

// Recipe pairs a failure signature with an idempotent Dockerfile edit.
// Apply reports whether it changed the artifact.
type Recipe struct {
	Name    string
	Pattern *regexp.Regexp
	Apply   func(a *dockerfile.Artifact) bool
}

const (
	AptOpenCVGlib  = "apt_opencv_glib"
	AptOpenCVGL    = "apt_opencv_gl"
	AptFFmpeg      = "apt_ffmpeg"
	AvoidMMCVBuild = "avoid_mmcv_build"
	ForceCuda0     = "force_cuda0"
	PyPathFix      = "py_path_fix"
)

// RewriteCudaOrdinal points every hard-coded cuda:N device above zero at cuda:0.
const RewriteCudaOrdinal = `RUN grep -rlE "` + dockerfile.CudaOrdinalPattern + `" . | xargs -r sed -i -E "` + dockerfile.CudaOrdinalRewrite + `" || true`

// DefaultBundle is applied when no recipe matches the failure text.
var DefaultBundle = []string{AptOpenCVGlib, AptOpenCVGL, AptFFmpeg, PyPathFix}

// DefaultRecipes is the ordered recipe table.
var DefaultRecipes = []Recipe{
	{
		Name:    AptOpenCVGlib,
		Pattern: regexp.MustCompile(`libgthread-2\.0\.so\.0`),
		Apply:   aptPackage("libglib2.0-0"),
	},
	{
		Name:    AptOpenCVGL,
		Pattern: regexp.MustCompile(`libGL\.so\.1`),
		Apply:   aptPackage("libgl1"),
	},
	{
		Name:    AptFFmpeg,
		Pattern: regexp.MustCompile(`ffmpeg`),
		Apply:   aptPackage("ffmpeg"),
	},
	{
		Name:    AvoidMMCVBuild,
		Pattern: regexp.MustCompile(`CUDA_HOME environment variable is not set`),
		Apply:   avoidMMCVBuild,
	},
	{
		Name:    ForceCuda0,
		Pattern: regexp.MustCompile(`invalid device ordinal`),
		Apply:   forceCuda0,
	},
	{
		Name:    PyPathFix,
		Pattern: regexp.MustCompile(`ModuleNotFoundError: No module named '(\w+)'`),
		Apply:   pyPathFix,
	},
}

func aptPackage(pkg string) func(*dockerfile.Artifact) bool {
	return func(a *dockerfile.Artifact) bool {
		return a.EnsureAptPackage(pkg)
	}
}

func avoidMMCVBuild(a *dockerfile.Artifact) bool {
	changed := false
	if !a.Contains("mmcv-lite") {
		a.InsertAfterCopy(dockerfile.MMCVLite)
		changed = true
	}
	if a.StripFromManifestInstalls("mmcv") {
		changed = true
	}
	return changed
}

func forceCuda0(a *dockerfile.Artifact) bool {
	changed := a.EnsureEnv("CUDA_VISIBLE_DEVICES", "0")
	if !a.Contains(dockerfile.CudaOrdinalRewrite) {
		a.InsertAfterCopy(RewriteCudaOrdinal)
		changed = true
	}
	return changed
}

func pyPathFix(a *dockerfile.Artifact) bool {
	if a.Contains("PYTHONPATH=") {
		return false
	}
	a.InsertAfterFrom(dockerfile.EnvPythonPath)
	return true
}
