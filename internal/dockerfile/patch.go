package dockerfile

import "strings"

// Lines injected by Patch when the corresponding property is missing.
const (
	InstallBash       = "RUN apt-get update && apt-get install -y --no-install-recommends bash && rm -rf /var/lib/apt/lists/*"
	EnvPythonPath     = "ENV PYTHONPATH=/workspace/app"
	EnvCudaDevice     = "ENV CUDA_VISIBLE_DEVICES=0"
	EnvNonInteractive = "ENV DEBIAN_FRONTEND=noninteractive"
	InstallMultimedia = "RUN apt-get update && apt-get install -y --no-install-recommends tzdata libglib2.0-0 libgl1 libsm6 libxext6 libxrender1 ffmpeg && rm -rf /var/lib/apt/lists/*"
	EnvOMPThreads     = "ENV OMP_NUM_THREADS=1"
	WritableUserDir   = "RUN mkdir -p /workspace/app/user && chmod -R a+rwx /workspace || true"
)

type requirement struct {
	present func(content string, lines []string) bool
	inject  string
}

var checklist = []requirement{
	{present: hasBash, inject: InstallBash},
	{present: substr("PYTHONPATH="), inject: EnvPythonPath},
	{present: substr("CUDA_VISIBLE_DEVICES"), inject: EnvCudaDevice},
	{present: substr("DEBIAN_FRONTEND=noninteractive"), inject: EnvNonInteractive},
	{present: hasMultimedia, inject: InstallMultimedia},
	{present: substr("OMP_NUM_THREADS"), inject: EnvOMPThreads},
	{present: substr("/workspace/app/user"), inject: WritableUserDir},
}

// Patch returns lines with every missing runtime property injected as one
// contiguous block right after the first FROM line, or at the top when the
// file has no FROM. Lines already satisfying the checklist are untouched,
// so Patch(Patch(x)) equals Patch(x).
func Patch(lines []string) []string {
	inject := Missing(lines)
	out := make([]string, len(lines))
	copy(out, lines)
	if len(inject) == 0 {
		return out
	}
	return insertAt(out, fromIndex(out)+1, inject)
}

// Missing lists the checklist lines Patch would inject.
func Missing(lines []string) []string {
	content := strings.Join(lines, "\n")
	var out []string
	for _, req := range checklist {
		if !req.present(content, lines) {
			out = append(out, req.inject)
		}
	}
	return out
}

func substr(s string) func(string, []string) bool {
	return func(content string, _ []string) bool {
		return strings.Contains(content, s)
	}
}

func hasBash(_ string, lines []string) bool {
	for _, line := range lines {
		if strings.Contains(" "+line+" ", " bash ") {
			return true
		}
		if strings.HasPrefix(strings.TrimSpace(line), "RUN apt-get") && strings.Contains(line, "bash") {
			return true
		}
	}
	return false
}

func hasMultimedia(content string, _ []string) bool {
	return (strings.Contains(content, "tzdata") && strings.Contains(content, "apt-get")) || strings.Contains(content, "libglib2.0-0")
}
