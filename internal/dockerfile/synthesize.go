package dockerfile

import "fmt"

const (
	baseImage   = "python:3.10-slim"
	appDir      = "/workspace/app"
	defaultPort = 7860

	// CV2Guard installs a headless OpenCV only when the image cannot import cv2.
	CV2Guard = `RUN python -c "import cv2" || pip install --no-cache-dir opencv-python-headless`
	// MMCVLite installs the prebuilt mmcv variant that needs no CUDA toolchain.
	MMCVLite = "RUN pip install --no-cache-dir mmcv-lite"

	// CudaOrdinalPattern matches a hard-coded device index above zero, as an
	// extended regular expression.
	CudaOrdinalPattern = "cuda:[1-9][0-9]*"
	// CudaOrdinalRewrite is the sed expression pointing those devices at cuda:0.
	CudaOrdinalRewrite = "s/" + CudaOrdinalPattern + "/cuda:0/g"
)

// Synthesize renders the fallback Dockerfile for a repository without one.
// manifest is the dependency file detected at the repository root, or "" to
// install a default web stack. The output is deterministic for a given manifest.
func Synthesize(manifest string) *Artifact {
	var b lineBuilder
	b.add("# Generated by agentic-orchestrator: repository has no Dockerfile")
	b.addf("FROM %s", baseImage)
	b.add(EnvNonInteractive)
	b.add("RUN apt-get update && apt-get install -y --no-install-recommends bash git tzdata gcc g++ pkg-config libgl1 libglib2.0-0 libsm6 libxext6 libxrender1 ffmpeg && rm -rf /var/lib/apt/lists/*")
	b.addf("WORKDIR %s", appDir)
	b.addf("RUN useradd -m appuser && mkdir -p %s/user && chown -R appuser:appuser /workspace && chmod -R a+rwx /workspace", appDir)
	b.add(EnvOMPThreads)
	b.add(EnvPythonPath)
	b.add(EnvCudaDevice)
	b.addf("COPY . %s", appDir)
	b.add(CV2Guard)
	b.add(MMCVLite)
	if manifest != "" {
		b.addf("RUN sed -i '/mmcv/d' %s && pip install --no-cache-dir -r %s", manifest, manifest)
	} else {
		b.add("RUN pip install --no-cache-dir gradio fastapi uvicorn")
	}
	b.add("ENV FORCE_CUDA_DEVICE=0")
	b.addf(`CMD ["bash","-lc","python -m pip list && grep -rlE \"%s\" %s | xargs -r sed -i -E \"%s\" || true && (python app.py || python main.py || python -m uvicorn app:app --host 0.0.0.0 --port %d)"]`, CudaOrdinalPattern, appDir, CudaOrdinalRewrite, defaultPort)
	return &Artifact{Lines: b.lines, Provenance: Synthesized, Source: manifest}
}

type lineBuilder struct {
	lines []string
}

func (b *lineBuilder) add(line string) {
	b.lines = append(b.lines, line)
}

func (b *lineBuilder) addf(format string, args ...any) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}
