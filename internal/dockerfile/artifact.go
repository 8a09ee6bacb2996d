package dockerfile

import (
	"fmt"
	"os"
	"strings"
)

// Provenance records where an artifact's content came from.
type Provenance string

const (
	Adopted     Provenance = "adopted"
	Synthesized Provenance = "synthesized"
)

const aptInstallMarker = "apt-get install -y --no-install-recommends"

// Artifact is the Dockerfile that will be committed to the target. It is
// edited in place by patching and repair; Patched must be true before the
// content is committed.
type Artifact struct {
	Lines      []string
	Provenance Provenance
	Source     string
	Patched    bool
}

// Load reads an existing Dockerfile as an adopted artifact.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dockerfile: %w", err)
	}
	return &Artifact{Lines: SplitLines(string(data)), Provenance: Adopted, Source: path}, nil
}

// SplitLines splits content on newlines, normalising CRLF and dropping the
// trailing empty line.
func SplitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// Bytes renders the artifact as file content.
func (a *Artifact) Bytes() []byte {
	return []byte(a.String())
}

func (a *Artifact) String() string {
	if len(a.Lines) == 0 {
		return ""
	}
	return strings.Join(a.Lines, "\n") + "\n"
}

// ApplyPatch runs Patch over the artifact and marks it patched.
func (a *Artifact) ApplyPatch() {
	a.Lines = Patch(a.Lines)
	a.Patched = true
}

// Contains reports whether any line contains substr.
func (a *Artifact) Contains(substr string) bool {
	return containsLine(a.Lines, substr)
}

// InsertAfterFrom inserts lines right after the first FROM instruction, or
// at the top when there is none.
func (a *Artifact) InsertAfterFrom(lines ...string) {
	a.Lines = insertAt(a.Lines, fromIndex(a.Lines)+1, lines)
}

// InsertAfterCopy inserts lines after the first COPY instruction. Without a
// COPY they go before the first CMD or ENTRYPOINT, else at the end.
func (a *Artifact) InsertAfterCopy(lines ...string) {
	if i := instructionIndex(a.Lines, "copy"); i >= 0 {
		a.Lines = insertAt(a.Lines, i+1, lines)
		return
	}
	for i, line := range a.Lines {
		if kw := instruction(line); kw == "cmd" || kw == "entrypoint" {
			a.Lines = insertAt(a.Lines, i, lines)
			return
		}
	}
	a.Lines = append(a.Lines, lines...)
}

// EnsureAptPackage makes pkg part of an apt install. The first install line
// using the standard flags gets pkg appended to its flag list; without one a
// dedicated install step is added after FROM. Reports whether it changed.
func (a *Artifact) EnsureAptPackage(pkg string) bool {
	if aptInstalls(a.Lines, pkg) {
		return false
	}
	for i, line := range a.Lines {
		if idx := strings.Index(line, aptInstallMarker); idx >= 0 {
			cut := idx + len(aptInstallMarker)
			a.Lines[i] = line[:cut] + " " + pkg + line[cut:]
			return true
		}
	}
	a.InsertAfterFrom(fmt.Sprintf("RUN apt-get update && %s %s && rm -rf /var/lib/apt/lists/*", aptInstallMarker, pkg))
	return true
}

// EnsureEnv makes sure key is set to value. An existing ENV for key with a
// different value is rewritten; a missing one is added after FROM.
func (a *Artifact) EnsureEnv(key, value string) bool {
	want := "ENV " + key + "=" + value
	for i, line := range a.Lines {
		trimmed := strings.TrimSpace(line)
		if instruction(trimmed) != "env" {
			continue
		}
		rest := strings.TrimSpace(trimmed[len("ENV"):])
		if !strings.HasPrefix(rest, key+"=") && !strings.HasPrefix(rest, key+" ") {
			continue
		}
		if strings.HasPrefix(rest, key+"=") {
			// May carry more variables; only our key is rewritten.
			fields := strings.Fields(rest)
			if fields[0] == key+"="+value {
				return false
			}
			fields[0] = key + "=" + value
			a.Lines[i] = "ENV " + strings.Join(fields, " ")
			return true
		}
		if rest == key+" "+value {
			return false
		}
		a.Lines[i] = want
		return true
	}
	a.InsertAfterFrom(want)
	return true
}

// StripFromManifestInstalls prefixes every `pip install -r <file>` step with
// a sed that deletes lines matching pattern from that file.
func (a *Artifact) StripFromManifestInstalls(pattern string) bool {
	sedExpr := "sed -i '/" + pattern + "/d'"
	changed := false
	for i, line := range a.Lines {
		trimmed := strings.TrimSpace(line)
		if instruction(trimmed) != "run" || !strings.Contains(trimmed, "pip install") || strings.Contains(trimmed, sedExpr) {
			continue
		}
		manifest := requirementsArg(trimmed)
		if manifest == "" {
			continue
		}
		body := strings.TrimSpace(trimmed[len("RUN"):])
		a.Lines[i] = "RUN " + sedExpr + " " + manifest + " && " + body
		changed = true
	}
	return changed
}

func requirementsArg(line string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if (f == "-r" || f == "--requirement") && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

func instruction(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func instructionIndex(lines []string, kw string) int {
	for i, line := range lines {
		if instruction(line) == kw {
			return i
		}
	}
	return -1
}

func fromIndex(lines []string) int {
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "from ") {
			return i
		}
	}
	return -1
}

func insertAt(lines []string, at int, add []string) []string {
	out := make([]string, 0, len(lines)+len(add))
	out = append(out, lines[:at]...)
	out = append(out, add...)
	return append(out, lines[at:]...)
}

// aptInstalls reports whether any apt-get install, including its
// backslash-continued lines, names pkg.
func aptInstalls(lines []string, pkg string) bool {
	for i, line := range lines {
		if !strings.Contains(line, "apt-get install") {
			continue
		}
		for _, cont := range lines[i:] {
			cont = strings.TrimSpace(cont)
			if hasWord(strings.TrimSuffix(cont, `\`), pkg) {
				return true
			}
			if !strings.HasSuffix(cont, `\`) {
				break
			}
		}
	}
	return false
}

func containsLine(lines []string, substr string) bool {
	for _, line := range lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func hasWord(line, word string) bool {
	for _, f := range strings.Fields(line) {
		if f == word {
			return true
		}
	}
	return false
}
