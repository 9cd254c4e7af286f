// Package build produces the runnable artifact for a Rust-typed process,
// streaming its own output into a dedicated log instance addressable
// through the search_build_log operation.
package build

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loykin/mcprun/internal/logbuf"
	"github.com/loykin/mcprun/internal/modemgr"
	"github.com/loykin/mcprun/internal/procexec"
)

var (
	ErrBuildFailed        = errors.New("build: build failed")
	ErrManifestUnreadable = errors.New("build: manifest unreadable")
	ErrNoSuchBinary       = errors.New("build: no such binary")
)

// buildKeyPrefix namespaces build output in the shared logbuf.Store away
// from the process's own runtime output keys.
const buildKeyPrefix = "__build__"

// LogKey returns the synthetic logbuf process key addressable through
// search_build_log for process.
func LogKey(process string) string { return buildKeyPrefix + process }

// Builder produces artifacts for Rust-typed processes.
type Builder struct {
	logs *logbuf.Store
}

func New(logs *logbuf.Store) *Builder {
	return &Builder{logs: logs}
}

// Build resolves the process's Cargo binary, invokes the mode-appropriate
// cargo build, streams its combined output into the build log, and returns
// the built artifact's path, <projectDir>/target/<debug|release>/<bin>.
func (b *Builder) Build(projectDir, process string, mode modemgr.Mode, envWrapped bool) (string, error) {
	bin, err := binaryName(projectDir, process)
	if err != nil {
		return "", err
	}

	var cargoArgs []string
	var artifactDir string
	if mode == modemgr.Release {
		cargoArgs = []string{"build", "--release", "--bin", bin}
		artifactDir = "release"
	} else {
		cargoArgs = []string{"build", "--bin", bin}
		artifactDir = "debug"
	}

	// #nosec G204
	cmd := exec.Command("cargo", cargoArgs...)
	cmd.Dir = projectDir
	cmd = procexec.EnvWrap(cmd, projectDir, envWrapped)

	key := LogKey(process)
	b.logs.NewInstance(key)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("build stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("build stderr pipe: %w", err)
	}

	var tailMu sync.Mutex
	var tail strings.Builder
	done := make(chan struct{}, 2)
	go func() { b.drain(stdout, key, logbuf.Stdout, &tailMu, &tail); done <- struct{}{} }()
	go func() { b.drain(stderr, key, logbuf.Stderr, &tailMu, &tail); done <- struct{}{} }()

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}
	<-done
	<-done
	runErr := cmd.Wait()

	artifact := filepath.Join(projectDir, "target", artifactDir, bin)
	if runErr != nil {
		return "", fmt.Errorf("%w: %s", ErrBuildFailed, tailOf(tail.String()))
	}
	if _, statErr := os.Stat(artifact); statErr != nil {
		return "", fmt.Errorf("%w: artifact missing at %s", ErrBuildFailed, artifact)
	}
	return artifact, nil
}

func (b *Builder) drain(r io.Reader, key string, stream logbuf.Stream, tailMu *sync.Mutex, tail *strings.Builder) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		b.logs.Append(key, stream, line)
		tailMu.Lock()
		tail.WriteString(line)
		tail.WriteByte('\n')
		tailMu.Unlock()
	}
}

// tailOf returns at most the last 20 lines, matching BuildFailed's
// stderr_tail shape.
func tailOf(combined string) string {
	lines := strings.Split(strings.TrimRight(combined, "\n"), "\n")
	if len(lines) > 20 {
		lines = lines[len(lines)-20:]
	}
	return strings.Join(lines, "\n")
}
