// Package toolchain adapts the external build toolchain to the publish
// pipeline: it runs the project build and reports the toolchain revision.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/animus-labs/codepush/internal/publish"
)

// stderrTail bounds how much build stderr is kept for the error message.
const stderrTail = 4 << 10

// CommandBuilder runs a shell command that is expected to write the archive
// to ArchivePath.
type CommandBuilder struct {
	Dir         string
	Command     string
	ArchivePath string
	// Output receives the command's stdout and stderr as they are produced.
	Output io.Writer
}

func (b CommandBuilder) Build(ctx context.Context, opts publish.BuildOptions) (string, error) {
	if strings.TrimSpace(b.Command) == "" {
		return "", &publish.BuildError{Message: "no build command configured"}
	}

	tail := &tailBuffer{limit: stderrTail}
	cmd := exec.CommandContext(ctx, "sh", "-c", b.Command)
	cmd.Dir = b.Dir
	cmd.Env = append(os.Environ(), "CODEPUSH_BUILD_NAME="+opts.Version)
	cmd.WaitDelay = 5 * time.Second
	cmd.Stdout = io.Discard
	cmd.Stderr = tail
	if b.Output != nil {
		cmd.Stdout = b.Output
		cmd.Stderr = io.MultiWriter(b.Output, tail)
	}

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(tail.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", &publish.BuildError{Message: msg, Err: err}
	}
	return PrebuiltArchive(b.ArchivePath).Build(ctx, opts)
}

// PrebuiltArchive skips building and publishes an existing archive.
type PrebuiltArchive string

func (p PrebuiltArchive) Build(ctx context.Context, opts publish.BuildOptions) (string, error) {
	path := string(p)
	if path == "" {
		return "", &publish.BuildError{Message: "archive path is not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &publish.BuildError{Message: fmt.Sprintf("archive %s was not produced", path), Err: err}
		}
		return "", &publish.BuildError{Message: fmt.Sprintf("stat archive %s", path), Err: err}
	}
	if info.IsDir() {
		return "", &publish.BuildError{Message: fmt.Sprintf("archive %s is a directory", path)}
	}
	return path, nil
}

type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
