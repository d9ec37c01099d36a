package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// GitRevision reports HEAD of the toolchain checkout in Dir.
type GitRevision struct {
	Dir string
}

func (g GitRevision) CurrentRevision(ctx context.Context) (string, error) {
	if strings.TrimSpace(g.Dir) == "" {
		return "", errors.New("toolchain dir is not configured")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", "-C", g.Dir, "rev-parse", "HEAD")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git rev-parse HEAD in %s: %w (stderr: %s)", g.Dir, err, strings.TrimSpace(stderr.String()))
	}
	rev := strings.TrimSpace(stdout.String())
	if rev == "" {
		return "", fmt.Errorf("git rev-parse HEAD in %s: empty output", g.Dir)
	}
	return rev, nil
}

// StaticRevision is a revision pinned by configuration.
type StaticRevision string

func (s StaticRevision) CurrentRevision(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", errors.New("toolchain revision is empty")
	}
	return strings.TrimSpace(string(s)), nil
}
