package publish

import (
	"errors"
	"fmt"

	"github.com/animus-labs/codepush/internal/domain"
)

// Process exit codes, following sysexits.h so calling automation can branch on
// the outcome class.
const (
	ExitSuccess  = 0
	ExitUsage    = 64
	ExitSoftware = 70
	ExitConfig   = 78
)

// ErrConflict is reported by a Registry when a uniqueness constraint already
// holds a matching record. It is a success variant for the pipeline.
var ErrConflict = errors.New("conflict: record already exists")

// ConflictError is returned by Registry.CreateArtifact when an artifact for the
// release and architecture already exists. Existing is the stored record when
// the registry reports it.
type ConflictError struct {
	Existing *domain.Artifact
}

func (e *ConflictError) Error() string {
	if e.Existing == nil {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s: artifact %s (%s)", ErrConflict.Error(), e.Existing.ID, e.Existing.Arch)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ErrAccessDenied is reported by a Registry that refused the caller's
// credentials or role.
var ErrAccessDenied = errors.New("registry rejected credentials")

// ConfigError reports missing or invalid project metadata.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// PreconditionError reports a failed validator (authentication, project
// initialization, application lookup).
type PreconditionError struct {
	Check string
	Err   error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition %s failed: %v", e.Check, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// BuildError carries the human-readable reason the toolchain build failed.
type BuildError struct {
	Message string
	Err     error
}

func (e *BuildError) Error() string {
	if e.Message == "" && e.Err != nil {
		return "build failed: " + e.Err.Error()
	}
	return "build failed: " + e.Message
}

func (e *BuildError) Unwrap() error { return e.Err }

// ExtractionError reports a malformed or incomplete build archive.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RemoteServiceError wraps any registry or transport failure. The whole command
// is safe to re-run after one.
type RemoteServiceError struct {
	Op  string
	Err error
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// ArtifactMismatchError reports that the registry already holds an artifact
// for the release and architecture with different content.
type ArtifactMismatchError struct {
	ReleaseID    string
	Arch         string
	LocalHash    string
	ExistingHash string
}

func (e *ArtifactMismatchError) Error() string {
	return fmt.Sprintf("artifact %s for release %s already exists with hash %s, local build has %s",
		e.Arch, e.ReleaseID, e.ExistingHash, e.LocalHash)
}

// ExitCode maps a pipeline error onto the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	return ExitSoftware
}

func remoteErr(op string, err error) error {
	var remote *RemoteServiceError
	if errors.As(err, &remote) {
		return err
	}
	return &RemoteServiceError{Op: op, Err: err}
}
