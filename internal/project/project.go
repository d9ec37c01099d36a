// Package project loads the codepush.yaml file that marks a directory as a
// publishable project.
package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/animus-labs/codepush/internal/publish"
	"gopkg.in/yaml.v3"
)

// FileName is the project metadata file looked up in the project directory.
const FileName = "codepush.yaml"

// ErrNotInitialized means the directory has no project metadata file.
var ErrNotInitialized = errors.New("project is not initialized: " + FileName + " not found")

var appIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// Project is the parsed metadata file.
type Project struct {
	// AppID is the registry application releases are published under.
	AppID string `yaml:"app_id"`

	Build     BuildConfig     `yaml:"build"`
	Toolchain ToolchainConfig `yaml:"toolchain"`

	// Dir is the absolute project directory; not read from the file.
	Dir string `yaml:"-"`
}

type BuildConfig struct {
	// Command is run through sh in the project directory.
	Command string `yaml:"command"`
	// Archive is the zip the command produces, relative to the project.
	Archive string `yaml:"archive"`
}

type ToolchainConfig struct {
	// Dir is a git checkout of the build toolchain; its HEAD is recorded on
	// new releases.
	Dir string `yaml:"dir"`
	// Revision pins the recorded revision instead of asking git.
	Revision string `yaml:"revision"`
}

// Load reads FileName from dir. Unknown keys are rejected.
func Load(dir string) (Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Project{}, fmt.Errorf("resolve project dir: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(abs, FileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Project{}, fmt.Errorf("%s: %w", abs, ErrNotInitialized)
		}
		return Project{}, fmt.Errorf("read %s: %w", FileName, err)
	}

	var p Project
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Project{}, fmt.Errorf("parse %s: %w", FileName, err)
	}
	p.Dir = abs
	p.AppID = strings.TrimSpace(p.AppID)
	p.Build.Command = strings.TrimSpace(p.Build.Command)
	p.Build.Archive = strings.TrimSpace(p.Build.Archive)
	p.Toolchain.Dir = strings.TrimSpace(p.Toolchain.Dir)
	p.Toolchain.Revision = strings.TrimSpace(p.Toolchain.Revision)
	if err := p.Validate(); err != nil {
		return Project{}, fmt.Errorf("%s: %w", FileName, err)
	}
	return p, nil
}

func (p Project) Validate() error {
	if p.AppID == "" {
		return errors.New("app_id is required")
	}
	if !appIDPattern.MatchString(p.AppID) {
		return fmt.Errorf("app_id %q must be lowercase letters, digits, '.', '_' or '-'", p.AppID)
	}
	if p.Build.Command != "" && p.Build.Archive == "" {
		return errors.New("build.archive is required with build.command")
	}
	return nil
}

// ArchivePath is the absolute path of the build output.
func (p Project) ArchivePath() string {
	return p.resolve(p.Build.Archive)
}

// ToolchainDir is the absolute toolchain checkout, or "" when unset.
func (p Project) ToolchainDir() string {
	return p.resolve(p.Toolchain.Dir)
}

func (p Project) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Dir, path)
}

// Precondition confirms the metadata file is still present and valid when
// publishing starts. Failures are *publish.ConfigError.
func Precondition(dir string) publish.Precondition {
	return publish.Precondition{
		Name: "project initialized",
		Check: func(ctx context.Context) error {
			if _, err := Load(dir); err != nil {
				return &publish.ConfigError{Err: err}
			}
			return nil
		},
	}
}
