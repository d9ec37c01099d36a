package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	// PlatformAndroid is the only platform the build toolchain produces archives for.
	PlatformAndroid = "android"

	// ArchiveArch is the reserved architecture label of the whole-archive artifact.
	ArchiveArch = "aar"
)

// Artifact is one uploaded payload of a release, scoped to one architecture
// or to the whole archive. At most one exists per (ReleaseID, Arch).
type Artifact struct {
	ID        string
	ReleaseID string
	Arch      string
	Platform  string
	Hash      string
	SizeBytes int64
	ObjectKey string
	CreatedAt time.Time
	CreatedBy string
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("artifact id is required")
	}
	if strings.TrimSpace(a.ReleaseID) == "" {
		return errors.New("release id is required")
	}
	if strings.TrimSpace(a.Arch) == "" {
		return errors.New("arch is required")
	}
	if strings.TrimSpace(a.Platform) == "" {
		return errors.New("platform is required")
	}
	if strings.TrimSpace(a.Hash) == "" {
		return errors.New("hash is required")
	}
	if strings.TrimSpace(a.ObjectKey) == "" {
		return errors.New("object key is required")
	}
	if a.SizeBytes < 0 {
		return errors.New("size_bytes must be >= 0")
	}
	return nil
}

// ArchitectureTarget maps a build target to the native library it produces
// inside the archive and the label artifacts are published under.
type ArchitectureTarget struct {
	TargetID string
	Path     string
	Arch     string
}

var architectureTargets = []ArchitectureTarget{
	{TargetID: "android-arm", Path: "jni/armeabi-v7a/libapp.so", Arch: "armv7"},
	{TargetID: "android-arm64", Path: "jni/arm64-v8a/libapp.so", Arch: "arm64"},
	{TargetID: "android-x64", Path: "jni/x86_64/libapp.so", Arch: "x86_64"},
}

// ArchitectureTargets returns the fixed target table in publish order.
func ArchitectureTargets() []ArchitectureTarget {
	out := make([]ArchitectureTarget, len(architectureTargets))
	copy(out, architectureTargets)
	return out
}

// IsKnownArch reports whether arch is a target label or the archive label.
func IsKnownArch(arch string) bool {
	if arch == ArchiveArch {
		return true
	}
	for _, target := range architectureTargets {
		if target.Arch == arch {
			return true
		}
	}
	return false
}
