package publish

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/animus-labs/codepush/internal/domain"
)

// maxEntryBytes bounds a single extracted entry.
const maxEntryBytes = int64(1) << 30

// Extract unpacks the zip archive at archivePath into destDir and returns the
// extraction root. Any previous content of destDir is removed first. Every
// architecture target must be present in the archive.
func Extract(archivePath, destDir string) (string, error) {
	if strings.TrimSpace(destDir) == "" {
		return "", &ExtractionError{Archive: archivePath, Err: errors.New("destination dir is required")}
	}
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", &ExtractionError{Archive: archivePath, Err: err}
	}
	defer reader.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return "", &ExtractionError{Archive: archivePath, Err: err}
	}
	if err := os.RemoveAll(root); err != nil {
		return "", &ExtractionError{Archive: archivePath, Err: fmt.Errorf("remove stale extraction: %w", err)}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", &ExtractionError{Archive: archivePath, Err: err}
	}

	for _, file := range reader.File {
		if err := extractEntry(root, file); err != nil {
			return "", &ExtractionError{Archive: archivePath, Err: err}
		}
	}

	for _, target := range domain.ArchitectureTargets() {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(target.Path)))
		if err != nil || info.IsDir() {
			return "", &ExtractionError{Archive: archivePath, Err: fmt.Errorf("missing %s library %s", target.Arch, target.Path)}
		}
	}
	return root, nil
}

func extractEntry(root string, file *zip.File) error {
	name := filepath.FromSlash(file.Name)
	target := filepath.Join(root, name)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return fmt.Errorf("entry %q escapes destination", file.Name)
	}

	mode := file.Mode()
	if mode.IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if !mode.IsRegular() {
		return fmt.Errorf("entry %q is not a regular file", file.Name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(dst, io.LimitReader(src, maxEntryBytes+1))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", file.Name, err)
	}
	if n > maxEntryBytes {
		return fmt.Errorf("entry %q exceeds %d bytes", file.Name, maxEntryBytes)
	}
	return nil
}
