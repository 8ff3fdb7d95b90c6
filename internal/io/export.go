package io

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"
)

// SnapshotName formats now as YYYYMMDD_HHMMSSff.png, where ff is the sub-second
// field truncated to hundredths.
func SnapshotName(now time.Time) string {
	return fmt.Sprintf("%s%02d.png", now.Format("20060102_150405"), now.Nanosecond()/int(10*time.Millisecond))
}

// ExportSnapshot writes mat as a PNG into dir and returns the full path. It
// never creates dir and never overwrites an existing file.
func ExportSnapshot(dir string, mat gocv.Mat, now time.Time) (string, error) {
	if mat.Empty() {
		return "", fmt.Errorf("export snapshot: empty image")
	}
	if dir == "" {
		return "", ErrExportTargetMissing
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrExportTargetMissing, dir)
		}
		return "", fmt.Errorf("export snapshot: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrExportTargetMissing, dir)
	}

	path := filepath.Join(dir, SnapshotName(now))

	// Reserve the name first so two exports in the same hundredth cannot both win.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrSnapshotExists, path)
		}
		return "", fmt.Errorf("export snapshot: %w", err)
	}
	f.Close()

	if !gocv.IMWrite(path, mat) {
		os.Remove(path)
		return "", fmt.Errorf("export snapshot: failed to write %s", path)
	}
	return path, nil
}
