// Still image loading and saving
package io

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var (
	// ErrUnsupportedFormat is returned for file extensions outside SupportedFormats.
	ErrUnsupportedFormat = errors.New("io: unsupported image format")

	// ErrExportTargetMissing is returned when the snapshot directory does not exist.
	ErrExportTargetMissing = errors.New("io: export directory does not exist")

	// ErrSnapshotExists is returned instead of overwriting an existing snapshot.
	ErrSnapshotExists = errors.New("io: snapshot file already exists")
)

var supportedFormats = []string{".jpg", ".jpeg", ".png"}

// SupportedFormats lists the accepted still extensions, lower case with the dot.
func SupportedFormats() []string {
	out := make([]string, len(supportedFormats))
	copy(out, supportedFormats)
	return out
}

// IsSupportedImageFormat reports whether path has an accepted extension. The
// comparison ignores case.
func IsSupportedImageFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ImageLoader handles image file operations
type ImageLoader struct {
	logger logrus.FieldLogger
}

func NewImageLoader(logger logrus.FieldLogger) *ImageLoader {
	return &ImageLoader{
		logger: logger.WithField("component", "loader"),
	}
}

// LoadImage reads a color still. The caller owns the returned Mat.
func (il *ImageLoader) LoadImage(path string) (gocv.Mat, error) {
	il.logger.WithField("filepath", path).Debug("Loading image")

	if !IsSupportedImageFormat(path) {
		return gocv.NewMat(), fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("failed to load image: %s", path)
	}

	il.logger.WithFields(logrus.Fields{
		"filepath": path,
		"width":    mat.Cols(),
		"height":   mat.Rows(),
		"channels": mat.Channels(),
	}).Info("Image loaded successfully")

	return mat, nil
}

func (il *ImageLoader) SaveImage(mat gocv.Mat, path string) error {
	il.logger.WithField("filepath", path).Debug("Saving image")

	if mat.Empty() {
		return fmt.Errorf("cannot save empty image")
	}

	if !IsSupportedImageFormat(path) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("failed to save image: %s", path)
	}

	il.logger.WithFields(logrus.Fields{
		"filepath": path,
		"width":    mat.Cols(),
		"height":   mat.Rows(),
		"channels": mat.Channels(),
	}).Info("Image saved successfully")

	return nil
}

// EncodeJPEG compresses mat for transport. Used by the web surface.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("cannot encode empty image")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	src := buf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}
