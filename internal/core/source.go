// Frame acquisition from the live device or a fallback still
package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"camera-inspection/internal/io"
)

// SourceMode reports where frames currently come from.
type SourceMode int

const (
	SourceNone SourceMode = iota
	SourceLive
	SourceFallback
)

func (m SourceMode) String() string {
	switch m {
	case SourceLive:
		return "live"
	case SourceFallback:
		return "fallback"
	}
	return "none"
}

// FrameSource yields frames from the capture session or, when the device never
// opened, from a single still image.
type FrameSource struct {
	session      *CaptureSession
	loader       *io.ImageLoader
	fallbackPath string

	mu            sync.Mutex
	still         gocv.Mat
	hasStill      bool
	fallbackTried bool
	closed        bool

	seq atomic.Uint64
	now func() time.Time

	logger logrus.FieldLogger
}

func NewFrameSource(session *CaptureSession, loader *io.ImageLoader, fallbackPath string, logger logrus.FieldLogger) *FrameSource {
	return &FrameSource{
		session:      session,
		loader:       loader,
		fallbackPath: fallbackPath,
		now:          time.Now,
		logger:       logger.WithField("component", "source"),
	}
}

// Session returns the underlying capture session.
func (s *FrameSource) Session() *CaptureSession {
	return s.session
}

func (s *FrameSource) Mode() SourceMode {
	if s.session.State() == SessionOpen {
		return SourceLive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasStill {
		return SourceFallback
	}
	return SourceNone
}

// TryAcquire returns the next frame. ErrFrameUnavailable is transient;
// ErrDeviceUnavailable means there is neither a device nor a still.
func (s *FrameSource) TryAcquire() (Frame, error) {
	switch s.session.State() {
	case SessionReleased:
		return Frame{}, ErrSessionReleased
	case SessionOpen:
		return s.readDevice()
	}
	return s.readStill()
}

func (s *FrameSource) readDevice() (Frame, error) {
	mat := gocv.NewMat()
	if err := s.session.Read(&mat); err != nil {
		mat.Close()
		return Frame{}, err
	}
	if mat.Channels() != 3 {
		bgr := toBGR(mat)
		mat.Close()
		mat = bgr
	}
	return NewFrame(mat, s.seq.Add(1), s.now()), nil
}

func (s *FrameSource) readStill() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Frame{}, ErrSessionReleased
	}

	if !s.hasStill && !s.fallbackTried {
		s.fallbackTried = true
		s.logger.WithError(ErrDeviceUnavailable).WithField("fallback", s.fallbackPath).Warn("Using fallback image")
		if s.fallbackPath != "" {
			if err := s.loadStillLocked(s.fallbackPath); err != nil {
				s.logger.WithError(err).Error("Fallback image could not be loaded")
			}
		}
	}

	if !s.hasStill {
		return Frame{}, fmt.Errorf("%w: no fallback image", ErrDeviceUnavailable)
	}
	return NewFrame(s.still.Clone(), s.seq.Add(1), s.now()), nil
}

// SetStill replaces the fallback image. It is rejected while the camera is live.
func (s *FrameSource) SetStill(path string) error {
	switch s.session.State() {
	case SessionOpen:
		return ErrLiveSource
	case SessionReleased:
		return ErrSessionReleased
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionReleased
	}
	if err := s.loadStillLocked(path); err != nil {
		return err
	}
	s.fallbackTried = true
	s.logger.WithField("filepath", path).Info("Still image replaced")
	return nil
}

func (s *FrameSource) loadStillLocked(path string) error {
	mat, err := s.loader.LoadImage(path)
	if err != nil {
		return fmt.Errorf("load still: %w", err)
	}
	if err := ValidateImage(mat); err != nil {
		mat.Close()
		return fmt.Errorf("load still: %w", err)
	}
	bgr := toBGR(mat)
	mat.Close()

	if s.hasStill {
		s.still.Close()
	}
	s.still = bgr
	s.hasStill = true
	return nil
}

// Close releases the capture session and the still. Safe to call more than once.
func (s *FrameSource) Close() error {
	err := s.session.Release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		if s.hasStill {
			s.still.Close()
			s.hasStill = false
		}
	}
	return err
}
