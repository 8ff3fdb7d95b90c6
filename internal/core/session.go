// Capture device lifecycle: Closed -> Open -> Released
package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Device is the subset of *gocv.VideoCapture the capture session uses.
type Device interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	IsOpened() bool
	Close() error
}

// DeviceOpener opens a capture device by index or URL.
type DeviceOpener func(device string) (Device, error)

// OpenVideoDevice opens a camera through OpenCV. Numeric strings select a device index.
func OpenVideoDevice(device string) (Device, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		if capture != nil {
			capture.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return capture, nil
}

// DeviceConfig is applied once, before the first read.
type DeviceConfig struct {
	Device string
	Width  int
	Height int
	FPS    int
}

type SessionState int

const (
	SessionClosed SessionState = iota
	SessionOpen
	SessionReleased
)

func (s SessionState) String() string {
	switch s {
	case SessionClosed:
		return "closed"
	case SessionOpen:
		return "open"
	case SessionReleased:
		return "released"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CaptureSession owns the device handle. Only the capture loop reads from it.
// mu serializes device reads against Release; state is readable without it.
type CaptureSession struct {
	ID string

	mu     sync.Mutex
	state  atomic.Int32
	device Device
	config DeviceConfig

	configureOnce sync.Once
	releaseOnce   sync.Once

	logger logrus.FieldLogger
}

// OpenSession tries to open cfg.Device. A device that cannot be opened leaves
// the session Closed; the caller falls back to a still.
func OpenSession(opener DeviceOpener, cfg DeviceConfig, logger logrus.FieldLogger) *CaptureSession {
	s := &CaptureSession{
		ID:     uuid.NewString(),
		config: cfg,
	}
	s.logger = logger.WithFields(logrus.Fields{
		"component": "session",
		"session":   s.ID,
	})

	if opener == nil {
		return s
	}

	device, err := opener(cfg.Device)
	if err != nil || device == nil || !device.IsOpened() {
		if device != nil {
			device.Close()
		}
		s.logger.WithField("device", cfg.Device).WithError(err).Warn("Capture device unavailable")
		return s
	}

	s.device = device
	s.state.Store(int32(SessionOpen))
	s.logger.WithField("device", cfg.Device).Info("Capture device opened")
	return s
}

// State never waits on an in-flight read.
func (s *CaptureSession) State() SessionState {
	return SessionState(s.state.Load())
}

// configure applies width, height and fps once. Drivers ignore values they do
// not support, so nothing here is fatal.
func (s *CaptureSession) configure() {
	s.configureOnce.Do(func() {
		if s.config.Width > 0 {
			s.device.Set(gocv.VideoCaptureFrameWidth, float64(s.config.Width))
		}
		if s.config.Height > 0 {
			s.device.Set(gocv.VideoCaptureFrameHeight, float64(s.config.Height))
		}
		if s.config.FPS > 0 {
			s.device.Set(gocv.VideoCaptureFPS, float64(s.config.FPS))
		}
		s.logger.WithFields(logrus.Fields{
			"width":  s.config.Width,
			"height": s.config.Height,
			"fps":    s.config.FPS,
		}).Info("Capture device configured")
	})
}

// Read fills dst with the next frame.
func (s *CaptureSession) Read(dst *gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case SessionReleased:
		return ErrSessionReleased
	case SessionClosed:
		return ErrDeviceUnavailable
	}

	s.configure()
	if !s.device.Read(dst) || dst.Empty() {
		return ErrFrameUnavailable
	}
	return nil
}

// Release closes the device exactly once. Later calls are no-ops.
func (s *CaptureSession) Release() error {
	var err error
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.device != nil {
			err = s.device.Close()
			s.device = nil
		}
		s.state.Store(int32(SessionReleased))
		s.logger.Info("Capture session released")
	})
	return err
}
