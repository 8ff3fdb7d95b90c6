package core

import (
	"errors"

	"camera-inspection/internal/algorithms"
)

// Sentinel errors for the capture engine.
var (
	// ErrDeviceUnavailable is returned when the capture device cannot be opened.
	ErrDeviceUnavailable = errors.New("core: capture device unavailable")

	// ErrFrameUnavailable is returned for a transient read miss; retry on the next tick.
	ErrFrameUnavailable = errors.New("core: no frame available")

	// ErrInvalidParameter is returned when a pipeline parameter is rejected.
	ErrInvalidParameter = algorithms.ErrInvalidParameter

	// ErrNoRegions is returned when a statistic is requested over zero regions.
	ErrNoRegions = errors.New("core: no regions")

	// ErrSessionReleased is returned when the device is used after shutdown.
	ErrSessionReleased = errors.New("core: capture session released")

	// ErrLiveSource is returned when a still is uploaded while the camera is live.
	ErrLiveSource = errors.New("core: still upload rejected while camera is live")

	// ErrNotRunning is returned by operations that need a started capture loop.
	ErrNotRunning = errors.New("core: capture loop not running")
)
