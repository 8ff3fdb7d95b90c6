// The capture loop: acquire -> process -> analyze -> publish on one goroutine
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"camera-inspection/internal/io"
	"camera-inspection/internal/metrics"
)

const (
	DefaultReadRetryInterval = time.Millisecond
	DefaultFallbackInterval  = 100 * time.Millisecond
)

// LoopConfig configures device acquisition and pacing.
type LoopConfig struct {
	Device            DeviceConfig
	FallbackImage     string
	ReadRetryInterval time.Duration
	FallbackInterval  time.Duration
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Device: DeviceConfig{
			Device: "0",
			Width:  1920,
			Height: 1080,
			FPS:    24,
		},
		ReadRetryInterval: DefaultReadRetryInterval,
		FallbackInterval:  DefaultFallbackInterval,
	}
}

// CaptureLoop owns the capture session for its whole life. It is the only
// reader of the device and releases it exactly once when it exits.
type CaptureLoop struct {
	config    LoopConfig
	store     *ParameterStore
	pipeline  *ProcessingPipeline
	analyzer  *ContourAnalyzer
	publisher *FramePublisher
	recorder  *metrics.Recorder
	loader    *io.ImageLoader
	opener    DeviceOpener
	logger    logrus.FieldLogger

	mu       sync.Mutex
	source   *FrameSource
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
	done     chan struct{}

	now func() time.Time
}

func NewCaptureLoop(
	config LoopConfig,
	store *ParameterStore,
	publisher *FramePublisher,
	recorder *metrics.Recorder,
	opener DeviceOpener,
	logger logrus.FieldLogger,
) *CaptureLoop {
	if config.ReadRetryInterval <= 0 {
		config.ReadRetryInterval = DefaultReadRetryInterval
	}
	if config.FallbackInterval <= 0 {
		config.FallbackInterval = DefaultFallbackInterval
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &CaptureLoop{
		config:    config,
		store:     store,
		pipeline:  NewProcessingPipeline(logger),
		analyzer:  NewContourAnalyzer(logger),
		publisher: publisher,
		recorder:  recorder,
		loader:    io.NewImageLoader(logger),
		opener:    opener,
		logger:    logger.WithField("component", "loop"),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start opens the device (or falls back to the still) and launches the loop
// goroutine. It can be called once.
func (l *CaptureLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("capture loop already started")
	}
	select {
	case <-l.stopCh:
		return ErrSessionReleased
	default:
	}
	l.started = true

	session := OpenSession(l.opener, l.config.Device, l.logger)
	l.source = NewFrameSource(session, l.loader, l.config.FallbackImage, l.logger)

	l.logger.WithFields(logrus.Fields{
		"session": session.ID,
		"source":  l.source.Mode().String(),
	}).Info("Capture loop starting")

	go l.run(ctx)
	return nil
}

// Stop requests shutdown and waits for the loop to release the device.
// Calling it again, or before Start, is harmless.
func (l *CaptureLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })

	l.mu.Lock()
	started := l.started
	l.mu.Unlock()

	if !started {
		l.doneOnce.Do(func() { close(l.done) })
		return
	}
	<-l.done
}

// Done is closed once the loop has exited and the device is released.
func (l *CaptureLoop) Done() <-chan struct{} {
	return l.done
}

func (l *CaptureLoop) Stats() metrics.Stats {
	return l.recorder.Snapshot()
}

// StageTimings reports recent per-stage processing cost.
func (l *CaptureLoop) StageTimings() []StageTiming {
	return l.pipeline.Timings()
}

// SourceMode reports the current frame origin, SourceNone before Start.
func (l *CaptureLoop) SourceMode() SourceMode {
	src := l.currentSource()
	if src == nil {
		return SourceNone
	}
	return src.Mode()
}

// SessionID returns the capture session identifier, empty before Start.
func (l *CaptureLoop) SessionID() string {
	src := l.currentSource()
	if src == nil {
		return ""
	}
	return src.Session().ID
}

// UploadImage replaces the fallback still. ErrLiveSource while the camera is live.
func (l *CaptureLoop) UploadImage(path string) error {
	src := l.currentSource()
	if src == nil {
		return ErrNotRunning
	}
	return src.SetStill(path)
}

// Snapshot writes the newest raw frame into dir and returns the file path.
func (l *CaptureLoop) Snapshot(dir string) (string, error) {
	raw, ok := l.publisher.LatestRaw()
	defer raw.Close()
	if !ok {
		return "", ErrFrameUnavailable
	}
	path, err := io.ExportSnapshot(dir, raw, l.now())
	if err != nil {
		return "", err
	}
	l.logger.WithField("filepath", path).Info("Snapshot exported")
	return path, nil
}

func (l *CaptureLoop) currentSource() *FrameSource {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

func (l *CaptureLoop) run(ctx context.Context) {
	defer l.doneOnce.Do(func() { close(l.done) })
	defer func() {
		if err := l.source.Close(); err != nil {
			l.logger.WithError(err).Warn("Capture device release failed")
		}
		l.logger.Info("Capture loop stopped")
	}()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		wait, keepGoing := l.tick()
		if !keepGoing {
			return
		}
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-l.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick runs one acquisition cycle and returns how long to wait before the next.
func (l *CaptureLoop) tick() (time.Duration, bool) {
	l.recorder.Tick()

	frame, err := l.source.TryAcquire()
	switch {
	case err == nil:
	case errors.Is(err, ErrFrameUnavailable):
		l.recorder.ReadMiss()
		return l.config.ReadRetryInterval, true
	case errors.Is(err, ErrDeviceUnavailable):
		return l.config.FallbackInterval, true
	case errors.Is(err, ErrSessionReleased):
		return 0, false
	default:
		l.logger.WithError(err).Warn("Frame acquisition failed")
		return l.config.ReadRetryInterval, true
	}

	pace := time.Duration(0)
	if l.source.Mode() == SourceFallback {
		pace = l.config.FallbackInterval
	}

	start := time.Now()
	params := l.store.Snapshot()

	mask, err := l.pipeline.Process(frame, params)
	if err != nil {
		frame.Close()
		l.failTick(frame.Seq, err)
		return pace, true
	}

	analysis, err := l.analyzer.Analyze(mask, frame)
	if err != nil {
		frame.Close()
		mask.Close()
		l.failTick(frame.Seq, err)
		return pace, true
	}

	summary, err := Summarize(analysis.Regions)
	hasSummary := err == nil

	if q, err := metrics.Measure(frame.Mat, mask.Mat); err == nil {
		l.recorder.Quality(q)
	}
	l.recorder.FrameProcessed(time.Since(start))

	l.publisher.Publish(&Publication{
		Seq:        frame.Seq,
		Timestamp:  frame.Timestamp,
		Raw:        frame.Mat,
		Mask:       mask.Mat,
		Overlay:    analysis.Overlay,
		Regions:    analysis.Regions,
		Summary:    summary,
		HasSummary: hasSummary,
	})

	return pace, true
}

func (l *CaptureLoop) failTick(seq uint64, err error) {
	l.recorder.ProcessingError()
	l.logger.WithField("seq", seq).WithError(err).Error("Tick skipped")
}
