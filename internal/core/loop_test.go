package core

import (
	"context"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"camera-inspection/internal/io"
	"camera-inspection/internal/metrics"
)

func squareMat(t *testing.T) gocv.Mat {
	t.Helper()
	f := bgrFrame(t, 48, 36, patch{image.Rect(10, 10, 20, 20), 30, 60, 90})
	return f.Mat
}

func newTestLoop(t *testing.T, cfg LoopConfig, opener DeviceOpener, sink DisplaySink) (*CaptureLoop, *FramePublisher, *ParameterStore) {
	t.Helper()
	store := newStore(t)
	recorder := metrics.NewRecorder()
	publisher := NewFramePublisher(sink, recorder, testLogger())
	t.Cleanup(publisher.Close)
	loop := NewCaptureLoop(cfg, store, publisher, recorder, opener, testLogger())
	return loop, publisher, store
}

func waitOverlay(t *testing.T, sink *recordingSink) FrameInfo {
	t.Helper()
	select {
	case info := <-sink.overlayCh:
		return info
	case <-time.After(5 * time.Second):
		t.Fatal("no overlay delivered")
	}
	return FrameInfo{}
}

func TestLoopLiveDeviceDeliversAndReleasesOnce(t *testing.T) {
	tmpl := squareMat(t)
	defer tmpl.Close()
	device := newFakeDevice(tmpl)

	sink := newRecordingSink()
	cfg := DefaultLoopConfig()
	loop, _, _ := newTestLoop(t, cfg, openerFor(device), sink)

	require.NoError(t, loop.Start(context.Background()))
	assert.Equal(t, SourceLive, loop.SourceMode())
	assert.NotEmpty(t, loop.SessionID())

	info := waitOverlay(t, sink)
	assert.Equal(t, 48, info.Width)
	assert.Equal(t, 36, info.Height)

	loop.Stop()
	loop.Stop()

	select {
	case <-loop.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	assert.Equal(t, int32(1), device.closes.Load())
	assert.False(t, device.readAfterClose.Load())

	// width, height and fps applied exactly once
	assert.Equal(t, int32(3), device.setN.Load())
	assert.Equal(t, 1920.0, device.sets[gocv.VideoCaptureFrameWidth])
	assert.Equal(t, 1080.0, device.sets[gocv.VideoCaptureFrameHeight])
	assert.Equal(t, 24.0, device.sets[gocv.VideoCaptureFPS])

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.regions)
	require.Len(t, sink.regions[0], 1)
	assert.Equal(t, image.Rect(10, 10, 20, 20), sink.regions[0][0].Box)
	require.NotNil(t, sink.summary[0])
	assert.InDelta(t, 60.0, sink.summary[0].Mean, 1e-9)
	assert.Equal(t, []string{"raw", "mask", "overlay"}, sink.order[:3])

	stats := loop.Stats()
	assert.NotZero(t, stats.Frames)
	assert.NotZero(t, stats.Ticks)
}

func TestLoopContextCancelReleasesDevice(t *testing.T) {
	tmpl := squareMat(t)
	defer tmpl.Close()
	device := newFakeDevice(tmpl)

	ctx, cancel := context.WithCancel(context.Background())
	loop, _, _ := newTestLoop(t, DefaultLoopConfig(), openerFor(device), newRecordingSink())
	require.NoError(t, loop.Start(ctx))

	cancel()
	select {
	case <-loop.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit on cancel")
	}
	loop.Stop()
	assert.Equal(t, int32(1), device.closes.Load())
}

func TestLoopReadMissesAreRetried(t *testing.T) {
	tmpl := squareMat(t)
	defer tmpl.Close()
	device := newFakeDevice(tmpl)
	device.setFail(true)

	sink := newRecordingSink()
	loop, _, _ := newTestLoop(t, DefaultLoopConfig(), openerFor(device), sink)
	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	require.Eventually(t, func() bool { return loop.Stats().ReadMisses >= 3 }, 5*time.Second, time.Millisecond)
	assert.Zero(t, sink.deliveries())

	device.setFail(false)
	waitOverlay(t, sink)
}

func TestRejectedWriteKeepsLoopRunning(t *testing.T) {
	tmpl := squareMat(t)
	defer tmpl.Close()
	device := newFakeDevice(tmpl)

	sink := newRecordingSink()
	loop, _, store := newTestLoop(t, DefaultLoopConfig(), openerFor(device), sink)

	// a rejected write leaves the running parameters intact
	require.ErrorIs(t, store.SetDilateKernel(0), ErrInvalidParameter)

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()
	waitOverlay(t, sink)
	assert.Zero(t, loop.Stats().Errors)
}

func TestLoopFallbackStill(t *testing.T) {
	dir := t.TempDir()
	still := squareMat(t)
	defer still.Close()
	path := filepath.Join(dir, "fallback.png")
	require.True(t, gocv.IMWrite(path, still))

	cfg := DefaultLoopConfig()
	cfg.FallbackImage = path
	cfg.FallbackInterval = 5 * time.Millisecond

	sink := newRecordingSink()
	loop, _, _ := newTestLoop(t, cfg, failingOpener, sink)
	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	first := waitOverlay(t, sink)
	second := waitOverlay(t, sink)
	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, SourceFallback, loop.SourceMode())

	snapDir := t.TempDir()
	out, err := loop.Snapshot(snapDir)
	require.NoError(t, err)
	assert.Equal(t, snapDir, filepath.Dir(out))

	_, err = loop.Snapshot(filepath.Join(snapDir, "missing"))
	require.ErrorIs(t, err, io.ErrExportTargetMissing)
}

func TestLoopPacing(t *testing.T) {
	const (
		interval = 50 * time.Millisecond
		window   = 300 * time.Millisecond
	)
	// deliveries a loop throttled to interval can fit in window
	limit := uint64(window/interval) + 1

	framesIn := func(t *testing.T, loop *CaptureLoop, sink *recordingSink) uint64 {
		t.Helper()
		require.NoError(t, loop.Start(context.Background()))
		t.Cleanup(loop.Stop)
		waitOverlay(t, sink)
		before := loop.Stats().Frames
		time.Sleep(window)
		return loop.Stats().Frames - before
	}

	t.Run("fallback republishes at the interval", func(t *testing.T) {
		still := squareMat(t)
		defer still.Close()
		path := filepath.Join(t.TempDir(), "fallback.png")
		require.True(t, gocv.IMWrite(path, still))

		cfg := DefaultLoopConfig()
		cfg.FallbackImage = path
		cfg.FallbackInterval = interval

		sink := newRecordingSink()
		loop, _, _ := newTestLoop(t, cfg, failingOpener, sink)
		frames := framesIn(t, loop, sink)

		assert.Equal(t, SourceFallback, loop.SourceMode())
		assert.LessOrEqual(t, frames, limit)
		assert.Positive(t, frames)
	})

	t.Run("live device is not throttled", func(t *testing.T) {
		tmpl := squareMat(t)
		// the device keeps reading until loop.Stop runs in cleanup
		t.Cleanup(func() { tmpl.Close() })

		cfg := DefaultLoopConfig()
		cfg.FallbackInterval = interval

		sink := newRecordingSink()
		loop, _, _ := newTestLoop(t, cfg, openerFor(newFakeDevice(tmpl)), sink)
		frames := framesIn(t, loop, sink)

		assert.Equal(t, SourceLive, loop.SourceMode())
		assert.Greater(t, frames, limit)
	})
}

func TestLoopWithoutDeviceOrStill(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.FallbackInterval = time.Millisecond

	sink := newRecordingSink()
	loop, _, _ := newTestLoop(t, cfg, failingOpener, sink)

	assert.ErrorIs(t, loop.UploadImage("x.png"), ErrNotRunning)
	_, err := loop.Snapshot(t.TempDir())
	assert.ErrorIs(t, err, ErrFrameUnavailable)

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()
	assert.Equal(t, SourceNone, loop.SourceMode())

	require.Eventually(t, func() bool { return loop.Stats().Ticks > 3 }, 5*time.Second, time.Millisecond)
	assert.Zero(t, sink.deliveries())

	// an uploaded still takes over the fallback path
	path := filepath.Join(t.TempDir(), "upload.jpg")
	img := squareMat(t)
	defer img.Close()
	require.True(t, gocv.IMWrite(path, img))
	require.NoError(t, loop.UploadImage(path))
	waitOverlay(t, sink)
	assert.Equal(t, SourceFallback, loop.SourceMode())
}

func TestLoopRejectsUploadWhileLive(t *testing.T) {
	tmpl := squareMat(t)
	defer tmpl.Close()
	device := newFakeDevice(tmpl)

	loop, _, _ := newTestLoop(t, DefaultLoopConfig(), openerFor(device), newRecordingSink())
	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	assert.ErrorIs(t, loop.UploadImage("still.png"), ErrLiveSource)
}

func TestLoopStopBeforeStart(t *testing.T) {
	loop, _, _ := newTestLoop(t, DefaultLoopConfig(), failingOpener, newRecordingSink())
	loop.Stop()
	loop.Stop()

	select {
	case <-loop.Done():
	default:
		t.Fatal("Done not closed")
	}
	assert.ErrorIs(t, loop.Start(context.Background()), ErrSessionReleased)
}

func TestLoopStartTwice(t *testing.T) {
	loop, _, _ := newTestLoop(t, DefaultLoopConfig(), failingOpener, newRecordingSink())
	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()
	assert.Error(t, loop.Start(context.Background()))
}

func TestConcurrentStop(t *testing.T) {
	tmpl := squareMat(t)
	defer tmpl.Close()
	device := newFakeDevice(tmpl)

	loop, _, _ := newTestLoop(t, DefaultLoopConfig(), openerFor(device), newRecordingSink())
	require.NoError(t, loop.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Stop()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), device.closes.Load())
}
