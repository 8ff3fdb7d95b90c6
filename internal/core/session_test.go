package core

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"camera-inspection/internal/io"
)

func TestSessionLifecycle(t *testing.T) {
	tmpl := squareMat(t)
	defer tmpl.Close()
	device := newFakeDevice(tmpl)

	session := OpenSession(openerFor(device), DeviceConfig{Width: 640, Height: 480, FPS: 30}, testLogger())
	assert.Equal(t, SessionOpen, session.State())
	assert.NotEmpty(t, session.ID)

	for i := 0; i < 3; i++ {
		m := gocv.NewMat()
		require.NoError(t, session.Read(&m))
		assert.Equal(t, tmpl.Cols(), m.Cols())
		m.Close()
	}
	assert.Equal(t, int32(3), device.setN.Load(), "configuration is applied once")

	device.setFail(true)
	m := gocv.NewMat()
	assert.ErrorIs(t, session.Read(&m), ErrFrameUnavailable)

	require.NoError(t, session.Release())
	require.NoError(t, session.Release())
	assert.Equal(t, SessionReleased, session.State())
	assert.Equal(t, int32(1), device.closes.Load())

	assert.ErrorIs(t, session.Read(&m), ErrSessionReleased)
	m.Close()
	assert.False(t, device.readAfterClose.Load())
}

func TestSessionStateDuringBlockedRead(t *testing.T) {
	tmpl := squareMat(t)
	defer tmpl.Close()
	device := newFakeDevice(tmpl)
	device.gate = make(chan struct{})

	s := OpenSession(openerFor(device), DeviceConfig{Device: "0"}, testLogger())
	source := NewFrameSource(s, io.NewImageLoader(testLogger()), "", testLogger())

	readErr := make(chan error, 1)
	go func() {
		m := gocv.NewMat()
		defer m.Close()
		readErr <- s.Read(&m)
	}()
	require.Eventually(t, device.waiting.Load, 5*time.Second, time.Millisecond)

	modeCh := make(chan SourceMode, 1)
	go func() { modeCh <- source.Mode() }()
	select {
	case mode := <-modeCh:
		assert.Equal(t, SourceLive, mode)
	case <-time.After(time.Second):
		t.Fatal("Mode waited on an in-flight device read")
	}
	assert.Equal(t, SessionOpen, s.State())

	close(device.gate)
	require.NoError(t, <-readErr)
	require.NoError(t, s.Release())
	assert.Equal(t, SessionReleased, s.State())
	assert.Equal(t, int32(1), device.closes.Load())
}

func TestSessionUnavailableDevice(t *testing.T) {
	session := OpenSession(failingOpener, DeviceConfig{}, testLogger())
	assert.Equal(t, SessionClosed, session.State())

	m := gocv.NewMat()
	defer m.Close()
	assert.ErrorIs(t, session.Read(&m), ErrDeviceUnavailable)

	// closed devices returned by the opener are released immediately
	tmpl := squareMat(t)
	defer tmpl.Close()
	dead := newFakeDevice(tmpl)
	dead.opened = false
	session = OpenSession(openerFor(dead), DeviceConfig{}, testLogger())
	assert.Equal(t, SessionClosed, session.State())
	assert.Equal(t, int32(1), dead.closes.Load())

	require.NoError(t, session.Release())
	assert.Equal(t, SessionReleased, session.State())
	assert.Equal(t, int32(1), dead.closes.Load())
}

func TestFrameSourceFallbackStill(t *testing.T) {
	still := squareMat(t)
	defer still.Close()
	path := filepath.Join(t.TempDir(), "still.png")
	require.True(t, gocv.IMWrite(path, still))

	logger := testLogger()
	session := OpenSession(failingOpener, DeviceConfig{}, logger)
	source := NewFrameSource(session, io.NewImageLoader(logger), path, logger)
	assert.Equal(t, SourceNone, source.Mode())

	first, err := source.TryAcquire()
	require.NoError(t, err)
	defer first.Close()
	second, err := source.TryAcquire()
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, SourceFallback, source.Mode())
	assert.Equal(t, first.Mat.ToBytes(), second.Mat.ToBytes())
	assert.NotEqual(t, first.Mat.Ptr(), second.Mat.Ptr(), "every frame is an independent copy")
	assert.Equal(t, first.Seq+1, second.Seq)

	// uploads are restricted to the accepted formats
	err = source.SetStill(filepath.Join(t.TempDir(), "still.bmp"))
	require.ErrorIs(t, err, io.ErrUnsupportedFormat)

	require.NoError(t, source.Close())
	require.NoError(t, source.Close())
	_, err = source.TryAcquire()
	require.ErrorIs(t, err, ErrSessionReleased)
	require.ErrorIs(t, source.SetStill(path), ErrSessionReleased)
}

func TestFrameSourceMissingFallbackLoadsOnce(t *testing.T) {
	logger := testLogger()
	session := OpenSession(failingOpener, DeviceConfig{}, logger)
	missing := filepath.Join(t.TempDir(), "missing.png")
	source := NewFrameSource(session, io.NewImageLoader(logger), missing, logger)
	defer source.Close()

	for i := 0; i < 3; i++ {
		_, err := source.TryAcquire()
		require.ErrorIs(t, err, ErrDeviceUnavailable)
	}

	// once the file appears the source still does not poll for it
	img := squareMat(t)
	defer img.Close()
	require.True(t, gocv.IMWrite(missing, img))
	_, err := source.TryAcquire()
	require.True(t, errors.Is(err, ErrDeviceUnavailable))

	// an explicit upload does
	require.NoError(t, source.SetStill(missing))
	frame, err := source.TryAcquire()
	require.NoError(t, err)
	frame.Close()
}

func TestPipelineDebuggerTimings(t *testing.T) {
	pd := NewPipelineDebugger()
	pd.LogOperation("dilation", true, 2*time.Millisecond)
	pd.LogOperation("dilation", true, 4*time.Millisecond)
	pd.LogOperation("erosion", false, time.Second)

	stats := pd.GetStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "dilation", stats[0].Stage)
	assert.Equal(t, uint64(2), stats[0].Runs)
	assert.Equal(t, 3*time.Millisecond, stats[0].Average)
	assert.Equal(t, 4*time.Millisecond, stats[0].Last)
	assert.Equal(t, uint64(1), stats[1].Failed)
	assert.Zero(t, stats[1].Average)

	for i := 0; i < stageHistory+10; i++ {
		pd.LogOperation("gaussian", true, time.Duration(i))
	}
	stats = pd.GetStats()
	assert.Equal(t, time.Duration(stageHistory+9), stats[2].Last)
}
