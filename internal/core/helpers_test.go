package core

import (
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gocv.io/x/gocv"
)

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

type patch struct {
	rect    image.Rectangle
	b, g, r float64
}

// bgrFrame returns a black w x h BGR frame with the given patches painted in.
func bgrFrame(t *testing.T, w, h int, patches ...patch) Frame {
	t.Helper()
	m := gocv.Zeros(h, w, gocv.MatTypeCV8UC3)
	for _, p := range patches {
		roi := m.Region(p.rect)
		roi.SetTo(gocv.NewScalar(p.b, p.g, p.r, 0))
		roi.Close()
	}
	return NewFrame(m, 1, time.Unix(0, 0))
}

// fakeDevice replays a fixed frame and counts lifecycle calls.
type fakeDevice struct {
	mu     sync.Mutex
	frame  gocv.Mat
	opened bool
	fail   bool
	sets   map[gocv.VideoCaptureProperties]float64
	setN   atomic.Int32

	reads          atomic.Int32
	closes         atomic.Int32
	readAfterClose atomic.Bool

	// when set, Read parks on gate until it is closed
	gate    chan struct{}
	waiting atomic.Bool
}

func newFakeDevice(frame gocv.Mat) *fakeDevice {
	return &fakeDevice{
		frame:  frame,
		opened: true,
		sets:   make(map[gocv.VideoCaptureProperties]float64),
	}
}

func (d *fakeDevice) Read(m *gocv.Mat) bool {
	if d.gate != nil {
		d.waiting.Store(true)
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads.Add(1)
	if !d.opened {
		d.readAfterClose.Store(true)
		return false
	}
	if d.fail {
		return false
	}
	d.frame.CopyTo(m)
	return true
}

func (d *fakeDevice) Set(prop gocv.VideoCaptureProperties, v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setN.Add(1)
	d.sets[prop] = v
}

func (d *fakeDevice) IsOpened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes.Add(1)
	d.opened = false
	return nil
}

func (d *fakeDevice) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func openerFor(d Device) DeviceOpener {
	return func(string) (Device, error) { return d, nil }
}

func failingOpener(string) (Device, error) {
	return nil, ErrDeviceUnavailable
}

// recordingSink collects deliveries for assertions.
type recordingSink struct {
	mu       sync.Mutex
	raw      []FrameInfo
	masks    []FrameInfo
	overlays []FrameInfo
	regions  [][]Region
	summary  []*Summary
	order    []string

	overlayCh chan FrameInfo
	block     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{overlayCh: make(chan FrameInfo, 64)}
}

func (s *recordingSink) OnRawFrame(img image.Image, info FrameInfo) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, info)
	s.order = append(s.order, "raw")
}

func (s *recordingSink) OnProcessedMask(img image.Image, info FrameInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masks = append(s.masks, info)
	s.order = append(s.order, "mask")
}

func (s *recordingSink) OnOverlay(img image.Image, regions []Region, summary *Summary, info FrameInfo) {
	s.mu.Lock()
	s.overlays = append(s.overlays, info)
	s.regions = append(s.regions, regions)
	s.summary = append(s.summary, summary)
	s.order = append(s.order, "overlay")
	s.mu.Unlock()

	select {
	case s.overlayCh <- info:
	default:
	}
}

func (s *recordingSink) deliveries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.overlays)
}
