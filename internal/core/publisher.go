// Latest-wins handoff from the capture loop to the display sink
package core

import (
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"camera-inspection/internal/metrics"
)

// FrameInfo identifies the tick a displayed artifact belongs to.
type FrameInfo struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// DisplaySink receives each delivered tick in order raw, mask, overlay. Calls
// come from the publisher goroutine; implementations hop to their own thread.
type DisplaySink interface {
	OnRawFrame(img image.Image, info FrameInfo)
	OnProcessedMask(img image.Image, info FrameInfo)
	OnOverlay(img image.Image, regions []Region, summary *Summary, info FrameInfo)
}

// MultiSink fans a delivery out to several sinks.
type MultiSink []DisplaySink

func (m MultiSink) OnRawFrame(img image.Image, info FrameInfo) {
	for _, s := range m {
		s.OnRawFrame(img, info)
	}
}

func (m MultiSink) OnProcessedMask(img image.Image, info FrameInfo) {
	for _, s := range m {
		s.OnProcessedMask(img, info)
	}
}

func (m MultiSink) OnOverlay(img image.Image, regions []Region, summary *Summary, info FrameInfo) {
	for _, s := range m {
		s.OnOverlay(img, regions, summary, info)
	}
}

// Publication is everything one tick produced. The publisher owns its Mats
// once Publish is called.
type Publication struct {
	Seq        uint64
	Timestamp  time.Time
	Raw        gocv.Mat
	Mask       gocv.Mat
	Overlay    gocv.Mat
	Regions    []Region
	Summary    Summary
	HasSummary bool
}

func (p *Publication) Info() FrameInfo {
	return FrameInfo{Seq: p.Seq, Timestamp: p.Timestamp, Width: p.Raw.Cols(), Height: p.Raw.Rows()}
}

func (p *Publication) Close() {
	for _, m := range []gocv.Mat{p.Raw, p.Mask, p.Overlay} {
		if m.Ptr() != nil {
			m.Close()
		}
	}
}

// FramePublisher holds at most one undelivered publication. Publish never
// blocks; a newer publication replaces and frees the pending one.
type FramePublisher struct {
	sink     DisplaySink
	recorder *metrics.Recorder
	logger   logrus.FieldLogger

	mu      sync.Mutex
	cond    *sync.Cond
	pending *Publication
	closed  bool

	latestMu     sync.Mutex
	latest       gocv.Mat
	hasLatest    bool
	latestClosed bool

	wg sync.WaitGroup
}

// NewFramePublisher starts the delivery goroutine. Close stops it.
func NewFramePublisher(sink DisplaySink, recorder *metrics.Recorder, logger logrus.FieldLogger) *FramePublisher {
	p := &FramePublisher{
		sink:     sink,
		recorder: recorder,
		logger:   logger.WithField("component", "publisher"),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(1)
	go p.deliveryLoop()
	return p
}

// Publish hands pub to the delivery goroutine.
func (p *FramePublisher) Publish(pub *Publication) {
	p.keepLatest(pub.Raw)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		pub.Close()
		return
	}
	if p.pending != nil {
		p.pending.Close()
		if p.recorder != nil {
			p.recorder.Dropped()
		}
		p.logger.WithField("seq", p.pending.Seq).Debug("Publication superseded")
	}
	p.pending = pub
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *FramePublisher) keepLatest(raw gocv.Mat) {
	if raw.Ptr() == nil || raw.Empty() {
		return
	}
	p.latestMu.Lock()
	defer p.latestMu.Unlock()
	if p.latestClosed {
		return
	}
	clone := raw.Clone()
	if p.hasLatest {
		p.latest.Close()
	}
	p.latest = clone
	p.hasLatest = true
}

// LatestRaw returns a copy of the newest published raw frame. The caller
// closes it. ok is false before the first publication.
func (p *FramePublisher) LatestRaw() (gocv.Mat, bool) {
	p.latestMu.Lock()
	defer p.latestMu.Unlock()
	if !p.hasLatest {
		return gocv.NewMat(), false
	}
	return p.latest.Clone(), true
}

func (p *FramePublisher) deliveryLoop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.pending == nil && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		pub := p.pending
		p.pending = nil
		p.mu.Unlock()

		p.deliver(pub)
	}
}

func (p *FramePublisher) deliver(pub *Publication) {
	info := pub.Info()

	raw, rawErr := pub.Raw.ToImage()
	mask, maskErr := pub.Mask.ToImage()
	overlay, overlayErr := pub.Overlay.ToImage()
	pub.Close()

	for _, err := range []error{rawErr, maskErr, overlayErr} {
		if err != nil {
			p.logger.WithField("seq", info.Seq).WithError(err).Warn("Publication could not be converted")
			return
		}
	}

	var summary *Summary
	if pub.HasSummary {
		s := pub.Summary
		summary = &s
	}

	p.sink.OnRawFrame(raw, info)
	p.sink.OnProcessedMask(mask, info)
	p.sink.OnOverlay(overlay, pub.Regions, summary, info)

	if p.recorder != nil {
		p.recorder.Delivered()
	}
}

// Close stops delivery, frees the pending publication and the latest raw
// copy. Safe to call more than once.
func (p *FramePublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.pending != nil {
		p.pending.Close()
		p.pending = nil
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()

	p.latestMu.Lock()
	p.latestClosed = true
	if p.hasLatest {
		p.latest.Close()
		p.hasLatest = false
	}
	p.latestMu.Unlock()
}
