// Capture loop counters and rolling frame rate
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// fpsWindow is the number of recent frame timestamps the rolling rate uses.
const fpsWindow = 30

// Stats is a point-in-time copy of the Recorder counters.
type Stats struct {
	Ticks           uint64        `json:"ticks"`
	Frames          uint64        `json:"frames"`
	ReadMisses      uint64        `json:"read_misses"`
	Errors          uint64        `json:"errors"`
	Dropped         uint64        `json:"dropped"`
	Delivered       uint64        `json:"delivered"`
	LastProcessing  time.Duration `json:"last_processing_ns"`
	FPS             float64       `json:"fps"`
	Sharpness       float64       `json:"sharpness"`
	ForegroundRatio float64       `json:"foreground_ratio"`
	Uptime          time.Duration `json:"uptime_ns"`
}

// Recorder is safe for concurrent use. Counters are lock-free; only the frame
// rate window takes a mutex.
type Recorder struct {
	ticks      atomic.Uint64
	frames     atomic.Uint64
	readMisses atomic.Uint64
	errors     atomic.Uint64
	dropped    atomic.Uint64
	delivered  atomic.Uint64

	lastProcessing atomic.Int64
	sharpness      atomic.Uint64
	foreground     atomic.Uint64

	mu     sync.Mutex
	window []time.Time

	started time.Time
	now     func() time.Time
}

func NewRecorder() *Recorder {
	return newRecorderWithClock(time.Now)
}

func newRecorderWithClock(now func() time.Time) *Recorder {
	return &Recorder{
		window:  make([]time.Time, 0, fpsWindow),
		started: now(),
		now:     now,
	}
}

func (r *Recorder) Tick()            { r.ticks.Add(1) }
func (r *Recorder) ReadMiss()        { r.readMisses.Add(1) }
func (r *Recorder) ProcessingError() { r.errors.Add(1) }
func (r *Recorder) Dropped()         { r.dropped.Add(1) }
func (r *Recorder) Delivered()       { r.delivered.Add(1) }

// FrameProcessed records one completed tick and its processing time.
func (r *Recorder) FrameProcessed(d time.Duration) {
	r.frames.Add(1)
	r.lastProcessing.Store(int64(d))

	at := r.now()
	r.mu.Lock()
	if len(r.window) == fpsWindow {
		copy(r.window, r.window[1:])
		r.window = r.window[:fpsWindow-1]
	}
	r.window = append(r.window, at)
	r.mu.Unlock()
}

// Quality records the focus and foreground measures of the latest frame.
func (r *Recorder) Quality(q FrameQuality) {
	r.sharpness.Store(floatBits(q.Sharpness))
	r.foreground.Store(floatBits(q.ForegroundRatio))
}

func (r *Recorder) Snapshot() Stats {
	return Stats{
		Ticks:           r.ticks.Load(),
		Frames:          r.frames.Load(),
		ReadMisses:      r.readMisses.Load(),
		Errors:          r.errors.Load(),
		Dropped:         r.dropped.Load(),
		Delivered:       r.delivered.Load(),
		LastProcessing:  time.Duration(r.lastProcessing.Load()),
		FPS:             r.fps(),
		Sharpness:       floatFromBits(r.sharpness.Load()),
		ForegroundRatio: floatFromBits(r.foreground.Load()),
		Uptime:          r.now().Sub(r.started),
	}
}

func (r *Recorder) fps() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.window) < 2 {
		return 0
	}
	span := r.window[len(r.window)-1].Sub(r.window[0])
	if span <= 0 {
		return 0
	}
	return float64(len(r.window)-1) / span.Seconds()
}
