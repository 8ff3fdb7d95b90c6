package web

import (
	"encoding/json"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"camera-inspection/internal/core"
	"camera-inspection/internal/io"
)

// Frame kinds served by /api/frame/:kind.
const (
	KindRaw     = "raw"
	KindMask    = "mask"
	KindOverlay = "overlay"
)

type encodedFrame struct {
	jpeg []byte
	info core.FrameInfo
}

// tickMessage is pushed to websocket clients after every delivered overlay.
type tickMessage struct {
	Seq     uint64        `json:"seq"`
	Width   int           `json:"width"`
	Height  int           `json:"height"`
	Regions []core.Region `json:"regions"`
	Summary *core.Summary `json:"summary,omitempty"`
}

// Sink is a core.DisplaySink that keeps the newest JPEG of each kind and
// broadcasts region summaries.
type Sink struct {
	hub *Hub
	log logrus.FieldLogger

	mu     sync.RWMutex
	frames map[string]encodedFrame
}

func NewSink(hub *Hub, logger logrus.FieldLogger) *Sink {
	return &Sink{
		hub:    hub,
		log:    logger.WithField("component", "web-sink"),
		frames: make(map[string]encodedFrame),
	}
}

func (s *Sink) OnRawFrame(img image.Image, info core.FrameInfo) {
	s.store(KindRaw, img, info)
}

func (s *Sink) OnProcessedMask(img image.Image, info core.FrameInfo) {
	s.store(KindMask, img, info)
}

func (s *Sink) OnOverlay(img image.Image, regions []core.Region, summary *core.Summary, info core.FrameInfo) {
	s.store(KindOverlay, img, info)

	if s.hub == nil {
		return
	}
	msg, err := json.Marshal(tickMessage{
		Seq:     info.Seq,
		Width:   info.Width,
		Height:  info.Height,
		Regions: regions,
		Summary: summary,
	})
	if err != nil {
		s.log.WithError(err).Warn("Tick message could not be encoded")
		return
	}
	s.hub.Broadcast(msg)
}

// Latest returns the newest JPEG of kind. ok is false before the first delivery.
func (s *Sink) Latest(kind string) ([]byte, core.FrameInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[kind]
	return f.jpeg, f.info, ok
}

func (s *Sink) store(kind string, img image.Image, info core.FrameInfo) {
	jpeg, err := encodeImage(img)
	if err != nil {
		s.log.WithField("kind", kind).WithError(err).Warn("Frame could not be encoded")
		return
	}
	s.mu.Lock()
	s.frames[kind] = encodedFrame{jpeg: jpeg, info: info}
	s.mu.Unlock()
}

func encodeImage(img image.Image) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return io.EncodeJPEG(mat)
}
