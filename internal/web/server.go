package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"camera-inspection/internal/algorithms"
	"camera-inspection/internal/core"
	"camera-inspection/internal/io"
	"camera-inspection/internal/metrics"
)

const maxParamsBody = 64 * 1024

// Controller is the part of the capture loop the HTTP surface drives.
type Controller interface {
	Snapshot(dir string) (string, error)
	Stats() metrics.Stats
	StageTimings() []core.StageTiming
	SourceMode() core.SourceMode
	SessionID() string
}

type statsJSON struct {
	Session   string             `json:"session"`
	Source    string             `json:"source"`
	Clients   int                `json:"ws_clients"`
	Loop      metrics.Stats      `json:"loop"`
	Stages    []core.StageTiming `json:"stages"`
	Timestamp time.Time          `json:"timestamp"`
}

type algorithmJSON struct {
	Name        string                     `json:"name"`
	Title       string                     `json:"title"`
	Category    string                     `json:"category"`
	Description string                     `json:"description"`
	Defaults    map[string]interface{}     `json:"defaults"`
	Parameters  []algorithms.ParameterInfo `json:"parameters"`
}

type errorJSON struct {
	Error string `json:"error"`
}

// Server exposes frames, parameters, snapshots and statistics over HTTP.
type Server struct {
	Log logrus.FieldLogger

	store       *core.ParameterStore
	ctl         Controller
	sink        *Sink
	hub         *Hub
	snapshotDir string
	wsUpgrader  websocket.Upgrader
}

func NewServer(store *core.ParameterStore, ctl Controller, sink *Sink, hub *Hub, snapshotDir string, logger logrus.FieldLogger) *Server {
	return &Server{
		Log:         logger.WithField("component", "web"),
		store:       store,
		ctl:         ctl,
		sink:        sink,
		hub:         hub,
		snapshotDir: snapshotDir,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/api/frame/:kind", s.httpGetFrame)
	router.GET("/api/params", s.httpGetParams)
	router.PUT("/api/params", s.httpPutParams)
	router.POST("/api/snapshot", s.httpSnapshot)
	router.GET("/api/stats", s.httpStats)
	router.GET("/api/algorithms", s.httpAlgorithms)
	router.GET("/api/ws", s.httpWebSocket)
	return router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Infof("Listening on %v", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Fetch the newest JPEG of a pipeline stage.
// Example: curl -o overlay.jpg localhost:8080/api/frame/overlay
func (s *Server) httpGetFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	kind := params.ByName("kind")
	switch kind {
	case KindRaw, KindMask, KindOverlay:
	default:
		sendError(w, http.StatusBadRequest, "invalid frame kind '"+kind+"'. Valid values are 'raw', 'mask' and 'overlay'")
		return
	}

	jpeg, info, ok := s.sink.Latest(kind)
	if !ok {
		sendError(w, http.StatusNotFound, "no frame available yet")
		return
	}

	cacheNever(w)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Frame-Seq", formatUint(info.Seq))
	w.Write(jpeg)
}

func (s *Server) httpGetParams(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sendJSON(w, http.StatusOK, s.store.Snapshot())
}

// Update any subset of the pipeline parameters. The whole result is validated
// before it replaces the running set.
// Example: curl -X PUT -d '{"dilate_kernel":5,"mode":"dilate"}' localhost:8080/api/params
func (s *Server) httpPutParams(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	next := s.store.Snapshot()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		sendError(w, http.StatusBadRequest, "invalid parameters: "+err.Error())
		return
	}

	if err := s.store.Replace(next); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.Log.WithField("params", next).Info("Parameters updated")
	sendJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) httpSnapshot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	path, err := s.ctl.Snapshot(s.snapshotDir)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, map[string]string{"path": path})
	case errors.Is(err, core.ErrFrameUnavailable):
		sendError(w, http.StatusNotFound, "no frame available yet")
	case errors.Is(err, io.ErrExportTargetMissing):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, io.ErrSnapshotExists):
		sendError(w, http.StatusConflict, err.Error())
	default:
		s.Log.WithError(err).Error("Snapshot failed")
		sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.Clients()
	}
	sendJSON(w, http.StatusOK, statsJSON{
		Session:   s.ctl.SessionID(),
		Source:    s.ctl.SourceMode().String(),
		Clients:   clients,
		Loop:      s.ctl.Stats(),
		Stages:    s.ctl.StageTimings(),
		Timestamp: time.Now(),
	})
}

// List the pipeline stages with their parameter ranges.
func (s *Server) httpAlgorithms(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	category := map[string]string{}
	for cat, names := range algorithms.GetAlgorithmsByCategory() {
		for _, name := range names {
			category[name] = cat
		}
	}

	out := []algorithmJSON{}
	for _, name := range algorithms.Names() {
		alg, _ := algorithms.Get(name)
		out = append(out, algorithmJSON{
			Name:        name,
			Title:       alg.GetName(),
			Category:    category[name],
			Description: alg.GetDescription(),
			Defaults:    alg.GetDefaultParams(),
			Parameters:  alg.GetParameterInfo(),
		})
	}
	sendJSON(w, http.StatusOK, out)
}

func (s *Server) httpWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.hub == nil {
		sendError(w, http.StatusNotFound, "websocket disabled")
		return
	}
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpWebSocket upgrade failed: %v", err)
		return
	}
	s.hub.Serve(c)
}
