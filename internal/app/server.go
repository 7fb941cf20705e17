package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hushling/internal/engine"
	"github.com/MrWong99/hushling/internal/health"
	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/internal/recorder"
)

// writeTimeout bounds a single websocket message.
const writeTimeout = 5 * time.Second

// server exposes a [Controller] over HTTP.
type server struct {
	ctrl *Controller
	// bg outlives requests; previews started over HTTP run on it.
	bg context.Context
}

// NewHandler returns the status server's routes wrapped in
// [observe.Middleware]:
//
//	GET  /state          current [Status]
//	GET  /state/stream   websocket, one [StateView] per state change
//	POST /trigger        start a playback cycle
//	POST /start, /stop   control automation
//	PUT  /volume         {"volume": 0.5}
//	POST /record         record a sample (?duration=10s), blocks until done
//	POST /record/stop    end a recording early
//	POST /record/use     make the recording the shush track
//	POST /preview        play the recording once in the background
//	POST /preview/stop   end a preview
//	GET  /metrics        Prometheus scrape (when metricsHandler is non-nil)
//	GET  /healthz, /readyz
func NewHandler(bg context.Context, ctrl *Controller, hh *health.Handler, metricsHandler http.Handler, m *observe.Metrics) http.Handler {
	s := &server{ctrl: ctrl, bg: bg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /state/stream", s.handleStream)
	mux.HandleFunc("POST /trigger", s.handleTrigger)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("PUT /volume", s.handleVolume)
	mux.HandleFunc("POST /record", s.handleRecord)
	mux.HandleFunc("POST /record/stop", s.handleRecordStop)
	mux.HandleFunc("POST /record/use", s.handleRecordUse)
	mux.HandleFunc("POST /preview", s.handlePreview)
	mux.HandleFunc("POST /preview/stop", s.handlePreviewStop)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	if hh != nil {
		hh.Register(mux)
	}
	return observe.Middleware(m)(mux)
}

func (s *server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())
	states, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	log := observe.Logger(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case st, ok := <-states:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "engine released")
				return
			}
			data, err := json.Marshal(s.ctrl.View(st))
			if err != nil {
				conn.Close(websocket.StatusInternalError, "encode failed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug("app: state stream closed", "err", err)
				return
			}
		}
	}
}

func (s *server) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	err := s.ctrl.Trigger()
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.ctrl.Status())
	case errors.Is(err, engine.ErrNotRunning), errors.Is(err, engine.ErrPlaybackActive):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Stop()
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Volume == nil {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"volume": <0..1>}`))
		return
	}
	if v := *body.Volume; v < 0 || v > 1 {
		writeError(w, http.StatusBadRequest, errors.New("volume out of range [0, 1]"))
		return
	}
	s.ctrl.SetVolume(*body.Volume)
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var d time.Duration
	if q := r.URL.Query().Get("duration"); q != "" {
		var err error
		if d, err = time.ParseDuration(q); err != nil || d <= 0 || d > time.Minute {
			writeError(w, http.StatusBadRequest, errors.New("duration must be in (0, 1m]"))
			return
		}
	}
	uri, err := s.ctrl.Record(r.Context(), d)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"uri": uri})
	case errors.Is(err, recorder.ErrBusy), errors.Is(err, engine.ErrPlaybackActive):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *server) handleRecordStop(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.StopRecording()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRecordUse(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.UseRecording(); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	if !s.ctrl.rec.HasRecording() {
		writeError(w, http.StatusNotFound, ErrNoRecording)
		return
	}
	if s.ctrl.State().Active() {
		writeError(w, http.StatusConflict, engine.ErrPlaybackActive)
		return
	}
	go func() {
		if _, err := s.ctrl.Preview(s.bg); err != nil {
			slog.Warn("app: preview failed", "err", err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handlePreviewStop(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.StopPreview()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
