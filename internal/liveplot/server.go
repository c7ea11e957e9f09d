package liveplot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/export"
	"codeberg.org/mutker/specsweep/internal/history"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// Defaults fills the range fields a start request leaves out.
type Defaults struct {
	Start float64
	Stop  float64
	Step  float64
}

// StartRequest is the optional body of POST /api/sweep.
type StartRequest struct {
	Start *float64 `json:"start"`
	Stop  *float64 `json:"stop"`
	Step  *float64 `json:"step"`
}

// Server exposes the sweep controller over HTTP and streams the live plot
// over a websocket.
type Server struct {
	ctrl        *sweep.Controller
	broadcaster *Broadcaster
	exporter    *export.Service
	archive     history.Archive
	defaults    Defaults
	log         logger.Logger
	upgrader    websocket.Upgrader

	// ctx outlives requests; sweeps started over HTTP run under it.
	ctx  context.Context
	mu   sync.Mutex
	busy bool
	wg   sync.WaitGroup
}

func NewServer(ctx context.Context, ctrl *sweep.Controller, broadcaster *Broadcaster, exporter *export.Service,
	archive history.Archive, defaults Defaults, log logger.Logger,
) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		ctx:         ctx,
		ctrl:        ctrl,
		broadcaster: broadcaster,
		exporter:    exporter,
		archive:     archive,
		defaults:    defaults,
		log:         log,
		upgrader: websocket.Upgrader{
			// The UI is served from anywhere on the lab network
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)

	r.Route("/api/sweep", func(r chi.Router) {
		r.Get("/", s.handleState)
		r.Post("/", s.handleStart)
		r.Post("/cancel", s.handleCancel)
		r.Get("/dataset", s.handleDataset)
		r.Get("/export/{format}", s.handleExport)
	})

	if s.archive != nil {
		r.Get("/api/history", s.handleHistory)
		r.Get("/api/history/{id}/export/{format}", s.handleHistoryExport)
	}

	return r
}

// ListenAndServe serves on addr until ctx is done, then cancels any running
// sweep and shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.New().Wrap(errors.ErrUnavailable, err)
	case <-ctx.Done():
	}

	s.ctrl.Cancel()
	s.broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	s.Wait()
	return nil
}

// Wait blocks until sweeps started over HTTP have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("Plot client connected")
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Debug().Str("remote", r.RemoteAddr).Msg("Plot client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.State())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()

	req := StartRequest{}
	// An empty body starts a sweep over the default range
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, errFactory.Wrap(errors.ErrInvalidArgument, err))
		return
	}

	ax, err := axis.New(
		valueOr(req.Start, s.defaults.Start),
		valueOr(req.Stop, s.defaults.Stop),
		valueOr(req.Step, s.defaults.Step),
	)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.mu.Lock()
	if s.busy || s.ctrl.State().Running {
		s.mu.Unlock()
		s.writeError(w, errFactory.New(errors.ErrSweepRunning))
		return
	}
	s.busy = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		}()

		if _, err := s.ctrl.Run(s.ctx, ax); err != nil {
			s.log.Error().Err(err).Msg("Sweep failed to start")
		}
	}()

	writeJSON(w, http.StatusAccepted, struct {
		Axis  string `json:"axis"`
		Steps int    `json:"steps"`
	}{ax.String(), ax.Len()})
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Cancel()
	writeJSON(w, http.StatusAccepted, s.ctrl.State())
}

type datasetResponse struct {
	Start      float64        `json:"start"`
	Stop       float64        `json:"stop"`
	Step       float64        `json:"step"`
	Channel    sweep.Channel  `json:"channel"`
	Cancelled  bool           `json:"cancelled"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Samples    []sweep.Sample `json:"samples"`
	Stats      *sweep.Stats   `json:"stats,omitempty"`
}

func newDatasetResponse(ds *sweep.Dataset) datasetResponse {
	ax := ds.Axis()
	samples := ds.Samples()
	if samples == nil {
		samples = []sweep.Sample{}
	}
	return datasetResponse{
		Start:      ax.Start(),
		Stop:       ax.Stop(),
		Step:       ax.Step(),
		Channel:    ds.Channel(),
		Cancelled:  ds.Cancelled(),
		StartedAt:  ds.StartedAt(),
		FinishedAt: ds.FinishedAt(),
		Samples:    samples,
	}
}

func (s *Server) handleDataset(w http.ResponseWriter, _ *http.Request) {
	last := s.ctrl.Last()
	if last == nil {
		s.writeError(w, errors.New().New(errors.ErrNoDataset))
		return
	}

	resp := newDatasetResponse(last.Dataset)
	resp.Stats = &last.Stats
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	last := s.ctrl.Last()
	if last == nil {
		s.writeError(w, errors.New().New(errors.ErrNoDataset))
		return
	}
	s.serveExport(w, r, last.Dataset)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, errors.New().Wrap(errors.ErrInvalidArgument, err))
			return
		}
		limit = n
	}

	list, err := s.archive.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []history.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, errors.New().Wrap(errors.ErrInvalidArgument, err))
		return
	}

	ds, err := s.archive.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveExport(w, r, ds)
}

func (s *Server) serveExport(w http.ResponseWriter, r *http.Request, ds *sweep.Dataset) {
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Encode fully before writing headers so a failure still gets a status
	var buf bytes.Buffer
	if err := s.exporter.WriteTo(r.Context(), ds, format, &buf); err != nil {
		s.writeError(w, errors.New().Wrap(errors.ErrExportFailed, err))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.FileName(ds, format, time.Now())))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type errorResponse struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("error_code", string(code)).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalidArgument, errors.ErrInvalidRange, errors.ErrUnsupportedFormat:
		return http.StatusBadRequest
	case errors.ErrNoDataset, errors.ErrSweepNotFound:
		return http.StatusNotFound
	case errors.ErrSweepRunning:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func valueOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

// requestLogger logs each request through the package logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}
