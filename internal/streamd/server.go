// Package streamd serves live screen frames as JPEG stills and MJPEG
// streams on the loopback interface.
package streamd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Finithe-Phoenix/seeallene/internal/api"
	"github.com/Finithe-Phoenix/seeallene/internal/capture"
	"github.com/Finithe-Phoenix/seeallene/internal/client"
	"github.com/Finithe-Phoenix/seeallene/internal/config"
	"github.com/Finithe-Phoenix/seeallene/internal/stream"
)

type Server struct {
	cfg      config.Config
	source   capture.Source
	encoder  *capture.Encoder
	logger   *slog.Logger
	httpSrv  *http.Server
	startAt  time.Time
	mu       sync.Mutex
	listener net.Listener

	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, source capture.Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		source:  source,
		encoder: capture.NewEncoder(),
		logger:  logger,
		startAt: time.Now().UTC(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/", s.statusHandler)
	r.Get("/health", s.healthHandler)
	r.Get("/snapshot.jpg", s.snapshotHandler)
	r.Get("/stream", s.streamHandler)

	s.httpSrv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.StreamAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.StreamAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("stream daemon listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve stream daemon: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

// statusHandler answers the watchdog's liveness probe.
func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.StatusResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Service:       "seeallene-streamd",
		Status:        "ok",
		FPS:           s.cfg.StreamFPS,
		Quality:       s.cfg.StreamQuality,
		Endpoints: map[string]string{
			"snapshot": "/snapshot.jpg",
			"stream":   "/stream",
			"health":   "/health",
		},
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Service:       "seeallene-streamd",
		Uptime:        time.Since(s.startAt).Round(time.Second).String(),
	})
}

// snapshotHandler always answers with an image. When the screen cannot
// be captured it substitutes a placeholder and says so in a header, so
// viewers keep rendering while the capture path recovers.
func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	payload, live := s.encodeFrame(r.Context(), s.cfg.SnapshotQuality)
	source := "live"
	if !live {
		source = "placeholder"
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set(client.SourceHeader, source)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	_, _ = w.Write(payload)
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	session := s.streamSession(r)

	w.Header().Set("Content-Type", session.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	b := stream.NewBroadcaster(session, func(ctx context.Context) ([]byte, error) {
		payload, _ := s.encodeFrame(ctx, session.Quality)
		return payload, nil
	}, s.logger)
	b.Serve(r.Context(), w)
}

// streamSession negotiates the per-connection parameters. An absent
// query parameter falls back to the configured default; a present
// value, zero included, is clamped to the allowed range.
func (s *Server) streamSession(r *http.Request) stream.Session {
	query := r.URL.Query()
	fps := s.cfg.StreamFPS
	if query.Has("fps") {
		fps, _ = strconv.Atoi(query.Get("fps"))
	}
	quality := s.cfg.StreamQuality
	if query.Has("q") {
		quality, _ = strconv.Atoi(query.Get("q"))
	}
	return stream.NewSession(fps, quality)
}

// encodeFrame returns a JPEG at the requested quality and whether it
// came from a live capture.
func (s *Server) encodeFrame(ctx context.Context, quality int) ([]byte, bool) {
	frame, err := s.source.Capture(ctx, s.cfg.CaptureRegion)
	if err != nil {
		s.logger.Warn("capture failed, serving placeholder", "error", err)
		return s.placeholder(0, 0, quality), false
	}
	payload, err := s.encoder.EncodeJPEG(frame, quality)
	if err != nil {
		s.logger.Warn("encode failed, serving placeholder", "error", err)
		return s.placeholder(frame.Width, frame.Height, quality), false
	}
	return payload, true
}

func (s *Server) placeholder(width, height, quality int) []byte {
	payload, err := capture.PlaceholderJPEG(width, height, quality)
	if err != nil {
		// Encoding a synthetic in-memory image only fails if the
		// process is out of memory; an empty body is the best answer.
		s.logger.Error("placeholder encode failed", "error", err)
		return nil
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
