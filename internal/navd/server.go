// Package navd exposes the navigation controller and the guarded input
// surface over loopback HTTP.
package navd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Finithe-Phoenix/seeallene/internal/api"
	"github.com/Finithe-Phoenix/seeallene/internal/client"
	"github.com/Finithe-Phoenix/seeallene/internal/config"
	"github.com/Finithe-Phoenix/seeallene/internal/db"
	"github.com/Finithe-Phoenix/seeallene/internal/input"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
	"github.com/Finithe-Phoenix/seeallene/internal/security"
)

const defaultActionListLimit = 50

// Navigator runs one advance cycle. *nav.Controller implements it.
type Navigator interface {
	Advance(ctx context.Context) (model.NavigationResult, error)
}

type Server struct {
	cfg       config.Config
	navigator Navigator
	guard     *input.Guard
	injector  input.Injector
	store     *db.Store
	snapshots *client.Client
	logger    *slog.Logger
	httpSrv   *http.Server
	startAt   time.Time
	mu        sync.Mutex
	listener  net.Listener

	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, navigator Navigator, guard *input.Guard, injector input.Injector, store *db.Store, snapshots *client.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		navigator: navigator,
		guard:     guard,
		injector:  injector,
		store:     store,
		snapshots: snapshots,
		logger:    logger,
		startAt:   time.Now().UTC(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.localOnly)
	r.Get("/", s.statusHandler)
	r.Get("/health", s.healthHandler)
	r.Get("/snapshot", s.snapshotHandler)
	r.Post("/advance", s.advanceHandler)
	r.Get("/actions", s.actionsHandler)
	r.Get("/restarts", s.restartsHandler)
	r.Route("/hands", func(r chi.Router) {
		r.Post("/arm", s.armHandler)
		r.Post("/disarm", s.disarmHandler)
		r.Post("/kill", s.killHandler)
		r.Post("/reset", s.resetHandler)
		r.Get("/status", s.guardStatusHandler)
		r.Post("/click", s.clickHandler)
		r.Post("/type", s.typeHandler)
	})

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
	ln, err := net.Listen("tcp", s.cfg.NavAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.NavAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("navigation daemon listening", "addr", ln.Addr().String())

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
			return fmt.Errorf("serve navigation daemon: %w", err)
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

// localOnly rejects any request that arrived through a proxy. The
// daemon injects keystrokes; it must never be reachable from off-host.
func (s *Server) localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AllowProxied && (r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("Forwarded") != "") {
			s.writeError(w, http.StatusForbidden, model.ErrInjectionBlocked, "proxied requests are not accepted")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Service:       "seeallene-navd",
		Status:        "ok",
		Endpoints: map[string]string{
			"advance":  "/advance",
			"actions":  "/actions",
			"snapshot": "/snapshot",
			"hands":    "/hands/status",
			"health":   "/health",
		},
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Service:       "seeallene-navd",
		Uptime:        time.Since(s.startAt).Round(time.Second).String(),
	})
}

// snapshotHandler proxies one still from the stream daemon so callers
// need only one endpoint.
func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.writeError(w, http.StatusBadGateway, model.ErrStreamDown, "stream daemon client is not configured")
		return
	}
	data, source, err := s.snapshots.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, model.ErrStreamDown, fmt.Sprintf("fetch snapshot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set(client.SourceHeader, source)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// advanceHandler runs one closed-loop advance. It is deliberately not
// behind the arm token: it only ever presses the configured advance key
// and clicks inside the mail list, and it re-verifies the screen before
// and after acting.
func (s *Server) advanceHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.navigator.Advance(r.Context())
	if err != nil {
		code := model.ErrorCode(err)
		status := statusForCode(code)
		s.writeError(w, status, orCode(code, model.ErrCaptureFailed), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.AdvanceResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		OK:            result.Outcome == model.OutcomeAdvanced,
		Outcome:       string(result.Outcome),
		Attempts:      result.Attempts,
		FallbackUsed:  result.FallbackUsed,
	})
}

func (s *Server) actionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultActionListLimit)
	records, err := s.store.ListActions(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "E_STORE_FAILED", fmt.Sprintf("list actions: %v", err))
		return
	}
	items := make([]api.ActionItem, 0, len(records))
	for _, rec := range records {
		item := api.ActionItem{
			ActionID:     rec.ActionID,
			RequestedAt:  rec.RequestedAt.UTC().Format(time.RFC3339Nano),
			Outcome:      rec.Outcome,
			Attempts:     rec.Attempts,
			FallbackUsed: rec.FallbackUsed,
			BeforeDigest: rec.BeforeDigest,
			AfterDigest:  rec.AfterDigest,
			DurationMs:   rec.DurationMs,
			ErrorCode:    rec.ErrorCode,
		}
		if rec.CompletedAt != nil {
			completed := rec.CompletedAt.UTC().Format(time.RFC3339Nano)
			item.CompletedAt = &completed
		}
		items = append(items, item)
	}
	s.writeJSON(w, http.StatusOK, api.ActionsEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Actions:       items,
	})
}

func (s *Server) restartsHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultActionListLimit)
	records, err := s.store.ListRestarts(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "E_STORE_FAILED", fmt.Sprintf("list restarts: %v", err))
		return
	}
	items := make([]api.RestartItem, 0, len(records))
	for _, rec := range records {
		items = append(items, api.RestartItem{
			RestartID:   rec.RestartID,
			ObservedAt:  rec.ObservedAt.UTC().Format(time.RFC3339Nano),
			ProbeError:  rec.ProbeError,
			PreviousPID: rec.PreviousPID,
			NewPID:      rec.NewPID,
		})
	}
	s.writeJSON(w, http.StatusOK, api.RestartsEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Restarts:      items,
	})
}

func (s *Server) armHandler(w http.ResponseWriter, r *http.Request) {
	var req api.ArmRequest
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid arm request body")
			return
		}
	}
	token, ttl, err := s.guard.Arm(time.Duration(req.TTLSeconds) * time.Second)
	if err != nil {
		s.writeGuardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ArmResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Token:         token,
		ExpiresAt:     time.Now().UTC().Add(ttl).Format(time.RFC3339),
	})
}

func (s *Server) disarmHandler(w http.ResponseWriter, _ *http.Request) {
	s.guard.Disarm()
	s.writeJSON(w, http.StatusOK, s.ack("disarmed"))
}

func (s *Server) killHandler(w http.ResponseWriter, _ *http.Request) {
	s.guard.Kill()
	s.logger.Warn("input kill switch engaged")
	s.writeJSON(w, http.StatusOK, s.ack("killed"))
}

// resetHandler clears the kill switch, but only with an explicit
// confirmation header. Resets must be deliberate.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(client.ConfirmHeader) != "reset" {
		s.writeError(w, http.StatusBadRequest, model.ErrInjectionBlocked,
			fmt.Sprintf("kill switch reset requires header %s: reset", client.ConfirmHeader))
		return
	}
	s.guard.ResetKill()
	s.logger.Info("input kill switch reset")
	s.writeJSON(w, http.StatusOK, s.ack("reset"))
}

func (s *Server) guardStatusHandler(w http.ResponseWriter, _ *http.Request) {
	status := s.guard.Status()
	resp := api.GuardStatusResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Armed:         status.Armed,
		Killed:        status.Killed,
		WindowActions: status.WindowActions,
	}
	if status.Armed {
		expires := status.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &expires
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clickHandler(w http.ResponseWriter, r *http.Request) {
	var req api.ClickRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid click request body")
		return
	}
	if err := s.guard.Authorize(bearerToken(r)); err != nil {
		s.writeGuardError(w, err)
		return
	}
	x, y := s.guard.ClampPoint(req.X, req.Y)
	if err := s.injector.Click(r.Context(), x, y); err != nil {
		s.writeError(w, http.StatusBadGateway, orCode(model.ErrorCode(err), model.ErrInjectionBlocked), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.ack(fmt.Sprintf("clicked %d,%d", x, y)))
}

func (s *Server) typeHandler(w http.ResponseWriter, r *http.Request) {
	var req api.TypeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid type request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "text is required")
		return
	}
	if security.SensitiveText(req.Text) {
		s.writeError(w, http.StatusForbidden, model.ErrInjectionBlocked,
			"refusing to type credential-like text")
		return
	}
	if err := s.guard.Authorize(bearerToken(r)); err != nil {
		s.writeGuardError(w, err)
		return
	}
	if err := s.injector.TypeText(r.Context(), req.Text); err != nil {
		s.writeError(w, http.StatusBadGateway, orCode(model.ErrorCode(err), model.ErrInjectionBlocked), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.ack("typed"))
}

func (s *Server) ack(detail string) api.AckResponse {
	return api.AckResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		OK:            true,
		Detail:        detail,
	}
}

func (s *Server) writeGuardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, input.ErrKilled):
		s.writeError(w, http.StatusForbidden, model.ErrInjectionBlocked, "input is disabled by the kill switch")
	case errors.Is(err, input.ErrNotArmed):
		s.writeError(w, http.StatusUnauthorized, model.ErrInjectionBlocked, "input is not armed or the token is invalid")
	case errors.Is(err, input.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, model.ErrInjectionBlocked, "input action rate limit exceeded")
	default:
		s.writeError(w, http.StatusForbidden, model.ErrInjectionBlocked, err.Error())
	}
}

func statusForCode(code string) int {
	switch code {
	case model.ErrPreconditionFailed:
		return http.StatusConflict
	case model.ErrCaptureFailed, model.ErrRecognizerFailed, model.ErrStreamDown:
		return http.StatusBadGateway
	case model.ErrInjectionBlocked:
		return http.StatusForbidden
	case model.ErrRefInvalid:
		return http.StatusBadRequest
	case model.ErrRefNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func orCode(code, fallback string) string {
	if code != "" {
		return code
	}
	return fallback
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error:         api.APIError{Code: code, Message: msg},
	})
}
