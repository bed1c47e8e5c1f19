// Package api mounts the driveguard HTTP endpoints on a goa muxer.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"
	goa "goa.design/goa/v3/pkg"

	"driveguard/internal/auth"
	authmw "driveguard/internal/middleware"
	"driveguard/internal/services"
)

// Services groups the endpoint implementations
type Services struct {
	Health *services.HealthImplementation
	Auth   *services.AuthImplementation
	Status *services.StatusImplementation
	Events *services.EventsImplementation
	Config *services.ConfigImplementation
}

// Mount describes one mounted route
type Mount struct {
	Method  string
	Verb    string
	Pattern string
}

// Server serves the REST API and the live event websocket
type Server struct {
	svcs   Services
	mux    goahttp.Muxer
	logger *zap.SugaredLogger

	Mounts []*Mount
}

// New mounts every route on a fresh muxer. ws may be nil.
func New(svcs Services, ws http.Handler, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		svcs:   svcs,
		mux:    goahttp.NewMuxer(),
		logger: logger,
	}

	s.handle("Healthz", "GET", "/healthz", s.healthz)
	s.handle("Readyz", "GET", "/readyz", s.readyz)
	s.handle("Login", "POST", "/api/auth/login", s.login)
	s.handle("AuthStatus", "GET", "/api/auth/status", s.authStatus)
	s.handle("Status", "GET", "/api/status", s.status)
	s.handle("ListEvents", "GET", "/api/events", s.listEvents)
	s.handle("EventsSummary", "GET", "/api/events/summary", s.eventsSummary)
	s.handle("GetEvent", "GET", "/api/events/{id}", s.getEvent)
	s.handle("GetDetection", "GET", "/api/config/detection", s.getDetection)
	s.handle("UpdateDetection", "PUT", "/api/config/detection", s.updateDetection)
	s.handle("ResetDetection", "DELETE", "/api/config/detection", s.resetDetection)
	if ws != nil {
		s.handle("EventFeed", "GET", "/ws/events", ws.ServeHTTP)
	}
	return s
}

func (s *Server) handle(method, verb, pattern string, h http.HandlerFunc) {
	s.mux.Handle(verb, pattern, h)
	s.Mounts = append(s.Mounts, &Mount{Method: method, Verb: verb, Pattern: pattern})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler wraps the muxer with authentication, request logging and request
// IDs. A non-nil debug writer dumps request and response bodies.
func (s *Server) Handler(authenticator *auth.Authenticator, debug io.Writer) http.Handler {
	var handler http.Handler = s.mux
	if debug != nil {
		handler = httpmdlwr.Debug(s.mux, debug)(handler)
	}
	if authenticator != nil {
		handler = authmw.AuthMiddleware(authenticator, Public)(handler)
	}
	handler = Log(s.logger)(handler)
	handler = httpmdlwr.RequestID()(handler)
	return handler
}

// Public reports whether a request bypasses authentication
func Public(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/api/auth/login":
		return true
	}
	return false
}

func (s *Server) encode(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := goahttp.ResponseEncoder(ctx, w).Encode(v); err != nil {
		s.logger.Warnw("failed to encode response", "error", err)
	}
}

// ErrorBody is the JSON error response
type ErrorBody struct {
	Name    string `json:"name"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// StatusCode maps a service error name to an HTTP status
func StatusCode(err error) int {
	var se *goa.ServiceError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Name {
	case services.ErrNameNotFound:
		return http.StatusNotFound
	case services.ErrNameBadRequest:
		return http.StatusBadRequest
	case services.ErrNameUnauthorized:
		return http.StatusUnauthorized
	case services.ErrNameUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusCode(err)
	body := ErrorBody{Name: "internal", Message: "internal error"}

	var se *goa.ServiceError
	if errors.As(err, &se) {
		body = ErrorBody{Name: se.Name, ID: se.ID, Message: se.Message}
	}
	if status >= http.StatusInternalServerError {
		id, _ := ctx.Value(middleware.RequestIDKey).(string)
		s.logger.Errorw("request failed", "request_id", id, "error", err)
	}
	s.encode(ctx, w, status, body)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.svcs.Health.Healthz(r.Context()); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.svcs.Health.Readyz(r.Context()); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var payload services.LoginPayload
	if err := goahttp.RequestDecoder(r).Decode(&payload); err != nil {
		s.fail(r.Context(), w, goa.PermanentError(services.ErrNameBadRequest, "invalid login body: %v", err))
		return
	}
	res, err := s.svcs.Auth.Login(r.Context(), &payload)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Auth.Status(r.Context())
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Status.Status(r.Context())
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func listPayload(r *http.Request) (*services.ListPayload, error) {
	q := r.URL.Query()
	p := &services.ListPayload{
		Kind:  q.Get("event_type"),
		Since: q.Get("since"),
		Until: q.Get("until"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, goa.PermanentError(services.ErrNameBadRequest, "limit must be an integer")
		}
		p.Limit = n
	}
	return p, nil
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	p, err := listPayload(r)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	res, err := s.svcs.Events.List(r.Context(), p)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) eventsSummary(w http.ResponseWriter, r *http.Request) {
	p, err := listPayload(r)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	res, err := s.svcs.Events.Summary(r.Context(), p)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Events.Get(r.Context(), s.mux.Vars(r)["id"])
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) getDetection(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Config.GetDetection(r.Context())
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

// updateDetection decodes over the active options so a body may carry only
// the fields being changed
func (s *Server) updateDetection(w http.ResponseWriter, r *http.Request) {
	current, err := s.svcs.Config.GetDetection(r.Context())
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	opts := *current
	if err := goahttp.RequestDecoder(r).Decode(&opts); err != nil {
		s.fail(r.Context(), w, goa.PermanentError(services.ErrNameBadRequest, "invalid detection options: %v", err))
		return
	}
	res, err := s.svcs.Config.UpdateDetection(r.Context(), &opts)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) resetDetection(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Config.ResetDetection(r.Context())
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}
