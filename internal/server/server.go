// Package server is a reference HTTP implementation of the standard resource
// requests, backed by a store.Store. It exists so the client core can be
// exercised end to end and so meshd has something to serve.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"meshcore/internal/store"
	"meshcore/pkg/resource"
)

func init() {
	chi.RegisterMethod(resource.MethodLoad)
}

// Observer receives one observation per handled request.
type Observer interface {
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

type Server struct {
	store     store.Store
	logger    *zap.Logger
	observer  Observer
	resources map[string]resource.Resource
	router    chi.Router
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithRoute mounts an extra handler, e.g. a metrics endpoint.
func WithRoute(pattern string, h http.Handler) Option {
	return func(s *Server) { s.router.Handle(pattern, h) }
}

// New mounts the declared requests of every resource.
func New(st store.Store, resources []resource.Resource, opts ...Option) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("server: store required")
	}
	s := &Server{
		store:     st,
		logger:    zap.NewNop(),
		resources: make(map[string]resource.Resource, len(resources)),
		router:    chi.NewRouter(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.observe)
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"no route for " + r.URL.Path}})
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"errors": []string{r.Method + " not allowed on " + r.URL.Path}})
	})
	for _, opt := range opts {
		opt(s)
	}
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	for _, res := range resources {
		res = res.Normalize()
		if err := res.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.resources[res.Name]; dup {
			return nil, fmt.Errorf("server: resource %s declared twice", res.Name)
		}
		s.resources[res.Name] = res
		s.mount(res)
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) mount(res resource.Resource) {
	specs := resource.StandardRequests(res)
	h := &handler{server: s, res: res, specs: specs}
	s.router.Route("/"+res.Name, func(r chi.Router) {
		route := func(name, method, pattern string, fn http.HandlerFunc) {
			if _, ok := specs[name]; ok {
				r.Method(method, pattern, fn)
			}
		}
		route(resource.RequestQuery, http.MethodGet, "/", h.query)
		route(resource.RequestCreate, http.MethodPost, "/", h.create)
		route(resource.RequestCreateUpdate, http.MethodPut, "/", h.createUpdate)
		route(resource.RequestLoad, resource.MethodLoad, "/", h.load)
		route(resource.RequestGet, http.MethodGet, "/{id}", h.get)
		route(resource.RequestUpdate, http.MethodPost, "/{id}", h.update)
		route(resource.RequestPut, http.MethodPut, "/{id}", h.put)
		route(resource.RequestDelete, http.MethodDelete, "/{id}", h.remove)
	})
	s.logger.Debug("mounted resource", zap.String("resource", res.Name), zap.Int("requests", len(specs)))
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.observer != nil {
			s.observer.ObserveHTTP(r.Method, route, status, time.Since(start))
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestID", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", resource.MimeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
