// Package api is dbctl's HTTP surface: request routing, JSON/text/SSE
// response formatting, and the OpenAPI document, per spec.md §6. It is the
// only package that routes or handles HTTP requests and the only one that
// depends on gorilla/mux; apperr uses net/http only for its status-code
// constants, and cmd/dbctl-server only to run the server.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/skeema/dbctl/internal/instance"
)

// driverHealth is the subset of *containerdriver.Driver the health endpoint
// needs, kept as an interface so tests can supply a fake.
type driverHealth interface {
	ServerArchitecture() (string, error)
}

// Server holds everything the HTTP handlers need: the instance manager and
// the config values that shape response bodies (expires_at, query timeout).
type Server struct {
	manager           *instance.Manager
	driver            driverHealth
	inactivityTimeout time.Duration
	queryTimeout      time.Duration
}

// New builds a Server.
func New(manager *instance.Manager, driver driverHealth, inactivityTimeout, queryTimeout time.Duration) *Server {
	return &Server{
		manager:           manager,
		driver:            driver,
		inactivityTimeout: inactivityTimeout,
		queryTimeout:      queryTimeout,
	}
}

// Router builds the gorilla/mux router exposing every route in spec.md §6's
// HTTP surface table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	db := r.PathPrefix("/db").Subrouter()
	db.HandleFunc("/new", s.createDB).Methods(http.MethodPost)
	db.HandleFunc("/{id}", s.getDB).Methods(http.MethodGet)
	db.HandleFunc("/{id}", s.destroyDB).Methods(http.MethodDelete)
	db.HandleFunc("/{id}/query", s.executeQuery).Methods(http.MethodPost)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", s.openapiJSON).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.docs).Methods(http.MethodGet)

	return r
}
