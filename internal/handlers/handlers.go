// Package handlers exposes the search gateway and the user library over HTTP.
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"playshelf/internal/catalog"
	"playshelf/internal/common/logging"
	"playshelf/internal/library"
	"playshelf/internal/query"
)

// Catalog is the search gateway as seen by the HTTP layer
type Catalog interface {
	Search(ctx context.Context, q query.SearchQuery) (*catalog.SearchResultPage, error)
	GetEntry(ctx context.Context, id int64) (*catalog.CatalogEntry, error)
}

// Library is the per-user game collection
type Library interface {
	CreateUser(ctx context.Context, in library.NewUser) (*library.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*library.User, error)
	AddGame(ctx context.Context, userID uuid.UUID, entry catalog.CatalogEntry) error
	RemoveGame(ctx context.Context, userID uuid.UUID, gameID int64) error
	ListGames(ctx context.Context, userID uuid.UUID) ([]catalog.CatalogEntry, error)
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	catalog Catalog
	library Library
	checks  map[string]HealthCheck
	logger  logging.Logger
}

func New(cat Catalog, lib Library, checks map[string]HealthCheck, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		catalog: cat,
		library: lib,
		checks:  checks,
		logger:  logger.WithFields(logging.String("component", "http")),
	}
}

// Register mounts every route on router
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/games", h.ListGames).Methods(http.MethodGet)
	router.HandleFunc("/games/search", h.SearchGames).Methods(http.MethodGet)
	router.HandleFunc("/games/{id:[0-9]+}", h.GetGame).Methods(http.MethodGet)

	router.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	router.HandleFunc("/users/{id}", h.GetUser).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}/games", h.ListUserGames).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}/games", h.AddUserGame).Methods(http.MethodPost)
	router.HandleFunc("/users/{id}/games/{gameID:[0-9]+}", h.RemoveUserGame).Methods(http.MethodDelete)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "no such route"})
	})
}

// Health reports the state of every registered dependency
// @Summary Health check
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			h.logger.WithContext(r.Context()).Warn("Health check failed",
				logging.String("dependency", name), logging.String("error", err.Error()))
			components[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}
