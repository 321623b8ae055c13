package app

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"playshelf/internal/handlers"
	"playshelf/internal/middleware"
	"playshelf/internal/server"
)

// Handler builds the routed HTTP handler with middleware applied
func (app *App) Handler() http.Handler {
	checks := map[string]handlers.HealthCheck{
		"library": app.Library.Ping,
	}
	if app.RedisClient != nil {
		checks["redis"] = app.RedisClient.Health
	}
	if app.Breaker != nil {
		checks["token_endpoint"] = func(context.Context) error {
			if app.Breaker.IsOpen() {
				return errBreakerOpen
			}
			return nil
		}
	}

	router := mux.NewRouter()
	router.Use(
		middleware.Recover(app.Logger),
		middleware.RequestID,
		middleware.Logging(app.Logger),
		middleware.RateLimit(app.Clients, app.Logger, "/health", "/metrics"),
	)
	handlers.New(app.Gateway, app.Library, checks, app.Logger).Register(router)
	return otelhttp.NewHandler(router, "playshelf.http")
}

// RunServer creates the HTTP server for the configured port
func (app *App) RunServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port)
}
