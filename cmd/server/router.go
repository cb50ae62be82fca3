package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/pictor-api/internal/api"
	apiMiddleware "github.com/phrazzld/pictor-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.taskService, app.logger)
	sessionHandler := api.NewSessionHandler(app.reconciler, app.cache, app.logger)

	// Completion ingress. The runner's notifier posts here; external
	// generation backends may do the same.
	r.Post("/webhook/generation-callback", taskHandler.GenerationCallback)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", taskHandler.CreateTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/all", taskHandler.ListAllTasks)
		r.Get("/tasks/{id}", taskHandler.GetTask)

		r.Get("/sessions/{session_ref}/tasks", sessionHandler.GetSessionTasks)
		r.Get("/sessions/{session_ref}/tasks/{id}", sessionHandler.CheckSessionTask)

		r.Get("/health", taskHandler.HealthCheck)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
