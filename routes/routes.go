// Package routes configures the HTTP routing surface of the audit API.
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/audit-governance/app"
	"github.com/upb/audit-governance/handlers"
	"github.com/upb/audit-governance/middleware"
	"github.com/upb/audit-governance/services/querypolicy"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Logger)
	eventsHandler := handlers.NewEventsHandler(deps.Repos.AuditEvents, deps.QueryPolicy, deps.Logger)
	integrityHandler := handlers.NewIntegrityHandler(deps.Integrity, deps.Logger)
	replayHandler := handlers.NewReplayHandler(deps.Replay, deps.Logger)
	gateHandler := handlers.NewGateHandler(deps.Gate, deps.Repos.SecurityEvents, deps.Logger)

	// Health check
	r.Get("/healthz", healthHandler.HandleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		// Event queries run through the query policy gate; role
		// enforcement happens inside the handler, not at the route.
		r.Get("/events", eventsHandler.HandleListEvents)

		// Admission checks for producers
		r.Post("/gate/evaluate", gateHandler.HandleEvaluate)

		// Integrity verification (security admin only)
		r.Route("/integrity", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireRole(querypolicy.RoleSecurityAdmin))
			r.Post("/verify-range", integrityHandler.HandleVerifyRange)
			r.Post("/verify-export", integrityHandler.HandleVerifyExport)
			r.Get("/reports", integrityHandler.HandleListReports)
			r.Get("/reports/{id}", integrityHandler.HandleGetReport)
		})

		// Administrative operations (security admin only)
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireRole(querypolicy.RoleSecurityAdmin))
			r.Post("/replay/ndjson", replayHandler.HandleReplayNdjson)
			r.Post("/replay/dlq", replayHandler.HandleReplayDlq)
			r.Post("/gate/emergency", gateHandler.HandleEmergencyMode)
			r.Post("/gate/invalidate", gateHandler.HandleInvalidateCache)
			r.Get("/gate/stats", gateHandler.HandleGateStats)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
