package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/formworks-app/formworks/internal/auth"
	"github.com/formworks-app/formworks/internal/forms"
	"github.com/formworks-app/formworks/internal/observability"
	"github.com/formworks-app/formworks/internal/privileges"
	"github.com/formworks-app/formworks/internal/shared"
	"github.com/formworks-app/formworks/internal/users"
	"github.com/formworks-app/formworks/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	AuthHandler       *auth.Handler
	PrivilegesHandler *privileges.Handler
	UsersHandler      *users.Handler
	FormsHandler      *forms.Handler
	AbilityMiddleware privileges.Middleware
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router for the admin API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	// Everything past this point resolves the caller's ability first.
	r.Route("/admin", func(r chi.Router) {
		r.Use(params.AbilityMiddleware.WithAbility)
		params.PrivilegesHandler.MountRoutes(r)
		params.UsersHandler.MountRoutes(r)
	})

	if params.FormsHandler != nil {
		r.Route("/forms", func(r chi.Router) {
			r.Use(params.AbilityMiddleware.WithAbility)
			params.FormsHandler.MountRoutes(r)
		})
	}

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
