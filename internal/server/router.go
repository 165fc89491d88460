// Package server assembles the HTTP surface: every route sits behind the SSO
// session binder, and the operator surfaces are additionally policed by the
// Casbin authorization middleware.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/yunogate/yunogate/internal/config"
	"github.com/yunogate/yunogate/internal/repository"
)

// RouterOptions controls the construction of the HTTP router.
type RouterOptions struct {
	Cfg      *config.Config
	Users    repository.UserRepository
	Sessions repository.SessionRepository
	Attempts repository.AccessAttemptRepository
	Log      *logrus.Logger

	// SSOMiddleware is the session binder applied to every route.
	SSOMiddleware func(http.Handler) http.Handler
	// AuthzMiddleware gates the /debug and /admin groups.
	AuthzMiddleware func(http.Handler) http.Handler

	CORSOptions *cors.Options
	ExtraRoutes func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy. In production
// the proxy terminates the origin, so the default list only covers local
// frontends.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware and the handlers
// mounted. Health stays outside the binder so the proxy can probe it without
// an assertion.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	r.Get("/health", defaultHealthHandler)

	r.Group(func(r chi.Router) {
		if opts.SSOMiddleware != nil {
			r.Use(opts.SSOMiddleware)
		}

		r.Post("/sso/logout", HandleLogout(opts.Sessions, opts.Cfg, opts.Log))

		if opts.AuthzMiddleware != nil {
			r.Group(func(r chi.Router) {
				r.Use(opts.AuthzMiddleware)
				r.Get("/debug/whoami", HandleWhoAmI())
				r.Get("/admin/users", HandleListUsers(opts.Users, opts.Log))
				r.Get("/admin/attempts", HandleListAttempts(opts.Attempts, opts.Log))
			})
		}

		if opts.ExtraRoutes != nil {
			opts.ExtraRoutes(r)
		}
	})

	return r
}

// NewH2CHandler wraps the router with an h2c server so HTTP/2 works over
// cleartext behind the local proxy.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}
