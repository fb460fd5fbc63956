package http

import (
	"net/netip"

	"github.com/eventpass/server/internal/http/handlers"
	"github.com/eventpass/server/internal/middleware"
	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/ratelimit"
	"github.com/eventpass/server/internal/repo"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDeps are the collaborators the router wires into handlers and middleware
type RouterDeps struct {
	Auth          *handlers.AuthHandler
	CheckIn       *handlers.CheckInHandler
	Health        *handlers.HealthHandler
	Authenticator middleware.Authenticator
	Users         repo.UserRepo

	// LoginLimiter is applied per client IP; the auth service separately limits per email
	LoginLimiter ratelimit.Limiter

	// TrustedProxies may set the client address through forwarding headers
	TrustedProxies []netip.Prefix
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.TrustedRealIP(d.TrustedProxies))
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", d.Health.ServeHTTP)
	r.Get("/ready", d.Health.Ready)

	requireAuth := middleware.AuthMiddleware(d.Authenticator, d.Users)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", d.Auth.HandleRegister)
		r.With(middleware.RateLimitMiddleware(d.LoginLimiter, middleware.GetIPKey)).Post("/login", d.Auth.HandleLogin)
		r.Post("/refresh", d.Auth.HandleRefresh)
		r.Post("/logout", d.Auth.HandleLogout)
		r.Get("/session", d.Auth.HandleSession)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/password", d.Auth.HandleChangePassword)
			r.Post("/profile", d.Auth.HandleCompleteProfile)
		})
	})

	r.Route("/attendance", func(r chi.Router) {
		// identity is checked inside the validator, after its own rate limit
		r.Post("/checkin", d.CheckIn.HandleCheckIn)
		r.With(requireAuth).Get("/code/{code}", d.CheckIn.HandleResolveCode)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.With(middleware.RequireRole(model.RoleModerator, model.RoleAdministrator)).
			Post("/events/{id}/qr", d.CheckIn.HandleRegenerateQR)
		r.With(middleware.RequireRole(model.RoleAdministrator)).
			Post("/admin/users/{id}/temp-password", d.Auth.HandleIssueTempPassword)
	})

	return r
}
