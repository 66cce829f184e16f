package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/account-service/internal/auth"
	"github.com/utafrali/account-service/internal/service"
	"github.com/utafrali/account-service/pkg/health"
	"github.com/utafrali/account-service/pkg/httputil"
	"github.com/utafrali/account-service/pkg/middleware"
)

// RouterConfig carries the non-dependency settings of the router.
type RouterConfig struct {
	ServiceName       string
	Version           string
	CORS              middleware.CORSConfig
	PprofAllowedCIDRs []string
	// AuthRateLimit throttles register, login and restore per client. Nil disables it.
	AuthRateLimit *middleware.RateLimitConfig
}

// NewRouter creates a chi router with all account service routes registered.
func NewRouter(
	accountService *service.AccountService,
	tokens *auth.TokenManager,
	healthHandler *health.Handler,
	registry *prometheus.Registry,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.NewHTTPMetrics(registry, cfg.ServiceName).Handler)

	r.Get("/", banner(cfg.ServiceName, cfg.Version))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	authHandler := NewAuthHandler(accountService, logger)
	accountHandler := NewAccountHandler(accountService, logger)
	requireToken := middleware.Auth(tokenValidator(tokens))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)

		// Public auth endpoints
		r.Group(func(r chi.Router) {
			if cfg.AuthRateLimit != nil {
				r.Use(middleware.RateLimit(*cfg.AuthRateLimit, logger))
			}
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/restore", authHandler.Restore)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Use(requireToken)

			r.Get("/", accountHandler.List)
			r.Get("/me", accountHandler.GetProfile)
			r.Patch("/me", accountHandler.UpdateProfile)
			r.Put("/me", accountHandler.ReplaceProfile)
			r.Delete("/me", accountHandler.Deactivate)
			r.Post("/me/password", accountHandler.ChangePassword)
			r.Get("/me/status", accountHandler.Status)
		})
	})

	return r
}

// tokenValidator bridges the token manager to the auth middleware.
func tokenValidator(tokens *auth.TokenManager) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		claims, err := tokens.Validate(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			AccountID: claims.AccountID,
			Email:     claims.Email,
		}, nil
	}
}

type bannerResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

func banner(serviceName, version string) http.HandlerFunc {
	resp := bannerResponse{Message: serviceName + " is running", Version: version}
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteData(w, http.StatusOK, resp)
	}
}
