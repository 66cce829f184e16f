package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/account-service/pkg/errors"
	"github.com/utafrali/account-service/pkg/httputil"
	"github.com/utafrali/account-service/pkg/logger"
)

type contextKeyType string

const claimsKey contextKeyType = "auth_claims"

// Claims is the authenticated identity the auth middleware places in context.
type Claims struct {
	AccountID int64
	Email     string
}

// TokenValidator validates a bearer token and returns its claims. Errors that
// carry an AppError are rendered with their own code; anything else becomes
// a plain UNAUTHORIZED response.
type TokenValidator func(token string) (*Claims, error)

// Auth validates the bearer token and stores the claims in the request context.
// The request-scoped logger is tagged with the account id.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				httputil.WriteError(w, r, apperrors.Unauthorized("missing or malformed bearer token"), nil)
				return
			}

			claims, err := validate(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				if !apperrors.IsClientError(err) {
					err = apperrors.Unauthorized("invalid or expired token")
				}
				httputil.WriteError(w, r, err, nil)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = logger.WithAccountID(ctx, claims.AccountID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.Int64("account_id", claims.AccountID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClaimsFromContext returns the claims stored by Auth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// AccountIDFromContext returns the authenticated account id.
func AccountIDFromContext(ctx context.Context) (int64, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return 0, false
	}
	return c.AccountID, true
}

// WithClaims stores claims in ctx. Intended for tests of handlers mounted behind Auth.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}
