package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/utafrali/account-service/pkg/errors"
)

// Issuer is the iss claim of every token this service signs.
const Issuer = "account-service"

// Token validation failures. Each is a 401 AppError so it can be rendered as is.
var (
	ErrTokenExpired   = apperrors.New("TOKEN_EXPIRED", "token has expired", http.StatusUnauthorized, apperrors.ErrUnauthorized)
	ErrTokenMalformed = apperrors.New("TOKEN_MALFORMED", "token is malformed", http.StatusUnauthorized, apperrors.ErrUnauthorized)
	ErrTokenUnsigned  = apperrors.New("TOKEN_UNSIGNED", "token is not signed with a supported algorithm", http.StatusUnauthorized, apperrors.ErrUnauthorized)
	ErrTokenTampered  = apperrors.New("TOKEN_TAMPERED", "token signature is invalid", http.StatusUnauthorized, apperrors.ErrUnauthorized)
)

var errNotHMAC = errors.New("signing method is not HMAC")

// Claims represents the JWT claims for an access token.
type Claims struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 access tokens. It holds no state
// beyond its key, so tokens can only be invalidated by expiry.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithClock overrides the time source used for issuing and validating.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// NewTokenManager creates a token manager with the given signing secret and
// default access token lifetime.
func NewTokenManager(secret string, ttl time.Duration, opts ...TokenOption) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("token signing secret is empty")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("token ttl must not be negative, got %s", ttl)
	}

	m := &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the default access token lifetime.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// IssueDefault issues a token with the configured lifetime.
func (m *TokenManager) IssueDefault(accountID int64, email string) (string, time.Time, error) {
	return m.Issue(accountID, email, m.ttl)
}

// Issue signs a token for the account that expires ttl from now. A zero ttl
// yields a token that is already expired.
//
// exp is carried in whole seconds, so a positive lifetime is rounded up to
// the next second; the token is never rejected before issue time plus ttl.
func (m *TokenManager) Issue(accountID int64, email string, ttl time.Duration) (string, time.Time, error) {
	now := m.now().UTC()
	expiresAt := now.Add(ttl)
	if ttl > 0 {
		if rounded := expiresAt.Truncate(jwt.TimePrecision); rounded.Before(expiresAt) {
			expiresAt = rounded.Add(jwt.TimePrecision)
		}
	}

	claims := &Claims{
		AccountID: accountID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(accountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    Issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Validate verifies the token signature and claims. The returned error is one
// of ErrTokenExpired, ErrTokenMalformed, ErrTokenUnsigned or ErrTokenTampered.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", errNotHMAC, t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, classifyTokenError(err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id != claims.AccountID || id <= 0 {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, errNotHMAC), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenUnsigned
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenTampered
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
