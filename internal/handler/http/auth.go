package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/account-service/internal/domain"
	"github.com/utafrali/account-service/internal/service"
	"github.com/utafrali/account-service/pkg/httputil"
	"github.com/utafrali/account-service/pkg/validator"
)

// AuthHandler handles the public registration, login and restore endpoints.
type AuthHandler struct {
	service *service.AccountService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AccountService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for account registration.
// Password length is checked by the service so that it reports WEAK_PASSWORD.
// Names are checked again by the service after trimming.
type RegisterRequest struct {
	FirstName      string  `json:"first_name" validate:"required,min=2,max=100,personname"`
	MiddleName     *string `json:"middle_name" validate:"omitempty,max=100,personname"`
	LastName       string  `json:"last_name" validate:"required,min=2,max=100,personname"`
	Email          string  `json:"email" validate:"required,email,max=255"`
	Password       string  `json:"password" validate:"required"`
	PasswordRepeat string  `json:"password_repeat" validate:"required"`
}

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RestoreRequest is the JSON request body for restoring a deactivated account.
type RestoreRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// --- Response types ---

// TokenResponse is returned by login and restore.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      int64     `json:"user_id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
}

func newTokenResponse(res *domain.AuthResult) TokenResponse {
	return TokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		ExpiresAt:   res.ExpiresAt,
		UserID:      res.Account.ID,
		Email:       res.Account.Email,
		FirstName:   res.Account.FirstName,
		LastName:    res.Account.LastName,
	}
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	account, err := h.service.Register(r.Context(), service.RegisterInput{
		FirstName:      req.FirstName,
		MiddleName:     req.MiddleName,
		LastName:       req.LastName,
		Email:          req.Email,
		Password:       req.Password,
		PasswordRepeat: req.PasswordRepeat,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, account.Profile())
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newTokenResponse(res))
}

// Restore handles POST /api/v1/auth/restore
func (h *AuthHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	res, err := h.service.Restore(r.Context(), service.RestoreInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newTokenResponse(res))
}
