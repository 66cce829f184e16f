package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/utafrali/account-service/internal/service"
	apperrors "github.com/utafrali/account-service/pkg/errors"
	"github.com/utafrali/account-service/pkg/httputil"
	"github.com/utafrali/account-service/pkg/middleware"
	"github.com/utafrali/account-service/pkg/pagination"
	"github.com/utafrali/account-service/pkg/validator"
)

const maxBodyBytes = 1 << 20

// AccountHandler handles the authenticated account endpoints.
type AccountHandler struct {
	service *service.AccountService
	logger  *slog.Logger
}

// NewAccountHandler creates a new account HTTP handler.
func NewAccountHandler(svc *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// ReplaceProfileRequest is the JSON request body for PUT /accounts/me.
// Field rules are applied by the service so that omissions report MISSING_FIELD.
type ReplaceProfileRequest struct {
	FirstName  *string `json:"first_name"`
	MiddleName *string `json:"middle_name"`
	LastName   *string `json:"last_name"`
	Email      *string `json:"email"`
}

// ChangePasswordRequest is the JSON request body for a password change.
type ChangePasswordRequest struct {
	OldPassword       string `json:"old_password" validate:"required"`
	NewPassword       string `json:"new_password" validate:"required"`
	NewPasswordRepeat string `json:"new_password_repeat" validate:"required"`
}

// DeactivateRequest is the JSON request body for DELETE /accounts/me.
type DeactivateRequest struct {
	Password string  `json:"password" validate:"required"`
	Reason   *string `json:"reason" validate:"omitempty,max=500"`
}

// --- Handlers ---

// List handles GET /api/v1/accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))

	profiles, err := h.service.ListAccounts(r.Context(), service.ListInput{
		Offset:          params.Offset,
		Limit:           params.Limit,
		IncludeInactive: includeInactive,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, pagination.NewPage(profiles, params))
}

// GetProfile handles GET /api/v1/accounts/me
func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetProfile(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, profile)
}

// UpdateProfile handles PATCH /api/v1/accounts/me
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	patch, err := decodePatch(r.Body)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), id, patch)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, profile)
}

// ReplaceProfile handles PUT /api/v1/accounts/me
func (h *AccountHandler) ReplaceProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req ReplaceProfileRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	profile, err := h.service.ReplaceProfile(r.Context(), id, service.ReplaceProfileInput{
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		Email:      req.Email,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, profile)
}

// ChangePassword handles POST /api/v1/accounts/me/password
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	err := h.service.ChangePassword(r.Context(), id, service.ChangePasswordInput{
		OldPassword:       req.OldPassword,
		NewPassword:       req.NewPassword,
		NewPasswordRepeat: req.NewPasswordRepeat,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, map[string]string{"message": "password changed"})
}

// Deactivate handles DELETE /api/v1/accounts/me
func (h *AccountHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req DeactivateRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	status, err := h.service.Deactivate(r.Context(), id, service.DeactivateInput{
		Password: req.Password,
		Reason:   req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, status)
}

// Status handles GET /api/v1/accounts/me/status
func (h *AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, status)
}

func (h *AccountHandler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("account not authenticated"), h.logger)
		return 0, false
	}
	return id, true
}

// decodePatch reads a JSON object whose values are strings or null.
func decodePatch(body io.Reader) (service.ProfilePatch, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(body, maxBodyBytes)).Decode(&raw); err != nil {
		return nil, apperrors.InvalidInput("request body must be a JSON object")
	}

	patch := make(service.ProfilePatch, len(raw))
	for field, value := range raw {
		if string(value) == "null" {
			patch[field] = nil
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, apperrors.InvalidInput(fmt.Sprintf("field %q must be a string or null", field))
		}
		patch[field] = &s
	}
	return patch, nil
}
