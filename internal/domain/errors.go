package domain

import (
	"net/http"

	apperrors "github.com/utafrali/account-service/pkg/errors"
)

// Error codes surfaced to clients.
const (
	CodeDuplicateEmail     = "DUPLICATE_EMAIL"
	CodePasswordMismatch   = "PASSWORD_MISMATCH"
	CodeWeakPassword       = "WEAK_PASSWORD"
	CodeSamePassword       = "SAME_PASSWORD"
	CodeMissingField       = "MISSING_FIELD"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeWrongPassword      = "WRONG_PASSWORD"
	CodeWrongOldPassword   = "WRONG_OLD_PASSWORD"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
)

// ErrDuplicateEmail reports that another account already uses the email.
// The store signals it on a unique violation regardless of account state.
func ErrDuplicateEmail() *apperrors.AppError {
	return apperrors.New(CodeDuplicateEmail, "an account with this email already exists", http.StatusBadRequest, apperrors.ErrAlreadyExists)
}

// ErrPasswordMismatch reports that a password and its repeat differ.
func ErrPasswordMismatch() *apperrors.AppError {
	return apperrors.New(CodePasswordMismatch, "passwords do not match", http.StatusBadRequest, apperrors.ErrInvalidInput)
}

// ErrWeakPassword reports a password rejected by the applicable policy.
func ErrWeakPassword(reason string) *apperrors.AppError {
	return apperrors.New(CodeWeakPassword, reason, http.StatusBadRequest, apperrors.ErrInvalidInput)
}

// ErrSamePassword reports a new password equal to the old one.
func ErrSamePassword() *apperrors.AppError {
	return apperrors.New(CodeSamePassword, "new password must differ from the old password", http.StatusBadRequest, apperrors.ErrInvalidInput)
}

// ErrMissingField reports a field required by a full update.
func ErrMissingField(field string) *apperrors.AppError {
	return apperrors.New(CodeMissingField, field+" is required", http.StatusBadRequest, apperrors.ErrInvalidInput)
}

// ErrInvalidCredentials is returned for an unknown email, an inactive account
// or a wrong password at login. The three cases are indistinguishable.
func ErrInvalidCredentials() *apperrors.AppError {
	return apperrors.New(CodeInvalidCredentials, "invalid email or password", http.StatusUnauthorized, apperrors.ErrUnauthorized)
}

// ErrWrongPassword reports a failed password confirmation.
func ErrWrongPassword() *apperrors.AppError {
	return apperrors.New(CodeWrongPassword, "incorrect password", http.StatusUnauthorized, apperrors.ErrUnauthorized)
}

// ErrWrongOldPassword reports a failed old-password check on password change.
func ErrWrongOldPassword() *apperrors.AppError {
	return apperrors.New(CodeWrongOldPassword, "old password is incorrect", http.StatusUnauthorized, apperrors.ErrUnauthorized)
}

// ErrAccountNotFound reports a missing account, or one not in the state the
// operation requires.
func ErrAccountNotFound() *apperrors.AppError {
	return apperrors.New(CodeAccountNotFound, "account not found", http.StatusNotFound, apperrors.ErrNotFound)
}
