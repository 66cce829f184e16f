package domain

import (
	"strings"
	"time"
)

// Account is a registered user account. Accounts are never physically
// removed; deactivation flips IsActive and records DeletedAt.
type Account struct {
	ID             int64      `json:"id"`
	FirstName      string     `json:"first_name"`
	MiddleName     *string    `json:"middle_name,omitempty"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletionReason *string    `json:"deletion_reason,omitempty"`
}

// Profile is the public projection of an account returned by profile and
// registration endpoints.
type Profile struct {
	ID         int64     `json:"id"`
	FirstName  string    `json:"first_name"`
	MiddleName *string   `json:"middle_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Status is the lifecycle projection returned by the status query.
type Status struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at"`
	DeletionReason *string    `json:"deletion_reason"`
}

// Profile returns the public projection of a.
func (a *Account) Profile() Profile {
	return Profile{
		ID:         a.ID,
		FirstName:  a.FirstName,
		MiddleName: a.MiddleName,
		LastName:   a.LastName,
		Email:      a.Email,
		IsActive:   a.IsActive,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// Status returns the lifecycle projection of a.
func (a *Account) Status() Status {
	return Status{
		ID:             a.ID,
		Email:          a.Email,
		IsActive:       a.IsActive,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
		DeletedAt:      a.DeletedAt,
		DeletionReason: a.DeletionReason,
	}
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// Stored and compared emails always go through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AuthResult is returned by login and restore.
type AuthResult struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Account     *Account  `json:"-"`
}

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "bearer"
