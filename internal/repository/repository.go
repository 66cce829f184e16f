package repository

import (
	"context"

	"github.com/utafrali/account-service/internal/domain"
)

// Column names accepted by AccountRepository.UpdateFields.
const (
	FieldFirstName    = "first_name"
	FieldMiddleName   = "middle_name"
	FieldLastName     = "last_name"
	FieldEmail        = "email"
	FieldPasswordHash = "password_hash"
)

// AccountRepository defines the interface for account persistence operations.
// Lookups that find nothing return domain.ErrAccountNotFound; a clash on the
// case-insensitive email index returns domain.ErrDuplicateEmail.
type AccountRepository interface {
	// FindByEmail looks an account up by email, ignoring case.
	FindByEmail(ctx context.Context, email string, includeInactive bool) (*domain.Account, error)

	// FindByID looks an account up by id.
	FindByID(ctx context.Context, id int64, includeInactive bool) (*domain.Account, error)

	// List returns accounts ordered by id.
	List(ctx context.Context, offset, limit int, includeInactive bool) ([]domain.Account, error)

	// Insert stores a new account and fills in its id and timestamps.
	Insert(ctx context.Context, account *domain.Account) error

	// UpdateFields sets the given columns on an active account, refreshes
	// updated_at and returns the updated row.
	UpdateFields(ctx context.Context, id int64, fields map[string]any) (*domain.Account, error)

	// Deactivate moves an active account to the deactivated state.
	Deactivate(ctx context.Context, id int64, reason *string) (*domain.Account, error)

	// Reactivate moves a deactivated account back to active. Deletion
	// metadata is left in place.
	Reactivate(ctx context.Context, id int64) (*domain.Account, error)
}
