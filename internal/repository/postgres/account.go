package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/account-service/internal/domain"
	"github.com/utafrali/account-service/internal/repository"
	"github.com/utafrali/account-service/pkg/database"
	apperrors "github.com/utafrali/account-service/pkg/errors"
)

const accountColumns = `id, first_name, middle_name, last_name, email, password_hash,
		is_active, created_at, updated_at, deleted_at, deletion_reason`

// updatableColumns is the allow-list for UpdateFields.
var updatableColumns = map[string]struct{}{
	repository.FieldFirstName:    {},
	repository.FieldMiddleName:   {},
	repository.FieldLastName:     {},
	repository.FieldEmail:        {},
	repository.FieldPasswordHash: {},
}

// AccountRepository implements repository.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db database.DBTX
}

// NewAccountRepository creates a new PostgreSQL-backed account repository.
func NewAccountRepository(db database.DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

var _ repository.AccountRepository = (*AccountRepository)(nil)

// FindByEmail retrieves an account by email, case-insensitively.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string, includeInactive bool) (a *domain.Account, err error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE lower(email) = lower($1)`
	if !includeInactive {
		query += ` AND is_active = true`
	}

	ctx, end := database.TraceQuery(ctx, "FindAccountByEmail", query)
	defer func() { end(err) }()

	return scanAccount(r.db.QueryRow(ctx, query, email))
}

// FindByID retrieves an account by id.
func (r *AccountRepository) FindByID(ctx context.Context, id int64, includeInactive bool) (a *domain.Account, err error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1`
	if !includeInactive {
		query += ` AND is_active = true`
	}

	ctx, end := database.TraceQuery(ctx, "FindAccountByID", query)
	defer func() { end(err) }()

	return scanAccount(r.db.QueryRow(ctx, query, id))
}

// List returns a page of accounts ordered by id.
func (r *AccountRepository) List(ctx context.Context, offset, limit int, includeInactive bool) (accounts []domain.Account, err error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts`
	if !includeInactive {
		query += `
		WHERE is_active = true`
	}
	query += `
		ORDER BY id ASC
		LIMIT $1 OFFSET $2`

	ctx, end := database.TraceQuery(ctx, "ListAccounts", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts = []domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}

	return accounts, nil
}

// Insert stores a new account. The store assigns id, created_at and updated_at.
func (r *AccountRepository) Insert(ctx context.Context, a *domain.Account) (err error) {
	query := `
		INSERT INTO accounts (first_name, middle_name, last_name, email, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	ctx, end := database.TraceQuery(ctx, "InsertAccount", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query,
		a.FirstName,
		a.MiddleName,
		a.LastName,
		a.Email,
		a.PasswordHash,
		a.IsActive,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEmail()
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// UpdateFields sets allow-listed columns on an active account. Columns are
// written in name order so the generated statement is stable.
func (r *AccountRepository) UpdateFields(ctx context.Context, id int64, fields map[string]any) (a *domain.Account, err error) {
	if len(fields) == 0 {
		return nil, apperrors.InvalidInput("no fields to update")
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		if _, ok := updatableColumns[col]; !ok {
			return nil, apperrors.InvalidInput(fmt.Sprintf("field %q cannot be updated", col))
		}
		columns = append(columns, col)
	}
	slices.Sort(columns)

	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+1)
	for i, col := range columns {
		sets = append(sets, col+" = $"+strconv.Itoa(i+1))
		args = append(args, fields[col])
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := `UPDATE accounts
		SET ` + strings.Join(sets, ", ") + `
		WHERE id = $` + strconv.Itoa(len(args)) + ` AND is_active = true
		RETURNING ` + accountColumns

	ctx, end := database.TraceQuery(ctx, "UpdateAccountFields", query)
	defer func() { end(err) }()

	a, err = scanAccount(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateEmail()
		}
		return nil, err
	}
	return a, nil
}

// Deactivate marks an active account as deleted in a single guarded statement.
func (r *AccountRepository) Deactivate(ctx context.Context, id int64, reason *string) (a *domain.Account, err error) {
	query := `UPDATE accounts
		SET is_active = false, deleted_at = NOW(), deletion_reason = $2, updated_at = NOW()
		WHERE id = $1 AND is_active = true
		RETURNING ` + accountColumns

	ctx, end := database.TraceQuery(ctx, "DeactivateAccount", query)
	defer func() { end(err) }()

	return scanAccount(r.db.QueryRow(ctx, query, id, reason))
}

// Reactivate marks a deactivated account as active again.
func (r *AccountRepository) Reactivate(ctx context.Context, id int64) (a *domain.Account, err error) {
	query := `UPDATE accounts
		SET is_active = true, updated_at = NOW()
		WHERE id = $1 AND is_active = false
		RETURNING ` + accountColumns

	ctx, end := database.TraceQuery(ctx, "ReactivateAccount", query)
	defer func() { end(err) }()

	return scanAccount(r.db.QueryRow(ctx, query, id))
}

// scanAccount reads one account row. pgx.ErrNoRows becomes ErrAccountNotFound.
func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.FirstName,
		&a.MiddleName,
		&a.LastName,
		&a.Email,
		&a.PasswordHash,
		&a.IsActive,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
		&a.DeletionReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound()
		}
		if isUniqueViolation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "23505")
}
