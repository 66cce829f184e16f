package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/utafrali/account-service/internal/auth"
	"github.com/utafrali/account-service/internal/cache"
	"github.com/utafrali/account-service/internal/domain"
	"github.com/utafrali/account-service/internal/event"
	"github.com/utafrali/account-service/internal/repository"
	apperrors "github.com/utafrali/account-service/pkg/errors"
	"github.com/utafrali/account-service/pkg/pagination"
	"github.com/utafrali/account-service/pkg/validator"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 100
)

// Operation names used in logs and the lifecycle metric.
const (
	opRegister       = "register"
	opLogin          = "login"
	opUpdateProfile  = "update_profile"
	opReplaceProfile = "replace_profile"
	opChangePassword = "change_password"
	opDeactivate     = "deactivate"
	opRestore        = "restore"
)

// AccountService implements the account lifecycle: registration, login,
// profile maintenance, password change, deactivation and restore.
type AccountService struct {
	repo    repository.AccountRepository
	hasher  *auth.PasswordHasher
	tokens  *auth.TokenManager
	cache   cache.ProfileCache
	events  event.Publisher
	metrics *Metrics
	logger  *slog.Logger
}

// NewAccountService creates a new account service. profiles, events and
// metrics may be nil, in which case caching, publishing and counting are skipped.
func NewAccountService(
	repo repository.AccountRepository,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenManager,
	profiles cache.ProfileCache,
	events event.Publisher,
	metrics *Metrics,
	logger *slog.Logger,
) *AccountService {
	if profiles == nil {
		profiles = cache.NopProfileCache{}
	}
	if events == nil {
		events = event.NopPublisher{}
	}
	return &AccountService{
		repo:    repo,
		hasher:  hasher,
		tokens:  tokens,
		cache:   profiles,
		events:  events,
		metrics: metrics,
		logger:  logger,
	}
}

// --- Input types ---

// RegisterInput holds the parameters for registering a new account.
type RegisterInput struct {
	FirstName      string
	MiddleName     *string
	LastName       string
	Email          string
	Password       string
	PasswordRepeat string
}

// LoginInput holds the parameters for login.
type LoginInput struct {
	Email    string
	Password string
}

// ListInput holds paging parameters for listing accounts.
type ListInput struct {
	Offset          int
	Limit           int
	IncludeInactive bool
}

// ProfilePatch maps field names to new values for a partial update. A nil
// value means JSON null and is accepted only for middle_name.
type ProfilePatch map[string]*string

// ReplaceProfileInput holds a full profile replacement. A nil FirstName,
// LastName or Email means the field was not supplied.
type ReplaceProfileInput struct {
	FirstName  *string
	MiddleName *string
	LastName   *string
	Email      *string
}

// ChangePasswordInput holds the parameters for a password change.
type ChangePasswordInput struct {
	OldPassword       string
	NewPassword       string
	NewPasswordRepeat string
}

// DeactivateInput holds the password confirmation and optional reason.
type DeactivateInput struct {
	Password string
	Reason   *string
}

// RestoreInput identifies a deactivated account and proves ownership.
type RestoreInput struct {
	Email    string
	Password string
}

// --- Auth operations ---

// Register creates a new active account. The email is checked against every
// account regardless of state; the unique index settles concurrent attempts.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (_ *domain.Account, err error) {
	defer s.observe(opRegister, &err)

	firstName, err := trimName(repository.FieldFirstName, in.FirstName)
	if err != nil {
		return nil, err
	}
	middleName, err := trimMiddleName(in.MiddleName)
	if err != nil {
		return nil, err
	}
	lastName, err := trimName(repository.FieldLastName, in.LastName)
	if err != nil {
		return nil, err
	}

	email := domain.NormalizeEmail(in.Email)

	if _, err := s.repo.FindByEmail(ctx, email, true); err == nil {
		return nil, domain.ErrDuplicateEmail()
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("check email availability: %w", err)
	}

	if in.Password != in.PasswordRepeat {
		return nil, domain.ErrPasswordMismatch()
	}
	if err := checkRegistrationPassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	account := &domain.Account{
		FirstName:    firstName,
		MiddleName:   middleName,
		LastName:     lastName,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.repo.Insert(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	if err := s.events.AccountRegistered(ctx, account); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.registered event",
			slog.Int64("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account registered", slog.Int64("account_id", account.ID))
	return account, nil
}

// Login verifies credentials and issues an access token. Unknown emails,
// deactivated accounts and wrong passwords all yield INVALID_CREDENTIALS
// after the same amount of hashing work.
func (s *AccountService) Login(ctx context.Context, in LoginInput) (_ *domain.AuthResult, err error) {
	defer s.observe(opLogin, &err)

	account, err := s.repo.FindByEmail(ctx, domain.NormalizeEmail(in.Email), false)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("login: %w", err)
		}
		s.hasher.DummyVerify(in.Password)
		return nil, domain.ErrInvalidCredentials()
	}

	if !s.hasher.Verify(in.Password, account.PasswordHash) {
		return nil, domain.ErrInvalidCredentials()
	}

	result, err := s.issue(account)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account logged in", slog.Int64("account_id", account.ID))
	return result, nil
}

// Restore reactivates a deactivated account after verifying its password and
// logs the caller in. Deletion metadata is kept on the restored account.
func (s *AccountService) Restore(ctx context.Context, in RestoreInput) (_ *domain.AuthResult, err error) {
	defer s.observe(opRestore, &err)

	account, err := s.repo.FindByEmail(ctx, domain.NormalizeEmail(in.Email), true)
	if err != nil {
		return nil, err
	}
	if account.IsActive {
		return nil, domain.ErrAccountNotFound()
	}
	if !s.hasher.Verify(in.Password, account.PasswordHash) {
		return nil, domain.ErrWrongPassword()
	}

	restored, err := s.repo.Reactivate(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, restored.ID)
	if err := s.events.AccountRestored(ctx, restored); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.restored event",
			slog.Int64("account_id", restored.ID),
			slog.String("error", err.Error()),
		)
	}

	result, err := s.issue(restored)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account restored", slog.Int64("account_id", restored.ID))
	return result, nil
}

func (s *AccountService) issue(account *domain.Account) (*domain.AuthResult, error) {
	token, expiresAt, err := s.tokens.IssueDefault(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &domain.AuthResult{
		AccessToken: token,
		TokenType:   domain.TokenTypeBearer,
		ExpiresAt:   expiresAt,
		Account:     account,
	}, nil
}

// --- Profile operations ---

// GetProfile returns the profile of an active account, served from the cache
// when possible.
func (s *AccountService) GetProfile(ctx context.Context, id int64) (*domain.Profile, error) {
	if p, ok := s.cache.Get(ctx, id); ok {
		return p, nil
	}

	account, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		return nil, err
	}

	p := account.Profile()
	s.cache.Set(ctx, p)
	return &p, nil
}

// ListAccounts returns a page of account profiles ordered by id.
func (s *AccountService) ListAccounts(ctx context.Context, in ListInput) ([]domain.Profile, error) {
	if in.Offset < 0 {
		in.Offset = 0
	}
	if in.Limit <= 0 {
		in.Limit = pagination.DefaultLimit
	}
	if in.Limit > pagination.MaxLimit {
		in.Limit = pagination.MaxLimit
	}

	accounts, err := s.repo.List(ctx, in.Offset, in.Limit, in.IncludeInactive)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	profiles := make([]domain.Profile, 0, len(accounts))
	for i := range accounts {
		profiles = append(profiles, accounts[i].Profile())
	}
	return profiles, nil
}

// Status returns the lifecycle status of an account in any state.
func (s *AccountService) Status(ctx context.Context, id int64) (*domain.Status, error) {
	account, err := s.repo.FindByID(ctx, id, true)
	if err != nil {
		return nil, err
	}
	st := account.Status()
	return &st, nil
}

// UpdateProfile applies a partial update. Only fields in the profile setter
// table may be changed; an empty patch returns the current profile.
func (s *AccountService) UpdateProfile(ctx context.Context, id int64, patch ProfilePatch) (_ *domain.Profile, err error) {
	defer s.observe(opUpdateProfile, &err)

	if len(patch) == 0 {
		return s.GetProfile(ctx, id)
	}
	return s.applyPatch(ctx, id, patch)
}

// ReplaceProfile replaces first name, middle name, last name and email.
// An omitted middle name is cleared.
func (s *AccountService) ReplaceProfile(ctx context.Context, id int64, in ReplaceProfileInput) (_ *domain.Profile, err error) {
	defer s.observe(opReplaceProfile, &err)

	switch {
	case in.FirstName == nil:
		return nil, domain.ErrMissingField("first_name")
	case in.LastName == nil:
		return nil, domain.ErrMissingField("last_name")
	case in.Email == nil:
		return nil, domain.ErrMissingField("email")
	}

	return s.applyPatch(ctx, id, ProfilePatch{
		"first_name":  in.FirstName,
		"middle_name": in.MiddleName,
		"last_name":   in.LastName,
		"email":       in.Email,
	})
}

func (s *AccountService) applyPatch(ctx context.Context, id int64, patch ProfilePatch) (*domain.Profile, error) {
	names := make([]string, 0, len(patch))
	for name := range patch {
		names = append(names, name)
	}
	slices.Sort(names)

	fields := make(map[string]any, len(patch))
	for _, name := range names {
		set, ok := profileSetters[name]
		if !ok {
			return nil, apperrors.InvalidInput(fmt.Sprintf("field %q cannot be updated", name))
		}
		column, value, err := set(patch[name])
		if err != nil {
			return nil, err
		}
		fields[column] = value
	}

	if email, ok := fields[repository.FieldEmail].(string); ok {
		existing, err := s.repo.FindByEmail(ctx, email, true)
		switch {
		case err == nil && existing.ID != id:
			return nil, domain.ErrDuplicateEmail()
		case err != nil && !errors.Is(err, apperrors.ErrNotFound):
			return nil, fmt.Errorf("check email availability: %w", err)
		}
	}

	account, err := s.repo.UpdateFields(ctx, id, fields)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, id)
	if err := s.events.AccountUpdated(ctx, account, names); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.updated event",
			slog.Int64("account_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account profile updated",
		slog.Int64("account_id", id),
		slog.Any("fields", names),
	)
	p := account.Profile()
	return &p, nil
}

// ChangePassword replaces the password of an active account. The new
// password must pass the strong policy, unlike registration which checks
// length only.
func (s *AccountService) ChangePassword(ctx context.Context, id int64, in ChangePasswordInput) (err error) {
	defer s.observe(opChangePassword, &err)

	account, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(in.OldPassword, account.PasswordHash) {
		return domain.ErrWrongOldPassword()
	}
	if in.NewPassword == in.OldPassword {
		return domain.ErrSamePassword()
	}
	if err := checkStrongPassword(in.NewPassword); err != nil {
		return err
	}
	if in.NewPassword != in.NewPasswordRepeat {
		return domain.ErrPasswordMismatch()
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	updated, err := s.repo.UpdateFields(ctx, id, map[string]any{repository.FieldPasswordHash: hash})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, id)
	if err := s.events.PasswordChanged(ctx, updated); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.password_changed event",
			slog.Int64("account_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account password changed", slog.Int64("account_id", id))
	return nil
}

// Deactivate soft-deletes an active account after password confirmation.
func (s *AccountService) Deactivate(ctx context.Context, id int64, in DeactivateInput) (_ *domain.Status, err error) {
	defer s.observe(opDeactivate, &err)

	account, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(in.Password, account.PasswordHash) {
		return nil, domain.ErrWrongPassword()
	}

	deactivated, err := s.repo.Deactivate(ctx, id, normalizeOptional(in.Reason))
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, id)
	if err := s.events.AccountDeactivated(ctx, deactivated); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.deactivated event",
			slog.Int64("account_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account deactivated", slog.Int64("account_id", id))
	st := deactivated.Status()
	return &st, nil
}

func (s *AccountService) observe(operation string, err *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.LifecycleEvents.WithLabelValues(operation, outcome(*err)).Inc()
}

// --- Field setters ---

// fieldSetter validates a submitted value and returns the column and value to store.
type fieldSetter func(value *string) (column string, stored any, err error)

// profileSetters is the allow-list of fields a profile update may touch.
var profileSetters = map[string]fieldSetter{
	"first_name":  requiredName(repository.FieldFirstName),
	"last_name":   requiredName(repository.FieldLastName),
	"middle_name": setMiddleName,
	"email":       setEmail,
}

func requiredName(column string) fieldSetter {
	return func(value *string) (string, any, error) {
		if value == nil {
			return "", nil, apperrors.InvalidInput(column + " may not be null")
		}
		name, err := trimName(column, *value)
		if err != nil {
			return "", nil, err
		}
		return column, name, nil
	}
}

func setMiddleName(value *string) (string, any, error) {
	middle, err := trimMiddleName(value)
	if err != nil {
		return "", nil, err
	}
	return repository.FieldMiddleName, middle, nil
}

// trimName trims a required name and validates what will be stored.
func trimName(field, value string) (string, error) {
	name := strings.TrimSpace(value)
	if err := validator.Var(field, name, "required,min=2,max=100,personname"); err != nil {
		return "", err
	}
	return name, nil
}

// trimMiddleName maps a blank middle name to nil and validates the rest.
func trimMiddleName(value *string) (*string, error) {
	middle := normalizeOptional(value)
	if middle == nil {
		return nil, nil
	}
	if err := validator.Var(repository.FieldMiddleName, *middle, "max=100,personname"); err != nil {
		return nil, err
	}
	return middle, nil
}

func setEmail(value *string) (string, any, error) {
	if value == nil {
		return "", nil, apperrors.InvalidInput("email may not be null")
	}
	email := domain.NormalizeEmail(*value)
	if err := validator.Var(repository.FieldEmail, email, "required,email,max=255"); err != nil {
		return "", nil, err
	}
	return repository.FieldEmail, email, nil
}

// normalizeOptional trims v and maps blank values to nil.
func normalizeOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// --- Password policies ---

// checkRegistrationPassword applies the registration policy: length only.
// The byte limit is bcrypt's input limit and can be tighter than the
// character limit for multi-byte passwords.
func checkRegistrationPassword(p string) error {
	n := utf8.RuneCountInString(p)
	if n < minPasswordLength {
		return domain.ErrWeakPassword(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if n > maxPasswordLength {
		return domain.ErrWeakPassword(fmt.Sprintf("password must be at most %d characters", maxPasswordLength))
	}
	if len(p) > auth.MaxPasswordBytes {
		return domain.ErrWeakPassword(fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes))
	}
	return nil
}

// checkStrongPassword applies the password change policy: the registration
// length rule plus at least one upper-case letter, lower-case letter and digit.
func checkStrongPassword(p string) error {
	if err := checkRegistrationPassword(p); err != nil {
		return err
	}

	var upper, lower, digit bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return domain.ErrWeakPassword("password must contain an upper-case letter, a lower-case letter and a digit")
	}
	return nil
}
