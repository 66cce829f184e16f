package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/account-service/internal/auth"
	"github.com/utafrali/account-service/internal/domain"
	"github.com/utafrali/account-service/internal/service"
	"github.com/utafrali/account-service/pkg/health"
	"github.com/utafrali/account-service/pkg/httputil"
	"github.com/utafrali/account-service/pkg/middleware"
)

// ============================================================================
// Mock Repository
// ============================================================================

type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) FindByEmail(ctx context.Context, email string, includeInactive bool) (*domain.Account, error) {
	args := m.Called(ctx, email, includeInactive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id int64, includeInactive bool) (*domain.Account, error) {
	args := m.Called(ctx, id, includeInactive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepo) List(ctx context.Context, offset, limit int, includeInactive bool) ([]domain.Account, error) {
	args := m.Called(ctx, offset, limit, includeInactive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Account), args.Error(1)
}

func (m *mockAccountRepo) Insert(ctx context.Context, account *domain.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountRepo) UpdateFields(ctx context.Context, id int64, fields map[string]any) (*domain.Account, error) {
	args := m.Called(ctx, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepo) Deactivate(ctx context.Context, id int64, reason *string) (*domain.Account, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepo) Reactivate(ctx context.Context, id int64) (*domain.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

// ============================================================================
// Test Helpers
// ============================================================================

const testPassword = "Password1"

type testEnv struct {
	router   http.Handler
	repo     *mockAccountRepo
	tokens   *auth.TokenManager
	hasher   *auth.PasswordHasher
	registry *prometheus.Registry
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager("handler-test-secret-with-enough-bytes", 30*time.Minute)
	require.NoError(t, err)

	repo := new(mockAccountRepo)
	registry := prometheus.NewRegistry()
	svc := service.NewAccountService(repo, hasher, tokens, nil, nil, service.NewMetrics(registry), logger)

	router := NewRouter(svc, tokens, health.NewHandler(), registry, logger, RouterConfig{
		ServiceName:       "account-service",
		Version:           "test",
		CORS:              middleware.DefaultCORSConfig(),
		PprofAllowedCIDRs: []string{"127.0.0.1/32"},
	})

	return &testEnv{router: router, repo: repo, tokens: tokens, hasher: hasher, registry: registry}
}

func (e *testEnv) account(t *testing.T, id int64, email string) *domain.Account {
	t.Helper()
	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &domain.Account{
		ID:           id,
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (e *testEnv) token(t *testing.T, id int64, email string) string {
	t.Helper()
	tok, _, err := e.tokens.IssueDefault(id, email)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) *httputil.ErrorResponse {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

// ============================================================================
// Public endpoints
// ============================================================================

func TestBanner(t *testing.T) {
	env := setupTest(t)

	rec := env.do(http.MethodGet, "/", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body bannerResponse
	decodeData(t, rec, &body)
	assert.Equal(t, "account-service is running", body.Message)
	assert.Equal(t, "test", body.Version)
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTest(t)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health/live", "", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health/ready", "", "").Code)
	env.do(http.MethodGet, "/", "", "")

	rec := env.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRegister_Created(t *testing.T) {
	env := setupTest(t)
	env.repo.On("FindByEmail", mock.Anything, "ada@example.com", true).Return(nil, domain.ErrAccountNotFound())
	env.repo.On("Insert", mock.Anything, mock.AnythingOfType("*domain.Account")).
		Run(func(args mock.Arguments) {
			a := args.Get(1).(*domain.Account)
			a.ID = 1
			a.CreatedAt = time.Now().UTC()
			a.UpdatedAt = a.CreatedAt
		}).
		Return(nil)

	rec := env.do(http.MethodPost, "/api/v1/auth/register",
		`{"first_name":"Ada","last_name":"Lovelace","email":"Ada@Example.com","password":"password","password_repeat":"password"}`, "")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")
	var p domain.Profile
	decodeData(t, rec, &p)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.True(t, p.IsActive)
	env.repo.AssertExpectations(t)
}

func TestRegister_ValidationError(t *testing.T) {
	env := setupTest(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/register",
		`{"first_name":"A","last_name":"Lovelace","email":"not-an-email","password":"password","password_repeat":"password"}`, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeErr(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Contains(t, e.Fields, "email")
	assert.Contains(t, e.Fields, "first_name")
	env.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestRegister_BlankOrPaddedNames(t *testing.T) {
	env := setupTest(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/register",
		`{"first_name":"   ","last_name":" L","email":"ada@example.com","password":"password","password_repeat":"password"}`, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	e := decodeErr(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Contains(t, e.Fields, "first_name")
	env.repo.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything, mock.Anything)
	env.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := setupTest(t)
	env.repo.On("FindByEmail", mock.Anything, "ada@example.com", true).Return(env.account(t, 1, "ada@example.com"), nil)

	rec := env.do(http.MethodPost, "/api/v1/auth/register",
		`{"first_name":"Ada","last_name":"Lovelace","email":"ADA@example.com","password":"password","password_repeat":"password"}`, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeDuplicateEmail, decodeErr(t, rec).Code)
}

func TestRegister_UnsupportedMediaType(t *testing.T) {
	env := setupTest(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader("first_name=Ada"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRegister_MalformedBody(t *testing.T) {
	env := setupTest(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/register", `{"first_name":`, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeErr(t, rec).Code)
}

func TestLogin_Success(t *testing.T) {
	env := setupTest(t)
	env.repo.On("FindByEmail", mock.Anything, "ada@example.com", false).Return(env.account(t, 7, "ada@example.com"), nil)

	rec := env.do(http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"Password1"}`, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var tr TokenResponse
	decodeData(t, rec, &tr)
	assert.Equal(t, "bearer", tr.TokenType)
	assert.Equal(t, int64(7), tr.UserID)
	assert.Equal(t, "Ada", tr.FirstName)
	assert.Equal(t, "Lovelace", tr.LastName)

	claims, err := env.tokens.Validate(tr.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.AccountID)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := setupTest(t)
	env.repo.On("FindByEmail", mock.Anything, "ada@example.com", false).Return(env.account(t, 7, "ada@example.com"), nil)

	rec := env.do(http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"wrong"}`, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.CodeInvalidCredentials, decodeErr(t, rec).Code)
}

func TestRestore_Success(t *testing.T) {
	env := setupTest(t)
	inactive := env.account(t, 3, "ada@example.com")
	inactive.IsActive = false
	restored := *inactive
	restored.IsActive = true

	env.repo.On("FindByEmail", mock.Anything, "ada@example.com", true).Return(inactive, nil)
	env.repo.On("Reactivate", mock.Anything, int64(3)).Return(&restored, nil)

	rec := env.do(http.MethodPost, "/api/v1/auth/restore", `{"email":"ada@example.com","password":"Password1"}`, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr TokenResponse
	decodeData(t, rec, &tr)
	assert.Equal(t, int64(3), tr.UserID)
	assert.NotEmpty(t, tr.AccessToken)
}

// ============================================================================
// Authenticated endpoints
// ============================================================================

func TestAccounts_RequireToken(t *testing.T) {
	env := setupTest(t)

	rec := env.do(http.MethodGet, "/api/v1/accounts/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeErr(t, rec).Code)

	rec = env.do(http.MethodGet, "/api/v1/accounts/me", "", "not.a.token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_MALFORMED", decodeErr(t, rec).Code)
}

func TestAccounts_ExpiredToken(t *testing.T) {
	env := setupTest(t)
	tok, _, err := env.tokens.Issue(1, "ada@example.com", -time.Minute)
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/v1/accounts/me", "", tok)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_EXPIRED", decodeErr(t, rec).Code)
}

func TestGetProfile(t *testing.T) {
	env := setupTest(t)
	env.repo.On("FindByID", mock.Anything, int64(5), false).Return(env.account(t, 5, "ada@example.com"), nil)

	rec := env.do(http.MethodGet, "/api/v1/accounts/me", "", env.token(t, 5, "ada@example.com"))

	require.Equal(t, http.StatusOK, rec.Code)
	var p domain.Profile
	decodeData(t, rec, &p)
	assert.Equal(t, int64(5), p.ID)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestGetProfile_DeactivatedAccount(t *testing.T) {
	env := setupTest(t)
	env.repo.On("FindByID", mock.Anything, int64(5), false).Return(nil, domain.ErrAccountNotFound())

	rec := env.do(http.MethodGet, "/api/v1/accounts/me", "", env.token(t, 5, "ada@example.com"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.CodeAccountNotFound, decodeErr(t, rec).Code)
}

func TestList(t *testing.T) {
	env := setupTest(t)
	env.repo.On("List", mock.Anything, 10, 5, true).Return([]domain.Account{*env.account(t, 11, "a@example.com")}, nil)

	rec := env.do(http.MethodGet, "/api/v1/accounts?skip=10&limit=5&include_inactive=true", "", env.token(t, 1, "x@example.com"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Items  []domain.Profile `json:"items"`
		Offset int              `json:"offset"`
		Limit  int              `json:"limit"`
		Count  int              `json:"count"`
	}
	decodeData(t, rec, &page)
	assert.Equal(t, 10, page.Offset)
	assert.Equal(t, 5, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(11), page.Items[0].ID)
}

func TestUpdateProfile_LastName(t *testing.T) {
	env := setupTest(t)
	updated := env.account(t, 5, "ada@example.com")
	updated.LastName = "Byron"
	env.repo.On("UpdateFields", mock.Anything, int64(5), map[string]any{"last_name": "Byron"}).Return(updated, nil)

	rec := env.do(http.MethodPatch, "/api/v1/accounts/me", `{"last_name":"Byron"}`, env.token(t, 5, "ada@example.com"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p domain.Profile
	decodeData(t, rec, &p)
	assert.Equal(t, "Byron", p.LastName)
	env.repo.AssertExpectations(t)
}

func TestUpdateProfile_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"null first name", `{"first_name":null}`, "INVALID_INPUT"},
		{"non-string value", `{"last_name":42}`, "INVALID_INPUT"},
		{"unknown field", `{"is_active":"false"}`, "INVALID_INPUT"},
		{"not an object", `["last_name"]`, "INVALID_INPUT"},
		{"short name", `{"last_name":"B"}`, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTest(t)

			rec := env.do(http.MethodPatch, "/api/v1/accounts/me", tt.body, env.token(t, 5, "ada@example.com"))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeErr(t, rec).Code)
			env.repo.AssertNotCalled(t, "UpdateFields", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestReplaceProfile_MissingField(t *testing.T) {
	env := setupTest(t)

	rec := env.do(http.MethodPut, "/api/v1/accounts/me", `{"first_name":"Ada","last_name":"Byron"}`, env.token(t, 5, "ada@example.com"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeErr(t, rec)
	assert.Equal(t, domain.CodeMissingField, e.Code)
	assert.Equal(t, "email is required", e.Message)
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	env := setupTest(t)
	env.repo.On("FindByID", mock.Anything, int64(5), false).Return(env.account(t, 5, "ada@example.com"), nil)

	rec := env.do(http.MethodPost, "/api/v1/accounts/me/password",
		`{"old_password":"nope","new_password":"NewPass123","new_password_repeat":"NewPass123"}`, env.token(t, 5, "ada@example.com"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.CodeWrongOldPassword, decodeErr(t, rec).Code)
}

func TestChangePassword_Success(t *testing.T) {
	env := setupTest(t)
	a := env.account(t, 5, "ada@example.com")
	env.repo.On("FindByID", mock.Anything, int64(5), false).Return(a, nil)
	env.repo.On("UpdateFields", mock.Anything, int64(5), mock.AnythingOfType("map[string]interface {}")).Return(a, nil)

	rec := env.do(http.MethodPost, "/api/v1/accounts/me/password",
		`{"old_password":"Password1","new_password":"NewPass123","new_password_repeat":"NewPass123"}`, env.token(t, 5, "ada@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDeactivate(t *testing.T) {
	env := setupTest(t)
	a := env.account(t, 5, "ada@example.com")
	deleted := *a
	deleted.IsActive = false
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	reason := "bye"
	deleted.DeletedAt = &at
	deleted.DeletionReason = &reason

	env.repo.On("FindByID", mock.Anything, int64(5), false).Return(a, nil)
	env.repo.On("Deactivate", mock.Anything, int64(5), &reason).Return(&deleted, nil)

	rec := env.do(http.MethodDelete, "/api/v1/accounts/me", `{"password":"Password1","reason":"bye"}`, env.token(t, 5, "ada@example.com"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var st domain.Status
	decodeData(t, rec, &st)
	assert.False(t, st.IsActive)
	require.NotNil(t, st.DeletionReason)
	assert.Equal(t, "bye", *st.DeletionReason)
}

func TestDeactivate_WrongPassword(t *testing.T) {
	env := setupTest(t)
	env.repo.On("FindByID", mock.Anything, int64(5), false).Return(env.account(t, 5, "ada@example.com"), nil)

	rec := env.do(http.MethodDelete, "/api/v1/accounts/me", `{"password":"nope"}`, env.token(t, 5, "ada@example.com"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.CodeWrongPassword, decodeErr(t, rec).Code)
	env.repo.AssertNotCalled(t, "Deactivate", mock.Anything, mock.Anything, mock.Anything)
}

func TestStatus(t *testing.T) {
	env := setupTest(t)
	a := env.account(t, 5, "ada@example.com")
	env.repo.On("FindByID", mock.Anything, int64(5), true).Return(a, nil)

	rec := env.do(http.MethodGet, "/api/v1/accounts/me/status", "", env.token(t, 5, "ada@example.com"))

	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.Status
	decodeData(t, rec, &st)
	assert.True(t, st.IsActive)
	assert.Nil(t, st.DeletedAt)
}

func TestInternalErrorIsGeneric(t *testing.T) {
	env := setupTest(t)
	env.repo.On("FindByID", mock.Anything, int64(5), true).Return(nil, assert.AnError)

	rec := env.do(http.MethodGet, "/api/v1/accounts/me/status", "", env.token(t, 5, "ada@example.com"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeErr(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", e.Code)
	assert.NotEmpty(t, e.RequestID)
}

// ============================================================================
// decodePatch
// ============================================================================

func TestDecodePatch(t *testing.T) {
	patch, err := decodePatch(strings.NewReader(`{"middle_name":null,"last_name":"Byron"}`))
	require.NoError(t, err)

	require.Contains(t, patch, "middle_name")
	assert.Nil(t, patch["middle_name"])
	require.NotNil(t, patch["last_name"])
	assert.Equal(t, "Byron", *patch["last_name"])
}
