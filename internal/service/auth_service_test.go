package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type mockAuthRepo struct {
	users     map[string]*models.User
	lastLogin map[string]time.Time
}

func newMockAuthRepo(users ...*models.User) *mockAuthRepo {
	repo := &mockAuthRepo{users: map[string]*models.User{}, lastLogin: map[string]time.Time{}}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLogin[id] = ts
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.users[id].PasswordHash = passwordHash
	return nil
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newAuthFixture(t *testing.T) (*AuthService, *mockAuthRepo, *auditRecorder) {
	t.Helper()
	repo := newMockAuthRepo(
		&models.User{ID: "staff-1", Email: "kasir@sman1.sch.id", FullName: "Kasir Satu", PasswordHash: hashed(t, "rahasia123"), Active: true, Role: models.RoleStaff},
		&models.User{ID: "teacher-1", Email: "guru@sman1.sch.id", PasswordHash: hashed(t, "rahasia123"), Active: true, Role: models.RoleTeacher},
		&models.User{ID: "staff-2", Email: "lama@sman1.sch.id", PasswordHash: hashed(t, "rahasia123"), Active: false, Role: models.RoleStaff},
	)
	audit := &auditRecorder{}
	svc := NewAuthService(repo, audit, validator.New(), zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "sma-fee-api"})
	svc.now = func() time.Time { return time.Now().UTC().Truncate(time.Second) }
	return svc, repo, audit
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	svc, repo, audit := newAuthFixture(t)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: " KASIR@sman1.sch.id ", Password: "rahasia123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, models.RoleStaff, res.User.Role)
	assert.Contains(t, repo.lastLogin, "staff-1")
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionLogin, audit.entries[0].Action)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", claims.UserID)
	assert.Equal(t, "Kasir Satu", claims.FullName)
}

func TestAuthServiceLoginRejections(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	cases := []struct {
		name string
		req  models.LoginRequest
		want *appErrors.Error
	}{
		{"bad payload", models.LoginRequest{Email: "not-an-email", Password: "x"}, appErrors.ErrValidation},
		{"unknown email", models.LoginRequest{Email: "siapa@sman1.sch.id", Password: "rahasia123"}, appErrors.ErrInvalidCredentials},
		{"wrong password", models.LoginRequest{Email: "kasir@sman1.sch.id", Password: "salah"}, appErrors.ErrInvalidCredentials},
		{"inactive", models.LoginRequest{Email: "lama@sman1.sch.id", Password: "rahasia123"}, appErrors.ErrInactiveAccount},
		{"no fee access", models.LoginRequest{Email: "guru@sman1.sch.id", Password: "rahasia123"}, appErrors.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tc.req)
			requireCode(t, err, tc.want)
		})
	}
}

func TestAuthServiceChangePassword(t *testing.T) {
	svc, repo, audit := newAuthFixture(t)
	before := repo.users["staff-1"].PasswordHash

	err := svc.ChangePassword(context.Background(), "staff-1", models.ChangePasswordRequest{OldPassword: "salah", NewPassword: "passwordbaru"})
	requireCode(t, err, appErrors.ErrForbidden)

	err = svc.ChangePassword(context.Background(), "staff-1", models.ChangePasswordRequest{OldPassword: "rahasia123", NewPassword: "passwordbaru"})
	require.NoError(t, err)
	assert.NotEqual(t, before, repo.users["staff-1"].PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.users["staff-1"].PasswordHash), []byte("passwordbaru")))
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionPasswordChange, audit.entries[0].Action)

	err = svc.ChangePassword(context.Background(), "ghost", models.ChangePasswordRequest{OldPassword: "a", NewPassword: "passwordbaru"})
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	other := NewAuthService(newMockAuthRepo(), nil, nil, nil, AuthConfig{AccessTokenSecret: "other", Issuer: "sma-fee-api"})
	token, _, err := other.signAccessToken(&models.User{ID: "staff-1", Role: models.RoleStaff}, time.Now().UTC())
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	requireCode(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceProfile(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	info, err := svc.Profile(context.Background(), "staff-1")
	require.NoError(t, err)
	assert.True(t, info.CanCollect)
	assert.False(t, info.CanVerify)

	_, err = svc.Profile(context.Background(), "staff-2")
	requireCode(t, err, appErrors.ErrInactiveAccount)

	_, err = svc.Profile(context.Background(), "ghost")
	requireCode(t, err, appErrors.ErrUnauthorized)
}

func TestChangePasswordRejectsReuse(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	err := svc.ChangePassword(context.Background(), "staff-1", models.ChangePasswordRequest{OldPassword: "rahasia123", NewPassword: "rahasia123"})
	requireCode(t, err, appErrors.ErrValidation)
}
