package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
)

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: map[string]*models.User{}}
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return repository.ErrDuplicate
	}
	u.ID = uuid.New()
	cp := *u
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

const testSecret = "test-secret"

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemUsers(), testSecret)

	u, err := svc.Register(ctx, "  Dev@Example.COM ", "hunter22!", " Dana ", models.RoleDeveloper)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", u.Email)
	assert.Equal(t, "Dana", u.Name)
	assert.NotEqual(t, "hunter22!", u.PasswordHash)

	token, err := svc.Login(ctx, "dev@example.com", "hunter22!")
	require.NoError(t, err)

	id, role, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
	assert.Equal(t, models.RoleDeveloper, role)
}

func TestRegister_Rejections(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemUsers(), testSecret)
	_, err := svc.Register(ctx, "a@b.c", "longenough", "A", models.RoleTester)
	require.NoError(t, err)

	_, err = svc.Register(ctx, "A@B.C", "longenough", "A", models.RoleTester)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	_, err = svc.Register(ctx, "x@b.c", "longenough", "X", models.RoleAdmin)
	assert.ErrorIs(t, err, ErrInvalidRole)
	_, err = svc.Register(ctx, "y@b.c", "short", "Y", models.RoleTester)
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemUsers(), testSecret)
	_, err := svc.Register(ctx, "t@example.com", "correct-horse", "T", models.RoleTester)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "t@example.com", "wrong-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Rejects(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemUsers(), testSecret)
	userID := uuid.New()

	t.Run("expired", func(t *testing.T) {
		issued := time.Now().Add(-48 * time.Hour)
		svc.now = func() time.Time { return issued }
		token, err := svc.issueToken(userID, models.RoleTester)
		require.NoError(t, err)
		svc.now = time.Now
		_, _, err = svc.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("other secret", func(t *testing.T) {
		token, err := NewService(newMemUsers(), "other").issueToken(userID, models.RoleTester)
		require.NoError(t, err)
		_, _, err = svc.ValidateToken(ctx, token)
		assert.Error(t, err)
	})

	t.Run("unsigned", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
			Role:             models.RoleAdmin,
		})
		token, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, _, err = svc.ValidateToken(ctx, token)
		assert.Error(t, err)
	})

	t.Run("unknown role", func(t *testing.T) {
		token, err := svc.issueToken(userID, "SUPERUSER")
		require.NoError(t, err)
		_, _, err = svc.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidRole)
	})
}

func TestHandler_RegisterStatusCodes(t *testing.T) {
	h := NewHandler(NewService(newMemUsers(), testSecret), nil)
	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.Register(rec, req)
		return rec
	}

	rec := post(`{"email":"new@example.com","password":"password1","name":"N","role":"TESTER"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "TESTER", resp.Role)

	assert.Equal(t, http.StatusConflict, post(`{"email":"new@example.com","password":"password1","name":"N","role":"TESTER"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"email":"a@example.com","password":"password1","name":"N","role":"ADMIN"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"email":"a@example.com"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`not json`).Code)
}

func TestHandler_Login(t *testing.T) {
	svc := NewService(newMemUsers(), testSecret)
	_, err := svc.Register(context.Background(), "dev@example.com", "password1", "D", models.RoleDeveloper)
	require.NoError(t, err)
	h := NewHandler(svc, nil)

	login := func(password string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(LoginRequest{Email: "dev@example.com", Password: password})
		rec := httptest.NewRecorder()
		h.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body)))
		return rec
	}

	rec := login("password1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	assert.Equal(t, http.StatusUnauthorized, login("nope-nope").Code)
}
