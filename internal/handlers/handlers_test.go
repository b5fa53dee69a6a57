package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmmarket/internal/config"
	"farmmarket/internal/mail"
	"farmmarket/internal/models"
	"farmmarket/internal/repository"
	"farmmarket/internal/security"
	"farmmarket/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

var linkToken = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs)
	m := linkToken.FindStringSubmatch(o.msgs[len(o.msgs)-1].HTML)
	require.Len(t, m, 2)
	return m[1]
}

type avatarBucket struct{}

func (avatarBucket) PutAvatar(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	_, err := io.Copy(io.Discard, body)
	return "https://cdn.farm.example/avatars/" + key, err
}

type server struct {
	router *gin.Engine
	store  *repository.MemoryStore
	queued *outbox
	direct *outbox
	phones int
}

func newServer(t *testing.T, checks ...HealthCheck) *server {
	t.Helper()

	cfg := &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			JWTAccessSecret:  "access-secret-for-tests",
			JWTRefreshSecret: "refresh-secret-for-tests",
			JWTAccessTTL:     15 * time.Minute,
			JWTRefreshTTL:    7 * 24 * time.Hour,
			MaxSessions:      5,
			VerificationTTL:  24 * time.Hour,
			ResetTTL:         time.Hour,
		},
	}
	store := repository.NewMemoryStore(cfg.Security.MaxSessions)
	queued, direct := &outbox{}, &outbox{}

	auth := service.NewAuthService(store, store, security.NewTokenIssuer(cfg.Security), service.Mailers{
		Renderer: mail.NewRenderer("https://farm.example"),
		Queued:   queued,
		Direct:   direct,
	}, cfg.Security, zerolog.Nop()).WithPasswordHasher(func(p string) ([]byte, error) {
		return security.HashPasswordWithParams(p, security.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	})
	users := service.NewUserService(store, store, avatarBucket{}, 1<<20, zerolog.Nop())

	router := gin.New()
	NewHandlerSet(Deps{
		Log:    zerolog.Nop(),
		Config: cfg,
		Auth:   auth,
		Users:  users,
		Health: checks,
	}).Register(router.Group("/api"))

	return &server{router: router, store: store, queued: queued, direct: direct}
}

type response struct {
	Code int
	Body map[string]any
}

func (s *server) call(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.serve(t, req)
}

func (s *server) serve(t *testing.T, req *http.Request) response {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	resp := response{Code: w.Code}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp.Body), w.Body.String())
	}
	return resp
}

func (r response) data(t *testing.T) map[string]any {
	t.Helper()
	data, ok := r.Body["data"].(map[string]any)
	require.True(t, ok, "no data in %v", r.Body)
	return data
}

func (r response) user(t *testing.T) map[string]any {
	t.Helper()
	user, ok := r.data(t)["user"].(map[string]any)
	require.True(t, ok, "no user in %v", r.Body)
	return user
}

func registration(email, role string) map[string]any {
	return map[string]any{
		"name":     "Kamau",
		"email":    email,
		"phone":    "+254712345678",
		"password": "s3cret-pass",
		"role":     role,
		"county":   "Nyeri",
		"location": map[string]any{"type": "Point", "coordinates": []float64{36.95, -0.42}},
	}
}

func (s *server) signup(t *testing.T, email, role string) (access, refresh string) {
	t.Helper()
	body := registration(email, role)
	s.phones++
	body["phone"] = fmt.Sprintf("+2547%08d", s.phones)
	resp := s.call(t, http.MethodPost, "/api/auth/register", "", body)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body)

	resp = s.call(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": email, "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	data := resp.data(t)
	return data["accessToken"].(string), data["refreshToken"].(string)
}

func TestRegister(t *testing.T) {
	s := newServer(t)

	resp := s.call(t, http.MethodPost, "/api/auth/register", "", registration("Kamau@Example.com", "farmer"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body)
	assert.Equal(t, true, resp.Body["success"])

	user := resp.user(t)
	assert.Equal(t, "kamau@example.com", user["email"])
	assert.Equal(t, "farmer", user["role"])
	assert.Equal(t, false, user["emailVerified"])
	for _, hidden := range []string{"password", "passwordHash", "refreshTokens", "emailVerificationToken", "passwordResetToken"} {
		assert.NotContains(t, user, hidden)
	}
	assert.Equal(t, 1, s.queued.count())
}

func TestRegister_DefaultsToBuyer(t *testing.T) {
	s := newServer(t)
	body := registration("buyer@example.com", "")
	delete(body, "role")

	resp := s.call(t, http.MethodPost, "/api/auth/register", "", body)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body)
	assert.Equal(t, "buyer", resp.user(t)["role"])
}

func TestRegister_Validation(t *testing.T) {
	s := newServer(t)

	cases := map[string]struct {
		mutate func(map[string]any)
		field  string
	}{
		"bad email":    {func(b map[string]any) { b["email"] = "nope" }, "email"},
		"short pass":   {func(b map[string]any) { b["password"] = "12345" }, "password"},
		"phone":        {func(b map[string]any) { b["phone"] = "0712345678" }, "phone"},
		"admin role":   {func(b map[string]any) { b["role"] = "admin" }, "role"},
		"no county":    {func(b map[string]any) { delete(b, "county") }, "county"},
		"bad location": {func(b map[string]any) { b["location"] = map[string]any{"type": "Point", "coordinates": []float64{1}} }, "location.coordinates"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			body := registration("v@example.com", "buyer")
			tc.mutate(body)

			resp := s.call(t, http.MethodPost, "/api/auth/register", "", body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, false, resp.Body["success"])
			assert.Equal(t, "validation_error", resp.Body["error"])
			fields, _ := resp.Body["fields"].(map[string]any)
			assert.Contains(t, fields, tc.field)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, s.serve(t, req).Code)
}

func TestRegister_Duplicate(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/api/auth/register", "", registration("dup@example.com", "buyer")).Code)

	resp := s.call(t, http.MethodPost, "/api/auth/register", "", registration("dup@example.com", "buyer"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLoginRefreshLogout(t *testing.T) {
	s := newServer(t)
	access, refresh := s.signup(t, "flow@example.com", "buyer")

	resp := s.call(t, http.MethodGet, "/api/auth/me", access, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "flow@example.com", resp.user(t)["email"])

	resp = s.call(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	rotated := resp.data(t)["refreshToken"].(string)
	newAccess := resp.data(t)["accessToken"].(string)
	assert.NotEqual(t, refresh, rotated)

	resp = s.call(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = s.call(t, http.MethodPost, "/api/auth/logout", newAccess, map[string]string{"refreshToken": rotated})
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = s.call(t, http.MethodPost, "/api/auth/logout", newAccess, map[string]string{"refreshToken": rotated})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = s.call(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": rotated})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestLogin_Unauthorized(t *testing.T) {
	s := newServer(t)
	s.signup(t, "l@example.com", "buyer")

	resp := s.call(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "l@example.com", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "invalid_credentials", resp.Body["error"])
}

func TestRefresh_MissingToken(t *testing.T) {
	s := newServer(t)
	resp := s.call(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "refresh_token_required", resp.Body["error"])
}

func TestLogout_RequiresAccessToken(t *testing.T) {
	s := newServer(t)
	resp := s.call(t, http.MethodPost, "/api/auth/logout", "", map[string]string{"refreshToken": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "missing_token", resp.Body["error"])

	resp = s.call(t, http.MethodPost, "/api/auth/logout", "garbage", map[string]string{"refreshToken": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "invalid_token", resp.Body["error"])
}

func TestVerifyEmailAndFarmerProfile(t *testing.T) {
	s := newServer(t)
	access, _ := s.signup(t, "f@example.com", "farmer")

	resp := s.call(t, http.MethodGet, "/api/users/me/farmer-profile", access, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "email_not_verified", resp.Body["error"])

	resp = s.call(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": "wrong"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = s.call(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.call(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": s.queued.lastToken(t)})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	assert.Equal(t, true, resp.user(t)["emailVerified"])

	resp = s.call(t, http.MethodGet, "/api/users/me/farmer-profile", access, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	profile := resp.data(t)["profile"].(map[string]any)
	assert.Equal(t, "Kamau's Farm", profile["farmName"])

	buyerAccess, _ := s.signup(t, "b@example.com", "buyer")
	resp = s.call(t, http.MethodGet, "/api/users/me/farmer-profile", buyerAccess, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestResendVerification(t *testing.T) {
	s := newServer(t)
	access, _ := s.signup(t, "r@example.com", "buyer")

	resp := s.call(t, http.MethodPost, "/api/auth/resend-verification", access, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	assert.Equal(t, 2, s.queued.count())

	s.call(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": s.queued.lastToken(t)})
	resp = s.call(t, http.MethodPost, "/api/auth/resend-verification", access, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestForgotAndResetPassword(t *testing.T) {
	s := newServer(t)
	access, refresh := s.signup(t, "p@example.com", "buyer")

	unknown := s.call(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, unknown.Code)
	assert.Zero(t, s.direct.count())

	known := s.call(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "p@example.com"})
	require.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, unknown.Body, known.Body)
	assert.Equal(t, 1, s.direct.count())

	resp := s.call(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": s.direct.lastToken(t), "password": "123"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.call(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": "bogus", "password": "n3w-password"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.call(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": s.direct.lastToken(t), "password": "n3w-password"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)

	resp = s.call(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	// access tokens stay valid until expiry; only sessions are revoked
	resp = s.call(t, http.MethodGet, "/api/auth/me", access, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = s.call(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "p@example.com", "password": "n3w-password"})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestUsersEndpoints(t *testing.T) {
	s := newServer(t)
	access, _ := s.signup(t, "u@example.com", "buyer")
	otherAccess, _ := s.signup(t, "o@example.com", "buyer")

	me := s.call(t, http.MethodGet, "/api/users/me", access, nil)
	require.Equal(t, http.StatusOK, me.Code)
	id := me.user(t)["id"].(string)

	resp := s.call(t, http.MethodPatch, "/api/users/me", access, map[string]any{"county": "Machakos", "phone": "+254112345678"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	assert.Equal(t, "Machakos", resp.user(t)["county"])
	assert.Equal(t, "+254112345678", resp.user(t)["phone"])

	resp = s.call(t, http.MethodPatch, "/api/users/me", access, map[string]any{"phone": "12345"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	anon := s.call(t, http.MethodGet, "/api/users/"+id, "", nil)
	require.Equal(t, http.StatusOK, anon.Code)
	assert.NotContains(t, anon.user(t), "email")
	assert.NotContains(t, anon.user(t), "phone")

	other := s.call(t, http.MethodGet, "/api/users/"+id, otherAccess, nil)
	assert.NotContains(t, other.user(t), "email")

	self := s.call(t, http.MethodGet, "/api/users/"+id, access, nil)
	assert.Equal(t, "u@example.com", self.user(t)["email"])

	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, "/api/users/missing", "", nil).Code)
}

func TestUploadAvatar(t *testing.T) {
	s := newServer(t)
	access, _ := s.signup(t, "a@example.com", "buyer")

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "me.gif")
	require.NoError(t, err)
	_, err = part.Write([]byte("GIF89a\x01\x00\x01\x00"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/users/me/avatar", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+access)
	resp := s.serve(t, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	assert.Regexp(t, `^https://cdn\.farm\.example/avatars/.+\.gif$`, resp.user(t)["avatar"])

	req = httptest.NewRequest(http.MethodPost, "/api/users/me/avatar", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	assert.Equal(t, http.StatusBadRequest, s.serve(t, req).Code)
}

func TestAdminSetStatus(t *testing.T) {
	s := newServer(t)
	buyerAccess, buyerRefresh := s.signup(t, "target@example.com", "buyer")
	adminAccess, _ := s.signup(t, "admin@example.com", "buyer")

	me := s.call(t, http.MethodGet, "/api/users/me", buyerAccess, nil)
	targetID := me.user(t)["id"].(string)

	resp := s.call(t, http.MethodPatch, "/api/admin/users/"+targetID+"/status", buyerAccess, map[string]bool{"isBanned": true})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	promote(t, s.store, "admin@example.com")

	resp = s.call(t, http.MethodPatch, "/api/admin/users/"+targetID+"/status", adminAccess, map[string]bool{"isBanned": true})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)

	resp = s.call(t, http.MethodGet, "/api/auth/me", buyerAccess, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	resp = s.call(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": buyerRefresh})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	resp = s.call(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "target@example.com", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "account_suspended", resp.Body["error"])

	resp = s.call(t, http.MethodPatch, "/api/admin/users/missing/status", adminAccess, map[string]bool{"isActive": false})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func promote(t *testing.T, store *repository.MemoryStore, email string) {
	t.Helper()
	ctx := context.Background()
	user, err := store.FindByEmail(ctx, email)
	require.NoError(t, err)
	user.Role = models.UserRoleAdmin
	require.NoError(t, store.Update(ctx, &user))
}

func TestHealth(t *testing.T) {
	s := newServer(t, HealthCheck{Name: "database", Check: func(context.Context) error { return nil }})
	resp := s.call(t, http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", resp.Body["status"])

	s = newServer(t, HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("down") }})
	resp = s.call(t, http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, map[string]any{"redis": "error"}, resp.Body["checks"])
}
