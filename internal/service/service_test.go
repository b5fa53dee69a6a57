package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"farmmarket/internal/apperror"
	"farmmarket/internal/config"
	"farmmarket/internal/mail"
	"farmmarket/internal/models"
	"farmmarket/internal/repository"
	"farmmarket/internal/security"
)

var cheapParams = security.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) last(t *testing.T) mail.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.msgs, "no mail sent")
	return s.msgs[len(s.msgs)-1]
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

var tokenInLink = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func linkToken(t *testing.T, msg mail.Message) string {
	t.Helper()
	m := tokenInLink.FindStringSubmatch(msg.HTML)
	require.Len(t, m, 2, "no token link in %q", msg.Subject)
	return m[1]
}

type testEnv struct {
	store  *repository.MemoryStore
	clock  *fakeClock
	issuer *security.TokenIssuer
	queued *recordingSender
	direct *recordingSender
	auth   *AuthService
	users  *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.SecurityConfig{
		JWTAccessSecret:  "access-secret-for-tests",
		JWTRefreshSecret: "refresh-secret-for-tests",
		JWTAccessTTL:     15 * time.Minute,
		JWTRefreshTTL:    7 * 24 * time.Hour,
		MaxSessions:      models.DefaultMaxSessions,
		VerificationTTL:  24 * time.Hour,
		ResetTTL:         time.Hour,
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryStore(cfg.MaxSessions)
	issuer := security.NewTokenIssuer(cfg).WithClock(clock.Now)
	queued := &recordingSender{}
	direct := &recordingSender{}

	auth := NewAuthService(store, store, issuer, Mailers{
		Renderer: mail.NewRenderer("https://farm.example"),
		Queued:   queued,
		Direct:   direct,
	}, cfg, zerolog.Nop())
	auth.now = clock.Now
	auth.hashPassword = func(p string) ([]byte, error) {
		return security.HashPasswordWithParams(p, cheapParams)
	}

	users := NewUserService(store, store, nil, 5<<20, zerolog.Nop())
	users.now = clock.Now

	return &testEnv{
		store:  store,
		clock:  clock,
		issuer: issuer,
		queued: queued,
		direct: direct,
		auth:   auth,
		users:  users,
	}
}

func (e *testEnv) register(t *testing.T, email string, role models.UserRole) models.User {
	t.Helper()
	user, err := e.auth.Register(context.Background(), RegisterInput{
		Name:     "Wanjiru",
		Email:    email,
		Phone:    "+2547" + phoneSuffix(email),
		Password: "s3cret-pass",
		Role:     role,
		County:   "Nakuru",
	})
	require.NoError(t, err)
	return user
}

// phoneSuffix derives a distinct 8 digit suffix per email so registrations don't collide.
func phoneSuffix(email string) string {
	var n uint32 = 2166136261
	for i := 0; i < len(email); i++ {
		n ^= uint32(email[i])
		n *= 16777619
	}
	digits := make([]byte, 8)
	for i := range digits {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}

func (e *testEnv) login(t *testing.T, email string) AuthResult {
	t.Helper()
	res, err := e.auth.Login(context.Background(), LoginInput{Email: email, Password: "s3cret-pass"})
	require.NoError(t, err)
	return res
}

func (e *testEnv) sessions(t *testing.T, id string) int {
	t.Helper()
	user, err := e.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return user.Sessions.Len()
}

func requireAppError(t *testing.T, err error, kind apperror.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr), "want *apperror.Error, got %T: %v", err, err)
	require.Equal(t, kind, appErr.Kind)
	if code != "" {
		require.Equal(t, code, appErr.Code)
	}
}
