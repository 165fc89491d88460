package middleware

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunogate/yunogate/internal/auth"
	"github.com/yunogate/yunogate/internal/config"
	"github.com/yunogate/yunogate/internal/db/models"
	"github.com/yunogate/yunogate/internal/lockout"
	"github.com/yunogate/yunogate/internal/provision"
	"github.com/yunogate/yunogate/internal/reconcile"
	"github.com/yunogate/yunogate/internal/repository"
	"github.com/yunogate/yunogate/internal/ssotoken"
)

const testSecret = "binder-test-secret"

// mockUsers implements repository.UserRepository on an in-memory map.
type mockUsers struct {
	byUsername map[string]*models.User
	nextID     int
}

func newMockUsers() *mockUsers {
	return &mockUsers{byUsername: make(map[string]*models.User)}
}

func (m *mockUsers) Create(ctx context.Context, user *models.User) error {
	if _, exists := m.byUsername[user.Username]; exists {
		return fmt.Errorf("create user: UNIQUE constraint failed: users.username")
	}
	m.nextID++
	if user.ID == "" {
		user.ID = fmt.Sprintf("user-%d", m.nextID)
	}
	copied := *user
	m.byUsername[user.Username] = &copied
	return nil
}

func (m *mockUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range m.byUsername {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
}

func (m *mockUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if u, ok := m.byUsername[username]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, fmt.Errorf("user %q: %w", username, repository.ErrNotFound)
}

func (m *mockUsers) UpdateFields(ctx context.Context, user *models.User, fields ...string) error {
	stored, ok := m.byUsername[user.Username]
	if !ok {
		return fmt.Errorf("user %s: %w", user.ID, repository.ErrNotFound)
	}
	for _, f := range fields {
		switch f {
		case "email":
			stored.Email = user.Email
		case "first_name":
			stored.FirstName = user.FirstName
		case "last_name":
			stored.LastName = user.LastName
		case "is_staff":
			stored.IsStaff = user.IsStaff
		case "is_superuser":
			stored.IsSuperuser = user.IsSuperuser
		}
	}
	return nil
}

func (m *mockUsers) UpdateLastLogin(ctx context.Context, id string) error {
	for _, u := range m.byUsername {
		if u.ID == id {
			now := time.Now()
			u.LastLoginAt = &now
			return nil
		}
	}
	return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
}

func (m *mockUsers) List(ctx context.Context) ([]models.User, error) {
	result := make([]models.User, 0, len(m.byUsername))
	for _, u := range m.byUsername {
		result = append(result, *u)
	}
	return result, nil
}

// mockSessions implements repository.SessionRepository keyed by token hash.
type mockSessions struct {
	byHash map[string]*models.Session
	nextID int
}

func newMockSessions() *mockSessions {
	return &mockSessions{byHash: make(map[string]*models.Session)}
}

func (m *mockSessions) Create(ctx context.Context, session *models.Session) error {
	m.nextID++
	if session.ID == "" {
		session.ID = fmt.Sprintf("session-%d", m.nextID)
	}
	session.CreatedAt = time.Now()
	session.LastUsedAt = session.CreatedAt
	copied := *session
	m.byHash[session.TokenHash] = &copied
	return nil
}

func (m *mockSessions) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if s, ok := m.byHash[tokenHash]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, fmt.Errorf("session: %w", repository.ErrNotFound)
}

func (m *mockSessions) UpdateLastUsed(ctx context.Context, id string) error {
	for _, s := range m.byHash {
		if s.ID == id {
			s.LastUsedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("session %s: %w", id, repository.ErrNotFound)
}

func (m *mockSessions) Revoke(ctx context.Context, id string) error {
	for _, s := range m.byHash {
		if s.ID == id {
			s.Revoked = true
			return nil
		}
	}
	return fmt.Errorf("session %s: %w", id, repository.ErrNotFound)
}

func (m *mockSessions) RevokeByUserID(ctx context.Context, userID string) error {
	for _, s := range m.byHash {
		if s.UserID == userID {
			s.Revoked = true
		}
	}
	return nil
}

func (m *mockSessions) DeleteExpired(ctx context.Context) error { return nil }

type mockAttempts struct {
	attempts []models.AccessAttempt
}

func (m *mockAttempts) Record(ctx context.Context, attempt *models.AccessAttempt) error {
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *mockAttempts) CountByOriginSince(ctx context.Context, origin string, since time.Time) (int, error) {
	n := 0
	for _, a := range m.attempts {
		if a.Origin == origin {
			n++
		}
	}
	return n, nil
}

func (m *mockAttempts) List(ctx context.Context) ([]models.AccessAttempt, error) {
	return m.attempts, nil
}

// fixture bundles the binder with its mocks for a test.
type fixture struct {
	cfg       *config.Config
	users     *mockUsers
	sessions  *mockSessions
	attempts  *mockAttempts
	handler   http.Handler
	finalizes int
	// lastPrincipal captures what the inner handler observed, nil when the
	// request arrived anonymously.
	lastPrincipal *auth.Principal
	reached       bool
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()

	f := &fixture{
		cfg: &config.Config{
			Debug: true,
			SSO: config.SSOConfig{
				RemoteUserHeader: "Remote-User",
				AuthUserHeader:   "Auth-User",
				EmailHeader:      "Email",
				NameHeader:       "Name",
				PortalCookie:     "yunohost.portal",
				LegacyCookie:     "SSOwAuthUser",
				JWTSecret:        testSecret,
				SessionCookie:    "yunogate.session",
				SessionTTL:       12 * time.Hour,
			},
			Lockout: config.LockoutConfig{FailureLimit: 3, CoolOff: 10 * time.Minute},
		},
		users:    newMockUsers(),
		sessions: newMockSessions(),
		attempts: &mockAttempts{},
	}
	for _, opt := range opts {
		opt(f)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	finalize := func(u *models.User) (*models.User, error) {
		f.finalizes++
		return u, nil
	}

	verifier := ssotoken.NewVerifier(f.cfg.SSO.JWTSecret)
	reconciler := reconcile.New(verifier, f.cfg.SSO.AllowUnverifiedCookie, log)
	provisioner := provision.New(f.users, finalize, f.cfg.SSO.AdminUser, log)
	guard, err := lockout.New(f.attempts, f.cfg.Lockout.FailureLimit, f.cfg.Lockout.CoolOff, log)
	require.NoError(t, err)

	mw, err := NewSSOMiddleware(f.cfg, SSODependencies{
		Reconciler:  reconciler,
		Provisioner: provisioner,
		Users:       f.users,
		Sessions:    f.sessions,
		Guard:       guard,
		Log:         log,
	})
	require.NoError(t, err)

	f.handler = mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.reached = true
		if p, ok := auth.GetPrincipal(r.Context()); ok {
			f.lastPrincipal = &p
		} else {
			f.lastPrincipal = nil
		}
		w.WriteHeader(http.StatusOK)
	}))
	return f
}

// assertedRequest builds a request whose redundant channels all agree on the
// given username.
func (f *fixture) assertedRequest(t *testing.T, username string) *http.Request {
	t.Helper()

	verifier := ssotoken.NewVerifier(testSecret)
	token, err := verifier.Issue(username, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/app/page", nil)
	r.RemoteAddr = "192.0.2.7:44812"
	r.Header.Set("Remote-User", username)
	r.Header.Set("Auth-User", username)
	r.Header.Set("Email", username+"@example.tld")
	r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":irrelevant")))
	r.AddCookie(&http.Cookie{Name: "yunohost.portal", Value: token})
	r.AddCookie(&http.Cookie{Name: "SSOwAuthUser", Value: username})
	return r
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestBinderAnonymousPassThrough(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/app/page", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.reached)
	assert.Nil(t, f.lastPrincipal)
	assert.Empty(t, f.users.byUsername, "anonymous request must not create users")
	assert.Empty(t, f.attempts.attempts)
}

func TestBinderHappyPathProvisionsAndBinds(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.assertedRequest(t, "bob"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.lastPrincipal)
	assert.Equal(t, "bob", f.lastPrincipal.Username)
	assert.Len(t, f.users.byUsername, 1)
	assert.Equal(t, 1, f.finalizes)

	cookie := sessionCookie(t, rec, "yunogate.session")
	require.NotNil(t, cookie, "login must set the session cookie")
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)
	_, err := f.sessions.GetByTokenHash(context.Background(), auth.HashSessionToken(cookie.Value))
	assert.NoError(t, err, "stored hash must match the issued cookie")
}

func TestBinderBoundSessionSkipsProvisioning(t *testing.T) {
	f := newFixture(t)

	first := httptest.NewRecorder()
	f.handler.ServeHTTP(first, f.assertedRequest(t, "bob"))
	require.Equal(t, http.StatusOK, first.Code)
	cookie := sessionCookie(t, first, "yunogate.session")
	require.NotNil(t, cookie)

	// Second request carries the session cookie alongside the proxy channels.
	r := f.assertedRequest(t, "bob")
	r.AddCookie(&http.Cookie{Name: "yunogate.session", Value: cookie.Value})
	second := httptest.NewRecorder()
	f.handler.ServeHTTP(second, r)

	require.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, f.users.byUsername, 1)
	assert.Equal(t, 1, f.finalizes, "finalize runs on the login transition only")
	assert.Len(t, f.sessions.byHash, 1, "bound request must not mint a second session")
	require.NotNil(t, f.lastPrincipal)
	assert.NotEmpty(t, f.lastPrincipal.SessionID)
}

func TestBinderBoundSessionStillVerifiesChannels(t *testing.T) {
	f := newFixture(t)

	first := httptest.NewRecorder()
	f.handler.ServeHTTP(first, f.assertedRequest(t, "bob"))
	cookie := sessionCookie(t, first, "yunogate.session")
	require.NotNil(t, cookie)

	// Same session cookie, but the mirror header now disagrees.
	r := f.assertedRequest(t, "bob")
	r.Header.Set("Auth-User", "mallory")
	r.AddCookie(&http.Cookie{Name: "yunogate.session", Value: cookie.Value})
	second := httptest.NewRecorder()
	f.handler.ServeHTTP(second, r)

	assert.Equal(t, http.StatusForbidden, second.Code)
	require.Len(t, f.attempts.attempts, 1)
	assert.Equal(t, "auth_user_mismatch", f.attempts.attempts[0].Reason)
}

func TestBinderRejectsMissingCookie(t *testing.T) {
	f := newFixture(t)

	r := httptest.NewRequest("GET", "/app/page", nil)
	r.RemoteAddr = "192.0.2.7:44812"
	r.Header.Set("Remote-User", "alice")
	r.Header.Set("Auth-User", "alice")
	r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:pw")))

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.users.byUsername, "rejected request must not create users")
	require.Len(t, f.attempts.attempts, 1)
	assert.Equal(t, "cookie_missing", f.attempts.attempts[0].Reason)
	assert.Equal(t, "alice", f.attempts.attempts[0].Username)
	assert.Equal(t, "192.0.2.7", f.attempts.attempts[0].Origin)
}

func TestBinderRejectsTokenUsernameMismatch(t *testing.T) {
	f := newFixture(t)

	verifier := ssotoken.NewVerifier(testSecret)
	carolToken, err := verifier.Issue("carol", time.Hour)
	require.NoError(t, err)

	r := f.assertedRequest(t, "mallory")
	// Replace the portal cookie with carol's token.
	r.Header.Del("Cookie")
	r.AddCookie(&http.Cookie{Name: "yunohost.portal", Value: carolToken})
	r.AddCookie(&http.Cookie{Name: "SSOwAuthUser", Value: "mallory"})

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied\n", rec.Body.String(), "rejection body stays generic")
	assert.Empty(t, f.users.byUsername)
	require.Len(t, f.attempts.attempts, 1)
	assert.Equal(t, "cookie_invalid", f.attempts.attempts[0].Reason)
}

func TestBinderRejectionBodyNamesNoChannel(t *testing.T) {
	f := newFixture(t)

	r := f.assertedRequest(t, "bob")
	r.Header.Set("Auth-User", "mallory")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusForbidden, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "Auth-User")
	assert.NotContains(t, body, "cookie")
	assert.NotContains(t, body, "mallory")
}

func TestBinderLockoutAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)

	reject := func() *httptest.ResponseRecorder {
		r := f.assertedRequest(t, "bob")
		r.Header.Set("Auth-User", "mallory")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, r)
		return rec
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusForbidden, reject().Code)
	}
	require.Len(t, f.attempts.attempts, 3)

	// The origin is now locked: even a fully valid request is refused and no
	// further ledger entry is written.
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.assertedRequest(t, "bob"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, f.attempts.attempts, 3)
	assert.Empty(t, f.users.byUsername)
}

func TestBinderSuccessResetsLockoutCounter(t *testing.T) {
	f := newFixture(t)

	reject := func() {
		r := f.assertedRequest(t, "bob")
		r.Header.Set("Auth-User", "mallory")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, r)
		require.Equal(t, http.StatusForbidden, rec.Code)
	}

	reject()
	reject()

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.assertedRequest(t, "bob"))
	require.Equal(t, http.StatusOK, rec.Code)

	// Two more failures stay under the limit again after the reset.
	f.attempts.attempts = nil
	reject()
	reject()
	ok := httptest.NewRecorder()
	f.handler.ServeHTTP(ok, f.assertedRequest(t, "bob"))
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestBinderDropsSessionOnProxyLogout(t *testing.T) {
	f := newFixture(t)

	first := httptest.NewRecorder()
	f.handler.ServeHTTP(first, f.assertedRequest(t, "bob"))
	cookie := sessionCookie(t, first, "yunogate.session")
	require.NotNil(t, cookie)

	// Proxy logout: no assertion headers, session cookie still in the jar.
	r := httptest.NewRequest("GET", "/app/page", nil)
	r.AddCookie(&http.Cookie{Name: "yunogate.session", Value: cookie.Value})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.lastPrincipal, "request proceeds anonymously")

	session, err := f.sessions.GetByTokenHash(context.Background(), auth.HashSessionToken(cookie.Value))
	require.NoError(t, err)
	assert.True(t, session.Revoked, "stale session must not outlive the SSO logout")

	cleared := sessionCookie(t, rec, "yunogate.session")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}

func TestBinderSessionForDifferentUserIsReplaced(t *testing.T) {
	f := newFixture(t)

	first := httptest.NewRecorder()
	f.handler.ServeHTTP(first, f.assertedRequest(t, "bob"))
	bobCookie := sessionCookie(t, first, "yunogate.session")
	require.NotNil(t, bobCookie)

	// The proxy now asserts alice while bob's session cookie is still set.
	r := f.assertedRequest(t, "alice")
	r.AddCookie(&http.Cookie{Name: "yunogate.session", Value: bobCookie.Value})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.lastPrincipal)
	assert.Equal(t, "alice", f.lastPrincipal.Username)

	old, err := f.sessions.GetByTokenHash(context.Background(), auth.HashSessionToken(bobCookie.Value))
	require.NoError(t, err)
	assert.True(t, old.Revoked, "bob's session dies when the identity changes")
	assert.Len(t, f.users.byUsername, 2)
}

func TestBinderFinalizeContractViolationIsFatal(t *testing.T) {
	f := newFixture(t)

	// Rebuild the middleware with a hook that breaks the identity contract.
	log := logrus.New()
	log.SetOutput(io.Discard)
	badFinalize := func(u *models.User) (*models.User, error) {
		u.Username = "hijacked"
		return u, nil
	}
	verifier := ssotoken.NewVerifier(testSecret)
	guard, err := lockout.New(f.attempts, 3, 10*time.Minute, log)
	require.NoError(t, err)
	mw, err := NewSSOMiddleware(f.cfg, SSODependencies{
		Reconciler:  reconcile.New(verifier, false, log),
		Provisioner: provision.New(f.users, badFinalize, "", log),
		Users:       f.users,
		Sessions:    f.sessions,
		Guard:       guard,
		Log:         log,
	})
	require.NoError(t, err)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run when finalize breaks the contract")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, f.assertedRequest(t, "bob"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
