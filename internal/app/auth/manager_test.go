package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meetline/internal/pkg/auth/cipher"
	"meetline/internal/pkg/auth/jwt"
	"meetline/internal/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers map[string]bool

func (f fakeUsers) Exists(_ context.Context, id string) (bool, error) {
	if id == "broken" {
		return false, errors.New("db down")
	}
	return f[id], nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestManager(t *testing.T, users fakeUsers) (*Manager, *clock) {
	t.Helper()

	c, err := cipher.New([]byte("0123456789abcdef0123456789abcdef"), []byte("fedcba9876543210"), cipher.IVStatic)
	require.NoError(t, err)

	clk := &clock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewManager(Options{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Cipher:        c,
		Users:         users,
		Now:           clk.now,
	}), clk
}

// requestWith builds a request carrying the cookies set on rec.
func requestWith(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return r
}

func login(t *testing.T, m *Manager, sub Subject) *httptest.ResponseRecorder {
	t.Helper()
	pair, err := m.Issue(sub)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, m.SetAuthCookies(rec, pair))
	return rec
}

func TestAuthenticate_NoCredential(t *testing.T) {
	m, _ := newTestManager(t, fakeUsers{})

	_, _, err := m.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))
}

func TestAuthenticate_ValidAccess(t *testing.T) {
	m, _ := newTestManager(t, fakeUsers{"u-1": true})
	rec := login(t, m, Subject{ID: "u-1", Email: "a@example.com"})

	claims, rotated, err := m.Authenticate(requestWith(rec))
	require.NoError(t, err)
	assert.Empty(t, rotated)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, jwt.KindAccess, claims.Kind)
}

func TestAuthenticate_RotatesFromRefresh(t *testing.T) {
	m, clk := newTestManager(t, fakeUsers{"u-1": true})
	rec := login(t, m, Subject{ID: "u-1", Email: "a@example.com"})

	clk.t = clk.t.Add(jwt.AccessExpiration + time.Minute)

	claims, rotated, err := m.Authenticate(requestWith(rec))
	require.NoError(t, err)
	require.NotEmpty(t, rotated)
	assert.Equal(t, "u-1", claims.Subject)

	token, err := m.Unwrap(rotated)
	require.NoError(t, err)
	fresh, err := m.Verify(jwt.KindAccess, token)
	require.NoError(t, err)
	assert.Equal(t, jwt.KindAccess, fresh.Kind)
	assert.Equal(t, clk.t.Add(jwt.AccessExpiration).Unix(), fresh.ExpiresAt)
}

func TestAuthenticate_OnlyRefreshCookie(t *testing.T) {
	m, _ := newTestManager(t, fakeUsers{"u-1": true})
	pair, err := m.Issue(Subject{ID: "u-1"})
	require.NoError(t, err)
	wrapped, err := m.Wrap(pair.Refresh)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: wrapped})

	_, rotated, err := m.Authenticate(r)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)
}

func TestAuthenticate_RefreshForDeletedSubject(t *testing.T) {
	m, clk := newTestManager(t, fakeUsers{})
	rec := login(t, m, Subject{ID: "u-gone"})
	clk.t = clk.t.Add(time.Hour)

	_, _, err := m.Authenticate(requestWith(rec))
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))
}

func TestAuthenticate_LookupFailureIsInternal(t *testing.T) {
	m, clk := newTestManager(t, fakeUsers{})
	rec := login(t, m, Subject{ID: "broken"})
	clk.t = clk.t.Add(time.Hour)

	_, _, err := m.Authenticate(requestWith(rec))
	assert.Equal(t, http.StatusInternalServerError, errs.StatusOf(err))
}

func TestAuthenticate_BothExpired(t *testing.T) {
	m, clk := newTestManager(t, fakeUsers{"u-1": true})
	rec := login(t, m, Subject{ID: "u-1"})
	clk.t = clk.t.Add(jwt.RefreshExpiration + time.Minute)

	_, _, err := m.Authenticate(requestWith(rec))
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))
}

func TestAuthenticate_KindsAreNotInterchangeable(t *testing.T) {
	m, _ := newTestManager(t, fakeUsers{"u-1": true})
	pair, err := m.Issue(Subject{ID: "u-1"})
	require.NoError(t, err)

	// refresh credential presented as access, and vice versa
	asAccess, _ := m.Wrap(pair.Refresh)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: AccessCookieName, Value: asAccess})
	_, _, err = m.Authenticate(r)
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))

	asRefresh, _ := m.Wrap(pair.Access)
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: asRefresh})
	_, _, err = m.Authenticate(r)
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))
}

func TestAuthenticate_UnwrapFailureIsUnauthenticated(t *testing.T) {
	m, _ := newTestManager(t, fakeUsers{"u-1": true})
	pair, err := m.Issue(Subject{ID: "u-1"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: AccessCookieName, Value: pair.Access}) // not wrapped
	_, _, err = m.Authenticate(r)
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))
}

func TestRequireAuth_SetsRotatedCookie(t *testing.T) {
	m, clk := newTestManager(t, fakeUsers{"u-1": true})
	rec := login(t, m, Subject{ID: "u-1"})
	clk.t = clk.t.Add(20 * time.Minute)

	var seen Subject
	h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFrom(r.Context())
	}))

	out := httptest.NewRecorder()
	h.ServeHTTP(out, requestWith(rec))

	assert.Equal(t, http.StatusOK, out.Code)
	assert.Equal(t, "u-1", seen.ID)

	cookies := out.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, AccessCookieName, cookies[0].Name)
	assert.Equal(t, int(jwt.AccessExpiration/time.Second), cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
}

func TestRequireAuth_Rejects(t *testing.T) {
	m, _ := newTestManager(t, fakeUsers{})
	h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	out := httptest.NewRecorder()
	h.ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestRefresh_RequiresRefreshCookie(t *testing.T) {
	m, _ := newTestManager(t, fakeUsers{"u-1": true})
	rec := login(t, m, Subject{ID: "u-1"})

	_, rotated, err := m.Refresh(requestWith(rec))
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)

	_, _, err = m.Refresh(httptest.NewRequest(http.MethodPost, "/auth/refresh-token", nil))
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))
}

func TestSessionCredential(t *testing.T) {
	m, _ := newTestManager(t, fakeUsers{"u-1": true})

	session, err := m.IssueSession(Subject{ID: "u-1"}, "abc-def-ghi", "u-1")
	require.NoError(t, err)

	claims, err := m.VerifySession(session, "abc-def-ghi", "u-1")
	require.NoError(t, err)
	assert.Equal(t, jwt.KindSession, claims.Kind)

	_, err = m.VerifySession(session, "zzz-zzz-zzz", "u-1")
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))

	// never accepted as an access credential
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: AccessCookieName, Value: session})
	_, _, err = m.Authenticate(r)
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))
}

func TestClearAuthCookies(t *testing.T) {
	m, _ := newTestManager(t, fakeUsers{})
	rec := httptest.NewRecorder()
	m.Revoke(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}
