/*
Package auth is the credential manager: it issues access, refresh and meeting
session credentials, wraps them before they leave the server, authenticates
requests (rotating the access credential from a valid refresh credential) and
clears credentials on logout.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"meetline/internal/pkg/auth/cipher"
	"meetline/internal/pkg/auth/jwt"
	"meetline/internal/pkg/errs"
	"meetline/internal/pkg/logx"
	"meetline/internal/pkg/resp"
)

// UserLookup reports whether a credential subject still has an account.
type UserLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Subject identifies the holder of a credential.
type Subject struct {
	ID    string
	Email string
}

// Pair holds a freshly issued access and refresh credential, unwrapped.
type Pair struct {
	Access  string
	Refresh string
}

// Options configures a Manager.
type Options struct {
	AccessSecret  string
	RefreshSecret string
	Cipher        *cipher.Cipher
	Users         UserLookup

	// SecureCookies sets the Secure attribute, on in production.
	SecureCookies bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager implements the credential lifecycle.
type Manager struct {
	access  *jwt.Signer
	refresh *jwt.Signer
	cipher  *cipher.Cipher
	users   UserLookup
	secure  bool
	now     func() time.Time
}

// NewManager builds a Manager from opts.
func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		access:  jwt.NewSigner(opts.AccessSecret).WithClock(now),
		refresh: jwt.NewSigner(opts.RefreshSecret).WithClock(now),
		cipher:  opts.Cipher,
		users:   opts.Users,
		secure:  opts.SecureCookies,
		now:     now,
	}
}

// Issue signs a new access/refresh pair for sub.
func (m *Manager) Issue(sub Subject) (Pair, error) {
	access, err := m.issueAccess(sub)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := m.refresh.Sign(jwt.NewClaims(jwt.KindRefresh, sub.ID, sub.Email), jwt.RefreshExpiration)
	if err != nil {
		return Pair{}, err
	}

	return Pair{Access: access, Refresh: refresh}, nil
}

func (m *Manager) issueAccess(sub Subject) (string, error) {
	return m.access.Sign(jwt.NewClaims(jwt.KindAccess, sub.ID, sub.Email), jwt.AccessExpiration)
}

// IssueSession signs and wraps a credential scoped to one meeting and participant.
func (m *Manager) IssueSession(sub Subject, meetingID, participantID string) (string, error) {
	claims := jwt.NewClaims(jwt.KindSession, sub.ID, sub.Email)
	claims.MeetingID = meetingID
	claims.ParticipantID = participantID

	token, err := m.access.Sign(claims, jwt.SessionExpiration)
	if err != nil {
		return "", err
	}
	return m.Wrap(token)
}

// VerifySession checks a wrapped session credential against the meeting and
// participant it must be scoped to.
func (m *Manager) VerifySession(opaque, meetingID, participantID string) (*jwt.Claims, error) {
	claims, err := m.verifyWrapped(jwt.KindSession, opaque)
	if err != nil {
		return nil, err
	}
	if claims.MeetingID != meetingID || claims.ParticipantID != participantID {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}
	return claims, nil
}

// Verify checks an unwrapped credential of the given kind.
func (m *Manager) Verify(kind jwt.Kind, token string) (*jwt.Claims, error) {
	signer := m.access
	if kind == jwt.KindRefresh {
		signer = m.refresh
	}
	return signer.Verify(kind, token)
}

// Wrap encrypts a credential for transport.
func (m *Manager) Wrap(token string) (string, error) {
	return m.cipher.Wrap(token)
}

// Unwrap reverses Wrap.
func (m *Manager) Unwrap(opaque string) (string, error) {
	return m.cipher.Unwrap(opaque)
}

func (m *Manager) verifyWrapped(kind jwt.Kind, opaque string) (*jwt.Claims, error) {
	token, err := m.Unwrap(opaque)
	if err != nil {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}
	claims, err := m.Verify(kind, token)
	if err != nil {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}
	return claims, nil
}

// Authenticate resolves the caller of r.
//
// A valid access credential authenticates directly. Otherwise a valid refresh
// credential whose subject still exists yields a newly issued access
// credential; its wrapped form is returned as the second result so the caller can
// propagate it. Anything else is ErrUnauthorized.
func (m *Manager) Authenticate(r *http.Request) (*jwt.Claims, string, error) {
	accessValue := cookieValue(r, AccessCookieName)
	refreshValue := cookieValue(r, RefreshCookieName)

	if accessValue == "" && refreshValue == "" {
		return nil, "", errs.NewError(errs.ErrUnauthorized)
	}

	if accessValue != "" {
		if claims, err := m.verifyWrapped(jwt.KindAccess, accessValue); err == nil {
			return claims, "", nil
		}
	}

	if refreshValue == "" {
		return nil, "", errs.NewError(errs.ErrUnauthorized)
	}

	return m.rotate(r.Context(), refreshValue)
}

// Refresh rotates the access credential from the refresh cookie alone.
func (m *Manager) Refresh(r *http.Request) (*jwt.Claims, string, error) {
	refreshValue := cookieValue(r, RefreshCookieName)
	if refreshValue == "" {
		return nil, "", errs.NewError(errs.ErrUnauthorized)
	}
	return m.rotate(r.Context(), refreshValue)
}

func (m *Manager) rotate(ctx context.Context, refreshValue string) (*jwt.Claims, string, error) {
	refreshClaims, err := m.verifyWrapped(jwt.KindRefresh, refreshValue)
	if err != nil {
		return nil, "", err
	}

	exists, err := m.users.Exists(ctx, refreshClaims.Subject)
	if err != nil {
		return nil, "", errs.NewError(errs.ErrUnknown, fmt.Errorf("lookup subject: %w", err))
	}
	if !exists {
		return nil, "", errs.NewError(errs.ErrUnauthorized)
	}

	sub := Subject{ID: refreshClaims.Subject, Email: refreshClaims.Email}
	access, err := m.issueAccess(sub)
	if err != nil {
		return nil, "", errs.NewError(errs.ErrUnknown, err)
	}

	wrapped, err := m.Wrap(access)
	if err != nil {
		return nil, "", errs.NewError(errs.ErrUnknown, err)
	}

	claims, err := m.Verify(jwt.KindAccess, access)
	if err != nil {
		return nil, "", errs.NewError(errs.ErrUnknown, err)
	}

	logx.Debug("Access credential rotated", "subject", sub.ID)

	return claims, wrapped, nil
}

// RequireAuth rejects unauthenticated requests with 401 and stores the verified
// claims in the request context. A rotated access credential is set as cookie.
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, rotated, err := m.Authenticate(r)
		if err != nil {
			respondAuthError(w, r, err)
			return
		}

		if rotated != "" {
			m.SetAccessCookie(w, rotated)
		}

		next.ServeHTTP(w, r.WithContext(jwt.NewContext(r.Context(), claims)))
	})
}

// SubjectFrom returns the authenticated subject stored by RequireAuth.
func SubjectFrom(ctx context.Context) (Subject, bool) {
	claims := jwt.FromContext(ctx)
	if claims == nil {
		return Subject{}, false
	}
	return Subject{ID: claims.Subject, Email: claims.Email}, true
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) {
		customErr = errs.NewError(errs.ErrUnauthorized)
	}
	resp.RespondError(w, r, customErr)
}
