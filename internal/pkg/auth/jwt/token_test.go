package jwt

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSignVerify_RoundTrip(t *testing.T) {
	s := NewSigner("secret")

	token, err := s.Sign(NewClaims(KindAccess, "u-1", "alice@example.com"), AccessExpiration)
	require.NoError(t, err)

	claims, err := s.Verify(KindAccess, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, TokenIssuer, claims.Issuer)
}

func TestVerify_KindMustMatch(t *testing.T) {
	s := NewSigner("secret")

	access, err := s.Sign(NewClaims(KindAccess, "u-1", ""), AccessExpiration)
	require.NoError(t, err)
	refresh, err := s.Sign(NewClaims(KindRefresh, "u-1", ""), RefreshExpiration)
	require.NoError(t, err)

	_, err = s.Verify(KindRefresh, access)
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = s.Verify(KindAccess, refresh)
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = s.Verify(KindSession, access)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestVerify_Expired(t *testing.T) {
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewSigner("secret").WithClock(fixedClock(issued))

	token, err := s.Sign(NewClaims(KindAccess, "u-1", ""), AccessExpiration)
	require.NoError(t, err)

	_, err = s.WithClock(fixedClock(issued.Add(14 * time.Minute))).Verify(KindAccess, token)
	assert.NoError(t, err)

	_, err = s.WithClock(fixedClock(issued.Add(16 * time.Minute))).Verify(KindAccess, token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_BadSignature(t *testing.T) {
	token, err := NewSigner("secret").Sign(NewClaims(KindAccess, "u-1", ""), AccessExpiration)
	require.NoError(t, err)

	_, err = NewSigner("other").Verify(KindAccess, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewSigner("secret").Verify(KindAccess, "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewSigner("secret").Verify(KindAccess, "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionClaims(t *testing.T) {
	s := NewSigner("secret")

	claims := NewClaims(KindSession, "u-1", "")
	claims.MeetingID = "abc-def-ghi"
	claims.ParticipantID = "u-1"

	token, err := s.Sign(claims, SessionExpiration)
	require.NoError(t, err)

	verified, err := s.Verify(KindSession, token)
	require.NoError(t, err)
	assert.Equal(t, "abc-def-ghi", verified.MeetingID)
	assert.Equal(t, "u-1", verified.ParticipantID)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", BearerToken(r))
}
