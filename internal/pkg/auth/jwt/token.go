package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// AccessExpiration is the lifetime of access credentials.
	AccessExpiration = 15 * time.Minute

	// RefreshExpiration is the lifetime of refresh credentials.
	RefreshExpiration = 7 * 24 * time.Hour

	// SessionExpiration is the lifetime of meeting session credentials.
	SessionExpiration = 2 * time.Hour

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "meetline"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrWrongKind    = errors.New("token kind mismatch")
)

// Signer signs and verifies HS256 credentials with one secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a Signer using secret and the wall clock.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// WithClock returns a copy of s reading time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	return &Signer{secret: s.secret, now: now}
}

// Sign fills the registered claims and signs claims for the given duration.
func (s *Signer) Sign(claims Claims, duration time.Duration) (string, error) {
	now := s.now()

	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(duration).Unix()
	claims.Issuer = TokenIssuer

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.Kind, err)
	}
	return signed, nil
}

// Verify parses tokenString and checks signature, issuer, expiry and that the
// credential carries the expected kind.
func (s *Signer) Verify(kind Kind, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parser := &jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodHS256.Alg()},
		SkipClaimsValidation: true,
	}

	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !claims.VerifyIssuer(TokenIssuer, true) {
		return nil, ErrInvalidToken
	}

	if !claims.VerifyExpiresAt(s.now().Unix(), true) {
		return nil, ErrExpiredToken
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: want %s, got %q", ErrWrongKind, kind, claims.Kind)
	}

	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
