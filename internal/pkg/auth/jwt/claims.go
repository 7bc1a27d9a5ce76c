package jwt

import "github.com/golang-jwt/jwt"

// Kind tags a credential with the context it may be verified in.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"

	// KindSession credentials are scoped to one meeting and one participant.
	KindSession Kind = "session"
)

// Claims is the payload of every credential issued by the server.
// The subject id lives in StandardClaims.Subject.
type Claims struct {
	jwt.StandardClaims

	Email string `json:"email,omitempty"`

	Kind Kind `json:"kind"`

	// MeetingID and ParticipantID are only set on session credentials.
	MeetingID     string `json:"mid,omitempty"`
	ParticipantID string `json:"pid,omitempty"`
}

// NewClaims returns claims of kind for subject. Registered time claims are
// filled in by Signer.Sign.
func NewClaims(kind Kind, subject, email string) Claims {
	c := Claims{Email: email, Kind: kind}
	c.Subject = subject
	return c
}
