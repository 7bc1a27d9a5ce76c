/*
Package randx provides cryptographically secure random identifiers.

Meeting ids are three lowercase alphanumeric triplets joined by hyphens
(e.g. "abc-def-ghi"); user and message ids are UUID v4 strings.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"

	"github.com/google/uuid"
)

const (
	// MeetingIDChars is the alphabet for meeting id triplets.
	MeetingIDChars = "abcdefghijklmnopqrstuvwxyz0123456789"

	// MeetingIDGroups is the number of triplets in a meeting id.
	MeetingIDGroups = 3

	// MeetingIDGroupLength is the number of characters in each triplet.
	MeetingIDGroupLength = 3
)

var meetingIDPattern = regexp.MustCompile(`^[a-z0-9]{3}-[a-z0-9]{3}-[a-z0-9]{3}$`)

var meetingIDAlphabetLen = big.NewInt(int64(len(MeetingIDChars)))

// MeetingID generates a new meeting id in the "xxx-xxx-xxx" format.
func MeetingID() (string, error) {
	out := make([]byte, 0, MeetingIDGroups*(MeetingIDGroupLength+1)-1)

	for g := range MeetingIDGroups {
		if g > 0 {
			out = append(out, '-')
		}
		for range MeetingIDGroupLength {
			num, err := rand.Int(rand.Reader, meetingIDAlphabetLen)
			if err != nil {
				return "", fmt.Errorf("failed to generate random number for meeting id: %w", err)
			}
			out = append(out, MeetingIDChars[num.Int64()])
		}
	}

	return string(out), nil
}

// IsValidMeetingID reports whether id is exactly three lowercase alphanumeric
// triplets separated by hyphens.
func IsValidMeetingID(id string) bool {
	return meetingIDPattern.MatchString(id)
}

// UserID generates a UUID v4 string for a new user.
func UserID() string {
	return uuid.New().String()
}

// MessageID generates a UUID v4 string to identify a relayed chat message.
func MessageID() string {
	return uuid.New().String()
}
