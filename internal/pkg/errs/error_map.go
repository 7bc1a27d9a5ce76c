package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
// The Status of each entry is the HTTP status of the code's taxonomy kind.
var errorMap = map[int]CustomError{
	// Validation
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrMissingField:          {Code: ErrMissingField, Message: "Missing required field: %s.", Status: http.StatusBadRequest},
	ErrInvalidMeetingID:      {Code: ErrInvalidMeetingID, Message: "Invalid meeting id.", Status: http.StatusBadRequest},
	ErrInvalidSignal:         {Code: ErrInvalidSignal, Message: "Invalid signaling message.", Status: http.StatusBadRequest},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long.", Status: http.StatusBadRequest},
	ErrInvalidPassword:       {Code: ErrInvalidPassword, Message: "Password must be at least 8 characters.", Status: http.StatusBadRequest},
	ErrInvalidEmail:          {Code: ErrInvalidEmail, Message: "Invalid email address.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// Unauthenticated
	ErrUnauthorized:       {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrInvalidCredentials: {Code: ErrInvalidCredentials, Message: "Incorrect email or password.", Status: http.StatusUnauthorized},
	ErrMeetingPassword:    {Code: ErrMeetingPassword, Message: "Incorrect meeting password.", Status: http.StatusUnauthorized},
	ErrSessionReplaced:    {Code: ErrSessionReplaced, Message: "You joined from another connection.", Status: http.StatusUnauthorized},

	// Forbidden
	ErrNotHost:        {Code: ErrNotHost, Message: "Only the host can do that.", Status: http.StatusForbidden},
	ErrNotParticipant: {Code: ErrNotParticipant, Message: "You are not in this meeting.", Status: http.StatusForbidden},

	// NotFound
	ErrMeetingNotFound:     {Code: ErrMeetingNotFound, Message: "Meeting not found.", Status: http.StatusNotFound},
	ErrParticipantNotFound: {Code: ErrParticipantNotFound, Message: "Participant not found.", Status: http.StatusNotFound},
	ErrUserNotFound:        {Code: ErrUserNotFound, Message: "Account not found.", Status: http.StatusNotFound},

	// Conflict
	ErrMeetingFull:       {Code: ErrMeetingFull, Message: "This meeting is full.", Status: http.StatusConflict},
	ErrUserAlreadyExists: {Code: ErrUserAlreadyExists, Message: "Email is already registered.", Status: http.StatusConflict},

	// Gone
	ErrMeetingExpired: {Code: ErrMeetingExpired, Message: "This meeting has expired.", Status: http.StatusGone},

	// Internal
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
