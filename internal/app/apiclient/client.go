/*
Package apiclient talks to a meetline server on behalf of one signed-in
participant: the JSON HTTP API with cookie credentials, and the signaling
websocket.
*/
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"meetline/internal/app/directory"
	"meetline/internal/app/meeting"
	"meetline/internal/app/user"
	"meetline/internal/pkg/errs"
)

const requestTimeout = 15 * time.Second

// Client is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CreateMeetingRequest mirrors the body of POST /meetings/create.
type CreateMeetingRequest struct {
	Name            string `json:"name"`
	HostName        string `json:"hostName,omitempty"`
	IsPublic        bool   `json:"isPublic"`
	Password        string `json:"password,omitempty"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

// MeetingView is a meeting with its share link.
type MeetingView struct {
	Meeting meeting.Meeting `json:"meeting"`
	Link    string          `json:"link"`
}

// New returns a Client for the server at baseURL with an empty cookie jar.
func New(baseURL string) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", base.Scheme)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Client{base: base, http: &http.Client{Jar: jar, Timeout: requestTimeout}}, nil
}

func (c *Client) Register(ctx context.Context, name, email, password string) (user.User, error) {
	var u user.User
	err := c.do(ctx, http.MethodPost, "/auth/register", map[string]string{
		"name": name, "email": email, "password": password,
	}, &u)
	return u, err
}

func (c *Client) Login(ctx context.Context, email, password string) (user.User, error) {
	var u user.User
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email": email, "password": password,
	}, &u)
	return u, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) CreateMeeting(ctx context.Context, in CreateMeetingRequest) (MeetingView, error) {
	var v MeetingView
	err := c.do(ctx, http.MethodPost, "/meetings/create", in, &v)
	return v, err
}

// Meeting fetches one meeting. Malformed ids are rejected locally.
func (c *Client) Meeting(ctx context.Context, id string) (meeting.Meeting, error) {
	if !meeting.ValidID(id) {
		return meeting.Meeting{}, errs.NewError(errs.ErrInvalidMeetingID)
	}
	var v MeetingView
	err := c.do(ctx, http.MethodGet, "/meetings/"+id, nil, &v)
	return v.Meeting, err
}

func (c *Client) Join(ctx context.Context, id, participantName, password string) (directory.JoinResult, error) {
	if !meeting.ValidID(id) {
		return directory.JoinResult{}, errs.NewError(errs.ErrInvalidMeetingID)
	}
	var res directory.JoinResult
	err := c.do(ctx, http.MethodPost, "/meetings/"+id+"/join", map[string]string{
		"participantName": participantName, "password": password,
	}, &res)
	return res, err
}

func (c *Client) Leave(ctx context.Context, id string) error {
	if !meeting.ValidID(id) {
		return errs.NewError(errs.ErrInvalidMeetingID)
	}
	return c.do(ctx, http.MethodPost, "/meetings/"+id+"/leave", nil, nil)
}

func (c *Client) End(ctx context.Context, id string) error {
	if !meeting.ValidID(id) {
		return errs.NewError(errs.ErrInvalidMeetingID)
	}
	return c.do(ctx, http.MethodPost, "/meetings/"+id+"/end", nil, nil)
}

func (c *Client) Participants(ctx context.Context, id string) ([]meeting.Participant, error) {
	if !meeting.ValidID(id) {
		return nil, errs.NewError(errs.ErrInvalidMeetingID)
	}
	var list []meeting.Participant
	err := c.do(ctx, http.MethodGet, "/meetings/"+id+"/participants", nil, &list)
	return list, err
}

// do sends one API request. Non-2xx answers come back as *errs.CustomError
// carrying the server's code and the response status; transport failures are
// returned as they are.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return &errs.CustomError{Code: errs.ErrUnknown, Message: res.Status, Status: res.StatusCode}
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		return &errs.CustomError{Code: env.Code, Message: env.Message, Status: res.StatusCode}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s data: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
