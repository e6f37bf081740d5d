// Package provision is the call.Provisioner backed by the voice REST API.
package provision

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"highwayhub/voice/internal/call"
	"highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/types"
)

const (
	ErrRequest  errors.Code = "provisioning request failed"
	ErrResponse errors.Code = "provisioning rejected"
	ErrPayload  errors.Code = "provisioning response incomplete"
)

const defaultTimeout = 10 * time.Second

// Client requests rooms and join credentials for one user.
type Client struct {
	http   *resty.Client
	userID string
	logger *log.Logger
}

var _ call.Provisioner = (*Client)(nil)

func New(baseURL, userID string, logger *log.Logger) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetTimeout(defaultTimeout),
		userID: userID,
		logger: logger,
	}
}

func (c *Client) RequestRoom(ctx context.Context) (string, error) {
	var out types.RoomResponse
	if err := c.post(ctx, "/voice/room", types.RoomRequest{UserID: c.userID}, &out); err != nil {
		return "", err
	}
	if out.RoomID == "" {
		return "", errors.New(ErrPayload, "room_id missing")
	}
	c.logger.Debug("Room assigned", log.String("room", out.RoomID))
	return out.RoomID, nil
}

func (c *Client) RequestCredential(ctx context.Context, req call.CredentialRequest) (call.Credential, error) {
	var out types.TokenResponse
	err := c.post(ctx, "/voice/token", types.TokenRequest{
		RoomID:      req.RoomID,
		UserID:      c.userID,
		DisplayName: req.DisplayName,
		IsOwner:     req.IsOwner,
	}, &out)
	if err != nil {
		return call.Credential{}, err
	}
	if out.RoomURL == "" || out.JoinToken == "" {
		return call.Credential{}, errors.New(ErrPayload, "room_url or join_token missing")
	}
	return call.Credential{RoomURL: out.RoomURL, Token: out.JoinToken}, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		ForceContentType("application/json").
		Post(path)
	if err != nil {
		return errors.Wrapf(ErrRequest, err, "POST %s", path)
	}
	if resp.IsError() {
		return errors.Status(ErrResponse, "POST", path, resp.StatusCode(), resp.String())
	}
	return nil
}

