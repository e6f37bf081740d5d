// Package daily is a small client for the Daily REST API: rooms and meeting
// tokens for the "daily" voice provider.
package daily

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/retry"
)

const (
	ErrRequest  errors.Code = "daily request failed"
	ErrResponse errors.Code = "daily returned an error"
	ErrNoToken  errors.Code = "daily returned no token"
)

const (
	DefaultBaseURL = "https://api.daily.co/v1"
	apiTimeout     = 10 * time.Second
)

type Client interface {
	// CreateRoom creates the room or accepts that it already exists.
	CreateRoom(ctx context.Context, name, privacy string, exp time.Time) error
	CreateMeetingToken(ctx context.Context, req TokenRequest) (string, error)
}

type TokenRequest struct {
	RoomName string
	UserName string
	UserID   string
	IsOwner  bool
	Exp      time.Time
}

type HTTPClient struct {
	http   *resty.Client
	retry  retry.Retry
	logger *log.Logger
}

// NewClient returns a client for baseURL, DefaultBaseURL when empty. Calls
// are retried by r on transport errors and 5xx/429 responses.
func NewClient(apiKey, baseURL string, r retry.Retry, logger *log.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetAuthToken(apiKey).
			SetHeader("Content-Type", "application/json").
			SetTimeout(apiTimeout),
		retry:  r,
		logger: logger,
	}
}

func (c *HTTPClient) CreateRoom(ctx context.Context, name, privacy string, exp time.Time) error {
	body := map[string]any{
		"name":    name,
		"privacy": privacy,
	}
	if !exp.IsZero() {
		body["properties"] = map[string]any{"exp": exp.Unix()}
	}

	if err := c.post(ctx, "/rooms", body, nil, roomExists); err != nil {
		return err
	}
	c.logger.Debug("Daily room ready", log.String("room", name))
	return nil
}

func (c *HTTPClient) CreateMeetingToken(ctx context.Context, req TokenRequest) (string, error) {
	props := map[string]any{
		"room_name": req.RoomName,
		"user_name": req.UserName,
		"is_owner":  req.IsOwner,
	}
	if req.UserID != "" {
		props["user_id"] = req.UserID
	}
	if !req.Exp.IsZero() {
		props["exp"] = req.Exp.Unix()
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/meeting-tokens", map[string]any{"properties": props}, &parsed, nil); err != nil {
		return "", err
	}
	if parsed.Token == "" {
		return "", errors.New(ErrNoToken, "create meeting token")
	}
	return parsed.Token, nil
}

// post sends body to path under the retry policy. tolerate may accept an
// error response as success.
func (c *HTTPClient) post(ctx context.Context, path string, body, result any, tolerate func(*resty.Response) bool) error {
	return c.retry.Do(ctx, "POST "+path, func() error {
		req := c.http.R().SetContext(ctx).SetBody(body)
		if result != nil {
			req.SetResult(result).ForceContentType("application/json")
		}
		resp, err := req.Post(path)
		if err != nil {
			metricRequests.WithLabelValues(path, "transport_error").Inc()
			return errors.Wrapf(ErrRequest, err, "POST %s", path)
		}
		if resp.IsError() {
			if tolerate != nil && tolerate(resp) {
				metricRequests.WithLabelValues(path, "exists").Inc()
				return nil
			}
			metricRequests.WithLabelValues(path, "http_"+strconv.Itoa(resp.StatusCode())).Inc()
			err := errors.Status(ErrResponse, "POST", path, resp.StatusCode(), resp.String())
			if !retryable(resp.StatusCode()) {
				return retry.Permanent(err)
			}
			return retry.After(err, retryAfter(resp))
		}
		metricRequests.WithLabelValues(path, "ok").Inc()
		return nil
	})
}

// roomExists matches Daily's answer to creating a room name that is taken.
func roomExists(resp *resty.Response) bool {
	if resp.StatusCode() == http.StatusConflict {
		return true
	}
	return resp.StatusCode() == http.StatusBadRequest && strings.Contains(resp.String(), "already exists")
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *resty.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header().Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
