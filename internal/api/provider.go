package api

import (
	"context"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"highwayhub/voice/internal/auth"
	"highwayhub/voice/internal/daily"
	"highwayhub/voice/internal/types"
)

// Provider turns a validated token request into join credentials for the
// voice backend in use.
type Provider interface {
	Name() string
	Credential(ctx context.Context, req types.TokenRequest) (types.TokenResponse, error)
}

// HubProvider issues tokens for the built-in room hub.
type HubProvider struct {
	Issuer *auth.Issuer
	// PublicWSURL is the externally reachable ws(s):// base of this server.
	PublicWSURL string
}

func (p *HubProvider) Name() string { return "hub" }

func (p *HubProvider) Credential(_ context.Context, req types.TokenRequest) (types.TokenResponse, error) {
	tok, exp, err := p.Issuer.Issue(req.RoomID, req.UserID, req.DisplayName, req.IsOwner)
	if err != nil {
		return types.TokenResponse{}, err
	}
	return types.TokenResponse{
		RoomURL:   p.PublicWSURL + "/ws/rooms/" + url.PathEscape(req.RoomID),
		JoinToken: tok,
		ExpiresAt: exp,
	}, nil
}

// DailyProvider creates the Daily room on demand and hands out a meeting
// token for it.
type DailyProvider struct {
	Client   daily.Client
	Domain   string
	Privacy  string
	RoomTTL  time.Duration
	TokenTTL time.Duration
	Clock    clockwork.Clock
}

func (p *DailyProvider) Name() string { return "daily" }

func (p *DailyProvider) Credential(ctx context.Context, req types.TokenRequest) (types.TokenResponse, error) {
	now := p.Clock.Now()
	var roomExp time.Time
	if p.RoomTTL > 0 {
		roomExp = now.Add(p.RoomTTL)
	}
	if err := p.Client.CreateRoom(ctx, req.RoomID, p.Privacy, roomExp); err != nil {
		return types.TokenResponse{}, err
	}

	exp := now.Add(p.TokenTTL)
	tok, err := p.Client.CreateMeetingToken(ctx, daily.TokenRequest{
		RoomName: req.RoomID,
		UserName: req.DisplayName,
		UserID:   req.UserID,
		IsOwner:  req.IsOwner,
		Exp:      exp,
	})
	if err != nil {
		return types.TokenResponse{}, err
	}
	return types.TokenResponse{
		RoomURL:   "https://" + p.Domain + "/" + req.RoomID,
		JoinToken: tok,
		ExpiresAt: exp.UTC(),
	}, nil
}
