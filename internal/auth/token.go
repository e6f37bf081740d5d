package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"

	"highwayhub/voice/internal/errors"
)

const (
	defaultUsedTokens = 16384
	defaultSkew       = 30 * time.Second
)

// Claims is the payload of a hub join token.
type Claims struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"name"`
	IsOwner     bool   `json:"owner,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies single-use join tokens for hub rooms.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	skew   time.Duration
	clock  clockwork.Clock

	mu   sync.Mutex
	used *expirable.LRU[string, struct{}]
}

func NewIssuer(secret string, ttl time.Duration, clock clockwork.Clock) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New(ErrInvalidRequest, "token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.Newf(ErrInvalidRequest, "token ttl must be positive, got %s", ttl)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		skew:   defaultSkew,
		clock:  clock,
		// A used token id only has to be remembered until the token expires.
		used: expirable.NewLRU[string, struct{}](defaultUsedTokens, nil, ttl+defaultSkew),
	}, nil
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a join token for one user in one room.
func (i *Issuer) Issue(roomID, userID, displayName string, owner bool) (string, time.Time, error) {
	if roomID == "" || userID == "" {
		return "", time.Time{}, errors.New(ErrInvalidRequest, "roomID and userID are required")
	}

	now := i.clock.Now()
	exp := now.Add(i.ttl)
	claims := &Claims{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		IsOwner:     owner,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(ErrInvalidRequest, err, "sign join token")
	}
	return token, exp.Truncate(time.Second), nil
}

// Verify checks signature, expiry and room, then marks the token as used.
// A second Verify of the same token fails with ErrTokenReused.
func (i *Issuer) Verify(token, roomID string) (*Claims, error) {
	if token == "" {
		return nil, errors.New(ErrNoToken, "join token is empty")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.skew),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err, "parse join token")
	}
	if claims.RoomID == "" || claims.UserID == "" || claims.ID == "" {
		return nil, errors.New(ErrInvalidToken, "missing required fields in token")
	}
	if claims.RoomID != roomID {
		return nil, errors.Newf(ErrRoomMismatch, "token room %q, requested %q", claims.RoomID, roomID)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.used.Contains(claims.ID) {
		return nil, errors.Newf(ErrTokenReused, "token %s", claims.ID)
	}
	i.used.Add(claims.ID, struct{}{})
	return claims, nil
}
