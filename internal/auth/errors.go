package auth

import "highwayhub/voice/internal/errors"

const (
	ErrInvalidRequest errors.Code = "invalid token request"
	ErrNoToken        errors.Code = "missing join token"
	ErrInvalidToken   errors.Code = "invalid join token"
	ErrTokenReused    errors.Code = "join token already used"
	ErrRoomMismatch   errors.Code = "join token is for another room"
)
