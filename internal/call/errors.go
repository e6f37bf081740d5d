package call

import "highwayhub/voice/internal/errors"

const (
	ErrInvalidState  errors.Code = "invalid call state"
	ErrNoSession     errors.Code = "no active call session"
	ErrCanceled      errors.Code = "join canceled"
	ErrProvisioning  errors.Code = "call provisioning failed"
	ErrTransport     errors.Code = "call transport failed"
	ErrDeviceControl errors.Code = "device control failed"
	ErrPermission    errors.Code = "microphone permission denied"
)
