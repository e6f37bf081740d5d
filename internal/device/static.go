package device

import (
	"context"

	"highwayhub/voice/internal/call"
)

// Static is a fixed device list for headless hosts and tests.
type Static struct {
	List []call.Device
	// PermissionErr is returned by RequestPermission when set.
	PermissionErr error
}

var _ call.DeviceSource = (*Static)(nil)

func (s *Static) RequestPermission(context.Context) error { return s.PermissionErr }

func (s *Static) Devices(context.Context) ([]call.Device, error) {
	return append([]call.Device(nil), s.List...), nil
}

func (s *Static) Watch(func()) (func(), error) { return func() {}, nil }
