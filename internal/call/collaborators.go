package call

import "context"

//go:generate mockgen -source=collaborators.go -destination=mocks_test.go -package=call -self_package=highwayhub/voice/internal/call

// Provisioner talks to the backend that hands out rooms and join credentials.
type Provisioner interface {
	RequestRoom(ctx context.Context) (string, error)
	RequestCredential(ctx context.Context, req CredentialRequest) (Credential, error)
}

// DeviceSource is the host's audio device enumeration.
type DeviceSource interface {
	RequestPermission(ctx context.Context) error
	Devices(ctx context.Context) ([]Device, error)
	// Watch calls onChange whenever the device list may have changed until
	// stop is called.
	Watch(onChange func()) (stop func(), err error)
}

type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}
