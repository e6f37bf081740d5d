package call

import "context"

// Transport is the real-time media client a Controller drives. It is an
// application-lifetime handle: the controller never closes it.
//
// Join and Leave only start the operation; completion is reported through
// EventJoined, EventLeft or EventError carrying the attempt id.
type Transport interface {
	Join(ctx context.Context, opts JoinOptions) error
	Leave(ctx context.Context) error
	SetLocalAudio(ctx context.Context, enabled bool) error
	SetInputDevice(ctx context.Context, deviceID string) error
	SetOutputDevice(ctx context.Context, deviceID string) error
	// Participants is the transport's authoritative membership view.
	Participants() []Participant
	// AudioLevels is the latest level sample keyed by session id.
	AudioLevels() map[string]float64
	Subscribe(fn func(Event)) (unsubscribe func())
}
