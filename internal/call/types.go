package call

import "time"

// State is the lifecycle state of the single call a Controller manages.
type State string

const (
	StateIdle    State = "idle"
	StateJoining State = "joining"
	StateJoined  State = "joined"
	StateLeaving State = "leaving"
	StateLeft    State = "left"
)

// DefaultDevice selects whatever the host considers the default device.
const DefaultDevice = "default"

// DefaultLevelThreshold is the level rendered at full intensity.
const DefaultLevelThreshold = 0.08

type Participant struct {
	SessionID    string
	DisplayName  string
	AudioEnabled bool
	Local        bool
}

type DeviceKind string

const (
	DeviceInput  DeviceKind = "input"
	DeviceOutput DeviceKind = "output"
)

// Device is an audio device reported by the host. Label may be empty until
// microphone permission has been granted.
type Device struct {
	ID    string
	Kind  DeviceKind
	Label string
}

// Selection tracks a device choice in two phases. Staged is what the user
// picked; Confirmed is what the transport acknowledged for the live call.
type Selection struct {
	Staged    string
	Confirmed string
}

func defaultSelection() Selection {
	return Selection{Staged: DefaultDevice, Confirmed: DefaultDevice}
}

// Snapshot is a copy of the controller state safe to hand to UI code.
type Snapshot struct {
	// Seq grows with every published change; a subscriber never sees it go
	// backwards.
	Seq           uint64
	State         State
	RoomURL       string
	Participants  map[string]Participant
	Levels        map[string]float64
	LevelsAt      time.Time
	Threshold     float64
	Muted         bool
	MicPermission bool
	InputDevices  []Device
	OutputDevices []Device
	Input         Selection
	Output        Selection
}

// Intensity is the normalized visual intensity for a participant's last
// level sample. Stale samples are not decayed here; callers that render
// should fade them out based on LevelsAt.
func (s Snapshot) Intensity(sessionID string) float64 {
	return Intensity(s.Levels[sessionID], s.Threshold)
}

type EventKind string

const (
	EventJoined             EventKind = "joined"
	EventLeft               EventKind = "left"
	EventParticipantJoined  EventKind = "participant-joined"
	EventParticipantUpdated EventKind = "participant-updated"
	EventParticipantLeft    EventKind = "participant-left"
	EventError              EventKind = "error"
	EventAudioLevels        EventKind = "audio-level-sample"
)

// Event is emitted by a Transport. AttemptID echoes JoinOptions.AttemptID of
// the join the event belongs to.
type Event struct {
	Kind      EventKind
	AttemptID string
	Levels    map[string]float64
	Err       error
}

type JoinOptions struct {
	AttemptID string
	URL       string
	Token     string
	// InputDeviceID is empty for an unconstrained default microphone. It is
	// a hint for transports that open the microphone while connecting; the
	// controller confirms the device with SetInputDevice after EventJoined.
	InputDeviceID string
}

type CredentialRequest struct {
	RoomID      string
	DisplayName string
	IsOwner     bool
}

type Credential struct {
	RoomURL string
	Token   string
}

type NotificationLevel string

const (
	NotifyInfo    NotificationLevel = "info"
	NotifyWarning NotificationLevel = "warning"
	NotifyError   NotificationLevel = "error"
)

// Notification is a transient, non-blocking message for the user.
type Notification struct {
	Level   NotificationLevel
	Message string
	Err     error
}
