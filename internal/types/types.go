package types

import "time"

// Event is one entry in a room's capped event log.
type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

type RoomRequest struct {
	UserID string `json:"user_id" binding:"required,max=128"`
}

type RoomResponse struct {
	RoomID string `json:"room_id"`
}

type TokenRequest struct {
	RoomID      string `json:"room_id" binding:"required,max=128"`
	UserID      string `json:"user_id" binding:"required,max=128"`
	DisplayName string `json:"display_name" binding:"required,max=64"`
	IsOwner     bool   `json:"is_owner"`
}

type TokenResponse struct {
	RoomURL   string    `json:"room_url"`
	JoinToken string    `json:"join_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Member is a participant as seen by the room hub.
type Member struct {
	SessionID    string `json:"session_id"`
	DisplayName  string `json:"display_name"`
	UserID       string `json:"user_id,omitempty"`
	AudioEnabled bool   `json:"audio_enabled"`
	IsOwner      bool   `json:"is_owner,omitempty"`
}

// Hub websocket message types.
const (
	MsgJoined             = "joined"
	MsgLeft               = "left"
	MsgParticipantJoined  = "participant-joined"
	MsgParticipantUpdated = "participant-updated"
	MsgParticipantLeft    = "participant-left"
	MsgAudioLevels        = "audio-levels"
	MsgAck                = "ack"
	MsgError              = "error"

	MsgSetAudio  = "set_audio"
	MsgSetDevice = "set_device"
	MsgLevel     = "level"
	MsgLeave     = "leave"
)

// Message is the envelope exchanged over the hub websocket in both directions.
type Message struct {
	Type      string             `json:"type"`
	TsMs      int64              `json:"ts_ms"`
	CommandID string             `json:"command_id,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Members   []Member           `json:"members,omitempty"`
	Levels    map[string]float64 `json:"levels,omitempty"`
	Enabled   *bool              `json:"enabled,omitempty"`
	Level     float64            `json:"level,omitempty"`
	DeviceID  string             `json:"device_id,omitempty"`
	Kind      string             `json:"kind,omitempty"`
	Error     string             `json:"error,omitempty"`
}
