package types

import "time"

// Message type strings exchanged over the live channel.
const (
	// Client -> server.
	MsgPlaybackUpdate = "playback_update"

	// Server -> client.
	MsgPlaybackStateUpdate = "playback_state_update"
	MsgControlledElsewhere = "playback_controlled_elsewhere"
	MsgDeviceSwitched      = "device_switched"
)

// ServerTimestamp is a sentinel for timestamp fields. The store replaces it
// with its own clock at write time, so clients never stamp authoritative
// times themselves.
const ServerTimestamp int64 = -1

// Device is one registered playback endpoint (phone, tab, speaker) for a user.
// Devices are never implicitly deleted; staleness is advisory, see IsLive.
type Device struct {
	DeviceID        string `json:"device_id"`
	UserID          string `json:"user_id"`
	Name            string `json:"name"`
	Platform        string `json:"platform"`
	UserAgent       string `json:"user_agent,omitempty"`
	RegisteredAt    int64  `json:"registered_at"`
	LastHeartbeatAt int64  `json:"last_heartbeat_at"`
}

// IsLive reports whether the device heartbeated within timeout of now.
// Liveness is advisory only; it never affects write authority.
func (d Device) IsLive(now time.Time, timeout time.Duration) bool {
	last := time.UnixMilli(d.LastHeartbeatAt)
	return now.Sub(last) < timeout
}

// DeviceView is a Device annotated for listing responses.
type DeviceView struct {
	Device
	IsLive bool `json:"is_live"`
	Active bool `json:"active"`
}

// DeviceMetadata is the client-supplied portion of a device record.
type DeviceMetadata struct {
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	UserAgent string `json:"user_agent,omitempty"`
}

// PlaybackState is the single shared playback resource per user. Only the
// active device may write it; the gateway enforces that, not the store.
type PlaybackState struct {
	TrackID     string  `json:"track_id"`
	PositionSec float64 `json:"position_sec"`
	IsPlaying   bool    `json:"is_playing"`
	UpdatedAt   int64   `json:"updated_at"`
}

// PlaybackUpdate is a partial mutation proposed by a device. Nil fields are
// left untouched when merged into the current state.
type PlaybackUpdate struct {
	TrackID     *string  `json:"track_id,omitempty"`
	PositionSec *float64 `json:"position_sec,omitempty"`
	IsPlaying   *bool    `json:"is_playing,omitempty"`
}

// ClientMessage is what a connection sends over the socket. Device identity
// is asserted per message, not bound to the socket.
type ClientMessage struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"device_id,omitempty"`
	State    *PlaybackUpdate `json:"state,omitempty"`
	Data     map[string]any  `json:"data,omitempty"`
}

// ServerMessage is what the server fans out to connections.
type ServerMessage struct {
	Type           string         `json:"type"`
	State          *PlaybackState `json:"state,omitempty"`
	ActiveDeviceID string         `json:"active_device_id,omitempty"`
	Message        string         `json:"message,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}
