package relay

import "time"

// State represents the lifecycle state of a session's stream.
type State string

// Session states.
const (
	StateIdle         State = "idle"          // No transcoder
	StateStarting     State = "starting"      // Spawning, or waiting to respawn after a crash
	StateActive       State = "active"        // Transcoder running and accepting media
	StateSwitching    State = "switching"     // Tearing down for a new destination
	StateStopping     State = "stopping"      // Giving up after repeated crashes
	StateShuttingDown State = "shutting_down" // Explicit stop in progress
)

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID              string    `json:"id"`
	RemoteAddr      string    `json:"remote_addr,omitempty"`
	State           State     `json:"state"`
	StreamID        string    `json:"stream_id,omitempty"`
	Destination     string    `json:"destination,omitempty"`
	RestartAttempts int       `json:"restart_attempts"`
	QueuedChunks    int       `json:"queued_chunks"`
	QueuedBytes     int       `json:"queued_bytes"`
	PID             int       `json:"pid,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StreamStartedAt time.Time `json:"stream_started_at,omitzero"`
}
