package models

import (
	"time"

	"github.com/smazurov/relaynode/internal/metrics"
)

// Health check models
type HealthData struct {
	Status   string `json:"status" example:"ok" doc:"Service status"`
	Message  string `json:"message" example:"API is healthy" doc:"Status message"`
	Sessions int    `json:"sessions" example:"2" doc:"Number of connected relay sessions"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Session models
type SessionData struct {
	SessionID       string                       `json:"session_id" example:"3f1c2a9e-7d7b-4c1e-9d2f-0a3b4c5d6e7f" doc:"Session identifier"`
	RemoteAddr      string                       `json:"remote_addr,omitempty" example:"192.168.1.20:53211" doc:"Client address"`
	State           string                       `json:"state" enum:"idle,starting,active,switching,stopping,shutting_down" example:"active" doc:"Stream lifecycle state"`
	StreamID        string                       `json:"stream_id,omitempty" example:"9b2e7c4d-1f3a-4d5e-8f6a-7b8c9d0e1f2a" doc:"Current stream identifier"`
	Destination     string                       `json:"destination,omitempty" example:"srt://ingest.example:9000" doc:"Sink the transcoder writes to"`
	RestartAttempts int                          `json:"restart_attempts" example:"0" doc:"Automatic restarts used for the current destination"`
	QueuedChunks    int                          `json:"queued_chunks" example:"0" doc:"Media chunks waiting for the transcoder"`
	QueuedBytes     int                          `json:"queued_bytes" example:"0" doc:"Bytes waiting for the transcoder"`
	PID             int                          `json:"pid,omitempty" example:"41234" doc:"Transcoder process ID"`
	ConnectedAt     time.Time                    `json:"connected_at" doc:"When the client connected"`
	StreamStartedAt *time.Time                   `json:"stream_started_at,omitempty" doc:"When the current transcoder was spawned"`
	Uptime          time.Duration                `json:"uptime,omitempty" example:"3600000000000" doc:"Transcoder uptime in nanoseconds"`
	Transcoder      *metrics.FFmpegStreamMetrics `json:"transcoder,omitempty" doc:"Latest transcoder progress figures"`
}

type SessionListData struct {
	Sessions []SessionData `json:"sessions" doc:"Connected relay sessions"`
	Count    int           `json:"count" example:"2" doc:"Number of sessions"`
}

type SessionListResponse struct {
	Body SessionListData
}

type SessionResponse struct {
	Body SessionData
}

// Log models
type LogEntryData struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Buffer sequence number"`
	Timestamp  time.Time      `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"relay" doc:"Module name"`
	Message    string         `json:"message" example:"Stream started" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

type LogListData struct {
	Entries []LogEntryData `json:"entries" doc:"Most recent log entries, oldest first"`
	Count   int            `json:"count" example:"100" doc:"Number of entries returned"`
}

type LogListResponse struct {
	Body LogListData
}
