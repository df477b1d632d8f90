package events

// Event type constants for kelindar/event.
const (
	TypeSessionOpened uint32 = iota + 1
	TypeSessionClosed
	TypeStreamStarted
	TypeStreamStopped
	TypeStreamCrashed
	TypeStreamFailed
	TypeQueueDropped
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionOpenedEvent is published when a client connection gets a session.
type SessionOpenedEvent struct {
	SessionID  string `json:"session_id" example:"3f1c2a9e-7d7b-4c1e-9d2f-0a3b4c5d6e7f" doc:"Session identifier"`
	RemoteAddr string `json:"remote_addr" example:"192.168.1.20:53211" doc:"Client address"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionOpenedEvent.
func (e SessionOpenedEvent) Type() uint32 { return TypeSessionOpened }

// SessionClosedEvent is published when a client connection goes away.
type SessionClosedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionClosedEvent.
func (e SessionClosedEvent) Type() uint32 { return TypeSessionClosed }

// StreamStartedEvent is published every time a transcoder is spawned.
type StreamStartedEvent struct {
	SessionID   string `json:"session_id" doc:"Session identifier"`
	StreamID    string `json:"stream_id" doc:"Stream identifier handed to the client"`
	Destination string `json:"destination" example:"srt://ingest.local:9000" doc:"Sink address"`
	Reason      string `json:"reason" example:"start" doc:"start, switch or restart"`
	Attempt     int    `json:"attempt" example:"0" doc:"Restart attempt for restarts, 0 otherwise"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStartedEvent.
func (e StreamStartedEvent) Type() uint32 { return TypeStreamStarted }

// StreamStoppedEvent is published when a session is stopped explicitly.
type StreamStoppedEvent struct {
	SessionID   string `json:"session_id" doc:"Session identifier"`
	Destination string `json:"destination,omitempty" doc:"Sink address that was active, if any"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStoppedEvent.
func (e StreamStoppedEvent) Type() uint32 { return TypeStreamStopped }

// StreamCrashedEvent is published when a transcoder exits unexpectedly.
type StreamCrashedEvent struct {
	SessionID   string `json:"session_id" doc:"Session identifier"`
	Destination string `json:"destination" doc:"Sink address"`
	ExitCode    int    `json:"exit_code" example:"1" doc:"Transcoder exit code, -1 when killed by a signal"`
	Error       string `json:"error,omitempty" doc:"I/O error, if the crash was not a plain exit"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamCrashedEvent.
func (e StreamCrashedEvent) Type() uint32 { return TypeStreamCrashed }

// StreamFailedEvent is published when a destination is given up on after
// the restart bound was reached.
type StreamFailedEvent struct {
	SessionID   string `json:"session_id" doc:"Session identifier"`
	Destination string `json:"destination" doc:"Sink address"`
	Attempts    int    `json:"attempts" example:"3" doc:"Restart attempts made"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamFailedEvent.
func (e StreamFailedEvent) Type() uint32 { return TypeStreamFailed }

// QueueDroppedEvent is published when a write failure discards pending chunks.
type QueueDroppedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Chunks    int    `json:"chunks" example:"12" doc:"Number of chunks discarded"`
	Error     string `json:"error" doc:"Write error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for QueueDroppedEvent.
func (e QueueDroppedEvent) Type() uint32 { return TypeQueueDropped }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"relay" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
