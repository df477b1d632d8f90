package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/metrics"
	"github.com/smazurov/relaynode/internal/process"
)

// DefaultMaxRestartAttempts bounds automatic restarts per destination.
const DefaultMaxRestartAttempts = 3

// Transcoder is a running subprocess that accepts media on its input.
type Transcoder interface {
	// Write blocks while the transcoder cannot accept more data.
	Write(p []byte) (int, error)
	Writable() bool
	// Kill force-terminates and returns once the exit has been observed.
	Kill()
	PID() int
}

// Launcher spawns a transcoder bound to destination. hooks must be attached
// to the spawned process so crashes reach the session.
type Launcher interface {
	Launch(sessionID, destination string, hooks process.Hooks) (Transcoder, error)
}

// NoticeKind classifies asynchronous session notices.
type NoticeKind string

// Notice kinds.
const (
	// NoticeDrainFailed: a write failed and the pending queue was dropped.
	NoticeDrainFailed NoticeKind = "drain-failed"
	// NoticeRestarted: the transcoder crashed and was respawned.
	NoticeRestarted NoticeKind = "restarted"
	// NoticeRestartsExhausted: the transcoder kept crashing and the stream was abandoned.
	NoticeRestartsExhausted NoticeKind = "restarts-exhausted"
	// NoticeEnded: the transcoder exited cleanly on its own.
	NoticeEnded NoticeKind = "ended"
)

// Notice reports something that happened to a session outside of a client call.
type Notice struct {
	Kind        NoticeKind
	StreamID    string
	Destination string
	Attempt     int
	Err         error
}

// Options configures a Session.
type Options struct {
	ID                 string // generated when empty
	RemoteAddr         string
	Launcher           Launcher
	MaxRestartAttempts int           // <= 0 means DefaultMaxRestartAttempts
	RestartDelay       time.Duration // pause before respawning a crashed transcoder
	Logger             *slog.Logger
	Bus                *events.Bus // optional
	OnNotice           func(Notice)
}

// Session owns at most one transcoder and the queue of chunks headed for it.
//
// All state is guarded by mu. Media is written by a single drain goroutine per
// transcoder generation; gen changes whenever the transcoder is torn down, so
// stale drains and stale exit notifications recognise themselves and back off.
type Session struct {
	id         string
	remoteAddr string
	launcher   Launcher
	logger     *slog.Logger
	bus        *events.Bus
	onNotice   func(Notice)
	createdAt  time.Time

	mu              sync.Mutex
	state           State
	closed          bool
	streamID        string
	destination     string
	restartAttempts int
	maxRestarts     int
	restartDelay    time.Duration
	queue           queue
	queueShrunk     chan struct{} // closed and replaced whenever the queue shrinks
	draining        bool
	proc            Transcoder
	gen             uint64
	streamStartedAt time.Time
	restartTimer    *time.Timer
	pending         []Notice
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRestarts := opts.MaxRestartAttempts
	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestartAttempts
	}

	return &Session{
		id:           id,
		remoteAddr:   opts.RemoteAddr,
		launcher:     opts.Launcher,
		logger:       logger.With("session_id", id),
		bus:          opts.Bus,
		onNotice:     opts.OnNotice,
		createdAt:    time.Now(),
		state:        StateIdle,
		maxRestarts:  maxRestarts,
		restartDelay: opts.RestartDelay,
		queueShrunk:  make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// SetRestartPolicy changes the restart bound and delay. It applies to crashes
// observed from now on.
func (s *Session) SetRestartPolicy(maxAttempts int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRestartAttempts
	}
	s.maxRestarts = maxAttempts
	s.restartDelay = delay
}

// Start tears down any current transcoder and spawns a new one bound to
// destination. It returns as soon as the subprocess exists; sink readiness is
// not awaited.
func (s *Session) Start(destination string) (string, error) {
	s.mu.Lock()
	defer s.unlock()
	return s.startLocked("start", destination, metrics.ReasonStart)
}

// Switch moves the stream to a new destination. Chunks queued for the old
// transcoder are discarded and never reach the new one.
func (s *Session) Switch(destination string) (string, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.closed || s.state == StateShuttingDown {
		return "", &Error{Op: "switch", Destination: destination, Cause: ErrShuttingDown}
	}
	if destination == "" {
		return "", &Error{Op: "switch", Cause: ErrNoDestination}
	}
	from := s.destination
	s.state = StateSwitching
	s.teardownLocked()

	id, err := s.startLocked("switch", destination, metrics.ReasonSwitch)
	if err == nil {
		s.logger.Info("Stream switched", "from", from, "to", destination, "stream_id", id)
	}
	return id, err
}

// Stop releases the transcoder and resets the session to Idle. Safe to call
// any number of times.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.unlock()
	s.stopLocked()
}

// Close stops the session for good. Later starts fail with ErrShuttingDown.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.unlock()
	s.stopLocked()
	s.closed = true
}

// ProcessChunk queues chunk for the transcoder and schedules a drain. It
// returns false without queueing when there is no writable transcoder or the
// session is shutting down. The session takes ownership of chunk.
func (s *Session) ProcessChunk(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateActive || s.proc == nil || !s.proc.Writable() {
		metrics.ChunksAdd(metrics.ChunkRejected, 1)
		return false
	}

	s.queue.push(chunk)
	metrics.ChunksAdd(metrics.ChunkAccepted, 1)

	if !s.draining {
		s.draining = true
		go s.drain(s.gen, s.proc)
	}
	return true
}

// WaitQueueBelow blocks until fewer than n chunks are queued or ctx is done.
// Producers that can outrun the transcoder use it to keep the queue bounded.
func (s *Session) WaitQueueBelow(ctx context.Context, n int) error {
	for {
		s.mu.Lock()
		if s.queue.len() < n {
			s.mu.Unlock()
			return nil
		}
		shrunk := s.queueShrunk
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-shrunk:
		}
	}
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:              s.id,
		RemoteAddr:      s.remoteAddr,
		State:           s.state,
		StreamID:        s.streamID,
		Destination:     s.destination,
		RestartAttempts: s.restartAttempts,
		QueuedChunks:    s.queue.len(),
		QueuedBytes:     s.queue.size(),
		CreatedAt:       s.createdAt,
		StreamStartedAt: s.streamStartedAt,
	}
	if s.proc != nil {
		info.PID = s.proc.PID()
	}
	return info
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// startLocked implements start and the tail of switch.
func (s *Session) startLocked(op, destination, reason string) (string, error) {
	if s.closed || s.state == StateShuttingDown {
		return "", &Error{Op: op, Destination: destination, Cause: ErrShuttingDown}
	}
	if destination == "" {
		return "", &Error{Op: op, Cause: ErrNoDestination}
	}

	s.teardownLocked()
	s.state = StateStarting
	s.streamID = uuid.NewString()
	s.restartAttempts = 0
	s.destination = destination

	if err := s.spawnLocked(reason); err != nil {
		s.resetLocked()
		s.logger.Error("Failed to start stream", "action", op, "destination", destination, "error", err)
		return "", &Error{Op: op, Destination: destination, Cause: err}
	}

	s.logger.Info("Stream started", "action", op, "destination", destination, "stream_id", s.streamID)
	return s.streamID, nil
}

// spawnLocked launches a transcoder for the current destination and generation.
func (s *Session) spawnLocked(reason string) error {
	if s.launcher == nil {
		metrics.SpawnFailed()
		return fmt.Errorf("%w: no launcher configured", ErrSpawnFailed)
	}

	gen := s.gen
	proc, err := s.launcher.Launch(s.id, s.destination, process.Hooks{
		OnError: func(err error) { s.handleCrash(gen, -1, err) },
		OnExit:  func(exit process.Exit) { s.handleExit(gen, exit) },
	})
	if err != nil {
		metrics.SpawnFailed()
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	s.proc = proc
	s.state = StateActive
	s.streamStartedAt = time.Now()
	metrics.StreamStarted(reason)
	s.publish(events.StreamStartedEvent{
		SessionID:   s.id,
		StreamID:    s.streamID,
		Destination: s.destination,
		Reason:      reason,
		Attempt:     s.restartAttempts,
		Timestamp:   timestamp(),
	})
	return nil
}

// teardownLocked kills the transcoder and discards the queue. Any drain or
// exit notification belonging to the old generation becomes stale.
func (s *Session) teardownLocked() {
	s.gen++
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	if dropped := s.queue.clear(); dropped > 0 {
		metrics.ChunksAdd(metrics.ChunkDropped, dropped)
		s.signalQueueLocked()
	}
	s.draining = false

	if s.proc != nil {
		proc := s.proc
		s.proc = nil
		proc.Kill()
	}
}

// resetLocked returns the session to Idle with no stream.
func (s *Session) resetLocked() {
	s.teardownLocked()
	s.state = StateIdle
	s.streamID = ""
	s.destination = ""
	s.restartAttempts = 0
	s.streamStartedAt = time.Time{}
}

func (s *Session) stopLocked() {
	destination := s.destination
	hadStream := s.proc != nil || destination != ""

	s.state = StateShuttingDown
	s.resetLocked()

	if hadStream {
		s.logger.Info("Stream stopped", "destination", destination)
		s.publish(events.StreamStoppedEvent{
			SessionID:   s.id,
			Destination: destination,
			Timestamp:   timestamp(),
		})
	}
}

// drain writes queued chunks in order until the queue is empty. The write
// blocks while the transcoder's input pipe is full.
func (s *Session) drain(gen uint64, proc Transcoder) {
	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		chunk, ok := s.queue.pop()
		if !ok {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.signalQueueLocked()
		s.mu.Unlock()

		n, err := proc.Write(chunk)
		if err != nil {
			s.drainFailed(gen, err)
			return
		}
		metrics.ChunksAdd(metrics.ChunkWritten, 1)
		metrics.BytesWritten(n)
	}
}

// drainFailed drops the failed chunk together with everything queued behind it.
func (s *Session) drainFailed(gen uint64, err error) {
	s.mu.Lock()
	defer s.unlock()

	if s.gen != gen {
		// Torn down while the write was pending; the queue is already gone.
		metrics.ChunksAdd(metrics.ChunkDropped, 1)
		return
	}

	dropped := 1 + s.queue.clear()
	s.draining = false
	s.signalQueueLocked()
	metrics.ChunksAdd(metrics.ChunkDropped, dropped)

	s.logger.Warn("Write to transcoder failed, dropped pending chunks",
		"destination", s.destination, "dropped", dropped, "error", err)
	s.publish(events.QueueDroppedEvent{
		SessionID: s.id,
		Chunks:    dropped,
		Error:     err.Error(),
		Timestamp: timestamp(),
	})
	s.pending = append(s.pending, Notice{
		Kind:        NoticeDrainFailed,
		StreamID:    s.streamID,
		Destination: s.destination,
		Err:         fmt.Errorf("write failed, %d chunks dropped: %w", dropped, err),
	})
}

// handleExit is the exit observer for the transcoder of generation gen.
func (s *Session) handleExit(gen uint64, exit process.Exit) {
	if exit.Unexpected() {
		s.handleCrash(gen, exit.Code, exit.Err)
		return
	}

	s.mu.Lock()
	defer s.unlock()
	if s.gen != gen || exit.Intentional {
		return
	}

	destination, streamID := s.destination, s.streamID
	s.logger.Info("Transcoder exited", "destination", destination, "exit_code", exit.Code)
	s.resetLocked()
	s.pending = append(s.pending, Notice{Kind: NoticeEnded, StreamID: streamID, Destination: destination})
}

// handleCrash applies the bounded restart policy. Only the first report for a
// generation counts; the teardown it performs makes later reports stale.
func (s *Session) handleCrash(gen uint64, code int, cause error) {
	s.mu.Lock()
	defer s.unlock()

	if s.gen != gen || s.closed || s.state == StateShuttingDown {
		return
	}

	destination := s.destination
	s.logger.Warn("Transcoder crashed", "destination", destination, "exit_code", code,
		"attempt", s.restartAttempts, "max_attempts", s.maxRestarts, "error", cause)
	metrics.StreamCrashed()

	crashed := events.StreamCrashedEvent{
		SessionID:   s.id,
		Destination: destination,
		ExitCode:    code,
		Timestamp:   timestamp(),
	}
	if cause != nil {
		crashed.Error = cause.Error()
	}
	s.publish(crashed)

	s.teardownLocked()

	if s.restartAttempts >= s.maxRestarts {
		s.giveUpLocked(cause)
		return
	}

	s.restartAttempts++
	s.state = StateStarting

	if s.restartDelay <= 0 {
		s.restartLocked()
		return
	}

	restartGen := s.gen
	s.restartTimer = time.AfterFunc(s.restartDelay, func() {
		s.mu.Lock()
		defer s.unlock()
		if s.gen != restartGen || s.state != StateStarting {
			return
		}
		s.restartTimer = nil
		s.restartLocked()
	})
}

func (s *Session) restartLocked() {
	attempt := s.restartAttempts
	s.logger.Info("Restarting transcoder", "destination", s.destination,
		"attempt", attempt, "max_attempts", s.maxRestarts)

	if err := s.spawnLocked(metrics.ReasonRestart); err != nil {
		s.logger.Error("Restart failed", "destination", s.destination, "attempt", attempt, "error", err)
		s.giveUpLocked(err)
		return
	}
	s.pending = append(s.pending, Notice{
		Kind:        NoticeRestarted,
		StreamID:    s.streamID,
		Destination: s.destination,
		Attempt:     attempt,
	})
}

// giveUpLocked leaves the session Idle until the next explicit start or switch.
func (s *Session) giveUpLocked(cause error) {
	s.state = StateStopping
	destination, streamID, attempts := s.destination, s.streamID, s.restartAttempts

	s.logger.Error("Transcoder keeps failing, giving up", "destination", destination, "attempts", attempts, "error", cause)
	metrics.RestartsExhausted()
	s.publish(events.StreamFailedEvent{
		SessionID:   s.id,
		Destination: destination,
		Attempts:    attempts,
		Timestamp:   timestamp(),
	})

	err := fmt.Errorf("transcoder failed after %d restart attempts", attempts)
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	s.pending = append(s.pending, Notice{
		Kind:        NoticeRestartsExhausted,
		StreamID:    streamID,
		Destination: destination,
		Attempt:     attempts,
		Err:         err,
	})

	s.resetLocked()
}

// signalQueueLocked wakes every WaitQueueBelow caller.
func (s *Session) signalQueueLocked() {
	close(s.queueShrunk)
	s.queueShrunk = make(chan struct{})
}

// unlock releases mu and then delivers notices queued while it was held, so
// the notice handler never runs under the session lock.
func (s *Session) unlock() {
	notices := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.onNotice == nil {
		return
	}
	for _, n := range notices {
		s.deliver(n)
	}
}

func (s *Session) deliver(n Notice) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Notice handler panicked", "kind", n.Kind, "panic", r)
		}
	}()
	s.onNotice(n)
}

func (s *Session) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func timestamp() string {
	return time.Now().Format(time.RFC3339)
}
