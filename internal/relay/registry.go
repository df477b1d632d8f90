package relay

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/metrics"
)

// Registry creates and tracks the live sessions of a server.
type Registry struct {
	launcher Launcher
	bus      *events.Bus
	logger   *slog.Logger

	mu           sync.RWMutex
	sessions     map[string]*Session
	maxRestarts  int
	restartDelay time.Duration
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Launcher           Launcher
	Bus                *events.Bus
	Logger             *slog.Logger
	MaxRestartAttempts int
	RestartDelay       time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		launcher:     opts.Launcher,
		bus:          opts.Bus,
		logger:       logger,
		sessions:     make(map[string]*Session),
		maxRestarts:  opts.MaxRestartAttempts,
		restartDelay: opts.RestartDelay,
	}
}

// Open creates a session for a new connection.
func (r *Registry) Open(remoteAddr string, onNotice func(Notice)) *Session {
	r.mu.Lock()
	s := NewSession(Options{
		RemoteAddr:         remoteAddr,
		Launcher:           r.launcher,
		MaxRestartAttempts: r.maxRestarts,
		RestartDelay:       r.restartDelay,
		Logger:             r.logger,
		Bus:                r.bus,
		OnNotice:           onNotice,
	})
	r.sessions[s.ID()] = s
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionOpened()
	r.logger.Info("Session opened", "session_id", s.ID(), "remote_addr", remoteAddr, "sessions", count)
	if r.bus != nil {
		r.bus.Publish(events.SessionOpenedEvent{
			SessionID:  s.ID(),
			RemoteAddr: remoteAddr,
			Timestamp:  timestamp(),
		})
	}
	return s
}

// Close stops the session and forgets it. Unknown sessions are ignored.
func (r *Registry) Close(s *Session) {
	r.mu.Lock()
	_, ok := r.sessions[s.ID()]
	delete(r.sessions, s.ID())
	r.mu.Unlock()

	s.Close()
	metrics.DeleteFFmpegMetrics(s.ID())
	if !ok {
		return
	}

	metrics.SessionClosed()
	r.logger.Info("Session closed", "session_id", s.ID())
	if r.bus != nil {
		r.bus.Publish(events.SessionClosedEvent{SessionID: s.ID(), Timestamp: timestamp()})
	}
}

// Get returns a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns snapshots of all sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetRestartPolicy updates the policy for existing and future sessions.
func (r *Registry) SetRestartPolicy(maxAttempts int, delay time.Duration) {
	r.mu.Lock()
	r.maxRestarts = maxAttempts
	r.restartDelay = delay
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.SetRestartPolicy(maxAttempts, delay)
	}
	r.logger.Info("Restart policy updated", "max_attempts", maxAttempts, "delay", delay)
}

// StopAll closes every session. Called on shutdown.
func (r *Registry) StopAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Close(s)
		}()
	}
	wg.Wait()

	if len(sessions) > 0 {
		r.logger.Info("All sessions stopped", "count", len(sessions))
	}
}
