package relay

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/relaynode/internal/process"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTranscoder records writes and lets tests drive exits and flow control.
type fakeTranscoder struct {
	destination string
	hooks       process.Hooks
	pid         int

	killed   chan struct{}
	killOnce sync.Once
	exitOnce sync.Once
	exited   atomic.Bool

	mu       sync.Mutex
	written  []string
	gate     chan struct{} // writes wait until closed, when set
	writeErr error
}

func (f *fakeTranscoder) Write(p []byte) (int, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-f.killed:
			return 0, os.ErrClosed
		}
	}
	select {
	case <-f.killed:
		return 0, os.ErrClosed
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, string(p))
	return len(p), nil
}

func (f *fakeTranscoder) Writable() bool {
	select {
	case <-f.killed:
		return false
	default:
		return !f.exited.Load()
	}
}

func (f *fakeTranscoder) Kill() {
	f.killOnce.Do(func() {
		close(f.killed)
		f.fire(process.Exit{PID: f.pid, Code: -1, Intentional: true})
	})
}

func (f *fakeTranscoder) PID() int { return f.pid }

// exit simulates the subprocess ending on its own.
func (f *fakeTranscoder) exit(code int) {
	f.fire(process.Exit{PID: f.pid, Code: code})
}

// fire delivers a single exit notification from another goroutine, the way
// the process supervisor does.
func (f *fakeTranscoder) fire(exit process.Exit) {
	f.exitOnce.Do(func() {
		f.exited.Store(true)
		if f.hooks.OnExit != nil {
			go f.hooks.OnExit(exit)
		}
	})
}

func (f *fakeTranscoder) isKilled() bool {
	select {
	case <-f.killed:
		return true
	default:
		return false
	}
}

func (f *fakeTranscoder) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func (f *fakeTranscoder) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// fakeLauncher hands out fakeTranscoders and remembers every spawn.
type fakeLauncher struct {
	mu       sync.Mutex
	spawned  []*fakeTranscoder
	fail     error
	gate     chan struct{}
	onLaunch func(*fakeTranscoder)
}

func (l *fakeLauncher) Launch(_, destination string, hooks process.Hooks) (Transcoder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fail != nil {
		return nil, l.fail
	}
	f := &fakeTranscoder{
		destination: destination,
		hooks:       hooks,
		pid:         1000 + len(l.spawned),
		killed:      make(chan struct{}),
		gate:        l.gate,
	}
	l.spawned = append(l.spawned, f)
	if l.onLaunch != nil {
		l.onLaunch(f)
	}
	return f, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.spawned)
}

func (l *fakeLauncher) get(i int) *fakeTranscoder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spawned[i]
}

func (l *fakeLauncher) last() *fakeTranscoder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spawned[len(l.spawned)-1]
}

func (l *fakeLauncher) live() []*fakeTranscoder {
	l.mu.Lock()
	defer l.mu.Unlock()
	var live []*fakeTranscoder
	for _, f := range l.spawned {
		if !f.isKilled() && !f.exited.Load() {
			live = append(live, f)
		}
	}
	return live
}

func (l *fakeLauncher) set(fn func(l *fakeLauncher)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l)
}

// noticeLog collects session notices.
type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) add(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *noticeLog) count(kind NoticeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, notice := range n.notices {
		if notice.Kind == kind {
			c++
		}
	}
	return c
}

func (n *noticeLog) first(kind NoticeKind) (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, notice := range n.notices {
		if notice.Kind == kind {
			return notice, true
		}
	}
	return Notice{}, false
}

func newTestSession(t *testing.T, l *fakeLauncher) (*Session, *noticeLog) {
	t.Helper()
	notices := &noticeLog{}
	s := NewSession(Options{
		Launcher:           l,
		MaxRestartAttempts: 3,
		Logger:             testLogger(),
		OnNotice:           notices.add,
	})
	t.Cleanup(s.Close)
	return s, notices
}

// waitFor polls cond until it holds, failing the test after two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// settle gives stray goroutines a chance to act before asserting that
// something did not happen.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

var errBrokenPipe = errors.New("broken pipe")

func processExit(code int) process.Exit {
	return process.Exit{Code: code}
}
