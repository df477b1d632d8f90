package transport

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smazurov/relaynode/internal/process"
	"github.com/smazurov/relaynode/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTranscoder struct {
	destination string
	hooks       process.Hooks
	pid         int

	once   sync.Once
	mu     sync.Mutex
	killed bool
	ended  bool
	chunks []string
}

func (f *fakeTranscoder) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killed || f.ended {
		return 0, errors.New("file already closed")
	}
	f.chunks = append(f.chunks, string(p))
	return len(p), nil
}

func (f *fakeTranscoder) Writable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.killed && !f.ended
}

func (f *fakeTranscoder) Kill() {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	f.fire(process.Exit{PID: f.pid, Code: -1, Intentional: true})
}

func (f *fakeTranscoder) PID() int { return f.pid }

func (f *fakeTranscoder) exit(code int) {
	f.mu.Lock()
	f.ended = true
	f.mu.Unlock()
	f.fire(process.Exit{PID: f.pid, Code: code})
}

func (f *fakeTranscoder) fire(e process.Exit) {
	f.once.Do(func() {
		if f.hooks.OnExit != nil {
			go f.hooks.OnExit(e)
		}
	})
}

func (f *fakeTranscoder) isKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

func (f *fakeTranscoder) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.chunks...)
}

type fakeLauncher struct {
	mu      sync.Mutex
	spawned []*fakeTranscoder
	fail    error
}

func (l *fakeLauncher) Launch(_, destination string, hooks process.Hooks) (relay.Transcoder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	f := &fakeTranscoder{destination: destination, hooks: hooks, pid: 2000 + len(l.spawned)}
	l.spawned = append(l.spawned, f)
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

type testServer struct {
	launcher *fakeLauncher
	registry *relay.Registry
	handler  *Handler
	server   *httptest.Server
}

func newTestServer(t *testing.T, configure func(*Options)) *testServer {
	t.Helper()
	launcher := &fakeLauncher{}
	registry := relay.NewRegistry(relay.RegistryOptions{
		Launcher:           launcher,
		Logger:             testLogger(),
		MaxRestartAttempts: 3,
	})
	opts := Options{Registry: registry, Logger: testLogger()}
	if configure != nil {
		configure(&opts)
	}
	handler := NewHandler(opts)
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		handler.CloseAll()
		server.Close()
		registry.StopAll()
	})
	return &testServer{launcher: launcher, registry: registry, handler: handler, server: server}
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http")
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(ts.url(), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendText(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func sendBinary(t *testing.T, ws *websocket.Conn, data []byte) {
	t.Helper()
	if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readReply(t *testing.T, ws *websocket.Conn) Reply {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r Reply
	if err := ws.ReadJSON(&r); err != nil {
		t.Fatalf("read reply failed: %v", err)
	}
	return r
}

func expectReply(t *testing.T, ws *websocket.Conn, wantType string) Reply {
	t.Helper()
	r := readReply(t, ws)
	if r.Type != wantType {
		t.Fatalf("reply = %+v, want type %q", r, wantType)
	}
	return r
}

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
