package api

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/relaynode/internal/api/models"
	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/logging"
	"github.com/smazurov/relaynode/internal/process"
	"github.com/smazurov/relaynode/internal/relay"
)

// stubTranscoder accepts and discards everything.
type stubTranscoder struct{ hooks process.Hooks }

func (s *stubTranscoder) Write(p []byte) (int, error) { return len(p), nil }
func (s *stubTranscoder) Writable() bool              { return true }
func (s *stubTranscoder) Kill()                       {}
func (s *stubTranscoder) PID() int                    { return 4242 }

type stubLauncher struct{}

func (stubLauncher) Launch(_, _ string, hooks process.Hooks) (relay.Transcoder, error) {
	return &stubTranscoder{hooks: hooks}, nil
}

func newTestAPI(t *testing.T, configure func(*Options)) (*Server, *relay.Registry, *httptest.Server) {
	t.Helper()
	bus := events.New()
	registry := relay.NewRegistry(relay.RegistryOptions{
		Launcher: stubLauncher{},
		Bus:      bus,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	opts := &Options{Registry: registry, EventBus: bus}
	if configure != nil {
		configure(opts)
	}
	server := NewServer(opts)
	ts := httptest.NewServer(server.GetMux())
	t.Cleanup(func() {
		ts.Close()
		registry.StopAll()
	})
	return server, registry, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, registry, ts := newTestAPI(t, nil)
	registry.Open("10.0.0.1:5000", nil)

	var body models.HealthData
	if code := getJSON(t, ts.URL+"/api/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Status != "ok" || body.Sessions != 1 {
		t.Errorf("health = %+v, want ok with 1 session", body)
	}
}

func TestVersion(t *testing.T) {
	_, _, ts := newTestAPI(t, nil)

	var body models.VersionData
	if code := getJSON(t, ts.URL+"/api/version", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Version == "" || body.GoVersion == "" {
		t.Errorf("incomplete version info: %+v", body)
	}
}

func TestSessions(t *testing.T) {
	_, registry, ts := newTestAPI(t, nil)

	idle := registry.Open("10.0.0.1:5000", nil)
	active := registry.Open("10.0.0.2:5000", nil)
	if _, err := active.Start("srt://ingest.example:9000"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var list models.SessionListData
	if code := getJSON(t, ts.URL+"/api/sessions", &list); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if list.Count != 2 {
		t.Fatalf("count = %d, want 2", list.Count)
	}

	var one models.SessionData
	if code := getJSON(t, ts.URL+"/api/sessions/"+active.ID(), &one); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if one.State != string(relay.StateActive) || one.Destination != "srt://ingest.example:9000" || one.PID != 4242 {
		t.Errorf("session = %+v", one)
	}
	if one.StreamStartedAt == nil || one.StreamID == "" {
		t.Errorf("active session missing stream fields: %+v", one)
	}

	var idleData models.SessionData
	if code := getJSON(t, ts.URL+"/api/sessions/"+idle.ID(), &idleData); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if idleData.State != string(relay.StateIdle) || idleData.StreamStartedAt != nil {
		t.Errorf("idle session = %+v", idleData)
	}
	if idleData.StreamID != "" || idleData.PID != 0 || idleData.Transcoder != nil {
		t.Errorf("idle session has stream fields: %+v", idleData)
	}

	if code := getJSON(t, ts.URL+"/api/sessions/does-not-exist", nil); code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", code)
	}
}

func TestBasicAuth(t *testing.T) {
	_, _, ts := newTestAPI(t, func(o *Options) {
		o.AuthUsername = "admin"
		o.AuthPassword = "secret"
	})

	if code := getJSON(t, ts.URL+"/api/health", nil); code != http.StatusOK {
		t.Errorf("health without auth = %d, want 200", code)
	}
	if code := getJSON(t, ts.URL+"/api/sessions", nil); code != http.StatusUnauthorized {
		t.Errorf("sessions without auth = %d, want 401", code)
	}

	tests := []struct {
		name     string
		user     string
		password string
		want     int
	}{
		{"valid", "admin", "secret", http.StatusOK},
		{"wrong password", "admin", "nope", http.StatusUnauthorized},
		{"wrong user", "root", "secret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/sessions", nil)
			req.SetBasicAuth(tt.user, tt.password)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	query := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	if code := getJSON(t, ts.URL+"/api/sessions?auth="+query, nil); code != http.StatusOK {
		t.Errorf("query auth = %d, want 200", code)
	}
}

func TestLogs(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info"})
	logging.GetLogger("relay").Info("api log test entry")
	logging.GetLogger("transport").Info("other module entry")

	_, _, ts := newTestAPI(t, nil)

	var body models.LogListData
	if code := getJSON(t, ts.URL+"/api/logs?module=relay&limit=1000", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	found := false
	for _, e := range body.Entries {
		if e.Module != "relay" {
			t.Errorf("module filter leaked %q", e.Module)
		}
		if e.Message == "api log test entry" {
			found = true
		}
	}
	if !found {
		t.Errorf("entry not returned: %+v", body.Entries)
	}
}

func TestEventStream(t *testing.T) {
	_, registry, ts := newTestAPI(t, nil)

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitLine := func(substr string) string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", substr)
				}
				if strings.Contains(line, substr) {
					return line
				}
			case <-timeout:
				t.Fatalf("timeout waiting for %q", substr)
			}
		}
	}

	waitLine(`"connected"`)

	s := registry.Open("10.0.0.9:4000", nil)
	waitLine("event: session-opened")
	if line := waitLine("data:"); !strings.Contains(line, s.ID()) {
		t.Errorf("session-opened data = %s", line)
	}

	if _, err := s.Start("srt://ingest.example:9000"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitLine("event: stream-started")
}

func TestMountedHandlers(t *testing.T) {
	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	prom := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "relaynode_sessions_active 0\n") })

	_, _, ts := newTestAPI(t, func(o *Options) {
		o.WebSocketPath = "/relay"
		o.WebSocketHandler = ws
		o.PrometheusHandler = prom
	})

	if code := getJSON(t, ts.URL+"/relay", nil); code != http.StatusTeapot {
		t.Errorf("relay endpoint status = %d, want 418", code)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "relaynode_sessions_active") {
		t.Errorf("metrics body = %q", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, _, ts := newTestAPI(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/sessions", nil)
	req.Header.Set("Origin", "https://studio.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "GET, OPTIONS" {
		t.Errorf("Allow-Methods = %q, want GET, OPTIONS", got)
	}
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{200, slog.LevelInfo},
		{304, slog.LevelInfo},
		{401, slog.LevelWarn},
		{404, slog.LevelWarn},
		{500, slog.LevelError},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.status); got != tt.want {
			t.Errorf("requestLevel(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestLogStreamSendsEachEntryOnce(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info"})
	server, _, ts := newTestAPI(t, nil)

	logging.SetLogCallback(func(entry logging.LogEntry) {
		server.eventBus.Publish(logEvent(entry))
	})
	t.Cleanup(func() { logging.SetLogCallback(nil) })

	logger := logging.GetLogger("relay")
	logger.Info("replayed entry")

	resp, err := http.Get(ts.URL + "/api/logs/stream")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 256)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// keep logging until the live feed delivers, the subscription races the connect
	seen := map[string]int{}
	timeout := time.After(3 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for seen["live entry"] == 0 {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed early")
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var ev events.LogEntryEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &ev); err != nil {
				t.Fatalf("bad data line %q: %v", line, err)
			}
			if ev.Message == "replayed entry" || ev.Message == "live entry" {
				seen[ev.Message]++
			}
		case <-tick.C:
			logger.Info("live entry")
		case <-timeout:
			t.Fatalf("live entry never arrived, seen %v", seen)
		}
	}

	if seen["replayed entry"] != 1 {
		t.Errorf("replayed entry sent %d times, want 1", seen["replayed entry"])
	}
}
