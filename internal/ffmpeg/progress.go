package ffmpeg

import (
	"strconv"
	"strings"

	"github.com/smazurov/relaynode/internal/metrics"
)

// ProgressTracker turns ffmpeg progress lines into per-session gauges.
// It implements process.OutputHandler.
type ProgressTracker struct {
	sessionID string
}

// NewProgressTracker creates a tracker publishing metrics under sessionID.
func NewProgressTracker(sessionID string) *ProgressTracker {
	return &ProgressTracker{sessionID: sessionID}
}

// HandleLine parses a progress line; other lines are ignored.
func (t *ProgressTracker) HandleLine(_, line string) {
	_, msg := ParseLogLevel(line)
	if !IsProgress(msg) {
		return
	}

	for key, value := range ParseProgress(msg) {
		switch key {
		case "fps":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				metrics.SetFFmpegFPS(t.sessionID, v)
			}
		case "drop":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				metrics.SetFFmpegDroppedFrames(t.sessionID, v)
			}
		case "dup":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				metrics.SetFFmpegDuplicateFrames(t.sessionID, v)
			}
		case "speed":
			speed := strings.TrimSuffix(value, "x")
			if v, err := strconv.ParseFloat(speed, 64); err == nil {
				metrics.SetFFmpegSpeed(t.sessionID, v)
			}
		}
	}
}

// ParseProgress splits a progress line into key/value pairs. ffmpeg pads
// values after '=' with spaces, so "fps= 30" and "fps=30" are equivalent.
func ParseProgress(line string) map[string]string {
	fields := make(map[string]string)
	rest := strings.TrimSpace(line)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			break
		}
		key := strings.TrimSpace(rest[:eq])
		rest = strings.TrimLeft(rest[eq+1:], " ")

		end := strings.IndexByte(rest, ' ')
		if end == -1 {
			end = len(rest)
		}
		fields[key] = rest[:end]
		rest = strings.TrimLeft(rest[end:], " ")
	}
	return fields
}
