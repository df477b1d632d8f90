// Package metrics provides Prometheus metrics for relay sessions and their
// ffmpeg subprocesses.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relaynode"

var (
	ffmpegFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "fps",
		Help:      "Current FFmpeg encoding FPS",
	}, []string{"session_id"})

	ffmpegDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "dropped_frames_total",
		Help:      "Total dropped frames reported by the running FFmpeg",
	}, []string{"session_id"})

	ffmpegDuplicateFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "duplicate_frames_total",
		Help:      "Total duplicate frames reported by the running FFmpeg",
	}, []string{"session_id"})

	ffmpegSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "processing_speed",
		Help:      "FFmpeg processing speed multiplier",
	}, []string{"session_id"})

	// Local cache for the sessions API.
	ffmpegCache   = make(map[string]*FFmpegStreamMetrics)
	ffmpegCacheMu sync.RWMutex
)

// FFmpegStreamMetrics holds current metric values for a session's transcoder.
type FFmpegStreamMetrics struct {
	FPS             float64 `json:"fps"`
	DroppedFrames   float64 `json:"dropped_frames"`
	DuplicateFrames float64 `json:"duplicate_frames"`
	Speed           float64 `json:"speed"`
}

// SetFFmpegFPS sets the current FPS for a session.
func SetFFmpegFPS(sessionID string, fps float64) {
	ffmpegFPS.WithLabelValues(sessionID).Set(fps)
	updateCache(sessionID, func(m *FFmpegStreamMetrics) { m.FPS = fps })
}

// SetFFmpegDroppedFrames sets the dropped frames count for a session.
func SetFFmpegDroppedFrames(sessionID string, count float64) {
	ffmpegDroppedFrames.WithLabelValues(sessionID).Set(count)
	updateCache(sessionID, func(m *FFmpegStreamMetrics) { m.DroppedFrames = count })
}

// SetFFmpegDuplicateFrames sets the duplicate frames count for a session.
func SetFFmpegDuplicateFrames(sessionID string, count float64) {
	ffmpegDuplicateFrames.WithLabelValues(sessionID).Set(count)
	updateCache(sessionID, func(m *FFmpegStreamMetrics) { m.DuplicateFrames = count })
}

// SetFFmpegSpeed sets the processing speed for a session.
func SetFFmpegSpeed(sessionID string, speed float64) {
	ffmpegSpeed.WithLabelValues(sessionID).Set(speed)
	updateCache(sessionID, func(m *FFmpegStreamMetrics) { m.Speed = speed })
}

// DeleteFFmpegMetrics removes all metrics for a session.
func DeleteFFmpegMetrics(sessionID string) {
	ffmpegFPS.DeleteLabelValues(sessionID)
	ffmpegDroppedFrames.DeleteLabelValues(sessionID)
	ffmpegDuplicateFrames.DeleteLabelValues(sessionID)
	ffmpegSpeed.DeleteLabelValues(sessionID)

	ffmpegCacheMu.Lock()
	delete(ffmpegCache, sessionID)
	ffmpegCacheMu.Unlock()
}

// GetFFmpegMetrics returns current metric values for a session.
func GetFFmpegMetrics(sessionID string) *FFmpegStreamMetrics {
	ffmpegCacheMu.RLock()
	defer ffmpegCacheMu.RUnlock()
	if m, ok := ffmpegCache[sessionID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

func updateCache(sessionID string, update func(*FFmpegStreamMetrics)) {
	ffmpegCacheMu.Lock()
	defer ffmpegCacheMu.Unlock()
	m, ok := ffmpegCache[sessionID]
	if !ok {
		m = &FFmpegStreamMetrics{}
		ffmpegCache[sessionID] = m
	}
	update(m)
}
