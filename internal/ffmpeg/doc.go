// Package ffmpeg builds the relay's fixed low-latency transcoding profile and
// adapts ffmpeg's diagnostic output to the process supervisor: log level
// mapping, progress filtering, and progress metrics.
package ffmpeg
