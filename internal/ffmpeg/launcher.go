package ffmpeg

import (
	"fmt"
	"log/slog"

	"github.com/smazurov/relaynode/internal/logging"
	"github.com/smazurov/relaynode/internal/metrics"
	"github.com/smazurov/relaynode/internal/process"
	"github.com/smazurov/relaynode/internal/relay"
)

// DefaultBinary is the transcoder looked up on PATH when none is configured.
const DefaultBinary = "ffmpeg"

// Launcher spawns one ffmpeg transcoder per stream. It implements relay.Launcher.
type Launcher struct {
	Binary   string
	Priority int // nice value; zero leaves scheduling alone
	Logger   *slog.Logger

	// Params builds the profile for a destination. Nil uses DefaultParams.
	Params func(destination string) *Params
}

// NewLauncher creates a launcher for binary with the default profile.
func NewLauncher(binary string, priority int) *Launcher {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Launcher{
		Binary:   binary,
		Priority: priority,
		Logger:   logging.GetLogger("process"),
	}
}

// Command returns the argument list used for destination.
func (l *Launcher) Command(destination string) []string {
	params := l.Params
	if params == nil {
		params = DefaultParams
	}
	return BuildArgs(params(destination))
}

// Launch starts a transcoder reading from stdin and writing to destination.
func (l *Launcher) Launch(sessionID, destination string, hooks process.Hooks) (relay.Transcoder, error) {
	args := l.Command(destination)

	logger := l.Logger
	if logger == nil {
		logger = logging.GetLogger("process")
	}
	logger = logger.With("session_id", sessionID)

	proc := process.NewProcess(sessionID, l.Binary, args, logger)
	proc.SetLogParser(logging.GetLogger("ffmpeg").With("session_id", sessionID), ParseOutput)
	proc.SetOutputHandler(NewProgressTracker(sessionID))
	proc.SetPriority(l.Priority)

	// Gauges from a previous transcoder must not leak into this one
	metrics.DeleteFFmpegMetrics(sessionID)

	if err := proc.Start(hooks); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", l.Binary, err)
	}

	logger.Debug("Transcoder command", "command", FormatCommand(l.Binary, args))
	return proc, nil
}
