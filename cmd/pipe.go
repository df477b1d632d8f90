package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/relaynode/internal/config"
	"github.com/smazurov/relaynode/internal/ffmpeg"
	"github.com/smazurov/relaynode/internal/logging"
	"github.com/smazurov/relaynode/internal/relay"
	"github.com/spf13/cobra"
)

// maxQueuedChunks caps how far stdin may run ahead of the transcoder.
const maxQueuedChunks = 8

// CreatePipeCmd creates the pipe command.
func CreatePipeCmd() *cobra.Command {
	var configFile string
	var binary string
	var priority int
	var maxRestarts int
	var restartDelay time.Duration
	var chunkSize int
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "pipe [destination]",
		Short: "Relay media from stdin to a destination",
		Long: `Runs a single supervised relay session fed from standard input instead of a WebSocket. ` +
			`The transcoder is restarted on crashes within the restart bound. ` +
			`With --config, logging levels and the restart policy are reloaded when the file changes.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			destination := args[0]

			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("pipe").With("destination", destination)

			finished := make(chan relay.Notice, 1)
			session := relay.NewSession(relay.Options{
				RemoteAddr:         "stdin",
				Launcher:           ffmpeg.NewLauncher(binary, priority),
				MaxRestartAttempts: maxRestarts,
				RestartDelay:       restartDelay,
				Logger:             logging.GetLogger("relay"),
				OnNotice: func(n relay.Notice) {
					switch n.Kind {
					case relay.NoticeDrainFailed:
						logger.Warn("Queued media dropped after write failure", "error", n.Err)
					case relay.NoticeRestarted:
						logger.Info("Transcoder restarted", "attempt", n.Attempt)
					case relay.NoticeRestartsExhausted, relay.NoticeEnded:
						select {
						case finished <- n:
						default:
						}
					}
				},
			})

			if configFile != "" {
				defaults := config.Runtime{
					Logging:            loggingConfig,
					MaxRestartAttempts: maxRestarts,
					RestartDelay:       restartDelay,
				}
				watcher := config.NewConfigWatcher(
					configFile,
					func(path string) (config.Runtime, error) { return config.LoadRuntime(path, defaults) },
					logger,
				)
				watcher.OnReload(func(rt config.Runtime) {
					logging.SetLevels(rt.Logging)
					session.SetRestartPolicy(rt.MaxRestartAttempts, rt.RestartDelay)
					logger.Info("Runtime config reloaded", "max_restart_attempts", rt.MaxRestartAttempts, "restart_delay", rt.RestartDelay)
				})
				if err := watcher.Start(); err != nil {
					logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
				} else {
					defer func() { _ = watcher.Stop() }()
				}
			}

			streamID, err := session.Start(destination)
			if err != nil {
				logger.Error("Failed to start stream", "error", err)
				os.Exit(1)
			}
			logger.Info("Relaying stdin", "stream_id", streamID)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			inputDone := make(chan error, 1)
			go func() { inputDone <- feed(ctx, os.Stdin, session, chunkSize, logger) }()

			exitCode := 0
			select {
			case <-ctx.Done():
				logger.Info("Interrupted, stopping")
			case err := <-inputDone:
				if err != nil {
					logger.Error("Failed to read input", "error", err)
					exitCode = 1
				} else {
					logger.Info("Input ended")
				}
			case n := <-finished:
				if n.Kind == relay.NoticeRestartsExhausted {
					logger.Error("Transcoder kept failing, giving up", "error", n.Err)
					exitCode = 1
				} else {
					logger.Info("Transcoder exited")
				}
			}

			session.Close()
			logger.Info("Pipe command exiting", "exit_code", exitCode)
			os.Exit(exitCode)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Config file to watch for logging and restart policy changes")
	cmd.Flags().StringVar(&binary, "binary", ffmpeg.DefaultBinary, "Path to the ffmpeg binary")
	cmd.Flags().IntVar(&priority, "priority", 0, "Nice value for the transcoder (negative raises priority)")
	cmd.Flags().IntVar(&maxRestarts, "max-restarts", relay.DefaultMaxRestartAttempts, "Automatic restarts before giving up")
	cmd.Flags().DurationVar(&restartDelay, "restart-delay", 500*time.Millisecond, "Pause before restarting a crashed transcoder")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 64*1024, "Bytes read from stdin per chunk")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}

// chunkSink is the part of a relay session the pipe command feeds.
type chunkSink interface {
	ProcessChunk(chunk []byte) bool
	WaitQueueBelow(ctx context.Context, n int) error
}

// feed copies r into the session chunk by chunk. It waits while the session
// already holds maxQueuedChunks so the queue stays bounded. Chunks refused
// while the transcoder restarts are dropped. Returns nil at EOF.
func feed(ctx context.Context, r io.Reader, sink chunkSink, chunkSize int, logger *slog.Logger) error {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	buf := make([]byte, chunkSize)
	dropped := 0

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !sink.ProcessChunk(chunk) {
				dropped++
				logger.Debug("Chunk dropped, no active stream", "dropped", dropped)
			}
			if waitErr := sink.WaitQueueBelow(ctx, maxQueuedChunks); waitErr != nil {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
