package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/relaynode/cmd"
	"github.com/smazurov/relaynode/internal/api"
	"github.com/smazurov/relaynode/internal/config"
	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/ffmpeg"
	"github.com/smazurov/relaynode/internal/logging"
	"github.com/smazurov/relaynode/internal/metrics"
	"github.com/smazurov/relaynode/internal/relay"
	"github.com/smazurov/relaynode/internal/transport"
	"github.com/smazurov/relaynode/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Relay settings
	RelayPath               string `help:"WebSocket endpoint path" default:"/ws" toml:"relay.path" env:"RELAY_PATH"`
	RelayMaxMessageBytes    int    `help:"Largest accepted WebSocket message in bytes" default:"16777216" toml:"relay.max_message_bytes" env:"RELAY_MAX_MESSAGE_BYTES"`
	RelayMaxRestartAttempts int    `help:"Automatic transcoder restarts per destination" default:"3" toml:"relay.max_restart_attempts" env:"RELAY_MAX_RESTART_ATTEMPTS"`
	RelayRestartDelayMs     int    `help:"Pause before restarting a crashed transcoder" default:"500" toml:"relay.restart_delay_ms" env:"RELAY_RESTART_DELAY_MS"`
	RelayAllowedOrigins     string `help:"Comma-separated origins allowed to connect (empty = any)" default:"" toml:"relay.allowed_origins" env:"RELAY_ALLOWED_ORIGINS"`

	// Transcoder settings
	TranscoderBinary   string `help:"Path to the ffmpeg binary" default:"ffmpeg" toml:"ffmpeg.binary" env:"FFMPEG_BINARY"`
	TranscoderPriority int    `help:"Nice value for transcoders (negative raises priority)" default:"0" toml:"ffmpeg.priority" env:"FFMPEG_PRIORITY"`

	// Observability settings
	MetricsEnabled bool `help:"Expose Prometheus metrics on /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Auth settings for the operational API
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRelay     string `help:"Relay session logging level" default:"info" toml:"logging.relay" env:"LOGGING_RELAY"`
	LoggingTransport string `help:"WebSocket transport logging level" default:"info" toml:"logging.transport" env:"LOGGING_TRANSPORT"`
	LoggingProcess   string `help:"Process supervisor logging level" default:"info" toml:"logging.process" env:"LOGGING_PROCESS"`
	LoggingFFmpeg    string `help:"Transcoder output logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP      string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"relay":     o.LoggingRelay,
			"transport": o.LoggingTransport,
			"process":   o.LoggingProcess,
			"ffmpeg":    o.LoggingFFmpeg,
			"api":       o.LoggingAPI,
			"http":      o.LoggingHTTP,
		},
	}
}

func (o *Options) allowedOrigins() []string {
	var origins []string
	for origin := range strings.SplitSeq(o.RelayAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		loggingConfig := opts.loggingConfig()
		logging.Initialize(loggingConfig)
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		restartDelay := time.Duration(opts.RelayRestartDelayMs) * time.Millisecond

		launcher := ffmpeg.NewLauncher(opts.TranscoderBinary, opts.TranscoderPriority)
		launcher.Logger = logging.GetLogger("process")

		registry := relay.NewRegistry(relay.RegistryOptions{
			Launcher:           launcher,
			Bus:                eventBus,
			Logger:             logging.GetLogger("relay"),
			MaxRestartAttempts: opts.RelayMaxRestartAttempts,
			RestartDelay:       restartDelay,
		})

		wsHandler := transport.NewHandler(transport.Options{
			Registry:        registry,
			Logger:          logging.GetLogger("transport"),
			MaxMessageBytes: int64(opts.RelayMaxMessageBytes),
			AllowedOrigins:  opts.allowedOrigins(),
		})

		apiOpts := &api.Options{
			Registry:         registry,
			EventBus:         eventBus,
			WebSocketPath:    opts.RelayPath,
			WebSocketHandler: wsHandler,
			AuthUsername:     opts.AuthUsername,
			AuthPassword:     opts.AuthPassword,
		}
		if opts.MetricsEnabled {
			apiOpts.PrometheusHandler = metrics.Handler()
		}
		server := api.NewServer(apiOpts)

		// Hot-reload logging levels and the restart policy
		runtimeDefaults := config.Runtime{
			Logging:            loggingConfig,
			MaxRestartAttempts: opts.RelayMaxRestartAttempts,
			RestartDelay:       restartDelay,
		}
		watcher := config.NewConfigWatcher(
			opts.Config,
			func(path string) (config.Runtime, error) { return config.LoadRuntime(path, runtimeDefaults) },
			logger,
			config.WithErrorHandler[config.Runtime](func(err error) {
				logger.Warn("Ignoring invalid config change", "error", err)
			}),
		)
		watcher.OnReload(func(rt config.Runtime) {
			logging.SetLevels(rt.Logging)
			registry.SetRestartPolicy(rt.MaxRestartAttempts, rt.RestartDelay)
			logger.Info("Runtime config reloaded",
				"max_restart_attempts", rt.MaxRestartAttempts,
				"restart_delay", rt.RestartDelay)
		})

		hooks.OnStart(func() {
			logger.Info("Starting "+version.String(), "platform", version.Get().Platform)

			probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			v, err := ffmpeg.Version(probeCtx, opts.TranscoderBinary)
			cancel()
			if err != nil {
				logger.Warn("Transcoder binary not usable, streams will fail to start", "binary", opts.TranscoderBinary, "error", err)
			} else {
				logger.Info("Transcoder found", "binary", opts.TranscoderBinary, "version", v)
			}

			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", startErr)
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("systemd notify failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "relay_path", opts.RelayPath)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// WebSocket connections are hijacked and outlive the HTTP server
			wsHandler.CloseAll()

			// Kill remaining transcoders after clients are gone
			logger.Info("Stopping all sessions", "sessions", registry.Count())
			registry.StopAll()

			_ = watcher.Stop()
		})
	})

	cli.Root().Use = "relaynode"
	cli.Root().Version = version.Get().Version
	cli.Root().AddCommand(cmd.CreatePipeCmd())
	cli.Root().AddCommand(cmd.CreateCheckFFmpegCmd())

	// Run the CLI
	cli.Run()
}
