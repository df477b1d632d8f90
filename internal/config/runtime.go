package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/relaynode/internal/logging"
)

// Runtime holds the settings that may change while the server is running.
// The config watcher reloads it from disk on every change.
type Runtime struct {
	Logging            logging.Config
	MaxRestartAttempts int
	RestartDelay       time.Duration
}

// LoadRuntime reads the hot-reloadable sections of the config file.
// Keys missing from the file keep the values from defaults.
//
// The [logging] table holds "level", "format" and per-module levels:
//
//	[logging]
//	level = "info"
//	relay = "debug"
func LoadRuntime(path string, defaults Runtime) (Runtime, error) {
	rt := defaults
	rt.Logging.Modules = make(map[string]string, len(defaults.Logging.Modules))
	for k, v := range defaults.Logging.Modules {
		rt.Logging.Modules[k] = v
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rt, err
	}

	var raw struct {
		Relay struct {
			MaxRestartAttempts *int `toml:"max_restart_attempts"`
			RestartDelayMs     *int `toml:"restart_delay_ms"`
		} `toml:"relay"`
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return rt, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if raw.Relay.MaxRestartAttempts != nil {
		rt.MaxRestartAttempts = *raw.Relay.MaxRestartAttempts
	}
	if raw.Relay.RestartDelayMs != nil {
		rt.RestartDelay = time.Duration(*raw.Relay.RestartDelayMs) * time.Millisecond
	}

	for key, value := range raw.Logging {
		s, ok := value.(string)
		if !ok {
			continue
		}
		switch key {
		case "level":
			rt.Logging.Level = s
		case "format":
			rt.Logging.Format = s
		default:
			rt.Logging.Modules[key] = s
		}
	}

	return rt, nil
}
