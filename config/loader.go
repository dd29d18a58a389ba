package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "flowscope.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load(yamlPath string) (*Config, error) {
	cfg := NewDefault()

	if err := loadYAML(cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "FLOWSCOPE_LISTEN_ADDR")
	setUint32(&cfg.Server.MaxFrameBytes, "FLOWSCOPE_MAX_FRAME_BYTES")
	setDuration(&cfg.Server.IdleTimeout, "FLOWSCOPE_IDLE_TIMEOUT")
	setString(&cfg.Logging.Level, "FLOWSCOPE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FLOWSCOPE_LOG_SERVICE")
	setString(&cfg.Render.Format, "FLOWSCOPE_RENDER_FORMAT")
	setString(&cfg.Render.Unit, "FLOWSCOPE_RENDER_UNIT")
	setString(&cfg.Render.FlamegraphCommand, "FLOWSCOPE_RENDER_FLAMEGRAPH_COMMAND")
	setDuration(&cfg.Render.Timeout, "FLOWSCOPE_RENDER_TIMEOUT")
	setString(&cfg.Pyroscope.URL, "FLOWSCOPE_PYROSCOPE_URL")
	setString(&cfg.Pyroscope.AuthToken, "FLOWSCOPE_PYROSCOPE_AUTH_TOKEN")
	setString(&cfg.Pyroscope.AppName, "FLOWSCOPE_PYROSCOPE_APP_NAME")
	setDuration(&cfg.Pyroscope.Timeout, "FLOWSCOPE_PYROSCOPE_TIMEOUT")
	setString(&cfg.Metrics.ListenAddr, "FLOWSCOPE_METRICS_LISTEN_ADDR")
}

// Validate checks that required fields are set and enums are known.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if cfg.Server.MaxFrameBytes == 0 {
		return errors.New("server.max_frame_bytes must be > 0")
	}
	if cfg.Server.IdleTimeout < 0 {
		return errors.New("server.idle_timeout must be >= 0")
	}
	switch cfg.Render.Format {
	case "pprof", "collapsed":
	case "svg":
		if cfg.Render.FlamegraphCommand == "" {
			return errors.New("render.flamegraph_command is required for svg output")
		}
	default:
		return fmt.Errorf("render.format %q is not one of pprof, collapsed, svg", cfg.Render.Format)
	}
	if cfg.Render.Timeout < 0 {
		return errors.New("render.timeout must be >= 0")
	}
	if cfg.Render.Unit == "" {
		return errors.New("render.unit is required")
	}
	if cfg.Pyroscope.URL != "" && cfg.Pyroscope.AppName == "" {
		return errors.New("pyroscope.app_name is required when pyroscope.url is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
