package config

import "time"

// Config contains all the configuration for the application
type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Render    Render    `yaml:"render"`
	Pyroscope Pyroscope `yaml:"pyroscope"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Server holds the TCP listener settings
type Server struct {
	ListenAddr    string        `yaml:"listen_addr"`
	MaxFrameBytes uint32        `yaml:"max_frame_bytes"` // Largest accepted request payload
	IdleTimeout   time.Duration `yaml:"idle_timeout"`    // 0 waits for clients forever
}

// Logging holds structured logging configuration
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Render selects how finished sessions are turned into flame graphs
type Render struct {
	Format            string        `yaml:"format"` // "pprof", "collapsed" or "svg"
	Unit              string        `yaml:"unit"`   // Unit of client timestamps
	FlamegraphCommand string        `yaml:"flamegraph_command"`
	FlamegraphArgs    []string      `yaml:"flamegraph_args"`
	Timeout           time.Duration `yaml:"timeout"` // Limit for the svg tool, 0 disables it
}

// Pyroscope enables pushing rendered profiles; empty URL disables it
type Pyroscope struct {
	URL       string        `yaml:"url"`
	AuthToken string        `yaml:"auth_token"`
	AppName   string        `yaml:"app_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Metrics exposes Prometheus metrics over HTTP; empty address disables it
type Metrics struct {
	ListenAddr string `yaml:"listen_addr"`
}

// NewDefault returns a new default config
func NewDefault() *Config {
	return &Config{
		Server: Server{
			ListenAddr:    "127.0.0.1:12345",
			MaxFrameBytes: 64 << 20,
		},
		Logging: Logging{
			Level:   "info",
			Service: "flowscope",
		},
		Render: Render{
			Format:            "pprof",
			Unit:              "milliseconds",
			FlamegraphCommand: "inferno-flamegraph",
			Timeout:           time.Minute,
		},
		Pyroscope: Pyroscope{
			AppName: "flowscope",
			Timeout: 30 * time.Second,
		},
	}
}
