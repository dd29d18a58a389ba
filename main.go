package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"flowScope/config"
	"flowScope/converter"
	"flowScope/logger"
	"flowScope/metrics"
	"flowScope/processor"
	"flowScope/sender"
)

func printWelcomeBanner(cfg *config.Config) {
	bannerLines := []string{
		"    ______                ____                      ",
		"   / __/ /___ _      __  / __/________  ____  ___   ",
		"  / /_/ / __ \\ | /| / / _\\ \\/ ___/ __ \\/ __ \\/ _ \\  ",
		" / __/ / /_/ / |/ |/ / /___/ /__/ /_/ / /_/ /  __/  ",
		"/_/ /_/\\____/|__/|__/ /____/\\___/\\____/ .___/\\___/   ",
		"                                     /_/            ",
	}

	// Print banner in orange color
	for _, line := range bannerLines {
		fmt.Println("\033[0;33m" + line + "\033[0m")
	}

	fmt.Println("🚀 Starting flowScope with configuration:")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("📡 Listen Address:     %s\n", cfg.Server.ListenAddr)
	fmt.Printf("🖼️  Output Format:      %s\n", cfg.Render.Format)
	if cfg.Render.Format == converter.FormatSVG {
		fmt.Printf("🔧 Flame Graph Tool:   %s\n", cfg.Render.FlamegraphCommand)
	}
	fmt.Printf("⏱️  Timestamp Unit:     %s\n", cfg.Render.Unit)
	fmt.Printf("📦 Max Frame:          %d bytes\n", cfg.Server.MaxFrameBytes)
	if cfg.Pyroscope.URL != "" {
		fmt.Printf("🔥 Pyroscope URL:      %s (%s)\n", cfg.Pyroscope.URL, cfg.Pyroscope.AppName)
	}
	if cfg.Metrics.ListenAddr != "" {
		fmt.Printf("📈 Metrics Address:    %s\n", cfg.Metrics.ListenAddr)
	}
	fmt.Printf("🐛 Log Level:          %s\n", cfg.Logging.Level)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
}

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultConfigFile, "YAML configuration file")
	listen := pflag.StringP("listen", "l", "", "TCP address the collector listens on")
	logLevel := pflag.String("log-level", "", "log level (debug, info, warn, error)")
	format := pflag.StringP("format", "f", "", "flame graph format returned to clients (pprof, collapsed, svg)")
	pyroscopeURL := pflag.String("pyroscope-url", "", "also push every saved session to this Pyroscope server")
	metricsListen := pflag.String("metrics-listen", "", "address serving Prometheus /metrics")
	quiet := pflag.BoolP("quiet", "q", false, "do not print the banner")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags win over file and environment.
	if pflag.CommandLine.Changed("listen") {
		cfg.Server.ListenAddr = *listen
	}
	if pflag.CommandLine.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}
	if pflag.CommandLine.Changed("format") {
		cfg.Render.Format = *format
	}
	if pflag.CommandLine.Changed("pyroscope-url") {
		cfg.Pyroscope.URL = *pyroscopeURL
	}
	if pflag.CommandLine.Changed("metrics-listen") {
		cfg.Metrics.ListenAddr = *metricsListen
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		printWelcomeBanner(cfg)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("collector stopped", "error", err)
		os.Exit(1)
	}
	log.Info("collector stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	renderer, err := converter.NewRenderer(cfg.Render.Format, converter.RenderOptions{
		Unit:              cfg.Render.Unit,
		FlamegraphCommand: cfg.Render.FlamegraphCommand,
		FlamegraphArgs:    cfg.Render.FlamegraphArgs,
		Timeout:           cfg.Render.Timeout,
	})
	if err != nil {
		return err
	}

	var s *sender.Sender
	if cfg.Pyroscope.URL != "" {
		s = sender.New(sender.Config{
			PyroscopeURL: cfg.Pyroscope.URL,
			AuthToken:    cfg.Pyroscope.AuthToken,
			AppName:      cfg.Pyroscope.AppName,
			Unit:         cfg.Render.Unit,
			Timeout:      cfg.Pyroscope.Timeout,
			Logger:       log,
		})
	}

	srv := processor.NewServer(processor.Config{
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
		IdleTimeout:   cfg.Server.IdleTimeout,
		Renderer:      renderer,
		Unit:          cfg.Render.Unit,
		Sender:        s,
		Metrics:       m,
		Logger:        log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Server.ListenAddr)
	})
	if cfg.Metrics.ListenAddr != "" {
		g.Go(func() error {
			return m.Serve(ctx, cfg.Metrics.ListenAddr, log)
		})
	}
	return g.Wait()
}
