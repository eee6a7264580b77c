package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omnibrowser/warden/internal/config"
	"github.com/omnibrowser/warden/internal/launcher"
	"github.com/omnibrowser/warden/internal/metrics"
	"github.com/omnibrowser/warden/internal/monitor"
	"github.com/omnibrowser/warden/internal/quote"
	"github.com/omnibrowser/warden/internal/relay"
	"github.com/omnibrowser/warden/internal/ws"
)

func main() {
	configPath := flag.String("config", "warden.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	watchPID := flag.Int("watch-pid", 0, "Override watchdog target PID (0 = self)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("No config file at %s, using defaults", *configPath)
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *watchPID > 0 {
		cfg.Watchdog.PID = int32(*watchPID)
	}

	if cfg.Log.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		})
	}

	mx := metrics.New()
	broadcaster := ws.NewBroadcaster(64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Best-effort bootstrap of auxiliary tools; failures are logged and
	// never block startup.
	if len(cfg.Launch) > 0 {
		launcher.New(mx).LaunchAll(launchPrograms(cfg.Launch))
	}

	watchdog, err := monitor.New(monitor.Config{
		PID:           cfg.Watchdog.PID,
		Interval:      cfg.Watchdog.PollInterval,
		HighWatermark: cfg.Watchdog.HighWatermark,
		LowWatermark:  cfg.Watchdog.LowWatermark,
	}, nil, broadcaster, mx)
	if err != nil {
		log.Fatalf("Failed to build watchdog: %v", err)
	}
	go watchdog.Start(ctx)

	rl := relay.New(&http.Client{}, cfg.Relay.IdleTimeout, mx)
	quotes := quote.NewClient(cfg.Quote.BaseURL, cfg.Quote.Timeout)

	server := ws.NewServer(cfg, broadcaster, rl, quotes, mx.Handler())
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		// Give in-flight relay sessions a moment to observe cancellation.
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// launchPrograms converts config launch entries into launcher programs.
func launchPrograms(programs []config.Program) []launcher.Program {
	out := make([]launcher.Program, 0, len(programs))
	for _, p := range programs {
		specs := make([]launcher.Spec, 0, len(p.Alternatives))
		for _, alt := range p.Alternatives {
			specs = append(specs, launcher.Spec{Path: alt.Path, Args: alt.Args, Dir: alt.Dir})
		}
		out = append(out, launcher.Program{Name: p.Name, Alternatives: specs})
	}
	return out
}
