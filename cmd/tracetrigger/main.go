package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tracetrigger/config"
	"tracetrigger/internal/logger"
	"tracetrigger/internal/metrics"
	"tracetrigger/internal/pipeline"
)

const defaultConfigName = "tracetrigger.yml"

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, defaultConfigName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return defaultConfigName
}

func applyDefaults(cfg *config.Config) {
	tt := &cfg.TraceTrigger

	if tt.Input.Mode == "" {
		tt.Input.Mode = "redis"
	}
	if tt.Input.Redis.Addr == "" {
		tt.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if tt.Input.Redis.Key == "" {
		tt.Input.Redis.Key = "trace_events"
	}
	if tt.Input.Redis.BlockTimeout == 0 {
		tt.Input.Redis.BlockTimeout = 5 * time.Second
	}
	if tt.Input.NATS.Subject == "" {
		tt.Input.NATS.Subject = "trace.events"
	}
	if tt.Input.NATS.ReconnectWait == 0 {
		tt.Input.NATS.ReconnectWait = time.Second
	}

	if tt.Counters.Mode == "" {
		tt.Counters.Mode = "prometheus"
	}
	if tt.Counters.Redis.Addr == "" {
		tt.Counters.Redis.Addr = tt.Input.Redis.Addr
	}

	if tt.Output.Mode == "" {
		tt.Output.Mode = "file"
	}
	if tt.Output.File.Path == "" {
		tt.Output.File.Path = "output/fired.jsonl"
	}

	if tt.Metrics.Addr == "" {
		tt.Metrics.Addr = ":9464"
	}
	if tt.Status.Interval == 0 {
		tt.Status.Interval = 30 * time.Second
	}

	if tt.Logging.Level == "" {
		tt.Logging.Level = "info"
	}
}

func runMonitor(args []string) int {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	applyDefaults(cfg)
	tt := &cfg.TraceTrigger
	if err := tt.Validate(); err != nil {
		log.Printf("Invalid config %s: %v", configPath, err)
		return 1
	}

	if err := logger.Init(tt.Logging.Enabled, tt.Logging.Level, tt.Logging.File, tt.Logging.Console); err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	defer logger.Sync()

	logger.Infof("TraceTrigger starting")
	logger.Infof("Config loaded from: %s", configPath)

	writer, err := buildWriter(tt.Output)
	if err != nil {
		logger.Errorf("Failed to create output: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reg *metrics.Registry
	if tt.Metrics.Enabled {
		reg = metrics.New(prometheus.DefaultRegisterer)
		go func() {
			if err := metrics.Serve(ctx, tt.Metrics.Addr, prometheus.DefaultGatherer); err != nil {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	monitor := pipeline.NewMonitor(writer, tt.Status.Interval)
	release, err := buildTriggers(tt, monitor, reg)
	if err != nil {
		logger.Errorf("Failed to build triggers: %v", err)
		monitor.Close()
		return 1
	}
	defer release()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Infof("Shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	rec, err := monitor.Run(ctx)
	switch {
	case err == nil:
		logger.Infof("TraceTrigger stopped after %s fired", rec.Trigger)
		return 0
	case errors.Is(err, context.Canceled):
		logger.Infof("TraceTrigger stopped")
		return 0
	default:
		logger.Errorf("Monitor error: %v", err)
		return 1
	}
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			os.Exit(runMonitor(os.Args[2:]))
		case "check":
			os.Exit(runCheck(os.Args[2:]))
		case "publish":
			os.Exit(runPublish(os.Args[2:]))
		default:
			// First arg is the config path.
			os.Exit(runMonitor(os.Args[1:]))
		}
	}

	os.Exit(runMonitor(nil))
}
