// Package main is the entry point for auctionhouse.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/auctionhouse/internal/buildinfo"
	"github.com/nugget/auctionhouse/internal/config"
	"github.com/nugget/auctionhouse/internal/coordinator"
	"github.com/nugget/auctionhouse/internal/dashboard"
	"github.com/nugget/auctionhouse/internal/mqtt"
	"github.com/nugget/auctionhouse/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "validate":
			runValidate(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("auctionhouse - structured multi-party auction coordinator")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start accepting bidders and run the configured schedule")
	fmt.Println("  validate  Parse and validate a config file without listening")
	fmt.Println("  version   Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// runValidate loads the config, builds the coordinator (which runs the
// schedule's cycle precheck), and reports any problem without touching
// the network.
func runValidate(logger *slog.Logger, configPath string) {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if _, err := coordinator.New(cfg, nil, logger, telemetry.New()); err != nil {
		logger.Error("schedule validation failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s is valid: %d auction task(s), listening on %s:%d\n", cfgPath, len(cfg.Auctions), cfg.Listen.Address, cfg.Listen.Port)
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting auctionhouse", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"max_clients", cfg.Listen.MaxClients,
		"tasks", len(cfg.Auctions),
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	bus := telemetry.New()

	co, err := coordinator.New(cfg, nil, logger, bus)
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MQTT.Configured() {
		bridge := mqtt.New(cfg.MQTT, cfg.Listen.SessionID, cfg.DataDir, bus, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("mqtt bridge exited", "error", err)
			}
		}()
	}

	if cfg.Dashboard.Configured() {
		dash := dashboard.New(cfg.Dashboard.Listen, bus, logger)
		go func() {
			if err := dash.Run(ctx); err != nil {
				logger.Error("dashboard server exited", "error", err)
			}
		}()
		logger.Info("dashboard listening", "address", cfg.Dashboard.Listen)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listen failed", "address", addr, "error", err)
		os.Exit(1)
	}
	defer ln.Close()
	logger.Info("accepting bidders", "address", addr, "max_clients", cfg.Listen.MaxClients, "max_wait_sec", cfg.Listen.MaxWaitSec)

	if err := co.Run(ctx, ln); err != nil {
		logger.Error("schedule run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("schedule complete")
}
