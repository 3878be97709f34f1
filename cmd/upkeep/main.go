// Command upkeep runs the preventive-maintenance server and its backup
// tooling.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/internal/config"
	"github.com/HerbHall/upkeep/internal/event"
	"github.com/HerbHall/upkeep/internal/fleet"
	"github.com/HerbHall/upkeep/internal/notify"
	"github.com/HerbHall/upkeep/internal/registry"
	"github.com/HerbHall/upkeep/internal/server"
	"github.com/HerbHall/upkeep/internal/store"
	"github.com/HerbHall/upkeep/internal/version"
	"github.com/HerbHall/upkeep/internal/ws"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

// sharedSections lists top-level config sections a module reads alongside
// its own "modules.<name>" block.
var sharedSections = map[string][]string{
	"fleet": {"schedule"},
}

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			os.Exit(runBackup(os.Args[2:]))
		case "restore":
			os.Exit(runRestore(os.Args[2:]))
		case "version":
			fmt.Println(version.Info())
			return
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	if err := serve(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "upkeep: %v\n", err)
		os.Exit(1)
	}
}

func serve(configPath string) error {
	// Configuration first so the logger can honour logging.level.
	v, err := server.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.New(v)

	logger, err := config.NewLogger(v)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Upkeep server starting", zap.String("version", version.Short()))
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults", zap.String("component", "config"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPath := v.GetString("database.path")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		return err
	}
	logger.Info("database initialized", zap.String("component", "database"), zap.String("path", dbPath))

	bus := event.NewBus(logger.Named("event"))

	reg := registry.New(logger.Named("registry"))
	modules := []plugin.Plugin{
		fleet.New(),
		notify.New(nil),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			return fmt.Errorf("failed to register module: %w", err)
		}
	}
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("module validation failed: %w", err)
	}

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.ForModule(name, sharedSections[name]...),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		return fmt.Errorf("failed to initialize modules: %w", err)
	}
	if err := reg.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	wsHandler := ws.NewHandler(bus, ws.Options{
		MaxClients: v.GetInt("modules.ws.max_clients"),
		Origins:    v.GetStringSlice("modules.ws.origins"),
	}, logger.Named("ws"))
	defer wsHandler.Close()

	srvCfg := server.ServerConfig(v)
	srv := server.New(srvCfg.Addr(), reg, logger, db.Ping, server.Options{
		ReadOnly:       srvCfg.ReadOnly,
		RateLimitRPS:   v.GetFloat64("server.rate_limit_rps"),
		RateLimitBurst: v.GetInt("server.rate_limit_burst"),
	}, wsHandler)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("Upkeep server ready", zap.String("addr", srvCfg.Addr()), zap.Bool("read_only", srvCfg.ReadOnly))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	reg.StopAll(shutdownCtx)

	logger.Info("Upkeep server stopped")
	return serveErr
}
