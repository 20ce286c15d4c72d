package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"numbergame/internal/game"
	"numbergame/internal/server"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides PORT)")
	flag.Parse()

	if err := run(*addr); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(addr string) error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Addr()
	}

	logger := server.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := server.OpenStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	recorders := game.MultiRecorder{store}
	if cfg.NATSURL != "" {
		nc, err := server.DialNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		recorders = append(recorders, server.NewNATSPublisher(nc, cfg.NATSSubject))
		logger.Info("publishing matches to nats", "subject", cfg.NATSSubject)
	}

	registry := game.NewRegistry(game.Options{
		TurnDuration:   cfg.TurnDuration,
		CleanupDelay:   cfg.RoomCleanupDelay,
		PersistTimeout: cfg.PersistTimeout,
		Recorder:       recorders,
		Logger:         logger,
	})
	scheduler := game.NewTurnScheduler(registry, cfg.TurnTick, logger)
	monitor := server.NewConnectivityMonitor(cfg.HeartbeatInterval, cfg.HeartbeatMisses, logger)

	srv, err := server.New(cfg, server.Deps{
		Registry: registry,
		Auth:     server.NewTokenAuthenticator(cfg.JWTSecret, cfg.TokenCookie, store),
		Monitor:  monitor,
		Logger:   logger,
		Accounts: store,
	})
	if err != nil {
		return err
	}

	go scheduler.Run(ctx)
	go monitor.Start(ctx)

	runErr := srv.Run(ctx, addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PersistTimeout+time.Second)
	defer cancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pending match writes abandoned", "error", err)
	}
	return runErr
}
