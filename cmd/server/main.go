package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/wsrelay/internal/logging"
	"github.com/Tyrowin/wsrelay/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("WSRELAY_CONFIG"), "path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		boot := logging.New(logging.Config{}, os.Stderr)
		boot.WithLevel(zerolog.FatalLevel).Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	log := logging.New(cfg.Log, os.Stdout)
	if err := run(cfg, *configPath, log); err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("server crashed")
		os.Exit(1)
	}
}

func run(cfg *server.Config, configPath string, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub(*cfg, log)

	if configPath != "" {
		err := server.WatchConfig(ctx, configPath, log, func(next server.Config) {
			logging.SetLevel(next.Log.Level)
			hub.Apply(next)
		})
		if err != nil {
			log.Warn().Err(err).Msg("config hot reload disabled")
		}
	}

	ln, err := server.Listen(cfg.Addr)
	if err != nil {
		return err
	}

	httpServer := server.CreateServer(cfg.Addr, server.SetupRoutes(hub))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, ln)
	}()

	log.Info().Str("url", "ws://"+ln.Addr().String()+"/ws").Str("config", cfg.String()).Msg("starting WebSocket server")
	notifySystemd(log, daemon.SdNotifyReady)

	if cfg.OperatorFeed {
		feed := server.NewOperatorFeed(hub, os.Stdin, log)
		go func() {
			_ = feed.Run(ctx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("server stopped by user")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	notifySystemd(log, daemon.SdNotifyStopping)

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown http server: %w", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("hub did not drain before timeout")
	}
	return runErr
}

// notifySystemd reports state to systemd when running as a notify service.
// Outside systemd it is a no-op.
func notifySystemd(log zerolog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Str("state", state).Msg("systemd notify failed")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("systemd notified")
	}
}
