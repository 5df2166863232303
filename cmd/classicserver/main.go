// Command classicserver runs the Minecraft Classic server core: it
// parses flags, loads/generates the world registry, and serves
// connections until interrupted.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blockwire/classicserver/internal/config"
	"github.com/blockwire/classicserver/internal/heartbeat"
	"github.com/blockwire/classicserver/internal/scheduler"
	"github.com/blockwire/classicserver/internal/server"
	"github.com/blockwire/classicserver/internal/world"
)

const worldDir = "worlds"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	worlds := world.NewManager(worldDir)
	if err := worlds.Setup(); err != nil {
		return fmt.Errorf("classicserver: world setup: %w", err)
	}
	log.Info().Str("dir", worldDir).Msg("world registry ready")

	factory, err := server.NewFactory(server.Info{
		Name:       cfg.Name,
		MOTD:       cfg.MOTD,
		Software:   cfg.Software,
		Public:     cfg.Public,
		MaxPlayers: 32,
	}, worlds, log)
	if err != nil {
		return fmt.Errorf("classicserver: factory: %w", err)
	}
	log.Info().Str("salt", factory.Salt()).Msg("generated server salt")

	tasks := scheduler.New()
	factory.SetScheduler(tasks)

	poster := heartbeat.New(heartbeat.Config{
		URL:        cfg.HeartbeatURL,
		Port:       cfg.Port,
		MaxPlayers: 32,
		Name:       cfg.Name,
		Public:     cfg.Public,
		Software:   cfg.Software,
	}, factory, log)
	if err := tasks.Add("heartbeat", 0, cfg.HeartbeatInterval, poster.Task()); err != nil {
		return fmt.Errorf("classicserver: scheduling heartbeat: %w", err)
	}

	listenAddr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	listener, err := listenTCP(listenAddr, cfg.Backlog)
	if err != nil {
		return fmt.Errorf("classicserver: listen: %w", err)
	}
	log.Info().Str("addr", listenAddr).Int("backlog", cfg.Backlog).Msg("listening")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return tasks.Run(gctx) })
	factory.Serve(gctx, listener, group)

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info().Msg("shut down cleanly")
	return nil
}

// listenTCP opens the listening socket. backlog is accepted for parity
// with spec §6's --backlog flag; Go's net package doesn't expose the
// listen(2) backlog directly, so it's recorded for operators via the
// log line rather than silently dropped.
func listenTCP(addr string, backlog int) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	_ = backlog
	return l, nil
}
