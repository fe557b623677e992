// Package app runs the web front and the storage daemon side by side.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JustVugg/msgboard/internal/config"
	"github.com/JustVugg/msgboard/internal/daemon"
	"github.com/JustVugg/msgboard/internal/feed"
	"github.com/JustVugg/msgboard/internal/forwarder"
	"github.com/JustVugg/msgboard/internal/server"
	"github.com/JustVugg/msgboard/internal/store"
)

type App struct {
	config *config.Config
	logger *zap.Logger

	store  *store.Store
	daemon *daemon.Daemon
	server *server.Server
	hub    *feed.Hub
}

func New(cfg *config.Config, logger *zap.Logger) *App {
	st := store.New(cfg.Storage.Path)

	a := &App{
		config: cfg,
		logger: logger,
		store:  st,
		daemon: daemon.New(cfg.Daemon, st, logger),
	}

	if cfg.Feed.Enabled {
		a.hub = feed.NewHub(st, logger)
	}

	return a
}

func (a *App) Store() *store.Store {
	return a.store
}

// Server is the web front, nil until Listen succeeds.
func (a *App) Server() *server.Server {
	return a.server
}

func (a *App) Daemon() *daemon.Daemon {
	return a.daemon
}

// Listen creates the store if needed and binds both sockets. The web front
// is built afterwards so it sends to the address the daemon really got.
func (a *App) Listen() error {
	if err := a.store.Ensure(); err != nil {
		return err
	}

	if err := a.daemon.Listen(); err != nil {
		return fmt.Errorf("storage daemon: %w", err)
	}

	daemonAddr := a.daemon.Addr().String()

	opts := []server.Option{server.WithDaemonAddr(daemonAddr)}
	if a.hub != nil {
		opts = append(opts, server.WithFeed(a.hub))
	}
	sender := forwarder.NewUDPSender(daemonAddr)
	srv := server.New(a.config, sender, a.logger, opts...)

	if err := srv.Listen(); err != nil {
		a.daemon.Close()
		return fmt.Errorf("web front: %w", err)
	}

	a.server = srv
	return nil
}

// Run serves until ctx is cancelled or either loop fails, and returns after
// both have stopped and released their sockets.
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		if err := a.Listen(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.hub != nil {
		if err := a.hub.Start(ctx); err != nil {
			a.logger.Warn("live feed disabled", zap.Error(err))
		}
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	run := func(name string, serve func(context.Context) error) {
		defer wg.Done()
		if err := serve(ctx); err != nil {
			a.logger.Error("loop failed", zap.String("loop", name), zap.Error(err))
			once.Do(func() { firstErr = fmt.Errorf("%s: %w", name, err) })
		}
		// one loop ending takes the other down with it
		cancel()
	}

	wg.Add(2)
	go run("storage daemon", a.daemon.Serve)
	go run("web front", a.server.Serve)
	wg.Wait()

	return firstErr
}

// Reload applies a new configuration to the web front. It is a no-op before
// Listen.
func (a *App) Reload(cfg *config.Config) {
	if a.server == nil {
		return
	}
	a.server.Reload(cfg)
}
