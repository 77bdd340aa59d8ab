package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"chatrelay/internal/janitor"
	"chatrelay/pkg/config"
	"chatrelay/pkg/delivery"
	"chatrelay/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	hub *delivery.Hub
	jan *janitor.Janitor

	srv *http.Server
}

// New validates configuration and opens the store and delivery core. It
// does not start the janitor or the HTTP server; call Run to start
// those and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	d := eff.Config.Delivery
	hub := delivery.NewHub(delivery.Options{
		IdleWindow:  d.IdleSession.Duration(),
		OnlineGrace: d.OnlineGrace.Duration(),
	})
	jan := janitor.New(hub, d, eff.Config.Janitor)

	return &App{
		eff: eff, version: version, commit: commit, buildDate: buildDate,
		hub: hub, jan: jan,
	}, nil
}

// Run starts the janitor and the HTTP server, and blocks until ctx is
// canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.jan.Start(ctx); err != nil {
		return err
	}
	defer a.jan.Stop()
	defer a.hub.Close()

	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
		_ = store.Close()
		return nil
	case err := <-errCh:
		_ = store.Close()
		return err
	}
}
