package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"role-sync-service/internal/config"
)

type App struct {
	httpServer *http.Server
	core       *Core
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	core, err := NewCore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           setupHTTP(core, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		httpServer: server,
		core:       core,
	}, nil
}

func (a *App) Run() error {
	err := a.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return a.core.Close()
}
