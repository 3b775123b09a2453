// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"sentinel/internal/config"
	"sentinel/internal/logger"
	"sentinel/internal/scheduler"
	"sentinel/internal/store/audit"
	"sentinel/internal/store/gormstore"
	transporthttp "sentinel/internal/transport/http"
)

// App holds the built components. NewApp constructs, Run starts.
type App struct {
	registry *config.Registry
	store    *gormstore.Store
	auditor  *audit.Store
	loop     *scheduler.Loop
	httpSrv  *transporthttp.Server
}

func NewApp(registry *config.Registry) (*App, error) {
	if registry == nil {
		return nil, fmt.Errorf("nil config registry")
	}
	return build(registry)
}

// Run starts the evaluation loop and the HTTP server and blocks until ctx is
// cancelled or one of them fails. Shutdown order is loop first (cancellation
// propagates through the group context), then HTTP drain, then store close.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.loop.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Run(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	return group.Wait()
}

func (a *App) close() {
	if a.auditor != nil {
		if err := a.auditor.Close(); err != nil {
			logger.Warnf("app: close audit store: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: close store: %v", err)
		}
	}
}
