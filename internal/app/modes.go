package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/botledger/internal/server"
	"github.com/alanyoungcy/botledger/internal/server/handler"
)

// ServerMode serves the HTTP API and the live event stream until ctx ends.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// ArchiveMode copies audit events older than the retention window to object
// storage once and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	return a.archiveOnce(ctx, deps)
}

// FullMode runs the server together with a periodic archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
		defer ticker.Stop()
		for {
			// Archival failures are retried on the next tick.
			if err := a.archiveOnce(ctx, deps); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	return ignoreCanceled(g.Wait())
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archive: object storage is not configured")
	}
	before := time.Now().UTC().Add(-a.cfg.Archive.Retention())
	n, err := deps.Archiver.ArchiveEvents(ctx, before)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("events", n),
		slog.Time("before", before),
	)
	return nil
}

// startHTTPServer adds the hub and the API server to g. The server is shut
// down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	httpLogger := a.logger.With(slog.String("component", "http"))

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		MaxSkew:     a.cfg.Server.MaxSkew.Duration,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(a.cfg.Mode, deps.Checks, httpLogger),
		Config:      handler.NewConfigHandler(deps.Config, httpLogger),
		Delegations: handler.NewDelegationHandler(deps.Delegations, httpLogger),
		Positions:   handler.NewPositionHandler(deps.Positions, httpLogger),
		Events:      handler.NewEventHandler(deps.Audit, deps.Archives, httpLogger),
	}, server.Options{
		Hub:     deps.Hub,
		Limiter: deps.Limiter,
		Nonces:  deps.Nonces,
	}, httpLogger)

	if deps.Hub != nil {
		g.Go(func() error {
			return deps.Hub.Run(ctx)
		})
	}

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
