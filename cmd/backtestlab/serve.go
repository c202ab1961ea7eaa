package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	httpapi "github.com/saltfish/backtestlab/internal/api/http"
	"github.com/saltfish/backtestlab/internal/db"
	"github.com/saltfish/backtestlab/internal/db/repository"
	"github.com/saltfish/backtestlab/internal/events"
	"github.com/saltfish/backtestlab/internal/session"
)

// serve runs the control API until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	if !cfg.HTTP.Enabled {
		return errors.New("serve requires http.enabled")
	}

	// 1. Event sinks: the WebSocket hub always, RabbitMQ when configured.
	hub := httpapi.NewHub(logger)
	go hub.Run()
	publisher := events.NewMultiPublisher(hub)

	if cfg.RabbitMQ.Enabled {
		logger.Info("Connecting to RabbitMQ...")
		rmq, err := events.NewRabbitMQPublisher(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn("Failed to connect to RabbitMQ, events stay local", zap.Error(err))
		} else {
			publisher.Add(rmq)
		}
	}
	defer publisher.Close()

	// 2. Optional run journal.
	var (
		recorder session.RunRecorder
		runs     httpapi.RunStore
		pinger   httpapi.Pinger
	)
	if cfg.Database.Enabled {
		logger.Info("Connecting to PostgreSQL...")
		pool, err := db.NewPool(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		repos := repository.NewRepositories(pool)
		if err := repos.Run.EnsureSchema(ctx); err != nil {
			return err
		}
		recorder, runs, pinger = repos.Run, repos.Run, pool
	}

	// 3. Session. A failed initial load is reported through the API and can
	// be retried with POST /api/v1/session/load.
	sess := session.New(session.ConfigFrom(&cfg.Session), a.client, publisher, recorder, logger)
	defer sess.Dispose()
	if err := sess.Load(ctx); err != nil {
		logger.Warn("Initial option load failed", zap.String("message", sess.Error()))
	}

	// 4. HTTP server.
	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	server := httpapi.NewServer(addr, httpapi.NewHandler(sess, runs, logger), hub, pinger, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("backtestlab serving",
		zap.String("address", addr),
		zap.String("backend", a.client.BaseURL()),
		zap.Bool("database", cfg.Database.Enabled),
		zap.Bool("rabbitmq", cfg.RabbitMQ.Enabled),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeoutDuration())
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	return nil
}
