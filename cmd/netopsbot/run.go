package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"netopsbot/internal/backend"
	"netopsbot/internal/config"
	"netopsbot/internal/domain"
	"netopsbot/internal/extract"
	"netopsbot/internal/metrics"
	"netopsbot/internal/parser"
	"netopsbot/internal/router"
	"netopsbot/internal/session"
)

const shutdownTimeout = 10 * time.Second

// runRouter wires the session store, extractor, adapters and dispatcher
// behind transport and blocks until ctx is done or the transport fails.
func runRouter(ctx context.Context, cfg *config.Config, transport domain.Transport) error {
	store, err := session.Open(ctx, cfg.Session, cfg.General.DeviceID, logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	extractor, err := extract.New(cfg.Extract.TemplatesFile, logger)
	if err != nil {
		return fmt.Errorf("extract templates: %w", err)
	}

	set, err := backend.New(cfg, extractor, logger)
	if err != nil {
		return fmt.Errorf("backends: %w", err)
	}

	dispatcher := router.NewDispatcher(router.DispatcherConfig{
		Config:   set.ConfigBackends(),
		CLI:      set.CLI,
		Playbook: set.Playbook,
		Logger:   logger,
	})

	metricsDone := make(chan struct{})
	if cfg.Metrics.Enabled {
		go func() {
			defer close(metricsDone)
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Endpoint, logger); err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	} else {
		close(metricsDone)
	}

	if err := transport.Open(ctx); err != nil {
		return fmt.Errorf("open %s: %w", transport.Name(), err)
	}
	defer transport.Close()

	loop := router.NewLoop(router.LoopConfig{
		Transport:  transport,
		Parser:     parser.New(cfg.General.DeviceID, store),
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	logger.Info("router started",
		"device", cfg.General.DeviceID,
		"channel", transport.Name(),
		"session", cfg.Session.Backend,
	)
	err = loop.Run(ctx)
	if errors.Is(err, io.EOF) {
		err = nil
	}

	if cfg.Metrics.Enabled && ctx.Err() != nil {
		select {
		case <-metricsDone:
		case <-time.After(shutdownTimeout):
			logger.Warn("metrics server shutdown timed out")
		}
	}
	logger.Info("router stopped")
	return err
}
