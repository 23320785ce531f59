package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Zuo-Peng/chimp/internal/config"
	"github.com/Zuo-Peng/chimp/internal/formats"
	"github.com/Zuo-Peng/chimp/internal/importer"
	"github.com/Zuo-Peng/chimp/internal/logging"
	"github.com/Zuo-Peng/chimp/internal/notify"
	"github.com/Zuo-Peng/chimp/internal/observability"
	"github.com/Zuo-Peng/chimp/internal/sniff"
	"github.com/Zuo-Peng/chimp/internal/store"
)

// global flags
var (
	configPath string
	logLevel   string
)

// app holds what a command needs. Commands build it with loadApp and must
// call close.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *sniff.Registry
	store    *store.Store
	imp      *importer.Importer
	loc      *time.Location

	tracer    *observability.TracerProvider
	publisher notify.Publisher
}

type appOptions struct {
	store bool // open the session store
	wire  bool // set up tracing and NATS
}

func loadApp(ctx context.Context, o appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	wait, err := cfg.WaitTimeout()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr),
		registry:  formats.NewRegistry(),
		loc:       loc,
		publisher: notify.Nop{},
	}

	if o.wire {
		a.tracer, err = observability.NewTracerProvider(ctx, observability.TracingConfig{
			Enabled:       cfg.Tracing.Enabled,
			ServiceName:   "chimp",
			Version:       version,
			Endpoint:      cfg.Tracing.Endpoint,
			Insecure:      cfg.Tracing.Insecure,
			SamplingRatio: cfg.Tracing.SamplingRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		if cfg.NATS.URL != "" {
			nc := notify.DefaultConfig()
			nc.URL = cfg.NATS.URL
			nc.Subject = cfg.NATS.Subject
			pub, err := notify.Connect(nc, a.logger)
			if err != nil {
				// progress publishing is optional; imports still run
				a.logger.Warn("NATS unavailable, import events will not be published", "error", err)
			} else {
				a.publisher = pub
			}
		}
	}

	var persister importer.Persister
	if o.store {
		a.store, err = store.Open(cfg.DataDir, a.logger)
		if err != nil {
			a.close()
			return nil, err
		}
		persister = importer.FromStore(a.store)
	}

	opts := importer.Options{
		BatchSize:           cfg.BatchSize,
		PreprocessThreshold: cfg.PreprocessThreshold(),
		TempDir:             cfg.TempDir,
		Location:            loc,
		MaxConcurrent:       cfg.MaxConcurrentImports,
		WaitTimeout:         wait,
		Logger:              a.logger,
		Publisher:           a.publisher,
	}
	if a.tracer != nil {
		opts.Tracer = a.tracer.Tracer()
	}
	a.imp = importer.New(a.registry, persister, opts)
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.publisher.Close(); err != nil {
		a.logger.Debug("close NATS", "error", err)
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Debug("shutdown tracing", "error", err)
		}
	}
}
