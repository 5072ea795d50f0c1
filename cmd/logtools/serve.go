package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"logtools/internal/api"
	"logtools/internal/collector"
	"logtools/internal/config"
	"logtools/internal/ingest"
	"logtools/internal/logging"
	"logtools/internal/parser"
	"logtools/internal/storage"
	"logtools/internal/tailer"
	"logtools/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Tail configured sources into the store and serve the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	// Env vars provide the defaults, flags override them.
	f := cmd.Flags()
	f.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for the API and /metrics")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "bbolt database path")
	f.StringVar(&cfg.SourcesPath, "sources", cfg.SourcesPath, "YAML file listing log sources")
	f.IntVar(&cfg.IngestPort, "ingest-port", cfg.IngestPort, "TCP/UDP port for line ingestion (0 disables)")
	f.StringVar(&cfg.IngestParser, "ingest-parser", cfg.IngestParser, "parser for ingested lines")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of parse workers")
	f.IntVar(&cfg.RetentionDays, "retention-days", cfg.RetentionDays, "days to keep stored lines (0 keeps forever)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	f.BoolVar(&cfg.Debug, "debug", cfg.Debug, "human-readable development logging")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	zl, err := logging.New(cfg.LogLevel, cfg.Debug)
	if err != nil {
		return err
	}
	defer zl.Sync()
	logger := zl.Sugar()

	if err := cfg.LoadSources(); err != nil {
		return err
	}
	logger.Infof("Starting logtools on port %d...", cfg.Port)

	store, err := storage.NewBoltStore(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	coll := collector.NewLineCollector()
	coll.Register(prometheus.DefaultRegisterer)

	wp := worker.NewPool(cfg.Workers, coll, store, logger)
	wp.Start()
	defer wp.Stop()

	// Feeders must finish before the pool stops, and only finish once ctx
	// is cancelled.
	var feeders sync.WaitGroup
	defer feeders.Wait()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("Registered parsers: %v", parser.AvailableParsers())
	logger.Infof("Starting %d configured sources...", len(cfg.Sources))

	for _, src := range cfg.Sources {
		if !src.Enabled {
			logger.Infof("  [SKIP] %s (disabled)", src.Name)
			continue
		}
		p, err := parser.Get(src.Parser)
		if err != nil {
			logger.Errorf("  [ERR]  %s: %v", src.Name, err)
			continue
		}
		if err := startSource(ctx, src, p, wp, &feeders, logger); err != nil {
			logger.Errorf("  [ERR]  %s: %v", src.Name, err)
			continue
		}
		logger.Infof("  [OK]   %s (%s) → %s", src.Name, src.Parser, src.Path)
	}

	if cfg.IngestPort > 0 {
		p, err := parser.Get(cfg.IngestParser)
		if err != nil {
			return err
		}
		srv := ingest.NewServer(cfg.IngestPort, cfg.IngestSource, p, wp, logger)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stop()
			srv.Wait()
		}()
	}

	if cfg.RetentionDays > 0 {
		go pruneLoop(ctx, store, time.Duration(cfg.RetentionDays)*24*time.Hour, logger)
	}

	mux := http.NewServeMux()
	api.NewAPI(cfg, store, coll, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Infof("HTTP server listening on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		return err
	}
	logger.Infof("Shutting down")
	return nil
}

func startSource(ctx context.Context, src config.SourceDef, p parser.LogParser, wp *worker.Pool, wg *sync.WaitGroup, logger *zap.SugaredLogger) error {
	lines := make(chan string)
	if err := tailer.TailFile(ctx, src.Path, src.Follow, lines, logger); err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for line := range lines {
			wp.Submit(worker.Job{
				Source: src.Name,
				Line:   line,
				Parser: p,
			})
		}
		if !src.Follow {
			logger.Infof("Source %s: reached end of %s", src.Name, src.Path)
		}
	}()
	return nil
}

func pruneLoop(ctx context.Context, store storage.Store, olderThan time.Duration, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := store.DeleteOldLines(olderThan); err != nil {
			logger.Warnf("Retention: prune failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
