package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/synchronie/cotation/internal/api"
	"github.com/synchronie/cotation/internal/bands"
	"github.com/synchronie/cotation/internal/bus"
	"github.com/synchronie/cotation/internal/cache"
	"github.com/synchronie/cotation/internal/config"
	"github.com/synchronie/cotation/internal/domain"
	"github.com/synchronie/cotation/internal/metrics"
	"github.com/synchronie/cotation/internal/repository"
	"github.com/synchronie/cotation/internal/scoring"
	"github.com/synchronie/cotation/internal/session"
	"github.com/synchronie/cotation/internal/upstream"
	"github.com/synchronie/cotation/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scoring session HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting cotation",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"upstream", cfg.Upstream.BaseURL,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Save ledger
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Grid cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Event bus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	m := metrics.New()

	client := upstream.NewClient(cfg.Upstream)
	loader := upstream.NewCachedLoader(client, cacheImpl, cfg.Cache.GridTTL)
	loader.OnLookup = m.GridCacheLookup

	classifier, err := bands.NewClassifier(cfg.Bands)
	if err != nil {
		return fmt.Errorf("failed to compile score bands: %w", err)
	}
	slog.Info("score bands compiled", "count", len(cfg.Bands))

	registry, err := session.NewRegistry(cfg.Session, session.Deps{
		Loader:     loader,
		Persister:  client,
		Ledger:     repo,
		Bus:        busImpl,
		Summarizer: scoring.NewSummarizer(classifier),
		Observer:   m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session registry: %w", err)
	}
	go registry.Run(ctx)

	ratingWorker := worker.NewWorker(busImpl, registry)
	if err := ratingWorker.Start(); err != nil {
		return fmt.Errorf("failed to start rating worker: %w", err)
	}
	if err := watchRuntime(m, ratingWorker, busImpl, cacheImpl); err != nil {
		slog.Warn("runtime metrics unavailable", "error", err)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Registry: registry,
		Ledger:   repo,
		Grids:    loader,
		Cache:    cacheImpl,
		Bus:      busImpl,
	}, m, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("cotation is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}
	slog.Info("shutting down...")

	// stop consuming ratings before the HTTP side goes away
	if err := ratingWorker.Stop(); err != nil {
		slog.Error("failed to stop rating worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("cotation shutdown complete", "open_sessions", registry.Len())
	return serveErr
}

// sizedCache is implemented by the caches that keep a local LRU.
type sizedCache interface {
	Stats() (size int, capacity int)
}

// watchRuntime exposes worker, bus and cache counters on /metrics.
func watchRuntime(m *metrics.Metrics, w *worker.Worker, b domain.EventBus, c domain.Cache) error {
	for _, outcome := range []string{"applied", "dropped"} {
		err := m.CounterFunc("bus_rating_events_total", "Rating events consumed from the bus by outcome.",
			prometheus.Labels{"outcome": outcome}, func() float64 {
				st := w.GetStats()
				if outcome == "applied" {
					return float64(st.Applied)
				}
				return float64(st.Dropped)
			})
		if err != nil {
			return err
		}
	}

	switch eb := b.(type) {
	case *bus.ChannelBus:
		if err := m.CounterFunc("bus_deliveries_dropped_total", "In-process deliveries skipped on a full buffer.",
			nil, func() float64 { return float64(eb.Dropped()) }); err != nil {
			return err
		}
	case *bus.NATSBus:
		if err := m.CounterFunc("nats_messages_total", "Messages exchanged with NATS.",
			prometheus.Labels{"direction": "in"}, func() float64 { return float64(eb.Stats().InMsgs) }); err != nil {
			return err
		}
		if err := m.CounterFunc("nats_messages_total", "Messages exchanged with NATS.",
			prometheus.Labels{"direction": "out"}, func() float64 { return float64(eb.Stats().OutMsgs) }); err != nil {
			return err
		}
		if err := m.CounterFunc("nats_reconnects_total", "NATS reconnections.",
			nil, func() float64 { return float64(eb.Stats().Reconnects) }); err != nil {
			return err
		}
	}

	if sc, ok := c.(sizedCache); ok {
		entries := func() float64 {
			size, _ := sc.Stats()
			return float64(size)
		}
		capacity := func() float64 {
			_, limit := sc.Stats()
			return float64(limit)
		}
		if err := m.GaugeFunc("grid_cache_entries", "Entries held by the local grid cache.", nil, entries); err != nil {
			return err
		}
		if err := m.GaugeFunc("grid_cache_capacity", "Capacity of the local grid cache.", nil, capacity); err != nil {
			return err
		}
	}

	return nil
}

func printBanner(cmd *cobra.Command, cfg *domain.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Cotation %s\n", Version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  Upstream: %s\n", cfg.Upstream.BaseURL)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST   /sessions                - Open a scoring session")
	fmt.Fprintln(out, "    PUT    /sessions/{id}/ratings   - Record a rating")
	fmt.Fprintln(out, "    GET    /sessions/{id}/preview   - Preview the save payload")
	fmt.Fprintln(out, "    POST   /sessions/{id}/save      - Save the cotation")
	fmt.Fprintln(out, "    POST   /sessions/{id}/reset     - Clear all ratings")
	fmt.Fprintln(out, "    GET    /saves?seance_id=        - Save attempts of a seance")
	fmt.Fprintln(out, "    GET    /health                  - Health check")
	fmt.Fprintln(out)
}
