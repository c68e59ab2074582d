package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/artifacts"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/buildinfo"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/bus"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/config"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/locks"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	infraMetrics "github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/metrics"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/redisutil"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/secrets"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/manifest"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/pipeline"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/registry"
)

func main() {
	buildinfo.Log("registry-validator")
	cfg := config.Load()

	pipeCfg, err := config.LoadPipeline(cfg.PipelineConfigPath)
	if err != nil {
		log.Fatalf("load pipeline config (%s): %v", cfg.PipelineConfigPath, err)
	}
	scanner, err := secrets.NewScanner(pipeCfg.SecretPatterns)
	if err != nil {
		log.Fatalf("compile secret patterns: %v", err)
	}

	client, err := redisutil.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer client.Close()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsBus.Close()

	settings := manifest.Settings{
		RawBaseURL:   pipeCfg.RawBaseURL,
		ManifestFile: pipeCfg.ManifestFile,
		Branches:     pipeCfg.Branches,
	}
	fetcher := manifest.NewFetcher(settings,
		manifest.WithTimeout(pipeCfg.FetchTimeout()),
		manifest.WithMaxBytes(pipeCfg.MaxManifestBytes),
		manifest.WithUserAgent(buildinfo.UserAgent("registry-validator")),
	)
	store := registry.NewRedisStore(client)
	reg := infraMetrics.NewRegistry()
	infraMetrics.RegisterBreakers(reg, "registry_validator", fetcher.BreakerStates)
	machine := pipeline.NewMachine(store, fetcher, scanner, pipeline.Config{
		Settings:       settings,
		DefaultVersion: pipeCfg.DefaultVersion,
		RunTimeout:     pipeCfg.RunTimeout(),
		Metrics:        infraMetrics.NewProm("registry_validator", reg),
		Events:         natsBus,
		Snapshots:      artifacts.NewRedisStore(client),
	})

	if err := natsBus.Subscribe(bus.SubjectSubmissionCreated, bus.QueueValidator, machine.HandleCreated); err != nil {
		log.Fatalf("subscribe %s: %v", bus.SubjectSubmissionCreated, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	replayer := pipeline.NewPendingReplayer(machine, store, locks.NewRedisLocker(client), pipeCfg.ReplayPendingAfter(), pipeCfg.ReplayInterval())
	metricsSrv := &http.Server{
		Addr:         cfg.ValidatorMetricsAddr,
		Handler:      metricsMux(reg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		replayer.Start(ctx)
		return nil
	})
	g.Go(func() error {
		logging.Info("registry-validator", "metrics listening", "addr", cfg.ValidatorMetricsAddr+"/metrics")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	logging.Info("registry-validator", "running", "subject", bus.SubjectSubmissionCreated, "queue", bus.QueueValidator)
	if err := g.Wait(); err != nil {
		log.Fatalf("registry validator error: %v", err)
	}
	logging.Info("registry-validator", "shutdown complete")
}

func metricsMux(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", infraMetrics.Handler(g))
	return mux
}
