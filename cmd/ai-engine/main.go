// The ai-engine binary serves the carbon project verification API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/cache"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/clock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/environment"
	envmock "github.com/carbonflow/ai-engine/pkg/carbonverify/environment/mock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/features"
	imgmock "github.com/carbonflow/ai-engine/pkg/carbonverify/imagery/mock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/jobs"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/legitimacy"
	legitmock "github.com/carbonflow/ai-engine/pkg/carbonverify/legitimacy/mock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/predictor"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/server"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/store"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/vegetation"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/verification"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/worker"
)

// mockLegitimacyScore is used when no legitimacy API key is configured.
const mockLegitimacyScore = 0.9

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if err := run(); err != nil {
		klog.ErrorS(err, "Engine exited with error")
		os.Exit(1)
	}
}

func run() error {
	// A local .env is optional outside development.
	if err := godotenv.Load(); err == nil {
		klog.V(2).InfoS("Loaded .env file")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	envProvider, envCleanup := buildEnvironmentProvider(cfg.Providers.Environment)
	defer envCleanup()

	scorer, scorerCleanup := buildLegitimacyScorer(cfg.Providers.Legitimacy)
	defer scorerCleanup()

	// Satellite acquisition runs against the synthetic provider; real
	// imagery APIs are integrated upstream of this service.
	if !cfg.Providers.Imagery.UseMock {
		klog.InfoS("Imagery API configured but not supported, using synthetic provider",
			"url", cfg.Providers.Imagery.URL)
	}
	imgProvider := imgmock.New()

	clk := clock.RealClock{}
	pool := worker.New(cfg.Verification.InferenceWorkers)
	extractor := features.NewExtractor(envProvider, clk)
	pred := predictor.New(cfg.Models, extractor, clk)
	engine := vegetation.New(cfg.Models, cfg.Verification, imgProvider, pool, nil, clk)

	// Both models initialize in parallel; either failure is fatal.
	initCtx, cancelInit := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancelInit()
	g, gctx := errgroup.WithContext(initCtx)
	g.Go(func() error { return pred.Initialize(gctx) })
	g.Go(func() error { return engine.Initialize(gctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initializing models: %w", err)
	}

	aggregator := verification.New(cfg.Verification, engine, scorer, pred, st, clk)
	srv := server.New(*cfg, aggregator, engine, pred, st, clk)

	runner := jobs.New(cfg.Jobs, cfg.Store.RetentionDays, st, map[string]jobs.HealthReporter{
		"carbon_predictor":   pred,
		"satellite_analyzer": engine,
	})
	if err := runner.Start(); err != nil {
		return fmt.Errorf("starting background jobs: %w", err)
	}
	defer runner.Stop()

	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled {
		metricsServer = startMetricsServer(cfg.Observability.MetricsPort)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		klog.InfoS("Starting HTTP server", "addr", httpServer.Addr, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		klog.InfoS("Shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		klog.ErrorS(err, "HTTP server shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			klog.ErrorS(err, "Metrics server shutdown failed")
		}
	}
	return nil
}

func buildEnvironmentProvider(cfg config.ProviderConfig) (environment.Provider, func()) {
	if cfg.UseMock {
		klog.InfoS("Using mock environmental provider")
		return envmock.New(), func() {}
	}

	obsCache := cache.New(time.Duration(cfg.CacheTTL), time.Duration(cfg.MaxCacheAge))
	client := environment.NewClient(cfg, environment.WithCache(obsCache))
	klog.InfoS("Using environmental API", "url", cfg.URL)
	return client, func() {
		client.Close()
		obsCache.Close()
	}
}

func buildLegitimacyScorer(cfg config.ProviderConfig) (legitimacy.Scorer, func()) {
	if cfg.UseMock {
		klog.InfoS("Using mock legitimacy scorer", "score", mockLegitimacyScore)
		return legitmock.New(mockLegitimacyScore), func() {}
	}

	client := legitimacy.NewClient(cfg)
	klog.InfoS("Using legitimacy API", "url", cfg.URL)
	return client, client.Close
}

func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		klog.InfoS("Starting metrics server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "Metrics server failed")
		}
	}()
	return srv
}
