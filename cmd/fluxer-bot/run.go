// ABOUTME: The run command: loads config and runs the bot until interrupted
// ABOUTME: Optionally serves Prometheus metrics and journals raw events to SQLite

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/2389/fluxer-go/internal/client"
	"github.com/2389/fluxer-go/internal/config"
	"github.com/2389/fluxer-go/internal/gateway"
	"github.com/2389/fluxer-go/internal/ledger"
	"github.com/2389/fluxer-go/internal/rest"
)

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and serve chat commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runBot(ctx, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", getConfigPath(), "path to config file (.yaml or .toml)")
	return cmd
}

// clientConfig maps the loaded configuration onto the client's.
func clientConfig(cfg *config.Config) client.Config {
	return client.Config{
		Token:            cfg.Fluxer.Token,
		Intents:          cfg.Fluxer.Intents,
		MessageCacheSize: cfg.Cache.Messages,
		Gateway: gateway.Config{
			Encoding:              cfg.Gateway.Encoding,
			Version:               cfg.Gateway.Version,
			HandshakeTimeout:      cfg.Gateway.HandshakeTimeout,
			InvalidSessionBackoff: cfg.Gateway.InvalidSessionBackoff,
			WriteTimeout:          cfg.Gateway.WriteTimeout,
		},
		REST: rest.Config{
			BaseURL:     cfg.Fluxer.BaseURL,
			APIVersion:  cfg.Fluxer.APIVersion,
			TokenPrefix: cfg.Fluxer.TokenPrefix,
			UserAgent:   "fluxer-bot/" + version,
		},
	}
}

func runBot(ctx context.Context, configPath string) error {
	printBanner()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("API:     %s\n", cfg.Fluxer.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Intents: %v\n", cfg.Fluxer.Intents.Names())
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics: http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	if cfg.Ledger.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:  %s\n", cfg.Ledger.Path)
	}
	fmt.Println()

	var opts []client.Option
	if cfg.Gateway.URL != "" {
		opts = append(opts, client.WithURLResolver(gateway.StaticURL(cfg.Gateway.URL)))
	}

	var journal *ledger.Ledger
	if cfg.Ledger.Enabled {
		journal, err = ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer journal.Close()
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, client.WithMetrics(reg))
		metricsSrv := startMetricsServer(cfg.Metrics, reg, logger)
		defer stopMetricsServer(metricsSrv, logger)
	}

	c := client.New(clientConfig(cfg), logger, opts...)
	newBot(c, logger).install()

	var wg sync.WaitGroup
	if journal != nil {
		events, _ := c.SubscribeRaw(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			journal.Consume(ctx, events)
		}()
	}

	runErr := c.Run(ctx)
	wg.Wait()

	if errors.Is(runErr, client.ErrLoginFailure) {
		return fmt.Errorf("check fluxer.token: %w", runErr)
	}
	return runErr
}

func startMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", cfg.Addr, "error", err)
		}
	}()
	return srv
}

func stopMetricsServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}
}
