package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iwpnd/kvadrere/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tiler over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address, overrides the config")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return fmt.Errorf("new config: %w", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" { //nolint:errcheck
		cfg.Listen = listen
	}

	logger, err := cfg.newLogger()
	if err != nil {
		return fmt.Errorf("new logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	tiler, release, err := cfg.newTiler()
	if err != nil {
		return err
	}
	defer release()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(server.Config{
		Tiler:          tiler,
		Logger:         logger,
		Registry:       registry,
		BodyLimit:      cfg.BodyLimit,
		FeatureOptions: cfg.featureOptions(),
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Listen(cfg.Listen)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.Error("server fatal error", zap.Error(err))
		return err
	case sig := <-signalChan:
		logger.Info("interrupting signal", zap.String("value", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
