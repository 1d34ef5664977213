package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"enclave/internal/aggregate"
	"enclave/internal/audit"
	"enclave/internal/auth"
	"enclave/internal/blob"
	"enclave/internal/config"
	"enclave/internal/gateway"
	"enclave/internal/metrics"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Listen     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the isolation gateway",
		Long: `Start the HTTP gateway. Configuration comes from a YAML file; the
credential table may instead be supplied via the ` + config.TokensEnv + `
environment variable as a JSON object of principal to secret.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	logger := newLogger(opts.RootOptions)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if err := os.MkdirAll(cfg.NamespacesRoot, 0o750); err != nil {
		return fmt.Errorf("create namespaces root: %w", err)
	}

	gate, err := auth.NewGate(cfg.Tokens)
	if err != nil {
		return err
	}
	auditLog, err := audit.Open(cfg.Audit)
	if err != nil {
		return fmt.Errorf("open audit sink: %w", err)
	}
	artifacts, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	exporter := aggregate.NewExporter(
		aggregate.Aggregator{NamespacesRoot: cfg.NamespacesRoot},
		artifacts,
		auditLog,
	)
	exporter.Start(cfg.ExportWorkers)
	defer exporter.Stop()

	gw := gateway.New(cfg, gate, exporter, auditLog, metrics.New(), logger)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen,
			"namespaces_root", cfg.NamespacesRoot,
			"corpus", cfg.Corpus.Path,
			"audit_driver", auditLog.Driver(),
			"blob_driver", string(artifacts.Driver()))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
