package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dshills/ledgerbus/internal/config"
	"github.com/dshills/ledgerbus/internal/logging"
	"github.com/dshills/ledgerbus/internal/metrics"
	"github.com/dshills/ledgerbus/internal/node"
	"github.com/dshills/ledgerbus/internal/server"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledgerbus",
		Short:         "Consensus node subscription engine",
		Long:          "ledgerbus runs the node's subscription engine and lane dispatcher against synthetic consensus rounds.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringP("config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a TOML config file")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads the file named by --config. A file named explicitly must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path, config.WithRequired(path != ""))
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node against synthetic consensus rounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("rounds") {
				cfg.Simulation.Rounds, _ = cmd.Flags().GetInt("rounds")
			}

			logger, err := logging.New(logging.Options{
				App:    "ledgerbus",
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				Out:    cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := runNode(ctx, cfg, logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().Int("rounds", 0, "number of rounds to run; 0 runs until interrupted")
	return cmd
}

// runNode wires the node, drives the simulation until it finishes or ctx
// ends, and shuts everything down.
func runNode(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (node.Report, error) {
	m, err := node.NewSubscription(cfg.Dispatcher, logger)
	if err != nil {
		return node.Report{}, err
	}

	observer := node.Observe(m)
	defer observer.Close()

	source := metrics.NewSource(m)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() {
		_ = provider.Shutdown(context.Background())
	}()
	exporter, err := metrics.NewOTelExporter(provider.Meter("github.com/dshills/ledgerbus"), source)
	if err != nil {
		return node.Report{}, err
	}
	defer func() {
		_ = exporter.Close()
	}()

	if cfg.Metrics.Enabled {
		reg, err := metrics.NewRegistry(metrics.NewCollector(cfg.Metrics.Namespace, source))
		if err != nil {
			return node.Report{}, err
		}
		srv := server.NewServer(cfg.Metrics.Addr,
			server.New(source, metrics.Handler(reg), logging.Component(logger, "server")),
			logging.Component(logger, "server"))
		if _, err := srv.Start(); err != nil {
			return node.Report{}, fmt.Errorf("starting diagnostics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.DrainTimeout.Std())
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sim := node.NewSimulator(m, cfg.Simulation, logging.Component(logger, "simulator"))
	runErr := sim.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.DrainTimeout.Std())
	defer cancel()
	if err := m.Dispose(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("dispatcher drain incomplete")
	}

	logFinalMetrics(reader, logger)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return node.Report{}, runErr
	}
	return observer.Report(), nil
}

// logFinalMetrics collects the OpenTelemetry instruments once and logs the
// per-lane execution totals.
func logFinalMetrics(reader *sdkmetric.ManualReader, logger zerolog.Logger) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		logger.Warn().Err(err).Msg("collecting final metrics")
		return
	}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "ledgerbus.dispatch.tasks.executed" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				lane, _ := dp.Attributes.Value("lane")
				logger.Info().Str("lane", lane.AsString()).Int64("executed", dp.Value).Msg("lane totals")
			}
		}
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := cfg.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ledgerbus version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgerbus %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
