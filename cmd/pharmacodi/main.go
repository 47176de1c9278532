// Command pharmacodi converts PSet exports into PharmacoDB tables and loads
// them into Postgres.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bhklab/pharmacodi/internal/config"
	"github.com/bhklab/pharmacodi/internal/db"
	"github.com/bhklab/pharmacodi/internal/dbload"
	"github.com/bhklab/pharmacodi/internal/pipeline"
	"github.com/bhklab/pharmacodi/internal/pset"
	"github.com/bhklab/pharmacodi/internal/store"
	"github.com/bhklab/pharmacodi/internal/trials"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)
	root := &cobra.Command{
		Use:           "pharmacodi",
		Short:         "Build and load PharmacoDB tables from PSet exports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory containing config.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	setup := func() (config.Config, *zap.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, nil, err
		}
		logger, err := newLogger(verbose)
		if err != nil {
			return config.Config{}, nil, err
		}
		return cfg, logger, nil
	}

	root.AddCommand(newBuildCmd(setup))
	root.AddCommand(newRunCmd(setup))
	root.AddCommand(newTrialsCmd(setup))
	root.AddCommand(newLoadCmd(setup))
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.Encoding = "console"
	return cfg.Build()
}

type setupFunc func() (config.Config, *zap.Logger, error)

// signalContext cancels on SIGINT or SIGTERM so partially written outputs
// stop cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newBuildCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Convert raw PSet exports into per-dataset CSV tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := signalContext()
			defer cancel()
			return pset.BuildAll(ctx, cfg.RawDir, cfg.ProcDir, cfg.Datasets, cfg.Workers, logger)
		},
	}
}

func newRunCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Combine per-dataset tables into the PharmacoDB output tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			report, err := pipeline.New(cfg, logger).Run()
			if err != nil {
				return err
			}
			logger.Info("pipeline finished",
				zap.String("run_id", report.RunID.String()),
				zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
				zap.Int("tables", len(report.TableRows)))
			return nil
		},
	}
}

func newTrialsCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "trials",
		Short: "Fetch clinical trials for known compounds and build trial tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			writer := store.NewWriter(cfg.OutputDir)
			synonyms, err := writer.Read("compound_synonym")
			if err != nil {
				return fmt.Errorf("the compound_synonym table must be built first: %w", err)
			}
			names, err := synonyms.Column("compound_name")
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			client := trials.NewClient(cfg.Trials, nil, logger)
			result, err := client.Fetch(ctx, names)
			if err != nil {
				return err
			}
			for _, failure := range result.Failures {
				logger.Warn("compound lookup failed",
					zap.String("compound", failure.Compound),
					zap.Error(failure.Err))
			}

			clinicalTrial, compoundTrial, err := trials.BuildTables(result.Studies, synonyms)
			if err != nil {
				return err
			}
			if _, err := writer.Write(clinicalTrial, "clinical_trial", false); err != nil {
				return err
			}
			if _, err := writer.Write(compoundTrial, "compound_trial", false); err != nil {
				return err
			}
			logger.Info("trial tables written",
				zap.Int("clinical_trial", clinicalTrial.NumRows()),
				zap.Int("compound_trial", compoundTrial.NumRows()),
				zap.Int("failed_compounds", len(result.Failures)))
			return nil
		},
	}
}

func newLoadCmd(setup setupFunc) *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Apply the schema and bulk-load output tables into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !skipMigrations {
				if err := db.RunMigrations(cfg.Database, "migrations"); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext()
			defer cancel()
			conn, err := db.NewConnection(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			loader := dbload.New(conn, store.NewWriter(cfg.OutputDir), logger)
			return loader.LoadAll(ctx)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply schema migrations before loading")
	return cmd
}
