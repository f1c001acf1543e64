package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"classbook/internal/config"
	"classbook/internal/database"
	"classbook/internal/events"
	"classbook/internal/logging"
	"classbook/internal/seed"
	"classbook/internal/service"
	"classbook/internal/worker"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app is the state shared by subcommands once config is loaded.
type app struct {
	cfg    *config.Config
	db     *database.DB
	logger *zerolog.Logger
	closer io.Closer
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	return &app{cfg: cfg, db: db, logger: logger, closer: closer}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "classbookctl",
		Short:         "Maintenance commands for the class booking engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")

	root.AddCommand(newSweepCmd(&configPath))
	root.AddCommand(newSeedCmd(&configPath))
	root.AddCommand(newBackupCmd(&configPath))
	return root
}

func newSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue waitlist holds once and promote the next members",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			// Events go nowhere here; the API process delivers notifications.
			waitlist := service.NewWaitlistService(a.db, events.NewEventBus(), service.OptionsFromConfig(a.cfg.Booking), a.logger)
			expired := worker.NewHoldSweeper(waitlist, a.cfg.Waitlist.SweepInterval, a.logger).Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d holds\n", expired)
			return nil
		},
	}
}

func newSeedCmd(configPath *string) *cobra.Command {
	var file string

	c := &cobra.Command{
		Use:   "seed",
		Short: "Load users, cancellation policies and classes from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.Load(file)
			if err != nil {
				return err
			}
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			policies := service.NewPolicyService(a.db, service.OptionsFromConfig(a.cfg.Booking), a.logger)
			sum, err := seed.Apply(cmd.Context(), a.db, policies, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d policies, %d classes\n", sum.Users, sum.Policies, sum.Classes)
			return nil
		},
	}
	c.Flags().StringVar(&file, "file", envOr("SEED_PATH", "configs/seed.yaml"), "seed file")
	return c
}

func newBackupCmd(configPath *string) *cobra.Command {
	var keepDays int

	c := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database now and prune old snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			backupCfg := a.cfg.Backup
			if cmd.Flags().Changed("retention-days") {
				backupCfg.RetentionDays = keepDays
			}
			svc := database.NewBackupService(a.db, backupCfg, a.logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			path, err := svc.PerformBackup(ctx)
			if err != nil {
				return err
			}
			removed := svc.CleanupOldBackups()
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s, %d old backups removed\n", path, removed)
			return nil
		},
	}
	c.Flags().IntVar(&keepDays, "retention-days", 0, "override backup.retention_days")
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
