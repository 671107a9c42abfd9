package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/isometry/ldapsync/internal/ldap"
	"github.com/isometry/ldapsync/internal/mapper"
	"github.com/isometry/ldapsync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass against the directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		log := logger.WithField("component", "sync")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := cfg.OpenStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		if err := st.Init(ctx); err != nil {
			return fmt.Errorf("init store: %w", err)
		}

		dial := func(ctx context.Context) (sync.Directory, error) {
			return ldap.Connect(ctx, &cfg.Directory, log)
		}

		engine := sync.New(dial, mapper.New(&cfg.Attributes), st, cfg.Sync, log)

		report, err := engine.Run(ctx)
		if report != nil {
			logger.WithFields(report.Summary()).Info("sync report")
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
