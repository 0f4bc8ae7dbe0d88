package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ivr-platform/internal/audit"
	"ivr-platform/internal/calls"
	"ivr-platform/internal/config"
	"ivr-platform/internal/texts"
	"ivr-platform/internal/users"
	"ivr-platform/pkg/logger"
)

type schemaOwner interface {
	EnsureSchema(ctx context.Context) error
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users, texts, call_sessions and audit_events tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			ctx := logger.With(cmd.Context(), logger.New(cfg.App.Env, cfg.App.LogLevel))

			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			owners := []struct {
				name string
				repo schemaOwner
			}{
				{"users", users.NewPostgresDirectory(db)},
				{"texts", texts.NewPostgresRepo(db)},
				{"call_sessions", calls.NewPostgresRepo(db)},
				{"audit_events", audit.NewPostgresRepo(db)},
			}
			for _, o := range owners {
				if err := o.repo.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("migrate %s: %w", o.name, err)
				}
				logger.From(ctx).Info("schema ensured", "table", o.name)
			}
			return nil
		},
	}
}
