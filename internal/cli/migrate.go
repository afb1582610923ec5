package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Proged2021/Time-card-app-V2/internal/app"
	"github.com/Proged2021/Time-card-app-V2/internal/store"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg.Env)
			defer func() { _ = log.Sync() }()

			db, err := store.NewDB(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := store.NewMigrator(db.Client, log)
			if err != nil {
				return err
			}
			if err := m.Up(cmd.Context()); err != nil {
				return err
			}
			v, err := m.Version(cmd.Context())
			if err != nil {
				return err
			}
			log.Debug("schema ready", zap.Int64("version", v))
			return rootOpts.print(cmd.OutOrStdout(), fmt.Sprintf("schema at version %d", v), map[string]int64{"version": v})
		},
	}
}
