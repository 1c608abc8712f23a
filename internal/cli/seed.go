package cli

import (
	"fmt"

	"assessx-live/internal/config"
	"assessx-live/internal/domain"
	"assessx-live/internal/infra/memory"
	"assessx-live/internal/infra/postgres"
	"assessx-live/internal/logger"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewSeedCmd imports the YAML seed file into the tests table.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import test definitions from a YAML file into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			if file == "" {
				file = cfg.Tests.SeedFile
			}

			byCode, err := memory.LoadSeedFile(file)
			if err != nil {
				return err
			}
			tests := make([]domain.TestDefinition, 0, len(byCode))
			for _, test := range byCode {
				tests = append(tests, test)
			}

			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			if err := postgres.NewTestLoader(pool).SaveTests(cmd.Context(), tests); err != nil {
				return err
			}
			log.Info().Int("count", len(tests)).Str("file", file).Msg("tests imported")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed file (defaults to tests.seedFile)")
	return cmd
}
