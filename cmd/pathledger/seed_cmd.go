package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pathledger/internal/config"
	"pathledger/internal/infra/db"
	"pathledger/internal/infra/registryseed"
	"pathledger/internal/logging"
)

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply a registry YAML file to the database configured in the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.RegistrySeedPath
			}
			if file == "" {
				return fmt.Errorf("--file or REGISTRY_SEED_PATH is required")
			}
			seed, err := registryseed.Load(file)
			if err != nil {
				return err
			}

			log := logging.New(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
			store, err := db.NewStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			sum, err := registryseed.Apply(cmd.Context(), store.Registry, seed)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d gateways, %d trackers, %d products, %d orders (%d assignments, %d statuses)\n",
				sum.Gateways, sum.Trackers, sum.Products, sum.Orders, sum.Assignments, sum.Statuses)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "registry YAML file (default REGISTRY_SEED_PATH)")
	return cmd
}
