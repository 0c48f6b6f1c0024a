package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/oceanvision/marine-catalog/config"
	"github.com/oceanvision/marine-catalog/internal/bootstrap"
)

// cli holds the persistent flags shared by every subcommand.
type cli struct {
	mode    string
	jsonOut bool
	verbose bool

	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "oceanctl",
		Short: "Query and maintain the OceanVision marine species catalog",
		Long: `oceanctl loads the species catalog the same way the catalog service does
(built-in data, PostgreSQL or the live WoRMS/OBIS/FishBase sources) and runs
queries and maintenance tasks against it.

Configuration is read from the same environment variables as the service;
--mode overrides CATALOG_MODE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if c.verbose {
				level = slog.LevelDebug
			}
			c.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		},
	}

	root.PersistentFlags().StringVar(&c.mode, "mode", "", "catalog mode: static, postgres or live (default from CATALOG_MODE)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print JSON instead of a table")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newSearchCmd(c),
		newAdvancedCmd(c),
		newGetCmd(c),
		newRandomCmd(c),
		newDepthCmd(c),
		newHabitatCmd(c),
		newStatusCmd(c),
		newStatsCmd(c),
		newInfoCmd(c),
		newRefreshCmd(c),
		newMigrateCmd(c),
		newSeedCmd(c),
	)

	return root
}

// loadConfig reads the environment and applies --mode.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.mode != "" {
		mode, err := config.ParseCatalogMode(c.mode)
		if err != nil {
			return nil, err
		}
		cfg.Catalog.Mode = mode
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openCatalog builds the catalog and performs its first load.
func (c *cli) openCatalog(cmd *cobra.Command) (*bootstrap.Catalog, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	cat, err := bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{Logger: c.log})
	if err != nil {
		return nil, err
	}
	if err := cat.Store.Initialize(cmd.Context()); err != nil {
		cat.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}
