package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oceanvision/marine-catalog/internal/application/command"
	"github.com/oceanvision/marine-catalog/internal/application/query"
)

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show catalog statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			stats, err := query.NewGetStatisticsHandler(cat.Store).Handle(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), stats)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Species:\t%d\n", stats.TotalSpecies)
			if stats.HasData {
				fmt.Fprintf(w, "Average lifespan:\t%.1f years\n", stats.AverageLifespan)
			}
			fmt.Fprintf(w, "Last updated:\t%s\n", formatTime(stats.LastUpdated))
			fmt.Fprintf(w, "Sources:\t%s\n", strings.Join(stats.Sources, ", "))
			fmt.Fprintln(w)
			fmt.Fprintln(w, "CONSERVATION STATUS\tSPECIES")
			for _, k := range sortedKeys(stats.ConservationCounts) {
				fmt.Fprintf(w, "%s\t%d\n", k, stats.ConservationCounts[k])
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "HABITAT\tSPECIES")
			for _, k := range sortedKeys(stats.HabitatCounts) {
				fmt.Fprintf(w, "%s\t%d\n", k, stats.HabitatCounts[k])
			}
			return w.Flush()
		},
	}
}

func newInfoCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show snapshot metadata: size, sources and expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			info, err := query.NewGetCatalogInfoHandler(cat.Store).Handle(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Mode:\t%s\n", cat.Mode)
			fmt.Fprintf(w, "Ready:\t%t\n", info.Ready)
			fmt.Fprintf(w, "Species:\t%d\n", info.Size)
			fmt.Fprintf(w, "Sources:\t%s\n", strings.Join(info.Sources, ", "))
			fmt.Fprintf(w, "Last updated:\t%s\n", formatTime(info.LastUpdated))
			fmt.Fprintf(w, "Expires:\t%s\n", formatTime(info.ExpiresAt))
			fmt.Fprintf(w, "Stale:\t%t\n", info.Stale)
			if info.LastError != "" {
				fmt.Fprintf(w, "Last error:\t%s\n", info.LastError)
			}
			return w.Flush()
		},
	}
}

func newRefreshCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload the catalog from its sources",
		Long: `Reload the catalog bypassing every cache. In live mode with the shared
cache enabled the fresh collection is written to Redis for the running
service replicas.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			handler := command.NewRefreshCatalogHandler(cat.Store, command.RefreshCatalogHandlerConfig{})
			result, err := handler.Handle(cmd.Context(), command.RefreshCatalogCommand{
				Force:         true,
				Trigger:       "cli",
				CorrelationID: uuid.NewString(),
			})
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %d species from %s in %s\n",
				result.Species, strings.Join(result.Sources, ", "), result.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
